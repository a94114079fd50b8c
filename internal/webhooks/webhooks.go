// Package webhooks posts fraud alerts to an operator webhook.
//
// The payload carries a Slack-compatible "text" field next to the full
// decision event, so the same URL can point at a Slack incoming webhook or at
// an in-house alert router. When a secret is configured the body is signed
// with HMAC-SHA256 and the hex digest sent in X-Fraudgate-Signature.
package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mbd888/fraudgate/internal/events"
	"github.com/mbd888/fraudgate/internal/retry"
)

// Header names set on every delivery.
const (
	HeaderEvent     = "X-Fraudgate-Event"
	HeaderTimestamp = "X-Fraudgate-Timestamp"
	HeaderSignature = "X-Fraudgate-Signature"
)

const defaultTimeout = 5 * time.Second

// ErrClosed is returned by Emit after Close.
var ErrClosed = errors.New("webhooks: dispatcher closed")

// Alert is the JSON body posted to the webhook.
type Alert struct {
	Text  string               `json:"text"`
	Event events.DecisionEvent `json:"event"`
}

// Dispatcher delivers alerts for events at or above a minimum severity.
// Deliveries run in the background so a slow receiver never stalls the
// audit consumer; Close waits for the ones in flight.
type Dispatcher struct {
	url         string
	secret      string
	minSeverity events.Severity
	client      *http.Client
	retry       retry.Policy
	logger      *slog.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithSecret enables payload signing.
func WithSecret(secret string) Option {
	return func(d *Dispatcher) { d.secret = secret }
}

// WithMinSeverity sets the lowest severity that triggers an alert.
func WithMinSeverity(s events.Severity) Option {
	return func(d *Dispatcher) { d.minSeverity = s }
}

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) Option {
	return func(d *Dispatcher) { d.client = c }
}

// WithRetry replaces the delivery retry policy.
func WithRetry(p retry.Policy) Option {
	return func(d *Dispatcher) { d.retry = p }
}

// NewDispatcher creates a dispatcher posting to url. Only critical events
// alert unless WithMinSeverity says otherwise.
func NewDispatcher(url string, logger *slog.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		url:         url,
		minSeverity: events.SeverityCritical,
		client:      &http.Client{Timeout: defaultTimeout},
		retry:       retry.Policy{MaxAttempts: 3, BaseDelay: 200 * time.Millisecond, MaxDelay: 2 * time.Second},
		logger:      logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Emit schedules delivery of ev when its severity qualifies.
func (d *Dispatcher) Emit(_ context.Context, ev events.DecisionEvent) error {
	if rank(ev.Severity) < rank(d.minSeverity) {
		return nil
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrClosed
	}
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := d.Send(ctx, ev); err != nil {
			d.logger.Warn("alert webhook failed", "tx_id", ev.TxID, "error", err)
		}
	}()
	return nil
}

// Send posts one alert synchronously, retrying transport errors and 5xx.
func (d *Dispatcher) Send(ctx context.Context, ev events.DecisionEvent) error {
	payload, err := json.Marshal(Alert{Text: FormatText(ev), Event: ev})
	if err != nil {
		return fmt.Errorf("webhooks: marshal alert: %w", err)
	}

	return d.retry.Do(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(payload))
		if err != nil {
			return retry.Permanent(fmt.Errorf("webhooks: build request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(HeaderEvent, ev.Type)
		req.Header.Set(HeaderTimestamp, strconv.FormatInt(ev.Timestamp.Unix(), 10))
		if d.secret != "" {
			req.Header.Set(HeaderSignature, Sign(payload, d.secret))
		}

		resp, err := d.client.Do(req)
		if err != nil {
			return fmt.Errorf("webhooks: post: %w", err)
		}
		_ = resp.Body.Close()

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return nil
		case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("webhooks: status %d", resp.StatusCode)
		default:
			return retry.Permanent(fmt.Errorf("webhooks: status %d", resp.StatusCode))
		}
	})
}

// Close stops accepting alerts and waits for pending deliveries.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.wg.Wait()
	return nil
}

// Sign returns the hex HMAC-SHA256 of payload under secret.
func Sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// Verify checks a signature produced by Sign in constant time.
func Verify(payload []byte, secret, signature string) bool {
	return hmac.Equal([]byte(Sign(payload, secret)), []byte(signature))
}

// FormatText renders the human-readable alert line.
func FormatText(ev events.DecisionEvent) string {
	var b strings.Builder
	switch ev.Severity {
	case events.SeverityCritical:
		b.WriteString("FRAUD ALERT")
	case events.SeverityWarning:
		b.WriteString("RISK WARNING")
	default:
		b.WriteString("Decision")
	}
	fmt.Fprintf(&b, ": %s tx %s", ev.Decision, ev.TxID)
	fmt.Fprintf(&b, "\nsender %s -> receiver %s, amount %.2f", ev.SenderID, ev.ReceiverID, ev.Amount)
	fmt.Fprintf(&b, "\nrisk score %d, decided by %s", ev.RiskScore, ev.DecidedBy)
	if len(ev.Factors) > 0 {
		fmt.Fprintf(&b, "\nfactors: %s", strings.Join(ev.Factors, ", "))
	}
	if ev.FailOpen {
		b.WriteString("\nfail-open: latency ceiling exceeded")
	}
	return b.String()
}

// ParseSeverity maps a config string to a severity.
func ParseSeverity(s string) (events.Severity, error) {
	switch events.Severity(strings.ToLower(strings.TrimSpace(s))) {
	case events.SeverityInfo:
		return events.SeverityInfo, nil
	case events.SeverityWarning:
		return events.SeverityWarning, nil
	case events.SeverityCritical, "":
		return events.SeverityCritical, nil
	}
	return "", fmt.Errorf("webhooks: unknown severity %q", s)
}

func rank(s events.Severity) int {
	switch s {
	case events.SeverityCritical:
		return 2
	case events.SeverityWarning:
		return 1
	default:
		return 0
	}
}
