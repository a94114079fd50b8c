package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/fraudgate/internal/audit"
	"github.com/mbd888/fraudgate/internal/fraud"
	"github.com/mbd888/fraudgate/internal/kvstore"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type seeded struct {
	service *Service
	store   *audit.MemoryStore
}

// seed records decisions the way the audit consumer would.
func seed(t *testing.T, actions ...fraud.Action) seeded {
	t.Helper()
	ctx := context.Background()
	kv := kvstore.NewMemoryStore()
	counters := audit.NewCounters(kv)
	hot := audit.NewHotCache(kv, 100)
	store := audit.NewMemoryStore()

	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	for i, a := range actions {
		tx := fraud.Transaction{TxID: fmt.Sprintf("tx-%d", i), Amount: float64(100 * (i + 1)), SenderID: "s", ReceiverID: "r"}
		r := fraud.DecisionResult{TxID: tx.TxID, Action: a, RiskScore: 10 * i, Confidence: 0.9, DecidedAt: base.Add(time.Duration(i) * time.Second)}
		rec := audit.NewRecord(tx, r, base)
		require.NoError(t, store.Append(ctx, rec))
		require.NoError(t, hot.Push(ctx, rec))
		require.NoError(t, counters.Record(ctx, a))
	}
	return seeded{service: NewService(counters, hot, store), store: store}
}

func TestService_Stats(t *testing.T) {
	s := seed(t, fraud.ActionAllow, fraud.ActionBlock, fraud.ActionAllow, fraud.ActionReview, fraud.ActionBlock, fraud.ActionAllow)

	stats, err := s.service.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(6), stats.TotalTransactions)
	assert.Equal(t, int64(2), stats.FraudTransactions)
	assert.Equal(t, int64(1), stats.ReviewTransactions)
	assert.Equal(t, 33.33, stats.FraudRate)
}

func TestService_StatsEmpty(t *testing.T) {
	s := seed(t)
	stats, err := s.service.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.TotalTransactions)
	assert.Equal(t, 0.0, stats.FraudRate)
}

func TestService_DecisionSplit(t *testing.T) {
	s := seed(t, fraud.ActionAllow, fraud.ActionReview, fraud.ActionReview)
	split, err := s.service.DecisionSplit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[fraud.Action]int64{
		fraud.ActionAllow:  1,
		fraud.ActionReview: 2,
		fraud.ActionBlock:  0,
	}, split)
}

func TestService_TransactionsAndBlocks(t *testing.T) {
	s := seed(t, fraud.ActionBlock, fraud.ActionAllow, fraud.ActionBlock, fraud.ActionAllow)
	ctx := context.Background()

	txs, err := s.service.Transactions(ctx, 3)
	require.NoError(t, err)
	require.Len(t, txs, 3)
	assert.Equal(t, "tx-3", txs[0].TxID, "newest first")

	blocks, err := s.service.RecentBlocks(ctx, 5)
	require.NoError(t, err)
	require.Len(t, blocks, 2)
	assert.Equal(t, "tx-2", blocks[0].TxID)
	assert.Equal(t, fraud.ActionBlock, blocks[1].Decision)
	assert.Equal(t, 100.0, blocks[1].Amount)
}

type brokenCounters struct{}

func (brokenCounters) Snapshot(context.Context) (audit.Stats, error) {
	return audit.Stats{}, errors.New("redis: connection refused")
}

func TestHandlers(t *testing.T) {
	s := seed(t, fraud.ActionAllow, fraud.ActionBlock)
	r := gin.New()
	NewHandler(s.service).RegisterRoutes(r.Group("/v1"))

	tests := []struct {
		path     string
		contains string
	}{
		{"/v1/analytics/stats", `"fraud_rate":50`},
		{"/v1/analytics/decision-split", `"BLOCK":1`},
		{"/v1/transactions?limit=1", `"count":1`},
		{"/v1/analytics/recent-blocks", `"tx_id":"tx-1"`},
	}
	for _, tc := range tests {
		t.Run(tc.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tc.path, nil))
			require.Equal(t, http.StatusOK, w.Code)
			assert.Contains(t, w.Body.String(), tc.contains)
			assert.True(t, json.Valid(w.Body.Bytes()))
		})
	}
}

func TestHandlers_CounterFailure(t *testing.T) {
	r := gin.New()
	NewHandler(NewService(brokenCounters{}, nil, nil)).RegisterRoutes(r.Group("/v1"))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/analytics/stats", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "internal_error")
}
