package events

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"
)

// PubSubEmitter publishes events to a Google Cloud Pub/Sub topic. Decision
// and severity are copied into message attributes for subscription filters.
type PubSubEmitter struct {
	client *pubsub.Client
	topic  *pubsub.Topic
}

// NewPubSubEmitter connects to projectID and binds topicID. The topic must
// already exist.
func NewPubSubEmitter(ctx context.Context, projectID, topicID string, opts ...option.ClientOption) (*PubSubEmitter, error) {
	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("events: pubsub client: %w", err)
	}
	return &PubSubEmitter{client: client, topic: client.Topic(topicID)}, nil
}

// Emit publishes ev and waits for the server ack.
func (p *PubSubEmitter) Emit(ctx context.Context, ev DecisionEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("events: marshal: %w", err)
	}

	res := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{
			"tx_id":    ev.TxID,
			"decision": string(ev.Decision),
			"severity": string(ev.Severity),
		},
	})
	if _, err := res.Get(ctx); err != nil {
		return fmt.Errorf("events: pubsub publish: %w", err)
	}
	return nil
}

// Close flushes pending messages and closes the client.
func (p *PubSubEmitter) Close() error {
	p.topic.Stop()
	return p.client.Close()
}
