package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"
)

// KafkaEmitter publishes events to a Kafka topic keyed by tx id, so every
// event for a transaction lands on the same partition.
type KafkaEmitter struct {
	producer sarama.SyncProducer
	topic    string
	logger   *slog.Logger
}

// NewKafkaEmitter dials brokers and returns a synchronous producer sink.
func NewKafkaEmitter(brokers []string, topic string, logger *slog.Logger) (*KafkaEmitter, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Compression = sarama.CompressionSnappy
	cfg.Producer.Timeout = 5 * time.Second

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("events: create kafka producer: %w", err)
	}
	logger.Info("kafka emitter ready", "topic", topic, "brokers", brokers)
	return NewKafkaEmitterWithProducer(producer, topic, logger), nil
}

// NewKafkaEmitterWithProducer wraps an existing producer.
func NewKafkaEmitterWithProducer(producer sarama.SyncProducer, topic string, logger *slog.Logger) *KafkaEmitter {
	return &KafkaEmitter{producer: producer, topic: topic, logger: logger}
}

type sendResult struct {
	partition int32
	offset    int64
	err       error
}

// Emit sends ev and waits for the broker ack or ctx.
func (k *KafkaEmitter) Emit(ctx context.Context, ev DecisionEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("events: marshal: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: k.topic,
		Key:   sarama.StringEncoder(ev.TxID),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte("decision"), Value: []byte(ev.Decision)},
			{Key: []byte("severity"), Value: []byte(ev.Severity)},
		},
	}

	done := make(chan sendResult, 1)
	go func() {
		partition, offset, err := k.producer.SendMessage(msg)
		done <- sendResult{partition, offset, err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return fmt.Errorf("events: kafka send: %w", res.err)
		}
		k.logger.Debug("kafka event sent",
			"tx_id", ev.TxID, "partition", res.partition, "offset", res.offset)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close closes the producer.
func (k *KafkaEmitter) Close() error {
	if k.producer == nil {
		return nil
	}
	return k.producer.Close()
}
