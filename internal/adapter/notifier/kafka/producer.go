// Package kafka delivers outbox payloads to the vendor notification topic.
//
// The outbox relay is the only caller. Messages are keyed by target so all
// notifications for one vendor land on the same partition in order.
package kafka

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/fairyhunter13/wholesale-order-core/internal/domain"
)

// Producer implements domain.Notifier on top of a Kafka/Redpanda cluster.
type Producer struct {
	client *kgo.Client
	topic  string
}

// NewProducer connects to the brokers and returns a Producer for topic.
func NewProducer(brokers []string, topic string) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("op=kafka.new: no seed brokers provided")
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.RequestRetries(10),
		kgo.ProducerBatchMaxBytes(1_000_000),
	)
	if err != nil {
		return nil, fmt.Errorf("op=kafka.new: %w", err)
	}
	slog.Info("kafka producer created", slog.Any("brokers", brokers), slog.String("topic", topic))
	return &Producer{client: client, topic: topic}, nil
}

// Send produces one payload keyed by target and waits for the broker ack.
// Failures map to ErrUnavailable; the relay reschedules the row.
func (p *Producer) Send(ctx context.Context, target string, payload []byte) error {
	rec := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(target),
		Value: payload,
	}
	if err := p.client.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return fmt.Errorf("op=kafka.send: target %s: %v: %w", target, err, domain.ErrUnavailable)
	}
	return nil
}

// Close flushes and releases the underlying client.
func (p *Producer) Close() {
	p.client.Close()
}
