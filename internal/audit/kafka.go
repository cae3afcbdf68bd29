package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"certvault/internal/certificate"
)

// KafkaSink drains a mirror channel into a Kafka topic. Publishes are
// fire-and-forget; Kafka is an export target here, not the source of truth.
type KafkaSink struct {
	client *kgo.Client
	topic  string
	logger *slog.Logger
}

// NewKafkaSink connects a producer to the given brokers.
func NewKafkaSink(brokers []string, topic string, logger *slog.Logger) (*KafkaSink, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, err
	}
	return &KafkaSink{client: client, topic: topic, logger: logger}, nil
}

type logPayload struct {
	ID            string `json:"id"`
	CertificateID string `json:"certificateId,omitempty"`
	Timestamp     string `json:"timestamp"`
	Message       string `json:"message"`
	Outcome       string `json:"outcome"`
}

// Run consumes entries until ctx is canceled.
func (s *KafkaSink) Run(ctx context.Context, inbox <-chan certificate.ProcessingLogEntry) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case entry := <-inbox:
			s.publish(ctx, entry)
		}
	}
}

func (s *KafkaSink) publish(ctx context.Context, entry certificate.ProcessingLogEntry) {
	payload := logPayload{
		ID:        entry.ID.String(),
		Timestamp: entry.Timestamp.Format(time.RFC3339Nano),
		Message:   entry.Message,
		Outcome:   string(entry.Outcome),
	}
	var key []byte
	if entry.CertificateID != nil {
		payload.CertificateID = entry.CertificateID.String()
		key = []byte(payload.CertificateID)
	}
	value, err := json.Marshal(payload)
	if err != nil {
		s.logger.ErrorContext(ctx, "marshal processing log payload", "error", err.Error())
		return
	}
	record := &kgo.Record{Topic: s.topic, Key: key, Value: value}
	s.client.Produce(ctx, record, func(_ *kgo.Record, err error) {
		if err != nil {
			s.logger.WarnContext(ctx, "processing log publish failed", "error", err.Error())
		}
	})
}

// Close flushes and releases the producer.
func (s *KafkaSink) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.client.Flush(ctx)
	s.client.Close()
}
