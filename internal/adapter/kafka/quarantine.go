package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/wangz99-crypto/dc-moving-violations-cloud-etl/internal/config"
	"github.com/wangz99-crypto/dc-moving-violations-cloud-etl/internal/domain"
)

// QuarantineWriter publishes records that failed validation to a Kafka topic
// for offline inspection.
type QuarantineWriter struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewQuarantineWriter creates a producer for the configured quarantine topic.
func NewQuarantineWriter(cfg *config.Config, logger *slog.Logger) *QuarantineWriter {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.QuarantineTopic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &QuarantineWriter{writer: w, logger: logger}
}

// Publish sends one quarantined record.
func (w *QuarantineWriter) Publish(ctx context.Context, rec domain.QuarantinedRecord) error {
	msg, err := serializeToMessage(rec)
	if err != nil {
		return err
	}
	return w.writer.WriteMessages(ctx, msg)
}

func (w *QuarantineWriter) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals a quarantined record into a Kafka message keyed
// by source.
func serializeToMessage(rec domain.QuarantinedRecord) (kafkago.Message, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize quarantined record: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(rec.Source),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "source", Value: []byte(rec.Source)},
			{Key: "reason", Value: []byte(rec.Reason)},
			{Key: "occurred_at", Value: []byte(rec.OccurredAt.Format(time.RFC3339))},
		},
	}, nil
}
