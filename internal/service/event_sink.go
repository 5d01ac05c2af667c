package service

import (
	"context"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/novacal/novacal-api/internal/models"
)

// KafkaSink publishes domain events to a Kafka topic, keyed by aggregate id
// so per-appointment ordering is preserved within a partition.
type KafkaSink struct {
	writer *kafka.Writer
}

func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
		},
	}
}

func (s *KafkaSink) Publish(ctx context.Context, event *models.OutboxEvent) error {
	return s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.AggregateID),
		Value: event.Payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
			{Key: "tenant_id", Value: []byte(event.TenantID)},
		},
	})
}

// Close flushes and releases the underlying writer.
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}

// LogSink writes events to the structured log. Used when no broker is
// configured so the drain loop still advances.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Publish(_ context.Context, event *models.OutboxEvent) error {
	s.logger.Info("domain event",
		zap.Int64("event_id", event.ID),
		zap.String("event_type", string(event.EventType)),
		zap.String("aggregate_id", event.AggregateID))
	return nil
}
