package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"solar-pump-rl/internal/controller"
	"solar-pump-rl/pkg/config"
	"solar-pump-rl/pkg/logger"
)

// DecisionEvent is the message published for every control decision
type DecisionEvent struct {
	EventID  string              `json:"event_id"`
	Source   string              `json:"source"`
	Decision controller.Decision `json:"decision"`
}

// MessageWriter is the subset of *kafka.Writer the publisher needs
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher streams decisions to a Kafka topic
type KafkaPublisher struct {
	writer  MessageWriter
	source  string
	timeout time.Duration
}

// NewKafkaPublisher creates a publisher for cfg. source identifies this controller
// and is used as the message key.
func NewKafkaPublisher(cfg config.KafkaConfig, source string) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		WriteTimeout: cfg.WriteTimeout,
		// one event per cycle; flush it without waiting for a full batch
		BatchTimeout: cfg.BatchTimeout,
	}
	return newKafkaPublisher(writer, source, cfg.WriteTimeout)
}

func newKafkaPublisher(writer MessageWriter, source string, timeout time.Duration) *KafkaPublisher {
	return &KafkaPublisher{writer: writer, source: source, timeout: timeout}
}

// PublishDecision writes one decision event, bounded by the write timeout
func (p *KafkaPublisher) PublishDecision(ctx context.Context, d controller.Decision) error {
	event := DecisionEvent{
		EventID:  uuid.NewString(),
		Source:   p.source,
		Decision: d,
	}
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode decision event: %w", err)
	}

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	msg := kafka.Message{
		Key:   []byte(p.source),
		Value: value,
		Time:  d.Timestamp,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write decision event: %w", err)
	}
	return nil
}

// Close flushes and closes the writer
func (p *KafkaPublisher) Close() error {
	logger.GetLogger().Info("Closing decision publisher")
	return p.writer.Close()
}
