// Package events streams pipeline milestones to downstream consumers.
// Delivery is best-effort: a publish failure is logged by the caller and
// never alters a run's outcome.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/arec1b0/ml-retraining-pipeline/internal/models"
)

type Publisher interface {
	PublishRunCompleted(ctx context.Context, outcome models.RunOutcome) error
	PublishPromotion(ctx context.Context, record models.PromotionRecord) error
	Close() error
}

type KafkaPublisherConfig struct {
	// Brokers is the list of Kafka broker addresses (host:port).
	Brokers []string

	// Topic receives both run and promotion events.
	Topic string

	// MaxAttempts is how many times a publish retries on transient
	// error. Defaults to 3 if <= 0.
	MaxAttempts int

	// WriteTimeout is the per-attempt timeout. Defaults to 10s if zero.
	WriteTimeout time.Duration
}

// messageWriter is the slice of kafka.Writer the publisher needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher wraps a kafka-go Writer. Messages are keyed by run id
// so events of one run land on one partition in order.
type KafkaPublisher struct {
	writer      messageWriter
	maxAttempts int
}

func NewKafkaPublisher(cfg KafkaPublisherConfig) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: at least one broker required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka: topic required")
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	w := kafka.NewWriter(kafka.WriterConfig{
		Brokers:      cfg.Brokers,
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: cfg.WriteTimeout,
		Async:        false,
	})
	return &KafkaPublisher{writer: w, maxAttempts: cfg.MaxAttempts}, nil
}

type envelope struct {
	EventType string      `json:"eventType"`
	TS        time.Time   `json:"ts"`
	Payload   interface{} `json:"payload"`
}

func (p *KafkaPublisher) PublishRunCompleted(ctx context.Context, outcome models.RunOutcome) error {
	return p.publish(ctx, outcome.RunID.String(), envelope{
		EventType: "pipeline.run.completed",
		TS:        time.Now().UTC(),
		Payload:   outcome,
	})
}

func (p *KafkaPublisher) PublishPromotion(ctx context.Context, record models.PromotionRecord) error {
	return p.publish(ctx, record.PromotedFromRunID.String(), envelope{
		EventType: "pipeline.model.promoted",
		TS:        time.Now().UTC(),
		Payload:   record,
	})
}

func (p *KafkaPublisher) publish(ctx context.Context, key string, ev envelope) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := kafka.Message{Key: []byte(key), Value: value}

	var lastErr error
	for i := 0; i < p.maxAttempts; i++ {
		if err := p.writer.WriteMessages(ctx, msg); err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return ctx.Err()
			}
			time.Sleep(time.Duration(i+1) * 100 * time.Millisecond)
			continue
		}
		return nil
	}
	return fmt.Errorf("publish %s after %d attempts: %w", ev.EventType, p.maxAttempts, lastErr)
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// NopPublisher is used when no brokers are configured.
type NopPublisher struct{}

func (NopPublisher) PublishRunCompleted(context.Context, models.RunOutcome) error   { return nil }
func (NopPublisher) PublishPromotion(context.Context, models.PromotionRecord) error { return nil }
func (NopPublisher) Close() error                                                   { return nil }
