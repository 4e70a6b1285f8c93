// Package messaging publishes file lifecycle events to NATS or Kafka.
package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"file-service/internal/config"
	"file-service/internal/metrics"
)

const (
	EventFileUploaded = "file.uploaded"
	EventFileDeleted  = "file.deleted"
)

// FileEvent is the JSON payload published for every committed file change.
type FileEvent struct {
	Type       string    `json:"type"`
	FileID     int64     `json:"file_id"`
	OwnerID    int64     `json:"owner_id"`
	Title      string    `json:"title"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Producer sends a JSON encoded value keyed by key.
type Producer interface {
	SendMessage(ctx context.Context, key string, value interface{}) error
	Close() error
}

// NewProducer builds the producer selected by cfg.Driver.
func NewProducer(cfg config.EventsConfig, m *metrics.Metrics, logger *slog.Logger) (Producer, error) {
	switch cfg.Driver {
	case "nats":
		return NewNATSProducer(cfg.NATS.URL, cfg.NATS.Subject, m, logger)
	case "kafka":
		return NewKafkaProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic, m, logger)
	case "none", "":
		return NoopProducer{}, nil
	default:
		return nil, fmt.Errorf("unknown events driver %q", cfg.Driver)
	}
}

// NoopProducer drops every message.
type NoopProducer struct{}

func (NoopProducer) SendMessage(ctx context.Context, key string, value interface{}) error {
	return nil
}

func (NoopProducer) Close() error {
	return nil
}
