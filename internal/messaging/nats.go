package messaging

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"file-service/internal/metrics"

	"github.com/nats-io/nats.go"
)

type NATSProducer struct {
	conn    *nats.Conn
	subject string
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewNATSProducer(url string, subject string, m *metrics.Metrics, logger *slog.Logger) (*NATSProducer, error) {
	nc, err := nats.Connect(url,
		nats.Name("file-service"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATS reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, err
	}

	logger.Info("NATS producer initialized", "url", url, "subject", subject)

	return &NATSProducer{
		conn:    nc,
		subject: subject,
		metrics: m,
		logger:  logger,
	}, nil
}

// SendMessage publishes value on "<subject>.<key>".
func (p *NATSProducer) SendMessage(ctx context.Context, key string, value interface{}) error {
	valueBytes, err := json.Marshal(value)
	if err != nil {
		p.logger.ErrorContext(ctx, "failed to marshal message", "error", err)
		return err
	}

	subject := p.subject
	if key != "" {
		subject = p.subject + "." + key
	}

	start := time.Now()
	err = p.conn.Publish(subject, valueBytes)
	p.metrics.Messaging.RecordPublish(ctx, "nats", subject, time.Since(start), err)
	if err != nil {
		p.logger.ErrorContext(ctx, "failed to send message to NATS", "subject", subject, "error", err)
		return err
	}

	p.logger.DebugContext(ctx, "message sent to NATS", "subject", subject)
	return nil
}

func (p *NATSProducer) Close() error {
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
		return err
	}
	return nil
}
