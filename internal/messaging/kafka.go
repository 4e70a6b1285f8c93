package messaging

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"file-service/internal/metrics"

	"github.com/IBM/sarama"
)

type KafkaProducer struct {
	producer sarama.SyncProducer
	topic    string
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// KafkaConfig returns the producer settings used for file events.
func KafkaConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.ClientID = "file-service"
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Producer.Idempotent = true
	config.Net.MaxOpenRequests = 1
	return config
}

func NewKafkaProducer(brokers []string, topic string, m *metrics.Metrics, logger *slog.Logger) (*KafkaProducer, error) {
	producer, err := sarama.NewSyncProducer(brokers, KafkaConfig())
	if err != nil {
		return nil, err
	}

	logger.Info("kafka producer initialized", "brokers", brokers, "topic", topic)
	return NewKafkaProducerWithClient(producer, topic, m, logger), nil
}

// NewKafkaProducerWithClient wraps an existing sarama producer.
func NewKafkaProducerWithClient(producer sarama.SyncProducer, topic string, m *metrics.Metrics, logger *slog.Logger) *KafkaProducer {
	return &KafkaProducer{
		producer: producer,
		topic:    topic,
		metrics:  m,
		logger:   logger,
	}
}

// SendMessage writes value to the topic. Messages with the same key land on
// the same partition, so events of one file stay ordered.
func (p *KafkaProducer) SendMessage(ctx context.Context, key string, value interface{}) error {
	valueBytes, err := json.Marshal(value)
	if err != nil {
		p.logger.ErrorContext(ctx, "failed to marshal message", "error", err)
		return err
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(valueBytes),
	}

	start := time.Now()
	partition, offset, err := p.producer.SendMessage(msg)
	p.metrics.Messaging.RecordPublish(ctx, "kafka", p.topic, time.Since(start), err)
	if err != nil {
		p.logger.ErrorContext(ctx, "failed to send message to kafka", "topic", p.topic, "error", err)
		return err
	}

	p.logger.DebugContext(ctx, "message sent to kafka", "topic", p.topic, "partition", partition, "offset", offset, "key", key)
	return nil
}

func (p *KafkaProducer) Close() error {
	return p.producer.Close()
}
