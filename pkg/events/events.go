// Package events publishes connector lifecycle and sync outcome events so
// downstream consumers (dashboards, alerting, dbt triggers) can react to
// finished loads without polling the analytics store.
package events

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/IBM/sarama"
	gojson "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/ajitpratap0/tributary/pkg/config"
	"github.com/ajitpratap0/tributary/pkg/connector/core"
	"github.com/ajitpratap0/tributary/pkg/errors"
)

// Type names an event
type Type string

const (
	ConnectorCreated Type = "connector.created"
	ConnectorRemoved Type = "connector.removed"
	SyncCompleted    Type = "sync.completed"
)

// Event is one published message
type Event struct {
	Type          Type             `json:"type"`
	TenantID      int64            `json:"tenant_id"`
	ConnectorType string           `json:"connector_type"`
	Time          time.Time        `json:"time"`
	Result        *core.SyncResult `json:"result,omitempty"`
}

// Key partitions events so one connector's events stay ordered
func (e Event) Key() string {
	return strconv.FormatInt(e.TenantID, 10) + ":" + e.ConnectorType
}

// Publisher sends events. Publishing is best effort for callers: a failed
// publish never fails the operation that produced the event.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// Noop drops events
type Noop struct{}

// Publish does nothing
func (Noop) Publish(context.Context, Event) error { return nil }

// Close does nothing
func (Noop) Close() error { return nil }

// KafkaPublisher writes events to a topic through a synchronous producer
type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
	logger   *zap.Logger
}

// NewKafkaPublisher connects a producer to brokers
func NewKafkaPublisher(brokers []string, topic string, logger *zap.Logger) (*KafkaPublisher, error) {
	if len(brokers) == 0 || topic == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "events.brokers and events.topic are required for the kafka backend")
	}
	producer, err := sarama.NewSyncProducer(brokers, ProducerConfig())
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to create Kafka producer").
			WithDetail("brokers", brokers)
	}
	return NewKafkaPublisherFromProducer(producer, topic, logger), nil
}

// NewKafkaPublisherFromProducer wraps an existing producer
func NewKafkaPublisherFromProducer(producer sarama.SyncProducer, topic string, logger *zap.Logger) *KafkaPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaPublisher{producer: producer, topic: topic, logger: logger}
}

// ProducerConfig is the sarama configuration used for event producers
func ProducerConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.ClientID = "tributary"
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 3
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.Compression = sarama.CompressionSnappy
	return cfg
}

// Publish sends ev and waits for the broker acknowledgement
func (p *KafkaPublisher) Publish(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}
	value, err := gojson.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to encode event")
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(ev.Key()),
		Value: sarama.ByteEncoder(value),
		Headers: []sarama.RecordHeader{
			{Key: []byte("type"), Value: []byte(ev.Type)},
			{Key: []byte("content-type"), Value: []byte("application/json")},
		},
		Timestamp: ev.Time,
	}
	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to publish event").
			WithDetail("topic", p.topic).
			WithDetail("type", string(ev.Type))
	}
	p.logger.Debug("event published",
		zap.String("type", string(ev.Type)),
		zap.String("key", ev.Key()),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset))
	return nil
}

// Close flushes and closes the producer
func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}

// Open builds the publisher selected by cfg.Backend
func Open(cfg config.EventsConfig, logger *zap.Logger) (Publisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Backend {
	case "", "none":
		return Noop{}, nil
	case "kafka":
		p, err := NewKafkaPublisher(cfg.Brokers, cfg.Topic, logger.With(zap.String("component", "events")))
		if err != nil {
			return nil, err
		}
		logger.Info("sync events enabled", zap.Strings("brokers", cfg.Brokers), zap.String("topic", cfg.Topic))
		return p, nil
	default:
		return nil, errors.New(errors.ErrorTypeConfig, fmt.Sprintf("unsupported events backend: %q", cfg.Backend))
	}
}
