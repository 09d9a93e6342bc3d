package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	gcppubsub "cloud.google.com/go/pubsub/v2"

	"github.com/angelmondragon/storefront-core/pkg/config"
	"github.com/angelmondragon/storefront-core/pkg/kafka"
	"github.com/angelmondragon/storefront-core/pkg/logger"
	"github.com/angelmondragon/storefront-core/pkg/outbox/registry"
	"github.com/angelmondragon/storefront-core/pkg/pubsub"
)

const (
	sinkPubSub = "pubsub"
	sinkKafka  = "kafka"
	sinkLog    = "log"
)

// sinkMessage is a resolved outbox row ready for delivery.
type sinkMessage struct {
	Topic      string
	Key        string
	Data       []byte
	Attributes map[string]string
}

// sink delivers outbox rows to one transport.
type sink interface {
	Name() string
	Topic() string
	Ping(ctx context.Context) error
	Publish(ctx context.Context, msg sinkMessage) error
	Close() error
}

// newSink builds the transport selected by STOREFRONT_OUTBOX_SINK.
func newSink(ctx context.Context, cfg *config.Config, logg *logger.Logger) (sink, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Outbox.Sink)) {
	case sinkPubSub:
		client, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
		if err != nil {
			return nil, fmt.Errorf("bootstrap pubsub: %w", err)
		}
		return &pubSubSink{client: client, topic: cfg.PubSub.OpsTopic}, nil
	case sinkKafka:
		writer, err := kafka.NewWriter(cfg.Kafka, logg)
		if err != nil {
			return nil, fmt.Errorf("bootstrap kafka: %w", err)
		}
		return &kafkaSink{writer: writer}, nil
	case sinkLog, "":
		return &logSink{logg: logg}, nil
	default:
		return nil, fmt.Errorf("unknown outbox sink %q", cfg.Outbox.Sink)
	}
}

type pubSubClient interface {
	Ping(ctx context.Context) error
	Publisher(name string) *gcppubsub.Publisher
	Close() error
}

type pubSubSink struct {
	client pubSubClient
	topic  string
}

func (s *pubSubSink) Name() string  { return sinkPubSub }
func (s *pubSubSink) Topic() string { return s.topic }

func (s *pubSubSink) Ping(ctx context.Context) error { return s.client.Ping(ctx) }

func (s *pubSubSink) Publish(ctx context.Context, msg sinkMessage) error {
	pub := s.client.Publisher(msg.Topic)
	if pub == nil {
		return registry.NewNonRetryableError(fmt.Errorf("publisher not configured for topic %s", msg.Topic))
	}
	result := pub.Publish(ctx, &gcppubsub.Message{
		Data:       msg.Data,
		Attributes: msg.Attributes,
	})
	if result == nil {
		return registry.NewNonRetryableError(fmt.Errorf("publisher returned nil for topic %s", msg.Topic))
	}
	_, err := result.Get(ctx)
	return err
}

func (s *pubSubSink) Close() error { return s.client.Close() }

type kafkaWriter interface {
	Topic() string
	Ping(ctx context.Context) error
	Publish(ctx context.Context, msg kafka.Message) error
	Close() error
}

type kafkaSink struct {
	writer kafkaWriter
}

func (s *kafkaSink) Name() string  { return sinkKafka }
func (s *kafkaSink) Topic() string { return s.writer.Topic() }

func (s *kafkaSink) Ping(ctx context.Context) error { return s.writer.Ping(ctx) }

func (s *kafkaSink) Publish(ctx context.Context, msg sinkMessage) error {
	return s.writer.Publish(ctx, kafka.Message{
		Key:     []byte(msg.Key),
		Value:   msg.Data,
		Headers: msg.Attributes,
	})
}

func (s *kafkaSink) Close() error { return s.writer.Close() }

// logSink writes events to the structured log. Used in development and
// wherever no broker is provisioned.
type logSink struct {
	logg *logger.Logger
}

func (s *logSink) Name() string  { return sinkLog }
func (s *logSink) Topic() string { return "log" }

func (s *logSink) Ping(context.Context) error { return nil }

func (s *logSink) Publish(ctx context.Context, msg sinkMessage) error {
	if s.logg == nil {
		return errors.New("logger required")
	}
	fields := map[string]any{"key": msg.Key, "payload": string(msg.Data)}
	for k, v := range msg.Attributes {
		fields[k] = v
	}
	s.logg.Info(s.logg.WithFields(ctx, fields), "outbox.event")
	return nil
}

func (s *logSink) Close() error { return nil }
