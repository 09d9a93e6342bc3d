// Package kafka publishes operational events to a Kafka topic.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/angelmondragon/storefront-core/pkg/config"
	"github.com/angelmondragon/storefront-core/pkg/logger"
)

const (
	defaultWriteTimeout = 10 * time.Second
	dialTimeout         = 5 * time.Second
)

// Message is one record written to the topic.
type Message struct {
	Key     []byte
	Value   []byte
	Headers map[string]string
	Time    time.Time
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Writer is a synchronous producer: Publish returns once every in-sync
// replica acknowledged the record.
type Writer struct {
	w       messageWriter
	brokers []string
	topic   string
	logg    *logger.Logger
}

// NewWriter builds a writer for the configured brokers and topic.
func NewWriter(cfg config.KafkaConfig, logg *logger.Logger) (*Writer, error) {
	brokers := make([]string, 0, len(cfg.Brokers))
	for _, b := range cfg.Brokers {
		if trimmed := strings.TrimSpace(b); trimmed != "" {
			brokers = append(brokers, trimmed)
		}
	}
	if len(brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	topic := strings.TrimSpace(cfg.Topic)
	if topic == "" {
		return nil, errors.New("kafka topic is required")
	}
	return &Writer{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			WriteTimeout: defaultWriteTimeout,
		},
		brokers: brokers,
		topic:   topic,
		logg:    logg,
	}, nil
}

// Topic returns the topic every record is written to.
func (w *Writer) Topic() string {
	return w.topic
}

// Publish writes one record. Records sharing a key land on the same partition.
func (w *Writer) Publish(ctx context.Context, msg Message) error {
	if w == nil || w.w == nil {
		return errors.New("kafka writer not initialized")
	}
	at := msg.Time
	if at.IsZero() {
		at = time.Now().UTC()
	}
	record := kafka.Message{
		Key:     msg.Key,
		Value:   msg.Value,
		Time:    at,
		Headers: toHeaders(msg.Headers),
	}
	if err := w.w.WriteMessages(ctx, record); err != nil {
		return fmt.Errorf("write kafka message: %w", err)
	}
	return nil
}

// Ping dials the first reachable broker.
func (w *Writer) Ping(ctx context.Context) error {
	if w == nil {
		return errors.New("kafka writer not initialized")
	}
	var lastErr error
	for _, broker := range w.brokers {
		dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
		conn, err := kafka.DialContext(dialCtx, "tcp", broker)
		cancel()
		if err != nil {
			lastErr = err
			continue
		}
		_ = conn.Close()
		return nil
	}
	return fmt.Errorf("no kafka broker reachable: %w", lastErr)
}

// Close flushes and releases the writer.
func (w *Writer) Close() error {
	if w == nil || w.w == nil {
		return nil
	}
	return w.w.Close()
}

func toHeaders(in map[string]string) []kafka.Header {
	if len(in) == 0 {
		return nil
	}
	headers := make([]kafka.Header, 0, len(in))
	for k, v := range in {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	return headers
}
