package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/angelmondragon/storefront-core/pkg/config"
	"github.com/angelmondragon/storefront-core/pkg/db/models"
	"github.com/angelmondragon/storefront-core/pkg/enums"
	"github.com/angelmondragon/storefront-core/pkg/kafka"
	"github.com/angelmondragon/storefront-core/pkg/logger"
	"github.com/angelmondragon/storefront-core/pkg/outbox"
	"github.com/angelmondragon/storefront-core/pkg/outbox/payloads"
	"github.com/angelmondragon/storefront-core/pkg/outbox/registry"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

func TestServiceProcessBatchContinuesAfterFailure(t *testing.T) {
	repo := &fakeRepo{
		events: []models.OutboxEvent{
			newOrderEvent(t, "OAAA1", "event-one"),
			newOrderEvent(t, "OAAA2", "event-two"),
		},
	}
	sink := &fakeSink{errs: []error{errors.New("transient"), nil}}
	service := newTestService(t, repo, sink, &fakeRegistry{resolved: resolvedOrderPaid()}, nil)

	processed, err := service.processBatch(context.Background())
	if err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if !processed {
		t.Fatalf("expected batch to report processed")
	}
	if got := len(repo.failed); got != 1 {
		t.Fatalf("unexpected number of failed rows: %d", got)
	}
	if got := len(repo.published); got != 1 {
		t.Fatalf("unexpected number of published rows: %d", got)
	}
	if repo.failed[0] != repo.events[0].ID {
		t.Fatalf("failed row recorded wrong ID")
	}
	if repo.published[0] != repo.events[1].ID {
		t.Fatalf("published row recorded wrong ID")
	}
}

func TestPublishResolvedKeysByAggregate(t *testing.T) {
	event := newOrderEvent(t, "OKEY42", "evt-key")
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	sink := &fakeSink{}
	service := newTestService(t, repo, sink, &fakeRegistry{resolved: resolvedOrderPaid()}, nil)

	if _, err := service.processBatch(context.Background()); err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if len(sink.sent) != 1 {
		t.Fatalf("expected one message, got %d", len(sink.sent))
	}
	msg := sink.sent[0]
	if msg.Key != "OKEY42" || msg.Topic != "ops-topic" {
		t.Fatalf("unexpected message routing %+v", msg)
	}
	if msg.Attributes["event_type"] != string(enums.EventOrderPaid) || msg.Attributes["aggregate_id"] != "OKEY42" {
		t.Fatalf("unexpected attributes %+v", msg.Attributes)
	}
}

func TestServiceParksNonRetryableRows(t *testing.T) {
	event := newOrderEvent(t, "OBAD1", "evt-bad")
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	sink := &fakeSink{}
	reg := &fakeRegistry{err: registry.NewNonRetryableError(errors.New("unsupported"))}
	service := newTestService(t, repo, sink, reg, nil)

	if _, err := service.processBatch(context.Background()); err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if len(repo.terminal) != 1 || repo.terminal[0] != event.ID {
		t.Fatalf("expected row parked, got %v", repo.terminal)
	}
	if repo.terminalAttempts != 5 {
		t.Fatalf("expected terminal attempt count 5, got %d", repo.terminalAttempts)
	}
	if len(sink.sent) != 0 {
		t.Fatalf("expected nothing sent")
	}
}

func TestServiceParksRowsAtMaxAttempts(t *testing.T) {
	event := newOrderEvent(t, "OMAX1", "evt-max")
	event.AttemptCount = 1
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	sink := &fakeSink{errs: []error{errors.New("broker down")}}
	service := newTestService(t, repo, sink, &fakeRegistry{resolved: resolvedOrderPaid()}, &config.OutboxConfig{
		BatchSize:      1,
		PollIntervalMS: 100,
		MaxAttempts:    2,
	})

	if _, err := service.processBatch(context.Background()); err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if len(repo.failed) != 0 {
		t.Fatalf("expected no plain failure mark")
	}
	if len(repo.terminal) != 1 || repo.terminalAttempts != 2 {
		t.Fatalf("expected terminal mark at 2 attempts, got %v / %d", repo.terminal, repo.terminalAttempts)
	}
}

func TestKafkaSinkForwardsKeyAndHeaders(t *testing.T) {
	writer := &fakeKafkaWriter{}
	s := &kafkaSink{writer: writer}
	err := s.Publish(context.Background(), sinkMessage{
		Topic:      "storefront.ops",
		Key:        "DEP-1",
		Data:       []byte(`{}`),
		Attributes: map[string]string{"event_type": "deposit.paid"},
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(writer.msgs) != 1 || string(writer.msgs[0].Key) != "DEP-1" || writer.msgs[0].Headers["event_type"] != "deposit.paid" {
		t.Fatalf("unexpected kafka message %+v", writer.msgs)
	}
	if s.Topic() != "storefront.ops" {
		t.Fatalf("unexpected topic %q", s.Topic())
	}
}

func TestNewSinkSelectsLogByDefault(t *testing.T) {
	logg := logger.New(logger.Options{ServiceName: "outbox-publisher-test", Output: io.Discard})
	s, err := newSink(context.Background(), &config.Config{}, logg)
	if err != nil {
		t.Fatalf("newSink: %v", err)
	}
	if s.Name() != sinkLog {
		t.Fatalf("expected log sink, got %s", s.Name())
	}
	if err := s.Publish(context.Background(), sinkMessage{Key: "O1", Data: []byte(`{}`)}); err != nil {
		t.Fatalf("log publish: %v", err)
	}

	if _, err := newSink(context.Background(), &config.Config{Outbox: config.OutboxConfig{Sink: "carrier-pigeon"}}, logg); err == nil {
		t.Fatalf("expected unknown sink error")
	}
}

func TestNextBackoffCaps(t *testing.T) {
	if got := nextBackoff(0, time.Second, 10*time.Second); got != 2*time.Second {
		t.Fatalf("unexpected first backoff %v", got)
	}
	if got := nextBackoff(8*time.Second, time.Second, 10*time.Second); got != 10*time.Second {
		t.Fatalf("expected cap, got %v", got)
	}
}

func newTestService(t *testing.T, repo outboxRepository, s sink, reg registryResolver, outboxCfgOverride *config.OutboxConfig) *Service {
	outboxCfg := config.OutboxConfig{
		BatchSize:      2,
		PollIntervalMS: 100,
		MaxAttempts:    5,
	}
	if outboxCfgOverride != nil {
		outboxCfg = *outboxCfgOverride
	}
	cfg := &config.Config{
		Outbox: outboxCfg,
	}
	logg := logger.New(logger.Options{
		ServiceName: "outbox-publisher-test",
		Output:      io.Discard,
	})
	service, err := NewService(ServiceParams{
		Config:     cfg,
		Logger:     logg,
		DB:         &fakeDB{},
		Sink:       s,
		Repository: repo,
		Registry:   reg,
	})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}
	return service
}

func newOrderEvent(tb testing.TB, orderID, eventID string) models.OutboxEvent {
	tb.Helper()
	return models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventOrderPaid,
		AggregateType: enums.AggregateOrder,
		AggregateID:   orderID,
		Payload:       mustEnvelopePayload(tb, eventID),
		CreatedAt:     time.Now(),
	}
}

func resolvedOrderPaid() *registry.ResolvedEvent {
	return &registry.ResolvedEvent{
		Descriptor: registry.EventDescriptor{
			EventType:     enums.EventOrderPaid,
			AggregateType: enums.AggregateOrder,
			Topic:         "ops-topic",
		},
		Envelope: outbox.PayloadEnvelope{
			EventID:    uuid.NewString(),
			OccurredAt: time.Now(),
		},
		Payload: &payloads.OrderPaidEvent{},
	}
}

func mustEnvelopePayload(tb testing.TB, eventID string) json.RawMessage {
	tb.Helper()
	env := outbox.PayloadEnvelope{
		Version:    1,
		EventID:    eventID,
		OccurredAt: time.Now(),
		Data:       json.RawMessage(`{}`),
	}
	payload, err := json.Marshal(env)
	if err != nil {
		tb.Fatalf("marshal envelope: %v", err)
	}
	return payload
}

type fakeRepo struct {
	events           []models.OutboxEvent
	published        []uuid.UUID
	failed           []uuid.UUID
	terminal         []uuid.UUID
	terminalAttempts int
}

func (f *fakeRepo) FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error) {
	return f.events, nil
}

func (f *fakeRepo) MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error {
	f.published = append(f.published, id)
	return nil
}

func (f *fakeRepo) MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error {
	f.failed = append(f.failed, id)
	return nil
}

func (f *fakeRepo) MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error {
	f.terminal = append(f.terminal, id)
	f.terminalAttempts = terminalAttempts
	return nil
}

type fakeDB struct{}

func (f *fakeDB) Ping(context.Context) error {
	return nil
}

func (f *fakeDB) WithTx(_ context.Context, fn func(*gorm.DB) error) error {
	return fn(nil)
}

type fakeSink struct {
	errs []error
	sent []sinkMessage
}

func (f *fakeSink) Name() string               { return "fake" }
func (f *fakeSink) Topic() string              { return "ops-topic" }
func (f *fakeSink) Ping(context.Context) error { return nil }
func (f *fakeSink) Close() error               { return nil }

func (f *fakeSink) Publish(_ context.Context, msg sinkMessage) error {
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return err
		}
	}
	f.sent = append(f.sent, msg)
	return nil
}

type fakeRegistry struct {
	resolved *registry.ResolvedEvent
	err      error
}

func (f *fakeRegistry) Resolve(event models.OutboxEvent) (*registry.ResolvedEvent, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.resolved, nil
}

type fakeKafkaWriter struct {
	msgs []kafka.Message
}

func (f *fakeKafkaWriter) Topic() string              { return "storefront.ops" }
func (f *fakeKafkaWriter) Ping(context.Context) error { return nil }
func (f *fakeKafkaWriter) Close() error               { return nil }

func (f *fakeKafkaWriter) Publish(_ context.Context, msg kafka.Message) error {
	f.msgs = append(f.msgs, msg)
	return nil
}
