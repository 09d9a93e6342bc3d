package checkout

import (
	"context"
	"fmt"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

type fakeBackend struct {
	values map[string]string
	ttls   map[string]time.Duration
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{values: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeBackend) Get(_ context.Context, key string) (string, error) {
	v, ok := f.values[key]
	if !ok {
		return "", goredis.Nil
	}
	return v, nil
}

func (f *fakeBackend) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	f.values[key] = fmt.Sprint(value)
	f.ttls[key] = ttl
	return nil
}

func (f *fakeBackend) Del(_ context.Context, keys ...string) error {
	for _, key := range keys {
		delete(f.values, key)
	}
	return nil
}

func (f *fakeBackend) CheckoutSessionKey(tenantID, userID int64) string {
	return fmt.Sprintf("sf:checkout:%d:%d", tenantID, userID)
}

func TestRedisSessionStoreRoundTrip(t *testing.T) {
	backend := newFakeBackend()
	store, err := NewRedisSessionStore(backend, 0)
	if err != nil {
		t.Fatalf("NewRedisSessionStore: %v", err)
	}
	ctx := context.Background()

	sess, err := store.Load(ctx, 4, 77)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if sess.State != StateIdle || sess.TenantID != 4 || sess.UserID != 77 {
		t.Fatalf("expected fresh idle session, got %+v", sess)
	}

	sess.State = StateAwaitingPayment
	sess.OrderID = "OABC"
	if err := store.Save(ctx, sess); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if got := backend.ttls["sf:checkout:4:77"]; got != defaultSessionTTL {
		t.Fatalf("expected default ttl, got %v", got)
	}

	loaded, err := store.Load(ctx, 4, 77)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.State != StateAwaitingPayment || loaded.OrderID != "OABC" {
		t.Fatalf("unexpected session %+v", loaded)
	}

	loaded.reset()
	if err := store.Save(ctx, loaded); err != nil {
		t.Fatalf("Save idle: %v", err)
	}
	if len(backend.values) != 0 {
		t.Fatalf("expected idle session to be dropped, got %v", backend.values)
	}
}

func TestRedisSessionStoreIgnoresCorruptValue(t *testing.T) {
	backend := newFakeBackend()
	backend.values["sf:checkout:1:2"] = `{"state":"teleporting"}`
	store, err := NewRedisSessionStore(backend, time.Minute)
	if err != nil {
		t.Fatalf("NewRedisSessionStore: %v", err)
	}
	sess, err := store.Load(context.Background(), 1, 2)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if sess.State != StateIdle {
		t.Fatalf("expected idle session, got %s", sess.State)
	}
}

func TestIDFormats(t *testing.T) {
	ms := int64(1767225600000)
	if got := OrderID(ms); got != "OMJUOHS00" {
		t.Fatalf("unexpected order id %s", got)
	}
	if got := DepositID(ms); got != "DEP-1767225600000" {
		t.Fatalf("unexpected deposit id %s", got)
	}
	if got := RentID(ms); got[0] != 'R' || got[1:] != OrderID(ms)[1:] {
		t.Fatalf("unexpected rent id %s", got)
	}
}

func TestIDSourceIsMonotonic(t *testing.T) {
	now := time.UnixMilli(1000)
	src := &idSource{now: func() time.Time { return now }}
	first := src.next()
	second := src.next()
	if first != 1000 || second != 1001 {
		t.Fatalf("expected 1000 then 1001, got %d %d", first, second)
	}
}
