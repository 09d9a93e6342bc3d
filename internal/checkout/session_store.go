package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const defaultSessionTTL = 30 * time.Minute

// SessionStore persists checkout sessions between buyer messages.
type SessionStore interface {
	Load(ctx context.Context, tenantID, userID int64) (*Session, error)
	Save(ctx context.Context, sess *Session) error
	Delete(ctx context.Context, tenantID, userID int64) error
}

type sessionBackend interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	CheckoutSessionKey(tenantID, userID int64) string
}

// RedisSessionStore keeps one JSON session per tenant and buyer. Sessions
// expire after the TTL so an abandoned conversation starts over.
type RedisSessionStore struct {
	backend sessionBackend
	ttl     time.Duration
}

// NewRedisSessionStore builds a session store over the redis client.
func NewRedisSessionStore(backend sessionBackend, ttl time.Duration) (*RedisSessionStore, error) {
	if backend == nil {
		return nil, fmt.Errorf("redis backend required")
	}
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	return &RedisSessionStore{backend: backend, ttl: ttl}, nil
}

// Load returns the stored session or a fresh idle one.
func (s *RedisSessionStore) Load(ctx context.Context, tenantID, userID int64) (*Session, error) {
	raw, err := s.backend.Get(ctx, s.backend.CheckoutSessionKey(tenantID, userID))
	if errors.Is(err, goredis.Nil) {
		return NewSession(tenantID, userID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load checkout session: %w", err)
	}
	var sess Session
	if err := json.Unmarshal([]byte(raw), &sess); err != nil || !sess.State.IsValid() {
		return NewSession(tenantID, userID), nil
	}
	sess.TenantID, sess.UserID = tenantID, userID
	return &sess, nil
}

// Save stores the session, or drops it once the conversation is idle.
func (s *RedisSessionStore) Save(ctx context.Context, sess *Session) error {
	if sess == nil {
		return nil
	}
	if sess.State == StateIdle {
		return s.Delete(ctx, sess.TenantID, sess.UserID)
	}
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode checkout session: %w", err)
	}
	if err := s.backend.Set(ctx, s.backend.CheckoutSessionKey(sess.TenantID, sess.UserID), string(raw), s.ttl); err != nil {
		return fmt.Errorf("save checkout session: %w", err)
	}
	return nil
}

func (s *RedisSessionStore) Delete(ctx context.Context, tenantID, userID int64) error {
	return s.backend.Del(ctx, s.backend.CheckoutSessionKey(tenantID, userID))
}
