package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store persists full session snapshots by session ID.
// Save rejects a snapshot whose Version is not newer than the stored one.
type Store interface {
	Load(ctx context.Context, id string) (*Session, error)
	Save(ctx context.Context, s *Session) error
	Delete(ctx context.Context, id string) error
}

type StoreType string

const (
	StoreMemory StoreType = "memory"
	StoreRedis  StoreType = "redis"
)

type storeOptions struct {
	redisClient *redis.Client
	ttl         time.Duration
}

type StoreOption func(*storeOptions)

func WithRedisClient(c *redis.Client) StoreOption {
	return func(o *storeOptions) { o.redisClient = c }
}

// WithTTL bounds how long an abandoned snapshot survives in Redis.
func WithTTL(ttl time.Duration) StoreOption {
	return func(o *storeOptions) { o.ttl = ttl }
}

// NewStore builds the store named by t.
func NewStore(t StoreType, opts ...StoreOption) (Store, error) {
	var o storeOptions
	for _, opt := range opts {
		opt(&o)
	}
	switch t {
	case StoreMemory, "":
		return NewMemoryStore(), nil
	case StoreRedis:
		if o.redisClient == nil {
			return nil, errors.New("session: redis store requires a client")
		}
		return NewRedisStore(o.redisClient, o.ttl), nil
	default:
		return nil, fmt.Errorf("session: unknown store type %q", t)
	}
}

// MemoryStore keeps snapshots in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: map[string]*Session{}}
}

func (m *MemoryStore) Load(ctx context.Context, id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s.Clone(), nil
}

func (m *MemoryStore) Save(ctx context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.sessions[s.ID]; ok && prev.Version >= s.Version {
		return fmt.Errorf("%w: %s stored v%d, got v%d", ErrVersionConflict, s.ID, prev.Version, s.Version)
	}
	c := s.Clone()
	c.now = nil
	m.sessions[s.ID] = c
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

const (
	sessionKeyPrefix = "session:"
	defaultTTL       = 2 * time.Hour
)

// RedisStore keeps JSON snapshots under "session:<id>" with a TTL that is
// refreshed on every write.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisStore{client: client, ttl: ttl}
}

func (r *RedisStore) key(id string) string { return sessionKeyPrefix + id }

func (r *RedisStore) Load(ctx context.Context, id string) (*Session, error) {
	val, err := r.client.Get(ctx, r.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	var s Session
	if err := json.Unmarshal(val, &s); err != nil {
		return nil, fmt.Errorf("session: decode %s: %w", id, err)
	}
	return &s, nil
}

// Save uses WATCH/MULTI/EXEC so two writers for one session cannot both win.
func (r *RedisStore) Save(ctx context.Context, s *Session) error {
	key := r.key(s.ID)
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("session: encode %s: %w", s.ID, err)
	}

	err = r.client.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			var stored struct {
				Version int64 `json:"version"`
			}
			if err := json.Unmarshal(raw, &stored); err != nil {
				return err
			}
			if stored.Version >= s.Version {
				return fmt.Errorf("%w: %s stored v%d, got v%d", ErrVersionConflict, s.ID, stored.Version, s.Version)
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, r.ttl)
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return fmt.Errorf("%w: %s concurrent write", ErrVersionConflict, s.ID)
	}
	return err
}

func (r *RedisStore) Delete(ctx context.Context, id string) error {
	return r.client.Del(ctx, r.key(id)).Err()
}
