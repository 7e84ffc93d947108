package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/terra-clan/legal-diagnostic/internal/models"
)

// Store persists diagnostic sessions. Get returns nil, nil for an unknown id.
type Store interface {
	Get(ctx context.Context, id string) (*models.DiagnosticSession, error)
	Save(ctx context.Context, s *models.DiagnosticSession) error
	Delete(ctx context.Context, id string) error
	ListExpired(ctx context.Context, now time.Time) ([]*models.DiagnosticSession, error)
	Count(ctx context.Context) (int, error)
	Ping(ctx context.Context) error
}

func encode(s *models.DiagnosticSession) ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session: %w", err)
	}
	return data, nil
}

func decode(data []byte) (*models.DiagnosticSession, error) {
	var s models.DiagnosticSession
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &s, nil
}

// MemoryStore keeps encoded sessions in process memory. Sessions are
// stored serialized so callers never share state with the store.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]memoryEntry
}

type memoryEntry struct {
	data      []byte
	expiresAt time.Time
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]memoryEntry)}
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*models.DiagnosticSession, error) {
	m.mu.RLock()
	entry, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return decode(entry.data)
}

func (m *MemoryStore) Save(ctx context.Context, s *models.DiagnosticSession) error {
	data, err := encode(s)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.sessions[s.ID] = memoryEntry{data: data, expiresAt: s.ExpiresAt}
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
	return nil
}

// ListExpired returns the sessions idle past their expiry
func (m *MemoryStore) ListExpired(ctx context.Context, now time.Time) ([]*models.DiagnosticSession, error) {
	m.mu.RLock()
	var raw [][]byte
	for _, entry := range m.sessions {
		if now.After(entry.expiresAt) {
			raw = append(raw, entry.data)
		}
	}
	m.mu.RUnlock()

	expired := make([]*models.DiagnosticSession, 0, len(raw))
	for _, data := range raw {
		s, err := decode(data)
		if err != nil {
			return nil, err
		}
		expired = append(expired, s)
	}
	return expired, nil
}

// Count returns the number of stored sessions, expired ones included
func (m *MemoryStore) Count(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions), nil
}

func (m *MemoryStore) Ping(ctx context.Context) error { return nil }

const redisKeyPrefix = "diagnostic:session:"

// RedisStore keeps sessions as JSON values whose TTL follows ExpiresAt,
// so Redis drops idle sessions on its own
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a store on an existing client
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: redisKeyPrefix}
}

func (r *RedisStore) key(id string) string {
	return r.prefix + id
}

func (r *RedisStore) Get(ctx context.Context, id string) (*models.DiagnosticSession, error) {
	data, err := r.client.Get(ctx, r.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return decode(data)
}

func (r *RedisStore) Save(ctx context.Context, s *models.DiagnosticSession) error {
	data, err := encode(s)
	if err != nil {
		return err
	}

	ttl := time.Until(s.ExpiresAt)
	if ttl <= 0 {
		return r.Delete(ctx, s.ID)
	}

	if err := r.client.Set(ctx, r.key(s.ID), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, id string) error {
	if err := r.client.Del(ctx, r.key(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// ListExpired is always empty: keys expire server-side
func (r *RedisStore) ListExpired(ctx context.Context, now time.Time) ([]*models.DiagnosticSession, error) {
	return nil, nil
}

// Count scans the session keyspace
func (r *RedisStore) Count(ctx context.Context) (int, error) {
	var cursor uint64
	count := 0

	for {
		keys, next, err := r.client.Scan(ctx, cursor, r.prefix+"*", 100).Result()
		if err != nil {
			return 0, fmt.Errorf("failed to scan sessions: %w", err)
		}
		count += len(keys)

		cursor = next
		if cursor == 0 {
			break
		}
	}

	return count, nil
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
