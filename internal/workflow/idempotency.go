package workflow

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rynzz22/digital.talibon/model"
)

// IdempotencyStore remembers the result of a successful transition so a
// retried request with the same key does not append a second audit entry.
type IdempotencyStore interface {
	// Check looks up a previous result by key. If the key exists and the
	// input hash matches, it returns the cached record. If the key exists
	// but the hash differs, it returns a CONFLICT error.
	Check(ctx context.Context, key string, inputHash string) (rec *model.Record, found bool, err error)

	// Store saves a result keyed by the idempotency key with a TTL.
	Store(ctx context.Context, key string, inputHash string, rec model.Record, ttl time.Duration) error
}

type idempotencyEntry struct {
	InputHash string       `json:"input_hash"`
	Record    model.Record `json:"record"`
}

// FormatIdempotencyKey scopes a client key to the actor and record it was
// sent for.
func FormatIdempotencyKey(actorID string, kind model.Kind, recordID, key string) string {
	return fmt.Sprintf("idem:%s:%s:%s:%s", actorID, kind, recordID, key)
}

// InputHash fingerprints the parts of a request that must match on replay.
func InputHash(action model.ActionName, payload map[string]any, notes string) string {
	data, _ := json.Marshal(struct {
		Action  model.ActionName `json:"action"`
		Payload map[string]any   `json:"payload"`
		Notes   string           `json:"notes"`
	}{action, payload, notes})
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// --- MemoryIdempotencyStore ---

// MemoryIdempotencyStore is an in-memory IdempotencyStore with TTL support.
type MemoryIdempotencyStore struct {
	mu      sync.RWMutex
	entries map[string]*memEntry
	now     func() time.Time
}

type memEntry struct {
	data      idempotencyEntry
	expiresAt time.Time
}

// NewMemoryIdempotencyStore creates a new in-memory idempotency store.
func NewMemoryIdempotencyStore() *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{
		entries: make(map[string]*memEntry),
		now:     time.Now,
	}
}

// Check looks up a cached result. Expired entries are dropped.
func (s *MemoryIdempotencyStore) Check(_ context.Context, key string, inputHash string) (*model.Record, bool, error) {
	s.mu.RLock()
	entry, exists := s.entries[key]
	s.mu.RUnlock()

	if !exists {
		return nil, false, nil
	}

	if s.now().After(entry.expiresAt) {
		s.mu.Lock()
		delete(s.entries, key)
		s.mu.Unlock()
		return nil, false, nil
	}

	if entry.data.InputHash != inputHash {
		return nil, true, model.NewConflictError(
			fmt.Sprintf("idempotency key %q already used with different input", key),
		)
	}

	rec := entry.data.Record.Clone()
	return &rec, true, nil
}

// Store saves a result with TTL.
func (s *MemoryIdempotencyStore) Store(_ context.Context, key string, inputHash string, rec model.Record, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = &memEntry{
		data:      idempotencyEntry{InputHash: inputHash, Record: rec.Clone()},
		expiresAt: s.now().Add(ttl),
	}
	return nil
}

// HealthCheck always succeeds.
func (s *MemoryIdempotencyStore) HealthCheck(context.Context) error { return nil }

// Len returns the number of entries, including expired ones.
func (s *MemoryIdempotencyStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// --- RedisIdempotencyStore ---

// RedisIdempotencyStore is a Redis-backed IdempotencyStore shared by every
// replica of the service.
type RedisIdempotencyStore struct {
	client redis.Cmdable
}

// NewRedisIdempotencyStore creates a new Redis-backed idempotency store.
func NewRedisIdempotencyStore(client redis.Cmdable) *RedisIdempotencyStore {
	return &RedisIdempotencyStore{client: client}
}

// Check looks up a cached result in Redis.
func (s *RedisIdempotencyStore) Check(ctx context.Context, key string, inputHash string) (*model.Record, bool, error) {
	raw, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %q: %w", key, err)
	}

	var entry idempotencyEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, false, fmt.Errorf("unmarshal idempotency entry %q: %w", key, err)
	}

	if entry.InputHash != inputHash {
		return nil, true, model.NewConflictError(
			fmt.Sprintf("idempotency key %q already used with different input", key),
		)
	}

	return &entry.Record, true, nil
}

// Store saves a result in Redis with TTL. SetNX keeps the first result when
// two replicas race on the same key.
func (s *RedisIdempotencyStore) Store(ctx context.Context, key string, inputHash string, rec model.Record, ttl time.Duration) error {
	data, err := json.Marshal(idempotencyEntry{InputHash: inputHash, Record: rec})
	if err != nil {
		return fmt.Errorf("marshal idempotency entry: %w", err)
	}

	if err := s.client.SetNX(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", key, err)
	}
	return nil
}

// HealthCheck pings Redis.
func (s *RedisIdempotencyStore) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
