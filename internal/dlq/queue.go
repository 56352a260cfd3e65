// Package dlq stores events that exhausted broker redelivery so an operator
// can inspect and replay them.
package dlq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Entry is one parked message.
type Entry struct {
	ID       string          `json:"id"`
	Queue    string          `json:"queue"`
	Payload  json.RawMessage `json:"payload"`
	Reason   string          `json:"reason"`
	ParkedAt time.Time       `json:"parked_at"`
}

// Store persists dead-letter entries.
type Store interface {
	Append(ctx context.Context, entry Entry) error
	List(ctx context.Context, queue string, limit int64) ([]Entry, error)
	Len(ctx context.Context, queue string) (int64, error)
}

// Queue is the dead-letter queue; it implements bus.DeadLetterSink.
type Queue struct {
	store  Store
	logger zerolog.Logger
}

// New creates a dead-letter queue backed by the given store.
func New(store Store, logger zerolog.Logger) *Queue {
	return &Queue{
		store:  store,
		logger: logger.With().Str("component", "dlq").Logger(),
	}
}

// Park records a message that will not be redelivered again.
func (q *Queue) Park(ctx context.Context, queue string, data []byte, reason string) error {
	entry := Entry{
		ID:       uuid.New().String(),
		Queue:    queue,
		Payload:  json.RawMessage(data),
		Reason:   reason,
		ParkedAt: time.Now().UTC(),
	}

	if err := q.store.Append(ctx, entry); err != nil {
		return fmt.Errorf("failed to park message from %s: %w", queue, err)
	}

	q.logger.Warn().
		Str("queue", queue).
		Str("entry_id", entry.ID).
		Str("reason", reason).
		Msg("message parked in dead-letter queue")
	return nil
}

// List returns up to limit parked entries for a queue, newest first.
func (q *Queue) List(ctx context.Context, queue string, limit int64) ([]Entry, error) {
	return q.store.List(ctx, queue, limit)
}

// Len returns the number of parked entries for a queue.
func (q *Queue) Len(ctx context.Context, queue string) (int64, error) {
	return q.store.Len(ctx, queue)
}

// RedisStore persists entries in Redis lists, one list per source queue.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a Redis-backed store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: "netbase:dlq:"}
}

func (s *RedisStore) key(queue string) string {
	return s.prefix + queue
}

// Append pushes an entry onto the queue's list.
func (s *RedisStore) Append(ctx context.Context, entry Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal dlq entry: %w", err)
	}
	if err := s.client.LPush(ctx, s.key(entry.Queue), data).Err(); err != nil {
		return fmt.Errorf("failed to push dlq entry: %w", err)
	}
	return nil
}

// List returns up to limit entries, newest first.
func (s *RedisStore) List(ctx context.Context, queue string, limit int64) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	raw, err := s.client.LRange(ctx, s.key(queue), 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read dlq entries: %w", err)
	}

	entries := make([]Entry, 0, len(raw))
	for _, item := range raw {
		var entry Entry
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			return nil, fmt.Errorf("failed to unmarshal dlq entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Len returns the list length for a queue.
func (s *RedisStore) Len(ctx context.Context, queue string) (int64, error) {
	n, err := s.client.LLen(ctx, s.key(queue)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get dlq length: %w", err)
	}
	return n, nil
}

// MemoryStore is an in-process store used in tests and single-node setups.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string][]Entry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string][]Entry)}
}

// Append prepends an entry, newest first.
func (s *MemoryStore) Append(_ context.Context, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entry.Queue] = append([]Entry{entry}, s.entries[entry.Queue]...)
	return nil
}

// List returns up to limit entries, newest first.
func (s *MemoryStore) List(_ context.Context, queue string, limit int64) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.entries[queue]
	if limit > 0 && int64(len(entries)) > limit {
		entries = entries[:limit]
	}
	out := make([]Entry, len(entries))
	copy(out, entries)
	return out, nil
}

// Len returns the number of entries for a queue.
func (s *MemoryStore) Len(_ context.Context, queue string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.entries[queue])), nil
}
