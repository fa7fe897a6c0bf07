package session

import (
	"context"
	"errors"
	"sync"

	"github.com/redis/go-redis/v9"
)

// ExclusivityStore enforces the one-active-session-per-user invariant with a
// conditional write: Acquire succeeds for at most one concurrent caller per
// user. The marker doubles as a fast active-session lookup.
type ExclusivityStore interface {
	// Acquire claims the user's active-session slot. Returns false when the
	// slot is already held.
	Acquire(ctx context.Context, userID, sessionID string) (bool, error)
	// Release frees the slot. Releasing a free slot is a no-op.
	Release(ctx context.Context, userID string) error
	// Holder returns the session holding the slot, or "" when free.
	Holder(ctx context.Context, userID string) (string, error)
	// Reclaim swaps the slot from the expected holder to sessionID. Used to
	// take over markers orphaned by a crash; the swap succeeds for at most
	// one of any concurrent callers that observed the same holder.
	Reclaim(ctx context.Context, userID, expected, sessionID string) (bool, error)
}

func activeUserKey(userID string) string {
	return "sessions:active-user:" + userID
}

// RedisExclusivity is the production store: SETNX provides the conditional
// write. Markers have no TTL; they are released on session terminalization.
type RedisExclusivity struct {
	client *redis.Client
}

// NewRedisExclusivity wraps an existing client.
func NewRedisExclusivity(client *redis.Client) *RedisExclusivity {
	return &RedisExclusivity{client: client}
}

func (s *RedisExclusivity) Acquire(ctx context.Context, userID, sessionID string) (bool, error) {
	return s.client.SetNX(ctx, activeUserKey(userID), sessionID, 0).Result()
}

func (s *RedisExclusivity) Release(ctx context.Context, userID string) error {
	return s.client.Del(ctx, activeUserKey(userID)).Err()
}

func (s *RedisExclusivity) Holder(ctx context.Context, userID string) (string, error) {
	val, err := s.client.Get(ctx, activeUserKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return val, err
}

// reclaimScript sets the key only while it still holds the expected value;
// an empty expected value matches an absent key.
var reclaimScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur == ARGV[1] or (not cur and ARGV[1] == '') then
	redis.call('SET', KEYS[1], ARGV[2])
	return 1
end
return 0
`)

func (s *RedisExclusivity) Reclaim(ctx context.Context, userID, expected, sessionID string) (bool, error) {
	res, err := reclaimScript.Run(ctx, s.client, []string{activeUserKey(userID)}, expected, sessionID).Int()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

// MemoryExclusivity is an in-process store for tests and DSN-less local runs.
type MemoryExclusivity struct {
	mu      sync.Mutex
	holders map[string]string
}

// NewMemoryExclusivity returns an empty in-memory store.
func NewMemoryExclusivity() *MemoryExclusivity {
	return &MemoryExclusivity{holders: make(map[string]string)}
}

func (s *MemoryExclusivity) Acquire(_ context.Context, userID, sessionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, held := s.holders[userID]; held {
		return false, nil
	}
	s.holders[userID] = sessionID
	return true, nil
}

func (s *MemoryExclusivity) Release(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.holders, userID)
	return nil
}

func (s *MemoryExclusivity) Holder(_ context.Context, userID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.holders[userID], nil
}

func (s *MemoryExclusivity) Reclaim(_ context.Context, userID, expected, sessionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.holders[userID] != expected {
		return false, nil
	}
	s.holders[userID] = sessionID
	return true, nil
}
