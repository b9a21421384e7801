package settlement

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// Claimer is the advisory duplicate-suppression layer in front of
// fulfillment. A claim keeps concurrent deliveries of the same notification
// from racing into allocation together. It is an optimization, not the
// correctness mechanism: the ledger's conditional fulfillment write is what
// actually guarantees exactly-once.
type Claimer interface {
	// Claim tries to take the fulfillment claim for a reference. Returns
	// false when another delivery already holds it.
	Claim(ctx context.Context, reference string) (bool, error)
	// Release frees the claim so a later delivery can retry a failed
	// fulfillment before the TTL expires.
	Release(ctx context.Context, reference string) error
}

const claimKeyPrefix = "fulfill_lock:"

// RedisClaims implements Claimer on redis SET NX with a TTL. The TTL bounds
// how long a claim survives a process that died mid-fulfillment.
type RedisClaims struct {
	Client *redis.Client
	TTL    time.Duration
}

func NewRedisClaims(client *redis.Client, ttl time.Duration) *RedisClaims {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &RedisClaims{Client: client, TTL: ttl}
}

func (r *RedisClaims) Claim(ctx context.Context, reference string) (bool, error) {
	ok, err := r.Client.SetNX(ctx, claimKeyPrefix+reference, time.Now().Unix(), r.TTL).Result()
	if err != nil {
		return false, fmt.Errorf("failed to take fulfillment claim for %s: %w", reference, err)
	}
	return ok, nil
}

func (r *RedisClaims) Release(ctx context.Context, reference string) error {
	if err := r.Client.Del(ctx, claimKeyPrefix+reference).Err(); err != nil {
		return fmt.Errorf("failed to release fulfillment claim for %s: %w", reference, err)
	}
	return nil
}

// MemoryClaims is a process-local Claimer for tests and for running without
// redis. It does not coordinate across replicas.
type MemoryClaims struct {
	mu     sync.Mutex
	claims map[string]struct{}
}

func NewMemoryClaims() *MemoryClaims {
	return &MemoryClaims{claims: make(map[string]struct{})}
}

func (m *MemoryClaims) Claim(_ context.Context, reference string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, held := m.claims[reference]; held {
		return false, nil
	}
	m.claims[reference] = struct{}{}
	return true, nil
}

func (m *MemoryClaims) Release(_ context.Context, reference string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.claims, reference)
	return nil
}
