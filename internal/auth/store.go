// Package auth manages bearer-token credential lifecycle for oauth
// identities: persistence, expiry-aware retrieval, single-flight refresh,
// and best-effort revocation.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nulpointcorp/provider-gateway/internal/identity"
)

// ErrNoToken is returned when no token record exists for an identity.
var ErrNoToken = errors.New("auth: no token stored")

// TokenStore persists token records per provider identity.
type TokenStore interface {
	// Get returns the stored record for identityID. A stored record that
	// cannot be decoded is a hard error, not a silent reset.
	Get(ctx context.Context, identityID string) (identity.TokenRecord, error)
	// Put replaces the stored record for identityID.
	Put(ctx context.Context, identityID string, rec identity.TokenRecord) error
	// Clear removes the stored record for identityID.
	Clear(ctx context.Context, identityID string) error
}

// MemoryStore is an in-process TokenStore. Not shared across replicas; used
// when Redis is not configured and in tests.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]identity.TokenRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]identity.TokenRecord)}
}

func (s *MemoryStore) Get(_ context.Context, identityID string) (identity.TokenRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[identityID]
	if !ok {
		return identity.TokenRecord{}, fmt.Errorf("%w: %s", ErrNoToken, identityID)
	}
	return rec, nil
}

func (s *MemoryStore) Put(_ context.Context, identityID string, rec identity.TokenRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[identityID] = rec
	return nil
}

func (s *MemoryStore) Clear(_ context.Context, identityID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, identityID)
	return nil
}

const redisStoreTimeout = 500 * time.Millisecond

// RedisStore persists token records in Redis so refreshed tokens survive
// restarts and are shared across replicas. Unlike the response cache in
// earlier iterations of this codebase, token reads do NOT degrade
// gracefully: a decode failure is surfaced as an error (fail closed).
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps an existing Redis client. The caller owns the client
// lifecycle.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func tokenKey(identityID string) string {
	return "token:identity:" + identityID
}

func (s *RedisStore) Get(ctx context.Context, identityID string) (identity.TokenRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, redisStoreTimeout)
	defer cancel()

	raw, err := s.client.Get(ctx, tokenKey(identityID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return identity.TokenRecord{}, fmt.Errorf("%w: %s", ErrNoToken, identityID)
		}
		return identity.TokenRecord{}, fmt.Errorf("auth: redis get: %w", err)
	}

	var rec identity.TokenRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return identity.TokenRecord{}, fmt.Errorf("auth: malformed token record for %s: %w", identityID, err)
	}
	return rec, nil
}

func (s *RedisStore) Put(ctx context.Context, identityID string, rec identity.TokenRecord) error {
	ctx, cancel := context.WithTimeout(ctx, redisStoreTimeout)
	defer cancel()

	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("auth: encode token record: %w", err)
	}
	if err := s.client.Set(ctx, tokenKey(identityID), raw, 0).Err(); err != nil {
		return fmt.Errorf("auth: redis set: %w", err)
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context, identityID string) error {
	ctx, cancel := context.WithTimeout(ctx, redisStoreTimeout)
	defer cancel()

	if err := s.client.Del(ctx, tokenKey(identityID)).Err(); err != nil {
		return fmt.Errorf("auth: redis del: %w", err)
	}
	return nil
}
