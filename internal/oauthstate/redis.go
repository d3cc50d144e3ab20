package oauthstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/showdeck/cloudconnect/internal/retry"
)

const (
	statePrefix = "oauthstate:"

	// janitorHorizon is the redis TTL safety net. The 1-hour ExpiresAt
	// inside the record is the authoritative expiry; the TTL only bounds
	// how long an unswept record can linger.
	janitorHorizon = 24 * time.Hour

	// Consume retries cover replication lag between the instance that
	// created the state and the one handling the callback.
	consumeAttempts = 3
	consumeBackoff  = 500 * time.Millisecond
)

// RedisStore implements Store on Redis.
type RedisStore struct {
	client *redis.Client
	log    *zap.Logger
}

// NewRedisStore creates a Redis-backed state store.
func NewRedisStore(client *redis.Client, log *zap.Logger) *RedisStore {
	return &RedisStore{client: client, log: log}
}

// CheckHealth verifies Redis connectivity.
func (s *RedisStore) CheckHealth(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}

// Create generates and persists a new state record.
func (s *RedisStore) Create(ctx context.Context, provider, organizationID, userID, redirectURL string) (string, error) {
	token, err := newStateToken()
	if err != nil {
		return "", fmt.Errorf("generating state token: %w", err)
	}

	now := time.Now()
	st := &State{
		State:          token,
		Provider:       provider,
		OrganizationID: organizationID,
		UserID:         userID,
		RedirectURL:    redirectURL,
		CreatedAt:      now,
		ExpiresAt:      now.Add(StateTTL),
	}

	data, err := json.Marshal(st)
	if err != nil {
		return "", fmt.Errorf("marshaling state: %w", err)
	}
	if err := s.client.Set(ctx, statePrefix+token, data, janitorHorizon).Err(); err != nil {
		return "", fmt.Errorf("saving state: %w", err)
	}
	return token, nil
}

// Consume atomically fetches and deletes a state via GETDEL, so a second
// concurrent consume observes not-found.
func (s *RedisStore) Consume(ctx context.Context, state string) (*State, error) {
	var record *State
	err := retry.Do(ctx, consumeAttempts, retry.Linear(consumeBackoff), func(ctx context.Context) error {
		data, err := s.client.GetDel(ctx, statePrefix+state).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return ErrStateNotFound
			}
			return retry.Stop(fmt.Errorf("getting state: %w", err))
		}

		var st State
		if err := json.Unmarshal(data, &st); err != nil {
			return retry.Stop(fmt.Errorf("unmarshaling state: %w", err))
		}
		if time.Now().After(st.ExpiresAt) {
			// GETDEL already removed the record, which is the required
			// side effect of consuming an expired state.
			return retry.Stop(ErrStateExpired)
		}
		record = &st
		return nil
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// SweepExpired scans all state records and deletes the expired ones.
// Individual failures are logged and skipped; the sweep always runs to
// completion.
func (s *RedisStore) SweepExpired(ctx context.Context) (int, error) {
	var (
		deleted int
		failed  int
	)

	iter := s.client.Scan(ctx, 0, statePrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()

		data, err := s.client.Get(ctx, key).Bytes()
		if err != nil {
			if !errors.Is(err, redis.Nil) {
				failed++
				s.log.Warn("reading state during sweep", zap.String("key", key), zap.Error(err))
			}
			continue
		}

		var st State
		if err := json.Unmarshal(data, &st); err != nil {
			// Unparseable records are garbage; delete them too.
			s.log.Warn("malformed state record", zap.String("key", key), zap.Error(err))
		} else if time.Now().Before(st.ExpiresAt) {
			continue
		}

		if err := s.client.Del(ctx, key).Err(); err != nil {
			failed++
			s.log.Warn("deleting expired state", zap.String("key", key), zap.Error(err))
			continue
		}
		deleted++
	}
	if err := iter.Err(); err != nil {
		return deleted, fmt.Errorf("scanning states: %w", err)
	}
	if failed > 0 {
		s.log.Warn("state sweep had per-record failures", zap.Int("failed", failed))
	}
	return deleted, nil
}
