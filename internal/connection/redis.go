package connection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	connPrefix  = "conn:"     // conn:{org}:{provider} -> current connection JSON
	listPrefix  = "connlist:" // connlist:{org}:{provider}:{id} -> one of several connections
	indexPrefix = "connidx:"  // connidx:{provider} -> set of org ids, for sweep iteration
)

// RedisStore implements Store on Redis.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a Redis-backed connection store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// CheckHealth verifies Redis connectivity.
func (s *RedisStore) CheckHealth(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}

func connKey(organizationID, providerName string) string {
	return connPrefix + organizationID + ":" + providerName
}

// Get returns the current connection for the pair, nil when absent.
func (s *RedisStore) Get(ctx context.Context, organizationID, providerName string) (*Connection, error) {
	data, err := s.client.Get(ctx, connKey(organizationID, providerName)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting connection: %w", err)
	}

	var c Connection
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("unmarshaling connection: %w", err)
	}
	return &c, nil
}

// Put creates or replaces the current connection. A single document write,
// so a killed sweep never leaves a half-updated record.
func (s *RedisStore) Put(ctx context.Context, c *Connection) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling connection: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, connKey(c.OrganizationID, c.Provider), data, 0)
	pipe.SAdd(ctx, indexPrefix+c.Provider, c.OrganizationID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("saving connection: %w", err)
	}
	return nil
}

// Append stores an additional connection for a multi-connection provider
// and updates the current pointer so single-connection readers keep
// working.
func (s *RedisStore) Append(ctx context.Context, c *Connection) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}

	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling connection: %w", err)
	}

	listKey := fmt.Sprintf("%s%s:%s:%s", listPrefix, c.OrganizationID, c.Provider, c.ID)

	pipe := s.client.Pipeline()
	pipe.Set(ctx, listKey, data, 0)
	pipe.Set(ctx, connKey(c.OrganizationID, c.Provider), data, 0)
	pipe.SAdd(ctx, indexPrefix+c.Provider, c.OrganizationID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("appending connection: %w", err)
	}
	return nil
}

// ListOrganizations returns the organizations holding a connection for the
// provider.
func (s *RedisStore) ListOrganizations(ctx context.Context, providerName string) ([]string, error) {
	orgs, err := s.client.SMembers(ctx, indexPrefix+providerName).Result()
	if err != nil {
		return nil, fmt.Errorf("listing organizations: %w", err)
	}
	return orgs, nil
}

// Delete removes the current connection and its index entry.
func (s *RedisStore) Delete(ctx context.Context, organizationID, providerName string) error {
	pipe := s.client.Pipeline()
	pipe.Del(ctx, connKey(organizationID, providerName))
	pipe.SRem(ctx, indexPrefix+providerName, organizationID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("deleting connection: %w", err)
	}
	return nil
}
