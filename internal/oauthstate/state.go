// Package oauthstate manages the short-lived, single-use state records
// that correlate an OAuth authorization request with its callback.
package oauthstate

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"
)

const (
	// StateTTL is how long a state stays consumable after creation.
	StateTTL = time.Hour

	// stateBytes is the entropy of a state token (hex-encoded to 64 chars).
	stateBytes = 32
)

var (
	// ErrStateNotFound indicates an unknown or already-consumed state.
	ErrStateNotFound = errors.New("oauth state not found")

	// ErrStateExpired indicates the state outlived its TTL. The record is
	// deleted as a side effect of the failed consume.
	ErrStateExpired = errors.New("oauth state expired")
)

// State is one pending authorization flow.
type State struct {
	State          string    `json:"state"`
	Provider       string    `json:"provider"`
	OrganizationID string    `json:"organization_id"`
	UserID         string    `json:"user_id"`
	RedirectURL    string    `json:"redirect_url,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// Store persists pending flow states. States are single-use: Consume
// deletes on success, and concurrent consumes of the same state yield
// exactly one winner.
type Store interface {
	// Create generates a random state token and persists the record.
	Create(ctx context.Context, provider, organizationID, userID, redirectURL string) (string, error)

	// Consume atomically retrieves and deletes a state. It returns
	// ErrStateNotFound for unknown/consumed states (after bounded retries
	// to tolerate replication lag) and ErrStateExpired for stale ones.
	Consume(ctx context.Context, state string) (*State, error)

	// SweepExpired deletes every record past its expiry, returning the
	// delete count. Per-record failures are logged, not propagated.
	SweepExpired(ctx context.Context) (int, error)

	// CheckHealth verifies the backing store is reachable.
	CheckHealth(ctx context.Context) error
}

// newStateToken generates a cryptographically random state string.
func newStateToken() (string, error) {
	b := make([]byte, stateBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
