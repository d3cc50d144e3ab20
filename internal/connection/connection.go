// Package connection persists the long-lived record of an OAuth grant for
// one (organization, provider) pair.
package connection

import (
	"context"
	"time"

	"github.com/showdeck/cloudconnect/internal/provider"
)

// Connection is the persisted record of a successful OAuth grant. Token
// fields are ciphertext blobs; plaintext never reaches the store.
type Connection struct {
	ID             string           `json:"id,omitempty"` // set for multi-connection providers
	Provider       string           `json:"provider"`
	OrganizationID string           `json:"organization_id"`
	Account        provider.Account `json:"account"`

	AccessTokenEnc  string     `json:"access_token_enc"`
	RefreshTokenEnc string     `json:"refresh_token_enc,omitempty"`
	TokenExpiresAt  *time.Time `json:"token_expires_at,omitempty"` // nil for non-expiring tokens
	Scopes          []string   `json:"scopes,omitempty"`

	IsActive        bool       `json:"is_active"`
	ConnectedAt     time.Time  `json:"connected_at"`
	ConnectedBy     string     `json:"connected_by"`
	DisconnectedAt  *time.Time `json:"disconnected_at,omitempty"`
	LastRefreshedAt *time.Time `json:"last_refreshed_at,omitempty"`

	ConsecutiveFailures  int        `json:"consecutive_failures"`
	LastError            string     `json:"last_error,omitempty"`
	LastErrorAt          *time.Time `json:"last_error_at,omitempty"`
	RequiresReconnection bool       `json:"requires_reconnection"`
}

// Store persists connections keyed by (organization, provider).
type Store interface {
	// Get returns the current connection, or nil when none exists.
	Get(ctx context.Context, organizationID, providerName string) (*Connection, error)

	// Put creates or replaces the current connection.
	Put(ctx context.Context, c *Connection) error

	// Append stores an additional connection for a multi-connection
	// provider and makes it the current one. The connection's ID is
	// assigned if empty.
	Append(ctx context.Context, c *Connection) error

	// ListOrganizations returns every organization holding a connection
	// for the provider.
	ListOrganizations(ctx context.Context, providerName string) ([]string, error)

	// Delete removes the current connection for the pair.
	Delete(ctx context.Context, organizationID, providerName string) error

	// CheckHealth verifies the backing store is reachable.
	CheckHealth(ctx context.Context) error
}
