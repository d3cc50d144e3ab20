// Package provider implements OAuth provider descriptors and their registry.
package provider

import (
	"context"
	"time"
)

// Kind distinguishes OAuth 2.0 providers from other integration types.
// Only OAuth2 descriptors participate in the authorization-code flow.
type Kind string

const (
	KindOAuth2   Kind = "oauth2"
	KindAPIToken Kind = "api_token"
)

// Account holds the provider-reported identity behind a connection.
type Account struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
}

// TokenSet is the in-memory result of a code exchange or refresh.
// It is never persisted in plaintext; tokens pass through the cipher first.
type TokenSet struct {
	AccessToken  string
	RefreshToken string    // empty when the provider issues none
	ExpiresAt    time.Time // zero for non-expiring tokens
	Scopes       []string
	Account      *Account // populated by some providers at exchange time
}

// Descriptor is the pluggable implementation of one provider's OAuth
// operations. Instances are immutable after registration.
type Descriptor interface {
	// Name returns the unique provider identifier (e.g. "box").
	Name() string

	// Kind reports the integration type of this provider.
	Kind() Kind

	// AuthorizationURL builds the provider consent URL for the given
	// state token and backend callback URI.
	AuthorizationURL(state, redirectURI string) string

	// Exchange trades an authorization code for tokens. The redirect URI
	// must match the one used to build the authorization URL.
	Exchange(ctx context.Context, code, redirectURI string) (*TokenSet, error)

	// Refresh obtains a new access token using a refresh token.
	Refresh(ctx context.Context, refreshToken string) (*TokenSet, error)

	// Revoke invalidates an access token at the provider.
	Revoke(ctx context.Context, accessToken string) error

	// AccountInfo fetches the identity associated with an access token.
	AccountInfo(ctx context.Context, accessToken string) (*Account, error)

	// MultiConnection reports whether one organization may hold several
	// simultaneous connections for this provider.
	MultiConnection() bool
}

// Credentials holds one provider's client id/secret pair.
type Credentials struct {
	ClientID     string
	ClientSecret string
}

func (c Credentials) empty() bool {
	return c.ClientID == "" || c.ClientSecret == ""
}
