// Package oauthflow orchestrates the OAuth dance against any registered
// provider: initiate, callback exchange, refresh, and revoke.
package oauthflow

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/showdeck/cloudconnect/internal/connection"
	"github.com/showdeck/cloudconnect/internal/oauthstate"
	"github.com/showdeck/cloudconnect/internal/provider"
	"github.com/showdeck/cloudconnect/internal/tokencipher"
)

var (
	// ErrUnknownProvider indicates the provider name is not registered or
	// is not an OAuth2 provider. A client error, never retried.
	ErrUnknownProvider = errors.New("unknown or non-oauth2 provider")

	// ErrConnectionNotFound indicates no connection exists for the pair.
	ErrConnectionNotFound = errors.New("connection not found")

	// ErrNoRefreshToken indicates the connection has no stored refresh
	// token to exchange.
	ErrNoRefreshToken = errors.New("connection has no refresh token")
)

// InitiateResult is returned to the client-facing endpoint that starts a
// flow.
type InitiateResult struct {
	AuthURL string `json:"auth_url"`
	State   string `json:"state"`
}

// CallbackResult tells the outer HTTP layer where to send the browser.
type CallbackResult struct {
	Success     bool   `json:"success"`
	RedirectURL string `json:"redirect_url"`
}

// Service is the unified OAuth service over the provider registry, state
// store, connection store, and token cipher.
type Service struct {
	registry    *provider.Registry
	states      oauthstate.Store
	conns       connection.Store
	callbackURL string // fixed backend callback URI, identical at initiate and exchange
	log         *zap.Logger
}

// New creates the service. callbackURL is the backend's own OAuth callback
// endpoint; providers require an exact match between authorization and
// exchange.
func New(registry *provider.Registry, states oauthstate.Store, conns connection.Store, callbackURL string, log *zap.Logger) *Service {
	return &Service{
		registry:    registry,
		states:      states,
		conns:       conns,
		callbackURL: callbackURL,
		log:         log,
	}
}

// lookup resolves a provider name to an OAuth2 descriptor.
func (s *Service) lookup(name string) (provider.Descriptor, error) {
	d, ok := s.registry.Get(name)
	if !ok || d.Kind() != provider.KindOAuth2 {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	return d, nil
}

// Initiate starts a flow: it creates a state record and returns the
// provider consent URL. The authorization URL always points back at the
// backend callback URI; the caller's return URL is only stored on the
// state for post-auth redirection.
func (s *Service) Initiate(ctx context.Context, providerName, organizationID, userID, returnURL string) (*InitiateResult, error) {
	d, err := s.lookup(providerName)
	if err != nil {
		return nil, err
	}

	state, err := s.states.Create(ctx, providerName, organizationID, userID, returnURL)
	if err != nil {
		return nil, fmt.Errorf("creating state: %w", err)
	}

	return &InitiateResult{
		AuthURL: d.AuthorizationURL(state, s.callbackURL),
		State:   state,
	}, nil
}

// HandleCallback consumes the state, exchanges the code, encrypts the
// tokens, and persists the connection. State errors propagate to the
// caller (the user must restart the flow); later failures resolve into a
// redirect carrying an error indicator instead.
func (s *Service) HandleCallback(ctx context.Context, code, state string) (*CallbackResult, error) {
	st, err := s.states.Consume(ctx, state)
	if err != nil {
		return nil, err
	}

	d, err := s.lookup(st.Provider)
	if err != nil {
		return nil, err
	}

	ts, err := d.Exchange(ctx, code, s.callbackURL)
	if err != nil {
		s.log.Warn("code exchange failed",
			zap.String("provider", st.Provider),
			zap.String("organization_id", st.OrganizationID),
			zap.Error(err))
		return &CallbackResult{
			Success:     false,
			RedirectURL: appendQuery(st.RedirectURL, url.Values{"error": {"oauth_failed"}, "provider": {st.Provider}}),
		}, nil
	}

	account := ts.Account
	if account == nil {
		account, err = d.AccountInfo(ctx, ts.AccessToken)
		if err != nil {
			// Identity is cosmetic; the grant itself succeeded.
			s.log.Warn("account info fetch failed", zap.String("provider", st.Provider), zap.Error(err))
			account = &provider.Account{}
		}
	}

	conn, err := s.buildConnection(st, ts, account)
	if err != nil {
		return nil, err
	}

	if d.MultiConnection() {
		err = s.conns.Append(ctx, conn)
	} else {
		err = s.conns.Put(ctx, conn)
	}
	if err != nil {
		return nil, fmt.Errorf("persisting connection: %w", err)
	}

	s.log.Info("connection established",
		zap.String("provider", st.Provider),
		zap.String("organization_id", st.OrganizationID),
		zap.String("account_id", account.ID))

	return &CallbackResult{
		Success:     true,
		RedirectURL: appendQuery(st.RedirectURL, url.Values{"connected": {st.Provider}}),
	}, nil
}

// buildConnection encrypts the token set and assembles the persisted
// record.
func (s *Service) buildConnection(st *oauthstate.State, ts *provider.TokenSet, account *provider.Account) (*connection.Connection, error) {
	accessEnc, err := tokencipher.Encrypt(ts.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("encrypting access token: %w", err)
	}

	conn := &connection.Connection{
		Provider:       st.Provider,
		OrganizationID: st.OrganizationID,
		Account:        *account,
		AccessTokenEnc: accessEnc,
		Scopes:         ts.Scopes,
		IsActive:       true,
		ConnectedAt:    time.Now(),
		ConnectedBy:    st.UserID,
	}
	if ts.RefreshToken != "" {
		refreshEnc, err := tokencipher.Encrypt(ts.RefreshToken)
		if err != nil {
			return nil, fmt.Errorf("encrypting refresh token: %w", err)
		}
		conn.RefreshTokenEnc = refreshEnc
	}
	if !ts.ExpiresAt.IsZero() {
		expiry := ts.ExpiresAt
		conn.TokenExpiresAt = &expiry
	}
	return conn, nil
}

// RefreshConnection rotates the tokens of one connection. When the
// provider returns no new refresh token, the stored one is kept.
func (s *Service) RefreshConnection(ctx context.Context, organizationID, providerName string) error {
	d, err := s.lookup(providerName)
	if err != nil {
		return err
	}

	conn, err := s.conns.Get(ctx, organizationID, providerName)
	if err != nil {
		return fmt.Errorf("loading connection: %w", err)
	}
	if conn == nil {
		return fmt.Errorf("%w: %s/%s", ErrConnectionNotFound, organizationID, providerName)
	}
	if conn.RefreshTokenEnc == "" {
		return fmt.Errorf("%w: %s/%s", ErrNoRefreshToken, organizationID, providerName)
	}

	refreshToken, err := tokencipher.DecryptAny(conn.RefreshTokenEnc)
	if err != nil {
		return fmt.Errorf("decrypting refresh token: %w", err)
	}

	ts, err := d.Refresh(ctx, refreshToken)
	if err != nil {
		return err
	}

	accessEnc, err := tokencipher.Encrypt(ts.AccessToken)
	if err != nil {
		return fmt.Errorf("encrypting access token: %w", err)
	}
	conn.AccessTokenEnc = accessEnc
	if ts.RefreshToken != "" {
		refreshEnc, err := tokencipher.Encrypt(ts.RefreshToken)
		if err != nil {
			return fmt.Errorf("encrypting refresh token: %w", err)
		}
		conn.RefreshTokenEnc = refreshEnc
	}
	if ts.ExpiresAt.IsZero() {
		conn.TokenExpiresAt = nil
	} else {
		expiry := ts.ExpiresAt
		conn.TokenExpiresAt = &expiry
	}

	now := time.Now()
	conn.LastRefreshedAt = &now
	conn.ConsecutiveFailures = 0
	conn.LastError = ""
	conn.LastErrorAt = nil

	if err := s.conns.Put(ctx, conn); err != nil {
		return fmt.Errorf("saving refreshed connection: %w", err)
	}
	return nil
}

// RevokeConnection deactivates a connection. The remote revoke call is
// best-effort: the operator's intent to disconnect wins even when the
// provider is unreachable.
func (s *Service) RevokeConnection(ctx context.Context, organizationID, providerName string) error {
	d, err := s.lookup(providerName)
	if err != nil {
		return err
	}

	conn, err := s.conns.Get(ctx, organizationID, providerName)
	if err != nil {
		return fmt.Errorf("loading connection: %w", err)
	}
	if conn == nil {
		return fmt.Errorf("%w: %s/%s", ErrConnectionNotFound, organizationID, providerName)
	}

	if accessToken, err := tokencipher.DecryptAny(conn.AccessTokenEnc); err != nil {
		s.log.Warn("cannot decrypt access token for remote revoke",
			zap.String("provider", providerName), zap.Error(err))
	} else if err := d.Revoke(ctx, accessToken); err != nil {
		s.log.Warn("remote revoke failed",
			zap.String("provider", providerName),
			zap.String("organization_id", organizationID),
			zap.Error(err))
	}

	now := time.Now()
	conn.IsActive = false
	conn.DisconnectedAt = &now

	if err := s.conns.Put(ctx, conn); err != nil {
		return fmt.Errorf("saving revoked connection: %w", err)
	}
	return nil
}

// appendQuery adds parameters to a redirect URL, tolerating an empty or
// unparseable base by falling back to "/".
func appendQuery(base string, params url.Values) string {
	if base == "" {
		base = "/"
	}
	u, err := url.Parse(base)
	if err != nil {
		u = &url.URL{Path: "/"}
	}
	q := u.Query()
	for k, vs := range params {
		for _, v := range vs {
			q.Set(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}
