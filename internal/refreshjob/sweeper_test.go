package refreshjob

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/showdeck/cloudconnect/internal/connection"
	"github.com/showdeck/cloudconnect/internal/oauthflow"
	"github.com/showdeck/cloudconnect/internal/oauthstate"
	"github.com/showdeck/cloudconnect/internal/provider"
	"github.com/showdeck/cloudconnect/internal/tokencipher"
)

func TestMain(m *testing.M) {
	tokencipher.UnsafeSetSecretForTests([]byte("refreshjob-test-secret"))
	m.Run()
	tokencipher.UnsafeResetForTests()
}

// memConnStore implements connection.Store in memory.
type memConnStore struct {
	mu    sync.Mutex
	conns map[string]*connection.Connection
}

func newMemConnStore() *memConnStore {
	return &memConnStore{conns: make(map[string]*connection.Connection)}
}

func key(org, providerName string) string { return org + "/" + providerName }

func (m *memConnStore) Get(ctx context.Context, org, providerName string) (*connection.Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conns[key(org, providerName)]
	if !ok {
		return nil, nil
	}
	clone := *c
	return &clone, nil
}

func (m *memConnStore) Put(ctx context.Context, c *connection.Connection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *c
	m.conns[key(c.OrganizationID, c.Provider)] = &clone
	return nil
}

func (m *memConnStore) Append(ctx context.Context, c *connection.Connection) error {
	return m.Put(ctx, c)
}

func (m *memConnStore) ListOrganizations(ctx context.Context, providerName string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var orgs []string
	for k := range m.conns {
		parts := strings.SplitN(k, "/", 2)
		if parts[1] == providerName {
			orgs = append(orgs, parts[0])
		}
	}
	return orgs, nil
}

func (m *memConnStore) Delete(ctx context.Context, org, providerName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.conns, key(org, providerName))
	return nil
}

func (m *memConnStore) CheckHealth(ctx context.Context) error { return nil }

// nopStateStore satisfies the service constructor; the sweep never touches
// states.
type nopStateStore struct{}

func (nopStateStore) Create(ctx context.Context, p, o, u, r string) (string, error) { return "", nil }
func (nopStateStore) Consume(ctx context.Context, s string) (*oauthstate.State, error) {
	return nil, oauthstate.ErrStateNotFound
}
func (nopStateStore) SweepExpired(ctx context.Context) (int, error) { return 0, nil }
func (nopStateStore) CheckHealth(ctx context.Context) error         { return nil }

// stubDescriptor scripts refresh outcomes per refresh token.
type stubDescriptor struct {
	name    string
	mu      sync.Mutex
	calls   int
	refresh func(refreshToken string) (*provider.TokenSet, error)
}

func (d *stubDescriptor) Name() string          { return d.name }
func (d *stubDescriptor) Kind() provider.Kind   { return provider.KindOAuth2 }
func (d *stubDescriptor) MultiConnection() bool { return false }
func (d *stubDescriptor) AuthorizationURL(state, redirectURI string) string {
	return "https://example.test/auth"
}
func (d *stubDescriptor) Exchange(ctx context.Context, code, redirectURI string) (*provider.TokenSet, error) {
	return nil, errors.New("not used")
}
func (d *stubDescriptor) Refresh(ctx context.Context, refreshToken string) (*provider.TokenSet, error) {
	d.mu.Lock()
	d.calls++
	d.mu.Unlock()
	if d.refresh != nil {
		return d.refresh(refreshToken)
	}
	return &provider.TokenSet{AccessToken: "fresh-access", ExpiresAt: time.Now().Add(time.Hour)}, nil
}
func (d *stubDescriptor) Revoke(ctx context.Context, accessToken string) error { return nil }
func (d *stubDescriptor) AccountInfo(ctx context.Context, accessToken string) (*provider.Account, error) {
	return nil, errors.New("not used")
}

func (d *stubDescriptor) refreshCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

type fixture struct {
	sweeper *Sweeper
	conns   *memConnStore
	desc    *stubDescriptor
	now     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	desc := &stubDescriptor{name: "box"}
	reg := provider.NewRegistry()
	reg.MustRegister(desc)

	conns := newMemConnStore()
	svc := oauthflow.New(reg, nopStateStore{}, conns, "https://api.example.test/oauth/callback", zap.NewNop())
	sweeper := NewSweeper(reg, conns, svc, DefaultExpiryWindow, time.Hour, zap.NewNop())

	f := &fixture{sweeper: sweeper, conns: conns, desc: desc, now: time.Now()}
	sweeper.now = func() time.Time { return f.now }
	return f
}

func (f *fixture) seed(t *testing.T, mutate func(*connection.Connection)) {
	t.Helper()
	access, err := tokencipher.Encrypt("stored-access")
	require.NoError(t, err)
	refresh, err := tokencipher.Encrypt("stored-refresh")
	require.NoError(t, err)

	soon := f.now.Add(10 * time.Minute)
	c := &connection.Connection{
		Provider:        "box",
		OrganizationID:  "org1",
		AccessTokenEnc:  access,
		RefreshTokenEnc: refresh,
		TokenExpiresAt:  &soon,
		IsActive:        true,
		ConnectedAt:     f.now.Add(-24 * time.Hour),
		ConnectedBy:     "user1",
	}
	if mutate != nil {
		mutate(c)
	}
	require.NoError(t, f.conns.Put(context.Background(), c))
}

func (f *fixture) conn(t *testing.T) *connection.Connection {
	t.Helper()
	c, err := f.conns.Get(context.Background(), "org1", "box")
	require.NoError(t, err)
	require.NotNil(t, c)
	return c
}

func TestRun_RefreshesExpiringConnection(t *testing.T) {
	f := newFixture(t)
	f.seed(t, nil)

	sum := f.sweeper.Run(context.Background())
	require.Equal(t, 1, sum.Refreshed)
	require.Equal(t, 1, f.desc.refreshCalls())

	c := f.conn(t)
	plain, err := tokencipher.Decrypt(c.AccessTokenEnc)
	require.NoError(t, err)
	require.Equal(t, "fresh-access", plain)
	require.NotNil(t, c.LastRefreshedAt)
}

func TestRun_SkipsTokenNotNearExpiry(t *testing.T) {
	f := newFixture(t)
	f.seed(t, func(c *connection.Connection) {
		later := f.now.Add(2 * time.Hour)
		c.TokenExpiresAt = &later
	})

	sum := f.sweeper.Run(context.Background())
	require.Equal(t, 1, sum.Skipped)
	require.Zero(t, f.desc.refreshCalls(), "a token expiring in 2h must not trigger a provider call")
}

func TestRun_NilExpiryAlwaysRefreshed(t *testing.T) {
	// Connections whose tokens never report an expiry are refreshed every
	// sweep; nil expiry means no skip.
	f := newFixture(t)
	f.seed(t, func(c *connection.Connection) { c.TokenExpiresAt = nil })

	sum := f.sweeper.Run(context.Background())
	require.Equal(t, 1, sum.Refreshed)
}

func TestRun_SkipsInactive(t *testing.T) {
	f := newFixture(t)
	f.seed(t, func(c *connection.Connection) { c.IsActive = false })

	sum := f.sweeper.Run(context.Background())
	require.Equal(t, 1, sum.Skipped)
	require.Zero(t, f.desc.refreshCalls())
}

func TestRun_SkipsMissingRefreshToken(t *testing.T) {
	f := newFixture(t)
	f.seed(t, func(c *connection.Connection) { c.RefreshTokenEnc = "" })

	sum := f.sweeper.Run(context.Background())
	require.Equal(t, 1, sum.Skipped)
	require.Zero(t, f.desc.refreshCalls())
}

func TestRun_TransientFailureNotPenalized(t *testing.T) {
	f := newFixture(t)
	f.seed(t, func(c *connection.Connection) { c.ConsecutiveFailures = 2 })
	f.desc.refresh = func(string) (*provider.TokenSet, error) {
		return nil, &provider.Error{Provider: "box", Code: provider.CodeUnavailable, Message: "bad gateway"}
	}

	sum := f.sweeper.Run(context.Background())
	require.Equal(t, 1, sum.Failed)

	c := f.conn(t)
	require.True(t, c.IsActive)
	require.Equal(t, 2, c.ConsecutiveFailures, "transient failures must not move the counter")
	require.NotEmpty(t, c.LastError)
	require.NotNil(t, c.LastErrorAt)
}

func TestRun_PermanentFailureDeactivatesImmediately(t *testing.T) {
	f := newFixture(t)
	f.seed(t, nil)
	f.desc.refresh = func(string) (*provider.TokenSet, error) {
		return nil, &provider.Error{Provider: "box", Code: provider.CodeInvalidGrant, Message: "token revoked by user"}
	}

	sum := f.sweeper.Run(context.Background())
	require.Equal(t, 1, sum.Deactivated)

	c := f.conn(t)
	require.False(t, c.IsActive)
	require.True(t, c.RequiresReconnection)
}

func TestRun_UnclassifiedFailureIncrementsCounter(t *testing.T) {
	f := newFixture(t)
	f.seed(t, nil)
	f.desc.refresh = func(string) (*provider.TokenSet, error) {
		return nil, errors.New("weird response shape")
	}

	f.sweeper.Run(context.Background())

	c := f.conn(t)
	require.True(t, c.IsActive)
	require.Equal(t, 1, c.ConsecutiveFailures)
	require.False(t, c.RequiresReconnection)
}

func TestRun_FailureCeilingDeactivates(t *testing.T) {
	f := newFixture(t)
	f.seed(t, func(c *connection.Connection) {
		c.ConsecutiveFailures = failureCeiling - 1
		old := f.now.Add(-8 * time.Hour) // backoff windows elapsed
		c.LastErrorAt = &old
	})
	f.desc.refresh = func(string) (*provider.TokenSet, error) {
		return nil, errors.New("weird response shape")
	}

	sum := f.sweeper.Run(context.Background())
	require.Equal(t, 1, sum.Deactivated)

	c := f.conn(t)
	require.False(t, c.IsActive)
	require.False(t, c.RequiresReconnection, "ambiguous failures deactivate without the reconnect flag")
	require.Equal(t, failureCeiling, c.ConsecutiveFailures)
}

func TestRun_GraduatedBackoff(t *testing.T) {
	tests := []struct {
		name     string
		failures int
		sinceErr time.Duration
		wantCall bool
	}{
		{"tier1 inside window", 5, 2 * time.Hour, false},
		{"tier1 window elapsed", 5, 4 * time.Hour, true},
		{"tier2 inside window", 10, 4 * time.Hour, false},
		{"tier2 window elapsed", 10, 7 * time.Hour, true},
		{"below tier1", 4, time.Minute, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.seed(t, func(c *connection.Connection) {
				c.ConsecutiveFailures = tt.failures
				at := f.now.Add(-tt.sinceErr)
				c.LastErrorAt = &at
			})

			f.sweeper.Run(context.Background())
			if tt.wantCall {
				require.Equal(t, 1, f.desc.refreshCalls())
			} else {
				require.Zero(t, f.desc.refreshCalls())
			}
		})
	}
}

func TestRun_PairFailuresAreIsolated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// org1 has a broken refresh token; org2 is healthy.
	f.seed(t, nil)
	access, _ := tokencipher.Encrypt("a2")
	refresh, _ := tokencipher.Encrypt("refresh-ok")
	soon := f.now.Add(5 * time.Minute)
	require.NoError(t, f.conns.Put(ctx, &connection.Connection{
		Provider:        "box",
		OrganizationID:  "org2",
		AccessTokenEnc:  access,
		RefreshTokenEnc: refresh,
		TokenExpiresAt:  &soon,
		IsActive:        true,
	}))

	f.desc.refresh = func(refreshToken string) (*provider.TokenSet, error) {
		if refreshToken == "refresh-ok" {
			return &provider.TokenSet{AccessToken: "fresh", ExpiresAt: time.Now().Add(time.Hour)}, nil
		}
		return nil, errors.New("broken token")
	}

	sum := f.sweeper.Run(ctx)
	require.Equal(t, 1, sum.Refreshed, "one pair's failure must not block the rest")
	require.Equal(t, 1, sum.Failed)
	require.Equal(t, 2, f.desc.refreshCalls())
}

func TestClassify_SubstringFallback(t *testing.T) {
	tests := []struct {
		msg  string
		want FailureClass
	}{
		{"oauth error: invalid_grant", ClassPermanent},
		{"token has been revoked", ClassPermanent},
		{"invalid_client credentials", ClassPermanent},
		{"app usage limit exceeded", ClassPermanent},
		{"request timed out", ClassTransient},
		{"read: connection reset by peer", ClassTransient},
		{"upstream returned status 503", ClassTransient},
		{"502 bad gateway from proxy", ClassTransient},
		{"unexpected end of JSON input", ClassOther},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			require.Equal(t, tt.want, Classify(fmt.Errorf("refresh failed: %s", tt.msg)))
		})
	}
}

func TestClassify_TypedCodesWin(t *testing.T) {
	// A typed transient code beats a permanent-looking message.
	err := &provider.Error{Provider: "box", Code: provider.CodeTimeout, Message: "invalid_grant mentioned in passing"}
	require.Equal(t, ClassTransient, Classify(err))
}
