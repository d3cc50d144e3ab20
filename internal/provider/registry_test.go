package provider

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// fakeDescriptor is a minimal descriptor for registry tests.
type fakeDescriptor struct {
	name string
	kind Kind
}

func (f *fakeDescriptor) Name() string          { return f.name }
func (f *fakeDescriptor) Kind() Kind            { return f.kind }
func (f *fakeDescriptor) MultiConnection() bool { return false }
func (f *fakeDescriptor) AuthorizationURL(state, redirectURI string) string {
	return "https://example.test/auth?state=" + state
}
func (f *fakeDescriptor) Exchange(ctx context.Context, code, redirectURI string) (*TokenSet, error) {
	return nil, nil
}
func (f *fakeDescriptor) Refresh(ctx context.Context, refreshToken string) (*TokenSet, error) {
	return nil, nil
}
func (f *fakeDescriptor) Revoke(ctx context.Context, accessToken string) error { return nil }
func (f *fakeDescriptor) AccountInfo(ctx context.Context, accessToken string) (*Account, error) {
	return nil, nil
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(&fakeDescriptor{name: "box", kind: KindOAuth2}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	d, ok := r.Get("box")
	if !ok {
		t.Fatal("expected box to be registered")
	}
	if d.Name() != "box" {
		t.Fatalf("got name %q", d.Name())
	}

	if _, ok := r.Get("missing"); ok {
		t.Fatal("unknown provider must not resolve")
	}
}

func TestRegistry_RejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(&fakeDescriptor{name: "box", kind: KindOAuth2}); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(&fakeDescriptor{name: "box", kind: KindOAuth2}); err == nil {
		t.Fatal("duplicate registration must be rejected")
	}
}

func TestRegistry_OAuth2Names(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(&fakeDescriptor{name: "slack", kind: KindOAuth2})
	r.MustRegister(&fakeDescriptor{name: "box", kind: KindOAuth2})
	r.MustRegister(&fakeDescriptor{name: "docusign", kind: KindAPIToken})

	got := r.OAuth2Names()
	want := []string{"box", "slack"} // sorted, api-token providers excluded
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("OAuth2Names mismatch (-want +got):\n%s", diff)
	}
}

func TestAuthorizationURL_UsesCallbackAndState(t *testing.T) {
	d := NewBox(Credentials{ClientID: "client-id", ClientSecret: "client-secret"})

	u := d.AuthorizationURL("state-token-123", "https://api.example.test/oauth/callback")
	for _, fragment := range []string{
		"state=state-token-123",
		"redirect_uri=https%3A%2F%2Fapi.example.test%2Foauth%2Fcallback",
		"client_id=client-id",
	} {
		if !strings.Contains(u, fragment) {
			t.Errorf("authorization URL missing %q: %s", fragment, u)
		}
	}
	if strings.Contains(u, "client-secret") {
		t.Error("authorization URL must not leak the client secret")
	}
}

func TestExchange_RequiresCredentials(t *testing.T) {
	d := NewGoogle(Credentials{})
	_, err := d.Exchange(context.Background(), "code", "https://cb")
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}
