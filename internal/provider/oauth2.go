package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// defaultTimeout bounds every outbound provider call.
const defaultTimeout = 10 * time.Second

// revokeFunc performs provider-specific token revocation.
type revokeFunc func(ctx context.Context, p *oauth2Provider, accessToken string) error

// accountFunc fetches the provider-specific account identity.
type accountFunc func(ctx context.Context, p *oauth2Provider, accessToken string) (*Account, error)

// oauth2Provider is the shared authorization-code implementation behind
// every OAuth2 descriptor. Per-provider differences are the endpoint,
// scopes, extra auth params, and the revoke/account functions.
type oauth2Provider struct {
	name       string
	creds      Credentials
	endpoint   oauth2.Endpoint
	scopes     []string
	authParams []oauth2.AuthCodeOption
	multi      bool
	revoke     revokeFunc
	account    accountFunc
	client     *http.Client
}

func (p *oauth2Provider) Name() string          { return p.name }
func (p *oauth2Provider) Kind() Kind            { return KindOAuth2 }
func (p *oauth2Provider) MultiConnection() bool { return p.multi }

// conf builds a per-call oauth2 config so the shared descriptor stays
// immutable after registration.
func (p *oauth2Provider) conf(redirectURI string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     p.creds.ClientID,
		ClientSecret: p.creds.ClientSecret,
		Endpoint:     p.endpoint,
		RedirectURL:  redirectURI,
		Scopes:       p.scopes,
	}
}

// httpCtx routes oauth2 library calls through the descriptor's timeout-
// bounded client.
func (p *oauth2Provider) httpCtx(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, p.client)
}

func (p *oauth2Provider) AuthorizationURL(state, redirectURI string) string {
	opts := append([]oauth2.AuthCodeOption{oauth2.AccessTypeOffline}, p.authParams...)
	return p.conf(redirectURI).AuthCodeURL(state, opts...)
}

func (p *oauth2Provider) Exchange(ctx context.Context, code, redirectURI string) (*TokenSet, error) {
	if p.creds.empty() {
		return nil, fmt.Errorf("%s: %w", p.name, ErrNotConfigured)
	}
	tok, err := p.conf(redirectURI).Exchange(p.httpCtx(ctx), code)
	if err != nil {
		return nil, wrapErr(p.name, err)
	}
	return tokenSet(tok), nil
}

func (p *oauth2Provider) Refresh(ctx context.Context, refreshToken string) (*TokenSet, error) {
	if p.creds.empty() {
		return nil, fmt.Errorf("%s: %w", p.name, ErrNotConfigured)
	}
	src := p.conf("").TokenSource(p.httpCtx(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, wrapErr(p.name, err)
	}
	ts := tokenSet(tok)
	// The oauth2 library echoes the input refresh token when the provider
	// does not rotate it; report rotation only.
	if ts.RefreshToken == refreshToken {
		ts.RefreshToken = ""
	}
	return ts, nil
}

func (p *oauth2Provider) Revoke(ctx context.Context, accessToken string) error {
	if p.revoke == nil {
		return nil // provider has no revocation endpoint
	}
	if p.creds.empty() {
		return fmt.Errorf("%s: %w", p.name, ErrNotConfigured)
	}
	return p.revoke(ctx, p, accessToken)
}

func (p *oauth2Provider) AccountInfo(ctx context.Context, accessToken string) (*Account, error) {
	if p.account == nil {
		return nil, fmt.Errorf("%s: account info not supported", p.name)
	}
	return p.account(ctx, p, accessToken)
}

// tokenSet converts an oauth2 token into the transient TokenSet.
func tokenSet(tok *oauth2.Token) *TokenSet {
	ts := &TokenSet{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
	}
	if scope, ok := tok.Extra("scope").(string); ok && scope != "" {
		ts.Scopes = strings.Fields(strings.ReplaceAll(scope, ",", " "))
	}
	return ts
}

// postForm sends a form-encoded POST and returns the response body,
// classifying non-2xx statuses.
func (p *oauth2Provider) postForm(ctx context.Context, endpoint string, data url.Values, bearer string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, wrapErr(p.name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, httpError(p.name, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

// getJSON performs a bearer-authenticated GET and decodes the JSON body.
func (p *oauth2Provider) getJSON(ctx context.Context, endpoint, bearer string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+bearer)

	resp, err := p.client.Do(req)
	if err != nil {
		return wrapErr(p.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return httpError(p.name, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	return nil
}
