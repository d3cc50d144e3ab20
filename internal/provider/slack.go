package provider

import (
	"context"
	"net/http"
	"net/url"

	"golang.org/x/oauth2"
)

const (
	slackAuthURL     = "https://slack.com/oauth/v2/authorize"
	slackTokenURL    = "https://slack.com/api/oauth.v2.access"
	slackRevokeURL   = "https://slack.com/api/auth.revoke"
	slackAuthTestURL = "https://slack.com/api/auth.test"
)

// NewSlack creates the Slack descriptor. Slack is the one provider modeled
// with multiple simultaneous connections per organization (one per
// workspace), so MultiConnection reports true.
func NewSlack(creds Credentials) Descriptor {
	return &oauth2Provider{
		name:  "slack",
		creds: creds,
		endpoint: oauth2.Endpoint{
			AuthURL:  slackAuthURL,
			TokenURL: slackTokenURL,
		},
		scopes:  []string{"chat:write", "channels:read", "users:read"},
		multi:   true,
		revoke:  slackRevoke,
		account: slackAccount,
		client:  &http.Client{Timeout: defaultTimeout},
	}
}

func slackRevoke(ctx context.Context, p *oauth2Provider, accessToken string) error {
	_, err := p.postForm(ctx, slackRevokeURL, url.Values{"token": {accessToken}}, "")
	return err
}

func slackAccount(ctx context.Context, p *oauth2Provider, accessToken string) (*Account, error) {
	var ident struct {
		OK     bool   `json:"ok"`
		Error  string `json:"error"`
		UserID string `json:"user_id"`
		User   string `json:"user"`
		Team   string `json:"team"`
	}
	if err := p.getJSON(ctx, slackAuthTestURL, accessToken, &ident); err != nil {
		return nil, err
	}
	if !ident.OK {
		return nil, &Error{Provider: p.name, Code: CodeUnknown, Message: ident.Error}
	}
	return &Account{ID: ident.UserID, Name: ident.User + " (" + ident.Team + ")"}, nil
}
