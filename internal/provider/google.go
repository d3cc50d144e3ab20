package provider

import (
	"context"
	"net/http"
	"net/url"

	"golang.org/x/oauth2"
)

const (
	googleAuthURL     = "https://accounts.google.com/o/oauth2/v2/auth"
	googleTokenURL    = "https://oauth2.googleapis.com/token"
	googleRevokeURL   = "https://oauth2.googleapis.com/revoke"
	googleUserinfoURL = "https://openidconnect.googleapis.com/v1/userinfo"
)

// NewGoogle creates the Google Drive descriptor. Offline access plus a
// consent prompt are required or Google omits the refresh token on
// repeat authorizations.
func NewGoogle(creds Credentials) Descriptor {
	return &oauth2Provider{
		name:  "google",
		creds: creds,
		endpoint: oauth2.Endpoint{
			AuthURL:  googleAuthURL,
			TokenURL: googleTokenURL,
		},
		scopes: []string{
			"https://www.googleapis.com/auth/drive.file",
			"openid", "email", "profile",
		},
		authParams: []oauth2.AuthCodeOption{
			oauth2.SetAuthURLParam("prompt", "consent"),
		},
		revoke:  googleRevoke,
		account: googleAccount,
		client:  &http.Client{Timeout: defaultTimeout},
	}
}

func googleRevoke(ctx context.Context, p *oauth2Provider, accessToken string) error {
	_, err := p.postForm(ctx, googleRevokeURL, url.Values{"token": {accessToken}}, "")
	return err
}

func googleAccount(ctx context.Context, p *oauth2Provider, accessToken string) (*Account, error) {
	var info struct {
		Sub   string `json:"sub"`
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if err := p.getJSON(ctx, googleUserinfoURL, accessToken, &info); err != nil {
		return nil, err
	}
	return &Account{ID: info.Sub, Email: info.Email, Name: info.Name}, nil
}
