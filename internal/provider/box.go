package provider

import (
	"context"
	"net/http"
	"net/url"

	"golang.org/x/oauth2"
)

const (
	boxAuthURL   = "https://account.box.com/api/oauth2/authorize"
	boxTokenURL  = "https://api.box.com/oauth2/token"
	boxRevokeURL = "https://api.box.com/oauth2/revoke"
	boxUserURL   = "https://api.box.com/2.0/users/me"
)

// NewBox creates the Box descriptor.
func NewBox(creds Credentials) Descriptor {
	return &oauth2Provider{
		name:  "box",
		creds: creds,
		endpoint: oauth2.Endpoint{
			AuthURL:  boxAuthURL,
			TokenURL: boxTokenURL,
		},
		scopes:  []string{"root_readwrite"},
		revoke:  boxRevoke,
		account: boxAccount,
		client:  &http.Client{Timeout: defaultTimeout},
	}
}

func boxRevoke(ctx context.Context, p *oauth2Provider, accessToken string) error {
	data := url.Values{
		"client_id":     {p.creds.ClientID},
		"client_secret": {p.creds.ClientSecret},
		"token":         {accessToken},
	}
	_, err := p.postForm(ctx, boxRevokeURL, data, "")
	return err
}

func boxAccount(ctx context.Context, p *oauth2Provider, accessToken string) (*Account, error) {
	var user struct {
		ID    string `json:"id"`
		Name  string `json:"name"`
		Login string `json:"login"`
	}
	if err := p.getJSON(ctx, boxUserURL, accessToken, &user); err != nil {
		return nil, err
	}
	return &Account{ID: user.ID, Email: user.Login, Name: user.Name}, nil
}
