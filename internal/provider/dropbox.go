package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
)

const (
	dropboxAuthURL    = "https://www.dropbox.com/oauth2/authorize"
	dropboxTokenURL   = "https://api.dropboxapi.com/oauth2/token"
	dropboxRevokeURL  = "https://api.dropboxapi.com/2/auth/token/revoke"
	dropboxAccountURL = "https://api.dropboxapi.com/2/users/get_current_account"
)

// NewDropbox creates the Dropbox descriptor. token_access_type=offline is
// Dropbox's switch for issuing refresh tokens.
func NewDropbox(creds Credentials) Descriptor {
	return &oauth2Provider{
		name:  "dropbox",
		creds: creds,
		endpoint: oauth2.Endpoint{
			AuthURL:  dropboxAuthURL,
			TokenURL: dropboxTokenURL,
		},
		authParams: []oauth2.AuthCodeOption{
			oauth2.SetAuthURLParam("token_access_type", "offline"),
		},
		revoke:  dropboxRevoke,
		account: dropboxAccount,
		client:  &http.Client{Timeout: defaultTimeout},
	}
}

// Dropbox RPC endpoints take an empty JSON body, not a form.
func dropboxPost(ctx context.Context, p *oauth2Provider, endpoint, accessToken string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := p.client.Do(req)
	if err != nil {
		return wrapErr(p.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return httpError(p.name, resp.StatusCode, "")
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("parsing response: %w", err)
		}
	}
	return nil
}

func dropboxRevoke(ctx context.Context, p *oauth2Provider, accessToken string) error {
	return dropboxPost(ctx, p, dropboxRevokeURL, accessToken, nil)
}

func dropboxAccount(ctx context.Context, p *oauth2Provider, accessToken string) (*Account, error) {
	var acct struct {
		AccountID string `json:"account_id"`
		Email     string `json:"email"`
		Name      struct {
			DisplayName string `json:"display_name"`
		} `json:"name"`
	}
	if err := dropboxPost(ctx, p, dropboxAccountURL, accessToken, &acct); err != nil {
		return nil, err
	}
	return &Account{ID: acct.AccountID, Email: acct.Email, Name: acct.Name.DisplayName}, nil
}
