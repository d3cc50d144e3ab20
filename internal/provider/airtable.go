package provider

import (
	"context"
	"net/http"

	"golang.org/x/oauth2"
)

const (
	airtableAuthURL   = "https://airtable.com/oauth2/v1/authorize"
	airtableTokenURL  = "https://airtable.com/oauth2/v1/token"
	airtableWhoamiURL = "https://api.airtable.com/v0/meta/whoami"
)

// NewAirtable creates the Airtable descriptor. Airtable has no revocation
// endpoint; disconnects are local-only and the grant expires on its own.
func NewAirtable(creds Credentials) Descriptor {
	return &oauth2Provider{
		name:  "airtable",
		creds: creds,
		endpoint: oauth2.Endpoint{
			AuthURL:   airtableAuthURL,
			TokenURL:  airtableTokenURL,
			AuthStyle: oauth2.AuthStyleInHeader,
		},
		scopes:  []string{"data.records:read", "data.records:write", "schema.bases:read"},
		account: airtableAccount,
		client:  &http.Client{Timeout: defaultTimeout},
	}
}

func airtableAccount(ctx context.Context, p *oauth2Provider, accessToken string) (*Account, error) {
	var who struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	}
	if err := p.getJSON(ctx, airtableWhoamiURL, accessToken, &who); err != nil {
		return nil, err
	}
	return &Account{ID: who.ID, Email: who.Email}, nil
}
