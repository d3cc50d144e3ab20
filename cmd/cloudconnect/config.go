package main

import "time"

// Config holds server configuration loaded from environment variables.
// Provider client credentials are optional at startup; a provider with no
// credentials fails at first use.
type Config struct {
	Port     int    `envconfig:"PORT" default:"8080"`
	RedisURL string `envconfig:"REDIS_URL" required:"true"`

	// BaseURL is this service's public address. The fixed OAuth callback
	// URI is BaseURL + "/oauth/callback".
	BaseURL string `envconfig:"BASE_URL" required:"true"`

	Env      string `envconfig:"APP_ENV" default:"dev"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	RefreshInterval    time.Duration `envconfig:"REFRESH_INTERVAL" default:"1h"`
	RefreshWindow      time.Duration `envconfig:"REFRESH_EXPIRY_WINDOW" default:"30m"`
	StateSweepInterval time.Duration `envconfig:"STATE_SWEEP_INTERVAL" default:"24h"`

	ReadHeaderTimeout time.Duration `envconfig:"READ_HEADER_TIMEOUT" default:"5s"`
	ReadTimeout       time.Duration `envconfig:"READ_TIMEOUT" default:"10s"`
	WriteTimeout      time.Duration `envconfig:"WRITE_TIMEOUT" default:"30s"`
	IdleTimeout       time.Duration `envconfig:"IDLE_TIMEOUT" default:"120s"`

	BoxClientID          string `envconfig:"BOX_CLIENT_ID"`
	BoxClientSecret      string `envconfig:"BOX_CLIENT_SECRET"`
	GoogleClientID       string `envconfig:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret   string `envconfig:"GOOGLE_CLIENT_SECRET"`
	DropboxClientID      string `envconfig:"DROPBOX_CLIENT_ID"`
	DropboxClientSecret  string `envconfig:"DROPBOX_CLIENT_SECRET"`
	AirtableClientID     string `envconfig:"AIRTABLE_CLIENT_ID"`
	AirtableClientSecret string `envconfig:"AIRTABLE_CLIENT_SECRET"`
	SlackClientID        string `envconfig:"SLACK_CLIENT_ID"`
	SlackClientSecret    string `envconfig:"SLACK_CLIENT_SECRET"`
}

// CallbackURL returns the fixed backend OAuth callback URI used for both
// authorization and code exchange.
func (c Config) CallbackURL() string {
	return c.BaseURL + "/oauth/callback"
}
