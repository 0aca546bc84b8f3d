package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config carries everything the proxy needs at startup. Tokens baked into the
// environment are only a starting point; the live values rotate at runtime
// and are re-read from the credential store on boot.
type Config struct {
	Port        string        `env:"PORT" envDefault:"9880"`
	AdminAPIKey string        `env:"ADMIN_API_KEY"`
	HTTPTimeout time.Duration `env:"HTTP_TIMEOUT" envDefault:"30s"`

	GHL       GHL       `envPrefix:"GHL_"`
	CredStore CredStore `envPrefix:"CREDSTORE_"`
}

// GHL configures the CRM platform connection for one location.
type GHL struct {
	APIBaseURL   string `env:"API_BASE_URL" envDefault:"https://services.leadconnectorhq.com"`
	AuthBaseURL  string `env:"AUTH_BASE_URL" envDefault:"https://services.leadconnectorhq.com"`
	AuthorizeURL string `env:"AUTHORIZE_URL" envDefault:"https://marketplace.gohighlevel.com/oauth/chooselocation"`
	RedirectURI  string `env:"REDIRECT_URI"`

	AccessToken  string `env:"ACCESS_TOKEN"`
	RefreshToken string `env:"REFRESH_TOKEN"`
	LocationID   string `env:"LOCATION_ID"`
	ClientID     string `env:"CLIENT_ID"`
	ClientSecret string `env:"CLIENT_SECRET"`
}

// CredStore configures the external configuration service used to persist
// rotated tokens across deploys.
type CredStore struct {
	APIBaseURL string   `env:"API_BASE_URL"`
	APIToken   string   `env:"API_TOKEN"`
	ProjectID  string   `env:"PROJECT_ID"`
	Targets    []string `env:"TARGETS" envDefault:"production,preview,development"`

	AccessTokenKey  string `env:"ACCESS_TOKEN_KEY" envDefault:"GHL_ACCESS_TOKEN"`
	RefreshTokenKey string `env:"REFRESH_TOKEN_KEY" envDefault:"GHL_REFRESH_TOKEN"`
}

// Load parses the configuration from the process environment.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	return cfg, nil
}

// PersistenceConfigured reports whether the credential store is reachable in
// principle. Without it the proxy still runs; rotated tokens just don't
// survive a restart.
func (c *CredStore) PersistenceConfigured() bool {
	return c.APIBaseURL != "" && c.APIToken != "" && c.ProjectID != ""
}
