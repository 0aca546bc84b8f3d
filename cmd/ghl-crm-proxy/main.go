package main

import (
	"context"
	"net/http"
	"time"

	"github.com/relead/ghl-crm-proxy/internal/config"
	"github.com/relead/ghl-crm-proxy/internal/credstore"
	"github.com/relead/ghl-crm-proxy/internal/ghl"
	"github.com/relead/ghl-crm-proxy/internal/httpx"
	"github.com/relead/ghl-crm-proxy/internal/logger"
	"github.com/relead/ghl-crm-proxy/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Get().Fatal().Err(err).Msg("Failed to load configuration")
	}

	httpClient := httpx.NewClient(cfg.HTTPTimeout)

	// The env-baked tokens are a fallback; a previous process instance may
	// have rotated them, so the credential store wins when it has values.
	var bridge *credstore.Bridge
	accessToken := cfg.GHL.AccessToken
	refreshToken := cfg.GHL.RefreshToken

	if cfg.CredStore.PersistenceConfigured() {
		store := credstore.NewClient(httpClient, cfg.CredStore.APIBaseURL, cfg.CredStore.APIToken, cfg.CredStore.ProjectID)
		bridge = credstore.NewBridge(store, cfg.CredStore.AccessTokenKey, cfg.CredStore.RefreshTokenKey, cfg.CredStore.Targets)

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		storedAccess, storedRefresh, err := bridge.Load(ctx)
		cancel()
		switch {
		case err != nil:
			logger.Get().Warn().Err(err).Msg("Could not read stored credentials, using environment values")
		case storedAccess != "":
			accessToken = storedAccess
			if storedRefresh != "" {
				refreshToken = storedRefresh
			}
			logger.Get().Info().Msg("Loaded credentials from the credential store")
		}
	} else {
		logger.Get().Warn().Msg("Credential store not configured, rotated tokens will not survive a restart")
	}

	clientOpts := ghl.Options{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		LocationID:   cfg.GHL.LocationID,
		ClientID:     cfg.GHL.ClientID,
		ClientSecret: cfg.GHL.ClientSecret,
		APIBaseURL:   cfg.GHL.APIBaseURL,
		AuthBaseURL:  cfg.GHL.AuthBaseURL,
		HTTPClient:   httpClient,
	}
	if bridge != nil {
		clientOpts.Listener = bridge
	}

	client, err := ghl.NewClient(clientOpts)
	if err != nil {
		logger.Get().Fatal().Err(err).Msg("Failed to create CRM client")
	}

	srv := server.New(server.Options{
		Client:       client,
		Listener:     clientOpts.Listener,
		AdminAPIKey:  cfg.AdminAPIKey,
		AuthorizeURL: cfg.GHL.AuthorizeURL,
		ClientID:     cfg.GHL.ClientID,
		RedirectURI:  cfg.GHL.RedirectURI,
	})

	addr := ":" + cfg.Port
	logger.Get().Info().Str("addr", addr).Msg("Starting CRM proxy")
	if err := http.ListenAndServe(addr, srv); err != nil {
		logger.Get().Fatal().Err(err).Msg("Server exited")
	}
}
