package credstore

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/relead/ghl-crm-proxy/internal/logger"
)

// Bridge persists rotated token pairs into the store. It implements the
// ghl.RotationListener port: the API client stays ignorant of where and how
// credentials are made durable.
type Bridge struct {
	store           *Client
	accessTokenKey  string
	refreshTokenKey string
	targets         []string
	maxElapsed      time.Duration
}

// NewBridge wires a bridge to the given store client. accessTokenKey and
// refreshTokenKey name the two records the token pair is written under.
func NewBridge(store *Client, accessTokenKey, refreshTokenKey string, targets []string) *Bridge {
	return &Bridge{
		store:           store,
		accessTokenKey:  accessTokenKey,
		refreshTokenKey: refreshTokenKey,
		targets:         targets,
		maxElapsed:      20 * time.Second,
	}
}

// CredentialsRotated writes the new token pair to the store. The two writes
// are sequential: the store rate-limits aggressively and there is no
// multi-key transaction anyway. A failure here leaves the in-memory tokens
// untouched and is reported to the caller for logging only.
func (b *Bridge) CredentialsRotated(ctx context.Context, accessToken, refreshToken string) error {
	if err := b.upsertWithRetry(ctx, b.accessTokenKey, accessToken); err != nil {
		return fmt.Errorf("failed to persist access token: %w", err)
	}
	if err := b.upsertWithRetry(ctx, b.refreshTokenKey, refreshToken); err != nil {
		// Torn state: the access token record is already updated. The
		// next successful rotation overwrites both records.
		return fmt.Errorf("failed to persist refresh token: %w", err)
	}

	logger.Get().Info().
		Str("access_token_key", b.accessTokenKey).
		Str("refresh_token_key", b.refreshTokenKey).
		Msg("Persisted rotated credentials")
	return nil
}

func (b *Bridge) upsertWithRetry(ctx context.Context, key, value string) error {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = b.maxElapsed

	return backoff.Retry(func() error {
		return b.store.Upsert(ctx, key, value, b.targets)
	}, backoff.WithContext(bo, ctx))
}

// Load reads the last persisted token pair, used at startup to pick up
// tokens rotated by a previous process instance. Missing records come back
// as empty strings, not errors.
func (b *Bridge) Load(ctx context.Context) (accessToken, refreshToken string, err error) {
	access, err := b.store.FindByKey(ctx, b.accessTokenKey)
	if err != nil {
		return "", "", fmt.Errorf("failed to read access token record: %w", err)
	}
	refresh, err := b.store.FindByKey(ctx, b.refreshTokenKey)
	if err != nil {
		return "", "", fmt.Errorf("failed to read refresh token record: %w", err)
	}

	if access != nil {
		accessToken = access.Value
	}
	if refresh != nil {
		refreshToken = refresh.Value
	}
	return accessToken, refreshToken, nil
}
