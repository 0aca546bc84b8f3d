package server

import (
	"context"
	"net/http"

	"github.com/relead/ghl-crm-proxy/internal/logger"
)

// oauthCallbackHandler completes the interactive authorization flow: it
// exchanges the one-time code for a token pair, installs it on the client
// and persists it the same way an automatic rotation would.
func (s *Server) oauthCallbackHandler(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	if code == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad_request", "message": "missing code parameter"})
		return
	}

	token, err := s.client.ExchangeAuthorizationCode(r.Context(), code, s.redirectURI)
	if err != nil {
		logger.Get().Error().Err(err).Msg("Authorization code exchange failed")
		s.writeError(w, err)
		return
	}

	s.persistCredentials(r.Context(), token.AccessToken, token.RefreshToken)

	logger.Get().Info().Msg("Completed interactive authorization")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"expires_in": token.ExpiresIn,
	})
}

// persistCredentials pushes a token pair through the rotation listener.
// Persistence failures never fail the request that produced the tokens; the
// in-memory pair is already live.
func (s *Server) persistCredentials(ctx context.Context, accessToken, refreshToken string) {
	if s.listener == nil {
		return
	}
	if err := s.listener.CredentialsRotated(ctx, accessToken, refreshToken); err != nil {
		logger.Get().Error().Err(err).Msg("Failed to persist credentials")
	}
}
