package server

import (
	"net/http"

	"github.com/goccy/go-json"

	"github.com/relead/ghl-crm-proxy/internal/logger"
)

// credentialsStatusHandler reports whether the proxy holds usable
// credentials without ever echoing the secrets themselves.
func (s *Server) credentialsStatusHandler(w http.ResponseWriter, r *http.Request) {
	creds := s.client.Credentials()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"has_access_token":  creds.AccessToken != "",
		"has_refresh_token": creds.RefreshToken != "",
		"location_id":       creds.LocationID,
		"rotation_count":    s.client.RotationCount(),
	})
}

// setCredentialsHandler installs a token pair supplied by an operator, e.g.
// one obtained out-of-band, and persists it like a rotation would.
func (s *Server) setCredentialsHandler(w http.ResponseWriter, r *http.Request) {
	var body struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad_request", "message": "invalid request body"})
		return
	}
	if body.AccessToken == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad_request", "message": "access_token is required"})
		return
	}

	s.client.SetCredentials(body.AccessToken, body.RefreshToken)
	s.persistCredentials(r.Context(), body.AccessToken, body.RefreshToken)

	logger.Get().Info().Msg("Installed operator-supplied credentials")
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}
