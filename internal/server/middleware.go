package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/relead/ghl-crm-proxy/internal/logger"
)

// requestIDMiddleware tags every request with an id so log lines across the
// refresh path can be correlated.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs all incoming requests and their duration.
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		next.ServeHTTP(w, r)

		logger.Get().Info().
			Str("method", r.Method).
			Str("url", r.URL.String()).
			Str("remote_addr", r.RemoteAddr).
			Str("request_id", w.Header().Get("X-Request-ID")).
			Dur("duration", time.Since(start)).
			Msg("Finished request")
	})
}

// adminAuthMiddleware checks for the admin API key in either
// 'Authorization: Bearer <key>' or 'X-API-Key: <key>' headers.
func (s *Server) adminAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.adminAPIKey == "" {
			logger.Get().Warn().Msg("ADMIN_API_KEY not set, admin endpoints disabled")
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "admin API not configured"})
			return
		}

		var provided string
		if authHeader := r.Header.Get("Authorization"); authHeader != "" {
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid Authorization header format"})
				return
			}
			provided = parts[1]
		} else {
			provided = r.Header.Get("X-API-Key")
		}

		if provided == "" || provided != s.adminAPIKey {
			logger.Get().Warn().
				Str("method", r.Method).
				Str("url", r.URL.String()).
				Str("remote_addr", r.RemoteAddr).
				Msg("Rejected admin request")
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}

		next.ServeHTTP(w, r)
	})
}
