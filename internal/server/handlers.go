package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/relead/ghl-crm-proxy/internal/ghl"
	"github.com/relead/ghl-crm-proxy/internal/logger"
)

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Get().Error().Err(err).Msg("Failed to encode response")
	}
}

// writeError maps a classified client error onto an HTTP response. An
// expired refresh token gets an explicit re-authorization instruction
// instead of a generic failure, so the dashboard can route the operator to
// the interactive flow.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch ghl.KindOf(err) {
	case ghl.KindRefreshTokenExpired:
		writeJSON(w, http.StatusUnauthorized, map[string]interface{}{
			"error":         "refresh_token_expired",
			"message":       "The stored refresh token is no longer valid. Re-run the interactive authorization flow.",
			"authorize_url": s.authorizeLink(),
		})
	case ghl.KindAuthFailed:
		writeJSON(w, http.StatusUnauthorized, map[string]string{
			"error":   "auth_failed",
			"message": err.Error(),
		})
	case ghl.KindConfiguration:
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error":   "bad_request",
			"message": err.Error(),
		})
	case ghl.KindTransient:
		writeJSON(w, http.StatusBadGateway, map[string]string{
			"error":   "upstream_unavailable",
			"message": err.Error(),
		})
	case ghl.KindAPI:
		status := http.StatusBadGateway
		var ge *ghl.Error
		if errors.As(err, &ge) && ge.StatusCode >= 400 && ge.StatusCode < 500 {
			status = ge.StatusCode
		}
		writeJSON(w, status, map[string]string{
			"error":   "upstream_error",
			"message": err.Error(),
		})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error":   "internal",
			"message": err.Error(),
		})
	}
}

func (s *Server) authorizeLink() string {
	if s.authorizeURL == "" {
		return ""
	}
	link := s.authorizeURL + "?response_type=code"
	if s.clientID != "" {
		link += "&client_id=" + s.clientID
	}
	if s.redirectURI != "" {
		link += "&redirect_uri=" + s.redirectURI
	}
	return link
}

func queryInt(r *http.Request, name string) int {
	v, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil {
		return 0
	}
	return v
}

func (s *Server) getConversationsHandler(w http.ResponseWriter, r *http.Request) {
	result, err := s.client.GetConversations(r.Context(), ghl.ConversationQuery{
		Limit:  queryInt(r, "limit"),
		Query:  r.URL.Query().Get("query"),
		Status: r.URL.Query().Get("status"),
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) getMessagesHandler(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")

	result, err := s.client.GetMessages(r.Context(), conversationID, queryInt(r, "limit"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) starConversationHandler(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")

	var body struct {
		Starred bool `json:"starred"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad_request", "message": "invalid request body"})
		return
	}

	result, err := s.client.StarConversation(r.Context(), conversationID, body.Starred)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) sendMessageHandler(w http.ResponseWriter, r *http.Request) {
	var req ghl.SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad_request", "message": "invalid request body"})
		return
	}

	result, err := s.client.SendMessage(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) searchContactsHandler(w http.ResponseWriter, r *http.Request) {
	result, err := s.client.SearchContacts(r.Context(), r.URL.Query().Get("query"), queryInt(r, "limit"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) getContactHandler(w http.ResponseWriter, r *http.Request) {
	contact, err := s.client.GetContact(r.Context(), chi.URLParam(r, "contactID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, contact)
}

func (s *Server) createContactHandler(w http.ResponseWriter, r *http.Request) {
	var req ghl.CreateContactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad_request", "message": "invalid request body"})
		return
	}

	contact, err := s.client.CreateContact(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, contact)
}
