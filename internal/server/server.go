// Package server exposes the dashboard-facing HTTP API. Handlers are thin:
// they validate input, call the authenticated CRM client and translate
// classified errors into HTTP responses.
package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"github.com/relead/ghl-crm-proxy/internal/ghl"
)

// Options carries the server's collaborators and settings.
type Options struct {
	Client      *ghl.Client
	Listener    ghl.RotationListener
	AdminAPIKey string

	// Interactive authorization settings, surfaced to the operator when
	// the refresh token has expired.
	AuthorizeURL string
	ClientID     string
	RedirectURI  string
}

// Server is the HTTP front for the CRM proxy.
type Server struct {
	client       *ghl.Client
	listener     ghl.RotationListener
	adminAPIKey  string
	authorizeURL string
	clientID     string
	redirectURI  string
	router       chi.Router
}

// New builds the server and its route tree.
func New(opts Options) *Server {
	s := &Server{
		client:       opts.Client,
		listener:     opts.Listener,
		adminAPIKey:  opts.AdminAPIKey,
		authorizeURL: opts.AuthorizeURL,
		clientID:     opts.ClientID,
		redirectURI:  opts.RedirectURI,
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.healthHandler)
	r.Get("/oauth/callback", s.oauthCallbackHandler)

	r.Route("/api", func(r chi.Router) {
		r.Use(httprate.LimitByIP(120, time.Minute))

		r.Get("/conversations", s.getConversationsHandler)
		r.Get("/conversations/{conversationID}/messages", s.getMessagesHandler)
		r.Put("/conversations/{conversationID}/star", s.starConversationHandler)
		r.Post("/messages", s.sendMessageHandler)
		r.Get("/contacts", s.searchContactsHandler)
		r.Get("/contacts/{contactID}", s.getContactHandler)
		r.Post("/contacts", s.createContactHandler)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(s.adminAuthMiddleware)

		r.Get("/credentials/status", s.credentialsStatusHandler)
		r.Post("/credentials", s.setCredentialsHandler)
	})

	return r
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
