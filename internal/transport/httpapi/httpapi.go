// Package httpapi provides a reference implementation of the chat HTTP
// surface described in spec.md §6, on top of go-chi/chi. It is a thin
// composition root over internal/intent and internal/adapters/chatrepo:
// deleting it would not change any core component's behavior, only how the
// coordinator is reached over the wire.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"

	"github.com/brendan721/flipsync-agents/internal/coorderrors"
	"github.com/brendan721/flipsync-agents/internal/intent"
)

// defaultUserID is used when no X-User-ID header is present; the HTTP/auth
// middleware that would populate a real identity is out of scope (spec.md §1).
const defaultUserID = "anonymous"

// Server wires the chat HTTP surface over a chat repository and the intent
// orchestrator.
type Server struct {
	repo      intent.ChatRepository
	orch      *intent.Orchestrator
	validate  *validator.Validate
	logger    *slog.Logger
	router    chi.Router
}

// NewServer constructs the HTTP surface. allowedOrigins configures CORS
// (spec.md §6's OPTIONS/CORS requirement) via go-chi/cors.
func NewServer(repo intent.ChatRepository, orch *intent.Orchestrator, logger *slog.Logger, allowedOrigins []string) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	s := &Server{
		repo:     repo,
		orch:     orch,
		validate: validator.New(),
		logger:   logger,
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-User-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Route("/api/v1/chat", func(r chi.Router) {
		r.Get("/", s.handleServiceDescription)
		r.Route("/conversations", func(r chi.Router) {
			r.Post("/", s.handleCreateConversation)
			r.Get("/", s.handleListConversations)
			r.Route("/{conversationID}", func(r chi.Router) {
				r.Get("/", s.handleGetConversation)
				r.Get("/messages", s.handleListMessages)
				r.Post("/messages", s.handlePostMessage)
			})
		})
	})

	s.router = r
	return s
}

// Router returns the composed chi.Router, ready to be passed to
// http.ListenAndServe or mounted under another router.
func (s *Server) Router() chi.Router { return s.router }

// serviceDescription is the payload returned from GET /api/v1/chat.
type serviceDescription struct {
	Service     string   `json:"service"`
	Version     string   `json:"version"`
	Description string   `json:"description"`
	Endpoints   []string `json:"endpoints"`
}

func (s *Server) handleServiceDescription(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, serviceDescription{
		Service:     "flipsync-chat",
		Version:     "1.0.0",
		Description: "Multi-agent e-commerce operations chat surface",
		Endpoints: []string{
			"POST /api/v1/chat/conversations",
			"GET /api/v1/chat/conversations",
			"GET /api/v1/chat/conversations/{id}",
			"GET /api/v1/chat/conversations/{id}/messages",
			"POST /api/v1/chat/conversations/{id}/messages",
		},
	})
}

func userIDFrom(r *http.Request) string {
	if id := r.Header.Get("X-User-ID"); id != "" {
		return id
	}
	return defaultUserID
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError maps the §7 error taxonomy onto HTTP status codes.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	status := http.StatusInternalServerError
	switch {
	case coorderrors.IsKind(err, coorderrors.KindValidation):
		status = http.StatusUnprocessableEntity
	case coorderrors.IsKind(err, coorderrors.KindAuthentication):
		status = http.StatusUnauthorized
	case coorderrors.IsKind(err, coorderrors.KindAuthorization):
		status = http.StatusForbidden
	case coorderrors.IsKind(err, coorderrors.KindNotFound):
		status = http.StatusNotFound
	case coorderrors.IsKind(err, coorderrors.KindMarketplace):
		status = http.StatusBadGateway
	case coorderrors.IsKind(err, coorderrors.KindRateLimit):
		status = http.StatusTooManyRequests
	case coorderrors.IsKind(err, coorderrors.KindCoordination):
		status = http.StatusInternalServerError
	}
	logger.Error("http request failed", "error", err, "status", status)
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
