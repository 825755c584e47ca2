package handler

import (
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"bubbleboard/internal/board"
	"bubbleboard/internal/config"
	"bubbleboard/internal/middleware"
	"bubbleboard/internal/persist"
)

// AuditLog is the subset of persist.AuditLog the handlers use.
type AuditLog interface {
	AppendPublic(line string)
	EmailPath() string
}

// Handler holds application dependencies
type Handler struct {
	Board   *board.Board
	Clients interface{ Count() int }
	Audit   AuditLog
	Config  config.Config
	Logger  zerolog.Logger

	admin *adminSecret
}

// New creates a new Handler with the given dependencies
func New(b *board.Board, clients interface{ Count() int }, audit AuditLog, cfg config.Config, logger zerolog.Logger) (*Handler, error) {
	secret, err := newAdminSecret(cfg.AdminPassword, cfg.AdminPasswordHash)
	if err != nil {
		return nil, err
	}
	if !secret.configured() {
		logger.Warn().Msg("no admin password configured, admin endpoints will deny every request")
	}
	return &Handler{
		Board:   b,
		Clients: clients,
		Audit:   audit,
		Config:  cfg,
		Logger:  logger.With().Str("component", "handler").Logger(),
		admin:   secret,
	}, nil
}

// SetupRouter configures and returns the HTTP router
func (h *Handler) SetupRouter() *mux.Router {
	r := mux.NewRouter()
	r.Use(chimw.RequestID, chimw.Recoverer, middleware.Logger(h.Logger), middleware.Metrics)

	// 管理者 API
	r.HandleFunc("/api/admin-auth", h.AdminAuth).Methods("POST")
	r.HandleFunc("/api/admin/emails", h.AdminEmails).Methods("POST")

	// WebSocket
	r.HandleFunc("/ws", h.HandleWebSocket).Methods("GET")

	r.HandleFunc("/health", h.Health).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	if h.Config.StaticDir != "" {
		r.PathPrefix("/").Handler(http.FileServer(http.Dir(h.Config.StaticDir))).Methods("GET", "HEAD")
	}

	return r
}

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"messages": h.Board.Len(),
		"clients":  h.Clients.Count(),
	})
}

var _ AuditLog = (*persist.AuditLog)(nil)
