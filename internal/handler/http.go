// Package handler is the HTTP facade over the ranking engine, the live
// session registry and the identity provider.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/snake-arena/internal/auth"
	"github.com/snake-arena/internal/domain"
	"github.com/snake-arena/internal/service"
	"github.com/snake-arena/internal/websocket"
)

// Pinger reports whether the Record Store is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// Dependencies are the services the HTTP facade routes to
type Dependencies struct {
	Auth        *service.AuthService
	Leaderboard *service.LeaderboardService
	Live        *service.LiveService
	Hub         *websocket.Hub
	// Store is pinged by /ready. Nil means always ready.
	Store        Pinger
	StoreTimeout time.Duration
}

// Handler provides HTTP handlers for the arena API
type Handler struct {
	auth         *service.AuthService
	leaderboard  *service.LeaderboardService
	live         *service.LiveService
	hub          *websocket.Hub
	store        Pinger
	storeTimeout time.Duration
	logger       *slog.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(deps Dependencies, logger *slog.Logger) *Handler {
	return &Handler{
		auth:         deps.Auth,
		leaderboard:  deps.Leaderboard,
		live:         deps.Live,
		hub:          deps.Hub,
		store:        deps.Store,
		storeTimeout: deps.StoreTimeout,
		logger:       logger,
	}
}

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Router creates and configures the HTTP router
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(corsMiddleware)

	// Health check
	r.Get("/health", h.HealthCheck)
	r.Get("/ready", h.ReadyCheck)

	// WebSocket endpoint
	r.Get("/ws", h.HandleWebSocket)
	r.Get("/ws/stats", h.GetWebSocketStats)

	requireAuth := auth.RequireAuth(h.auth.ResolveUser, h.rejectUnauthorized)

	r.Group(func(r chi.Router) {
		if h.storeTimeout > 0 {
			r.Use(middleware.Timeout(h.storeTimeout))
		}

		r.Route("/auth", func(r chi.Router) {
			r.Post("/signup", h.Signup)
			r.Post("/login", h.Login)
			r.Post("/logout", h.Logout)

			r.With(requireAuth).Get("/me", h.Me)
			r.With(requireAuth).Put("/me/avatar", h.UpdateAvatar)
		})

		r.Route("/leaderboard", func(r chi.Router) {
			r.Get("/", h.GetLeaderboard)
			r.With(requireAuth).Post("/submit", h.SubmitScore)
			r.With(requireAuth).Get("/best", h.GetBestScore)
		})

		r.Route("/live", func(r chi.Router) {
			r.Get("/players", h.ListLivePlayers)
			r.Get("/players/{sessionID}", h.GetLivePlayer)

			r.Route("/sessions", func(r chi.Router) {
				r.With(requireAuth).Post("/", h.StartSession)

				r.Route("/{sessionID}", func(r chi.Router) {
					r.With(requireAuth).Put("/", h.UpdateSession)
					r.With(requireAuth).Post("/end", h.EndSession)
					r.Post("/viewers", h.JoinSession)
					r.Delete("/viewers", h.LeaveSession)
				})
			})
		})
	})

	return r
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Request-ID")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeSuccess writes a successful JSON response
func (h *Handler) writeSuccess(w http.ResponseWriter, data interface{}) {
	h.writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    data,
	})
}

// writeCreated writes a 201 JSON response
func (h *Handler) writeCreated(w http.ResponseWriter, data interface{}) {
	h.writeJSON(w, http.StatusCreated, APIResponse{
		Success: true,
		Data:    data,
	})
}

// writeError writes an error JSON response
func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	h.writeJSON(w, status, APIResponse{
		Success: false,
		Error:   err.Error(),
	})
}

// writeServiceError maps a domain error category to its status. Anything
// uncategorized is logged and hidden behind a generic message.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(op+" failed",
			"request_id", middleware.GetReqID(r.Context()),
			"error", err,
		)
	}
	switch status {
	case http.StatusServiceUnavailable:
		h.writeError(w, status, domain.ErrUnavailable)
	case http.StatusInternalServerError:
		h.writeError(w, status, domain.ErrInternalError)
	default:
		h.writeError(w, status, err)
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrUnavailable), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) rejectUnauthorized(w http.ResponseWriter, r *http.Request, err error) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	h.writeError(w, http.StatusUnauthorized, err)
}

// decode reads a JSON request body into v
func decode(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return domain.ErrInvalidRequest
	}
	return nil
}

// callerID returns the user authenticated by RequireAuth
func callerID(r *http.Request) string {
	id, _ := auth.UserIDFromContext(r.Context())
	return id
}

// HandleWebSocket handles WebSocket upgrade requests
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.ServeWs(h.hub, h.logger, w, r)
}

// GetWebSocketStats returns WebSocket connection statistics
func (h *Handler) GetWebSocketStats(w http.ResponseWriter, r *http.Request) {
	subscribers := make(map[string]int, len(domain.Modes)+1)
	for _, mode := range domain.Modes {
		subscribers[string(mode)] = h.hub.GetSubscriberCount(string(mode))
	}
	subscribers["all"] = h.hub.GetSubscriberCount("")

	h.writeSuccess(w, map[string]interface{}{
		"total_connections": h.hub.GetTotalConnections(),
		"subscribers":       subscribers,
	})
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]string{"status": "healthy"})
}

// ReadyCheck reports ready once the Record Store answers
func (h *Handler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	if h.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), h.readyTimeout())
		defer cancel()
		if err := h.store.Ping(ctx); err != nil {
			h.logger.Warn("store not ready", "error", err)
			h.writeError(w, http.StatusServiceUnavailable, domain.ErrUnavailable)
			return
		}
	}
	h.writeSuccess(w, map[string]string{"status": "ready"})
}

func (h *Handler) readyTimeout() time.Duration {
	if h.storeTimeout > 0 {
		return h.storeTimeout
	}
	return 3 * time.Second
}
