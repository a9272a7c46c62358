package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/snake-arena/internal/domain"
)

func projections(sessions []domain.LiveSession) []domain.LivePlayer {
	out := make([]domain.LivePlayer, len(sessions))
	for i := range sessions {
		out[i] = sessions[i].Projection()
	}
	return out
}

// ListLivePlayers returns sessions with the requested status, playing by
// default
func (h *Handler) ListLivePlayers(w http.ResponseWriter, r *http.Request) {
	status := domain.SessionStatus(r.URL.Query().Get("status"))

	sessions, err := h.live.ListSessions(r.Context(), status)
	if err != nil {
		h.writeServiceError(w, r, "list live sessions", err)
		return
	}
	h.writeSuccess(w, projections(sessions))
}

// GetLivePlayer returns one session
func (h *Handler) GetLivePlayer(w http.ResponseWriter, r *http.Request) {
	session, err := h.live.GetSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		h.writeServiceError(w, r, "get live session", err)
		return
	}
	h.writeSuccess(w, session.Projection())
}

// StartSession starts a live session for the caller, ending any session
// they were still playing
func (h *Handler) StartSession(w http.ResponseWriter, r *http.Request) {
	var req domain.StartSessionRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	session, err := h.live.StartSession(r.Context(), callerID(r), req.Mode)
	if err != nil {
		h.writeServiceError(w, r, "start session", err)
		return
	}
	h.writeCreated(w, session.Projection())
}

// UpdateSession stores the owner's latest score and game state
func (h *Handler) UpdateSession(w http.ResponseWriter, r *http.Request) {
	var update domain.SessionUpdate
	if err := decode(r, &update); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	h.ownerAction(w, r, "update session", func(ctx context.Context, sessionID string) (*domain.LiveSession, error) {
		return h.live.UpdateSession(ctx, sessionID, update)
	})
}

// EndSession ends the owner's session
func (h *Handler) EndSession(w http.ResponseWriter, r *http.Request) {
	h.ownerAction(w, r, "end session", h.live.EndSession)
}

func (h *Handler) ownerAction(
	w http.ResponseWriter,
	r *http.Request,
	op string,
	action func(ctx context.Context, sessionID string) (*domain.LiveSession, error),
) {
	sessionID := chi.URLParam(r, "sessionID")
	if err := h.live.AuthorizeOwner(r.Context(), sessionID, callerID(r)); err != nil {
		h.writeServiceError(w, r, op, err)
		return
	}

	session, err := action(r.Context(), sessionID)
	if err != nil {
		h.writeServiceError(w, r, op, err)
		return
	}
	h.writeSuccess(w, session.Projection())
}

// JoinSession counts a spectator joining
func (h *Handler) JoinSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.live.IncrementViewers(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		h.writeServiceError(w, r, "join session", err)
		return
	}
	h.writeSuccess(w, session.Projection())
}

// LeaveSession counts a spectator leaving
func (h *Handler) LeaveSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.live.DecrementViewers(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		h.writeServiceError(w, r, "leave session", err)
		return
	}
	h.writeSuccess(w, session.Projection())
}
