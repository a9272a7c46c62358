package handler

import (
	"net/http"
	"strconv"

	"github.com/snake-arena/internal/domain"
)

// scoreRequest is the body of a submission. The user comes from the token.
type scoreRequest struct {
	Score int64           `json:"score"`
	Mode  domain.GameMode `json:"mode"`
}

// GetLeaderboard returns the top entries, optionally for one mode
func (h *Handler) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	mode := domain.GameMode(r.URL.Query().Get("mode"))

	limit := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			limit = l
		}
	}

	entries, err := h.leaderboard.GetLeaderboard(r.Context(), mode, limit)
	if err != nil {
		h.writeServiceError(w, r, "get leaderboard", err)
		return
	}
	h.writeSuccess(w, entries)
}

// SubmitScore records a finished game for the caller
func (h *Handler) SubmitScore(w http.ResponseWriter, r *http.Request) {
	var req scoreRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	entry, err := h.leaderboard.SubmitScore(r.Context(), domain.ScoreSubmission{
		UserID: callerID(r),
		Score:  req.Score,
		Mode:   req.Mode,
	})
	if err != nil {
		h.writeServiceError(w, r, "submit score", err)
		return
	}
	h.writeCreated(w, entry)
}

// GetBestScore returns the caller's best score in a mode. A caller with no
// games in the mode gets a null score.
func (h *Handler) GetBestScore(w http.ResponseWriter, r *http.Request) {
	mode := domain.GameMode(r.URL.Query().Get("mode"))

	best, ok, err := h.leaderboard.GetUserBestScore(r.Context(), callerID(r), mode)
	if err != nil {
		h.writeServiceError(w, r, "get best score", err)
		return
	}

	resp := map[string]interface{}{"mode": mode, "score": nil}
	if ok {
		resp["score"] = best
	}
	h.writeSuccess(w, resp)
}
