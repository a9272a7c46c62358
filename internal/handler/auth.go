package handler

import (
	"net/http"

	"github.com/snake-arena/internal/domain"
)

// Signup registers an account and returns a token for it
func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	var req domain.SignupRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := h.auth.Signup(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, "signup", err)
		return
	}
	h.writeCreated(w, resp)
}

// Login exchanges credentials for a token
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req domain.LoginRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := h.auth.Login(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, "login", err)
		return
	}
	h.writeSuccess(w, resp)
}

// Logout acknowledges a logout. Tokens are stateless; the client discards
// its copy.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]string{"status": "logged_out"})
}

// Me returns the caller's profile
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	user, err := h.auth.Me(r.Context(), callerID(r))
	if err != nil {
		h.writeServiceError(w, r, "get profile", err)
		return
	}
	h.writeSuccess(w, user.Profile())
}

// UpdateAvatar replaces the caller's avatar reference
func (h *Handler) UpdateAvatar(w http.ResponseWriter, r *http.Request) {
	var req domain.AvatarRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	user, err := h.auth.UpdateAvatar(r.Context(), callerID(r), req.Avatar)
	if err != nil {
		h.writeServiceError(w, r, "update avatar", err)
		return
	}
	h.writeSuccess(w, user.Profile())
}
