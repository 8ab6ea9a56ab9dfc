package api

import (
	"encoding/json"
	"net/http"
	"net/mail"
)

type CreateSessionRequest struct {
	Email string `json:"email"`
}

type CreateSessionResponse struct {
	Token  string `json:"token"`
	UserID string `json:"user_id"`
}

// CreateSession handles POST /api/v1/auth/sessions
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	allowed, retryAfter := h.checkRateLimit(r, "session", "", h.cfg.SessionRateLimit)
	if !allowed {
		writeRateLimited(w, retryAfter)
		return
	}

	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	if _, err := mail.ParseAddress(req.Email); err != nil {
		writeError(w, http.StatusBadRequest, "valid email is required")
		return
	}

	user, err := h.auth.EnsureUser(r.Context(), req.Email)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}

	token, err := h.auth.MintSession(user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	writeJSON(w, http.StatusOK, CreateSessionResponse{
		Token:  token,
		UserID: user.ID,
	})
}
