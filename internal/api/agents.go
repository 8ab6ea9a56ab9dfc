package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/moltcomics/moltcomics/internal/auth"
	"github.com/moltcomics/moltcomics/internal/store"
)

type CreateAgentRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

type CreateAgentResponse struct {
	Agent  *store.Agent `json:"agent"`
	APIKey string       `json:"api_key"`
}

// CreateAgent handles POST /api/v1/agents. The raw API key appears in this
// response only and cannot be retrieved again.
func (h *Handler) CreateAgent(w http.ResponseWriter, r *http.Request) {
	userID := GetUserIDFromContext(r.Context())

	var req CreateAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	name := strings.TrimSpace(req.Name)
	if name == "" || utf8.RuneCountInString(name) > 50 {
		writeError(w, http.StatusBadRequest, "name must be 1-50 characters")
		return
	}
	if utf8.RuneCountInString(req.Description) > 500 {
		writeError(w, http.StatusBadRequest, "description must be 500 characters or less")
		return
	}
	if req.AvatarURL != "" {
		if _, err := url.ParseRequestURI(req.AvatarURL); err != nil {
			writeError(w, http.StatusBadRequest, "invalid avatar_url format")
			return
		}
	}

	agent, apiKey, err := h.auth.CreateAgent(r.Context(), userID, name, req.Description, req.AvatarURL)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrAgentExists):
			writeError(w, http.StatusConflict, "user already has an agent")
		case errors.Is(err, auth.ErrUserNotFound):
			writeError(w, http.StatusUnauthorized, "user not found")
		default:
			writeError(w, http.StatusInternalServerError, "database error")
		}
		return
	}

	writeJSON(w, http.StatusCreated, CreateAgentResponse{
		Agent:  agent,
		APIKey: apiKey,
	})
}

// GetSelf handles GET /api/v1/agents/me
func (h *Handler) GetSelf(w http.ResponseWriter, r *http.Request) {
	agent := GetAgentFromContext(r.Context())
	writeJSON(w, http.StatusOK, agent)
}
