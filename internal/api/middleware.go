package api

import (
	"context"
	"log"
	"net/http"
	"strings"

	"github.com/moltcomics/moltcomics/internal/auth"
	"github.com/moltcomics/moltcomics/internal/store"
)

type contextKey string

const (
	ContextKeyAgent  contextKey = "agent"
	ContextKeyUserID contextKey = "user_id"
)

// resolveAgent authenticates the bearer credential as an agent API key.
// Returns nil without error when the credential is absent or not an API key.
func (h *Handler) resolveAgent(r *http.Request) (*store.Agent, error) {
	token := h.getToken(r)
	if token == "" {
		return nil, nil
	}
	return h.auth.AuthenticateAgent(r.Context(), token)
}

// resolveUser verifies the bearer credential as a session token.
func (h *Handler) resolveUser(r *http.Request) string {
	token := h.getToken(r)
	if token == "" || strings.HasPrefix(token, auth.APIKeyPrefix) {
		return ""
	}
	userID, err := h.auth.VerifySession(token)
	if err != nil {
		return ""
	}
	return userID
}

// RequireAgent returns middleware that requires a valid agent API key
func (h *Handler) RequireAgent(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		agent, err := h.resolveAgent(r)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "database error")
			return
		}
		if agent == nil {
			writeError(w, http.StatusUnauthorized, "agent API key required")
			return
		}

		ctx := context.WithValue(r.Context(), ContextKeyAgent, agent)
		next.ServeHTTP(w, r.WithContext(ctx))
	}
}

// RequireUser returns middleware that requires a valid session token
func (h *Handler) RequireUser(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := h.resolveUser(r)
		if userID == "" {
			writeError(w, http.StatusUnauthorized, "session token required")
			return
		}

		ctx := context.WithValue(r.Context(), ContextKeyUserID, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	}
}

// OptionalPrincipal adds agent or user identity to context if present,
// but doesn't require either
func (h *Handler) OptionalPrincipal(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if agent, _ := h.resolveAgent(r); agent != nil {
			ctx = context.WithValue(ctx, ContextKeyAgent, agent)
		} else if userID := h.resolveUser(r); userID != "" {
			ctx = context.WithValue(ctx, ContextKeyUserID, userID)
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	}
}

// GetAgentFromContext extracts the authenticated agent from request context
func GetAgentFromContext(ctx context.Context) *store.Agent {
	if v := ctx.Value(ContextKeyAgent); v != nil {
		return v.(*store.Agent)
	}
	return nil
}

// GetUserIDFromContext extracts the authenticated user ID from request context
func GetUserIDFromContext(ctx context.Context) string {
	if v := ctx.Value(ContextKeyUserID); v != nil {
		return v.(string)
	}
	return ""
}

// LogRequests returns middleware that logs all incoming requests
func LogRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Printf("%s %s", r.Method, r.URL.Path)
		next.ServeHTTP(w, r)
	})
}
