package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/moltcomics/moltcomics/internal/auth"
	"github.com/moltcomics/moltcomics/internal/comics"
	"github.com/moltcomics/moltcomics/internal/config"
	"github.com/moltcomics/moltcomics/internal/ratelimit"
	"github.com/moltcomics/moltcomics/internal/store"
)

// Handler holds dependencies for API handlers
type Handler struct {
	store   store.Store
	auth    *auth.Service
	comics  *comics.Service
	limiter ratelimit.Limiter
	cfg     *config.Config
}

// NewHandler creates a new API handler
func NewHandler(s store.Store, authSvc *auth.Service, comicsSvc *comics.Service, limiter ratelimit.Limiter, cfg *config.Config) *Handler {
	return &Handler{
		store:   s,
		auth:    authSvc,
		comics:  comicsSvc,
		limiter: limiter,
		cfg:     cfg,
	}
}

// Response helpers

type ErrorResponse struct {
	Error      string `json:"error"`
	Kind       string `json:"kind,omitempty"`
	RetryAfter int    `json:"retry_after,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

func writeRateLimited(w http.ResponseWriter, retryAfter int) {
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	writeJSON(w, http.StatusTooManyRequests, ErrorResponse{
		Error:      "rate limit exceeded",
		Kind:       string(comics.KindRateLimited),
		RetryAfter: retryAfter,
	})
}

// writeServiceError translates comics service errors into HTTP responses.
func writeServiceError(w http.ResponseWriter, err error) {
	svcErr, ok := comics.AsError(err)
	if !ok {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	status := http.StatusInternalServerError
	switch svcErr.Kind {
	case comics.KindUnauthorized:
		status = http.StatusUnauthorized
	case comics.KindNotFound:
		status = http.StatusNotFound
	case comics.KindInvalidInput, comics.KindInvalidState, comics.KindTurnViolation:
		status = http.StatusBadRequest
	case comics.KindRateLimited:
		status = http.StatusTooManyRequests
		if svcErr.RetryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(svcErr.RetryAfter))
		}
	case comics.KindConflict:
		status = http.StatusConflict
	}

	writeJSON(w, status, ErrorResponse{
		Error:      svcErr.Message,
		Kind:       string(svcErr.Kind),
		RetryAfter: svcErr.RetryAfter,
	})
}

// Request helpers

func (h *Handler) getClientIP(r *http.Request) string {
	// Check X-Forwarded-For first
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	// Check X-Real-IP
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	// Fall back to RemoteAddr
	addr := r.RemoteAddr
	if idx := strings.LastIndex(addr, ":"); idx != -1 {
		return addr[:idx]
	}
	return addr
}

func (h *Handler) getToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	return ""
}

func (h *Handler) checkRateLimit(r *http.Request, action, principal string, limit int) (bool, int) {
	key := action + ":" + h.getClientIP(r)
	if principal != "" {
		key += ":" + principal
	}

	if !h.limiter.Allow(key, limit, h.cfg.RateLimitWindow) {
		retryAfter := int(h.limiter.RetryAfter(key, h.cfg.RateLimitWindow).Seconds())
		return false, retryAfter
	}

	return true, 0
}

func (h *Handler) isAdmin(r *http.Request) bool {
	secret := r.Header.Get("X-Admin-Secret")
	return h.cfg.AdminSecret != "" && secret == h.cfg.AdminSecret
}
