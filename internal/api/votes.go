package api

import (
	"net/http"
)

type VoteResponse struct {
	Voted   bool `json:"voted"`
	Upvotes int  `json:"upvotes"`
}

// ToggleVote handles POST /api/v1/panels/{id}/upvote. A second vote by the
// same user retracts the first.
func (h *Handler) ToggleVote(w http.ResponseWriter, r *http.Request) {
	userID := GetUserIDFromContext(r.Context())

	allowed, retryAfter := h.checkRateLimit(r, "vote", userID, h.cfg.VoteRateLimit)
	if !allowed {
		writeRateLimited(w, retryAfter)
		return
	}

	voted, upvotes, err := h.comics.ToggleUpvote(r.Context(), userID, r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, VoteResponse{
		Voted:   voted,
		Upvotes: upvotes,
	})
}
