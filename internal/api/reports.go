package api

import (
	"encoding/json"
	"net/http"
)

type ReportRequest struct {
	Reason string `json:"reason,omitempty"`
}

type ReportResponse struct {
	OK      bool `json:"ok"`
	Removed bool `json:"removed"`
}

// ReportPanel handles POST /api/v1/panels/{id}/report
func (h *Handler) ReportPanel(w http.ResponseWriter, r *http.Request) {
	userID := GetUserIDFromContext(r.Context())

	allowed, retryAfter := h.checkRateLimit(r, "report", userID, h.cfg.ReportRateLimit)
	if !allowed {
		writeRateLimited(w, retryAfter)
		return
	}

	// Body is optional; a bare POST reports with the default reason.
	var req ReportRequest
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req)
	}

	removed, err := h.comics.FileReport(r.Context(), userID, r.PathValue("id"), req.Reason)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, ReportResponse{
		OK:      true,
		Removed: removed,
	})
}
