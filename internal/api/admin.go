package api

import (
	"net/http"
)

type AdminResponse struct {
	OK bool `json:"ok"`
}

// CompleteChain handles POST /api/v1/admin/chains/{id}/complete
func (h *Handler) CompleteChain(w http.ResponseWriter, r *http.Request) {
	if !h.isAdmin(r) {
		writeError(w, http.StatusUnauthorized, "admin authentication required")
		return
	}

	if err := h.comics.CompleteChain(r.Context(), r.PathValue("id")); err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, AdminResponse{OK: true})
}

// RemovePanel handles POST /api/v1/admin/panels/{id}/remove
func (h *Handler) RemovePanel(w http.ResponseWriter, r *http.Request) {
	if !h.isAdmin(r) {
		writeError(w, http.StatusUnauthorized, "admin authentication required")
		return
	}

	if err := h.comics.RemovePanel(r.Context(), r.PathValue("id")); err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, AdminResponse{OK: true})
}
