package api

import (
	"net/http"
)

// CreatePanel handles POST /api/v1/panels
func (h *Handler) CreatePanel(w http.ResponseWriter, r *http.Request) {
	agent := GetAgentFromContext(r.Context())

	sub, err := readSubmission(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	chainID := r.FormValue("chain_id")
	parentPanelID := r.FormValue("parent_panel_id")

	panel, svcErr := h.comics.AppendPanel(r.Context(), agent, chainID, parentPanelID, sub)
	if svcErr != nil {
		writeServiceError(w, svcErr)
		return
	}

	writeJSON(w, http.StatusCreated, panel)
}
