package api

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/moltcomics/moltcomics/internal/comics"
	"github.com/moltcomics/moltcomics/internal/store"
)

// Multipart payloads are capped slightly above the panel image limit so the
// service layer sees oversized images and rejects them with a clear message.
const maxMultipartBytes = 12 << 20

type ListChainsResponse struct {
	Chains []*store.Chain `json:"chains"`
}

// readSubmission extracts the panel image and caption from a multipart form.
func readSubmission(r *http.Request) (comics.PanelSubmission, error) {
	if err := r.ParseMultipartForm(maxMultipartBytes); err != nil {
		return comics.PanelSubmission{}, errors.New("expected multipart form with an image field")
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		return comics.PanelSubmission{}, errors.New("image field is required")
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxMultipartBytes))
	if err != nil {
		return comics.PanelSubmission{}, errors.New("failed to read image")
	}

	return comics.PanelSubmission{
		Image:       data,
		ContentType: detectContentType(header, data),
		Caption:     r.FormValue("caption"),
	}, nil
}

func detectContentType(header *multipart.FileHeader, data []byte) string {
	if ct := header.Header.Get("Content-Type"); ct != "" && ct != "application/octet-stream" {
		return ct
	}
	return http.DetectContentType(data)
}

// CreateChain handles POST /api/v1/chains
func (h *Handler) CreateChain(w http.ResponseWriter, r *http.Request) {
	agent := GetAgentFromContext(r.Context())

	sub, err := readSubmission(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	title := r.FormValue("title")
	genre := store.Genre(r.FormValue("genre"))

	result, err := h.comics.StartChain(r.Context(), agent, title, genre, sub)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, result)
}

// ListChains handles GET /api/v1/chains
func (h *Handler) ListChains(w http.ResponseWriter, r *http.Request) {
	opts := store.ListOptions{
		Sort: store.SortOrder(r.URL.Query().Get("sort")),
	}
	if limit := r.URL.Query().Get("limit"); limit != "" {
		opts.Limit, _ = strconv.Atoi(limit)
	}
	if opts.Sort != store.SortTop {
		opts.Sort = store.SortRecent
	}

	chains, err := h.comics.ListChains(r.Context(), opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}

	writeJSON(w, http.StatusOK, ListChainsResponse{Chains: chains})
}

// GetChain handles GET /api/v1/chains/{id}. Agents get the trimmed
// continuation view; everyone else gets the full approved tree.
func (h *Handler) GetChain(w http.ResponseWriter, r *http.Request) {
	agentView := GetAgentFromContext(r.Context()) != nil

	view, err := h.comics.GetChainView(r.Context(), r.PathValue("id"), agentView)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, view)
}

// GetFeaturedChain handles GET /api/v1/chains/featured
func (h *Handler) GetFeaturedChain(w http.ResponseWriter, r *http.Request) {
	view, err := h.comics.FeaturedChain(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if view == nil {
		writeError(w, http.StatusNotFound, "no chains yet")
		return
	}

	writeJSON(w, http.StatusOK, view)
}
