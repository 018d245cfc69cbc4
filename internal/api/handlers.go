// Package api exposes the edit pipeline over HTTP using chi.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/sitemend/sitemend/internal/pipeline"
)

const maxRequestBytes = 10 << 20

// Handler holds API route handlers.
type Handler struct {
	svc *pipeline.Service
	log *slog.Logger
}

func NewHandler(svc *pipeline.Service, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, log: log}
}

type submitRequest struct {
	UserID    string            `json:"userId"`
	Prompt    string            `json:"prompt"`
	HTML      string            `json:"html"`
	AssetURLs map[string]string `json:"assetUrls"`
}

func (r submitRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.UserID, validation.Required),
		validation.Field(&r.Prompt, validation.Required),
	)
}

type reindexRequest struct {
	HTML string `json:"html"`
}

func (r reindexRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.HTML, validation.Required),
	)
}

func decode(w http.ResponseWriter, r *http.Request, v interface{ Validate() error }) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return false
	}
	if err := v.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return false
	}
	return true
}

// SubmitEdit handles POST /api/projects/{projectID}/edits.
func (h *Handler) SubmitEdit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := h.svc.SubmitEdit(r.Context(), pipeline.SubmitRequest{
		ProjectID: chi.URLParam(r, "projectID"),
		UserID:    req.UserID,
		Prompt:    req.Prompt,
		HTML:      req.HTML,
		AssetURLs: req.AssetURLs,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	// Non-success results (clarification, generation or validation
	// failure) are structured outcomes, not transport errors.
	status := http.StatusOK
	if !res.Success && !res.NeedsClarification {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, res)
}

// ApplyEdit handles POST /api/projects/{projectID}/edits/{editID}/apply.
func (h *Handler) ApplyEdit(w http.ResponseWriter, r *http.Request) {
	err := h.svc.ApplyEdit(r.Context(), chi.URLParam(r, "projectID"), chi.URLParam(r, "editID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// RevertEdit handles POST /api/projects/{projectID}/edits/{editID}/revert.
func (h *Handler) RevertEdit(w http.ResponseWriter, r *http.Request) {
	err := h.svc.RevertEdit(r.Context(), chi.URLParam(r, "projectID"), chi.URLParam(r, "editID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// History handles GET /api/projects/{projectID}/edits.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	edits, err := h.svc.History(r.Context(), chi.URLParam(r, "projectID"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "edits": edits})
}

// Reindex handles POST /api/projects/{projectID}/reindex.
func (h *Handler) Reindex(w http.ResponseWriter, r *http.Request) {
	var req reindexRequest
	if !decode(w, r, &req) {
		return
	}
	idx, err := h.svc.Reindex(r.Context(), chi.URLParam(r, "projectID"), req.HTML)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"index": map[string]any{
			"projectId":     idx.ProjectID,
			"sections":      idx.SectionNames(),
			"styleSystem":   idx.StyleSystem,
			"lastIndexedAt": idx.LastIndexedAt,
		},
	})
}

// Metrics handles GET /api/metrics.
func (h *Handler) Metrics(w http.ResponseWriter, r *http.Request) {
	m, err := h.svc.Metrics(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// Errors handles GET /api/errors.
func (h *Handler) Errors(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	logs, err := h.svc.ErrorLogs(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "errors": logs})
}
