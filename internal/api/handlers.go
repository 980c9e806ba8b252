package api

import (
	"log/slog"
	"net/http"

	"github.com/starford/marginalia/internal/annotations"
	"github.com/starford/marginalia/internal/apperr"
	"github.com/starford/marginalia/internal/editlock"
	"github.com/starford/marginalia/internal/models"
)

// Handler holds inspector route handlers.
type Handler struct {
	store *annotations.Store
	reg   *editlock.Registry
}

// NewHandler creates a new Handler.
func NewHandler(store *annotations.Store, reg *editlock.Registry) *Handler {
	return &Handler{store: store, reg: reg}
}

// FileListResponse wraps the annotated-file listing.
type FileListResponse struct {
	Files []models.AnnotatedFile `json:"files"`
	Total int                    `json:"total"`
}

// AnnotationsResponse wraps one source file's annotations.
type AnnotationsResponse struct {
	Project     string              `json:"project"`
	Path        string              `json:"path"`
	Annotations []models.Annotation `json:"annotations"`
}

// EditorsResponse wraps the current non-expired edit markers.
type EditorsResponse struct {
	Editors []models.EditLock `json:"editors"`
}

// ListFiles handles GET /api/files.
func (h *Handler) ListFiles(w http.ResponseWriter, r *http.Request) {
	files, err := h.store.List()
	if err != nil {
		slog.Error("list files failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, FileListResponse{Files: files, Total: len(files)})
}

// GetAnnotations handles GET /api/annotations?project=&path=.
func (h *Handler) GetAnnotations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	project := q.Get("project")
	path := q.Get("path")
	if project == "" || path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameters 'project' and 'path' are required"))
		return
	}
	anns, err := h.store.Read(project, path)
	if err != nil {
		if apperr.IsKind(err, apperr.ValidationError) {
			writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
			return
		}
		slog.Error("read annotations failed",
			slog.String("project", project), slog.String("path", path),
			slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, AnnotationsResponse{
		Project:     project,
		Path:        path,
		Annotations: anns,
	})
}

// GetEditors handles GET /api/editors.
func (h *Handler) GetEditors(w http.ResponseWriter, r *http.Request) {
	locks, err := h.reg.Editing()
	if err != nil {
		slog.Error("get editors failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, EditorsResponse{Editors: locks})
}
