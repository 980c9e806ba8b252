package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/marginalia/internal/annotations"
	"github.com/starford/marginalia/internal/editlock"
)

// NewRouter creates a chi router with all inspector routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(store *annotations.Store, reg *editlock.Registry, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(store, reg)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	r.Get("/files", h.ListFiles)
	r.Get("/annotations", h.GetAnnotations)
	r.Get("/editors", h.GetEditors)

	// SSE endpoint (protected by the same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
