package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/veland/gitatlas/internal/repos"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// emit, if non-nil, receives scan and repository change events.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *repos.Service, authEnabled bool, token string, emit repos.EventFunc, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc, emit)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Repositories.
	r.Get("/repositories", h.ListRepositories)
	r.Get("/repositories/*", h.GetRepository)
	r.Delete("/repositories/*", h.DeleteRepository)

	// Queries over the derived indices.
	r.Get("/search", h.Search)
	r.Get("/under", h.Under)

	// Annotations and per-repo actions.
	r.Post("/pin", h.TogglePin)
	r.Get("/pinned", h.Pinned)
	r.Post("/refresh", h.Refresh)

	// Scanning.
	r.Post("/scan", h.Scan)
	r.Get("/scan-roots", h.ListScanRoots)
	r.Post("/scan-roots", h.AddScanRoot)
	r.Delete("/scan-roots/*", h.RemoveScanRoot)

	// Collections.
	r.Get("/collections", h.ListCollections)
	r.Post("/collections", h.CreateCollection)
	r.Delete("/collections/{id}", h.DeleteCollection)
	r.Get("/collections/{id}/repositories", h.CollectionRepositories)
	r.Post("/collections/{id}/repositories", h.AddToCollection)
	r.Delete("/collections/{id}/repositories", h.RemoveFromCollection)

	// Cache maintenance.
	r.Get("/cache", h.CacheInfo)
	r.Delete("/cache", h.ClearCache)
	r.Post("/cache/cleanup", h.Cleanup)
	r.Get("/validate", h.Validate)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
