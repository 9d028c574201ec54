package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/go-chi/chi/v5"
	"github.com/veland/gitatlas/internal/apperr"
	"github.com/veland/gitatlas/internal/index"
	"github.com/veland/gitatlas/internal/repos"
)

// Handler holds API route handlers.
type Handler struct {
	svc      *repos.Service
	emit     repos.EventFunc
	scanning atomic.Bool
}

// NewHandler creates a new Handler. emit, if non-nil, receives scan and
// repository change events (typically forwarded to the SSE broker).
func NewHandler(svc *repos.Service, emit repos.EventFunc) *Handler {
	return &Handler{svc: svc, emit: emit}
}

// repoPath extracts the absolute repository path from the URL wildcard
// (everything after /api/repositories/). Repository paths are absolute
// filesystem paths, so the stripped leading slash is restored. Supports
// encoded slashes from OpenAPI clients (e.g. home%2Fdev%2Fproj).
func repoPath(r *http.Request) string {
	raw := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if raw == "" {
		return ""
	}
	if decoded, err := url.PathUnescape(raw); err == nil {
		raw = decoded
	}
	return "/" + strings.TrimPrefix(raw, "/")
}

// optFloat parses an optional float query parameter.
func optFloat(q url.Values, key string) *float64 {
	raw := q.Get(key)
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil
	}
	return &v
}

// optInt parses an optional integer query parameter.
func optInt(q url.Values, key string) *int {
	raw := q.Get(key)
	if raw == "" {
		return nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return nil
	}
	return &v
}

// ListRepositories handles GET /api/repositories.
func (h *Handler) ListRepositories(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.List()
	if err != nil {
		slog.Error("list repositories failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, RepositoryListResponse{Repositories: items, Total: len(items)})
}

// GetRepository handles GET /api/repositories/*.
func (h *Handler) GetRepository(w http.ResponseWriter, r *http.Request) {
	path := repoPath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	repo, err := h.svc.Repository(path)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		} else {
			slog.Error("get repository failed", slog.String("path", path), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	writeJSON(w, http.StatusOK, repo)
}

// DeleteRepository handles DELETE /api/repositories/*.
func (h *Handler) DeleteRepository(w http.ResponseWriter, r *http.Request) {
	path := repoPath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	if err := h.svc.Remove(path); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		} else {
			slog.Error("delete repository failed", slog.String("path", path), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Search handles GET /api/search with optional attribute filters.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := index.Query{
		NamePrefix: q.Get("name_prefix"),
		FileType:   q.Get("file_type"),
		MinSizeMB:  optFloat(q, "min_size_mb"),
		MaxSizeMB:  optFloat(q, "max_size_mb"),
		MinCommits: optInt(q, "min_commits"),
		MaxCommits: optInt(q, "max_commits"),
	}
	items, err := h.svc.Search(query)
	if err != nil {
		slog.Error("search failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, RepositoryListResponse{Repositories: items, Total: len(items)})
}

// Under handles GET /api/under?prefix=/some/dir.
func (h *Handler) Under(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("prefix")
	items, err := h.svc.Under(prefix)
	if err != nil {
		slog.Error("prefix query failed", slog.String("prefix", prefix), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, RepositoryListResponse{Repositories: items, Total: len(items)})
}

// Refresh handles POST /api/refresh. The body names a repository path;
// that repository is re-analyzed with a forced dependency-directory
// rescan.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	req, ok := decodePathBody(w, r)
	if !ok {
		return
	}
	repo, err := h.svc.Refresh(r.Context(), req.Path)
	if err != nil {
		slog.Error("refresh failed", slog.String("path", req.Path), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("refresh failed"))
		return
	}
	if h.emit != nil {
		h.emit(repos.ScanEvent{Kind: "repo.updated", Path: repo.Path, ReposFound: 1})
	}
	writeJSON(w, http.StatusOK, repo)
}

// TogglePin handles POST /api/pin.
func (h *Handler) TogglePin(w http.ResponseWriter, r *http.Request) {
	req, ok := decodePathBody(w, r)
	if !ok {
		return
	}
	repo, err := h.svc.TogglePin(req.Path)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		} else {
			slog.Error("toggle pin failed", slog.String("path", req.Path), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	writeJSON(w, http.StatusOK, repo)
}

// Pinned handles GET /api/pinned.
func (h *Handler) Pinned(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.Pinned()
	if err != nil {
		slog.Error("list pinned failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, RepositoryListResponse{Repositories: items, Total: len(items)})
}

// Scan handles POST /api/scan. The scan runs asynchronously over all
// registered roots; a second request while one is in flight gets 409.
func (h *Handler) Scan(w http.ResponseWriter, r *http.Request) {
	if !h.scanning.CompareAndSwap(false, true) {
		writeJSON(w, http.StatusConflict, errorBody("scan already in progress"))
		return
	}
	go func() {
		defer h.scanning.Store(false)
		if _, err := h.svc.ScanAll(context.Background(), h.emit); err != nil {
			slog.Error("scan failed", slog.String("error", err.Error()))
		}
	}()
	writeJSON(w, http.StatusAccepted, ScanStartedResponse{Status: "scanning"})
}

// ListScanRoots handles GET /api/scan-roots.
func (h *Handler) ListScanRoots(w http.ResponseWriter, r *http.Request) {
	roots, err := h.svc.Store().ListScanRoots()
	if err != nil {
		slog.Error("list scan roots failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"scan_roots": roots})
}

// AddScanRoot handles POST /api/scan-roots.
func (h *Handler) AddScanRoot(w http.ResponseWriter, r *http.Request) {
	req, ok := decodePathBody(w, r)
	if !ok {
		return
	}
	if err := h.svc.Store().AddScanRoot(req.Path); err != nil {
		slog.Error("add scan root failed", slog.String("path", req.Path), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	w.WriteHeader(http.StatusCreated)
}

// RemoveScanRoot handles DELETE /api/scan-roots/*.
func (h *Handler) RemoveScanRoot(w http.ResponseWriter, r *http.Request) {
	path := repoPath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	if err := h.svc.Store().RemoveScanRoot(path); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		} else {
			slog.Error("remove scan root failed", slog.String("path", path), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListCollections handles GET /api/collections.
func (h *Handler) ListCollections(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.Store().ListCollections()
	if err != nil {
		slog.Error("list collections failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"collections": items})
}

// CreateCollection handles POST /api/collections.
func (h *Handler) CreateCollection(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req CreateCollectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.Name == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("name is required"))
		return
	}
	col, err := h.svc.Store().CreateCollection(req.Name)
	if err != nil {
		if errors.Is(err, apperr.ErrDuplicateName) {
			writeJSON(w, http.StatusConflict, errorBody("collection name already exists"))
		} else {
			slog.Error("create collection failed", slog.String("name", req.Name), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	writeJSON(w, http.StatusCreated, col)
}

// DeleteCollection handles DELETE /api/collections/{id}.
func (h *Handler) DeleteCollection(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.svc.Store().DeleteCollection(id); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		} else {
			slog.Error("delete collection failed", slog.String("id", id), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CollectionRepositories handles GET /api/collections/{id}/repositories.
func (h *Handler) CollectionRepositories(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	items, err := h.svc.Store().CollectionRepositories(id)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		} else {
			slog.Error("collection repositories failed", slog.String("id", id), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	writeJSON(w, http.StatusOK, RepositoryListResponse{Repositories: items, Total: len(items)})
}

// AddToCollection handles POST /api/collections/{id}/repositories.
func (h *Handler) AddToCollection(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	req, ok := decodePathBody(w, r)
	if !ok {
		return
	}
	if err := h.svc.Store().AddToCollection(id, req.Path); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		} else {
			slog.Error("add to collection failed", slog.String("id", id), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RemoveFromCollection handles DELETE /api/collections/{id}/repositories?path=.
func (h *Handler) RemoveFromCollection(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	path := r.URL.Query().Get("path")
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	if err := h.svc.Store().RemoveFromCollection(id, path); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		} else {
			slog.Error("remove from collection failed", slog.String("id", id), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CacheInfo handles GET /api/cache.
func (h *Handler) CacheInfo(w http.ResponseWriter, r *http.Request) {
	info, err := h.svc.Store().CacheInfo()
	if err != nil {
		slog.Error("cache info failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// Validate handles GET /api/validate.
func (h *Handler) Validate(w http.ResponseWriter, r *http.Request) {
	valid, invalid, err := h.svc.Validate()
	if err != nil {
		slog.Error("validate failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	if invalid == nil {
		invalid = []string{}
	}
	writeJSON(w, http.StatusOK, ValidateResponse{Valid: valid, Invalid: invalid})
}

// Cleanup handles POST /api/cache/cleanup.
func (h *Handler) Cleanup(w http.ResponseWriter, r *http.Request) {
	removed, err := h.svc.Cleanup()
	if err != nil {
		slog.Error("cleanup failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, CleanupResponse{Removed: removed})
}

// ClearCache handles DELETE /api/cache.
func (h *Handler) ClearCache(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.ClearCache(); err != nil {
		slog.Error("clear cache failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// decodePathBody decodes a PathRequest body, writing a 400 on failure.
func decodePathBody(w http.ResponseWriter, r *http.Request) (PathRequest, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req PathRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return PathRequest{}, false
	}
	if req.Path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return PathRequest{}, false
	}
	return req, true
}
