package api

import (
	"github.com/veland/gitatlas/internal/models"
)

// PathRequest is the request body for operations keyed by repository path.
type PathRequest struct {
	Path string `json:"path"`
}

// CreateCollectionRequest is the request body for creating a collection.
type CreateCollectionRequest struct {
	Name string `json:"name"`
}

// Repository is the full repository record in API responses (aliased
// from the domain layer).
type Repository = models.Repository

// RepositoryListResponse wraps repository listings.
type RepositoryListResponse struct {
	Repositories []Repository `json:"repositories"`
	Total        int          `json:"total"`
}

// ValidateResponse partitions stored records into valid and invalid.
type ValidateResponse struct {
	Valid   []Repository `json:"valid"`
	Invalid []string     `json:"invalid"`
}

// CleanupResponse reports how many invalid records were removed.
type CleanupResponse struct {
	Removed int `json:"removed"`
}

// ScanStartedResponse acknowledges an asynchronous scan kickoff.
type ScanStartedResponse struct {
	Status string `json:"status"`
}
