// Package models defines the domain types for gitatlas.
package models

import "time"

// Repository represents one discovered git project directory.
// Path is the unique key joining the cache, all derived indices,
// and collection membership lists.
type Repository struct {
	Name           string             `json:"name"`
	Path           string             `json:"path"`
	SizeMB         float64            `json:"size_mb"`
	FileTypes      map[string]int     `json:"file_types"`
	LastCommitDate *time.Time         `json:"last_commit_date,omitempty"`
	CurrentBranch  string             `json:"current_branch,omitempty"`
	Branches       []string           `json:"branches"`
	RemoteURL      string             `json:"remote_url,omitempty"`
	CommitCount    int                `json:"commit_count"`
	LastAnalyzed   time.Time          `json:"last_analyzed"`
	IsValid        bool               `json:"is_valid"`
	IsPinned       bool               `json:"is_pinned"`
	PinnedAt       *time.Time         `json:"pinned_at,omitempty"`
	DependencyDirs *DependencyDirInfo `json:"dependency_dirs,omitempty"`
}

// Clone returns a deep copy so cached records can be handed out
// without aliasing the maps and slices held by the cache.
func (r Repository) Clone() Repository {
	out := r
	if r.FileTypes != nil {
		out.FileTypes = make(map[string]int, len(r.FileTypes))
		for k, v := range r.FileTypes {
			out.FileTypes[k] = v
		}
	}
	if r.Branches != nil {
		out.Branches = append([]string(nil), r.Branches...)
	}
	if r.LastCommitDate != nil {
		t := *r.LastCommitDate
		out.LastCommitDate = &t
	}
	if r.PinnedAt != nil {
		t := *r.PinnedAt
		out.PinnedAt = &t
	}
	if r.DependencyDirs != nil {
		d := r.DependencyDirs.Clone()
		out.DependencyDirs = &d
	}
	return out
}

// DependencyDirInfo summarizes package-manager dependency directories
// (node_modules and friends) found under a repository.
//
// ManifestModified is the modification time of the manifest file observed
// when the summary was computed. A rescan is skipped unless the manifest's
// current mtime is strictly newer; when a rescan does run, the summary is
// replaced wholesale, never merged field-by-field.
type DependencyDirInfo struct {
	TotalSizeMB      float64   `json:"total_size_mb"`
	Count            int       `json:"count"`
	Paths            []string  `json:"paths"`
	LastScanned      time.Time `json:"last_scanned"`
	ManifestModified time.Time `json:"manifest_modified"`
}

// Clone returns a deep copy of the summary.
func (d DependencyDirInfo) Clone() DependencyDirInfo {
	out := d
	if d.Paths != nil {
		out.Paths = append([]string(nil), d.Paths...)
	}
	return out
}

// ScanRoot is a user-registered directory to rescan for repositories.
// RepositoryCount is recomputed from the cache on every write of the root,
// not maintained incrementally.
type ScanRoot struct {
	Path            string     `json:"path"`
	LastScanned     *time.Time `json:"last_scanned,omitempty"`
	RepositoryCount int        `json:"repository_count"`
}

// Collection is a user-defined named group of repositories.
// Membership references repositories by path; paths whose repository no
// longer exists are filtered out at read time (lazy deletion).
type Collection struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Color           string    `json:"color"`
	RepositoryPaths []string  `json:"repository_paths"`
	CreatedAt       time.Time `json:"created_at"`
}

// Clone returns a deep copy of the collection.
func (c Collection) Clone() Collection {
	out := c
	if c.RepositoryPaths != nil {
		out.RepositoryPaths = append([]string(nil), c.RepositoryPaths...)
	}
	return out
}

// CacheInfo is a diagnostics summary of the on-disk cache.
type CacheInfo struct {
	TotalRepositories   int       `json:"total_repositories"`
	ValidRepositories   int       `json:"valid_repositories"`
	InvalidRepositories int       `json:"invalid_repositories"`
	CacheFileSize       int64     `json:"cache_file_size"`
	LastUpdated         time.Time `json:"last_updated"`
}
