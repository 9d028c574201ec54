package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/veland/gitatlas/internal/apperr"
	"github.com/veland/gitatlas/internal/models"
)

// SchemaVersion is the current on-disk cache schema.
const SchemaVersion = "2.0"

// schemaV1 is the legacy schema: repositories only, no scan roots,
// no collections, no pin state, version carried in "cache_version".
const schemaV1 = "1.0"

// DefaultCollectionColor is assigned to collections whose color field is
// absent or empty, both during migration and on every load (self-healing).
const DefaultCollectionColor = "#6366f1"

// document is the persisted cache root. Every store operation round-trips
// the whole document: load, mutate, save.
type document struct {
	Repositories  map[string]models.Repository `json:"repositories"`
	ScanRoots     map[string]models.ScanRoot   `json:"scan_roots"`
	Collections   map[string]models.Collection `json:"collections"`
	LastUpdated   time.Time                    `json:"last_updated"`
	SchemaVersion string                       `json:"schema_version"`
}

func newDocument() *document {
	return &document{
		Repositories:  make(map[string]models.Repository),
		ScanRoots:     make(map[string]models.ScanRoot),
		Collections:   make(map[string]models.Collection),
		LastUpdated:   time.Now().UTC(),
		SchemaVersion: SchemaVersion,
	}
}

// documentV1 mirrors the legacy layout so old cache files keep parsing.
type documentV1 struct {
	Repositories map[string]repositoryV1 `json:"repositories"`
	LastUpdated  time.Time               `json:"last_updated"`
	CacheVersion string                  `json:"cache_version"`
}

// repositoryV1 predates pinning and dependency-directory summaries.
type repositoryV1 struct {
	Name           string         `json:"name"`
	Path           string         `json:"path"`
	SizeMB         float64        `json:"size_mb"`
	FileTypes      map[string]int `json:"file_types"`
	LastCommitDate *time.Time     `json:"last_commit_date,omitempty"`
	CurrentBranch  string         `json:"current_branch,omitempty"`
	Branches       []string       `json:"branches"`
	RemoteURL      string         `json:"remote_url,omitempty"`
	CommitCount    int            `json:"commit_count"`
	LastAnalyzed   time.Time      `json:"last_analyzed"`
	IsValid        bool           `json:"is_valid"`
}

// decodeDocument parses raw cache bytes, trying the current schema first
// and then each known prior schema. The bool result reports whether the
// document was upgraded or healed and must be re-saved so that migration
// runs at most once per document.
func decodeDocument(data []byte) (*document, bool, error) {
	var cur document
	if err := json.Unmarshal(data, &cur); err == nil && cur.SchemaVersion == SchemaVersion {
		ensureMaps(&cur)
		healed := healCollections(&cur)
		return &cur, healed, nil
	}

	var old documentV1
	if err := json.Unmarshal(data, &old); err == nil && old.CacheVersion == schemaV1 {
		return upgradeV1(&old), true, nil
	}

	return nil, false, fmt.Errorf("store: schema version not recognized: %w", apperr.ErrUnknownSchema)
}

// upgradeV1 defaults every field introduced after the legacy schema:
// pin state unpinned, dependency info absent, scan roots and collections
// empty.
func upgradeV1(old *documentV1) *document {
	doc := newDocument()
	doc.LastUpdated = old.LastUpdated
	for path, r := range old.Repositories {
		doc.Repositories[path] = models.Repository{
			Name:           r.Name,
			Path:           r.Path,
			SizeMB:         r.SizeMB,
			FileTypes:      r.FileTypes,
			LastCommitDate: r.LastCommitDate,
			CurrentBranch:  r.CurrentBranch,
			Branches:       r.Branches,
			RemoteURL:      r.RemoteURL,
			CommitCount:    r.CommitCount,
			LastAnalyzed:   r.LastAnalyzed,
			IsValid:        r.IsValid,
		}
	}
	return doc
}

// healCollections fills the default color swatch into any collection with
// an empty color field. Runs on every load, independent of version
// migration.
func healCollections(doc *document) bool {
	healed := false
	for id, c := range doc.Collections {
		if c.Color == "" {
			c.Color = DefaultCollectionColor
			doc.Collections[id] = c
			healed = true
		}
	}
	return healed
}

func ensureMaps(doc *document) {
	if doc.Repositories == nil {
		doc.Repositories = make(map[string]models.Repository)
	}
	if doc.ScanRoots == nil {
		doc.ScanRoots = make(map[string]models.ScanRoot)
	}
	if doc.Collections == nil {
		doc.Collections = make(map[string]models.Collection)
	}
}
