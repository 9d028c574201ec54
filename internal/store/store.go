// Package store implements the canonical on-disk repository cache.
//
// The cache is a single JSON document holding every known repository,
// scan root, and collection. Each operation is a full read-modify-write
// of the document behind one exclusive lock; the file is replaced
// atomically (tmp file, fsync, rename) so a failed operation leaves the
// prior document intact. All derived index structures are rebuildable
// from this document alone.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/veland/gitatlas/internal/apperr"
	"github.com/veland/gitatlas/internal/models"
)

const cacheFileName = "repositories_cache.json"

// VCSMarker is the directory entry whose presence marks a repository root.
const VCSMarker = ".git"

// Store owns the cache document. It is safe for concurrent use; logical
// operations are serialized so no two read-modify-write cycles interleave.
type Store struct {
	mu   sync.Mutex
	path string // cache file
}

// New creates a store rooted at dir, creating the directory if needed.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: create data dir: %w", err)
	}
	return &Store{path: filepath.Join(dir, cacheFileName)}, nil
}

// DefaultDir returns the platform-appropriate per-application data
// directory for the cache file.
func DefaultDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("store: resolve user config dir: %w", err)
	}
	return filepath.Join(base, "gitatlas"), nil
}

// load reads and decodes the cache document, migrating older schemas.
// A migrated or healed document is written back immediately so migration
// executes at most once. Callers must hold s.mu.
func (s *Store) load() (*document, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return newDocument(), nil
		}
		return nil, fmt.Errorf("store: read cache: %w", err)
	}

	doc, dirty, err := decodeDocument(data)
	if err != nil {
		return nil, err
	}
	if dirty {
		if err := s.save(doc); err != nil {
			return nil, err
		}
	}
	return doc, nil
}

// save serializes the document and replaces the cache file atomically.
// Callers must hold s.mu.
func (s *Store) save(doc *document) error {
	doc.SchemaVersion = SchemaVersion
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("store: serialize cache: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".gitatlas-tmp-*")
	if err != nil {
		return fmt.Errorf("store: create temp: %w", err)
	}
	tmpName := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("store: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("store: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("store: close temp: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("store: rename: %w", err)
	}
	success = true
	return nil
}

// UpsertRepository inserts or fully replaces a repository keyed by path.
func (s *Store) UpsertRepository(repo models.Repository) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load()
	if err != nil {
		return err
	}
	doc.Repositories[repo.Path] = repo
	doc.LastUpdated = time.Now().UTC()
	return s.save(doc)
}

// GetRepository returns the repository stored at path.
func (s *Store) GetRepository(path string) (models.Repository, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load()
	if err != nil {
		return models.Repository{}, err
	}
	repo, ok := doc.Repositories[path]
	if !ok {
		return models.Repository{}, fmt.Errorf("store: repository %s: %w", path, apperr.ErrNotFound)
	}
	return repo, nil
}

// ListRepositories returns every known repository, sorted by path.
func (s *Store) ListRepositories() ([]models.Repository, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	return sortedRepositories(doc.Repositories), nil
}

// RemoveRepository deletes a repository from the cache. Collection
// membership lists are deliberately left untouched: dangling paths are
// filtered out lazily when a collection is read.
func (s *Store) RemoveRepository(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := doc.Repositories[path]; !ok {
		return fmt.Errorf("store: repository %s: %w", path, apperr.ErrNotFound)
	}
	delete(doc.Repositories, path)
	doc.LastUpdated = time.Now().UTC()
	return s.save(doc)
}

// ValidateRepositories partitions all records into valid and invalid by
// checking the VCS marker still exists on disk. Pure read; the store is
// not mutated.
func (s *Store) ValidateRepositories() (valid []models.Repository, invalid []string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load()
	if err != nil {
		return nil, nil, err
	}
	for _, repo := range sortedRepositories(doc.Repositories) {
		if markerExists(repo.Path) {
			repo.IsValid = true
			valid = append(valid, repo)
		} else {
			invalid = append(invalid, repo.Path)
		}
	}
	return valid, invalid, nil
}

// CleanupInvalidRepositories removes every record whose VCS marker is
// gone and returns the number removed.
func (s *Store) CleanupInvalidRepositories() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load()
	if err != nil {
		return 0, err
	}
	removed := 0
	for path := range doc.Repositories {
		if !markerExists(path) {
			delete(doc.Repositories, path)
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}
	doc.LastUpdated = time.Now().UTC()
	return removed, s.save(doc)
}

// ClearCache resets the document to empty, preserving nothing.
func (s *Store) ClearCache() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(newDocument())
}

// CacheInfo returns a diagnostics summary of the cache.
func (s *Store) CacheInfo() (models.CacheInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load()
	if err != nil {
		return models.CacheInfo{}, err
	}

	valid := 0
	for path := range doc.Repositories {
		if markerExists(path) {
			valid++
		}
	}

	var fileSize int64
	if fi, statErr := os.Stat(s.path); statErr == nil {
		fileSize = fi.Size()
	}

	return models.CacheInfo{
		TotalRepositories:   len(doc.Repositories),
		ValidRepositories:   valid,
		InvalidRepositories: len(doc.Repositories) - valid,
		CacheFileSize:       fileSize,
		LastUpdated:         doc.LastUpdated,
	}, nil
}

// AddScanRoot registers a directory to rescan. The repository count is
// recomputed as a path-prefix count over the current cache.
func (s *Store) AddScanRoot(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load()
	if err != nil {
		return err
	}
	root := doc.ScanRoots[path]
	root.Path = path
	root.RepositoryCount = countUnder(doc.Repositories, path)
	doc.ScanRoots[path] = root
	doc.LastUpdated = time.Now().UTC()
	return s.save(doc)
}

// RemoveScanRoot unregisters a scan root.
func (s *Store) RemoveScanRoot(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := doc.ScanRoots[path]; !ok {
		return fmt.Errorf("store: scan root %s: %w", path, apperr.ErrNotFound)
	}
	delete(doc.ScanRoots, path)
	doc.LastUpdated = time.Now().UTC()
	return s.save(doc)
}

// TouchScanRoot records that a root was just scanned and refreshes its
// repository count.
func (s *Store) TouchScanRoot(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load()
	if err != nil {
		return err
	}
	root, ok := doc.ScanRoots[path]
	if !ok {
		return fmt.Errorf("store: scan root %s: %w", path, apperr.ErrNotFound)
	}
	now := time.Now().UTC()
	root.LastScanned = &now
	root.RepositoryCount = countUnder(doc.Repositories, path)
	doc.ScanRoots[path] = root
	doc.LastUpdated = now
	return s.save(doc)
}

// ListScanRoots returns all registered scan roots, sorted by path.
func (s *Store) ListScanRoots() ([]models.ScanRoot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	out := make([]models.ScanRoot, 0, len(doc.ScanRoots))
	for _, root := range doc.ScanRoots {
		out = append(out, root)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// TogglePin flips the pin annotation on a repository. PinnedAt is set
// exactly when the pin transitions on and cleared when it transitions off.
func (s *Store) TogglePin(path string) (models.Repository, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load()
	if err != nil {
		return models.Repository{}, err
	}
	repo, ok := doc.Repositories[path]
	if !ok {
		return models.Repository{}, fmt.Errorf("store: repository %s: %w", path, apperr.ErrNotFound)
	}
	if repo.IsPinned {
		repo.IsPinned = false
		repo.PinnedAt = nil
	} else {
		now := time.Now().UTC()
		repo.IsPinned = true
		repo.PinnedAt = &now
	}
	doc.Repositories[path] = repo
	doc.LastUpdated = time.Now().UTC()
	if err := s.save(doc); err != nil {
		return models.Repository{}, err
	}
	return repo, nil
}

// PinnedRepositories returns all pinned records, sorted by path.
func (s *Store) PinnedRepositories() ([]models.Repository, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	var out []models.Repository
	for _, repo := range sortedRepositories(doc.Repositories) {
		if repo.IsPinned {
			out = append(out, repo)
		}
	}
	return out, nil
}

// CreateCollection creates a named collection with the default color.
// Collection names are unique.
func (s *Store) CreateCollection(name string) (models.Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load()
	if err != nil {
		return models.Collection{}, err
	}
	for _, c := range doc.Collections {
		if c.Name == name {
			return models.Collection{}, fmt.Errorf("store: collection %q: %w", name, apperr.ErrDuplicateName)
		}
	}
	col := models.Collection{
		ID:              uuid.NewString(),
		Name:            name,
		Color:           DefaultCollectionColor,
		RepositoryPaths: []string{},
		CreatedAt:       time.Now().UTC(),
	}
	doc.Collections[col.ID] = col
	doc.LastUpdated = time.Now().UTC()
	if err := s.save(doc); err != nil {
		return models.Collection{}, err
	}
	return col, nil
}

// DeleteCollection removes a collection. The repositories it referenced
// are untouched.
func (s *Store) DeleteCollection(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := doc.Collections[id]; !ok {
		return fmt.Errorf("store: collection %s: %w", id, apperr.ErrNotFound)
	}
	delete(doc.Collections, id)
	doc.LastUpdated = time.Now().UTC()
	return s.save(doc)
}

// ListCollections returns all collections, sorted by name.
func (s *Store) ListCollections() ([]models.Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	out := make([]models.Collection, 0, len(doc.Collections))
	for _, c := range doc.Collections {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// AddToCollection adds a repository to a collection. Adding a path that
// is already a member is a no-op; adding a path with no corresponding
// repository fails.
func (s *Store) AddToCollection(collectionID, repoPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load()
	if err != nil {
		return err
	}
	col, ok := doc.Collections[collectionID]
	if !ok {
		return fmt.Errorf("store: collection %s: %w", collectionID, apperr.ErrNotFound)
	}
	if _, ok := doc.Repositories[repoPath]; !ok {
		return fmt.Errorf("store: repository %s: %w", repoPath, apperr.ErrNotFound)
	}
	for _, p := range col.RepositoryPaths {
		if p == repoPath {
			return nil
		}
	}
	col.RepositoryPaths = append(col.RepositoryPaths, repoPath)
	doc.Collections[collectionID] = col
	doc.LastUpdated = time.Now().UTC()
	return s.save(doc)
}

// RemoveFromCollection removes a repository path from a collection's
// membership list. Removing a path that is not a member is a no-op.
func (s *Store) RemoveFromCollection(collectionID, repoPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load()
	if err != nil {
		return err
	}
	col, ok := doc.Collections[collectionID]
	if !ok {
		return fmt.Errorf("store: collection %s: %w", collectionID, apperr.ErrNotFound)
	}
	kept := col.RepositoryPaths[:0]
	for _, p := range col.RepositoryPaths {
		if p != repoPath {
			kept = append(kept, p)
		}
	}
	col.RepositoryPaths = kept
	doc.Collections[collectionID] = col
	doc.LastUpdated = time.Now().UTC()
	return s.save(doc)
}

// CollectionRepositories resolves a collection's membership list against
// the current repositories, silently dropping paths whose repository no
// longer exists (lazy deletion of dangling references).
func (s *Store) CollectionRepositories(collectionID string) ([]models.Repository, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	col, ok := doc.Collections[collectionID]
	if !ok {
		return nil, fmt.Errorf("store: collection %s: %w", collectionID, apperr.ErrNotFound)
	}
	out := make([]models.Repository, 0, len(col.RepositoryPaths))
	for _, p := range col.RepositoryPaths {
		if repo, ok := doc.Repositories[p]; ok {
			out = append(out, repo)
		}
	}
	return out, nil
}

func sortedRepositories(m map[string]models.Repository) []models.Repository {
	out := make([]models.Repository, 0, len(m))
	for _, repo := range m {
		out = append(out, repo)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

func markerExists(repoPath string) bool {
	_, err := os.Stat(filepath.Join(repoPath, VCSMarker))
	return err == nil
}

// countUnder counts repositories whose path equals root or lies under it.
// Matching is by path segment: /home/user does not cover /home/userx.
func countUnder(repos map[string]models.Repository, root string) int {
	n := 0
	prefix := strings.TrimSuffix(root, "/") + "/"
	for path := range repos {
		if path == root || strings.HasPrefix(path, prefix) {
			n++
		}
	}
	return n
}
