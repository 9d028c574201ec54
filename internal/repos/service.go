// Package repos coordinates the canonical store, the derived indices,
// and the scanner. It owns reconciliation: freshly analyzed records are
// merged against stored state so user annotations survive rescans.
package repos

import (
	"context"
	"errors"
	"log/slog"

	"github.com/veland/gitatlas/internal/apperr"
	"github.com/veland/gitatlas/internal/index"
	"github.com/veland/gitatlas/internal/models"
	"github.com/veland/gitatlas/internal/scanner"
	"github.com/veland/gitatlas/internal/store"
)

// ScanEvent reports scan progress to interested listeners (SSE, logs).
// Kind is one of "scan.progress", "scan.completed", "repo.updated",
// "repo.removed".
type ScanEvent struct {
	Kind       string `json:"kind"`
	Path       string `json:"path,omitempty"`
	ReposFound int    `json:"repos_found"`
}

// EventFunc receives scan and repository change events.
type EventFunc func(ScanEvent)

// Service is the single handle through which all repository operations
// run. It is constructed once at process start; there is no package
// state.
type Service struct {
	store  *store.Store
	idx    *index.Manager
	scan   *scanner.Scanner
	logger *slog.Logger
}

// NewService wires the store, index manager, and scanner together.
func NewService(st *store.Store, idx *index.Manager, scan *scanner.Scanner, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: st, idx: idx, scan: scan, logger: logger}
}

// Rebuild reconstructs every derived index from the canonical document.
// Called at process start and after bulk mutations.
func (s *Service) Rebuild() error {
	all, err := s.store.ListRepositories()
	if err != nil {
		return err
	}
	s.idx.Rebuild(all)
	return nil
}

// reconcile merges a freshly analyzed record with the previously stored
// one. Analysis output never carries annotations, so pin state is copied
// from the stored record; everything else is taken from the fresh
// analysis (the dependency-rescan skip already happened inside it).
func reconcile(fresh models.Repository, prev *models.Repository) models.Repository {
	if prev != nil {
		fresh.IsPinned = prev.IsPinned
		fresh.PinnedAt = prev.PinnedAt
	}
	return fresh
}

// ScanRoot discovers and analyzes every repository under one registered
// root, reconciles each against the store, persists it, and updates the
// indices per record. The root's timestamp and repository count are
// refreshed afterwards.
func (s *Service) ScanRoot(ctx context.Context, root string, emit EventFunc) ([]models.Repository, error) {
	found := 0
	paths, err := s.scan.Discover(ctx, root, func(path string) {
		found++
		if emit != nil {
			emit(ScanEvent{Kind: "scan.progress", Path: path, ReposFound: found})
		}
	})
	if err != nil {
		return nil, err
	}

	analyzed, err := s.scan.AnalyzeAll(ctx, paths, s.previousRecord)
	if err != nil {
		return nil, err
	}

	merged := make([]models.Repository, 0, len(analyzed))
	for _, fresh := range analyzed {
		repo, upsertErr := s.upsertAnalyzed(fresh)
		if upsertErr != nil {
			s.logger.Warn("scan: persist failed",
				slog.String("path", fresh.Path),
				slog.String("error", upsertErr.Error()))
			continue
		}
		merged = append(merged, repo)
		if emit != nil {
			emit(ScanEvent{Kind: "repo.updated", Path: repo.Path, ReposFound: found})
		}
	}

	if err := s.store.TouchScanRoot(root); err != nil && !errors.Is(err, apperr.ErrNotFound) {
		s.logger.Warn("scan: touch root failed",
			slog.String("root", root),
			slog.String("error", err.Error()))
	}
	return merged, nil
}

// ScanAll runs ScanRoot over every registered scan root.
func (s *Service) ScanAll(ctx context.Context, emit EventFunc) ([]models.Repository, error) {
	roots, err := s.store.ListScanRoots()
	if err != nil {
		return nil, err
	}
	var out []models.Repository
	for _, root := range roots {
		repos, scanErr := s.ScanRoot(ctx, root.Path, emit)
		if scanErr != nil {
			return out, scanErr
		}
		out = append(out, repos...)
	}
	if emit != nil {
		emit(ScanEvent{Kind: "scan.completed", ReposFound: len(out)})
	}
	return out, nil
}

// Refresh re-analyzes one repository, forcing a dependency-directory
// rescan, and persists the reconciled result.
func (s *Service) Refresh(ctx context.Context, path string) (models.Repository, error) {
	if err := ctx.Err(); err != nil {
		return models.Repository{}, err
	}
	prev := s.previousRecord(path)
	fresh, err := s.scan.Analyze(path, prev, true)
	if err != nil {
		return models.Repository{}, err
	}
	return s.upsertAnalyzed(fresh)
}

// upsertAnalyzed reconciles, persists, and indexes one analyzed record.
func (s *Service) upsertAnalyzed(fresh models.Repository) (models.Repository, error) {
	prev := s.previousRecord(fresh.Path)
	repo := reconcile(fresh, prev)
	if err := s.store.UpsertRepository(repo); err != nil {
		return models.Repository{}, err
	}
	if prev != nil {
		// The attribute buckets may have moved; undo the old entry first.
		s.idx.Remove(*prev)
	}
	s.idx.Insert(repo)
	return repo, nil
}

func (s *Service) previousRecord(path string) *models.Repository {
	prev, err := s.store.GetRepository(path)
	if err != nil {
		return nil
	}
	return &prev
}

// Repository returns one record, consulting the recency cache first and
// backfilling it on a canonical-store hit.
func (s *Service) Repository(path string) (models.Repository, error) {
	if repo, ok := s.idx.Cached(path); ok {
		return repo, nil
	}
	repo, err := s.store.GetRepository(path)
	if err != nil {
		return models.Repository{}, err
	}
	s.idx.CachePut(repo)
	return repo, nil
}

// List returns every known repository from the canonical store.
func (s *Service) List() ([]models.Repository, error) {
	return s.store.ListRepositories()
}

// Remove deletes a repository from the store and all indices. Collection
// membership is left to lazy read-time filtering.
func (s *Service) Remove(path string) error {
	repo, err := s.store.GetRepository(path)
	if err != nil {
		return err
	}
	if err := s.store.RemoveRepository(path); err != nil {
		return err
	}
	s.idx.Remove(repo)
	return nil
}

// TogglePin flips the pin annotation and keeps the recency cache warm
// for the (now hot) record.
func (s *Service) TogglePin(path string) (models.Repository, error) {
	repo, err := s.store.TogglePin(path)
	if err != nil {
		return models.Repository{}, err
	}
	s.idx.CachePut(repo)
	return repo, nil
}

// Pinned returns all pinned repositories.
func (s *Service) Pinned() ([]models.Repository, error) {
	return s.store.PinnedRepositories()
}

// Search resolves an attribute query through the indices, then loads the
// matching records (recency-cache assisted).
func (s *Service) Search(q index.Query) ([]models.Repository, error) {
	return s.resolve(s.idx.Search(q))
}

// Under returns every repository at or below the given directory prefix.
func (s *Service) Under(prefix string) ([]models.Repository, error) {
	return s.resolve(s.idx.FindUnder(prefix))
}

// resolve maps index paths back to canonical records. Index structures
// are caches: a path the store no longer knows is silently dropped, the
// store is never overruled.
func (s *Service) resolve(paths []string) ([]models.Repository, error) {
	out := make([]models.Repository, 0, len(paths))
	for _, path := range paths {
		repo, err := s.Repository(path)
		if err != nil {
			if errors.Is(err, apperr.ErrNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, repo)
	}
	return out, nil
}

// Validate partitions records into valid and invalid without mutating
// anything.
func (s *Service) Validate() ([]models.Repository, []string, error) {
	return s.store.ValidateRepositories()
}

// Cleanup drops invalid records from the store and rebuilds the indices.
func (s *Service) Cleanup() (int, error) {
	removed, err := s.store.CleanupInvalidRepositories()
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		if err := s.Rebuild(); err != nil {
			return removed, err
		}
	}
	return removed, nil
}

// MarkInvalid flags a record whose path vanished from disk. The record
// stays in the store (the user may want to see it); the recency cache
// entry is refreshed so reads agree.
func (s *Service) MarkInvalid(path string) error {
	repo, err := s.store.GetRepository(path)
	if err != nil {
		return err
	}
	if !repo.IsValid {
		return nil
	}
	repo.IsValid = false
	if err := s.store.UpsertRepository(repo); err != nil {
		return err
	}
	s.idx.CachePut(repo)
	return nil
}

// ClearCache empties the canonical document and every index.
func (s *Service) ClearCache() error {
	if err := s.store.ClearCache(); err != nil {
		return err
	}
	s.idx.Rebuild(nil)
	return nil
}

// Store exposes the canonical store for operations the service does not
// mediate (collections, scan roots, cache info).
func (s *Service) Store() *store.Store {
	return s.store
}
