// Package scanner discovers git repositories on disk and extracts their
// metadata into models.Repository records. The canonical store consumes
// its output; the scanner itself holds no persistent state.
package scanner

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/veland/gitatlas/internal/models"
)

const vcsMarker = ".git"

// Options controls discovery and analysis behavior.
type Options struct {
	// ExcludeDirs are directory names never descended into during
	// discovery (dependency and build output trees).
	ExcludeDirs []string
	// FileTypeDepth bounds the walk that builds the extension histogram.
	FileTypeDepth int
	// DependencyDirs are directory names summarized into
	// DependencyDirInfo (e.g. node_modules).
	DependencyDirs []string
	// ManifestFiles are checked, in order, for the manifest whose mtime
	// gates dependency-directory rescans.
	ManifestFiles []string
	// Parallelism bounds concurrent repository analysis.
	Parallelism int
}

// DefaultOptions mirrors the directories the walk has always skipped.
func DefaultOptions() Options {
	return Options{
		ExcludeDirs:    []string{"node_modules", "target", "vendor", "dist", "build"},
		FileTypeDepth:  3,
		DependencyDirs: []string{"node_modules"},
		ManifestFiles:  []string{"package.json"},
		Parallelism:    4,
	}
}

// Scanner discovers and analyzes repositories.
type Scanner struct {
	opts    Options
	exclude map[string]struct{}
	logger  *slog.Logger
}

// New creates a scanner. Zero-value option fields fall back to defaults.
func New(opts Options, logger *slog.Logger) *Scanner {
	def := DefaultOptions()
	if len(opts.ExcludeDirs) == 0 {
		opts.ExcludeDirs = def.ExcludeDirs
	}
	if opts.FileTypeDepth <= 0 {
		opts.FileTypeDepth = def.FileTypeDepth
	}
	if len(opts.DependencyDirs) == 0 {
		opts.DependencyDirs = def.DependencyDirs
	}
	if len(opts.ManifestFiles) == 0 {
		opts.ManifestFiles = def.ManifestFiles
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = def.Parallelism
	}
	exclude := make(map[string]struct{}, len(opts.ExcludeDirs))
	for _, name := range opts.ExcludeDirs {
		exclude[name] = struct{}{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{opts: opts, exclude: exclude, logger: logger}
}

// Discover walks root and returns the path of every directory containing
// a .git entry, in walk order. Hidden and excluded directories are
// skipped; discovery descends into repositories so nested checkouts are
// found too. found, if non-nil, is called for each hit as it appears.
func (s *Scanner) Discover(ctx context.Context, root string, found func(path string)) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return nil, nil
	}

	var repos []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			// Unreadable subtree; keep going.
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && s.skipDir(d.Name()) {
			return filepath.SkipDir
		}
		if markerExists(path) {
			repos = append(repos, path)
			if found != nil {
				found(path)
			}
		}
		return nil
	})
	if err != nil {
		return repos, err
	}
	return repos, nil
}

// AnalyzeAll analyzes the discovered paths with bounded parallelism.
// previous supplies the prior record for a path (or nil) so expensive
// dependency rescans can be skipped; a single repository failing analysis
// is logged and skipped, never aborting the batch. Results are returned
// sorted by path.
func (s *Scanner) AnalyzeAll(ctx context.Context, paths []string, previous func(path string) *models.Repository) ([]models.Repository, error) {
	var (
		mu  sync.Mutex
		out []models.Repository
	)

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Parallelism)

	for _, path := range paths {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			var prev *models.Repository
			if previous != nil {
				prev = previous(path)
			}
			repo, err := s.Analyze(path, prev, false)
			if err != nil {
				s.logger.Warn("scanner: analyze failed",
					slog.String("path", path),
					slog.String("error", err.Error()))
				return nil
			}
			mu.Lock()
			out = append(out, repo)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// Excluded reports whether a directory name is on the exclude list.
func (s *Scanner) Excluded(name string) bool {
	_, ok := s.exclude[name]
	return ok
}

func (s *Scanner) skipDir(name string) bool {
	if strings.HasPrefix(name, ".") {
		return true
	}
	_, excluded := s.exclude[name]
	return excluded
}

func markerExists(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, vcsMarker))
	return err == nil
}
