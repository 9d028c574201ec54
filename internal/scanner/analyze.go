package scanner

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/veland/gitatlas/internal/models"
)

// commitCountLimit caps history traversal; repositories with deeper
// history report exactly this count.
const commitCountLimit = 1000

// Analyze extracts the full metadata record for the repository at path.
// previous, when non-nil, is the record from the last analysis of the
// same path and is consulted only to decide whether dependency
// directories need rescanning; forceDeps rescans them regardless.
//
// Annotations (pin state) are NOT carried over here; reconciliation
// against the store owns that.
func (s *Scanner) Analyze(path string, previous *models.Repository, forceDeps bool) (models.Repository, error) {
	repo, err := git.PlainOpen(path)
	if err != nil {
		return models.Repository{}, fmt.Errorf("scanner: open %s: %w", path, err)
	}

	sizeMB, err := dirSizeMB(path)
	if err != nil {
		return models.Repository{}, fmt.Errorf("scanner: size %s: %w", path, err)
	}

	out := models.Repository{
		Name:         filepath.Base(path),
		Path:         path,
		SizeMB:       sizeMB,
		FileTypes:    s.fileTypes(path),
		LastAnalyzed: time.Now().UTC(),
		IsValid:      true,
	}
	s.gitInfo(repo, &out)

	deps, err := s.dependencyInfo(path, previous, forceDeps)
	if err != nil {
		return models.Repository{}, err
	}
	out.DependencyDirs = deps

	return out, nil
}

// gitInfo fills branch, remote, and history fields. A repository with no
// commits yet simply leaves them zeroed.
func (s *Scanner) gitInfo(repo *git.Repository, out *models.Repository) {
	head, headErr := repo.Head()
	if headErr == nil {
		out.CurrentBranch = head.Name().Short()
	}

	if iter, err := repo.Branches(); err == nil {
		_ = iter.ForEach(func(ref *plumbing.Reference) error {
			out.Branches = append(out.Branches, ref.Name().Short())
			return nil
		})
	}

	if remote, err := repo.Remote("origin"); err == nil {
		if urls := remote.Config().URLs; len(urls) > 0 {
			out.RemoteURL = urls[0]
		}
	}

	if headErr != nil {
		return
	}
	log, err := repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return
	}
	defer log.Close()
	for out.CommitCount < commitCountLimit {
		commit, err := log.Next()
		if err != nil {
			// io.EOF ends the walk; anything else is treated the same
			// way and the partial count stands.
			break
		}
		if out.CommitCount == 0 {
			when := commit.Committer.When.UTC()
			out.LastCommitDate = &when
		}
		out.CommitCount++
	}
}

// dirSizeMB sums file sizes under path, excluding the VCS metadata
// directory, and converts to megabytes.
func dirSizeMB(path string) (float64, error) {
	var total int64
	err := filepath.WalkDir(path, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil
		}
		if d.IsDir() {
			if d.Name() == vcsMarker && p != path {
				return filepath.SkipDir
			}
			return nil
		}
		if info, infoErr := d.Info(); infoErr == nil {
			total += info.Size()
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return float64(total) / (1024 * 1024), nil
}

// fileTypes builds the extension -> count histogram with a depth-limited
// walk, skipping hidden directories.
func (s *Scanner) fileTypes(root string) map[string]int {
	types := make(map[string]int)
	_ = filepath.WalkDir(root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil
		}
		rel, relErr := filepath.Rel(root, p)
		if relErr != nil {
			return nil
		}
		if d.IsDir() {
			if p != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			if depth(rel) >= s.opts.FileTypeDepth {
				return filepath.SkipDir
			}
			return nil
		}
		ext := strings.TrimPrefix(filepath.Ext(d.Name()), ".")
		if ext != "" {
			types[strings.ToLower(ext)]++
		}
		return nil
	})
	return types
}

func depth(rel string) int {
	if rel == "." {
		return 0
	}
	return strings.Count(rel, string(os.PathSeparator)) + 1
}
