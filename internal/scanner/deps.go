package scanner

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/veland/gitatlas/internal/models"
)

// dependencyDirDepth bounds the walk that looks for dependency
// directories, so nested node_modules trees are not re-counted.
const dependencyDirDepth = 3

// dependencyInfo decides whether the dependency directories under path
// need rescanning and either recomputes the summary wholesale or carries
// the previous one forward unchanged.
//
// The rescan runs only when the manifest's current mtime is strictly
// newer than the one recorded at the last scan (or when there is no
// prior summary, or when force is set). The previous summary is never
// merged field-by-field.
func (s *Scanner) dependencyInfo(path string, previous *models.Repository, force bool) (*models.DependencyDirInfo, error) {
	manifest, mtime, ok, err := s.manifestMtime(path)
	if err != nil {
		return nil, err
	}
	if !ok {
		// No manifest means nothing gates a scan; there is nothing to
		// summarize either.
		return nil, nil
	}

	if !force && previous != nil && previous.DependencyDirs != nil {
		if !mtime.After(previous.DependencyDirs.ManifestModified) {
			carried := previous.DependencyDirs.Clone()
			return &carried, nil
		}
	}

	info, err := s.scanDependencyDirs(path, mtime)
	if err != nil {
		return nil, fmt.Errorf("scanner: dependency dirs under %s (manifest %s): %w", path, manifest, err)
	}
	return info, nil
}

// manifestMtime returns the first configured manifest file present in
// the repository root and its modification time.
func (s *Scanner) manifestMtime(path string) (string, time.Time, bool, error) {
	for _, name := range s.opts.ManifestFiles {
		fi, err := os.Stat(filepath.Join(path, name))
		if err == nil {
			return name, fi.ModTime().UTC(), true, nil
		}
		if !os.IsNotExist(err) {
			return "", time.Time{}, false, fmt.Errorf("scanner: stat manifest %s: %w", name, err)
		}
	}
	return "", time.Time{}, false, nil
}

// scanDependencyDirs recomputes the dependency summary from scratch.
// Returns nil when no dependency directory exists.
func (s *Scanner) scanDependencyDirs(root string, manifestModified time.Time) (*models.DependencyDirInfo, error) {
	wanted := make(map[string]struct{}, len(s.opts.DependencyDirs))
	for _, name := range s.opts.DependencyDirs {
		wanted[name] = struct{}{}
	}

	var found []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil || !d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(root, p)
		if relErr != nil {
			return nil
		}
		if _, ok := wanted[d.Name()]; ok && p != root {
			found = append(found, p)
			return filepath.SkipDir
		}
		if depth(rel) >= dependencyDirDepth {
			return filepath.SkipDir
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, nil
	}
	sort.Strings(found)

	info := &models.DependencyDirInfo{
		Paths:            found,
		Count:            len(found),
		LastScanned:      time.Now().UTC(),
		ManifestModified: manifestModified,
	}
	for _, dir := range found {
		size, sizeErr := dirSizeMB(dir)
		if sizeErr != nil {
			continue
		}
		info.TotalSizeMB += size
	}
	return info, nil
}
