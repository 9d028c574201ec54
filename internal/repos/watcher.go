package repos

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch starts an fsnotify watcher over every registered scan root and
// keeps the cache honest about repositories appearing or vanishing at
// runtime, until ctx is cancelled. emit (if non-nil) is called after
// each cache mutation.
//
// New directories created under a root are added to the watch list; a
// directory that turns out to contain a .git entry is analyzed and
// upserted. Remove and rename of a known repository path mark the record
// invalid. Renames also schedule a debounced validation pass to catch
// moves that land outside any watched directory.
func Watch(ctx context.Context, svc *Service, logger *slog.Logger, emit EventFunc) error {
	roots, err := svc.store.ListScanRoots()
	if err != nil {
		return err
	}
	if len(roots) == 0 {
		logger.Info("watcher: no scan roots registered, not starting")
		<-ctx.Done()
		return nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	for _, root := range roots {
		if addErr := addDirsRecursive(w, svc, root.Path); addErr != nil {
			logger.Warn("watcher: add root failed",
				slog.String("root", root.Path),
				slog.String("error", addErr.Error()))
		}
	}

	logger.Info("watcher: started", slog.Int("roots", len(roots)))

	var revalidateTimer *time.Timer
	var revalidateCh <-chan time.Time

	scheduleRevalidate := func() {
		if revalidateTimer == nil {
			revalidateTimer = time.NewTimer(200 * time.Millisecond)
			revalidateCh = revalidateTimer.C
		} else {
			revalidateTimer.Reset(200 * time.Millisecond)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if revalidateTimer != nil {
				revalidateTimer.Stop()
			}
			logger.Info("watcher: stopped")
			return nil

		case <-revalidateCh:
			revalidateKnown(svc, logger, emit)

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			path := ev.Name

			if ev.Op&fsnotify.Create != 0 {
				info, statErr := os.Stat(path)
				if statErr != nil || !info.IsDir() {
					continue
				}
				if addErr := addDirsRecursive(w, svc, path); addErr != nil {
					logger.Warn("watcher: add new dir failed",
						slog.String("path", path),
						slog.String("error", addErr.Error()))
				}
				if _, statErr := os.Stat(filepath.Join(path, ".git")); statErr == nil {
					if _, refreshErr := svc.Refresh(ctx, path); refreshErr != nil {
						logger.Warn("watcher: analyze new repo failed",
							slog.String("path", path),
							slog.String("error", refreshErr.Error()))
					} else {
						logger.Debug("watcher: new repository", slog.String("path", path))
						if emit != nil {
							emit(ScanEvent{Kind: "repo.updated", Path: path})
						}
					}
				}
				continue
			}

			if ev.Op&(fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}

			// Only known repository paths matter here.
			if _, getErr := svc.store.GetRepository(path); getErr != nil {
				continue
			}
			if markErr := svc.MarkInvalid(path); markErr != nil {
				logger.Warn("watcher: mark invalid failed",
					slog.String("path", path),
					slog.String("error", markErr.Error()))
				continue
			}
			logger.Debug("watcher: repository gone", slog.String("path", path))
			if emit != nil {
				emit(ScanEvent{Kind: "repo.removed", Path: path})
			}
			if ev.Op&fsnotify.Rename != 0 {
				scheduleRevalidate()
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// revalidateKnown flips validity on records whose marker reappeared or
// vanished while events were in flight.
func revalidateKnown(svc *Service, logger *slog.Logger, emit EventFunc) {
	valid, invalid, err := svc.Validate()
	if err != nil {
		logger.Warn("watcher: revalidate failed", slog.String("error", err.Error()))
		return
	}
	for _, repo := range valid {
		stored, getErr := svc.store.GetRepository(repo.Path)
		if getErr != nil || stored.IsValid {
			continue
		}
		stored.IsValid = true
		if upErr := svc.store.UpsertRepository(stored); upErr == nil {
			svc.idx.CachePut(stored)
			if emit != nil {
				emit(ScanEvent{Kind: "repo.updated", Path: stored.Path})
			}
		}
	}
	for _, path := range invalid {
		if markErr := svc.MarkInvalid(path); markErr == nil {
			if emit != nil {
				emit(ScanEvent{Kind: "repo.removed", Path: path})
			}
		}
	}
}

// addDirsRecursive watches dir and every subdirectory, skipping hidden
// and dependency trees the scanner would not descend into either.
func addDirsRecursive(w *fsnotify.Watcher, svc *Service, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		name := d.Name()
		if path != dir && (strings.HasPrefix(name, ".") || svc.scan.Excluded(name)) {
			return filepath.SkipDir
		}
		return w.Add(path)
	})
}
