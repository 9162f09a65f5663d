// Package watcher triggers incremental index runs when repository
// files change. fsnotify delivers change events when the platform
// supports it, with a polling scan as fallback. Either way the
// repository scanner confirms changes, so gitignored and binary files
// never cause a run, and bursts coalesce behind a settle window to
// prevent index thrashing.
package watcher

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/xtrc-dev/xtrc/internal/scanner"
)

const (
	// DefaultInterval is the polling period in fallback mode.
	DefaultInterval = 2 * time.Second

	// DefaultSettle is the quiet period after the last observed change
	// before a run triggers. Saves and bulk operations coalesce into
	// one run.
	DefaultSettle = 3 * time.Second
)

// stamp is the change fingerprint of one file.
type stamp struct {
	modTime time.Time
	size    int64
}

// Watcher watches one repository and invokes a callback after changes
// settle.
type Watcher struct {
	scanner  *scanner.Scanner
	interval time.Duration
	settle   time.Duration
	logger   *slog.Logger

	// forcePoll skips fsnotify entirely.
	forcePoll bool

	snapshot map[string]stamp
}

func New(logger *slog.Logger) (*Watcher, error) {
	sc, err := scanner.New()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		scanner:  sc,
		interval: DefaultInterval,
		settle:   DefaultSettle,
		logger:   logger,
	}, nil
}

// SetIntervals overrides the polling and settle durations. Zero values
// keep the current setting.
func (w *Watcher) SetIntervals(interval, settle time.Duration) {
	if interval > 0 {
		w.interval = interval
	}
	if settle > 0 {
		w.settle = settle
	}
}

// Watch blocks, observing repoPath until the context is cancelled.
// After file changes stop for the settle window, onChange runs once
// for the whole burst. The first scan establishes the baseline without
// firing.
func (w *Watcher) Watch(ctx context.Context, repoPath string, onChange func(context.Context)) error {
	baseline, err := w.scan(ctx, repoPath)
	if err != nil {
		return err
	}
	w.snapshot = baseline

	if !w.forcePoll {
		fsw, err := fsnotify.NewWatcher()
		if err == nil {
			defer fsw.Close()
			if err := w.addRecursive(fsw, repoPath); err == nil {
				return w.watchEvents(ctx, fsw, repoPath, onChange)
			}
			w.logger.Warn("registering watch directories failed, polling instead", "error", err)
		} else {
			w.logger.Warn("fsnotify unavailable, polling instead", "error", err)
		}
	}
	return w.watchPolling(ctx, repoPath, onChange)
}

// watchEvents consumes fsnotify events. Events only mark the
// repository dirty and arm the settle timer; the scanner decides at
// flush time whether an indexable file actually changed.
func (w *Watcher) watchEvents(ctx context.Context, fsw *fsnotify.Watcher, repoPath string, onChange func(context.Context)) error {
	settle := time.NewTimer(w.settle)
	if !settle.Stop() {
		<-settle.C
	}
	defer settle.Stop()

	var dirty bool
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if w.ignoreEvent(repoPath, event) {
				continue
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := fsw.Add(event.Name); err != nil {
						w.logger.Warn("watching new directory failed", "path", event.Name, "error", err)
					}
				}
			}
			dirty = true
			if !settle.Stop() {
				select {
				case <-settle.C:
				default:
				}
			}
			settle.Reset(w.settle)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", "error", err)
		case <-settle.C:
			if !dirty {
				continue
			}
			dirty = false
			current, err := w.scan(ctx, repoPath)
			if err != nil {
				w.logger.Warn("watch rescan failed", "error", err)
				continue
			}
			if changed(w.snapshot, current) {
				w.snapshot = current
				onChange(ctx)
			}
		}
	}
}

// watchPolling diffs periodic scanner snapshots. Slower to notice
// changes than fsnotify but works everywhere.
func (w *Watcher) watchPolling(ctx context.Context, repoPath string, onChange func(context.Context)) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	var dirty bool
	var lastChange time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			current, err := w.scan(ctx, repoPath)
			if err != nil {
				w.logger.Warn("watch poll failed", "error", err)
				continue
			}
			if changed(w.snapshot, current) {
				w.snapshot = current
				dirty = true
				lastChange = time.Now()
				continue
			}
			if dirty && time.Since(lastChange) >= w.settle {
				dirty = false
				onChange(ctx)
			}
		}
	}
}

// ignoreEvent filters events that can never affect the index: chmods
// and anything under an always-excluded directory.
func (w *Watcher) ignoreEvent(repoPath string, event fsnotify.Event) bool {
	if event.Op == fsnotify.Chmod {
		return true
	}
	rel, err := filepath.Rel(repoPath, event.Name)
	if err != nil {
		return false
	}
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if scanner.IsExcludedDir(part) {
			return true
		}
	}
	return false
}

// addRecursive registers the repository's directory tree with the
// fsnotify watcher, skipping directories no scan would enter.
func (w *Watcher) addRecursive(fsw *fsnotify.Watcher, repoPath string) error {
	return filepath.WalkDir(repoPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if path != repoPath && scanner.IsExcludedDir(d.Name()) {
			return filepath.SkipDir
		}
		return fsw.Add(path)
	})
}

// scan snapshots the indexable files of the repository.
func (w *Watcher) scan(ctx context.Context, repoPath string) (map[string]stamp, error) {
	results, err := w.scanner.Scan(ctx, &scanner.ScanOptions{
		RootDir:          repoPath,
		RespectGitignore: true,
		ExtraExcludes:    []string{".xtrc"},
	})
	if err != nil {
		return nil, err
	}

	snapshot := make(map[string]stamp)
	for r := range results {
		if r.Error != nil {
			continue
		}
		snapshot[r.File.Path] = stamp{modTime: r.File.ModTime, size: r.File.Size}
	}

	// New .gitignore rules must apply on the next scan.
	w.scanner.InvalidateGitignoreCache()
	return snapshot, ctx.Err()
}

func changed(prev, current map[string]stamp) bool {
	if len(prev) != len(current) {
		return true
	}
	for path, cur := range current {
		old, ok := prev[path]
		if !ok || old.modTime != cur.modTime || old.size != cur.size {
			return true
		}
	}
	return false
}
