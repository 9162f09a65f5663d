package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastWatcher(t *testing.T) *Watcher {
	t.Helper()
	w, err := New(nil)
	require.NoError(t, err)
	w.SetIntervals(20*time.Millisecond, 60*time.Millisecond)
	return w
}

func writeSource(t *testing.T, repo, rel, content string) {
	t.Helper()
	path := filepath.Join(repo, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestWatchFiresAfterChange(t *testing.T) {
	repo := t.TempDir()
	writeSource(t, repo, "main.py", "def main():\n    pass\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := fastWatcher(t)
	var fired atomic.Int32
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Watch(ctx, repo, func(context.Context) {
			fired.Add(1)
		})
	}()

	// Let the baseline settle, then change a file.
	time.Sleep(100 * time.Millisecond)
	writeSource(t, repo, "main.py", "def main():\n    return 1\n")

	require.Eventually(t, func() bool { return fired.Load() >= 1 },
		2*time.Second, 20*time.Millisecond)

	cancel()
	<-done
}

func TestWatchCoalescesBursts(t *testing.T) {
	repo := t.TempDir()
	writeSource(t, repo, "a.py", "x = 1\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := fastWatcher(t)
	var fired atomic.Int32
	go func() {
		_ = w.Watch(ctx, repo, func(context.Context) {
			fired.Add(1)
		})
	}()

	time.Sleep(100 * time.Millisecond)
	// A burst of writes inside the settle window.
	for i := 0; i < 4; i++ {
		writeSource(t, repo, "a.py", string(rune('a'+i))+" = 1\n")
		time.Sleep(10 * time.Millisecond)
	}

	require.Eventually(t, func() bool { return fired.Load() >= 1 },
		2*time.Second, 20*time.Millisecond)
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, int32(1), fired.Load())
}

func TestWatchIgnoresBaseline(t *testing.T) {
	repo := t.TempDir()
	writeSource(t, repo, "a.py", "x = 1\n")

	ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()

	var fired atomic.Int32
	err := fastWatcher(t).Watch(ctx, repo, func(context.Context) {
		fired.Add(1)
	})

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int32(0), fired.Load())
}

func TestWatchPollingFallbackFiresAfterChange(t *testing.T) {
	repo := t.TempDir()
	writeSource(t, repo, "main.py", "def main():\n    pass\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := fastWatcher(t)
	w.forcePoll = true
	var fired atomic.Int32
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Watch(ctx, repo, func(context.Context) {
			fired.Add(1)
		})
	}()

	time.Sleep(100 * time.Millisecond)
	writeSource(t, repo, "main.py", "def main():\n    return 1\n")

	require.Eventually(t, func() bool { return fired.Load() >= 1 },
		2*time.Second, 20*time.Millisecond)

	cancel()
	<-done
}

func TestIgnoreEventFilters(t *testing.T) {
	w, err := New(nil)
	require.NoError(t, err)

	repo := filepath.Join("/", "repo")
	assert.True(t, w.ignoreEvent(repo, fsnotify.Event{Name: filepath.Join(repo, ".git", "HEAD"), Op: fsnotify.Write}))
	assert.True(t, w.ignoreEvent(repo, fsnotify.Event{Name: filepath.Join(repo, "node_modules", "x", "i.js"), Op: fsnotify.Create}))
	assert.True(t, w.ignoreEvent(repo, fsnotify.Event{Name: filepath.Join(repo, "a.py"), Op: fsnotify.Chmod}))
	assert.False(t, w.ignoreEvent(repo, fsnotify.Event{Name: filepath.Join(repo, "src", "a.py"), Op: fsnotify.Write}))
}

func TestChangedDetectsDeletes(t *testing.T) {
	prev := map[string]stamp{"a.py": {size: 1}, "b.py": {size: 2}}
	current := map[string]stamp{"a.py": {size: 1}}

	assert.True(t, changed(prev, current))
	assert.False(t, changed(prev, map[string]stamp{"a.py": {size: 1}, "b.py": {size: 2}}))
}
