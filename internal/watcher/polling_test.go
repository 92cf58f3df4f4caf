package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startPolling(t *testing.T, paths ...string) *PollingWatcher {
	t.Helper()
	w := NewPollingWatcher(20*time.Millisecond, 16, paths...)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = w.Start(ctx) }()
	// Wait for the baseline
	time.Sleep(60 * time.Millisecond)
	return w
}

func nextEvent(t *testing.T, w *PollingWatcher) Event {
	t.Helper()
	select {
	case e := <-w.Events():
		return e
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for polling event")
		return Event{}
	}
}

func TestPollingWatcher_DetectsLifecycle(t *testing.T) {
	// Given: a watched file that does not exist yet
	path := filepath.Join(t.TempDir(), "queue.db")
	w := startPolling(t, path)

	// When: it is created
	require.NoError(t, os.WriteFile(path, []byte("a"), 0o644))
	e := nextEvent(t, w)
	assert.Equal(t, OpCreate, e.Operation)
	assert.Equal(t, path, e.Path)

	// When: it grows
	require.NoError(t, os.WriteFile(path, []byte("abc"), 0o644))
	assert.Equal(t, OpModify, nextEvent(t, w).Operation)

	// When: it is removed
	require.NoError(t, os.Remove(path))
	assert.Equal(t, OpDelete, nextEvent(t, w).Operation)

	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())
}

func TestPollingWatcher_IgnoresUnwatchedFiles(t *testing.T) {
	dir := t.TempDir()
	w := startPolling(t, filepath.Join(dir, "queue.db"))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.txt"), []byte("x"), 0o644))

	select {
	case e := <-w.Events():
		t.Fatalf("unexpected event %+v", e)
	case <-time.After(150 * time.Millisecond):
	}
}
