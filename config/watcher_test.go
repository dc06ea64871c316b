package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileWatcherFiresOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  http_port: 8080\n"), 0o644))

	w := NewFileWatcher([]string{path}, 10*time.Millisecond, nil)
	events := make(chan FileEvent, 1)
	w.OnChange(func(ev FileEvent) {
		select {
		case events <- ev:
		default:
		}
	})
	w.Start(context.Background())
	defer w.Stop()

	// Bump the mtime explicitly so coarse filesystem timestamp
	// granularity cannot hide the write.
	require.NoError(t, os.WriteFile(path, []byte("server:\n  http_port: 9090\n"), 0o644))
	future := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(path, future, future))

	select {
	case ev := <-events:
		assert.Equal(t, path, ev.Path)
	case <-time.After(2 * time.Second):
		t.Fatal("no change event observed")
	}
}

func TestFileWatcherIgnoresUnchangedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("x: 1\n"), 0o644))

	w := NewFileWatcher([]string{path}, 10*time.Millisecond, nil)
	events := make(chan FileEvent, 1)
	w.OnChange(func(ev FileEvent) { events <- ev })
	w.Start(context.Background())
	defer w.Stop()

	select {
	case <-events:
		t.Fatal("unexpected event for unchanged file")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestFileWatcherStopIdempotent(t *testing.T) {
	w := NewFileWatcher(nil, 10*time.Millisecond, nil)
	w.Start(context.Background())
	w.Stop()
	w.Stop()
}

func TestFileWatcherContextCancelStops(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("x: 1\n"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	w := NewFileWatcher([]string{path}, 10*time.Millisecond, nil)
	w.Start(ctx)
	cancel()

	// Restart after cancellation is a no-op while running is still set;
	// Stop clears it.
	w.Stop()
}
