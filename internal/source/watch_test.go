package source

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

func TestWatcherReportsSettledChanges(t *testing.T) {
	defer goleak.VerifyNone(t)

	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "guide"), 0o755))
	watcher, err := NewWatcher(root, 30*time.Millisecond, zaptest.NewLogger(t))
	require.NoError(t, err)

	changes := make(chan struct{}, 8)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- watcher.Run(ctx, func(context.Context) error {
			changes <- struct{}{}
			return nil
		})
	}()

	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(root, "guide", "intro.md"), []byte{byte('a' + i)}, 0o644))
	}
	select {
	case <-changes:
	case <-time.After(5 * time.Second):
		t.Fatalf("expected a change notification")
	}

	// A directory created while running is watched too.
	nested := filepath.Join(root, "guide", "nested")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	drain(changes, 200*time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(nested, "deep.md"), []byte("x"), 0o644))
	select {
	case <-changes:
	case <-time.After(5 * time.Second):
		t.Fatalf("expected a change notification from the new directory")
	}

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatalf("watcher did not stop")
	}
}

func drain(ch <-chan struct{}, quiet time.Duration) {
	for {
		select {
		case <-ch:
		case <-time.After(quiet):
			return
		}
	}
}
