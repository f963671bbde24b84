package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/samcharles93/tradepolicy/internal/logger"
)

func TestReloadIsDebounced(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.onnx")
	if err := os.WriteFile(path, []byte("v1"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	var calls atomic.Int32
	fired := make(chan struct{}, 8)
	w := &Watcher{
		Path:  path,
		Delay: 100 * time.Millisecond,
		OnChange: func(context.Context) error {
			calls.Add(1)
			fired <- struct{}{}
			return nil
		},
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	// unrelated files are ignored
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	for _, v := range []string{"v2", "v3", "v4"} {
		if err := os.WriteFile(path, []byte(v), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	select {
	case <-fired:
	case <-time.After(5 * time.Second):
		t.Fatal("no reload after writes")
	}
	time.Sleep(300 * time.Millisecond)
	if got := calls.Load(); got != 1 {
		t.Fatalf("reloads = %d, want 1", got)
	}
}

func TestStartRequiresHandler(t *testing.T) {
	t.Parallel()
	w := &Watcher{Path: filepath.Join(t.TempDir(), "policy.onnx")}
	if err := w.Start(context.Background()); err == nil {
		t.Fatal("expected an error without a handler")
	}
}

func TestStartMissingDirectory(t *testing.T) {
	t.Parallel()
	w := &Watcher{
		Path:     filepath.Join(t.TempDir(), "gone", "policy.onnx"),
		OnChange: func(context.Context) error { return nil },
	}
	if err := w.Start(context.Background()); err == nil {
		t.Fatal("expected an error for a missing directory")
	}
}

func TestReloadsNeverOverlap(t *testing.T) {
	t.Parallel()
	var active, peak atomic.Int32
	started := make(chan struct{}, 2)
	done := make(chan struct{}, 2)
	w := &Watcher{
		Path:   filepath.Join(t.TempDir(), "policy.onnx"),
		Delay:  time.Millisecond,
		Logger: logger.Discard(),
		OnChange: func(context.Context) error {
			n := active.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			started <- struct{}{}
			time.Sleep(100 * time.Millisecond)
			active.Add(-1)
			done <- struct{}{}
			return nil
		},
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w.schedule(ctx)
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("first reload never started")
	}
	// a write landing while the first reload is still running
	w.schedule(ctx)

	for range 2 {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("reload did not finish")
		}
	}
	if got := peak.Load(); got != 1 {
		t.Fatalf("concurrent reloads = %d, want 1", got)
	}
}
