package watcher

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWatcher_FiresAfterDebounce(t *testing.T) {
	dir := t.TempDir()

	var fired atomic.Int32
	w, err := New(dir, 50*time.Millisecond, func(ctx context.Context) {
		fired.Add(1)
	}, testLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	// Burst of writes should collapse into one rescan.
	for i := 0; i < 3; i++ {
		name := filepath.Join(dir, "2024-01-15_14-30-25-front.mp4")
		if err := os.WriteFile(name, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	deadline := time.Now().Add(2 * time.Second)
	for fired.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("callback never fired")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// Allow any stragglers to land, then confirm the burst coalesced.
	time.Sleep(200 * time.Millisecond)
	if got := fired.Load(); got != 1 {
		t.Errorf("callback fired %d times, want 1", got)
	}
}

func TestWatcher_IgnoresHiddenFiles(t *testing.T) {
	dir := t.TempDir()

	var fired atomic.Int32
	w, err := New(dir, 50*time.Millisecond, func(ctx context.Context) {
		fired.Add(1)
	}, testLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	if err := os.WriteFile(filepath.Join(dir, ".DS_Store"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	time.Sleep(300 * time.Millisecond)
	if got := fired.Load(); got != 0 {
		t.Errorf("callback fired %d times for hidden file, want 0", got)
	}
}

func TestWatcher_MissingRoot(t *testing.T) {
	// A missing root yields a watcher with nothing registered rather
	// than an error, matching WalkDir's tolerance, so just assert New
	// does not fail when pointed at an empty directory.
	dir := t.TempDir()
	w, err := New(dir, 0, func(ctx context.Context) {}, testLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if w.debounce != DefaultDebounce {
		t.Errorf("debounce = %v, want default %v", w.debounce, DefaultDebounce)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w.Run(ctx)
}
