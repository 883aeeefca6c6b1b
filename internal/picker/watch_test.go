package picker

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fakeyudi/scanup/internal/session"
)

type batchRecorder struct {
	mu      sync.Mutex
	batches [][]string
	signal  chan struct{}
}

func newBatchRecorder() *batchRecorder {
	return &batchRecorder{signal: make(chan struct{}, 16)}
}

func (r *batchRecorder) emit(files []session.FileHandle) {
	names := make([]string, len(files))
	for i, f := range files {
		names[i] = f.Name()
	}
	r.mu.Lock()
	r.batches = append(r.batches, names)
	r.mu.Unlock()
	r.signal <- struct{}{}
}

func (r *batchRecorder) waitBatches(t *testing.T, n int) [][]string {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		r.mu.Lock()
		if len(r.batches) >= n {
			out := append([][]string(nil), r.batches...)
			r.mu.Unlock()
			return out
		}
		r.mu.Unlock()
		select {
		case <-r.signal:
		case <-deadline:
			t.Fatalf("timed out waiting for %d batches", n)
		}
	}
}

func startWatch(t *testing.T, dir string, rec *batchRecorder) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, dir, WatchOptions{
			Accept:   ParseAccept(DefaultAccept),
			Debounce: 200 * time.Millisecond,
		}, rec.emit)
	}()
	// Give the watcher a moment to register the directory.
	time.Sleep(100 * time.Millisecond)
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Watch returned error: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("Watch did not return after cancel")
		}
	})
	return cancel
}

func TestWatchBatchesFilesWithinDebounce(t *testing.T) {
	dir := t.TempDir()
	rec := newBatchRecorder()
	startWatch(t, dir, rec)

	writeFile(t, dir, "page1.jpg", "1")
	writeFile(t, dir, "notes.txt", "ignored")
	writeFile(t, dir, ".tmp-page2.jpg", "ignored")
	writeFile(t, dir, "page2.png", "2")

	batches := rec.waitBatches(t, 1)
	if len(batches[0]) != 2 || batches[0][0] != "page1.jpg" || batches[0][1] != "page2.png" {
		t.Errorf("first batch: got %v", batches[0])
	}

	// A later burst is a separate selection.
	time.Sleep(400 * time.Millisecond)
	writeFile(t, dir, "page3.jpg", "3")
	batches = rec.waitBatches(t, 2)
	if len(batches[1]) != 1 || batches[1][0] != "page3.jpg" {
		t.Errorf("second batch: got %v", batches[1])
	}
}

func TestWatchIgnoresNewDirectories(t *testing.T) {
	dir := t.TempDir()
	rec := newBatchRecorder()
	startWatch(t, dir, rec)

	if err := os.Mkdir(filepath.Join(dir, "album.jpg"), 0o755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, dir, "real.jpg", "r")

	batches := rec.waitBatches(t, 1)
	if len(batches[0]) != 1 || batches[0][0] != "real.jpg" {
		t.Errorf("got %v", batches[0])
	}
}

func TestWatchMissingDirectory(t *testing.T) {
	err := Watch(context.Background(), filepath.Join(t.TempDir(), "nope"), WatchOptions{}, func([]session.FileHandle) {})
	if err == nil {
		t.Fatal("expected error for missing directory")
	}
}
