package batch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestState_SaveAndLoad(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "state.json")

	s := &State{path: statePath}
	s.MarkProcessed("a.m4a")
	s.MarkProcessed("b.m4a")
	s.ChunksProcessed = 10
	s.ChunksFailed = 1

	if err := s.Save(); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	loaded, err := LoadState(statePath)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if !loaded.IsProcessed("a.m4a") || !loaded.IsProcessed("b.m4a") {
		t.Error("processed files lost across reload")
	}
	if loaded.ChunksProcessed != 10 || loaded.ChunksFailed != 1 {
		t.Errorf("counters lost: %d/%d", loaded.ChunksProcessed, loaded.ChunksFailed)
	}
}

func TestState_LoadMissing(t *testing.T) {
	s, err := LoadState(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("load of missing state should start fresh: %v", err)
	}
	if len(s.FilesProcessed) != 0 {
		t.Errorf("fresh state should have no processed files")
	}
	if s.IsProcessed("x.m4a") {
		t.Error("fresh state claims a file is processed")
	}
}

func TestState_MarkProcessedIdempotent(t *testing.T) {
	s := &State{}
	s.MarkProcessed("a.m4a")
	s.MarkProcessed("a.m4a")
	if len(s.FilesProcessed) != 1 {
		t.Errorf("expected 1 entry, got %d", len(s.FilesProcessed))
	}
}

func writeFiles(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, name := range names {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
}

func TestDiscoverFiles_SkipsCachedTranscripts(t *testing.T) {
	dir := t.TempDir()
	// a.txt is the cached transcript of a.m4a; c.txt stands alone.
	writeFiles(t, dir, "a.m4a", "a.txt", "b.mp3", "c.txt", "notes.pdf", ".careform-state.json")

	files, err := discoverFiles(dir)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	want := []string{"a.m4a", "b.mp3", "c.txt"}
	if len(files) != len(want) {
		t.Fatalf("files = %v, want %v", files, want)
	}
	for i := range want {
		if files[i] != want[i] {
			t.Errorf("files[%d] = %s, want %s", i, files[i], want[i])
		}
	}
}

func TestRunner_ProcessesAndResumes(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "a.txt", "b.txt", "c.txt")

	var processed []string
	process := func(ctx context.Context, path string) (int, int, error) {
		name := filepath.Base(path)
		processed = append(processed, name)
		if name == "b.txt" {
			return 0, 0, errors.New("oracle unavailable")
		}
		return 4, 1, nil
	}

	r := NewRunner(process, testLogger())
	state, err := r.Run(context.Background(), dir)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(processed) != 3 {
		t.Fatalf("processed %v, want all 3 files", processed)
	}
	if state.ChunksProcessed != 8 || state.ChunksFailed != 2 {
		t.Errorf("chunks = %d/%d, want 8/2", state.ChunksProcessed, state.ChunksFailed)
	}
	if state.IsProcessed("b.txt") {
		t.Error("failed file must not be marked processed")
	}
	if len(state.Errors) != 1 {
		t.Errorf("errors = %v, want the one failure recorded", state.Errors)
	}

	// A second run retries only the failed file.
	processed = nil
	if _, err := r.Run(context.Background(), dir); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if len(processed) != 1 || processed[0] != "b.txt" {
		t.Errorf("second run processed %v, want only b.txt", processed)
	}
}

func TestRunner_ContextCancelled(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "a.txt")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := NewRunner(func(ctx context.Context, path string) (int, int, error) {
		t.Fatal("process must not run after cancellation")
		return 0, 0, nil
	}, testLogger())

	if _, err := r.Run(ctx, dir); !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
}
