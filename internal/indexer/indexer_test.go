package indexer

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/repomind/repomind/internal/chunker"
	"github.com/repomind/repomind/pkg/models"
)

func init() {
	zerolog.SetGlobalLevel(zerolog.Disabled)
}

// mockChunkStore records inserted batches.
type mockChunkStore struct {
	batches   [][]models.Chunk
	deletes   []int64
	insertErr error
}

func (m *mockChunkStore) InsertChunks(_ context.Context, chunks []models.Chunk) error {
	if m.insertErr != nil {
		return m.insertErr
	}
	batch := make([]models.Chunk, len(chunks))
	copy(batch, chunks)
	m.batches = append(m.batches, batch)
	return nil
}

func (m *mockChunkStore) DeleteChunks(_ context.Context, repositoryID int64) error {
	m.deletes = append(m.deletes, repositoryID)
	return nil
}

func (m *mockChunkStore) total() int {
	n := 0
	for _, b := range m.batches {
		n += len(b)
	}
	return n
}

// mockSource serves files from a map, with optional per-path errors.
type mockSource struct {
	files    map[string]string
	fetchErr map[string]error
}

func (m *mockSource) ListFiles(_ context.Context, _, _ string) ([]string, error) {
	paths := make([]string, 0, len(m.files))
	// Deterministic order keeps assertions simple.
	for _, p := range []string{
		"main.go", "service.go", "vendor/lib.go", "logo.png", "empty.go", "broken.go",
	} {
		if _, ok := m.files[p]; ok {
			paths = append(paths, p)
		}
	}
	return paths, nil
}

func (m *mockSource) GetFileContent(_ context.Context, _, _, path string) (string, error) {
	if err := m.fetchErr[path]; err != nil {
		return "", err
	}
	return m.files[path], nil
}

// mockEmbedder embeds everything to a fixed vector, with optional
// failure on content substring.
type mockEmbedder struct {
	failOn string
	calls  int
}

func (m *mockEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	m.calls++
	if m.failOn != "" && strings.Contains(text, m.failOn) {
		return nil, errors.New("embedding unavailable")
	}
	return []float32{1, 2, 3}, nil
}

func (m *mockEmbedder) Dim() int { return 3 }

func testChunker(t *testing.T, size, overlap int) *chunker.Chunker {
	t.Helper()
	c, err := chunker.New(size, overlap)
	if err != nil {
		t.Fatalf("chunker.New: %v", err)
	}
	return c
}

func TestRunIndexesAndSkips(t *testing.T) {
	src := &mockSource{
		files: map[string]string{
			"main.go":       "package main\n\nfunc main() { run() }\n",
			"service.go":    "package main\n\nfunc run() error { return nil }\n",
			"vendor/lib.go": "package lib\n",
			"logo.png":      "\x89PNG",
			"empty.go":      "   \n\t\n",
			"broken.go":     "package main\n// unreachable\n",
		},
		fetchErr: map[string]error{"broken.go": errors.New("403")},
	}
	st := &mockChunkStore{}
	ix := NewWithDependencies(st, src, &mockEmbedder{}, testChunker(t, 1000, 200))

	repo := models.Repository{ID: 42, Owner: "acme", Name: "widget"}
	stats, err := ix.Run(context.Background(), repo)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// vendor/ and .png never make it past the filter.
	if stats.FilesSeen != 4 {
		t.Errorf("FilesSeen = %d, want 4", stats.FilesSeen)
	}
	if stats.FilesIndexed != 2 {
		t.Errorf("FilesIndexed = %d, want 2", stats.FilesIndexed)
	}
	if stats.FilesFailed != 1 {
		t.Errorf("FilesFailed = %d, want 1", stats.FilesFailed)
	}
	if stats.Chunks != 2 || st.total() != 2 {
		t.Errorf("Chunks = %d, stored %d, want 2", stats.Chunks, st.total())
	}
	for _, b := range st.batches {
		for _, c := range b {
			if c.RepositoryID != 42 {
				t.Errorf("chunk repository = %d, want 42", c.RepositoryID)
			}
			if c.Embedding == nil {
				t.Errorf("chunk %s has no embedding", c.Path)
			}
		}
	}
}

func TestRunFlushesEveryBatchSize(t *testing.T) {
	// One large file chunked small yields many chunks.
	src := &mockSource{files: map[string]string{
		"main.go": "package main\n" + strings.Repeat("x", 500),
	}}
	st := &mockChunkStore{}
	ix := NewWithDependencies(st, src, &mockEmbedder{}, testChunker(t, 100, 20))
	ix.BatchSize = 2

	stats, err := ix.Run(context.Background(), models.Repository{ID: 1})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Chunks < 5 {
		t.Fatalf("Chunks = %d, want several", stats.Chunks)
	}
	for i, b := range st.batches[:len(st.batches)-1] {
		if len(b) != 2 {
			t.Errorf("batch %d size = %d, want 2", i, len(b))
		}
	}
	if st.total() != stats.Chunks {
		t.Errorf("stored %d chunks, stats say %d", st.total(), stats.Chunks)
	}
}

func TestRunReplaceDeletesPriorChunks(t *testing.T) {
	src := &mockSource{files: map[string]string{"main.go": "package main\n"}}

	st := &mockChunkStore{}
	ix := NewWithDependencies(st, src, &mockEmbedder{}, testChunker(t, 1000, 200))
	if _, err := ix.Run(context.Background(), models.Repository{ID: 9}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(st.deletes) != 1 || st.deletes[0] != 9 {
		t.Errorf("deletes = %v, want [9]", st.deletes)
	}

	st = &mockChunkStore{}
	ix = NewWithDependencies(st, src, &mockEmbedder{}, testChunker(t, 1000, 200))
	ix.Replace = false
	if _, err := ix.Run(context.Background(), models.Repository{ID: 9}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(st.deletes) != 0 {
		t.Errorf("deletes = %v, want none", st.deletes)
	}
}

func TestRunEmbedFailureSkipsWholeFile(t *testing.T) {
	src := &mockSource{files: map[string]string{
		"main.go":    "package main usable content\n",
		"service.go": "package main POISON in the middle\n",
	}}
	st := &mockChunkStore{}
	ix := NewWithDependencies(st, src, &mockEmbedder{failOn: "POISON"}, testChunker(t, 1000, 200))

	stats, err := ix.Run(context.Background(), models.Repository{ID: 1})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.FilesIndexed != 1 || stats.FilesFailed != 1 {
		t.Errorf("stats = %+v", stats)
	}
	for _, b := range st.batches {
		for _, c := range b {
			if c.Path == "service.go" {
				t.Error("failed file was partially persisted")
			}
		}
	}
}

func TestRunFlushErrorIsNotFatal(t *testing.T) {
	src := &mockSource{files: map[string]string{"main.go": "package main\n"}}
	st := &mockChunkStore{insertErr: errors.New("db down")}
	ix := NewWithDependencies(st, src, &mockEmbedder{}, testChunker(t, 1000, 200))

	stats, err := ix.Run(context.Background(), models.Repository{ID: 1})
	if err != nil {
		t.Fatalf("Run returned %v, flush errors must be swallowed", err)
	}
	if stats.Chunks != 0 {
		t.Errorf("Chunks = %d, want 0 when every flush fails", stats.Chunks)
	}
}

func TestShouldSkip(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"main.go", false},
		{"src/app/service.java", false},
		{"config.yaml", false},
		{"vendor/dep/dep.go", true},
		{"src/node_modules/pkg/index.js", true},
		{"logo.png", true},
		{"a.out", true},
		{"scripts/deploy.sh", false},
	}
	for _, tt := range tests {
		if got := shouldSkip(tt.path); got != tt.want {
			t.Errorf("shouldSkip(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}
