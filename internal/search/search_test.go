package search

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/rs/zerolog"

	"github.com/repomind/repomind/pkg/models"
)

func init() {
	zerolog.SetGlobalLevel(zerolog.Disabled)
}

// mockEmbedder implements the ai.Client interface for testing.
type mockEmbedder struct {
	EmbedFunc func(ctx context.Context, text string) ([]float32, error)
}

func (m *mockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if m.EmbedFunc != nil {
		return m.EmbedFunc(ctx, text)
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

func (m *mockEmbedder) Dim() int { return 3 }

// mockSearcher implements store.ChunkSearcher for testing.
type mockSearcher struct {
	SearchFunc func(ctx context.Context, repositoryID int64, vec []float32, k int) ([]models.ChunkSnippet, error)
}

func (m *mockSearcher) SearchChunks(ctx context.Context, repositoryID int64, vec []float32, k int) ([]models.ChunkSnippet, error) {
	if m.SearchFunc != nil {
		return m.SearchFunc(ctx, repositoryID, vec, k)
	}
	return []models.ChunkSnippet{}, nil
}

func TestServiceQuery(t *testing.T) {
	want := []models.ChunkSnippet{
		{Path: "src/main.go", Content: "func main() {}"},
		{Path: "src/server.go", Content: "func serve() {}"},
	}

	var gotQuery string
	var gotK int
	svc := NewService(
		&mockEmbedder{EmbedFunc: func(_ context.Context, text string) ([]float32, error) {
			gotQuery = text
			return []float32{1, 2, 3}, nil
		}},
		&mockSearcher{SearchFunc: func(_ context.Context, repositoryID int64, vec []float32, k int) ([]models.ChunkSnippet, error) {
			if repositoryID != 42 {
				t.Errorf("repositoryID = %d, want 42", repositoryID)
			}
			if !reflect.DeepEqual(vec, []float32{1, 2, 3}) {
				t.Errorf("vec = %v", vec)
			}
			gotK = k
			return want, nil
		}},
	)

	res, err := svc.Query(context.Background(), 42, "  http server setup  ", 2)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if !reflect.DeepEqual(res, want) {
		t.Errorf("results = %+v", res)
	}
	if gotQuery != "http server setup" {
		t.Errorf("query not trimmed: %q", gotQuery)
	}
	if gotK != 2 {
		t.Errorf("k = %d, want 2", gotK)
	}
}

func TestServiceQueryDefaultLimit(t *testing.T) {
	var gotK int
	svc := NewService(&mockEmbedder{}, &mockSearcher{
		SearchFunc: func(_ context.Context, _ int64, _ []float32, k int) ([]models.ChunkSnippet, error) {
			gotK = k
			return []models.ChunkSnippet{}, nil
		},
	})

	if _, err := svc.Query(context.Background(), 1, "query", 0); err != nil {
		t.Fatalf("Query: %v", err)
	}
	if gotK != DefaultLimit {
		t.Errorf("k = %d, want %d", gotK, DefaultLimit)
	}
}

func TestServiceQueryEmbedFailureReturnsEmpty(t *testing.T) {
	searched := false
	svc := NewService(
		&mockEmbedder{EmbedFunc: func(context.Context, string) ([]float32, error) {
			return nil, errors.New("provider down")
		}},
		&mockSearcher{SearchFunc: func(context.Context, int64, []float32, int) ([]models.ChunkSnippet, error) {
			searched = true
			return nil, nil
		}},
	)

	res, err := svc.Query(context.Background(), 1, "query", 5)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if res == nil || len(res) != 0 {
		t.Errorf("results = %v, want empty non-nil slice", res)
	}
	if searched {
		t.Error("store searched despite embed failure")
	}
}

func TestServiceQueryStoreError(t *testing.T) {
	svc := NewService(&mockEmbedder{}, &mockSearcher{
		SearchFunc: func(context.Context, int64, []float32, int) ([]models.ChunkSnippet, error) {
			return nil, errors.New("connection refused")
		},
	})

	if _, err := svc.Query(context.Background(), 1, "query", 5); err == nil {
		t.Error("expected store error to propagate")
	}
}
