package audit

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/repomind/repomind/pkg/models"
)

// stubEmbedder returns a fixed vector or a fixed error.
type stubEmbedder struct {
	err error
}

func (s *stubEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	return []float32{1, 0, 0}, nil
}

func (s *stubEmbedder) Dim() int { return 3 }

// stubSearcher returns canned snippets or an error.
type stubSearcher struct {
	snippets []models.ChunkSnippet
	err      error
	gotK     int
}

func (s *stubSearcher) SearchChunks(_ context.Context, _ int64, _ []float32, k int) ([]models.ChunkSnippet, error) {
	s.gotK = k
	return s.snippets, s.err
}

func TestRetrieveFormatsChunks(t *testing.T) {
	searcher := &stubSearcher{snippets: []models.ChunkSnippet{
		{Path: "auth/token.go", StartOffset: 0, EndOffset: 120, Content: "func Sign(claims Claims) string { ... }"},
		{Path: "auth/middleware.go", StartOffset: 200, EndOffset: 320, Content: "func Require(next http.Handler) http.Handler { ... }"},
	}}
	r := NewRetriever(&stubEmbedder{}, searcher)

	got := r.Retrieve(context.Background(), 1, "package auth", "auth/login.go", "Go")

	if !strings.HasPrefix(got, "Related code in repository:") {
		t.Errorf("missing header: %q", got)
	}
	if !strings.Contains(got, "// auth/token.go (bytes 0-120)") {
		t.Errorf("missing chunk header: %q", got)
	}
	if !strings.Contains(got, "func Require(next http.Handler)") {
		t.Errorf("missing second chunk: %q", got)
	}
	if searcher.gotK != defaultRetrieveLimit {
		t.Errorf("search limit = %d, want %d", searcher.gotK, defaultRetrieveLimit)
	}
}

func TestRetrieveTruncatesLongChunks(t *testing.T) {
	searcher := &stubSearcher{snippets: []models.ChunkSnippet{
		{Path: "big.go", Content: strings.Repeat("x", 900)},
	}}
	r := NewRetriever(&stubEmbedder{}, searcher)

	got := r.Retrieve(context.Background(), 1, "code", "a.go", "Go")

	if !strings.Contains(got, "// ... (truncated)") {
		t.Errorf("long chunk not truncated: %q", got[:80])
	}
	if strings.Contains(got, strings.Repeat("x", defaultMaxChunk+1)) {
		t.Error("chunk exceeds per-chunk cap")
	}
}

func TestRetrieveCapsOverallContext(t *testing.T) {
	var snippets []models.ChunkSnippet
	for i := 0; i < 10; i++ {
		snippets = append(snippets, models.ChunkSnippet{
			Path:    "f.go",
			Content: strings.Repeat("y", 490),
		})
	}
	r := NewRetriever(&stubEmbedder{}, &stubSearcher{snippets: snippets})

	got := r.Retrieve(context.Background(), 1, "code", "a.go", "Go")

	if !strings.Contains(got, "// ... (more related code available)") {
		t.Error("overflow marker missing")
	}
	// The cap is a soft stop after the chunk that crossed it.
	if len(got) > defaultMaxContext+defaultMaxChunk+200 {
		t.Errorf("context length %d far exceeds cap", len(got))
	}
}

func TestRetrieveNeutralOnEmptyAndErrors(t *testing.T) {
	tests := []struct {
		name     string
		embedder *stubEmbedder
		searcher *stubSearcher
	}{
		{"empty store", &stubEmbedder{}, &stubSearcher{}},
		{"search error", &stubEmbedder{}, &stubSearcher{err: errors.New("db down")}},
		{"embed error", &stubEmbedder{err: errors.New("api down")}, &stubSearcher{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRetriever(tt.embedder, tt.searcher)
			got := r.Retrieve(context.Background(), 1, "code", "a.go", "Go")
			if got != neutralContext {
				t.Errorf("Retrieve() = %q, want neutral string", got)
			}
		})
	}
}

func TestBuildQuery(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		path     string
		language string
		want     []string
		absent   []string
	}{
		{
			name:     "java controller",
			content:  "import com.acme.auth.TokenService;\nimport com.acme.user.UserRepository;\n\npublic class LoginController {\n}",
			path:     "src/main/java/com/acme/LoginController.java",
			language: "Java",
			want: []string{
				"LoginController.java",
				"imports: TokenService UserRepository",
				"type: LoginController",
				"Java",
				"API endpoint HTTP request response",
			},
		},
		{
			name:     "python service",
			content:  "from django import forms\nimport requests\n\nclass PaymentService:\n    pass",
			path:     "app/services/payment.py",
			language: "Python",
			want: []string{
				"payment.py",
				"imports: django forms requests",
				"type: PaymentService",
				"business logic service layer",
			},
		},
		{
			name:     "go store",
			content:  "package store\n\nimport (\n\t\"github.com/jackc/pgx/v5\"\n)\n\ntype Store struct{}",
			path:     "internal/store/store.go",
			language: "Go",
			want: []string{
				"store.go",
				"imports: v5",
				"type: Store",
				"database query persistence",
			},
		},
		{
			name:     "plain file",
			content:  "x = 1",
			path:     "misc.py",
			language: "Python",
			want:     []string{"misc.py", "Python"},
			absent:   []string{"imports:", "type:"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BuildQuery(tt.content, tt.path, tt.language)
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Errorf("query %q missing %q", got, w)
				}
			}
			for _, a := range tt.absent {
				if strings.Contains(got, a) {
					t.Errorf("query %q unexpectedly contains %q", got, a)
				}
			}
		})
	}
}

func TestExtractImportsCap(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 40; i++ {
		b.WriteString("import com.acme.Thing")
		b.WriteRune(rune('A' + i%26))
		b.WriteString(";\n")
	}
	imports := extractImports(b.String(), "Java")
	if len(imports) != maxQueryImports {
		t.Errorf("extracted %d imports, want cap %d", len(imports), maxQueryImports)
	}
}
