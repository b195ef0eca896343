// Package indexer walks a repository's files, chunks them, embeds each
// chunk and persists the result in batches.
package indexer

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/src-d/enry/v2"

	"github.com/repomind/repomind/internal/ai"
	"github.com/repomind/repomind/internal/chunker"
	"github.com/repomind/repomind/internal/source"
	"github.com/repomind/repomind/internal/store"
	"github.com/repomind/repomind/pkg/models"
)

// DefaultBatchSize is how many chunks accumulate before a flush.
const DefaultBatchSize = 50

// Stats summarizes one indexing run.
type Stats struct {
	FilesSeen    int
	FilesIndexed int
	FilesFailed  int
	Chunks       int
}

// Indexer drives the fetch -> chunk -> embed -> persist pipeline for
// one repository. Per-file errors are logged and skipped; the pipeline
// only fails when the file listing itself cannot be obtained.
type Indexer struct {
	Store     store.ChunkStore
	Source    source.Client
	Client    ai.Client
	Chunker   *chunker.Chunker
	BatchSize int
	// Replace deletes the repository's existing chunks before the
	// first flush so a re-index never leaves stale matches behind.
	Replace bool
}

// New creates an Indexer with the default chunking and batching
// parameters. The embedding client is wrapped with the retry gateway.
func New(s store.ChunkStore, src source.Client, clientConfig *ai.ClientConfig) (*Indexer, error) {
	client, err := ai.NewClient(clientConfig)
	if err != nil {
		return nil, err
	}

	return &Indexer{
		Store:     s,
		Source:    src,
		Client:    ai.WithRetry(client, ai.DefaultRetryConfig()),
		Chunker:   chunker.Default(),
		BatchSize: DefaultBatchSize,
		Replace:   true,
	}, nil
}

// NewWithDependencies creates an Indexer with custom dependencies for testing.
func NewWithDependencies(s store.ChunkStore, src source.Client, client ai.Client, ch *chunker.Chunker) *Indexer {
	return &Indexer{
		Store:     s,
		Source:    src,
		Client:    client,
		Chunker:   ch,
		BatchSize: DefaultBatchSize,
		Replace:   true,
	}
}

// Run indexes the repository and returns what happened to each file.
func (ix *Indexer) Run(ctx context.Context, repo models.Repository) (Stats, error) {
	var stats Stats

	paths, err := ix.Source.ListFiles(ctx, repo.Owner, repo.Name)
	if err != nil {
		return stats, err
	}

	if ix.Replace {
		if err := ix.Store.DeleteChunks(ctx, repo.ID); err != nil {
			return stats, err
		}
	}

	batchSize := ix.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	var pending []models.Chunk
	flush := func() {
		if len(pending) == 0 {
			return
		}
		if err := ix.Store.InsertChunks(ctx, pending); err != nil {
			log.Error().Err(err).Int("chunks", len(pending)).Msg("chunk flush failed, batch dropped")
		} else {
			stats.Chunks += len(pending)
		}
		pending = pending[:0]
	}

	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if shouldSkip(path) {
			continue
		}
		stats.FilesSeen++

		content, err := ix.Source.GetFileContent(ctx, repo.Owner, repo.Name, path)
		if err != nil {
			log.Warn().Err(err).Str("path", path).Msg("failed to fetch file, skipping")
			stats.FilesFailed++
			continue
		}
		if strings.TrimSpace(content) == "" {
			continue
		}

		lang := detectLanguage(path, content)
		fileChunks, err := ix.embedFile(ctx, repo.ID, path, lang, content)
		if err != nil {
			log.Warn().Err(err).Str("path", path).Msg("embedding failed, skipping file")
			stats.FilesFailed++
			continue
		}
		if len(fileChunks) == 0 {
			continue
		}
		stats.FilesIndexed++
		for _, c := range fileChunks {
			pending = append(pending, c)
			if len(pending) >= batchSize {
				flush()
			}
		}
	}
	flush()

	log.Info().
		Str("repository", repo.FullName()).
		Int("seen", stats.FilesSeen).
		Int("indexed", stats.FilesIndexed).
		Int("failed", stats.FilesFailed).
		Int("chunks", stats.Chunks).
		Msg("indexing finished")
	return stats, nil
}

// embedFile chunks and embeds one file. An embedding error anywhere in
// the file discards the whole file so it is never half-indexed.
func (ix *Indexer) embedFile(ctx context.Context, repoID int64, path, lang, content string) ([]models.Chunk, error) {
	var chunks []models.Chunk
	for _, seg := range ix.Chunker.Split(content) {
		vec, err := ix.Client.Embed(ctx, seg.Content)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, models.Chunk{
			RepositoryID: repoID,
			Path:         path,
			Language:     lang,
			StartOffset:  seg.Start,
			EndOffset:    seg.End,
			Content:      seg.Content,
			Embedding:    vec,
		})
	}
	return chunks, nil
}

// detectLanguage names the file's language, preferring enry's content
// classifier and falling back to the extension.
func detectLanguage(path, content string) string {
	if lang := enry.GetLanguage(filepath.Base(path), []byte(content)); lang != "" {
		return strings.ToLower(lang)
	}
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
}

// indexableExts are the source file types worth embedding.
var indexableExts = map[string]bool{
	".go": true, ".py": true, ".java": true, ".js": true, ".jsx": true,
	".ts": true, ".tsx": true, ".rb": true, ".php": true, ".rs": true,
	".c": true, ".h": true, ".cpp": true, ".hpp": true, ".cs": true,
	".kt": true, ".scala": true, ".swift": true, ".sh": true, ".sql": true,
	".yaml": true, ".yml": true, ".tf": true, ".md": true, ".json": true,
}

// shouldSkip returns true if the file at path should not be indexed.
func shouldSkip(path string) bool {
	p := strings.ToLower(filepath.ToSlash(path))
	for _, dir := range []string{
		"vendor/", ".git/", "node_modules/", "target/", "build/", "dist/",
		"out/", "bin/", "obj/", ".venv/", "venv/", "__pycache__/",
		".gradle/", ".idea/", "coverage/", ".cache/", ".terraform/",
	} {
		if strings.HasPrefix(p, dir) || strings.Contains(p, "/"+dir) {
			return true
		}
	}
	return !indexableExts[filepath.Ext(p)]
}
