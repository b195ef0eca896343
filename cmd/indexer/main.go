// Command indexer embeds one repository into the vector store from the
// command line: either a local checkout (--repo-root) or a GitHub
// repository (--github-repo owner/name).
package main

import (
	"context"
	"log"
	"strings"

	"github.com/spf13/pflag"

	"github.com/repomind/repomind/internal/ai"
	"github.com/repomind/repomind/internal/chunker"
	"github.com/repomind/repomind/internal/config"
	"github.com/repomind/repomind/internal/indexer"
	"github.com/repomind/repomind/internal/source"
	"github.com/repomind/repomind/internal/store"
	"github.com/repomind/repomind/pkg/models"
)

func main() {
	fs := pflag.NewFlagSet("repomind-indexer", pflag.ExitOnError)
	fs.String("github-repo", "", "GitHub repository as owner/name; overrides --repo-root")

	cfg, err := config.Load("", fs)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	fs.Usage = cfg.Usage

	githubRepo, _ := fs.GetString("github-repo")

	var clientConfig *ai.ClientConfig
	switch strings.ToLower(cfg.Embedding.Provider) {
	case "openai":
		clientConfig = &ai.ClientConfig{
			APIKey:     cfg.Embedding.APIKey,
			EmbedModel: cfg.Embedding.Model,
			Dim:        cfg.Embedding.Dim,
			Provider:   ai.ProviderOpenAI,
		}
	case "vertexai", "google":
		clientConfig = &ai.ClientConfig{
			APIKey:     cfg.Embedding.APIKey,
			EmbedModel: cfg.Embedding.Model,
			Dim:        cfg.Embedding.Dim,
			ProjectID:  cfg.Embedding.ProjectID,
			Location:   cfg.Embedding.Location,
			Provider:   ai.ProviderVertexAI,
		}
	case "stub":
		clientConfig = &ai.ClientConfig{Dim: cfg.Embedding.Dim, Provider: ai.ProviderStub}
	default:
		log.Fatalf("unsupported provider: %s", cfg.Embedding.Provider)
	}

	// The repository row names what gets indexed. A local checkout is
	// recorded under the "local" owner with the directory name.
	var repo models.Repository
	var src source.Client
	if githubRepo != "" {
		owner, name, ok := strings.Cut(githubRepo, "/")
		if !ok {
			log.Fatalf("expected owner/name, got %q", githubRepo)
		}
		repo = models.Repository{Owner: owner, Name: name, URL: "https://github.com/" + githubRepo}
		src = source.NewCached(source.NewGitHub(cfg.GithubToken), cfg.Cache.Size, cfg.Cache.TTL)
	} else {
		root := strings.TrimRight(cfg.RepoRoot, "/")
		parts := strings.Split(root, "/")
		repo = models.Repository{Owner: "local", Name: parts[len(parts)-1], URL: "file://" + root}
		src = source.NewLocal(cfg.RepoRoot)
	}

	ctx := context.Background()

	st, err := store.New(ctx, cfg.Database)
	if err != nil {
		log.Fatal(err)
	}
	defer st.Close()

	ix, err := indexer.New(st, src, clientConfig)
	if err != nil {
		log.Fatal(err)
	}
	ix.BatchSize = cfg.Index.BatchSize
	ix.Replace = cfg.Index.Replace
	if splitter, err := chunker.New(cfg.Index.ChunkSize, cfg.Index.ChunkOverlap); err == nil {
		ix.Chunker = splitter
	} else {
		log.Fatalf("Invalid chunking configuration: %v", err)
	}

	if ix.Client.Dim() == 0 {
		log.Fatal("embedding dimension must be set")
	}
	if err := st.Migrate(ctx, ix.Client.Dim()); err != nil {
		log.Fatal(err)
	}

	id, err := st.CreateRepository(ctx, repo)
	if err != nil {
		log.Fatal(err)
	}
	repo.ID = id

	stats, err := ix.Run(ctx, repo)
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("indexed %s: %d files indexed, %d failed, %d chunks",
		repo.FullName(), stats.FilesIndexed, stats.FilesFailed, stats.Chunks)
}
