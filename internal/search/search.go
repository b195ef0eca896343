// Package search answers free-text queries against a repository's
// indexed chunks by nearest-neighbor lookup on the query embedding.
package search

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/repomind/repomind/internal/ai"
	"github.com/repomind/repomind/internal/store"
	"github.com/repomind/repomind/pkg/models"
)

// DefaultLimit is how many snippets a query returns when the caller
// does not say.
const DefaultLimit = 5

type Service struct {
	Client ai.Client
	Store  store.ChunkSearcher
}

// NewService creates a search service over the given embedding client
// and chunk store.
func NewService(client ai.Client, st store.ChunkSearcher) *Service {
	return &Service{Client: client, Store: st}
}

// Query embeds q and returns the k nearest snippets in the repository.
// A k of zero or less falls back to DefaultLimit. The result is never
// nil: no matches is an empty slice.
func (s *Service) Query(ctx context.Context, repositoryID int64, q string, k int) ([]models.ChunkSnippet, error) {
	q = strings.TrimSpace(q)
	if k <= 0 {
		k = DefaultLimit
	}

	vec, err := s.Client.Embed(ctx, q)
	if err != nil {
		log.Warn().Err(err).Str("query", q).Msg("query embedding failed")
		return []models.ChunkSnippet{}, nil
	}

	res, err := s.Store.SearchChunks(ctx, repositoryID, vec, k)
	if err != nil {
		return nil, err
	}
	return res, nil
}
