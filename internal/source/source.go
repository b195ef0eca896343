// Package source is the boundary to repository hosting: listing a
// repository's file paths and fetching individual file contents. The
// audit and indexing layers depend only on the Client interface.
package source

import "context"

// Client reads files from one repository host.
type Client interface {
	ListFiles(ctx context.Context, owner, repo string) ([]string, error)
	GetFileContent(ctx context.Context, owner, repo, path string) (string, error)
}

// Factory builds a client for a caller-supplied access token. The
// orchestrator uses it to read private repositories with the
// requesting user's credentials.
type Factory func(token string) Client
