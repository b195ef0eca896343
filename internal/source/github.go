package source

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const defaultGitHubBaseURL = "https://api.github.com"

// GitHub reads repository trees and file contents over the GitHub REST
// API. A zero token still works for public repositories at a lower
// rate limit.
type GitHub struct {
	token   string
	baseURL string
	http    *http.Client
}

// GitHubOption adjusts a GitHub client.
type GitHubOption func(*GitHub)

// WithBaseURL points the client at a different API host, used by tests
// and GitHub Enterprise installs.
func WithBaseURL(u string) GitHubOption {
	return func(g *GitHub) { g.baseURL = strings.TrimSuffix(u, "/") }
}

// WithHTTPClient substitutes the underlying HTTP client.
func WithHTTPClient(c *http.Client) GitHubOption {
	return func(g *GitHub) { g.http = c }
}

// NewGitHub creates a GitHub source client.
func NewGitHub(token string, opts ...GitHubOption) *GitHub {
	g := &GitHub{
		token:   token,
		baseURL: defaultGitHubBaseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// ListFiles returns every blob path in the repository's default branch.
func (g *GitHub) ListFiles(ctx context.Context, owner, repo string) ([]string, error) {
	branch, err := g.defaultBranch(ctx, owner, repo)
	if err != nil {
		return nil, err
	}

	var tree struct {
		Tree []struct {
			Path string `json:"path"`
			Type string `json:"type"`
		} `json:"tree"`
		Truncated bool `json:"truncated"`
	}
	u := fmt.Sprintf("%s/repos/%s/%s/git/trees/%s?recursive=1",
		g.baseURL, url.PathEscape(owner), url.PathEscape(repo), url.PathEscape(branch))
	if err := g.getJSON(ctx, u, &tree); err != nil {
		return nil, fmt.Errorf("listing tree for %s/%s: %w", owner, repo, err)
	}
	if tree.Truncated {
		log.Warn().Str("repo", owner+"/"+repo).Msg("tree listing truncated by github")
	}

	paths := make([]string, 0, len(tree.Tree))
	for _, entry := range tree.Tree {
		if entry.Type == "blob" {
			paths = append(paths, entry.Path)
		}
	}
	return paths, nil
}

// GetFileContent fetches and decodes one file from the default branch.
func (g *GitHub) GetFileContent(ctx context.Context, owner, repo, path string) (string, error) {
	var out struct {
		Content  string `json:"content"`
		Encoding string `json:"encoding"`
	}
	u := fmt.Sprintf("%s/repos/%s/%s/contents/%s",
		g.baseURL, url.PathEscape(owner), url.PathEscape(repo), escapePath(path))
	if err := g.getJSON(ctx, u, &out); err != nil {
		return "", fmt.Errorf("fetching %s from %s/%s: %w", path, owner, repo, err)
	}

	switch out.Encoding {
	case "base64":
		// GitHub wraps base64 payloads with newlines
		raw, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(out.Content, "\n", ""))
		if err != nil {
			return "", fmt.Errorf("decoding %s: %w", path, err)
		}
		return string(raw), nil
	case "", "none":
		return out.Content, nil
	default:
		return "", errors.New("unsupported content encoding: " + out.Encoding)
	}
}

func (g *GitHub) defaultBranch(ctx context.Context, owner, repo string) (string, error) {
	var out struct {
		DefaultBranch string `json:"default_branch"`
	}
	u := fmt.Sprintf("%s/repos/%s/%s", g.baseURL, url.PathEscape(owner), url.PathEscape(repo))
	if err := g.getJSON(ctx, u, &out); err != nil {
		return "", fmt.Errorf("looking up %s/%s: %w", owner, repo, err)
	}
	if out.DefaultBranch == "" {
		return "main", nil
	}
	return out.DefaultBranch, nil
}

func (g *GitHub) getJSON(ctx context.Context, u string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}

	resp, err := g.http.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close response body")
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return errors.New("github returned " + resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

// escapePath escapes each path segment but keeps the slashes.
func escapePath(p string) string {
	parts := strings.Split(p, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}
