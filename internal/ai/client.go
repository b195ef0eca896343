package ai

import (
	"context"
	"errors"
	"hash/fnv"
)

// Client turns text into an embedding vector.
type Client interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dim() int
}

// Provider is enumeration of supported embedding providers
type Provider string

const (
	ProviderOpenAI   Provider = "openai"
	ProviderVertexAI Provider = "vertexai"
	ProviderStub     Provider = "stub"
)

// ClientConfig holds configuration for embedding clients
type ClientConfig struct {
	APIKey     string
	EmbedModel string
	Dim        int
	ProjectID  string
	Provider   Provider
	Location   string
	BaseURL    string
}

// NewClient creates a new embedding client based on configuration
func NewClient(config *ClientConfig) (Client, error) {
	if config == nil {
		return nil, errors.New("client config is required")
	}

	ctx := context.Background()
	switch config.Provider {
	case ProviderOpenAI:
		return NewOpenAIClient(config), nil
	case ProviderVertexAI:
		return NewVertexAIClient(ctx, config)
	case ProviderStub:
		return NewStubClient(config.Dim), nil
	default:
		return nil, errors.New("unsupported provider: " + string(config.Provider))
	}
}

// StubClient is a deterministic implementation of the Client interface
// for tests and offline runs. Equal inputs always produce equal vectors
// and distinct inputs almost always differ.
type StubClient struct {
	dim int
}

// NewStubClient creates a new StubClient
func NewStubClient(dim int) *StubClient {
	if dim <= 0 {
		dim = 8
	}
	return &StubClient{dim: dim}
}

// Embed derives a vector from a rolling hash of the input.
func (s *StubClient) Embed(_ context.Context, text string) ([]float32, error) {
	h := fnv.New32a()
	vec := make([]float32, s.dim)
	for i := range vec {
		_, _ = h.Write([]byte(text))
		_, _ = h.Write([]byte{byte(i)})
		vec[i] = float32(h.Sum32()%1000) / 1000.0
	}
	return vec, nil
}

// Dim returns the embedding dimension
func (s *StubClient) Dim() int {
	return s.dim
}
