package ai

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
)

func init() {
	zerolog.SetGlobalLevel(zerolog.Disabled)
}

func TestNewClient(t *testing.T) {
	tests := []struct {
		name    string
		config  *ClientConfig
		wantErr bool
	}{
		{"nil config", nil, true},
		{"openai", &ClientConfig{Provider: ProviderOpenAI, APIKey: "k"}, false},
		{"stub", &ClientConfig{Provider: ProviderStub, Dim: 16}, false},
		{"unknown", &ClientConfig{Provider: Provider("other")}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewClient(tt.config)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewClient() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && c == nil {
				t.Fatal("expected a client")
			}
		})
	}
}

func TestStubClientDeterministic(t *testing.T) {
	s := NewStubClient(16)
	ctx := context.Background()

	a, err := s.Embed(ctx, "func main() {}")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	b, err := s.Embed(ctx, "func main() {}")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	c, err := s.Embed(ctx, "SELECT * FROM users")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}

	if len(a) != 16 || s.Dim() != 16 {
		t.Errorf("dimension mismatch: len %d, Dim %d", len(a), s.Dim())
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("equal inputs produced different vectors at %d", i)
		}
	}
	same := true
	for i := range a {
		if a[i] != c[i] {
			same = false
			break
		}
	}
	if same {
		t.Error("distinct inputs produced identical vectors")
	}
}

func TestStubClientDefaultDim(t *testing.T) {
	s := NewStubClient(0)
	if s.Dim() <= 0 {
		t.Errorf("Dim() = %d, want positive", s.Dim())
	}
}
