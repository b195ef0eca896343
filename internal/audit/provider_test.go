package audit

import (
	"context"
	"errors"
	"testing"

	"github.com/repomind/repomind/pkg/models"
)

// scriptedProvider is a Provider driven by fixed return values.
type scriptedProvider struct {
	name   string
	result *models.AnalysisResult
	err    error
	calls  int
}

func (s *scriptedProvider) Name() string { return s.name }

func (s *scriptedProvider) Analyze(_ context.Context, _, _, _, _ string) (*models.AnalysisResult, error) {
	s.calls++
	return s.result, s.err
}

func TestMultiTierOrderAndFallback(t *testing.T) {
	warning := &models.AnalysisResult{Severity: "WARNING", Title: "w"}
	info := &models.AnalysisResult{Severity: "INFO", Title: "i"}

	tests := []struct {
		name      string
		tiers     []*scriptedProvider
		want      *models.AnalysisResult
		wantCalls []int
	}{
		{
			name: "first tier wins",
			tiers: []*scriptedProvider{
				{name: "a", result: warning},
				{name: "b", result: info},
			},
			want:      warning,
			wantCalls: []int{1, 0},
		},
		{
			name: "error falls through",
			tiers: []*scriptedProvider{
				{name: "a", err: errors.New("down")},
				{name: "b", result: info},
			},
			want:      info,
			wantCalls: []int{1, 1},
		},
		{
			name: "nil result falls through",
			tiers: []*scriptedProvider{
				{name: "a"},
				{name: "b", result: info},
			},
			want:      info,
			wantCalls: []int{1, 1},
		},
		{
			name: "all exhausted yields nil nil",
			tiers: []*scriptedProvider{
				{name: "a", err: errors.New("down")},
				{name: "b"},
				{name: "c", err: &ResultError{Provider: "c", Cause: errors.New("bad json")}},
			},
			want:      nil,
			wantCalls: []int{1, 1, 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			providers := make([]Provider, len(tt.tiers))
			for i, tier := range tt.tiers {
				providers[i] = tier
			}
			mt := NewMultiTier(providers...)

			got, err := mt.Analyze(context.Background(), "code", "Go", "a.go", "")
			if err != nil {
				t.Fatalf("MultiTier.Analyze must not return an error, got %v", err)
			}
			if got != tt.want {
				t.Errorf("result = %+v, want %+v", got, tt.want)
			}
			for i, tier := range tt.tiers {
				if tier.calls != tt.wantCalls[i] {
					t.Errorf("tier %s called %d times, want %d", tier.name, tier.calls, tt.wantCalls[i])
				}
			}
		})
	}
}

func TestMultiTierMalformedPayloadInvokesNextTier(t *testing.T) {
	// A conversational reply is not strict JSON: tier one fails in the
	// payload parse stage and tier two is consulted.
	primary := &parsingProvider{name: "finetuned", payload: `Sure! {"severity":"INFO","title":"x"}`}
	fallback := &scriptedProvider{name: "gemini", result: &models.AnalysisResult{Severity: "INFO", Title: "ok"}}

	mt := NewMultiTier(primary, fallback)
	got, err := mt.Analyze(context.Background(), "code", "Go", "a.go", "")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if got == nil || got.Title != "ok" {
		t.Errorf("result = %+v, want fallback tier result", got)
	}
	if fallback.calls != 1 {
		t.Errorf("fallback called %d times, want 1", fallback.calls)
	}
}

// parsingProvider runs a canned payload through the real strict parser.
type parsingProvider struct {
	name    string
	payload string
}

func (p *parsingProvider) Name() string { return p.name }

func (p *parsingProvider) Analyze(_ context.Context, _, _, _, _ string) (*models.AnalysisResult, error) {
	return parseAnalysisResult(p.name, p.payload)
}
