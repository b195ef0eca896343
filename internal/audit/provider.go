package audit

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/repomind/repomind/pkg/models"
)

// Provider is one analysis tier. Analyze returns (nil, nil) only when
// the provider deliberately has nothing to say; an error marks the tier
// as failed for this file so the next tier gets a chance.
type Provider interface {
	Name() string
	Analyze(ctx context.Context, code, language, filePath, ragContext string) (*models.AnalysisResult, error)
}

// MultiTier tries each provider in its configured order and returns the
// first usable result. Exhausting every tier yields (nil, nil): the
// caller decides what a fully failed analysis means.
type MultiTier struct {
	tiers []Provider
}

// NewMultiTier builds the fallback chain in the given order.
func NewMultiTier(tiers ...Provider) *MultiTier {
	return &MultiTier{tiers: tiers}
}

func (m *MultiTier) Name() string { return "multi-tier" }

// Analyze walks the tiers in order. Both errors and nil results fall
// through to the next tier.
func (m *MultiTier) Analyze(ctx context.Context, code, language, filePath, ragContext string) (*models.AnalysisResult, error) {
	for _, tier := range m.tiers {
		result, err := tier.Analyze(ctx, code, language, filePath, ragContext)
		if err != nil {
			log.Warn().Err(err).Str("tier", tier.Name()).Str("path", filePath).Msg("analysis tier failed, falling through")
			continue
		}
		if result == nil {
			log.Warn().Str("tier", tier.Name()).Str("path", filePath).Msg("analysis tier returned nothing, falling through")
			continue
		}
		log.Debug().Str("tier", tier.Name()).Str("path", filePath).Str("severity", result.Severity).Msg("analysis succeeded")
		return result, nil
	}
	log.Warn().Str("path", filePath).Msg("all analysis tiers exhausted")
	return nil, nil
}
