package ai

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"
)

// RetryConfig bounds the retry schedule for transient provider failures.
type RetryConfig struct {
	InitialInterval time.Duration
	Multiplier      float64
	MaxTries        uint
}

// DefaultRetryConfig waits 1s, then 2s, for at most three attempts.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialInterval: time.Second,
		Multiplier:      2,
		MaxTries:        3,
	}
}

type retryClient struct {
	inner Client
	cfg   RetryConfig
}

// WithRetry wraps a Client so transient Embed failures are retried with
// exponential backoff. Exhaustion returns the last error; callers scope
// that to the file being processed.
func WithRetry(c Client, cfg RetryConfig) Client {
	if cfg.MaxTries == 0 {
		cfg = DefaultRetryConfig()
	}
	return &retryClient{inner: c, cfg: cfg}
}

func (r *retryClient) Embed(ctx context.Context, text string) ([]float32, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.InitialInterval
	b.Multiplier = r.cfg.Multiplier

	attempt := 0
	op := func() ([]float32, error) {
		attempt++
		vec, err := r.inner.Embed(ctx, text)
		if err != nil {
			log.Debug().Err(err).Int("attempt", attempt).Msg("embedding attempt failed")
		}
		return vec, err
	}

	vec, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(r.cfg.MaxTries))
	if err != nil {
		return nil, fmt.Errorf("embedding failed after %d attempts: %w", attempt, err)
	}
	return vec, nil
}

func (r *retryClient) Dim() int {
	return r.inner.Dim()
}
