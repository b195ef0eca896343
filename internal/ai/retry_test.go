package ai

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

// countingClient fails a fixed number of times before succeeding.
type countingClient struct {
	failures int
	calls    int
	dim      int
}

func (c *countingClient) Embed(_ context.Context, _ string) ([]float32, error) {
	c.calls++
	if c.calls <= c.failures {
		return nil, errors.New("transient upstream error")
	}
	return make([]float32, c.dim), nil
}

func (c *countingClient) Dim() int { return c.dim }

func fastRetryConfig(maxTries uint) RetryConfig {
	return RetryConfig{
		InitialInterval: time.Millisecond,
		Multiplier:      2,
		MaxTries:        maxTries,
	}
}

func TestWithRetryEventualSuccess(t *testing.T) {
	tests := []struct {
		name      string
		failures  int
		wantCalls int
		wantErr   bool
	}{
		{"first attempt succeeds", 0, 1, false},
		{"second attempt succeeds", 1, 2, false},
		{"third attempt succeeds", 2, 3, false},
		{"all attempts fail", 3, 3, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inner := &countingClient{failures: tt.failures, dim: 4}
			client := WithRetry(inner, fastRetryConfig(3))

			vec, err := client.Embed(context.Background(), "some code")

			if inner.calls != tt.wantCalls {
				t.Errorf("attempts = %d, want %d", inner.calls, tt.wantCalls)
			}
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error after exhausting retries")
				}
				if !strings.Contains(err.Error(), "transient upstream error") {
					t.Errorf("error %q does not surface the last failure", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Embed: %v", err)
			}
			if len(vec) != 4 {
				t.Errorf("embedding length = %d, want 4", len(vec))
			}
		})
	}
}

func TestWithRetryPreservesDim(t *testing.T) {
	inner := &countingClient{dim: 32}
	client := WithRetry(inner, fastRetryConfig(3))
	if client.Dim() != 32 {
		t.Errorf("Dim() = %d, want 32", client.Dim())
	}
}

func TestWithRetryZeroConfigDefaults(t *testing.T) {
	inner := &countingClient{dim: 2}
	client := WithRetry(inner, RetryConfig{})
	rc, ok := client.(*retryClient)
	if !ok {
		t.Fatalf("unexpected client type %T", client)
	}
	if rc.cfg.MaxTries != 3 || rc.cfg.InitialInterval != time.Second || rc.cfg.Multiplier != 2 {
		t.Errorf("defaults not applied: %+v", rc.cfg)
	}
}
