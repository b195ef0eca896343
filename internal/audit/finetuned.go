package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/repomind/repomind/pkg/models"
)

// LoadBalancer hands out finetuned-model endpoints round-robin so
// parallel file scans spread across every configured replica.
type LoadBalancer struct {
	endpoints []string
	counter   atomic.Uint64
}

// NewLoadBalancer parses a comma-separated endpoint list.
func NewLoadBalancer(endpointURLs string) *LoadBalancer {
	lb := &LoadBalancer{}
	for _, u := range strings.Split(endpointURLs, ",") {
		if trimmed := strings.TrimSpace(u); trimmed != "" {
			lb.endpoints = append(lb.endpoints, trimmed)
		}
	}
	if len(lb.endpoints) == 0 {
		log.Warn().Msg("no finetuned model endpoints configured")
	}
	return lb
}

// Next returns the next endpoint in rotation.
func (lb *LoadBalancer) Next() (string, error) {
	switch len(lb.endpoints) {
	case 0:
		return "", errors.New("no endpoints configured")
	case 1:
		return lb.endpoints[0], nil
	}
	idx := lb.counter.Add(1) - 1
	return lb.endpoints[idx%uint64(len(lb.endpoints))], nil
}

// Endpoints returns how many replicas are configured.
func (lb *LoadBalancer) Endpoints() int { return len(lb.endpoints) }

// Finetuned is the primary analysis tier: a code-review model served
// behind one or more OpenAI-compatible chat endpoints. Transport
// failures are retried; a malformed reply is not, since the model will
// happily repeat it.
type Finetuned struct {
	LB          *LoadBalancer
	Token       string
	HTTP        *http.Client
	MaxAttempts int
	RetryDelay  time.Duration
}

// NewFinetuned builds the tier from a comma-separated endpoint list.
func NewFinetuned(endpointURLs, token string) *Finetuned {
	return &Finetuned{
		LB:          NewLoadBalancer(endpointURLs),
		Token:       token,
		HTTP:        &http.Client{Timeout: 60 * time.Second},
		MaxAttempts: 2,
		RetryDelay:  time.Second,
	}
}

func (f *Finetuned) Name() string { return "finetuned" }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatEnvelope struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Analyze sends the file to the finetuned model and double-parses the
// reply: first the chat envelope, then the strict JSON analysis object
// inside the assistant message. The two stages fail with distinct error
// types so logs tell transport rot from model rot apart.
func (f *Finetuned) Analyze(ctx context.Context, code, language, filePath, ragContext string) (*models.AnalysisResult, error) {
	system := fmt.Sprintf(
		"Analyze this %s code for quality and architectural issues. "+
			"Consider the file's role in the overall architecture. Return strict JSON.",
		language)
	user := fmt.Sprintf("%s\n\nFile: %s\n\nCode to analyze:\n%s\n", ragContext, filePath, code)

	body, err := json.Marshal(chatRequest{
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: 0.2,
		MaxTokens:   2000,
	})
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 1; attempt <= f.MaxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(f.RetryDelay):
			}
		}

		endpoint, err := f.LB.Next()
		if err != nil {
			return nil, err
		}

		content, err := f.call(ctx, endpoint, body)
		if err != nil {
			var envErr *EnvelopeError
			if errors.As(err, &envErr) {
				// The endpoint spoke, just not the protocol we
				// expected; retrying won't change its mind.
				return nil, err
			}
			lastErr = err
			log.Warn().Err(err).Str("endpoint", endpoint).Int("attempt", attempt).Str("path", filePath).
				Msg("finetuned model call failed")
			continue
		}
		if content == "" {
			log.Warn().Str("path", filePath).Msg("finetuned model returned empty content")
			return nil, nil
		}
		return parseAnalysisResult(f.Name(), content)
	}
	return nil, fmt.Errorf("finetuned model unreachable after %d attempts: %w", f.MaxAttempts, lastErr)
}

// call performs one chat completion round trip and returns the
// assistant message content.
func (f *Finetuned) call(ctx context.Context, endpoint string, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if f.Token != "" {
		req.Header.Set("Authorization", "Bearer "+f.Token)
	}

	resp, err := f.HTTP.Do(req)
	if err != nil {
		return "", err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close response body")
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return "", errors.New("finetuned model returned " + resp.Status)
	}

	var envelope chatEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return "", &EnvelopeError{Provider: f.Name(), Cause: err}
	}
	if len(envelope.Choices) == 0 {
		return "", &EnvelopeError{Provider: f.Name(), Cause: errors.New("no choices in response")}
	}
	return envelope.Choices[0].Message.Content, nil
}
