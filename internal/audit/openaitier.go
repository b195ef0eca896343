package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/repomind/repomind/pkg/models"
)

const defaultOpenAIChatURL = "https://api.openai.com/v1/chat/completions"

// OpenAI is the last analysis tier, a plain chat-completions fallback
// used when both the finetuned model and Gemini are down.
type OpenAI struct {
	APIKey string
	Model  string
	URL    string
	HTTP   *http.Client
}

// NewOpenAI creates the OpenAI tier.
func NewOpenAI(apiKey, model string) *OpenAI {
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAI{
		APIKey: apiKey,
		Model:  model,
		URL:    defaultOpenAIChatURL,
		HTTP:   &http.Client{Timeout: 60 * time.Second},
	}
}

func (o *OpenAI) Name() string { return "openai" }

// Analyze asks the chat model for an analysis and strictly parses its
// reply.
func (o *OpenAI) Analyze(ctx context.Context, code, language, filePath, ragContext string) (*models.AnalysisResult, error) {
	if o.APIKey == "" {
		return nil, errors.New("openai api key unset")
	}

	payload := map[string]any{
		"model": o.Model,
		"messages": []chatMessage{
			{Role: "user", Content: buildAnalysisPrompt(code, language, filePath, ragContext)},
		},
		"temperature": 0.2,
		"max_tokens":  2000,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.URL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.APIKey)

	resp, err := o.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close response body")
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.New("openai chat returned " + resp.Status)
	}

	var envelope chatEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, &EnvelopeError{Provider: o.Name(), Cause: err}
	}
	if len(envelope.Choices) == 0 {
		return nil, &EnvelopeError{Provider: o.Name(), Cause: errors.New("no choices in response")}
	}

	return parseAnalysisResult(o.Name(), envelope.Choices[0].Message.Content)
}
