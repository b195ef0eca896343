package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

const defaultOpenAIChatURL = "https://api.openai.com/v1/chat/completions"

// OpenAI generates chat replies through the chat-completions API. It is
// the fallback backend when Gemini is down or unconfigured.
type OpenAI struct {
	APIKey string
	Model  string
	URL    string
	HTTP   *http.Client
}

// NewOpenAI creates the OpenAI chat backend.
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

type chatEnvelope struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Generate sends the conversation, with the system prompt prepended, and
// returns the assistant reply.
func (o *OpenAI) Generate(ctx context.Context, system string, messages []Message) (string, error) {
	if o.APIKey == "" {
		return "", errors.New("openai api key unset")
	}

	payload := map[string]any{
		"model":       o.Model,
		"messages":    append([]Message{{Role: "system", Content: system}}, messages...),
		"temperature": 0.4,
		"max_tokens":  2048,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.URL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.APIKey)

	resp, err := o.HTTP.Do(req)
	if err != nil {
		return "", err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close response body")
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return "", errors.New("openai chat returned " + resp.Status)
	}

	var envelope chatEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return "", err
	}
	if len(envelope.Choices) == 0 {
		return "", errors.New("no choices in response")
	}
	return envelope.Choices[0].Message.Content, nil
}
