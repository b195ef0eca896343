package chat

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"
)

// Gemini generates chat replies through the genai SDK.
type Gemini struct {
	client *genai.Client
	model  string
}

// NewGemini creates the Gemini chat backend.
func NewGemini(ctx context.Context, apiKey, model string) (*Gemini, error) {
	if model == "" {
		model = "gemini-1.5-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		Backend: genai.BackendGeminiAPI,
		APIKey:  apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &Gemini{client: client, model: model}, nil
}

func (g *Gemini) Name() string { return "gemini" }

// Generate sends the conversation to Gemini and returns the reply text.
func (g *Gemini) Generate(ctx context.Context, system string, messages []Message) (string, error) {
	contents := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		role := genai.Role(genai.RoleUser)
		if m.Role == "assistant" {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}

	temp := float32(0.4)
	cfg := genai.GenerateContentConfig{
		Temperature:       &temp,
		MaxOutputTokens:   2048,
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, &cfg)
	if err != nil {
		return "", fmt.Errorf("gemini chat call failed: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", errors.New("no candidates in gemini response")
	}
	return resp.Candidates[0].Content.Parts[0].Text, nil
}
