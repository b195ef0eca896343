package audit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/repomind/repomind/pkg/models"
)

// buildAnalysisPrompt is shared by the general-purpose chat tiers. The
// finetuned tier carries its instructions in its training, these models
// need the output contract spelled out.
func buildAnalysisPrompt(code, language, filePath, ragContext string) string {
	var p strings.Builder
	fmt.Fprintf(&p, "Analyze this %s code for quality, security, and architectural issues.\n\n", language)

	if ragContext != "" {
		p.WriteString("Consider this related code from the repository:\n")
		p.WriteString(ragContext)
		p.WriteString("\n\n")
	}

	fmt.Fprintf(&p, "File: %s\n\n", filePath)
	fmt.Fprintf(&p, "Code:\n```%s\n%s\n```\n\n", strings.ToLower(language), code)
	p.WriteString("Return ONLY valid JSON with this exact structure (no markdown, no extra text):\n")
	p.WriteString("{\n")
	p.WriteString("  \"severity\": \"CRITICAL|WARNING|INFO|NONE\",\n")
	p.WriteString("  \"category\": \"SECURITY|PERFORMANCE|CODE_QUALITY|ARCHITECTURE|BEST_PRACTICES\",\n")
	fmt.Fprintf(&p, "  \"language\": %q,\n", language)
	p.WriteString("  \"title\": \"Brief title\",\n")
	p.WriteString("  \"message\": \"Detailed description of issues found\",\n")
	p.WriteString("  \"suggestion\": \"Concrete steps to fix the issues\",\n")
	p.WriteString("  \"extra\": {}\n")
	p.WriteString("}")
	return p.String()
}

// Gemini is the second analysis tier, calling the Gemini API through
// the genai SDK.
type Gemini struct {
	client *genai.Client
	model  string
}

// NewGemini creates the Gemini tier.
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

// Analyze asks Gemini for an analysis and strictly parses its reply.
func (g *Gemini) Analyze(ctx context.Context, code, language, filePath, ragContext string) (*models.AnalysisResult, error) {
	prompt := buildAnalysisPrompt(code, language, filePath, ragContext)

	temp := float32(0.2)
	cfg := genai.GenerateContentConfig{
		Temperature:     &temp,
		MaxOutputTokens: 2048,
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), &cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini call failed for %s: %w", filePath, err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, &EnvelopeError{Provider: g.Name(), Cause: errors.New("no candidates in response")}
	}

	return parseAnalysisResult(g.Name(), resp.Candidates[0].Content.Parts[0].Text)
}
