// Package chat answers free-form questions about an indexed repository.
// Each question is grounded with the nearest code chunks and carried
// through an in-memory conversation history, so follow-up questions can
// refer back to earlier answers.
package chat

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"

	"github.com/repomind/repomind/pkg/models"
)

const (
	// defaultMaxChunks bounds how many retrieved chunks ground one answer.
	defaultMaxChunks = 5
	// defaultMemoryWindow bounds how many prior messages a conversation
	// carries into the next prompt.
	defaultMemoryWindow = 10
	// defaultConversations bounds how many conversations stay resident.
	defaultConversations = 256

	systemPrompt = "You are a helpful coding assistant with deep knowledge of this codebase. " +
		"Answer questions based on the provided code context and previous conversation. " +
		"Remember information from earlier in our conversation. " +
		"Be specific and reference actual code when possible."

	noContext = "No relevant code found."
)

// ErrNoBackends is returned by Chat when no generator is configured.
var ErrNoBackends = errors.New("no chat backends configured")

// Message is one turn of a conversation. Role is "user" or "assistant".
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Generator produces an assistant reply for a conversation.
type Generator interface {
	Name() string
	Generate(ctx context.Context, system string, messages []Message) (string, error)
}

// Searcher finds the chunks nearest to a question; search.Service
// satisfies it.
type Searcher interface {
	Query(ctx context.Context, repositoryID int64, q string, k int) ([]models.ChunkSnippet, error)
}

// Request is one chat turn from a client. An empty ConversationID
// starts a new conversation.
type Request struct {
	RepositoryID   int64  `json:"repositoryId"`
	Message        string `json:"message"`
	ConversationID string `json:"conversationId"`
}

// Response carries the answer and the conversation to continue on.
type Response struct {
	ConversationID string `json:"conversationId"`
	Answer         string `json:"answer"`
}

// Service grounds chat turns in retrieved code and falls through an
// ordered generator list, mirroring the analysis tiers: the first
// backend that answers wins.
type Service struct {
	Searcher     Searcher
	Generators   []Generator
	MaxChunks    int
	MemoryWindow int

	memory *lru.Cache[string, []Message]
}

// NewService wires a chat service with default sizing.
func NewService(searcher Searcher, generators ...Generator) *Service {
	memory, _ := lru.New[string, []Message](defaultConversations)
	return &Service{
		Searcher:     searcher,
		Generators:   generators,
		MaxChunks:    defaultMaxChunks,
		MemoryWindow: defaultMemoryWindow,
		memory:       memory,
	}
}

// Chat answers one question. Retrieval failures degrade to an
// ungrounded answer; only generator exhaustion is an error.
func (s *Service) Chat(ctx context.Context, req Request) (Response, error) {
	if strings.TrimSpace(req.Message) == "" {
		return Response{}, errors.New("message is required")
	}
	if len(s.Generators) == 0 {
		return Response{}, ErrNoBackends
	}

	conversationID := req.ConversationID
	if conversationID == "" {
		conversationID = newConversationID()
		log.Info().Str("conversation", conversationID).Msg("new chat conversation")
	}

	ragContext := s.retrieve(ctx, req.RepositoryID, req.Message)
	userMessage := fmt.Sprintf("Question: %s\n\nRelevant Code Context:\n%s", req.Message, ragContext)

	history, _ := s.memory.Get(conversationID)
	messages := append(append([]Message{}, history...), Message{Role: "user", Content: userMessage})

	var lastErr error
	for _, g := range s.Generators {
		answer, err := g.Generate(ctx, systemPrompt, messages)
		if err != nil {
			lastErr = err
			log.Warn().Err(err).Str("backend", g.Name()).Str("conversation", conversationID).
				Msg("chat backend failed")
			continue
		}
		s.remember(conversationID, history,
			Message{Role: "user", Content: userMessage},
			Message{Role: "assistant", Content: answer})
		return Response{ConversationID: conversationID, Answer: answer}, nil
	}
	return Response{}, fmt.Errorf("all chat backends failed: %w", lastErr)
}

// retrieve turns the question into a grounding block. Any failure or an
// empty index yields the neutral placeholder.
func (s *Service) retrieve(ctx context.Context, repositoryID int64, question string) string {
	maxChunks := s.MaxChunks
	if maxChunks <= 0 {
		maxChunks = defaultMaxChunks
	}

	snippets, err := s.Searcher.Query(ctx, repositoryID, question, maxChunks)
	if err != nil {
		log.Warn().Err(err).Int64("repository", repositoryID).Msg("chat retrieval failed")
		return noContext
	}
	if len(snippets) == 0 {
		return noContext
	}

	var b strings.Builder
	for i, snip := range snippets {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "File: %s (bytes %d-%d)\n```%s\n%s\n```",
			snip.Path, snip.StartOffset, snip.EndOffset,
			strings.ToLower(snip.Language), snip.Content)
	}
	return b.String()
}

// remember appends the latest exchange and trims the history to the
// memory window.
func (s *Service) remember(conversationID string, history []Message, exchange ...Message) {
	window := s.MemoryWindow
	if window <= 0 {
		window = defaultMemoryWindow
	}
	updated := append(append([]Message{}, history...), exchange...)
	if len(updated) > window {
		updated = updated[len(updated)-window:]
	}
	s.memory.Add(conversationID, updated)
}

func newConversationID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return strconv.FormatInt(time.Now().UnixNano(), 16)
	}
	return hex.EncodeToString(b[:])
}
