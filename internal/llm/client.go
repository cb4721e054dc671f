// Package llm wraps the Google GenAI client behind two entry points: a
// structured-output call with bounded re-asks, and a multi-turn tool-call
// loop driving a registry of typed executors.
package llm

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"portablebrain/internal/config"
)

// ErrMaxTurns is returned when a tool-call conversation exhausts its turn
// budget without a final text reply.
var ErrMaxTurns = errors.New("llm: max tool turns exhausted without final response")

// generator is the raw model call; tests substitute a fake.
type generator interface {
	generate(ctx context.Context, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Client is the process-wide LLM handle. Safe for concurrent use; the
// underlying genai client pools its connections.
type Client struct {
	gen               generator
	model             string
	maxToolTurns      int
	structuredRetries int
	logger            *zap.Logger
}

type genaiGenerator struct {
	client *genai.Client
	model  string
}

func (g *genaiGenerator) generate(ctx context.Context, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	return g.client.Models.GenerateContent(ctx, g.model, contents, cfg)
}

// NewClient creates the GenAI-backed client.
func NewClient(cfg config.LLMConfig, logger *zap.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("LLM API key is required")
	}
	model := cfg.Model
	if model == "" {
		model = "gemini-2.5-flash"
	}

	ctx := context.Background()
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &Client{
		gen:               &genaiGenerator{client: client, model: model},
		model:             model,
		maxToolTurns:      orDefault(cfg.MaxToolTurns, 5),
		structuredRetries: orDefault(cfg.StructuredRetries, 2),
		logger:            logger,
	}, nil
}

// Ping issues a minimal generation to verify the API is reachable.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.gen.generate(ctx,
		[]*genai.Content{genai.NewContentFromText("ping", genai.RoleUser)},
		&genai.GenerateContentConfig{})
	return err
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.model }

func orDefault(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}
