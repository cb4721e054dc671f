package llm

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

// parseOutcome is the explicit result of one structured-output attempt.
// Malformed model output is retryable; infrastructure failures are fatal.
type parseOutcome int

const (
	parseOK parseOutcome = iota
	parseRetryable
	parseFatal
)

// GenerateStructured asks the model for a JSON reply matching schema and
// unmarshals it into out. Malformed replies are re-asked up to the
// configured retry budget; transport errors fail immediately.
func (c *Client) GenerateStructured(ctx context.Context, system, user string, schema *genai.Schema, out any) error {
	cfg := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   schema,
	}
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	contents := []*genai.Content{genai.NewContentFromText(user, genai.RoleUser)}

	attempts := c.structuredRetries + 1
	var lastReason string
	for attempt := 1; attempt <= attempts; attempt++ {
		outcome, reason, err := c.structuredAttempt(ctx, contents, cfg, out)
		switch outcome {
		case parseOK:
			return nil
		case parseFatal:
			return err
		case parseRetryable:
			lastReason = reason
			c.logger.Warn("structured output malformed, retrying",
				zap.Int("attempt", attempt), zap.String("reason", reason))
		}
	}
	return fmt.Errorf("structured output failed after %d attempts: %s", attempts, lastReason)
}

func (c *Client) structuredAttempt(ctx context.Context, contents []*genai.Content, cfg *genai.GenerateContentConfig, out any) (parseOutcome, string, error) {
	resp, err := c.gen.generate(ctx, contents, cfg)
	if err != nil {
		return parseFatal, "", fmt.Errorf("generation failed: %w", err)
	}
	text := resp.Text()
	if text == "" {
		return parseRetryable, "empty response", nil
	}
	if err := ParseJSON(text, out); err != nil {
		return parseRetryable, err.Error(), nil
	}
	return parseOK, "", nil
}
