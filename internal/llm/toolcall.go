package llm

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

// Executor is one tool implementation. Args arrive as the model produced
// them (JSON-safe primitives); the returned value must marshal to JSON.
type Executor func(ctx context.Context, args map[string]any) (any, error)

// ToolCall runs a multi-turn tool conversation and returns the model's final
// text reply.
//
// Each turn either ends the conversation (plain text) or names a tool: the
// executor runs, and both the call and its result are appended before the
// next turn. Executor errors are fed back to the model as {"error": ...} so
// it can recover; a tool name missing from the registry is a wiring bug and
// fails fast. Exhausting maxTurns returns ErrMaxTurns.
func (c *Client) ToolCall(ctx context.Context, system, user string, decls []*genai.FunctionDeclaration, executors map[string]Executor, maxTurns int) (string, error) {
	if maxTurns <= 0 {
		maxTurns = c.maxToolTurns
	}

	cfg := &genai.GenerateContentConfig{}
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if len(decls) > 0 {
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	contents := []*genai.Content{genai.NewContentFromText(user, genai.RoleUser)}

	for turn := 1; turn <= maxTurns; turn++ {
		resp, err := c.gen.generate(ctx, contents, cfg)
		if err != nil {
			return "", fmt.Errorf("generation failed on turn %d: %w", turn, err)
		}
		if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
			return "", fmt.Errorf("empty candidate on turn %d", turn)
		}
		modelContent := resp.Candidates[0].Content

		calls := resp.FunctionCalls()
		if len(calls) == 0 {
			return resp.Text(), nil
		}

		// Keep the model's own turn in the transcript, then answer every
		// call it made.
		contents = append(contents, modelContent)
		responseParts := make([]*genai.Part, 0, len(calls))
		for _, call := range calls {
			exec, ok := executors[call.Name]
			if !ok {
				return "", fmt.Errorf("model requested unknown tool %q", call.Name)
			}

			c.logger.Debug("executing tool", zap.String("tool", call.Name), zap.Any("args", call.Args))
			result, err := exec(ctx, call.Args)

			var payload map[string]any
			if err != nil {
				c.logger.Warn("tool execution failed", zap.String("tool", call.Name), zap.Error(err))
				payload = map[string]any{"error": err.Error()}
			} else {
				payload = map[string]any{"result": result}
			}
			responseParts = append(responseParts, genai.NewPartFromFunctionResponse(call.Name, payload))
		}
		contents = append(contents, genai.NewContentFromParts(responseParts, genai.RoleUser))
	}

	return "", ErrMaxTurns
}
