package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"portablebrain/internal/device"
	"portablebrain/internal/llm"
)

// ExecutionAgent enriches a user request with retrieved context and drives
// the device through the execute_command tool.
type ExecutionAgent struct {
	llm            toolCaller
	driver         device.Driver
	commandTimeout time.Duration
	logger         *zap.Logger
}

// NewExecutionAgent creates an execution agent over the given device driver.
// commandTimeout bounds each device command unless the model overrides it.
func NewExecutionAgent(client toolCaller, driver device.Driver, commandTimeout time.Duration, logger *zap.Logger) *ExecutionAgent {
	return &ExecutionAgent{llm: client, driver: driver, commandTimeout: commandTimeout, logger: logger}
}

func (a *ExecutionAgent) executors() map[string]llm.Executor {
	return map[string]llm.Executor{
		"execute_command": func(ctx context.Context, args map[string]any) (any, error) {
			command := strings.TrimSpace(argString(args, "enriched_command"))
			if command == "" {
				return nil, errors.New("enriched_command is required")
			}
			opts := device.ExecOptions{Reasoning: argString(args, "reasoning")}
			if secs := argInt(args, "timeout_seconds"); secs > 0 {
				opts.Timeout = time.Duration(secs) * time.Second
			} else {
				opts.Timeout = a.commandTimeout
			}
			a.logger.Info("executing device command", zap.String("command", command))
			return a.driver.ExecuteCommand(ctx, command, opts)
		},
	}
}

// Execute runs one execution attempt. contextSummary is the retrieval
// agent's output; empty means run without memory context. A final reply
// that is not valid JSON is reported as a failed attempt carrying the raw
// text, so the orchestrator can decide whether to retry.
func (a *ExecutionAgent) Execute(ctx context.Context, userRequest, contextSummary string) (*ExecutionResult, error) {
	prompt := userRequest
	if contextSummary != "" {
		prompt += "\n\n Context: \n" + contextSummary
	}

	text, err := a.llm.ToolCall(ctx, executionSystemPrompt, prompt, executeCommandDeclaration(), a.executors(), 0)
	if err != nil {
		return nil, fmt.Errorf("execution failed: %w", err)
	}

	var out ExecutionResult
	if err := llm.ParseJSON(text, &out); err != nil {
		a.logger.Warn("execution reply is not structured", zap.Error(err))
		return &ExecutionResult{
			Success:       false,
			ResultSummary: text,
			FailureReason: "execution agent returned an unstructured reply",
		}, nil
	}
	return &out, nil
}
