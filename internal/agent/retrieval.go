package agent

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"portablebrain/internal/llm"
	"portablebrain/internal/retriever"
)

// toolCaller is the slice of llm.Client the agents use.
type toolCaller interface {
	ToolCall(ctx context.Context, system, user string, decls []*genai.FunctionDeclaration, executors map[string]llm.Executor, maxTurns int) (string, error)
}

// RetrievalAgent turns a user request into the memory context the execution
// agent needs, by tool-calling the retriever.
type RetrievalAgent struct {
	llm       toolCaller
	executors map[string]llm.Executor
	decls     []*genai.FunctionDeclaration
	logger    *zap.Logger
}

// NewRetrievalAgent creates a retrieval agent over the given retriever.
func NewRetrievalAgent(client toolCaller, r *retriever.Retriever, logger *zap.Logger) *RetrievalAgent {
	return &RetrievalAgent{
		llm:       client,
		executors: retrievalExecutors(r),
		decls:     retrievalDeclarations(),
		logger:    logger,
	}
}

// Retrieve runs the tool-calling conversation for one request prompt. A final
// reply that is not valid JSON is degraded to a context summary rather than
// failed: the execution agent can still work from prose.
func (a *RetrievalAgent) Retrieve(ctx context.Context, prompt string) (*MemoryRetrievalOutput, error) {
	text, err := a.llm.ToolCall(ctx, retrievalSystemPrompt, prompt, a.decls, a.executors, 0)
	if err != nil {
		return nil, fmt.Errorf("memory retrieval failed: %w", err)
	}

	var out MemoryRetrievalOutput
	if err := llm.ParseJSON(text, &out); err != nil {
		a.logger.Warn("retrieval reply is not structured, using raw text as context",
			zap.Error(err))
		return &MemoryRetrievalOutput{ContextSummary: text}, nil
	}
	return &out, nil
}
