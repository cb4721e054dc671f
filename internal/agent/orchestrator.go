package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
)

// DefaultMaxIterations bounds the retrieve/execute loop when the caller does
// not override it.
const DefaultMaxIterations = 3

type memoryRetriever interface {
	Retrieve(ctx context.Context, prompt string) (*MemoryRetrievalOutput, error)
}

type commandExecutor interface {
	Execute(ctx context.Context, userRequest, contextSummary string) (*ExecutionResult, error)
}

// Orchestrator runs the full request pipeline: retrieve memory context,
// attempt execution, and on failure re-retrieve with the failure folded into
// the prompt, up to an iteration budget.
type Orchestrator struct {
	retrieval     memoryRetriever
	execution     commandExecutor
	maxIterations int
	logger        *zap.Logger
}

// NewOrchestrator creates an orchestrator. maxIterations <= 0 selects the
// default budget of 3.
func NewOrchestrator(retrieval memoryRetriever, execution commandExecutor, maxIterations int, logger *zap.Logger) *Orchestrator {
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}
	return &Orchestrator{
		retrieval:     retrieval,
		execution:     execution,
		maxIterations: maxIterations,
		logger:        logger,
	}
}

// Run mediates one user request. maxIterations overrides the configured
// budget when positive; the effective budget is never below one.
//
// Each iteration executes against the current context. On success the result
// returns immediately. On failure (except after the final attempt) the
// retrieval agent is re-entered with a retrieval_state block describing every
// query made so far and what the execution agent said was missing, and the
// next attempt uses the fresh context. Running out of budget returns the last
// failing result with Exhausted set.
func (o *Orchestrator) Run(ctx context.Context, userRequest string, maxIterations int) (*Result, error) {
	budget := o.maxIterations
	if maxIterations > 0 {
		budget = maxIterations
	}
	if budget < 1 {
		budget = 1
	}

	retrieved, err := o.retrieval.Retrieve(ctx, userRequest)
	if err != nil {
		return nil, err
	}
	contextSummary := retrieved.ContextSummary
	allPrevQueries := append([]RetrievalLogEntry(nil), retrieved.RetrievalLog...)

	var last *ExecutionResult
	for iteration := 1; iteration <= budget; iteration++ {
		o.logger.Info("execution attempt",
			zap.Int("iteration", iteration), zap.Int("budget", budget))

		last, err = o.execution.Execute(ctx, userRequest, contextSummary)
		if err != nil {
			return nil, err
		}
		if last.Success {
			return &Result{ExecutionResult: *last, Iterations: iteration}, nil
		}
		if iteration == budget {
			break
		}

		state := RetrievalState{
			Iteration:              iteration,
			PreviousQueries:        allPrevQueries,
			ExecutionFailureReason: orUnknown(last.FailureReason),
			MissingInformation:     orUnknown(last.MissingInformation),
		}
		stateJSON, merr := json.Marshal(state)
		if merr != nil {
			return nil, fmt.Errorf("failed to serialize retrieval state: %w", merr)
		}
		o.logger.Info("execution failed, re-retrieving",
			zap.Int("iteration", iteration),
			zap.String("failure_reason", state.ExecutionFailureReason))

		retrieved, err = o.retrieval.Retrieve(ctx, userRequest+"\n\nretrieval_state:\n"+string(stateJSON))
		if err != nil {
			return nil, err
		}
		contextSummary = retrieved.ContextSummary
		allPrevQueries = append(allPrevQueries, retrieved.RetrievalLog...)
	}

	o.logger.Warn("iteration budget exhausted", zap.Int("budget", budget))
	return &Result{ExecutionResult: *last, Iterations: budget, Exhausted: true}, nil
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
