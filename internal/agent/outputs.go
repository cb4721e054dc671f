// Package agent hosts the request-scoped LLM agents: the retrieval agent
// tool-calling the memory retriever, the execution agent driving the device,
// and the orchestrator running the bounded retrieve/execute loop.
package agent

// MemoryRetrievalOutput is the retrieval agent's structured final answer.
type MemoryRetrievalOutput struct {
	ContextSummary string              `json:"context_summary"`
	InferredIntent string              `json:"inferred_intent"`
	Reasoning      string              `json:"reasoning"`
	Unresolved     []string            `json:"unresolved"`
	RetrievalLog   []RetrievalLogEntry `json:"retrieval_log"`
}

// RetrievalLogEntry records one tool call the retrieval agent made.
type RetrievalLogEntry struct {
	Tool          string         `json:"tool"`
	Params        map[string]any `json:"params"`
	ResultSummary string         `json:"result_summary"`
}

// ExecutionResult is the execution agent's structured final answer.
type ExecutionResult struct {
	Success            bool   `json:"success"`
	ResultSummary      string `json:"result_summary"`
	FailureReason      string `json:"failure_reason,omitempty"`
	MissingInformation string `json:"missing_information,omitempty"`
}

// RetrievalState is handed to the retrieval agent on re-entry so it can
// avoid repeating earlier queries. Serialized as JSON into the prompt.
type RetrievalState struct {
	Iteration              int                 `json:"iteration"`
	PreviousQueries        []RetrievalLogEntry `json:"previous_queries"`
	ExecutionFailureReason string              `json:"execution_failure_reason"`
	MissingInformation     string              `json:"missing_information"`
}

// Result is the orchestrator's outcome: the last execution result plus loop
// bookkeeping. Exhausted is set when the iteration budget ran out while the
// result was still failing.
type Result struct {
	ExecutionResult
	Iterations int  `json:"iterations"`
	Exhausted  bool `json:"exhausted"`
}
