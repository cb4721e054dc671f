package agent

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"portablebrain/internal/device"
	"portablebrain/internal/embedding"
	"portablebrain/internal/llm"
	"portablebrain/internal/retriever"
	"portablebrain/internal/store"
	"portablebrain/internal/types"
)

// fakeToolCaller scripts the conversation: each step may run one of the
// offered executors, and the final step's reply is returned. Prompts are
// recorded for assertions.
type fakeToolCaller struct {
	reply    string
	invoke   string         // executor to run before replying, if any
	args     map[string]any // args for that executor
	prompts  []string
	toolErr  error
	lastTool any // result the executor returned
}

func (f *fakeToolCaller) ToolCall(ctx context.Context, _, user string, _ []*genai.FunctionDeclaration, executors map[string]llm.Executor, _ int) (string, error) {
	f.prompts = append(f.prompts, user)
	if f.invoke != "" {
		exec, ok := executors[f.invoke]
		if !ok {
			return "", llm.ErrMaxTurns
		}
		result, err := exec(ctx, f.args)
		if err != nil {
			f.toolErr = err
		}
		f.lastTool = result
	}
	return f.reply, nil
}

type fakeExecDriver struct {
	command string
	opts    device.ExecOptions
	result  *device.ExecutionResult
}

func (d *fakeExecDriver) GetState(context.Context) (*types.UIState, error) {
	return nil, nil
}

func (d *fakeExecDriver) ExecuteCommand(_ context.Context, command string, opts device.ExecOptions) (*device.ExecutionResult, error) {
	d.command = command
	d.opts = opts
	return d.result, nil
}

func (d *fakeExecDriver) Ping(context.Context) (*device.VersionInfo, error) {
	return &device.VersionInfo{Version: "fake"}, nil
}

func TestRetrievalAgent_ParsesStructuredReply(t *testing.T) {
	reply := "```json\n" + `{
		"context_summary": "Sarah Smith is the user's sister, reachable on WhatsApp.",
		"inferred_intent": "message sarah",
		"reasoning": "resolved 'my sister' via people memory",
		"unresolved": [],
		"retrieval_log": [{"tool": "find_person_by_name", "params": {"name": "sarah"}, "result_summary": "1 match"}]
	}` + "\n```"
	a := NewRetrievalAgent(&fakeToolCaller{reply: reply}, nil, zap.NewNop())

	out, err := a.Retrieve(context.Background(), "text my sister I'm running late")
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if out.InferredIntent != "message sarah" {
		t.Fatalf("intent=%q", out.InferredIntent)
	}
	if len(out.RetrievalLog) != 1 || out.RetrievalLog[0].Tool != "find_person_by_name" {
		t.Fatalf("retrieval log: %+v", out.RetrievalLog)
	}
}

func TestRetrievalAgent_UnstructuredReplyBecomesContext(t *testing.T) {
	a := NewRetrievalAgent(&fakeToolCaller{reply: "Sarah is the user's sister."}, nil, zap.NewNop())

	out, err := a.Retrieve(context.Background(), "text my sister")
	if err != nil {
		t.Fatal(err)
	}
	if out.ContextSummary != "Sarah is the user's sister." {
		t.Fatalf("context=%q", out.ContextSummary)
	}
	if out.InferredIntent != "" {
		t.Fatalf("fallback must leave other fields empty: %+v", out)
	}
}

func TestExecutionAgent_JoinsContextIntoPrompt(t *testing.T) {
	fc := &fakeToolCaller{reply: `{"success": true, "result_summary": "sent"}`}
	a := NewExecutionAgent(fc, &fakeExecDriver{}, time.Minute, zap.NewNop())

	res, err := a.Execute(context.Background(), "text my sister", "Sister is Sarah Smith on WhatsApp.")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success {
		t.Fatalf("result: %+v", res)
	}
	want := "text my sister\n\n Context: \nSister is Sarah Smith on WhatsApp."
	if fc.prompts[0] != want {
		t.Fatalf("prompt=%q", fc.prompts[0])
	}

	// Without context the request goes through bare.
	fc.prompts = nil
	if _, err := a.Execute(context.Background(), "open settings", ""); err != nil {
		t.Fatal(err)
	}
	if fc.prompts[0] != "open settings" {
		t.Fatalf("prompt=%q", fc.prompts[0])
	}
}

func TestExecutionAgent_ToolDrivesDevice(t *testing.T) {
	driver := &fakeExecDriver{result: &device.ExecutionResult{Success: true, Reason: "done"}}
	fc := &fakeToolCaller{
		reply:  `{"success": true, "result_summary": "message sent"}`,
		invoke: "execute_command",
		args: map[string]any{
			"enriched_command": "Open WhatsApp and send 'running late' to Sarah Smith",
			"reasoning":        "resolved sister to Sarah Smith",
		},
	}
	a := NewExecutionAgent(fc, driver, 90*time.Second, zap.NewNop())

	if _, err := a.Execute(context.Background(), "text my sister", "ctx"); err != nil {
		t.Fatal(err)
	}
	if fc.toolErr != nil {
		t.Fatalf("executor error: %v", fc.toolErr)
	}
	if !strings.Contains(driver.command, "Sarah Smith") {
		t.Fatalf("command=%q", driver.command)
	}
	if driver.opts.Timeout != 90*time.Second {
		t.Fatalf("default timeout not applied: %v", driver.opts.Timeout)
	}
	if driver.opts.Reasoning == "" {
		t.Fatal("reasoning not passed through")
	}
}

func TestExecutionAgent_EmptyCommandRejected(t *testing.T) {
	fc := &fakeToolCaller{
		reply:  `{"success": false, "result_summary": "no command"}`,
		invoke: "execute_command",
		args:   map[string]any{"enriched_command": "   "},
	}
	a := NewExecutionAgent(fc, &fakeExecDriver{}, time.Minute, zap.NewNop())

	if _, err := a.Execute(context.Background(), "do nothing", ""); err != nil {
		t.Fatal(err)
	}
	if fc.toolErr == nil {
		t.Fatal("blank enriched_command must fail the executor")
	}
}

func TestExecutionAgent_UnstructuredReplyIsFailure(t *testing.T) {
	a := NewExecutionAgent(&fakeToolCaller{reply: "I sent the message!"}, &fakeExecDriver{}, time.Minute, zap.NewNop())

	res, err := a.Execute(context.Background(), "text my sister", "")
	if err != nil {
		t.Fatal(err)
	}
	if res.Success {
		t.Fatal("unstructured reply must not count as success")
	}
	if res.ResultSummary != "I sent the message!" {
		t.Fatalf("raw text not preserved: %+v", res)
	}
}

func TestRetrievalToolRegistry(t *testing.T) {
	decls := retrievalDeclarations()
	execs := retrievalExecutors(nil)

	if len(decls) != len(execs) {
		t.Fatalf("declarations=%d executors=%d", len(decls), len(execs))
	}
	names := make(map[string]bool, len(decls))
	for _, d := range decls {
		if _, ok := execs[d.Name]; !ok {
			t.Fatalf("declaration %q has no executor", d.Name)
		}
		names[d.Name] = true
	}
	// The point lookups are part of the tool surface, not just the
	// retriever API.
	for _, want := range []string{"get_embedding_for_observation", "get_person_by_id"} {
		if !names[want] {
			t.Fatalf("tool %q not declared", want)
		}
	}
}

func TestPointLookupExecutors(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "agent.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	ctx := context.Background()

	if err := st.SaveTextEmbedding(ctx, store.TextEmbedding{
		ID:              "obs-7",
		ObservationText: "User chats with sarah_smith on Instagram DMs",
		Vector:          []float32{1, 0, 0, 0},
		CreatedAt:       time.Now(),
		ObservationID:   "obs-7",
	}); err != nil {
		t.Fatal(err)
	}
	now := time.Now()
	if err := st.SavePerson(ctx, store.Person{
		ID:                      "sarah_smith",
		FirstName:               "Sarah",
		FullName:                "Sarah Smith",
		RelationshipDescription: "younger sister",
		CreatedAt:               now,
		UpdatedAt:               now,
	}); err != nil {
		t.Fatal(err)
	}

	execs := retrievalExecutors(retriever.New(st, embedding.NewMockEngine(4), 0, zap.NewNop()))

	got, err := execs["get_embedding_for_observation"](ctx, map[string]any{"observation_id": "obs-7"})
	if err != nil {
		t.Fatalf("get_embedding_for_observation: %v", err)
	}
	if row := got.(*store.TextEmbedding); row.ObservationText == "" {
		t.Fatalf("row: %+v", row)
	}

	got, err = execs["get_person_by_id"](ctx, map[string]any{"person_id": "sarah_smith"})
	if err != nil {
		t.Fatalf("get_person_by_id: %v", err)
	}
	if p := got.(*store.Person); p.FullName != "Sarah Smith" {
		t.Fatalf("person: %+v", p)
	}

	// A missing id surfaces as an error the tool loop feeds back to the
	// model.
	if _, err := execs["get_embedding_for_observation"](ctx, map[string]any{"observation_id": "nope"}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("missing id: %v", err)
	}
}

// scriptedRetriever returns canned outputs and records prompts.
type scriptedRetriever struct {
	outputs []*MemoryRetrievalOutput
	prompts []string
}

func (r *scriptedRetriever) Retrieve(_ context.Context, prompt string) (*MemoryRetrievalOutput, error) {
	r.prompts = append(r.prompts, prompt)
	i := len(r.prompts) - 1
	if i >= len(r.outputs) {
		i = len(r.outputs) - 1
	}
	return r.outputs[i], nil
}

// scriptedExecutor returns canned results and records the contexts it saw.
type scriptedExecutor struct {
	results  []*ExecutionResult
	contexts []string
}

func (e *scriptedExecutor) Execute(_ context.Context, _, contextSummary string) (*ExecutionResult, error) {
	e.contexts = append(e.contexts, contextSummary)
	i := len(e.contexts) - 1
	if i >= len(e.results) {
		i = len(e.results) - 1
	}
	return e.results[i], nil
}

func retOut(summary string, log ...RetrievalLogEntry) *MemoryRetrievalOutput {
	return &MemoryRetrievalOutput{ContextSummary: summary, RetrievalLog: log}
}

func TestOrchestrator_SuccessOnFirstIteration(t *testing.T) {
	ret := &scriptedRetriever{outputs: []*MemoryRetrievalOutput{retOut("ctx")}}
	exe := &scriptedExecutor{results: []*ExecutionResult{{Success: true, ResultSummary: "done"}}}
	o := NewOrchestrator(ret, exe, 3, zap.NewNop())

	res, err := o.Run(context.Background(), "play my workout playlist", 0)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success || res.Exhausted || res.Iterations != 1 {
		t.Fatalf("result: %+v", res)
	}
	if len(ret.prompts) != 1 {
		t.Fatalf("retrievals=%d, want 1", len(ret.prompts))
	}
}

func TestOrchestrator_ReRetrievesWithCumulativeState(t *testing.T) {
	ret := &scriptedRetriever{outputs: []*MemoryRetrievalOutput{
		retOut("ctx 1", RetrievalLogEntry{Tool: "find_person_by_name", ResultSummary: "no match"}),
		retOut("ctx 2", RetrievalLogEntry{Tool: "search_memories", ResultSummary: "found playlist"}),
		retOut("ctx 3"),
	}}
	exe := &scriptedExecutor{results: []*ExecutionResult{
		{Success: false, FailureReason: "playlist not found", MissingInformation: "playlist name"},
		{Success: false, FailureReason: "app not installed"},
		{Success: true, ResultSummary: "playing"},
	}}
	o := NewOrchestrator(ret, exe, 3, zap.NewNop())

	res, err := o.Run(context.Background(), "play my workout playlist", 0)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success || res.Iterations != 3 || res.Exhausted {
		t.Fatalf("result: %+v", res)
	}

	// Each attempt ran with the freshest context.
	if len(exe.contexts) != 3 || exe.contexts[2] != "ctx 3" {
		t.Fatalf("contexts: %v", exe.contexts)
	}

	// Re-entry prompts carry the serialized state after the bare request.
	if len(ret.prompts) != 3 {
		t.Fatalf("retrievals=%d, want 3", len(ret.prompts))
	}
	for i, p := range ret.prompts[1:] {
		marker := "\n\nretrieval_state:\n"
		idx := strings.Index(p, marker)
		if idx < 0 {
			t.Fatalf("re-entry prompt %d missing state block: %q", i+2, p)
		}
		var state RetrievalState
		if err := json.Unmarshal([]byte(p[idx+len(marker):]), &state); err != nil {
			t.Fatalf("state block %d not JSON: %v", i+2, err)
		}
		if state.Iteration != i+1 {
			t.Fatalf("state %d iteration=%d", i+2, state.Iteration)
		}
		// Queries accumulate across iterations, never reset.
		if len(state.PreviousQueries) != i+1 {
			t.Fatalf("state %d previous_queries=%d, want %d", i+2, len(state.PreviousQueries), i+1)
		}
	}

	// Missing fields serialize as "unknown", not empty.
	var second RetrievalState
	idx := strings.Index(ret.prompts[2], "retrieval_state:\n")
	if err := json.Unmarshal([]byte(ret.prompts[2][idx+len("retrieval_state:\n"):]), &second); err != nil {
		t.Fatal(err)
	}
	if second.MissingInformation != "unknown" {
		t.Fatalf("missing_information=%q, want unknown", second.MissingInformation)
	}
}

func TestOrchestrator_ExhaustsBudget(t *testing.T) {
	ret := &scriptedRetriever{outputs: []*MemoryRetrievalOutput{retOut("ctx")}}
	exe := &scriptedExecutor{results: []*ExecutionResult{
		{Success: false, FailureReason: "still failing"},
	}}
	o := NewOrchestrator(ret, exe, 0, zap.NewNop()) // default budget 3

	res, err := o.Run(context.Background(), "do the thing", 2)
	if err != nil {
		t.Fatal(err)
	}
	if res.Success || !res.Exhausted || res.Iterations != 2 {
		t.Fatalf("result: %+v", res)
	}
	if res.FailureReason != "still failing" {
		t.Fatalf("last failure not surfaced: %+v", res)
	}
	// Budget 2 means one initial retrieval plus one re-entry; the final
	// failing attempt does not trigger another.
	if len(ret.prompts) != 2 {
		t.Fatalf("retrievals=%d, want 2", len(ret.prompts))
	}
}

func TestOrchestrator_BudgetNeverBelowOne(t *testing.T) {
	ret := &scriptedRetriever{outputs: []*MemoryRetrievalOutput{retOut("ctx")}}
	exe := &scriptedExecutor{results: []*ExecutionResult{{Success: false}}}
	o := NewOrchestrator(ret, exe, 3, zap.NewNop())

	res, err := o.Run(context.Background(), "x", -4)
	if err != nil {
		t.Fatal(err)
	}
	// Negative override falls back to the configured budget.
	if res.Iterations != 3 {
		t.Fatalf("iterations=%d, want 3", res.Iterations)
	}
}
