package llm

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

// fakeGen replays scripted responses and records the conversation it saw.
type fakeGen struct {
	responses []*genai.GenerateContentResponse
	err       error
	calls     int
	lastSeen  []*genai.Content
}

func (f *fakeGen) generate(_ context.Context, contents []*genai.Content, _ *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.lastSeen = contents
	if f.err != nil {
		return nil, f.err
	}
	if f.calls >= len(f.responses) {
		return nil, fmt.Errorf("fake generator exhausted after %d calls", f.calls)
	}
	resp := f.responses[f.calls]
	f.calls++
	return resp, nil
}

func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: genai.NewContentFromParts([]*genai.Part{genai.NewPartFromText(text)}, genai.RoleModel),
		}},
	}
}

func callResponse(name string, args map[string]any) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: genai.NewContentFromParts([]*genai.Part{
				{FunctionCall: &genai.FunctionCall{Name: name, Args: args}},
			}, genai.RoleModel),
		}},
	}
}

func testClient(gen *fakeGen) *Client {
	return &Client{
		gen:               gen,
		model:             "test-model",
		maxToolTurns:      5,
		structuredRetries: 2,
		logger:            zap.NewNop(),
	}
}

func TestStripFences(t *testing.T) {
	cases := map[string]string{
		"{\"a\":1}":                      "{\"a\":1}",
		"```json\n{\"a\":1}\n```":        "{\"a\":1}",
		"```\n{\"a\":1}\n```":            "{\"a\":1}",
		"  ```json\n{\"a\": \"b\"}\n``` ": "{\"a\": \"b\"}",
	}
	for in, want := range cases {
		if got := StripFences(in); got != want {
			t.Fatalf("StripFences(%q)=%q, want %q", in, got, want)
		}
	}
}

func TestGenerateStructured_OK(t *testing.T) {
	gen := &fakeGen{responses: []*genai.GenerateContentResponse{
		textResponse(`{"observation_node": "uses Instagram nightly", "reasoning": "recurring"}`),
	}}
	c := testClient(gen)

	var out struct {
		ObservationNode *string `json:"observation_node"`
		Reasoning       string  `json:"reasoning"`
	}
	if err := c.GenerateStructured(context.Background(), "sys", "user", nil, &out); err != nil {
		t.Fatalf("GenerateStructured: %v", err)
	}
	if out.ObservationNode == nil || *out.ObservationNode != "uses Instagram nightly" {
		t.Fatalf("parsed: %+v", out)
	}
}

func TestGenerateStructured_RetriesMalformedThenSucceeds(t *testing.T) {
	gen := &fakeGen{responses: []*genai.GenerateContentResponse{
		textResponse("not json at all"),
		textResponse("```json\n{\"reasoning\": \"ok\"}\n```"),
	}}
	c := testClient(gen)

	var out struct {
		Reasoning string `json:"reasoning"`
	}
	if err := c.GenerateStructured(context.Background(), "", "user", nil, &out); err != nil {
		t.Fatalf("GenerateStructured: %v", err)
	}
	if gen.calls != 2 {
		t.Fatalf("calls=%d, want 2", gen.calls)
	}
	if out.Reasoning != "ok" {
		t.Fatalf("parsed: %+v", out)
	}
}

func TestGenerateStructured_ExhaustsRetries(t *testing.T) {
	gen := &fakeGen{responses: []*genai.GenerateContentResponse{
		textResponse("junk"), textResponse("junk"), textResponse("junk"),
	}}
	c := testClient(gen)

	var out map[string]any
	err := c.GenerateStructured(context.Background(), "", "user", nil, &out)
	if err == nil {
		t.Fatal("expected failure after exhausting retries")
	}
	if gen.calls != 3 {
		t.Fatalf("calls=%d, want 3 (1 + 2 retries)", gen.calls)
	}
}

func TestGenerateStructured_TransportErrorIsFatal(t *testing.T) {
	gen := &fakeGen{err: fmt.Errorf("connection refused")}
	c := testClient(gen)

	var out map[string]any
	if err := c.GenerateStructured(context.Background(), "", "user", nil, &out); err == nil {
		t.Fatal("transport error must not be retried as malformed output")
	}
	if gen.calls != 0 {
		t.Fatalf("calls recorded=%d", gen.calls)
	}
}

func TestToolCall_ExecutesAndReturnsFinalText(t *testing.T) {
	gen := &fakeGen{responses: []*genai.GenerateContentResponse{
		callResponse("get_battery", map[string]any{"unit": "percent"}),
		textResponse("battery is at 80%"),
	}}
	c := testClient(gen)

	var gotArgs map[string]any
	executors := map[string]Executor{
		"get_battery": func(_ context.Context, args map[string]any) (any, error) {
			gotArgs = args
			return map[string]any{"level": 80}, nil
		},
	}

	final, err := c.ToolCall(context.Background(), "sys", "check battery", nil, executors, 5)
	if err != nil {
		t.Fatalf("ToolCall: %v", err)
	}
	if final != "battery is at 80%" {
		t.Fatalf("final=%q", final)
	}
	if gotArgs["unit"] != "percent" {
		t.Fatalf("executor args: %v", gotArgs)
	}
	// Transcript: user, model call, function response, for the second turn.
	if len(gen.lastSeen) != 3 {
		t.Fatalf("conversation length=%d, want 3", len(gen.lastSeen))
	}
}

func TestToolCall_ExecutorErrorFedBackToModel(t *testing.T) {
	gen := &fakeGen{responses: []*genai.GenerateContentResponse{
		callResponse("lookup", map[string]any{}),
		textResponse("could not resolve"),
	}}
	c := testClient(gen)

	executors := map[string]Executor{
		"lookup": func(context.Context, map[string]any) (any, error) {
			return nil, fmt.Errorf("store unavailable")
		},
	}

	final, err := c.ToolCall(context.Background(), "", "find it", nil, executors, 5)
	if err != nil {
		t.Fatalf("executor error must not abort the loop: %v", err)
	}
	if final != "could not resolve" {
		t.Fatalf("final=%q", final)
	}
}

func TestToolCall_UnknownToolFailsFast(t *testing.T) {
	gen := &fakeGen{responses: []*genai.GenerateContentResponse{
		callResponse("mystery_tool", map[string]any{}),
	}}
	c := testClient(gen)

	_, err := c.ToolCall(context.Background(), "", "do it", nil, map[string]Executor{}, 5)
	if err == nil {
		t.Fatal("unknown tool accepted")
	}
}

func TestToolCall_MaxTurns(t *testing.T) {
	loop := callResponse("spin", map[string]any{})
	gen := &fakeGen{responses: []*genai.GenerateContentResponse{loop, loop, loop}}
	c := testClient(gen)

	executors := map[string]Executor{
		"spin": func(context.Context, map[string]any) (any, error) { return "again", nil },
	}

	_, err := c.ToolCall(context.Background(), "", "go", nil, executors, 3)
	if !errors.Is(err, ErrMaxTurns) {
		t.Fatalf("err=%v, want ErrMaxTurns", err)
	}
	if gen.calls != 3 {
		t.Fatalf("calls=%d, want 3", gen.calls)
	}
}
