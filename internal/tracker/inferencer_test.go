package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"portablebrain/internal/types"
)

// fakeLLM answers create and update calls from scripted queues. Calls are
// told apart by the schema the inferencer passes.
type fakeLLM struct {
	createNodes []*string // one entry per expected create call
	updateNodes []*string // nil entry means is_updated=false
	creates     int
	updates     int
	err         error
}

func strPtr(s string) *string { return &s }

func (f *fakeLLM) GenerateStructured(_ context.Context, _, _ string, schema *genai.Schema, out any) error {
	if f.err != nil {
		return f.err
	}
	var payload map[string]any
	switch schema {
	case createSchema:
		if f.creates >= len(f.createNodes) {
			return fmt.Errorf("unexpected create call %d", f.creates+1)
		}
		node := f.createNodes[f.creates]
		f.creates++
		payload = map[string]any{"observation_node": node, "reasoning": "scripted"}
	case updateSchema:
		if f.updates >= len(f.updateNodes) {
			return fmt.Errorf("unexpected update call %d", f.updates+1)
		}
		node := f.updateNodes[f.updates]
		f.updates++
		payload = map[string]any{
			"updated_observation_node": node,
			"is_updated":               node != nil,
			"reasoning":                "scripted",
		}
	default:
		return fmt.Errorf("unknown schema")
	}
	b, _ := json.Marshal(payload)
	return json.Unmarshal(b, out)
}

func snaps(n int, pkg string) []types.UIStateSnapshot {
	out := make([]types.UIStateSnapshot, n)
	for i := range out {
		out[i] = types.UIStateSnapshot{
			FormattedText: fmt.Sprintf("DM thread with sarah_smith, message %d", i),
			Activity:      "DirectThreadActivity",
			Package:       pkg,
			Timestamp:     time.Unix(int64(1000+i), 0),
		}
	}
	return out
}

func TestCreateNewObservation(t *testing.T) {
	llm := &fakeLLM{createNodes: []*string{strPtr("User chats with sarah_smith on Instagram DMs")}}
	inf := NewInferencer(llm, zap.NewNop())

	obs, err := inf.CreateNewObservation(context.Background(), snaps(10, "com.instagram.android"))
	if err != nil {
		t.Fatalf("CreateNewObservation: %v", err)
	}
	if obs == nil {
		t.Fatal("expected an observation")
	}
	if obs.MemoryType != types.ShortTermPreferences {
		t.Fatalf("memory type=%s, want short_term_preferences", obs.MemoryType)
	}
	if obs.Importance != 1.0 || obs.Recurrence != 1 || obs.ID == "" {
		t.Fatalf("defaults: %+v", obs)
	}
}

func TestCreateNewObservation_NullMeansNone(t *testing.T) {
	llm := &fakeLLM{createNodes: []*string{nil}}
	inf := NewInferencer(llm, zap.NewNop())

	obs, err := inf.CreateNewObservation(context.Background(), snaps(10, "com.instagram.android"))
	if err != nil {
		t.Fatal(err)
	}
	if obs != nil {
		t.Fatalf("null node must yield no observation, got %+v", obs)
	}
}

func TestUpdateObservation(t *testing.T) {
	current := types.NewShortTermPreference("User chats with sarah_smith", time.Unix(100, 0))

	llm := &fakeLLM{updateNodes: []*string{strPtr("User chats with sarah_smith about dinner plans")}}
	inf := NewInferencer(llm, zap.NewNop())
	updated, err := inf.UpdateObservation(context.Background(), current, snaps(10, "com.instagram.android"))
	if err != nil {
		t.Fatal(err)
	}
	if updated == nil || updated.ID != current.ID {
		t.Fatalf("update must keep the id: %+v", updated)
	}
	if updated.Node == current.Node {
		t.Fatal("node not updated")
	}

	// is_updated=false yields nil.
	llm = &fakeLLM{updateNodes: []*string{nil}}
	inf = NewInferencer(llm, zap.NewNop())
	updated, err = inf.UpdateObservation(context.Background(), current, snaps(10, "com.strava"))
	if err != nil {
		t.Fatal(err)
	}
	if updated != nil {
		t.Fatalf("no-update must yield nil, got %+v", updated)
	}
}

func TestDequeBounds(t *testing.T) {
	d := newDeque[int](3)
	for i := 0; i < 5; i++ {
		d.push(i)
	}
	if d.len() != 3 {
		t.Fatalf("len=%d, want 3", d.len())
	}
	got := d.newestFirst(0)
	if got[0] != 4 || got[2] != 2 {
		t.Fatalf("newestFirst=%v", got)
	}
	if limited := d.newestFirst(2); len(limited) != 2 || limited[0] != 4 {
		t.Fatalf("limited=%v", limited)
	}

	tail, ok := d.tail()
	if !ok || tail != 4 {
		t.Fatalf("tail=%v %v", tail, ok)
	}
	d.replaceTail(9)
	if tail, _ := d.tail(); tail != 9 {
		t.Fatalf("replaceTail: tail=%v", tail)
	}
}
