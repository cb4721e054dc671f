package device

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"go.uber.org/zap"

	"portablebrain/internal/config"
)

func portal(t *testing.T, handler http.Handler) (*httptest.Server, *Client) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewClient(config.DeviceConfig{
		BaseURL:        srv.URL,
		RequestTimeout: "5s",
		CommandTimeout: "10s",
	}, zap.NewNop())
	return srv, c
}

func portalMux(state, execute, ping http.HandlerFunc) *http.ServeMux {
	mux := http.NewServeMux()
	if ping == nil {
		ping = func(w http.ResponseWriter, _ *http.Request) {
			json.NewEncoder(w).Encode(map[string]string{"version": "1.0"})
		}
	}
	mux.HandleFunc("/ping", ping)
	if state != nil {
		mux.HandleFunc("/state", state)
	}
	if execute != nil {
		mux.HandleFunc("/execute", execute)
	}
	return mux
}

func TestGetState(t *testing.T) {
	state := func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"formatted_text": "Instagram DM thread with sarah_smith",
			"focused_id":     3,
			"phone_state": map[string]any{
				"packageName":  "com.instagram.android",
				"activityName": "DirectThreadActivity",
				"isEditable":   true,
			},
		})
	}
	_, c := portal(t, portalMux(state, nil, nil))

	got, err := c.GetState(context.Background())
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if got.Package != "com.instagram.android" || got.Activity != "DirectThreadActivity" {
		t.Fatalf("state: %+v", got)
	}
	if got.FocusedElement == nil || *got.FocusedElement != 3 {
		t.Fatalf("focused element: %v", got.FocusedElement)
	}
	if got.StateID == "" {
		t.Fatal("state id not minted")
	}
}

func TestExecuteCommand(t *testing.T) {
	var gotBody map[string]any
	execute := func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"reason":  "done",
			"steps":   4,
		})
	}
	_, c := portal(t, portalMux(nil, execute, nil))

	result, err := c.ExecuteCommand(context.Background(),
		"Open Instagram and message sarah_smith about dinner", ExecOptions{Reasoning: "user asked"})
	if err != nil {
		t.Fatalf("ExecuteCommand: %v", err)
	}
	if !result.Success || result.Steps != 4 {
		t.Fatalf("result: %+v", result)
	}
	// Command echoed into the result when the portal omits it.
	if result.Command == "" {
		t.Fatal("command not backfilled")
	}
	if gotBody["reasoning"] != "user asked" {
		t.Fatalf("request body: %v", gotBody)
	}
	if _, ok := gotBody["timeout_seconds"]; !ok {
		t.Fatal("timeout_seconds not sent")
	}
}

func TestEnsureConnected_RetriesThenFails(t *testing.T) {
	var pings atomic.Int32
	ping := func(w http.ResponseWriter, _ *http.Request) {
		pings.Add(1)
		http.Error(w, "portal down", http.StatusServiceUnavailable)
	}
	_, c := portal(t, portalMux(nil, nil, ping))

	_, err := c.GetState(context.Background())
	if err == nil {
		t.Fatal("expected connection failure")
	}
	if got := pings.Load(); got != connectAttempts {
		t.Fatalf("ping attempts=%d, want %d", got, connectAttempts)
	}
}

func TestEnsureConnected_RecoversAfterTransportError(t *testing.T) {
	var stateCalls atomic.Int32
	state := func(w http.ResponseWriter, _ *http.Request) {
		if stateCalls.Add(1) == 1 {
			http.Error(w, "flaky", http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"formatted_text": "home screen",
			"phone_state":    map[string]any{"packageName": "launcher", "activityName": "Home"},
		})
	}
	_, c := portal(t, portalMux(state, nil, nil))

	if _, err := c.GetState(context.Background()); err == nil {
		t.Fatal("first call should surface the transport error")
	}
	// The failure dropped the session; the next call reconnects and works.
	got, err := c.GetState(context.Background())
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if got.Package != "launcher" {
		t.Fatalf("state: %+v", got)
	}
}

func TestPing(t *testing.T) {
	_, c := portal(t, portalMux(nil, nil, nil))
	info, err := c.Ping(context.Background())
	if err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if info.Version != "1.0" {
		t.Fatalf("version=%q", info.Version)
	}
}
