// Package device adapts the DroidRun portal's JSON-over-HTTP surface into
// the narrow driver contract the tracker and execution agent consume.
package device

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"portablebrain/internal/config"
	"portablebrain/internal/types"
)

// Driver is the device contract. GetState is cheap and polled at 1 Hz;
// ExecuteCommand is synchronous and may take minutes.
type Driver interface {
	GetState(ctx context.Context) (*types.UIState, error)
	ExecuteCommand(ctx context.Context, command string, opts ExecOptions) (*ExecutionResult, error)
	Ping(ctx context.Context) (*VersionInfo, error)
}

// ExecOptions carries the optional /execute parameters.
type ExecOptions struct {
	Reasoning string
	Timeout   time.Duration
}

// ExecutionResult is the portal's raw command outcome.
type ExecutionResult struct {
	Timestamp time.Time `json:"timestamp"`
	Command   string    `json:"command"`
	Success   bool      `json:"success"`
	Reason    string    `json:"reason,omitempty"`
	Steps     int       `json:"steps,omitempty"`
}

// VersionInfo is the /ping payload.
type VersionInfo struct {
	Version string `json:"version"`
	Device  string `json:"device,omitempty"`
}

// Client speaks to one DroidRun portal. Each entry point re-establishes the
// session when it was lost, with bounded attempts.
type Client struct {
	baseURL        string
	http           *http.Client
	commandTimeout time.Duration
	logger         *zap.Logger

	mu        sync.Mutex
	connected bool
}

// connectAttempts bounds session re-establishment per method entry.
const connectAttempts = 2

// NewClient creates a portal client from configuration.
func NewClient(cfg config.DeviceConfig, logger *zap.Logger) *Client {
	timeout := 30 * time.Second
	if d, err := time.ParseDuration(cfg.RequestTimeout); err == nil {
		timeout = d
	}
	commandTimeout := 120 * time.Second
	if d, err := time.ParseDuration(cfg.CommandTimeout); err == nil {
		commandTimeout = d
	}
	return &Client{
		baseURL:        cfg.BaseURL,
		http:           &http.Client{Timeout: timeout},
		commandTimeout: commandTimeout,
		logger:         logger,
	}
}

// ensureConnected re-establishes the portal session if it was lost. Bounded
// attempts with fixed backoff; the final error propagates to the caller.
func (c *Client) ensureConnected(ctx context.Context) error {
	c.mu.Lock()
	connected := c.connected
	c.mu.Unlock()
	if connected {
		return nil
	}

	var lastErr error
	for attempt := 1; attempt <= connectAttempts; attempt++ {
		if _, err := c.ping(ctx); err == nil {
			c.mu.Lock()
			c.connected = true
			c.mu.Unlock()
			return nil
		} else {
			lastErr = err
			c.logger.Warn("portal connection attempt failed",
				zap.Int("attempt", attempt), zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
	return fmt.Errorf("device unreachable after %d attempts: %w", connectAttempts, lastErr)
}

// markDisconnected drops the session so the next call reconnects.
func (c *Client) markDisconnected() {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
}

// GetState fetches and normalizes the current UI state.
func (c *Client) GetState(ctx context.Context) (*types.UIState, error) {
	if err := c.ensureConnected(ctx); err != nil {
		return nil, err
	}

	var payload struct {
		FormattedText string            `json:"formatted_text"`
		FocusedID     *int              `json:"focused_id"`
		UIElements    []types.UIElement `json:"ui_elements"`
		PhoneState    struct {
			PackageName  string `json:"packageName"`
			ActivityName string `json:"activityName"`
			IsEditable   bool   `json:"isEditable"`
		} `json:"phone_state"`
		RawTree json.RawMessage `json:"raw_tree"`
	}
	if err := c.getJSON(ctx, "/state", &payload); err != nil {
		c.markDisconnected()
		return nil, fmt.Errorf("get_state failed: %w", err)
	}

	return types.NewUIState(
		payload.PhoneState.PackageName,
		payload.PhoneState.ActivityName,
		payload.FocusedID,
		payload.UIElements,
		payload.FormattedText,
		payload.RawTree,
	), nil
}

// ExecuteCommand runs one enriched natural-language command on the device.
// The call is synchronous; the HTTP timeout is widened to the command
// timeout plus slack.
func (c *Client) ExecuteCommand(ctx context.Context, command string, opts ExecOptions) (*ExecutionResult, error) {
	if err := c.ensureConnected(ctx); err != nil {
		return nil, err
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = c.commandTimeout
	}

	reqBody := map[string]any{
		"command":         command,
		"timeout_seconds": int(timeout.Seconds()),
	}
	if opts.Reasoning != "" {
		reqBody["reasoning"] = opts.Reasoning
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal command: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/execute", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	// A dedicated client: the shared one's timeout is sized for /state.
	execHTTP := &http.Client{Timeout: timeout + 30*time.Second}
	resp, err := execHTTP.Do(req)
	if err != nil {
		c.markDisconnected()
		return nil, fmt.Errorf("execute_command failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("portal returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var result ExecutionResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode execution result: %w", err)
	}
	if result.Command == "" {
		result.Command = command
	}
	return &result, nil
}

// Ping checks the portal and returns its version info.
func (c *Client) Ping(ctx context.Context) (*VersionInfo, error) {
	info, err := c.ping(ctx)
	if err != nil {
		c.markDisconnected()
		return nil, err
	}
	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	return info, nil
}

func (c *Client) ping(ctx context.Context) (*VersionInfo, error) {
	var info VersionInfo
	if err := c.getJSON(ctx, "/ping", &info); err != nil {
		return nil, fmt.Errorf("ping failed: %w", err)
	}
	return &info, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("portal returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
