// Package types defines the shared data model: device UI states, classified
// state changes, compact snapshots, and inferred observations.
package types

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// UI STATE
// =============================================================================

// UIElement is one node of the device's accessibility tree, reduced to the
// fields the tracker cares about.
type UIElement struct {
	Index     int    `json:"index"`
	Text      string `json:"text,omitempty"`
	ClassName string `json:"class_name,omitempty"`
	Editable  bool   `json:"editable,omitempty"`
}

// UIState is a snapshot of the device at one instant. Constructed once per
// observation and never mutated afterwards; pass by pointer.
type UIState struct {
	StateID        string          `json:"state_id"`
	Package        string          `json:"package"`
	Activity       string          `json:"activity"`
	FocusedElement *int            `json:"focused_element,omitempty"`
	UIElements     []UIElement     `json:"ui_elements,omitempty"`
	FormattedText  string          `json:"formatted_text"`
	RawTree        json.RawMessage `json:"-"`
}

// NewUIState mints a state with a fresh id.
func NewUIState(pkg, activity string, focused *int, elements []UIElement, formatted string, raw json.RawMessage) *UIState {
	return &UIState{
		StateID:        uuid.NewString(),
		Package:        pkg,
		Activity:       activity,
		FocusedElement: focused,
		UIElements:     elements,
		FormattedText:  formatted,
		RawTree:        raw,
	}
}

// =============================================================================
// STATE CHANGES
// =============================================================================

// ChangeType classifies a transition between two UI states.
type ChangeType string

const (
	ChangeAppSwitch ChangeType = "APP_SWITCH"
	ChangeChanged   ChangeType = "CHANGED"
	ChangeNoChange  ChangeType = "NO_CHANGE"
)

// ChangeSource records which path observed the transition.
type ChangeSource string

const (
	SourceObservation ChangeSource = "observation"
	SourceCommand     ChangeSource = "command"
)

// UIStateChange is a transition record between two states.
type UIStateChange struct {
	Timestamp  time.Time    `json:"timestamp"`
	Before     *UIState     `json:"before"`
	After      *UIState     `json:"after"`
	Source     ChangeSource `json:"source"`
	ChangeType ChangeType   `json:"change_type"`
}

// ClassifyChange applies the deterministic transition rule: a different
// package is an app switch; same package, activity and focused element is no
// change; anything else is a plain change. A nil before state (first poll)
// classifies as CHANGED so the first observation enters the pipeline.
func ClassifyChange(before, after *UIState) ChangeType {
	if after == nil {
		return ChangeNoChange
	}
	if before == nil {
		return ChangeChanged
	}
	if before.Package != after.Package {
		return ChangeAppSwitch
	}
	if before.Activity == after.Activity && focusedEqual(before.FocusedElement, after.FocusedElement) {
		return ChangeNoChange
	}
	return ChangeChanged
}

func focusedEqual(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// NewUIStateChange builds a classified transition record.
func NewUIStateChange(before, after *UIState, source ChangeSource, at time.Time) *UIStateChange {
	return &UIStateChange{
		Timestamp:  at,
		Before:     before,
		After:      after,
		Source:     source,
		ChangeType: ClassifyChange(before, after),
	}
}

// =============================================================================
// SNAPSHOTS
// =============================================================================

// UIStateSnapshot is the compact form handed to the observation inferencer.
type UIStateSnapshot struct {
	FormattedText string    `json:"formatted_text"`
	Activity      string    `json:"activity"`
	Package       string    `json:"package"`
	Timestamp     time.Time `json:"timestamp"`
	IsAppSwitch   bool      `json:"is_app_switch"`
	// FromPackage is only set when IsAppSwitch is true.
	FromPackage string `json:"from_package,omitempty"`
}

// SnapshotFromChange reduces a transition record to its inferencer form.
func SnapshotFromChange(c *UIStateChange) UIStateSnapshot {
	s := UIStateSnapshot{
		FormattedText: c.After.FormattedText,
		Activity:      c.After.Activity,
		Package:       c.After.Package,
		Timestamp:     c.Timestamp,
		IsAppSwitch:   c.ChangeType == ChangeAppSwitch,
	}
	if s.IsAppSwitch && c.Before != nil {
		s.FromPackage = c.Before.Package
	}
	return s
}

// PromptText renders the snapshot for inclusion in an LLM prompt, annotating
// app switches so the model can segment activity windows.
func (s UIStateSnapshot) PromptText() string {
	header := fmt.Sprintf("[%s] %s / %s", s.Timestamp.Format(time.RFC3339), s.Package, s.Activity)
	if s.IsAppSwitch {
		header += fmt.Sprintf("\nAPP SWITCH: from %s to %s", s.FromPackage, s.Package)
	}
	return header + "\n" + s.FormattedText
}
