package types

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// OBSERVATIONS
// =============================================================================

// MemoryType discriminates the observation variants.
type MemoryType string

const (
	LongTermPeople       MemoryType = "long_term_people"
	LongTermPreferences  MemoryType = "long_term_preferences"
	ShortTermPreferences MemoryType = "short_term_preferences"
	ShortTermContent     MemoryType = "short_term_content"
)

// ValidMemoryType reports whether s names a known variant.
func ValidMemoryType(s string) bool {
	switch MemoryType(s) {
	case LongTermPeople, LongTermPreferences, ShortTermPreferences, ShortTermContent:
		return true
	}
	return false
}

// Observation is a durable behavioral inference derived from a window of UI
// snapshots. It is a tagged union: MemoryType selects which of the optional
// fields are meaningful, the rest stay empty.
//
//	long_term_people:        TargetID, Edge, PrimaryCommunicationChannel
//	long_term_preferences:   SourceID, Edge, Recurrence
//	short_term_preferences:  SourceID, Edge, Recurrence
//	short_term_content:      SourceID, ContentID
type Observation struct {
	ID         string     `json:"id"`
	MemoryType MemoryType `json:"memory_type"`
	Node       string     `json:"node"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	Importance float64    `json:"importance"`

	TargetID                    string `json:"target_id,omitempty"`
	SourceID                    string `json:"source_id,omitempty"`
	ContentID                   string `json:"content_id,omitempty"`
	Edge                        string `json:"edge,omitempty"`
	PrimaryCommunicationChannel string `json:"primary_communication_channel,omitempty"`
	Recurrence                  int    `json:"recurrence,omitempty"`
}

// NewShortTermPreference mints the default observation variant produced by
// the inferencer: fresh id, importance 1.0, recurrence 1.
func NewShortTermPreference(node string, at time.Time) *Observation {
	return &Observation{
		ID:         uuid.NewString(),
		MemoryType: ShortTermPreferences,
		Node:       node,
		CreatedAt:  at,
		UpdatedAt:  at,
		Importance: 1.0,
		Recurrence: 1,
	}
}

// Validate checks the invariants shared by all variants.
func (o *Observation) Validate() error {
	if o.ID == "" {
		return fmt.Errorf("observation id is empty")
	}
	if o.Node == "" {
		return fmt.Errorf("observation node is empty")
	}
	if !ValidMemoryType(string(o.MemoryType)) {
		return fmt.Errorf("unknown memory type: %q", o.MemoryType)
	}
	if o.Importance < 0 || o.Importance > 1 {
		return fmt.Errorf("importance %.3f outside [0,1]", o.Importance)
	}
	return nil
}

// WithNode returns a copy carrying an updated node text and timestamp. The
// id is preserved so persistence overwrites rather than duplicates.
func (o *Observation) WithNode(node string, at time.Time) *Observation {
	cp := *o
	cp.Node = node
	cp.UpdatedAt = at
	return &cp
}
