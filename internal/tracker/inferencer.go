package tracker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"portablebrain/internal/types"
)

// structuredLLM is the slice of the LLM client the inferencer needs.
type structuredLLM interface {
	GenerateStructured(ctx context.Context, system, user string, schema *genai.Schema, out any) error
}

// Inferencer turns snapshot windows into observations through structured
// LLM calls. Created observations default to short_term_preferences; type
// classification is a separate concern not wired into this path.
type Inferencer struct {
	llm    structuredLLM
	logger *zap.Logger
	now    func() time.Time
}

// NewInferencer creates an inferencer.
func NewInferencer(llm structuredLLM, logger *zap.Logger) *Inferencer {
	return &Inferencer{llm: llm, logger: logger, now: time.Now}
}

var createSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"observation_node": {Type: genai.TypeString, Nullable: genai.Ptr(true)},
		"reasoning":        {Type: genai.TypeString},
	},
	Required: []string{"reasoning"},
}

var updateSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"updated_observation_node": {Type: genai.TypeString, Nullable: genai.Ptr(true)},
		"is_updated":               {Type: genai.TypeBoolean},
		"reasoning":                {Type: genai.TypeString},
	},
	Required: []string{"is_updated", "reasoning"},
}

// CreateNewObservation asks the model to distill one observation from the
// snapshot window. Returns nil when the model found no recurring pattern.
func (i *Inferencer) CreateNewObservation(ctx context.Context, snapshots []types.UIStateSnapshot) (*types.Observation, error) {
	var out struct {
		ObservationNode *string `json:"observation_node"`
		Reasoning       string  `json:"reasoning"`
	}
	user := fmt.Sprintf(createObservationUser, renderSnapshots(snapshots))
	if err := i.llm.GenerateStructured(ctx, createObservationSystem, user, createSchema, &out); err != nil {
		return nil, fmt.Errorf("create observation inference failed: %w", err)
	}

	if out.ObservationNode == nil || strings.TrimSpace(*out.ObservationNode) == "" {
		i.logger.Debug("no observation inferred", zap.String("reasoning", out.Reasoning))
		return nil, nil
	}

	obs := types.NewShortTermPreference(strings.TrimSpace(*out.ObservationNode), i.now())
	i.logger.Info("observation created",
		zap.String("id", obs.ID), zap.String("node", obs.Node), zap.String("reasoning", out.Reasoning))
	return obs, nil
}

// UpdateObservation asks the model to fold the snapshot window into the
// current observation. Returns nil when nothing meaningful changed.
func (i *Inferencer) UpdateObservation(ctx context.Context, current *types.Observation, snapshots []types.UIStateSnapshot) (*types.Observation, error) {
	var out struct {
		UpdatedObservationNode *string `json:"updated_observation_node"`
		IsUpdated              bool    `json:"is_updated"`
		Reasoning              string  `json:"reasoning"`
	}
	user := fmt.Sprintf(updateObservationUser, current.Node, renderSnapshots(snapshots))
	if err := i.llm.GenerateStructured(ctx, updateObservationSystem, user, updateSchema, &out); err != nil {
		return nil, fmt.Errorf("update observation inference failed: %w", err)
	}

	if !out.IsUpdated || out.UpdatedObservationNode == nil || strings.TrimSpace(*out.UpdatedObservationNode) == "" {
		i.logger.Debug("observation not updated", zap.String("reasoning", out.Reasoning))
		return nil, nil
	}

	updated := current.WithNode(strings.TrimSpace(*out.UpdatedObservationNode), i.now())
	i.logger.Info("observation updated",
		zap.String("id", updated.ID), zap.String("node", updated.Node), zap.String("reasoning", out.Reasoning))
	return updated, nil
}

func renderSnapshots(snapshots []types.UIStateSnapshot) string {
	parts := make([]string, len(snapshots))
	for i, s := range snapshots {
		parts[i] = s.PromptText()
	}
	return strings.Join(parts, "\n---\n")
}
