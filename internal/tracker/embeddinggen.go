package tracker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"portablebrain/internal/embedding"
	"portablebrain/internal/store"
)

// EmbeddingGenerator writes semantic-memory rows for flushed observations.
type EmbeddingGenerator struct {
	engine embedding.Engine
	store  *store.Store
	logger *zap.Logger
	now    func() time.Time
}

// NewEmbeddingGenerator creates an embedding generator.
func NewEmbeddingGenerator(engine embedding.Engine, st *store.Store, logger *zap.Logger) *EmbeddingGenerator {
	return &EmbeddingGenerator{engine: engine, store: st, logger: logger, now: time.Now}
}

// GenerateAndSave embeds the observation text as a retrieval document and
// writes the row keyed by the observation id. A failure is logged and
// returned; the caller treats it as a tolerable loss of this one
// observation from semantic memory.
func (g *EmbeddingGenerator) GenerateAndSave(ctx context.Context, observationID, text string) error {
	vec, err := g.engine.Embed(ctx, text, embedding.TaskRetrievalDocument)
	if err != nil {
		g.logger.Warn("observation embedding failed",
			zap.String("observation_id", observationID), zap.Error(err))
		return fmt.Errorf("failed to embed observation %s: %w", observationID, err)
	}

	row := store.TextEmbedding{
		ID:              observationID,
		ObservationText: text,
		Vector:          vec,
		CreatedAt:       g.now(),
		ObservationID:   observationID,
	}
	if err := g.store.SaveTextEmbedding(ctx, row); err != nil {
		g.logger.Warn("observation embedding write failed",
			zap.String("observation_id", observationID), zap.Error(err))
		return err
	}
	return nil
}
