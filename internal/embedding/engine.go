// Package embedding provides vector embedding generation for semantic memory.
// Supports two backends: Google GenAI (cloud) and Ollama (local).
package embedding

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"

	"portablebrain/internal/config"
)

// =============================================================================
// EMBEDDING ENGINE INTERFACE
// =============================================================================

// TaskType tells the provider what the embedding will be used for. Query and
// document vectors live in the same space but are asymmetrically optimized.
type TaskType string

const (
	TaskRetrievalQuery     TaskType = "RETRIEVAL_QUERY"
	TaskRetrievalDocument  TaskType = "RETRIEVAL_DOCUMENT"
	TaskSemanticSimilarity TaskType = "SEMANTIC_SIMILARITY"
)

// Engine generates vector embeddings for text.
type Engine interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string, task TaskType) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts.
	EmbedBatch(ctx context.Context, texts []string, task TaskType) ([][]float32, error)

	// Dimensions returns the dimensionality of embeddings.
	Dimensions() int

	// Name returns the engine name.
	Name() string
}

// HealthChecker is an optional interface for engines that can verify the
// backing service is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// =============================================================================
// FACTORY
// =============================================================================

// NewEngine creates an embedding engine from configuration.
func NewEngine(cfg config.EmbeddingConfig, logger *zap.Logger) (Engine, error) {
	switch cfg.Provider {
	case "genai":
		logger.Info("initializing genai embedding engine", zap.String("model", cfg.Model))
		return NewGenAIEngine(cfg.APIKey, cfg.Model)
	case "ollama":
		logger.Info("initializing ollama embedding engine",
			zap.String("endpoint", cfg.OllamaEndpoint), zap.String("model", cfg.OllamaModel))
		return NewOllamaEngine(cfg.OllamaEndpoint, cfg.OllamaModel)
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s (use 'genai' or 'ollama')", cfg.Provider)
	}
}

// =============================================================================
// COSINE SIMILARITY
// =============================================================================

// CosineSimilarity calculates the cosine similarity between two vectors.
// Returns 0 when either vector has zero norm or the dimensions differ.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		af := float64(a[i])
		bf := float64(b[i])
		dot += af * bf
		na += af * af
		nb += bf * bf
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
