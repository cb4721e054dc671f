package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"
)

// TextEmbedding is one semantic-memory row. Its id equals the owning
// observation's id.
type TextEmbedding struct {
	ID              string    `json:"id"`
	ObservationText string    `json:"observation_text"`
	Vector          []float32 `json:"-"`
	CreatedAt       time.Time `json:"created_at"`
	ObservationID   string    `json:"observation_id"`
}

// SimilarEmbedding pairs a row with its distance to the query vector.
type SimilarEmbedding struct {
	Row      TextEmbedding `json:"row"`
	Distance float64       `json:"distance"`
}

// DistanceMetric selects how FindSimilarEmbeddings ranks candidates.
type DistanceMetric string

const (
	MetricCosine       DistanceMetric = "cosine"
	MetricL2           DistanceMetric = "l2"
	MetricInnerProduct DistanceMetric = "inner_product"
)

// SaveTextEmbedding writes one embedding row. Re-saving the same id
// overwrites the text and vector (the tracker's in-place update path).
func (s *Store) SaveTextEmbedding(ctx context.Context, e TextEmbedding) error {
	if e.ID == "" || e.ObservationID == "" {
		return fmt.Errorf("embedding row needs id and observation_id")
	}
	if len(e.Vector) == 0 {
		return fmt.Errorf("embedding row needs a non-empty vector")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO text_embedding_logs (id, observation_text, embedding_vector, created_at, observation_id)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			observation_text = excluded.observation_text,
			embedding_vector = excluded.embedding_vector`,
		e.ID, e.ObservationText, EncodeVector(e.Vector), e.CreatedAt.UTC(), e.ObservationID,
	)
	if err != nil {
		return fmt.Errorf("failed to save embedding: %w", err)
	}
	return nil
}

// EmbeddingByObservationID looks up the embedding row for one observation.
// Returns ErrNotFound when absent.
func (s *Store) EmbeddingByObservationID(ctx context.Context, observationID string) (*TextEmbedding, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, observation_text, embedding_vector, created_at, observation_id
		FROM text_embedding_logs WHERE observation_id = ?`, observationID)

	var e TextEmbedding
	var blob []byte
	if err := row.Scan(&e.ID, &e.ObservationText, &blob, &e.CreatedAt, &e.ObservationID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("embedding lookup failed: %w", err)
	}
	vec, err := DecodeVector(blob)
	if err != nil {
		return nil, err
	}
	e.Vector = vec
	return &e, nil
}

// CountEmbeddings returns the number of embedding rows for an observation.
func (s *Store) CountEmbeddings(ctx context.Context, observationID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM text_embedding_logs WHERE observation_id = ?`, observationID).Scan(&n)
	return n, err
}

// FindSimilarEmbeddings returns the k nearest rows to the query vector under
// the given metric, distance ascending. Candidates are scanned and ranked in
// Go; rows with a mismatched dimension are skipped.
func (s *Store) FindSimilarEmbeddings(ctx context.Context, queryVec []float32, limit int, metric DistanceMetric) ([]SimilarEmbedding, error) {
	if limit <= 0 {
		limit = 5
	}
	if metric == "" {
		metric = MetricCosine
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, observation_text, embedding_vector, created_at, observation_id
		FROM text_embedding_logs`)
	if err != nil {
		return nil, fmt.Errorf("embedding scan failed: %w", err)
	}
	defer rows.Close()

	var results []SimilarEmbedding
	for rows.Next() {
		var e TextEmbedding
		var blob []byte
		if err := rows.Scan(&e.ID, &e.ObservationText, &blob, &e.CreatedAt, &e.ObservationID); err != nil {
			return nil, fmt.Errorf("failed to scan embedding: %w", err)
		}
		vec, err := DecodeVector(blob)
		if err != nil || len(vec) != len(queryVec) {
			continue
		}
		e.Vector = vec
		d, err := vectorDistance(queryVec, vec, metric)
		if err != nil {
			return nil, err
		}
		results = append(results, SimilarEmbedding{Row: e, Distance: d})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Distance < results[j].Distance })
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// vectorDistance computes the metric's distance form: cosine as 1-cos, L2 as
// euclidean distance, inner product negated so ascending order means most
// similar first for all three.
func vectorDistance(a, b []float32, metric DistanceMetric) (float64, error) {
	switch metric {
	case MetricCosine:
		return 1 - cosine(a, b), nil
	case MetricL2:
		var sum float64
		for i := range a {
			d := float64(a[i]) - float64(b[i])
			sum += d * d
		}
		return math.Sqrt(sum), nil
	case MetricInnerProduct:
		var dot float64
		for i := range a {
			dot += float64(a[i]) * float64(b[i])
		}
		return -dot, nil
	default:
		return 0, fmt.Errorf("unknown distance metric: %q", metric)
	}
}
