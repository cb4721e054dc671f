// Package retriever is the read-side facade over the memory store. Each
// method is the shape one retrieval-agent tool calls. Semantic queries are
// fronted by a two-tier cache: an exact-match LRU and a FIFO deque matched
// by query-vector similarity.
package retriever

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"portablebrain/internal/embedding"
	"portablebrain/internal/store"
	"portablebrain/internal/types"
)

const (
	exactCacheCapacity    = 50
	semanticCacheCapacity = 10
	nameCacheCapacity     = 50

	// DefaultNameThreshold is the trigram score floor for fuzzy name lookups.
	DefaultNameThreshold = 0.3
)

// Retriever resolves memory lookups. One instance serves the whole process;
// its caches are individually locked.
type Retriever struct {
	store    *store.Store
	engine   embedding.Engine
	logger   *zap.Logger
	exact    *lruCache[[]string]
	semantic *semanticCache
	names    *lruCache[[]store.PersonNameMatch]
}

// New creates a retriever. threshold is the semantic-cache cosine floor;
// pass 0 to use the conventional 0.70.
func New(st *store.Store, engine embedding.Engine, threshold float64, logger *zap.Logger) *Retriever {
	if threshold == 0 {
		threshold = 0.70
	}
	return &Retriever{
		store:    st,
		engine:   engine,
		logger:   logger,
		exact:    newLRUCache[[]string](exactCacheCapacity),
		semantic: newSemanticCache(semanticCacheCapacity, threshold),
		names:    newLRUCache[[]store.PersonNameMatch](nameCacheCapacity),
	}
}

// PeopleRelationships returns long_term_people rows, optionally narrowed to
// one person.
func (r *Retriever) PeopleRelationships(ctx context.Context, personID string, limit int) ([]store.StructuredObservation, error) {
	return r.store.ObservationsByMemoryType(ctx, types.LongTermPeople, "", personID, limit)
}

// LongTermPreferences returns established app/workflow preferences.
func (r *Retriever) LongTermPreferences(ctx context.Context, sourceAppID string, limit int) ([]store.StructuredObservation, error) {
	return r.store.ObservationsByMemoryType(ctx, types.LongTermPreferences, sourceAppID, "", limit)
}

// ShortTermPreferences returns recent app/workflow preferences.
func (r *Retriever) ShortTermPreferences(ctx context.Context, sourceAppID string, limit int) ([]store.StructuredObservation, error) {
	return r.store.ObservationsByMemoryType(ctx, types.ShortTermPreferences, sourceAppID, "", limit)
}

// RecentContent returns short_term_content rows, optionally narrowed by
// source app or content item.
func (r *Retriever) RecentContent(ctx context.Context, sourceID, contentID string, limit int) ([]store.StructuredObservation, error) {
	return r.store.ObservationsByMemoryType(ctx, types.ShortTermContent, sourceID, contentID, limit)
}

// ObservationsAboutEntity returns rows referencing the entity across memory
// types.
func (r *Retriever) ObservationsAboutEntity(ctx context.Context, entityID, entityType string, limit int) ([]store.StructuredObservation, error) {
	return r.store.ObservationsByEntity(ctx, entityID, entityType, limit)
}

// SearchMemories runs a full-text search over observation nodes.
func (r *Retriever) SearchMemories(ctx context.Context, query string, memoryType types.MemoryType, limit int) ([]store.RankedObservation, error) {
	return r.store.SearchObservations(ctx, query, memoryType, limit)
}

// TopRelevantMemories returns rows ranked by importance * recurrence.
func (r *Retriever) TopRelevantMemories(ctx context.Context, memoryType types.MemoryType, limit int) ([]store.StructuredObservation, error) {
	return r.store.TopRelevantObservations(ctx, memoryType, limit)
}

// FindPersonByName fuzzy-matches people by trigram similarity. Results are
// cached in a dedicated LRU keyed on the lowercased, trimmed name.
func (r *Retriever) FindPersonByName(ctx context.Context, name string, threshold float64, limit int) ([]store.PersonNameMatch, error) {
	if threshold <= 0 {
		threshold = DefaultNameThreshold
	}
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return nil, nil
	}
	if cached, ok := r.names.get(key); ok {
		return cached, nil
	}

	matches, err := r.store.FindPeopleByName(ctx, name, threshold, limit)
	if err != nil {
		return nil, err
	}
	r.names.put(key, matches)
	return matches, nil
}

// FindSimilarPersonRelationships embeds the query and ranks people by
// relationship-vector similarity. An embedding failure degrades to an empty
// result with a warning.
func (r *Retriever) FindSimilarPersonRelationships(ctx context.Context, query string, limit int) ([]store.SimilarPerson, error) {
	queryVec, err := r.engine.Embed(ctx, query, embedding.TaskRetrievalQuery)
	if err != nil {
		r.logger.Warn("query embedding failed", zap.String("query", query), zap.Error(err))
		return nil, nil
	}
	return r.store.FindSimilarPeople(ctx, queryVec, limit)
}

// FindSemanticallySimilar returns the observation texts nearest to the
// query.
//
// Cache path: the exact tier answers identical query strings without
// embedding; the semantic tier answers near-duplicate queries (cosine of
// the query vectors above the threshold) without touching the store, and a
// semantic hit also seeds the exact tier so the next identical query is
// O(1). disableCache bypasses both tiers for benchmarking.
func (r *Retriever) FindSemanticallySimilar(ctx context.Context, query string, limit int, metric store.DistanceMetric, disableCache bool) ([]string, error) {
	if !disableCache {
		if cached, ok := r.exact.get(query); ok {
			return cached, nil
		}
	}

	queryVec, err := r.engine.Embed(ctx, query, embedding.TaskRetrievalQuery)
	if err != nil {
		r.logger.Warn("query embedding failed", zap.String("query", query), zap.Error(err))
		return nil, nil
	}

	if !disableCache {
		if results, ok := r.semantic.lookup(queryVec); ok {
			r.exact.put(query, results)
			return results, nil
		}
	}

	similar, err := r.store.FindSimilarEmbeddings(ctx, queryVec, limit, metric)
	if err != nil {
		return nil, err
	}
	results := make([]string, 0, len(similar))
	for _, s := range similar {
		results = append(results, s.Row.ObservationText)
	}

	if !disableCache {
		r.exact.put(query, results)
		r.semantic.push(queryVec, results)
	}
	return results, nil
}

// EmbeddingForObservation looks up the embedding row for one observation.
func (r *Retriever) EmbeddingForObservation(ctx context.Context, observationID string) (*store.TextEmbedding, error) {
	return r.store.EmbeddingByObservationID(ctx, observationID)
}

// PersonByID looks up one person row.
func (r *Retriever) PersonByID(ctx context.Context, personID string) (*store.Person, error) {
	return r.store.PersonByID(ctx, personID)
}
