package embedding

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
)

// MockEngine is a deterministic in-memory engine for tests. By default it
// hashes the text into a unit vector; Fixed pins exact vectors per text so
// tests can control pairwise similarities.
type MockEngine struct {
	mu     sync.Mutex
	dim    int
	fixed  map[string][]float32
	calls  int
	failed bool
}

// NewMockEngine creates a mock engine with the given dimensionality.
func NewMockEngine(dim int) *MockEngine {
	if dim <= 0 {
		dim = 8
	}
	return &MockEngine{dim: dim, fixed: make(map[string][]float32)}
}

// Fixed pins the vector returned for text.
func (m *MockEngine) Fixed(text string, vec []float32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fixed[text] = vec
}

// Fail makes all subsequent Embed calls return an error.
func (m *MockEngine) Fail() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed = true
}

// Calls reports how many Embed calls were made.
func (m *MockEngine) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *MockEngine) Embed(_ context.Context, text string, _ TaskType) ([]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.failed {
		return nil, fmt.Errorf("mock embedding failure")
	}
	if vec, ok := m.fixed[text]; ok {
		return vec, nil
	}
	return hashVector(text, m.dim), nil
}

func (m *MockEngine) EmbedBatch(ctx context.Context, texts []string, task TaskType) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := m.Embed(ctx, t, task)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (m *MockEngine) Dimensions() int { return m.dim }
func (m *MockEngine) Name() string    { return "mock" }

// hashVector derives a stable pseudo-random vector from the text. Identical
// texts map to identical vectors; distinct texts are almost never parallel.
func hashVector(text string, dim int) []float32 {
	vec := make([]float32, dim)
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum64()
	for i := range vec {
		seed = seed*6364136223846793005 + 1442695040888963407
		vec[i] = float32(int64(seed>>33))/float32(1<<31) + 0.25
	}
	return vec
}
