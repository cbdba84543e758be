package repository

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/m-mizutani/docqa/pkg/model"
	"github.com/m-mizutani/goerr/v2"
)

type memoryIndex struct {
	dimension int
	readyAt   time.Time
	records   map[model.ChunkID]*model.IndexRecord
	order     []model.ChunkID
}

// Memory is an in-process VectorBackend with exhaustive cosine search.
type Memory struct {
	mu      sync.RWMutex
	indexes map[string]*memoryIndex
	delay   time.Duration
	now     func() time.Time
}

type MemoryOption func(*Memory)

// WithProvisioningDelay makes a new index report ready only after d.
func WithProvisioningDelay(d time.Duration) MemoryOption {
	return func(m *Memory) {
		m.delay = d
	}
}

func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		indexes: make(map[string]*memoryIndex),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) DescribeIndex(ctx context.Context, name string) (*model.IndexStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	idx, ok := m.indexes[name]
	if !ok {
		return &model.IndexStatus{Name: name}, nil
	}
	return &model.IndexStatus{
		Name:      name,
		Exists:    true,
		Ready:     !m.now().Before(idx.readyAt),
		Dimension: idx.dimension,
	}, nil
}

func (m *Memory) CreateIndex(ctx context.Context, name string, dimension int) error {
	if dimension <= 0 {
		return goerr.New("dimension must be positive", goerr.V("dimension", dimension))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.indexes[name]; ok {
		return nil
	}
	m.indexes[name] = &memoryIndex{
		dimension: dimension,
		readyAt:   m.now().Add(m.delay),
		records:   make(map[model.ChunkID]*model.IndexRecord),
	}
	return nil
}

func (m *Memory) Upsert(ctx context.Context, name string, records []*model.IndexRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx, ok := m.indexes[name]
	if !ok {
		return goerr.New("index not found", goerr.V("index", name))
	}

	for _, r := range records {
		if len(r.Embedding) != idx.dimension {
			return goerr.New("dimension mismatch",
				goerr.V("index", name),
				goerr.V("expected", idx.dimension),
				goerr.V("actual", len(r.Embedding)))
		}
	}

	for _, r := range records {
		id := r.Chunk.ID()
		if _, exists := idx.records[id]; !exists {
			idx.order = append(idx.order, id)
		}
		idx.records[id] = r
	}
	return nil
}

func (m *Memory) Query(ctx context.Context, name string, vector []float32, k int) ([]*model.ScoredChunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	idx, ok := m.indexes[name]
	if !ok {
		return nil, goerr.New("index not found", goerr.V("index", name))
	}
	if len(vector) != idx.dimension {
		return nil, goerr.New("dimension mismatch",
			goerr.V("index", name),
			goerr.V("expected", idx.dimension),
			goerr.V("actual", len(vector)))
	}
	if k <= 0 {
		return nil, nil
	}

	hits := make([]*model.ScoredChunk, 0, len(idx.order))
	for _, id := range idx.order {
		r := idx.records[id]
		hits = append(hits, &model.ScoredChunk{
			Chunk: r.Chunk,
			Score: Cosine(vector, r.Embedding),
		})
	}

	// stable keeps insertion order among equal scores
	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Score > hits[j].Score
	})

	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Cosine returns the cosine similarity of a and b, or 0 when either is a zero
// vector.
func Cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
