package interfaces

import (
	"context"

	"github.com/m-mizutani/docqa/pkg/model"
)

// VectorBackend is a store of named vector indexes with cosine similarity
// search.
type VectorBackend interface {
	// DescribeIndex reports whether the index exists and is ready. A missing
	// index is not an error.
	DescribeIndex(ctx context.Context, name string) (*model.IndexStatus, error)

	// CreateIndex starts provisioning an index. It may return before the
	// index is ready.
	CreateIndex(ctx context.Context, name string, dimension int) error

	// Upsert writes records keyed by their chunk ID.
	Upsert(ctx context.Context, name string, records []*model.IndexRecord) error

	// Query returns up to k chunks ordered by descending similarity.
	Query(ctx context.Context, name string, vector []float32, k int) ([]*model.ScoredChunk, error)
}
