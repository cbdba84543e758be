package repository_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/m-mizutani/docqa/pkg/model"
	"github.com/m-mizutani/docqa/pkg/repository"
	"github.com/m-mizutani/gt"
)

func setupFirestore(t *testing.T) *repository.Firestore {
	projectID := os.Getenv("TEST_FIRESTORE_PROJECT_ID")
	databaseID := os.Getenv("TEST_FIRESTORE_DATABASE_ID")

	if projectID == "" || databaseID == "" {
		t.Skip("TEST_FIRESTORE_PROJECT_ID and TEST_FIRESTORE_DATABASE_ID must be set to run Firestore tests")
	}

	repo, err := repository.NewFirestore(context.Background(), projectID, databaseID)
	gt.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	return repo
}

func TestFirestoreVectorIndex(t *testing.T) {
	repo := setupFirestore(t)
	ctx := context.Background()

	// the index of this collection is expected to be provisioned beforehand
	// since creation takes minutes
	name := "test-rag-index"
	status, err := repo.DescribeIndex(ctx, name)
	gt.NoError(t, err)
	if !status.Exists {
		gt.NoError(t, repo.CreateIndex(ctx, name, 3))
		t.Skip("vector index is being created, run again once it is ready")
	}
	if !status.Ready {
		t.Skip("vector index is not ready yet")
	}
	gt.Equal(t, status.Dimension, 3)

	suffix := fmt.Sprint(time.Now().UnixNano())
	records := []*model.IndexRecord{
		{Embedding: []float32{1, 0, 0}, Chunk: &model.DocumentChunk{Text: "x axis " + suffix, Filename: "a.pdf"}},
		{Embedding: []float32{0, 1, 0}, Chunk: &model.DocumentChunk{Text: "y axis " + suffix, Filename: "a.pdf"}},
	}
	gt.NoError(t, repo.Upsert(ctx, name, records))

	hits, err := repo.Query(ctx, name, []float32{1, 0, 0}, 1)
	gt.NoError(t, err)
	gt.A(t, hits).Length(1)
	gt.Number(t, hits[0].Score).GreaterOrEqual(0.99)
}

func TestFirestoreDescribeMissingIndex(t *testing.T) {
	repo := setupFirestore(t)

	status, err := repo.DescribeIndex(context.Background(), fmt.Sprintf("missing-%d", time.Now().UnixNano()))
	gt.NoError(t, err)
	gt.False(t, status.Exists)
}
