package repository

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"
	admin "cloud.google.com/go/firestore/apiv1/admin"
	"cloud.google.com/go/firestore/apiv1/admin/adminpb"
	"github.com/m-mizutani/docqa/pkg/model"
	"github.com/m-mizutani/docqa/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	embeddingField = "embedding"
	distanceField  = "vector_distance"
)

// Firestore is a VectorBackend where an index name is a collection and the
// vector index is a single-field flat vector index on that collection group.
type Firestore struct {
	client     *firestore.Client
	admin      *admin.FirestoreAdminClient
	projectID  string
	databaseID string
}

// chunkDoc is the stored form of an IndexRecord.
type chunkDoc struct {
	Embedding firestore.Vector32 `firestore:"embedding"`
	Text      string             `firestore:"text"`
	Filename  string             `firestore:"filename"`
}

func NewFirestore(ctx context.Context, projectID, databaseID string) (*Firestore, error) {
	if projectID == "" {
		return nil, goerr.New("project ID is required", goerr.T(model.ErrTagInvalidConfig))
	}
	if databaseID == "" {
		databaseID = firestore.DefaultDatabaseID
	}

	client, err := firestore.NewClientWithDatabase(ctx, projectID, databaseID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create firestore client",
			goerr.V("project_id", projectID), goerr.V("database_id", databaseID))
	}

	adminClient, err := admin.NewFirestoreAdminClient(ctx)
	if err != nil {
		_ = client.Close()
		return nil, goerr.Wrap(err, "failed to create firestore admin client")
	}

	return &Firestore{
		client:     client,
		admin:      adminClient,
		projectID:  projectID,
		databaseID: databaseID,
	}, nil
}

func (r *Firestore) Close() error {
	if err := r.admin.Close(); err != nil {
		return goerr.Wrap(err, "failed to close firestore admin client")
	}
	if err := r.client.Close(); err != nil {
		return goerr.Wrap(err, "failed to close firestore client")
	}
	return nil
}

func (r *Firestore) collectionGroup(name string) string {
	return fmt.Sprintf("projects/%s/databases/%s/collectionGroups/%s", r.projectID, r.databaseID, name)
}

func (r *Firestore) DescribeIndex(ctx context.Context, name string) (*model.IndexStatus, error) {
	it := r.admin.ListIndexes(ctx, &adminpb.ListIndexesRequest{
		Parent: r.collectionGroup(name),
	})

	result := &model.IndexStatus{Name: name}
	for {
		idx, err := it.Next()
		if err == iterator.Done {
			break
		}
		if status.Code(err) == codes.NotFound {
			return result, nil
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to list indexes", goerr.V("index", name))
		}

		for _, f := range idx.GetFields() {
			vc := f.GetVectorConfig()
			if f.GetFieldPath() != embeddingField || vc == nil {
				continue
			}
			result.Exists = true
			result.Dimension = int(vc.GetDimension())
			result.Ready = idx.GetState() == adminpb.Index_READY
			return result, nil
		}
	}

	return result, nil
}

func (r *Firestore) CreateIndex(ctx context.Context, name string, dimension int) error {
	op, err := r.admin.CreateIndex(ctx, &adminpb.CreateIndexRequest{
		Parent: r.collectionGroup(name),
		Index: &adminpb.Index{
			QueryScope: adminpb.Index_COLLECTION,
			Fields: []*adminpb.Index_IndexField{
				{
					FieldPath: embeddingField,
					ValueMode: &adminpb.Index_IndexField_VectorConfig_{
						VectorConfig: &adminpb.Index_IndexField_VectorConfig{
							Dimension: int32(dimension),
							Type: &adminpb.Index_IndexField_VectorConfig_Flat{
								Flat: &adminpb.Index_IndexField_VectorConfig_FlatIndex{},
							},
						},
					},
				},
			},
		},
	})
	if status.Code(err) == codes.AlreadyExists {
		return nil
	}
	if err != nil {
		return goerr.Wrap(err, "failed to create vector index",
			goerr.V("index", name), goerr.V("dimension", dimension))
	}

	logging.From(ctx).Info("vector index creation started", "index", name, "operation", op.Name())
	return nil
}

func (r *Firestore) Upsert(ctx context.Context, name string, records []*model.IndexRecord) error {
	if len(records) == 0 {
		return nil
	}

	bw := r.client.BulkWriter(ctx)
	coll := r.client.Collection(name)

	jobs := make([]*firestore.BulkWriterJob, 0, len(records))
	for _, rec := range records {
		doc := chunkDoc{
			Embedding: rec.Embedding,
			// token windows may cut a multi-byte character and Firestore
			// strings must be valid UTF-8
			Text:     strings.ToValidUTF8(rec.Chunk.Text, ""),
			Filename: rec.Chunk.Filename,
		}
		job, err := bw.Set(coll.Doc(string(rec.Chunk.ID())), doc)
		if err != nil {
			bw.End()
			return goerr.Wrap(err, "failed to enqueue chunk", goerr.V("index", name))
		}
		jobs = append(jobs, job)
	}
	bw.End()

	for i, job := range jobs {
		if _, err := job.Results(); err != nil {
			return goerr.Wrap(err, "failed to write chunk",
				goerr.V("index", name),
				goerr.V("filename", records[i].Chunk.Filename),
				goerr.V("chunk_id", records[i].Chunk.ID()))
		}
	}
	return nil
}

func (r *Firestore) Query(ctx context.Context, name string, vector []float32, k int) ([]*model.ScoredChunk, error) {
	if k <= 0 {
		return nil, nil
	}

	q := r.client.Collection(name).FindNearest(embeddingField,
		firestore.Vector32(vector),
		k,
		firestore.DistanceMeasureCosine,
		&firestore.FindNearestOptions{DistanceResultField: distanceField},
	)

	snapshots, err := q.Documents(ctx).GetAll()
	if err != nil {
		return nil, goerr.Wrap(err, "failed to query nearest chunks", goerr.V("index", name), goerr.V("k", k))
	}

	hits := make([]*model.ScoredChunk, 0, len(snapshots))
	for _, snap := range snapshots {
		var doc chunkDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, goerr.Wrap(err, "failed to decode chunk", goerr.V("doc_id", snap.Ref.ID))
		}

		// cosine distance is 1 - similarity
		distance, _ := snap.Data()[distanceField].(float64)
		hits = append(hits, &model.ScoredChunk{
			Chunk: &model.DocumentChunk{Text: doc.Text, Filename: doc.Filename},
			Score: 1 - distance,
		})
	}
	return hits, nil
}
