// Package index provisions a vector index and moves document chunks in and
// out of it.
package index

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/m-mizutani/docqa/pkg/adapter"
	"github.com/m-mizutani/docqa/pkg/interfaces"
	"github.com/m-mizutani/docqa/pkg/model"
	"github.com/m-mizutani/docqa/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultName         = "rag-index"
	DefaultDimension    = 1536
	DefaultReadyTimeout = 60 * time.Second
	DefaultPollInterval = time.Second
	DefaultTopK         = 3
)

var errNotReady = goerr.New("index is not ready")

// Client provisions indexes on a backend.
type Client struct {
	backend      interfaces.VectorBackend
	embedder     adapter.Embedder
	readyTimeout time.Duration
	pollInterval time.Duration
	concurrency  int
}

type Option func(*Client)

// WithReadyTimeout bounds how long EnsureIndex waits for a new index.
func WithReadyTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.readyTimeout = d
	}
}

func WithPollInterval(d time.Duration) Option {
	return func(c *Client) {
		c.pollInterval = d
	}
}

// WithEmbedConcurrency sets how many chunks of one insert are embedded at
// the same time.
func WithEmbedConcurrency(n int) Option {
	return func(c *Client) {
		c.concurrency = n
	}
}

func New(backend interfaces.VectorBackend, embedder adapter.Embedder, opts ...Option) *Client {
	c := &Client{
		backend:      backend,
		embedder:     embedder,
		readyTimeout: DefaultReadyTimeout,
		pollInterval: DefaultPollInterval,
		concurrency:  4,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.concurrency < 1 {
		c.concurrency = 1
	}
	return c
}

// Index is a provisioned, ready index.
type Index struct {
	client    *Client
	name      string
	dimension int
}

func (x *Index) Name() string   { return x.name }
func (x *Index) Dimension() int { return x.dimension }

// EnsureIndex creates the index when it does not exist and waits until the
// backend reports it ready. Calling it again for a ready index only checks
// its state.
func (c *Client) EnsureIndex(ctx context.Context, name string, dimension int) (*Index, error) {
	if name == "" || dimension <= 0 {
		return nil, goerr.New("index name and positive dimension are required",
			goerr.V("index", name), goerr.V("dimension", dimension),
			goerr.T(model.ErrTagIndexProvisioning))
	}

	logger := logging.From(ctx).With("index", name)

	status, err := c.backend.DescribeIndex(ctx, name)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to describe index",
			goerr.V("index", name), goerr.T(model.ErrTagIndexProvisioning))
	}
	if err := checkDimension(status, dimension); err != nil {
		return nil, err
	}

	if !status.Exists {
		logger.Info("creating vector index", "dimension", dimension)
		if err := c.backend.CreateIndex(ctx, name, dimension); err != nil {
			return nil, goerr.Wrap(err, "backend rejected index creation",
				goerr.V("index", name), goerr.V("dimension", dimension),
				goerr.T(model.ErrTagIndexProvisioning))
		}
	} else if status.Ready {
		return &Index{client: c, name: name, dimension: dimension}, nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, c.readyTimeout)
	defer cancel()

	poll := func() error {
		st, err := c.backend.DescribeIndex(waitCtx, name)
		if err != nil {
			return backoff.Permanent(goerr.Wrap(err, "failed to describe index", goerr.V("index", name)))
		}
		if err := checkDimension(st, dimension); err != nil {
			return backoff.Permanent(err)
		}
		if !st.Exists || !st.Ready {
			return errNotReady
		}
		return nil
	}
	notify := func(err error, next time.Duration) {
		logger.Debug("waiting for vector index", "next", next)
	}

	b := backoff.WithContext(backoff.NewConstantBackOff(c.pollInterval), waitCtx)
	if err := backoff.RetryNotify(poll, b, notify); err != nil {
		return nil, goerr.Wrap(err, "index did not become ready",
			goerr.V("index", name),
			goerr.V("timeout", c.readyTimeout.String()),
			goerr.T(model.ErrTagIndexProvisioning))
	}

	logger.Info("vector index is ready")
	return &Index{client: c, name: name, dimension: dimension}, nil
}

func checkDimension(status *model.IndexStatus, dimension int) error {
	if status.Exists && status.Dimension != 0 && status.Dimension != dimension {
		return goerr.New("index exists with another dimension",
			goerr.V("index", status.Name),
			goerr.V("expected", dimension),
			goerr.V("actual", status.Dimension),
			goerr.T(model.ErrTagIndexProvisioning))
	}
	return nil
}

// Insert embeds every chunk and upserts the records. Chunks are keyed by
// content so a repeated insert of the same chunk is harmless. Nothing is
// rolled back on failure.
func (x *Index) Insert(ctx context.Context, chunks []*model.DocumentChunk) error {
	if len(chunks) == 0 {
		return nil
	}

	records := make([]*model.IndexRecord, len(chunks))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(x.client.concurrency)

	for i, chunk := range chunks {
		eg.Go(func() error {
			vector, err := x.client.embedder.Embed(egCtx, chunk.Text)
			if err != nil {
				return goerr.Wrap(err, "failed to embed chunk",
					goerr.V("filename", chunk.Filename), goerr.V("chunk", i))
			}
			if len(vector) != x.dimension {
				return goerr.New("embedding dimension does not match index",
					goerr.V("filename", chunk.Filename),
					goerr.V("expected", x.dimension),
					goerr.V("actual", len(vector)))
			}
			records[i] = &model.IndexRecord{Embedding: vector, Chunk: chunk}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return goerr.Wrap(err, "failed to insert chunks",
			goerr.V("index", x.name), goerr.T(model.ErrTagIndexWrite))
	}

	if err := x.client.backend.Upsert(ctx, x.name, records); err != nil {
		return goerr.Wrap(err, "failed to upsert chunks",
			goerr.V("index", x.name), goerr.V("count", len(records)),
			goerr.T(model.ErrTagIndexWrite))
	}

	logging.From(ctx).Debug("inserted chunks", "index", x.name, "count", len(records))
	return nil
}

// Retrieve returns up to k chunks most similar to query, most similar first.
// An empty index yields an empty result.
func (x *Index) Retrieve(ctx context.Context, query string, k int) ([]*model.DocumentChunk, error) {
	hits, err := x.Search(ctx, query, k)
	if err != nil {
		return nil, err
	}

	chunks := make([]*model.DocumentChunk, len(hits))
	for i, h := range hits {
		chunks[i] = h.Chunk
	}
	return chunks, nil
}

// Search is Retrieve with similarity scores.
func (x *Index) Search(ctx context.Context, query string, k int) ([]*model.ScoredChunk, error) {
	if k <= 0 {
		return nil, nil
	}

	vector, err := x.client.embedder.Embed(ctx, query)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to embed query", goerr.V("index", x.name))
	}
	if len(vector) != x.dimension {
		return nil, goerr.New("query embedding dimension does not match index",
			goerr.V("index", x.name),
			goerr.V("expected", x.dimension),
			goerr.V("actual", len(vector)))
	}

	hits, err := x.client.backend.Query(ctx, x.name, vector, k)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to query index", goerr.V("index", x.name), goerr.V("k", k))
	}
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}
