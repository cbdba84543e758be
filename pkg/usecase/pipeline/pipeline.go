// Package pipeline wires extraction, chunking, indexing, query rewriting and
// answer generation into the two user operations: ingest and ask.
package pipeline

import (
	"context"
	"path"

	"github.com/m-mizutani/docqa/pkg/adapter"
	"github.com/m-mizutani/docqa/pkg/model"
	"github.com/m-mizutani/docqa/pkg/usecase/chat"
	"github.com/m-mizutani/docqa/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"golang.org/x/sync/errgroup"
)

type Extractor interface {
	Text(ctx context.Context, data []byte) (string, error)
}

type Chunker interface {
	Chunks(filename, text string) []*model.DocumentChunk
}

type Index interface {
	Insert(ctx context.Context, chunks []*model.DocumentChunk) error
	Retrieve(ctx context.Context, query string, k int) ([]*model.DocumentChunk, error)
}

type Rewriter interface {
	Rewrite(ctx context.Context, query string, recent []model.Turn) (string, error)
}

type Answerer interface {
	Answer(ctx context.Context, query string, chunks []*model.DocumentChunk) *chat.Stream
}

type Pipeline struct {
	extractor   Extractor
	chunker     Chunker
	index       Index
	rewriter    Rewriter
	answerer    Answerer
	topK        int
	concurrency int
	archive     adapter.Storage
}

type Option func(*Pipeline)

// WithTopK sets how many chunks are retrieved for each question.
func WithTopK(k int) Option {
	return func(p *Pipeline) {
		p.topK = k
	}
}

// WithConcurrency sets how many files of one ingest call are processed at
// the same time.
func WithConcurrency(n int) Option {
	return func(p *Pipeline) {
		p.concurrency = n
	}
}

// WithArchive keeps a copy of every ingested document in storage.
func WithArchive(storage adapter.Storage) Option {
	return func(p *Pipeline) {
		p.archive = storage
	}
}

func New(extractor Extractor, chunker Chunker, index Index, rewriter Rewriter, answerer Answerer, opts ...Option) *Pipeline {
	p := &Pipeline{
		extractor:   extractor,
		chunker:     chunker,
		index:       index,
		rewriter:    rewriter,
		answerer:    answerer,
		topK:        3,
		concurrency: 4,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.concurrency < 1 {
		p.concurrency = 1
	}
	return p
}

// Ingest indexes uploads that the session has not seen yet. Each file is
// extracted, chunked and inserted independently and gets its own result, in
// the order of uploads. A failed file can be retried by uploading it again.
func (p *Pipeline) Ingest(ctx context.Context, sess *chat.Session, uploads ...*model.Upload) []*model.IngestResult {
	results := make([]*model.IngestResult, len(uploads))
	first := make(map[model.UploadIdentity]int, len(uploads))
	duplicates := make(map[int]int)

	var eg errgroup.Group
	eg.SetLimit(p.concurrency)

	for i, upload := range uploads {
		id := upload.Identity()
		if j, dup := first[id]; dup {
			duplicates[i] = j
			continue
		}
		if sess.HasUpload(id) {
			logging.From(ctx).Info("skip already ingested document", "filename", upload.Filename)
			results[i] = &model.IngestResult{Filename: upload.Filename, Skipped: true}
			continue
		}
		first[id] = i

		eg.Go(func() error {
			n, err := p.ingest(ctx, upload)
			results[i] = &model.IngestResult{Filename: upload.Filename, Chunks: n, Err: err}
			if err == nil {
				sess.MarkUploaded(id)
			}
			return nil
		})
	}
	_ = eg.Wait()

	// a repeated upload in one batch shares the outcome of its first copy
	for i, j := range duplicates {
		results[i] = &model.IngestResult{
			Filename: uploads[i].Filename,
			Skipped:  results[j].Err == nil,
			Err:      results[j].Err,
		}
	}

	return results
}

func (p *Pipeline) ingest(ctx context.Context, upload *model.Upload) (int, error) {
	logger := logging.From(ctx).With("filename", upload.Filename)

	text, err := p.extractor.Text(ctx, upload.Data)
	if err != nil {
		logger.Warn("failed to extract document", "error", err)
		return 0, goerr.Wrap(err, "failed to extract document", goerr.V("filename", upload.Filename))
	}

	chunks := p.chunker.Chunks(upload.Filename, text)
	if len(chunks) == 0 {
		logger.Warn("document has no extractable text")
		return 0, nil
	}

	if err := p.index.Insert(ctx, chunks); err != nil {
		logger.Warn("failed to index document", "error", err)
		return 0, goerr.Wrap(err, "failed to index document", goerr.V("filename", upload.Filename))
	}

	if p.archive != nil {
		if err := p.store(ctx, upload); err != nil {
			logger.Warn("failed to archive document", "error", err)
		}
	}

	logger.Info("document indexed", "chunks", len(chunks))
	return len(chunks), nil
}

// ArchiveKey is where a document is archived.
func ArchiveKey(upload *model.Upload) string {
	return path.Join("documents", upload.Digest(), path.Base(upload.Filename))
}

func (p *Pipeline) store(ctx context.Context, upload *model.Upload) error {
	key := ArchiveKey(upload)
	w, err := p.archive.Put(ctx, key)
	if err != nil {
		return goerr.Wrap(err, "failed to open archive writer", goerr.V("key", key))
	}
	if _, err := w.Write(upload.Data); err != nil {
		_ = w.Close()
		return goerr.Wrap(err, "failed to write archive", goerr.V("key", key))
	}
	if err := w.Close(); err != nil {
		return goerr.Wrap(err, "failed to close archive writer", goerr.V("key", key))
	}
	return nil
}

// Ask answers query in the context of the session. A failed rewrite falls
// back to the original query. The returned stream must be drained before it
// can be recorded to the session.
func (p *Pipeline) Ask(ctx context.Context, sess *chat.Session, query string) (*chat.Stream, error) {
	logger := logging.From(ctx)

	rewritten, err := p.rewriter.Rewrite(ctx, query, sess.RecentTurns())
	if err != nil {
		logger.Warn("failed to rewrite query, using it as is", "error", err)
		rewritten = query
	}

	chunks, err := p.index.Retrieve(ctx, rewritten, p.topK)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to retrieve context", goerr.V("query", rewritten))
	}
	logger.Debug("retrieved context", "query", rewritten, "chunks", len(chunks))

	return p.answerer.Answer(ctx, rewritten, chunks), nil
}

// Reply asks, hands every fragment to onFragment as it arrives, and records
// the exchange in the session once the answer is complete.
func (p *Pipeline) Reply(ctx context.Context, sess *chat.Session, query string, onFragment func(string)) (string, error) {
	stream, err := p.Ask(ctx, sess, query)
	if err != nil {
		return "", err
	}

	for fragment, err := range stream.Fragments() {
		if err != nil {
			return "", err
		}
		if onFragment != nil {
			onFragment(fragment)
		}
	}

	if err := sess.Record(query, stream); err != nil {
		return "", err
	}
	return stream.Answer()
}
