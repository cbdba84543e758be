package adapter

import (
	"context"
	"crypto/sha256"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/m-mizutani/goerr/v2"
)

type embeddingKey [sha256.Size]byte

// CachedEmbedder memoises embeddings by text. Repeated chunk texts and
// repeated questions are embedded once per process.
type CachedEmbedder struct {
	base  Embedder
	cache *lru.Cache[embeddingKey, []float32]
}

func NewCachedEmbedder(base Embedder, size int) (*CachedEmbedder, error) {
	cache, err := lru.New[embeddingKey, []float32](size)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create embedding cache", goerr.V("size", size))
	}
	return &CachedEmbedder{base: base, cache: cache}, nil
}

func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := embeddingKey(sha256.Sum256([]byte(text)))
	if v, ok := c.cache.Get(key); ok {
		return v, nil
	}

	v, err := c.base.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, v)
	return v, nil
}
