package adapter

import (
	"context"
	"iter"

	"github.com/m-mizutani/docqa/pkg/model"
	"github.com/m-mizutani/goerr/v2"
)

// Prompt is one single-turn request to a chat model.
type Prompt struct {
	System      string
	User        string
	Temperature float64
}

// Embedder maps text to a fixed-dimension vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Generator produces chat completions, either at once or as a stream of
// text fragments in emission order. Breaking out of the stream stops reading
// from the model.
type Generator interface {
	Complete(ctx context.Context, prompt *Prompt) (string, error)
	Stream(ctx context.Context, prompt *Prompt) iter.Seq2[string, error]
}

// LLM bundles both capabilities of one provider.
type LLM interface {
	Embedder
	Generator
}

type options struct {
	dimension int
	cacheSize int
	baseURL   string
}

type Option func(*options)

// WithEmbeddingDimension asks the provider for vectors of the given size
// where the provider supports it.
func WithEmbeddingDimension(dim int) Option {
	return func(o *options) {
		o.dimension = dim
	}
}

// WithEmbeddingCache memoises up to size embeddings in process.
func WithEmbeddingCache(size int) Option {
	return func(o *options) {
		o.cacheSize = size
	}
}

// WithBaseURL overrides the API endpoint of the direct provider.
func WithBaseURL(url string) Option {
	return func(o *options) {
		o.baseURL = url
	}
}

type llm struct {
	Embedder
	Generator
}

// New builds the LLM for the provider named in creds.
func New(ctx context.Context, creds model.ModelCredentials, opts ...Option) (LLM, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	var base LLM
	switch creds.Provider {
	case model.ProviderDirect:
		gopts := []GeminiOption{
			WithGenerativeModel(creds.ChatModel),
			WithEmbeddingModel(creds.EmbeddingModel),
		}
		if o.dimension > 0 {
			gopts = append(gopts, WithOutputDimensionality(o.dimension))
		}
		if o.baseURL != "" {
			gopts = append(gopts, WithGeminiBaseURL(o.baseURL))
		}
		client, err := NewGemini(ctx, creds.APIKey, gopts...)
		if err != nil {
			return nil, err
		}
		base = client

	case model.ProviderGateway:
		client, err := NewOpenAI(creds.Endpoint, creds.APIKey, creds.APIVersion, creds.ChatModel, creds.EmbeddingModel)
		if err != nil {
			return nil, err
		}
		base = client

	default:
		return nil, goerr.Wrap(model.ErrInvalidProvider, "unsupported provider", goerr.V("provider", creds.Provider))
	}

	if o.cacheSize <= 0 {
		return base, nil
	}

	cached, err := NewCachedEmbedder(base, o.cacheSize)
	if err != nil {
		return nil, err
	}
	return &llm{Embedder: cached, Generator: base}, nil
}
