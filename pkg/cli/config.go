package cli

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/m-mizutani/docqa/pkg/adapter"
	"github.com/m-mizutani/docqa/pkg/interfaces"
	"github.com/m-mizutani/docqa/pkg/model"
	"github.com/m-mizutani/docqa/pkg/repository"
	"github.com/m-mizutani/docqa/pkg/usecase/chat"
	"github.com/m-mizutani/docqa/pkg/usecase/chunk"
	"github.com/m-mizutani/docqa/pkg/usecase/extract"
	"github.com/m-mizutani/docqa/pkg/usecase/index"
	"github.com/m-mizutani/docqa/pkg/usecase/pipeline"
	"github.com/m-mizutani/docqa/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

const (
	backendFirestore = "firestore"
	backendMemory    = "memory"
)

// config holds configuration values
type config struct {
	configFile string
	logLevel   string
	logFormat  string

	// Model
	provider       string
	apiKey         string
	endpoint       string
	apiVersion     string
	chatModel      string
	embeddingModel string
	embeddingCache int64

	// Index
	backend      string
	project      string
	database     string
	indexName    string
	dimension    int64
	readyTimeout time.Duration

	// Pipeline
	encoding      string
	chunkSize     int64
	chunkOverlap  int64
	topK          int64
	temperature   float64
	archiveBucket string
}

// fileConfig is the layout of the --config YAML file. Keys mirror flag names.
type fileConfig struct {
	LogLevel       string  `yaml:"log-level"`
	LogFormat      string  `yaml:"log-format"`
	Provider       string  `yaml:"provider"`
	APIKey         string  `yaml:"api-key"`
	Endpoint       string  `yaml:"endpoint"`
	APIVersion     string  `yaml:"api-version"`
	ChatModel      string  `yaml:"chat-model"`
	EmbeddingModel string  `yaml:"embedding-model"`
	EmbeddingCache int64   `yaml:"embedding-cache"`
	Backend        string  `yaml:"backend"`
	Project        string  `yaml:"project"`
	Database       string  `yaml:"database"`
	Index          string  `yaml:"index"`
	Dimension      int64   `yaml:"dimension"`
	ReadyTimeout   string  `yaml:"ready-timeout"`
	Encoding       string  `yaml:"encoding"`
	ChunkSize      int64   `yaml:"chunk-size"`
	ChunkOverlap   int64   `yaml:"chunk-overlap"`
	TopK           int64   `yaml:"top-k"`
	Temperature    float64 `yaml:"temperature"`
	ArchiveBucket  string  `yaml:"archive-bucket"`
}

// globalFlags returns common flags used across commands with destination config
func globalFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Aliases:     []string{"c"},
			Usage:       "YAML file with default settings",
			Sources:     cli.EnvVars("DOCQA_CONFIG"),
			Destination: &cfg.configFile,
		},
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "Log level (debug, info, warn, error)",
			Value:       "info",
			Sources:     cli.EnvVars("DOCQA_LOG_LEVEL"),
			Destination: &cfg.logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "Log format (console, json)",
			Value:       string(logging.FormatConsole),
			Sources:     cli.EnvVars("DOCQA_LOG_FORMAT"),
			Destination: &cfg.logFormat,
		},
	}
}

// llmFlags returns flags for LLM-related configuration with destination config
func llmFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "provider",
			Usage:       "Model provider (direct, gateway)",
			Value:       string(model.ProviderDirect),
			Sources:     cli.EnvVars("DOCQA_PROVIDER"),
			Destination: &cfg.provider,
		},
		&cli.StringFlag{
			Name:        "api-key",
			Usage:       "API key of the model provider",
			Sources:     cli.EnvVars("DOCQA_API_KEY"),
			Destination: &cfg.apiKey,
		},
		&cli.StringFlag{
			Name:        "endpoint",
			Usage:       "Gateway endpoint URL",
			Sources:     cli.EnvVars("DOCQA_ENDPOINT"),
			Destination: &cfg.endpoint,
		},
		&cli.StringFlag{
			Name:        "api-version",
			Usage:       "Gateway API version",
			Sources:     cli.EnvVars("DOCQA_API_VERSION"),
			Destination: &cfg.apiVersion,
		},
		&cli.StringFlag{
			Name:        "chat-model",
			Usage:       "Chat model or deployment name",
			Value:       "gemini-2.5-flash",
			Sources:     cli.EnvVars("DOCQA_CHAT_MODEL"),
			Destination: &cfg.chatModel,
		},
		&cli.StringFlag{
			Name:        "embedding-model",
			Usage:       "Embedding model or deployment name",
			Value:       "gemini-embedding-001",
			Sources:     cli.EnvVars("DOCQA_EMBEDDING_MODEL"),
			Destination: &cfg.embeddingModel,
		},
		&cli.IntFlag{
			Name:        "embedding-cache",
			Usage:       "Number of embeddings memoised in process (0 disables)",
			Value:       1024,
			Sources:     cli.EnvVars("DOCQA_EMBEDDING_CACHE"),
			Destination: &cfg.embeddingCache,
		},
	}
}

// indexFlags returns flags for the vector index
func indexFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "backend",
			Usage:       "Vector index backend (firestore, memory)",
			Value:       backendFirestore,
			Sources:     cli.EnvVars("DOCQA_BACKEND"),
			Destination: &cfg.backend,
		},
		&cli.StringFlag{
			Name:        "project",
			Aliases:     []string{"p"},
			Usage:       "Google Cloud project ID",
			Sources:     cli.EnvVars("DOCQA_PROJECT", "GOOGLE_CLOUD_PROJECT"),
			Destination: &cfg.project,
		},
		&cli.StringFlag{
			Name:        "database",
			Aliases:     []string{"d"},
			Usage:       "Firestore database ID",
			Value:       "(default)",
			Sources:     cli.EnvVars("DOCQA_DATABASE"),
			Destination: &cfg.database,
		},
		&cli.StringFlag{
			Name:        "index",
			Usage:       "Vector index name",
			Value:       index.DefaultName,
			Sources:     cli.EnvVars("DOCQA_INDEX"),
			Destination: &cfg.indexName,
		},
		&cli.IntFlag{
			Name:        "dimension",
			Usage:       "Embedding dimension of the index",
			Value:       index.DefaultDimension,
			Sources:     cli.EnvVars("DOCQA_DIMENSION"),
			Destination: &cfg.dimension,
		},
		&cli.DurationFlag{
			Name:        "ready-timeout",
			Usage:       "How long to wait for a new index to become ready",
			Value:       index.DefaultReadyTimeout,
			Sources:     cli.EnvVars("DOCQA_READY_TIMEOUT"),
			Destination: &cfg.readyTimeout,
		},
	}
}

// pipelineFlags returns flags for chunking, retrieval and generation
func pipelineFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "encoding",
			Usage:       "Tokenizer encoding used for chunking",
			Value:       chunk.DefaultEncoding,
			Sources:     cli.EnvVars("DOCQA_ENCODING"),
			Destination: &cfg.encoding,
		},
		&cli.IntFlag{
			Name:        "chunk-size",
			Usage:       "Tokens per chunk",
			Value:       chunk.DefaultSize,
			Sources:     cli.EnvVars("DOCQA_CHUNK_SIZE"),
			Destination: &cfg.chunkSize,
		},
		&cli.IntFlag{
			Name:        "chunk-overlap",
			Usage:       "Tokens shared by consecutive chunks",
			Value:       chunk.DefaultOverlap,
			Sources:     cli.EnvVars("DOCQA_CHUNK_OVERLAP"),
			Destination: &cfg.chunkOverlap,
		},
		&cli.IntFlag{
			Name:        "top-k",
			Usage:       "Chunks retrieved per question",
			Value:       index.DefaultTopK,
			Sources:     cli.EnvVars("DOCQA_TOP_K"),
			Destination: &cfg.topK,
		},
		&cli.FloatFlag{
			Name:        "temperature",
			Usage:       "Sampling temperature of query rewrites and answers",
			Value:       chat.DefaultTemperature,
			Sources:     cli.EnvVars("DOCQA_TEMPERATURE"),
			Destination: &cfg.temperature,
		},
		&cli.StringFlag{
			Name:        "archive-bucket",
			Usage:       "Cloud Storage bucket to keep ingested documents in",
			Sources:     cli.EnvVars("DOCQA_ARCHIVE_BUCKET"),
			Destination: &cfg.archiveBucket,
		},
	}
}

// allFlags returns every flag needed to build a pipeline
func allFlags(cfg *config) []cli.Flag {
	var flags []cli.Flag
	flags = append(flags, globalFlags(cfg)...)
	flags = append(flags, llmFlags(cfg)...)
	flags = append(flags, indexFlags(cfg)...)
	flags = append(flags, pipelineFlags(cfg)...)
	return flags
}

// load applies the config file to flags not set on the command line or in
// the environment.
func (cfg *config) load(c *cli.Command) error {
	if cfg.configFile == "" {
		return nil
	}

	raw, err := os.ReadFile(cfg.configFile)
	if err != nil {
		return goerr.Wrap(err, "failed to read config file", goerr.V("path", cfg.configFile), goerr.T(model.ErrTagInvalidConfig))
	}

	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return goerr.Wrap(err, "failed to parse config file", goerr.V("path", cfg.configFile), goerr.T(model.ErrTagInvalidConfig))
	}

	return cfg.apply(&fc, c.IsSet)
}

func (cfg *config) apply(fc *fileConfig, isSet func(name string) bool) error {
	str := func(name string, dst *string, v string) {
		if v != "" && !isSet(name) {
			*dst = v
		}
	}
	num := func(name string, dst *int64, v int64) {
		if v != 0 && !isSet(name) {
			*dst = v
		}
	}

	str("log-level", &cfg.logLevel, fc.LogLevel)
	str("log-format", &cfg.logFormat, fc.LogFormat)
	str("provider", &cfg.provider, fc.Provider)
	str("api-key", &cfg.apiKey, fc.APIKey)
	str("endpoint", &cfg.endpoint, fc.Endpoint)
	str("api-version", &cfg.apiVersion, fc.APIVersion)
	str("chat-model", &cfg.chatModel, fc.ChatModel)
	str("embedding-model", &cfg.embeddingModel, fc.EmbeddingModel)
	num("embedding-cache", &cfg.embeddingCache, fc.EmbeddingCache)
	str("backend", &cfg.backend, fc.Backend)
	str("project", &cfg.project, fc.Project)
	str("database", &cfg.database, fc.Database)
	str("index", &cfg.indexName, fc.Index)
	num("dimension", &cfg.dimension, fc.Dimension)
	str("encoding", &cfg.encoding, fc.Encoding)
	num("chunk-size", &cfg.chunkSize, fc.ChunkSize)
	num("chunk-overlap", &cfg.chunkOverlap, fc.ChunkOverlap)
	num("top-k", &cfg.topK, fc.TopK)
	str("archive-bucket", &cfg.archiveBucket, fc.ArchiveBucket)

	if fc.Temperature != 0 && !isSet("temperature") {
		cfg.temperature = fc.Temperature
	}
	if fc.ReadyTimeout != "" && !isSet("ready-timeout") {
		d, err := time.ParseDuration(fc.ReadyTimeout)
		if err != nil {
			return goerr.Wrap(err, "invalid ready-timeout in config file", goerr.V("value", fc.ReadyTimeout), goerr.T(model.ErrTagInvalidConfig))
		}
		cfg.readyTimeout = d
	}
	return nil
}

// newLogger creates the logger configured by log flags and stores it in ctx
func (cfg *config) newLogger(ctx context.Context, w io.Writer) (context.Context, error) {
	if _, ok := logging.ParseLevel(cfg.logLevel); !ok {
		return ctx, goerr.New("invalid log level", goerr.V("level", cfg.logLevel), goerr.T(model.ErrTagInvalidConfig))
	}

	format := logging.Format(cfg.logFormat)
	if format != logging.FormatConsole && format != logging.FormatJSON {
		return ctx, goerr.New("invalid log format", goerr.V("format", cfg.logFormat), goerr.T(model.ErrTagInvalidConfig))
	}

	logger := logging.NewWithFormat(cfg.logLevel, format, w)
	logging.SetDefault(logger)
	return logging.With(ctx, logger), nil
}

func (cfg *config) credentials() model.ModelCredentials {
	return model.ModelCredentials{
		Provider:       model.Provider(cfg.provider),
		APIKey:         cfg.apiKey,
		Endpoint:       cfg.endpoint,
		APIVersion:     cfg.apiVersion,
		ChatModel:      cfg.chatModel,
		EmbeddingModel: cfg.embeddingModel,
	}
}

// newLLM creates the chat and embedding client of the configured provider
func (cfg *config) newLLM(ctx context.Context) (adapter.LLM, error) {
	return adapter.New(ctx, cfg.credentials(),
		adapter.WithEmbeddingDimension(int(cfg.dimension)),
		adapter.WithEmbeddingCache(int(cfg.embeddingCache)),
	)
}

// newBackend creates the vector store. The returned function releases it.
func (cfg *config) newBackend(ctx context.Context) (interfaces.VectorBackend, func(), error) {
	switch cfg.backend {
	case backendMemory:
		return repository.NewMemory(), func() {}, nil

	case backendFirestore:
		if cfg.project == "" {
			return nil, nil, goerr.New("project is required", goerr.T(model.ErrTagInvalidConfig))
		}
		if cfg.database == "" {
			return nil, nil, goerr.New("database is required", goerr.T(model.ErrTagInvalidConfig))
		}
		repo, err := repository.NewFirestore(ctx, cfg.project, cfg.database)
		if err != nil {
			return nil, nil, goerr.Wrap(err, "failed to create repository")
		}
		return repo, func() {
			if err := repo.Close(); err != nil {
				logging.From(ctx).Warn("failed to close repository", "error", err)
			}
		}, nil

	default:
		return nil, nil, goerr.New("unsupported backend",
			goerr.V("backend", cfg.backend),
			goerr.V("supported", []string{backendFirestore, backendMemory}),
			goerr.T(model.ErrTagInvalidConfig))
	}
}

// newStorage creates a new Storage adapter instance, or nil without a bucket
func (cfg *config) newStorage(ctx context.Context) (adapter.Storage, error) {
	if cfg.archiveBucket == "" {
		return nil, nil
	}

	storage, err := adapter.NewStorage(ctx, cfg.archiveBucket)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create storage")
	}
	return storage, nil
}

// newRewriter and newAnswerer share the configured temperature.
func (cfg *config) newRewriter(llm adapter.Generator) *chat.Rewriter {
	return chat.NewRewriter(llm, chat.WithRewriteTemperature(cfg.temperature))
}

func (cfg *config) newAnswerer(llm adapter.Generator) *chat.Answerer {
	return chat.NewAnswerer(llm, chat.WithAnswerTemperature(cfg.temperature))
}

// newPipeline wires every component. The index is provisioned before
// returning. The returned function releases backend resources.
func (cfg *config) newPipeline(ctx context.Context) (*pipeline.Pipeline, func(), error) {
	llm, err := cfg.newLLM(ctx)
	if err != nil {
		return nil, nil, err
	}

	tokenizer, err := chunk.NewTiktoken(cfg.encoding)
	if err != nil {
		return nil, nil, err
	}
	chunker, err := chunk.New(tokenizer, int(cfg.chunkSize), int(cfg.chunkOverlap))
	if err != nil {
		return nil, nil, err
	}

	backend, closer, err := cfg.newBackend(ctx)
	if err != nil {
		return nil, nil, err
	}

	idx, err := index.New(backend, llm, index.WithReadyTimeout(cfg.readyTimeout)).
		EnsureIndex(ctx, cfg.indexName, int(cfg.dimension))
	if err != nil {
		closer()
		return nil, nil, err
	}

	opts := []pipeline.Option{pipeline.WithTopK(int(cfg.topK))}
	storage, err := cfg.newStorage(ctx)
	if err != nil {
		closer()
		return nil, nil, err
	}
	if storage != nil {
		opts = append(opts, pipeline.WithArchive(storage))
	}

	p := pipeline.New(
		extract.New(),
		chunker,
		idx,
		cfg.newRewriter(llm),
		cfg.newAnswerer(llm),
		opts...,
	)
	return p, closer, nil
}

// errWriter is where logs and progress go.
func errWriter(c *cli.Command) io.Writer {
	if w := c.Root().ErrWriter; w != nil {
		return w
	}
	return os.Stderr
}

// setup loads the config file, installs the logger and builds the pipeline
func (cfg *config) setup(ctx context.Context, c *cli.Command) (context.Context, *pipeline.Pipeline, func(), error) {
	if err := cfg.load(c); err != nil {
		return ctx, nil, nil, err
	}

	ctx, err := cfg.newLogger(ctx, errWriter(c))
	if err != nil {
		return ctx, nil, nil, err
	}

	p, closer, err := cfg.newPipeline(ctx)
	if err != nil {
		return ctx, nil, nil, err
	}
	return ctx, p, closer, nil
}
