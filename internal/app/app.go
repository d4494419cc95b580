// Package app assembles the configured components into a running assistant.
package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"go.uber.org/zap"

	"ragchat/internal/chunker"
	"ragchat/internal/config"
	"ragchat/internal/domain"
	"ragchat/internal/embedding"
	"ragchat/internal/embedding/ollama"
	"ragchat/internal/embedding/openai"
	"ragchat/internal/embedding/tfidf"
	"ragchat/internal/events"
	genopenai "ragchat/internal/generation/openai"
	"ragchat/internal/indexer"
	"ragchat/internal/orchestrator"
	"ragchat/internal/prompt"
	"ragchat/internal/retrieval"
	"ragchat/internal/router"
	"ragchat/internal/session"
	"ragchat/internal/vectorstore/qdrant"
)

// App owns every long-lived component of one process.
type App struct {
	Config       *config.AppConfig
	Orchestrator *orchestrator.Orchestrator
	Index        *indexer.Loaded

	logger  *zap.Logger
	closers []func() error
}

// New loads (or builds) the index and wires the orchestrator around it.
func New(ctx context.Context, cfg *config.AppConfig, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{Config: cfg, logger: logger}

	emb, err := NewEmbedder(cfg)
	if err != nil {
		return nil, err
	}
	ix, closeIx, err := NewIndexer(cfg, emb, logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, closeIx)

	loaded, err := ix.LoadOrBuild(ctx)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrEmptyCorpus) || errors.Is(err, fs.ErrNotExist):
		// Nothing to ground answers in; turns still route and generate.
		logger.Warn("no corpus to index, answering without retrieval",
			zap.String("data_dir", cfg.Index.DataDir), zap.Error(err))
		loaded = &indexer.Loaded{}
	case errors.Is(err, domain.ErrArtifactCorrupt):
		a.Close()
		return nil, fmt.Errorf("%w (run ragindex -rebuild)", err)
	default:
		a.Close()
		return nil, err
	}
	a.Index = loaded

	rules, err := router.Rules(cfg.Router.Keywords)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("app: router: %w", err)
	}

	gen, err := genopenai.NewClient(genopenai.Config{
		BaseURL:           cfg.Generation.BaseURL,
		APIKeyEnv:         cfg.Generation.APIKeyEnv,
		Model:             cfg.Generation.Model,
		MaxTokens:         cfg.Generation.MaxTokens,
		Temperature:       cfg.Generation.Temperature,
		Timeout:           time.Duration(cfg.Generation.TimeoutSecs) * time.Second,
		RequestsPerSecond: cfg.Generation.RequestsPerSecond,
		Burst:             cfg.Generation.Burst,
	}, logger.Named("generation"))
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("app: generation: %w", err)
	}

	store, err := NewStore(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, store.Close)

	pub, err := NewPublisher(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, pub.Close)

	a.Orchestrator = orchestrator.New(orchestrator.Deps{
		Router:    router.New(rules),
		Retriever: retrieval.New(emb, loaded.Searcher, loaded.Chunks, logger.Named("retrieval")),
		Generator: gen,
		Prompts:   prompt.NewBuilder(cfg.Generation.SystemPrompt),
		Store:     store,
		Publisher: pub,
		TopK:      cfg.Retrieval.TopK,
	}, logger.Named("orchestrator"))

	logger.Info("assistant ready",
		zap.String("sessions", store.Name()),
		zap.String("embedder", emb.Name()),
		zap.String("vector_store", cfg.VectorStore.Type),
		zap.Int("chunks", len(loaded.Chunks)),
		zap.String("build_id", loaded.BuildID.String()),
	)
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// NewEmbedder builds the configured embedder.
func NewEmbedder(cfg *config.AppConfig) (embedding.Embedder, error) {
	switch cfg.Embedder.Type {
	case "tfidf", "":
		return tfidf.NewEmbedder(), nil
	case "openai":
		if cfg.Embedder.OpenAI == nil {
			return nil, errors.New("app: openai embedder config missing")
		}
		c, err := openai.NewClient(openai.Config{
			BaseURL:   cfg.Embedder.OpenAI.BaseURL,
			APIKeyEnv: cfg.Embedder.OpenAI.APIKeyEnv,
			Model:     cfg.Embedder.OpenAI.Model,
			Timeout:   time.Duration(cfg.Embedder.OpenAI.TimeoutSecs) * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("app: openai embedder: %w", err)
		}
		return c, nil
	case "ollama":
		if cfg.Embedder.Ollama == nil {
			return nil, errors.New("app: ollama embedder config missing")
		}
		return ollama.NewClient(
			cfg.Embedder.Ollama.BaseURL,
			cfg.Embedder.Ollama.Model,
			time.Duration(cfg.Embedder.Ollama.TimeoutSecs)*time.Second,
		), nil
	default:
		return nil, fmt.Errorf("app: unknown embedder: %s", cfg.Embedder.Type)
	}
}

// NewChunker builds the configured chunker.
func NewChunker(cfg *config.AppConfig) (domain.Chunker, error) {
	switch cfg.Chunker.Type {
	case "window", "":
		return chunker.NewWindowChunker(cfg.Chunker.ChunkSize, cfg.Chunker.ChunkOverlap), nil
	case "sentence":
		return chunker.NewSentenceChunker(cfg.Chunker.SentencesPerChunk, cfg.Chunker.OverlapSentences), nil
	default:
		return nil, fmt.Errorf("app: unknown chunker: %s", cfg.Chunker.Type)
	}
}

// NewIndexer builds an Indexer over the configured corpus, artifacts and
// vector store. The returned func releases the remote store connection.
func NewIndexer(cfg *config.AppConfig, emb embedding.Embedder, logger *zap.Logger) (*indexer.Indexer, func() error, error) {
	ch, err := NewChunker(cfg)
	if err != nil {
		return nil, nil, err
	}
	opts := indexer.Options{
		DataDir:     cfg.Index.DataDir,
		ArtifactDir: cfg.Index.ArtifactDir,
		Extensions:  cfg.Index.Extensions,
	}
	closeFn := func() error { return nil }

	switch cfg.VectorStore.Type {
	case "flat", "":
		return indexer.New(opts, ch, emb, nil, logger.Named("indexer")), closeFn, nil
	case "qdrant":
		if cfg.VectorStore.Qdrant == nil {
			return nil, nil, errors.New("app: qdrant config missing")
		}
		q, err := qdrant.New(cfg.VectorStore.Qdrant.Addr, cfg.VectorStore.Qdrant.Collection)
		if err != nil {
			return nil, nil, err
		}
		return indexer.New(opts, ch, emb, q, logger.Named("indexer")), q.Close, nil
	default:
		return nil, nil, fmt.Errorf("app: unknown vector store: %s", cfg.VectorStore.Type)
	}
}

// NewStore opens the configured session store.
func NewStore(cfg *config.AppConfig) (session.Store, error) {
	switch cfg.Sessions.Type {
	case "memory", "":
		return session.NewMemoryStore(), nil
	case "bolt":
		s, err := session.OpenBoltStore(cfg.Sessions.Path)
		if err != nil {
			return nil, fmt.Errorf("app: sessions: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("app: unknown sessions type: %s", cfg.Sessions.Type)
	}
}

// NewPublisher connects to NATS when configured; otherwise turn events are dropped.
func NewPublisher(cfg *config.AppConfig) (events.Publisher, error) {
	if cfg.Events.NATSURL == "" {
		return events.Nop{}, nil
	}
	p, err := events.ConnectNATS(cfg.Events.NATSURL, cfg.Events.Subject)
	if err != nil {
		return nil, fmt.Errorf("app: events: %w", err)
	}
	return p, nil
}
