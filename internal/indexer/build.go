// Package indexer builds, persists and reloads the vector index artifact the
// retrieval engine serves from.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ragchat/internal/corpus"
	"ragchat/internal/domain"
	"ragchat/internal/embedding"
	"ragchat/internal/vectorstore"
	"ragchat/internal/vectorstore/flat"
)

// Remote is an external vector store mirrored from the local artifact.
type Remote interface {
	vectorstore.Searcher
	Reset(ctx context.Context, dim int) error
	Attach(ctx context.Context, dim int) error
	Upsert(ctx context.Context, vectors [][]float32, chunks []domain.Chunk) error
}

// Options locate the corpus and the artifacts.
type Options struct {
	DataDir     string
	ArtifactDir string
	Extensions  []string
	// UpsertBatch bounds the number of points sent to a Remote per call.
	UpsertBatch int
}

// Loaded is what serving needs: the chunk list and a searcher whose positions index it.
type Loaded struct {
	BuildID  uuid.UUID
	Chunks   []domain.Chunk
	Searcher vectorstore.Searcher
}

// Indexer owns the offline build and the load-or-build startup path.
type Indexer struct {
	opts     Options
	chunker  domain.Chunker
	embedder embedding.Embedder
	remote   Remote
	logger   *zap.Logger

	// Serializes builds so a watcher and a manual rebuild never publish concurrently.
	mu sync.Mutex
}

// New creates an Indexer. remote may be nil to serve from the local flat index.
func New(opts Options, chunker domain.Chunker, embedder embedding.Embedder, remote Remote, logger *zap.Logger) *Indexer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.UpsertBatch <= 0 {
		opts.UpsertBatch = 64
	}
	return &Indexer{opts: opts, chunker: chunker, embedder: embedder, remote: remote, logger: logger}
}

// Build chunks and embeds docs into a fresh in-memory artifact.
func (ix *Indexer) Build(ctx context.Context, docs []domain.Document) (*Artifact, error) {
	var chunks []domain.Chunk
	for _, d := range docs {
		cs, err := ix.chunker.Chunk(d)
		if err != nil {
			return nil, fmt.Errorf("indexer: chunk %s: %w", d.Source, err)
		}
		chunks = append(chunks, cs...)
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("indexer: build: %w", domain.ErrEmptyCorpus)
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	if err := ix.embedder.Prepare(texts); err != nil {
		return nil, fmt.Errorf("indexer: prepare %s: %w", ix.embedder.Name(), err)
	}

	vectors := make([][]float32, len(chunks))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		v, err := ix.embedder.Embed(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("indexer: embed chunk %d: %w", i, err)
		}
		vectors[i] = v
	}

	idx, err := flat.New(len(vectors[0]))
	if err != nil {
		return nil, fmt.Errorf("indexer: build: %w", err)
	}
	if err := idx.Add(vectors); err != nil {
		return nil, fmt.Errorf("indexer: build: %w", err)
	}

	info := EmbedderInfo{Name: ix.embedder.Name()}
	if st, ok := ix.embedder.(embedding.Stateful); ok {
		state, err := st.MarshalState()
		if err != nil {
			return nil, fmt.Errorf("indexer: embedder state: %w", err)
		}
		info.State = state
	}
	return &Artifact{BuildID: uuid.New(), Index: idx, Chunks: chunks, Embedder: info}, nil
}

// Rebuild loads the corpus, builds, publishes the artifact pair and mirrors it to the remote store.
func (ix *Indexer) Rebuild(ctx context.Context) (*Loaded, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	docs, err := corpus.LoadDir(ix.opts.DataDir, ix.opts.Extensions)
	if err != nil {
		return nil, fmt.Errorf("indexer: rebuild: %w", err)
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("indexer: rebuild %s: %w", ix.opts.DataDir, domain.ErrEmptyCorpus)
	}
	a, err := ix.Build(ctx, docs)
	if err != nil {
		return nil, err
	}
	if err := Save(ix.opts.ArtifactDir, a); err != nil {
		return nil, err
	}
	if ix.remote != nil {
		if err := ix.mirror(ctx, a); err != nil {
			return nil, err
		}
	}
	ix.logger.Info("index built",
		zap.String("build_id", a.BuildID.String()),
		zap.Int("documents", len(docs)),
		zap.Int("chunks", len(a.Chunks)),
		zap.Int("dimension", a.Index.Dimension()),
		zap.String("embedder", a.Embedder.Name),
	)
	return ix.serve(a), nil
}

// LoadOrBuild loads published artifacts, building them when none exist yet.
// A corrupt pair is returned as an error; it is never rebuilt implicitly.
func (ix *Indexer) LoadOrBuild(ctx context.Context) (*Loaded, error) {
	a, err := Load(ix.opts.ArtifactDir)
	if errors.Is(err, domain.ErrArtifactMissing) {
		ix.logger.Info("no index artifacts, building", zap.String("dir", ix.opts.ArtifactDir))
		return ix.Rebuild(ctx)
	}
	if err != nil {
		return nil, err
	}
	if err := ix.restoreEmbedder(a); err != nil {
		return nil, err
	}
	if ix.remote != nil {
		err := ix.remote.Attach(ctx, a.Index.Dimension())
		if errors.Is(err, domain.ErrArtifactMissing) {
			ix.logger.Info("remote collection missing, mirroring local artifact")
			err = ix.mirror(ctx, a)
		}
		if err != nil {
			return nil, err
		}
		if ix.remote.Len() != len(a.Chunks) {
			return nil, corrupt("remote holds %d points for %d chunks", ix.remote.Len(), len(a.Chunks))
		}
	}
	ix.logger.Info("index loaded",
		zap.String("build_id", a.BuildID.String()),
		zap.Int("chunks", len(a.Chunks)),
		zap.String("embedder", a.Embedder.Name),
	)
	return ix.serve(a), nil
}

func (ix *Indexer) restoreEmbedder(a *Artifact) error {
	if a.Embedder.Name != ix.embedder.Name() {
		return corrupt("artifact built with embedder %q, configured %q", a.Embedder.Name, ix.embedder.Name())
	}
	st, ok := ix.embedder.(embedding.Stateful)
	if !ok {
		return nil
	}
	if len(a.Embedder.State) == 0 {
		return corrupt("embedder %q state missing", a.Embedder.Name)
	}
	if err := st.UnmarshalState(a.Embedder.State); err != nil {
		return corrupt("embedder state: %v", err)
	}
	return nil
}

func (ix *Indexer) mirror(ctx context.Context, a *Artifact) error {
	if err := ix.remote.Reset(ctx, a.Index.Dimension()); err != nil {
		return fmt.Errorf("indexer: mirror: %w", err)
	}
	for start := 0; start < len(a.Chunks); start += ix.opts.UpsertBatch {
		end := min(start+ix.opts.UpsertBatch, len(a.Chunks))
		vectors := make([][]float32, 0, end-start)
		for i := start; i < end; i++ {
			v, err := a.Index.Vector(i)
			if err != nil {
				return fmt.Errorf("indexer: mirror: %w", err)
			}
			vectors = append(vectors, v)
		}
		if err := ix.remote.Upsert(ctx, vectors, a.Chunks[start:end]); err != nil {
			return fmt.Errorf("indexer: mirror: %w", err)
		}
	}
	return nil
}

func (ix *Indexer) serve(a *Artifact) *Loaded {
	l := &Loaded{BuildID: a.BuildID, Chunks: a.Chunks, Searcher: a.Index}
	if ix.remote != nil {
		l.Searcher = ix.remote
	}
	return l
}
