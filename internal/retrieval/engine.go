// Package retrieval turns a query into ranked context chunks.
package retrieval

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"ragchat/internal/domain"
	"ragchat/internal/embedding"
	"ragchat/internal/vectorstore"
)

// DefaultTopK is the number of chunks fetched per turn.
const DefaultTopK = 6

// Engine embeds queries and maps index hits back onto the chunk list.
// It is read-only after construction and safe for concurrent use.
type Engine struct {
	embedder embedding.Embedder
	searcher vectorstore.Searcher
	chunks   []domain.Chunk
	logger   *zap.Logger
}

// New creates an Engine. A nil searcher or empty chunk list makes every
// retrieval return no context.
func New(embedder embedding.Embedder, searcher vectorstore.Searcher, chunks []domain.Chunk, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{embedder: embedder, searcher: searcher, chunks: chunks, logger: logger}
}

// Len returns the number of retrievable chunks.
func (e *Engine) Len() int { return len(e.chunks) }

// Retrieve returns at most k chunks closest first. It never fails: an
// unavailable index or embedder yields an empty result so the caller can
// answer without grounding.
func (e *Engine) Retrieve(ctx context.Context, query string, k int) []domain.RetrievedDoc {
	ctx, span := otel.Tracer("ragchat/retrieval").Start(ctx, "retrieval.retrieve")
	defer span.End()
	span.SetAttributes(attribute.Int("retrieval.k", k))

	if k <= 0 || e.searcher == nil || len(e.chunks) == 0 || e.searcher.Len() == 0 {
		e.logger.Warn("retrieval unavailable, continuing without context",
			zap.Int("chunks", len(e.chunks)), zap.Int("k", k))
		return nil
	}

	vec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.Warn("query embedding failed, continuing without context", zap.Error(err))
		return nil
	}
	hits, err := e.searcher.Search(ctx, vec, k)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.Warn("index search failed, continuing without context", zap.Error(err))
		return nil
	}

	docs := make([]domain.RetrievedDoc, 0, len(hits))
	for _, h := range hits {
		if len(docs) == k {
			break
		}
		if h.Position == vectorstore.NoMatch || h.Position < 0 || h.Position >= int64(len(e.chunks)) {
			continue
		}
		c := e.chunks[h.Position]
		docs = append(docs, domain.RetrievedDoc{Text: c.Text, Source: c.Source, Distance: h.Distance})
	}
	span.SetAttributes(attribute.Int("retrieval.results", len(docs)))
	e.logger.Debug("retrieved", zap.Int("results", len(docs)), zap.Int("k", k))
	return docs
}
