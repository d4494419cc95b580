// Package orchestrator runs one conversation turn through the node graph
//
//	router -> retrieve -> generate -> terminal
//	router -> generate_direct -> terminal
//	router -> terminal
//
// and commits the result to the session store.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"ragchat/internal/domain"
	"ragchat/internal/events"
	"ragchat/internal/generation"
	"ragchat/internal/prompt"
	"ragchat/internal/retrieval"
	"ragchat/internal/router"
	"ragchat/internal/session"
)

// Retriever supplies grounding context. It degrades to an empty result rather than failing.
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) []domain.RetrievedDoc
}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Router    *router.Router
	Retriever Retriever
	Generator generation.Generator
	Prompts   *prompt.Builder
	Store     session.Store
	Publisher events.Publisher
	TopK      int
}

// TurnResult is the outcome of one turn.
type TurnResult struct {
	ThreadID string        `json:"thread_id"`
	Route    domain.Route  `json:"route"`
	Rule     string        `json:"rule"`
	Path     []domain.Node `json:"path"`

	// Terminated is set when the turn ended the conversation; nothing was recorded.
	Terminated bool         `json:"terminated"`
	State      domain.State `json:"state"`
}

// Orchestrator is safe for concurrent use across threads. Turns on the same
// thread must be serialized by the caller.
type Orchestrator struct {
	router    *router.Router
	retriever Retriever
	generator generation.Generator
	prompts   *prompt.Builder
	store     session.Store
	publisher events.Publisher
	topK      int
	logger    *zap.Logger
}

// New creates an Orchestrator. Missing optional deps get defaults.
func New(d Deps, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if d.Router == nil {
		d.Router = router.Default()
	}
	if d.Prompts == nil {
		d.Prompts = prompt.NewBuilder("")
	}
	if d.Store == nil {
		d.Store = session.NewMemoryStore()
	}
	if d.Publisher == nil {
		d.Publisher = events.Nop{}
	}
	if d.TopK <= 0 {
		d.TopK = retrieval.DefaultTopK
	}
	return &Orchestrator{
		router:    d.Router,
		retriever: d.Retriever,
		generator: d.Generator,
		prompts:   d.Prompts,
		store:     d.Store,
		publisher: d.Publisher,
		topK:      d.TopK,
		logger:    logger,
	}
}

// Run processes one user turn without streaming.
func (o *Orchestrator) Run(ctx context.Context, threadID, userText string) (*TurnResult, error) {
	return o.run(ctx, threadID, userText, nil)
}

// State returns a copy of the thread's current state.
func (o *Orchestrator) State(ctx context.Context, threadID string) (domain.State, error) {
	return o.store.Get(ctx, threadID)
}

// Snapshot returns the diagnostic view of a thread.
func (o *Orchestrator) Snapshot(ctx context.Context, threadID string) (session.Snapshot, error) {
	st, err := o.store.Get(ctx, threadID)
	if err != nil {
		return session.Snapshot{}, err
	}
	return session.Summarize(st), nil
}

// StoreName reports which session store backs the orchestrator.
func (o *Orchestrator) StoreName() string { return o.store.Name() }

func (o *Orchestrator) run(ctx context.Context, threadID, userText string, emit func(domain.Fragment)) (*TurnResult, error) {
	if strings.TrimSpace(userText) == "" {
		return nil, fmt.Errorf("orchestrator: %w", domain.ErrEmptyInput)
	}
	ctx, span := otel.Tracer("ragchat/orchestrator").Start(ctx, "orchestrator.turn")
	defer span.End()
	span.SetAttributes(attribute.String("thread_id", threadID))

	prior, err := o.store.Get(ctx, threadID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("orchestrator: load %s: %w", threadID, err)
	}

	t := newTurn(threadID, prior, userText, emit)
	log := o.logger.With(zap.String("thread_id", threadID))

	for node := domain.NodeRouter; ; {
		t.path = append(t.path, node)
		if err := o.step(ctx, node, t, log); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			log.Warn("turn failed, nothing committed", zap.Stringer("node", node), zap.Error(err))
			return nil, err
		}
		if node == domain.NodeTerminal {
			break
		}
		next, err := nextNode(node, t.decision.Route)
		if err != nil {
			return nil, err
		}
		node = next
	}
	span.SetAttributes(attribute.String("route", t.decision.Route.String()))

	res := &TurnResult{
		ThreadID: threadID,
		Route:    t.decision.Route,
		Rule:     t.decision.Rule,
		Path:     t.path,
	}
	if t.decision.Route == domain.RouteTerminate {
		res.Terminated = true
		res.State = prior
		log.Info("conversation terminated", zap.String("rule", t.decision.Rule))
		return res, nil
	}

	committed, err := o.store.Apply(ctx, threadID, t.delta())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("orchestrator: commit %s: %w", threadID, err)
	}
	res.State = committed
	log.Info("turn committed",
		zap.Stringer("route", t.decision.Route),
		zap.Int("num_messages", len(committed.Messages)),
		zap.Int("results", len(committed.RetrievedDocs)),
	)

	ev := events.TurnEvent{
		ThreadID:    threadID,
		Route:       t.decision.Route.String(),
		NumMessages: len(committed.Messages),
		At:          time.Now().UTC(),
	}
	if committed.StructuredAnswer != nil {
		ev.Sources = committed.StructuredAnswer.Sources
	}
	if err := o.publisher.Publish(ctx, ev); err != nil {
		log.Warn("publish turn event", zap.Error(err))
	}
	return res, nil
}
