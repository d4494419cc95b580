package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"ragchat/internal/domain"
	"ragchat/internal/generation"
	"ragchat/internal/router"
	"ragchat/internal/session"
)

// routed holds the edges leaving the router; always holds the unconditional ones.
var (
	routed = map[domain.Route]domain.Node{
		domain.RouteRetrieve:     domain.NodeRetrieve,
		domain.RouteDirectAnswer: domain.NodeGenerateDirect,
		domain.RouteTerminate:    domain.NodeTerminal,
	}
	always = map[domain.Node]domain.Node{
		domain.NodeRetrieve:       domain.NodeGenerate,
		domain.NodeGenerate:       domain.NodeTerminal,
		domain.NodeGenerateDirect: domain.NodeTerminal,
	}
)

func nextNode(from domain.Node, route domain.Route) (domain.Node, error) {
	if from == domain.NodeRouter {
		if n, ok := routed[route]; ok {
			return n, nil
		}
		return 0, fmt.Errorf("orchestrator: no edge for route %s", route)
	}
	if n, ok := always[from]; ok {
		return n, nil
	}
	return 0, fmt.Errorf("orchestrator: no edge leaving %s", from)
}

// turn is the working copy a turn runs against. Nothing in it reaches the
// store until the graph has reached the terminal node.
type turn struct {
	threadID string
	user     domain.Turn
	work     domain.State
	decision router.Decision
	path     []domain.Node
	emit     func(domain.Fragment)
}

func newTurn(threadID string, prior domain.State, userText string, emit func(domain.Fragment)) *turn {
	user := domain.UserTurn(userText)
	work := prior.Clone()
	work.Messages = append(work.Messages, user)
	work.RetrievedDocs = nil
	return &turn{threadID: threadID, user: user, work: work, emit: emit}
}

// delta is what a completed non-terminating turn commits.
func (t *turn) delta() session.Delta {
	d := session.Delta{
		Append:           []domain.Turn{t.user},
		ReplaceRetrieved: true,
		Retrieved:        t.work.RetrievedDocs,
		Answer:           t.work.StructuredAnswer,
	}
	if last, ok := t.work.LastTurn(); ok && last.Role == domain.RoleAssistant {
		d.Append = append(d.Append, last)
	}
	return d
}

func (o *Orchestrator) step(ctx context.Context, node domain.Node, t *turn, log *zap.Logger) error {
	ctx, span := otel.Tracer("ragchat/orchestrator").Start(ctx, "orchestrator."+node.String())
	defer span.End()

	switch node {
	case domain.NodeRouter:
		t.decision = o.router.DecideLatest(t.work.Messages)
		log.Debug("routed", zap.Stringer("node", node), zap.Stringer("route", t.decision.Route), zap.String("rule", t.decision.Rule))
	case domain.NodeRetrieve:
		o.retrieve(ctx, t, log)
	case domain.NodeGenerate:
		return o.generate(ctx, node, t, t.work.RetrievedDocs, log)
	case domain.NodeGenerateDirect:
		// Ungrounded answers never see context, even if some is present.
		return o.generate(ctx, node, t, nil, log)
	case domain.NodeTerminal:
	default:
		return fmt.Errorf("orchestrator: unknown node %d", node)
	}
	return nil
}

func (o *Orchestrator) retrieve(ctx context.Context, t *turn, log *zap.Logger) {
	last, ok := t.work.LastTurn()
	if !ok || last.Role != domain.RoleUser || o.retriever == nil {
		t.work.RetrievedDocs = nil
		return
	}
	t.work.RetrievedDocs = o.retriever.Retrieve(ctx, last.Content, o.topK)
	log.Debug("retrieval done", zap.Stringer("node", domain.NodeRetrieve), zap.Int("results", len(t.work.RetrievedDocs)))
}

func (o *Orchestrator) generate(ctx context.Context, node domain.Node, t *turn, docs []domain.RetrievedDoc, log *zap.Logger) error {
	if o.generator == nil {
		return fmt.Errorf("orchestrator: %s: %w: no generator configured", node, domain.ErrGenerationUnreachable)
	}
	p := o.prompts.Build(t.work.Messages, docs)

	var onFragment func(string)
	if t.emit != nil {
		onFragment = func(s string) { t.emit(domain.Fragment{Node: node, Text: s}) }
	}
	raw, err := o.generator.Generate(ctx, p, onFragment)
	if err != nil {
		if !errors.Is(err, domain.ErrGenerationUnreachable) {
			err = fmt.Errorf("%w: %w", domain.ErrGenerationUnreachable, err)
		}
		return fmt.Errorf("orchestrator: %s: %w", node, err)
	}

	answer, ok := generation.ParseAnswer(raw)
	if !ok {
		log.Warn("malformed generation output, using raw text", zap.Stringer("node", node), zap.Int("raw_len", len(raw)))
	}
	t.work.Messages = append(t.work.Messages, domain.AssistantTurn(answer.Answer))
	t.work.StructuredAnswer = &answer
	return nil
}
