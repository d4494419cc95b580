// Package session stores per-thread conversation state.
//
// Stores hand out deep copies: callers never hold an alias of the stored
// message log, so the log can only grow through Apply.
package session

import (
	"context"

	"ragchat/internal/domain"
)

// Store is keyed by thread id. A thread never seen before reads as an empty State.
// Different threads may be used concurrently; one thread is assumed to have a single writer.
type Store interface {
	Get(ctx context.Context, threadID string) (domain.State, error)
	Apply(ctx context.Context, threadID string, d Delta) (domain.State, error)
	// Name identifies the implementation in startup logs.
	Name() string
	Close() error
}

// Delta is an incremental update to a thread's State.
type Delta struct {
	// Append is added to the end of Messages.
	Append []domain.Turn
	// ReplaceRetrieved swaps RetrievedDocs for Retrieved (nil clears it).
	ReplaceRetrieved bool
	Retrieved        []domain.RetrievedDoc
	// Answer, when set, becomes the StructuredAnswer.
	Answer *domain.StructuredAnswer
}

// ApplyTo returns s with d applied. s is not modified.
func (d Delta) ApplyTo(s domain.State) domain.State {
	out := s.Clone()
	out.Messages = append(out.Messages, d.Append...)
	if d.ReplaceRetrieved {
		out.RetrievedDocs = nil
		if len(d.Retrieved) > 0 {
			out.RetrievedDocs = append([]domain.RetrievedDoc{}, d.Retrieved...)
		}
	}
	if d.Answer != nil {
		out.StructuredAnswer = d.Answer.Clone()
	}
	return out
}
