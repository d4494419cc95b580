package orchestrator

import (
	"context"
	"sync"

	"ragchat/internal/domain"
)

const fragmentBuffer = 64

// Stream is a single-consumer view of a running turn. Fragments are advisory:
// a turn may produce none, and the authoritative outcome is always Wait.
type Stream struct {
	fragments chan domain.Fragment
	abandoned chan struct{}
	abandon   sync.Once
	done      chan struct{}

	result *TurnResult
	err    error
}

// Stream starts a turn in the background and returns its fragment stream.
func (o *Orchestrator) Stream(ctx context.Context, threadID, userText string) *Stream {
	s := &Stream{
		fragments: make(chan domain.Fragment, fragmentBuffer),
		abandoned: make(chan struct{}),
		done:      make(chan struct{}),
	}
	go func() {
		defer close(s.done)
		defer close(s.fragments)
		s.result, s.err = o.run(ctx, threadID, userText, func(f domain.Fragment) { s.emit(ctx, f) })
	}()
	return s
}

// Fragments yields streamed output until the turn finishes; it is closed afterwards.
func (s *Stream) Fragments() <-chan domain.Fragment { return s.fragments }

// Abandon stops fragment delivery. The turn keeps running; use Wait for its result.
func (s *Stream) Abandon() {
	s.abandon.Do(func() { close(s.abandoned) })
}

// Wait blocks until the turn has finished and returns its outcome.
// Fragments not yet received when Wait is called are dropped, so drain
// Fragments first to see all of them.
func (s *Stream) Wait() (*TurnResult, error) {
	s.Abandon()
	<-s.done
	return s.result, s.err
}

func (s *Stream) emit(ctx context.Context, f domain.Fragment) {
	select {
	case <-s.abandoned:
		return
	default:
	}
	select {
	case s.fragments <- f:
	case <-s.abandoned:
	case <-ctx.Done():
	}
}
