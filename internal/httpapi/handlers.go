package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"ragchat/internal/domain"
	"ragchat/internal/orchestrator"
	"ragchat/internal/session"
)

var errBadBody = errors.New("malformed request body")

// TurnRequest submits one user message. An empty ThreadID starts a new thread.
type TurnRequest struct {
	ThreadID string `json:"thread_id" validate:"omitempty,max=128,printascii"`
	UserText string `json:"user_text" validate:"required,max=8000"`
}

// TurnResponse is the outcome of a committed (or terminating) turn.
type TurnResponse struct {
	ThreadID      string                   `json:"thread_id"`
	Route         domain.Route             `json:"route"`
	Rule          string                   `json:"rule"`
	Path          []domain.Node            `json:"path"`
	Terminated    bool                     `json:"terminated"`
	Answer        *domain.StructuredAnswer `json:"structured_answer"`
	RetrievedDocs []domain.RetrievedDoc    `json:"retrieved_docs"`
	Snapshot      session.Snapshot         `json:"snapshot"`
}

func newTurnResponse(res *orchestrator.TurnResult) TurnResponse {
	out := TurnResponse{
		ThreadID:      res.ThreadID,
		Route:         res.Route,
		Rule:          res.Rule,
		Path:          res.Path,
		Terminated:    res.Terminated,
		RetrievedDocs: res.State.RetrievedDocs,
		Snapshot:      session.Summarize(res.State),
	}
	if !res.Terminated {
		out.Answer = res.State.StructuredAnswer
	}
	return out
}

func newThreadID() string {
	return "web-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

func decodeTurn(r *http.Request) (TurnRequest, error) {
	var req TurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return req, fmt.Errorf("%w: %v", errBadBody, err)
	}
	if err := ValidateStruct(req); err != nil {
		return req, err
	}
	if strings.TrimSpace(req.UserText) == "" {
		return req, domain.ErrEmptyInput
	}
	if req.ThreadID == "" {
		req.ThreadID = newThreadID()
	}
	return req, nil
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	_ = writeJSON(w, http.StatusOK, map[string]string{
		"status":   "ok",
		"sessions": s.conv.StoreName(),
	})
}

func (s *Server) postTurn(w http.ResponseWriter, r *http.Request) {
	req, err := decodeTurn(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	unlock := s.lock(req.ThreadID)
	res, err := s.conv.Run(r.Context(), req.ThreadID, req.UserText)
	unlock()
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := writeJSON(w, http.StatusOK, newTurnResponse(res)); err != nil {
		s.logger.Error("failed to write turn response", zap.Error(err))
	}
}

// streamTurn answers with server-sent events: zero or more "fragment" events
// followed by exactly one "result" or "error" event. A client that goes away
// abandons the stream; the turn itself still completes and is committed.
func (s *Server) streamTurn(w http.ResponseWriter, r *http.Request) {
	req, err := decodeTurn(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, errors.New("streaming not supported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	unlock := s.lock(req.ThreadID)
	defer unlock()

	log := s.logger.With(zap.String("thread_id", req.ThreadID))
	st := s.conv.Stream(context.WithoutCancel(r.Context()), req.ThreadID, req.UserText)
	frags := st.Fragments()
	for frags != nil {
		select {
		case f, ok := <-frags:
			if !ok {
				frags = nil
				continue
			}
			if err := writeEvent(w, flusher, "fragment", f); err != nil {
				log.Debug("client write failed, abandoning stream", zap.Error(err))
				st.Abandon()
			}
		case <-r.Context().Done():
			st.Abandon()
			_, err := st.Wait()
			log.Info("client went away mid-turn", zap.Error(err))
			return
		}
	}

	res, err := st.Wait()
	if err != nil {
		_, body := errorFor(err)
		if werr := writeEvent(w, flusher, "error", body); werr != nil {
			log.Debug("failed to write error event", zap.Error(werr))
		}
		if !errors.Is(err, domain.ErrGenerationUnreachable) {
			log.Error("streamed turn failed", zap.Error(err))
		}
		return
	}
	if err := writeEvent(w, flusher, "result", newTurnResponse(res)); err != nil {
		log.Debug("failed to write result event", zap.Error(err))
	}
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "threadID")
	snap, err := s.conv.Snapshot(r.Context(), threadID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	_ = writeJSON(w, http.StatusOK, map[string]any{
		"thread_id": threadID,
		"snapshot":  snap,
	})
}
