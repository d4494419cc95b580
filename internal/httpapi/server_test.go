package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"ragchat/internal/domain"
	"ragchat/internal/orchestrator"
)

type scriptedGenerator struct {
	mu     sync.Mutex
	pieces []string
	err    error
}

func (g *scriptedGenerator) Generate(_ context.Context, _ string, onFragment func(string)) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return "", g.err
	}
	var b strings.Builder
	for _, p := range g.pieces {
		if onFragment != nil {
			onFragment(p)
		}
		b.WriteString(p)
	}
	return b.String(), nil
}

type staticRetriever struct{}

func (staticRetriever) Retrieve(context.Context, string, int) []domain.RetrievedDoc {
	return []domain.RetrievedDoc{{Text: "Petrel is a platform.", Source: "petrel.txt", Distance: 0.1}}
}

func newTestServer(t *testing.T, gen *scriptedGenerator) *httptest.Server {
	t.Helper()
	orch := orchestrator.New(orchestrator.Deps{
		Retriever: staticRetriever{},
		Generator: gen,
	}, zaptest.NewLogger(t))
	srv := httptest.NewServer(New(orch, zaptest.NewLogger(t)).Handler(Options{}))
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, &scriptedGenerator{})
	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "memory", body["sessions"])
}

func TestPostTurn_NewThreadThenSnapshot(t *testing.T) {
	gen := &scriptedGenerator{pieces: []string{`{"answer":"Petrel is a platform.","sources":["petrel.txt"]}`}}
	srv := newTestServer(t, gen)

	resp := postJSON(t, srv.URL+"/api/v1/turns", `{"user_text":"What is Petrel?"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var turn struct {
		ThreadID string   `json:"thread_id"`
		Route    string   `json:"route"`
		Path     []string `json:"path"`
		Answer   struct {
			Answer  string   `json:"answer"`
			Sources []string `json:"sources"`
		} `json:"structured_answer"`
		RetrievedDocs []domain.RetrievedDoc `json:"retrieved_docs"`
		Snapshot      struct {
			NumMessages int `json:"num_messages"`
		} `json:"snapshot"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&turn))
	assert.Regexp(t, `^web-[0-9a-f]{8}$`, turn.ThreadID)
	assert.Equal(t, "retrieve", turn.Route)
	assert.Equal(t, []string{"router", "retrieve", "generate", "terminal"}, turn.Path)
	assert.Equal(t, "Petrel is a platform.", turn.Answer.Answer)
	assert.Equal(t, []string{"petrel.txt"}, turn.Answer.Sources)
	require.Len(t, turn.RetrievedDocs, 1)
	assert.Equal(t, 2, turn.Snapshot.NumMessages)

	sresp, err := http.Get(srv.URL + "/api/v1/sessions/" + turn.ThreadID)
	require.NoError(t, err)
	defer sresp.Body.Close()
	var snap struct {
		ThreadID string `json:"thread_id"`
		Snapshot struct {
			NumMessages     int     `json:"num_messages"`
			LastUserMessage *string `json:"last_user_message"`
		} `json:"snapshot"`
	}
	require.NoError(t, json.NewDecoder(sresp.Body).Decode(&snap))
	assert.Equal(t, turn.ThreadID, snap.ThreadID)
	assert.Equal(t, 2, snap.Snapshot.NumMessages)
	require.NotNil(t, snap.Snapshot.LastUserMessage)
	assert.Equal(t, "What is Petrel?", *snap.Snapshot.LastUserMessage)
}

func TestPostTurn_FarewellTerminates(t *testing.T) {
	gen := &scriptedGenerator{pieces: []string{`{"answer":"Hello!","sources":[]}`}}
	srv := newTestServer(t, gen)

	resp := postJSON(t, srv.URL+"/api/v1/turns", `{"thread_id":"t1","user_text":"hello"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = postJSON(t, srv.URL+"/api/v1/turns", `{"thread_id":"t1","user_text":"bye"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var turn struct {
		Terminated bool            `json:"terminated"`
		Route      string          `json:"route"`
		Answer     json.RawMessage `json:"structured_answer"`
		Snapshot   struct {
			NumMessages int `json:"num_messages"`
		} `json:"snapshot"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&turn))
	assert.True(t, turn.Terminated)
	assert.Equal(t, "terminate", turn.Route)
	assert.JSONEq(t, "null", string(turn.Answer))
	assert.Equal(t, 2, turn.Snapshot.NumMessages, "farewell is not recorded")
}

func TestPostTurn_Errors(t *testing.T) {
	cases := []struct {
		name   string
		body   string
		gen    *scriptedGenerator
		status int
		code   string
	}{
		{"malformed body", `{"user_text":`, &scriptedGenerator{}, http.StatusBadRequest, "bad_request"},
		{"missing text", `{"thread_id":"t1"}`, &scriptedGenerator{}, http.StatusBadRequest, "validation_error"},
		{"blank text", `{"user_text":"   "}`, &scriptedGenerator{}, http.StatusBadRequest, "bad_request"},
		{"backend down", `{"user_text":"What is Petrel?"}`,
			&scriptedGenerator{err: errors.New("connection refused")}, http.StatusBadGateway, "generation_unavailable"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := newTestServer(t, tc.gen)
			resp := postJSON(t, srv.URL+"/api/v1/turns", tc.body)
			assert.Equal(t, tc.status, resp.StatusCode)
			var body ErrorResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, tc.code, body.Error)
			if tc.code == "validation_error" {
				assert.Contains(t, body.Details, "UserText")
			}
		})
	}
}

func TestPostTurn_FailureCommitsNothing(t *testing.T) {
	gen := &scriptedGenerator{err: errors.New("timeout")}
	srv := newTestServer(t, gen)

	resp := postJSON(t, srv.URL+"/api/v1/turns", `{"thread_id":"t9","user_text":"What is Petrel?"}`)
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)

	sresp, err := http.Get(srv.URL + "/api/v1/sessions/t9")
	require.NoError(t, err)
	defer sresp.Body.Close()
	var snap struct {
		Snapshot struct {
			NumMessages int `json:"num_messages"`
		} `json:"snapshot"`
	}
	require.NoError(t, json.NewDecoder(sresp.Body).Decode(&snap))
	assert.Zero(t, snap.Snapshot.NumMessages)
}

type sseEvent struct {
	name string
	data string
}

func readEvents(t *testing.T, resp *http.Response) []sseEvent {
	t.Helper()
	var (
		out []sseEvent
		cur sseEvent
	)
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			cur.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			cur.data = strings.TrimPrefix(line, "data: ")
		case line == "":
			if cur.name != "" {
				out = append(out, cur)
			}
			cur = sseEvent{}
		}
	}
	require.NoError(t, sc.Err())
	return out
}

func TestStreamTurn_FragmentsThenResult(t *testing.T) {
	gen := &scriptedGenerator{pieces: []string{`{"answer":"Pet`, `rel is a platform.",`, `"sources":["petrel.txt"]}`}}
	srv := newTestServer(t, gen)

	resp := postJSON(t, srv.URL+"/api/v1/turns/stream", `{"thread_id":"s1","user_text":"What is Petrel?"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	evs := readEvents(t, resp)
	require.Len(t, evs, 4)
	var text strings.Builder
	for _, ev := range evs[:3] {
		require.Equal(t, "fragment", ev.name)
		var f struct {
			Node string `json:"node"`
			Text string `json:"text"`
		}
		require.NoError(t, json.Unmarshal([]byte(ev.data), &f))
		assert.Equal(t, "generate", f.Node)
		text.WriteString(f.Text)
	}
	assert.Equal(t, `{"answer":"Petrel is a platform.","sources":["petrel.txt"]}`, text.String())

	require.Equal(t, "result", evs[3].name)
	var res struct {
		ThreadID string                   `json:"thread_id"`
		Answer   *domain.StructuredAnswer `json:"structured_answer"`
	}
	require.NoError(t, json.Unmarshal([]byte(evs[3].data), &res))
	assert.Equal(t, "s1", res.ThreadID)
	require.NotNil(t, res.Answer)
	assert.Equal(t, "Petrel is a platform.", res.Answer.Answer)
}

func TestStreamTurn_ErrorEvent(t *testing.T) {
	srv := newTestServer(t, &scriptedGenerator{err: errors.New("boom")})

	resp := postJSON(t, srv.URL+"/api/v1/turns/stream", `{"user_text":"What is Petrel?"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	evs := readEvents(t, resp)
	require.Len(t, evs, 1)
	assert.Equal(t, "error", evs[0].name)
	var body ErrorResponse
	require.NoError(t, json.Unmarshal([]byte(evs[0].data), &body))
	assert.Equal(t, "generation_unavailable", body.Error)
}

func TestStreamTurn_RejectsBeforeStreaming(t *testing.T) {
	srv := newTestServer(t, &scriptedGenerator{})
	resp := postJSON(t, srv.URL+"/api/v1/turns/stream", `{"user_text":""}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
}

func TestThreadLock_Released(t *testing.T) {
	s := New(nil, nil)
	unlock := s.lock("a")
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.lock("a")()
	}()
	unlock()
	<-done

	s.mu.Lock()
	defer s.mu.Unlock()
	assert.Empty(t, s.threads)
}
