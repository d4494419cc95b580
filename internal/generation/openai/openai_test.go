package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"ragchat/internal/domain"
)

type chatRequest struct {
	Model       string  `json:"model"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float32 `json:"temperature"`
	Stream      bool    `json:"stream"`
	Messages    []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	t.Setenv("TEST_GEN_KEY", "secret")
	c, err := NewClient(Config{
		BaseURL:     srv.URL + "/v1",
		APIKeyEnv:   "TEST_GEN_KEY",
		Model:       "test-model",
		Temperature: 0.2,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	return c
}

func TestNewClient_RequiresKeyWhenConfigured(t *testing.T) {
	t.Setenv("EMPTY_GEN_KEY", "")
	_, err := NewClient(Config{APIKeyEnv: "EMPTY_GEN_KEY"}, nil)
	assert.Error(t, err)

	_, err = NewClient(Config{BaseURL: "http://localhost:11434/v1"}, nil)
	assert.NoError(t, err, "no key needed for local servers")
}

func TestGenerate_OneShot(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)
		assert.Equal(t, 512, req.MaxTokens)
		assert.InDelta(t, 0.2, req.Temperature, 1e-6)
		assert.False(t, req.Stream)
		require.Len(t, req.Messages, 1)
		assert.Equal(t, "user", req.Messages[0].Role)
		assert.Equal(t, "PROMPT", req.Messages[0].Content)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": "c1", "object": "chat.completion", "model": "test-model",
			"choices": []map[string]any{{
				"index": 0, "finish_reason": "stop",
				"message": map[string]any{"role": "assistant", "content": `{"answer":"hi","sources":[]}`},
			}},
		})
	})

	out, err := c.Generate(context.Background(), "PROMPT", nil)
	require.NoError(t, err)
	assert.Equal(t, `{"answer":"hi","sources":[]}`, out)
}

func TestGenerate_Streams(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Stream)

		w.Header().Set("Content-Type", "text/event-stream")
		for _, part := range []string{`{"answer":`, `"streamed",`, ``, `"sources":[]}`} {
			chunk := map[string]any{
				"id": "c1", "object": "chat.completion.chunk", "model": "test-model",
				"choices": []map[string]any{{"index": 0, "delta": map[string]any{"content": part}}},
			}
			data, _ := json.Marshal(chunk)
			fmt.Fprintf(w, "data: %s\n\n", data)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	var fragments []string
	out, err := c.Generate(context.Background(), "PROMPT", func(s string) { fragments = append(fragments, s) })
	require.NoError(t, err)
	assert.Equal(t, `{"answer":"streamed","sources":[]}`, out)
	assert.Equal(t, []string{`{"answer":`, `"streamed",`, `"sources":[]}`}, fragments)
}

func TestGenerate_BackendFailure(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"message":"overloaded","type":"server_error"}}`))
	})

	_, err := c.Generate(context.Background(), "PROMPT", nil)
	assert.ErrorIs(t, err, domain.ErrGenerationUnreachable)

	_, err = c.Generate(context.Background(), "PROMPT", func(string) {})
	assert.ErrorIs(t, err, domain.ErrGenerationUnreachable)
}

func TestGenerate_NoChoices(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","choices":[]}`))
	})
	_, err := c.Generate(context.Background(), "PROMPT", nil)
	assert.ErrorIs(t, err, domain.ErrGenerationUnreachable)
}

func TestGenerate_CancelledContext(t *testing.T) {
	c := newTestClient(t, func(http.ResponseWriter, *http.Request) {})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Generate(ctx, "PROMPT", nil)
	assert.ErrorIs(t, err, domain.ErrGenerationUnreachable)
}
