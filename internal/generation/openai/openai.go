// Package openai implements generation.Generator against any OpenAI-compatible
// chat completions endpoint, such as the Hugging Face router or a local server.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	goopenai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"ragchat/internal/domain"
)

// Config configures the chat client.
type Config struct {
	BaseURL     string
	APIKeyEnv   string
	Model       string
	MaxTokens   int
	Temperature float32
	Timeout     time.Duration
	// RequestsPerSecond limits calls client-side; zero disables the limiter.
	RequestsPerSecond float64
	Burst             int
}

// Client sends the whole prompt as a single user message.
type Client struct {
	client      *goopenai.Client
	model       string
	maxTokens   int
	temperature float32
	limiter     *rate.Limiter
	logger      *zap.Logger
}

// NewClient creates a chat client. When APIKeyEnv is set the variable must be non-empty.
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var key string
	if cfg.APIKeyEnv != "" {
		key = os.Getenv(cfg.APIKeyEnv)
		if key == "" {
			return nil, fmt.Errorf("missing API key in env %s", cfg.APIKeyEnv)
		}
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://router.huggingface.co/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "meta-llama/Meta-Llama-3.1-8B-Instruct"
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 512
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	oc := goopenai.DefaultConfig(key)
	oc.BaseURL = cfg.BaseURL
	oc.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return &Client{
		client:      goopenai.NewClientWithConfig(oc),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		limiter:     limiter,
		logger:      logger,
	}, nil
}

func (c *Client) request(prompt string, stream bool) goopenai.ChatCompletionRequest {
	return goopenai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    []goopenai.ChatCompletionMessage{{Role: goopenai.ChatMessageRoleUser, Content: prompt}},
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
		Stream:      stream,
	}
}

// Generate returns the model's reply to prompt. With onFragment set the reply
// is streamed and each content delta is forwarded as it arrives.
func (c *Client) Generate(ctx context.Context, prompt string, onFragment func(string)) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", unreachable("rate limit wait", err)
	}
	start := time.Now()
	if onFragment == nil {
		resp, err := c.client.CreateChatCompletion(ctx, c.request(prompt, false))
		if err != nil {
			return "", unreachable("chat completion", err)
		}
		if len(resp.Choices) == 0 {
			return "", unreachable("chat completion", errors.New("no choices returned"))
		}
		c.logger.Debug("generation done", zap.Duration("took", time.Since(start)), zap.Int("completion_tokens", resp.Usage.CompletionTokens))
		return resp.Choices[0].Message.Content, nil
	}

	stream, err := c.client.CreateChatCompletionStream(ctx, c.request(prompt, true))
	if err != nil {
		return "", unreachable("open stream", err)
	}
	defer stream.Close()

	var sb strings.Builder
	fragments := 0
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", unreachable("stream", err)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		sb.WriteString(delta)
		fragments++
		onFragment(delta)
	}
	c.logger.Debug("generation streamed", zap.Duration("took", time.Since(start)), zap.Int("fragments", fragments))
	return sb.String(), nil
}

func unreachable(op string, err error) error {
	return fmt.Errorf("generation: %s: %w: %v", op, domain.ErrGenerationUnreachable, err)
}
