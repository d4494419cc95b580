// Package httpapi exposes the assistant over HTTP: plain and streamed turns,
// session snapshots and a health check.
package httpapi

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"ragchat/internal/orchestrator"
	"ragchat/internal/session"
)

// Conversation is what the API needs from the orchestrator.
type Conversation interface {
	Run(ctx context.Context, threadID, userText string) (*orchestrator.TurnResult, error)
	Stream(ctx context.Context, threadID, userText string) *orchestrator.Stream
	Snapshot(ctx context.Context, threadID string) (session.Snapshot, error)
	StoreName() string
}

// Options configure the HTTP surface.
type Options struct {
	ServiceName    string
	AllowedOrigins []string
	RequestTimeout time.Duration
}

// Server serves the API. Turns on one thread are serialized; different threads run concurrently.
type Server struct {
	conv   Conversation
	logger *zap.Logger

	mu      sync.Mutex
	threads map[string]*threadLock
}

type threadLock struct {
	mu   sync.Mutex
	refs int
}

// New creates a Server.
func New(conv Conversation, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{conv: conv, logger: logger, threads: make(map[string]*threadLock)}
}

// Handler builds the routed, instrumented handler.
func (s *Server) Handler(opts Options) http.Handler {
	if opts.ServiceName == "" {
		opts.ServiceName = "ragserver"
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 120 * time.Second
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(opts.RequestTimeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: opts.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.health)
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/turns", s.postTurn)
		r.Post("/turns/stream", s.streamTurn)
		r.Get("/sessions/{threadID}", s.getSession)
	})

	return otelhttp.NewHandler(r, opts.ServiceName)
}

// requestLogger logs one line per request with the chi request id.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

// lock serializes turns per thread and returns the matching unlock.
func (s *Server) lock(threadID string) func() {
	s.mu.Lock()
	l, ok := s.threads[threadID]
	if !ok {
		l = &threadLock{}
		s.threads[threadID] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.threads, threadID)
		}
		s.mu.Unlock()
	}
}
