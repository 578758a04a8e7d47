package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/kbrag-go/internal/chat"
	"github.com/54b3r/kbrag-go/internal/rag"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response. It must
	// cover a synchronous admin rebuild.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// QueryTimeout bounds each /api/retrieve call (default: 10s).
	QueryTimeout time.Duration
	// GenerateTimeout bounds each /api/generate call (default: 2m).
	GenerateTimeout time.Duration
	// RebuildTimeout bounds POST /api/admin/rebuild and /api/admin/drop (default: 30m).
	RebuildTimeout time.Duration
	// DefaultTopK is used when a retrieve request omits top_k (default: 5).
	DefaultTopK int
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [logging.New] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on rate-limited
	// endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// ServiceName names the OpenTelemetry server spans (default: "kbrag").
	ServiceName string
	// MetricsRegistry receives the server's metrics. Defaults to
	// prometheus.DefaultRegisterer.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer backs GET /metrics. Defaults to prometheus.DefaultGatherer.
	MetricsGatherer prometheus.Gatherer
}

// Index is the retrieval surface the handlers call. *rag.Service satisfies it.
type Index interface {
	Retrieve(ctx context.Context, query string, topK int) ([]rag.Result, error)
	Drop(ctx context.Context) error
	Scan(ctx context.Context, limit int) ([]rag.Entry, error)
	Status() rag.Status
}

// Generator answers grounded chat turns. *chat.Assistant satisfies it.
type Generator interface {
	Generate(ctx context.Context, req chat.Request) (*chat.Response, error)
}

// RebuildFunc rebuilds the index from the configured corpus.
type RebuildFunc func(ctx context.Context) (rag.GenerationInfo, error)

// Deps are the collaborators the handlers delegate to.
type Deps struct {
	// Index is required.
	Index Index
	// Generator enables POST /api/generate. Nil disables the route with 503.
	Generator Generator
	// Rebuild enables POST /api/admin/rebuild. Nil disables the route with 503.
	Rebuild RebuildFunc
}

// Server is the kbrag HTTP API.
type Server struct {
	// deps holds the retrieval, generation and rebuild collaborators.
	deps Deps
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// handler is the fully wrapped root handler.
	handler http.Handler
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// metrics holds the Prometheus collectors owned by the server.
	metrics *serverMetrics
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}

// retrieveRequest is the JSON body for POST /api/retrieve.
type retrieveRequest struct {
	// Query is the free-text query.
	Query string `json:"query" validate:"required"`
	// TopK is the number of passages wanted; zero means the server default.
	TopK int `json:"top_k" validate:"gte=0,lte=1000"`
}

// retrieveResponse is the JSON response for POST /api/retrieve.
type retrieveResponse struct {
	Results []rag.Result `json:"results"`
	Count   int          `json:"count"`
	// Index is the name of the generation that served the query.
	Index string `json:"index,omitempty"`
}

// chatMessage is one entry of a message-list generate body.
type chatMessage struct {
	Role    string `json:"role" validate:"required,oneof=system user assistant"`
	Content string `json:"content"`
}

// generateRequest is the object form of the POST /api/generate body. The
// body may also be a bare JSON array of chatMessage.
type generateRequest struct {
	// Message is a single question.
	Message string `json:"message" validate:"required_without=Messages"`
	// SessionID keys persisted history for single-question requests.
	SessionID string `json:"session_id" validate:"omitempty,max=128"`
	// Messages is a caller-managed conversation.
	Messages []chatMessage `json:"messages" validate:"omitempty,dive"`
}

// generateResponse is the JSON response for POST /api/generate.
type generateResponse struct {
	StatusCode int          `json:"statusCode"`
	Response   string       `json:"response"`
	Sources    []rag.Result `json:"sources"`
}

// scanResponse is the JSON response for GET /api/admin/scan.
type scanResponse struct {
	Entries []rag.Entry `json:"entries"`
	Count   int         `json:"count"`
}

// errorResponse is the JSON body of every error reply.
type errorResponse struct {
	Error string `json:"error"`
}
