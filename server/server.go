// Package server exposes the agent over HTTP.
package server

import (
	"context"
	"iter"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
	"go.uber.org/zap"

	"github.com/martinemde/termagent/agentloop"
	"github.com/martinemde/termagent/shell"
)

// Agent is the part of agentloop.Agent the server uses.
type Agent interface {
	Chat(ctx context.Context, conversationID, text string) (agentloop.Reply, error)
	Stream(ctx context.Context, conversationID, text string) iter.Seq[agentloop.Event]
	Clear(conversationID string)
	ClearAll()
	Status() agentloop.Status
}

// Shell is the part of shell.Controller the server uses.
type Shell interface {
	Status() shell.Status
	Restart() error
}

// Options configures request limits and CORS.
type Options struct {
	Provider         string
	MaxMessageLength int
	EnableCORS       bool
	AllowedOrigins   []string
}

// Server routes the /api endpoints.
type Server struct {
	agent    Agent
	shell    Shell
	opts     Options
	logger   *zap.Logger
	validate *validator.Validate
	started  time.Time
	handler  http.Handler
}

// New creates a server. A non-positive MaxMessageLength means 1000.
func New(agent Agent, sh Shell, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxMessageLength <= 0 {
		opts.MaxMessageLength = 1000
	}

	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("notblank", validators.NotBlank)

	s := &Server{
		agent:    agent,
		shell:    sh,
		opts:     opts,
		logger:   logger.Named("http"),
		validate: v,
		started:  time.Now(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("POST /api/stream", s.handleStream)
	mux.HandleFunc("POST /api/clear", s.handleClear)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("POST /api/session/restart", s.handleRestart)
	mux.HandleFunc("/", s.handleNotFound)

	middlewares := []func(http.Handler) http.Handler{s.withRecover, s.withLogging}
	if opts.EnableCORS {
		middlewares = append(middlewares, withCORS(opts.AllowedOrigins))
	}
	s.handler = chainMiddlewares(mux, middlewares...)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// HTTPServer wraps s in an http.Server listening on addr. WriteTimeout is
// left unset so streams can outlive it.
func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
}
