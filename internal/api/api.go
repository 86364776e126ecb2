// Package api hosts the conversation and typewriter engines behind HTTP and
// websocket endpoints for the portfolio front end.
package api

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"time"

	"github.com/BTreeMap/PortfolioChat/internal/conversation"
	"github.com/BTreeMap/PortfolioChat/internal/scheduler"
	"github.com/BTreeMap/PortfolioChat/internal/script"
	"github.com/BTreeMap/PortfolioChat/internal/store"
	"github.com/BTreeMap/PortfolioChat/internal/timer"
	"github.com/gorilla/websocket"
)

const (
	// DefaultAddr is the listen address when none is configured.
	DefaultAddr = ":8080"
	// DefaultShutdownTimeout bounds graceful shutdown of in-flight requests.
	DefaultShutdownTimeout = 10 * time.Second
)

// JobLister reports scheduled background jobs.
type JobLister interface {
	Jobs() []scheduler.JobInfo
}

// Opts holds configuration options for the API server.
type Opts struct {
	Addr            string
	AllowedOrigins  []string // websocket origins; empty allows any
	ShutdownTimeout time.Duration
	Transcripts     store.TranscriptRepo
	Jobs            JobLister
	Timer           timer.Timer
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) {
		o.Addr = addr
	}
}

// WithAllowedOrigins restricts websocket upgrades to the given origins.
func WithAllowedOrigins(origins ...string) Option {
	return func(o *Opts) {
		o.AllowedOrigins = origins
	}
}

// WithShutdownTimeout sets how long Run waits for in-flight requests.
func WithShutdownTimeout(d time.Duration) Option {
	return func(o *Opts) {
		o.ShutdownTimeout = d
	}
}

// WithTranscripts exposes archived transcripts under /transcripts.
func WithTranscripts(repo store.TranscriptRepo) Option {
	return func(o *Opts) {
		o.Transcripts = repo
	}
}

// WithJobs exposes scheduled jobs under /debug/jobs.
func WithJobs(jobs JobLister) Option {
	return func(o *Opts) {
		o.Jobs = jobs
	}
}

// WithTimer sets the timer driving typewriter streams. It defaults to the
// conversation engine's timer.
func WithTimer(t timer.Timer) Option {
	return func(o *Opts) {
		o.Timer = t
	}
}

// Server serves the chat and typewriter endpoints.
type Server struct {
	manager  *conversation.Manager
	script   *script.Script
	opts     Opts
	timer    timer.Timer
	upgrader websocket.Upgrader
}

// NewServer creates a Server over manager using sc for typewriter phrases
// and preset prompts.
func NewServer(manager *conversation.Manager, sc *script.Script, opts ...Option) *Server {
	o := Opts{Addr: DefaultAddr, ShutdownTimeout: DefaultShutdownTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	if sc == nil {
		sc = script.Default()
	}
	s := &Server{manager: manager, script: sc, opts: o, timer: o.Timer}
	if s.timer == nil {
		s.timer = manager.Engine().Timer()
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.opts.AllowedOrigins) == 0 {
		return true
	}
	return slices.Contains(s.opts.AllowedOrigins, r.Header.Get("Origin"))
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.healthHandler)
	mux.HandleFunc("GET /script", s.scriptHandler)
	mux.HandleFunc("GET /typewriter/ws", s.typewriterWSHandler)

	mux.HandleFunc("POST /chat/conversations", s.openConversationHandler)
	mux.HandleFunc("GET /chat/conversations", s.listConversationsHandler)
	mux.HandleFunc("GET /chat/conversations/{id}", s.getConversationHandler)
	mux.HandleFunc("POST /chat/conversations/{id}/messages", s.submitMessageHandler)
	mux.HandleFunc("DELETE /chat/conversations/{id}", s.closeConversationHandler)
	mux.HandleFunc("GET /chat/conversations/{id}/ws", s.conversationWSHandler)

	mux.HandleFunc("GET /transcripts", s.listTranscriptsHandler)
	mux.HandleFunc("GET /transcripts/{id}", s.getTranscriptHandler)

	mux.HandleFunc("GET /debug/timers", s.timersHandler)
	mux.HandleFunc("GET /debug/jobs", s.jobsHandler)

	return logRequests(mux)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Run: listening", "addr", s.opts.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	slog.Info("Server.Run: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

// statusRecorder captures the status code for request logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Hijack lets websocket upgrades through the logging middleware.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer %T does not support hijacking", r.ResponseWriter)
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		slog.Debug("Server: request", "method", r.Method, "path", r.URL.Path, "status", rec.status, "duration", time.Since(start))
	})
}
