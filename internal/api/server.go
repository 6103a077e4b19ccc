// Package api provides HTTP handlers and the main API server logic for CoachPipe.
//
// It exposes the scheduler-invoked recovery run endpoint plus read-only
// surfaces for sequences, enrollments and user tags. The API integrates the
// store, recovery, dispatch and messaging modules.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/CoachPipe/internal/dispatch"
	"github.com/BTreeMap/CoachPipe/internal/messaging"
	"github.com/BTreeMap/CoachPipe/internal/models"
	"github.com/BTreeMap/CoachPipe/internal/recovery"
	"github.com/BTreeMap/CoachPipe/internal/store"
)

const (
	defaultAddr            = ":8080"
	serverReadTimeout      = 15 * time.Second
	serverWriteTimeout     = 30 * time.Second
	serverShutdownTimeout  = 10 * time.Second
	serverIdleTimeout      = 60 * time.Second
	serverMaxHeaderBytes   = 1 << 20
	serverHandlerTimeout   = 25 * time.Second
	handlerTimeoutResponse = `{"status":"error","error":"Request timed out"}`
)

// Opts holds configuration options for the API server.
type Opts struct {
	Addr       string
	CronSecret string
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address (host:port).
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithCronSecret sets the shared secret the recovery-run endpoint requires
// as a bearer token. An empty secret leaves the endpoint open.
func WithCronSecret(secret string) Option {
	return func(o *Opts) { o.CronSecret = secret }
}

// Server wires the store, evaluators and dispatcher behind HTTP handlers.
type Server struct {
	st         store.Store
	manager    *recovery.Manager
	trigger    *recovery.TriggerEvaluator
	exits      *recovery.ExitEvaluator
	dispatcher *dispatch.Dispatcher
	addr       string
	cronSecret string
}

// NewServer creates an API server over the given store and channel senders.
func NewServer(st store.Store, senders map[models.SequenceChannel]messaging.Sender, opts ...Option) *Server {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Addr == "" {
		cfg.Addr = defaultAddr
	}

	mgr := recovery.NewManager(st)
	return &Server{
		st:         st,
		manager:    mgr,
		trigger:    recovery.NewTriggerEvaluator(st, mgr),
		exits:      recovery.NewExitEvaluator(st, mgr),
		dispatcher: dispatch.NewDispatcher(st, senders),
		addr:       cfg.Addr,
		cronSecret: cfg.CronSecret,
	}
}

// Handler builds the route table. Exposed separately so tests can drive the
// mux without a listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/recovery/run", s.recoveryRunHandler)
	mux.HandleFunc("/dispatch/run", s.dispatchRunHandler)
	mux.HandleFunc("GET /sequences", s.sequencesHandler)
	mux.HandleFunc("GET /sequences/{slug}/enrollments", s.sequenceEnrollmentsHandler)
	mux.HandleFunc("GET /users/{id}/tags", s.userTagsHandler)
	mux.HandleFunc("POST /milestones/preview", s.milestonePreviewHandler)
	mux.HandleFunc("GET /health", s.healthHandler)
	return http.TimeoutHandler(mux, serverHandlerTimeout, handlerTimeoutResponse)
}

// Run starts the HTTP server and blocks until the context is canceled, then
// shuts the listener down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:           s.addr,
		Handler:        s.Handler(),
		ReadTimeout:    serverReadTimeout,
		WriteTimeout:   serverWriteTimeout,
		IdleTimeout:    serverIdleTimeout,
		MaxHeaderBytes: serverMaxHeaderBytes,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Run: API listening", "addr", s.addr, "auth", s.cronSecret != "")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("API server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server.Run: graceful shutdown failed", "error", err)
			return fmt.Errorf("shutdown failed: %w", err)
		}
		slog.Info("Server.Run: API stopped")
		return nil
	}
}
