// Package server exposes a running network over HTTP for inspection and for feeding change
// batches. All network access is funneled through a coordinator.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/l7mp/rete/pkg/rete"
)

const (
	// DefaultAddr is the default listen address.
	DefaultAddr = ":8080"
	// ShutdownTimeout bounds the graceful shutdown of the listener.
	ShutdownTimeout = 5 * time.Second
)

// Options configures the server.
type Options struct {
	// Addr is the listen address. Defaults to DefaultAddr.
	Addr string
	// Logger is the logger to use. Defaults to a discard logger.
	Logger logr.Logger
}

// Server serves the inspection API of a network.
type Server struct {
	coord       *rete.Coordinator
	addr        string
	router      chi.Router
	logger, log logr.Logger
}

// New creates a server on top of a coordinator. The coordinator must be running for requests
// to complete.
func New(coord *rete.Coordinator, opts Options) *Server {
	logger := opts.Logger
	if logger.GetSink() == nil {
		logger = logr.Discard()
	}
	addr := opts.Addr
	if addr == "" {
		addr = DefaultAddr
	}

	s := &Server{
		coord:  coord,
		addr:   addr,
		logger: logger,
		log:    logger.WithName("server"),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.HealthCheck)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/graph.dot", s.GetGraph("dot"))
	r.Get("/graph.mmd", s.GetGraph("mermaid"))

	r.Route("/api", func(r chi.Router) {
		r.Get("/stats", s.GetStats)
		r.Get("/groups", s.ListGroups)
		r.Get("/nodes", s.ListNodes)
		r.Get("/nodes/{name}", s.GetNode)
		r.Get("/nodes/{name}/contents", s.GetContents)
		r.Get("/deliveries", s.ListDeliveries)
		r.Post("/changes", s.PostChanges)
	})
	s.router = r

	return s
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves requests until the context is canceled, then shuts the listener down.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("starting server", "addr", s.addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.V(2).Info("request", "method", r.Method, "path", r.URL.Path, "status", ww.Status(),
			"bytes", ww.BytesWritten(), "duration", time.Since(start).String(),
			"request-id", middleware.GetReqID(r.Context()))
	})
}
