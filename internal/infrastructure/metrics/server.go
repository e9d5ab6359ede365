package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	readHeaderTimeout = 5 * time.Second
	healthTimeout     = 2 * time.Second
)

// HealthFunc reports whether the service is healthy. A nil error is
// served as 200 "ok", anything else as 503 with the error text.
type HealthFunc func(ctx context.Context) error

// Server serves /health and the Prometheus registry over HTTP.
type Server struct {
	srv *http.Server

	mu       sync.Mutex
	listener net.Listener
	serveErr chan error
}

// NewServer builds a server for addr. path defaults to /metrics; a nil
// health func always reports ok.
func NewServer(addr, path string, registry *prometheus.Registry, health HealthFunc) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           Handler(path, registry, health),
			ReadHeaderTimeout: readHeaderTimeout,
		},
		serveErr: make(chan error, 1),
	}
}

// Handler returns the mux used by Server.
func Handler(path string, registry *prometheus.Registry, health HealthFunc) http.Handler {
	if path == "" {
		path = "/metrics"
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if health != nil {
			ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
			defer cancel()
			if err := health(ctx); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle(path, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	return mux
}

// Start binds the listen address and serves in the background. Serve
// errors other than a clean shutdown are delivered on Err.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("metrics listen %s: %w", s.srv.Addr, err)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.serveErr <- err
		}
		close(s.serveErr)
	}()

	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.srv.Addr
}

// Err is closed when the server stops serving; it carries the serve
// error first if there was one.
func (s *Server) Err() <-chan error {
	return s.serveErr
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("metrics shutdown: %w", err)
	}
	return nil
}
