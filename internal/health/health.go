package health

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"fare-alerts/internal/logging"
)

const shutdownTimeout = 5 * time.Second

// Server answers liveness probes from the hosting platform.
type Server struct {
	addr    string
	started time.Time
	ticks   atomic.Uint64
	logger  zerolog.Logger
}

// NewServer constructs a responder bound to addr once Run is called.
func NewServer(addr string, logger zerolog.Logger) *Server {
	return &Server{
		addr:    addr,
		started: time.Now(),
		logger:  logging.Component(logger, "health"),
	}
}

// RecordTick bumps the completed tick counter reported by /status.
func (s *Server) RecordTick() {
	s.ticks.Add(1)
}

// Handler returns the router; exposed for tests.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/", s.ok)
	r.Head("/", s.ok)
	r.Get("/healthz", s.ok)
	r.Get("/status", s.status)
	return r
}

func (s *Server) ok(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		_, _ = w.Write([]byte("ok"))
	}
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "uptime %s\nticks %d\n", time.Since(s.started).Truncate(time.Second), s.ticks.Load())
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("health listen %s: %w", s.addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("health responder listening")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("health shutdown: %w", err)
	}
	<-errCh
	s.logger.Info().Msg("health responder stopped")
	return nil
}
