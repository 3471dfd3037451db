package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/MrWong99/telecaller/internal/observe"
)

// shutdownTimeout bounds the graceful stop of [Server.Run].
const shutdownTimeout = 5 * time.Second

// Server serves a [Handler] behind the tracing and request-duration
// middleware of package observe.
type Server struct {
	srv *http.Server
}

// NewServer builds a server for addr. m may be nil, in which case requests
// are served without instrumentation.
func NewServer(addr string, h *Handler, m *observe.Metrics) *Server {
	mux := http.NewServeMux()
	h.Register(mux)

	var handler http.Handler = mux
	if m != nil {
		handler = observe.Middleware(m)(mux)
	}
	return &Server{srv: &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}}
}

// Run listens and serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("health: listen %s: %w", s.srv.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is like Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	slog.Info("health endpoints listening", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("health: serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("health: shutdown: %w", err)
	}
	return nil
}
