package server

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"
)

// DefaultShutdownTimeout bounds the graceful shutdown of the API server.
const DefaultShutdownTimeout = 5 * time.Second

// Service runs an HTTP handler as a supervised service. The control API
// serves on a Unix socket at Path; with an empty Path the service only
// serves the listener it was given. Each response closes its connection.
type Service struct {
	Name            string
	Path            string
	Handler         http.Handler
	ShutdownTimeout time.Duration
	Logger          *slog.Logger

	listener net.Listener
}

// NewService returns a Service serving h on an already bound listener l.
// When l is nil the socket at path is bound on the first Serve.
func NewService(path string, l net.Listener, h http.Handler, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{Name: "control-api", Path: path, Handler: h, ShutdownTimeout: DefaultShutdownTimeout, Logger: logger, listener: l}
}

func closeConnection(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Connection", "close")
		next.ServeHTTP(w, r)
	})
}

// Serve implements suture.Service. It returns ctx.Err() after a graceful
// shutdown and an error when the server fails.
func (s *Service) Serve(ctx context.Context) error {
	l := s.listener
	s.listener = nil
	if l == nil {
		if s.Path == "" {
			return errors.New("no listener and no socket path")
		}
		var err error
		if l, err = Listen(s.Path); err != nil {
			return err
		}
	}
	srv := &http.Server{
		Handler:           closeConnection(s.Handler),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// actions wait for scripts, which may run for a minute
		WriteTimeout: 2 * time.Minute,
		ErrorLog:     slog.NewLogLogger(s.Logger.Handler(), slog.LevelDebug),
	}
	srv.SetKeepAlivesEnabled(false)

	errCh := make(chan error, 1)
	go func() {
		s.Logger.Info("http service listening", "service", s.String(), "addr", l.Addr().String())
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		s.removeSocket()
		if err != nil {
			return fmt.Errorf("%s failed: %w", s.String(), err)
		}
		return nil
	case <-ctx.Done():
		timeout := s.ShutdownTimeout
		if timeout <= 0 {
			timeout = DefaultShutdownTimeout
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		<-errCh
		s.removeSocket()
		s.Logger.Info("http service stopped", "service", s.String())
		if err != nil {
			return fmt.Errorf("%s shutdown: %w", s.String(), err)
		}
		return ctx.Err()
	}
}

func (s *Service) removeSocket() {
	if s.Path == "" {
		return
	}
	if err := os.Remove(s.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.Logger.Warn("failed to remove socket", "socket", s.Path, "error", err)
	}
}

func (s *Service) String() string {
	if s.Name == "" {
		return "http"
	}
	return s.Name
}
