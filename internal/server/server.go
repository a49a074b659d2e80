// Package server exposes the feed session over HTTP.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/lensfeed/lensfeed/internal/feed"
	"github.com/lensfeed/lensfeed/internal/models"
)

const (
	readHeaderTimeout = 5 * time.Second
	readTimeout       = 10 * time.Second
	writeTimeout      = 30 * time.Second
	idleTimeout       = 60 * time.Second
	shutdownTimeout   = 10 * time.Second
)

// Feed is the slice of the session the handlers need.
type Feed interface {
	Snapshot() []models.FeedEvent
	LoadOlder(ctx context.Context, pageSize int) (feed.PageResult, error)
	Profile(ctx context.Context, author string) (models.Profile, bool)
}

type Server struct {
	feed   Feed
	logger *slog.Logger
	mux    *http.ServeMux
}

func New(f Feed, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{feed: f, logger: logger, mux: http.NewServeMux()}
	s.routes()
	return s
}

// Handler returns the route multiplexer, mainly for tests.
func (s *Server) Handler() http.Handler { return s.mux }

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("[Server] Listening", slog.String("addr", addr))
	if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
