// Package server exposes the state store over HTTP and streams change
// notifications to browser tabs over a websocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/at-ishikawa/playtrack/internal/channel"
	"github.com/at-ishikawa/playtrack/internal/config"
	"github.com/at-ishikawa/playtrack/internal/log"
	"github.com/at-ishikawa/playtrack/internal/metrics"
	"github.com/at-ishikawa/playtrack/internal/store"
)

const (
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 5 * time.Second
	importWindow      = time.Minute
	maxImportBytes    = 32 << 20
)

type Server struct {
	store   *store.Store
	changes channel.Channel
	cfg     config.ServerConfig
	logger  zerolog.Logger

	originPatterns []string

	done     chan struct{}
	doneOnce sync.Once
}

type Option func(*Server)

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// New creates a server for st. changes must be the channel st publishes on.
func New(st *store.Store, changes channel.Channel, cfg config.ServerConfig, opts ...Option) *Server {
	s := &Server{
		store:          st,
		changes:        changes,
		cfg:            cfg,
		logger:         log.WithComponent("server"),
		originPatterns: originPatterns(cfg.CORS.AllowedOrigins),
		done:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the router with every route registered.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestMetrics)
	r.Use(s.cors)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/state", s.handleState)
		r.Put("/settings", s.handleSettings)
		r.Delete("/playlists/{id}", s.handleRemovePlaylist)
		r.Get("/playlists/{id}/stats", s.handlePlaylistStats)
		r.Get("/export", s.handleExport)
		r.Get("/events", s.handleEvents)
		r.Group(func(r chi.Router) {
			if s.cfg.ImportRateLimit > 0 {
				r.Use(rateLimit(s.cfg.ImportRateLimit, importWindow))
			}
			r.Post("/import", s.handleImport)
		})
	})
	return r
}

// ListenAndServe serves on the configured port until ctx is canceled, then
// closes event streams and shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	listener, err := net.Listen("tcp", ":"+strconv.Itoa(s.cfg.Port))
	if err != nil {
		return fmt.Errorf("net.Listen(%d) > %w", s.cfg.Port, err)
	}
	return s.Serve(ctx, listener)
}

// Serve accepts HTTP/1.1 and cleartext HTTP/2 connections on listener.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	httpServer := &http.Server{
		Handler:           h2c.NewHandler(s.Handler(), &http2.Server{}),
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", listener.Addr().String()).Msg("starting server")
		errCh <- httpServer.Serve(listener)
	}()

	select {
	case err := <-errCh:
		s.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.Close()
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("httpServer.Shutdown() > %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.logger.Info().Msg("server stopped")
	return nil
}

// Close ends every open event stream.
func (s *Server) Close() {
	s.doneOnce.Do(func() {
		close(s.done)
	})
}

func requestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		// route patterns keep the label cardinality bounded
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.HTTPRequestDuration.
			WithLabelValues(r.Method, path, strconv.Itoa(status)).
			Observe(time.Since(start).Seconds())
	})
}

func rateLimit(limit int, window time.Duration) func(http.Handler) http.Handler {
	return httprate.Limit(
		limit,
		window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", strconv.Itoa(int(window.Seconds())))
			writeJSON(w, http.StatusTooManyRequests, errorResponse{
				Error:  "rate_limit_exceeded",
				Detail: "too many imports, try again later",
			})
		}),
	)
}
