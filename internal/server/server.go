// Package server exposes the search service over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/sync/errgroup"

	"github.com/crawldex/crawldex/internal/document"
	cerrors "github.com/crawldex/crawldex/internal/errors"
	"github.com/crawldex/crawldex/internal/telemetry"
)

// LivenessMessage is the body served by /api/test.
const LivenessMessage = "crawldex is working and test returns this string"

// Searcher runs the two query kinds served by the API.
type Searcher interface {
	Search(ctx context.Context, term string) ([]document.QueryResult, error)
	Similar(ctx context.Context, term string) ([]document.QueryResult, error)
}

// StatsSource reports query metrics for /api/stats.
type StatsSource interface {
	Snapshot() *telemetry.Snapshot
}

// Config holds server configuration.
type Config struct {
	Port           int
	AllowedOrigins []string

	// LegacyTransportStatus answers engine failures with 400 instead of 502.
	LegacyTransportStatus bool

	// RequestTimeout bounds one request. Zero disables the limit.
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration

	// Stats enables GET /api/stats when set.
	Stats StatsSource

	Logger *slog.Logger
}

// Server is the HTTP front end for search.
type Server struct {
	cfg      Config
	searcher Searcher
	logger   *slog.Logger
	router   chi.Router
}

// New creates a server with all routes registered.
func New(cfg Config, searcher Searcher) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	s := &Server{cfg: cfg, searcher: searcher, logger: logger}
	s.router = s.buildRouter()
	return s
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)
	if s.cfg.RequestTimeout > 0 {
		r.Use(middleware.Timeout(s.cfg.RequestTimeout))
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/test", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(LivenessMessage))
		})
		r.Get("/search", s.handleQuery("term", s.searcher.Search))
		r.Get("/MLTsearch", s.handleQuery("id", s.searcher.Similar))
		if s.cfg.Stats != nil {
			r.Get("/stats", func(w http.ResponseWriter, _ *http.Request) {
				writeJSON(w, http.StatusOK, s.cfg.Stats.Snapshot())
			})
		}
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, r, cerrors.New(cerrors.ErrCodeNotFound, "no route for "+r.URL.Path, nil))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, r, cerrors.New(cerrors.ErrCodeMethodNotAllowed,
			fmt.Sprintf("method %s not allowed on %s", r.Method, r.URL.Path), nil))
	})

	return r
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

type queryFunc func(ctx context.Context, term string) ([]document.QueryResult, error)

// handleQuery serves a query endpoint reading its term from param.
func (s *Server) handleQuery(param string, run queryFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		term := r.URL.Query().Get(param)
		if term == "" {
			s.writeError(w, r, cerrors.ValidationError("query parameter "+param+" is required", nil).
				WithDetail("parameter", param))
			return
		}

		results, err := run(r.Context(), term)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if results == nil {
			results = []document.QueryResult{}
		}
		writeJSON(w, http.StatusOK, results)
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := cerrors.HTTPStatus(err, s.cfg.LegacyTransportStatus)
	if status >= http.StatusInternalServerError || cerrors.IsTransport(err) {
		s.logger.Error("request_failed",
			append([]any{
				slog.String("path", r.URL.Path),
				slog.Int("status", status),
				slog.String("request_id", middleware.GetReqID(r.Context())),
			}, cerrors.FormatForLog(err)...)...)
	}
	writeJSON(w, status, cerrors.NewBody(err))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// requestLogger logs one http_request event per request.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				logger.Info("http_request",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.Int("status", ww.Status()),
					slog.Int("bytes", ww.BytesWritten()),
					slog.String("remote", r.RemoteAddr),
					slog.String("request_id", middleware.GetReqID(r.Context())),
					slog.Duration("duration", time.Since(start)))
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

// ListenAndServe listens on the configured port and serves until ctx is
// cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Port))
	if err != nil {
		return cerrors.ConfigError(fmt.Sprintf("listen on port %d", s.cfg.Port), err).
			WithSuggestion("Choose another port with --port or server.port")
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, then shuts down
// gracefully within the shutdown timeout.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	httpServer := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("server_started", slog.String("addr", ln.Addr().String()))
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		s.logger.Info("server_stopping")
		return httpServer.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	s.logger.Info("server_stopped")
	return err
}
