package httpserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Clark-Hu/movie-reviews/internal/auth"
	"github.com/Clark-Hu/movie-reviews/internal/config"
	"github.com/Clark-Hu/movie-reviews/internal/ranking"
	"github.com/Clark-Hu/movie-reviews/internal/repository"
	"github.com/Clark-Hu/movie-reviews/internal/review"
	"github.com/Clark-Hu/movie-reviews/internal/store"
)

// Rankings serves precomputed movie rankings. *ranking.Board implements it.
type Rankings interface {
	Available() bool
	Top(ctx context.Context, limit int) ([]string, error)
	Popular(ctx context.Context, limit int) ([]string, error)
	Remove(ctx context.Context, movieID string) error
}

var _ Rankings = (*ranking.Board)(nil)

// Server wires HTTP routing, middleware, and handlers.
type Server struct {
	cfg      config.Config
	store    *store.Store
	repo     *repository.Repository
	reviews  *review.Service
	board    Rankings
	verifier auth.JWTVerifier
	logger   *zap.Logger
	router   chi.Router
	httpSrv  *http.Server
}

// New constructs the HTTP server with base middleware and routes.
// board may be nil, in which case rankings are served from the database.
func New(cfg config.Config, st *store.Store, repo *repository.Repository, reviews *review.Service, board Rankings, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("http")

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id", "Location"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	s := &Server{
		cfg:      cfg,
		store:    st,
		repo:     repo,
		reviews:  reviews,
		board:    board,
		verifier: auth.JWTVerifier{Secret: []byte(cfg.JWTSecret)},
		logger:   logger,
		router:   r,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Route("/movies", func(r chi.Router) {
		r.Get("/", s.handleListMovies)
		r.Get("/top", s.handleTopMovies)
		r.Get("/popular", s.handlePopularMovies)
		r.Get("/{id}", s.handleGetMovie)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireUser(s.verifier))
			r.Use(auth.RequireAdmin)
			r.Post("/", s.handleCreateMovie)
			r.Put("/{id}", s.handleUpdateMovie)
			r.Delete("/{id}", s.handleDeleteMovie)
		})
	})

	s.router.Route("/reviews", func(r chi.Router) {
		r.Use(auth.RequireUser(s.verifier))
		r.Post("/", s.handleCreateReview)
		r.Put("/{id}", s.handleUpdateReview)
		r.Delete("/{id}", s.handleDeleteReview)
	})
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start boots the HTTP server asynchronously.
func (s *Server) Start(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:         ":" + s.cfg.Port,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.cfg.ReadTimeoutSecs) * time.Second,
		WriteTimeout: time.Duration(s.cfg.WriteTimeoutSecs) * time.Second,
		IdleTimeout:  time.Duration(s.cfg.IdleTimeoutSecs) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpSrv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.store.HealthCheck(ctx); err != nil {
		s.logger.Warn("health check failed", zap.Error(err))
		s.respondError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "Database unavailable")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
