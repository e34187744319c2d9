package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/Clark-Hu/movie-reviews/internal/config"
	"github.com/Clark-Hu/movie-reviews/internal/events"
	httpserver "github.com/Clark-Hu/movie-reviews/internal/http"
	"github.com/Clark-Hu/movie-reviews/internal/logging"
	"github.com/Clark-Hu/movie-reviews/internal/metrics"
	"github.com/Clark-Hu/movie-reviews/internal/ranking"
	"github.com/Clark-Hu/movie-reviews/internal/repository"
	"github.com/Clark-Hu/movie-reviews/internal/review"
	"github.com/Clark-Hu/movie-reviews/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server exited", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	dbCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	storeOpts := store.Options{
		MaxConns:               int32(cfg.DBMaxConns),
		MinConns:               int32(cfg.DBMinConns),
		MaxConnIdleTime:        time.Duration(cfg.DBMaxIdleSecs) * time.Second,
		MaxConnLifetime:        time.Duration(cfg.DBMaxLifeSecs) * time.Second,
		ConnTimeout:            time.Duration(cfg.DBConnTimeoutSecs) * time.Second,
		StatementCacheCapacity: cfg.DBStatementCache,
		LockTimeout:            time.Duration(cfg.DBLockTimeoutMs) * time.Millisecond,
		QueryLogLevel:          cfg.DBQueryLogLevel,
		Logger:                 logger,
	}

	st, err := store.New(dbCtx, cfg.DBURL, storeOpts)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := metrics.RegisterPoolStats(prometheus.DefaultRegisterer, st.Stats); err != nil {
		logger.Warn("register pool metrics", zap.Error(err))
	}

	publisher, err := events.New(cfg.NATSURL, logger.Named("events"))
	if err != nil {
		return err
	}
	defer publisher.Close()

	repo := repository.New(st)

	board := ranking.Connect(ctx, ranking.Options{
		Addr:    cfg.RedisAddr,
		Timeout: time.Duration(cfg.RedisTimeoutSecs) * time.Second,
		Source:  repo.Movies,
		Logger:  logger.Named("ranking"),
	})
	defer func() { _ = board.Close() }()
	go board.Run(ctx, time.Duration(cfg.RankingRefreshSecs)*time.Second)

	reviews := review.NewService(repo, review.Options{
		AllowAdminReviews: cfg.AllowAdminReviews,
		Listeners:         []review.Listener{publisher, board},
		Logger:            logger.Named("review"),
	})
	server := httpserver.New(cfg, st, repo, reviews, board, logger)

	logger.Info("starting server",
		zap.String("port", cfg.Port),
		zap.Bool("events", cfg.NATSURL != ""),
		zap.Bool("rankings", board.Available()),
	)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			serverErrCh <- err
			return
		}
		serverErrCh <- nil
	}()

	var serveErr error
	select {
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) && !errors.Is(err, context.Canceled) {
			serveErr = err
		}
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Warn("graceful shutdown error", zap.Error(err))
	}
	logger.Info("server stopped")
	return serveErr
}
