// Package ranking keeps Redis sorted sets of movies ordered by average
// rating and by review count. The sets are a read cache; PostgreSQL stays
// the source of truth.
package ranking

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Clark-Hu/movie-reviews/internal/domain"
	"github.com/Clark-Hu/movie-reviews/internal/review"
)

// ErrUnavailable is returned by reads when no Redis client is configured or
// the sets have not been loaded from the database yet.
var ErrUnavailable = errors.New("ranking: redis unavailable")

const (
	defaultPrefix = "rank:movies:"
	lockStripes   = 32
)

// Source reads committed movie aggregates.
type Source interface {
	Stats(ctx context.Context, movieID string) (domain.MovieStats, error)
	AllStats(ctx context.Context) ([]domain.MovieStats, error)
}

// Board maintains the top-rated and most-reviewed rankings.
type Board struct {
	rdb        *redis.Client
	source     Source
	log        *zap.Logger
	topKey     string
	popularKey string

	ready atomic.Bool
	// Per-movie refreshes hold one stripe; Rebuild holds all of them.
	locks [lockStripes]sync.Mutex
}

var _ review.Listener = (*Board)(nil)

// Options configures Connect.
type Options struct {
	Addr    string
	Timeout time.Duration
	// Prefix namespaces the sorted-set keys. Defaults to "rank:movies:".
	Prefix string
	Source Source
	Logger *zap.Logger
}

// Connect dials Redis and loads both rankings from opts.Source. An empty
// address or a failed ping yields a Board that ignores writes and reports
// ErrUnavailable on reads. A failed initial load leaves the board
// unavailable until Run rebuilds it.
func Connect(ctx context.Context, opts Options) *Board {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Addr == "" {
		log.Warn("REDIS_ADDR not set, rankings fall back to the database")
		return NewBoard(nil, opts.Source, opts.Prefix, log)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		DialTimeout:  timeout,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		log.Warn("failed to connect to redis, rankings fall back to the database", zap.Error(err))
		_ = rdb.Close()
		return NewBoard(nil, opts.Source, opts.Prefix, log)
	}
	log.Info("redis connected", zap.String("addr", opts.Addr))

	b := NewBoard(rdb, opts.Source, opts.Prefix, log)
	if err := b.Rebuild(ctx); err != nil {
		log.Warn("initial ranking load failed", zap.Error(err))
	}
	return b
}

// NewBoard wraps an existing client. rdb may be nil. The board serves reads
// only after a successful Rebuild.
func NewBoard(rdb *redis.Client, source Source, prefix string, log *zap.Logger) *Board {
	if prefix == "" {
		prefix = defaultPrefix
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Board{
		rdb:        rdb,
		source:     source,
		log:        log,
		topKey:     prefix + "top",
		popularKey: prefix + "popular",
	}
}

// Available reports whether the board is backed by Redis and loaded.
func (b *Board) Available() bool {
	return b.connected() && b.ready.Load()
}

func (b *Board) connected() bool {
	return b != nil && b.rdb != nil
}

// Rebuild replaces both sorted sets with the aggregates of every reviewed
// movie.
func (b *Board) Rebuild(ctx context.Context) error {
	if !b.connected() {
		return ErrUnavailable
	}
	if b.source == nil {
		return errors.New("ranking: no source to rebuild from")
	}
	for i := range b.locks {
		b.locks[i].Lock()
	}
	defer func() {
		for i := range b.locks {
			b.locks[i].Unlock()
		}
	}()

	all, err := b.source.AllStats(ctx)
	if err != nil {
		return fmt.Errorf("load movie stats: %w", err)
	}
	top := make([]redis.Z, 0, len(all))
	popular := make([]redis.Z, 0, len(all))
	for _, s := range all {
		if s.ReviewCount == 0 {
			continue
		}
		top = append(top, redis.Z{Score: s.AverageRating, Member: s.MovieID})
		popular = append(popular, redis.Z{Score: float64(s.ReviewCount), Member: s.MovieID})
	}

	_, err = b.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, b.topKey, b.popularKey)
		if len(top) > 0 {
			pipe.ZAdd(ctx, b.topKey, top...)
			pipe.ZAdd(ctx, b.popularKey, popular...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("rebuild rankings: %w", err)
	}
	b.ready.Store(true)
	b.log.Debug("rankings rebuilt", zap.Int("movies", len(top)))
	return nil
}

// Run rebuilds the rankings every interval until ctx is done, repairing
// drift from writes applied by other instances.
func (b *Board) Run(ctx context.Context, interval time.Duration) {
	if !b.connected() || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := b.Rebuild(ctx); err != nil && ctx.Err() == nil {
				b.log.Warn("ranking rebuild failed", zap.Error(err))
			}
		}
	}
}

// ReviewChanged refreshes the movie's scores. The aggregate is re-read from
// the source so a late notification cannot restore an older score. A movie
// without reviews, or one that no longer exists, leaves both rankings.
func (b *Board) ReviewChanged(ctx context.Context, change review.Change) error {
	if !b.connected() {
		return nil
	}
	mu := b.lockFor(change.MovieID)
	mu.Lock()
	defer mu.Unlock()

	stats := domain.MovieStats{
		MovieID:       change.MovieID,
		AverageRating: change.AverageRating,
		ReviewCount:   change.ReviewCount,
	}
	if b.source != nil {
		current, err := b.source.Stats(ctx, change.MovieID)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			stats.ReviewCount = 0
		case err != nil:
			return fmt.Errorf("read stats of movie %s: %w", change.MovieID, err)
		default:
			stats = current
		}
	}
	return b.apply(ctx, stats)
}

func (b *Board) apply(ctx context.Context, stats domain.MovieStats) error {
	_, err := b.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if stats.ReviewCount == 0 {
			pipe.ZRem(ctx, b.topKey, stats.MovieID)
			pipe.ZRem(ctx, b.popularKey, stats.MovieID)
			return nil
		}
		pipe.ZAdd(ctx, b.topKey, redis.Z{Score: stats.AverageRating, Member: stats.MovieID})
		pipe.ZAdd(ctx, b.popularKey, redis.Z{Score: float64(stats.ReviewCount), Member: stats.MovieID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("update rankings for movie %s: %w", stats.MovieID, err)
	}
	return nil
}

func (b *Board) lockFor(movieID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(movieID))
	return &b.locks[h.Sum32()%lockStripes]
}

// Remove drops a deleted movie from both rankings.
func (b *Board) Remove(ctx context.Context, movieID string) error {
	if !b.connected() {
		return nil
	}
	mu := b.lockFor(movieID)
	mu.Lock()
	defer mu.Unlock()
	return b.apply(ctx, domain.MovieStats{MovieID: movieID})
}

// Top returns up to limit movie ids, highest average rating first.
func (b *Board) Top(ctx context.Context, limit int) ([]string, error) {
	if !b.Available() {
		return nil, ErrUnavailable
	}
	return b.rangeDesc(ctx, b.topKey, limit)
}

// Popular returns up to limit movie ids, most reviewed first.
func (b *Board) Popular(ctx context.Context, limit int) ([]string, error) {
	if !b.Available() {
		return nil, ErrUnavailable
	}
	return b.rangeDesc(ctx, b.popularKey, limit)
}

func (b *Board) rangeDesc(ctx context.Context, key string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 10
	}
	ids, err := b.rdb.ZRevRange(ctx, key, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return ids, nil
}

// Close releases the Redis client.
func (b *Board) Close() error {
	if !b.connected() {
		return nil
	}
	return b.rdb.Close()
}
