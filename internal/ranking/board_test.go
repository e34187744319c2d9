package ranking

import (
	"context"
	"errors"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/Clark-Hu/movie-reviews/internal/domain"
	"github.com/Clark-Hu/movie-reviews/internal/review"
)

// statsSource is an in-memory Source.
type statsSource struct {
	mu    sync.Mutex
	stats map[string]domain.MovieStats
}

func newStatsSource(stats ...domain.MovieStats) *statsSource {
	src := &statsSource{stats: make(map[string]domain.MovieStats)}
	for _, s := range stats {
		src.stats[s.MovieID] = s
	}
	return src
}

func (s *statsSource) set(stats domain.MovieStats) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats[stats.MovieID] = stats
}

func (s *statsSource) drop(movieID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.stats, movieID)
}

func (s *statsSource) Stats(ctx context.Context, movieID string) (domain.MovieStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats, ok := s.stats[movieID]
	if !ok {
		return domain.MovieStats{}, domain.ErrNotFound
	}
	return stats, nil
}

func (s *statsSource) AllStats(ctx context.Context) ([]domain.MovieStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.MovieStats, 0, len(s.stats))
	for _, stats := range s.stats {
		if stats.ReviewCount > 0 {
			out = append(out, stats)
		}
	}
	return out, nil
}

func TestBoardWithoutRedis(t *testing.T) {
	b := Connect(context.Background(), Options{Source: newStatsSource()})
	if b.Available() {
		t.Fatal("board without address should be unavailable")
	}
	if err := b.ReviewChanged(context.Background(), review.Change{MovieID: "m1", ReviewCount: 1, AverageRating: 4}); err != nil {
		t.Fatalf("ReviewChanged: %v", err)
	}
	if err := b.Remove(context.Background(), "m1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := b.Top(context.Background(), 5); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Top: expected ErrUnavailable, got %v", err)
	}
	if err := b.Rebuild(context.Background()); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Rebuild: expected ErrUnavailable, got %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	var nilBoard *Board
	if nilBoard.Available() {
		t.Fatal("nil board should be unavailable")
	}
	if _, err := nilBoard.Popular(context.Background(), 5); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Popular on nil board: expected ErrUnavailable, got %v", err)
	}
}

// redisAddr returns REDIS_ADDR when set and otherwise starts a throwaway
// Redis container.
func redisAddr(t *testing.T) string {
	t.Helper()
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		return addr
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForListeningPort("6379/tcp"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("start redis container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("terminate redis container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	return net.JoinHostPort(host, port.Port())
}

func newRedisBoard(t *testing.T, src Source) (*Board, *redis.Client) {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{Addr: redisAddr(t)})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Fatalf("redis unreachable: %v", err)
	}

	prefix := "test:" + uuid.NewString() + ":"
	b := NewBoard(rdb, src, prefix, nil)
	t.Cleanup(func() {
		_ = rdb.Del(context.Background(), b.topKey, b.popularKey).Err()
		_ = rdb.Close()
	})
	return b, rdb
}

func TestConnectLoadsExistingAggregates(t *testing.T) {
	addr := redisAddr(t)
	src := newStatsSource(
		domain.MovieStats{MovieID: "m1", AverageRating: 3.5, ReviewCount: 4},
		domain.MovieStats{MovieID: "m2", AverageRating: 4.5, ReviewCount: 2},
		domain.MovieStats{MovieID: "m3", AverageRating: 2, ReviewCount: 1},
	)
	prefix := "test:" + uuid.NewString() + ":"
	b := Connect(context.Background(), Options{Addr: addr, Prefix: prefix, Source: src})
	t.Cleanup(func() {
		if b.rdb != nil {
			_ = b.rdb.Del(context.Background(), b.topKey, b.popularKey).Err()
		}
		_ = b.Close()
	})

	if !b.Available() {
		t.Fatal("board should be available after the initial load")
	}
	top, err := b.Top(context.Background(), 10)
	if err != nil {
		t.Fatalf("Top: %v", err)
	}
	if len(top) != 3 || top[0] != "m2" || top[1] != "m1" || top[2] != "m3" {
		t.Fatalf("Top = %v", top)
	}
	popular, err := b.Popular(context.Background(), 2)
	if err != nil {
		t.Fatalf("Popular: %v", err)
	}
	if len(popular) != 2 || popular[0] != "m1" || popular[1] != "m2" {
		t.Fatalf("Popular = %v", popular)
	}
}

func TestBoardUnavailableUntilRebuilt(t *testing.T) {
	src := newStatsSource(domain.MovieStats{MovieID: "m1", AverageRating: 4, ReviewCount: 1})
	b, _ := newRedisBoard(t, src)
	ctx := context.Background()

	if _, err := b.Top(ctx, 10); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Top before rebuild: expected ErrUnavailable, got %v", err)
	}
	if err := b.Rebuild(ctx); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	top, err := b.Top(ctx, 10)
	if err != nil {
		t.Fatalf("Top: %v", err)
	}
	if len(top) != 1 || top[0] != "m1" {
		t.Fatalf("Top = %v", top)
	}
}

func TestBoardReviewChangedUsesCommittedStats(t *testing.T) {
	src := newStatsSource()
	b, rdb := newRedisBoard(t, src)
	ctx := context.Background()
	if err := b.Rebuild(ctx); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}

	// The newer aggregate is already committed when an older notification
	// arrives; the board must keep the committed one.
	src.set(domain.MovieStats{MovieID: "m1", AverageRating: 4, ReviewCount: 2})
	if err := b.ReviewChanged(ctx, review.Change{MovieID: "m1", AverageRating: 2, ReviewCount: 1}); err != nil {
		t.Fatalf("ReviewChanged: %v", err)
	}
	score, err := rdb.ZScore(ctx, b.topKey, "m1").Result()
	if err != nil {
		t.Fatalf("ZScore top: %v", err)
	}
	if score != 4 {
		t.Fatalf("top score = %v, want 4", score)
	}
	count, err := rdb.ZScore(ctx, b.popularKey, "m1").Result()
	if err != nil {
		t.Fatalf("ZScore popular: %v", err)
	}
	if count != 2 {
		t.Fatalf("popular score = %v, want 2", count)
	}

	src.set(domain.MovieStats{MovieID: "m1"})
	if err := b.ReviewChanged(ctx, review.Change{MovieID: "m1", AverageRating: 4, ReviewCount: 2}); err != nil {
		t.Fatalf("ReviewChanged: %v", err)
	}
	top, err := b.Top(ctx, 10)
	if err != nil {
		t.Fatalf("Top: %v", err)
	}
	if len(top) != 0 {
		t.Fatalf("movie without reviews still ranked: %v", top)
	}

	src.set(domain.MovieStats{MovieID: "m2", AverageRating: 3, ReviewCount: 1})
	if err := b.ReviewChanged(ctx, review.Change{MovieID: "m2", AverageRating: 3, ReviewCount: 1}); err != nil {
		t.Fatalf("ReviewChanged: %v", err)
	}
	src.drop("m2")
	if err := b.ReviewChanged(ctx, review.Change{MovieID: "m2", AverageRating: 3, ReviewCount: 1}); err != nil {
		t.Fatalf("ReviewChanged: %v", err)
	}
	if top, _ := b.Top(ctx, 10); len(top) != 0 {
		t.Fatalf("deleted movie still ranked: %v", top)
	}
}

func TestBoardRebuildDropsStaleMembers(t *testing.T) {
	src := newStatsSource(
		domain.MovieStats{MovieID: "m1", AverageRating: 5, ReviewCount: 1},
		domain.MovieStats{MovieID: "m2", AverageRating: 3, ReviewCount: 3},
	)
	b, _ := newRedisBoard(t, src)
	ctx := context.Background()
	if err := b.Rebuild(ctx); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}

	src.drop("m1")
	src.set(domain.MovieStats{MovieID: "m3", AverageRating: 4, ReviewCount: 5})
	if err := b.Rebuild(ctx); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	popular, err := b.Popular(ctx, 10)
	if err != nil {
		t.Fatalf("Popular: %v", err)
	}
	if len(popular) != 2 || popular[0] != "m3" || popular[1] != "m2" {
		t.Fatalf("Popular = %v", popular)
	}

	if err := b.Remove(ctx, "m3"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	top, err := b.Top(ctx, 10)
	if err != nil {
		t.Fatalf("Top: %v", err)
	}
	if len(top) != 1 || top[0] != "m2" {
		t.Fatalf("Top after removal = %v", top)
	}
}

func TestBoardRunStopsWithContext(t *testing.T) {
	src := newStatsSource(domain.MovieStats{MovieID: "m1", AverageRating: 4, ReviewCount: 1})
	b, _ := newRedisBoard(t, src)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.Run(ctx, 20*time.Millisecond)
		close(done)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for !b.Available() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if !b.Available() {
		t.Fatal("Run did not rebuild the board")
	}
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
