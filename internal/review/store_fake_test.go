package review

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Clark-Hu/movie-reviews/internal/domain"
)

// memStore is an in-memory Store. One mutex serializes whole transactions
// and a snapshot is restored when fn fails.
type memStore struct {
	mu      sync.Mutex
	movies  map[string]float64
	reviews map[string]domain.Review

	failSetAverage error
	// onLock runs inside LockMovie before the lock is reported as granted,
	// standing in for a transaction that commits while this one waits.
	onLock func(reviews map[string]domain.Review)
}

func newMemStore(movieIDs ...string) *memStore {
	st := &memStore{
		movies:  make(map[string]float64),
		reviews: make(map[string]domain.Review),
	}
	for _, id := range movieIDs {
		st.movies[id] = 0
	}
	return st
}

func (m *memStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	movies := make(map[string]float64, len(m.movies))
	for k, v := range m.movies {
		movies[k] = v
	}
	reviews := make(map[string]domain.Review, len(m.reviews))
	for k, v := range m.reviews {
		reviews[k] = v
	}

	if err := fn(&memTx{m: m}); err != nil {
		m.movies = movies
		m.reviews = reviews
		return err
	}
	return nil
}

func (m *memStore) average(movieID string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.movies[movieID]
}

func (m *memStore) ratings(movieID string) []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []int
	for _, r := range m.reviews {
		if r.MovieID == movieID {
			out = append(out, r.Rating)
		}
	}
	return out
}

func (m *memStore) reviewCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.reviews)
}

type memTx struct {
	m *memStore
}

func (t *memTx) LockMovie(ctx context.Context, movieID string) error {
	if _, ok := t.m.movies[movieID]; !ok {
		return domain.ErrNotFound
	}
	if hook := t.m.onLock; hook != nil {
		t.m.onLock = nil
		hook(t.m.reviews)
	}
	return nil
}

func (t *memTx) GetReview(ctx context.Context, reviewID string) (domain.Review, error) {
	r, ok := t.m.reviews[reviewID]
	if !ok {
		return domain.Review{}, domain.ErrNotFound
	}
	return r, nil
}

func (t *memTx) FindReview(ctx context.Context, movieID, userID string) (domain.Review, error) {
	for _, r := range t.m.reviews {
		if r.MovieID == movieID && r.UserID == userID {
			return r, nil
		}
	}
	return domain.Review{}, domain.ErrNotFound
}

func (t *memTx) InsertReview(ctx context.Context, r domain.Review) (domain.Review, error) {
	for _, existing := range t.m.reviews {
		if existing.MovieID == r.MovieID && existing.UserID == r.UserID {
			return domain.Review{}, domain.ErrConflict
		}
	}
	now := time.Now().UTC()
	r.CreatedAt, r.UpdatedAt = now, now
	t.m.reviews[r.ID] = r
	return r, nil
}

func (t *memTx) UpdateReview(ctx context.Context, r domain.Review) (domain.Review, error) {
	current, ok := t.m.reviews[r.ID]
	if !ok || current.UserID != r.UserID {
		return domain.Review{}, domain.ErrNotFound
	}
	current.Rating = r.Rating
	current.Comment = r.Comment
	current.UpdatedAt = time.Now().UTC()
	t.m.reviews[r.ID] = current
	return current, nil
}

func (t *memTx) DeleteReview(ctx context.Context, reviewID, userID string) error {
	current, ok := t.m.reviews[reviewID]
	if !ok || current.UserID != userID {
		return domain.ErrNotFound
	}
	delete(t.m.reviews, reviewID)
	return nil
}

func (t *memTx) ReviewSet(ctx context.Context, movieID string) ([]domain.Review, error) {
	var out []domain.Review
	for _, r := range t.m.reviews {
		if r.MovieID == movieID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (t *memTx) SetAverageRating(ctx context.Context, movieID string, value float64) error {
	if t.m.failSetAverage != nil {
		return t.m.failSetAverage
	}
	if _, ok := t.m.movies[movieID]; !ok {
		return domain.ErrNotFound
	}
	t.m.movies[movieID] = value
	return nil
}

// recorder collects listener notifications.
type recorder struct {
	mu      sync.Mutex
	changes []Change
	err     error
}

func (r *recorder) ReviewChanged(ctx context.Context, change Change) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, change)
	return r.err
}

func (r *recorder) all() []Change {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Change(nil), r.changes...)
}

func sequentialIDs() func() string {
	var (
		mu sync.Mutex
		n  int
	)
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("review-%d", n)
	}
}

var errStorage = errors.New("storage unavailable")
