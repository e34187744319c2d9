package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Clark-Hu/movie-reviews/internal/domain"
	"github.com/Clark-Hu/movie-reviews/internal/review"
	"github.com/Clark-Hu/movie-reviews/internal/store"
)

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = domain.ErrNotFound

// ErrConflict indicates a uniqueness constraint rejected the write.
var ErrConflict = domain.ErrConflict

// ErrBusy indicates a row lock was not granted within lock_timeout.
var ErrBusy = domain.ErrBusy

const (
	uniqueViolation  = "23505"
	lockNotAvailable = "55P03"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx so the same queries
// run inside and outside transactions.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository aggregates all domain-specific repositories.
type Repository struct {
	Movies  *MoviesRepository
	Reviews *ReviewsRepository
	pool    *pgxpool.Pool
}

// New constructs a Repository backed by the provided store.
func New(st *store.Store) *Repository {
	return NewWithPool(st.Pool())
}

// NewWithPool allows constructing repositories directly from a pgx pool.
func NewWithPool(pool *pgxpool.Pool) *Repository {
	return &Repository{
		Movies:  &MoviesRepository{db: pool},
		Reviews: &ReviewsRepository{db: pool},
		pool:    pool,
	}
}

// InTx runs fn inside a single read-committed transaction. The transaction
// commits when fn returns nil and rolls back otherwise.
func (r *Repository) InTx(ctx context.Context, fn func(tx review.Tx) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&Tx{
		movies:  &MoviesRepository{db: tx},
		reviews: &ReviewsRepository{db: tx},
	}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Tx exposes the review lifecycle storage operations bound to one transaction.
type Tx struct {
	movies  *MoviesRepository
	reviews *ReviewsRepository
}

var _ review.Store = (*Repository)(nil)
var _ review.Tx = (*Tx)(nil)

// LockMovie takes a row lock on the movie, serializing review mutations of
// that movie until the transaction ends.
func (t *Tx) LockMovie(ctx context.Context, movieID string) error {
	return t.movies.lockForUpdate(ctx, movieID)
}

// GetReview fetches a review by id.
func (t *Tx) GetReview(ctx context.Context, reviewID string) (domain.Review, error) {
	return t.reviews.GetByID(ctx, reviewID)
}

// FindReview fetches the review a user wrote for a movie.
func (t *Tx) FindReview(ctx context.Context, movieID, userID string) (domain.Review, error) {
	return t.reviews.Get(ctx, movieID, userID)
}

// InsertReview stores a new review.
func (t *Tx) InsertReview(ctx context.Context, r domain.Review) (domain.Review, error) {
	return t.reviews.Insert(ctx, r)
}

// UpdateReview rewrites rating and comment of an existing review.
func (t *Tx) UpdateReview(ctx context.Context, r domain.Review) (domain.Review, error) {
	return t.reviews.Update(ctx, r)
}

// DeleteReview removes a review owned by userID.
func (t *Tx) DeleteReview(ctx context.Context, reviewID, userID string) error {
	return t.reviews.Delete(ctx, reviewID, userID)
}

// ReviewSet returns every review of the movie visible to the transaction.
func (t *Tx) ReviewSet(ctx context.Context, movieID string) ([]domain.Review, error) {
	return t.reviews.ListByMovie(ctx, movieID)
}

// SetAverageRating writes the movie's materialized average.
func (t *Tx) SetAverageRating(ctx context.Context, movieID string, value float64) error {
	return t.movies.setAverageRating(ctx, movieID, value)
}

func isUniqueViolation(err error) bool {
	return hasCode(err, uniqueViolation)
}

// isLockTimeout reports a statement cancelled by lock_timeout.
func isLockTimeout(err error) bool {
	return hasCode(err, lockNotAvailable)
}

func hasCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}
