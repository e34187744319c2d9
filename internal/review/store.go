// Package review implements the review lifecycle: create, update and delete
// of a user's review while keeping the movie's average rating consistent.
package review

import (
	"context"

	"github.com/Clark-Hu/movie-reviews/internal/domain"
)

// Store opens the transactional boundary every review mutation runs in.
// The mutation and the average write-back commit or roll back together.
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the storage surface available inside a transaction.
//
// LockMovie must serialize concurrent mutations of the same movie in the
// store itself (for example a row lock), since several service instances may
// share one database. It returns domain.ErrNotFound for unknown movies.
// InsertReview must report a (movie, user) uniqueness violation as
// domain.ErrConflict.
type Tx interface {
	LockMovie(ctx context.Context, movieID string) error
	GetReview(ctx context.Context, reviewID string) (domain.Review, error)
	FindReview(ctx context.Context, movieID, userID string) (domain.Review, error)
	InsertReview(ctx context.Context, r domain.Review) (domain.Review, error)
	UpdateReview(ctx context.Context, r domain.Review) (domain.Review, error)
	DeleteReview(ctx context.Context, reviewID, userID string) error
	ReviewSet(ctx context.Context, movieID string) ([]domain.Review, error)
	SetAverageRating(ctx context.Context, movieID string, value float64) error
}
