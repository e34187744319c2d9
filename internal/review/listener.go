package review

import (
	"context"

	"github.com/Clark-Hu/movie-reviews/internal/domain"
)

// Op names a committed review mutation.
type Op string

const (
	OpCreated Op = "created"
	OpUpdated Op = "updated"
	OpDeleted Op = "deleted"
)

// Change describes a committed mutation and the movie aggregate it produced.
type Change struct {
	Op            Op
	Review        domain.Review
	MovieID       string
	AverageRating float64
	ReviewCount   int
}

// Listener is notified after a review mutation has been committed.
// Errors are logged by the service and never undo the mutation.
type Listener interface {
	ReviewChanged(ctx context.Context, change Change) error
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(ctx context.Context, change Change) error

// ReviewChanged calls f.
func (f ListenerFunc) ReviewChanged(ctx context.Context, change Change) error {
	return f(ctx, change)
}
