package review

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Clark-Hu/movie-reviews/internal/domain"
	"github.com/Clark-Hu/movie-reviews/internal/metrics"
	"github.com/Clark-Hu/movie-reviews/internal/rating"
)

// CreateInput is the validated payload of a new review.
type CreateInput struct {
	MovieID string
	Rating  int
	Comment string
}

// UpdateInput carries a partial update. A nil field keeps its prior value;
// a present field must itself be valid.
type UpdateInput struct {
	Rating  *int
	Comment *string
}

// Options tunes a Service.
type Options struct {
	// AllowAdminReviews lets administrators author reviews. Off by default.
	AllowAdminReviews bool
	Listeners         []Listener
	Logger            *zap.Logger
	// NewID overrides review id generation. Defaults to uuid.NewString.
	NewID func() string
}

// Service orchestrates review mutations and the re-aggregation of the
// affected movie's average rating.
type Service struct {
	store       Store
	listeners   []Listener
	logger      *zap.Logger
	newID       func() string
	allowAdmins bool
}

// NewService constructs a Service over store.
func NewService(store Store, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	newID := opts.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	return &Service{
		store:       store,
		listeners:   opts.Listeners,
		logger:      logger,
		newID:       newID,
		allowAdmins: opts.AllowAdminReviews,
	}
}

// Create stores the actor's review of a movie and refreshes the movie's
// average rating.
func (s *Service) Create(ctx context.Context, actor domain.Principal, in CreateInput) (domain.Review, error) {
	start := time.Now()
	created, change, err := s.create(ctx, actor, in)
	s.finish(ctx, "create", start, change, err)
	return created, err
}

func (s *Service) create(ctx context.Context, actor domain.Principal, in CreateInput) (domain.Review, Change, error) {
	if err := requireActor(actor); err != nil {
		return domain.Review{}, Change{}, err
	}
	if actor.IsAdmin() && !s.allowAdmins {
		return domain.Review{}, Change{}, domain.Errorf(domain.ErrForbidden, "administrators cannot submit reviews")
	}
	movieID := strings.TrimSpace(in.MovieID)
	if movieID == "" {
		return domain.Review{}, Change{}, domain.Errorf(domain.ErrInvalidInput, "movieId is required")
	}
	comment := strings.TrimSpace(in.Comment)
	if err := validateRating(in.Rating); err != nil {
		return domain.Review{}, Change{}, err
	}
	if err := validateComment(comment); err != nil {
		return domain.Review{}, Change{}, err
	}

	var (
		created domain.Review
		change  Change
	)
	err := s.store.InTx(ctx, func(tx Tx) error {
		if err := tx.LockMovie(ctx, movieID); err != nil {
			return fmt.Errorf("lock movie %s: %w", movieID, err)
		}

		_, err := tx.FindReview(ctx, movieID, actor.ID)
		switch {
		case err == nil:
			return domain.Errorf(domain.ErrConflict, "movie already reviewed by this user")
		case !errors.Is(err, domain.ErrNotFound):
			return fmt.Errorf("find existing review: %w", err)
		}

		created, err = tx.InsertReview(ctx, domain.Review{
			ID:         s.newID(),
			MovieID:    movieID,
			UserID:     actor.ID,
			AuthorName: actor.Name,
			Rating:     in.Rating,
			Comment:    comment,
		})
		if err != nil {
			return fmt.Errorf("insert review: %w", err)
		}

		change, err = reaggregate(ctx, tx, movieID)
		return err
	})
	if err != nil {
		return domain.Review{}, Change{}, err
	}

	change.Op = OpCreated
	change.Review = created
	return created, change, nil
}

// Update applies a partial update to the actor's own review and refreshes
// the movie's average rating.
func (s *Service) Update(ctx context.Context, actor domain.Principal, reviewID string, in UpdateInput) (domain.Review, error) {
	start := time.Now()
	updated, change, err := s.update(ctx, actor, reviewID, in)
	s.finish(ctx, "update", start, change, err)
	return updated, err
}

func (s *Service) update(ctx context.Context, actor domain.Principal, reviewID string, in UpdateInput) (domain.Review, Change, error) {
	if err := requireActor(actor); err != nil {
		return domain.Review{}, Change{}, err
	}
	if in.Rating != nil {
		if err := validateRating(*in.Rating); err != nil {
			return domain.Review{}, Change{}, err
		}
	}
	var comment *string
	if in.Comment != nil {
		trimmed := strings.TrimSpace(*in.Comment)
		if err := validateComment(trimmed); err != nil {
			return domain.Review{}, Change{}, err
		}
		comment = &trimmed
	}

	var (
		updated domain.Review
		change  Change
	)
	err := s.store.InTx(ctx, func(tx Tx) error {
		current, err := lockedReview(ctx, tx, actor, reviewID)
		if err != nil {
			return err
		}

		next := current
		if in.Rating != nil {
			next.Rating = *in.Rating
		}
		if comment != nil {
			next.Comment = *comment
		}
		updated, err = tx.UpdateReview(ctx, next)
		if err != nil {
			return fmt.Errorf("update review %s: %w", reviewID, err)
		}

		change, err = reaggregate(ctx, tx, current.MovieID)
		return err
	})
	if err != nil {
		return domain.Review{}, Change{}, err
	}

	change.Op = OpUpdated
	change.Review = updated
	return updated, change, nil
}

// Delete removes the actor's own review and refreshes the movie's average
// rating over the remaining reviews.
func (s *Service) Delete(ctx context.Context, actor domain.Principal, reviewID string) error {
	start := time.Now()
	change, err := s.delete(ctx, actor, reviewID)
	s.finish(ctx, "delete", start, change, err)
	return err
}

func (s *Service) delete(ctx context.Context, actor domain.Principal, reviewID string) (Change, error) {
	if err := requireActor(actor); err != nil {
		return Change{}, err
	}

	var (
		removed domain.Review
		change  Change
	)
	err := s.store.InTx(ctx, func(tx Tx) error {
		current, err := lockedReview(ctx, tx, actor, reviewID)
		if err != nil {
			return err
		}
		if err := tx.DeleteReview(ctx, current.ID, actor.ID); err != nil {
			return fmt.Errorf("delete review %s: %w", reviewID, err)
		}
		removed = current

		change, err = reaggregate(ctx, tx, current.MovieID)
		return err
	})
	if err != nil {
		return Change{}, err
	}

	change.Op = OpDeleted
	change.Review = removed
	return change, nil
}

// lockedReview locks the movie a review belongs to and returns the review as
// committed under that lock. The first read only locates the movie; fields
// must come from the second, since a concurrent mutation of the same review
// may commit before the lock is granted.
func lockedReview(ctx context.Context, tx Tx, actor domain.Principal, reviewID string) (domain.Review, error) {
	located, err := ownedReview(ctx, tx, actor, reviewID)
	if err != nil {
		return domain.Review{}, err
	}
	if err := tx.LockMovie(ctx, located.MovieID); err != nil {
		return domain.Review{}, fmt.Errorf("lock movie %s: %w", located.MovieID, err)
	}
	return ownedReview(ctx, tx, actor, reviewID)
}

// ownedReview loads a review and enforces that actor authored it.
// Administrators get no exemption.
func ownedReview(ctx context.Context, tx Tx, actor domain.Principal, reviewID string) (domain.Review, error) {
	reviewID = strings.TrimSpace(reviewID)
	if reviewID == "" {
		return domain.Review{}, domain.Errorf(domain.ErrNotFound, "review id is required")
	}
	current, err := tx.GetReview(ctx, reviewID)
	if err != nil {
		return domain.Review{}, fmt.Errorf("get review %s: %w", reviewID, err)
	}
	if current.UserID != actor.ID {
		return domain.Review{}, domain.Errorf(domain.ErrForbidden, "review %s belongs to another user", reviewID)
	}
	return current, nil
}

// reaggregate recomputes the movie's average from the review set as seen by
// tx after the mutation, and writes it back.
func reaggregate(ctx context.Context, tx Tx, movieID string) (Change, error) {
	reviews, err := tx.ReviewSet(ctx, movieID)
	if err != nil {
		return Change{}, fmt.Errorf("load reviews of movie %s: %w", movieID, err)
	}
	avg := rating.Aggregate(reviews)
	if err := tx.SetAverageRating(ctx, movieID, avg); err != nil {
		return Change{}, fmt.Errorf("set average rating of movie %s: %w", movieID, err)
	}
	return Change{MovieID: movieID, AverageRating: avg, ReviewCount: len(reviews)}, nil
}

func (s *Service) finish(ctx context.Context, op string, start time.Time, change Change, err error) {
	metrics.ObserveReviewMutation(op, err, time.Since(start))
	if err != nil {
		return
	}
	s.logger.Debug("review mutation committed",
		zap.String("op", string(change.Op)),
		zap.String("review_id", change.Review.ID),
		zap.String("movie_id", change.MovieID),
		zap.Float64("average_rating", change.AverageRating),
		zap.Int("review_count", change.ReviewCount),
	)
	for _, l := range s.listeners {
		if lerr := l.ReviewChanged(ctx, change); lerr != nil {
			metrics.ListenerFailures.WithLabelValues(fmt.Sprintf("%T", l)).Inc()
			s.logger.Warn("review listener failed",
				zap.String("op", string(change.Op)),
				zap.String("movie_id", change.MovieID),
				zap.Error(lerr),
			)
		}
	}
}

func requireActor(actor domain.Principal) error {
	if strings.TrimSpace(actor.ID) == "" {
		return domain.Errorf(domain.ErrForbidden, "missing principal")
	}
	return nil
}

func validateRating(value int) error {
	if value < domain.MinRating || value > domain.MaxRating {
		return domain.Errorf(domain.ErrInvalidInput, "rating must be an integer between %d and %d", domain.MinRating, domain.MaxRating)
	}
	return nil
}

func validateComment(comment string) error {
	if comment == "" {
		return domain.Errorf(domain.ErrInvalidInput, "comment is required")
	}
	return nil
}
