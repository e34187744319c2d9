package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/Clark-Hu/movie-reviews/internal/domain"
)

// ReviewsRepository provides helpers for movie reviews.
type ReviewsRepository struct {
	db querier
}

const reviewColumns = `id, movie_id, user_id, author_name, rating, comment, created_at, updated_at`

// Insert stores a new review. A second review for the same (movie, user)
// pair fails with ErrConflict from the table's unique constraint.
func (r *ReviewsRepository) Insert(ctx context.Context, review domain.Review) (domain.Review, error) {
	const query = `
        INSERT INTO reviews (id, movie_id, user_id, author_name, rating, comment)
        VALUES ($1,$2,$3,$4,$5,$6)
        RETURNING ` + reviewColumns

	row := r.db.QueryRow(ctx, query, review.ID, review.MovieID, review.UserID, review.AuthorName, review.Rating, review.Comment)
	created, err := scanReview(row)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Review{}, ErrConflict
		}
		return domain.Review{}, err
	}
	return created, nil
}

// GetByID retrieves a review by its identifier.
func (r *ReviewsRepository) GetByID(ctx context.Context, id string) (domain.Review, error) {
	const query = `SELECT ` + reviewColumns + ` FROM reviews WHERE id = $1`
	return r.getOne(ctx, query, id)
}

// Get retrieves the review a user wrote for a movie.
func (r *ReviewsRepository) Get(ctx context.Context, movieID, userID string) (domain.Review, error) {
	const query = `SELECT ` + reviewColumns + ` FROM reviews WHERE movie_id = $1 AND user_id = $2`
	return r.getOne(ctx, query, movieID, userID)
}

// Update rewrites rating and comment. The row must still belong to
// review.UserID, otherwise ErrNotFound is returned.
func (r *ReviewsRepository) Update(ctx context.Context, review domain.Review) (domain.Review, error) {
	const query = `
        UPDATE reviews
        SET rating = $3, comment = $4, updated_at = now()
        WHERE id = $1 AND user_id = $2
        RETURNING ` + reviewColumns
	return r.getOne(ctx, query, review.ID, review.UserID, review.Rating, review.Comment)
}

// Delete removes a review owned by userID.
func (r *ReviewsRepository) Delete(ctx context.Context, id, userID string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM reviews WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListByMovie returns a movie's reviews, newest first.
func (r *ReviewsRepository) ListByMovie(ctx context.Context, movieID string) ([]domain.Review, error) {
	const query = `
        SELECT ` + reviewColumns + `
        FROM reviews
        WHERE movie_id = $1
        ORDER BY created_at DESC, id DESC
    `
	rows, err := r.db.Query(ctx, query, movieID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	reviews := make([]domain.Review, 0)
	for rows.Next() {
		review, err := scanReview(rows)
		if err != nil {
			return nil, err
		}
		reviews = append(reviews, review)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return reviews, nil
}

func (r *ReviewsRepository) getOne(ctx context.Context, query string, args ...any) (domain.Review, error) {
	review, err := scanReview(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Review{}, ErrNotFound
		}
		return domain.Review{}, err
	}
	return review, nil
}

func scanReview(row pgx.Row) (domain.Review, error) {
	var (
		review domain.Review
		rating int16
	)
	err := row.Scan(
		&review.ID,
		&review.MovieID,
		&review.UserID,
		&review.AuthorName,
		&rating,
		&review.Comment,
		&review.CreatedAt,
		&review.UpdatedAt,
	)
	if err != nil {
		return domain.Review{}, err
	}
	review.Rating = int(rating)
	return review, nil
}
