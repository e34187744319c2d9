package domain

import "time"

// Review is a single user's rating and comment for a movie.
type Review struct {
	ID         string
	MovieID    string
	UserID     string
	AuthorName string
	Rating     int
	Comment    string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Rating bounds accepted for a review.
const (
	MinRating = 1
	MaxRating = 5
)
