// Package rating computes a movie's aggregate rating from its reviews.
package rating

import "github.com/Clark-Hu/movie-reviews/internal/domain"

// Aggregate returns the arithmetic mean of the reviews' ratings, or exactly 0
// when there are none. The result is not rounded.
func Aggregate(reviews []domain.Review) float64 {
	if len(reviews) == 0 {
		return 0
	}
	total := 0
	for _, r := range reviews {
		total += r.Rating
	}
	return float64(total) / float64(len(reviews))
}
