package domain

import "time"

// DefaultPoster is stored when a movie is created without a poster reference.
const DefaultPoster = "https://via.placeholder.com/300x450?text=No+Poster"

// Movie represents the canonical movie entity in the database/service.
//
// AverageRating is a materialized view over the movie's reviews. Only the
// review lifecycle service writes it.
type Movie struct {
	ID            string
	Title         string
	Description   string
	Genre         string
	ReleaseYear   int
	Director      string
	Poster        string
	AverageRating float64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// MovieStats is the committed rating aggregate of one movie.
type MovieStats struct {
	MovieID       string
	AverageRating float64
	ReviewCount   int
}
