package repository

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/Clark-Hu/movie-reviews/internal/domain"
)

// MoviesRepository provides persistence helpers for movie entities.
type MoviesRepository struct {
	db querier
}

const movieColumns = `
    id,
    title,
    description,
    genre,
    release_year,
    director,
    poster,
    average_rating,
    created_at,
    updated_at
`

const qualifiedMovieColumns = `
    m.id,
    m.title,
    m.description,
    m.genre,
    m.release_year,
    m.director,
    m.poster,
    m.average_rating,
    m.created_at,
    m.updated_at
`

// MovieCreateParams bundles the fields required to create a movie.
type MovieCreateParams struct {
	Title       string
	Description string
	Genre       string
	ReleaseYear int
	Director    string
	Poster      string
}

// MovieUpdateParams carries a partial catalog update; nil fields are kept.
// The average rating is deliberately absent.
type MovieUpdateParams struct {
	Title       *string
	Description *string
	Genre       *string
	ReleaseYear *int
	Director    *string
	Poster      *string
}

// MovieListFilters encapsulates search and pagination options.
type MovieListFilters struct {
	Query  *string
	Year   *int
	Genre  *string
	Limit  int
	Cursor *MovieCursor
}

// MovieCursor allows stable pagination by created_at/id.
type MovieCursor struct {
	CreatedAt time.Time `json:"createdAt"`
	ID        string    `json:"id"`
}

// MovieListResult returns the paginated payload.
type MovieListResult struct {
	Items      []domain.Movie
	NextCursor *string
}

// Create inserts a new movie row and returns the stored entity.
func (r *MoviesRepository) Create(ctx context.Context, params MovieCreateParams) (domain.Movie, error) {
	poster := strings.TrimSpace(params.Poster)
	if poster == "" {
		poster = domain.DefaultPoster
	}

	query := fmt.Sprintf(`
        INSERT INTO movies (id, title, description, genre, release_year, director, poster)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
        RETURNING %s
    `, movieColumns)

	row := r.db.QueryRow(ctx, query, uuid.NewString(), params.Title, params.Description, params.Genre, params.ReleaseYear, params.Director, poster)
	return scanMovie(row)
}

// GetByID fetches a movie by its identifier.
func (r *MoviesRepository) GetByID(ctx context.Context, id string) (domain.Movie, error) {
	query := fmt.Sprintf(`SELECT %s FROM movies WHERE id = $1`, movieColumns)
	row := r.db.QueryRow(ctx, query, id)
	movie, err := scanMovie(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Movie{}, ErrNotFound
		}
		return domain.Movie{}, err
	}
	return movie, nil
}

// GetMany fetches movies by id, preserving the order of ids and skipping
// unknown ones.
func (r *MoviesRepository) GetMany(ctx context.Context, ids []string) ([]domain.Movie, error) {
	if len(ids) == 0 {
		return []domain.Movie{}, nil
	}
	query := fmt.Sprintf(`SELECT %s FROM movies WHERE id = ANY($1)`, movieColumns)
	rows, err := r.db.Query(ctx, query, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byID := make(map[string]domain.Movie, len(ids))
	for rows.Next() {
		movie, err := scanMovie(rows)
		if err != nil {
			return nil, err
		}
		byID[movie.ID] = movie
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]domain.Movie, 0, len(byID))
	for _, id := range ids {
		if movie, ok := byID[id]; ok {
			out = append(out, movie)
		}
	}
	return out, nil
}

// Update applies a partial catalog update.
func (r *MoviesRepository) Update(ctx context.Context, id string, params MovieUpdateParams) (domain.Movie, error) {
	query := fmt.Sprintf(`
        UPDATE movies
        SET title = COALESCE($2, title),
            description = COALESCE($3, description),
            genre = COALESCE($4, genre),
            release_year = COALESCE($5, release_year),
            director = COALESCE($6, director),
            poster = COALESCE($7, poster),
            updated_at = now()
        WHERE id = $1
        RETURNING %s
    `, movieColumns)

	row := r.db.QueryRow(ctx, query, id, params.Title, params.Description, params.Genre, params.ReleaseYear, params.Director, params.Poster)
	movie, err := scanMovie(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Movie{}, ErrNotFound
		}
		return domain.Movie{}, err
	}
	return movie, nil
}

// Delete removes a movie. Its reviews go with it through ON DELETE CASCADE
// in the same statement.
func (r *MoviesRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM movies WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns movies that match the provided filters.
func (r *MoviesRepository) List(ctx context.Context, filters MovieListFilters) (MovieListResult, error) {
	if filters.Limit <= 0 {
		filters.Limit = 20
	} else if filters.Limit > 100 {
		filters.Limit = 100
	}

	where := make([]string, 0)
	args := make([]any, 0)
	arg := func(value any) string {
		args = append(args, value)
		return fmt.Sprintf("$%d", len(args))
	}

	if filters.Query != nil && strings.TrimSpace(*filters.Query) != "" {
		q := "%" + strings.TrimSpace(*filters.Query) + "%"
		p1 := arg(q)
		p2 := arg(q)
		where = append(where, fmt.Sprintf("(title ILIKE %s OR director ILIKE %s)", p1, p2))
	}
	if filters.Year != nil {
		where = append(where, fmt.Sprintf("release_year = %s", arg(*filters.Year)))
	}
	if filters.Genre != nil && strings.TrimSpace(*filters.Genre) != "" {
		where = append(where, fmt.Sprintf("genre ILIKE %s", arg(strings.TrimSpace(*filters.Genre))))
	}
	if filters.Cursor != nil {
		cursorCreated := arg(filters.Cursor.CreatedAt)
		cursorID := arg(filters.Cursor.ID)
		where = append(where, fmt.Sprintf("(created_at, id) < (%s, %s)", cursorCreated, cursorID))
	}

	queryBuilder := strings.Builder{}
	queryBuilder.WriteString("SELECT ")
	queryBuilder.WriteString(movieColumns)
	queryBuilder.WriteString(" FROM movies")

	if len(where) > 0 {
		queryBuilder.WriteString(" WHERE ")
		queryBuilder.WriteString(strings.Join(where, " AND "))
	}

	queryBuilder.WriteString(" ORDER BY created_at DESC, id DESC")
	queryBuilder.WriteString(fmt.Sprintf(" LIMIT %d", filters.Limit))

	items, err := r.queryMovies(ctx, queryBuilder.String(), args...)
	if err != nil {
		return MovieListResult{}, err
	}

	var nextCursor *string
	if len(items) == filters.Limit {
		last := items[len(items)-1]
		cursor := MovieCursor{CreatedAt: last.CreatedAt, ID: last.ID}
		token, err := encodeCursor(cursor)
		if err != nil {
			return MovieListResult{}, err
		}
		nextCursor = &token
	}

	return MovieListResult{Items: items, NextCursor: nextCursor}, nil
}

// TopRated returns rated movies ordered by average rating, highest first.
func (r *MoviesRepository) TopRated(ctx context.Context, limit int) ([]domain.Movie, error) {
	if limit <= 0 {
		limit = 10
	}
	query := fmt.Sprintf(`
        SELECT %s FROM movies
        WHERE average_rating > 0
        ORDER BY average_rating DESC, created_at DESC, id DESC
        LIMIT $1
    `, movieColumns)
	return r.queryMovies(ctx, query, limit)
}

// MostReviewed returns reviewed movies ordered by review count, highest first.
func (r *MoviesRepository) MostReviewed(ctx context.Context, limit int) ([]domain.Movie, error) {
	if limit <= 0 {
		limit = 10
	}
	query := fmt.Sprintf(`
        SELECT %s FROM movies m
        JOIN (
            SELECT movie_id, COUNT(*) AS review_count
            FROM reviews
            GROUP BY movie_id
        ) c ON c.movie_id = m.id
        ORDER BY c.review_count DESC, m.created_at DESC, m.id DESC
        LIMIT $1
    `, qualifiedMovieColumns)
	return r.queryMovies(ctx, query, limit)
}

// Stats returns the committed aggregate of one movie. A movie without
// reviews reports a zero count and average.
func (r *MoviesRepository) Stats(ctx context.Context, id string) (domain.MovieStats, error) {
	const query = `
        SELECT m.id, m.average_rating, (SELECT COUNT(*) FROM reviews r WHERE r.movie_id = m.id)
        FROM movies m
        WHERE m.id = $1
    `
	var (
		stats domain.MovieStats
		count int64
	)
	err := r.db.QueryRow(ctx, query, id).Scan(&stats.MovieID, &stats.AverageRating, &count)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.MovieStats{}, ErrNotFound
		}
		return domain.MovieStats{}, err
	}
	stats.ReviewCount = int(count)
	return stats, nil
}

// AllStats returns the aggregate of every movie that has at least one review.
func (r *MoviesRepository) AllStats(ctx context.Context) ([]domain.MovieStats, error) {
	const query = `
        SELECT m.id, m.average_rating, COUNT(r.id)
        FROM movies m
        JOIN reviews r ON r.movie_id = m.id
        GROUP BY m.id, m.average_rating
    `
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.MovieStats, 0)
	for rows.Next() {
		var (
			stats domain.MovieStats
			count int64
		)
		if err := rows.Scan(&stats.MovieID, &stats.AverageRating, &count); err != nil {
			return nil, err
		}
		stats.ReviewCount = int(count)
		out = append(out, stats)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *MoviesRepository) lockForUpdate(ctx context.Context, id string) error {
	var locked string
	err := r.db.QueryRow(ctx, `SELECT id FROM movies WHERE id = $1 FOR UPDATE`, id).Scan(&locked)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if isLockTimeout(err) {
			return domain.Errorf(ErrBusy, "movie %s is being updated, retry shortly", id)
		}
		return err
	}
	return nil
}

func (r *MoviesRepository) setAverageRating(ctx context.Context, id string, value float64) error {
	tag, err := r.db.Exec(ctx, `UPDATE movies SET average_rating = $2, updated_at = now() WHERE id = $1`, id, value)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *MoviesRepository) queryMovies(ctx context.Context, query string, args ...any) ([]domain.Movie, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.Movie, 0)
	for rows.Next() {
		movie, err := scanMovie(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, movie)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func scanMovie(row pgx.Row) (domain.Movie, error) {
	var movie domain.Movie
	err := row.Scan(
		&movie.ID,
		&movie.Title,
		&movie.Description,
		&movie.Genre,
		&movie.ReleaseYear,
		&movie.Director,
		&movie.Poster,
		&movie.AverageRating,
		&movie.CreatedAt,
		&movie.UpdatedAt,
	)
	if err != nil {
		return domain.Movie{}, err
	}
	return movie, nil
}

func encodeCursor(c MovieCursor) (string, error) {
	payload, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(payload), nil
}

// DecodeCursor parses a cursor token into a MovieCursor.
func DecodeCursor(token string) (*MovieCursor, error) {
	if token == "" {
		return nil, nil
	}
	data, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("invalid cursor: %w", err)
	}
	var cursor MovieCursor
	if err := json.Unmarshal(data, &cursor); err != nil {
		return nil, fmt.Errorf("invalid cursor payload: %w", err)
	}
	return &cursor, nil
}
