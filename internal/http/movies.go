package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/Clark-Hu/movie-reviews/internal/domain"
	"github.com/Clark-Hu/movie-reviews/internal/repository"
)

const (
	maxRequestBody  = 1 << 20 // 1 MiB
	defaultRankSize = 10
	maxRankSize     = 50
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type errorResponse struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type movieCreateRequest struct {
	Title       string `json:"title" validate:"required,max=200"`
	Description string `json:"description" validate:"max=5000"`
	Genre       string `json:"genre" validate:"required,max=100"`
	ReleaseYear int    `json:"releaseYear" validate:"required,gte=1900,lte=2100"`
	Director    string `json:"director" validate:"required,max=200"`
	Poster      string `json:"poster" validate:"omitempty,url,max=2048"`
}

type movieUpdateRequest struct {
	Title       *string `json:"title" validate:"omitnil,min=1,max=200"`
	Description *string `json:"description" validate:"omitnil,max=5000"`
	Genre       *string `json:"genre" validate:"omitnil,min=1,max=100"`
	ReleaseYear *int    `json:"releaseYear" validate:"omitnil,gte=1900,lte=2100"`
	Director    *string `json:"director" validate:"omitnil,min=1,max=200"`
	Poster      *string `json:"poster" validate:"omitnil,url,max=2048"`
}

type movieListResponse struct {
	Items      []movieResponse `json:"items"`
	NextCursor *string         `json:"nextCursor,omitempty"`
}

type movieResponse struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Description   string    `json:"description"`
	Genre         string    `json:"genre"`
	ReleaseYear   int       `json:"releaseYear"`
	Director      string    `json:"director"`
	Poster        string    `json:"poster"`
	AverageRating float64   `json:"averageRating"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

type movieDetailResponse struct {
	Movie   movieResponse    `json:"movie"`
	Reviews []reviewResponse `json:"reviews"`
}

func (s *Server) handleListMovies(w http.ResponseWriter, r *http.Request) {
	filters, err := buildMovieFilters(r.URL.Query())
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}

	result, err := s.repo.Movies.List(r.Context(), filters)
	if err != nil {
		s.logger.Error("list movies failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list movies")
		return
	}

	resp := movieListResponse{
		Items:      toMovieResponses(result.Items),
		NextCursor: result.NextCursor,
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func buildMovieFilters(query url.Values) (repository.MovieListFilters, error) {
	var filters repository.MovieListFilters

	if q := strings.TrimSpace(query.Get("q")); q != "" {
		filters.Query = &q
	}
	if val := strings.TrimSpace(query.Get("year")); val != "" {
		year, err := strconv.Atoi(val)
		if err != nil {
			return filters, fmt.Errorf("invalid year value")
		}
		filters.Year = &year
	}
	if val := strings.TrimSpace(query.Get("genre")); val != "" {
		filters.Genre = &val
	}
	if val := strings.TrimSpace(query.Get("limit")); val != "" {
		limit, err := strconv.Atoi(val)
		if err != nil {
			return filters, fmt.Errorf("invalid limit value")
		}
		filters.Limit = limit
	}
	if val := strings.TrimSpace(query.Get("cursor")); val != "" {
		cursor, err := repository.DecodeCursor(val)
		if err != nil {
			return filters, fmt.Errorf("invalid cursor")
		}
		filters.Cursor = cursor
	}
	return filters, nil
}

func parseRankLimit(query url.Values) (int, error) {
	val := strings.TrimSpace(query.Get("limit"))
	if val == "" {
		return defaultRankSize, nil
	}
	limit, err := strconv.Atoi(val)
	if err != nil || limit <= 0 {
		return 0, fmt.Errorf("invalid limit value")
	}
	if limit > maxRankSize {
		limit = maxRankSize
	}
	return limit, nil
}

func (s *Server) handleTopMovies(w http.ResponseWriter, r *http.Request) {
	s.handleRanking(w, r, "top", Rankings.Top, s.repo.Movies.TopRated)
}

func (s *Server) handlePopularMovies(w http.ResponseWriter, r *http.Request) {
	s.handleRanking(w, r, "popular", Rankings.Popular, s.repo.Movies.MostReviewed)
}

// handleRanking serves a ranking from the board and falls back to the
// database when the board is unavailable or failing, or when it cannot fill
// the requested page.
func (s *Server) handleRanking(
	w http.ResponseWriter,
	r *http.Request,
	name string,
	fromBoard func(b Rankings, ctx context.Context, limit int) ([]string, error),
	fromDB func(ctx context.Context, limit int) ([]domain.Movie, error),
) {
	limit, err := parseRankLimit(r.URL.Query())
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}

	var movies []domain.Movie
	if s.board != nil && s.board.Available() {
		ids, err := fromBoard(s.board, r.Context(), limit)
		switch {
		case err != nil:
			s.logger.Warn("ranking board read failed, using database", zap.String("ranking", name), zap.Error(err))
		case len(ids) == limit:
			movies, err = s.repo.Movies.GetMany(r.Context(), ids)
			if err != nil {
				s.logger.Error("load ranked movies failed", zap.String("ranking", name), zap.Error(err))
				s.respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load ranking")
				return
			}
			if len(movies) < limit {
				movies = nil
			}
		}
	}
	if movies == nil {
		movies, err = fromDB(r.Context(), limit)
		if err != nil {
			s.logger.Error("ranking query failed", zap.String("ranking", name), zap.Error(err))
			s.respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load ranking")
			return
		}
	}

	s.respondJSON(w, http.StatusOK, movieListResponse{Items: toMovieResponses(movies)})
}

func (s *Server) handleGetMovie(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	movie, err := s.repo.Movies.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "NOT_FOUND", "Movie not found")
			return
		}
		s.logger.Error("fetch movie failed", zap.String("movie_id", id), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to fetch movie")
		return
	}

	reviews, err := s.repo.Reviews.ListByMovie(r.Context(), movie.ID)
	if err != nil {
		s.logger.Error("list reviews failed", zap.String("movie_id", id), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to fetch movie")
		return
	}

	s.respondJSON(w, http.StatusOK, movieDetailResponse{
		Movie:   toMovieResponse(movie),
		Reviews: toReviewResponses(reviews),
	})
}

func (s *Server) handleCreateMovie(w http.ResponseWriter, r *http.Request) {
	var req movieCreateRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		s.respondDecodeError(w, err)
		return
	}
	req.Title = strings.TrimSpace(req.Title)
	req.Description = strings.TrimSpace(req.Description)
	req.Genre = strings.TrimSpace(req.Genre)
	req.Director = strings.TrimSpace(req.Director)
	req.Poster = strings.TrimSpace(req.Poster)
	if err := validate.Struct(req); err != nil {
		s.respondValidationError(w, err)
		return
	}

	movie, err := s.repo.Movies.Create(r.Context(), repository.MovieCreateParams{
		Title:       req.Title,
		Description: req.Description,
		Genre:       req.Genre,
		ReleaseYear: req.ReleaseYear,
		Director:    req.Director,
		Poster:      req.Poster,
	})
	if err != nil {
		s.logger.Error("create movie failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to create movie")
		return
	}

	w.Header().Set("Location", "/movies/"+url.PathEscape(movie.ID))
	s.respondJSON(w, http.StatusCreated, toMovieResponse(movie))
}

func (s *Server) handleUpdateMovie(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))

	var req movieUpdateRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		s.respondDecodeError(w, err)
		return
	}
	req.Title = trimStringPtr(req.Title)
	req.Description = trimStringPtr(req.Description)
	req.Genre = trimStringPtr(req.Genre)
	req.Director = trimStringPtr(req.Director)
	req.Poster = trimStringPtr(req.Poster)
	if req.Poster != nil && *req.Poster == "" {
		poster := domain.DefaultPoster
		req.Poster = &poster
	}
	if err := validate.Struct(req); err != nil {
		s.respondValidationError(w, err)
		return
	}

	movie, err := s.repo.Movies.Update(r.Context(), id, repository.MovieUpdateParams{
		Title:       req.Title,
		Description: req.Description,
		Genre:       req.Genre,
		ReleaseYear: req.ReleaseYear,
		Director:    req.Director,
		Poster:      req.Poster,
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "NOT_FOUND", "Movie not found")
			return
		}
		s.logger.Error("update movie failed", zap.String("movie_id", id), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to update movie")
		return
	}
	s.respondJSON(w, http.StatusOK, toMovieResponse(movie))
}

func (s *Server) handleDeleteMovie(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if err := s.repo.Movies.Delete(r.Context(), id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "NOT_FOUND", "Movie not found")
			return
		}
		s.logger.Error("delete movie failed", zap.String("movie_id", id), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to delete movie")
		return
	}
	if s.board != nil {
		if err := s.board.Remove(r.Context(), id); err != nil {
			s.logger.Warn("remove movie from rankings failed", zap.String("movie_id", id), zap.Error(err))
		}
	}
	s.respondJSON(w, http.StatusOK, messageResponse{Message: "Movie deleted successfully"})
}

func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	return nil
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			s.logger.Warn("failed to encode response", zap.Error(err))
		}
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, code, message string) {
	s.respondJSON(w, status, errorResponse{
		Code:    code,
		Message: message,
	})
}

func (s *Server) respondDecodeError(w http.ResponseWriter, err error) {
	var syntaxError *json.SyntaxError
	var typeError *json.UnmarshalTypeError
	var maxBytesError *http.MaxBytesError
	switch {
	case errors.As(err, &syntaxError):
		s.respondError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Malformed JSON payload")
	case errors.As(err, &typeError):
		s.respondError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", fmt.Sprintf("Invalid value for field %s", typeError.Field))
	case errors.Is(err, io.EOF):
		s.respondError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Request body cannot be empty")
	case errors.As(err, &maxBytesError):
		s.respondError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "Request body too large")
	default:
		s.respondError(w, http.StatusBadRequest, "BAD_REQUEST", "Unable to parse request body")
	}
}

func (s *Server) respondValidationError(w http.ResponseWriter, err error) {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		s.respondError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Invalid request payload")
		return
	}

	fields := make(map[string]string, len(fieldErrs))
	messages := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msg := validationMessage(fe)
		fields[jsonFieldName(fe.Field())] = msg
		messages = append(messages, msg)
	}
	s.respondJSON(w, http.StatusUnprocessableEntity, errorResponse{
		Code:    "VALIDATION_ERROR",
		Message: strings.Join(messages, "; "),
		Details: map[string]interface{}{"fields": fields},
	})
}

func validationMessage(fe validator.FieldError) string {
	field := jsonFieldName(fe.Field())
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "min":
		return field + " must not be empty"
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be greater than or equal to %s", field, fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be less than or equal to %s", field, fe.Param())
	case "url":
		return field + " must be a valid URL"
	default:
		return field + " is invalid"
	}
}

// jsonFieldName maps a request struct field to its JSON key.
func jsonFieldName(goName string) string {
	switch goName {
	case "MovieID":
		return "movieId"
	case "":
		return goName
	}
	return strings.ToLower(goName[:1]) + goName[1:]
}

func toMovieResponse(movie domain.Movie) movieResponse {
	return movieResponse{
		ID:            movie.ID,
		Title:         movie.Title,
		Description:   movie.Description,
		Genre:         movie.Genre,
		ReleaseYear:   movie.ReleaseYear,
		Director:      movie.Director,
		Poster:        movie.Poster,
		AverageRating: roundToOneDecimal(movie.AverageRating),
		CreatedAt:     movie.CreatedAt,
		UpdatedAt:     movie.UpdatedAt,
	}
}

func toMovieResponses(movies []domain.Movie) []movieResponse {
	items := make([]movieResponse, 0, len(movies))
	for _, movie := range movies {
		items = append(items, toMovieResponse(movie))
	}
	return items
}

func trimStringPtr(ptr *string) *string {
	if ptr == nil {
		return nil
	}
	val := strings.TrimSpace(*ptr)
	return &val
}

func roundToOneDecimal(value float64) float64 {
	return math.Round(value*10) / 10.0
}
