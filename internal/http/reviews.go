package httpserver

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/Clark-Hu/movie-reviews/internal/auth"
	"github.com/Clark-Hu/movie-reviews/internal/domain"
	"github.com/Clark-Hu/movie-reviews/internal/review"
)

type reviewCreateRequest struct {
	MovieID string `json:"movieId" validate:"required"`
	Rating  *int   `json:"rating" validate:"required"`
	Comment string `json:"comment"`
}

// reviewUpdateRequest distinguishes an absent field (nil) from a present one.
type reviewUpdateRequest struct {
	Rating  *int    `json:"rating"`
	Comment *string `json:"comment"`
}

type reviewResponse struct {
	ID         string    `json:"id"`
	MovieID    string    `json:"movieId"`
	UserID     string    `json:"userId"`
	AuthorName string    `json:"authorName"`
	Rating     int       `json:"rating"`
	Comment    string    `json:"comment"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

func (s *Server) handleCreateReview(w http.ResponseWriter, r *http.Request) {
	actor, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		s.respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing or invalid authentication information")
		return
	}

	var req reviewCreateRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		s.respondDecodeError(w, err)
		return
	}
	req.MovieID = strings.TrimSpace(req.MovieID)
	if err := validate.Struct(req); err != nil {
		s.respondValidationError(w, err)
		return
	}

	created, err := s.reviews.Create(r.Context(), actor, review.CreateInput{
		MovieID: req.MovieID,
		Rating:  *req.Rating,
		Comment: req.Comment,
	})
	if err != nil {
		s.respondReviewError(w, "create", err)
		return
	}
	s.respondJSON(w, http.StatusCreated, toReviewResponse(created))
}

func (s *Server) handleUpdateReview(w http.ResponseWriter, r *http.Request) {
	actor, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		s.respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing or invalid authentication information")
		return
	}

	var req reviewUpdateRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		s.respondDecodeError(w, err)
		return
	}

	updated, err := s.reviews.Update(r.Context(), actor, chi.URLParam(r, "id"), review.UpdateInput{
		Rating:  req.Rating,
		Comment: req.Comment,
	})
	if err != nil {
		s.respondReviewError(w, "update", err)
		return
	}
	s.respondJSON(w, http.StatusOK, toReviewResponse(updated))
}

func (s *Server) handleDeleteReview(w http.ResponseWriter, r *http.Request) {
	actor, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		s.respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing or invalid authentication information")
		return
	}

	if err := s.reviews.Delete(r.Context(), actor, chi.URLParam(r, "id")); err != nil {
		s.respondReviewError(w, "delete", err)
		return
	}
	s.respondJSON(w, http.StatusOK, messageResponse{Message: "Review deleted successfully"})
}

// respondReviewError maps review service errors onto HTTP statuses.
func (s *Server) respondReviewError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		s.respondError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", domain.Detail(err, domain.ErrInvalidInput))
	case errors.Is(err, domain.ErrNotFound):
		s.respondError(w, http.StatusNotFound, "NOT_FOUND", "Resource not found")
	case errors.Is(err, domain.ErrForbidden):
		s.respondError(w, http.StatusForbidden, "FORBIDDEN", domain.Detail(err, domain.ErrForbidden))
	case errors.Is(err, domain.ErrConflict):
		s.respondError(w, http.StatusConflict, "CONFLICT", "You have already reviewed this movie")
	case errors.Is(err, domain.ErrBusy):
		w.Header().Set("Retry-After", "1")
		s.respondError(w, http.StatusServiceUnavailable, "BUSY", domain.Detail(err, domain.ErrBusy))
	default:
		s.logger.Error("review mutation failed", zap.String("op", op), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to "+op+" review")
	}
}

func toReviewResponse(r domain.Review) reviewResponse {
	return reviewResponse{
		ID:         r.ID,
		MovieID:    r.MovieID,
		UserID:     r.UserID,
		AuthorName: r.AuthorName,
		Rating:     r.Rating,
		Comment:    r.Comment,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
}

func toReviewResponses(reviews []domain.Review) []reviewResponse {
	items := make([]reviewResponse, 0, len(reviews))
	for _, r := range reviews {
		items = append(items, toReviewResponse(r))
	}
	return items
}
