package httpserver

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Clark-Hu/movie-reviews/internal/auth"
	"github.com/Clark-Hu/movie-reviews/internal/domain"
)

func BenchmarkHandleCreateReview(b *testing.B) {
	srv := buildTestServer(b)
	movie := createMovie(b, srv, "Benchmark Movie")
	payload := []byte(fmt.Sprintf(`{"movieId":%q,"rating":4,"comment":"bench"}`, movie.ID))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		req := httptest.NewRequest(http.MethodPost, "/reviews", bytes.NewReader(payload))
		actor := domain.Principal{ID: fmt.Sprintf("bench-%d", i), Name: "bench", Role: domain.RoleUser}
		req = req.WithContext(auth.WithPrincipal(req.Context(), actor))
		rec := httptest.NewRecorder()

		srv.handleCreateReview(rec, req)
		if rec.Code != http.StatusCreated {
			b.Fatalf("unexpected status %d", rec.Code)
		}
	}
}
