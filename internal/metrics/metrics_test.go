package metrics

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/Clark-Hu/movie-reviews/internal/domain"
)

func TestOutcome(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "ok"},
		{fmt.Errorf("review x: %w", domain.ErrNotFound), "not_found"},
		{domain.ErrForbidden, "forbidden"},
		{fmt.Errorf("wrapped: %w", domain.ErrConflict), "conflict"},
		{domain.ErrInvalidInput, "invalid"},
		{domain.Errorf(domain.ErrBusy, "movie m1 is being updated"), "busy"},
		{errors.New("boom"), "error"},
	}
	for _, tt := range tests {
		if got := Outcome(tt.err); got != tt.want {
			t.Fatalf("Outcome(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}

func TestObserveReviewMutation(t *testing.T) {
	before := testutil.ToFloat64(ReviewMutations.WithLabelValues("create", "conflict"))
	ObserveReviewMutation("create", domain.ErrConflict, 3*time.Millisecond)
	after := testutil.ToFloat64(ReviewMutations.WithLabelValues("create", "conflict"))
	if after != before+1 {
		t.Fatalf("counter = %v, want %v", after, before+1)
	}
}

func TestObserveHTTPRequest(t *testing.T) {
	before := testutil.ToFloat64(HTTPRequests.WithLabelValues("GET", "unmatched", "404"))
	ObserveHTTPRequest("GET", "", 404, time.Millisecond)
	after := testutil.ToFloat64(HTTPRequests.WithLabelValues("GET", "unmatched", "404"))
	if after != before+1 {
		t.Fatalf("counter = %v, want %v", after, before+1)
	}
}

func TestRegisterPoolStats_NilStats(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := RegisterPoolStats(reg, func() *pgxpool.Stat { return nil }); err != nil {
		t.Fatalf("register: %v", err)
	}
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(families) != 3 {
		t.Fatalf("gathered %d families, want 3", len(families))
	}
	for _, f := range families {
		if v := f.GetMetric()[0].GetGauge().GetValue(); v != 0 {
			t.Fatalf("%s = %v, want 0", f.GetName(), v)
		}
	}
}
