package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestDetailSurvivesWrapping(t *testing.T) {
	err := fmt.Errorf("create review: %w", fmt.Errorf("tx: %w", Errorf(ErrInvalidInput, "rating must be between %d and %d", 1, 5)))
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("errors.Is lost the sentinel: %v", err)
	}
	if got := Detail(err, ErrInvalidInput); got != "rating must be between 1 and 5" {
		t.Fatalf("Detail = %q", got)
	}
	if got := Detail(fmt.Errorf("get: %w", ErrNotFound), ErrNotFound); got != "not found" {
		t.Fatalf("Detail without detail = %q", got)
	}
}
