package domain

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by the stores, the review service and the HTTP layer.
// Wrap with fmt.Errorf("...: %w", err) and match with errors.Is.
var (
	ErrNotFound     = errors.New("not found")
	ErrForbidden    = errors.New("forbidden")
	ErrConflict     = errors.New("conflict")
	ErrInvalidInput = errors.New("invalid input")
	// ErrBusy reports that a lock could not be acquired in time; the caller
	// may retry.
	ErrBusy = errors.New("busy")
)

// DetailError attaches a client-facing detail to one of the sentinels above.
// errors.Is still matches the sentinel; errors.As recovers the detail even
// after further wrapping.
type DetailError struct {
	Kind   error
	Detail string
}

func (e *DetailError) Error() string {
	return e.Kind.Error() + ": " + e.Detail
}

func (e *DetailError) Unwrap() error {
	return e.Kind
}

// Errorf builds a DetailError of the given kind.
func Errorf(kind error, format string, args ...any) error {
	return &DetailError{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// Detail returns the client-facing detail carried by err, or the text of
// fallback when err carries none.
func Detail(err, fallback error) string {
	var de *DetailError
	if errors.As(err, &de) && de.Detail != "" {
		return de.Detail
	}
	return fallback.Error()
}
