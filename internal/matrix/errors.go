package matrix

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedMatrix is returned when a source cannot be turned into a rectangular grid.
	ErrMalformedMatrix = errors.New("matrix: malformed matrix")
	// ErrPersistence wraps store failures; an ingestion pass aborts on it.
	ErrPersistence = errors.New("matrix: persistence failure")
	// ErrInvalidScope is returned when a write targets an incomplete scope.
	ErrInvalidScope = errors.New("matrix: invalid scope")
	// ErrDimensionRange is returned for a lookup outside 0..MaxDimension.
	ErrDimensionRange = errors.New("matrix: dimension out of range")
)

// MalformedError carries the offending source line (1-based, 0 when unknown).
type MalformedError struct {
	Line   int
	Reason string
}

func (e *MalformedError) Error() string {
	if e == nil {
		return ""
	}
	if e.Line > 0 {
		return fmt.Sprintf("matrix: malformed matrix at line %d: %s", e.Line, e.Reason)
	}
	return "matrix: malformed matrix: " + e.Reason
}

// Unwrap lets errors.Is match ErrMalformedMatrix.
func (e *MalformedError) Unwrap() error {
	return ErrMalformedMatrix
}

func malformed(line int, format string, args ...any) error {
	return &MalformedError{Line: line, Reason: fmt.Sprintf(format, args...)}
}
