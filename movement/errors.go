package movement

import (
	"errors"
	"fmt"
)

var (
	// ErrConflict means the tank moved since the caller looked at it. The
	// caller should refresh and retry.
	ErrConflict = errors.New("movement: tank state changed, refresh and retry")
	// ErrTimeout means the unit of work did not finish in time. Nothing was
	// written; the request can be retried.
	ErrTimeout = errors.New("movement: timed out")
)

// ValidationError rejects an intent before anything is written.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("movement: invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// DisplacementError means the destination consumer could not be freed.
type DisplacementError struct {
	ConsumerID int64
	TankID     int64
	Err        error
}

func (e *DisplacementError) Error() string {
	return fmt.Sprintf("movement: cannot free destination slot (consumer %d, tank %d): %v", e.ConsumerID, e.TankID, e.Err)
}

func (e *DisplacementError) Unwrap() error { return e.Err }

// PersistenceError means the primary write failed. Displaced reports whether
// a displacement was part of the rolled back unit. Inconsistent is set when
// the commit succeeded but the latest index does not show the new record.
type PersistenceError struct {
	Op           string
	Displaced    bool
	Inconsistent bool
	Err          error
}

func (e *PersistenceError) Error() string {
	s := fmt.Sprintf("movement: %s: %v", e.Op, e.Err)
	if e.Displaced {
		s += " (displacement rolled back)"
	}
	return s
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Kind names the error class for logs, metrics and events.
func Kind(err error) string {
	var ve *ValidationError
	var de *DisplacementError
	var pe *PersistenceError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &ve):
		return "validation"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.As(err, &de):
		return "displacement"
	case errors.As(err, &pe):
		if pe.Inconsistent {
			return "inconsistent"
		}
		return "persistence"
	}
	return "internal"
}
