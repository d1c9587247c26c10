/*
errors.go - Centralized error types for the generic layer

PURPOSE:
  Errors raised by the journal and host-record primitives. The spread
  package defines its own domain errors (spread/errors.go) and wraps
  these where a collaborator failure must travel up unmodified.

ERROR CATEGORIES:
  1. Journal errors - Move creation/lookup/cancellation failures
  2. Host record errors - Source line lookups

USAGE:
  if errors.Is(err, generic.ErrMoveNotFound) {
      // 404
  }

SEE ALSO:
  - journal.go: Uses these errors
  - spread/errors.go: Domain errors (schedule, cancellation guard)
*/
package generic

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrMoveNotFound is returned when a referenced move doesn't exist.
	ErrMoveNotFound = errors.New("move not found")

	// ErrSourceLineNotFound is returned when a referenced source line doesn't exist.
	ErrSourceLineNotFound = errors.New("source line not found")

	// ErrInvalidMove is returned when a move request is malformed
	// (missing accounts, same account on both sides, zero date).
	ErrInvalidMove = errors.New("invalid move")

	// ErrMoveCancelled is returned when posting or cancelling a cancelled move.
	ErrMoveCancelled = errors.New("move is cancelled")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InvalidMoveError describes why a move request was rejected.
type InvalidMoveError struct {
	Ref    string
	Reason string
}

func (e *InvalidMoveError) Error() string {
	return fmt.Sprintf("invalid move %q: %s", e.Ref, e.Reason)
}

func (e *InvalidMoveError) Unwrap() error {
	return ErrInvalidMove
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrMoveNotFound) ||
		errors.Is(err, ErrSourceLineNotFound)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidMove)
}
