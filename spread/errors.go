package spread

import (
	"errors"
	"fmt"

	"github.com/warp/cost-spread/generic"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidScheduleInput is returned by Compute for malformed requests.
	// Never auto-corrected.
	ErrInvalidScheduleInput = errors.New("invalid schedule input")

	// ErrScheduleAlreadyExists is returned when generating a schedule for a
	// source line that already has spread lines.
	ErrScheduleAlreadyExists = errors.New("spread schedule already exists")

	// ErrCancellationBlocked is returned by GuardCancel when undoing the
	// origin move would orphan booked or pending spread lines.
	ErrCancellationBlocked = errors.New("cancellation blocked by spread lines")

	// ErrScheduleRealized is returned when clearing a schedule that has at
	// least one realized line.
	ErrScheduleRealized = errors.New("spread schedule has realized lines")

	// ErrAlreadyFinalized is returned when finalizing a source line that
	// already has an origin move.
	ErrAlreadyFinalized = errors.New("source line already finalized")

	// ErrSpreadLineNotFound is returned when a referenced spread line doesn't exist.
	ErrSpreadLineNotFound = errors.New("spread line not found")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

type InvalidScheduleInputError struct {
	Field  string
	Reason string
}

func (e *InvalidScheduleInputError) Error() string {
	return fmt.Sprintf("invalid schedule input: %s: %s", e.Field, e.Reason)
}

func (e *InvalidScheduleInputError) Unwrap() error {
	return ErrInvalidScheduleInput
}

type ScheduleExistsError struct {
	SourceLineID generic.SourceLineID
	Lines        int
}

func (e *ScheduleExistsError) Error() string {
	return fmt.Sprintf("source line %s already has %d spread lines; clear the schedule first",
		e.SourceLineID, e.Lines)
}

func (e *ScheduleExistsError) Unwrap() error {
	return ErrScheduleAlreadyExists
}

// CancellationBlockedError is a business-rule violation the host must show
// to the user as a blocking warning.
type CancellationBlockedError struct {
	SourceLineID generic.SourceLineID
	MoveID       generic.MoveID
	Realized     int
	Pending      int
	Reason       string
}

func (e *CancellationBlockedError) Error() string {
	return fmt.Sprintf("cannot cancel move %s: %s", e.MoveID, e.Reason)
}

func (e *CancellationBlockedError) Unwrap() error {
	return ErrCancellationBlocked
}

// Warning is the end-user text for the blocking warning.
func (e *CancellationBlockedError) Warning() string {
	if e.Realized > 0 {
		return fmt.Sprintf(
			"This entry cannot be cancelled: %d spread line(s) of %s are already booked. Reverse those entries first.",
			e.Realized, e.SourceLineID)
	}
	return fmt.Sprintf(
		"This posted entry cannot be cancelled while %s has a spread schedule (%d line(s)). Clear the schedule first.",
		e.SourceLineID, e.Pending)
}

type ScheduleRealizedError struct {
	SourceLineID generic.SourceLineID
	Realized     int
}

func (e *ScheduleRealizedError) Error() string {
	return fmt.Sprintf("source line %s has %d realized spread lines", e.SourceLineID, e.Realized)
}

func (e *ScheduleRealizedError) Unwrap() error {
	return ErrScheduleRealized
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsConflict returns true if the error is a state conflict the caller can
// resolve (clear first, reverse first).
func IsConflict(err error) bool {
	return errors.Is(err, ErrScheduleAlreadyExists) ||
		errors.Is(err, ErrScheduleRealized) ||
		errors.Is(err, ErrAlreadyFinalized) ||
		errors.Is(err, ErrCancellationBlocked)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidScheduleInput) || generic.IsClientError(err)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrSpreadLineNotFound) || generic.IsNotFound(err)
}
