/*
journal.go - Contract with the host journal (ledger posting service)

PURPOSE:
  The journal is the external collaborator that books accounting moves.
  The spread engine never decides HOW a move is booked; it only asks for
  a two-line move (one debit, one credit) of a given amount on a given
  date, and later asks whether a move is posted.

CRITICAL INVARIANTS:
  1. BALANCED: Every move's debits equal its credits
  2. NON-NEGATIVE LINES: Debit and credit columns never carry negative values
  3. IMMUTABLE AMOUNTS: A booked move's lines are never edited; cancellation
     is a state change owned by the host

MOVE STATES:
  draft -> posted -> cancelled
  draft -> cancelled

EXAMPLE FLOW:
  1. Supplier invoice of 1000 is finalized: host books the origin move
  2. Spread line for February is realized: CreateMove(debit expense,
     credit prepaid, 83.33, 2017-03-01)
  3. Host wants to cancel the invoice move: spread.GuardCancel decides

SEE ALSO:
  - store/memory/memory.go: In-memory journal
  - store/sqlite/journal.go: SQLite journal
  - spread/ledger.go: The only caller of CreateMove
*/
package generic

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MOVE - A booked accounting entry
// =============================================================================

type MoveState string

const (
	MoveDraft     MoveState = "draft"
	MovePosted    MoveState = "posted"
	MoveCancelled MoveState = "cancelled"
)

type Move struct {
	ID        MoveID
	Ref       string
	Date      TimePoint
	State     MoveState
	Lines     []MoveLine
	CreatedAt time.Time
}

type MoveLine struct {
	Account AccountID
	Debit   decimal.Decimal
	Credit  decimal.Decimal
	Label   string
}

// Total returns the sum of the debit column.
func (m Move) Total() decimal.Decimal {
	total := decimal.Zero
	for _, l := range m.Lines {
		total = total.Add(l.Debit)
	}
	return total
}

// CreditOn returns the amount credited to account.
func (m Move) CreditOn(account AccountID) decimal.Decimal {
	total := decimal.Zero
	for _, l := range m.Lines {
		if l.Account == account {
			total = total.Add(l.Credit)
		}
	}
	return total
}

// DebitOn returns the amount debited to account.
func (m Move) DebitOn(account AccountID) decimal.Decimal {
	total := decimal.Zero
	for _, l := range m.Lines {
		if l.Account == account {
			total = total.Add(l.Debit)
		}
	}
	return total
}

// =============================================================================
// MOVE REQUEST - What callers ask the journal to book
// =============================================================================

type MoveRequest struct {
	Ref           string
	Date          TimePoint
	DebitAccount  AccountID
	CreditAccount AccountID
	Amount        decimal.Decimal
	Post          bool
}

// Validate checks the request is bookable.
func (r MoveRequest) Validate() error {
	switch {
	case r.DebitAccount == "" || r.CreditAccount == "":
		return &InvalidMoveError{Ref: r.Ref, Reason: "debit and credit accounts are required"}
	case r.DebitAccount == r.CreditAccount:
		return &InvalidMoveError{Ref: r.Ref, Reason: "debit and credit accounts must differ"}
	case r.Date.IsZero():
		return &InvalidMoveError{Ref: r.Ref, Reason: "date is required"}
	}
	return nil
}

// Lines expands the request into a balanced two-line move. A negative amount
// swaps the sides so both columns stay non-negative.
func (r MoveRequest) Lines() []MoveLine {
	debit, credit, amount := r.DebitAccount, r.CreditAccount, r.Amount
	if amount.IsNegative() {
		debit, credit, amount = credit, debit, amount.Neg()
	}
	return []MoveLine{
		{Account: debit, Debit: amount, Credit: decimal.Zero, Label: r.Ref},
		{Account: credit, Debit: decimal.Zero, Credit: amount, Label: r.Ref},
	}
}

// =============================================================================
// JOURNAL - Narrow contract consumed by the spread engine
// =============================================================================

// Journal books moves. It is the only write path from the spread engine into
// the general ledger.
type Journal interface {
	// CreateMove books a two-line move and returns its reference.
	CreateMove(ctx context.Context, req MoveRequest) (MoveID, error)

	// IsPosted reports whether the move is in the posted state.
	IsPosted(ctx context.Context, id MoveID) (bool, error)
}

// MoveBook extends Journal with reads and state changes. The spread engine
// cancels a move only through its cancellation guard.
type MoveBook interface {
	Journal

	Move(ctx context.Context, id MoveID) (*Move, error)
	PostMove(ctx context.Context, id MoveID) error
	CancelMove(ctx context.Context, id MoveID) error
}
