/*
store.go - Persistence contract for spread lines

PURPOSE:
  Defines what the SpreadLedger needs from the host persistence layer:
  spread line rows keyed by (source line, sequence index) and a unit of
  work that also carries the journal and the origin move link, so that
  writing a move and the spread lines it affects commit or roll back
  together.

UNIT OF WORK:
  Every SpreadLedger mutation runs inside TxStore.WithTx. The function
  receives a UnitOfWork bound to the ambient transaction; nothing reaches
  for a process-wide connection or singleton.

IMPLEMENTATIONS:
  - store/memory: snapshot + rollback, for tests and dev
  - store/sqlite: database/sql transaction

SEE ALSO:
  - ledger.go: The only consumer
  - generic/journal.go: Journal contract
*/
package spread

import (
	"context"

	"github.com/warp/cost-spread/generic"
)

// Store persists spread lines.
type Store interface {
	// SaveSpreadLines inserts a full schedule. Rows are unique on
	// (SourceLineID, Index).
	SaveSpreadLines(ctx context.Context, lines []SpreadLine) error

	// SpreadLines returns the lines of a source line ordered by Index.
	SpreadLines(ctx context.Context, sourceLineID generic.SourceLineID) ([]SpreadLine, error)

	// SpreadLine returns one line or ErrSpreadLineNotFound.
	SpreadLine(ctx context.Context, id SpreadLineID) (*SpreadLine, error)

	// MarkRealized stores the move reference and flips the line to realized.
	MarkRealized(ctx context.Context, id SpreadLineID, move generic.MoveID) error

	// DeleteSpreadLines removes every line of a source line.
	DeleteSpreadLines(ctx context.Context, sourceLineID generic.SourceLineID) error

	// PendingDue returns pending lines with DueDate <= asOf ordered by
	// DueDate, then source line, then Index.
	PendingDue(ctx context.Context, asOf generic.TimePoint) ([]SpreadLine, error)
}

// UnitOfWork is the transaction-bound view handed to WithTx callbacks.
type UnitOfWork interface {
	Store
	generic.MoveBook

	// SetOriginMove links a source line to the move its document booked.
	SetOriginMove(ctx context.Context, id generic.SourceLineID, move generic.MoveID) error
}

// TxStore runs units of work. Reads outside a unit of work go through the
// embedded UnitOfWork.
type TxStore interface {
	UnitOfWork

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(UnitOfWork) error) error
}
