/*
types.go - Cost spread domain types

PURPOSE:
  Defines the records the spread engine works with:
  - SourceLine: the cost to be spread (owned by the host document)
  - Allocation: one computed slice of the cost (transient)
  - SpreadLine: a persisted allocation, realized into exactly one move

LIFECYCLE:
  SourceLine finalized
    -> Calculator.Compute        []Allocation
    -> SpreadLedger.GenerateSchedule   []SpreadLine (pending)
    -> SpreadLedger.Realize      SpreadLine (realized, MoveID set)

  Spread lines are never edited. A schedule is either cleared entirely
  (before any realization) or regenerated entirely.

SEE ALSO:
  - schedule.go: Calculator
  - ledger.go: SpreadLedger
*/
package spread

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/cost-spread/generic"
)

// =============================================================================
// SOURCE LINE - The cost to spread (host record, read-only here)
// =============================================================================

// Accounts are the plain account identifiers resolved once by the host.
// Realizing a spread line credits Spread and debits Target.
type Accounts struct {
	Spread generic.AccountID
	Target generic.AccountID
}

type SourceLine struct {
	ID            generic.SourceLineID
	Description   string
	TotalAmount   decimal.Decimal
	ReferenceDate generic.TimePoint
	PeriodCount   int
	Granularity   generic.Granularity
	AnchorDate    *generic.TimePoint
	Accounts      Accounts

	// OriginMove is the move booked when the host document was finalized.
	// Empty until then.
	OriginMove generic.MoveID
}

// ScheduleInput extracts the calculator input from the line.
func (l SourceLine) ScheduleInput() ScheduleInput {
	return ScheduleInput{
		Total:         l.TotalAmount,
		Periods:       l.PeriodCount,
		Granularity:   l.Granularity,
		ReferenceDate: l.ReferenceDate,
		AnchorDate:    l.AnchorDate,
	}
}

// =============================================================================
// ALLOCATION - Calculator output
// =============================================================================

type Allocation struct {
	Index     int
	PeriodEnd generic.TimePoint
	Amount    decimal.Decimal
}

// TotalOf sums allocation amounts.
func TotalOf(allocs []Allocation) decimal.Decimal {
	total := decimal.Zero
	for _, a := range allocs {
		total = total.Add(a.Amount)
	}
	return total
}

// =============================================================================
// SPREAD LINE - Persisted allocation
// =============================================================================

type SpreadLineID string

type LineState string

const (
	StatePending  LineState = "pending"
	StateRealized LineState = "realized"
)

type SpreadLine struct {
	ID           SpreadLineID
	SourceLineID generic.SourceLineID
	Index        int
	Amount       decimal.Decimal
	DueDate      generic.TimePoint
	MoveID       generic.MoveID
	State        LineState
	RealizedAt   *time.Time
}

func (l SpreadLine) IsRealized() bool { return l.State == StateRealized }

// Details is the navigation target exposed to the host UI: the list of
// spread lines belonging to a source line.
type Details struct {
	TargetRecordType string
	SourceLineID     generic.SourceLineID
}

// SpreadLineRecordType names spread line records for host navigation.
const SpreadLineRecordType = "spread.line"
