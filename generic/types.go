/*
Package generic provides the domain-agnostic primitives of the cost spread engine.

PURPOSE:
  This package contains the money, calendar, and journal types the spread
  engine is built on. Nothing in here knows about invoices or spread lines;
  the spread package composes these pieces into schedules and realizations.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money helpers: decimal rounding and summing at currency precision
  - Identifiers: type-safe account / move / source line IDs

DESIGN PRINCIPLES:
  1. Precision: Uses decimal.Decimal, never float64, for every amount
  2. Type Safety: Strong typing for IDs prevents mixing accounts and moves
  3. Determinism: Rounding is half away from zero at a fixed precision

USAGE:
  share := generic.RoundMoney(total.Div(decimal.NewFromInt(12)), generic.CurrencyPrecision)

SEE ALSO:
  - time.go: Calendar dates (TimePoint)
  - period.go: Granularity and period boundaries
  - journal.go: Move / Journal contract
*/
package generic

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY
// =============================================================================

// CurrencyPrecision is the default number of decimal places kept on amounts.
const CurrencyPrecision int32 = 2

// RoundMoney rounds to the given number of places, half away from zero.
func RoundMoney(d decimal.Decimal, places int32) decimal.Decimal {
	return d.Round(places)
}

// MustParseDecimal parses s, returning zero when s is not a number.
func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type AccountID string
type MoveID string
type SourceLineID string

func (id MoveID) IsZero() bool { return id == "" }

// NewID returns a random identifier with the given prefix ("mv-3f2a...").
func NewID(prefix string) string {
	return prefix + "-" + uuid.NewString()
}
