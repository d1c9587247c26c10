package spread

import (
	"github.com/shopspring/decimal"
	"github.com/warp/cost-spread/generic"
)

// =============================================================================
// DAY COUNT - Stub proration convention
// =============================================================================

// DayCount computes the share of a full period that a stub period carries.
// The stub amount is nominal share * Fraction(stub, full).
type DayCount interface {
	Fraction(stub, full generic.Period) decimal.Decimal
}

// DayCountFunc adapts a function to DayCount.
type DayCountFunc func(stub, full generic.Period) decimal.Decimal

func (f DayCountFunc) Fraction(stub, full generic.Period) decimal.Decimal { return f(stub, full) }

// fractionPrecision bounds the repeating decimals of day ratios (31/91...).
const fractionPrecision int32 = 16

// ActualActual divides actual calendar days in the stub by actual calendar
// days in the full period.
type ActualActual struct{}

func (ActualActual) Fraction(stub, full generic.Period) decimal.Decimal {
	return ratio(stub.Days(), full.Days())
}

// Thirty360 counts every month as 30 days (30/360 US convention).
type Thirty360 struct{}

func (Thirty360) Fraction(stub, full generic.Period) decimal.Decimal {
	return ratio(days360(stub.Start, stub.End), days360(full.Start, full.End))
}

func days360(from, to generic.TimePoint) int {
	d1, d2 := from.Day(), to.Day()
	if d1 == 31 {
		d1 = 30
	}
	if d2 == 31 && d1 == 30 {
		d2 = 30
	}
	return 360*(to.Year()-from.Year()) + 30*(int(to.Month())-int(from.Month())) + d2 - d1
}

func ratio(num, den int) decimal.Decimal {
	if den <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(num)).DivRound(decimal.NewFromInt(int64(den)), fractionPrecision)
}

// DayCountByName resolves a configured convention name.
func DayCountByName(name string) (DayCount, bool) {
	switch name {
	case "", "actual/actual", "actual":
		return ActualActual{}, true
	case "30/360", "thirty360":
		return Thirty360{}, true
	}
	return nil, false
}
