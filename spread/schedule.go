/*
schedule.go - Amortization schedule calculator

PURPOSE:
  Turns a cost, a period count, a granularity and an optional anchor date
  into an ordered list of dated allocations whose amounts add up to the
  cost exactly. Pure: no I/O, no clock, no randomness.

ANCHORING:
  With an anchor date:
    - allocation 0 ends on the anchor (a short or long stub from the
      reference date; an anchor before the reference date gets no share)
    - PeriodCount-1 full periods follow
    - PeriodCount allocations in total

  Without an anchor date:
    - allocation 0 is a leading stub from the reference date to the first
      period boundary on or after it (zero days if already on a boundary)
    - PeriodCount full periods follow
    - PeriodCount+1 allocations in total (also when PeriodCount == 1)

AMOUNTS:
  1. Nominal share: total / PeriodCount rounded to currency precision.
     Quarterly shares are quoted as three rounded monthly shares.
  2. Stub (allocation 0): nominal * DayCount.Fraction(stub, next full period)
  3. Full periods: nominal
  4. Final allocation: total - sum(previous). Absorbs every rounding cent.

EXAMPLE:
  calc := spread.NewCalculator()
  allocs, err := calc.Compute(spread.ScheduleInput{
      Total:         decimal.NewFromInt(1000),
      Periods:       3,
      Granularity:   generic.GranularityYear,
      ReferenceDate: generic.NewTimePoint(2017, time.July, 1),
  })
  // 4 allocations ending 2018-01-01, 2019-01-01, 2020-01-01, 2021-01-01
  // 168.03 (184/365 of 333.33), 333.33, 333.33, 165.31

SEE ALSO:
  - daycount.go: Stub proration conventions
  - generic/period.go: Boundaries and month-end clamped advancement
*/
package spread

import (
	"github.com/shopspring/decimal"
	"github.com/warp/cost-spread/generic"
)

type ScheduleInput struct {
	Total         decimal.Decimal
	Periods       int
	Granularity   generic.Granularity
	ReferenceDate generic.TimePoint
	AnchorDate    *generic.TimePoint
}

// Calculator computes spread schedules.
type Calculator struct {
	DayCount  DayCount
	Periods   generic.PeriodConfig
	Precision int32
}

// NewCalculator returns a calculator with actual/actual proration, calendar
// year boundaries and 2-decimal precision.
func NewCalculator() *Calculator {
	return &Calculator{
		DayCount:  ActualActual{},
		Precision: generic.CurrencyPrecision,
	}
}

// Compute builds the allocation sequence for in.
func (c *Calculator) Compute(in ScheduleInput) ([]Allocation, error) {
	if err := c.validate(in); err != nil {
		return nil, err
	}

	ends := c.periodEnds(in)
	nominal := c.nominalShare(in)

	// The stub is prorated against the full period that follows it. An
	// anchor before the reference date gives a negative span, prorated as
	// nothing; the final allocation absorbs its share.
	stub := generic.Period{Start: in.ReferenceDate, End: ends[0]}
	full := generic.PeriodStartingAt(ends[0], in.Granularity)
	fraction := c.DayCount.Fraction(stub, full)
	if fraction.IsNegative() {
		fraction = decimal.Zero
	}

	allocs := make([]Allocation, len(ends))
	allocated := decimal.Zero
	for i, end := range ends {
		var amount decimal.Decimal
		switch {
		case i == len(ends)-1:
			amount = in.Total.Sub(allocated)
		case i == 0:
			amount = generic.RoundMoney(nominal.Mul(fraction), c.Precision)
		default:
			amount = nominal
		}
		allocated = allocated.Add(amount)
		allocs[i] = Allocation{Index: i, PeriodEnd: end, Amount: amount}
	}
	return allocs, nil
}

func (c *Calculator) validate(in ScheduleInput) error {
	switch {
	case in.Periods < 1:
		return &InvalidScheduleInputError{Field: "period_count", Reason: "must be at least 1"}
	case !in.Granularity.Valid():
		return &InvalidScheduleInputError{Field: "granularity", Reason: "must be month, quarter or year"}
	case in.ReferenceDate.IsZero():
		return &InvalidScheduleInputError{Field: "reference_date", Reason: "is required"}
	case c.DayCount == nil:
		return &InvalidScheduleInputError{Field: "day_count", Reason: "no convention configured"}
	}
	return nil
}

// periodEnds returns the end date of every allocation, each one granularity
// unit after the previous.
func (c *Calculator) periodEnds(in ScheduleInput) []generic.TimePoint {
	var first generic.TimePoint
	count := in.Periods
	if in.AnchorDate != nil {
		first = *in.AnchorDate
	} else {
		first = c.Periods.NextBoundary(in.ReferenceDate, in.Granularity)
		count++
	}

	ends := make([]generic.TimePoint, count)
	ends[0] = first
	for i := 1; i < count; i++ {
		ends[i] = in.Granularity.Advance(ends[i-1], 1)
	}
	return ends
}

func (c *Calculator) nominalShare(in ScheduleInput) decimal.Decimal {
	quote := 1
	if in.Granularity == generic.GranularityQuarter {
		quote = in.Granularity.Months()
	}
	units := decimal.NewFromInt(int64(in.Periods * quote))
	perUnit := generic.RoundMoney(in.Total.Div(units), c.Precision)
	return perUnit.Mul(decimal.NewFromInt(int64(quote)))
}

// Compute runs the default calculator.
func Compute(in ScheduleInput) ([]Allocation, error) {
	return NewCalculator().Compute(in)
}
