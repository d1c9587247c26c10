package generic

import (
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// GRANULARITY - The unit by which spread periods advance
// =============================================================================

type Granularity string

const (
	GranularityMonth   Granularity = "month"
	GranularityQuarter Granularity = "quarter"
	GranularityYear    Granularity = "year"
)

// ParseGranularity accepts "month", "quarter", "year" in any case.
func ParseGranularity(s string) (Granularity, error) {
	g := Granularity(strings.ToLower(strings.TrimSpace(s)))
	if !g.Valid() {
		return "", fmt.Errorf("unsupported granularity %q", s)
	}
	return g, nil
}

func (g Granularity) Valid() bool {
	switch g {
	case GranularityMonth, GranularityQuarter, GranularityYear:
		return true
	}
	return false
}

// Months returns how many calendar months one unit spans (1, 3, 12).
func (g Granularity) Months() int {
	switch g {
	case GranularityMonth:
		return 1
	case GranularityQuarter:
		return 3
	case GranularityYear:
		return 12
	default:
		return 0
	}
}

// Advance moves tp forward by n units, month-end clamped.
func (g Granularity) Advance(tp TimePoint, n int) TimePoint {
	if g == GranularityYear {
		return tp.AddYears(n)
	}
	return tp.AddMonths(g.Months() * n)
}

// =============================================================================
// PERIOD - Half-open span [Start, End)
// =============================================================================

// Period is the span covered by one allocation. End is exclusive: a monthly
// period ending 2017-02-01 covers January.
type Period struct {
	Start TimePoint
	End   TimePoint
}

// Days returns the number of calendar days in the period.
func (p Period) Days() int {
	return DaysBetween(p.Start, p.End)
}

// Contains returns true if t falls within [Start, End).
func (p Period) Contains(t TimePoint) bool {
	return t.AfterOrEqual(p.Start) && t.Before(p.End)
}

func (p Period) String() string {
	return "[" + p.Start.String() + ", " + p.End.String() + ")"
}

// =============================================================================
// PERIOD CONFIG - Where natural period boundaries fall
// =============================================================================

// PeriodConfig defines how natural boundaries are calculated.
type PeriodConfig struct {
	// Which month starts the fiscal year (1-12). Quarter and year boundaries
	// are aligned to it. Zero means January.
	FiscalYearStartMonth time.Month
}

func (pc PeriodConfig) fiscalStart() time.Month {
	if pc.FiscalYearStartMonth < time.January || pc.FiscalYearStartMonth > time.December {
		return time.January
	}
	return pc.FiscalYearStartMonth
}

// IsBoundary reports whether date is the first day of a period of granularity g.
func (pc PeriodConfig) IsBoundary(date TimePoint, g Granularity) bool {
	if date.Day() != 1 || !g.Valid() {
		return false
	}
	offset := (int(date.Month()) - int(pc.fiscalStart()) + 12) % 12
	return offset%g.Months() == 0
}

// NextBoundary returns the first period boundary on or after date.
// A date already on a boundary is returned unchanged.
func (pc PeriodConfig) NextBoundary(date TimePoint, g Granularity) TimePoint {
	if pc.IsBoundary(date, g) {
		return date
	}
	candidate := StartOfMonth(date.Year(), date.Month()).AddMonths(1)
	for i := 0; i < 12; i++ {
		if pc.IsBoundary(candidate, g) {
			return candidate
		}
		candidate = candidate.AddMonths(1)
	}
	return candidate
}

// PeriodStartingAt returns the full period of granularity g that starts at start.
func PeriodStartingAt(start TimePoint, g Granularity) Period {
	return Period{Start: start, End: g.Advance(start, 1)}
}
