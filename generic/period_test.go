package generic_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/cost-spread/generic"
)

func TestNextBoundary(t *testing.T) {
	calendar := generic.PeriodConfig{}
	fiscalApril := generic.PeriodConfig{FiscalYearStartMonth: time.April}

	tests := []struct {
		name string
		pc   generic.PeriodConfig
		date string
		g    generic.Granularity
		want string
	}{
		{"month mid-month", calendar, "2017-01-15", generic.GranularityMonth, "2017-02-01"},
		{"month on boundary", calendar, "2017-01-01", generic.GranularityMonth, "2017-01-01"},
		{"quarter from March", calendar, "2017-03-01", generic.GranularityQuarter, "2017-04-01"},
		{"quarter from late December", calendar, "2017-12-31", generic.GranularityQuarter, "2018-01-01"},
		{"year mid-year", calendar, "2017-07-01", generic.GranularityYear, "2018-01-01"},
		{"fiscal quarter", fiscalApril, "2017-02-10", generic.GranularityQuarter, "2017-04-01"},
		{"fiscal quarter on boundary", fiscalApril, "2017-07-01", generic.GranularityQuarter, "2017-07-01"},
		{"fiscal year", fiscalApril, "2017-04-02", generic.GranularityYear, "2018-04-01"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.pc.NextBoundary(generic.MustParseDate(tt.date), tt.g)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestIsBoundary(t *testing.T) {
	pc := generic.PeriodConfig{}
	assert.True(t, pc.IsBoundary(generic.MustParseDate("2017-10-01"), generic.GranularityQuarter))
	assert.False(t, pc.IsBoundary(generic.MustParseDate("2017-11-01"), generic.GranularityQuarter))
	assert.False(t, pc.IsBoundary(generic.MustParseDate("2017-10-02"), generic.GranularityMonth))
	assert.False(t, pc.IsBoundary(generic.MustParseDate("2017-10-01"), "week"))
}

func TestParseGranularity(t *testing.T) {
	g, err := generic.ParseGranularity(" Quarter ")
	require.NoError(t, err)
	assert.Equal(t, generic.GranularityQuarter, g)
	assert.Equal(t, 3, g.Months())

	_, err = generic.ParseGranularity("week")
	assert.Error(t, err)
}

func TestPeriod(t *testing.T) {
	p := generic.PeriodStartingAt(generic.MustParseDate("2017-04-01"), generic.GranularityQuarter)
	assert.Equal(t, "[2017-04-01, 2017-07-01)", p.String())
	assert.Equal(t, 91, p.Days())
	assert.True(t, p.Contains(generic.MustParseDate("2017-04-01")))
	assert.False(t, p.Contains(generic.MustParseDate("2017-07-01")))
}

func TestGranularity_Advance(t *testing.T) {
	leapDay := generic.MustParseDate("2020-02-29")
	assert.Equal(t, "2021-02-28", generic.GranularityYear.Advance(leapDay, 1).String())
	assert.Equal(t, "2020-05-29", generic.GranularityQuarter.Advance(leapDay, 1).String())
	assert.Equal(t, "2020-01-29", generic.GranularityMonth.Advance(leapDay, -1).String())
}
