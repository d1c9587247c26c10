package config

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/cost-spread/spread"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv(EnvPrefix+"_CONFIG", "")

	c, err := Load("")

	require.NoError(t, err)
	assert.Equal(t, 8080, c.Server.Port)
	assert.Equal(t, "actual/actual", c.Spread.DayCount)
	assert.Equal(t, 1, c.Spread.FiscalYearStartMonth)
	assert.Equal(t, int32(2), c.Spread.Precision)
	assert.True(t, c.Spread.AutoPost)
	assert.Equal(t, "486000", c.Accounts.Spread)
	assert.Equal(t, "613000", c.Accounts.Target)
	assert.Equal(t, "401000", c.Accounts.Counterpart)
	assert.True(t, c.Scheduler.Enabled)
	assert.Equal(t, time.Hour, c.Scheduler.Interval)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv(EnvPrefix+"_CONFIG", "")
	t.Setenv("COSTSPREAD_SERVER_PORT", "9090")
	t.Setenv("COSTSPREAD_SPREAD_DAY_COUNT", "30/360")
	t.Setenv("COSTSPREAD_SCHEDULER_INTERVAL", "15m")

	c, err := Load("")

	require.NoError(t, err)
	assert.Equal(t, 9090, c.Server.Port)
	assert.Equal(t, "30/360", c.Spread.DayCount)
	assert.Equal(t, 15*time.Minute, c.Scheduler.Interval)

	calc, err := c.Spread.Calculator()
	require.NoError(t, err)
	assert.IsType(t, spread.Thirty360{}, calc.DayCount)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "costspread.toml")
	content := `
[spread]
fiscal_year_start_month = 4
auto_post = false

[accounts]
spread = "481000"
target = "622600"

[log]
level = "debug"
format = "json"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	c, err := Load(path)

	require.NoError(t, err)
	assert.Equal(t, 4, c.Spread.FiscalYearStartMonth)
	assert.False(t, c.Spread.AutoPost)
	assert.Equal(t, spread.Accounts{Spread: "481000", Target: "622600"}, c.Accounts.DefaultAccounts())
	assert.Equal(t, "json", c.Log.Format)

	calc, err := c.Spread.Calculator()
	require.NoError(t, err)
	assert.Equal(t, time.April, calc.Periods.FiscalYearStartMonth)
}

func TestLoad_ExplicitMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			Spread:    SpreadConfig{DayCount: "actual/actual", FiscalYearStartMonth: 1, Precision: 2},
			Accounts:  AccountsConfig{Spread: "486000", Target: "613000", Counterpart: "401000"},
			Scheduler: SchedulerConfig{Enabled: true, Interval: time.Hour},
		}
	}
	require.NoError(t, base().Validate())

	tests := []struct {
		name string
		edit func(c *Config)
	}{
		{"unknown day count", func(c *Config) { c.Spread.DayCount = "actual/365" }},
		{"fiscal month 13", func(c *Config) { c.Spread.FiscalYearStartMonth = 13 }},
		{"negative precision", func(c *Config) { c.Spread.Precision = -1 }},
		{"same accounts", func(c *Config) { c.Accounts.Target = c.Accounts.Spread }},
		{"missing counterpart", func(c *Config) { c.Accounts.Counterpart = "" }},
		{"zero interval", func(c *Config) { c.Scheduler.Interval = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.edit(&c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(LogConfig{Level: "warn", Format: "json"}, &buf)

	assert.Equal(t, logrus.WarnLevel, logger.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logger.Formatter)

	LogError(logger, "spread", "Realize", map[string]string{"spread_line": "spl-1"}, errors.New("journal unavailable"))
	assert.Contains(t, buf.String(), `"funcName":"Realize"`)
	assert.Contains(t, buf.String(), "journal unavailable")

	fallback := newLogger(LogConfig{Level: "loud"}, &buf)
	assert.Equal(t, logrus.InfoLevel, fallback.GetLevel())
}
