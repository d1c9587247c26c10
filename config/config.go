// Package config loads server configuration and builds the logger.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/warp/cost-spread/generic"
	"github.com/warp/cost-spread/spread"
)

// Config holds application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Spread    SpreadConfig    `mapstructure:"spread"`
	Accounts  AccountsConfig  `mapstructure:"accounts"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// DatabaseConfig holds sqlite settings.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// SpreadConfig holds calculator and ledger settings.
type SpreadConfig struct {
	DayCount             string `mapstructure:"day_count"`
	FiscalYearStartMonth int    `mapstructure:"fiscal_year_start_month"`
	Precision            int32  `mapstructure:"precision"`
	AutoPost             bool   `mapstructure:"auto_post"`
}

// AccountsConfig holds the accounts used when a source line names none.
// Counterpart is credited by the origin moves the demo host books.
type AccountsConfig struct {
	Spread      string `mapstructure:"spread"`
	Target      string `mapstructure:"target"`
	Counterpart string `mapstructure:"counterpart"`
}

type SchedulerConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// EnvPrefix prefixes every environment override (COSTSPREAD_SERVER_PORT).
const EnvPrefix = "COSTSPREAD"

// Load reads configuration from file and env. An empty path falls back to
// $COSTSPREAD_CONFIG, then ./costspread.toml if present.
func Load(path string) (Config, error) {
	v := viper.New()

	// default values
	v.SetDefault("server.port", 8080)
	v.SetDefault("database.path", "./costspread.db")
	v.SetDefault("spread.day_count", "actual/actual")
	v.SetDefault("spread.fiscal_year_start_month", 1)
	v.SetDefault("spread.precision", generic.CurrencyPrecision)
	v.SetDefault("spread.auto_post", true)
	v.SetDefault("accounts.spread", "486000")
	v.SetDefault("accounts.target", "613000")
	v.SetDefault("accounts.counterpart", "401000")
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.interval", time.Hour)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetConfigType("toml")

	if path == "" {
		path = os.Getenv(EnvPrefix + "_CONFIG")
	}
	explicit := path != ""
	if explicit {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("costspread")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if explicit || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate rejects settings the engine cannot run with.
func (c Config) Validate() error {
	if _, ok := spread.DayCountByName(c.Spread.DayCount); !ok {
		return fmt.Errorf("config: unknown spread.day_count %q", c.Spread.DayCount)
	}
	if m := c.Spread.FiscalYearStartMonth; m < 1 || m > 12 {
		return fmt.Errorf("config: spread.fiscal_year_start_month must be 1-12, got %d", m)
	}
	if c.Spread.Precision < 0 || c.Spread.Precision > 8 {
		return fmt.Errorf("config: spread.precision must be 0-8, got %d", c.Spread.Precision)
	}
	if c.Accounts.Spread == "" || c.Accounts.Target == "" || c.Accounts.Spread == c.Accounts.Target {
		return errors.New("config: accounts.spread and accounts.target must be set and differ")
	}
	if c.Accounts.Counterpart == "" || c.Accounts.Counterpart == c.Accounts.Spread {
		return errors.New("config: accounts.counterpart must be set and differ from accounts.spread")
	}
	if c.Scheduler.Enabled && c.Scheduler.Interval <= 0 {
		return errors.New("config: scheduler.interval must be positive")
	}
	return nil
}

// Calculator builds the schedule calculator described by the spread section.
func (c SpreadConfig) Calculator() (*spread.Calculator, error) {
	dc, ok := spread.DayCountByName(c.DayCount)
	if !ok {
		return nil, fmt.Errorf("config: unknown spread.day_count %q", c.DayCount)
	}
	calc := spread.NewCalculator()
	calc.DayCount = dc
	calc.Periods = generic.PeriodConfig{FiscalYearStartMonth: time.Month(c.FiscalYearStartMonth)}
	calc.Precision = c.Precision
	return calc, nil
}

// DefaultAccounts returns the configured fallback accounts.
func (c AccountsConfig) DefaultAccounts() spread.Accounts {
	return spread.Accounts{
		Spread: generic.AccountID(c.Spread),
		Target: generic.AccountID(c.Target),
	}
}
