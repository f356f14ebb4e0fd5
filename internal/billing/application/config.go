package application

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// ScheduleConfig defines the cron specs of the billing jobs.
type ScheduleConfig struct {
	Enabled          bool   `yaml:"enabled"`
	EnsureYearCron   string `yaml:"ensure_year_cron"`
	MonthlyCloseCron string `yaml:"monthly_close_cron"`
	AnnualCloseCron  string `yaml:"annual_close_cron"`
}

// Config defines billing configuration.
type Config struct {
	MonthlyAmount  string         `yaml:"monthly_amount"`
	DueDay         int            `yaml:"due_day"`
	Timezone       string         `yaml:"timezone"`
	RepairPartial  bool           `yaml:"repair_partial"`
	Funds          []string       `yaml:"funds"`
	AllowOverdraft bool           `yaml:"allow_overdraft"`
	Schedule       ScheduleConfig `yaml:"schedule"`

	amount   decimal.Decimal
	location *time.Location
}

// LoadConfig loads billing config from the yaml file named by BILLING_CONFIG,
// falling back to env for unset fields.
func LoadConfig() (Config, error) {
	cfg := Config{}
	if path := os.Getenv("BILLING_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("billing config: %w", err)
		}
	}

	if cfg.MonthlyAmount == "" {
		cfg.MonthlyAmount = getenvDefault("BILLING_MONTHLY_AMOUNT", "500")
	}
	if cfg.DueDay == 0 {
		cfg.DueDay = getenvIntDefault("BILLING_DUE_DAY", 0)
	}
	if cfg.Timezone == "" {
		cfg.Timezone = getenvDefault("BILLING_TIMEZONE", "UTC")
	}
	if !cfg.RepairPartial {
		cfg.RepairPartial = getenvBoolDefault("BILLING_REPAIR_PARTIAL", false)
	}
	if len(cfg.Funds) == 0 {
		cfg.Funds = splitCSV(getenvDefault("BILLING_FUNDS", "operating,reserve"))
	}
	if !cfg.AllowOverdraft {
		cfg.AllowOverdraft = getenvBoolDefault("BILLING_ALLOW_OVERDRAFT", false)
	}
	if !cfg.Schedule.Enabled {
		cfg.Schedule.Enabled = getenvBoolDefault("BILLING_SCHEDULE_ENABLED", false)
	}
	if cfg.Schedule.EnsureYearCron == "" {
		cfg.Schedule.EnsureYearCron = getenvDefault("BILLING_ENSURE_YEAR_CRON", "15 0 * * *")
	}
	if cfg.Schedule.MonthlyCloseCron == "" {
		cfg.Schedule.MonthlyCloseCron = getenvDefault("BILLING_MONTHLY_CLOSE_CRON", "0 2 1 * *")
	}
	if cfg.Schedule.AnnualCloseCron == "" {
		cfg.Schedule.AnnualCloseCron = getenvDefault("BILLING_ANNUAL_CLOSE_CRON", "0 4 2 1 *")
	}

	if err := cfg.resolve(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) resolve() error {
	amount, err := decimal.NewFromString(strings.TrimSpace(c.MonthlyAmount))
	if err != nil {
		return fmt.Errorf("billing config: monthly_amount %q: %w", c.MonthlyAmount, err)
	}
	if amount.IsNegative() {
		return errors.New("billing config: monthly_amount must not be negative")
	}
	if c.DueDay < 0 || c.DueDay > 31 {
		return errors.New("billing config: due_day must be within 0..31")
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return fmt.Errorf("billing config: timezone %q: %w", c.Timezone, err)
	}
	if c.Schedule.Enabled {
		for _, spec := range []string{c.Schedule.EnsureYearCron, c.Schedule.MonthlyCloseCron, c.Schedule.AnnualCloseCron} {
			if _, err := cron.ParseStandard(spec); err != nil {
				return fmt.Errorf("billing config: cron %q: %w", spec, err)
			}
		}
	}
	c.amount = amount
	c.location = loc
	return nil
}

// Amount returns the parsed default monthly amount.
func (c Config) Amount() decimal.Decimal {
	return c.amount
}

// Location returns the billing timezone, UTC when unset.
func (c Config) Location() *time.Location {
	if c.location == nil {
		return time.UTC
	}
	return c.location
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBoolDefault(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func splitCSV(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	var result []string
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			result = append(result, part)
		}
	}
	return result
}
