package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"dosetrack/internal/errors"
)

// Config holds all configuration for DoseTrack
type Config struct {
	Storage    StorageConfig    `mapstructure:"storage"`
	Schedule   ScheduleConfig   `mapstructure:"schedule"`
	Ledger     LedgerConfig     `mapstructure:"ledger"`
	Risk       RiskConfig       `mapstructure:"risk"`
	Escalation EscalationConfig `mapstructure:"escalation"`
	Reminder   ReminderConfig   `mapstructure:"reminder"`
	Sweep      SweepConfig      `mapstructure:"sweep"`
}

// StorageConfig holds database settings
type StorageConfig struct {
	DataDir    string `mapstructure:"data_dir"`
	SQLitePath string `mapstructure:"sqlite_path"`
}

// ScheduleConfig holds dose generation settings
type ScheduleConfig struct {
	// DayAnchor is the local time of the first dose of each day, "HH:MM".
	DayAnchor string `mapstructure:"day_anchor"`
}

// LedgerConfig holds adherence ledger settings
type LedgerConfig struct {
	// GraceMinutes is how long a dose may stay pending past its scheduled
	// time before the sweep marks it missed.
	GraceMinutes int `mapstructure:"grace_minutes"`
}

// RiskConfig holds risk scoring settings
type RiskConfig struct {
	RecentDays int     `mapstructure:"recent_days"`
	OlderDays  int     `mapstructure:"older_days"`
	TrendDelta float64 `mapstructure:"trend_delta"`
}

// EscalationConfig holds overdue-dose escalation thresholds, in hours overdue
type EscalationConfig struct {
	UrgentAfterHours   int `mapstructure:"urgent_after_hours"`
	CriticalAfterHours int `mapstructure:"critical_after_hours"`
	NotifyAfterHours   int `mapstructure:"notify_after_hours"`
}

// ReminderConfig holds reminder planning settings
type ReminderConfig struct {
	TrailingDays         int     `mapstructure:"trailing_days"`
	MissedRateThreshold  float64 `mapstructure:"missed_rate_threshold"`
	MeanDelayMinutes     int     `mapstructure:"mean_delay_minutes"`
	HighLeadMinutes      int     `mapstructure:"high_lead_minutes"`
	EarlyLeadMinutes     int     `mapstructure:"early_lead_minutes"`
	StandardLeadMinutes  int     `mapstructure:"standard_lead_minutes"`
}

// SweepConfig holds overdue sweep settings
type SweepConfig struct {
	// Spec is a cron spec for the periodic sweep, e.g. "@every 1m".
	Spec string `mapstructure:"spec"`
	// NotifyTimeout is the seconds allowed per notification dispatch.
	NotifyTimeout int `mapstructure:"notify_timeout"`
}

// Load loads configuration from file, env, and defaults
func Load(configPath, dataDir string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if dataDir == "" {
		dataDir = getDefaultDataDir()
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	v.Set("storage.data_dir", dataDir)
	v.SetDefault("storage.sqlite_path", filepath.Join(dataDir, "dosetrack.db"))

	if configPath == "" {
		configPath = filepath.Join(dataDir, "dosetrack.yaml")
	}

	if _, err := os.Stat(configPath); err == nil {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	// Environment variables (DOSETRACK_LEDGER_GRACE_MINUTES, etc.)
	v.SetEnvPrefix("DOSETRACK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Default returns the built-in configuration without touching disk.
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func setDefaults(v *viper.Viper) {
	// Schedule defaults
	v.SetDefault("schedule.day_anchor", "09:00")

	// Ledger defaults
	v.SetDefault("ledger.grace_minutes", 120)

	// Risk defaults
	v.SetDefault("risk.recent_days", 7)
	v.SetDefault("risk.older_days", 14)
	v.SetDefault("risk.trend_delta", 10.0)

	// Escalation defaults
	v.SetDefault("escalation.urgent_after_hours", 6)
	v.SetDefault("escalation.critical_after_hours", 24)
	v.SetDefault("escalation.notify_after_hours", 12)

	// Reminder defaults
	v.SetDefault("reminder.trailing_days", 30)
	v.SetDefault("reminder.missed_rate_threshold", 20.0)
	v.SetDefault("reminder.mean_delay_minutes", 30)
	v.SetDefault("reminder.high_lead_minutes", 120)
	v.SetDefault("reminder.early_lead_minutes", 60)
	v.SetDefault("reminder.standard_lead_minutes", 30)

	// Sweep defaults
	v.SetDefault("sweep.spec", "@every 1m")
	v.SetDefault("sweep.notify_timeout", 10)
}

func getDefaultDataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "dosetrack")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}

	return filepath.Join(home, ".local", "share", "dosetrack")
}

// Validate checks that the policy constants are usable.
func Validate(cfg *Config) error {
	if _, err := ParseAnchor(cfg.Schedule.DayAnchor); err != nil {
		return errors.Wrap(err, errors.ErrConfigInvalid.Code, "schedule.day_anchor")
	}
	if cfg.Ledger.GraceMinutes < 0 {
		return errors.New(errors.ErrConfigInvalid.Code, "ledger.grace_minutes must not be negative")
	}
	if cfg.Risk.RecentDays < 1 || cfg.Risk.OlderDays <= cfg.Risk.RecentDays {
		return errors.New(errors.ErrConfigInvalid.Code, "risk windows must satisfy 1 <= recent_days < older_days")
	}
	if cfg.Escalation.UrgentAfterHours >= cfg.Escalation.CriticalAfterHours {
		return errors.New(errors.ErrConfigInvalid.Code, "escalation.urgent_after_hours must be below critical_after_hours")
	}
	return nil
}

// ParseAnchor parses an "HH:MM" day anchor into an offset from midnight.
func ParseAnchor(anchor string) (time.Duration, error) {
	t, err := time.Parse("15:04", anchor)
	if err != nil {
		return 0, fmt.Errorf("invalid day anchor %q: %w", anchor, err)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// Grace returns the ledger grace period as a duration.
func (c *Config) Grace() time.Duration {
	return time.Duration(c.Ledger.GraceMinutes) * time.Minute
}
