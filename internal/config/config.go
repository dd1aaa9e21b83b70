// Package config loads settings from watermeter.yaml and WATERMETER_* env vars.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/bher20/watermeter/internal/billing"
)

const envPrefix = "WATERMETER"

type Config struct {
	Log      LogConfig
	DB       DBConfig
	HTTP     HTTPConfig
	Billing  BillingConfig
	Schedule ScheduleConfig
	Notify   NotifyConfig
	Alert    AlertConfig
}

type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

type DBConfig struct {
	Driver string // sqlite, postgres, memory
	DSN    string
	// MigrateOnStart applies pending goose migrations before a command runs.
	MigrateOnStart bool
	LogLevel       string // GORM log level
}

type HTTPConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type BillingConfig struct {
	ConsumptionPolicy string // boundary, last_two
}

type ScheduleConfig struct {
	// Cron is a standard five-field spec for the monthly bill job.
	Cron string
	// Notify sends the saved payment through the notifier after each run.
	Notify bool
}

type NotifyConfig struct {
	Enabled    bool
	Provider   string // smtp, sendgrid, resend
	From       string
	FromName   string
	To         []string
	APIKey     string
	SMTPHost   string
	SMTPPort   int
	Username   string
	Password   string
	Encryption string // none, starttls, ssl
}

// AlertConfig points scheduled job failures at a chat webhook.
type AlertConfig struct {
	WebhookURL  string
	WebhookType string // slack, discord, generic; empty detects from the URL
	MinFailures int
	Timeout     time.Duration
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output", "stderr")

	v.SetDefault("db.driver", "sqlite")
	v.SetDefault("db.dsn", "water_counter.db")
	v.SetDefault("db.migrate_on_start", true)
	v.SetDefault("db.log_level", "warn")

	v.SetDefault("http.addr", ":8000")
	v.SetDefault("http.read_timeout", 10*time.Second)
	v.SetDefault("http.write_timeout", 30*time.Second)

	v.SetDefault("billing.consumption_policy", string(billing.PolicyBoundary))

	v.SetDefault("schedule.cron", "0 9 1 * *")
	v.SetDefault("schedule.notify", false)

	v.SetDefault("notify.enabled", false)
	v.SetDefault("notify.provider", "smtp")
	v.SetDefault("notify.from_name", "Water Meter")
	v.SetDefault("notify.smtp_port", 587)
	v.SetDefault("notify.encryption", "starttls")

	v.SetDefault("alert.min_failures", 1)
	v.SetDefault("alert.timeout", 10*time.Second)
}

// Load reads configuration. An empty path searches for watermeter.yaml in
// the working directory and $HOME/.config/watermeter; a missing file is not
// an error. Environment variables override file values.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("watermeter")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/watermeter")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		DB: DBConfig{
			Driver:         v.GetString("db.driver"),
			DSN:            v.GetString("db.dsn"),
			MigrateOnStart: v.GetBool("db.migrate_on_start"),
			LogLevel:       v.GetString("db.log_level"),
		},
		HTTP: HTTPConfig{
			Addr:         v.GetString("http.addr"),
			ReadTimeout:  v.GetDuration("http.read_timeout"),
			WriteTimeout: v.GetDuration("http.write_timeout"),
		},
		Billing: BillingConfig{
			ConsumptionPolicy: v.GetString("billing.consumption_policy"),
		},
		Schedule: ScheduleConfig{
			Cron:   v.GetString("schedule.cron"),
			Notify: v.GetBool("schedule.notify"),
		},
		Notify: NotifyConfig{
			Enabled:    v.GetBool("notify.enabled"),
			Provider:   v.GetString("notify.provider"),
			From:       v.GetString("notify.from"),
			FromName:   v.GetString("notify.from_name"),
			To:         v.GetStringSlice("notify.to"),
			APIKey:     v.GetString("notify.api_key"),
			SMTPHost:   v.GetString("notify.smtp_host"),
			SMTPPort:   v.GetInt("notify.smtp_port"),
			Username:   v.GetString("notify.username"),
			Password:   v.GetString("notify.password"),
			Encryption: v.GetString("notify.encryption"),
		},
		Alert: AlertConfig{
			WebhookURL:  v.GetString("alert.webhook_url"),
			WebhookType: v.GetString("alert.webhook_type"),
			MinFailures: v.GetInt("alert.min_failures"),
			Timeout:     v.GetDuration("alert.timeout"),
		},
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.DB.Driver {
	case "sqlite", "postgres", "memory":
	default:
		return fmt.Errorf("db.driver must be sqlite, postgres or memory, got %q", c.DB.Driver)
	}
	if c.DB.Driver != "memory" && c.DB.DSN == "" {
		return errors.New("db.dsn is required")
	}
	if _, err := billing.ParsePolicy(c.Billing.ConsumptionPolicy); err != nil {
		return fmt.Errorf("billing.consumption_policy: %w", err)
	}
	if c.Notify.Enabled {
		if len(c.Notify.To) == 0 {
			return errors.New("notify.to needs at least one recipient")
		}
		if c.Notify.From == "" {
			return errors.New("notify.from is required")
		}
		switch c.Notify.Provider {
		case "sendgrid", "resend":
			if c.Notify.APIKey == "" {
				return fmt.Errorf("notify.api_key is required for %s", c.Notify.Provider)
			}
		case "smtp":
			if c.Notify.SMTPHost == "" {
				return errors.New("notify.smtp_host is required for smtp")
			}
		default:
			return fmt.Errorf("notify.provider must be smtp, sendgrid or resend, got %q", c.Notify.Provider)
		}
	}
	switch c.Alert.WebhookType {
	case "", "slack", "discord", "generic":
	default:
		return fmt.Errorf("alert.webhook_type must be slack, discord or generic, got %q", c.Alert.WebhookType)
	}
	return nil
}

// Policy returns the parsed consumption policy. Load has validated it.
func (c *Config) Policy() billing.Policy {
	p, _ := billing.ParsePolicy(c.Billing.ConsumptionPolicy)
	return p
}
