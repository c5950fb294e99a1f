// Package config loads service configuration from an optional YAML file and
// environment variables. Environment variables win over the file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration values for the controller and scheduler.
type Config struct {
	// Database connection string. "mem://" selects the in-memory store.
	DatabaseURL string

	HTTPPort    int
	MetricsPort int

	// Bearer secret for /internal endpoints.
	SystemSecret string

	// OTLP/gRPC collector address. Empty disables tracing.
	OTELEndpoint string

	LogLevel string

	SchedulerPollInterval time.Duration

	Alerts AlertConfig

	LockLeaseDuration time.Duration

	ExecutionRetention    time.Duration
	NotificationRetention time.Duration

	RateLimitRPS   float64
	RateLimitBurst int

	Backup BackupConfig

	SMTP SMTPConfig
}

// AlertConfig configures the expiration sweep.
type AlertConfig struct {
	FirstDays          int
	SecondDays         int
	ThirdDays          int
	FourthDays         int
	EscalationEnabled  bool
	EscalationInterval time.Duration
	MaxEscalationLevel int
	SweepConcurrency   int
}

// BackupConfig configures the backup job and the runtime it executes in.
type BackupConfig struct {
	Runtime        string // exec, docker or kubernetes
	Image          string
	Command        []string
	Timeout        time.Duration
	WorkDir        string
	Namespace      string
	ServiceAccount string
	CPULimit       string
	MemoryLimit    string
}

// SMTPConfig configures outgoing email. An empty Host logs messages instead.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Timeout  time.Duration
}

var validRuntimes = map[string]bool{
	"exec":       true,
	"docker":     true,
	"kubernetes": true,
}

// envBindings maps config keys to the environment variables that set them.
var envBindings = map[string][]string{
	"database_url":                   {"DATABASE_URL"},
	"http_port":                      {"PORT"},
	"metrics_port":                   {"METRICS_PORT"},
	"system_secret":                  {"SYSTEM_SECRET"},
	"otel_endpoint":                  {"OTEL_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT"},
	"log_level":                      {"LOG_LEVEL"},
	"scheduler.poll_interval":        {"SCHEDULER_POLL_INTERVAL"},
	"alerts.first_days":              {"ALERT_FIRST_DAYS"},
	"alerts.second_days":             {"ALERT_SECOND_DAYS"},
	"alerts.third_days":              {"ALERT_THIRD_DAYS"},
	"alerts.fourth_days":             {"ALERT_FOURTH_DAYS"},
	"alerts.escalation_enabled":      {"ALERT_ESCALATION_ENABLED"},
	"alerts.escalation_interval":     {"ALERT_ESCALATION_INTERVAL"},
	"alerts.max_escalation_level":    {"ALERT_MAX_ESCALATION_LEVEL"},
	"alerts.sweep_concurrency":       {"ALERT_SWEEP_CONCURRENCY"},
	"locks.lease_duration":           {"LOCK_LEASE_DURATION"},
	"retention.executions":           {"EXECUTION_RETENTION"},
	"retention.notifications":        {"NOTIFICATION_RETENTION"},
	"rate_limit.rps":                 {"RATE_LIMIT_RPS"},
	"rate_limit.burst":               {"RATE_LIMIT_BURST"},
	"backup.runtime":                 {"BACKUP_RUNTIME"},
	"backup.image":                   {"BACKUP_IMAGE"},
	"backup.command":                 {"BACKUP_COMMAND"},
	"backup.timeout":                 {"BACKUP_TIMEOUT"},
	"backup.workdir":                 {"BACKUP_WORKDIR"},
	"backup.kubernetes.namespace":    {"BACKUP_K8S_NAMESPACE"},
	"backup.kubernetes.service_acct": {"BACKUP_K8S_SERVICE_ACCOUNT"},
	"backup.kubernetes.cpu_limit":    {"BACKUP_K8S_CPU_LIMIT"},
	"backup.kubernetes.memory_limit": {"BACKUP_K8S_MEMORY_LIMIT"},
	"smtp.host":                      {"SMTP_HOST"},
	"smtp.port":                      {"SMTP_PORT"},
	"smtp.username":                  {"SMTP_USERNAME"},
	"smtp.password":                  {"SMTP_PASSWORD"},
	"smtp.from":                      {"SMTP_FROM"},
	"smtp.timeout":                   {"SMTP_TIMEOUT"},
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http_port", 8080)
	v.SetDefault("metrics_port", 9090)
	v.SetDefault("log_level", "info")
	v.SetDefault("scheduler.poll_interval", time.Minute)

	v.SetDefault("alerts.first_days", 30)
	v.SetDefault("alerts.second_days", 15)
	v.SetDefault("alerts.third_days", 7)
	v.SetDefault("alerts.fourth_days", 1)
	v.SetDefault("alerts.escalation_enabled", true)
	v.SetDefault("alerts.escalation_interval", 72*time.Hour)
	v.SetDefault("alerts.max_escalation_level", 5)
	v.SetDefault("alerts.sweep_concurrency", 4)

	v.SetDefault("locks.lease_duration", 30*time.Minute)

	v.SetDefault("retention.executions", 720*time.Hour)
	v.SetDefault("retention.notifications", 2160*time.Hour)

	v.SetDefault("rate_limit.rps", 20.0)
	v.SetDefault("rate_limit.burst", 40)

	v.SetDefault("backup.runtime", "exec")
	v.SetDefault("backup.timeout", 30*time.Minute)

	v.SetDefault("smtp.port", 587)
	v.SetDefault("smtp.from", "docflow@localhost")
	v.SetDefault("smtp.timeout", 10*time.Second)
}

// Load reads configuration. When path is empty, docflow.yaml in the working
// directory is used if present.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	for key, envs := range envBindings {
		args := append([]string{key}, envs...)
		if err := v.BindEnv(args...); err != nil {
			return nil, fmt.Errorf("bind %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		v.SetConfigName("docflow")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	cfg := &Config{
		DatabaseURL:           v.GetString("database_url"),
		HTTPPort:              v.GetInt("http_port"),
		MetricsPort:           v.GetInt("metrics_port"),
		SystemSecret:          v.GetString("system_secret"),
		OTELEndpoint:          v.GetString("otel_endpoint"),
		LogLevel:              v.GetString("log_level"),
		SchedulerPollInterval: v.GetDuration("scheduler.poll_interval"),
		Alerts: AlertConfig{
			FirstDays:          v.GetInt("alerts.first_days"),
			SecondDays:         v.GetInt("alerts.second_days"),
			ThirdDays:          v.GetInt("alerts.third_days"),
			FourthDays:         v.GetInt("alerts.fourth_days"),
			EscalationEnabled:  v.GetBool("alerts.escalation_enabled"),
			EscalationInterval: v.GetDuration("alerts.escalation_interval"),
			MaxEscalationLevel: v.GetInt("alerts.max_escalation_level"),
			SweepConcurrency:   v.GetInt("alerts.sweep_concurrency"),
		},
		LockLeaseDuration:     v.GetDuration("locks.lease_duration"),
		ExecutionRetention:    v.GetDuration("retention.executions"),
		NotificationRetention: v.GetDuration("retention.notifications"),
		RateLimitRPS:          v.GetFloat64("rate_limit.rps"),
		RateLimitBurst:        v.GetInt("rate_limit.burst"),
		Backup: BackupConfig{
			Runtime:        strings.ToLower(v.GetString("backup.runtime")),
			Image:          v.GetString("backup.image"),
			Command:        v.GetStringSlice("backup.command"),
			Timeout:        v.GetDuration("backup.timeout"),
			WorkDir:        v.GetString("backup.workdir"),
			Namespace:      v.GetString("backup.kubernetes.namespace"),
			ServiceAccount: v.GetString("backup.kubernetes.service_acct"),
			CPULimit:       v.GetString("backup.kubernetes.cpu_limit"),
			MemoryLimit:    v.GetString("backup.kubernetes.memory_limit"),
		},
		SMTP: SMTPConfig{
			Host:     v.GetString("smtp.host"),
			Port:     v.GetInt("smtp.port"),
			Username: v.GetString("smtp.username"),
			Password: v.GetString("smtp.password"),
			From:     v.GetString("smtp.from"),
			Timeout:  v.GetDuration("smtp.timeout"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("database_url is required (env: DATABASE_URL)")
	}
	if !validRuntimes[c.Backup.Runtime] {
		return fmt.Errorf("invalid backup runtime %q: must be exec, docker or kubernetes", c.Backup.Runtime)
	}
	if c.SchedulerPollInterval <= 0 {
		return fmt.Errorf("scheduler.poll_interval must be positive, got %s", c.SchedulerPollInterval)
	}
	if c.LockLeaseDuration <= 0 {
		return fmt.Errorf("locks.lease_duration must be positive, got %s", c.LockLeaseDuration)
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("rate_limit must be positive, got %v rps burst %d", c.RateLimitRPS, c.RateLimitBurst)
	}
	return nil
}

// InMemory reports whether the in-memory store was requested.
func (c *Config) InMemory() bool {
	return strings.HasPrefix(c.DatabaseURL, "mem://")
}
