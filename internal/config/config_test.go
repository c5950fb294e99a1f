package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func TestLoad_RequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	_, err := Load("")
	if err == nil {
		t.Fatal("expected error when DATABASE_URL is missing")
	}
	if err.Error() != "database_url is required (env: DATABASE_URL)" {
		t.Errorf("unexpected error message: %v", err)
	}
}

func TestLoad_DefaultValues(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/test")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.HTTPPort != 8080 {
		t.Errorf("expected HTTPPort 8080, got %d", cfg.HTTPPort)
	}
	if cfg.MetricsPort != 9090 {
		t.Errorf("expected MetricsPort 9090, got %d", cfg.MetricsPort)
	}
	if cfg.SchedulerPollInterval != time.Minute {
		t.Errorf("expected SchedulerPollInterval 1m, got %v", cfg.SchedulerPollInterval)
	}
	wantAlerts := AlertConfig{
		FirstDays: 30, SecondDays: 15, ThirdDays: 7, FourthDays: 1,
		EscalationEnabled: true, EscalationInterval: 72 * time.Hour,
		MaxEscalationLevel: 5, SweepConcurrency: 4,
	}
	if cfg.Alerts != wantAlerts {
		t.Errorf("alerts = %+v, want %+v", cfg.Alerts, wantAlerts)
	}
	if cfg.LockLeaseDuration != 30*time.Minute {
		t.Errorf("expected LockLeaseDuration 30m, got %v", cfg.LockLeaseDuration)
	}
	if cfg.ExecutionRetention != 720*time.Hour || cfg.NotificationRetention != 2160*time.Hour {
		t.Errorf("retention = %v/%v, want 720h/2160h", cfg.ExecutionRetention, cfg.NotificationRetention)
	}
	if cfg.RateLimitRPS != 20 || cfg.RateLimitBurst != 40 {
		t.Errorf("rate limit = %v/%d, want 20/40", cfg.RateLimitRPS, cfg.RateLimitBurst)
	}
	if cfg.Backup.Runtime != "exec" {
		t.Errorf("expected backup runtime exec, got %s", cfg.Backup.Runtime)
	}
	if cfg.Backup.Timeout != 30*time.Minute {
		t.Errorf("expected backup timeout 30m, got %v", cfg.Backup.Timeout)
	}
	if cfg.SMTP.Host != "" || cfg.SMTP.Port != 587 {
		t.Errorf("smtp = %+v, want no host on port 587", cfg.SMTP)
	}
	if cfg.OTELEndpoint != "" {
		t.Errorf("expected tracing disabled by default, got %s", cfg.OTELEndpoint)
	}
	if cfg.InMemory() {
		t.Error("postgres URL reported as in-memory")
	}
}

func TestLoad_EnvVarOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "mem://")
	t.Setenv("PORT", "9999")
	t.Setenv("SYSTEM_SECRET", "s3cret")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "otel-collector:4317")
	t.Setenv("SCHEDULER_POLL_INTERVAL", "30s")
	t.Setenv("ALERT_THIRD_DAYS", "10")
	t.Setenv("ALERT_ESCALATION_ENABLED", "false")
	t.Setenv("ALERT_ESCALATION_INTERVAL", "24h")
	t.Setenv("LOCK_LEASE_DURATION", "15m")
	t.Setenv("BACKUP_RUNTIME", "kubernetes")
	t.Setenv("BACKUP_COMMAND", "pg_dump --format=custom")
	t.Setenv("BACKUP_K8S_NAMESPACE", "backups")
	t.Setenv("SMTP_HOST", "mail.internal")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !cfg.InMemory() {
		t.Errorf("expected in-memory store for %s", cfg.DatabaseURL)
	}
	if cfg.HTTPPort != 9999 {
		t.Errorf("expected HTTPPort 9999, got %d", cfg.HTTPPort)
	}
	if cfg.SystemSecret != "s3cret" {
		t.Errorf("expected SystemSecret from env, got %q", cfg.SystemSecret)
	}
	if cfg.OTELEndpoint != "otel-collector:4317" {
		t.Errorf("expected OTELEndpoint otel-collector:4317, got %s", cfg.OTELEndpoint)
	}
	if cfg.SchedulerPollInterval != 30*time.Second {
		t.Errorf("expected poll interval 30s, got %v", cfg.SchedulerPollInterval)
	}
	if cfg.Alerts.ThirdDays != 10 || cfg.Alerts.EscalationEnabled || cfg.Alerts.EscalationInterval != 24*time.Hour {
		t.Errorf("alerts = %+v, want third=10 escalation off every 24h", cfg.Alerts)
	}
	if cfg.LockLeaseDuration != 15*time.Minute {
		t.Errorf("expected lease 15m, got %v", cfg.LockLeaseDuration)
	}
	if cfg.Backup.Runtime != "kubernetes" || cfg.Backup.Namespace != "backups" {
		t.Errorf("backup = %+v, want kubernetes in backups", cfg.Backup)
	}
	if want := []string{"pg_dump", "--format=custom"}; !reflect.DeepEqual(cfg.Backup.Command, want) {
		t.Errorf("backup command = %q, want %q", cfg.Backup.Command, want)
	}
	if cfg.SMTP.Host != "mail.internal" {
		t.Errorf("expected SMTP host from env, got %q", cfg.SMTP.Host)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown backup runtime", map[string]string{"BACKUP_RUNTIME": "invalid"}},
		{"zero lease", map[string]string{"LOCK_LEASE_DURATION": "0s"}},
		{"zero poll interval", map[string]string{"SCHEDULER_POLL_INTERVAL": "0s"}},
		{"zero burst", map[string]string{"RATE_LIMIT_BURST": "0"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("DATABASE_URL", "postgres://localhost/test")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(""); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "docflow.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoad_ConfigFile(t *testing.T) {
	path := writeConfig(t, `
database_url: "postgres://config-file/db"
http_port: 7777
alerts:
  first_days: 60
  sweep_concurrency: 8
backup:
  runtime: docker
  image: postgres:16
  command: ["pg_dumpall", "--clean"]
`)

	t.Setenv("DATABASE_URL", "")
	t.Setenv("PORT", "")
	t.Setenv("BACKUP_RUNTIME", "")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.DatabaseURL != "postgres://config-file/db" {
		t.Errorf("expected DatabaseURL from config file, got %s", cfg.DatabaseURL)
	}
	if cfg.HTTPPort != 7777 {
		t.Errorf("expected HTTPPort 7777, got %d", cfg.HTTPPort)
	}
	if cfg.Alerts.FirstDays != 60 || cfg.Alerts.SecondDays != 15 || cfg.Alerts.SweepConcurrency != 8 {
		t.Errorf("alerts = %+v, want first=60 second=15 concurrency=8", cfg.Alerts)
	}
	if cfg.Backup.Runtime != "docker" || cfg.Backup.Image != "postgres:16" {
		t.Errorf("backup = %+v, want docker postgres:16", cfg.Backup)
	}
	if want := []string{"pg_dumpall", "--clean"}; !reflect.DeepEqual(cfg.Backup.Command, want) {
		t.Errorf("backup command = %q, want %q", cfg.Backup.Command, want)
	}
}

func TestLoad_EnvOverridesConfigFile(t *testing.T) {
	path := writeConfig(t, `
database_url: "postgres://config-file/db"
http_port: 7777
`)

	t.Setenv("DATABASE_URL", "postgres://env/db")
	t.Setenv("PORT", "8888")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.DatabaseURL != "postgres://env/db" {
		t.Errorf("expected DatabaseURL from env, got %s", cfg.DatabaseURL)
	}
	if cfg.HTTPPort != 8888 {
		t.Errorf("expected HTTPPort 8888 from env, got %d", cfg.HTTPPort)
	}
}

func TestLoad_NonexistentConfigFile(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/test")

	if _, err := Load("/nonexistent/docflow.yaml"); err == nil {
		t.Error("expected error for nonexistent config file")
	}
}
