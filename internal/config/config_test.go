package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Monitor.CheckInterval != 30*time.Second || cfg.Monitor.MinCheckInterval != 5*time.Second {
		t.Errorf("unexpected interval defaults: %+v", cfg.Monitor)
	}
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "alerts.yaml")
	yaml := `
database:
  driver: postgres
  dsn: postgres://u:p@localhost/alerts?sslmode=disable
monitor:
  check_interval: 45s
  workers: 8
prices:
  fiat: [USD, EUR]
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("ALERT_CHECK_INTERVAL", "60")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("VERIFY_WEBHOOK_ON_CREATE", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Database.Driver != "postgres" || !strings.HasPrefix(cfg.Database.DSN, "postgres://") {
		t.Errorf("database = %+v", cfg.Database)
	}
	if cfg.Monitor.CheckInterval != 60*time.Second {
		t.Errorf("check_interval = %v, env should win over file", cfg.Monitor.CheckInterval)
	}
	if cfg.Monitor.Workers != 8 {
		t.Errorf("workers = %d, want 8 from file", cfg.Monitor.Workers)
	}
	if len(cfg.Prices.Fiat) != 2 {
		t.Errorf("fiat = %v", cfg.Prices.Fiat)
	}
	if cfg.Redis.Addr != "localhost:6379" || cfg.Notify.VerifyWebhookOnCreate {
		t.Errorf("env overrides not applied: redis=%q verify=%v", cfg.Redis.Addr, cfg.Notify.VerifyWebhookOnCreate)
	}
	if cfg.Monitor.StopTimeout != 10*time.Second {
		t.Errorf("stop_timeout default lost: %v", cfg.Monitor.StopTimeout)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"interval below floor", func(c *Config) { c.Monitor.CheckInterval = 2 * time.Second }, "below"},
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }, "driver"},
		{"no workers", func(c *Config) { c.Monitor.Workers = 0 }, "workers"},
		{"empty fiat", func(c *Config) { c.Prices.Fiat = nil }, "fiat"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.want)
			}
		})
	}
}

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("D1", "1m30s")
	t.Setenv("D2", "2.5")
	t.Setenv("D3", "soon")

	if got := getEnvDuration("D1", 0); got != 90*time.Second {
		t.Errorf("D1 = %v", got)
	}
	if got := getEnvDuration("D2", 0); got != 2500*time.Millisecond {
		t.Errorf("D2 = %v", got)
	}
	if got := getEnvDuration("D3", time.Second); got != time.Second {
		t.Errorf("D3 = %v, want default", got)
	}
}

func TestMonitorTimingEnvOverrides(t *testing.T) {
	t.Setenv("MONITOR_RESTART_PAUSE", "2s")
	t.Setenv("PERSIST_RETRY_DELAY", "250ms")
	t.Setenv("ALERT_LOCK_TTL", "90")

	cfg := Default()
	cfg.applyEnv()

	if cfg.Monitor.RestartPause != 2*time.Second {
		t.Errorf("restart_pause = %v, want 2s", cfg.Monitor.RestartPause)
	}
	if cfg.Monitor.PersistRetryDelay != 250*time.Millisecond {
		t.Errorf("persist_retry_delay = %v, want 250ms", cfg.Monitor.PersistRetryDelay)
	}
	if cfg.Monitor.LockTTL != 90*time.Second {
		t.Errorf("lock_ttl = %v, want 90s", cfg.Monitor.LockTTL)
	}
}
