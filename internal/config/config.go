// Package config loads service settings from defaults, an optional YAML file
// and the environment (optionally via .env), in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Server struct {
	Port     string `yaml:"port"`
	Instance string `yaml:"instance"`
	// BrowseCacheTTL caches alert list responses in Redis.
	BrowseCacheTTL time.Duration `yaml:"browse_cache_ttl"`
}

type Database struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type Kafka struct {
	Brokers string `yaml:"brokers"`
	Topic   string `yaml:"topic"`
}

type Tracing struct {
	Endpoint    string `yaml:"endpoint"`
	ServiceName string `yaml:"service_name"`
}

type Logging struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

type Prices struct {
	BinanceURL      string        `yaml:"binance_url"`
	ExchangeRateURL string        `yaml:"exchange_rate_url"`
	StableAsset     string        `yaml:"stable_asset"`
	Fiat            []string      `yaml:"fiat"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	CacheTTL        time.Duration `yaml:"cache_ttl"`
	RatePerSecond   int           `yaml:"rate_per_second"`
}

type Monitor struct {
	AutoStart         bool          `yaml:"auto_start"`
	CheckInterval     time.Duration `yaml:"check_interval"`
	MinCheckInterval  time.Duration `yaml:"min_check_interval"`
	StopTimeout       time.Duration `yaml:"stop_timeout"`
	RestartPause      time.Duration `yaml:"restart_pause"`
	ErrorBackoff      time.Duration `yaml:"error_backoff"`
	Workers           int           `yaml:"workers"`
	PersistRetries    int           `yaml:"persist_retries"`
	PersistRetryDelay time.Duration `yaml:"persist_retry_delay"`
	LockTTL           time.Duration `yaml:"lock_ttl"`
}

type Notify struct {
	Timeout               time.Duration `yaml:"timeout"`
	Username              string        `yaml:"username"`
	VerifyWebhookOnCreate bool          `yaml:"verify_webhook_on_create"`
}

// Config holds every setting of the alerts service.
type Config struct {
	Server   Server   `yaml:"server"`
	Database Database `yaml:"database"`
	Redis    Redis    `yaml:"redis"`
	Kafka    Kafka    `yaml:"kafka"`
	Tracing  Tracing  `yaml:"tracing"`
	Logging  Logging  `yaml:"logging"`
	Prices   Prices   `yaml:"prices"`
	Monitor  Monitor  `yaml:"monitor"`
	Notify   Notify   `yaml:"notify"`
}

// Default returns the built-in settings: local SQLite, no Redis or Kafka,
// tracing disabled, 30s check interval.
func Default() Config {
	return Config{
		Server: Server{
			Port:           "8081",
			Instance:       "alerts-1",
			BrowseCacheTTL: 30 * time.Second,
		},
		Database: Database{
			Driver: "sqlite",
			DSN:    "./data/alerts.db",
		},
		Kafka: Kafka{
			Topic: "alerts.triggered",
		},
		Tracing: Tracing{
			ServiceName: "price-alerts",
		},
		Logging: Logging{
			Level: "info",
		},
		Prices: Prices{
			BinanceURL:      "https://api.binance.com",
			ExchangeRateURL: "https://api.exchangerate-api.com",
			StableAsset:     "USDT",
			Fiat:            []string{"USD", "CNY", "EUR", "JPY", "GBP", "KRW", "CAD", "AUD", "CHF", "HKD", "SGD", "INR"},
			RequestTimeout:  10 * time.Second,
			CacheTTL:        10 * time.Second,
			RatePerSecond:   10,
		},
		Monitor: Monitor{
			AutoStart:         true,
			CheckInterval:     30 * time.Second,
			MinCheckInterval:  5 * time.Second,
			StopTimeout:       10 * time.Second,
			RestartPause:      time.Second,
			ErrorBackoff:      60 * time.Second,
			Workers:           4,
			PersistRetries:    3,
			PersistRetryDelay: 500 * time.Millisecond,
			LockTTL:           time.Minute,
		},
		Notify: Notify{
			Timeout:               10 * time.Second,
			Username:              "Price Alerts",
			VerifyWebhookOnCreate: true,
		},
	}
}

// Load reads .env (if present), overlays CONFIG_FILE (if set) on the
// defaults, applies environment overrides and validates the result.
func Load() (*Config, error) {
	// Ignore error so the service still starts when .env is missing.
	_ = godotenv.Load()

	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFile overlays the YAML file at path on c.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Server.Port = getEnv("PORT", c.Server.Port)
	c.Server.Instance = getEnv("INSTANCE_ID", c.Server.Instance)
	c.Server.BrowseCacheTTL = getEnvDuration("BROWSE_CACHE_TTL", c.Server.BrowseCacheTTL)

	c.Database.Driver = strings.ToLower(getEnv("DB_DRIVER", c.Database.Driver))
	c.Database.DSN = getEnv("DATABASE_URL", c.Database.DSN)

	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getEnvInt("REDIS_DB", c.Redis.DB)

	c.Kafka.Brokers = getEnv("KAFKA_BROKERS", c.Kafka.Brokers)
	c.Kafka.Topic = getEnv("KAFKA_TOPIC", c.Kafka.Topic)

	c.Tracing.Endpoint = getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", c.Tracing.Endpoint)
	c.Tracing.ServiceName = getEnv("OTEL_SERVICE_NAME", c.Tracing.ServiceName)

	c.Logging.Level = getEnv("LOG_LEVEL", c.Logging.Level)
	c.Logging.Development = getEnvBool("LOG_DEVELOPMENT", c.Logging.Development)

	c.Prices.BinanceURL = getEnv("BINANCE_API_URL", c.Prices.BinanceURL)
	c.Prices.ExchangeRateURL = getEnv("EXCHANGE_RATE_API_URL", c.Prices.ExchangeRateURL)
	c.Prices.StableAsset = strings.ToUpper(getEnv("STABLE_ASSET", c.Prices.StableAsset))
	if v := os.Getenv("FIAT_CURRENCIES"); v != "" {
		c.Prices.Fiat = splitAndTrim(strings.ToUpper(v))
	}
	c.Prices.RequestTimeout = getEnvDuration("API_REQUEST_TIMEOUT", c.Prices.RequestTimeout)
	c.Prices.CacheTTL = getEnvDuration("PRICE_CACHE_TTL", c.Prices.CacheTTL)
	c.Prices.RatePerSecond = getEnvInt("PRICE_API_RATE_PER_SECOND", c.Prices.RatePerSecond)

	c.Monitor.AutoStart = getEnvBool("MONITOR_AUTO_START", c.Monitor.AutoStart)
	c.Monitor.CheckInterval = getEnvDuration("ALERT_CHECK_INTERVAL", c.Monitor.CheckInterval)
	c.Monitor.MinCheckInterval = getEnvDuration("MIN_CHECK_INTERVAL", c.Monitor.MinCheckInterval)
	c.Monitor.StopTimeout = getEnvDuration("MONITOR_STOP_TIMEOUT", c.Monitor.StopTimeout)
	c.Monitor.RestartPause = getEnvDuration("MONITOR_RESTART_PAUSE", c.Monitor.RestartPause)
	c.Monitor.ErrorBackoff = getEnvDuration("MONITOR_ERROR_BACKOFF", c.Monitor.ErrorBackoff)
	c.Monitor.Workers = getEnvInt("MONITOR_WORKERS", c.Monitor.Workers)
	c.Monitor.PersistRetries = getEnvInt("PERSIST_RETRIES", c.Monitor.PersistRetries)
	c.Monitor.PersistRetryDelay = getEnvDuration("PERSIST_RETRY_DELAY", c.Monitor.PersistRetryDelay)
	c.Monitor.LockTTL = getEnvDuration("ALERT_LOCK_TTL", c.Monitor.LockTTL)

	c.Notify.Timeout = getEnvDuration("NOTIFY_TIMEOUT", c.Notify.Timeout)
	c.Notify.Username = getEnv("DISCORD_USERNAME", c.Notify.Username)
	c.Notify.VerifyWebhookOnCreate = getEnvBool("VERIFY_WEBHOOK_ON_CREATE", c.Notify.VerifyWebhookOnCreate)
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	var errs []error
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("database.driver %q must be sqlite or postgres", c.Database.Driver))
	}
	if c.Database.DSN == "" {
		errs = append(errs, errors.New("database.dsn is required"))
	}
	if c.Monitor.MinCheckInterval <= 0 {
		errs = append(errs, errors.New("monitor.min_check_interval must be positive"))
	}
	if c.Monitor.CheckInterval < c.Monitor.MinCheckInterval {
		errs = append(errs, fmt.Errorf("monitor.check_interval %s is below the %s minimum", c.Monitor.CheckInterval, c.Monitor.MinCheckInterval))
	}
	if c.Monitor.StopTimeout <= 0 || c.Monitor.ErrorBackoff <= 0 {
		errs = append(errs, errors.New("monitor.stop_timeout and monitor.error_backoff must be positive"))
	}
	if c.Monitor.Workers < 1 {
		errs = append(errs, errors.New("monitor.workers must be at least 1"))
	}
	if c.Prices.RequestTimeout <= 0 || c.Notify.Timeout <= 0 {
		errs = append(errs, errors.New("request timeouts must be positive"))
	}
	if c.Prices.RatePerSecond < 1 {
		errs = append(errs, errors.New("prices.rate_per_second must be at least 1"))
	}
	if len(c.Prices.Fiat) == 0 || c.Prices.StableAsset == "" {
		errs = append(errs, errors.New("prices.fiat and prices.stable_asset are required"))
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

// getEnvDuration accepts Go durations ("45s") or plain seconds ("45").
func getEnvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return def
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
