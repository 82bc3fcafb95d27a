package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the arccompanion application.
// Values come from environment variables, optionally layered over a YAML
// file named by CONFIG_FILE; see printUsage() for the full list.
type Config struct {
	ConfigFile string `json:"config_file,omitempty"`

	APIBaseURL    string        `json:"api_base_url"`
	APITimeout    time.Duration `json:"-"`
	APITimeoutStr string        `json:"api_timeout"`

	HTTPAddr string `json:"http_addr"`

	TickInterval    time.Duration `json:"-"`
	TickIntervalStr string        `json:"tick_interval"`

	// RefreshCron accepts five-field expressions and @-descriptors.
	// RefreshTimezone empty means the local zone.
	RefreshCron     string `json:"refresh_cron"`
	RefreshTimezone string `json:"refresh_timezone,omitempty"`

	// DatabaseDriver: "sqlite3", "postgres" or "none" (content store disabled).
	DatabaseDriver string        `json:"database_driver"`
	DatabaseURL    string        `json:"database_url"`
	DBOpTimeout    time.Duration `json:"-"`
	DBOpTimeoutStr string        `json:"db_op_timeout"`

	// RefreshLockKey is the Postgres advisory lock that elects the single
	// instance copying content. All instances sharing a database must agree.
	RefreshLockKey int64 `json:"refresh_lock_key"`

	// LeaderRetryInterval bounds the failover gap after the holder exits.
	LeaderRetryInterval    time.Duration `json:"-"`
	LeaderRetryIntervalStr string        `json:"leader_retry_interval"`

	// LeaderHeartbeatInterval pings the lock connection to notice it dying.
	LeaderHeartbeatInterval    time.Duration `json:"-"`
	LeaderHeartbeatIntervalStr string        `json:"leader_heartbeat_interval"`

	RedisAddr     string        `json:"redis_addr,omitempty"`
	RedisPassword string        `json:"-"`
	CacheTTL      time.Duration `json:"-"`
	CacheTTLStr   string        `json:"cache_ttl"`

	// CircuitBreakerThreshold: 0 disables the circuit breaker.
	CircuitBreakerThreshold   int           `json:"circuit_breaker_threshold"`
	CircuitBreakerCooldown    time.Duration `json:"-"`
	CircuitBreakerCooldownStr string        `json:"circuit_breaker_cooldown"`

	MetricsEnabled bool   `json:"metrics_enabled"`
	MetricsPath    string `json:"metrics_path"`
	MetricsPort    int    `json:"metrics_port"`

	HTTPShutdownTimeout    time.Duration `json:"-"`
	HTTPShutdownTimeoutStr string        `json:"http_shutdown_timeout"`

	// Upstream event-timer filters; empty means all.
	TimerMap  string `json:"timer_map,omitempty"`
	TimerName string `json:"timer_name,omitempty"`

	// fileErr is reported by Validate.
	fileErr error
}

// fileConfig mirrors the environment variables in a YAML document.
type fileConfig struct {
	APIBaseURL              string `yaml:"api_base_url"`
	APITimeout              string `yaml:"api_timeout"`
	HTTPAddr                string `yaml:"http_addr"`
	TickInterval            string `yaml:"tick_interval"`
	RefreshCron             string `yaml:"refresh_cron"`
	RefreshTimezone         string `yaml:"refresh_timezone"`
	DatabaseDriver          string `yaml:"database_driver"`
	DatabaseURL             string `yaml:"database_url"`
	DBOpTimeout             string `yaml:"db_op_timeout"`
	RefreshLockKey          *int   `yaml:"refresh_lock_key"`
	LeaderRetryInterval     string `yaml:"leader_retry_interval"`
	LeaderHeartbeatInterval string `yaml:"leader_heartbeat_interval"`
	RedisAddr               string `yaml:"redis_addr"`
	RedisPassword           string `yaml:"redis_password"`
	CacheTTL                string `yaml:"cache_ttl"`
	CircuitBreakerThreshold *int   `yaml:"circuit_breaker_threshold"`
	CircuitBreakerCooldown  string `yaml:"circuit_breaker_cooldown"`
	MetricsEnabled          *bool  `yaml:"metrics_enabled"`
	MetricsPath             string `yaml:"metrics_path"`
	MetricsPort             *int   `yaml:"metrics_port"`
	HTTPShutdownTimeout     string `yaml:"http_shutdown_timeout"`
	TimerMap                string `yaml:"timer_map"`
	TimerName               string `yaml:"timer_name"`
}

// values flattens the file into environment-variable keys.
func (f fileConfig) values() map[string]string {
	v := map[string]string{
		"API_BASE_URL":              f.APIBaseURL,
		"API_TIMEOUT":               f.APITimeout,
		"HTTP_ADDR":                 f.HTTPAddr,
		"TICK_INTERVAL":             f.TickInterval,
		"REFRESH_CRON":              f.RefreshCron,
		"REFRESH_TIMEZONE":          f.RefreshTimezone,
		"DATABASE_DRIVER":           f.DatabaseDriver,
		"DATABASE_URL":              f.DatabaseURL,
		"DB_OP_TIMEOUT":             f.DBOpTimeout,
		"LEADER_RETRY_INTERVAL":     f.LeaderRetryInterval,
		"LEADER_HEARTBEAT_INTERVAL": f.LeaderHeartbeatInterval,
		"REDIS_ADDR":                f.RedisAddr,
		"REDIS_PASSWORD":            f.RedisPassword,
		"CACHE_TTL":                 f.CacheTTL,
		"CIRCUIT_BREAKER_COOLDOWN":  f.CircuitBreakerCooldown,
		"METRICS_PATH":              f.MetricsPath,
		"HTTP_SHUTDOWN_TIMEOUT":     f.HTTPShutdownTimeout,
		"TIMER_MAP":                 f.TimerMap,
		"TIMER_NAME":                f.TimerName,
	}
	if f.CircuitBreakerThreshold != nil {
		v["CIRCUIT_BREAKER_THRESHOLD"] = strconv.Itoa(*f.CircuitBreakerThreshold)
	}
	if f.RefreshLockKey != nil {
		v["REFRESH_LOCK_KEY"] = strconv.Itoa(*f.RefreshLockKey)
	}
	if f.MetricsEnabled != nil {
		v["METRICS_ENABLED"] = strconv.FormatBool(*f.MetricsEnabled)
	}
	if f.MetricsPort != nil {
		v["METRICS_PORT"] = strconv.Itoa(*f.MetricsPort)
	}
	return v
}

// readFile parses a YAML config file. Unknown keys are rejected.
func readFile(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var fc fileConfig
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&fc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return fc.values(), nil
}

// Load reads configuration from environment variables with defaults.
// When CONFIG_FILE is set its values fill in variables that are unset.
func Load() Config {
	file := map[string]string{}
	cfg := Config{ConfigFile: os.Getenv("CONFIG_FILE")}
	if cfg.ConfigFile != "" {
		values, err := readFile(cfg.ConfigFile)
		if err != nil {
			cfg.fileErr = err
		} else {
			file = values
		}
	}

	get := func(key string) string {
		if v := os.Getenv(key); v != "" {
			return v
		}
		return file[key]
	}

	cfg.APIBaseURL = get("API_BASE_URL")
	cfg.APITimeoutStr = get("API_TIMEOUT")
	cfg.HTTPAddr = get("HTTP_ADDR")
	cfg.TickIntervalStr = get("TICK_INTERVAL")
	cfg.RefreshCron = get("REFRESH_CRON")
	cfg.RefreshTimezone = get("REFRESH_TIMEZONE")
	cfg.DatabaseDriver = get("DATABASE_DRIVER")
	cfg.DatabaseURL = get("DATABASE_URL")
	cfg.DBOpTimeoutStr = get("DB_OP_TIMEOUT")
	cfg.LeaderRetryIntervalStr = get("LEADER_RETRY_INTERVAL")
	cfg.LeaderHeartbeatIntervalStr = get("LEADER_HEARTBEAT_INTERVAL")
	cfg.RedisAddr = get("REDIS_ADDR")
	cfg.RedisPassword = get("REDIS_PASSWORD")
	cfg.CacheTTLStr = get("CACHE_TTL")
	cfg.CircuitBreakerCooldownStr = get("CIRCUIT_BREAKER_COOLDOWN")
	cfg.MetricsEnabled = get("METRICS_ENABLED") == "true"
	cfg.MetricsPath = get("METRICS_PATH")
	cfg.HTTPShutdownTimeoutStr = get("HTTP_SHUTDOWN_TIMEOUT")
	cfg.TimerMap = get("TIMER_MAP")
	cfg.TimerName = get("TIMER_NAME")

	cfg.CircuitBreakerThreshold = 5
	if s := get("CIRCUIT_BREAKER_THRESHOLD"); s != "" {
		if n, err := parseInt(s); err == nil {
			cfg.CircuitBreakerThreshold = n
		} else {
			log.Printf("config: invalid CIRCUIT_BREAKER_THRESHOLD %q, using default 5", s)
		}
	}

	cfg.RefreshLockKey = 417302
	if s := get("REFRESH_LOCK_KEY"); s != "" {
		if n, err := parseInt(s); err == nil && n > 0 {
			cfg.RefreshLockKey = int64(n)
		} else {
			log.Printf("config: invalid REFRESH_LOCK_KEY %q (must be a positive integer), using default 417302", s)
		}
	}

	cfg.MetricsPort = 9090
	if s := get("METRICS_PORT"); s != "" {
		if n, err := parseInt(s); err == nil && n > 0 {
			cfg.MetricsPort = n
		} else {
			log.Printf("config: invalid METRICS_PORT %q (must be a positive integer), using default 9090", s)
		}
	}

	// Support the PORT variable as fallback for HTTP_ADDR.
	if cfg.HTTPAddr == "" {
		if port := os.Getenv("PORT"); port != "" {
			cfg.HTTPAddr = ":" + port
		} else {
			cfg.HTTPAddr = ":8080"
		}
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = "https://api.metaforge.gg/v1/"
	}
	if cfg.APITimeoutStr == "" {
		cfg.APITimeoutStr = "30s"
	}
	if cfg.TickIntervalStr == "" {
		cfg.TickIntervalStr = "1s"
	}
	if cfg.RefreshCron == "" {
		cfg.RefreshCron = "*/15 * * * *"
	}
	if cfg.DatabaseDriver == "" {
		cfg.DatabaseDriver = "sqlite3"
	}
	if cfg.DatabaseURL == "" && cfg.DatabaseDriver == "sqlite3" {
		cfg.DatabaseURL = "file:arccompanion.db?_foreign_keys=on"
	}
	if cfg.DBOpTimeoutStr == "" {
		cfg.DBOpTimeoutStr = "5s"
	}
	if cfg.LeaderRetryIntervalStr == "" {
		cfg.LeaderRetryIntervalStr = "5s"
	}
	if cfg.LeaderHeartbeatIntervalStr == "" {
		cfg.LeaderHeartbeatIntervalStr = "2s"
	}
	if cfg.CacheTTLStr == "" {
		cfg.CacheTTLStr = "10m"
	}
	if cfg.CircuitBreakerCooldownStr == "" {
		cfg.CircuitBreakerCooldownStr = "1m"
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.HTTPShutdownTimeoutStr == "" {
		cfg.HTTPShutdownTimeoutStr = "10s"
	}

	// Parse durations; validation is handled separately by Validate().
	if d, err := time.ParseDuration(cfg.APITimeoutStr); err == nil {
		cfg.APITimeout = d
	}
	if d, err := time.ParseDuration(cfg.TickIntervalStr); err == nil {
		cfg.TickInterval = d
	}
	if d, err := time.ParseDuration(cfg.DBOpTimeoutStr); err == nil {
		cfg.DBOpTimeout = d
	}
	if d, err := time.ParseDuration(cfg.LeaderRetryIntervalStr); err == nil {
		cfg.LeaderRetryInterval = d
	}
	if d, err := time.ParseDuration(cfg.LeaderHeartbeatIntervalStr); err == nil {
		cfg.LeaderHeartbeatInterval = d
	}
	if d, err := time.ParseDuration(cfg.CacheTTLStr); err == nil {
		cfg.CacheTTL = d
	}
	if d, err := time.ParseDuration(cfg.CircuitBreakerCooldownStr); err == nil {
		cfg.CircuitBreakerCooldown = d
	}
	if d, err := time.ParseDuration(cfg.HTTPShutdownTimeoutStr); err == nil {
		cfg.HTTPShutdownTimeout = d
	}

	return cfg
}

// StoreEnabled reports whether a local content store is configured.
func (c Config) StoreEnabled() bool {
	return c.DatabaseDriver != "none"
}

// SharedStore reports whether several instances may share the content
// store, in which case a single elected instance copies content into it.
func (c Config) SharedStore() bool {
	return c.DatabaseDriver == "postgres"
}

// parseInt parses a string as a non-negative integer.
func parseInt(s string) (int, error) {
	var n int
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, os.ErrInvalid
		}
		n = n*10 + int(c-'0')
	}
	return n, nil
}

// MaskedJSON returns the configuration as JSON with secrets masked.
func (c Config) MaskedJSON() ([]byte, error) {
	masked := struct {
		ConfigFile              string `json:"config_file,omitempty"`
		APIBaseURL              string `json:"api_base_url"`
		APITimeout              string `json:"api_timeout"`
		HTTPAddr                string `json:"http_addr"`
		TickInterval            string `json:"tick_interval"`
		RefreshCron             string `json:"refresh_cron"`
		RefreshTimezone         string `json:"refresh_timezone,omitempty"`
		DatabaseDriver          string `json:"database_driver"`
		DatabaseURL             string `json:"database_url"`
		DBOpTimeout             string `json:"db_op_timeout"`
		RefreshLockKey          int64  `json:"refresh_lock_key"`
		LeaderRetryInterval     string `json:"leader_retry_interval"`
		LeaderHeartbeatInterval string `json:"leader_heartbeat_interval"`
		RedisAddr               string `json:"redis_addr,omitempty"`
		RedisPassword           string `json:"redis_password,omitempty"`
		CacheTTL                string `json:"cache_ttl"`
		CircuitBreakerThreshold int    `json:"circuit_breaker_threshold"`
		CircuitBreakerCooldown  string `json:"circuit_breaker_cooldown"`
		MetricsEnabled          bool   `json:"metrics_enabled"`
		MetricsPath             string `json:"metrics_path"`
		MetricsPort             int    `json:"metrics_port"`
		HTTPShutdownTimeout     string `json:"http_shutdown_timeout"`
		TimerMap                string `json:"timer_map,omitempty"`
		TimerName               string `json:"timer_name,omitempty"`
	}{
		ConfigFile:              c.ConfigFile,
		APIBaseURL:              c.APIBaseURL,
		APITimeout:              c.APITimeoutStr,
		HTTPAddr:                c.HTTPAddr,
		TickInterval:            c.TickIntervalStr,
		RefreshCron:             c.RefreshCron,
		RefreshTimezone:         c.RefreshTimezone,
		DatabaseDriver:          c.DatabaseDriver,
		DatabaseURL:             maskDSN(c.DatabaseDriver, c.DatabaseURL),
		DBOpTimeout:             c.DBOpTimeoutStr,
		RefreshLockKey:          c.RefreshLockKey,
		LeaderRetryInterval:     c.LeaderRetryIntervalStr,
		LeaderHeartbeatInterval: c.LeaderHeartbeatIntervalStr,
		RedisAddr:               c.RedisAddr,
		RedisPassword:           maskSecret(c.RedisPassword),
		CacheTTL:                c.CacheTTLStr,
		CircuitBreakerThreshold: c.CircuitBreakerThreshold,
		CircuitBreakerCooldown:  c.CircuitBreakerCooldownStr,
		MetricsEnabled:          c.MetricsEnabled,
		MetricsPath:             c.MetricsPath,
		MetricsPort:             c.MetricsPort,
		HTTPShutdownTimeout:     c.HTTPShutdownTimeoutStr,
		TimerMap:                c.TimerMap,
		TimerName:               c.TimerName,
	}
	return json.MarshalIndent(masked, "", "  ")
}

// maskDSN leaves local SQLite paths readable and masks server DSNs.
func maskDSN(driver, dsn string) string {
	if driver == "sqlite3" {
		return dsn
	}
	return maskSecret(dsn)
}

// maskSecret masks a secret value, preserving only the URI scheme if present.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if strings.HasPrefix(s, scheme) {
			return scheme + "***"
		}
	}
	return "***"
}
