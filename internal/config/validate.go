package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/djlord-it/arc-companion/internal/cron"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	msg := fmt.Sprintf("%d validation errors:", len(e))
	for _, err := range e {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Validate checks the configuration for errors.
// Returns nil if valid, or ValidationErrors if invalid.
func Validate(cfg Config) error {
	var errs ValidationErrors

	if cfg.fileErr != nil {
		errs = append(errs, ValidationError{
			Field:   "CONFIG_FILE",
			Message: cfg.fileErr.Error(),
		})
	}

	switch cfg.DatabaseDriver {
	case "", "sqlite3", "postgres":
		if cfg.DatabaseURL == "" {
			errs = append(errs, ValidationError{
				Field:   "DATABASE_URL",
				Message: "required",
			})
		}
	case "none":
	default:
		errs = append(errs, ValidationError{
			Field:   "DATABASE_DRIVER",
			Message: fmt.Sprintf("must be 'sqlite3', 'postgres' or 'none', got %q", cfg.DatabaseDriver),
		})
	}

	if cfg.APIBaseURL != "" {
		u, err := url.Parse(cfg.APIBaseURL)
		if err != nil {
			errs = append(errs, ValidationError{Field: "API_BASE_URL", Message: err.Error()})
		} else if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, ValidationError{Field: "API_BASE_URL", Message: "must be an absolute http or https URL"})
		}
	}

	for _, d := range []struct {
		field, value string
	}{
		{"TICK_INTERVAL", cfg.TickIntervalStr},
		{"API_TIMEOUT", cfg.APITimeoutStr},
		{"DB_OP_TIMEOUT", cfg.DBOpTimeoutStr},
		{"LEADER_RETRY_INTERVAL", cfg.LeaderRetryIntervalStr},
		{"LEADER_HEARTBEAT_INTERVAL", cfg.LeaderHeartbeatIntervalStr},
		{"CACHE_TTL", cfg.CacheTTLStr},
		{"CIRCUIT_BREAKER_COOLDOWN", cfg.CircuitBreakerCooldownStr},
		{"HTTP_SHUTDOWN_TIMEOUT", cfg.HTTPShutdownTimeoutStr},
	} {
		if err := checkPositiveDuration(d.field, d.value); err != nil {
			errs = append(errs, *err)
		}
	}

	if cfg.RefreshCron != "" {
		if _, err := cron.NewParser().Parse(cfg.RefreshCron, cfg.RefreshTimezone); err != nil {
			errs = append(errs, ValidationError{
				Field:   "REFRESH_CRON",
				Message: err.Error(),
			})
		}
	}

	if cfg.CircuitBreakerThreshold < 0 {
		errs = append(errs, ValidationError{
			Field:   "CIRCUIT_BREAKER_THRESHOLD",
			Message: "must not be negative",
		})
	}

	if cfg.MetricsEnabled && (cfg.MetricsPort <= 0 || cfg.MetricsPort > 65535) {
		errs = append(errs, ValidationError{
			Field:   "METRICS_PORT",
			Message: fmt.Sprintf("must be between 1 and 65535, got %d", cfg.MetricsPort),
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// checkPositiveDuration validates a non-empty duration string.
func checkPositiveDuration(field, value string) *ValidationError {
	if value == "" {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return &ValidationError{Field: field, Message: fmt.Sprintf("invalid duration: %v", err)}
	}
	if d <= 0 {
		return &ValidationError{Field: field, Message: "must be positive"}
	}
	return nil
}
