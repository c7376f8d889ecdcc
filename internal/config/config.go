// Package config defines and loads the application configuration.
package config

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server Server `mapstructure:"server" validate:"required"`
	Engine Engine `mapstructure:"engine" validate:"required"`
}

// Server contains the HTTP server settings.
type Server struct {
	Port     int    `mapstructure:"port"      validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// Engine contains the defaults applied to jobs and handler types that
// do not configure these values themselves.
type Engine struct {
	// DefaultMaxConcurrent bounds parallelism for jobs submitted
	// without an explicit max_concurrent_tasks.
	DefaultMaxConcurrent int `mapstructure:"default_max_concurrent" validate:"required,gte=1"`

	// DefaultMaxRetries applies to tasks that do not set max_retries.
	DefaultMaxRetries int `mapstructure:"default_max_retries" validate:"gte=0"`

	// BreakerThreshold is the consecutive-failure count that opens a
	// handler type's circuit breaker.
	BreakerThreshold int `mapstructure:"breaker_threshold" validate:"required,gte=1"`

	// BreakerTimeoutSeconds is the open-circuit cooldown before a
	// trial call is allowed.
	BreakerTimeoutSeconds int `mapstructure:"breaker_timeout_seconds" validate:"required,gte=1"`

	// Backoff selects the retry delay strategy.
	Backoff Backoff `mapstructure:"backoff" validate:"required"`
}

// Backoff configures the retry delay computation.
type Backoff struct {
	Strategy    string  `mapstructure:"strategy"      validate:"required,oneof=immediate fixed linear exponential"`
	BaseDelayMS int     `mapstructure:"base_delay_ms" validate:"gte=0"`
	MaxDelayMS  int     `mapstructure:"max_delay_ms"  validate:"gte=0"`
	Multiplier  float64 `mapstructure:"multiplier"    validate:"gte=0"`
	Jitter      bool    `mapstructure:"jitter"`
}
