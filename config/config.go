// Package config loads the rule engine configuration: a YAML file, then
// defaults, then environment overrides, then validation.
package config

import "time"

// Config is the configuration of the rule engine processes.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Pack       PackConfig       `yaml:"pack"`
	Engine     EngineConfig     `yaml:"engine"`
	ExecLog    ExecLogConfig    `yaml:"execlog"`
	Regression RegressionConfig `yaml:"regression"`
	Pricing    PricingConfig    `yaml:"pricing"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig locates the postgres store of rules and catalog.
type DatabaseConfig struct {
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// PackConfig serves rules from a YAML pack instead of the database.
type PackConfig struct {
	Path     string        `yaml:"path"`
	Watch    bool          `yaml:"watch"`
	Debounce time.Duration `yaml:"debounce"`
}

// EngineConfig tunes rule execution.
type EngineConfig struct {
	StepBudget int64         `yaml:"step_budget"`
	CacheTTL   time.Duration `yaml:"cache_ttl"`
	DateLayout string        `yaml:"date_layout"`

	// ErrorDefinitions back add_error_code.
	ErrorDefinitions []ErrorDefinition `yaml:"error_definitions"`
}

// ErrorDefinition is a functional error raised by code.
type ErrorDefinition struct {
	Code    string `yaml:"code"`
	Kind    string `yaml:"kind"`
	Message string `yaml:"message"`
}

// ExecLogConfig configures the log of debug executions. An empty path
// disables it.
type ExecLogConfig struct {
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
	PruneSchedule string `yaml:"prune_schedule"`
}

// RegressionConfig schedules test case replays. An empty schedule disables
// them.
type RegressionConfig struct {
	Schedule    string `yaml:"schedule"`
	Concurrency int    `yaml:"concurrency"`
}

// PricingConfig tunes premium aggregation.
type PricingConfig struct {
	Concurrency int `yaml:"concurrency"`
}

// LoggingConfig sets the log level (TRACE, DEBUG, INFO, WARN, ERROR, FATAL).
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// MetricsConfig exposes Prometheus metrics.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Default values.
const (
	DefaultPort            = "8080"
	DefaultReadTimeout     = 15 * time.Second
	DefaultWriteTimeout    = 15 * time.Second
	DefaultIdleTimeout     = 60 * time.Second
	DefaultRequestTimeout  = 60 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
	DefaultMaxOpenConns    = 10
	DefaultMaxIdleConns    = 5
	DefaultPackDebounce    = 200 * time.Millisecond
	DefaultStepBudget      = 100000
	DefaultDateLayout      = "02/01/2006"
	DefaultRetentionDays   = 30
	DefaultPruneSchedule   = "0 4 * * *"
	DefaultConcurrency     = 4
	DefaultLogLevel        = "INFO"
	DefaultMetricsPath     = "/metrics"
)

// Default returns a configuration holding only defaults. Metrics are on
// unless a file turns them off.
func Default() *Config {
	cfg := &Config{Metrics: MetricsConfig{Enabled: true}}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills zero fields.
func ApplyDefaults(cfg *Config) {
	setString(&cfg.Server.Port, DefaultPort)
	setDuration(&cfg.Server.ReadTimeout, DefaultReadTimeout)
	setDuration(&cfg.Server.WriteTimeout, DefaultWriteTimeout)
	setDuration(&cfg.Server.IdleTimeout, DefaultIdleTimeout)
	setDuration(&cfg.Server.RequestTimeout, DefaultRequestTimeout)
	setDuration(&cfg.Server.ShutdownTimeout, DefaultShutdownTimeout)

	setInt(&cfg.Database.MaxOpenConns, DefaultMaxOpenConns)
	setInt(&cfg.Database.MaxIdleConns, DefaultMaxIdleConns)

	setDuration(&cfg.Pack.Debounce, DefaultPackDebounce)

	if cfg.Engine.StepBudget == 0 {
		cfg.Engine.StepBudget = DefaultStepBudget
	}
	setString(&cfg.Engine.DateLayout, DefaultDateLayout)

	setInt(&cfg.ExecLog.RetentionDays, DefaultRetentionDays)
	setString(&cfg.ExecLog.PruneSchedule, DefaultPruneSchedule)

	setInt(&cfg.Regression.Concurrency, DefaultConcurrency)
	setInt(&cfg.Pricing.Concurrency, DefaultConcurrency)

	setString(&cfg.Logging.Level, DefaultLogLevel)
	setString(&cfg.Metrics.Path, DefaultMetricsPath)
}

func setString(field *string, def string) {
	if *field == "" {
		*field = def
	}
}

func setInt(field *int, def int) {
	if *field == 0 {
		*field = def
	}
}

func setDuration(field *time.Duration, def time.Duration) {
	if *field == 0 {
		*field = def
	}
}
