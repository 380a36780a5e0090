package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/robfig/cron/v3"
)

// FieldError is a validation failure of one field.
type FieldError struct {
	Field   string
	Message string
}

func (e FieldError) Error() string { return fmt.Sprintf("%s: %s", e.Field, e.Message) }

// ValidationError lists every invalid field.
type ValidationError struct {
	Errors []FieldError
}

func (e ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return "configuration validation failed: " + e.Errors[0].Error()
	}
	var b strings.Builder
	fmt.Fprintf(&b, "configuration validation failed with %d errors:", len(e.Errors))
	for _, fe := range e.Errors {
		b.WriteString("\n  - ")
		b.WriteString(fe.Error())
	}
	return b.String()
}

var logLevels = map[string]bool{"TRACE": true, "DEBUG": true, "INFO": true, "WARN": true, "WARNING": true, "ERROR": true, "FATAL": true}

var errorKinds = map[string]bool{"info": true, "warning": true, "error": true}

// Validate checks cfg and returns a ValidationError listing every problem.
func Validate(cfg *Config) error {
	var errs []FieldError
	add := func(field, format string, a ...any) {
		errs = append(errs, FieldError{Field: field, Message: fmt.Sprintf(format, a...)})
	}

	if port, err := strconv.Atoi(cfg.Server.Port); err != nil || port < 1 || port > 65535 {
		add("server.port", "must be a port number, got %q", cfg.Server.Port)
	}
	for field, d := range map[string]int64{
		"server.read_timeout":     int64(cfg.Server.ReadTimeout),
		"server.write_timeout":    int64(cfg.Server.WriteTimeout),
		"server.idle_timeout":     int64(cfg.Server.IdleTimeout),
		"server.request_timeout":  int64(cfg.Server.RequestTimeout),
		"server.shutdown_timeout": int64(cfg.Server.ShutdownTimeout),
	} {
		if d < 0 {
			add(field, "must be positive")
		}
	}

	if cfg.Database.URL == "" && cfg.Pack.Path == "" {
		add("database.url", "required unless pack.path is set")
	}
	if cfg.Pack.Watch && cfg.Pack.Path == "" {
		add("pack.watch", "requires pack.path")
	}
	if cfg.Database.MaxIdleConns > cfg.Database.MaxOpenConns {
		add("database.max_idle_conns", "cannot exceed max_open_conns (%d)", cfg.Database.MaxOpenConns)
	}

	if cfg.Engine.StepBudget < 0 {
		add("engine.step_budget", "must be positive")
	}
	seen := make(map[string]bool)
	for i, d := range cfg.Engine.ErrorDefinitions {
		field := fmt.Sprintf("engine.error_definitions[%d]", i)
		if d.Code == "" {
			add(field, "code is required")
		} else if seen[d.Code] {
			add(field, "duplicate code %q", d.Code)
		}
		seen[d.Code] = true
		if !errorKinds[d.Kind] {
			add(field, "kind must be info, warning or error, got %q", d.Kind)
		}
	}

	if cfg.ExecLog.RetentionDays < 0 {
		add("execlog.retention_days", "must be positive")
	}
	if cfg.ExecLog.Path != "" {
		if _, err := cron.ParseStandard(cfg.ExecLog.PruneSchedule); err != nil {
			add("execlog.prune_schedule", "invalid cron expression: %v", err)
		}
	}
	if cfg.Regression.Schedule != "" {
		if _, err := cron.ParseStandard(cfg.Regression.Schedule); err != nil {
			add("regression.schedule", "invalid cron expression: %v", err)
		}
	}
	if cfg.Regression.Concurrency < 0 {
		add("regression.concurrency", "must be positive")
	}
	if cfg.Pricing.Concurrency < 0 {
		add("pricing.concurrency", "must be positive")
	}

	if !logLevels[strings.ToUpper(cfg.Logging.Level)] {
		add("logging.level", "unknown level %q", cfg.Logging.Level)
	}
	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		add("metrics.path", "must start with /")
	}

	if len(errs) > 0 {
		sort.SliceStable(errs, func(i, j int) bool { return errs[i].Field < errs[j].Field })
		return ValidationError{Errors: errs}
	}
	return nil
}
