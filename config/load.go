package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes the environment overrides.
const EnvPrefix = "RULEENGINE_"

// Load reads the YAML file at path, applies defaults and environment
// overrides and validates the result. An empty path starts from defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{Metrics: MetricsConfig{Enabled: true}}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
		}
		if err := decode(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
		}
	}

	ApplyDefaults(cfg)
	if err := ApplyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ApplyEnv overrides cfg with environment variables read through lookup.
// DATABASE_URL, PORT and LOG_LEVEL are honoured next to their RULEENGINE_
// forms, which win.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	env := func(names ...string) (string, bool) {
		for _, n := range names {
			if v, ok := lookup(n); ok && v != "" {
				return v, true
			}
		}
		return "", false
	}
	var errs []error
	str := func(field *string, names ...string) {
		if v, ok := env(names...); ok {
			*field = v
		}
	}
	integer := func(field *int, name string) {
		if v, ok := env(name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*field = n
		}
	}
	duration := func(field *time.Duration, name string) {
		if v, ok := env(name); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*field = d
		}
	}
	boolean := func(field *bool, name string) {
		if v, ok := env(name); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*field = b
		}
	}

	str(&cfg.Server.Port, EnvPrefix+"PORT", "PORT")
	duration(&cfg.Server.RequestTimeout, EnvPrefix+"REQUEST_TIMEOUT")
	str(&cfg.Database.URL, EnvPrefix+"DATABASE_URL", "DATABASE_URL")
	integer(&cfg.Database.MaxOpenConns, EnvPrefix+"DATABASE_MAX_OPEN_CONNS")
	str(&cfg.Pack.Path, EnvPrefix+"PACK_PATH")
	boolean(&cfg.Pack.Watch, EnvPrefix+"PACK_WATCH")
	if v, ok := env(EnvPrefix + "STEP_BUDGET"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sSTEP_BUDGET: %w", EnvPrefix, err))
		} else {
			cfg.Engine.StepBudget = n
		}
	}
	str(&cfg.ExecLog.Path, EnvPrefix+"EXECLOG_PATH")
	str(&cfg.Regression.Schedule, EnvPrefix+"REGRESSION_SCHEDULE")
	str(&cfg.Logging.Level, EnvPrefix+"LOG_LEVEL", "LOG_LEVEL")
	boolean(&cfg.Metrics.Enabled, EnvPrefix+"METRICS_ENABLED")

	if len(errs) > 0 {
		return fmt.Errorf("invalid environment override: %w", errors.Join(errs...))
	}
	return nil
}
