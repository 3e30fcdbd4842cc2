package observe

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jonwraymond/reqcache/observe/exporters"
)

// Config holds all configuration for the Observer.
type Config struct {
	ServiceName string        `yaml:"service_name"`
	Version     string        `yaml:"version"`
	Environment string        `yaml:"environment"`
	Tracing     TracingConfig `yaml:"tracing"`
	Metrics     MetricsConfig `yaml:"metrics"`
	Logging     LoggingConfig `yaml:"logging"`
}

// TracingConfig configures the tracing subsystem.
type TracingConfig struct {
	Enabled   bool    `yaml:"enabled"`
	Exporter  string  `yaml:"exporter"`   // otlp|jaeger|stdout|none
	SamplePct float64 `yaml:"sample_pct"` // 0.0-1.0, applied to root spans
}

// MetricsConfig configures the metrics subsystem.
type MetricsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"` // otlp|prometheus|stdout|none
}

// LoggingConfig configures the logging subsystem.
type LoggingConfig struct {
	Enabled bool   `yaml:"enabled"`
	Level   string `yaml:"level"`   // debug|info|warn|error
	Backend string `yaml:"backend"` // zap|logrus
}

// Sampling bounds for TracingConfig.SamplePct.
const (
	MinSamplePct = 0.0
	MaxSamplePct = 1.0
)

var (
	validLogLevels   = []string{"debug", "info", "warn", "error", ""}
	validLogBackends = []string{"zap", "logrus", ""}
)

// Validate reports every problem in the configuration at once. Sections
// that are disabled are not checked.
func (c *Config) Validate() error {
	var errs []error
	if c.ServiceName == "" {
		errs = append(errs, ErrMissingServiceName)
	}

	if c.Tracing.Enabled {
		if !slices.Contains(exporters.TracingExporters(), c.Tracing.Exporter) {
			errs = append(errs, fmt.Errorf("%w: %q", ErrInvalidTracingExporter, c.Tracing.Exporter))
		}
		if c.Tracing.SamplePct < MinSamplePct || c.Tracing.SamplePct > MaxSamplePct {
			errs = append(errs, fmt.Errorf("%w, got: %f", ErrInvalidSamplePct, c.Tracing.SamplePct))
		}
	}

	if c.Metrics.Enabled && !slices.Contains(exporters.MetricsExporters(), c.Metrics.Exporter) {
		errs = append(errs, fmt.Errorf("%w: %q", ErrInvalidMetricsExporter, c.Metrics.Exporter))
	}

	if c.Logging.Enabled {
		if !slices.Contains(validLogLevels, c.Logging.Level) {
			errs = append(errs, fmt.Errorf("%w: %q", ErrInvalidLogLevel, c.Logging.Level))
		}
		if !slices.Contains(validLogBackends, c.Logging.Backend) {
			errs = append(errs, fmt.Errorf("%w: %q", ErrInvalidLogBackend, c.Logging.Backend))
		}
	}

	return errors.Join(errs...)
}

// LoadConfig reads an observer configuration from a YAML file and validates it.
//
// Example:
//
//	service_name: usersvc
//	tracing:
//	  enabled: true
//	  exporter: stdout
//	  sample_pct: 1.0
//	logging:
//	  enabled: true
//	  level: ${LOG_LEVEL}
//
// ${VAR} references are replaced from the environment before parsing; a
// reference to an unset variable is an error. $$ stands for a literal $, and
// a bare $VAR is left as written.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("observe: read config: %w", err)
	}
	expanded, err := expandEnvStrict(string(data))
	if err != nil {
		return Config{}, fmt.Errorf("observe: read config %s: %w", path, err)
	}
	return ParseConfig([]byte(expanded))
}

// envRefPattern matches "$$" and "${NAME}". A bare "$NAME" is not a
// reference and is kept as written.
var envRefPattern = regexp.MustCompile(`\$\$|\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

func expandEnvStrict(s string) (string, error) {
	var missing []string
	out := envRefPattern.ReplaceAllStringFunc(s, func(ref string) string {
		if ref == "$$" {
			return "$"
		}
		name := ref[2 : len(ref)-1]
		v, ok := os.LookupEnv(name)
		if !ok && !slices.Contains(missing, name) {
			missing = append(missing, name)
		}
		return v
	})
	if len(missing) > 0 {
		slices.Sort(missing)
		return "", fmt.Errorf("%w: %s", ErrMissingEnv, strings.Join(missing, ", "))
	}
	return out, nil
}

// ParseConfig decodes a YAML observer configuration and validates it.
// Unknown keys are rejected.
func ParseConfig(data []byte) (Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("observe: parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
