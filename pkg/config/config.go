// Package config loads and validates flushgate session configuration.
//
// Files may be YAML or JSON (detected by extension). Environment variables with the
// FLUSHGATE_ prefix override file values, e.g. FLUSHGATE_WAIT_TIMEOUT=2s or
// FLUSHGATE_TRACING_EXPORTER=stdout.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// EnvPrefix is the default prefix for environment overrides.
const EnvPrefix = "FLUSHGATE"

// Config describes one append/flush/observe session and its ambient services.
type Config struct {
	// Dir holds the append target.
	Dir string `yaml:"dir" json:"dir"`

	// FileName is the append target inside Dir.
	FileName string `yaml:"file_name" json:"file_name"`

	// FileMode is the permission used when the file is created.
	FileMode uint32 `yaml:"file_mode" json:"file_mode"`

	// WriteBufferBytes sizes the appender's buffered writer.
	WriteBufferBytes int `yaml:"write_buffer_bytes" json:"write_buffer_bytes"`

	// WaitTimeout bounds waits whose context carries no deadline. Zero waits forever.
	WaitTimeout Duration `yaml:"wait_timeout" json:"wait_timeout"`

	// SyncRetryBackoff makes a failed flush retry after this delay instead of
	// waiting for the next append. Zero disables retries.
	SyncRetryBackoff Duration `yaml:"sync_retry_backoff" json:"sync_retry_backoff"`

	// StrictLength requires the file length to equal the durable offset at read time.
	StrictLength bool `yaml:"strict_length" json:"strict_length"`

	// AssertInvariants panics when durable <= written <= size is violated.
	AssertInvariants bool `yaml:"assert_invariants" json:"assert_invariants"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`
	Tracing TracingConfig `yaml:"tracing" json:"tracing"`
	Notify  NotifyConfig  `yaml:"notify" json:"notify"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Listen  string `yaml:"listen" json:"listen"`
}

// TracingConfig selects an OpenTelemetry exporter.
type TracingConfig struct {
	// Exporter is one of none, stdout, zipkin, jaeger.
	Exporter    string  `yaml:"exporter" json:"exporter"`
	Endpoint    string  `yaml:"endpoint" json:"endpoint"`
	ServiceName string  `yaml:"service_name" json:"service_name"`
	SampleRate  float64 `yaml:"sample_rate" json:"sample_rate"`
}

// NotifyConfig enables publishing durable offsets to NATS.
type NotifyConfig struct {
	NATSURL       string `yaml:"nats_url" json:"nats_url"`
	SubjectPrefix string `yaml:"subject_prefix" json:"subject_prefix"`
}

// Default returns a config rooted at dir with conservative defaults.
func Default(dir string) Config {
	return Config{
		Dir:              dir,
		FileName:         "data",
		FileMode:         0o644,
		WriteBufferBytes: 64 << 10, // 64KB
		LogLevel:         "info",
		Metrics: MetricsConfig{
			Listen: ":9090",
		},
		Tracing: TracingConfig{
			Exporter:    "none",
			ServiceName: "flushgate",
			SampleRate:  1.0,
		},
		Notify: NotifyConfig{
			SubjectPrefix: "flushgate",
		},
	}
}

// Path returns the append target path.
func (c Config) Path() string {
	return filepath.Join(c.Dir, c.FileName)
}

// Mode returns FileMode as an os.FileMode, defaulting to 0644.
func (c Config) Mode() os.FileMode {
	if c.FileMode == 0 {
		return 0o644
	}
	return os.FileMode(c.FileMode)
}

// Validate checks the config with the standard validator set.
func (c *Config) Validate() error {
	return Validate(c,
		RequiredFields("Dir", "FileName"),
		RangeValidator("WriteBufferBytes", 0, 1<<30),
		RangeValidator("Tracing.SampleRate", 0, 1),
		OneOfValidator("Tracing.Exporter", "", "none", "stdout", "zipkin", "jaeger"),
		OneOfValidator("LogLevel", "", "debug", "info", "warn", "error"),
		ValidatorFunc(func(interface{}) error {
			if c.WaitTimeout.Std() < 0 || c.SyncRetryBackoff.Std() < 0 {
				return fmt.Errorf("durations must not be negative")
			}
			return nil
		}),
	)
}

// Duration is a time.Duration that reads and writes as "1.5s" style strings.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*d = 0
		return nil
	}
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(b), err)
	}
	*d = Duration(v)
	return nil
}
