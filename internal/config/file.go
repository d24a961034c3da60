package config

import (
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// File is the on-disk YAML configuration of the ragbroker binary.
type File struct {
	Worker  WorkerConfig  `yaml:"worker"`
	Respawn RespawnConfig `yaml:"respawn"`
	HTTP    HTTPConfig    `yaml:"http"`
	History HistoryConfig `yaml:"history"`
	NATS    NATSConfig    `yaml:"nats"`
	Ingest  IngestConfig  `yaml:"ingest"`
	Log     LogConfig     `yaml:"log"`
}

// WorkerConfig describes the worker process and the broker's timeouts.
type WorkerConfig struct {
	Command          string            `yaml:"command"`
	Args             []string          `yaml:"args"`
	Dir              string            `yaml:"dir"`
	Env              map[string]string `yaml:"env"`
	DataDir          string            `yaml:"data_dir"`
	DataDirEnv       string            `yaml:"data_dir_env"`
	ReadinessTimeout time.Duration     `yaml:"readiness_timeout"`
	RequestTimeout   time.Duration     `yaml:"request_timeout"`
	ShutdownGrace    time.Duration     `yaml:"shutdown_grace"`
	DefaultTopK      int               `yaml:"default_top_k"`
	Correlation      CorrelationMode   `yaml:"correlation"`
}

// RespawnConfig enables the optional restart policy.
type RespawnConfig struct {
	Enabled         bool          `yaml:"enabled"`
	MaxAttempts     int           `yaml:"max_attempts"`
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
}

// HTTPConfig configures the HTTP adapter.
type HTTPConfig struct {
	Listen string `yaml:"listen"`
}

// HistoryConfig configures the SQLite query log. Empty Path disables it.
type HistoryConfig struct {
	Path string `yaml:"path"`
}

// NATSConfig configures the NATS request/reply adapter. Empty URL disables it.
type NATSConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
	Queue   string `yaml:"queue"`
}

// IngestConfig lists the named batch jobs the ingestion trigger may run.
type IngestConfig struct {
	Timeout time.Duration        `yaml:"timeout"`
	Jobs    map[string]JobConfig `yaml:"jobs"`
}

// JobConfig is one one-shot batch script.
type JobConfig struct {
	Command string            `yaml:"command"`
	Args    []string          `yaml:"args"`
	Dir     string            `yaml:"dir"`
	Env     map[string]string `yaml:"env"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a YAML configuration file, expanding ${VAR} references from the
// environment and applying defaults.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	return Parse(data)
}

// Parse decodes YAML configuration from data.
func Parse(data []byte) (*File, error) {
	var f File

	if err := yaml.Unmarshal([]byte(interpolateEnv(string(data))), &f); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	f.applyDefaults()

	if err := f.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &f, nil
}

// Options converts the worker section into broker options.
func (f *File) Options(log *slog.Logger) *Options {
	w := f.Worker

	return &Options{
		Logger:           log,
		Command:          w.Command,
		Args:             w.Args,
		Dir:              w.Dir,
		Env:              w.Env,
		DataDir:          w.DataDir,
		DataDirEnv:       w.DataDirEnv,
		ReadinessTimeout: w.ReadinessTimeout,
		RequestTimeout:   w.RequestTimeout,
		ShutdownGrace:    w.ShutdownGrace,
		DefaultTopK:      w.DefaultTopK,
		CorrelationMode:  w.Correlation,
	}
}

func (f *File) applyDefaults() {
	if f.Worker.Correlation == "" {
		f.Worker.Correlation = CorrelationEcho
	}

	if f.Respawn.MaxAttempts <= 0 {
		f.Respawn.MaxAttempts = 3
	}

	if f.Respawn.InitialInterval <= 0 {
		f.Respawn.InitialInterval = time.Second
	}

	if f.Respawn.MaxInterval <= 0 {
		f.Respawn.MaxInterval = 30 * time.Second
	}

	if f.HTTP.Listen == "" {
		f.HTTP.Listen = ":8080"
	}

	if f.NATS.Subject == "" {
		f.NATS.Subject = "ragbroker.ask"
	}

	if f.NATS.Queue == "" {
		f.NATS.Queue = "ragbroker"
	}

	if f.Ingest.Timeout <= 0 {
		f.Ingest.Timeout = 30 * time.Minute
	}

	if f.Log.Level == "" {
		f.Log.Level = "info"
	}

	if f.Log.Format == "" {
		f.Log.Format = "text"
	}
}

func (f *File) validate() error {
	if f.Worker.Command == "" {
		return fmt.Errorf("worker.command is required")
	}

	if envVarPattern.MatchString(f.Worker.DataDir) {
		return fmt.Errorf("worker.data_dir: environment variable %s is not set", f.Worker.DataDir)
	}

	for name, job := range f.Ingest.Jobs {
		if job.Command == "" {
			return fmt.Errorf("ingest.jobs.%s.command is required", name)
		}
	}

	switch f.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", f.Log.Format)
	}

	return (&Options{Command: f.Worker.Command, CorrelationMode: f.Worker.Correlation}).Validate()
}

// interpolateEnv replaces ${VAR} with the value of VAR. Unset variables are
// left in place so validation can report them.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]

		if value, exists := os.LookupEnv(varName); exists {
			return value
		}

		return match
	})
}
