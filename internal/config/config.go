// Package config handles loading and validating Runbox configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

func init() {
	// Load .env file if it exists
	_ = godotenv.Load()
}

// Config is the root configuration for Runbox.
type Config struct {
	Workspace     string               `json:"workspace,omitempty" yaml:"workspace,omitempty"` // Workspace root. Default: ~/.runbox/workspace. Override: RUNBOX_WORKSPACE env var.
	Engine        EngineConfig         `json:"engine" yaml:"engine"`
	History       *HistoryConfig       `json:"history,omitempty" yaml:"history,omitempty"`             // nil = SQLite default (derived from workspace)
	Observability *ObservabilityConfig `json:"observability,omitempty" yaml:"observability,omitempty"` // nil = observability disabled
	Janitor       *JanitorConfig       `json:"janitor,omitempty" yaml:"janitor,omitempty"`             // nil = janitor disabled
	Skills        *SkillsConfig        `json:"skills,omitempty" yaml:"skills,omitempty"`               // nil = workspace skills dir only; set enabled=false to turn skills off
}

// EngineConfig selects and tunes the execution backend.
type EngineConfig struct {
	Backend             string           `json:"backend" yaml:"backend"` // "local" or "container". Empty = no backend (all requests denied).
	MaxExecutionSeconds int              `json:"max_execution_seconds" yaml:"max_execution_seconds"` // Default request timeout. Default: 120.
	MaxOutputBytes      int64            `json:"max_output_bytes" yaml:"max_output_bytes"`           // Per-stream capture cap. Default: 8 MiB.
	DrainGraceSeconds   int              `json:"drain_grace_seconds" yaml:"drain_grace_seconds"`     // Grace after kill for output drain. Default: 2.
	Container           *ContainerConfig `json:"container,omitempty" yaml:"container,omitempty"`     // Container backend settings.
}

// ContainerConfig holds container backend settings.
type ContainerConfig struct {
	Image          string  `json:"image" yaml:"image"`                       // Container image (e.g. "runbox-runtime:latest"). Override: RUNBOX_IMAGE env var.
	Runtime        string  `json:"runtime" yaml:"runtime"`                   // CLI binary driving containers. Default: "docker".
	MemoryMB       int     `json:"memory_mb" yaml:"memory_mb"`               // --memory flag. 0 = unlimited.
	CPUCores       float64 `json:"cpu_cores" yaml:"cpu_cores"`               // --cpus flag (e.g. 0.5). 0 = unlimited.
	PIDsLimit      int     `json:"pids_limit" yaml:"pids_limit"`             // --pids-limit flag. 0 = unlimited.
	NetworkAllowed bool    `json:"network_allowed" yaml:"network_allowed"`   // false = --network=none.
	ReadOnlyRootFS bool    `json:"read_only_rootfs" yaml:"read_only_rootfs"` // true = --read-only with tmpfs /tmp and work dir.
	TmpfsSizeMB    int     `json:"tmpfs_size_mb" yaml:"tmpfs_size_mb"`       // Size of tmpfs mounts with read-only root. Default: 64.
	User           string  `json:"user" yaml:"user"`                         // --user flag (e.g. "65534:65534"). Empty = image default.
	WorkDir        string  `json:"work_dir" yaml:"work_dir"`                 // In-container working directory. Default: "/runbox/work".
}

// HistoryConfig configures the execution history store.
// When nil, defaults to SQLite with the database path derived from the workspace.
type HistoryConfig struct {
	Driver   string                 `json:"driver" yaml:"driver"`                         // "sqlite" (default) or "postgres".
	SQLite   *SQLiteHistoryConfig   `json:"sqlite,omitempty" yaml:"sqlite,omitempty"`     // SQLite-specific settings.
	Postgres *PostgresHistoryConfig `json:"postgres,omitempty" yaml:"postgres,omitempty"` // PostgreSQL-specific settings.
}

// DriverName returns the configured driver, defaulting to "sqlite".
func (h *HistoryConfig) DriverName() string {
	if h != nil && h.Driver != "" {
		return h.Driver
	}
	return "sqlite"
}

// SQLiteHistoryConfig holds SQLite-specific settings.
type SQLiteHistoryConfig struct {
	Path        string `json:"path,omitempty" yaml:"path,omitempty"` // Database file path. Default: derived from workspace.
	JournalMode string `json:"journal_mode" yaml:"journal_mode"`     // "wal" (default), "delete", "truncate", etc.
}

// PostgresHistoryConfig holds PostgreSQL-specific settings.
type PostgresHistoryConfig struct {
	DSN              string `json:"dsn" yaml:"dsn"` // Override: RUNBOX_DB_DSN env var.
	MaxOpenConns     int    `json:"max_open_conns" yaml:"max_open_conns"`           // Default: 25
	MaxIdleConns     int    `json:"max_idle_conns" yaml:"max_idle_conns"`           // Default: 5
	ConnMaxLifetimeS int    `json:"conn_max_lifetime_s" yaml:"conn_max_lifetime_s"` // Default: 1800 (30 min)
}

// ObservabilityConfig configures metrics, tracing, and health checks.
// When nil, all observability features are disabled with zero overhead.
type ObservabilityConfig struct {
	Metrics *MetricsConfig `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Tracing *TracingConfig `json:"tracing,omitempty" yaml:"tracing,omitempty"`
	Health  *HealthConfig  `json:"health,omitempty" yaml:"health,omitempty"`
}

// MetricsConfig configures Prometheus metrics exposition.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"` // Default: "/metrics"
}

// TracingConfig configures OpenTelemetry distributed tracing.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	Endpoint    string  `json:"endpoint" yaml:"endpoint"`         // OTLP endpoint, e.g. "localhost:4317"
	Protocol    string  `json:"protocol" yaml:"protocol"`         // "grpc" or "http". Default: "grpc"
	ServiceName string  `json:"service_name" yaml:"service_name"` // Default: "runbox"
	SampleRate  float64 `json:"sample_rate" yaml:"sample_rate"`   // 0.0–1.0. Default: 1.0
	Insecure    bool    `json:"insecure" yaml:"insecure"`         // Skip TLS for dev
}

// Service returns the reported service name, defaulting to "runbox".
func (t *TracingConfig) Service() string {
	if t != nil && t.ServiceName != "" {
		return t.ServiceName
	}
	return "runbox"
}

// ProtocolName returns the OTLP transport protocol, defaulting to "grpc".
func (t *TracingConfig) ProtocolName() string {
	if t != nil && t.Protocol != "" {
		return t.Protocol
	}
	return "grpc"
}

// SampleRatio returns the trace sampling ratio, defaulting to 1.0.
func (t *TracingConfig) SampleRatio() float64 {
	if t != nil && t.SampleRate > 0 {
		return t.SampleRate
	}
	return 1.0
}

// HealthConfig configures dependency health checks.
type HealthConfig struct {
	IncludeDB      bool `json:"include_db" yaml:"include_db"`
	IncludeBackend bool `json:"include_backend" yaml:"include_backend"`
}

// JanitorConfig configures the periodic cleanup of stale staging and
// artifact directories. When nil, no cleanup is scheduled.
type JanitorConfig struct {
	Enabled          bool   `json:"enabled" yaml:"enabled"`
	Schedule         string `json:"schedule" yaml:"schedule"`                   // Cron expression. Default: "@hourly".
	RetentionHours   int    `json:"retention_hours" yaml:"retention_hours"`     // Artifact retention. Default: 72.
	StagingMaxAgeMin int    `json:"staging_max_age_min" yaml:"staging_max_age_min"` // Stale staging cutoff. Default: 60.
}

// CronSchedule returns the cron expression with a default of "@hourly".
func (j *JanitorConfig) CronSchedule() string {
	if j != nil && j.Schedule != "" {
		return j.Schedule
	}
	return "@hourly"
}

// Retention returns the artifact retention window with a default of 72h.
func (j *JanitorConfig) Retention() time.Duration {
	if j != nil && j.RetentionHours > 0 {
		return time.Duration(j.RetentionHours) * time.Hour
	}
	return 72 * time.Hour
}

// StagingMaxAge returns the stale staging cutoff with a default of 1h.
func (j *JanitorConfig) StagingMaxAge() time.Duration {
	if j != nil && j.StagingMaxAgeMin > 0 {
		return time.Duration(j.StagingMaxAgeMin) * time.Minute
	}
	return time.Hour
}

// SkillsConfig configures skill pack loading. Absent config loads from the
// workspace skills directory; Enabled=false turns loading off entirely.
type SkillsConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Dirs    []string `json:"dirs,omitempty" yaml:"dirs,omitempty"` // Extra skill directories beyond the workspace skills dir.
}

// Timeout returns the default execution timeout with a default of 2m.
func (e *EngineConfig) Timeout() time.Duration {
	if e != nil && e.MaxExecutionSeconds > 0 {
		return time.Duration(e.MaxExecutionSeconds) * time.Second
	}
	return 2 * time.Minute
}

// OutputCap returns the per-stream capture cap with a default of 8 MiB.
func (e *EngineConfig) OutputCap() int64 {
	if e != nil && e.MaxOutputBytes > 0 {
		return e.MaxOutputBytes
	}
	return 8 << 20
}

// DrainGrace returns the post-kill drain grace with a default of 2s.
func (e *EngineConfig) DrainGrace() time.Duration {
	if e != nil && e.DrainGraceSeconds > 0 {
		return time.Duration(e.DrainGraceSeconds) * time.Second
	}
	return 2 * time.Second
}

// RuntimeBinary returns the container runtime binary with a default of "docker".
func (c *ContainerConfig) RuntimeBinary() string {
	if c != nil && c.Runtime != "" {
		return c.Runtime
	}
	return "docker"
}

// DefaultConfigPath returns the default config file path (~/.runbox/config.yaml).
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "configs/runbox.yaml" // fallback for environments without a home dir
	}
	return filepath.Join(home, ".runbox", "config.yaml")
}

// Load reads a JSON or YAML config file and returns a validated Config.
// The format is detected by file extension: .yml/.yaml for YAML, everything else for JSON.
// Environment variables take precedence over config values.
func Load(path string) (*Config, error) {
	// Expand ~ in config path.
	resolved, err := resolvePath(path)
	if err != nil {
		return nil, fmt.Errorf("resolving config path %s: %w", path, err)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", resolved, err)
	}

	var cfg Config
	switch ext := strings.ToLower(filepath.Ext(resolved)); ext {
	case ".yml", ".yaml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing YAML config %s: %w", resolved, err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing JSON config %s: %w", resolved, err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// Default returns a usable config without a config file: local backend,
// workspace-derived SQLite history, observability off.
func Default() *Config {
	cfg := &Config{
		Engine: EngineConfig{Backend: "local"},
	}
	cfg.applyEnvOverrides()
	return cfg
}

// applyEnvOverrides applies RUNBOX_* environment variable overrides.
// Env vars take precedence over config file values.
func (c *Config) applyEnvOverrides() {
	if envWS := os.Getenv("RUNBOX_WORKSPACE"); envWS != "" {
		c.Workspace = envWS
	}
	if envBackend := os.Getenv("RUNBOX_BACKEND"); envBackend != "" {
		c.Engine.Backend = envBackend
	}
	if envImage := os.Getenv("RUNBOX_IMAGE"); envImage != "" {
		if c.Engine.Container == nil {
			c.Engine.Container = &ContainerConfig{}
		}
		c.Engine.Container.Image = envImage
	}
	if envDSN := os.Getenv("RUNBOX_DB_DSN"); envDSN != "" {
		if c.History == nil {
			c.History = &HistoryConfig{Driver: "postgres"}
		}
		if c.History.Postgres == nil {
			c.History.Postgres = &PostgresHistoryConfig{}
		}
		c.History.Postgres.DSN = envDSN
	}
}

// resolvePath expands ~ to the user home directory and returns an absolute path.
func resolvePath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[1:])
	}
	return filepath.Abs(path)
}

func (c *Config) validate() error {
	switch c.Engine.Backend {
	case "", "local", "container":
		// valid
	default:
		return fmt.Errorf("engine.backend %q is not supported (use local or container)", c.Engine.Backend)
	}
	if c.Engine.Backend == "container" {
		if c.Engine.Container == nil || c.Engine.Container.Image == "" {
			return fmt.Errorf("engine.container.image is required for the container backend (set RUNBOX_IMAGE env var)")
		}
	}
	if c.Engine.MaxExecutionSeconds < 0 {
		return fmt.Errorf("engine.max_execution_seconds must not be negative")
	}
	if c.Engine.MaxOutputBytes < 0 {
		return fmt.Errorf("engine.max_output_bytes must not be negative")
	}
	if c.Engine.Container != nil {
		if c.Engine.Container.MemoryMB < 0 {
			return fmt.Errorf("engine.container.memory_mb must not be negative")
		}
		if c.Engine.Container.CPUCores < 0 {
			return fmt.Errorf("engine.container.cpu_cores must not be negative")
		}
		if c.Engine.Container.PIDsLimit < 0 {
			return fmt.Errorf("engine.container.pids_limit must not be negative")
		}
	}
	if c.History != nil && c.History.Driver != "" {
		switch c.History.Driver {
		case "sqlite", "postgres":
			// valid
		default:
			return fmt.Errorf("history.driver %q is not supported (use sqlite or postgres)", c.History.Driver)
		}
	}
	if c.History.DriverName() == "postgres" {
		if c.History.Postgres == nil || c.History.Postgres.DSN == "" {
			return fmt.Errorf("history.postgres.dsn is required for the postgres driver (set RUNBOX_DB_DSN env var)")
		}
	}
	if obs := c.Observability; obs != nil && obs.Tracing != nil && obs.Tracing.Enabled {
		if obs.Tracing.Endpoint == "" {
			return fmt.Errorf("observability.tracing.endpoint is required when tracing is enabled")
		}
		switch obs.Tracing.Protocol {
		case "", "grpc", "http":
			// valid
		default:
			return fmt.Errorf("observability.tracing.protocol %q is not supported (use grpc or http)", obs.Tracing.Protocol)
		}
		if obs.Tracing.SampleRate < 0 || obs.Tracing.SampleRate > 1 {
			return fmt.Errorf("observability.tracing.sample_rate must be between 0.0 and 1.0")
		}
	}
	if c.Janitor != nil && c.Janitor.RetentionHours < 0 {
		return fmt.Errorf("janitor.retention_hours must not be negative")
	}
	return nil
}
