package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_YAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
workspace: /tmp/runbox-ws
engine:
  backend: container
  max_execution_seconds: 30
  container:
    image: alpine:latest
    memory_mb: 256
    cpu_cores: 0.5
    pids_limit: 64
history:
  driver: sqlite
janitor:
  enabled: true
  retention_hours: 24
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Workspace != "/tmp/runbox-ws" {
		t.Errorf("Workspace = %q", cfg.Workspace)
	}
	if cfg.Engine.Backend != "container" {
		t.Errorf("Backend = %q", cfg.Engine.Backend)
	}
	if got := cfg.Engine.Timeout(); got != 30*time.Second {
		t.Errorf("Timeout = %v", got)
	}
	if cfg.Engine.Container.Image != "alpine:latest" {
		t.Errorf("Image = %q", cfg.Engine.Container.Image)
	}
	if cfg.Engine.Container.CPUCores != 0.5 {
		t.Errorf("CPUCores = %v", cfg.Engine.Container.CPUCores)
	}
	if got := cfg.History.DriverName(); got != "sqlite" {
		t.Errorf("DriverName = %q", got)
	}
	if got := cfg.Janitor.Retention(); got != 24*time.Hour {
		t.Errorf("Retention = %v", got)
	}
}

func TestLoad_JSON(t *testing.T) {
	path := writeConfig(t, "config.json", `{
  "engine": {"backend": "local", "max_output_bytes": 1024}
}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Engine.Backend != "local" {
		t.Errorf("Backend = %q", cfg.Engine.Backend)
	}
	if got := cfg.Engine.OutputCap(); got != 1024 {
		t.Errorf("OutputCap = %d", got)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("RUNBOX_WORKSPACE", "/tmp/env-ws")
	t.Setenv("RUNBOX_BACKEND", "container")
	t.Setenv("RUNBOX_IMAGE", "busybox:latest")

	path := writeConfig(t, "config.yaml", `
workspace: /tmp/file-ws
engine:
  backend: local
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Workspace != "/tmp/env-ws" {
		t.Errorf("Workspace = %q, env var should win", cfg.Workspace)
	}
	if cfg.Engine.Backend != "container" {
		t.Errorf("Backend = %q, env var should win", cfg.Engine.Backend)
	}
	if cfg.Engine.Container == nil || cfg.Engine.Container.Image != "busybox:latest" {
		t.Errorf("Container image not picked up from env")
	}
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "unknown backend",
			content: `{"engine": {"backend": "firecracker"}}`,
			wantErr: "engine.backend",
		},
		{
			name:    "container backend without image",
			content: `{"engine": {"backend": "container"}}`,
			wantErr: "engine.container.image",
		},
		{
			name:    "unknown history driver",
			content: `{"engine": {"backend": "local"}, "history": {"driver": "mysql"}}`,
			wantErr: "history.driver",
		},
		{
			name:    "postgres without dsn",
			content: `{"engine": {"backend": "local"}, "history": {"driver": "postgres"}}`,
			wantErr: "history.postgres.dsn",
		},
		{
			name:    "tracing without endpoint",
			content: `{"engine": {"backend": "local"}, "observability": {"tracing": {"enabled": true}}}`,
			wantErr: "observability.tracing.endpoint",
		},
		{
			name:    "bad sample rate",
			content: `{"engine": {"backend": "local"}, "observability": {"tracing": {"enabled": true, "endpoint": "localhost:4317", "sample_rate": 2.0}}}`,
			wantErr: "sample_rate",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfig(t, "config.json", tc.content)
			_, err := Load(path)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("error %q does not mention %q", err, tc.wantErr)
			}
		})
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Engine.Backend != "local" {
		t.Errorf("Backend = %q, want local", cfg.Engine.Backend)
	}
	if got := cfg.Engine.Timeout(); got != 2*time.Minute {
		t.Errorf("Timeout = %v, want 2m", got)
	}
	if got := cfg.History.DriverName(); got != "sqlite" {
		t.Errorf("DriverName = %q, want sqlite", got)
	}
}

func TestDefaultingAccessors(t *testing.T) {
	var e *EngineConfig
	if got := e.Timeout(); got != 2*time.Minute {
		t.Errorf("nil EngineConfig Timeout = %v", got)
	}
	if got := e.OutputCap(); got != 8<<20 {
		t.Errorf("nil EngineConfig OutputCap = %d", got)
	}
	if got := e.DrainGrace(); got != 2*time.Second {
		t.Errorf("nil EngineConfig DrainGrace = %v", got)
	}

	var c *ContainerConfig
	if got := c.RuntimeBinary(); got != "docker" {
		t.Errorf("nil ContainerConfig RuntimeBinary = %q", got)
	}

	var j *JanitorConfig
	if got := j.CronSchedule(); got != "@hourly" {
		t.Errorf("nil JanitorConfig CronSchedule = %q", got)
	}
	if got := j.StagingMaxAge(); got != time.Hour {
		t.Errorf("nil JanitorConfig StagingMaxAge = %v", got)
	}

	var tr *TracingConfig
	if got := tr.Service(); got != "runbox" {
		t.Errorf("nil TracingConfig Service = %q", got)
	}
	if got := tr.ProtocolName(); got != "grpc" {
		t.Errorf("nil TracingConfig ProtocolName = %q", got)
	}
	if got := tr.SampleRatio(); got != 1.0 {
		t.Errorf("nil TracingConfig SampleRatio = %v", got)
	}

	set := &TracingConfig{ServiceName: "runner", Protocol: "http", SampleRate: 0.25}
	if set.Service() != "runner" || set.ProtocolName() != "http" || set.SampleRatio() != 0.25 {
		t.Errorf("explicit tracing values not passed through: %q %q %v",
			set.Service(), set.ProtocolName(), set.SampleRatio())
	}
}
