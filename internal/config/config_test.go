package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, projectDir, name, content string) {
	t.Helper()
	dir := filepath.Join(projectDir, ".claude")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func TestLoadFromDefaults(t *testing.T) {
	dir := t.TempDir()

	cfg, err := LoadFrom(dir)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}

	if cfg.BaseDir != DefaultBaseDir {
		t.Errorf("BaseDir = %q, want %q", cfg.BaseDir, DefaultBaseDir)
	}
	if cfg.PollingInterval != 500*time.Millisecond {
		t.Errorf("PollingInterval = %v", cfg.PollingInterval)
	}
	if cfg.HeartbeatInterval != 10*time.Second {
		t.Errorf("HeartbeatInterval = %v", cfg.HeartbeatInterval)
	}
	if cfg.AckTimeout != 5*time.Second {
		t.Errorf("AckTimeout = %v", cfg.AckTimeout)
	}
	if cfg.AckPollInterval != 200*time.Millisecond {
		t.Errorf("AckPollInterval = %v", cfg.AckPollInterval)
	}
	if cfg.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d", cfg.MaxRetries)
	}
	if got, want := cfg.WorkflowRoot(), filepath.Join(dir, ".claude", "workflow"); got != want {
		t.Errorf("WorkflowRoot = %q, want %q", got, want)
	}
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "workflow-queue.yaml", `
base_dir: queue
ack_timeout_ms: 1500
max_retries: 0
`)

	cfg, err := LoadFrom(dir)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.BaseDir != "queue" {
		t.Errorf("BaseDir = %q, want queue", cfg.BaseDir)
	}
	if cfg.AckTimeout != 1500*time.Millisecond {
		t.Errorf("AckTimeout = %v, want 1.5s", cfg.AckTimeout)
	}
	if cfg.MaxRetries != 0 {
		t.Errorf("MaxRetries = %d, want 0", cfg.MaxRetries)
	}
	// Untouched keys keep defaults.
	if cfg.PollingInterval != 500*time.Millisecond {
		t.Errorf("PollingInterval = %v, want default", cfg.PollingInterval)
	}
}

func TestLoadFromTOML(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "workflow-queue.toml", `
base_dir = "/var/lib/wfq"
polling_interval_ms = 250
heartbeat_interval_ms = 2000
`)

	cfg, err := LoadFrom(dir)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.WorkflowRoot() != "/var/lib/wfq" {
		t.Errorf("WorkflowRoot = %q, want absolute base dir", cfg.WorkflowRoot())
	}
	if cfg.PollingInterval != 250*time.Millisecond {
		t.Errorf("PollingInterval = %v", cfg.PollingInterval)
	}
	if cfg.HeartbeatInterval != 2*time.Second {
		t.Errorf("HeartbeatInterval = %v", cfg.HeartbeatInterval)
	}
}

func TestLoadFromRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"negative retries", "max_retries: -1\n", "max_retries"},
		{"zero timeout", "ack_timeout_ms: 0\n", "ack_timeout_ms"},
		{"empty base dir", "base_dir: \"\"\n", "base_dir"},
		{"malformed yaml", "base_dir: [unterminated\n", "failed to parse"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeConfig(t, dir, "workflow-queue.yaml", tt.content)

			_, err := LoadFrom(dir)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestProjectDirFromEnv(t *testing.T) {
	t.Setenv(ProjectDirEnv, "/tmp/some-project")

	dir, err := ProjectDir()
	if err != nil {
		t.Fatalf("ProjectDir: %v", err)
	}
	if dir != "/tmp/some-project" {
		t.Errorf("ProjectDir = %q", dir)
	}
}

func TestProjectDirFallsBackToWorkingDir(t *testing.T) {
	t.Setenv(ProjectDirEnv, "")

	dir, err := ProjectDir()
	if err != nil {
		t.Fatalf("ProjectDir: %v", err)
	}
	wd, _ := os.Getwd()
	if dir != wd {
		t.Errorf("ProjectDir = %q, want %q", dir, wd)
	}
}
