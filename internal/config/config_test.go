package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadParsesAndDefaults(t *testing.T) {
	path := writeConfig(t, `
paths:
  sessions_dir: /var/lib/vkm/sessions
model:
  name: gpt-4o
presence:
  interval: 90s
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Paths.SessionsDir != "/var/lib/vkm/sessions" {
		t.Errorf("sessions dir = %q", cfg.Paths.SessionsDir)
	}
	if cfg.Model.Name != "gpt-4o" {
		t.Errorf("model = %q", cfg.Model.Name)
	}
	if cfg.Presence.Interval != 90*time.Second {
		t.Errorf("presence interval = %v", cfg.Presence.Interval)
	}

	// Unset fields fall back to defaults.
	if cfg.Paths.DossiersDir != "dossiers" {
		t.Errorf("dossiers dir = %q", cfg.Paths.DossiersDir)
	}
	if cfg.Model.MaxOutputTokens != 150 {
		t.Errorf("max output tokens = %d", cfg.Model.MaxOutputTokens)
	}
	if cfg.LongPoll.Wait != 25 {
		t.Errorf("long poll wait = %d", cfg.LongPoll.Wait)
	}
	if cfg.Backoff.Base != time.Second || cfg.Backoff.Cap != time.Minute {
		t.Errorf("backoff = %+v", cfg.Backoff)
	}
}

func TestLoadExpandsEnvironment(t *testing.T) {
	t.Setenv("VKM_REPORT", "/data/report.csv")
	path := writeConfig(t, `
paths:
  report_file: ${VKM_REPORT}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Paths.ReportFile != "/data/report.csv" {
		t.Errorf("report file = %q", cfg.Paths.ReportFile)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadRejectsInvalidYAML(t *testing.T) {
	path := writeConfig(t, "paths: [")
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Model.Name != "gpt-4o-mini" {
		t.Errorf("model = %q", cfg.Model.Name)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("log level = %q", cfg.Logging.Level)
	}
	if cfg.Metrics.Addr == "" {
		t.Error("metrics addr empty")
	}
}
