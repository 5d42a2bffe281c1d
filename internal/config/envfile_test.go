package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDotEnv_SetsMissingVariables(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "WEBHOOK_TOKEN=tv-secret\n" +
		"EMPTY=\n" +
		"BROKER_WEBHOOK_URL=\"https://broker.example/hook\"\n" +
		"ADMIN_PASSWORD='p w'\n" +
		"export TIMEZONE=America/New_York\n" +
		"# comment line\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	for _, key := range []string{"WEBHOOK_TOKEN", "EMPTY", "BROKER_WEBHOOK_URL", "ADMIN_PASSWORD", "TIMEZONE"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}

	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("LoadDotEnv error: %v", err)
	}

	if got := os.Getenv("WEBHOOK_TOKEN"); got != "tv-secret" {
		t.Fatalf("WEBHOOK_TOKEN = %q, want %q", got, "tv-secret")
	}
	if got := os.Getenv("EMPTY"); got != "" {
		t.Fatalf("EMPTY = %q, want empty", got)
	}
	if got := os.Getenv("BROKER_WEBHOOK_URL"); got != "https://broker.example/hook" {
		t.Fatalf("BROKER_WEBHOOK_URL = %q", got)
	}
	if got := os.Getenv("ADMIN_PASSWORD"); got != "p w" {
		t.Fatalf("ADMIN_PASSWORD = %q, want %q", got, "p w")
	}
	if got := os.Getenv("TIMEZONE"); got != "America/New_York" {
		t.Fatalf("TIMEZONE = %q", got)
	}
}

func TestLoadDotEnv_DoesNotOverrideExisting(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("WEBHOOK_TOKEN=from_file\n"), 0o644); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	t.Setenv("WEBHOOK_TOKEN", "from_env")
	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("LoadDotEnv error: %v", err)
	}
	if got := os.Getenv("WEBHOOK_TOKEN"); got != "from_env" {
		t.Fatalf("WEBHOOK_TOKEN = %q, want %q", got, "from_env")
	}
}

func TestLoadDotEnv_MissingFileIsNotAnError(t *testing.T) {
	if err := LoadDotEnv(filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Fatalf("LoadDotEnv error: %v", err)
	}
}

func TestLoad_EnvOverridesDefaults(t *testing.T) {
	t.Setenv("LISTEN_ADDR", ":9091")
	t.Setenv("DEFAULT_DELAY_SECONDS", "120")
	t.Setenv("ACTIVE_TICK_INTERVAL", "2s")
	t.Setenv("INITIAL_MODE", "off")

	cfg := Load()
	if cfg.ListenAddr != ":9091" {
		t.Fatalf("ListenAddr = %q", cfg.ListenAddr)
	}
	if cfg.DefaultDelaySeconds != 120 {
		t.Fatalf("DefaultDelaySeconds = %d", cfg.DefaultDelaySeconds)
	}
	if cfg.ActiveTickInterval != 2*time.Second {
		t.Fatalf("ActiveTickInterval = %s", cfg.ActiveTickInterval)
	}
	if cfg.InitialMode != "off" {
		t.Fatalf("InitialMode = %q", cfg.InitialMode)
	}
}

func TestLoad_BadValuesFallBack(t *testing.T) {
	t.Setenv("DEFAULT_DELAY_SECONDS", "not-a-number")
	t.Setenv("IDLE_TICK_INTERVAL", "soon")

	cfg := Load()
	if cfg.DefaultDelaySeconds != 300 {
		t.Fatalf("DefaultDelaySeconds = %d, want default 300", cfg.DefaultDelaySeconds)
	}
	if cfg.IdleTickInterval != 60*time.Second {
		t.Fatalf("IdleTickInterval = %s, want default 60s", cfg.IdleTickInterval)
	}
}
