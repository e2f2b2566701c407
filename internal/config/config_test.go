package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audiogate.yaml")
	content := `
server:
  port: 9090
  cors_origins:
    - https://app.example.com
session:
  cookie_secure: true
engines:
  transcribe_url: http://transcribe:9001/transcribe
  shared_secret: topsecret
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d, want 9090", cfg.Server.Port)
	}
	if len(cfg.Server.CORSOrigins) != 1 || cfg.Server.CORSOrigins[0] != "https://app.example.com" {
		t.Errorf("cors_origins = %v", cfg.Server.CORSOrigins)
	}
	if !cfg.Session.CookieSecure {
		t.Error("cookie_secure not applied")
	}
	if cfg.Engines.SharedSecret != "topsecret" {
		t.Errorf("shared_secret = %q", cfg.Engines.SharedSecret)
	}

	// Unset fields keep their defaults.
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("host = %q, want default", cfg.Server.Host)
	}
	if cfg.Session.CookieName != "session_id" {
		t.Errorf("cookie_name = %q, want default", cfg.Session.CookieName)
	}
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("AUDIOGATE_TEST_SECRET", "from-env")

	dir := t.TempDir()
	path := filepath.Join(dir, "audiogate.yaml")
	content := "engines:\n  shared_secret: ${AUDIOGATE_TEST_SECRET}\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Engines.SharedSecret != "from-env" {
		t.Errorf("shared_secret = %q, want from-env", cfg.Engines.SharedSecret)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/audiogate.yaml"); err == nil {
		t.Error("Load of missing file succeeded")
	}
}

func TestShutdownTimeout(t *testing.T) {
	cfg := Default()
	if cfg.ShutdownTimeout() != 30*time.Second {
		t.Errorf("default = %v", cfg.ShutdownTimeout())
	}
	cfg.Server.ShutdownTimeout = "5s"
	if cfg.ShutdownTimeout() != 5*time.Second {
		t.Errorf("parsed = %v", cfg.ShutdownTimeout())
	}
	cfg.Server.ShutdownTimeout = "garbage"
	if cfg.ShutdownTimeout() != 30*time.Second {
		t.Errorf("fallback = %v", cfg.ShutdownTimeout())
	}
}

func TestWriteDefaultRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audiogate.yaml")
	if err := WriteDefault(path); err != nil {
		t.Fatalf("WriteDefault: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != Default().Server.Port {
		t.Errorf("round-tripped port = %d", cfg.Server.Port)
	}
}
