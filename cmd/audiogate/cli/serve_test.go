package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
)

// resetConfigState gives each test a clean viper and restores the package
// flag globals afterwards.
func resetConfigState(t *testing.T) {
	t.Helper()
	prevCfgFile, prevDataDir := cfgFile, dataDir
	viper.Reset()
	t.Cleanup(func() {
		cfgFile, dataDir = prevCfgFile, prevDataDir
		viper.Reset()
	})
	cfgFile, dataDir = "", ""
	initConfig()
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	resetConfigState(t)
	t.Setenv("AUDIOGATE_SERVER_PORT", "9999")
	t.Setenv("AUDIOGATE_ENGINES_SHARED_SECRET", "from-env")
	t.Setenv("AUDIOGATE_SESSION_COOKIE_SECURE", "true")
	t.Setenv("AUDIOGATE_REDIS_ADDR", "redis.internal:6379")

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}

	if cfg.Server.Port != 9999 {
		t.Errorf("port = %d, want 9999", cfg.Server.Port)
	}
	if cfg.Engines.SharedSecret != "from-env" {
		t.Errorf("shared_secret = %q, want from-env", cfg.Engines.SharedSecret)
	}
	if !cfg.Session.CookieSecure {
		t.Error("cookie_secure not applied from environment")
	}
	if cfg.Redis.Addr != "redis.internal:6379" {
		t.Errorf("redis addr = %q", cfg.Redis.Addr)
	}

	// Keys without an override keep their defaults.
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("host = %q, want default", cfg.Server.Host)
	}
	if cfg.Session.CookieName != "session_id" {
		t.Errorf("cookie_name = %q, want default", cfg.Session.CookieName)
	}
}

func TestLoadConfigEnvBeatsFile(t *testing.T) {
	resetConfigState(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "audiogate.yaml")
	content := "server:\n  port: 7070\nengines:\n  shared_secret: from-file\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfgFile = path
	t.Setenv("AUDIOGATE_ENGINES_SHARED_SECRET", "from-env")

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}

	if cfg.Server.Port != 7070 {
		t.Errorf("port = %d, want 7070 from the file", cfg.Server.Port)
	}
	if cfg.Engines.SharedSecret != "from-env" {
		t.Errorf("shared_secret = %q, want the env override", cfg.Engines.SharedSecret)
	}
}

func TestLoadConfigBoundFlag(t *testing.T) {
	resetConfigState(t)

	cmd := newServeCmd()
	if err := cmd.Flags().Set("port", "8181"); err != nil {
		t.Fatalf("set flag: %v", err)
	}

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Server.Port != 8181 {
		t.Errorf("port = %d, want 8181 from the bound flag", cfg.Server.Port)
	}
}

func TestDataDirFlagWinsOverEnv(t *testing.T) {
	resetConfigState(t)
	t.Setenv("AUDIOGATE_DATA_DIR", "/from/env")
	dataDir = "/from/flag"

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.DataDir != "/from/flag" {
		t.Errorf("data_dir = %q, want the flag value", cfg.DataDir)
	}
}
