// Package config holds the gateway's runtime configuration: HTTP server
// settings, session cookie policy, downstream engine addresses, and store
// locations. Everything deployment-specific is injectable from a YAML file
// or AUDIOGATE_* environment variables; production values are never
// hardcoded.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Session SessionConfig `yaml:"session"`
	Engines EngineConfig  `yaml:"engines"`
	Redis   RedisConfig   `yaml:"redis"`
	Audit   AuditConfig   `yaml:"audit"`
	Logging LoggingConfig `yaml:"logging"`
	DataDir string        `yaml:"data_dir"`
}

// ServerConfig controls the HTTP server behavior.
type ServerConfig struct {
	Host             string   `yaml:"host"`
	Port             int      `yaml:"port"`
	ShutdownTimeout  string   `yaml:"shutdown_timeout"`
	CORSOrigins      []string `yaml:"cors_origins"`
	MaxBodyBytes     int64    `yaml:"max_body_bytes"`
	AuthRatePerMin   int      `yaml:"auth_rate_per_minute"`
	UploadRatePerMin int      `yaml:"upload_rate_per_minute"`
}

// SessionConfig controls the session cookie. Secure must stay configurable:
// off for local deployments, on behind TLS.
type SessionConfig struct {
	CookieName   string `yaml:"cookie_name"`
	CookieSecure bool   `yaml:"cookie_secure"`
}

// EngineConfig locates the downstream audio engines. SharedSecret is the
// gateway-to-engine credential, also required from streaming relay clients.
type EngineConfig struct {
	TranscribeURL string `yaml:"transcribe_url"`
	DiarizeURL    string `yaml:"diarize_url"`
	SharedSecret  string `yaml:"shared_secret"`
}

// RedisConfig locates the expiring key-value store. An empty address selects
// the in-process store, which is fine for a single node and for tests.
type RedisConfig struct {
	Addr string `yaml:"addr"`
}

// AuditConfig controls the audit pipeline's file sink. An empty path
// disables it; the store and console sinks are always on.
type AuditConfig struct {
	LogFile string `yaml:"log_file"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a Config with local-development defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             8080,
			ShutdownTimeout:  "30s",
			CORSOrigins:      []string{"http://localhost:4000"},
			MaxBodyBytes:     100 * 1024 * 1024, // audio files
			AuthRatePerMin:   30,
			UploadRatePerMin: 60, // burst guard; the hourly quota is the real limit
		},
		Session: SessionConfig{
			CookieName:   "session_id",
			CookieSecure: false, // local/dev; enable behind TLS
		},
		Engines: EngineConfig{
			TranscribeURL: "http://localhost:9001/transcribe",
			DiarizeURL:    "http://localhost:9002",
		},
		Audit: AuditConfig{
			LogFile: "audiogate.audit.log",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads and parses a YAML configuration file over the defaults.
// Environment variables referenced as ${VAR_NAME} in the file are expanded
// before parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	content := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(content), cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, nil
}

// ShutdownTimeout parses the configured shutdown timeout, falling back to
// 30 seconds on bad input.
func (c *Config) ShutdownTimeout() time.Duration {
	d, err := time.ParseDuration(c.Server.ShutdownTimeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// WriteDefault writes the default configuration to a YAML file.
func WriteDefault(path string) error {
	data, err := yaml.Marshal(Default())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
