package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/audiogate/audiogate/internal/audit"
	"github.com/audiogate/audiogate/internal/auth"
	"github.com/audiogate/audiogate/internal/config"
	"github.com/audiogate/audiogate/internal/engine"
	"github.com/audiogate/audiogate/internal/kv"
	"github.com/audiogate/audiogate/internal/quota"
	"github.com/audiogate/audiogate/internal/relay"
	"github.com/audiogate/audiogate/internal/server"
	"github.com/audiogate/audiogate/internal/store"
)

func newServeCmd() *cobra.Command {
	var (
		port int
		host string
		dev  bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the audio gateway server",
		Long:  "Start the HTTP server fronting the transcription and diarization engines.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(dev)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "HTTP listen port (overrides config)")
	cmd.Flags().StringVar(&host, "host", "", "HTTP listen host (overrides config)")
	cmd.Flags().BoolVar(&dev, "dev", false, "Enable development mode (verbose logging)")

	// The flags reach the config through viper, like the environment does.
	viper.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", cmd.Flags().Lookup("host"))

	return cmd
}

func runServe(dev bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := newLogger(cfg, dev)
	ctx := context.Background()

	// Document store.
	docs, err := store.New(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer docs.Close()
	logger.Info("store initialized", "data_dir", cfg.DataDir)

	// Expiring key-value store for sessions and quota counters.
	var ttlStore kv.Store
	if cfg.Redis.Addr != "" {
		ttlStore, err = kv.NewRedis(ctx, cfg.Redis.Addr)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		logger.Info("redis connected", "addr", cfg.Redis.Addr)
	} else {
		ttlStore = kv.NewMemory()
		logger.Info("using in-process session store; sessions do not survive restarts")
	}
	defer ttlStore.Close()

	// Audit pipeline: store sink and console sink always, file sink when
	// configured.
	sinks := []audit.Sink{
		audit.NewStoreSink(docs),
		audit.NewConsoleSink(logger),
	}
	if cfg.Audit.LogFile != "" {
		fileSink, err := audit.NewFileSink(cfg.Audit.LogFile)
		if err != nil {
			return fmt.Errorf("open audit log: %w", err)
		}
		defer fileSink.Close()
		sinks = append(sinks, fileSink)
	}
	pipeline := audit.NewPipeline(logger, sinks...)

	// Auth and quota.
	sessions := auth.NewSessionManager(ttlStore, pipeline)
	keys := auth.NewKeyManager(docs, pipeline)
	resolver := auth.NewResolver(sessions, keys)
	enforcer := quota.NewEnforcer(ttlStore)

	// Engines and streaming relay.
	engines := engine.New(cfg.Engines.TranscribeURL, cfg.Engines.DiarizeURL, cfg.Engines.SharedSecret)
	wsRelay := relay.New(cfg.Engines.SharedSecret, engines.DiarizeWSURL(), pipeline, logger)

	if cfg.Engines.SharedSecret == "" {
		logger.Warn("no engine shared secret configured; streaming relay will reject all clients")
	}

	srv := server.New(server.Config{
		Host:             cfg.Server.Host,
		Port:             cfg.Server.Port,
		ShutdownTimeout:  cfg.ShutdownTimeout(),
		CORSOrigins:      cfg.Server.CORSOrigins,
		MaxBodyBytes:     cfg.Server.MaxBodyBytes,
		AuthRatePerMin:   cfg.Server.AuthRatePerMin,
		UploadRatePerMin: cfg.Server.UploadRatePerMin,
		CookieName:       cfg.Session.CookieName,
		CookieSecure:     cfg.Session.CookieSecure,
	}, server.Deps{
		Store:    docs,
		Sessions: sessions,
		Keys:     keys,
		Resolver: resolver,
		Quota:    enforcer,
		Engine:   engines,
		Audit:    pipeline,
		Relay:    wsRelay,
	}, logger)

	fmt.Printf("→ Audiogate\n")
	fmt.Printf("→ Listening on http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("→ Health:  http://%s:%d/healthz\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("→ Engines: %s (transcribe), %s (diarize)\n", cfg.Engines.TranscribeURL, cfg.Engines.DiarizeURL)
	fmt.Println()

	return srv.ListenAndServe()
}

// loadConfig resolves the effective configuration: file if present, defaults
// otherwise, then AUDIOGATE_* environment variables and bound flags layered
// on top, with the data-dir flag overriding all of it.
func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	path := cfgFile
	if path == "" {
		if _, err := os.Stat("audiogate.yaml"); err == nil {
			path = "audiogate.yaml"
		}
	}
	if path != "" {
		var err error
		cfg, err = config.Load(path)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = config.Default()
	}
	applyOverrides(cfg)
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if cfg.DataDir == "" {
		home, _ := os.UserHomeDir()
		cfg.DataDir = home + "/.audiogate"
	}
	return cfg, nil
}

// applyOverrides layers viper's sources (environment, bound flags) over the
// file-based configuration. Keys are read one by one: viper's automatic env
// only resolves keys it is asked for.
func applyOverrides(cfg *config.Config) {
	if v := viper.GetString("server.host"); v != "" {
		cfg.Server.Host = v
	}
	if v := viper.GetInt("server.port"); v != 0 {
		cfg.Server.Port = v
	}
	if v := viper.GetString("server.shutdown_timeout"); v != "" {
		cfg.Server.ShutdownTimeout = v
	}
	if v := viper.GetStringSlice("server.cors_origins"); len(v) > 0 {
		cfg.Server.CORSOrigins = v
	}
	if v := viper.GetInt64("server.max_body_bytes"); v != 0 {
		cfg.Server.MaxBodyBytes = v
	}
	if v := viper.GetInt("server.auth_rate_per_minute"); v != 0 {
		cfg.Server.AuthRatePerMin = v
	}
	if v := viper.GetInt("server.upload_rate_per_minute"); v != 0 {
		cfg.Server.UploadRatePerMin = v
	}
	if v := viper.GetString("session.cookie_name"); v != "" {
		cfg.Session.CookieName = v
	}
	if viper.IsSet("session.cookie_secure") {
		cfg.Session.CookieSecure = viper.GetBool("session.cookie_secure")
	}
	if v := viper.GetString("engines.transcribe_url"); v != "" {
		cfg.Engines.TranscribeURL = v
	}
	if v := viper.GetString("engines.diarize_url"); v != "" {
		cfg.Engines.DiarizeURL = v
	}
	if v := viper.GetString("engines.shared_secret"); v != "" {
		cfg.Engines.SharedSecret = v
	}
	if v := viper.GetString("redis.addr"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := viper.GetString("audit.log_file"); v != "" {
		cfg.Audit.LogFile = v
	}
	if v := viper.GetString("logging.level"); v != "" {
		cfg.Logging.Level = v
	}
	if v := viper.GetString("logging.format"); v != "" {
		cfg.Logging.Format = v
	}
	if v := viper.GetString("data_dir"); v != "" {
		cfg.DataDir = v
	}
}

func newLogger(cfg *config.Config, dev bool) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Logging.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if dev {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Logging.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
