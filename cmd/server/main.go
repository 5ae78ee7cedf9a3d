// Command server runs the anthroute gateway: a Messages API frontend
// for any Chat Completions backend.
//
// Configuration is loaded from a YAML file (-config flag, ANTHROUTE_CONFIG
// env, ./config.yaml, or /etc/anthroute/config.yaml) with ANTHROUTE_*
// environment overrides. See pkg/config for the schema.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/anthroute/anthroute/pkg/api"
	"github.com/anthroute/anthroute/pkg/audit"
	"github.com/anthroute/anthroute/pkg/compat"
	"github.com/anthroute/anthroute/pkg/config"
	"github.com/anthroute/anthroute/pkg/transport"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	client := compat.NewClient(compat.Options{
		BaseURL:            cfg.Downstream.BaseURL,
		APIKey:             cfg.Downstream.APIKey,
		ConnectTimeout:     cfg.Downstream.ConnectTimeout(),
		ReadTimeout:        cfg.Downstream.ReadTimeout(),
		PoolMaxIdlePerHost: cfg.Downstream.PoolMaxIdlePerHost,
	})
	defer client.Close()

	var auditLogger *audit.Logger
	if cfg.Audit.Enabled {
		auditLogger = audit.New(audit.Config{
			Path:         cfg.Audit.Path,
			MaxBodyBytes: cfg.Audit.MaxBodyBytes,
			MaxSizeMB:    cfg.Audit.MaxSizeMB,
			MaxBackups:   cfg.Audit.MaxBackups,
			Logger:       logger,
		})
		defer auditLogger.Close()
		logger.Info("audit logging enabled", slog.String("path", cfg.Audit.Path))
	}

	handler := transport.NewHandler(transport.HandlerConfig{
		Mode:           cfg.ForwardMode,
		Policy:         cfg.Policy(),
		Client:         client,
		Audit:          auditLogger,
		Logger:         logger,
		MaxInflight:    int64(cfg.Limits.MaxInflight),
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
		ModelsOverride: modelsOverride(cfg.Models.ModelsOverride),
	})

	mux := http.NewServeMux()
	mux.Handle("/", handler.Routes())
	if cfg.Metrics.Enabled {
		mux.Handle("GET "+cfg.Metrics.Path, promhttp.Handler())
	}

	logger.Info("gateway configured",
		slog.String("mode", cfg.ForwardMode),
		slog.String("downstream", cfg.Downstream.BaseURL))

	srv := transport.NewServer(cfg.Server.BindAddr, mux, logger)
	return srv.ListenAndServe()
}

// newLogger builds the process logger from the logging config.
func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

// modelsOverride converts configured model listing entries to the wire
// shape.
func modelsOverride(entries []config.ModelOverride) []api.ModelInfo {
	if len(entries) == 0 {
		return nil
	}
	out := make([]api.ModelInfo, 0, len(entries))
	for _, e := range entries {
		out = append(out, api.ModelInfo{
			ID:          e.ID,
			Type:        "model",
			DisplayName: e.DisplayName,
			CreatedAt:   e.CreatedAt,
		})
	}
	return out
}
