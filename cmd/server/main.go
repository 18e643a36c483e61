package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/oogiv/oogiv-web/internal/correction"
	"github.com/oogiv/oogiv-web/internal/generate"
	"github.com/oogiv/oogiv-web/internal/handlers"
	"github.com/oogiv/oogiv-web/internal/services"
)

func main() {
	cfgPath := flag.String("config", "", "path to the config file")
	flag.Parse()

	cfg, cfgDir, err := loadConfig(*cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := newLogger(cfg, os.Stderr)
	slog.SetDefault(logger)

	if err := run(cfg, cfgDir, logger); err != nil {
		logger.Error("Server stopped", slog.String("err", err.Error()))
		os.Exit(1)
	}
}

func run(cfg config, cfgDir string, logger *slog.Logger) error {
	storages, closeStorages, err := openStorages(cfg.Storage, cfgDir)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStorages(); err != nil {
			logger.Error("Failed to close storage", slog.String("err", err.Error()))
		}
	}()

	api := services.NewOOGIV(cfg.OOGIV.ConsultURL, cfg.OOGIV.BaseURL, cfg.OOGIV.Timeout, logger)
	consultants, err := cfg.Consultant.consultants(api, logger)
	if err != nil {
		return fmt.Errorf("error configuring consultant: %w", err)
	}

	var converter generate.Converter
	if cfg.YouTube.LookupURL != "" {
		converter = services.NewYouTube(cfg.YouTube.LookupURL, cfg.YouTube.APIKey, cfg.YouTube.APIHost, logger)
	} else {
		logger.Warn("YouTube lookup URL is not set, question generation from videos is disabled")
	}

	m, err := handlers.NewMain(handlers.Config{
		Storages:      storages,
		Consultants:   consultants,
		Generator:     generate.NewService(api, converter, logger),
		Corrector:     correction.NewService(api, logger),
		SessionSecret: []byte(cfg.SessionSecret),
		SecureCookies: cfg.SecureCookies,
		TypingDelay:   cfg.TypingDelay,
		Logger:        logger,

		SessionIdleTimeout: cfg.SessionIdleTimeout,
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           m.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	srv.RegisterOnShutdown(func() {
		if err := m.Shutdown(context.Background()); err != nil {
			logger.Error("Failed to shutdown sse server", slog.String("err", err.Error()))
		}
	})

	// Channel to listen for errors coming from the listener
	serverErrors := make(chan error, 1)

	go func() {
		logger.Info("Server starting", slog.String("addr", srv.Addr), slog.String("storage", cfg.Storage.Driver))
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-shutdown:
		logger.Info("Start shutdown", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Graceful shutdown failed", slog.String("err", err.Error()))
			if err := srv.Close(); err != nil {
				logger.Error("Forcing server close", slog.String("err", err.Error()))
			}
		}
	}
	return nil
}

func newLogger(cfg config, w io.Writer) *slog.Logger {
	// The level was checked when the config was loaded.
	level, _ := parseLevel(cfg.LogLevel)
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// openStorages opens the session store selected by cfg. The returned func releases it.
func openStorages(cfg storageConfig, cfgDir string) (handlers.Storages, func() error, error) {
	switch cfg.Driver {
	case "memory":
		return services.NewMemory(), func() error { return nil }, nil
	case "redis":
		r := services.NewRedis(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.TTL)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.Ping(ctx); err != nil {
			_ = r.Close()
			return nil, nil, fmt.Errorf("error connecting to redis: %w", err)
		}
		return r, r.Close, nil
	default:
		path := cfg.Path
		if path == "" {
			path = filepath.Join(cfgDir, "store.db")
		}
		boltDB, err := services.NewBoltDB(path)
		if err != nil {
			return nil, nil, fmt.Errorf("error opening store: %w", err)
		}
		return boltDB, boltDB.Close, nil
	}
}
