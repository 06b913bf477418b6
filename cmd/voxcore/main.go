// Command voxcore is the main entry point for the voxcore client core.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nullwave/voxcore/internal/app"
	"github.com/nullwave/voxcore/internal/config"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// application is assigned after app.New below; onChange fires from the
	// watcher's own background goroutine and is a no-op until then.
	var application *app.App

	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		if application == nil {
			return
		}
		application.SetLogLevel(new.LogLevel)
		application.SetLanguage(new.Session.Language)
		slog.Info("config file changed: applied log level and session language live; other fields require a restart")
	})
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxcore: config file %q not found — pass an existing YAML file with -config\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxcore: %v\n", err)
		}
		return 1
	}
	defer watcher.Stop()

	cfg := watcher.Current()

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	slog.Info("voxcore starting",
		"config", *configPath,
		"transport_url", cfg.Transport.URL,
		"log_level", cfg.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err = app.New(cfg)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("voxcore ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
