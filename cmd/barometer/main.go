package main

import (
	"os"
	"os/signal"
	"syscall"

	"barometer/internal/adapters/config"
	"barometer/internal/adapters/errors/noop"
	"barometer/internal/adapters/errors/sentry"
	"barometer/internal/bootstrap"
	"barometer/pkg/errors"
	"barometer/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := loadConfig()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	// Initialize logger
	if err := initLogger(cfg); err != nil {
		panic("failed to init logger: " + err.Error())
	}
	defer logger.Sync()

	log := logger.Get()
	log.Infof("Starting %s %s in %s mode", cfg.App.Name, cfg.App.Version, cfg.App.Env)

	// Initialize error tracker
	errorTracker := initErrorTracker(cfg, log)
	logger.SetTracker(errorTracker)

	// Wire everything: databases, repositories, the snapshot builder,
	// the refresh worker, the Kafka consumer and the API server
	container, err := bootstrap.New(cfg, log, errorTracker)
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}

	if err := container.Start(); err != nil {
		log.Fatalf("Failed to start: %v", err)
	}

	// Wait for shutdown signal
	waitForShutdown(container, log)
}

// loadConfig loads application configuration from environment
func loadConfig() (*config.Config, error) {
	return config.Load()
}

// initLogger initializes structured logging
func initLogger(cfg *config.Config) error {
	return logger.Init(cfg.App.LogLevel, cfg.App.Env)
}

// initErrorTracker initializes error tracking (Sentry or no-op)
func initErrorTracker(cfg *config.Config, log *logger.Logger) errors.Tracker {
	if !cfg.ErrorTracking.Enabled || cfg.ErrorTracking.SentryDSN == "" {
		log.Info("Error tracking disabled")
		return noop.New()
	}

	tracker, err := sentry.New(cfg.ErrorTracking.SentryDSN, cfg.ErrorTracking.Environment)
	if err != nil {
		log.Warnf("Failed to initialize Sentry: %v", err)
		return noop.New()
	}

	log.Info("Error tracking initialized (Sentry)")
	return tracker
}

// waitForShutdown blocks until a termination signal arrives or a component
// failure cancels the container context, then runs the graceful shutdown
func waitForShutdown(container *bootstrap.Container, log *logger.Logger) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Infow("Shutdown signal received", "signal", sig.String())
	case <-container.Context.Done():
		log.Warn("A component failed, shutting down")
	}

	container.Shutdown()
}
