package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/davidcastilloc/unify-protect-events-extension-sub000/internal/config"
	pkgconfig "github.com/davidcastilloc/unify-protect-events-extension-sub000/pkg/config"
	"github.com/davidcastilloc/unify-protect-events-extension-sub000/pkg/logging"
	"github.com/davidcastilloc/unify-protect-events-extension-sub000/pkg/monitoring"
	"github.com/davidcastilloc/unify-protect-events-extension-sub000/pkg/version"
)

func main() {
	// Setup logger
	logger := logging.NewLoggerWithService(version.ServiceName)

	// Load environment variables
	pkgconfig.LoadEnv(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("Invalid configuration")
	}

	logger.WithFields(logging.Fields{
		"version": version.Version,
		"commit":  version.GetShortCommit(),
		"console": cfg.Protect.BaseURL(),
	}).Info("Starting Lookout (camera event relay)")

	// Setup monitoring
	healthChecker := monitoring.NewHealthChecker(version.ServiceName, version.Version)
	metricsCollector := monitoring.NewMetricsCollector(version.ServiceName, version.Version, version.GitCommit)

	r, err := newRelay(cfg, logger, healthChecker, metricsCollector)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize relay")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := r.run(ctx); err != nil {
		logger.WithError(err).Fatal("Relay stopped with error")
	}
	logger.Info("Lookout stopped")
}
