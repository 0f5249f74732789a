package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/mirrorkit/vimeograb/internal/app"
	"github.com/mirrorkit/vimeograb/internal/common/config"
	"github.com/mirrorkit/vimeograb/internal/common/logger"
	"github.com/mirrorkit/vimeograb/internal/common/messaging"
)

func main() {
	// The run lives in a helper so the deferred cleanups fire before the
	// process exits with the run's outcome.
	os.Exit(run())
}

func run() int {
	// Load the configuration
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	// Initialize logger
	log := logger.New(cfg)

	log.WithFields(logrus.Fields{
		"component": "vimeograb_main",
		"config":    cfg.Crawler,
	}).Debug("Crawler configuration loaded")

	// Create the target directory and mirror the log into it
	targetDir := cfg.Crawler.TargetDir
	if targetDir == "" {
		targetDir = "."
	}
	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		log.WithError(err).Fatal("Failed to create target directory")
	}
	if err := logger.WithRunFile(log, targetDir); err != nil {
		log.WithError(err).Warn("Failed to open run log file")
	}

	// Progress events go to RabbitMQ when a broker is configured,
	// otherwise they are discarded
	var msgClient messaging.Client
	if cfg.RabbitMq.URL != "" {
		client, err := messaging.NewRabbitMQClient(&cfg.RabbitMq)
		if err != nil {
			log.WithError(err).Fatal("Failed to create RabbitMQ client")
		}
		msgClient = client
	} else {
		log.Debug("No broker configured, progress events disabled")
		msgClient = messaging.NewNoopClient()
	}
	defer msgClient.Close()

	// An interrupt fails the in-flight transfer; a second one kills the
	// process the usual way
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a := app.New(cfg, log, msgClient)
	if errs := a.Run(ctx); errs > 0 {
		return 1
	}
	return 0
}
