package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	appconfig "github.com/lewisedginton/memory_vault/internal/config"
	"github.com/lewisedginton/memory_vault/internal/server"
	"github.com/lewisedginton/memory_vault/pkg/config"
	"github.com/lewisedginton/memory_vault/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var cfg appconfig.AppConfig
	configPath := os.Getenv("CONFIG_FILE")
	if configPath == "" {
		configPath = "config.yaml"
	}
	if err := config.Load(&cfg, configPath, true); err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log := logger.NewLogger(logger.Config{
		Level:   cfg.GetLogLevel(),
		Format:  cfg.Logging.Format,
		Service: cfg.ServiceName,
	})
	cfg.LogConfig(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv, err := server.New(ctx, &cfg, log)
	if err != nil {
		return fmt.Errorf("failed to initialize server: %w", err)
	}

	errChan := srv.Listen()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Info("Received shutdown signal", logger.StringField("signal", sig.String()))
	case err := <-errChan:
		log.Error("Server error", logger.ErrorField(err))
	}

	if err := srv.GracefulShutdown(); err != nil {
		log.Error("Error during shutdown", logger.ErrorField(err))
		return err
	}
	log.Info("Server stopped")
	return nil
}
