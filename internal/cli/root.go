// Package cli implements the memctl operator commands: consistency checks,
// repairs and bulk imports against a configured deployment.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	appconfig "github.com/lewisedginton/memory_vault/internal/config"
	"github.com/lewisedginton/memory_vault/internal/server"
	"github.com/lewisedginton/memory_vault/pkg/config"
	"github.com/lewisedginton/memory_vault/pkg/logger"
)

var (
	configPath string
	userFlag   string
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "memctl",
	Short: "Operator tooling for the memory vault",
	Long:  "Maintenance commands for the memory vault: consistency checks, repairs and bulk imports. Runs against the configured database and durable store directly.",
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to configuration file (default: $CONFIG_FILE or config.yaml)")
	RootCmd.PersistentFlags().StringVarP(&userFlag, "user", "u", "", "User id to operate on (required)")
}

func getConfigPath() string {
	if configPath != "" {
		return configPath
	}
	if env := os.Getenv("CONFIG_FILE"); env != "" {
		return env
	}
	return "config.yaml"
}

// bootstrap loads the configuration and builds the engine components. The
// returned cleanup releases the pool and cache.
func bootstrap(ctx context.Context) (*server.Server, func(), error) {
	var cfg appconfig.AppConfig
	if err := config.Load(&cfg, getConfigPath(), true); err != nil {
		return nil, nil, fmt.Errorf("load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	// Operator commands only need warnings on stderr.
	log := logger.NewLogger(logger.Config{
		Level:   logger.WarnLevel,
		Format:  cfg.Logging.Format,
		Service: "memctl",
		Output:  os.Stderr,
	})

	srv, err := server.New(ctx, &cfg, log)
	if err != nil {
		return nil, nil, fmt.Errorf("initialize components: %w", err)
	}
	cleanup := func() {
		_ = srv.Close()
	}
	return srv, cleanup, nil
}

func requireUser() error {
	if userFlag == "" {
		return fmt.Errorf("--user is required")
	}
	return nil
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}
