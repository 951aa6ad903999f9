package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"kitaabse-pipeline/internal/config"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	envFile  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "pipeline",
	Short: "Kitaabse audio pipeline - workers and maintenance",
	Long: `Runs the PDF to audiobook pipeline outside the HTTP server: queue workers,
the stale and failed-page sweeps, and one-off processing of a local PDF.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// A missing .env is fine; the environment may already be set.
		_ = godotenv.Load(envFile)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "environment file to load")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override LOG_LEVEL")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// newContainer builds the dependency container and a context cancelled on
// SIGINT or SIGTERM.
func newContainer(mutate func(*config.AppConfig)) (*config.Container, context.Context, context.CancelFunc, error) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	cfg := config.NewConfig()
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if mutate != nil {
		mutate(cfg)
	}
	container, err := config.NewContainer(ctx, cfg)
	if err != nil {
		stop()
		return nil, nil, nil, fmt.Errorf("initialize: %w", err)
	}
	return container, ctx, func() {
		_ = container.Close()
		stop()
	}, nil
}
