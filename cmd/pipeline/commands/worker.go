package commands

import (
	"fmt"

	"kitaabse-pipeline/internal/config"

	"github.com/spf13/cobra"
)

var (
	workerConcurrency int
	workerDrain       bool
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Process queued extraction and synthesis jobs",
	Long: `Polls the Redis job queue and runs due jobs until interrupted. With --drain it
runs everything currently due and exits.`,
	RunE: runWorker,
}

func init() {
	workerCmd.Flags().IntVar(&workerConcurrency, "concurrency", 0, "parallel jobs (default WORKER_CONCURRENCY)")
	workerCmd.Flags().BoolVar(&workerDrain, "drain", false, "run due jobs once and exit")
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	container, ctx, cleanup, err := newContainer(func(cfg *config.AppConfig) {
		if workerConcurrency > 0 {
			cfg.WorkerConcurrency = workerConcurrency
		}
	})
	if err != nil {
		return err
	}
	defer cleanup()

	if container.Config.RedisAddr == "" {
		return fmt.Errorf("worker needs REDIS_ADDR; the in-memory queue is private to the server process")
	}

	if workerDrain {
		n, err := container.Worker.Drain(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "processed %d jobs\n", n)
		return nil
	}
	return container.Worker.Run(ctx)
}
