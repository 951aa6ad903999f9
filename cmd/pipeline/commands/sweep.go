package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	sweepWatch bool
	sweepStale bool
	sweepPages bool
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Fail stale documents and retry recently failed pages",
	RunE:  runSweep,
}

func init() {
	sweepCmd.Flags().BoolVar(&sweepWatch, "watch", false, "keep sweeping every SWEEP_INTERVAL")
	sweepCmd.Flags().BoolVar(&sweepStale, "stale", true, "fail documents stuck in processing")
	sweepCmd.Flags().BoolVar(&sweepPages, "failed-pages", true, "retry failed pages from the last 24h")
	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, args []string) error {
	container, ctx, cleanup, err := newContainer(nil)
	if err != nil {
		return err
	}
	defer cleanup()

	if sweepWatch {
		container.Sweeper.Run(ctx, container.Config.SweepInterval)
		return nil
	}

	out := cmd.OutOrStdout()
	if sweepStale {
		n, err := container.Sweeper.SweepStale(ctx)
		if err != nil {
			return fmt.Errorf("stale sweep: %w", err)
		}
		fmt.Fprintf(out, "failed %d stale documents\n", n)
	}
	if sweepPages {
		n, err := container.Sweeper.RetryFailedPages(ctx)
		if err != nil {
			return fmt.Errorf("failed-page sweep: %w", err)
		}
		fmt.Fprintf(out, "rescheduled %d failed pages\n", n)
	}
	return nil
}
