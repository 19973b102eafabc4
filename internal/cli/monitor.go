package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/volley/internal/monitor"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor <container>",
	Short: "Sample a container's CPU and memory use while a test runs",
	Long: `Poll the Docker daemon for the stats of the container serving the target and
print the average CPU % and memory (MB) over the window.

  volley monitor metrics-api --duration 1m
  volley run --config examples/rest-burst.yaml   # in another terminal`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		duration, _ := cmd.Flags().GetDuration("duration")
		interval, _ := cmd.Flags().GetDuration("interval")
		verbose, _ := cmd.Flags().GetBool("verbose")

		logger, err := newLogger(verbose, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		source, err := monitor.NewDockerSource(ctx)
		if err != nil {
			return err
		}
		defer source.Close()

		return runMonitor(ctx, monitor.New(source, interval, logger), args[0], duration, cmd.OutOrStdout())
	},
}

// runMonitor samples containerName for duration and prints the averages.
func runMonitor(ctx context.Context, m *monitor.Monitor, containerName string, duration time.Duration, w io.Writer) error {
	fmt.Fprintf(w, "Monitoring %s for %s...\n", containerName, duration)

	summary, err := m.Run(ctx, containerName, duration, func(n int, s monitor.Sample) {
		fmt.Fprintf(w, "Sample %d: CPU=%.1f%%, RAM=%.1fMB\n", n, s.CPUPercent, s.MemoryMB)
	})
	if err != nil {
		return fmt.Errorf("monitoring %s: %w", containerName, err)
	}

	fmt.Fprintf(w, "Samples:     %d (%d failed)\n", summary.Samples, summary.Failed)
	fmt.Fprintf(w, "Average CPU: %.2f%% (max %.2f%%)\n", summary.AvgCPU, summary.MaxCPU)
	fmt.Fprintf(w, "Average RAM: %.2f MB (max %.2f MB)\n", summary.AvgMemoryMB, summary.MaxMemoryMB)
	return nil
}

func init() {
	monitorCmd.Flags().Duration("duration", 5*time.Minute, "How long to sample")
	monitorCmd.Flags().Duration("interval", monitor.DefaultInterval, "Time between samples")
	monitorCmd.Flags().BoolP("verbose", "v", false, "Log failed samples")
}

