package cli

import (
	"github.com/spf13/cobra"
)

var version = "0.1.0"

// RootCmd represents the base command when called without any subcommands
var RootCmd = &cobra.Command{
	Use:     "volley",
	Short:   "A load-test harness for HTTP and WebSocket services",
	Version: version,
	Long: `Volley drives virtual users against an HTTP endpoint or a persistent
WebSocket session, records latency trends and counters, and evaluates
checks and thresholds over the run.`,
	SilenceUsage: true,
	Run: func(cmd *cobra.Command, args []string) {
		_ = cmd.Help()
	},
}

// Execute runs the root command. It returns the error that should make the
// process exit non-zero.
func Execute() error {
	return RootCmd.Execute()
}

func init() {
	RootCmd.AddCommand(runCmd)
	RootCmd.AddCommand(targetCmd)
	RootCmd.AddCommand(monitorCmd)
}
