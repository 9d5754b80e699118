package main

import (
	"os"

	"github.com/spf13/cobra"
	"go.viam.com/rdk/logging"
)

var logger = logging.NewLogger("so101-hold")

var rootCmd = &cobra.Command{
	Use:   "so101-hold",
	Short: "Tools for the SO-101 hold controller",
	Long: `Tools for the SO-101 hold controller.

probe looks for SO-101 servos on the serial ports of this machine.
simulate runs the supervised controller against a simulated arm and walks it
through a limit violation, the resulting hold and the release.`,
	SilenceUsage: true,
}

func main() {
	rootCmd.AddCommand(probeCmd, simulateCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
