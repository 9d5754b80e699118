package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	soHold "so_arm_hold"
)

var (
	probePort    string
	probeTimeout time.Duration
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Ping SO-101 servos on candidate serial ports",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ports := soHold.EnumerateCandidatePorts()
		if probePort != "" {
			ports = []string{probePort}
		}
		if len(ports) == 0 {
			logger.Info("No candidate serial ports found")
			return nil
		}

		found := 0
		for _, port := range ports {
			result, err := soHold.ProbePort(cmd.Context(), port, probeTimeout)
			if err != nil {
				logger.Warnf("Failed to open %s: %v", port, err)
				continue
			}
			if result.HasArm {
				found++
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\tarm=%v\tgripper=%v\n", port, result.HasArm, result.HasGripper)
		}
		logger.Infof("Found %d SO-101 arm(s) on %d port(s)", found, len(ports))
		return nil
	},
}

func init() {
	probeCmd.Flags().StringVar(&probePort, "port", "", "probe only this serial port")
	probeCmd.Flags().DurationVar(&probeTimeout, "timeout", 500*time.Millisecond, "servo response timeout")
}
