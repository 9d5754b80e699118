package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.viam.com/rdk/components/generic"
	"go.viam.com/rdk/resource"
	soHold "so_arm_hold"
)

var (
	simMaxAcceleration float64
	simStopDuration    time.Duration
	simRateHz          float64
	simMoveTime        time.Duration
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Drive a simulated arm into an acceleration violation, hold and release it",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runSimulation(cmd.Context())
	},
}

func init() {
	simulateCmd.Flags().Float64Var(&simMaxAcceleration, "max-acceleration", 2.0, "acceleration limit of every joint in rad/s^2")
	simulateCmd.Flags().DurationVar(&simStopDuration, "stop-duration", 200*time.Millisecond, "stop trajectory duration")
	simulateCmd.Flags().Float64Var(&simRateHz, "rate", 100, "control rate in Hz")
	simulateCmd.Flags().DurationVar(&simMoveTime, "move-time", 300*time.Millisecond, "duration of the commanded shoulder_pan move")
}

func runSimulation(ctx context.Context) error {
	limited := true
	limits := map[string]soHold.JointLimitConfig{}
	for _, joint := range soHold.SO101Joints {
		maxAcceleration := simMaxAcceleration
		limits[joint] = soHold.JointLimitConfig{HasAccelerationLimits: &limited, MaxAcceleration: &maxAcceleration}
	}
	cfg := &soHold.Config{
		JointLimits:               limits,
		ControlRateHz:             simRateHz,
		StopTrajectoryDurationSec: simStopDuration.Seconds(),
	}
	if _, _, err := cfg.Validate("simulate"); err != nil {
		return err
	}

	kin, err := soHold.NewSO101Kinematics()
	if err != nil {
		return err
	}
	hw := soHold.NewSimulatedHardware(make([]float64, len(cfg.Joints)))
	controller, err := soHold.NewHoldController(ctx, resource.NewName(generic.API, "sim-hold"), cfg, hw, kin, logger)
	if err != nil {
		return err
	}
	defer controller.Close(context.Background())

	// Cartesian monitoring would also trip on this move; keep the demo about joint accelerations.
	if _, err := controller.DoCommand(ctx, map[string]interface{}{"command": "monitor_cartesian_speed", "enable": false}); err != nil {
		return err
	}

	move := map[string]interface{}{
		"command": "follow_trajectory",
		"points": []interface{}{
			map[string]interface{}{
				"positions":           []interface{}{1.0, 0.0, 0.0, 0.0, 0.0},
				"time_from_start_sec": simMoveTime.Seconds(),
			},
		},
	}
	resp, err := controller.DoCommand(ctx, move)
	if err != nil {
		return err
	}
	logger.Infof("follow_trajectory: %v", resp)

	holdCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	resp, err = controller.DoCommand(holdCtx, map[string]interface{}{"command": "hold"})
	if err != nil {
		return err
	}
	logger.Infof("hold: %v", resp)
	if err := printMode(ctx, controller); err != nil {
		return err
	}

	resp, err = controller.DoCommand(ctx, move)
	if err != nil {
		return err
	}
	logger.Infof("follow_trajectory while holding: %v", resp)

	positions, err := hw.JointPositions(ctx)
	if err != nil {
		return err
	}
	logger.Infof("arm came to rest at %v after %d commands", positions, hw.Commands())

	resp, err = controller.DoCommand(ctx, map[string]interface{}{"command": "unhold"})
	if err != nil {
		return err
	}
	logger.Infof("unhold: %v", resp)
	return printMode(ctx, controller)
}

func printMode(ctx context.Context, controller resource.Resource) error {
	resp, err := controller.DoCommand(ctx, map[string]interface{}{"command": "get_mode"})
	if err != nil {
		return err
	}
	fmt.Printf("mode=%v holding=%v\n", resp["mode"], resp["holding"])
	return nil
}
