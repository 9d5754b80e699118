package so_arm_hold

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.viam.com/rdk/components/generic"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
)

func newTestController(t *testing.T, hw JointHardware) *HoldController {
	t.Helper()
	limits := inlineLimits()
	limits["shoulder_pan"] = JointLimitConfig{HasAccelerationLimits: boolPtr(true), MaxAcceleration: floatPtr(2.0)}
	cfg := &Config{JointLimits: limits, MonitorCartesianSpeed: boolPtr(false)}
	_, _, err := cfg.Validate("components.0")
	require.NoError(t, err)

	kin, err := NewSO101Kinematics()
	require.NoError(t, err)

	c, err := NewHoldController(context.Background(), resource.NewName(generic.API, "hold"), cfg, hw, kin, logging.NewTestLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close(context.Background()) })
	return c
}

func followCommand(positions ...interface{}) map[string]interface{} {
	return map[string]interface{}{
		"command": "follow_trajectory",
		"points": []interface{}{
			map[string]interface{}{"positions": positions, "time_from_start_sec": 0.3},
		},
	}
}

func TestHoldControllerDoCommand(t *testing.T) {
	ctx := context.Background()
	hw := NewSimulatedHardware(make([]float64, len(SO101Joints)))
	c := newTestController(t, hw)

	resp, err := c.DoCommand(ctx, map[string]interface{}{"command": "get_mode"})
	require.NoError(t, err)
	assert.Equal(t, "unhold", resp["mode"])
	assert.Equal(t, false, resp["holding"])
	assert.Equal(t, false, resp["cartesian_monitoring"])
	assert.Equal(t, "running", resp["controller_state"])

	// 1 rad in 0.3 s is far above the 2 rad/s^2 shoulder_pan limit.
	resp, err = c.DoCommand(ctx, followCommand(1.0, 0.0, 0.0, 0.0, 0.0))
	require.NoError(t, err)
	require.Equal(t, true, resp["success"])
	goalID, ok := resp["goal_id"].(string)
	require.True(t, ok)

	require.Eventually(t, c.Supervisor().IsHolding, 2*time.Second, 5*time.Millisecond)

	holdCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	resp, err = c.DoCommand(holdCtx, map[string]interface{}{"command": "hold"})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"success": true, "message": "holding"}, resp)

	resp, err = c.DoCommand(ctx, map[string]interface{}{"command": "goal_status", "goal_id": goalID})
	require.NoError(t, err)
	assert.Equal(t, "canceled", resp["status"])
	assert.NotEmpty(t, resp["reason"])

	resp, err = c.DoCommand(ctx, followCommand(0.1, 0.0, 0.0, 0.0, 0.0))
	require.NoError(t, err)
	assert.Equal(t, false, resp["success"])
	assert.Equal(t, ErrHolding.Error(), resp["message"])

	resp, err = c.DoCommand(ctx, map[string]interface{}{"command": "get_mode"})
	require.NoError(t, err)
	assert.Equal(t, "hold", resp["mode"])
	assert.Equal(t, true, resp["holding"])

	resp, err = c.DoCommand(ctx, map[string]interface{}{"command": "is_executing"})
	require.NoError(t, err)
	assert.Equal(t, false, resp["success"])

	resp, err = c.DoCommand(ctx, map[string]interface{}{"command": "unhold"})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"success": true, "message": "unhold"}, resp)

	resp, err = c.DoCommand(ctx, map[string]interface{}{"command": "unhold"})
	require.NoError(t, err)
	assert.Equal(t, false, resp["success"])

	resp, err = c.DoCommand(ctx, map[string]interface{}{"command": "monitor_cartesian_speed", "enable": true})
	require.NoError(t, err)
	assert.Equal(t, true, resp["success"])
	assert.True(t, c.Supervisor().CartesianMonitoring())

	assert.Greater(t, hw.Commands(), 0)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.supervisor.metrics.rejectedCommands))
	count, err := testutil.GatherAndCount(c.Registry(), "so101_hold_rejected_commands_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.NoError(t, c.Close(ctx))
	require.NoError(t, c.Close(ctx))

	resp, err = c.DoCommand(ctx, map[string]interface{}{"command": "get_mode"})
	require.NoError(t, err)
	assert.Equal(t, "stopped", resp["controller_state"])
}

func TestHoldControllerDoCommandErrors(t *testing.T) {
	ctx := context.Background()
	c := newTestController(t, NewSimulatedHardware(make([]float64, len(SO101Joints))))

	tests := []struct {
		name string
		cmd  map[string]interface{}
	}{
		{"unknown command", map[string]interface{}{"command": "dance"}},
		{"monitor without enable", map[string]interface{}{"command": "monitor_cartesian_speed"}},
		{"follow without points", map[string]interface{}{"command": "follow_trajectory"}},
		{"goal status without id", map[string]interface{}{"command": "goal_status"}},
		{"goal status with bad id", map[string]interface{}{"command": "goal_status", "goal_id": "not-a-uuid"}},
		{"goal status for unknown goal", map[string]interface{}{"command": "goal_status", "goal_id": uuid.NewString()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.DoCommand(ctx, tt.cmd)
			assert.Error(t, err)
		})
	}

	resp, err := c.DoCommand(ctx, followCommand(0.1, 0.0))
	require.NoError(t, err)
	assert.Equal(t, false, resp["success"])
}

func TestNewHoldControllerRejectsBadLimits(t *testing.T) {
	limits := inlineLimits()
	delete(limits, "elbow_flex")
	cfg := &Config{JointLimits: limits}
	_, _, err := cfg.Validate("components.0")
	require.NoError(t, err)

	_, err = NewHoldController(context.Background(), resource.NewName(generic.API, "hold"), cfg,
		NewSimulatedHardware(make([]float64, len(SO101Joints))), &linearKinematics{}, logging.NewTestLogger(t))
	assert.ErrorIs(t, err, ErrMissingAccelerationLimit)
}

func TestCommandWriterKeepsLatest(t *testing.T) {
	hw := NewSimulatedHardware([]float64{0, 0})
	w := newCommandWriter(hw, logging.NewTestLogger(t))

	w.publish([]float64{1, 1})
	w.publish([]float64{2, 2})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		positions, _ := hw.JointPositions(ctx)
		return positions[0] == 2
	}, time.Second, time.Millisecond)
	assert.Equal(t, 1, hw.Commands())

	cancel()
	<-done
}
