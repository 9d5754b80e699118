package so_arm_hold

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.viam.com/rdk/logging"
)

const testStopDuration = 200 * time.Millisecond

type supervisorFixture struct {
	clock      *testClock
	engine     *TrajectoryEngine
	supervisor *HoldSupervisor
	metrics    *Metrics
	cancel     context.CancelFunc
}

func newSupervisorFixture(t *testing.T, limits JointLimits, kin Kinematics, monitorCartesian bool) *supervisorFixture {
	t.Helper()
	logger := logging.NewTestLogger(t)
	clock := newTestClock()
	lifetime, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	metrics := NewMetrics(prometheus.NewRegistry(), "test")
	engine := NewTrajectoryEngine(2, 100*time.Millisecond, logger)
	supervisor, err := NewHoldSupervisor(lifetime, engine, kin, SupervisorConfig{
		Joints:           []string{"shoulder_pan", "shoulder_lift"},
		Limits:           limits,
		StopDuration:     testStopDuration,
		ActiveSpeedLimit: ActiveSpeedLimit,
		MonitorCartesian: monitorCartesian,
	}, logger, metrics)
	require.NoError(t, err)
	require.NoError(t, engine.Start([]float64{0, 0}, clock.now))

	return &supervisorFixture{clock: clock, engine: engine, supervisor: supervisor, metrics: metrics, cancel: cancel}
}

// tickUntil ticks until cond holds or limit ticks have run, and returns the ticks used.
func (f *supervisorFixture) tickUntil(limit int, cond func() bool) int {
	for i := 1; i <= limit; i++ {
		f.clock.tick(f.engine, 1)
		if cond() {
			return i
		}
	}
	return -1
}

func unlimited() JointLimits {
	return JointLimits{{}, {}}
}

func TestNewHoldSupervisorValidation(t *testing.T) {
	logger := logging.NewTestLogger(t)
	engine := NewTrajectoryEngine(2, 0, logger)

	_, err := NewHoldSupervisor(context.Background(), engine, &linearKinematics{}, SupervisorConfig{
		Joints: []string{"a", "b"}, Limits: JointLimits{{}}, StopDuration: time.Second,
	}, logger, nil)
	assert.Error(t, err)

	_, err = NewHoldSupervisor(context.Background(), engine, &linearKinematics{}, SupervisorConfig{
		Joints: []string{"a", "b"}, Limits: unlimited(),
	}, logger, nil)
	assert.Error(t, err)
}

func TestAccelerationViolationStopsAndHolds(t *testing.T) {
	limits := JointLimits{{Max: 2.0, Limited: true}, {}}
	f := newSupervisorFixture(t, limits, &linearKinematics{mmPerRad: 1}, true)
	f.clock.tick(f.engine, 3)

	goal, err := f.supervisor.FollowTrajectory(moveCommand([]float64{1, 0}, 300*time.Millisecond))
	require.NoError(t, err)

	f.clock.tick(f.engine, 1)
	assert.Equal(t, ModeStopping, f.supervisor.Mode())
	assert.True(t, f.supervisor.IsHolding())

	status, _ := goal.Status()
	assert.Equal(t, GoalCanceled, status)
	assert.Nil(t, f.engine.ActiveGoal())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.violations.WithLabelValues("acceleration", "shoulder_pan")))

	// The stop starts at the previous tick from the previous desired state, at rest here.
	desired := f.engine.Snapshot().Desired
	assert.InDelta(t, 0, desired.Position[0], 1e-12)
	assert.InDelta(t, 0, desired.Velocity[0], 1e-12)

	_, err = f.supervisor.FollowTrajectory(moveCommand([]float64{0.1, 0}, time.Second))
	assert.ErrorIs(t, err, ErrHolding)

	ticks := f.tickUntil(100, func() bool { return f.supervisor.Mode() == ModeHold })
	require.Greater(t, ticks, 0, "stop never finished")
	assert.GreaterOrEqual(t, ticks, int(testStopDuration/testPeriod)-1)

	_, err = f.supervisor.FollowTrajectory(moveCommand([]float64{0.1, 0}, time.Second))
	assert.ErrorIs(t, err, ErrHolding)
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.rejectedCommands))

	// Nothing happens while holding.
	f.clock.tick(f.engine, 10)
	assert.Equal(t, ModeHold, f.supervisor.Mode())

	resp := f.supervisor.Unhold()
	assert.True(t, resp.Success, resp.Message)
	assert.Equal(t, ModeUnhold, f.supervisor.Mode())

	_, err = f.supervisor.FollowTrajectory(moveCommand([]float64{0.1, 0}, 2*time.Second))
	assert.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.transitions.WithLabelValues("unhold", "stopping")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.transitions.WithLabelValues("stopping", "hold")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.transitions.WithLabelValues("hold", "unhold")))
}

func TestCommandAdmittedBeforeViolationCannotReplaceStop(t *testing.T) {
	limits := JointLimits{{Max: 2.0, Limited: true}, {}}
	f := newSupervisorFixture(t, limits, &linearKinematics{mmPerRad: 1}, false)

	_, err := f.supervisor.FollowTrajectory(moveCommand([]float64{1, 0}, 300*time.Millisecond))
	require.NoError(t, err)

	// The control loop trips the limit after the next command is admitted
	// and before it is swapped in.
	_, err = f.engine.AcceptIf(moveCommand([]float64{3, 0}, 2*time.Second), func() error {
		if err := f.supervisor.admitCommand(); err != nil {
			return err
		}
		f.clock.tick(f.engine, 1)
		require.Equal(t, ModeStopping, f.supervisor.Mode())
		return nil
	})
	assert.ErrorIs(t, err, errTrajectoryReplaced)
	assert.Nil(t, f.engine.ActiveGoal())

	_, err = f.supervisor.FollowTrajectory(moveCommand([]float64{3, 0}, 2*time.Second))
	assert.ErrorIs(t, err, ErrHolding)

	ticks := f.tickUntil(100, func() bool { return f.supervisor.Mode() == ModeHold })
	require.Greater(t, ticks, 0, "stop never finished")
	assert.LessOrEqual(t, ticks, int(testStopDuration/testPeriod)+1)
	assert.InDelta(t, 0, f.engine.Snapshot().Desired.Position[0], 1e-9)
}

func TestStopFromMotionComesToRest(t *testing.T) {
	limits := JointLimits{{Max: 50, Limited: true}, {}}
	f := newSupervisorFixture(t, limits, &linearKinematics{mmPerRad: 1}, false)

	_, err := f.supervisor.FollowTrajectory(moveCommand([]float64{2, 0}, 2*time.Second))
	require.NoError(t, err)
	f.clock.tick(f.engine, 100)

	moving := f.engine.Snapshot().Desired
	require.Greater(t, moving.Velocity[0], 1.0)

	resp := make(chan Response, 1)
	go func() { resp <- f.supervisor.Hold(context.Background()) }()
	require.Eventually(t, func() bool { return f.supervisor.Mode() == ModeStopping }, time.Second, time.Millisecond)

	f.tickUntil(100, func() bool { return f.supervisor.Mode() == ModeHold })
	require.Equal(t, ModeHold, f.supervisor.Mode())

	rest := f.engine.Snapshot().Desired
	assert.InDelta(t, 0, rest.Velocity[0], 1e-9)
	assert.Greater(t, rest.Position[0], moving.Position[0])

	select {
	case r := <-resp:
		assert.True(t, r.Success)
	case <-time.After(2 * time.Second):
		t.Fatal("hold did not return")
	}
}

func TestCartesianMonitoringToggle(t *testing.T) {
	// 1 rad in 1 s peaks at 1.875 rad/s, or 1875 mm/s at 1000 mm/rad.
	run := func(t *testing.T, enabled bool) *supervisorFixture {
		f := newSupervisorFixture(t, unlimited(), &linearKinematics{mmPerRad: 1000}, true)
		assert.True(t, f.supervisor.SetCartesianMonitoring(enabled).Success)
		assert.Equal(t, enabled, f.supervisor.CartesianMonitoring())

		_, err := f.supervisor.FollowTrajectory(moveCommand([]float64{1, 0}, time.Second))
		require.NoError(t, err)
		f.tickUntil(150, func() bool { return f.supervisor.Mode() != ModeUnhold })
		return f
	}

	t.Run("disabled never stops", func(t *testing.T) {
		f := run(t, false)
		assert.Equal(t, ModeUnhold, f.supervisor.Mode())
		assert.InDelta(t, 1, f.engine.Snapshot().Desired.Position[0], 1e-9)
	})

	t.Run("enabled stops", func(t *testing.T) {
		f := run(t, true)
		assert.Equal(t, ModeStopping, f.supervisor.Mode())
		assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.violations.WithLabelValues("cartesian_speed", "tool")))
	})
}

func TestHoldBlocksUntilStopped(t *testing.T) {
	f := newSupervisorFixture(t, unlimited(), &linearKinematics{mmPerRad: 1}, false)
	goal, err := f.supervisor.FollowTrajectory(moveCommand([]float64{1, 1}, 5*time.Second))
	require.NoError(t, err)
	f.clock.tick(f.engine, 10)

	resp := make(chan Response, 1)
	go func() { resp <- f.supervisor.Hold(context.Background()) }()

	require.Eventually(t, func() bool { return f.supervisor.Mode() == ModeStopping }, time.Second, time.Millisecond)
	assert.Eventually(t, func() bool {
		status, _ := goal.Status()
		return status == GoalCanceled
	}, time.Second, time.Millisecond)

	select {
	case <-resp:
		t.Fatal("hold returned before the arm stopped")
	case <-time.After(50 * time.Millisecond):
	}

	// The first tick installs the stop, which then runs for the stop duration.
	f.clock.tick(f.engine, 1)
	stop := f.engine.CurrentTrajectory()
	assert.InDelta(t, f.engine.Snapshot().Uptime.Seconds()-testPeriod.Seconds()+testStopDuration.Seconds(), stop.EndTime(), 1e-9)

	f.tickUntil(100, func() bool { return f.supervisor.Mode() == ModeHold })
	select {
	case r := <-resp:
		assert.True(t, r.Success)
		assert.Equal(t, "holding", r.Message)
	case <-time.After(2 * time.Second):
		t.Fatal("hold did not return after the stop finished")
	}

	t.Run("hold is idempotent", func(t *testing.T) {
		r := f.supervisor.Hold(context.Background())
		assert.True(t, r.Success)
		assert.Equal(t, ModeHold, f.supervisor.Mode())
	})
}

func TestHoldWhileStoppingWaitsForTheSameStop(t *testing.T) {
	limits := JointLimits{{Max: 2.0, Limited: true}, {}}
	f := newSupervisorFixture(t, limits, &linearKinematics{mmPerRad: 1}, false)
	_, err := f.supervisor.FollowTrajectory(moveCommand([]float64{1, 0}, 300*time.Millisecond))
	require.NoError(t, err)
	f.clock.tick(f.engine, 1)
	require.Equal(t, ModeStopping, f.supervisor.Mode())
	stop := f.engine.CurrentTrajectory()

	resp := make(chan Response, 1)
	go func() { resp <- f.supervisor.Hold(context.Background()) }()
	time.Sleep(20 * time.Millisecond)

	f.tickUntil(100, func() bool { return f.supervisor.Mode() == ModeHold })
	assert.Equal(t, stop, f.engine.CurrentTrajectory())
	select {
	case r := <-resp:
		assert.True(t, r.Success)
	case <-time.After(2 * time.Second):
		t.Fatal("hold did not return")
	}
}

func TestHoldGivesUp(t *testing.T) {
	t.Run("request context", func(t *testing.T) {
		f := newSupervisorFixture(t, unlimited(), &linearKinematics{mmPerRad: 1}, false)
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		r := f.supervisor.Hold(ctx)
		assert.False(t, r.Success)
		assert.Contains(t, r.Message, "hold not confirmed")
		assert.Equal(t, ModeStopping, f.supervisor.Mode())
	})

	t.Run("supervisor shutdown", func(t *testing.T) {
		f := newSupervisorFixture(t, unlimited(), &linearKinematics{mmPerRad: 1}, false)
		resp := make(chan Response, 1)
		go func() { resp <- f.supervisor.Hold(context.Background()) }()

		time.Sleep(20 * time.Millisecond)
		f.cancel()
		select {
		case r := <-resp:
			assert.False(t, r.Success)
		case <-time.After(2 * time.Second):
			t.Fatal("hold did not return on shutdown")
		}
	})
}

func TestUnhold(t *testing.T) {
	f := newSupervisorFixture(t, unlimited(), &linearKinematics{mmPerRad: 1}, false)

	r := f.supervisor.Unhold()
	assert.False(t, r.Success)
	assert.Contains(t, r.Message, "unhold mode")

	f.supervisor.mode.StopEvent()
	r = f.supervisor.Unhold()
	assert.False(t, r.Success)
	assert.Contains(t, r.Message, "stopping mode")

	f.supervisor.mode.StopMotionFinishedEvent()
	f.engine.Stop()
	r = f.supervisor.Unhold()
	assert.False(t, r.Success)
	assert.Contains(t, r.Message, "not running")
	assert.Equal(t, ModeHold, f.supervisor.Mode())
}

func TestIsExecuting(t *testing.T) {
	f := newSupervisorFixture(t, unlimited(), &linearKinematics{mmPerRad: 1}, false)
	f.clock.tick(f.engine, 1)
	assert.False(t, f.supervisor.IsExecuting(), "holding the start position is not executing")

	_, err := f.supervisor.FollowTrajectory(moveCommand([]float64{1, 1}, 500*time.Millisecond))
	require.NoError(t, err)
	assert.True(t, f.supervisor.IsExecuting())

	f.clock.tick(f.engine, 55)
	assert.True(t, f.supervisor.IsExecuting(), "inside the goal time tolerance")

	f.clock.tick(f.engine, 10)
	assert.False(t, f.supervisor.IsExecuting())

	_, err = f.supervisor.FollowTrajectory(moveCommand([]float64{0, 0}, 500*time.Millisecond))
	require.NoError(t, err)
	f.engine.Stop()
	assert.False(t, f.supervisor.IsExecuting())
}
