package so_arm_hold

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
)

// ErrHolding is returned for trajectory commands sent while the controller holds.
var ErrHolding = errors.New("controller is holding, trajectory commands are rejected until unhold")

const rejectWarnInterval = 10 * time.Second

// Response is the result of a hold, unhold or monitoring request.
type Response struct {
	Success bool
	Message string
}

// SupervisorConfig configures a HoldSupervisor.
type SupervisorConfig struct {
	Joints       []string
	Limits       JointLimits
	StopDuration time.Duration
	// ActiveSpeedLimit is the cartesian speed threshold in mm/s.
	ActiveSpeedLimit float64
	MonitorCartesian bool
}

// HoldSupervisor checks every control tick against the acceleration and
// cartesian speed limits, stops the arm on a violation and keeps it in hold
// until released. Hold requests block until the stop has finished.
type HoldSupervisor struct {
	engine     *TrajectoryEngine
	mode       *HoldMode
	accel      *AccelerationLimitMonitor
	speed      *SpeedLimitMonitor
	speedLimit *CartesianSpeedLimit
	builder    *StopTrajectoryBuilder
	logger     logging.Logger
	metrics    *Metrics

	// lifetime bounds blocking hold requests.
	lifetime context.Context

	lastRejectWarn atomic.Int64
}

// NewHoldSupervisor creates a supervisor and installs it as the engine's
// extension point. metrics may be nil.
func NewHoldSupervisor(
	lifetime context.Context,
	engine *TrajectoryEngine,
	kin Kinematics,
	cfg SupervisorConfig,
	logger logging.Logger,
	metrics *Metrics,
) (*HoldSupervisor, error) {
	if len(cfg.Limits) != len(cfg.Joints) {
		return nil, fmt.Errorf("got acceleration limits for %d joints, expected %d", len(cfg.Limits), len(cfg.Joints))
	}
	if cfg.StopDuration <= 0 {
		return nil, fmt.Errorf("stop trajectory duration must be positive, got %v", cfg.StopDuration)
	}

	s := &HoldSupervisor{
		engine:     engine,
		accel:      NewAccelerationLimitMonitor(cfg.Joints, cfg.Limits, logger, metrics),
		speed:      NewSpeedLimitMonitor(kin, logger, metrics),
		speedLimit: NewCartesianSpeedLimit(cfg.ActiveSpeedLimit, cfg.MonitorCartesian),
		builder:    NewStopTrajectoryBuilder(cfg.StopDuration),
		logger:     logger,
		metrics:    metrics,
		lifetime:   lifetime,
	}
	s.mode = NewHoldMode(s.onTransition)
	engine.SetHook(s)
	return s, nil
}

// UpdateExtensionPoint runs the per-tick supervision. Only the control loop calls it.
func (s *HoldSupervisor) UpdateExtensionPoint(tick TickContext) {
	switch s.mode.Current() {
	case ModeUnhold:
		if s.plannedUpdateOK(tick) {
			return
		}
		// Enter Stopping before the stop is installed so that a command
		// admitted concurrently either sees holding or loses the swap.
		s.mode.StopEvent()
		s.stopMotion(tick, "limit violation")

	case ModeStopping:
		if s.mode.TakeStopRequest() {
			s.stopMotion(tick, "hold requested")
			return
		}
		if !IsExecuted(s.engine.CurrentTrajectory(), tick.TimeData.Uptime.Seconds()) {
			s.mode.StopMotionFinishedEvent()
		}

	case ModeHold:
	}
}

func (s *HoldSupervisor) plannedUpdateOK(tick TickContext) bool {
	period := tick.TimeData.Period
	return s.accel.Check(tick.OldDesired.Velocity, tick.Desired.Velocity, period) &&
		s.speed.Check(tick.OldDesired.Position, tick.Desired.Position, period, s.speedLimit.Load())
}

// stopMotion replaces the trajectory with a stop trajectory starting at the
// previous tick, from the previous desired state, and cancels the active goal.
// The goal is canceled after the swap so that a goal activated in between is
// caught by the engine.
func (s *HoldSupervisor) stopMotion(tick TickContext, reason string) {
	traj, err := s.builder.SetStartTime(tick.OldTimeData.Uptime.Seconds()).Build(tick.OldDesired)
	if err != nil {
		s.logger.Errorf("failed to build stop trajectory: %v", err)
		s.engine.CancelActiveGoal(reason)
		return
	}
	s.engine.ReplaceTrajectory(traj)
	s.engine.CancelActiveGoal(reason)
	s.logger.Infof("stopping within %v: %s", s.builder.Duration(), reason)
}

// FollowTrajectory forwards cmd to the engine unless the supervisor is holding.
// The holding check runs inside the engine's install window.
func (s *HoldSupervisor) FollowTrajectory(cmd TrajectoryCommand) (*Goal, error) {
	goal, err := s.engine.AcceptIf(cmd, s.admitCommand)
	if errors.Is(err, errTrajectoryReplaced) && s.mode.IsHolding() {
		s.metrics.rejectedCommand()
		return nil, ErrHolding
	}
	return goal, err
}

func (s *HoldSupervisor) admitCommand() error {
	if s.mode.IsHolding() {
		s.metrics.rejectedCommand()
		s.warnRejected()
		return ErrHolding
	}
	return nil
}

func (s *HoldSupervisor) warnRejected() {
	now := time.Now().UnixNano()
	last := s.lastRejectWarn.Load()
	if now-last < int64(rejectWarnInterval) || !s.lastRejectWarn.CompareAndSwap(last, now) {
		return
	}
	s.logger.Warn("Controller is in hold mode, trajectory commands are rejected. Unhold the controller to move again.")
}

// Hold stops the arm and blocks until it is at rest, ctx is done or the
// supervisor shuts down. Holding an arm that is already held succeeds at once.
func (s *HoldSupervisor) Hold(ctx context.Context) Response {
	waiter := NewBarrier()
	if s.mode.StopEventWithListener(waiter) {
		s.engine.CancelActiveGoal("hold requested")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.lifetime, cancel)
	defer stop()

	if err := waiter.WaitContext(ctx, EventStopFinished); err != nil {
		s.metrics.holdRequest("aborted")
		s.logger.CWarnf(ctx, "hold not confirmed: %v", err)
		return Response{Success: false, Message: fmt.Sprintf("hold not confirmed: %v", err)}
	}
	s.metrics.holdRequest("held")
	return Response{Success: true, Message: "holding"}
}

// Unhold releases the hold so trajectory commands are accepted again.
func (s *HoldSupervisor) Unhold() Response {
	if !s.engine.Running() {
		return Response{Success: false, Message: "could not unhold, controller is not running"}
	}
	if !s.mode.StartEvent() {
		return Response{Success: false, Message: fmt.Sprintf("could not unhold, controller is in %s mode", s.mode.Current())}
	}
	return Response{Success: true, Message: "unhold"}
}

// IsExecuting reports whether the engine runs and the current trajectory is in execution.
func (s *HoldSupervisor) IsExecuting() bool {
	if !s.engine.Running() {
		return false
	}
	return IsExecuted(s.engine.CurrentTrajectory(), s.engine.Snapshot().Uptime.Seconds())
}

// SetCartesianMonitoring switches the cartesian speed check on or off.
func (s *HoldSupervisor) SetCartesianMonitoring(enable bool) Response {
	if enable {
		s.speedLimit.SetActive()
		s.logger.Info("cartesian speed monitoring enabled")
		return Response{Success: true, Message: "cartesian speed monitoring enabled"}
	}
	s.speedLimit.SetInactive()
	s.logger.Info("cartesian speed monitoring disabled")
	return Response{Success: true, Message: "cartesian speed monitoring disabled"}
}

// CartesianMonitoring reports whether the cartesian speed check is on.
func (s *HoldSupervisor) CartesianMonitoring() bool {
	return s.speedLimit.Enabled()
}

// Mode returns the current hold mode.
func (s *HoldSupervisor) Mode() Mode {
	return s.mode.Current()
}

// IsHolding is true while stopping or holding.
func (s *HoldSupervisor) IsHolding() bool {
	return s.mode.IsHolding()
}

func (s *HoldSupervisor) onTransition(from, to Mode) {
	s.metrics.transition(from, to)
	s.logger.Infof("hold mode %s -> %s", from, to)
}
