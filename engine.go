package so_arm_hold

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
)

// ErrNotRunning is returned for commands sent to a controller that is not running.
var ErrNotRunning = errors.New("trajectory controller is not running")

var errTrajectoryReplaced = errors.New("trajectory was replaced while the command was being accepted")

// maxTrackedGoals bounds how many finished goals stay queryable.
const maxTrackedGoals = 64

// EngineState is the lifecycle state of the trajectory engine.
type EngineState int32

const (
	EngineInitialized EngineState = iota
	EngineRunning
	EngineStopped
)

func (s EngineState) String() string {
	switch s {
	case EngineInitialized:
		return "initialized"
	case EngineRunning:
		return "running"
	case EngineStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// TimeData is the timing of one control tick. Uptime is the controller time
// trajectories are expressed in.
type TimeData struct {
	Time   time.Time
	Period time.Duration
	Uptime time.Duration
}

// TickContext is what the control loop hands to its extension point every tick.
// Desired and OldDesired are owned by the engine and only valid during the call.
type TickContext struct {
	Trajectory  *Trajectory
	TimeData    TimeData
	OldTimeData TimeData
	Desired     State
	OldDesired  State
}

// UpdateHook is called by the control loop after the desired state of a tick has been sampled.
type UpdateHook interface {
	UpdateExtensionPoint(tick TickContext)
}

// TrajectoryPoint is one waypoint of a trajectory command. Velocities and
// accelerations are optional and default to zero.
type TrajectoryPoint struct {
	Positions     []float64
	Velocities    []float64
	Accelerations []float64
	TimeFromStart time.Duration
}

// TrajectoryCommand is a joint trajectory to follow from the current desired state.
type TrajectoryCommand struct {
	Points            []TrajectoryPoint
	GoalTimeTolerance time.Duration
}

// EngineSnapshot is the desired state published at the end of a tick.
type EngineSnapshot struct {
	Uptime  time.Duration
	Desired State
}

// TrajectoryEngine samples the current trajectory every control tick. The
// trajectory slot is a single atomic pointer: the control loop reads it every
// tick, command ingestion and stops replace it wholesale.
type TrajectoryEngine struct {
	numJoints        int
	defaultTolerance time.Duration
	logger           logging.Logger

	state      atomic.Int32
	box        atomic.Pointer[Trajectory]
	activeGoal atomic.Pointer[Goal]
	snapshot   atomic.Pointer[EngineSnapshot]

	// owned by the control loop
	hook        UpdateHook
	timeData    TimeData
	oldTimeData TimeData
	desired     State
	oldDesired  State

	goalsMu   sync.Mutex
	goals     map[uuid.UUID]*Goal
	goalOrder []uuid.UUID
}

// NewTrajectoryEngine returns an engine for numJoints joints in EngineInitialized.
func NewTrajectoryEngine(numJoints int, defaultTolerance time.Duration, logger logging.Logger) *TrajectoryEngine {
	return &TrajectoryEngine{
		numJoints:        numJoints,
		defaultTolerance: defaultTolerance,
		logger:           logger,
		desired:          NewState(numJoints),
		oldDesired:       NewState(numJoints),
		goals:            make(map[uuid.UUID]*Goal),
	}
}

// SetHook installs the per-tick extension point. It must be called before Start.
func (e *TrajectoryEngine) SetHook(hook UpdateHook) {
	e.hook = hook
}

// State returns the lifecycle state.
func (e *TrajectoryEngine) State() EngineState {
	return EngineState(e.state.Load())
}

// Running reports whether the engine is in EngineRunning.
func (e *TrajectoryEngine) Running() bool {
	return e.State() == EngineRunning
}

// Start holds the measured positions and moves to EngineRunning. Uptime starts at zero.
func (e *TrajectoryEngine) Start(positions []float64, now time.Time) error {
	if len(positions) != e.numJoints {
		return fmt.Errorf("expected %d joint positions, got %d", e.numJoints, len(positions))
	}
	if e.Running() {
		return fmt.Errorf("trajectory engine already running")
	}

	e.timeData = TimeData{Time: now}
	e.oldTimeData = e.timeData
	for i, p := range positions {
		e.desired.SetJoint(i, PointState{Position: p})
	}
	e.oldDesired.CopyFrom(e.desired)
	e.box.Store(newHoldTrajectory(0, positions))
	e.publish()

	e.state.Store(int32(EngineRunning))
	e.logger.Infof("trajectory engine started, holding %v", positions)
	return nil
}

// Stop moves to EngineStopped and cancels the active goal.
func (e *TrajectoryEngine) Stop() {
	if EngineState(e.state.Swap(int32(EngineStopped))) == EngineRunning {
		e.CancelActiveGoal("controller stopped")
		e.logger.Info("trajectory engine stopped")
	}
}

// Update runs one control tick and returns the desired positions to command.
// Only the control loop calls it. It returns nil while the engine is not running.
func (e *TrajectoryEngine) Update(now time.Time, period time.Duration) []float64 {
	if !e.Running() {
		return nil
	}

	e.oldTimeData = e.timeData
	e.timeData = TimeData{Time: now, Period: period, Uptime: e.oldTimeData.Uptime + period}

	traj := e.box.Load()
	e.oldDesired.CopyFrom(e.desired)
	traj.SampleInto(e.timeData.Uptime.Seconds(), e.desired)

	if e.hook != nil {
		e.hook.UpdateExtensionPoint(TickContext{
			Trajectory:  traj,
			TimeData:    e.timeData,
			OldTimeData: e.oldTimeData,
			Desired:     e.desired,
			OldDesired:  e.oldDesired,
		})
	}

	e.checkGoal()
	e.publish()

	out := make([]float64, e.numJoints)
	copy(out, e.desired.Position)
	return out
}

// ReplaceTrajectory installs traj and resamples the desired state of the
// current tick from it. Only the control loop calls it.
func (e *TrajectoryEngine) ReplaceTrajectory(traj *Trajectory) {
	e.box.Store(traj)
	traj.SampleInto(e.timeData.Uptime.Seconds(), e.desired)
}

// CurrentTrajectory returns the installed trajectory.
func (e *TrajectoryEngine) CurrentTrajectory() *Trajectory {
	return e.box.Load()
}

// Snapshot returns the desired state published by the last tick.
func (e *TrajectoryEngine) Snapshot() EngineSnapshot {
	if s := e.snapshot.Load(); s != nil {
		return *s
	}
	return EngineSnapshot{Desired: NewState(e.numJoints)}
}

// Accept builds a trajectory from cmd, starting at the last published desired
// state, and installs it. The new goal preempts the active one.
func (e *TrajectoryEngine) Accept(cmd TrajectoryCommand) (*Goal, error) {
	return e.AcceptIf(cmd, nil)
}

// AcceptIf is Accept gated by admit. admit runs after the current trajectory
// is loaded and before the new one is swapped in, so a trajectory installed
// by the control loop after admit passed makes the swap fail.
func (e *TrajectoryEngine) AcceptIf(cmd TrajectoryCommand, admit func() error) (*Goal, error) {
	if !e.Running() {
		return nil, ErrNotRunning
	}
	prev := e.box.Load()
	if admit != nil {
		if err := admit(); err != nil {
			return nil, err
		}
	}
	snap := e.Snapshot()

	traj, err := e.buildTrajectory(cmd, snap)
	if err != nil {
		return nil, err
	}
	if !e.box.CompareAndSwap(prev, traj) {
		return nil, errTrajectoryReplaced
	}

	goal := newGoal(traj)
	e.trackGoal(goal)
	if old := e.activeGoal.Swap(goal); old != nil {
		if err := old.setCanceled("preempted by goal " + goal.ID().String()); err != nil {
			e.logger.Debugf("preempted goal already finished: %v", err)
		}
	}
	// The control loop may have replaced traj between the swap and the goal
	// becoming active, after it canceled the previous active goal.
	if e.box.Load() != traj && e.activeGoal.CompareAndSwap(goal, nil) {
		if err := goal.setCanceled("trajectory replaced"); err == nil {
			e.logger.Infof("canceled goal %s: trajectory replaced", goal.ID())
		}
		return goal, nil
	}
	e.logger.Infof("accepted goal %s with %d points ending at uptime %.3fs",
		goal.ID(), len(cmd.Points), traj.EndTime())
	return goal, nil
}

// CancelActiveGoal marks the active goal canceled and forgets it. Cancellation
// is best effort: a goal that finished concurrently stays finished.
func (e *TrajectoryEngine) CancelActiveGoal(reason string) bool {
	goal := e.activeGoal.Swap(nil)
	if goal == nil {
		return false
	}
	if err := goal.setCanceled(reason); err != nil {
		e.logger.Warnf("failed to cancel goal: %v", err)
		return false
	}
	e.logger.Infof("canceled goal %s: %s", goal.ID(), reason)
	return true
}

// ActiveGoal returns the active goal, or nil.
func (e *TrajectoryEngine) ActiveGoal() *Goal {
	return e.activeGoal.Load()
}

// Goal looks up a recently accepted goal.
func (e *TrajectoryEngine) Goal(id uuid.UUID) (*Goal, bool) {
	e.goalsMu.Lock()
	defer e.goalsMu.Unlock()
	g, ok := e.goals[id]
	return g, ok
}

func (e *TrajectoryEngine) checkGoal() {
	goal := e.activeGoal.Load()
	if goal == nil || goal.Trajectory() != e.box.Load() {
		return
	}
	if IsExecuted(goal.Trajectory(), e.timeData.Uptime.Seconds()) {
		return
	}
	if !e.activeGoal.CompareAndSwap(goal, nil) {
		return
	}
	if err := goal.setSucceeded(); err == nil {
		e.logger.Infof("goal %s succeeded", goal.ID())
	}
}

func (e *TrajectoryEngine) publish() {
	e.snapshot.Store(&EngineSnapshot{Uptime: e.timeData.Uptime, Desired: e.desired.Clone()})
}

func (e *TrajectoryEngine) trackGoal(goal *Goal) {
	e.goalsMu.Lock()
	defer e.goalsMu.Unlock()
	e.goals[goal.ID()] = goal
	e.goalOrder = append(e.goalOrder, goal.ID())
	for len(e.goalOrder) > maxTrackedGoals {
		delete(e.goals, e.goalOrder[0])
		e.goalOrder = e.goalOrder[1:]
	}
}

func (e *TrajectoryEngine) buildTrajectory(cmd TrajectoryCommand, from EngineSnapshot) (*Trajectory, error) {
	if len(cmd.Points) == 0 {
		return nil, fmt.Errorf("trajectory command has no points")
	}
	tolerance := cmd.GoalTimeTolerance
	if tolerance <= 0 {
		tolerance = e.defaultTolerance
	}

	start := from.Uptime.Seconds()
	joints := make([]JointTrajectory, e.numJoints)
	for j := range joints {
		joints[j] = make(JointTrajectory, 0, len(cmd.Points))
	}

	prevTime := start
	prevState := from.Desired
	for k, pt := range cmd.Points {
		if err := validatePoint(pt, e.numJoints); err != nil {
			return nil, fmt.Errorf("point %d: %w", k, err)
		}
		t := start + pt.TimeFromStart.Seconds()
		if t <= prevTime {
			return nil, fmt.Errorf("point %d: time_from_start must be positive and increasing", k)
		}
		for j := range joints {
			end := PointState{Position: pt.Positions[j]}
			if pt.Velocities != nil {
				end.Velocity = pt.Velocities[j]
			}
			if pt.Accelerations != nil {
				end.Acceleration = pt.Accelerations[j]
			}
			var begin PointState
			if k == 0 {
				begin = prevState.Joint(j)
			} else {
				begin = joints[j][k-1].Sample(prevTime)
			}
			joints[j] = append(joints[j], NewSegment(prevTime, begin, t, end, tolerance.Seconds()))
		}
		prevTime = t
	}
	return NewTrajectory(joints), nil
}

func validatePoint(pt TrajectoryPoint, numJoints int) error {
	if len(pt.Positions) != numJoints {
		return fmt.Errorf("expected %d positions, got %d", numJoints, len(pt.Positions))
	}
	if pt.Velocities != nil && len(pt.Velocities) != numJoints {
		return fmt.Errorf("expected %d velocities, got %d", numJoints, len(pt.Velocities))
	}
	if pt.Accelerations != nil && len(pt.Accelerations) != numJoints {
		return fmt.Errorf("expected %d accelerations, got %d", numJoints, len(pt.Accelerations))
	}
	return nil
}
