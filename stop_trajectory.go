package so_arm_hold

import (
	"time"

	"github.com/pkg/errors"
)

var errStopStartTimeNotSet = errors.New("stop trajectory start time not set")

// StopTrajectoryBuilder produces trajectories that bring every joint to rest
// within a fixed stop duration. It keeps only the start time between calls and
// forgets it after every Build, so one builder serves every stop.
type StopTrajectoryBuilder struct {
	duration  float64
	startTime float64
	hasStart  bool
}

// NewStopTrajectoryBuilder returns a builder for stops lasting stopDuration.
func NewStopTrajectoryBuilder(stopDuration time.Duration) *StopTrajectoryBuilder {
	return &StopTrajectoryBuilder{duration: stopDuration.Seconds()}
}

// Duration returns the configured stop duration.
func (b *StopTrajectoryBuilder) Duration() time.Duration {
	return time.Duration(b.duration * float64(time.Second))
}

// SetStartTime sets the uptime (seconds) the next stop trajectory starts at.
func (b *StopTrajectoryBuilder) SetStartTime(uptime float64) *StopTrajectoryBuilder {
	b.startTime = uptime
	b.hasStart = true
	return b
}

// Reset clears the start time.
func (b *StopTrajectoryBuilder) Reset() {
	b.startTime = 0
	b.hasStart = false
}

// Build creates a fresh stop trajectory from state. The builder is reset afterwards.
//
// For each joint a segment from (p, v) to (p, -v) over twice the stop duration
// is sampled at its midpoint, where its velocity is zero. The returned segment
// then goes from the current (p, v, a) to that rest position in one stop duration.
func (b *StopTrajectoryBuilder) Build(state State) (*Trajectory, error) {
	defer b.Reset()
	if !b.hasStart {
		return nil, errStopStartTimeNotSet
	}

	start := b.startTime
	end := start + b.duration
	end2x := start + 2*b.duration

	joints := make([]JointTrajectory, state.NumJoints())
	for i := range joints {
		current := state.Joint(i)
		from := PointState{Position: current.Position, Velocity: current.Velocity}
		mirrored := PointState{Position: current.Position, Velocity: -current.Velocity}

		rest := NewSegment(start, from, end2x, mirrored, 0).Sample(end)
		rest.Velocity = 0
		rest.Acceleration = 0

		joints[i] = JointTrajectory{NewSegment(start, current, end, rest, 0)}
	}
	return NewTrajectory(joints), nil
}
