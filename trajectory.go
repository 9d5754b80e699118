package so_arm_hold

import (
	"math"
)

// PointState is the position, velocity and acceleration of a single joint.
type PointState struct {
	Position     float64
	Velocity     float64
	Acceleration float64
}

// State holds per-joint positions, velocities and accelerations for one control tick.
type State struct {
	Position     []float64
	Velocity     []float64
	Acceleration []float64
}

// NewState returns a zeroed state for numJoints joints.
func NewState(numJoints int) State {
	return State{
		Position:     make([]float64, numJoints),
		Velocity:     make([]float64, numJoints),
		Acceleration: make([]float64, numJoints),
	}
}

// NumJoints returns the number of joints in the state.
func (s State) NumJoints() int {
	return len(s.Position)
}

// Joint returns the state of joint i.
func (s State) Joint(i int) PointState {
	return PointState{Position: s.Position[i], Velocity: s.Velocity[i], Acceleration: s.Acceleration[i]}
}

// SetJoint overwrites the state of joint i.
func (s State) SetJoint(i int, p PointState) {
	s.Position[i] = p.Position
	s.Velocity[i] = p.Velocity
	s.Acceleration[i] = p.Acceleration
}

// CopyFrom copies other into s without allocating. Both states must have the same size.
func (s State) CopyFrom(other State) {
	copy(s.Position, other.Position)
	copy(s.Velocity, other.Velocity)
	copy(s.Acceleration, other.Acceleration)
}

// Clone returns a deep copy of the state.
func (s State) Clone() State {
	c := NewState(s.NumJoints())
	c.CopyFrom(s)
	return c
}

// Segment is a quintic spline for one joint between two boundary states.
// Times are controller uptime in seconds.
type Segment struct {
	startTime         float64
	duration          float64
	coefs             [6]float64
	goalTimeTolerance float64
}

// NewSegment creates a segment going from start at startTime to end at endTime.
// A zero-length segment holds the end position.
func NewSegment(startTime float64, start PointState, endTime float64, end PointState, goalTimeTolerance float64) Segment {
	seg := Segment{
		startTime:         startTime,
		duration:          endTime - startTime,
		goalTimeTolerance: goalTimeTolerance,
	}
	if seg.duration <= 0 {
		seg.duration = 0
		seg.coefs[0] = end.Position
		return seg
	}

	T := seg.duration
	T2 := T * T
	T3 := T2 * T
	T4 := T3 * T
	T5 := T4 * T

	p0, v0, a0 := start.Position, start.Velocity, start.Acceleration
	p1, v1, a1 := end.Position, end.Velocity, end.Acceleration

	seg.coefs[0] = p0
	seg.coefs[1] = v0
	seg.coefs[2] = 0.5 * a0
	seg.coefs[3] = (20*p1 - 20*p0 - (8*v1+12*v0)*T - (3*a0-a1)*T2) / (2 * T3)
	seg.coefs[4] = (30*p0 - 30*p1 + (14*v1+16*v0)*T + (3*a0-2*a1)*T2) / (2 * T4)
	seg.coefs[5] = (12*p1 - 12*p0 - (6*v1+6*v0)*T - (a0-a1)*T2) / (2 * T5)
	return seg
}

// StartTime returns the uptime at which the segment starts.
func (s Segment) StartTime() float64 { return s.startTime }

// EndTime returns the uptime at which the segment ends.
func (s Segment) EndTime() float64 { return s.startTime + s.duration }

// GoalTimeTolerance returns how long after EndTime the segment still counts as executing.
func (s Segment) GoalTimeTolerance() float64 { return s.goalTimeTolerance }

// Sample evaluates the segment at uptime t. Outside the segment interval the
// boundary position is held with zero velocity and acceleration.
func (s Segment) Sample(t float64) PointState {
	tau := t - s.startTime
	if tau < 0 {
		return PointState{Position: s.coefs[0]}
	}
	if tau > s.duration {
		return PointState{Position: s.evalPosition(s.duration)}
	}
	c := s.coefs
	tau2 := tau * tau
	tau3 := tau2 * tau
	tau4 := tau3 * tau
	return PointState{
		Position:     s.evalPosition(tau),
		Velocity:     c[1] + 2*c[2]*tau + 3*c[3]*tau2 + 4*c[4]*tau3 + 5*c[5]*tau4,
		Acceleration: 2*c[2] + 6*c[3]*tau + 12*c[4]*tau2 + 20*c[5]*tau3,
	}
}

func (s Segment) evalPosition(tau float64) float64 {
	c := s.coefs
	return c[0] + tau*(c[1]+tau*(c[2]+tau*(c[3]+tau*(c[4]+tau*c[5]))))
}

// JointTrajectory is the time-ordered list of segments of a single joint.
type JointTrajectory []Segment

// findSegment returns the index of the last segment starting at or before t,
// or -1 if t lies before the first segment.
func (jt JointTrajectory) findSegment(t float64) int {
	idx := -1
	for i, seg := range jt {
		if seg.StartTime() > t {
			break
		}
		idx = i
	}
	return idx
}

// Sample evaluates the joint trajectory at uptime t.
func (jt JointTrajectory) Sample(t float64) PointState {
	if len(jt) == 0 {
		return PointState{}
	}
	idx := jt.findSegment(t)
	if idx < 0 {
		idx = 0
	}
	return jt[idx].Sample(t)
}

// Trajectory is an immutable set of per-joint trajectories. It is replaced
// wholesale, never edited, once handed to the trajectory engine.
type Trajectory struct {
	joints []JointTrajectory
}

// NewTrajectory wraps the given per-joint trajectories.
func NewTrajectory(joints []JointTrajectory) *Trajectory {
	return &Trajectory{joints: joints}
}

// NumJoints returns the number of joints.
func (t *Trajectory) NumJoints() int {
	return len(t.joints)
}

// Joint returns the trajectory of joint i.
func (t *Trajectory) Joint(i int) JointTrajectory {
	return t.joints[i]
}

// EndTime returns the latest segment end over all joints.
func (t *Trajectory) EndTime() float64 {
	end := math.Inf(-1)
	for _, jt := range t.joints {
		if len(jt) > 0 {
			end = math.Max(end, jt[len(jt)-1].EndTime())
		}
	}
	return end
}

// SampleInto writes the desired state at uptime into out.
func (t *Trajectory) SampleInto(uptime float64, out State) {
	for i, jt := range t.joints {
		if i >= out.NumJoints() {
			return
		}
		out.SetJoint(i, jt.Sample(uptime))
	}
}

// IsExecuted reports whether traj is in execution at uptime: for at least one
// joint, uptime falls inside the interval of the active segment extended by
// its goal-time tolerance.
func IsExecuted(traj *Trajectory, uptime float64) bool {
	if traj == nil {
		return false
	}
	for _, jt := range traj.joints {
		idx := jt.findSegment(uptime)
		if idx < 0 {
			continue
		}
		seg := jt[idx]
		if uptime <= seg.EndTime()+seg.GoalTimeTolerance() {
			return true
		}
	}
	return false
}

// newHoldTrajectory creates a trajectory that keeps every joint at positions from uptime on.
func newHoldTrajectory(uptime float64, positions []float64) *Trajectory {
	joints := make([]JointTrajectory, len(positions))
	for i, p := range positions {
		point := PointState{Position: p}
		joints[i] = JointTrajectory{NewSegment(uptime, point, uptime, point, 0)}
	}
	return NewTrajectory(joints)
}
