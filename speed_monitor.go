package so_arm_hold

import (
	"math"
	"sync/atomic"
	"time"

	"go.viam.com/rdk/logging"
)

const (
	// ActiveSpeedLimit is the default cartesian speed limit of the tool frame in mm/s.
	ActiveSpeedLimit = 250.0
	// DisabledSpeedLimit switches the cartesian speed check off.
	DisabledSpeedLimit = -1.0
)

// CartesianSpeedLimit is the runtime-switchable cartesian speed threshold.
// Request handlers write it, the control loop reads it every tick.
type CartesianSpeedLimit struct {
	active float64
	bits   atomic.Uint64
}

// NewCartesianSpeedLimit returns a limit whose active threshold is active mm/s,
// initially enabled or disabled.
func NewCartesianSpeedLimit(active float64, enabled bool) *CartesianSpeedLimit {
	l := &CartesianSpeedLimit{active: active}
	if enabled {
		l.SetActive()
	} else {
		l.SetInactive()
	}
	return l
}

// SetActive applies the active threshold from the next evaluation on.
func (l *CartesianSpeedLimit) SetActive() {
	l.bits.Store(math.Float64bits(l.active))
}

// SetInactive disables the check from the next evaluation on.
func (l *CartesianSpeedLimit) SetInactive() {
	l.bits.Store(math.Float64bits(DisabledSpeedLimit))
}

// Load returns the current threshold in mm/s.
func (l *CartesianSpeedLimit) Load() float64 {
	return math.Float64frombits(l.bits.Load())
}

// Enabled is false while the threshold is DisabledSpeedLimit.
func (l *CartesianSpeedLimit) Enabled() bool {
	return l.Load() != DisabledSpeedLimit
}

// SpeedLimitMonitor checks the tool frame speed between two desired joint positions.
type SpeedLimitMonitor struct {
	kin     Kinematics
	logger  logging.Logger
	metrics *Metrics
}

// NewSpeedLimitMonitor returns a monitor using kin for forward kinematics. metrics may be nil.
func NewSpeedLimitMonitor(kin Kinematics, logger logging.Logger, metrics *Metrics) *SpeedLimitMonitor {
	return &SpeedLimitMonitor{kin: kin, logger: logger, metrics: metrics}
}

// Check reports whether the tool frame moves no faster than speedLimit (mm/s)
// going from oldPositions to newPositions within period. DisabledSpeedLimit
// passes without evaluating kinematics, and so does a non-positive period.
// A kinematics failure fails the check.
func (m *SpeedLimitMonitor) Check(oldPositions, newPositions []float64, period time.Duration, speedLimit float64) bool {
	if speedLimit == DisabledSpeedLimit || period <= 0 {
		return true
	}

	oldPose, err := m.kin.ToolPose(oldPositions)
	if err != nil {
		m.logger.Errorf("speed check failed to compute previous tool pose: %v", err)
		return false
	}
	newPose, err := m.kin.ToolPose(newPositions)
	if err != nil {
		m.logger.Errorf("speed check failed to compute new tool pose: %v", err)
		return false
	}

	distance := newPose.Point().Sub(oldPose.Point()).Norm()
	speed := distance / period.Seconds()
	if speed > speedLimit {
		m.logger.Errorf("cartesian speed limit violated: speed %.2f mm/s exceeds limit %.2f mm/s (moved %.3f mm in %v)",
			speed, speedLimit, distance, period)
		m.metrics.violation("cartesian_speed", "tool")
		return false
	}
	return true
}
