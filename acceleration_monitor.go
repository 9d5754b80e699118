package so_arm_hold

import (
	"fmt"
	"time"

	"go.viam.com/rdk/logging"
	"gonum.org/v1/gonum/floats"
)

// AccelerationLimitMonitor checks the joint accelerations implied by two
// consecutive desired velocities against per-joint limits.
type AccelerationLimitMonitor struct {
	joints  []string
	limits  JointLimits
	logger  logging.Logger
	metrics *Metrics

	// scratch holds the per-joint accelerations; only the control loop calls Check.
	scratch []float64
}

// NewAccelerationLimitMonitor returns a monitor for joints with the given limits.
// metrics may be nil.
func NewAccelerationLimitMonitor(joints []string, limits JointLimits, logger logging.Logger, metrics *Metrics) *AccelerationLimitMonitor {
	return &AccelerationLimitMonitor{
		joints:  joints,
		limits:  limits,
		logger:  logger,
		metrics: metrics,
		scratch: make([]float64, len(limits)),
	}
}

// Check reports whether every limited joint accelerates no faster than its
// limit when going from oldVelocity to newVelocity within period. The first
// violating joint is logged and ends the check.
//
// A non-positive period carries no acceleration information and passes.
// Velocity vectors that do not match the configured joints fail the check.
func (m *AccelerationLimitMonitor) Check(oldVelocity, newVelocity []float64, period time.Duration) bool {
	if period <= 0 {
		return true
	}
	if len(oldVelocity) != len(m.limits) || len(newVelocity) != len(m.limits) {
		m.logger.Errorf("acceleration check got %d/%d velocities for %d joints",
			len(oldVelocity), len(newVelocity), len(m.limits))
		return false
	}

	floats.SubTo(m.scratch, newVelocity, oldVelocity)
	floats.Scale(1/period.Seconds(), m.scratch)

	for i, limit := range m.limits {
		if !limit.Limited {
			continue
		}
		if a := m.scratch[i]; a > limit.Max {
			m.logger.Errorf("acceleration limit violated by joint %s: acceleration %.4f rad/s^2 exceeds limit %.4f rad/s^2 (velocity %.4f -> %.4f rad/s)",
				m.jointName(i), a, limit.Max, oldVelocity[i], newVelocity[i])
			m.metrics.violation("acceleration", m.jointName(i))
			return false
		}
	}
	return true
}

func (m *AccelerationLimitMonitor) jointName(i int) string {
	if i < len(m.joints) {
		return m.joints[i]
	}
	return fmt.Sprintf("joint_%d", i)
}
