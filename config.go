package so_arm_hold

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
)

const (
	defaultControlRateHz        = 100.0
	defaultStopDurationSec      = 0.2
	defaultGoalTimeToleranceSec = 0.1
)

// Config is the configuration of the hold controller.
type Config struct {
	// Hardware arm to command. A simulated arm is used when empty.
	Arm    string   `json:"arm,omitempty"`
	Joints []string `json:"joints,omitempty"`

	// Acceleration limits, from a joint_limits YAML file or inline. The file wins when both are set.
	JointLimitsFile string                      `json:"joint_limits_file,omitempty"`
	JointLimits     map[string]JointLimitConfig `json:"joint_limits,omitempty"`

	ControlRateHz             float64 `json:"control_rate_hz,omitempty"`
	StopTrajectoryDurationSec float64 `json:"stop_trajectory_duration_sec,omitempty"`
	GoalTimeToleranceSec      float64 `json:"goal_time_tolerance_sec,omitempty"`

	CartesianSpeedLimitMmPerSec float64 `json:"cartesian_speed_limit_mm_per_sec,omitempty"`
	MonitorCartesianSpeed       *bool   `json:"monitor_cartesian_speed,omitempty"`

	// Optional listen address of a Prometheus endpoint, e.g. "localhost:9464".
	MetricsAddress string `json:"metrics_address,omitempty"`
}

// Validate fills defaults and returns the hardware arm as a required dependency.
func (cfg *Config) Validate(path string) ([]string, []string, error) {
	if len(cfg.Joints) == 0 {
		cfg.Joints = append([]string(nil), SO101Joints...)
	}
	if len(cfg.Joints) != len(SO101Joints) {
		return nil, nil, fmt.Errorf("%s: expected %d joints for the SO-101, got %d", path, len(SO101Joints), len(cfg.Joints))
	}
	if cfg.JointLimitsFile == "" && len(cfg.JointLimits) == 0 {
		return nil, nil, fmt.Errorf("%s: must specify joint_limits_file or joint_limits", path)
	}

	if cfg.ControlRateHz == 0 {
		cfg.ControlRateHz = defaultControlRateHz
	}
	if cfg.StopTrajectoryDurationSec == 0 {
		cfg.StopTrajectoryDurationSec = defaultStopDurationSec
	}
	if cfg.GoalTimeToleranceSec == 0 {
		cfg.GoalTimeToleranceSec = defaultGoalTimeToleranceSec
	}
	if cfg.CartesianSpeedLimitMmPerSec == 0 {
		cfg.CartesianSpeedLimitMmPerSec = ActiveSpeedLimit
	}
	if cfg.MonitorCartesianSpeed == nil {
		enabled := true
		cfg.MonitorCartesianSpeed = &enabled
	}

	if cfg.ControlRateHz < 0 {
		return nil, nil, fmt.Errorf("control_rate_hz must be positive, got %v", cfg.ControlRateHz)
	}
	if cfg.StopTrajectoryDurationSec < 0 {
		return nil, nil, fmt.Errorf("stop_trajectory_duration_sec must be positive, got %v", cfg.StopTrajectoryDurationSec)
	}
	if cfg.GoalTimeToleranceSec < 0 {
		return nil, nil, fmt.Errorf("goal_time_tolerance_sec must not be negative, got %v", cfg.GoalTimeToleranceSec)
	}
	if cfg.CartesianSpeedLimitMmPerSec < 0 {
		return nil, nil, fmt.Errorf("cartesian_speed_limit_mm_per_sec must be positive, got %v", cfg.CartesianSpeedLimitMmPerSec)
	}

	var deps []string
	if cfg.Arm != "" {
		deps = append(deps, cfg.Arm)
	}
	return deps, nil, nil
}

// ControlPeriod returns the nominal control tick period.
func (cfg *Config) ControlPeriod() time.Duration {
	return time.Duration(float64(time.Second) / cfg.ControlRateHz)
}

// StopDuration returns the stop trajectory duration.
func (cfg *Config) StopDuration() time.Duration {
	return time.Duration(cfg.StopTrajectoryDurationSec * float64(time.Second))
}

// GoalTimeTolerance returns the default goal-time tolerance of trajectory commands.
func (cfg *Config) GoalTimeTolerance() time.Duration {
	return time.Duration(cfg.GoalTimeToleranceSec * float64(time.Second))
}

// CartesianMonitoringEnabled returns the initial cartesian monitoring state.
func (cfg *Config) CartesianMonitoringEnabled() bool {
	return cfg.MonitorCartesianSpeed == nil || *cfg.MonitorCartesianSpeed
}

// JointLimitsPath resolves joint_limits_file. Relative paths are taken from VIAM_MODULE_DATA.
func (cfg *Config) JointLimitsPath() string {
	if cfg.JointLimitsFile == "" || filepath.IsAbs(cfg.JointLimitsFile) {
		return cfg.JointLimitsFile
	}
	moduleDataDir := os.Getenv("VIAM_MODULE_DATA")
	if moduleDataDir == "" {
		moduleDataDir = "/tmp"
	}
	return filepath.Join(moduleDataDir, cfg.JointLimitsFile)
}

// LoadJointLimits returns the acceleration limits of the configured joints.
// A joint without limit configuration is an error.
func (cfg *Config) LoadJointLimits() (JointLimits, error) {
	if path := cfg.JointLimitsPath(); path != "" {
		return LoadJointLimitsFile(path, cfg.Joints)
	}
	limits, err := JointLimitsFromConfig(cfg.JointLimits, cfg.Joints)
	if err != nil {
		return nil, errors.Wrap(err, "invalid joint_limits")
	}
	return limits, nil
}
