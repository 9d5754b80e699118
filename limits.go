package so_arm_hold

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// ErrMissingAccelerationLimit is returned when a joint lacks the acceleration limit entries.
var ErrMissingAccelerationLimit = errors.New("missing joint acceleration limit")

// AccelerationLimit is the optional acceleration limit of one joint in rad/s^2.
type AccelerationLimit struct {
	Max     float64
	Limited bool
}

// JointLimits holds the acceleration limit of each joint in joint order.
type JointLimits []AccelerationLimit

// JointLimitConfig mirrors one entry of a ROS style joint_limits file.
type JointLimitConfig struct {
	HasAccelerationLimits *bool    `json:"has_acceleration_limits" yaml:"has_acceleration_limits"`
	MaxAcceleration       *float64 `json:"max_acceleration" yaml:"max_acceleration"`
}

type jointLimitsFile struct {
	JointLimits map[string]JointLimitConfig `yaml:"joint_limits"`
}

// LoadJointLimitsFile reads acceleration limits for joints from a YAML file.
func LoadJointLimitsFile(path string, joints []string) (JointLimits, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read joint limits file %s", path)
	}
	limits, err := ParseJointLimits(data, joints)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid joint limits file %s", path)
	}
	return limits, nil
}

// ParseJointLimits decodes a joint_limits YAML document.
func ParseJointLimits(data []byte, joints []string) (JointLimits, error) {
	var file jointLimitsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, errors.Wrap(err, "failed to parse joint limits")
	}
	return JointLimitsFromConfig(file.JointLimits, joints)
}

// JointLimitsFromConfig resolves the limits of joints, in order. Every joint
// must state has_acceleration_limits, and limited joints need max_acceleration.
func JointLimitsFromConfig(entries map[string]JointLimitConfig, joints []string) (JointLimits, error) {
	limits := make(JointLimits, len(joints))
	for i, name := range joints {
		entry, ok := entries[name]
		if !ok || entry.HasAccelerationLimits == nil {
			return nil, errors.Wrapf(ErrMissingAccelerationLimit,
				"failed to get has_acceleration_limits for joint %s", name)
		}
		if !*entry.HasAccelerationLimits {
			continue
		}
		if entry.MaxAcceleration == nil {
			return nil, errors.Wrapf(ErrMissingAccelerationLimit,
				"failed to get max_acceleration for joint %s", name)
		}
		if *entry.MaxAcceleration < 0 {
			return nil, errors.Errorf("max_acceleration for joint %s must not be negative, got %v", name, *entry.MaxAcceleration)
		}
		limits[i] = AccelerationLimit{Max: *entry.MaxAcceleration, Limited: true}
	}
	return limits, nil
}
