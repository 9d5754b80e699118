package so_arm_hold

import (
	"fmt"
	"time"
)

// parseTrajectoryCommand decodes the follow_trajectory DoCommand arguments:
//
//	{"points": [{"positions": [...], "velocities": [...], "accelerations": [...], "time_from_start_sec": 1.5}],
//	 "goal_time_tolerance_sec": 0.1}
func parseTrajectoryCommand(cmd map[string]interface{}) (TrajectoryCommand, error) {
	rawPoints, ok := cmd["points"].([]interface{})
	if !ok || len(rawPoints) == 0 {
		return TrajectoryCommand{}, fmt.Errorf("follow_trajectory command requires a non-empty 'points' list")
	}

	var out TrajectoryCommand
	if tol, ok := cmd["goal_time_tolerance_sec"].(float64); ok {
		if tol < 0 {
			return TrajectoryCommand{}, fmt.Errorf("goal_time_tolerance_sec must not be negative, got %v", tol)
		}
		out.GoalTimeTolerance = secondsToDuration(tol)
	}

	for i, raw := range rawPoints {
		m, ok := raw.(map[string]interface{})
		if !ok {
			return TrajectoryCommand{}, fmt.Errorf("point %d is not an object", i)
		}
		var pt TrajectoryPoint
		var err error
		if pt.Positions, err = floatList(m, "positions", true); err != nil {
			return TrajectoryCommand{}, fmt.Errorf("point %d: %w", i, err)
		}
		if pt.Velocities, err = floatList(m, "velocities", false); err != nil {
			return TrajectoryCommand{}, fmt.Errorf("point %d: %w", i, err)
		}
		if pt.Accelerations, err = floatList(m, "accelerations", false); err != nil {
			return TrajectoryCommand{}, fmt.Errorf("point %d: %w", i, err)
		}
		t, ok := m["time_from_start_sec"].(float64)
		if !ok {
			return TrajectoryCommand{}, fmt.Errorf("point %d: missing 'time_from_start_sec'", i)
		}
		pt.TimeFromStart = secondsToDuration(t)
		out.Points = append(out.Points, pt)
	}
	return out, nil
}

func floatList(m map[string]interface{}, key string, required bool) ([]float64, error) {
	raw, ok := m[key]
	if !ok || raw == nil {
		if required {
			return nil, fmt.Errorf("missing '%s'", key)
		}
		return nil, nil
	}
	switch v := raw.(type) {
	case []float64:
		return append([]float64(nil), v...), nil
	case []interface{}:
		out := make([]float64, len(v))
		for i, x := range v {
			f, ok := x.(float64)
			if !ok {
				return nil, fmt.Errorf("'%s'[%d] is not a number", key, i)
			}
			out[i] = f
		}
		return out, nil
	default:
		return nil, fmt.Errorf("'%s' must be a list of numbers", key)
	}
}

func secondsToDuration(sec float64) time.Duration {
	return time.Duration(sec * float64(time.Second))
}
