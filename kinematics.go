package so_arm_hold

import (
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
	"go.viam.com/rdk/referenceframe"
	"go.viam.com/rdk/spatialmath"
)

//go:embed so101.json
var so101ModelJSON []byte

// SO101Joints are the arm joints of the SO-101 in kinematic order.
var SO101Joints = []string{"shoulder_pan", "shoulder_lift", "elbow_flex", "wrist_flex", "wrist_roll"}

// Kinematics maps joint positions (radians) to the tool frame pose (mm).
type Kinematics interface {
	ToolPose(positions []float64) (spatialmath.Pose, error)
}

type modelKinematics struct {
	model referenceframe.Model
}

// NewModelKinematics computes tool poses with a referenceframe model.
func NewModelKinematics(model referenceframe.Model) Kinematics {
	return &modelKinematics{model: model}
}

func (k *modelKinematics) ToolPose(positions []float64) (spatialmath.Pose, error) {
	dof := len(k.model.DoF())
	if len(positions) != dof {
		return nil, fmt.Errorf("model %s has %d degrees of freedom, got %d positions", k.model.Name(), dof, len(positions))
	}
	return referenceframe.ComputeOOBPosition(k.model, positions)
}

// LoadSO101Model parses the embedded SO-101 kinematic model.
func LoadSO101Model() (referenceframe.Model, error) {
	m := &referenceframe.ModelConfigJSON{
		OriginalFile: &referenceframe.ModelFile{
			Bytes:     so101ModelJSON,
			Extension: "json",
		},
	}
	if err := json.Unmarshal(so101ModelJSON, m); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal json file")
	}
	return m.ParseConfig("so101")
}

// NewSO101Kinematics returns kinematics backed by the embedded SO-101 model.
func NewSO101Kinematics() (Kinematics, error) {
	model, err := LoadSO101Model()
	if err != nil {
		return nil, err
	}
	return NewModelKinematics(model), nil
}
