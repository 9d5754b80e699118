package so_arm_hold

import (
	"context"
	"fmt"
	"sync"

	"go.viam.com/rdk/components/arm"
)

// JointHardware is the arm the controller reads start positions from and commands every tick.
type JointHardware interface {
	JointPositions(ctx context.Context) ([]float64, error)
	SetJointPositions(ctx context.Context, positions []float64) error
	Stop(ctx context.Context) error
}

type armHardware struct {
	arm arm.Arm
}

// NewArmHardware commands a Viam arm component.
func NewArmHardware(a arm.Arm) JointHardware {
	return &armHardware{arm: a}
}

func (h *armHardware) JointPositions(ctx context.Context) ([]float64, error) {
	return h.arm.JointPositions(ctx, nil)
}

func (h *armHardware) SetJointPositions(ctx context.Context, positions []float64) error {
	return h.arm.MoveToJointPositions(ctx, positions, nil)
}

func (h *armHardware) Stop(ctx context.Context) error {
	return h.arm.Stop(ctx, nil)
}

// SimulatedHardware is an arm that reaches every commanded position instantly.
type SimulatedHardware struct {
	mu        sync.Mutex
	positions []float64
	commands  int
}

// NewSimulatedHardware returns a simulated arm at positions.
func NewSimulatedHardware(positions []float64) *SimulatedHardware {
	return &SimulatedHardware{positions: append([]float64(nil), positions...)}
}

func (h *SimulatedHardware) JointPositions(ctx context.Context) ([]float64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]float64(nil), h.positions...), nil
}

func (h *SimulatedHardware) SetJointPositions(ctx context.Context, positions []float64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(positions) != len(h.positions) {
		return fmt.Errorf("expected %d joint positions, got %d", len(h.positions), len(positions))
	}
	copy(h.positions, positions)
	h.commands++
	return nil
}

func (h *SimulatedHardware) Stop(ctx context.Context) error {
	return nil
}

// Commands returns how many position commands the simulated arm received.
func (h *SimulatedHardware) Commands() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.commands
}
