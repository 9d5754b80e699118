package so_arm_hold

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// GoalStatus is the lifecycle state of a trajectory goal.
type GoalStatus int

const (
	GoalActive GoalStatus = iota
	GoalSucceeded
	GoalCanceled
)

func (s GoalStatus) String() string {
	switch s {
	case GoalActive:
		return "active"
	case GoalSucceeded:
		return "succeeded"
	case GoalCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Goal tracks one accepted trajectory command until it succeeds or is canceled.
type Goal struct {
	id       uuid.UUID
	traj     *Trajectory
	accepted time.Time

	mu     sync.Mutex
	status GoalStatus
	reason string
	done   chan struct{}
}

func newGoal(traj *Trajectory) *Goal {
	return &Goal{
		id:       uuid.New(),
		traj:     traj,
		accepted: time.Now(),
		status:   GoalActive,
		done:     make(chan struct{}),
	}
}

// ID returns the goal identifier.
func (g *Goal) ID() uuid.UUID { return g.id }

// Trajectory returns the trajectory the goal was accepted with.
func (g *Goal) Trajectory() *Trajectory { return g.traj }

// Status returns the current status and, for canceled goals, the reason.
func (g *Goal) Status() (GoalStatus, string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.status, g.reason
}

// Done is closed once the goal reaches a terminal status.
func (g *Goal) Done() <-chan struct{} { return g.done }

func (g *Goal) setSucceeded() error {
	return g.finish(GoalSucceeded, "")
}

func (g *Goal) setCanceled(reason string) error {
	return g.finish(GoalCanceled, reason)
}

func (g *Goal) finish(status GoalStatus, reason string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.status != GoalActive {
		return fmt.Errorf("goal %s already %s", g.id, g.status)
	}
	g.status = status
	g.reason = reason
	close(g.done)
	return nil
}
