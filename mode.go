package so_arm_hold

import (
	"sync"
)

// Mode is the trajectory processing mode of the hold supervisor.
type Mode int

const (
	// ModeUnhold is the default mode: trajectory commands are accepted and monitored.
	ModeUnhold Mode = iota
	// ModeStopping means a stop trajectory is being executed.
	ModeStopping
	// ModeHold means the robot is at rest and new commands are rejected.
	ModeHold
)

func (m Mode) String() string {
	switch m {
	case ModeUnhold:
		return "unhold"
	case ModeStopping:
		return "stopping"
	case ModeHold:
		return "hold"
	default:
		return "unknown"
	}
}

// EventStopFinished is triggered on registered listeners once the stop motion has finished.
const EventStopFinished = "stop_finished"

// EventListener receives named events from the hold mode state machine.
type EventListener interface {
	Trigger(event string)
}

type modeEvent int

const (
	eventStop modeEvent = iota
	eventStopMotionFinished
	eventStart
)

// nextMode is the transition table. Pairs not listed are rejected.
func nextMode(current Mode, ev modeEvent) (Mode, bool) {
	switch {
	case current == ModeUnhold && ev == eventStop:
		return ModeStopping, true
	case current == ModeStopping && ev == eventStopMotionFinished:
		return ModeHold, true
	case current == ModeHold && ev == eventStart:
		return ModeUnhold, true
	default:
		return current, false
	}
}

// HoldMode is the Unhold -> Stopping -> Hold -> Unhold state machine.
// All transitions are serialized by one mutex; a rejected transition leaves the mode unchanged.
type HoldMode struct {
	mu            sync.Mutex
	mode          Mode
	stopRequested bool
	listeners     []EventListener

	onTransition func(from, to Mode)
}

// NewHoldMode returns a state machine in ModeUnhold. onTransition, if not nil,
// is called after every accepted transition outside the lock.
func NewHoldMode(onTransition func(from, to Mode)) *HoldMode {
	return &HoldMode{mode: ModeUnhold, onTransition: onTransition}
}

// Current returns the active mode.
func (h *HoldMode) Current() Mode {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.mode
}

// IsHolding is true while stopping or holding.
func (h *HoldMode) IsHolding() bool {
	m := h.Current()
	return m == ModeStopping || m == ModeHold
}

// StopEvent moves from Unhold to Stopping. It is used by the control loop,
// which installs the stop trajectory itself.
func (h *HoldMode) StopEvent() bool {
	h.mu.Lock()
	from := h.mode
	to, ok := nextMode(from, eventStop)
	h.mode = to
	h.mu.Unlock()

	h.notifyTransition(from, to, ok)
	return ok
}

// StopEventWithListener moves from Unhold to Stopping on behalf of an external
// requester. The listener is registered before the transition is published,
// so it cannot miss the EventStopFinished that ends the stop. If the machine
// is already holding, the listener is triggered immediately.
//
// An accepted request also leaves a pending stop request for the control loop,
// collected with TakeStopRequest.
func (h *HoldMode) StopEventWithListener(listener EventListener) bool {
	h.mu.Lock()
	from := h.mode
	alreadyHeld := from == ModeHold
	if listener != nil && !alreadyHeld {
		h.listeners = append(h.listeners, listener)
	}
	to, ok := nextMode(from, eventStop)
	h.mode = to
	if ok {
		h.stopRequested = true
	}
	h.mu.Unlock()

	if listener != nil && alreadyHeld {
		listener.Trigger(EventStopFinished)
	}
	h.notifyTransition(from, to, ok)
	return ok
}

// TakeStopRequest reports whether an external stop is waiting for its stop
// trajectory and clears the request.
func (h *HoldMode) TakeStopRequest() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	requested := h.stopRequested
	h.stopRequested = false
	return requested
}

// StopMotionFinishedEvent moves from Stopping to Hold and triggers every
// registered listener. Only the control loop calls it.
func (h *HoldMode) StopMotionFinishedEvent() bool {
	h.mu.Lock()
	from := h.mode
	to, ok := nextMode(from, eventStopMotionFinished)
	h.mode = to
	var listeners []EventListener
	if ok {
		listeners = h.listeners
		h.listeners = nil
		h.stopRequested = false
	}
	h.mu.Unlock()

	for _, l := range listeners {
		l.Trigger(EventStopFinished)
	}
	h.notifyTransition(from, to, ok)
	return ok
}

// StartEvent moves from Hold back to Unhold.
func (h *HoldMode) StartEvent() bool {
	h.mu.Lock()
	from := h.mode
	to, ok := nextMode(from, eventStart)
	h.mode = to
	h.mu.Unlock()

	h.notifyTransition(from, to, ok)
	return ok
}

func (h *HoldMode) notifyTransition(from, to Mode, ok bool) {
	if ok && h.onTransition != nil {
		h.onTransition(from, to)
	}
}
