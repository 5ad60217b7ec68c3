package kernel

import (
	"errors"
	"fmt"
	"sync"
)

var ErrLifecycleViolation = errors.New("lifecycle violation")

type State int

const (
	Idle State = iota
	Starting
	Ready
	Running
	Interrupted
	Terminated
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Starting:
		return "starting"
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Interrupted:
		return "interrupted"
	case Terminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// AcceptsInteraction reports whether UI-initiated work may be sent.
func (s State) AcceptsInteraction() bool {
	return s == Ready || s == Running
}

var allowed = map[State][]State{
	Idle:        {Starting, Ready, Running},
	Starting:    {Ready, Running, Interrupted},
	Ready:       {Running, Interrupted},
	Running:     {Ready, Interrupted},
	Interrupted: {Ready},
}

// CanTransition reports whether from -> to is a legal move. Any state may
// move to Terminated, and a self-transition is always legal except out of
// Terminated, which is absorbing.
func CanTransition(from, to State) bool {
	if from == Terminated {
		return to == Terminated
	}
	if to == Terminated || from == to {
		return true
	}
	for _, next := range allowed[from] {
		if next == to {
			return true
		}
	}
	return false
}

type Listener func(from, to State)

// Controller tracks the kernel lifecycle. It is safe for concurrent use.
type Controller struct {
	mu        sync.Mutex
	state     State
	listeners []Listener
}

func NewController() *Controller {
	return &Controller{state: Idle}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Transition moves to the given state. An illegal move leaves the state
// unchanged and returns an error wrapping ErrLifecycleViolation. Listeners
// run only for real changes, after the lock is released.
func (c *Controller) Transition(to State) error {
	c.mu.Lock()
	from := c.state
	if !CanTransition(from, to) {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrLifecycleViolation, from, to)
	}
	if from == to {
		c.mu.Unlock()
		return nil
	}
	c.state = to
	listeners := append([]Listener(nil), c.listeners...)
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(from, to)
	}
	return nil
}

func (c *Controller) OnChange(fn Listener) {
	if fn == nil {
		return
	}
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}
