package tracker

import (
	"fmt"
	"time"

	"taskflow/internal/engine/auth"
)

// DefaultIdleTimeout applies when no timeout is configured.
const DefaultIdleTimeout = 5 * time.Minute

// pointerThrottle bounds how often pointer moves reset the idle timer.
const pointerThrottle = time.Second

type IdleState int

const (
	StateActive IdleState = iota
	StateIdle
)

func (s IdleState) String() string {
	if s == StateIdle {
		return "idle"
	}
	return "active"
}

// InputKind is a qualifying user input.
type InputKind string

const (
	InputPointerMove InputKind = "pointermove"
	InputPointerDown InputKind = "pointerdown"
	InputKey         InputKind = "key"
	InputScroll      InputKind = "scroll"
	InputTouch       InputKind = "touch"
	InputClick       InputKind = "click"
)

// IdleObserver is told about state transitions.
type IdleObserver interface {
	OnIdle(at time.Time)
	OnActive(at time.Time, idleFor time.Duration)
}

// IdleDetector is a two-state machine fed with input events and clock ticks.
// Like the Emitter it is driven from one goroutine.
type IdleDetector struct {
	policy      auth.Policy
	timeout     time.Duration
	state       IdleState
	lastInput   time.Time
	lastPointer time.Time
	observers   []IdleObserver
}

// NewIdleDetector starts in the active state as of now. A zero timeout
// disables idle detection.
func NewIdleDetector(timeout time.Duration, policy auth.Policy, now time.Time) *IdleDetector {
	if timeout < 0 {
		timeout = DefaultIdleTimeout
	}
	return &IdleDetector{policy: policy, timeout: timeout, lastInput: now}
}

func (d *IdleDetector) Observe(o IdleObserver) {
	d.observers = append(d.observers, o)
}

func (d *IdleDetector) State() IdleState { return d.state }

func (d *IdleDetector) Timeout() time.Duration { return d.timeout }

func (d *IdleDetector) LastInput() time.Time { return d.lastInput }

// SetTimeout changes the idle timeout. Only actors holding
// tracking.configure may do so.
func (d *IdleDetector) SetTimeout(actor auth.Actor, timeout time.Duration) error {
	if err := d.policy.Require(actor, auth.PermTrackingConfigure); err != nil {
		return err
	}
	if timeout < 0 {
		return fmt.Errorf("idle timeout must be >= 0, got %s", timeout)
	}
	d.timeout = timeout
	return nil
}

// Input records a qualifying input event. Pointer moves reset the timer at
// most once per second while active.
func (d *IdleDetector) Input(kind InputKind, at time.Time) {
	if kind == InputPointerMove && d.state == StateActive {
		if at.Sub(d.lastPointer) < pointerThrottle {
			return
		}
		d.lastPointer = at
	}
	if at.Before(d.lastInput) {
		return
	}
	if d.state == StateIdle {
		idleFor := at.Sub(d.lastInput)
		d.state = StateActive
		d.lastInput = at
		for _, o := range d.observers {
			o.OnActive(at, idleFor)
		}
		return
	}
	d.lastInput = at
}

// Tick moves to idle once the timeout has elapsed without input.
func (d *IdleDetector) Tick(now time.Time) {
	if d.state == StateIdle || d.timeout == 0 {
		return
	}
	if now.Sub(d.lastInput) < d.timeout {
		return
	}
	d.state = StateIdle
	for _, o := range d.observers {
		o.OnIdle(now)
	}
}

// IdleDuration is zero while active and the time since the last input while
// idle.
func (d *IdleDetector) IdleDuration(now time.Time) time.Duration {
	if d.state != StateIdle {
		return 0
	}
	if idle := now.Sub(d.lastInput); idle > 0 {
		return idle
	}
	return 0
}

// ObserveSystemIdle adapts an OS idle counter: input is inferred to have
// happened idleFor before now, then the clock advances to now.
func (d *IdleDetector) ObserveSystemIdle(idleFor time.Duration, now time.Time) {
	if idleFor < 0 {
		idleFor = 0
	}
	last := now.Add(-idleFor)
	if last.After(d.lastInput) {
		d.Input(InputKey, last)
	}
	d.Tick(now)
}
