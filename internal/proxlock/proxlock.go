// Package proxlock implements a time-delayed lock engagement triggered by
// a covered proximity sensor while the display is off, using a fixed 3 s
// wall-clock delay instead of autolock's suspend-aware heartbeat timer;
// the deadline is re-examined explicitly on resume from suspend.
package proxlock

import (
	"github.com/hashicorp/go-hclog"

	"github.com/sailfish-mce/tklock-core/internal/clock"
	"github.com/sailfish-mce/tklock-core/internal/facts"
	"github.com/sailfish-mce/tklock-core/internal/pipes"
)

// DelayMs is the fixed proximity-lock delay.
const DelayMs = 3000

type Machine struct {
	pipes *pipes.Pipes
	clock *clock.Service
	log   hclog.Logger

	enabled bool
	timer   clock.TimerID
	armed   bool
}

func New(log hclog.Logger, p *pipes.Pipes, c *clock.Service) *Machine {
	m := &Machine{pipes: p, clock: c, log: log.Named("proxlock")}
	m.subscribe()
	return m
}

func (m *Machine) subscribe() {
	var lastNext = m.pipes.DisplayStateNext.Read()
	m.pipes.DisplayStateNext.AttachOutputTrigger(func(v facts.DisplayState) {
		prev := lastNext
		lastNext = v
		m.onDisplayStateNext(prev, v)
	})

	m.pipes.ProximitySensor.AttachOutputTrigger(func(facts.CoverState) { m.rethink() })
	m.pipes.ExceptionState.AttachOutputTrigger(func(facts.ExceptionState) { m.rethink() })
	m.pipes.Submode.AttachOutputTrigger(func(facts.Submode) { m.rethink() })

	// Wall-clock timer: on device resume, recompute rather than relying
	// on suspend-aware firing.
	m.pipes.DeviceResumed.AttachOutputTrigger(func(struct{}) { m.onResume() })
}

func (m *Machine) onDisplayStateNext(prev, cur facts.DisplayState) {
	if cur != facts.DisplayOff {
		m.disable()
		return
	}
	if prev != facts.DisplayOff {
		m.enable()
		return
	}
	m.rethink()
}

func (m *Machine) enable() {
	m.enabled = true
	m.rethink()
}

func (m *Machine) disable() {
	m.enabled = false
	m.cancelTimer()
}

func (m *Machine) cancelTimer() {
	if m.armed {
		m.clock.Cancel(m.timer)
		m.armed = false
	}
}

// rethink re-evaluates the predicate set: same shape as autolock, with
// the proximity-covered condition added. The lock never fires while
// proximity reads open.
func (m *Machine) rethink() {
	if !m.predicatesSatisfied() {
		m.cancelTimer()
		return
	}
	if m.armed {
		return
	}
	m.timer = m.clock.ArmAfter(clock.WallClock, DelayMs, m.fire)
	m.armed = true
}

func (m *Machine) predicatesSatisfied() bool {
	return m.enabled &&
		m.pipes.DisplayState.Read() == facts.DisplayOff &&
		m.pipes.ProximitySensor.Read() == facts.CoverClosed &&
		!m.pipes.Submode.Read().Has(facts.TklockSubmode) &&
		m.pipes.ExceptionState.Read() == facts.ExceptionNone
}

func (m *Machine) fire() {
	m.armed = false
	if !m.predicatesSatisfied() {
		return
	}
	m.log.Debug("proximity-lock firing")
	m.pipes.TkLockRequest.Publish(facts.TkLockRequestLocked)
}

// onResume recomputes the wall-clock deadline after suspend: if it
// already elapsed, fire immediately; otherwise leave the timer armed with
// its remaining time.
func (m *Machine) onResume() {
	if !m.armed {
		return
	}
	m.clock.RecomputeOnResume(m.timer)
}
