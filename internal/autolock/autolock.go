// Package autolock implements time-delayed engagement of the UI lock
// after the display powers off, plus the device-lock autolock
// sub-machine: a short post-wake window that pushes the foreground app
// behind the lockscreen if the device lock engages before the user does
// anything. A device-lock timer that couldn't fire during suspend should
// still take effect on wake.
package autolock

import (
	"github.com/hashicorp/go-hclog"

	"github.com/sailfish-mce/tklock-core/internal/clock"
	"github.com/sailfish-mce/tklock-core/internal/facts"
	"github.com/sailfish-mce/tklock-core/internal/pipes"
	"github.com/sailfish-mce/tklock-core/internal/settings"
)

// DevlockAutolockWindowMs is the fixed 60s window during which a
// device-lock engagement after a display on/off/on cycle triggers an
// immediate tklock request.
const DevlockAutolockWindowMs = 60000

// LipstickStartupBlockMs is how long the device-lock autolock trigger stays
// suppressed after lipstick (re)appears, so a compositor restart racing the
// device-lock service's own startup signal doesn't fire a spurious tklock
// request before the UI has settled.
const LipstickStartupBlockMs = 5000

type Machine struct {
	pipes *pipes.Pipes
	clock *clock.Service
	sett  *settings.Tracker
	log   hclog.Logger

	enabled bool
	timer   clock.TimerID
	armed   bool

	devlockArmed      bool
	devlockDeadline   int64
	devlockTimer      clock.TimerID
	lipstickStartupMs int64 // block window end; 0 = not blocking
}

func New(log hclog.Logger, p *pipes.Pipes, c *clock.Service, sett *settings.Tracker) *Machine {
	m := &Machine{pipes: p, clock: c, sett: sett, log: log.Named("autolock")}
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

	m.pipes.ExceptionState.AttachOutputTrigger(func(facts.ExceptionState) { m.rethink() })
	m.pipes.Submode.AttachOutputTrigger(func(facts.Submode) { m.rethink() })

	var lastDeviceLock = m.pipes.DeviceLockState.Read()
	m.pipes.DeviceLockState.AttachOutputTrigger(func(v facts.DeviceLockState) {
		prev := lastDeviceLock
		lastDeviceLock = v
		m.onDeviceLockChanged(prev, v)
	})
}

// onDisplayStateNext applies the enable/disable rule: any next state
// other than OFF disables; a transition into OFF enables with a fresh
// timer; stable OFF re-evaluates.
func (m *Machine) onDisplayStateNext(prev, cur facts.DisplayState) {
	if cur != facts.DisplayOff {
		m.disable()
		if prev.Off() && (cur == facts.DisplayDim || cur == facts.DisplayOn) {
			m.primeDevlockWindow()
		}
		return
	}
	if prev != facts.DisplayOff {
		m.enable() // fresh arm on the OFF transition
		return
	}
	m.rethink() // stable OFF: re-evaluate predicates
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

// rethink re-evaluates the autolock predicates: display currently OFF,
// tklock not set, autolock enabled, no active exception.
func (m *Machine) rethink() {
	if !m.predicatesSatisfied() {
		m.cancelTimer()
		return
	}
	if m.armed {
		return
	}
	if m.pipes.DeviceLockState.Read() == facts.DeviceLockLocked {
		m.fire()
		return
	}
	delay := settings.SanitizeAutolockDelay(m.sett.Int(settings.KeyAutolockDelayMs))
	m.timer = m.clock.ArmAfter(clock.Heartbeat, int64(delay), m.fire)
	m.armed = true
}

func (m *Machine) predicatesSatisfied() bool {
	return m.enabled &&
		m.pipes.DisplayState.Read() == facts.DisplayOff &&
		!m.pipes.Submode.Read().Has(facts.TklockSubmode) &&
		m.sett.Bool(settings.KeyAutolockEnabled) &&
		m.pipes.ExceptionState.Read() == facts.ExceptionNone
}

func (m *Machine) fire() {
	m.armed = false
	if !m.predicatesSatisfied() {
		// A timer racing a predicate change must re-check; autolock
		// never fires outside its predicates.
		return
	}
	m.log.Debug("autolock firing")
	m.pipes.TkLockRequest.Publish(facts.TkLockRequestLocked)
}

// --- device-lock autolock sub-machine -----------------------------------

// primeDevlockWindow arms the 60s device-lock autolock window on any
// powered-off -> DIM/ON transition.
func (m *Machine) primeDevlockWindow() {
	m.devlockArmed = true
	if m.devlockTimer != 0 {
		m.clock.Cancel(m.devlockTimer)
	}
	m.devlockTimer = m.clock.ArmAfter(clock.Heartbeat, DevlockAutolockWindowMs, m.disarmDevlockWindow)
	m.log.Debug("device-lock autolock window primed", "window_ms", DevlockAutolockWindowMs)
}

func (m *Machine) disarmDevlockWindow() {
	m.devlockArmed = false
}

// BlockDevlockWindow suppresses the device-lock autolock trigger during a
// lipstick-startup block window, e.g. while the compositor is known to be
// restarting and would otherwise race this machine's tklock request. Call
// with durationMs=0 to clear an existing block immediately.
func (m *Machine) BlockDevlockWindow(durationMs int64) {
	if durationMs <= 0 {
		m.lipstickStartupMs = 0
		return
	}
	m.lipstickStartupMs = m.clock.Now() + durationMs
}

func (m *Machine) blockedByLipstickStartup() bool {
	return m.lipstickStartupMs != 0 && m.clock.Now() < m.lipstickStartupMs
}

// onDeviceLockChanged implements: "While armed and not handling call/alarm
// and not in lipstick-startup block window, if device lock transitions to
// LOCKED, publish tklock-on."
func (m *Machine) onDeviceLockChanged(prev, cur facts.DeviceLockState) {
	if !m.devlockArmed || cur != facts.DeviceLockLocked {
		return
	}
	top := m.pipes.ExceptionState.Read().Topmost()
	if top == facts.ExceptionCall || top == facts.ExceptionAlarm {
		return
	}
	if m.blockedByLipstickStartup() {
		return
	}
	m.log.Debug("device-lock autolock firing inside post-wake window")
	m.pipes.TkLockRequest.Publish(facts.TkLockRequestLocked)
}
