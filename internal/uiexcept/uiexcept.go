// Package uiexcept implements the UI-exception state machine: when a
// call, alarm, notification or power-up animation suppression arrives,
// normal display/lock policy is overridden by the topmost-priority
// exception, and on exit the prior display and lock state is restored
// unless a disqualifying event occurred in between. The restore
// disqualifiers are the subtlest part of the core, so each one is a named
// predicate with one call site and a log event, never an inline
// condition.
package uiexcept

import (
	"github.com/hashicorp/go-hclog"

	"github.com/sailfish-mce/tklock-core/internal/clock"
	"github.com/sailfish-mce/tklock-core/internal/facts"
	"github.com/sailfish-mce/tklock-core/internal/pipes"
	"github.com/sailfish-mce/tklock-core/internal/wakelock"
)

// Type is a single exception bit. Reuses facts.ExceptionState's bit values
// so Begin/End take the same constants the exception_state pipe carries.
type Type = facts.ExceptionState

const (
	Notif  = facts.ExceptionNotif
	Alarm  = facts.ExceptionAlarm
	Call   = facts.ExceptionCall
	Linger = facts.ExceptionLinger
	Noanim = facts.ExceptionNoanim
)

// ProximityGraceMs is how long a proximity-blanked call display stays
// blank after the sensor uncovers before it is lit again, so a brief
// reading glitch mid-call does not flash the screen against the ear.
const ProximityGraceMs = 500

// ProximityWakelockName keeps the device from suspending while the
// uncover grace deadline is pending.
const ProximityWakelockName = "mce_uiexcept_proximity"

// Machine is the singleton-owned UI-exception record.
type Machine struct {
	pipes *pipes.Pipes
	clock *clock.Service
	wake  *wakelock.Gateway
	log   hclog.Logger

	mask        facts.ExceptionState
	lastTopmost facts.ExceptionState

	savedDisplay    facts.DisplayState
	savedTklockSet  bool
	savedDeviceLock facts.DeviceLockState

	insync    bool
	restore   bool
	active    bool
	wasCalled bool

	lingerMs    int64
	lingerTimer clock.TimerID
	lingerArmed bool

	proxTimer clock.TimerID
	proxArmed bool
}

func New(log hclog.Logger, p *pipes.Pipes, c *clock.Service, wake *wakelock.Gateway) *Machine {
	m := &Machine{
		pipes: p,
		clock: c,
		wake:  wake,
		log:   log.Named("uiexcept"),
	}
	m.subscribe()
	return m
}

// subscribe attaches output triggers on every pipe whose change can
// disqualify a restore or otherwise require a rethink.
func (m *Machine) subscribe() {
	var lastDisplay = m.pipes.DisplayState.Read()
	m.pipes.DisplayState.AttachOutputTrigger(func(v facts.DisplayState) {
		if v == lastDisplay {
			return
		}
		prev := lastDisplay
		lastDisplay = v
		m.onDisplayStateChanged(prev, v)
	})

	var lastDeviceLock = m.pipes.DeviceLockState.Read()
	m.pipes.DeviceLockState.AttachOutputTrigger(func(v facts.DeviceLockState) {
		if v == lastDeviceLock {
			return
		}
		prev := lastDeviceLock
		lastDeviceLock = v
		m.onDeviceLockChanged(prev, v)
	})

	var lastSubmode = m.pipes.Submode.Read()
	m.pipes.Submode.AttachOutputTrigger(func(v facts.Submode) {
		if v == lastSubmode {
			return
		}
		prev := lastSubmode
		lastSubmode = v
		m.onSubmodeChanged(prev, v)
	})

	var lastInteractionExpected bool
	m.pipes.InteractionExpected.AttachOutputTrigger(func(v bool) {
		if v == lastInteractionExpected {
			return
		}
		lastInteractionExpected = v
		if v {
			m.onInteractionExpected()
		}
	})

	m.pipes.UserActivity.AttachOutputTrigger(func(struct{}) {
		m.onTouchActivity()
	})

	m.pipes.CallState.AttachOutputTrigger(func(v facts.CallState) {
		m.rethink()
	})

	m.pipes.ProximitySensor.AttachOutputTrigger(func(v facts.CoverState) {
		m.rethink()
	})

	m.pipes.AudioRoute.AttachOutputTrigger(func(v facts.AudioRoute) {
		m.rethink()
	})
}

// Active reports whether any exception bit is currently set (including the
// LINGER tail phase).
func (m *Machine) Active() bool { return m.mask != facts.ExceptionNone }

// Mask returns the current exception bitmask, mirroring the published
// exception_state pipe value.
func (m *Machine) Mask() facts.ExceptionState { return m.mask }

// Begin activates exception bit typ. If the mask was empty, the current
// display, tklock submode and device-lock states are snapshotted, restore
// is set unless typ is Noanim, and insync is set. Any LINGER tail phase in
// progress ends (its bit is cleared and its timer canceled), so the End
// that next empties the mask starts a fresh one; then the bit is ORed in.
func (m *Machine) Begin(typ Type, lingerMs int64) {
	wasEmpty := m.mask == facts.ExceptionNone
	if wasEmpty {
		m.savedDisplay = m.pipes.DisplayState.Read()
		m.savedTklockSet = m.pipes.Submode.Read().Has(facts.TklockSubmode)
		m.savedDeviceLock = m.pipes.DeviceLockState.Read()
		m.restore = typ != Noanim
		m.insync = true
		m.active = true
		m.log.Debug("exception sequence begins", "type", exceptionName(typ),
			"saved_display", m.savedDisplay, "saved_tklock", m.savedTklockSet,
			"saved_device_lock", m.savedDeviceLock)
	}
	if typ == Call {
		m.wasCalled = true
	}
	m.mask &^= Linger
	m.mask |= typ
	m.lingerMs = lingerMs
	m.cancelLingerTimer()
	m.publishMask()
	m.rethink()
}

// End deactivates exception bit typ. If the mask empties, either the
// LINGER bit is armed for lingerMs (a self-generated tail phase that lets
// touch activity cancel the restore) or finish() runs immediately.
func (m *Machine) End(typ Type, lingerMs int64) {
	m.mask &^= typ
	if m.mask != facts.ExceptionNone {
		m.publishMask()
		m.rethink()
		return
	}
	if lingerMs > 0 {
		m.mask = Linger
		m.armLingerTimer(lingerMs)
		m.publishMask()
		m.rethink()
		return
	}
	m.publishMask()
	m.finish()
}

// Cancel force-clears the exception state without running the restore
// step -- used by bootstrap/teardown and by hard resets (e.g. shutting_down
// becoming true mid-exception).
func (m *Machine) Cancel() {
	m.cancelLingerTimer()
	m.cancelProximityGrace()
	m.mask = facts.ExceptionNone
	m.active = false
	m.restore = false
	m.publishMask()
}

func (m *Machine) publishMask() {
	m.pipes.ExceptionState.Publish(m.mask)
}

func (m *Machine) armLingerTimer(ms int64) {
	m.cancelLingerTimer()
	m.lingerTimer = m.clock.ArmAfter(clock.Heartbeat, ms, m.onLingerTimeout)
	m.lingerArmed = true
}

func (m *Machine) cancelLingerTimer() {
	if m.lingerArmed {
		m.clock.Cancel(m.lingerTimer)
		m.lingerArmed = false
	}
}

func (m *Machine) onLingerTimeout() {
	if !m.lingerArmed {
		return
	}
	m.lingerArmed = false
	if m.mask != Linger {
		return
	}
	m.mask = facts.ExceptionNone
	m.publishMask()
	m.finish()
}

// rethink computes the display/lock request for the topmost active bit.
func (m *Machine) rethink() {
	if m.mask == facts.ExceptionNone {
		return
	}
	top := m.mask.Topmost()
	m.lastTopmost = top

	switch top {
	case Notif, Alarm, Linger:
		m.cancelProximityGrace()
		if m.pipes.ProximityBlank.Read() {
			m.pipes.ProximityBlank.Publish(false)
		}
		m.requestDisplay(facts.DisplayOn)
	case Call:
		m.rethinkCall()
	case Noanim:
		m.restore = false
	}
}

func (m *Machine) rethinkCall() {
	call := m.pipes.CallState.Read().Normalize()
	if call == facts.CallRinging {
		m.cancelProximityGrace()
		m.pipes.ProximityBlank.Publish(false)
		m.requestDisplay(facts.DisplayOn)
		return
	}
	proximityCovered := m.pipes.ProximitySensor.Read() == facts.CoverClosed
	handsetRouted := m.pipes.AudioRoute.Read() == facts.AudioRouteHandset
	if proximityCovered && handsetRouted {
		m.cancelProximityGrace()
		m.pipes.ProximityBlank.Publish(true)
		m.requestDisplay(facts.DisplayOff)
		return
	}
	if m.pipes.ProximityBlank.Read() {
		// Blanked for proximity: uncovering lights the display only after
		// the grace elapses, with a wakelock held so the deadline survives
		// an attempted suspend.
		m.armProximityGrace()
		return
	}
	m.pipes.ProximityBlank.Publish(false)
	m.requestDisplay(facts.DisplayOn)
}

func (m *Machine) armProximityGrace() {
	if m.proxArmed {
		return
	}
	m.wake.Lock(ProximityWakelockName)
	m.proxTimer = m.clock.ArmAfter(clock.Heartbeat, ProximityGraceMs, m.onProximityGraceTimeout)
	m.proxArmed = true
}

func (m *Machine) cancelProximityGrace() {
	if !m.proxArmed {
		return
	}
	m.clock.Cancel(m.proxTimer)
	m.proxArmed = false
	m.wake.Unlock(ProximityWakelockName)
}

func (m *Machine) onProximityGraceTimeout() {
	if !m.proxArmed {
		return
	}
	m.proxArmed = false
	m.wake.Unlock(ProximityWakelockName)
	m.pipes.ProximityBlank.Publish(false)
	if m.mask.Topmost() == Call {
		m.requestDisplay(facts.DisplayOn)
	}
}

func (m *Machine) requestDisplay(s facts.DisplayState) {
	m.pipes.DisplayStateReq.Publish(s)
}

// finish runs the restore step once the mask is fully empty and linger
// has elapsed: restore the saved tklock state and display state (or
// LPM_ON if proximity/lid don't allow it), then reset the record.
func (m *Machine) finish() {
	m.cancelProximityGrace()
	if m.pipes.ProximityBlank.Read() {
		m.pipes.ProximityBlank.Publish(false)
	}
	if m.restore {
		if m.savedTklockSet {
			m.pipes.TkLockRequest.Publish(facts.TkLockRequestLocked)
		}
		target := facts.DisplayLPMOn
		proximityUncovered := m.pipes.ProximitySensor.Read() == facts.CoverOpen
		lidClosed := m.pipes.LidCoverPolicy.Read() == facts.CoverClosed
		if m.savedDisplay.OnOrDim() && proximityUncovered && !lidClosed {
			target = m.savedDisplay
		}
		m.requestDisplay(target)
		m.log.Debug("exception sequence finished, restored", "target", target)
	} else {
		m.log.Debug("exception sequence finished, restore suppressed")
	}
	m.reset()
}

func (m *Machine) reset() {
	m.active = false
	m.restore = false
	m.insync = false
	m.wasCalled = false
	m.lastTopmost = facts.ExceptionNone
	m.savedDisplay = facts.DisplayUndef
	m.savedTklockSet = false
	m.savedDeviceLock = facts.DeviceLockUndefined
}

// --- disqualifiers -------------------------------------------------------
//
// Each disqualifier below is a single named predicate with one call site.
// A disqualifier clears restore but never sets it back to true within one
// activation.

func (m *Machine) denyRestore(cause string) {
	if !m.active || !m.restore {
		return
	}
	m.restore = false
	m.log.Debug("restore disqualified", "cause", cause)
}

func (m *Machine) onSubmodeChanged(prev, cur facts.Submode) {
	if !m.active {
		return
	}
	wasLocked := prev.Has(facts.TklockSubmode)
	isLocked := cur.Has(facts.TklockSubmode)
	if wasLocked && !isLocked {
		// "tklock submode removed while exception active, except during
		// incoming call (tracked by was_called)."
		if !(m.wasCalled && m.lastTopmost == Call) {
			m.denyRestore("tklock-submode-removed-mid-exception")
		}
	}
}

func (m *Machine) onDeviceLockChanged(prev, cur facts.DeviceLockState) {
	if !m.active {
		return
	}
	if prev == facts.DeviceLockLocked && cur != facts.DeviceLockLocked {
		m.denyRestore("device-lock-transitioned-from-locked")
	}
}

func (m *Machine) onDisplayStateChanged(prev, cur facts.DisplayState) {
	if !m.active {
		return
	}
	if prev.OnOrDim() && !cur.OnOrDim() {
		// "display unexpectedly leaves ON/DIM mid-activate ... insync<-false
		// until next display=ON or active-mask change."
		m.insync = false
		m.log.Debug("display left on/dim unexpectedly, out of sync")
	}
	if cur == facts.DisplayOn {
		m.insync = true
	}
}

func (m *Machine) onInteractionExpected() {
	if !m.active {
		return
	}
	lockscreenActive := m.pipes.Submode.Read().Has(facts.TklockSubmode)
	displayOn := m.pipes.DisplayState.Read() == facts.DisplayOn
	atLingerEnd := m.lastTopmost == Linger
	if lockscreenActive && (displayOn || atLingerEnd) {
		if m.lastTopmost == Call {
			return
		}
		m.denyRestore("interaction-expected-while-lockscreen-active")
	}
}

func (m *Machine) onTouchActivity() {
	if !m.active {
		return
	}
	if m.lastTopmost == Linger {
		m.denyRestore("touch-during-linger")
		return
	}
	if m.lastTopmost == Notif {
		deviceUnlocked := m.pipes.DeviceLockState.Read() != facts.DeviceLockLocked
		if deviceUnlocked {
			m.denyRestore("touch-during-notif-while-unlocked")
		}
	}
}

func exceptionName(t Type) string { return t.String() }
