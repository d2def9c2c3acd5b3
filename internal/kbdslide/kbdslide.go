// Package kbdslide turns physical keyboard-slide open and close events
// into display blank/unblank and optional tklock engagement/release, with
// an "autorelock" bookkeeping flag that remembers a slide-triggered open
// so a later close can re-lock even under the after-open trigger policy.
package kbdslide

import (
	"github.com/hashicorp/go-hclog"

	"github.com/sailfish-mce/tklock-core/internal/facts"
	"github.com/sailfish-mce/tklock-core/internal/pipes"
	"github.com/sailfish-mce/tklock-core/internal/settings"
)

type Machine struct {
	pipes *pipes.Pipes
	sett  *settings.Tracker
	log   hclog.Logger

	autorelock bool // AUTORELOCK_KBD_SLIDE: an open this machine caused
}

func New(log hclog.Logger, p *pipes.Pipes, sett *settings.Tracker) *Machine {
	m := &Machine{pipes: p, sett: sett, log: log.Named("kbdslide")}
	m.subscribe()
	return m
}

func (m *Machine) subscribe() {
	var lastSlide = m.pipes.KeyboardSlide.Read()
	m.pipes.KeyboardSlide.AttachOutputTrigger(func(v facts.CoverState) {
		prev := lastSlide
		lastSlide = v
		m.onSlideChanged(prev, v)
	})
}

func (m *Machine) onSlideChanged(prev, cur facts.CoverState) {
	if cur == prev {
		return
	}
	if cur == facts.CoverOpen {
		m.onOpen()
		return
	}
	m.onClose()
}

// onOpen: "cancel autorelock triggers; if display is powered off and
// configured trigger is satisfied, request display on and optionally
// tklock-off; record AUTORELOCK_KBD_SLIDE trigger."
func (m *Machine) onOpen() {
	m.autorelock = false

	if m.pipes.DisplayState.Read().Off() && m.openTriggerSatisfied() {
		m.log.Debug("keyboard slide open: requesting display on")
		m.pipes.DisplayStateReq.Publish(facts.DisplayOn)
		if m.sett.String(settings.KeyKbdOpenAction) == settings.ActionDisplayAndLock {
			m.pipes.TkLockRequest.Publish(facts.TkLockRequestUnlocked)
		}
		m.autorelock = true
	}
}

// onClose: "if exception present (call/alarm) skip; if configured trigger
// satisfied, request display off and optionally tklock-on; clear
// autorelock."
func (m *Machine) onClose() {
	top := m.pipes.ExceptionState.Read().Topmost()
	if top == facts.ExceptionCall || top == facts.ExceptionAlarm {
		return
	}

	if m.closeTriggerSatisfied() {
		m.log.Debug("keyboard slide close: requesting display off")
		m.pipes.DisplayStateReq.Publish(facts.DisplayOff)
		if m.sett.String(settings.KeyKbdCloseAction) == settings.ActionDisplayAndLock {
			m.pipes.TkLockRequest.Publish(facts.TkLockRequestLocked)
		}
	}
	m.autorelock = false
}

func (m *Machine) openTriggerSatisfied() bool {
	switch m.sett.String(settings.KeyKbdOpenTrigger) {
	case settings.TriggerAlways:
		return true
	case settings.TriggerNoProximity:
		return m.pipes.ProximitySensor.Read() == facts.CoverOpen
	default: // TriggerNever or unset
		return false
	}
}

func (m *Machine) closeTriggerSatisfied() bool {
	switch m.sett.String(settings.KeyKbdCloseTrigger) {
	case settings.TriggerAlways:
		return true
	case settings.TriggerAfterOpen:
		return m.autorelock
	default: // TriggerNever or unset
		return false
	}
}
