// Package lidals correlates the lid cover sensor with the ambient-light
// sensor to veto false lid closures and confirm openings: lid sensors
// misfire, so darkness and closure must corroborate each other within a
// short window before any blanking policy acts. A persisted flag file
// records whether the sensor has ever been seen working at all; until
// then all lid-derived policy is suppressed.
package lidals

import (
	"os"

	"github.com/hashicorp/go-hclog"

	"github.com/sailfish-mce/tklock-core/internal/clock"
	"github.com/sailfish-mce/tklock-core/internal/facts"
	"github.com/sailfish-mce/tklock-core/internal/pipes"
	"github.com/sailfish-mce/tklock-core/internal/settings"
)

// Correlation windows for the three wait timers.
const (
	WaitForCloseDelayMs = 1500
	WaitForDarkDelayMs  = 1200
	WaitForLightDelayMs = 1200
)

// Level is the three-valued ambient-light reading: NA when the sensor is
// powered down (negative lux), LO/HI relative to the configured limit.
type Level int

const (
	LevelNA Level = iota
	LevelLO
	LevelHI
)

func (l Level) String() string {
	switch l {
	case LevelLO:
		return "lo"
	case LevelHI:
		return "hi"
	default:
		return "na"
	}
}

// TrustGate persists, across restarts, whether we have ever observed a
// closed->open lid transition. Until then all lid-derived policy is
// suppressed. It is a marker file, not a settings value: its presence or
// absence IS the state.
type TrustGate struct {
	path string
	log  hclog.Logger
}

func NewTrustGate(log hclog.Logger, path string) *TrustGate {
	g := &TrustGate{path: path, log: log.Named("lidals.trust")}
	return g
}

func (g *TrustGate) Established() bool {
	_, err := os.Stat(g.path)
	return err == nil
}

// MarkEstablished creates the flag file. Called on the first observed
// closed->open lid transition.
func (g *TrustGate) MarkEstablished() {
	if err := os.WriteFile(g.path, []byte{}, 0o644); err != nil {
		g.log.Warn("could not persist lid trust gate", "path", g.path, "error", err)
	}
}

// Invalidate removes the flag file, reverting to the untrusted state. Called
// when the lid sensor is later found tampered or broken
// (LidSensorIsWorking going false).
func (g *TrustGate) Invalidate() {
	if err := os.Remove(g.path); err != nil && !os.IsNotExist(err) {
		g.log.Warn("could not invalidate lid trust gate", "path", g.path, "error", err)
	}
}

type Machine struct {
	pipes *pipes.Pipes
	clock *clock.Service
	sett  *settings.Tracker
	trust *TrustGate
	log   hclog.Logger

	sawHighSinceWake bool
	darknessFresh    bool

	waitForCloseTimer clock.TimerID
	waitForCloseArmed bool
	waitForDarkTimer  clock.TimerID
	waitForDarkArmed  bool
	waitForLightTimer clock.TimerID
	waitForLightArmed bool

	lastPolicy facts.CoverState
}

func New(log hclog.Logger, p *pipes.Pipes, c *clock.Service, sett *settings.Tracker, trust *TrustGate) *Machine {
	m := &Machine{
		pipes:      p,
		clock:      c,
		sett:       sett,
		trust:      trust,
		log:        log.Named("lidals"),
		lastPolicy: facts.CoverUndef,
	}
	m.subscribe()
	return m
}

func (m *Machine) subscribe() {
	var lastLid = m.pipes.LidCoverSensor.Read()
	m.pipes.LidCoverSensor.AttachOutputTrigger(func(v facts.CoverState) {
		if v == lastLid {
			return
		}
		prev := lastLid
		lastLid = v
		m.onLidChanged(prev, v)
	})

	var lastLux = m.pipes.AmbientLightSensor.Read()
	m.pipes.AmbientLightSensor.AttachOutputTrigger(func(v int) {
		if v == lastLux {
			return
		}
		prev := lastLux
		lastLux = v
		m.onALSChanged(prev, v)
	})

	var lastDisplay = m.pipes.DisplayState.Read()
	m.pipes.DisplayState.AttachOutputTrigger(func(v facts.DisplayState) {
		if v == lastDisplay {
			return
		}
		prev := lastDisplay
		lastDisplay = v
		m.onDisplayChanged(prev, v)
	})

	m.pipes.LidSensorIsWorking.AttachOutputTrigger(func(working bool) {
		if !working {
			m.log.Warn("lid sensor reported not working, invalidating trust gate")
			m.trust.Invalidate()
		}
	})
}

func (m *Machine) enabledPredicate() bool {
	return m.sett.Bool(settings.KeyLidSensorEnabled) &&
		m.sett.Bool(settings.KeyALSEnabled) &&
		m.sett.Bool(settings.KeyFilterLidWithALS)
}

func (m *Machine) level(lux int) Level {
	if lux < 0 {
		return LevelNA
	}
	limit := settings.SanitizeALSLimitLux(m.sett.Int(settings.KeyFilterLidALSLimitLux))
	if lux < limit {
		return LevelLO
	}
	return LevelHI
}

// onDisplayChanged tracks "HI seen since last display power-up", the
// allow-close precondition: a lid close may only blank once the sensor
// has proven it can still read light.
func (m *Machine) onDisplayChanged(prev, cur facts.DisplayState) {
	if prev.Off() && cur.OnOrDim() {
		m.sawHighSinceWake = false
	}
}

func (m *Machine) onALSChanged(prevLux, curLux int) {
	lvl := m.level(curLux)
	if lvl == LevelHI {
		m.sawHighSinceWake = true
	}
	// A fresh ALS reading of LO is what wait_for_close's "darkness" refers
	// to; it stays fresh until either consumed by a lid close or expired
	// by the wait_for_close timeout, after which darkness is ignored until
	// the next ALS change.
	m.darknessFresh = lvl == LevelLO
	if !m.enabledPredicate() {
		return
	}

	if m.waitForDarkArmed && lvl == LevelLO {
		m.cancelWaitForDark()
		m.closeIfAllowed()
		return
	}
	if m.waitForLightArmed && lvl == LevelHI {
		m.cancelWaitForLight()
		m.publishPolicy(facts.CoverOpen)
		return
	}

	lidOpen := m.pipes.LidCoverSensor.Read() == facts.CoverOpen
	if lvl == LevelLO && lidOpen && m.pipes.DisplayState.Read().OnOrDim() {
		m.armWaitForClose()
	} else if lvl == LevelHI {
		m.cancelWaitForClose()
	}
}

func (m *Machine) onLidChanged(prev, cur facts.CoverState) {
	if prev == facts.CoverClosed && cur == facts.CoverOpen && !m.trust.Established() {
		m.log.Info("lid trust gate established on first closed->open transition")
		m.trust.MarkEstablished()
	}

	if !m.enabledPredicate() {
		return
	}

	if cur == facts.CoverClosed {
		if m.waitForCloseArmed {
			m.cancelWaitForClose()
			m.darknessFresh = false
			m.closeIfAllowed()
			return
		}
		if m.darknessFresh && m.level(m.pipes.AmbientLightSensor.Read()) == LevelLO {
			m.darknessFresh = false
			m.closeIfAllowed()
			return
		}
		m.armWaitForDark()
		return
	}

	// cur == Open
	m.cancelWaitForClose()
	m.cancelWaitForDark()
	if m.level(m.pipes.AmbientLightSensor.Read()) == LevelHI {
		m.publishPolicy(facts.CoverOpen)
		return
	}
	m.armWaitForLight()
}

// closeIfAllowed enforces the trust gate and allow-close precondition
// before ever publishing a CLOSED policy state.
func (m *Machine) closeIfAllowed() {
	if !m.trust.Established() {
		m.log.Debug("lid close suppressed: trust gate not established")
		return
	}
	if !m.sawHighSinceWake {
		m.log.Debug("lid close suppressed: allow_close not yet satisfied")
		return
	}
	m.publishPolicy(facts.CoverClosed)
}

func (m *Machine) armWaitForClose() {
	if m.waitForCloseArmed {
		return
	}
	m.waitForCloseArmed = true
	m.waitForCloseTimer = m.clock.ArmAfter(clock.Heartbeat, WaitForCloseDelayMs, m.onWaitForCloseTimeout)
}

func (m *Machine) cancelWaitForClose() {
	if m.waitForCloseArmed {
		m.clock.Cancel(m.waitForCloseTimer)
		m.waitForCloseArmed = false
	}
}

func (m *Machine) onWaitForCloseTimeout() {
	m.waitForCloseArmed = false
	m.darknessFresh = false
	// Darkness ignored until the next ALS change; no action on timeout.
}

func (m *Machine) armWaitForDark() {
	if m.waitForDarkArmed {
		return
	}
	m.waitForDarkArmed = true
	m.waitForDarkTimer = m.clock.ArmAfter(clock.Heartbeat, WaitForDarkDelayMs, m.onWaitForDarkTimeout)
}

func (m *Machine) cancelWaitForDark() {
	if m.waitForDarkArmed {
		m.clock.Cancel(m.waitForDarkTimer)
		m.waitForDarkArmed = false
	}
}

func (m *Machine) onWaitForDarkTimeout() {
	m.waitForDarkArmed = false
	// Lid close ignored until the next change; no action on timeout.
}

func (m *Machine) armWaitForLight() {
	if m.waitForLightArmed {
		return
	}
	m.waitForLightArmed = true
	m.waitForLightTimer = m.clock.ArmAfter(clock.Heartbeat, WaitForLightDelayMs, m.onWaitForLightTimeout)
}

func (m *Machine) cancelWaitForLight() {
	if m.waitForLightArmed {
		m.clock.Cancel(m.waitForLightTimer)
		m.waitForLightArmed = false
	}
}

func (m *Machine) onWaitForLightTimeout() {
	m.waitForLightArmed = false
	// ALS never confirmed light; do nothing.
}

// publishPolicy publishes lid_cover_policy only on change and applies the
// configured close/open actions.
func (m *Machine) publishPolicy(state facts.CoverState) {
	if state == m.lastPolicy {
		return
	}
	m.lastPolicy = state
	m.pipes.LidCoverPolicy.Publish(state)
	m.log.Debug("lid policy changed", "state", state)

	if state == facts.CoverClosed {
		m.applyAction(m.sett.String(settings.KeyLidCloseAction), facts.DisplayOff, facts.TkLockRequestLocked)
	} else {
		m.applyAction(m.sett.String(settings.KeyLidOpenAction), facts.DisplayOn, facts.TkLockRequestUnlocked)
	}
}

func (m *Machine) applyAction(action string, display facts.DisplayState, lock facts.TkLockRequest) {
	m.pipes.DisplayStateReq.Publish(display)
	if action == settings.ActionDisplayAndLock {
		m.pipes.TkLockRequest.Publish(lock)
	}
}
