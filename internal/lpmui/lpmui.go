// Package lpmui detects "taken from pocket" and "on table, hand hovering"
// gestures from raw proximity-sensor history and requests the
// low-power-mode glance screen when one matches and every prerequisite
// holds.
package lpmui

import (
	"github.com/hashicorp/go-hclog"

	"github.com/sailfish-mce/tklock-core/internal/clock"
	"github.com/sailfish-mce/tklock-core/internal/facts"
	"github.com/sailfish-mce/tklock-core/internal/pipes"
	"github.com/sailfish-mce/tklock-core/internal/settings"
)

// HistoryCapacity bounds the proximity-event ring buffer; entries beyond it
// are dropped, oldest first.
const HistoryCapacity = 8

const (
	FromPocketOpenAgeMaxMs          = 1500
	FromPocketClosedMinDurationMs   = 3000
	OnTableTransitionMaxGapMs       = 1500
	OnTableMinFinalOpenDurationMs   = 3000
	OnTableMinAlternatingSequenceN  = 5
)

// event is one recorded proximity-sensor reading.
type event struct {
	t     int64
	state facts.CoverState
}

type Machine struct {
	pipes *pipes.Pipes
	clock *clock.Service
	sett  *settings.Tracker
	log   hclog.Logger

	// history is newest-first.
	history []event

	lpmActive bool
}

func New(log hclog.Logger, p *pipes.Pipes, c *clock.Service, sett *settings.Tracker) *Machine {
	m := &Machine{pipes: p, clock: c, sett: sett, log: log.Named("lpmui")}
	m.subscribe()
	return m
}

func (m *Machine) subscribe() {
	m.pipes.ProximitySensor.AttachOutputTrigger(func(v facts.CoverState) {
		m.record(v)
		m.rethink()
	})
	m.pipes.DisplayState.AttachOutputTrigger(func(facts.DisplayState) { m.rethink() })
	m.pipes.ExceptionState.AttachOutputTrigger(func(facts.ExceptionState) { m.rethink() })
	m.pipes.SystemState.AttachOutputTrigger(func(facts.SystemState) { m.rethink() })
	m.pipes.LipstickAvailable.AttachOutputTrigger(func(bool) { m.rethink() })
	m.pipes.LidCoverPolicy.AttachOutputTrigger(func(facts.CoverState) { m.rethink() })
}

func (m *Machine) record(state facts.CoverState) {
	e := event{t: m.clock.Now(), state: state}
	m.history = append([]event{e}, m.history...)
	if len(m.history) > HistoryCapacity {
		m.history = m.history[:HistoryCapacity]
	}
}

func (m *Machine) prerequisitesSatisfied() bool {
	return m.pipes.SystemState.Read() == facts.SystemUser &&
		m.pipes.LipstickAvailable.Read() &&
		m.pipes.DisplayState.Read() == facts.DisplayOff &&
		m.pipes.ExceptionState.Read() == facts.ExceptionNone &&
		m.pipes.LidCoverPolicy.Read() != facts.CoverClosed &&
		m.pipes.ProximitySensor.Read() == facts.CoverOpen &&
		!m.veto()
}

// veto adds the thermal/power-saving check on top of the base
// prerequisites: while the device is overheated or in power-saving mode,
// neither gesture lights up the glance screen.
func (m *Machine) veto() bool {
	return m.pipes.ThermalState.Read() == facts.ThermalOverheated ||
		m.pipes.PowerSavingMode.Read() == facts.PowerSavingOn
}

func (m *Machine) rethink() {
	now := m.clock.Now()
	if !m.prerequisitesSatisfied() {
		m.setLPM(false)
		return
	}
	mask := m.sett.Int(settings.KeyLPMUITriggerMask)
	gestureFired := (mask&settings.LPMUITriggerFromPocket != 0 && m.fromPocket(now)) ||
		(mask&settings.LPMUITriggerOnTable != 0 && m.onTable(now))
	if gestureFired {
		// Couple tklock and display requests, then the LPM signal, so
		// the UI never observes LPM-on without tklock.
		m.pipes.TkLockRequest.Publish(facts.TkLockRequestLocked)
		m.pipes.DisplayStateReq.Publish(facts.DisplayLPMOn)
		m.setLPM(true)
	}
}

// setLPM publishes lpm_ui_enabled only on change, so the wire layer never
// re-broadcasts an unchanged LPM UI state.
func (m *Machine) setLPM(on bool) {
	if on == m.lpmActive {
		return
	}
	m.lpmActive = on
	m.pipes.LPMUIEnabled.Publish(on)
}

// fromPocket implements the "from pocket" predicate: newest OPEN reading
// recent enough, preceded by two CLOSED readings spaced at least
// FromPocketClosedMinDurationMs apart (the gap between consecutive CLOSED
// samples stands in for "how long the sensor had read closed").
func (m *Machine) fromPocket(now int64) bool {
	if len(m.history) < 3 {
		return false
	}
	newest, mid, older := m.history[0], m.history[1], m.history[2]
	if newest.state != facts.CoverOpen {
		return false
	}
	if now-newest.t > FromPocketOpenAgeMaxMs {
		return false
	}
	if mid.state != facts.CoverClosed || older.state != facts.CoverClosed {
		return false
	}
	return mid.t-older.t >= FromPocketClosedMinDurationMs
}

// onTable implements the "on table" predicate: an alternating
// OPEN/CLOSED/OPEN/... run, each adjacent pair no more than
// OnTableTransitionMaxGapMs apart, terminating (oldest end of the run) at an
// OPEN reading that had stood for at least OnTableMinFinalOpenDurationMs
// before the CLOSED reading that follows it.
func (m *Machine) onTable(now int64) bool {
	if len(m.history) < OnTableMinAlternatingSequenceN {
		return false
	}
	want := facts.CoverOpen
	for i := 0; i < OnTableMinAlternatingSequenceN; i++ {
		if m.history[i].state != want {
			return false
		}
		if i > 0 && m.history[i-1].t-m.history[i].t > OnTableTransitionMaxGapMs {
			return false
		}
		if want == facts.CoverOpen {
			want = facts.CoverClosed
		} else {
			want = facts.CoverOpen
		}
	}
	last := OnTableMinAlternatingSequenceN - 1
	finalOpenDuration := m.history[last-1].t - m.history[last].t
	return finalOpenDuration >= OnTableMinFinalOpenDurationMs
}
