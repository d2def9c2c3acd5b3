// Package inputgrab computes the touch/keypad grab policy from display,
// call, music, proximity and lid state, and owns the double-tap gesture's
// exponential-backoff recalibration sequence.
package inputgrab

import (
	"github.com/hashicorp/go-hclog"

	"github.com/sailfish-mce/tklock-core/internal/clock"
	"github.com/sailfish-mce/tklock-core/internal/facts"
	"github.com/sailfish-mce/tklock-core/internal/pipes"
	"github.com/sailfish-mce/tklock-core/internal/settings"
)

// backoffSequenceMs is the exponential-backoff recalibration schedule.
// Once exhausted, calibration switches to a per-heartbeat kick.
var backoffSequenceMs = []int64{2000, 4000, 8000, 16000, 30000}

// Recalibrator performs the actual double-tap sensor recalibration write,
// a sysfs concern this package only schedules. Tests use a recording
// fake.
type Recalibrator interface {
	Recalibrate()
}

type nopRecalibrator struct{}

func (nopRecalibrator) Recalibrate() {}

// EventEnabler performs the sysfs event-enable/disable write for a grab
// target (touchscreen, keypad, double-tap). Out of scope for this core; a
// NopEventEnabler is wired by default.
type EventEnabler interface {
	SetGrab(target string, grabbed bool)
}

type NopEventEnabler struct{}

func (NopEventEnabler) SetGrab(string, bool) {}

const (
	TargetTouchscreen = "touchscreen"
	TargetKeypad      = "keypad"
)

type Machine struct {
	pipes   *pipes.Pipes
	clock   *clock.Service
	sett    *settings.Tracker
	enabler EventEnabler
	log     hclog.Logger

	lastGrabTS bool
	lastGrabKP bool
	lastDT     bool

	calib *doubleTapCalibrator
}

func New(log hclog.Logger, p *pipes.Pipes, c *clock.Service, sett *settings.Tracker, enabler EventEnabler, recal Recalibrator) *Machine {
	if enabler == nil {
		enabler = NopEventEnabler{}
	}
	log = log.Named("inputgrab")
	m := &Machine{pipes: p, clock: c, sett: sett, enabler: enabler, log: log}
	m.calib = newDoubleTapCalibrator(log, p, c, recal)
	m.subscribe()
	return m
}

func (m *Machine) subscribe() {
	m.pipes.DisplayState.AttachOutputTrigger(func(facts.DisplayState) { m.rethink() })
	m.pipes.CallState.AttachOutputTrigger(func(facts.CallState) { m.rethink() })
	m.pipes.MusicPlayback.AttachOutputTrigger(func(bool) { m.rethink() })
	m.pipes.ProximitySensor.AttachOutputTrigger(func(facts.CoverState) { m.rethink() })
	m.pipes.LidCoverPolicy.AttachOutputTrigger(func(facts.CoverState) { m.rethink() })
	m.pipes.ShuttingDown.AttachOutputTrigger(func(bool) { m.rethink() })
}

// rethink recomputes every grab target from scratch: per-target booleans
// derived from display state, call state, music playback, proximity, lid
// policy, touchscreen-gesture mode, volume-key mode, shutting-down, and
// the input-policy-enabled setting.
func (m *Machine) rethink() {
	display := m.pipes.DisplayState.Read()
	call := m.pipes.CallState.Read().Normalize()
	music := m.pipes.MusicPlayback.Read()
	shuttingDown := m.pipes.ShuttingDown.Read()
	proximityOpen := m.pipes.ProximitySensor.Read() == facts.CoverOpen
	lidClosed := m.pipes.LidCoverPolicy.Read() == facts.CoverClosed
	inputPolicyEnabled := m.sett.Bool(settings.KeyInputPolicyEnabled)
	gestureMode := m.sett.String(settings.KeyTouchscreenGestureMode)
	volumePolicy := m.sett.String(settings.KeyVolumeKeyPolicy)

	// enable_kp = (display in {ON,DIM}) && !shutting_down; forced true
	// during calls or music.
	enableKP := display.OnOrDim() && !shuttingDown
	inCall := call == facts.CallRinging || call == facts.CallActive
	if inCall || music {
		enableKP = true
	}

	// enable_ts = (display in {ON,DIM}) && !shutting_down; forced true if
	// double-tap enabled.
	dtGestureConfigured := gestureMode != settings.GestureModeDisabled
	enableTS := display.OnOrDim() && !shuttingDown
	if dtGestureConfigured {
		enableTS = true
	}

	// enable_dt = (display in {OFF,LPM_OFF,LPM_ON}) && gesture_enabled(mode, proximity).
	enableDT := display.Off() && gestureEnabled(gestureMode, proximityOpen)

	// grab_ts: true for any non-ON/DIM display; follows !enable_ts during
	// ON/DIM; gated by input_policy_enabled; ungrab additionally blocked
	// while proximity covered (if proximity_blocks_touch) or lid closed.
	wantGrabTS := !display.OnOrDim()
	if display.OnOrDim() {
		wantGrabTS = !enableTS
	}
	if !inputPolicyEnabled {
		wantGrabTS = false
	}
	if m.lastGrabTS && !wantGrabTS {
		proximityBlocksUngrab := m.sett.Bool(settings.KeyProximityBlocksTouch) && !proximityOpen
		if proximityBlocksUngrab || lidClosed {
			wantGrabTS = true
		}
	}

	// grab_kp = !enable_kp; with volume-keys-for-media-only policy, force
	// grab when music is not playing.
	wantGrabKP := !enableKP
	if volumePolicy == settings.VolumePolicyMediaOnly && !music {
		wantGrabKP = true
	}

	m.setGrab(TargetTouchscreen, &m.lastGrabTS, wantGrabTS)
	m.setGrab(TargetKeypad, &m.lastGrabKP, wantGrabKP)
	m.setDoubleTap(enableDT)
}

// gestureEnabled is the predicate feeding the double-tap enable: the
// gesture mode may require an uncovered proximity sensor.
func gestureEnabled(mode string, proximityOpen bool) bool {
	switch mode {
	case settings.GestureModeAlways:
		return true
	case settings.GestureModeNoProximity:
		return proximityOpen
	default: // GestureModeDisabled or unset
		return false
	}
}

// setGrab applies per-target hysteresis to avoid redundant sysfs writes:
// only publish/write when the computed value differs from the last one.
func (m *Machine) setGrab(target string, last *bool, want bool) {
	if want == *last {
		return
	}
	*last = want
	switch target {
	case TargetTouchscreen:
		m.pipes.TouchGrabWanted.Publish(want)
		m.pipes.TouchGrabActive.Publish(want)
	case TargetKeypad:
		m.pipes.KeypadGrabWanted.Publish(want)
		m.pipes.KeypadGrabActive.Publish(want)
	}
	m.enabler.SetGrab(target, want)
	m.log.Debug("grab changed", "target", target, "grabbed", want)
}

func (m *Machine) setDoubleTap(enabled bool) {
	if enabled == m.lastDT {
		return
	}
	m.lastDT = enabled
	if enabled {
		m.calib.Enable()
	} else {
		m.calib.Disable()
	}
}

// --- double-tap recalibration backoff -----------------------------------

// doubleTapCalibrator runs the exponential backoff timer sequence, then
// switches to a per-heartbeat kick once the sequence is exhausted.
type doubleTapCalibrator struct {
	pipes *pipes.Pipes
	clock *clock.Service
	log   hclog.Logger
	recal Recalibrator

	active        bool
	heartbeatMode bool
	backoffIdx    int
	timer         clock.TimerID
	armed         bool
}

func newDoubleTapCalibrator(log hclog.Logger, p *pipes.Pipes, c *clock.Service, recal Recalibrator) *doubleTapCalibrator {
	if recal == nil {
		recal = nopRecalibrator{}
	}
	d := &doubleTapCalibrator{pipes: p, clock: c, log: log.Named("dtcalib"), recal: recal}
	p.Heartbeat.AttachOutputTrigger(func(int64) {
		if d.active && d.heartbeatMode {
			d.recal.Recalibrate()
		}
	})
	return d
}

func (d *doubleTapCalibrator) Enable() {
	if d.active {
		return
	}
	d.active = true
	d.heartbeatMode = false
	d.backoffIdx = 0
	d.armNext()
}

func (d *doubleTapCalibrator) Disable() {
	if !d.active {
		return
	}
	d.active = false
	d.heartbeatMode = false
	d.cancelTimer()
}

func (d *doubleTapCalibrator) armNext() {
	if d.backoffIdx >= len(backoffSequenceMs) {
		d.log.Debug("double-tap calibration switching to heartbeat kicks")
		d.heartbeatMode = true
		return
	}
	d.timer = d.clock.ArmAfter(clock.Heartbeat, backoffSequenceMs[d.backoffIdx], d.onBackoffFire)
	d.armed = true
}

func (d *doubleTapCalibrator) onBackoffFire() {
	d.armed = false
	if !d.active {
		return
	}
	d.recal.Recalibrate()
	d.backoffIdx++
	d.armNext()
}

func (d *doubleTapCalibrator) cancelTimer() {
	if d.armed {
		d.clock.Cancel(d.timer)
		d.armed = false
	}
}
