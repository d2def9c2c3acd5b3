// Package evtexcept drives the UI-exception machine's CALL and ALARM bits
// and the notification pool's internally-synthesized slots from the raw
// event pipes the rest of the core only reads. Without this package those
// pipes are merely observed: nothing in the core would ever begin a CALL
// or ALARM exception, and nothing would report a charger, battery, USB,
// jack, camera or volume event to the notification pool.
package evtexcept

import (
	"github.com/hashicorp/go-hclog"

	"github.com/sailfish-mce/tklock-core/internal/facts"
	"github.com/sailfish-mce/tklock-core/internal/notifslot"
	"github.com/sailfish-mce/tklock-core/internal/pipes"
	"github.com/sailfish-mce/tklock-core/internal/settings"
	"github.com/sailfish-mce/tklock-core/internal/uiexcept"
)

// internalOwner is the notification-pool owner name used for slots this
// package reserves itself rather than on behalf of a bus client; it never
// matches a real sender string, so OnOwnerLost never touches these slots --
// they live and die by their own expiry/vacate calls instead.
const internalOwner = "mce-tklock-core"

// Machine subscribes to the event-only and small-enum pipes and translates
// their transitions into uiexcept.Begin/End calls (CALL, ALARM) or
// notifslot.Pool reservations (charger, battery, USB, jack, camera,
// volume), each sized by its per-cause exception_length_ms setting.
type Machine struct {
	pipes *pipes.Pipes
	sett  *settings.Tracker
	uix   *uiexcept.Machine
	notif *notifslot.Pool
	log   hclog.Logger

	callIncoming bool
}

func New(log hclog.Logger, p *pipes.Pipes, sett *settings.Tracker, uix *uiexcept.Machine, notif *notifslot.Pool) *Machine {
	m := &Machine{
		pipes: p,
		sett:  sett,
		uix:   uix,
		notif: notif,
		log:   log.Named("evtexcept"),
	}
	m.subscribe()
	return m
}

func (m *Machine) subscribe() {
	var lastCall = m.pipes.CallState.Read().Normalize()
	m.pipes.CallState.AttachOutputTrigger(func(v facts.CallState) {
		cur := v.Normalize()
		if cur == lastCall {
			return
		}
		lastCall = cur
		m.onCallStateChanged(cur)
	})

	var lastAlarm = m.pipes.AlarmUIState.Read().Normalize()
	m.pipes.AlarmUIState.AttachOutputTrigger(func(v facts.AlarmUIState) {
		cur := v.Normalize()
		if cur == lastAlarm {
			return
		}
		lastAlarm = cur
		m.onAlarmUIStateChanged(cur)
	})

	var lastCharger = m.pipes.ChargerState.Read()
	m.pipes.ChargerState.AttachOutputTrigger(func(v facts.ChargerState) {
		prev := lastCharger
		lastCharger = v
		if v == prev {
			return
		}
		m.onChargerStateChanged(prev, v)
	})

	var lastBattery = m.pipes.BatteryStatus.Read()
	m.pipes.BatteryStatus.AttachOutputTrigger(func(v facts.BatteryStatus) {
		prev := lastBattery
		lastBattery = v
		if v == prev {
			return
		}
		m.onBatteryStatusChanged(v)
	})

	var lastUSB = m.pipes.USBCableState.Read()
	m.pipes.USBCableState.AttachOutputTrigger(func(v facts.USBCableState) {
		prev := lastUSB
		lastUSB = v
		if v == prev {
			return
		}
		m.onUSBCableStateChanged(prev, v)
	})

	var lastJack = m.pipes.JackSense.Read()
	m.pipes.JackSense.AttachOutputTrigger(func(v facts.CoverState) {
		prev := lastJack
		lastJack = v
		if v == prev {
			return
		}
		m.onJackSenseChanged(prev, v)
	})

	m.pipes.CameraButton.AttachOutputTrigger(func(struct{}) { m.onCameraButton() })
	m.pipes.VolumeKeyPressed.AttachOutputTrigger(func(struct{}) { m.onVolumeKey() })
}

func (m *Machine) exceptionLengthMs(cause string) int64 {
	return int64(settings.ExceptionLengthMs(m.sett, cause))
}

// onCallStateChanged: RINGING and ACTIVE begin the CALL exception; any
// other state ends it, using the call-in length if the call was ever seen
// ringing, call-out otherwise. The incoming latch survives the
// RINGING->ACTIVE transition so answering doesn't reclassify the call.
func (m *Machine) onCallStateChanged(cur facts.CallState) {
	switch cur {
	case facts.CallRinging:
		m.callIncoming = true
		m.uix.Begin(uiexcept.Call, 0)
	case facts.CallActive:
		m.uix.Begin(uiexcept.Call, 0)
	default:
		cause := settings.ExCauseCallOut
		if m.callIncoming {
			cause = settings.ExCauseCallIn
		}
		m.callIncoming = false
		m.uix.End(uiexcept.Call, m.exceptionLengthMs(cause))
	}
}

// onAlarmUIStateChanged begins the ALARM exception while the alarm UI is
// ringing or visible and ends it otherwise.
func (m *Machine) onAlarmUIStateChanged(cur facts.AlarmUIState) {
	switch cur {
	case facts.AlarmRinging, facts.AlarmVisible:
		m.uix.Begin(uiexcept.Alarm, 0)
	default:
		m.uix.End(uiexcept.Alarm, m.exceptionLengthMs(settings.ExCauseAlarm))
	}
}

// onChargerStateChanged: no exception on the first Unknown->X transition
// (daemon startup), a notification only when charging begins. The slot is
// never ended here; it times out on its own exception length.
func (m *Machine) onChargerStateChanged(prev, cur facts.ChargerState) {
	if prev == facts.ChargerUnknown {
		return
	}
	if cur == facts.ChargerConnected {
		m.reserve("mce_charger_state", settings.ExCauseCharger)
	}
}

// onBatteryStatusChanged reports the battery-full event.
func (m *Machine) onBatteryStatusChanged(cur facts.BatteryStatus) {
	if cur == facts.BatteryStatusFull {
		m.reserve("mce_battery_full", settings.ExCauseBatteryLow)
	}
}

// onUSBCableStateChanged: no exception on the first Unknown->X
// transition; disconnecting ends both the connect and ask-user-dialog
// slots immediately (linger 0).
func (m *Machine) onUSBCableStateChanged(prev, cur facts.USBCableState) {
	if prev == facts.USBCableUnknown {
		return
	}
	switch cur {
	case facts.USBCableDisconnected:
		m.notif.Vacate(internalOwner, "mce_usb_connect", 0)
		m.notif.Vacate(internalOwner, "mce_usb_dialog", 0)
	case facts.USBCableConnected:
		m.reserve("mce_usb_connect", settings.ExCauseUSBConnect)
	case facts.USBCableAskUser:
		m.reserve("mce_usb_dialog", settings.ExCauseUSBDialog)
	}
}

// onJackSenseChanged: no exception on the first Undef->X transition;
// jack-in (closed) and jack-out (open) each get their own configured
// length.
func (m *Machine) onJackSenseChanged(prev, cur facts.CoverState) {
	if prev == facts.CoverUndef {
		return
	}
	switch cur {
	case facts.CoverClosed:
		m.reserve("mce_jack_sense", settings.ExCauseJackIn)
	case facts.CoverOpen:
		m.reserve("mce_jack_sense", settings.ExCauseJackOut)
	}
}

func (m *Machine) onCameraButton() {
	m.reserve("mce_camera_button", settings.ExCauseCamera)
}

// onVolumeKey covers volume up/down presses; the camera key arrives on
// its own pipe, and the power key belongs to a separate module.
func (m *Machine) onVolumeKey() {
	m.reserve("mce_volume_key", settings.ExCauseVolume)
}

// reserve begins (or renews) an internally-owned notification slot sized
// by cause's configured exception length, renewed on touch activity by
// the configured "activity" exception length.
func (m *Machine) reserve(name, cause string) {
	m.notif.Reserve(internalOwner, name, m.exceptionLengthMs(cause), m.exceptionLengthMs(settings.ExCauseActivity))
}
