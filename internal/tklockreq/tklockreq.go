// Package tklockreq arbitrates every tklock (un)lock request against the
// gates that may deny *removal*, toggles the tklock submode bit on grant,
// and schedules the UI notification the wire layer always sends, even on
// denial, so a rejected request surfaces.
package tklockreq

import (
	"context"

	"github.com/hashicorp/go-hclog"

	"github.com/sailfish-mce/tklock-core/internal/clock"
	"github.com/sailfish-mce/tklock-core/internal/facts"
	"github.com/sailfish-mce/tklock-core/internal/pipes"
	"github.com/sailfish-mce/tklock-core/internal/settings"
	"github.com/sailfish-mce/tklock-core/internal/wakelock"
)

// NotifyWakelockName is the held wakelock keeping the core awake until
// the UI notification is delivered.
const NotifyWakelockName = "mce_tklock_notify"

// NotifyRetryMs is the delay between postponed-notify retries while the
// display is powering down or about to blank.
const NotifyRetryMs = 200

// NotifyMode is the mode argument of the UI notify method call.
type NotifyMode string

const (
	NotifyModeOneInput NotifyMode = "oneinput"
	NotifyModeVisual   NotifyMode = "visual"
	NotifyModeLPM      NotifyMode = "lpm"
)

// NotifyRequest is the full method-call tuple sent to the lockscreen UI:
// callback service, path, iface, method, mode, silent, flicker.
type NotifyRequest struct {
	CallbackService string
	CallbackPath    string
	CallbackIface   string
	CallbackMethod  string
	Mode            NotifyMode
	Silent          bool
	Flicker         bool
}

// UIClient delivers the tklock-mode notify method call to the lockscreen
// UI; the wire package implements this against a real D-Bus connection.
type UIClient interface {
	Notify(ctx context.Context, req NotifyRequest) error
}

// Signaler emits the bus-level signals that accompany the method call:
// the tklock mode signal and the reused power-key double-press signal
// used for "show device unlock".
type Signaler interface {
	EmitTkLockMode(locked bool)
	EmitShowDeviceUnlock()
}

type nopUIClient struct{}

func (nopUIClient) Notify(context.Context, NotifyRequest) error { return nil }

type nopSignaler struct{}

func (nopSignaler) EmitTkLockMode(bool)   {}
func (nopSignaler) EmitShowDeviceUnlock() {}

// Machine is the request-to-lock arbitrator. It owns no exported state
// besides the want_to_unlock flag, which is read by diagnostics.
type Machine struct {
	pipes *pipes.Pipes
	clock *clock.Service
	sett  *settings.Tracker
	wake  *wakelock.Gateway
	ui    UIClient
	sig   Signaler
	log   hclog.Logger

	wantToUnlock      bool
	showUnlockPending bool

	cbService string
	cbPath    string
	cbIface   string
	cbMethod  string

	notifyTimer clock.TimerID
	notifyArmed bool
}

func New(log hclog.Logger, p *pipes.Pipes, c *clock.Service, sett *settings.Tracker, wake *wakelock.Gateway, ui UIClient, sig Signaler) *Machine {
	if ui == nil {
		ui = nopUIClient{}
	}
	if sig == nil {
		sig = nopSignaler{}
	}
	m := &Machine{pipes: p, clock: c, sett: sett, wake: wake, ui: ui, sig: sig, log: log.Named("tklockreq")}
	m.subscribe()
	return m
}

func (m *Machine) subscribe() {
	m.pipes.TkLockRequest.AttachOutputTrigger(m.onRequest)
}

// SetCollaborators swaps in the real wire-layer UIClient/Signaler once the
// bus connection exists. Core constructs Machine before the bus is up (wire
// needs the pipes Core owns), so it starts on the nop collaborators and
// calls this once during bootstrap.
func (m *Machine) SetCollaborators(ui UIClient, sig Signaler) {
	if ui == nil {
		ui = nopUIClient{}
	}
	if sig == nil {
		sig = nopSignaler{}
	}
	m.ui = ui
	m.sig = sig
}

// SetNotifyCallback records the lockscreen UI's callback tuple; every
// subsequent notify method call targets it. Called at bootstrap with the
// compiled default and again whenever the UI re-registers over the bus.
// Until a callback is set, only the tklock mode signal is emitted.
func (m *Machine) SetNotifyCallback(service, path, iface, method string) {
	m.cbService = service
	m.cbPath = path
	m.cbIface = iface
	m.cbMethod = method
}

// WantToUnlock reports whether the last denied removal raised the
// device-lock-in-lockscreen want_to_unlock flag.
func (m *Machine) WantToUnlock() bool { return m.wantToUnlock }

func (m *Machine) onRequest(req facts.TkLockRequest) {
	switch req {
	case facts.TkLockRequestLocked, facts.TkLockRequestLockedDim:
		m.grant(true)
	case facts.TkLockRequestLockedDelay:
		m.scheduleDelayedLock()
	case facts.TkLockRequestUnlocked:
		m.requestRemoval()
	case facts.TkLockRequestUndef:
		// No request pending; nothing to arbitrate.
	}
}

// scheduleDelayedLock defers a grant(true) by the configured autolock
// delay, for the wire-level "locked-delay" mode string.
func (m *Machine) scheduleDelayedLock() {
	delay := settings.SanitizeAutolockDelay(m.sett.Int(settings.KeyAutolockDelayMs))
	m.clock.ArmAfter(clock.Heartbeat, int64(delay), func() { m.grant(true) })
}

// requestRemoval applies the removal-only gates: deny if lipstick
// unavailable; deny (and raise want_to_unlock) if devicelock-in-lockscreen
// is configured and the device is locked; deny if lid policy is closed.
func (m *Machine) requestRemoval() {
	if !m.pipes.LipstickAvailable.Read() {
		m.log.Debug("tklock removal denied: lipstick unavailable")
		m.scheduleNotify()
		return
	}
	if m.sett.Bool(settings.KeyDevicelockInLockscreen) && m.pipes.DeviceLockState.Read() == facts.DeviceLockLocked {
		m.wantToUnlock = true
		m.showUnlockPending = true
		m.log.Debug("tklock removal denied: device lock engaged, want_to_unlock raised")
		m.scheduleNotify()
		return
	}
	if m.pipes.LidCoverPolicy.Read() == facts.CoverClosed {
		m.log.Debug("tklock removal denied: lid policy closed")
		m.scheduleNotify()
		return
	}
	m.wantToUnlock = false
	m.grant(false)
}

func (m *Machine) grant(locked bool) {
	cur := m.pipes.Submode.Read()
	m.pipes.Submode.Publish(cur.Set(facts.TklockSubmode, locked))
	m.scheduleNotify()
}

// scheduleNotify always schedules a UI notification, even when the
// submode didn't change, so a rejected request surfaces. It
// holds NotifyWakelockName until delivery and postpones delivery while the
// display is about to blank.
func (m *Machine) scheduleNotify() {
	if !m.notifyArmed {
		m.wake.Lock(NotifyWakelockName)
	}
	m.cancelNotifyRetry()
	if m.deliveryBlocked() {
		m.notifyTimer = m.clock.ArmAfter(clock.Heartbeat, NotifyRetryMs, m.retryNotify)
		m.notifyArmed = true
		return
	}
	m.deliverNotify()
}

// retryNotify re-checks deliveryBlocked when the retry timer fires and
// re-arms it while the display is still on its way down.
func (m *Machine) retryNotify() {
	if m.deliveryBlocked() {
		m.notifyTimer = m.clock.ArmAfter(clock.Heartbeat, NotifyRetryMs, m.retryNotify)
		return
	}
	m.deliverNotify()
}

// deliveryBlocked implements "delayed while the display is powering down
// or about to blank, to prevent UI animations firing during power-off."
func (m *Machine) deliveryBlocked() bool {
	cur := m.pipes.DisplayState.Read()
	next := m.pipes.DisplayStateNext.Read()
	if cur == facts.DisplayPowerDown {
		return true
	}
	return cur.OnOrDim() && next.Off()
}

func (m *Machine) cancelNotifyRetry() {
	if m.notifyArmed {
		m.clock.Cancel(m.notifyTimer)
		m.notifyArmed = false
	}
}

func (m *Machine) deliverNotify() {
	m.notifyArmed = false
	defer m.wake.Unlock(NotifyWakelockName)

	locked := m.pipes.Submode.Read().Has(facts.TklockSubmode)
	m.sig.EmitTkLockMode(locked)

	mode := NotifyModeVisual
	if !m.sett.Bool(settings.KeyLockscreenAnimEnabled) {
		mode = NotifyModeOneInput
	}
	req := NotifyRequest{
		CallbackService: m.cbService,
		CallbackPath:    m.cbPath,
		CallbackIface:   m.cbIface,
		CallbackMethod:  m.cbMethod,
		Mode:            mode,
		Silent:          false,
		Flicker:         !locked,
	}
	if err := m.ui.Notify(context.Background(), req); err != nil {
		m.log.Warn("ui notify failed", "error", err)
	}

	if m.showUnlockPending {
		m.sig.EmitShowDeviceUnlock()
		m.showUnlockPending = false
	}
}
