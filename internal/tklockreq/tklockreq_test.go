package tklockreq

import (
	"context"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"

	"github.com/sailfish-mce/tklock-core/internal/clock"
	"github.com/sailfish-mce/tklock-core/internal/facts"
	"github.com/sailfish-mce/tklock-core/internal/pipes"
	"github.com/sailfish-mce/tklock-core/internal/settings"
	"github.com/sailfish-mce/tklock-core/internal/wakelock"
)

type recordingUIClient struct {
	reqs []NotifyRequest
}

func (c *recordingUIClient) Notify(_ context.Context, req NotifyRequest) error {
	c.reqs = append(c.reqs, req)
	return nil
}

type recordingSignaler struct {
	modes       []bool
	showUnlocks int
}

func (s *recordingSignaler) EmitTkLockMode(locked bool) { s.modes = append(s.modes, locked) }
func (s *recordingSignaler) EmitShowDeviceUnlock()      { s.showUnlocks++ }

func newHarness(t *testing.T) (*Machine, *pipes.Pipes, *settings.Tracker, *wakelock.Gateway, *recordingUIClient, *recordingSignaler) {
	t.Helper()
	log := hclog.NewNullLogger()
	src := clock.NewFakeSource(0)
	cs := clock.NewService(log, src)
	p := pipes.NewPipes()
	sett := settings.NewTracker(log)
	settings.Default(sett)
	wake := wakelock.NewGateway(log, nil)
	ui := &recordingUIClient{}
	sig := &recordingSignaler{}
	m := New(log, p, cs, sett, wake, ui, sig)
	return m, p, sett, wake, ui, sig
}

func TestLockedRequest_GrantsAndNotifies(t *testing.T) {
	_, p, _, wake, ui, sig := newHarness(t)

	p.TkLockRequest.Publish(facts.TkLockRequestLocked)

	require.True(t, p.Submode.Read().Has(facts.TklockSubmode))
	require.Equal(t, []bool{true}, sig.modes)
	require.Len(t, ui.reqs, 1)
	require.False(t, wake.Held(NotifyWakelockName), "wakelock released once notify delivered")
}

// Removal is denied while lipstick is unavailable.
func TestUnlockRequest_DeniedWhenLipstickUnavailable(t *testing.T) {
	m, p, _, _, _, sig := newHarness(t)

	p.LipstickAvailable.Publish(false)
	p.Submode.Publish(p.Submode.Read().Set(facts.TklockSubmode, true))
	sig.modes = nil

	p.TkLockRequest.Publish(facts.TkLockRequestUnlocked)

	require.True(t, p.Submode.Read().Has(facts.TklockSubmode), "submode stays locked")
	require.False(t, m.WantToUnlock())
}

// Removal is denied while device-lock is engaged and
// devicelock_in_lockscreen is set, raising want_to_unlock and emitting
// the deferred show-device-unlock signal on the next notify.
func TestUnlockRequest_DeniedByDevicelock_RaisesWantToUnlock(t *testing.T) {
	m, p, sett, _, _, sig := newHarness(t)

	p.LipstickAvailable.Publish(true)
	sett.SetBool(settings.KeyDevicelockInLockscreen, true)
	p.DeviceLockState.Publish(facts.DeviceLockLocked)
	p.Submode.Publish(p.Submode.Read().Set(facts.TklockSubmode, true))

	p.TkLockRequest.Publish(facts.TkLockRequestUnlocked)

	require.True(t, m.WantToUnlock())
	require.Equal(t, 1, sig.showUnlocks)
	require.True(t, p.Submode.Read().Has(facts.TklockSubmode))
}

func TestUnlockRequest_DeniedByClosedLid(t *testing.T) {
	_, p, _, _, _, _ := newHarness(t)

	p.LipstickAvailable.Publish(true)
	p.LidCoverPolicy.Publish(facts.CoverClosed)
	p.Submode.Publish(p.Submode.Read().Set(facts.TklockSubmode, true))

	p.TkLockRequest.Publish(facts.TkLockRequestUnlocked)

	require.True(t, p.Submode.Read().Has(facts.TklockSubmode))
}

func TestUnlockRequest_GrantedWhenNoGatesBlock(t *testing.T) {
	_, p, _, _, _, _ := newHarness(t)

	p.LipstickAvailable.Publish(true)
	p.Submode.Publish(p.Submode.Read().Set(facts.TklockSubmode, true))

	p.TkLockRequest.Publish(facts.TkLockRequestUnlocked)

	require.False(t, p.Submode.Read().Has(facts.TklockSubmode))
}

// Notify delivery postpones while the display is about to blank,
// holding the wakelock until it fires.
func TestNotify_PostponedWhileDisplayAboutToBlank(t *testing.T) {
	_, p, _, wake, ui, _ := newHarness(t)

	p.DisplayState.Publish(facts.DisplayOn)
	p.DisplayStateNext.Publish(facts.DisplayOff)

	p.TkLockRequest.Publish(facts.TkLockRequestLocked)

	require.Empty(t, ui.reqs, "notify deferred")
	require.True(t, wake.Held(NotifyWakelockName))
}

func TestNotify_UsesOneInputModeWhenAnimationsDisabled(t *testing.T) {
	_, p, sett, _, ui, _ := newHarness(t)

	sett.SetBool(settings.KeyLockscreenAnimEnabled, false)
	p.TkLockRequest.Publish(facts.TkLockRequestLocked)

	require.Len(t, ui.reqs, 1)
	require.Equal(t, NotifyModeOneInput, ui.reqs[0].Mode)
}

func TestNotify_CarriesRegisteredCallbackTuple(t *testing.T) {
	m, p, _, _, ui, _ := newHarness(t)

	m.SetNotifyCallback("com.example.ui", "/com/example/ui/screenlock",
		"com.example.ui.screenlock", "open")
	p.TkLockRequest.Publish(facts.TkLockRequestLocked)

	require.Len(t, ui.reqs, 1)
	req := ui.reqs[0]
	require.Equal(t, "com.example.ui", req.CallbackService)
	require.Equal(t, "/com/example/ui/screenlock", req.CallbackPath)
	require.Equal(t, "com.example.ui.screenlock", req.CallbackIface)
	require.Equal(t, "open", req.CallbackMethod)
	require.False(t, req.Flicker)
}

func TestLockedDelayRequest_GrantsAfterAutolockDelay(t *testing.T) {
	log := hclog.NewNullLogger()
	src := clock.NewFakeSource(0)
	cs := clock.NewService(log, src)
	p := pipes.NewPipes()
	sett := settings.NewTracker(log)
	settings.Default(sett)
	wake := wakelock.NewGateway(log, nil)
	New(log, p, cs, sett, wake, nil, nil)

	p.TkLockRequest.Publish(facts.TkLockRequestLockedDelay)
	require.False(t, p.Submode.Read().Has(facts.TklockSubmode))

	src.Advance(int64(settings.AutolockDelayDefMs))
	cs.Tick()
	require.True(t, p.Submode.Read().Has(facts.TklockSubmode))
}
