package inputgrab

import (
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"

	"github.com/sailfish-mce/tklock-core/internal/clock"
	"github.com/sailfish-mce/tklock-core/internal/facts"
	"github.com/sailfish-mce/tklock-core/internal/pipes"
	"github.com/sailfish-mce/tklock-core/internal/settings"
)

type recordingEnabler struct {
	calls []string
}

func (e *recordingEnabler) SetGrab(target string, grabbed bool) {
	state := "ungrab"
	if grabbed {
		state = "grab"
	}
	e.calls = append(e.calls, target+":"+state)
}

type recordingRecalibrator struct {
	n int
}

func (r *recordingRecalibrator) Recalibrate() { r.n++ }

func newHarness(t *testing.T) (*Machine, *pipes.Pipes, *settings.Tracker, *clock.FakeSource, *clock.Service, *recordingEnabler) {
	t.Helper()
	log := hclog.NewNullLogger()
	src := clock.NewFakeSource(0)
	cs := clock.NewService(log, src)
	p := pipes.NewPipes()
	sett := settings.NewTracker(log)
	settings.Default(sett)
	enabler := &recordingEnabler{}
	New(log, p, cs, sett, enabler, nil)
	return nil, p, sett, src, cs, enabler
}

func TestTouchscreenGrabbed_WhenDisplayOff(t *testing.T) {
	_, p, _, _, _, enabler := newHarness(t)

	p.DisplayState.Publish(facts.DisplayOff)

	require.True(t, p.TouchGrabWanted.Read())
	require.Contains(t, enabler.calls, "touchscreen:grab")
}

func TestTouchscreenUngrabbed_WhenDisplayOn(t *testing.T) {
	_, p, _, _, _, _ := newHarness(t)

	p.DisplayState.Publish(facts.DisplayOff)
	p.DisplayState.Publish(facts.DisplayOn)

	require.False(t, p.TouchGrabWanted.Read())
}

func TestTouchscreenUngrabBlocked_WhileProximityCoveredAndBlocksTouch(t *testing.T) {
	_, p, sett, _, _, _ := newHarness(t)

	sett.SetBool(settings.KeyProximityBlocksTouch, true)
	p.DisplayState.Publish(facts.DisplayOff)
	require.True(t, p.TouchGrabWanted.Read())

	p.ProximitySensor.Publish(facts.CoverClosed)
	p.DisplayState.Publish(facts.DisplayOn)
	require.True(t, p.TouchGrabWanted.Read(), "ungrab should be blocked while proximity covered")
}

func TestKeypadForceEnabled_DuringCall(t *testing.T) {
	_, p, _, _, _, _ := newHarness(t)

	p.DisplayState.Publish(facts.DisplayOff)
	require.True(t, p.KeypadGrabWanted.Read())

	p.CallState.Publish(facts.CallActive)
	require.False(t, p.KeypadGrabWanted.Read())
}

func TestVolumeKeysMediaOnly_ForcesKeypadGrabWhenNotPlaying(t *testing.T) {
	_, p, sett, _, _, _ := newHarness(t)

	sett.SetString(settings.KeyVolumeKeyPolicy, settings.VolumePolicyMediaOnly)
	p.DisplayState.Publish(facts.DisplayOn)
	require.True(t, p.KeypadGrabWanted.Read())

	p.MusicPlayback.Publish(true)
	require.False(t, p.KeypadGrabWanted.Read())
}

func TestDoubleTapCalibrator_BackoffThenHeartbeat(t *testing.T) {
	log := hclog.NewNullLogger()
	src := clock.NewFakeSource(0)
	cs := clock.NewService(log, src)
	p := pipes.NewPipes()
	recal := &recordingRecalibrator{}
	d := newDoubleTapCalibrator(log, p, cs, recal)

	d.Enable()
	for _, delay := range backoffSequenceMs {
		src.Advance(delay)
		cs.Tick()
	}
	require.Equal(t, len(backoffSequenceMs), recal.n)
	require.True(t, d.heartbeatMode)

	p.Heartbeat.Publish(src.NowMs())
	require.Equal(t, len(backoffSequenceMs)+1, recal.n)

	d.Disable()
	p.Heartbeat.Publish(src.NowMs() + 1)
	require.Equal(t, len(backoffSequenceMs)+1, recal.n)
}
