package uiexcept

import (
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"

	"github.com/sailfish-mce/tklock-core/internal/clock"
	"github.com/sailfish-mce/tklock-core/internal/facts"
	"github.com/sailfish-mce/tklock-core/internal/pipes"
	"github.com/sailfish-mce/tklock-core/internal/wakelock"
)

func newHarness(t *testing.T) (*Machine, *pipes.Pipes, *clock.FakeSource, *clock.Service) {
	t.Helper()
	log := hclog.NewNullLogger()
	src := clock.NewFakeSource(0)
	cs := clock.NewService(log, src)
	p := pipes.NewPipes()
	wake := wakelock.NewGateway(log, nil)
	m := New(log, p, cs, wake)
	return m, p, src, cs
}

// A covered proximity sensor during a handset-routed call blanks the
// display; uncovering lights it again only after the grace elapses.
func TestProximityBlankDuringCall(t *testing.T) {
	m, p, src, cs := newHarness(t)

	p.DisplayState.Publish(facts.DisplayOn)
	p.AudioRoute.Publish(facts.AudioRouteHandset)
	p.ProximitySensor.Publish(facts.CoverOpen)
	p.CallState.Publish(facts.CallActive)

	m.Begin(Call, 0)
	require.Equal(t, facts.DisplayOn, p.DisplayStateReq.Read())
	require.False(t, p.ProximityBlank.Read())

	p.ProximitySensor.Publish(facts.CoverClosed)
	require.Equal(t, facts.DisplayOff, p.DisplayStateReq.Read())
	require.True(t, p.ProximityBlank.Read())

	p.ProximitySensor.Publish(facts.CoverOpen)
	require.Equal(t, facts.DisplayOff, p.DisplayStateReq.Read(), "display stays blank through the grace")
	require.True(t, p.ProximityBlank.Read())
	require.True(t, m.wake.Held(ProximityWakelockName))

	src.Advance(ProximityGraceMs + 1)
	cs.Tick()
	require.Equal(t, facts.DisplayOn, p.DisplayStateReq.Read())
	require.False(t, p.ProximityBlank.Read())
	require.False(t, m.wake.Held(ProximityWakelockName), "grace wakelock released once fired")
}

// Re-covering during the grace cancels the timer and releases its
// wakelock.
func TestProximityGrace_CanceledByRecover(t *testing.T) {
	m, p, src, cs := newHarness(t)

	p.DisplayState.Publish(facts.DisplayOn)
	p.AudioRoute.Publish(facts.AudioRouteHandset)
	p.CallState.Publish(facts.CallActive)
	m.Begin(Call, 0)

	p.ProximitySensor.Publish(facts.CoverClosed)
	p.ProximitySensor.Publish(facts.CoverOpen)
	require.True(t, m.wake.Held(ProximityWakelockName))

	p.ProximitySensor.Publish(facts.CoverClosed)
	require.False(t, m.wake.Held(ProximityWakelockName))
	require.True(t, p.ProximityBlank.Read())

	src.Advance(ProximityGraceMs + 1)
	cs.Tick()
	require.Equal(t, facts.DisplayOff, p.DisplayStateReq.Read(), "stale grace must not unblank a re-covered call")
}

func TestPriorityLadder_NotifBeatsCall(t *testing.T) {
	m, p, _, _ := newHarness(t)
	p.CallState.Publish(facts.CallActive)
	p.AudioRoute.Publish(facts.AudioRouteHandset)
	p.ProximitySensor.Publish(facts.CoverClosed)

	m.Begin(Call, 0)
	require.Equal(t, facts.DisplayOff, p.DisplayStateReq.Read())

	m.Begin(Notif, 0)
	require.Equal(t, Notif, m.Mask().Topmost())
	require.Equal(t, facts.DisplayOn, p.DisplayStateReq.Read())
}

// Begin(X)+End(X,0) with no other state change and no linger leaves the
// exception state equal to the prior state.
func TestRoundTrip_BeginEndNoLinger(t *testing.T) {
	m, p, _, _ := newHarness(t)
	p.DisplayState.Publish(facts.DisplayOn)

	m.Begin(Alarm, 0)
	require.True(t, m.Active())

	m.End(Alarm, 0)
	require.False(t, m.Active())
	require.Equal(t, facts.ExceptionNone, p.ExceptionState.Read())
}

func TestRestoreInvariant_NeverFlipsBackToTrue(t *testing.T) {
	m, p, _, _ := newHarness(t)
	p.DisplayState.Publish(facts.DisplayOn)
	p.Submode.Publish(facts.TklockSubmode)

	m.Begin(Notif, 0)
	require.True(t, m.restore)

	p.Submode.Publish(facts.Submode(0)) // tklock removed mid-exception
	require.False(t, m.restore)

	// Further unrelated changes must not flip restore back to true.
	p.DisplayState.Publish(facts.DisplayOn)
	require.False(t, m.restore)
}

func TestFinish_RestoresSavedDisplayWhenProximityUncovered(t *testing.T) {
	m, p, _, _ := newHarness(t)
	p.DisplayState.Publish(facts.DisplayOn)
	p.ProximitySensor.Publish(facts.CoverOpen)
	p.LidCoverPolicy.Publish(facts.CoverOpen)

	m.Begin(Notif, 0)
	m.End(Notif, 0)

	require.Equal(t, facts.DisplayOn, p.DisplayStateReq.Read())
}

func TestFinish_FallsBackToLPMOnWhenProximityCovered(t *testing.T) {
	m, p, _, _ := newHarness(t)
	p.DisplayState.Publish(facts.DisplayOn)
	p.ProximitySensor.Publish(facts.CoverClosed)

	m.Begin(Notif, 0)
	m.End(Notif, 0)

	require.Equal(t, facts.DisplayLPMOn, p.DisplayStateReq.Read())
}

func TestLinger_ArmsAndFinishesOnTimeout(t *testing.T) {
	m, p, src, cs := newHarness(t)
	p.DisplayState.Publish(facts.DisplayOn)
	p.ProximitySensor.Publish(facts.CoverOpen)

	m.Begin(Notif, 0)
	m.End(Notif, 2000)

	require.Equal(t, Linger, m.Mask())
	require.True(t, m.Active())

	src.Advance(2001)
	cs.Tick()

	require.False(t, m.Active())
	require.Equal(t, facts.DisplayOn, p.DisplayStateReq.Read())
}
