package proxlock

import (
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"

	"github.com/sailfish-mce/tklock-core/internal/clock"
	"github.com/sailfish-mce/tklock-core/internal/facts"
	"github.com/sailfish-mce/tklock-core/internal/pipes"
)

func newHarness(t *testing.T) (*Machine, *pipes.Pipes, *clock.FakeSource, *clock.Service) {
	t.Helper()
	log := hclog.NewNullLogger()
	src := clock.NewFakeSource(0)
	cs := clock.NewService(log, src)
	p := pipes.NewPipes()
	m := New(log, p, cs)
	return m, p, src, cs
}

func TestProxlock_FiresAfterFixedDelay(t *testing.T) {
	_, p, src, cs := newHarness(t)

	p.ProximitySensor.Publish(facts.CoverClosed)
	p.DisplayStateNext.Publish(facts.DisplayOn)
	p.DisplayState.Publish(facts.DisplayOff)
	p.DisplayStateNext.Publish(facts.DisplayOff)

	src.Advance(DelayMs - 1)
	cs.Tick()
	require.Equal(t, facts.TkLockRequestUndef, p.TkLockRequest.Read())

	src.Advance(2)
	cs.Tick()
	require.Equal(t, facts.TkLockRequestLocked, p.TkLockRequest.Read())
}

// Proximity-lock never fires while proximity reads open.
func TestProxlock_NeverFiresWhileProximityOpen(t *testing.T) {
	_, p, src, cs := newHarness(t)

	p.ProximitySensor.Publish(facts.CoverOpen)
	p.DisplayStateNext.Publish(facts.DisplayOn)
	p.DisplayState.Publish(facts.DisplayOff)
	p.DisplayStateNext.Publish(facts.DisplayOff)

	src.Advance(DelayMs + 500)
	cs.Tick()
	require.Equal(t, facts.TkLockRequestUndef, p.TkLockRequest.Read())
}

func TestProxlock_CanceledIfProximityOpensMidDelay(t *testing.T) {
	_, p, src, cs := newHarness(t)

	p.ProximitySensor.Publish(facts.CoverClosed)
	p.DisplayStateNext.Publish(facts.DisplayOn)
	p.DisplayState.Publish(facts.DisplayOff)
	p.DisplayStateNext.Publish(facts.DisplayOff)

	src.Advance(1000)
	p.ProximitySensor.Publish(facts.CoverOpen)
	cs.Tick()

	src.Advance(DelayMs)
	cs.Tick()
	require.Equal(t, facts.TkLockRequestUndef, p.TkLockRequest.Read())
}

func TestProxlock_ResumeFiresImmediatelyIfDeadlinePassedDuringSuspend(t *testing.T) {
	m, p, src, _ := newHarness(t)

	p.ProximitySensor.Publish(facts.CoverClosed)
	p.DisplayStateNext.Publish(facts.DisplayOn)
	p.DisplayState.Publish(facts.DisplayOff)
	p.DisplayStateNext.Publish(facts.DisplayOff)

	require.True(t, m.armed)
	src.Advance(DelayMs + 5000) // simulate suspend past the deadline, no Tick
	p.DeviceResumed.Publish(struct{}{})

	require.Equal(t, facts.TkLockRequestLocked, p.TkLockRequest.Read())
}

func TestProxlock_ResumeLeavesTimerArmedIfDeadlineNotReached(t *testing.T) {
	m, p, src, cs := newHarness(t)

	p.ProximitySensor.Publish(facts.CoverClosed)
	p.DisplayStateNext.Publish(facts.DisplayOn)
	p.DisplayState.Publish(facts.DisplayOff)
	p.DisplayStateNext.Publish(facts.DisplayOff)

	src.Advance(1000)
	p.DeviceResumed.Publish(struct{}{})
	require.Equal(t, facts.TkLockRequestUndef, p.TkLockRequest.Read())
	require.True(t, m.armed)

	src.Advance(DelayMs)
	cs.Tick()
	require.Equal(t, facts.TkLockRequestLocked, p.TkLockRequest.Read())
}
