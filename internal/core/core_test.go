package core

import (
	"context"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"

	"github.com/sailfish-mce/tklock-core/internal/clock"
	"github.com/sailfish-mce/tklock-core/internal/facts"
	"github.com/sailfish-mce/tklock-core/internal/uiexcept"
)

func TestNew_WiresEveryMachineAgainstSharedPipes(t *testing.T) {
	log := hclog.NewNullLogger()
	src := clock.NewFakeSource(0)
	c := New(log, src, Config{})

	require.NotNil(t, c.UIExcept)
	require.NotNil(t, c.Autolock)
	require.NotNil(t, c.Proxlock)
	require.NotNil(t, c.LidALS)
	require.NotNil(t, c.KbdSlide)
	require.NotNil(t, c.LPMUI)
	require.NotNil(t, c.NotifPool)
	require.NotNil(t, c.InputGrab)
	require.NotNil(t, c.TkLockReq)
	require.NotNil(t, c.EvtExcept)

	c.Pipes.DisplayState.Publish(facts.DisplayOff)
	require.True(t, c.Pipes.TouchGrabWanted.Read())
}

func TestTeardown_CancelsContextAndClearsException(t *testing.T) {
	log := hclog.NewNullLogger()
	src := clock.NewFakeSource(0)
	c := New(log, src, Config{})

	c.UIExcept.Begin(uiexcept.Notif, 0)
	c.Teardown()

	require.Equal(t, facts.ExceptionNone, c.Pipes.ExceptionState.Read())
	select {
	case <-c.Context().Done():
	default:
		t.Fatal("expected context to be canceled after teardown")
	}
}

type stubQuerier struct {
	state facts.DeviceLockState
	calls int
}

func (q *stubQuerier) QueryDeviceLockState(context.Context) (facts.DeviceLockState, error) {
	q.calls++
	return q.state, nil
}

func TestDevicelockAvailable_TriggersQueryRoundTrip(t *testing.T) {
	log := hclog.NewNullLogger()
	src := clock.NewFakeSource(0)
	c := New(log, src, Config{})

	q := &stubQuerier{state: facts.DeviceLockLocked}
	c.AttachDeviceLockQuerier(q)

	c.Pipes.DevicelockAvailable.Publish(true)

	require.Equal(t, 1, q.calls)
	require.Equal(t, facts.DeviceLockLocked, c.Pipes.DeviceLockState.Read())
}
