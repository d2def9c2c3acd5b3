package wire

import (
	"context"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"

	"github.com/sailfish-mce/tklock-core/internal/facts"
	"github.com/sailfish-mce/tklock-core/internal/pipes"
	"github.com/sailfish-mce/tklock-core/internal/tklockreq"
)

func newPublisherHarness(t *testing.T) (*Publisher, *fakeConn, *pipes.Pipes) {
	t.Helper()
	conn := &fakeConn{}
	p := pipes.NewPipes()
	pub := NewPublisher(hclog.NewNullLogger(), conn, p)
	return pub, conn, p
}

func lastEmit(t *testing.T, conn *fakeConn) emitRec {
	t.Helper()
	require.NotEmpty(t, conn.emits)
	return conn.emits[len(conn.emits)-1]
}

func TestEmitTkLockMode(t *testing.T) {
	pub, conn, _ := newPublisherHarness(t)

	pub.EmitTkLockMode(true)
	rec := lastEmit(t, conn)
	require.Equal(t, SignalIface+".TkLockMode", rec.name)
	require.Equal(t, []interface{}{"locked"}, rec.values)

	pub.EmitTkLockMode(false)
	require.Equal(t, []interface{}{"unlocked"}, lastEmit(t, conn).values)
}

func TestEmitShowDeviceUnlock_ReusesPowerKeySignal(t *testing.T) {
	pub, conn, _ := newPublisherHarness(t)
	pub.EmitShowDeviceUnlock()
	rec := lastEmit(t, conn)
	require.Equal(t, SignalIface+".PowerKeyTrigger", rec.name)
	require.Equal(t, []interface{}{"double-power-key"}, rec.values)
}

func TestLPMUISignal_FollowsPipe(t *testing.T) {
	_, conn, p := newPublisherHarness(t)

	p.LPMUIEnabled.Publish(true)
	rec := lastEmit(t, conn)
	require.Equal(t, SignalIface+".LPMUIState", rec.name)
	require.Equal(t, []interface{}{"enabled"}, rec.values)

	p.LPMUIEnabled.Publish(false)
	require.Equal(t, []interface{}{"disabled"}, lastEmit(t, conn).values)
}

func TestKeyboardSignals_FollowCoverPipes(t *testing.T) {
	_, conn, p := newPublisherHarness(t)

	p.KeyboardSlide.Publish(facts.CoverClosed)
	rec := lastEmit(t, conn)
	require.Equal(t, SignalIface+".SlidingKeyboardState", rec.name)
	require.Equal(t, []interface{}{"closed"}, rec.values)

	p.KeyboardAvailable.Publish(facts.CoverOpen)
	rec = lastEmit(t, conn)
	require.Equal(t, SignalIface+".HardwareKeyboardState", rec.name)
	require.Equal(t, []interface{}{"open"}, rec.values)
}

func TestNotify_NoCallbackConfiguredIsNoop(t *testing.T) {
	pub, _, _ := newPublisherHarness(t)
	err := pub.Notify(context.Background(), tklockreq.NotifyRequest{Mode: tklockreq.NotifyModeVisual})
	require.NoError(t, err)
}
