package notifslot

import (
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"

	"github.com/sailfish-mce/tklock-core/internal/clock"
	"github.com/sailfish-mce/tklock-core/internal/facts"
	"github.com/sailfish-mce/tklock-core/internal/pipes"
	"github.com/sailfish-mce/tklock-core/internal/uiexcept"
	"github.com/sailfish-mce/tklock-core/internal/wakelock"
)

type recordingWatcher struct {
	owners []string
}

func (w *recordingWatcher) WatchOwner(owner string) { w.owners = append(w.owners, owner) }

func newHarness(t *testing.T) (*Pool, *pipes.Pipes, *clock.FakeSource, *clock.Service, *recordingWatcher) {
	t.Helper()
	log := hclog.NewNullLogger()
	src := clock.NewFakeSource(0)
	cs := clock.NewService(log, src)
	p := pipes.NewPipes()
	uix := uiexcept.New(log, p, cs, wakelock.NewGateway(log, nil))
	w := &recordingWatcher{}
	pool := New(log, p, cs, uix, w)
	return pool, p, src, cs, w
}

func TestReserve_BeginsNotifException(t *testing.T) {
	pool, p, _, _, watcher := newHarness(t)

	pool.Reserve("com.example.a", "n1", 10000, 2000)

	require.Equal(t, facts.ExceptionNotif, p.ExceptionState.Read())
	require.Len(t, pool.Live(), 1)
	require.Equal(t, []string{"com.example.a"}, watcher.owners)
}

// Touch activity while NOTIF is topmost renews a slot's expiry.
func TestTouchActivity_RenewsSlotsDuringNotif(t *testing.T) {
	pool, p, src, cs, _ := newHarness(t)

	pool.Reserve("owner", "n1", 10000, 2000)
	src.Advance(1000)
	p.UserActivity.Publish(struct{}{})

	live := pool.Live()
	require.Len(t, live, 1)
	require.Equal(t, int64(3000), live[0].ExpiryTick)

	src.Advance(1999)
	cs.Tick()
	require.Equal(t, facts.ExceptionNotif, p.ExceptionState.Read())

	src.Advance(2)
	cs.Tick()
	require.Equal(t, facts.ExceptionNone, p.ExceptionState.Read())
}

func TestVacate_FreesSlotAndEndsException(t *testing.T) {
	pool, p, _, _, _ := newHarness(t)

	pool.Reserve("owner", "n1", 10000, 0)
	pool.Vacate("owner", "n1", 0)

	require.Empty(t, pool.Live())
	require.Equal(t, facts.ExceptionNone, p.ExceptionState.Read())
}

// Reserve followed by an immediate zero-linger vacate returns the pool
// to its prior (empty) contents.
func TestReserveThenVacate_RoundTrip(t *testing.T) {
	pool, _, _, _, _ := newHarness(t)

	before := pool.Live()
	pool.Reserve("owner", "n1", 5000, 0)
	pool.Vacate("owner", "n1", 0)
	after := pool.Live()

	require.Equal(t, before, after)
}

func TestOwnerLost_VacatesAllOwnerSlots(t *testing.T) {
	pool, _, _, _, _ := newHarness(t)

	pool.Reserve("owner", "n1", 5000, 0)
	pool.Reserve("owner", "n2", 5000, 0)
	pool.Reserve("other", "n3", 5000, 0)

	pool.OnOwnerLost("owner")

	live := pool.Live()
	require.Len(t, live, 1)
	require.Equal(t, "n3", live[0].Name)
}

// renew=0 disables renewal outright rather than falling back to the
// configured default.
func TestClampRenew_ZeroDisablesRenewal(t *testing.T) {
	require.Equal(t, int64(0), clampRenew(0))
	require.Equal(t, int64(DefaultRenewMs), clampRenew(-1))
	require.Equal(t, int64(MaxRenewMs), clampRenew(100000))
}

// Same name, different owner is first-match-wins -- the existing slot is
// reused and rewritten with the new owner.
func TestReserve_SameNameDifferentOwner_FirstMatchWins(t *testing.T) {
	pool, _, _, _, _ := newHarness(t)

	pool.Reserve("ownerA", "shared", 5000, 0)
	pool.Reserve("ownerB", "shared", 8000, 0)

	live := pool.Live()
	require.Len(t, live, 1)
	require.Equal(t, "ownerB", live[0].Owner)
}

func TestPool_NeverExceedsCapacity(t *testing.T) {
	pool, _, _, _, _ := newHarness(t)

	for i := 0; i < PoolSize+5; i++ {
		pool.Reserve("owner", rune32(i), 5000, 0)
	}
	require.LessOrEqual(t, len(pool.Live()), PoolSize)
}

func rune32(i int) string {
	const letters = "abcdefghijklmnopqrstuvwxyz0123456789"
	return string(letters[i%len(letters)]) + string(letters[(i/len(letters))%len(letters)])
}
