// Package notifslot implements the bounded pool of 32 time-limited
// notification slots driving the UI-exception machine's NOTIF bit. A
// single nearest-expiry consolidator timer serves the whole pool. Each
// slot carries a correlation id used in log lines only; it has no
// protocol meaning.
package notifslot

import (
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-uuid"

	"github.com/sailfish-mce/tklock-core/internal/clock"
	"github.com/sailfish-mce/tklock-core/internal/pipes"
	"github.com/sailfish-mce/tklock-core/internal/uiexcept"
)

// PoolSize is the fixed slot count.
const PoolSize = 32

// Clamp bounds for reserve/vacate arguments.
const (
	MinLengthMs = 1000
	MaxLengthMs = 30000

	MinRenewMs     = 0
	MaxRenewMs     = 5000
	DefaultRenewMs = 1000

	MinLingerMs = 0
	MaxLingerMs = 10000
)

// renewDisable: a sender-supplied renew=0 disables renewal outright
// rather than falling back to DefaultRenewMs. Negative values fall back
// to the default.
const renewDisable = 0

// Slot is one live reservation. Name is unique among live slots.
type Slot struct {
	Owner         string
	Name          string
	ExpiryTick    int64
	RenewMs       int64
	CorrelationID string
}

func (s *Slot) live() bool { return s.Name != "" }

// OwnerWatcher is implemented by the wire layer: it starts watching the
// bus for owner's NameOwnerChanged signal so the pool can auto-vacate on
// owner loss. The watch begins when an owner's first slot is reserved.
type OwnerWatcher interface {
	WatchOwner(owner string)
}

type nopWatcher struct{}

func (nopWatcher) WatchOwner(string) {}

// Pool owns the fixed 32-slot reservation table and drives uiexcept's NOTIF
// bit via a single nearest-expiry consolidator timer.
type Pool struct {
	log      hclog.Logger
	pipes    *pipes.Pipes
	clock    *clock.Service
	uix      *uiexcept.Machine
	watcher  OwnerWatcher

	slots      [PoolSize]Slot
	ownerCount map[string]int
	lingerTick int64

	autostopTimer clock.TimerID
	autostopArmed bool
}

func New(log hclog.Logger, p *pipes.Pipes, c *clock.Service, uix *uiexcept.Machine, watcher OwnerWatcher) *Pool {
	if watcher == nil {
		watcher = nopWatcher{}
	}
	pool := &Pool{
		log:        log.Named("notifslot"),
		pipes:      p,
		clock:      c,
		uix:        uix,
		watcher:    watcher,
		ownerCount: make(map[string]int),
	}
	pool.subscribe()
	return pool
}

// SetWatcher swaps in the real wire-layer owner watcher once the bus
// connection exists. Core constructs the pool before the bus is up, so it
// starts on a nop watcher and rewires it during bootstrap, the same way
// tklockreq swaps its UIClient/Signaler.
func (p *Pool) SetWatcher(w OwnerWatcher) {
	if w == nil {
		w = nopWatcher{}
	}
	p.watcher = w
}

func (p *Pool) subscribe() {
	p.pipes.UserActivity.AttachOutputTrigger(func(struct{}) { p.onTouchActivity() })
}

func clampMs(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// clampRenew: renew==0 disables renewal for the slot; negative renew
// falls back to DefaultRenewMs; any other value clamps to
// [MinRenewMs, MaxRenewMs].
func clampRenew(renewMs int64) int64 {
	if renewMs == renewDisable {
		return renewDisable
	}
	if renewMs < 0 {
		renewMs = DefaultRenewMs
	}
	return clampMs(renewMs, MinRenewMs, MaxRenewMs)
}

// Reserve creates or refreshes the slot named name. A slot already
// holding name is reused regardless of which owner reserved it first:
// same-name collisions across owners are first-match-wins, and the new
// owner takes the slot over.
func (p *Pool) Reserve(owner, name string, lengthMs, renewMs int64) {
	lengthMs = clampMs(lengthMs, MinLengthMs, MaxLengthMs)
	renewMs = clampRenew(renewMs)
	now := p.clock.Now()

	idx := p.indexByName(name)
	if idx < 0 {
		idx = p.firstFree()
	}
	if idx < 0 {
		p.log.Warn("notification pool full, reservation dropped", "owner", owner, "name", name)
		return
	}

	prevOwner := p.slots[idx].Owner
	if p.slots[idx].live() && prevOwner != owner {
		p.decOwner(prevOwner)
	}

	correlationID, err := uuid.GenerateUUID()
	if err != nil {
		p.log.Warn("could not generate correlation id", "error", err)
		correlationID = name
	}

	firstForOwner := p.ownerCount[owner] == 0
	p.slots[idx] = Slot{
		Owner:         owner,
		Name:          name,
		ExpiryTick:    now + lengthMs,
		RenewMs:       renewMs,
		CorrelationID: correlationID,
	}
	p.incOwner(owner)
	if firstForOwner {
		p.watcher.WatchOwner(owner)
	}

	p.log.Debug("notification reserved", "owner", owner, "name", name, "length_ms", lengthMs, "renew_ms", renewMs)
	p.consolidate()
}

// Vacate frees the slot matching name and extends the pool-wide linger
// deadline.
func (p *Pool) Vacate(owner, name string, lingerMs int64) {
	lingerMs = clampMs(lingerMs, MinLingerMs, MaxLingerMs)
	idx := p.indexByName(name)
	if idx >= 0 {
		p.free(idx)
	}
	now := p.clock.Now()
	if deadline := now + lingerMs; deadline > p.lingerTick {
		p.lingerTick = deadline
	}
	p.log.Debug("notification vacated", "owner", owner, "name", name, "linger_ms", lingerMs)
	p.consolidate()
}

// OnOwnerLost vacates every slot owned by owner, the auto-vacate half of
// the NameOwnerChanged watch.
func (p *Pool) OnOwnerLost(owner string) {
	freed := false
	for i := range p.slots {
		if p.slots[i].live() && p.slots[i].Owner == owner {
			p.free(i)
			freed = true
		}
	}
	delete(p.ownerCount, owner)
	if freed {
		p.log.Debug("owner lost, slots vacated", "owner", owner)
		p.consolidate()
	}
}

func (p *Pool) indexByName(name string) int {
	for i := range p.slots {
		if p.slots[i].live() && p.slots[i].Name == name {
			return i
		}
	}
	return -1
}

func (p *Pool) firstFree() int {
	for i := range p.slots {
		if !p.slots[i].live() {
			return i
		}
	}
	return -1
}

func (p *Pool) free(i int) {
	p.decOwner(p.slots[i].Owner)
	p.slots[i] = Slot{}
}

func (p *Pool) incOwner(owner string) { p.ownerCount[owner]++ }

func (p *Pool) decOwner(owner string) {
	if owner == "" {
		return
	}
	if p.ownerCount[owner] <= 1 {
		delete(p.ownerCount, owner)
		return
	}
	p.ownerCount[owner]--
}

// Live returns a snapshot of every currently-reserved slot, for diagnostics
// and tests.
func (p *Pool) Live() []Slot {
	out := make([]Slot, 0, PoolSize)
	for _, s := range p.slots {
		if s.live() {
			out = append(out, s)
		}
	}
	return out
}

// onTouchActivity renews all slots with renew>0 to now+renew while the
// NOTIF exception is topmost, then reconsolidates.
func (p *Pool) onTouchActivity() {
	if p.pipes.ExceptionState.Read().Topmost() != uiexcept.Notif {
		return
	}
	now := p.clock.Now()
	renewed := false
	for i := range p.slots {
		if p.slots[i].live() && p.slots[i].RenewMs > 0 {
			p.slots[i].ExpiryTick = now + p.slots[i].RenewMs
			renewed = true
		}
	}
	if renewed {
		p.consolidate()
	}
}

// consolidate computes the nearest
// expiry across all live slots, begin/extend the NOTIF exception while any
// slot is live, and end it (with the pool-wide linger) once the pool
// drains.
func (p *Pool) consolidate() {
	p.cancelAutostop()

	nearest, any := p.nearestExpiry()
	if any {
		p.uix.Begin(uiexcept.Notif, 0)
		delay := nearest - p.clock.Now()
		if delay < 0 {
			delay = 0
		}
		p.autostopTimer = p.clock.ArmAfter(clock.Heartbeat, delay, p.autostop)
		p.autostopArmed = true
		return
	}

	lingerRemaining := p.lingerTick - p.clock.Now()
	if lingerRemaining < 0 {
		lingerRemaining = 0
	}
	p.uix.End(uiexcept.Notif, lingerRemaining)
}

func (p *Pool) nearestExpiry() (tick int64, any bool) {
	for _, s := range p.slots {
		if !s.live() {
			continue
		}
		if !any || s.ExpiryTick < tick {
			tick = s.ExpiryTick
			any = true
		}
	}
	return tick, any
}

func (p *Pool) cancelAutostop() {
	if p.autostopArmed {
		p.clock.Cancel(p.autostopTimer)
		p.autostopArmed = false
	}
}

// autostop fires when the nearest slot expiry elapses: drop every slot
// whose expiry has passed, then reconsolidate (which may immediately
// re-arm for the next-nearest expiry, or begin ending NOTIF).
func (p *Pool) autostop() {
	p.autostopArmed = false
	now := p.clock.Now()
	for i := range p.slots {
		if p.slots[i].live() && p.slots[i].ExpiryTick <= now {
			p.free(i)
		}
	}
	p.consolidate()
}
