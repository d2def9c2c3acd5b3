// Package clock provides the monotonic boot-tick time source and the two
// timer abstractions the policy core needs: a suspend-aware "heartbeat"
// timer firing relative to a boot-time monotonic clock that keeps
// advancing across suspend, and a plain wall-clock timer whose owner must
// recompute the deadline on resume (proximity-lock uses the latter).
package clock

import (
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/sailfish-mce/tklock-core/internal/facts"
)

// Source is the monotonic tick source. Production code uses NewRealSource;
// tests use NewFakeSource to control time deterministically.
type Source interface {
	// NowMs returns the current monotonic tick, in milliseconds, clamped
	// to [facts.MinTick, facts.MaxTick].
	NowMs() int64
}

// RealSource wraps time.Now with a fixed epoch, matching boot-time
// monotonic semantics: ticks only ever increase, including across the
// process's perception of suspend (the OS clock backing time.Now with the
// monotonic reading already does this on Linux).
type RealSource struct {
	epoch time.Time
}

func NewRealSource() *RealSource { return &RealSource{epoch: time.Now()} }

func (s *RealSource) NowMs() int64 {
	return facts.ClampTick(time.Since(s.epoch).Milliseconds())
}

// FakeSource is a manually-advanced clock for tests.
type FakeSource struct {
	mu  sync.Mutex
	now int64
}

func NewFakeSource(startMs int64) *FakeSource {
	return &FakeSource{now: facts.ClampTick(startMs)}
}

func (s *FakeSource) NowMs() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// Advance moves the fake clock forward by ms milliseconds. It fires no
// timers itself; timers that became due fire on the next Service.Tick.
func (s *FakeSource) Advance(ms int64) {
	s.mu.Lock()
	s.now = facts.ClampTick(s.now + ms)
	s.mu.Unlock()
}

func (s *FakeSource) Set(ms int64) {
	s.mu.Lock()
	s.now = facts.ClampTick(ms)
	s.mu.Unlock()
}

// Kind distinguishes suspend-aware from wall-clock timers. Both are driven
// by the same Source in this single-process model (there is no real OS
// suspend to emulate), but the distinction governs behavior on Resume: a
// HeartbeatTimer is expected to have "fired during suspend" and Resume just
// lets its callback run on the next Tick; a WallClock timer's owner must
// call RecomputeOnResume, which evaluates whether the deadline already
// passed and reschedules the remainder if not.
type Kind int

const (
	Heartbeat Kind = iota
	WallClock
)

// TimerID identifies an armed timer for idempotent cancellation and for
// the "am I still the armed timer" check every callback performs before
// acting.
type TimerID uint64

type timer struct {
	id       TimerID
	kind     Kind
	deadline int64
	fn       func()
	canceled bool
}

// Service owns all armed timers for the process and fires due ones when
// Tick is called. There is no background goroutine: the daemon's run loop
// (cmd/mced) calls Tick each time its ticker fires, on the same goroutine
// that runs queued events, keeping the whole core a single-threaded
// cooperative event loop.
type Service struct {
	log    hclog.Logger
	src    Source
	mu     sync.Mutex
	nextID TimerID
	timers map[TimerID]*timer
}

func NewService(log hclog.Logger, src Source) *Service {
	return &Service{
		log:    log.Named("clock"),
		src:    src,
		timers: make(map[TimerID]*timer),
	}
}

// Now returns the current tick.
func (s *Service) Now() int64 { return s.src.NowMs() }

// Arm schedules fn to run the next time Tick observes now >= deadlineMs. It
// returns a TimerID that Cancel accepts idempotently (canceling an already
// fired or already canceled id is a no-op).
func (s *Service) Arm(kind Kind, deadlineMs int64, fn func()) TimerID {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	s.timers[id] = &timer{id: id, kind: kind, deadline: facts.ClampTick(deadlineMs), fn: fn}
	return id
}

// ArmAfter is a convenience wrapper arming a deadline relative to now.
func (s *Service) ArmAfter(kind Kind, delayMs int64, fn func()) TimerID {
	return s.Arm(kind, s.Now()+delayMs, fn)
}

// Cancel idempotently disarms id. Safe to call multiple times or after the
// timer already fired.
func (s *Service) Cancel(id TimerID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[id]; ok {
		t.canceled = true
		delete(s.timers, id)
	}
}

// Armed reports whether id is still armed (not fired, not canceled).
// Useful when a single logical deadline may be re-armed under a new id.
func (s *Service) Armed(id TimerID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.timers[id]
	return ok && !t.canceled
}

// Remaining returns the remaining ms until id's deadline, or 0 if it is not
// armed or already due.
func (s *Service) Remaining(id TimerID) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.timers[id]
	if !ok {
		return 0
	}
	rem := t.deadline - s.src.NowMs()
	if rem < 0 {
		return 0
	}
	return rem
}

// Tick fires every armed timer whose deadline has passed. Callbacks run
// synchronously, in increasing-deadline order, matching the cooperative
// single-threaded loop's expectations. A callback firing may itself Arm new
// timers; those are not fired within the same Tick call.
func (s *Service) Tick() {
	s.mu.Lock()
	now := s.src.NowMs()
	var due []*timer
	for _, t := range s.timers {
		if !t.canceled && now >= t.deadline {
			due = append(due, t)
		}
	}
	for _, t := range due {
		delete(s.timers, t.id)
	}
	s.mu.Unlock()

	sortByDeadline(due)
	for _, t := range due {
		s.log.Trace("timer fired", "id", t.id, "kind", t.kind)
		t.fn()
	}
}

func sortByDeadline(ts []*timer) {
	for i := 1; i < len(ts); i++ {
		for j := i; j > 0 && ts[j].deadline < ts[j-1].deadline; j-- {
			ts[j], ts[j-1] = ts[j-1], ts[j]
		}
	}
}

// RecomputeOnResume implements the wall-clock timer's on-resume
// semantics: if the deadline already passed, it runs fn immediately
// (synchronously, as though Tick had fired it) and returns true; otherwise
// it leaves the timer armed with its original remaining time and returns
// false. Call this from the owning state machine's device-resume handler.
func (s *Service) RecomputeOnResume(id TimerID) (fired bool) {
	s.mu.Lock()
	t, ok := s.timers[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	now := s.src.NowMs()
	if now < t.deadline {
		s.mu.Unlock()
		return false
	}
	delete(s.timers, t.id)
	s.mu.Unlock()
	t.fn()
	return true
}
