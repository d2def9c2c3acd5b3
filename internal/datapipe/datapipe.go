// Package datapipe implements the core's publish/subscribe primitive: a
// named, latched, typed value with ordered input-trigger, filter and
// output-trigger chains. Pipe[T] is generic so payload types are
// compile-time checked instead of relying on interface{} sentinel
// values.
//
// Re-entrancy: Execute may be called again from within a trigger, on the
// same or a different pipe. Handler chains are only ever appended to (the
// package has no detach operation), never reordered, spliced or trimmed,
// so a trigger chain started by an outer Execute
// call keeps running correctly when an inner Execute mutates it. Callers
// MUST make every trigger idempotent on old==new (see (*Pipe[T]).Execute)
// -- that discipline, not any locking, is what bounds recursion depth.
package datapipe

// CachingPolicy selects what Execute latches into the pipe's cache.
type CachingPolicy int

const (
	// CacheNone never updates the cache; the pipe only carries transient
	// events (e.g. user_activity, keypress).
	CacheNone CachingPolicy = iota
	// CacheIndata latches the raw (pre-filter) value.
	CacheIndata
	// CacheOutdata latches the post-filter value. Used for all "latched
	// state" pipes (display_state, submode, ...).
	CacheOutdata
)

// Filter transforms indata into outdata. Multiple filters run in
// registration order, each receiving the previous filter's output.
type Filter[T any] func(in T) T

// Trigger observes a value; it must not block and must early-return when
// the observed value is unchanged from what it last saw. That
// change-detection guard is what bounds recursion across pipes.
type Trigger[T any] func(v T)

// Pipe is a named latched cell with subscriber chains for one value type.
type Pipe[T any] struct {
	name     string
	caching  CachingPolicy
	readOnly bool

	cached  T
	hasData bool

	inputTriggers  []Trigger[T]
	filters        []Filter[T]
	outputTriggers []Trigger[T]
}

// New constructs a pipe with an initial cached value. Caching controls
// what Execute latches; the read-only discipline on output-style pipes is
// enforced by convention at the call site, this package does not track
// call provenance.
func New[T any](name string, caching CachingPolicy, initial T) *Pipe[T] {
	return &Pipe[T]{
		name:    name,
		caching: caching,
		cached:  initial,
		hasData: true,
	}
}

// Name returns the pipe's diagnostic name.
func (p *Pipe[T]) Name() string { return p.name }

// Read returns the cached value (or the zero value of T if never published
// and constructed without an initial value).
func (p *Pipe[T]) Read() T { return p.cached }

// AttachInputTrigger appends a trigger observing raw indata, before filters
// run. Registration order is preserved and is the execution order.
func (p *Pipe[T]) AttachInputTrigger(t Trigger[T]) {
	p.inputTriggers = append(p.inputTriggers, t)
}

// AttachFilter appends a filter. Filters run input-trigger-phase-indata
// through in registration order, each seeing the prior filter's output.
func (p *Pipe[T]) AttachFilter(f Filter[T]) {
	p.filters = append(p.filters, f)
}

// AttachOutputTrigger appends a trigger observing the post-filter outdata.
func (p *Pipe[T]) AttachOutputTrigger(t Trigger[T]) {
	p.outputTriggers = append(p.outputTriggers, t)
}

// Execute runs input triggers, then filters, then output triggers, and
// updates the cache per the configured CachingPolicy. It returns the final
// (post-filter) value.
//
// Execute is safe to call re-entrantly (from within a trigger on this or
// any other pipe): Go's slice range over outputTriggers/inputTriggers
// captures the slice header at loop start, so a nested Execute that
// appends a new trigger to the same chain will not be observed by the
// outer, already-running loop. Chain mutation happens only at the tail:
// the package offers no way to remove an attached trigger or filter.
func (p *Pipe[T]) Execute(indata T) T {
	if p.caching == CacheIndata {
		p.cached = indata
		p.hasData = true
	}

	for _, t := range p.inputTriggers {
		t(indata)
	}

	out := indata
	for _, f := range p.filters {
		out = f(out)
	}

	if p.caching == CacheOutdata {
		p.cached = out
		p.hasData = true
	}

	for _, t := range p.outputTriggers {
		t(out)
	}

	return out
}

// Publish is Execute named for the common case where callers only care
// about the side effects (trigger cascades), not the returned value.
func (p *Pipe[T]) Publish(indata T) { p.Execute(indata) }

// HasData reports whether the pipe has ever been given a value (via New's
// initial or a subsequent Execute/Publish).
func (p *Pipe[T]) HasData() bool { return p.hasData }
