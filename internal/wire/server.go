package wire

import (
	"context"
	"fmt"
	"sync"

	godbus "github.com/godbus/dbus/v5"
	"github.com/hashicorp/go-hclog"

	"github.com/sailfish-mce/tklock-core/internal/diagnostics"
	"github.com/sailfish-mce/tklock-core/internal/facts"
	"github.com/sailfish-mce/tklock-core/internal/notifslot"
	"github.com/sailfish-mce/tklock-core/internal/pipes"
)

// Server implements every consumed bus message as an exported D-Bus
// method plus a NameOwnerChanged watch, translating wire-level arguments
// into facts/pipes publishes. Argument validation errors are logged and
// the request dropped -- they never panic the core.
type Server struct {
	conn     Conn
	pipes    *pipes.Pipes
	pool     *notifslot.Pool
	log      hclog.Logger
	dispatch Dispatch

	ownerMu       sync.Mutex
	watchedOwners map[string]bool
	sigCh         chan *godbus.Signal

	notifyCB func(service, path, iface, method string)

	diag *diagnostics.Collector
}

// Dispatch serializes a bus-originated mutation into the core's event
// loop: godbus invokes exported methods on its own goroutines, so every
// pipe/pool mutation below goes through this hook to reach the
// single-threaded loop. The default runs fn inline, which is what the
// in-process tests want.
type Dispatch func(fn func())

func NewServer(log hclog.Logger, conn Conn, p *pipes.Pipes, pool *notifslot.Pool) *Server {
	s := &Server{
		conn:          conn,
		pipes:         p,
		pool:          pool,
		log:           log.Named("wire.server"),
		dispatch:      func(fn func()) { fn() },
		watchedOwners: make(map[string]bool),
	}
	return s
}

// SetDispatch installs the event-loop funnel; call before Export.
func (s *Server) SetDispatch(d Dispatch) {
	if d != nil {
		s.dispatch = d
	}
}

// SetNotifyCallbackSink wires TkLockCallbackRegister to the arbiter's
// callback-tuple setter; call before Export.
func (s *Server) SetNotifyCallbackSink(fn func(service, path, iface, method string)) {
	s.notifyCB = fn
}

// Export registers Server's exported methods on the tklock object path and
// starts the NameOwnerChanged watch. Call once at bootstrap.
func (s *Server) Export() error {
	if err := s.conn.Export(s, ObjectPath, RequestIface); err != nil {
		return fmt.Errorf("export request interface: %w", err)
	}
	if err := s.conn.AddMatchSignal(
		godbus.WithMatchInterface("org.freedesktop.DBus"),
		godbus.WithMatchMember("NameOwnerChanged"),
	); err != nil {
		return fmt.Errorf("watch NameOwnerChanged: %w", err)
	}
	s.sigCh = make(chan *godbus.Signal, 16)
	s.conn.Signal(s.sigCh)
	go s.dispatchSignals()
	return nil
}

func (s *Server) dispatchSignals() {
	for sig := range s.sigCh {
		if sig.Name != "org.freedesktop.DBus.NameOwnerChanged" || len(sig.Body) != 3 {
			continue
		}
		name, _ := sig.Body[0].(string)
		newOwner, _ := sig.Body[2].(string)
		s.ownerMu.Lock()
		watched := s.watchedOwners[name]
		s.ownerMu.Unlock()
		if newOwner == "" && watched {
			s.OnOwnerLost(name)
		}
	}
}

// AttachDiagnostics wires the state-dump collector once core has finished
// constructing every sub-machine, mirroring AttachDeviceLockQuerier: Server
// is built before diagnostics.Collector since diagnostics also needs
// tklockreq.Machine, constructed alongside the rest of Core.
func (s *Server) AttachDiagnostics(d *diagnostics.Collector) {
	s.diag = d
}

// GetState returns a human-readable dump of the core's live state,
// rendered by diagnostics.Collector.Dump.
func (s *Server) GetState() (string, *godbus.Error) {
	if s.diag == nil {
		return "", godbus.NewError(RequestIface+".NotReady", []interface{}{"diagnostics not yet attached"})
	}
	dump, err := s.diag.Dump()
	if err != nil {
		return "", godbus.NewError(RequestIface+".InternalError", []interface{}{err.Error()})
	}
	return dump, nil
}

// WatchOwner implements notifslot.OwnerWatcher: marks owner as worth
// reacting to on NameOwnerChanged. The signal match itself is already
// bus-wide; there is no per-owner subscribe primitive.
func (s *Server) WatchOwner(owner string) {
	s.ownerMu.Lock()
	s.watchedOwners[owner] = true
	s.ownerMu.Unlock()
}

// OnOwnerLost forwards a bus owner drop to the notification pool so its
// slots are auto-vacated.
func (s *Server) OnOwnerLost(owner string) {
	s.ownerMu.Lock()
	delete(s.watchedOwners, owner)
	s.ownerMu.Unlock()
	s.dispatch(func() { s.pool.OnOwnerLost(owner) })
}

// --- exported D-Bus methods, one per consumed message ----------------

// SetTkLockMode handles the tklock mode change request: argument string
// {locked, locked-dim, locked-delay, unlocked}.
func (s *Server) SetTkLockMode(mode string) *godbus.Error {
	req, ok := parseTkLockMode(mode)
	if !ok {
		s.log.Warn("invalid tklock mode request", "mode", mode)
		return godbus.NewError(RequestIface+".InvalidArgument", []interface{}{"unknown mode " + mode})
	}
	s.dispatch(func() { s.pipes.TkLockRequest.Publish(req) })
	return nil
}

func parseTkLockMode(mode string) (facts.TkLockRequest, bool) {
	switch mode {
	case "locked":
		return facts.TkLockRequestLocked, true
	case "locked-dim":
		return facts.TkLockRequestLockedDim, true
	case "locked-delay":
		return facts.TkLockRequestLockedDelay, true
	case "unlocked":
		return facts.TkLockRequestUnlocked, true
	default:
		return facts.TkLockRequestUndef, false
	}
}

// TkLockUICallback handles the lockscreen UI's integer callback: {unlock,
// closed}. A value of 0 requests unlock, 1 reports the UI closed without
// unlocking (treated as a no-op removal-denied observation, logged only).
func (s *Server) TkLockUICallback(value int32) *godbus.Error {
	switch value {
	case 0:
		s.dispatch(func() { s.pipes.TkLockRequest.Publish(facts.TkLockRequestUnlocked) })
	case 1:
		s.log.Debug("tklock ui closed without unlock")
	default:
		s.log.Warn("invalid tklock ui callback value", "value", value)
	}
	return nil
}

// TkLockCallbackRegister lets the lockscreen UI (re)register the method
// tuple the core calls back with on tklock mode changes.
func (s *Server) TkLockCallbackRegister(service, path, iface, method string) *godbus.Error {
	if service == "" || path == "" || iface == "" || method == "" {
		s.log.Warn("invalid tklock callback registration",
			"service", service, "path", path, "iface", iface, "method", method)
		return godbus.NewError(RequestIface+".InvalidArgument", []interface{}{"empty callback component"})
	}
	if s.notifyCB == nil {
		return godbus.NewError(RequestIface+".NotReady", []interface{}{"callback sink not yet attached"})
	}
	s.dispatch(func() { s.notifyCB(service, path, iface, method) })
	return nil
}

// NotificationBegin handles `(string name, int32 duration_ms, int32
// renew_ms)`; sender is the owner, supplied by godbus's Sender injection.
func (s *Server) NotificationBegin(name string, durationMs, renewMs int32, sender godbus.Sender) *godbus.Error {
	s.dispatch(func() { s.pool.Reserve(string(sender), name, int64(durationMs), int64(renewMs)) })
	return nil
}

// NotificationEnd handles `(string name, int32 linger_ms)`.
func (s *Server) NotificationEnd(name string, lingerMs int32, sender godbus.Sender) *godbus.Error {
	s.dispatch(func() { s.pool.Vacate(string(sender), name, int64(lingerMs)) })
	return nil
}

// DeviceLockStateChanged handles the device-lock service's state signal:
// `int32 state`.
func (s *Server) DeviceLockStateChanged(state int32) *godbus.Error {
	var dl facts.DeviceLockState
	switch state {
	case 0:
		dl = facts.DeviceLockUnlocked
	case 1:
		dl = facts.DeviceLockLocked
	default:
		dl = facts.DeviceLockUndefined
	}
	s.dispatch(func() { s.pipes.DeviceLockState.Publish(dl) })
	return nil
}

// InteractionExpectedChanged handles the `boolean` interaction-expected
// signal.
func (s *Server) InteractionExpectedChanged(expected bool) *godbus.Error {
	s.dispatch(func() { s.pipes.InteractionExpected.Publish(expected) })
	return nil
}

// QueryDeviceLockState is the "get current device lock state" round-trip
// issued at startup and on devicelock_available false->true, instead of
// waiting passively for the next push signal.
func (s *Server) QueryDeviceLockState(ctx context.Context) (facts.DeviceLockState, error) {
	obj := s.conn.Object(DeviceLockDest, DeviceLockPath)
	call := obj.CallWithContext(ctx, DeviceLockIface+".GetState", 0)
	if call.Err != nil {
		return facts.DeviceLockUndefined, call.Err
	}
	var state int32
	if err := call.Store(&state); err != nil {
		return facts.DeviceLockUndefined, err
	}
	switch state {
	case 0:
		return facts.DeviceLockUnlocked, nil
	case 1:
		return facts.DeviceLockLocked, nil
	default:
		return facts.DeviceLockUndefined, nil
	}
}

var _ notifslot.OwnerWatcher = (*Server)(nil)
