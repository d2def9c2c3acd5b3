// Package core wires every datapipe and sub-machine into one process: a
// long-lived object holding a context/cancel pair and a named logger,
// constructed once at process start and torn down once at shutdown.
package core

import (
	"context"

	"github.com/hashicorp/go-hclog"

	"github.com/sailfish-mce/tklock-core/internal/autolock"
	"github.com/sailfish-mce/tklock-core/internal/clock"
	"github.com/sailfish-mce/tklock-core/internal/evtexcept"
	"github.com/sailfish-mce/tklock-core/internal/facts"
	"github.com/sailfish-mce/tklock-core/internal/inputgrab"
	"github.com/sailfish-mce/tklock-core/internal/kbdslide"
	"github.com/sailfish-mce/tklock-core/internal/lidals"
	"github.com/sailfish-mce/tklock-core/internal/lpmui"
	"github.com/sailfish-mce/tklock-core/internal/notifslot"
	"github.com/sailfish-mce/tklock-core/internal/pipes"
	"github.com/sailfish-mce/tklock-core/internal/proxlock"
	"github.com/sailfish-mce/tklock-core/internal/settings"
	"github.com/sailfish-mce/tklock-core/internal/tklockreq"
	"github.com/sailfish-mce/tklock-core/internal/uiexcept"
	"github.com/sailfish-mce/tklock-core/internal/wakelock"
)

// Config selects the boundary collaborators Core needs but does not
// itself implement -- sensor discovery, sysfs writes and the display
// driver live elsewhere, injected as interfaces with no-op defaults.
type Config struct {
	SettingsPath string

	WakelockBackend wakelock.Backend
	EventEnabler    inputgrab.EventEnabler
	Recalibrator    inputgrab.Recalibrator
	OwnerWatcher    notifslot.OwnerWatcher
	UIClient        tklockreq.UIClient
	Signaler        tklockreq.Signaler
	LidTrustPath    string
}

// Core owns every datapipe and sub-machine instance for one running
// process. Construction order matters: pipes first (every package depends
// on the registry), then clock/wakelock (depended on by most machines),
// then state machines -- collaborators before consumers.
type Core struct {
	log hclog.Logger

	ctx            context.Context
	signalShutdown context.CancelFunc

	Pipes    *pipes.Pipes
	Clock    *clock.Service
	Settings *settings.Tracker
	Wakelock *wakelock.Gateway

	UIExcept  *uiexcept.Machine
	Autolock  *autolock.Machine
	Proxlock  *proxlock.Machine
	LidALS    *lidals.Machine
	LidTrust  *lidals.TrustGate
	KbdSlide  *kbdslide.Machine
	LPMUI     *lpmui.Machine
	NotifPool *notifslot.Pool
	InputGrab *inputgrab.Machine
	TkLockReq *tklockreq.Machine
	EvtExcept *evtexcept.Machine

	store   *settings.Store
	querier DeviceLockQuerier
	events  chan func()
}

// New constructs every component but does not start file watching or
// issue any bus calls; call Bootstrap for that.
func New(log hclog.Logger, src clock.Source, cfg Config) *Core {
	ctx, cancel := context.WithCancel(context.Background())
	log = log.Named("core")

	c := &Core{
		log:            log,
		ctx:            ctx,
		signalShutdown: cancel,
		Pipes:          pipes.NewPipes(),
		Clock:          clock.NewService(log, src),
		Settings:       settings.NewTracker(log),
		events:         make(chan func(), 64),
	}
	settings.Default(c.Settings)

	c.Wakelock = wakelock.NewGateway(log, cfg.WakelockBackend)

	c.LidTrust = lidals.NewTrustGate(log, cfg.LidTrustPath)

	c.UIExcept = uiexcept.New(log, c.Pipes, c.Clock, c.Wakelock)
	c.Autolock = autolock.New(log, c.Pipes, c.Clock, c.Settings)
	c.Proxlock = proxlock.New(log, c.Pipes, c.Clock)
	c.LidALS = lidals.New(log, c.Pipes, c.Clock, c.Settings, c.LidTrust)
	c.KbdSlide = kbdslide.New(log, c.Pipes, c.Settings)
	c.LPMUI = lpmui.New(log, c.Pipes, c.Clock, c.Settings)
	c.NotifPool = notifslot.New(log, c.Pipes, c.Clock, c.UIExcept, cfg.OwnerWatcher)
	c.InputGrab = inputgrab.New(log, c.Pipes, c.Clock, c.Settings, cfg.EventEnabler, cfg.Recalibrator)
	c.TkLockReq = tklockreq.New(log, c.Pipes, c.Clock, c.Settings, c.Wakelock, cfg.UIClient, cfg.Signaler)
	c.EvtExcept = evtexcept.New(log, c.Pipes, c.Settings, c.UIExcept, c.NotifPool)

	c.subscribeBootstrapHooks()

	if cfg.SettingsPath != "" {
		c.store = settings.NewStore(log, cfg.SettingsPath)
	}

	return c
}

// subscribeBootstrapHooks wires the cross-package reactions that don't
// belong to any single sub-machine: device-lock availability driving the
// query round-trip and shutdown tearing down in-flight exceptions.
func (c *Core) subscribeBootstrapHooks() {
	c.Pipes.DevicelockAvailable.AttachOutputTrigger(func(available bool) {
		if available {
			c.onDevicelockAvailable()
		}
	})
	c.Pipes.ShuttingDown.AttachOutputTrigger(func(down bool) {
		if down {
			c.UIExcept.Cancel()
		}
	})
	c.Pipes.LipstickAvailable.AttachOutputTrigger(func(available bool) {
		if available {
			c.Autolock.BlockDevlockWindow(autolock.LipstickStartupBlockMs)
		}
	})
}

// DeviceLockQuerier is implemented by wire.Server: the async "get current
// device lock state" call to the device-lock service.
type DeviceLockQuerier interface {
	QueryDeviceLockState(ctx context.Context) (facts.DeviceLockState, error)
}

func (c *Core) onDevicelockAvailable() {
	if c.querier == nil {
		return
	}
	state, err := c.querier.QueryDeviceLockState(c.ctx)
	if err != nil {
		c.log.Warn("device lock query failed", "error", err)
		return
	}
	c.Pipes.DeviceLockState.Publish(state)
}

// AttachDeviceLockQuerier wires the wire-layer query client, called once
// wire.Server has been constructed (core is built before wire, since wire
// needs core's pipes and notifPool).
func (c *Core) AttachDeviceLockQuerier(q DeviceLockQuerier) {
	c.querier = q
}

// AttachOwnerWatcher swaps the notification pool from its nop owner
// watcher to the wire-layer NameOwnerChanged watch, once the bus
// connection exists.
func (c *Core) AttachOwnerWatcher(w notifslot.OwnerWatcher) {
	c.NotifPool.SetWatcher(w)
}

// AttachTkLockCollaborators swaps TkLockReq from its nop UIClient/Signaler
// to the real wire-layer implementation, once the bus connection exists.
func (c *Core) AttachTkLockCollaborators(ui tklockreq.UIClient, sig tklockreq.Signaler) {
	c.TkLockReq.SetCollaborators(ui, sig)
}

// Bootstrap loads and watches the settings file. File errors are
// tolerated; the compiled defaults stand. Reloads are funneled through
// Enqueue so they run on the event loop alongside bus input.
func (c *Core) Bootstrap() {
	if c.store == nil {
		return
	}
	if err := c.store.Load(c.Settings); err != nil {
		c.log.Warn("initial settings load failed", "error", err)
	}
	c.store.SetDispatch(c.Enqueue)
	if err := c.store.Watch(c.Settings); err != nil {
		c.log.Warn("settings watch failed", "error", err)
	}
}

// QueryDeviceLockOnStartup issues the device-lock query round-trip once
// at startup if the service is already available by the time the wire
// querier is attached.
func (c *Core) QueryDeviceLockOnStartup() {
	if c.Pipes.DevicelockAvailable.Read() {
		c.onDevicelockAvailable()
	}
}

// Teardown cancels the core's context, cancels any in-flight exception
// (so its finish() doesn't run against a half-torn-down wire layer),
// stops the settings watch, and logs any wakelock still outstanding.
func (c *Core) Teardown() {
	c.UIExcept.Cancel()
	if c.store != nil {
		if err := c.store.Close(); err != nil {
			c.log.Warn("settings store close failed", "error", err)
		}
	}
	if held := c.Wakelock.Outstanding(); len(held) > 0 {
		c.log.Warn("wakelocks still held at teardown", "names", held)
	}
	c.signalShutdown()
}

// Context returns the core's lifetime context, canceled by Teardown.
func (c *Core) Context() context.Context { return c.ctx }

// Enqueue serializes fn into the core's event loop, implementing
// wire.Dispatch: all external inputs run on the single loop goroutine,
// never on godbus's delivery goroutines. After Teardown the event is
// dropped.
func (c *Core) Enqueue(fn func()) {
	select {
	case c.events <- fn:
	case <-c.ctx.Done():
	}
}

// Events is the queue the run loop drains alongside its timer ticks.
func (c *Core) Events() <-chan func() { return c.events }
