package mced

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sailfish-mce/tklock-core/internal/clock"
	"github.com/sailfish-mce/tklock-core/internal/core"
	"github.com/sailfish-mce/tklock-core/internal/diagnostics"
	"github.com/sailfish-mce/tklock-core/internal/wakelock"
	"github.com/sailfish-mce/tklock-core/internal/wire"
)

// tickInterval drives clock.Service.Tick; short enough that heartbeat/
// wall-clock timers fire within a bounded latency without busy-looping.
const tickInterval = 250 * time.Millisecond

// heartbeatInterval paces the heartbeat pipe, the slow periodic feed the
// double-tap calibrator's post-backoff kicks subscribe to.
const heartbeatInterval = 12 * time.Second

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the policy daemon in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd.Context())
		},
	}
}

// runDaemon wires core, wire, and diagnostics together and blocks until
// an interrupt or terminate signal arrives, running the event loop that
// drains queued bus work and drives the timer service.
func runDaemon(parentCtx context.Context) error {
	log := newLogger()

	conn, err := wire.Bootstrap(parentCtx, log)
	if err != nil {
		return fmt.Errorf("bus bootstrap: %w", err)
	}
	defer conn.Close()

	c := core.New(log, clock.NewRealSource(), core.Config{
		SettingsPath:    settingsPath,
		WakelockBackend: wakelock.NopBackend{},
		EventEnabler:    nil,
		Recalibrator:    nil,
	})

	// Rewire TkLockReq's collaborators now that the bus connection exists;
	// core.New already constructed TkLockReq with cfg.UIClient/Signaler,
	// which were nil at that point, so swap to the real publisher and the
	// compiled default lockscreen callback tuple.
	publisher := wire.NewPublisher(log, conn, c.Pipes)
	c.AttachTkLockCollaborators(publisher, publisher)
	c.TkLockReq.SetNotifyCallback(wire.LockscreenDest, wire.LockscreenPath,
		wire.LockscreenIface, wire.LockscreenOpenMethod)

	server := wire.NewServer(log, conn, c.Pipes, c.NotifPool)
	server.SetDispatch(c.Enqueue)
	server.SetNotifyCallbackSink(c.TkLockReq.SetNotifyCallback)
	if err := server.Export(); err != nil {
		return fmt.Errorf("export wire server: %w", err)
	}
	c.AttachDeviceLockQuerier(server)
	c.AttachOwnerWatcher(server)

	diag := diagnostics.NewCollector(log, c.Pipes, c.Wakelock, c.TkLockReq, func() int { return len(c.NotifPool.Live()) })
	server.AttachDiagnostics(diag)

	c.Bootstrap()
	c.QueryDeviceLockOnStartup()

	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	log.Info("mced started")
	var lastHeartbeat time.Time
	for {
		select {
		case <-ctx.Done():
			log.Info("shutting down")
			c.Teardown()
			return nil
		case fn := <-c.Events():
			fn()
		case <-ticker.C:
			c.Clock.Tick()
			if now := time.Now(); now.Sub(lastHeartbeat) >= heartbeatInterval {
				lastHeartbeat = now
				c.Pipes.Heartbeat.Publish(c.Clock.Now())
			}
		}
	}
}
