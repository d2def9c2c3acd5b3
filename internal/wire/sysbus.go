// Package wire implements the external bus interface: the messages
// consumed and emitted by the policy core. A single Conn is opened at
// bootstrap and handed to Server and Publisher.
package wire

import (
	"context"
	"fmt"

	"github.com/coreos/go-systemd/v22/dbus"
	godbus "github.com/godbus/dbus/v5"
	"github.com/hashicorp/go-hclog"
)

// Well-known bus identifiers for the tklock service.
const (
	ServiceName     = "com.sailfishos.mce.tklock"
	ObjectPath      = godbus.ObjectPath("/com/sailfishos/mce/tklock")
	RequestIface    = "com.sailfishos.mce.tklock.Request"
	SignalIface     = "com.sailfishos.mce.tklock.Signal"
	NotifIface      = "com.sailfishos.mce.tklock.Notification"
	DeviceLockDest  = "com.sailfishos.devicelock"
	DeviceLockPath  = godbus.ObjectPath("/com/sailfishos/devicelock")
	DeviceLockIface = "com.sailfishos.devicelock.Request"
)

// Compiled default for the lockscreen UI's notify callback tuple; the UI
// may replace it at runtime via Server.TkLockCallbackRegister.
const (
	LockscreenDest       = "com.sailfishos.lipstick"
	LockscreenPath       = "/com/sailfishos/lipstick/screenlock"
	LockscreenIface      = "com.sailfishos.lipstick.screenlock"
	LockscreenOpenMethod = "open"
)

// Conn is the subset of *godbus.Conn the wire package depends on, so
// Server/Publisher can be exercised against a fake in tests.
type Conn interface {
	Export(v interface{}, path godbus.ObjectPath, iface string) error
	Emit(path godbus.ObjectPath, iface string, values ...interface{}) error
	Object(dest string, path godbus.ObjectPath) godbus.BusObject
	AddMatchSignal(options ...godbus.MatchOption) error
	Signal(ch chan<- *godbus.Signal)
	RequestName(name string, flags godbus.RequestNameFlags) (godbus.RequestNameReply, error)
	Close() error
}

// Bootstrap opens the system bus connection used for the tklock service
// itself, after first confirming the systemd manager bus is reachable. A
// systemd manager connection failure is logged and tolerated, an absent
// external service degrades rather than aborts; the tklock bus connection
// failure is fatal to bootstrap since the whole wire layer depends on it.
func Bootstrap(ctx context.Context, log hclog.Logger) (*godbus.Conn, error) {
	log = log.Named("wire.sysbus")

	if mgr, err := dbus.NewSystemConnectionContext(ctx); err != nil {
		log.Warn("systemd manager bus unreachable, continuing without readiness probe", "error", err)
	} else {
		defer mgr.Close()
		log.Debug("systemd manager bus reachable")
	}

	conn, err := godbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect system bus: %w", err)
	}

	reply, err := conn.RequestName(ServiceName, godbus.NameFlagDoNotQueue)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("request bus name %s: %w", ServiceName, err)
	}
	if reply != godbus.RequestNameReplyPrimaryOwner {
		conn.Close()
		return nil, fmt.Errorf("bus name %s already owned", ServiceName)
	}

	log.Info("acquired bus name", "name", ServiceName)
	return conn, nil
}
