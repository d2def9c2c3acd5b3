// Package diagnostics renders a human-readable dump of the policy core's
// live state: a text/template with a small FuncMap, parsed once at
// package init and executed against a plain data struct built fresh on
// every call.
package diagnostics

import (
	"strings"
	"text/template"

	"github.com/hashicorp/go-hclog"

	"github.com/sailfish-mce/tklock-core/internal/facts"
	"github.com/sailfish-mce/tklock-core/internal/pipes"
	"github.com/sailfish-mce/tklock-core/internal/tklockreq"
	"github.com/sailfish-mce/tklock-core/internal/wakelock"
)

var funcMaps = template.FuncMap{
	"join": strings.Join,
}

const dumpTemplate = `tklock core state dump
  display:        {{ .Display }} (next: {{ .DisplayNext }})
  call:           {{ .Call }}
  alarm:          {{ .Alarm }}
  submode:        {{ .Submode }}
  exception:      {{ .Exception }}
  device_lock:    {{ .DeviceLock }}
  want_to_unlock: {{ .WantToUnlock }}
  proximity:      {{ .Proximity }}
  lid_policy:     {{ .LidPolicy }}
  touch_grab:     {{ .TouchGrab }}
  keypad_grab:    {{ .KeypadGrab }}
  lpm_ui:         {{ .LPMUI }}
  notif_slots:    {{ .NotifSlots }}
  wakelocks held: {{ join .Wakelocks ", " }}
`

var tmpl = template.Must(template.New("dump").Funcs(funcMaps).Parse(dumpTemplate))

// Snapshot is the plain data struct the template executes against --
// everything read from pipes/tracker/pool up front so rendering itself
// never touches live state.
type Snapshot struct {
	Display      facts.DisplayState
	DisplayNext  facts.DisplayState
	Call         facts.CallState
	Alarm        facts.AlarmUIState
	Submode      facts.Submode
	Exception    facts.ExceptionState
	DeviceLock   facts.DeviceLockState
	WantToUnlock bool
	Proximity    facts.CoverState
	LidPolicy    facts.CoverState
	TouchGrab    bool
	KeypadGrab   bool
	LPMUI        bool
	NotifSlots   int
	Wakelocks    []string
}

// Collector builds a Snapshot from the live core and renders it. It takes
// narrow, read-only dependencies rather than the whole Core type so it can
// be exercised without constructing every sub-machine.
type Collector struct {
	pipes     *pipes.Pipes
	wake      *wakelock.Gateway
	tklockreq *tklockreq.Machine
	notifSlot func() int
	log       hclog.Logger
}

func NewCollector(log hclog.Logger, p *pipes.Pipes, wake *wakelock.Gateway, tr *tklockreq.Machine, notifSlotCount func() int) *Collector {
	return &Collector{pipes: p, wake: wake, tklockreq: tr, notifSlot: notifSlotCount, log: log.Named("diagnostics")}
}

func (c *Collector) snapshot() Snapshot {
	slots := 0
	if c.notifSlot != nil {
		slots = c.notifSlot()
	}
	wantUnlock := false
	if c.tklockreq != nil {
		wantUnlock = c.tklockreq.WantToUnlock()
	}
	return Snapshot{
		Display:      c.pipes.DisplayState.Read(),
		DisplayNext:  c.pipes.DisplayStateNext.Read(),
		Call:         c.pipes.CallState.Read(),
		Alarm:        c.pipes.AlarmUIState.Read(),
		Submode:      c.pipes.Submode.Read(),
		Exception:    c.pipes.ExceptionState.Read(),
		DeviceLock:   c.pipes.DeviceLockState.Read(),
		WantToUnlock: wantUnlock,
		Proximity:    c.pipes.ProximitySensor.Read(),
		LidPolicy:    c.pipes.LidCoverPolicy.Read(),
		TouchGrab:    c.pipes.TouchGrabActive.Read(),
		KeypadGrab:   c.pipes.KeypadGrabActive.Read(),
		LPMUI:        c.pipes.LPMUIEnabled.Read(),
		NotifSlots:   slots,
		Wakelocks:    c.wake.Outstanding(),
	}
}

// Dump renders the current state to a string; wire.Server.GetState serves
// it over the bus.
func (c *Collector) Dump() (string, error) {
	var sb strings.Builder
	if err := tmpl.Execute(&sb, c.snapshot()); err != nil {
		return "", err
	}
	return sb.String(), nil
}
