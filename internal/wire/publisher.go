package wire

import (
	"context"

	godbus "github.com/godbus/dbus/v5"
	"github.com/hashicorp/go-hclog"

	"github.com/sailfish-mce/tklock-core/internal/facts"
	"github.com/sailfish-mce/tklock-core/internal/pipes"
	"github.com/sailfish-mce/tklock-core/internal/tklockreq"
)

// Publisher emits every outgoing bus signal. It is constructed once at
// bootstrap and attaches its own output triggers to the relevant pipes
// rather than having each state-machine package know about the bus,
// keeping the wire interface a self-contained component.
type Publisher struct {
	conn  Conn
	pipes *pipes.Pipes
	log   hclog.Logger
}

func NewPublisher(log hclog.Logger, conn Conn, p *pipes.Pipes) *Publisher {
	pub := &Publisher{conn: conn, pipes: p, log: log.Named("wire.publisher")}
	pub.subscribe()
	return pub
}

func (p *Publisher) subscribe() {
	p.pipes.LPMUIEnabled.AttachOutputTrigger(func(enabled bool) { p.emitLPMUI(enabled) })
	p.pipes.KeyboardSlide.AttachOutputTrigger(func(state facts.CoverState) { p.emitCoverSignal("SlidingKeyboardState", state) })
	p.pipes.KeyboardAvailable.AttachOutputTrigger(func(state facts.CoverState) { p.emitCoverSignal("HardwareKeyboardState", state) })
	p.pipes.DisplayStateReq.AttachOutputTrigger(func(state facts.DisplayState) { p.emitBlankingPolicy(state) })
}

func (p *Publisher) emit(signal string, values ...interface{}) {
	if err := p.conn.Emit(ObjectPath, SignalIface+"."+signal, values...); err != nil {
		p.log.Warn("emit signal failed", "signal", signal, "error", err)
	}
}

func (p *Publisher) emitLPMUI(enabled bool) {
	state := "disabled"
	if enabled {
		state = "enabled"
	}
	p.emit("LPMUIState", state)
}

func (p *Publisher) emitCoverSignal(signal string, state facts.CoverState) {
	p.emit(signal, state.Normalize().String())
}

func (p *Publisher) emitBlankingPolicy(state facts.DisplayState) {
	p.emit("BlankingPolicy", state.String())
}

// EmitTkLockMode implements tklockreq.Signaler: the tklock mode signal,
// a single string {locked, unlocked}.
func (p *Publisher) EmitTkLockMode(locked bool) {
	mode := "unlocked"
	if locked {
		mode = "locked"
	}
	p.emit("TkLockMode", mode)
}

// EmitShowDeviceUnlock implements tklockreq.Signaler by reusing the
// power-key double-press signal the UI already handles.
func (p *Publisher) EmitShowDeviceUnlock() {
	p.emit("PowerKeyTrigger", "double-power-key")
}

var _ tklockreq.Signaler = (*Publisher)(nil)

// Notify implements tklockreq.UIClient: the request-method call to the
// lockscreen UI carrying the callback service, path, iface, method, mode,
// silent and flicker tuple.
func (p *Publisher) Notify(ctx context.Context, req tklockreq.NotifyRequest) error {
	flags := godbus.Flags(0)
	if req.CallbackMethod == "" {
		return nil
	}
	obj := p.conn.Object(req.CallbackService, godbus.ObjectPath(req.CallbackPath))
	call := obj.CallWithContext(ctx, req.CallbackIface+"."+req.CallbackMethod, flags,
		string(req.Mode), req.Silent, req.Flicker)
	if call.Err != nil {
		p.log.Warn("ui notify call failed", "error", call.Err)
		return call.Err
	}
	return nil
}

var _ tklockreq.UIClient = (*Publisher)(nil)
