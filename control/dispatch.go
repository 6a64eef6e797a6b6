package control

import (
	"time"

	"github.com/user-none/emubridge/logging"
	"github.com/user-none/emubridge/wire"
)

const malformedWarnInterval = 5 * time.Second

// Dispatcher routes inbound RPC payloads. Handle runs on the RPC goroutine;
// anything that must happen on the main thread goes through post.
type Dispatcher struct {
	reg         *Registry
	log         *logging.Logger
	post        func(func())
	onROMLoaded func(system string)

	unknown   logging.Once
	malformed *logging.Limiter
}

// NewDispatcher creates a dispatcher for one session. post queues a function
// for the main thread; onROMLoaded is run through post when the subprocess
// reports loaded content.
func NewDispatcher(reg *Registry, lg *logging.Logger, post func(func()), onROMLoaded func(system string)) *Dispatcher {
	if lg == nil {
		lg = logging.Default()
	}
	return &Dispatcher{
		reg:         reg,
		log:         lg,
		post:        post,
		onROMLoaded: onROMLoaded,
		malformed:   logging.NewLimiter(malformedWarnInterval),
	}
}

// Handle answers one encoded method call. Reserved names are checked first;
// anything else is looked up in the registry. Unknown names are reported
// once per dispatcher and answered with an empty response.
func (d *Dispatcher) Handle(payload []byte) []byte {
	call, err := wire.DecodeMethodCall(payload)
	if err != nil {
		if d.malformed.Allow() {
			d.log.Warnf("discarding inbound call: %v", err)
		}
		return nil
	}

	switch call.Name {
	case wire.MethodROMLoaded:
		system := call.Arg
		if d.onROMLoaded != nil {
			d.post(func() { d.onROMLoaded(system) })
		}
		return wire.EncodeReturn(wire.Return{})
	case wire.MethodWatchValue:
		d.watchValue(call.Arg)
		return wire.EncodeReturn(wire.Return{})
	}

	h, ok := d.reg.Lookup(call.Name)
	if !ok {
		if d.unknown.First(call.Name) {
			d.log.Warnf("no handler registered for %q", call.Name)
		}
		return nil
	}
	return wire.EncodeReturn(d.invoke(call, h))
}

func (d *Dispatcher) watchValue(arg string) {
	v, err := wire.ParseWatchValue(arg)
	if err != nil {
		if d.malformed.Allow() {
			d.log.Warnf("discarding watch value %q: %v", arg, err)
		}
		return
	}
	fn, ok := d.reg.watchFunc(v.Key())
	if !ok {
		d.log.Debugf("value for unregistered watch %s", v.Watch)
		return
	}
	d.post(func() { fn(v) })
}

func (d *Dispatcher) invoke(call wire.MethodCall, h Handler) (ret wire.Return) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Errorf("handler %q panicked: %v", call.Name, r)
			ret = wire.Return{}
		}
	}()
	v, ok := h(call.Arg)
	return wire.Return{Value: v, OK: ok}
}
