package builtin

import (
	"strings"

	"ktap/internal/host"
	"ktap/internal/value"
	"ktap/internal/vm"
)

// prober is the subset of *host.Host the kdebug library drives; a thread
// whose Host doesn't implement it (e.g. a bare unit-test thread) gets a
// registration error instead of a panic.
type prober interface {
	EventCreatePerf(name string, attr host.PerfAttr, fn func(vm.EventContext) error) error
	EventCreateKprobe(name string, fn func(vm.EventContext) error) error
	EventCreateTracepoint(name string, fn func(vm.EventContext) error) error
	RegisterTraceEnd(fn func() error) error
}

func registerKdebug(rt *vm.Runtime) error {
	return registerLib(rt, "kdebug", map[string]vm.GoFunc{
		"trace_by_id": kdebugTraceByID,
		"trace_end":   kdebugTraceEnd,
	})
}

// kdebugTraceByID implements `kdebug.trace_by_id(spec, fn)`: spec is an
// "<kind>:<name>" event descriptor (kprobe:sys_open, tracepoint:sched_
// switch, perf:<type>:<config>); fn is invoked on every firing with the
// thread's CurrentEvent bound to that firing's record.
func kdebugTraceByID(th *vm.Thread, args []value.Value) ([]value.Value, error) {
	spec, ok := argString(args, 0)
	if !ok {
		return nil, argErrorf("kdebug.trace_by_id", "argument 1 must be an event spec string")
	}
	fn, ok := argCallable(args, 1)
	if !ok {
		return nil, argErrorf("kdebug.trace_by_id", "argument 2 must be a function")
	}
	p, ok := th.Host.(prober)
	if !ok {
		return nil, argErrorf("kdebug.trace_by_id", "host does not support event registration")
	}
	kind, name := splitSpec(spec)
	rt := th.RT
	h := th.Host
	cb := func(ev vm.EventContext) error {
		sub := vm.NewThread(rt, h)
		sub.CurrentEvent = ev
		_, err := sub.Call(fn, nil, 0)
		return err
	}
	switch kind {
	case "tracepoint":
		return nil, p.EventCreateTracepoint(name, cb)
	case "perf":
		return nil, p.EventCreatePerf(name, host.PerfAttr{}, cb)
	default: // "kprobe", or an unprefixed bare probe name
		return nil, p.EventCreateKprobe(name, cb)
	}
}

// kdebugTraceEnd implements `kdebug.trace_end(fn)`: fn runs once, after
// tracing stops, with no current event bound.
func kdebugTraceEnd(th *vm.Thread, args []value.Value) ([]value.Value, error) {
	fn, ok := argCallable(args, 0)
	if !ok {
		return nil, argErrorf("kdebug.trace_end", "argument 1 must be a function")
	}
	p, ok := th.Host.(prober)
	if !ok {
		return nil, argErrorf("kdebug.trace_end", "host does not support trace_end registration")
	}
	rt := th.RT
	h := th.Host
	return nil, p.RegisterTraceEnd(func() error {
		sub := vm.NewThread(rt, h)
		_, err := sub.Call(fn, nil, 0)
		return err
	})
}

func splitSpec(spec string) (kind, name string) {
	if i := strings.IndexByte(spec, ':'); i >= 0 {
		return spec[:i], spec[i+1:]
	}
	return "kprobe", spec
}
