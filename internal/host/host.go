// Package host ships the concrete, in-process, non-kernel collaborator
// the core calls out to for every upcall of spec §6 (event registration,
// ring buffer output, symbol lookup) and task intrinsics — driven by a
// synthetic event feed rather than a real kernel backend, so the VM and
// driver can be exercised end to end without attaching to a live kernel.
package host

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"ktap/internal/ktaperr"
	"ktap/internal/vm"
)

// Sink is the ring_buffer_write transport: anything that can deliver a
// formatted output line to a consumer.
type Sink interface {
	Write(line string) error
}

// StdoutSink is the default transport, matching the real ktap CLI's
// plain terminal output.
type StdoutSink struct{}

func NewStdoutSink() *StdoutSink { return &StdoutSink{} }

func (s *StdoutSink) Write(line string) error {
	_, err := fmt.Print(line)
	return err
}

// WebSocketSink streams output lines to a connected consumer instead of
// (or in addition to) stdout, satisfying ring_buffer_write as a second
// concrete host collaborator.
type WebSocketSink struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

// DialWebSocketSink connects to url and returns a Sink that writes each
// output line as a text frame.
func DialWebSocketSink(url string) (*WebSocketSink, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{})
	if err != nil {
		return nil, ktaperr.Registrationf("websocket sink dial %s: %v", url, err)
	}
	return &WebSocketSink{conn: conn}, nil
}

func (s *WebSocketSink) Write(line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, []byte(line))
}

func (s *WebSocketSink) Close() error { return s.conn.Close() }

// PerfAttr mirrors the opaque perf_event_attr the real event_create_perf
// upcall takes: type/config/sample_period/sample_type plus whether the
// event starts disabled.
type PerfAttr struct {
	Type         uint32
	Config       uint64
	SamplePeriod uint64
	SampleType   uint64
	Disabled     bool
}

// TimerMode selects timer_create's fan-out: PROFILE fires on every CPU,
// TICK fires on one CPU per interval.
type TimerMode int

const (
	TimerProfile TimerMode = iota
	TimerTick
)

type probe struct {
	kind string // "perf", "kprobe", "tracepoint"
	name string
	fn   func(vm.EventContext) error
}

type timer struct {
	period time.Duration
	mode   TimerMode
	fn     func() error
	stop   chan struct{}
}

// Host is the synthetic reference implementation of every §6 upcall.
// DryRun registers probes with a nil callback path disabled (the `-d`
// CLI flag), matching the real driver's dry-run registration semantics.
type Host struct {
	mu        sync.Mutex
	sink      Sink
	probes    map[string]*probe
	timers    []*timer
	symbols   map[string]uint64
	traceEnds []func() error

	DryRun bool

	pid, tid, uid, cpu int64
	execName           string
}

func New(sink Sink) *Host {
	if sink == nil {
		sink = NewStdoutSink()
	}
	return &Host{
		sink:     sink,
		probes:   make(map[string]*probe),
		symbols:  make(map[string]uint64),
		execName: "ktap",
	}
}

// RegisterTraceEnd queues fn to run once, at session teardown, matching
// `trace_end { ... }`'s "run after tracing stops" semantics.
func (h *Host) RegisterTraceEnd(fn func() error) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.traceEnds = append(h.traceEnds, fn)
	return nil
}

// RunTraceEnd invokes every queued trace_end callback in registration
// order, collecting (not short-circuiting on) the first error.
func (h *Host) RunTraceEnd() error {
	h.mu.Lock()
	fns := h.traceEnds
	h.traceEnds = nil
	h.mu.Unlock()
	var first error
	for _, fn := range fns {
		if err := fn(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// SetTask stamps the synthetic current-task identity the PID/TID/UID/
// CPU/execname intrinsics read.
func (h *Host) SetTask(pid, tid, uid, cpu int64, execName string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pid, h.tid, h.uid, h.cpu, h.execName = pid, tid, uid, cpu, execName
}

func (h *Host) PID() int64       { h.mu.Lock(); defer h.mu.Unlock(); return h.pid }
func (h *Host) TID() int64       { h.mu.Lock(); defer h.mu.Unlock(); return h.tid }
func (h *Host) UID() int64       { h.mu.Lock(); defer h.mu.Unlock(); return h.uid }
func (h *Host) CPU() int64       { h.mu.Lock(); defer h.mu.Unlock(); return h.cpu }
func (h *Host) ExecName() string { h.mu.Lock(); defer h.mu.Unlock(); return h.execName }

// EventCreatePerf registers fn against a synthetic perf event. attr is
// accepted but unused beyond bookkeeping — this host has no real
// perf_event_open to configure.
func (h *Host) EventCreatePerf(name string, attr PerfAttr, fn func(vm.EventContext) error) error {
	return h.register("perf", name, fn)
}

func (h *Host) EventCreateKprobe(name string, fn func(vm.EventContext) error) error {
	return h.register("kprobe", name, fn)
}

func (h *Host) EventCreateTracepoint(name string, fn func(vm.EventContext) error) error {
	return h.register("tracepoint", name, fn)
}

func (h *Host) register(kind, name string, fn func(vm.EventContext) error) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.DryRun {
		fn = nil
	}
	h.probes[name] = &probe{kind: kind, name: name, fn: fn}
	return nil
}

// ListProbes returns every registered probe name whose kind matches
// (empty kind = all), in no particular order. It does no glob filtering.
func (h *Host) ListProbes(kind string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var names []string
	for _, p := range h.probes {
		if kind == "" || p.kind == kind {
			names = append(names, p.name)
		}
	}
	return names
}

// TimerCreate starts a synthetic ticker; PROFILE mode invokes fn once
// per tick regardless of CPU count (this host has no real per-CPU
// clock), TICK mode is identical in a single-process reference host.
func (h *Host) TimerCreate(period time.Duration, mode TimerMode, fn func() error) error {
	t := &timer{period: period, mode: mode, fn: fn, stop: make(chan struct{})}
	h.mu.Lock()
	h.timers = append(h.timers, t)
	h.mu.Unlock()
	go func() {
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-t.stop:
				return
			case <-ticker.C:
				_ = fn()
			}
		}
	}()
	return nil
}

// StopTimers halts every timer started via TimerCreate, for session
// teardown.
func (h *Host) StopTimers() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, t := range h.timers {
		close(t.stop)
	}
	h.timers = nil
}

func (h *Host) RingBufferWrite(line string) error {
	return h.sink.Write(line)
}

// RegisterSymbol seeds the synthetic symbol table; a real host would
// resolve this from kallsyms/ELF.
func (h *Host) RegisterSymbol(name string, addr uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.symbols[name] = addr
}

func (h *Host) KernelSymbolLookup(name string) (uint64, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	addr, ok := h.symbols[name]
	return addr, ok
}

// Fire calls name's registered callback with ev. It returns nil without
// calling anything when name has no callback (as in dry-run mode) or
// when stop reports true; no reserve/release step surrounds the call.
func (h *Host) Fire(name string, ev vm.EventContext, stop func() bool) error {
	h.mu.Lock()
	p, ok := h.probes[name]
	h.mu.Unlock()
	if !ok || p.fn == nil {
		return nil
	}
	if stop != nil && stop() {
		return nil
	}
	return p.fn(ev)
}
