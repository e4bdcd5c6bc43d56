package host

import (
	"errors"
	"sort"
	"sync/atomic"
	"testing"
	"time"

	"ktap/internal/value"
	"ktap/internal/vm"
)

type recordSink struct {
	lines []string
}

func (s *recordSink) Write(line string) error {
	s.lines = append(s.lines, line)
	return nil
}

func TestEventCreateAndFire(t *testing.T) {
	h := New(nil)
	var got string
	err := h.EventCreateKprobe("sys_open", func(ev vm.EventContext) error {
		got = ev.ProbeName()
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	ev := &SyntheticEvent{Probe: "sys_open"}
	if err := h.Fire("sys_open", ev, nil); err != nil {
		t.Fatal(err)
	}
	if got != "sys_open" {
		t.Fatalf("got %q, want sys_open", got)
	}
}

func TestFireUnknownProbeIsNoop(t *testing.T) {
	h := New(nil)
	if err := h.Fire("nope", &SyntheticEvent{Probe: "nope"}, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestFireRespectsStop(t *testing.T) {
	h := New(nil)
	var calls int32
	if err := h.EventCreateTracepoint("sched_switch", func(ev vm.EventContext) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	err := h.Fire("sched_switch", &SyntheticEvent{Probe: "sched_switch"}, func() bool { return true })
	if err != nil {
		t.Fatal(err)
	}
	if calls != 0 {
		t.Fatalf("expected the stop predicate to suppress the callback, got %d calls", calls)
	}
}

func TestDryRunNilsCallback(t *testing.T) {
	h := New(nil)
	h.DryRun = true
	if err := h.EventCreatePerf("sys_write", PerfAttr{}, func(ev vm.EventContext) error {
		t.Fatal("callback should never run in dry-run mode")
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if err := h.Fire("sys_write", &SyntheticEvent{Probe: "sys_write"}, nil); err != nil {
		t.Fatal(err)
	}
}

func TestListProbesFilterByKind(t *testing.T) {
	h := New(nil)
	noop := func(ev vm.EventContext) error { return nil }
	mustNil(t, h.EventCreateKprobe("a", noop))
	mustNil(t, h.EventCreateKprobe("b", noop))
	mustNil(t, h.EventCreateTracepoint("c", noop))

	kprobes := h.ListProbes("kprobe")
	sort.Strings(kprobes)
	if len(kprobes) != 2 || kprobes[0] != "a" || kprobes[1] != "b" {
		t.Fatalf("got %v, want [a b]", kprobes)
	}

	all := h.ListProbes("")
	if len(all) != 3 {
		t.Fatalf("got %d probes, want 3", len(all))
	}
}

func TestTimerCreateAndStop(t *testing.T) {
	h := New(nil)
	var ticks int32
	if err := h.TimerCreate(5*time.Millisecond, TimerTick, func() error {
		atomic.AddInt32(&ticks, 1)
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	time.Sleep(30 * time.Millisecond)
	h.StopTimers()
	n := atomic.LoadInt32(&ticks)
	if n == 0 {
		t.Fatal("expected at least one tick before StopTimers")
	}
	time.Sleep(20 * time.Millisecond)
	if atomic.LoadInt32(&ticks) != n {
		t.Fatal("timer kept firing after StopTimers")
	}
}

func TestRegisterTraceEndRunsInOrderAndCollectsFirstError(t *testing.T) {
	h := New(nil)
	var order []int
	boom := errors.New("boom")
	mustNil(t, h.RegisterTraceEnd(func() error { order = append(order, 1); return nil }))
	mustNil(t, h.RegisterTraceEnd(func() error { order = append(order, 2); return boom }))
	mustNil(t, h.RegisterTraceEnd(func() error { order = append(order, 3); return nil }))

	err := h.RunTraceEnd()
	if !errors.Is(err, boom) {
		t.Fatalf("got %v, want %v", err, boom)
	}
	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("got %v, want [1 2 3]", order)
	}

	// a second run should see no queued callbacks left.
	order = nil
	if err := h.RunTraceEnd(); err != nil {
		t.Fatalf("unexpected error on empty queue: %v", err)
	}
	if len(order) != 0 {
		t.Fatal("trace_end callbacks should not run twice")
	}
}

func TestSetTaskAndIntrinsics(t *testing.T) {
	h := New(nil)
	h.SetTask(100, 101, 1000, 2, "tracee")
	if h.PID() != 100 || h.TID() != 101 || h.UID() != 1000 || h.CPU() != 2 || h.ExecName() != "tracee" {
		t.Fatalf("unexpected task state: pid=%d tid=%d uid=%d cpu=%d exec=%q",
			h.PID(), h.TID(), h.UID(), h.CPU(), h.ExecName())
	}
}

func TestKernelSymbolLookup(t *testing.T) {
	h := New(nil)
	if _, ok := h.KernelSymbolLookup("do_sys_open"); ok {
		t.Fatal("expected lookup to miss before registration")
	}
	h.RegisterSymbol("do_sys_open", 0xffffffff81000000)
	addr, ok := h.KernelSymbolLookup("do_sys_open")
	if !ok || addr != 0xffffffff81000000 {
		t.Fatalf("got (%x, %v), want (ffffffff81000000, true)", addr, ok)
	}
}

func TestStdoutSinkAndRingBufferWrite(t *testing.T) {
	sink := &recordSink{}
	h := New(sink)
	if err := h.RingBufferWrite("hello\n"); err != nil {
		t.Fatal(err)
	}
	if len(sink.lines) != 1 || sink.lines[0] != "hello\n" {
		t.Fatalf("got %v, want [hello\\n]", sink.lines)
	}
}

func TestSyntheticEventArgBounds(t *testing.T) {
	ev := &SyntheticEvent{Probe: "p", Args: []value.Value{value.Number(42)}}
	if got := ev.Arg(0); !value.IsNumber(got) || value.AsNumber(got) != 42 {
		t.Fatalf("Arg(0) = %v, want 42", got)
	}
	if got := ev.Arg(5); !value.IsNil(got) {
		t.Fatalf("Arg(5) out of range = %v, want nil", got)
	}
	if got := ev.Arg(-1); !value.IsNil(got) {
		t.Fatalf("Arg(-1) = %v, want nil", got)
	}
}

func TestSyntheticEventString(t *testing.T) {
	ev := &SyntheticEvent{Probe: "sys_open", Args: []value.Value{value.Number(1), value.Number(2)}}
	if got, want := ev.String(), "sys_open(2 args)"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
	ev2 := &SyntheticEvent{Probe: "sys_open", Text: "custom"}
	if got := ev2.String(); got != "custom" {
		t.Fatalf("got %q, want custom", got)
	}
}

func mustNil(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}
