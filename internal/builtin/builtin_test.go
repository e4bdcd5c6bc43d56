package builtin

import (
	"strings"
	"testing"

	"ktap/internal/host"
	"ktap/internal/parser"
	"ktap/internal/strpool"
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

func newSession(t *testing.T) (*vm.Runtime, *vm.Thread, *recordSink) {
	t.Helper()
	sink := &recordSink{}
	h := host.New(sink)
	rt := vm.NewRuntime(strpool.New())
	if err := Register(rt); err != nil {
		t.Fatalf("Register: %v", err)
	}
	th := vm.NewThread(rt, h)
	return rt, th, sink
}

func runSrc(t *testing.T, th *vm.Thread, src string) []value.Value {
	t.Helper()
	proto, err := parser.Parse("<test>", src)
	if err != nil {
		t.Fatalf("parse %q: %v", src, err)
	}
	cl := vm.NewTopLevelClosure(proto)
	results, err := th.Call(vm.ClosureValue(cl), nil, -1)
	if err != nil {
		t.Fatalf("run %q: %v", src, err)
	}
	return results
}

func TestPrintWritesThroughSink(t *testing.T) {
	_, th, sink := newSession(t)
	runSrc(t, th, `print("hello", 1, 2)`)
	if len(sink.lines) != 1 || sink.lines[0] != "hello\t1\t2\n" {
		t.Fatalf("got %v, want [hello\\t1\\t2\\n]", sink.lines)
	}
}

func TestPrintfFormatting(t *testing.T) {
	_, th, sink := newSession(t)
	runSrc(t, th, `printf("pid=%d name=%s\n", 42, "init")`)
	if len(sink.lines) != 1 || sink.lines[0] != "pid=42 name=init\n" {
		t.Fatalf("got %v, want [pid=42 name=init\\n]", sink.lines)
	}
}

func TestLenOnStringAndTable(t *testing.T) {
	_, th, _ := newSession(t)
	results := runSrc(t, th, `
var t = table.new(0, 4)
t["a"] = 1
t["b"] = 2
return len("hello"), len(t)
`)
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if value.AsNumber(results[0]) != 5 {
		t.Errorf("len(\"hello\") = %v, want 5", results[0])
	}
	if value.AsNumber(results[1]) != 2 {
		t.Errorf("len(t) = %v, want 2", results[1])
	}
}

func TestPairsAndDelete(t *testing.T) {
	_, th, _ := newSession(t)
	results := runSrc(t, th, `
var t = table.new(0, 4)
t["a"] = 1
t["b"] = 2
var sum = 0
for (k, v in pairs(t)) {
	sum = sum + v
}
delete(t, "a")
return sum, len(t)
`)
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if value.AsNumber(results[0]) != 3 {
		t.Errorf("sum = %v, want 3", results[0])
	}
	if value.AsNumber(results[1]) != 1 {
		t.Errorf("len(t) after delete = %v, want 1", results[1])
	}
}

func TestAggregationStats(t *testing.T) {
	_, th, _ := newSession(t)
	results := runSrc(t, th, `
var a = table.new(0, 4)
a["x"] += 3
a["x"] += 5
a["x"] += 1
return count(a, "x"), sum(a, "x"), max(a, "x"), min(a, "x"), avg(a, "x")
`)
	if len(results) != 5 {
		t.Fatalf("got %d results, want 5", len(results))
	}
	want := []float64{3, 9, 5, 1, 3}
	for i, w := range want {
		if value.AsNumber(results[i]) != w {
			t.Errorf("result[%d] = %v, want %v", i, results[i], w)
		}
	}
}

func TestHistogramWritesSummaryLine(t *testing.T) {
	_, th, sink := newSession(t)
	runSrc(t, th, `
var a = table.new(0, 4)
a["x"] += 1
a["y"] += 5
histogram(a)
`)
	if len(sink.lines) != 1 {
		t.Fatalf("got %d lines, want 1", len(sink.lines))
	}
	if !strings.Contains(sink.lines[0], "total: 2") {
		t.Errorf("got %q, want it to contain total: 2", sink.lines[0])
	}
}

func TestTaskIntrinsics(t *testing.T) {
	sink := &recordSink{}
	h := host.New(sink)
	h.SetTask(100, 101, 1000, 3, "tracee")
	rt := vm.NewRuntime(strpool.New())
	if err := Register(rt); err != nil {
		t.Fatal(err)
	}
	th := vm.NewThread(rt, h)
	results := runSrc(t, th, `return pid(), tid(), uid(), cpu()`)
	if len(results) != 4 {
		t.Fatalf("got %d results, want 4", len(results))
	}
	want := []float64{100, 101, 1000, 3}
	for i, w := range want {
		if value.AsNumber(results[i]) != w {
			t.Errorf("result[%d] = %v, want %v", i, results[i], w)
		}
	}
}

func TestExecnameDefaultsWithoutHost(t *testing.T) {
	rt := vm.NewRuntime(strpool.New())
	if err := Register(rt); err != nil {
		t.Fatal(err)
	}
	th := vm.NewThread(rt, nil)
	results := runSrc(t, th, `return execname(), pid()`)
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if !strpool.IsString(results[0]) || strpool.FromValue(results[0]).Bytes != "ktap" {
		t.Errorf("execname() = %v, want ktap", results[0])
	}
	if value.AsNumber(results[1]) != 0 {
		t.Errorf("pid() without a host = %v, want 0", results[1])
	}
}

func TestAnsiSetColorWritesEscapeSequence(t *testing.T) {
	_, th, sink := newSession(t)
	runSrc(t, th, `ansi.set_color2(31, 40)`)
	if len(sink.lines) != 1 || sink.lines[0] != "\033[31;40m" {
		t.Fatalf("got %q, want \\033[31;40m", sink.lines)
	}
}

func TestNetFormatIPAddr(t *testing.T) {
	_, th, _ := newSession(t)
	// 16909060 is 0x01020304; format_ip_addr prints its low byte first.
	results := runSrc(t, th, `return net.format_ip_addr(16909060)`)
	if len(results) != 1 || !strpool.IsString(results[0]) {
		t.Fatalf("expected a string result, got %v", results)
	}
	if got := strpool.FromValue(results[0]).Bytes; got != "4.3.2.1" {
		t.Errorf("got %q, want 4.3.2.1", got)
	}
}

func TestKdebugTraceByIDFiresOnEvent(t *testing.T) {
	rt, th, sink := newSession(t)
	runSrc(t, th, `
kdebug.trace_by_id("tracepoint:sched_switch", function() {
	print("fired")
})
`)
	h, ok := th.Host.(*host.Host)
	if !ok {
		t.Fatal("expected a *host.Host")
	}
	if err := h.Fire("sched_switch", &host.SyntheticEvent{Probe: "sched_switch"}, nil); err != nil {
		t.Fatal(err)
	}
	if len(sink.lines) != 1 || sink.lines[0] != "fired\n" {
		t.Fatalf("got %v, want [fired\\n]", sink.lines)
	}
	_ = rt
}

func TestKdebugTraceEndRunsAtTeardown(t *testing.T) {
	_, th, sink := newSession(t)
	runSrc(t, th, `
kdebug.trace_end(function() {
	print("done")
})
`)
	h := th.Host.(*host.Host)
	if err := h.RunTraceEnd(); err != nil {
		t.Fatal(err)
	}
	if len(sink.lines) != 1 || sink.lines[0] != "done\n" {
		t.Fatalf("got %v, want [done\\n]", sink.lines)
	}
}

func TestTableNewPreallocates(t *testing.T) {
	_, th, _ := newSession(t)
	results := runSrc(t, th, `
var t = table.new(4, 8)
t["k"] = 1
return len(t)
`)
	if len(results) != 1 || value.AsNumber(results[0]) != 1 {
		t.Fatalf("got %v, want 1", results)
	}
}
