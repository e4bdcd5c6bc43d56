package driver

import (
	"errors"
	"testing"

	"ktap/internal/ktaperr"
)

func TestCompileAndWriteChunkRoundTrip(t *testing.T) {
	d, err := New()
	if err != nil {
		t.Fatal(err)
	}
	proto, err := d.Compile("<test>", "return 1+2")
	if err != nil {
		t.Fatal(err)
	}
	data := d.WriteChunk(proto, false)
	if len(data) == 0 {
		t.Fatal("expected a non-empty chunk")
	}
	loaded, err := d.LoadChunk(data)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.NumParams != proto.NumParams {
		t.Errorf("NumParams: got %d, want %d", loaded.NumParams, proto.NumParams)
	}
	if len(loaded.Code) != len(proto.Code) {
		t.Errorf("Code length: got %d, want %d", len(loaded.Code), len(proto.Code))
	}
}

func TestCompileRejectsBadSource(t *testing.T) {
	d, err := New()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := d.Compile("<test>", "trace"); err == nil {
		t.Fatal("expected a parse error for an incomplete trace statement")
	}
}

func TestRunExecutesScript(t *testing.T) {
	d, err := New()
	if err != nil {
		t.Fatal(err)
	}
	proto, err := d.Compile("<test>", `print("hello from run")`)
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Run(proto, Option{Quiet: true}); err != nil {
		t.Fatal(err)
	}
}

func TestRunPassesArgvAsCallArgs(t *testing.T) {
	d, err := New()
	if err != nil {
		t.Fatal(err)
	}
	proto, err := d.Compile("<test>", `
var a, b = ...
print(a, b)
`)
	if err != nil {
		t.Fatal(err)
	}
	opt := Option{Quiet: true, Argv: []string{"42", "hello"}}
	if err := d.Run(proto, opt); err != nil {
		t.Fatal(err)
	}
}

func TestListTracepointsGlob(t *testing.T) {
	d, err := New()
	if err != nil {
		t.Fatal(err)
	}
	proto, err := d.Compile("<test>", `
kdebug.trace_by_id("kprobe:sys_open", function() {})
kdebug.trace_by_id("kprobe:sys_close", function() {})
kdebug.trace_by_id("tracepoint:sched_switch", function() {})
`)
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Run(proto, Option{Quiet: true}); err != nil {
		t.Fatal(err)
	}
	names := d.ListTracepoints("sys_*")
	if len(names) != 2 {
		t.Fatalf("got %v, want 2 sys_* probes", names)
	}
	all := d.ListTracepoints("")
	if len(all) != 3 {
		t.Fatalf("got %d probes, want 3", len(all))
	}
}

func TestSynthesizeProbe(t *testing.T) {
	got := SynthesizeProbe("kprobe:sys_open")
	want := `trace kprobe:sys_open { print(cpu(),tid(),execname(),argstr) }`
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestExitCodeMapping(t *testing.T) {
	if ExitCode(nil) != 0 {
		t.Error("nil error should map to exit code 0")
	}
	regErr := ktaperr.Registrationf("exceed KP_MAX_CACHED_CFUNCTION")
	if got := ExitCode(regErr); got != 77 {
		t.Errorf("registration error: got %d, want 77", got)
	}
	parseErr := ktaperr.Parsef("<test>", 1, "unexpected token")
	if got := ExitCode(parseErr); got != 1 {
		t.Errorf("parse error: got %d, want 1", got)
	}
	if got := ExitCode(errors.New("generic")); got != 1 {
		t.Errorf("generic error: got %d, want 1", got)
	}
}
