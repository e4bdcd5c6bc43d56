package driver

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"ktap/internal/bytecode"
	"ktap/internal/builtin"
	"ktap/internal/chunkio"
	"ktap/internal/host"
	"ktap/internal/ktaperr"
	"ktap/internal/ktapstate"
	"ktap/internal/parser"
	"ktap/internal/strpool"
	"ktap/internal/value"
	"ktap/internal/vm"
)

// Driver owns one session's Global state and synthetic Host, and carries
// out the same three steps kp_main.c's main() does: compile/load,
// register libraries, ioctl RUN.
type Driver struct {
	Global *ktapstate.Global
	Host   *host.Host
}

// New builds a driver with a stdout-backed host and registers every
// standard-library table against the session's runtime.
func New() (*Driver, error) {
	g := ktapstate.New()
	h := host.New(host.NewStdoutSink())
	h.SetTask(int64(os.Getpid()), int64(os.Getpid()), int64(os.Getuid()), 0, filepath.Base(os.Args[0]))
	if err := builtin.Register(g.Runtime); err != nil {
		return nil, err
	}
	return &Driver{Global: g, Host: h}, nil
}

// Compile parses ktap source into a top-level prototype, the same step
// kp_main.c's ktapc_parser does before writing a chunk to uparm.trunk.
func (d *Driver) Compile(chunkname, src string) (*bytecode.Proto, error) {
	return parser.Parse(chunkname, src)
}

// LoadChunk reads a previously-written bytecode chunk, the `-b`-produced
// artifact a later run can load without recompiling.
func (d *Driver) LoadChunk(data []byte) (*bytecode.Proto, error) {
	return chunkio.Read(data)
}

// WriteChunk serializes proto the way `-b` dumps bytecode before exit.
func (d *Driver) WriteChunk(proto *bytecode.Proto, strip bool) []byte {
	return chunkio.Write(proto, strip)
}

// Run implements KTAP_CMD_IOC_RUN: build a closure from proto, bind task
// identity from opt, and call it on the main worker thread. DryRun and
// TraceCPU/TracePID are threaded onto the host for event registration
// and filtering to see.
func (d *Driver) Run(proto *bytecode.Proto, opt Option) error {
	d.Host.DryRun = opt.DryRun
	if opt.TracePID > 0 {
		d.Host.SetTask(int64(opt.TracePID), int64(opt.TracePID), int64(os.Getuid()), int64(opt.TraceCPU), d.Host.ExecName())
	}
	th := d.Global.NewWorkerThread(opt.TraceCPU, ktapstate.CtxTASK, d.Host)

	cl := vm.NewTopLevelClosure(proto)
	args := make([]value.Value, 0, len(opt.Argv))
	for _, a := range opt.Argv {
		if n, err := strconv.ParseFloat(a, 64); err == nil {
			args = append(args, value.Number(n))
		} else {
			s, err := d.Global.Runtime.Pool.Intern(a)
			if err != nil {
				return err
			}
			args = append(args, strpool.ToValue(s))
		}
	}

	if !opt.Quiet {
		fmt.Println("Tracing... Hit Ctrl-C to end.")
	}

	_, err := th.Call(vm.ClosureValue(cl), args, 0)
	if rerr := d.Host.RunTraceEnd(); err == nil {
		err = rerr
	}
	d.Host.StopTimers()
	return err
}

// ListTracepoints implements `-le [GLOB]`.
func (d *Driver) ListTracepoints(glob string) []string {
	names := d.Host.ListProbes("")
	if glob == "" {
		return names
	}
	var out []string
	for _, n := range names {
		if ok, _ := filepath.Match(glob, n); ok {
			out = append(out, n)
		}
	}
	return out
}

// SynthesizeProbe builds the `-s EXPR` source:
// `trace EXPR { print(cpu(),tid(),execname(),argstr) }`.
func SynthesizeProbe(expr string) string {
	return fmt.Sprintf("trace %s { print(cpu(),tid(),execname(),argstr) }", expr)
}

// ExitCode maps an error from Compile/Run onto the driver's process exit
// status: 0 on success, 77 ("not permitted") for a Registration error,
// and 1 for any other failure.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	if kerr, ok := err.(*ktaperr.Error); ok {
		switch kerr.Kind {
		case ktaperr.Registration:
			return 77 // EX_NOPERM-ish: "not permitted"
		default:
			return 1
		}
	}
	return 1
}
