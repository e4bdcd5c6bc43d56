// Command ktap compiles and runs ktap tracing scripts against the
// synthetic in-process host, implementing the CLI surface of spec §6 —
// grounded on userspace/kp_main.c's option parsing in original_source.
package main

import (
	"flag"
	"fmt"
	"os"

	"ktap/internal/driver"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(argv []string) int {
	fs := flag.NewFlagSet("ktap", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var (
		outFile    = fs.String("o", "", "output destination")
		tracePID   = fs.Int("p", 0, "trace only that pid")
		traceCPU   = fs.Int("C", -1, "trace only that cpu")
		timestamps = fs.Bool("T", false, "timestamps on every event")
		verbose    = fs.Bool("v", false, "verbose")
		quiet      = fs.Bool("q", false, "quiet")
		dryRun     = fs.Bool("d", false, "dry-run (register events with NULL callback)")
		synth      = fs.String("s", "", "synthesize `trace EXPR { print(cpu(),tid(),execname(),argstr) }`")
		oneLiner   = fs.String("e", "", "one-liner source")
		dumpBC     = fs.Bool("b", false, "dump bytecode after compile and exit")
		listEvents = fs.String("le", "", "list available tracepoints (optional glob)")
		listFuncs  = fs.String("lf", "", "list function symbols in DSO")
		listUSDT   = fs.String("lm", "", "list USDT notes in DSO")
		version    = fs.Bool("V", false, "version")
	)
	if err := fs.Parse(argv); err != nil {
		return 1
	}

	if *version {
		v, err := driver.Version()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		fmt.Println(v)
		return 0
	}

	d, err := driver.New()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return driver.ExitCode(err)
	}

	if wasSet(fs, "le") {
		for _, name := range d.ListTracepoints(*listEvents) {
			fmt.Println(name)
		}
		return 0
	}
	if *listFuncs != "" {
		fmt.Fprintln(os.Stderr, "ktap: -lf requires DSO symbol extraction, unavailable in this host")
		return 1
	}
	if *listUSDT != "" {
		fmt.Fprintln(os.Stderr, "ktap: -lm requires DSO note extraction, unavailable in this host")
		return 1
	}

	var chunkname, src string
	rest := fs.Args()
	switch {
	case *synth != "":
		chunkname, src = "<-s>", driver.SynthesizeProbe(*synth)
	case *oneLiner != "":
		chunkname, src = "<-e>", *oneLiner
	case len(rest) > 0:
		chunkname = rest[0]
		rest = rest[1:]
		data, rerr := os.ReadFile(chunkname)
		if rerr != nil {
			fmt.Fprintln(os.Stderr, rerr)
			return 1
		}
		src = string(data)
	default:
		fmt.Fprintln(os.Stderr, "usage: ktap [options] file [args] [-- workload cmd...]")
		return 1
	}

	var workload []string
	for i, a := range rest {
		if a == "--" {
			workload = rest[i+1:]
			rest = rest[:i]
			break
		}
	}

	proto, cerr := d.Compile(chunkname, src)
	if cerr != nil {
		fmt.Fprintln(os.Stderr, cerr)
		return driver.ExitCode(cerr)
	}

	if *dumpBC {
		data := d.WriteChunk(proto, false)
		if *outFile != "" {
			if werr := os.WriteFile(*outFile, data, 0644); werr != nil {
				fmt.Fprintln(os.Stderr, werr)
				return 1
			}
		} else {
			os.Stdout.Write(data)
		}
		return 0
	}

	opt := driver.Option{
		Argc:           len(rest),
		Argv:           rest,
		Verbose:        *verbose,
		TracePID:       *tracePID,
		Workload:       workload,
		TraceCPU:       *traceCPU,
		PrintTimestamp: *timestamps,
		Quiet:          *quiet,
		DryRun:         *dryRun,
	}
	if opt.TraceCPU < 0 {
		opt.TraceCPU = 0
	}

	sigCh, stop := driver.NotifyInterrupt()
	defer stop()
	done := make(chan error, 1)
	go func() { done <- d.Run(proto, opt) }()

	select {
	case rerr := <-done:
		if rerr != nil {
			fmt.Fprintln(os.Stderr, rerr)
			return driver.ExitCode(rerr)
		}
		return 0
	case <-sigCh:
		d.Global.SetStop()
		rerr := <-done
		if rerr != nil {
			fmt.Fprintln(os.Stderr, rerr)
			return driver.ExitCode(rerr)
		}
		return 0
	}
}

// wasSet reports whether flag name was given on the command line
// (fs.Visit visits only flags that were set), distinguishing an explicit empty glob ("-le") from an unset flag.
func wasSet(fs *flag.FlagSet, name string) bool {
	found := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}
