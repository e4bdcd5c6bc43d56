// Package ktapstate holds the state a whole tracing session shares: the
// string pool and globals table (via vm.Runtime), a session identifier,
// per-CPU worker thread contexts, and the recursion-context bitmap that
// prevents a worker from re-entering while it is already running —
// grounded on the worker/recursion-context machinery of
// runtime/kp_events.c in original_source.
package ktapstate

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"ktap/internal/strpool"
	"ktap/internal/vm"
)

// RecursionContext is one of the four execution contexts a CPU can be
// interrupted into, per spec §4.9.
type RecursionContext int

const (
	CtxNMI RecursionContext = iota
	CtxIRQ
	CtxSIRQ
	CtxTASK
	numRecursionContexts
)

func (rc RecursionContext) String() string {
	switch rc {
	case CtxNMI:
		return "nmi"
	case CtxIRQ:
		return "irq"
	case CtxSIRQ:
		return "sirq"
	case CtxTASK:
		return "task"
	}
	return "rctx?"
}

type cpuRCtx struct {
	cpu int
	rc  RecursionContext
}

// Global is the session-wide state: one per running ktap program.
// SessionID is a random identifier New assigns to each session; no
// driver output or option struct carries it.
type Global struct {
	SessionID uuid.UUID
	Runtime   *vm.Runtime

	mu      sync.Mutex
	bitmap  map[int]uint8
	threads map[cpuRCtx]*vm.Thread

	registerOnce singleflight.Group

	stopMu sync.Mutex
	stop   bool
}

func New() *Global {
	return &Global{
		SessionID: uuid.New(),
		Runtime:   vm.NewRuntime(strpool.New()),
		bitmap:    make(map[int]uint8),
		threads:   make(map[cpuRCtx]*vm.Thread),
	}
}

// GetRecursionContext implements get_recursion_context(): it sets and
// returns rc's bit for cpu, or returns -1 if that bit was already set
// (the worker is already executing and must drop this event).
func (g *Global) GetRecursionContext(cpu int, rc RecursionContext) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	bit := uint8(1) << uint(rc)
	if g.bitmap[cpu]&bit != 0 {
		return -1
	}
	g.bitmap[cpu] |= bit
	return int(rc)
}

// PutRecursionContext clears rc's bit for cpu.
func (g *Global) PutRecursionContext(cpu int, rc RecursionContext) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.bitmap[cpu] &^= uint8(1) << uint(rc)
}

// NewWorkerThread hands out the pre-reserved thread for (cpu, rc),
// creating it on first use, matching new_thread(main, rctx).
func (g *Global) NewWorkerThread(cpu int, rc RecursionContext, host vm.HostContext) *vm.Thread {
	g.mu.Lock()
	defer g.mu.Unlock()
	key := cpuRCtx{cpu, rc}
	if th, ok := g.threads[key]; ok {
		return th
	}
	th := vm.NewThread(g.Runtime, host)
	g.threads[key] = th
	return th
}

// ExitWorkerThread frees the thread-local state for (cpu, rc).
func (g *Global) ExitWorkerThread(cpu int, rc RecursionContext) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.threads, cpuRCtx{cpu, rc})
}

// RegisterOnce dedupes concurrent event_create_* registration calls for
// the same probe name: if two goroutines race to register "sys_open",
// only one registration actually runs.
func (g *Global) RegisterOnce(name string, register func() error) error {
	_, err, _ := g.registerOnce.Do(name, func() (interface{}, error) {
		return nil, register()
	})
	return err
}

// RunPerCPU fans a per-CPU callback (e.g. a PROFILE timer tick) out
// across ncpu goroutines, propagating the first error and cancelling
// ctx for the rest.
func (g *Global) RunPerCPU(ctx context.Context, ncpu int, fn func(ctx context.Context, cpu int) error) error {
	eg, egCtx := errgroup.WithContext(ctx)
	for cpu := 0; cpu < ncpu; cpu++ {
		cpu := cpu
		eg.Go(func() error { return fn(egCtx, cpu) })
	}
	return eg.Wait()
}

// Stop reports whether the session-wide stop flag has been set.
func (g *Global) Stop() bool {
	g.stopMu.Lock()
	defer g.stopMu.Unlock()
	return g.stop
}

// SetStop sets the session-wide flag that Stop reports. It does not set
// any vm.Thread's Stop field, which is the flag the vm polls.
func (g *Global) SetStop() {
	g.stopMu.Lock()
	g.stop = true
	g.stopMu.Unlock()
}
