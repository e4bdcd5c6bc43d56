package vm

import "ktap/internal/value"

// maxStackDepth is KP_MAX_STACK_DEPTH (spec §6 limits): the maximum
// nesting of ktap call frames.
const maxStackDepth = 50

// frame is one active call (kp_callinfo_t, minus the fields this
// recursive-Go-call interpreter gets for free from the host stack).
type frame struct {
	cl      *Closure
	base    int
	varargs []value.Value
}

// Thread is one execution context: the main thread, or one per-CPU
// worker context for a recursion level (NMI/IRQ/SIRQ/TASK), per §4.9.
// Call frames are modeled as nested Go calls to run(); th.frames exists
// only so closeUpvalues/diagnostics can see the active base offsets.
type Thread struct {
	Stack  []value.Value
	top    int // one past the last valid "multret" result, like L->top
	frames []*frame
	openUV *Upvalue

	Stop bool

	CurrentEvent EventContext
	Host         HostContext

	RT *Runtime
}

func NewThread(rt *Runtime, host HostContext) *Thread {
	return &Thread{RT: rt, Host: host, Stack: make([]value.Value, 0, 256)}
}

func (th *Thread) ensure(n int) {
	for len(th.Stack) < n {
		th.Stack = append(th.Stack, value.Nil())
	}
}

// Call invokes a ktap closure or a native function with nresults
// expected results (-1 means "all"), implementing the precall/poscall
// dispatch of §4.8.
func (th *Thread) Call(fn value.Value, args []value.Value, nresults int) ([]value.Value, error) {
	switch {
	case IsClosure(fn):
		return th.callClosure(ClosureFromValue(fn), args, nresults)
	case value.IsCFunc(fn):
		nf := NativeFromValue(fn)
		results, err := nf.Fn(th, args)
		if err != nil {
			return nil, err
		}
		return adjustResults(results, nresults), nil
	default:
		return nil, runtimeErrf(th, "attempt to call a %s value", value.TypeName(fn))
	}
}

func adjustResults(results []value.Value, n int) []value.Value {
	if n < 0 {
		return results
	}
	out := make([]value.Value, n)
	for i := range out {
		if i < len(results) {
			out[i] = results[i]
		} else {
			out[i] = value.Nil()
		}
	}
	return out
}

func (th *Thread) callClosure(cl *Closure, args []value.Value, nresults int) ([]value.Value, error) {
	if len(th.frames) >= maxStackDepth {
		return nil, runtimeErrf(th, "stack overflow")
	}
	base := len(th.Stack)
	frameSize := int(cl.Proto.FrameSize)
	th.ensure(base + frameSize)

	np := int(cl.Proto.NumParams)
	for i := 0; i < np; i++ {
		if i < len(args) {
			th.Stack[base+i] = args[i]
		} else {
			th.Stack[base+i] = value.Nil()
		}
	}
	var varargs []value.Value
	if cl.Proto.IsVararg() && len(args) > np {
		varargs = append(varargs, args[np:]...)
	}

	fr := &frame{cl: cl, base: base, varargs: varargs}
	th.frames = append(th.frames, fr)
	results, err := th.run(fr)
	th.frames = th.frames[:len(th.frames)-1]
	th.Stack = th.Stack[:base]
	if err != nil {
		return nil, err
	}
	return adjustResults(results, nresults), nil
}
