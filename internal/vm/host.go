package vm

import "ktap/internal/value"

// EventContext is the per-firing event view the interpreter's VARGN,
// VARGSTR, and VPROBENAME intrinsics read from (event_tostr/event_getarg
// upcalls of spec §6), bound to the thread only for the duration of one
// callback invocation.
type EventContext interface {
	String() string      // event_tostr
	Arg(n int) value.Value // event_getarg
	ProbeName() string
}

// HostContext supplies the task-level intrinsics (current_pid/tid/uid/
// cpu/execname) that are available even outside an event callback.
type HostContext interface {
	PID() int64
	TID() int64
	UID() int64
	CPU() int64
	ExecName() string
}
