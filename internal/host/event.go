package host

import (
	"fmt"

	"ktap/internal/value"
)

// SyntheticEvent is the reference vm.EventContext a synthetic probe
// fires: a probe name plus a fixed argument list, standing in for the
// trace record a real kprobe/tracepoint/perf event would carry.
type SyntheticEvent struct {
	Probe string
	Args  []value.Value
	Text  string
}

func (e *SyntheticEvent) ProbeName() string { return e.Probe }

func (e *SyntheticEvent) Arg(n int) value.Value {
	if n < 0 || n >= len(e.Args) {
		return value.Nil()
	}
	return e.Args[n]
}

func (e *SyntheticEvent) String() string {
	if e.Text != "" {
		return e.Text
	}
	return fmt.Sprintf("%s(%d args)", e.Probe, len(e.Args))
}
