package builtin

import (
	"fmt"
	"time"

	humanize "github.com/dustin/go-humanize"

	"ktap/internal/strpool"
	"ktap/internal/table"
	"ktap/internal/value"
	"ktap/internal/vm"
)

// registerBase installs the free global functions of lib_base.c: print
// family, table helpers (len/pairs/delete), aggregation helpers (count/
// max/min/sum/avg/histogram), task intrinsics, and clock readouts. A
// thread with no Host bound (e.g. in a unit test) reads zero task values,
// the same as a dry run (`-d`).
func registerBase(rt *vm.Runtime) error {
	fns := map[string]vm.GoFunc{
		"print":   biPrint,
		"printf":  biPrintf,
		"len":     biLen,
		"pairs":   biPairs,
		"delete":  biDelete,
		"count":   biCount,
		"max":     biMax,
		"min":     biMin,
		"sum":     biSum,
		"avg":     biAvg,
		"histogram": biHistogram,

		"gettimeofday_ns": biClock(time.Nanosecond),
		"gettimeofday_us": biClock(time.Microsecond),
		"gettimeofday_ms": biClock(time.Millisecond),
		"gettimeofday_s":  biClock(time.Second),

		"exit": biExit,
	}
	for name, fn := range fns {
		if err := register(rt, name, fn); err != nil {
			return err
		}
	}
	return registerTaskIntrinsics(rt)
}

// registerTaskIntrinsics wires pid/tid/uid/cpu/execname/num_cpus/arch as
// plain calls into th.Host, falling back to zero values when a thread has
// no host bound (e.g. a unit test thread built without one).
func registerTaskIntrinsics(rt *vm.Runtime) error {
	one := func(name string, get func(vm.HostContext) value.Value) vm.GoFunc {
		return func(th *vm.Thread, args []value.Value) ([]value.Value, error) {
			if th.Host == nil {
				return []value.Value{value.Number(0)}, nil
			}
			return []value.Value{get(th.Host)}, nil
		}
	}
	fns := map[string]vm.GoFunc{
		"pid":      one("pid", func(h vm.HostContext) value.Value { return value.Number(float64(h.PID())) }),
		"tid":      one("tid", func(h vm.HostContext) value.Value { return value.Number(float64(h.TID())) }),
		"uid":      one("uid", func(h vm.HostContext) value.Value { return value.Number(float64(h.UID())) }),
		"cpu":      one("cpu", func(h vm.HostContext) value.Value { return value.Number(float64(h.CPU())) }),
		"num_cpus": func(th *vm.Thread, args []value.Value) ([]value.Value, error) {
			return []value.Value{value.Number(1)}, nil
		},
		"arch": func(th *vm.Thread, args []value.Value) ([]value.Value, error) {
			s, err := th.RT.Pool.Intern("unknown")
			if err != nil {
				return nil, err
			}
			return []value.Value{strpool.ToValue(s)}, nil
		},
	}
	for name, fn := range fns {
		if err := register(rt, name, fn); err != nil {
			return err
		}
	}
	return register(rt, "execname", func(th *vm.Thread, args []value.Value) ([]value.Value, error) {
		name := "ktap"
		if th.Host != nil {
			name = th.Host.ExecName()
		}
		s, err := th.RT.Pool.Intern(name)
		if err != nil {
			return nil, err
		}
		return []value.Value{strpool.ToValue(s)}, nil
	})
}

func biPrint(th *vm.Thread, args []value.Value) ([]value.Value, error) {
	if err := writeLine(th, joinArgs(args, "\t")+"\n"); err != nil {
		return nil, err
	}
	return nil, nil
}

// biPrintf implements printf(fmt, ...): a ktap-level format string using
// the same %d/%s/%f verbs as the real C formatter, mapped onto fmt's own
// verbs since every operand is already a tagged Value we can render with
// tostring.
func biPrintf(th *vm.Thread, args []value.Value) ([]value.Value, error) {
	format, ok := argString(args, 0)
	if !ok {
		return nil, argErrorf("printf", "argument 1 must be a string")
	}
	rest := args[1:]
	out, err := expandFormat(format, rest)
	if err != nil {
		return nil, err
	}
	if err := writeLine(th, out); err != nil {
		return nil, err
	}
	return nil, nil
}

func expandFormat(format string, args []value.Value) (string, error) {
	var out []byte
	ai := 0
	for i := 0; i < len(format); i++ {
		c := format[i]
		if c != '%' || i == len(format)-1 {
			out = append(out, c)
			continue
		}
		i++
		verb := format[i]
		if verb == '%' {
			out = append(out, '%')
			continue
		}
		if ai >= len(args) {
			return "", argErrorf("printf", "not enough arguments for format %q", format)
		}
		a := args[ai]
		ai++
		switch verb {
		case 'd', 'u', 'x', 'X':
			out = append(out, []byte(fmt.Sprintf("%"+string(verb), int64(value.AsNumber(a))))...)
		case 'f', 'g', 'e':
			out = append(out, []byte(fmt.Sprintf("%"+string(verb), value.AsNumber(a)))...)
		case 's':
			out = append(out, []byte(tostring(a))...)
		case 'c':
			out = append(out, byte(int64(value.AsNumber(a))))
		default:
			out = append(out, '%', verb)
		}
	}
	return string(out), nil
}

func biLen(th *vm.Thread, args []value.Value) ([]value.Value, error) {
	if s, ok := argString(args, 0); ok {
		return []value.Value{value.Number(float64(len(s)))}, nil
	}
	if t, ok := argTable(args, 0); ok {
		return []value.Value{value.Number(float64(t.Len()))}, nil
	}
	return nil, argErrorf("len", "argument 1 must be a string or table")
}

func biPairs(th *vm.Thread, args []value.Value) ([]value.Value, error) {
	t, ok := argTable(args, 0)
	if !ok {
		return nil, argErrorf("pairs", "argument 1 must be a table")
	}
	iter := &vm.NativeFunc{Name: "next"}
	iter.Fn = func(th *vm.Thread, args []value.Value) ([]value.Value, error) {
		key := arg(args, 1)
		k, v, ok := t.Next(key)
		if !ok {
			return []value.Value{value.Nil()}, nil
		}
		return []value.Value{k, v}, nil
	}
	return []value.Value{vm.NativeValue(iter), table.ToValue(t), value.Nil()}, nil
}

func biDelete(th *vm.Thread, args []value.Value) ([]value.Value, error) {
	t, ok := argTable(args, 0)
	if !ok {
		return nil, argErrorf("delete", "argument 1 must be a table")
	}
	return nil, t.Set(arg(args, 1), value.Nil())
}

func biExit(th *vm.Thread, args []value.Value) ([]value.Value, error) {
	th.Stop = true
	return nil, nil
}

func statOf(th *vm.Thread, name string, args []value.Value, pick func(*table.StatData) float64) ([]value.Value, error) {
	t, ok := argTable(args, 0)
	if !ok {
		return nil, argErrorf(name, "argument 1 must be an aggregation table")
	}
	sd, ok := t.StatAt(arg(args, 1))
	if !ok {
		return []value.Value{value.Number(0)}, nil
	}
	return []value.Value{value.Number(pick(sd))}, nil
}

func biCount(th *vm.Thread, args []value.Value) ([]value.Value, error) {
	return statOf(th, "count", args, func(sd *table.StatData) float64 { return float64(sd.Count) })
}
func biMax(th *vm.Thread, args []value.Value) ([]value.Value, error) {
	return statOf(th, "max", args, func(sd *table.StatData) float64 { return sd.Max })
}
func biMin(th *vm.Thread, args []value.Value) ([]value.Value, error) {
	return statOf(th, "min", args, func(sd *table.StatData) float64 { return sd.Min })
}
func biSum(th *vm.Thread, args []value.Value) ([]value.Value, error) {
	return statOf(th, "sum", args, func(sd *table.StatData) float64 { return sd.Sum })
}
func biAvg(th *vm.Thread, args []value.Value) ([]value.Value, error) {
	return statOf(th, "avg", args, func(sd *table.StatData) float64 {
		if sd.Count == 0 {
			return 0
		}
		return sd.Sum / float64(sd.Count)
	})
}

// biHistogram renders a distribution table as a log2-bucketed text
// histogram, using humanize.Comma to keep large counts readable the way
// the real CLI's aggregation printer does.
func biHistogram(th *vm.Thread, args []value.Value) ([]value.Value, error) {
	t, ok := argTable(args, 0)
	if !ok {
		return nil, argErrorf("histogram", "argument 1 must be an aggregation table")
	}
	buckets := map[int]int64{}
	var total int64
	k := value.Nil()
	for {
		key, v, ok := t.Next(k)
		if !ok {
			break
		}
		k = key
		sd, has := t.StatAt(key)
		var n int64
		if has {
			n = int64(sd.Sum)
		} else if value.IsNumber(v) {
			n = int64(value.AsNumber(v))
		}
		bucket := log2Bucket(n)
		buckets[bucket]++
		total++
	}
	var out string
	for b := 0; b < 64; b++ {
		c, ok := buckets[b]
		if !ok {
			continue
		}
		out += fmt.Sprintf("%8d -> %8d : %s\n", pow2(b), pow2(b+1)-1, humanize.Comma(c))
	}
	out += fmt.Sprintf("total: %s\n", humanize.Comma(total))
	if err := writeLine(th, out); err != nil {
		return nil, err
	}
	return nil, nil
}

func log2Bucket(n int64) int {
	if n <= 0 {
		return 0
	}
	b := 0
	for (int64(1) << uint(b+1)) <= n {
		b++
	}
	return b
}

func pow2(b int) int64 { return int64(1) << uint(b) }

func biClock(unit time.Duration) vm.GoFunc {
	return func(th *vm.Thread, args []value.Value) ([]value.Value, error) {
		return []value.Value{value.Number(float64(time.Now().UnixNano() / int64(unit)))}, nil
	}
}
