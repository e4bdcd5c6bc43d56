// Package builtin registers ktap's standard library against a
// vm.Runtime: the free "base" functions (print, len, pairs, histogram
// aggregation, task intrinsics, ...) plus the kdebug/timer/ansi/net/table
// namespace libraries, grounded on runtime/lib_base.c, lib_kdebug.c,
// lib_timer.c, lib_ansi.c, lib_net.c and lib_table.c in original_source.
//
// kdebug and timer are installed as table-valued globals, not flat
// functions, because the parser desugars `trace`/`trace_end`/`profile`/
// `tick` statements into field calls (kdebug.trace_by_id(...),
// timer.profile(...)) rather than bare global calls.
package builtin

import (
	"fmt"
	"strings"

	"ktap/internal/ktaperr"
	"ktap/internal/strpool"
	"ktap/internal/table"
	"ktap/internal/value"
	"ktap/internal/vm"
)

// sink is the optional ring_buffer_write collaborator print/printf write
// through; a Runtime's host may or may not implement it, so builtin
// falls back to the standard output stream when it doesn't.
type sink interface {
	RingBufferWrite(line string) error
}

func writeLine(th *vm.Thread, line string) error {
	if s, ok := th.Host.(sink); ok {
		return s.RingBufferWrite(line)
	}
	fmt.Print(line)
	return nil
}

func arg(args []value.Value, n int) value.Value {
	if n < 0 || n >= len(args) {
		return value.Nil()
	}
	return args[n]
}

func argNumber(args []value.Value, n int) (float64, bool) {
	v := arg(args, n)
	if !value.IsNumber(v) {
		return 0, false
	}
	return value.AsNumber(v), true
}

func argString(args []value.Value, n int) (string, bool) {
	v := arg(args, n)
	if !strpool.IsString(v) {
		return "", false
	}
	return strpool.FromValue(v).Bytes, true
}

func argTable(args []value.Value, n int) (*table.Table, bool) {
	v := arg(args, n)
	if !table.IsTable(v) {
		return nil, false
	}
	return table.FromValue(v), true
}

func argCallable(args []value.Value, n int) (value.Value, bool) {
	v := arg(args, n)
	if vm.IsClosure(v) || value.IsCFunc(v) {
		return v, true
	}
	return value.Nil(), false
}

// tostring renders v the way ktap's print family does: %d-ish integers
// print without a decimal point, strings print raw, everything else by
// its type tag.
func tostring(v value.Value) string {
	switch {
	case value.IsNil(v):
		return "nil"
	case value.IsBool(v):
		return fmt.Sprintf("%v", value.AsBool(v))
	case value.IsNumber(v):
		n := value.AsNumber(v)
		if n == float64(int64(n)) {
			return fmt.Sprintf("%d", int64(n))
		}
		return fmt.Sprintf("%g", n)
	case strpool.IsString(v):
		return strpool.FromValue(v).Bytes
	case table.IsTable(v):
		return "table"
	case vm.IsClosure(v):
		return "function"
	case value.IsCFunc(v):
		return "builtin"
	default:
		return value.TypeName(v)
	}
}

func argErrorf(name, format string, args ...interface{}) error {
	return ktaperr.Runtimef("", 0, "%s: %s", name, fmt.Sprintf(format, args...))
}

// register installs fn as a flat free global (lib_base.c's `kp_register_
// lib(ks, NULL, base_funcs)` convention).
func register(rt *vm.Runtime, name string, fn vm.GoFunc) error {
	_, err := rt.RegisterBuiltin(name, fn)
	return err
}

// registerLib installs a namespace table (kdebug, timer, ansi, net,
// table) as a global, with each entry a native function Value — the Go
// equivalent of kp_register_lib(ks, libname, funcs).
func registerLib(rt *vm.Runtime, libname string, funcs map[string]vm.GoFunc) error {
	t := table.New(0, 4)
	for field, fn := range funcs {
		nf := &vm.NativeFunc{Name: libname + "." + field}
		nf.Fn = fn
		key, err := rt.Pool.Intern(field)
		if err != nil {
			return err
		}
		if err := t.Set(strpool.ToValue(key), vm.NativeValue(nf)); err != nil {
			return err
		}
	}
	key, err := rt.Pool.Intern(libname)
	if err != nil {
		return err
	}
	return rt.Globals.Set(strpool.ToValue(key), table.ToValue(t))
}

// Register installs every library this package knows about against rt.
func Register(rt *vm.Runtime) error {
	if err := registerBase(rt); err != nil {
		return err
	}
	if err := registerKdebug(rt); err != nil {
		return err
	}
	if err := registerTimer(rt); err != nil {
		return err
	}
	if err := registerAnsi(rt); err != nil {
		return err
	}
	if err := registerNet(rt); err != nil {
		return err
	}
	if err := registerTableLib(rt); err != nil {
		return err
	}
	return nil
}

func joinArgs(args []value.Value, sep string) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = tostring(a)
	}
	return strings.Join(parts, sep)
}
