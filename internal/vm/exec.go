package vm

import (
	"math"

	"ktap/internal/bytecode"
	"ktap/internal/ktaperr"
	"ktap/internal/strpool"
	"ktap/internal/table"
	"ktap/internal/value"
)

func runtimeErrf(th *Thread, format string, args ...interface{}) *ktaperr.Error {
	chunk := ""
	if n := len(th.frames); n > 0 {
		chunk = th.frames[n-1].cl.Proto.Chunkname
	}
	return ktaperr.Runtimef(chunk, 0, format, args...)
}

// primitive tags used by KPRI's D operand.
const (
	priNil = iota
	priFalse
	priTrue
)

// run executes fr's prototype from pc 0 until a RET*/tail call/EXIT
// ends it, returning the result values. This is the dispatch loop of
// §4.8: one switch over every opcode, registers addressed relative to
// fr.base.
func (th *Thread) run(fr *frame) ([]value.Value, error) {
	code := fr.cl.Proto.Code
	pc := 0

	reg := func(i int) value.Value { return th.Stack[fr.base+i] }
	setReg := func(i int, v value.Value) {
		th.ensure(fr.base + i + 1)
		th.Stack[fr.base+i] = v
	}

	const yieldCheckEvery = 100000
	insnCount := 0

	for {
		if pc >= len(code) {
			th.closeUpvalues(fr.base)
			return nil, nil
		}
		ins := code[pc]
		pc++
		insnCount++
		if insnCount%yieldCheckEvery == 0 && th.Stop {
			return nil, nil
		}

		op := ins.Op()
		switch op {

		case bytecode.MOV:
			setReg(int(ins.A()), reg(int(ins.D())))

		case bytecode.NOT:
			setReg(int(ins.A()), value.Bool(!value.Truthy(reg(int(ins.D())))))

		case bytecode.UNM:
			v := reg(int(ins.D()))
			if !value.IsNumber(v) {
				return nil, runtimeErrf(th, "attempt to perform arithmetic on a %s value", value.TypeName(v))
			}
			setReg(int(ins.A()), value.Number(-value.AsNumber(v)))

		case bytecode.KNIL:
			for i := int(ins.A()); i <= int(ins.D()); i++ {
				setReg(i, value.Nil())
			}

		case bytecode.KPRI:
			switch ins.D() {
			case priNil:
				setReg(int(ins.A()), value.Nil())
			case priFalse:
				setReg(int(ins.A()), value.Bool(false))
			case priTrue:
				setReg(int(ins.A()), value.Bool(true))
			}

		case bytecode.KSHORT:
			setReg(int(ins.A()), value.Number(float64(int16(ins.D()))))

		case bytecode.KNUM:
			setReg(int(ins.A()), value.Number(fr.cl.Proto.Numbers[ins.D()]))

		case bytecode.KSTR:
			s, err := th.internConst(fr, int(ins.D()))
			if err != nil {
				return nil, err
			}
			setReg(int(ins.A()), strpool.ToValue(s))

		case bytecode.KCDATA:
			return nil, runtimeErrf(th, "cdata constants are not supported")

		// ---- arithmetic --------------------------------------------------
		case bytecode.ADDVV, bytecode.SUBVV, bytecode.MULVV, bytecode.DIVVV, bytecode.MODVV:
			l, r := reg(int(ins.B())), reg(int(ins.C()))
			res, err := arith(th, op, l, r)
			if err != nil {
				return nil, err
			}
			setReg(int(ins.A()), res)

		case bytecode.ADDVN, bytecode.SUBVN, bytecode.MULVN, bytecode.DIVVN, bytecode.MODVN:
			l := reg(int(ins.B()))
			r := value.Number(fr.cl.Proto.Numbers[ins.C()])
			res, err := arith(th, vnToVV(op), l, r)
			if err != nil {
				return nil, err
			}
			setReg(int(ins.A()), res)

		case bytecode.ADDNV, bytecode.SUBNV, bytecode.MULNV, bytecode.DIVNV, bytecode.MODNV:
			l := value.Number(fr.cl.Proto.Numbers[ins.B()])
			r := reg(int(ins.C()))
			res, err := arith(th, nvToVV(op), l, r)
			if err != nil {
				return nil, err
			}
			setReg(int(ins.A()), res)

		case bytecode.POW:
			return nil, runtimeErrf(th, "POW is not supported")

		case bytecode.CAT:
			res, err := th.concat(fr, int(ins.B()), int(ins.C()))
			if err != nil {
				return nil, err
			}
			setReg(int(ins.A()), res)

		// ---- comparisons: test-and-jump pairs -----------------------------
		case bytecode.ISLT, bytecode.ISGE, bytecode.ISLE, bytecode.ISGT:
			l, r := reg(int(ins.A())), reg(int(ins.D()))
			cond, err := compare(th, op, l, r)
			if err != nil {
				return nil, err
			}
			pc, _ = th.testJump(code, pc, cond)

		case bytecode.ISEQV, bytecode.ISNEV:
			l, r := reg(int(ins.A())), reg(int(ins.D()))
			cond := value.Raw(l, r) == (op == bytecode.ISEQV)
			pc, _ = th.testJump(code, pc, cond)

		case bytecode.ISEQS, bytecode.ISNES:
			l := reg(int(ins.A()))
			s, err := th.internConst(fr, int(ins.D()))
			if err != nil {
				return nil, err
			}
			cond := strpool.IsString(l) && strpool.FromValue(l) == s
			if op == bytecode.ISNES {
				cond = !cond
			}
			pc, _ = th.testJump(code, pc, cond)

		case bytecode.ISEQN, bytecode.ISNEN:
			l := reg(int(ins.A()))
			n := fr.cl.Proto.Numbers[ins.D()]
			cond := value.IsNumber(l) && value.AsNumber(l) == n
			if op == bytecode.ISNEN {
				cond = !cond
			}
			pc, _ = th.testJump(code, pc, cond)

		case bytecode.ISEQP, bytecode.ISNEP:
			l := reg(int(ins.A()))
			var match bool
			switch ins.D() {
			case priNil:
				match = value.IsNil(l)
			case priFalse:
				match = l == value.Bool(false)
			case priTrue:
				match = l == value.Bool(true)
			}
			if op == bytecode.ISNEP {
				match = !match
			}
			pc, _ = th.testJump(code, pc, match)

		case bytecode.ISTC, bytecode.ISFC:
			v := reg(int(ins.D()))
			cond := value.Truthy(v)
			if op == bytecode.ISFC {
				cond = !cond
			}
			if cond {
				setReg(int(ins.A()), v)
			}
			pc, _ = th.testJump(code, pc, cond)

		case bytecode.IST, bytecode.ISF:
			v := reg(int(ins.D()))
			cond := value.Truthy(v)
			if op == bytecode.ISF {
				cond = !cond
			}
			pc, _ = th.testJump(code, pc, cond)

		case bytecode.JMP:
			pc = pc + int(ins.J())

		// ---- calls --------------------------------------------------------
		case bytecode.CALL, bytecode.CALLM:
			a, b, c := int(ins.A()), int(ins.B()), int(ins.C())
			fn := reg(a)
			var args []value.Value
			if b == 0 {
				args = cloneRange(th.Stack, fr.base+a+1, th.top)
			} else {
				args = cloneRange(th.Stack, fr.base+a+1, fr.base+a+b)
			}
			if op == bytecode.CALLM && b != 0 {
				args = append(args, cloneRange(th.Stack, fr.base+a+b, th.top)...)
			}
			nres := c - 1
			if c == 0 {
				nres = -1
			}
			results, err := th.Call(fn, args, nres)
			if err != nil {
				return nil, err
			}
			for i, v := range results {
				setReg(a+i, v)
			}
			if nres < 0 {
				th.top = fr.base + a + len(results)
			}

		case bytecode.CALLT, bytecode.CALLMT:
			a, d := int(ins.A()), int(ins.D())
			fn := reg(a)
			var args []value.Value
			if d == 0 {
				args = cloneRange(th.Stack, fr.base+a+1, th.top)
			} else {
				args = cloneRange(th.Stack, fr.base+a+1, fr.base+a+d)
			}
			th.closeUpvalues(fr.base)
			return th.Call(fn, args, -1)

		case bytecode.ITERC, bytecode.ITERN:
			a, b := int(ins.A()), int(ins.B())
			iter, state, ctrl := reg(a-3), reg(a-2), reg(a-1)
			var results []value.Value
			var err error
			if op == bytecode.ITERN && table.IsTable(state) && value.IsCFunc(iter) && NativeFromValue(iter).Name == "next" {
				k, v, ok := table.FromValue(state).Next(ctrl)
				if ok {
					results = []value.Value{k, v}
				}
			} else {
				results, err = th.Call(iter, []value.Value{state, ctrl}, b-1)
				if err != nil {
					return nil, err
				}
			}
			for i := 0; i < b-1; i++ {
				if i < len(results) {
					setReg(a+i, results[i])
				} else {
					setReg(a+i, value.Nil())
				}
			}

		case bytecode.ISNEXT:
			// Always jump to the ITERN site: ITERN takes its table fast
			// path only when the generator is next and calls it otherwise.
			pc = pc + int(ins.J())

		case bytecode.VARG:
			a, b := int(ins.A()), int(ins.B())
			if b == 0 {
				for i, v := range fr.varargs {
					setReg(a+i, v)
				}
				th.top = fr.base + a + len(fr.varargs)
			} else {
				for i := 0; i < b-1; i++ {
					if i < len(fr.varargs) {
						setReg(a+i, fr.varargs[i])
					} else {
						setReg(a+i, value.Nil())
					}
				}
			}

		// ---- returns --------------------------------------------------------
		case bytecode.RET0:
			th.closeUpvalues(fr.base)
			return nil, nil

		case bytecode.RET1:
			th.closeUpvalues(fr.base)
			return []value.Value{reg(int(ins.A()))}, nil

		case bytecode.RET:
			th.closeUpvalues(fr.base)
			a, d := int(ins.A()), int(ins.D())
			out := make([]value.Value, d-1)
			for i := range out {
				out[i] = reg(a + i)
			}
			return out, nil

		case bytecode.RETM:
			th.closeUpvalues(fr.base)
			a := int(ins.A())
			return cloneRange(th.Stack, fr.base+a, th.top), nil

		case bytecode.UCLO:
			th.closeUpvalues(fr.base + int(ins.A()))
			pc = pc + int(ins.J())

		case bytecode.UGET:
			setReg(int(ins.A()), fr.cl.Upvals[ins.D()].get())

		case bytecode.USETV:
			fr.cl.Upvals[ins.A()].set(reg(int(ins.D())))

		case bytecode.FNEW:
			if err := th.execFNew(fr, ins, setReg); err != nil {
				return nil, err
			}

		// ---- tables -----------------------------------------------------
		case bytecode.TNEW:
			d := ins.D()
			narr := int(d & 0x7ff)
			hbits := int(d >> 11)
			setReg(int(ins.A()), table.ToValue(table.New(narr, hbits)))

		case bytecode.TDUP:
			t, err := th.dupTemplate(fr, int(ins.D()))
			if err != nil {
				return nil, err
			}
			setReg(int(ins.A()), table.ToValue(t))

		case bytecode.GGET:
			key, err := th.internConst(fr, int(ins.D()))
			if err != nil {
				return nil, err
			}
			setReg(int(ins.A()), th.RT.Globals.Get(strpool.ToValue(key)))

		case bytecode.GSET:
			key, err := th.internConst(fr, int(ins.D()))
			if err != nil {
				return nil, err
			}
			if err := th.RT.Globals.Set(strpool.ToValue(key), reg(int(ins.A()))); err != nil {
				return nil, err
			}

		case bytecode.GINC:
			key, err := th.internConst(fr, int(ins.D()))
			if err != nil {
				return nil, err
			}
			kv := strpool.ToValue(key)
			delta := value.AsNumber(reg(int(ins.A())))
			if err := th.RT.Globals.Incr(kv, delta); err != nil {
				return nil, err
			}
			setReg(int(ins.A()), th.RT.Globals.Get(kv))

		case bytecode.TGETV, bytecode.TGETR:
			t := table.FromValue(reg(int(ins.B())))
			setReg(int(ins.A()), t.Get(reg(int(ins.C()))))

		case bytecode.TGETS:
			t := table.FromValue(reg(int(ins.B())))
			key, err := th.internConst(fr, int(ins.C()))
			if err != nil {
				return nil, err
			}
			setReg(int(ins.A()), t.Get(strpool.ToValue(key)))

		case bytecode.TGETB:
			t := table.FromValue(reg(int(ins.B())))
			setReg(int(ins.A()), t.Get(value.Number(float64(ins.C()))))

		case bytecode.TSETV, bytecode.TSETR:
			t := table.FromValue(reg(int(ins.B())))
			if err := t.Set(reg(int(ins.C())), reg(int(ins.A()))); err != nil {
				return nil, err
			}

		case bytecode.TSETS:
			t := table.FromValue(reg(int(ins.B())))
			key, err := th.internConst(fr, int(ins.C()))
			if err != nil {
				return nil, err
			}
			if err := t.Set(strpool.ToValue(key), reg(int(ins.A()))); err != nil {
				return nil, err
			}

		case bytecode.TSETB:
			t := table.FromValue(reg(int(ins.B())))
			if err := t.Set(value.Number(float64(ins.C())), reg(int(ins.A()))); err != nil {
				return nil, err
			}

		case bytecode.TINCV:
			t := table.FromValue(reg(int(ins.B())))
			if err := t.Incr(reg(int(ins.C())), value.AsNumber(reg(int(ins.A())))); err != nil {
				return nil, err
			}
			setReg(int(ins.A()), t.Get(reg(int(ins.C()))))

		case bytecode.TINCS:
			t := table.FromValue(reg(int(ins.B())))
			key, err := th.internConst(fr, int(ins.C()))
			if err != nil {
				return nil, err
			}
			kv := strpool.ToValue(key)
			if err := t.Incr(kv, value.AsNumber(reg(int(ins.A())))); err != nil {
				return nil, err
			}
			setReg(int(ins.A()), t.Get(kv))

		case bytecode.TINCB:
			t := table.FromValue(reg(int(ins.B())))
			kv := value.Number(float64(ins.C()))
			if err := t.Incr(kv, value.AsNumber(reg(int(ins.A())))); err != nil {
				return nil, err
			}
			setReg(int(ins.A()), t.Get(kv))

		case bytecode.TSETM:
			a := int(ins.A())
			t := table.FromValue(reg(a))
			start := int(fr.cl.Proto.Numbers[ins.D()])
			vals := cloneRange(th.Stack, fr.base+a+1, th.top)
			for i, v := range vals {
				if err := t.Set(value.Number(float64(start+i)), v); err != nil {
					return nil, err
				}
			}

		// ---- numeric for ---------------------------------------------------
		case bytecode.FORI, bytecode.JFORI:
			base := int(ins.A())
			idx := value.AsNumber(reg(base))
			limit := value.AsNumber(reg(base + 1))
			step := value.AsNumber(reg(base + 2))
			if step == 0 || (step > 0 && idx > limit) || (step < 0 && idx < limit) {
				pc = pc + int(ins.J())
			} else {
				setReg(base+3, value.Number(idx))
			}

		case bytecode.FORL, bytecode.IFORL, bytecode.JFORL:
			base := int(ins.A())
			idx := value.AsNumber(reg(base)) + value.AsNumber(reg(base+2))
			limit := value.AsNumber(reg(base + 1))
			step := value.AsNumber(reg(base + 2))
			cont := (step >= 0 && idx <= limit) || (step < 0 && idx >= limit)
			setReg(base, value.Number(idx))
			if cont {
				setReg(base+3, value.Number(idx))
				pc = pc + int(ins.J())
			}

		case bytecode.ITERL, bytecode.IITERL, bytecode.JITERL:
			a := int(ins.A())
			if v := reg(a + 1); !value.IsNil(v) {
				setReg(a, v)
				pc = pc + int(ins.J())
			}

		case bytecode.LOOP, bytecode.ILOOP, bytecode.JLOOP:
			if th.Stop {
				return nil, nil
			}

		case bytecode.GFUNC:
			d := int(ins.D())
			if d < 0 || d >= len(th.RT.Builtins) {
				return nil, runtimeErrf(th, "invalid built-in function index %d", d)
			}
			setReg(int(ins.A()), NativeValue(th.RT.Builtins[d]))

		case bytecode.VARGN:
			if th.CurrentEvent == nil {
				return nil, runtimeErrf(th, "event intrinsic used outside an event context")
			}
			setReg(int(ins.A()), th.CurrentEvent.Arg(int(ins.B())))

		case bytecode.VARGSTR:
			if th.CurrentEvent == nil {
				return nil, runtimeErrf(th, "event intrinsic used outside an event context")
			}
			s, err := th.RT.Pool.Intern(th.CurrentEvent.String())
			if err != nil {
				return nil, err
			}
			setReg(int(ins.A()), strpool.ToValue(s))

		case bytecode.VPROBENAME:
			if th.CurrentEvent == nil {
				return nil, runtimeErrf(th, "event intrinsic used outside an event context")
			}
			s, err := th.RT.Pool.Intern(th.CurrentEvent.ProbeName())
			if err != nil {
				return nil, err
			}
			setReg(int(ins.A()), strpool.ToValue(s))

		case bytecode.VPID:
			setReg(int(ins.A()), value.Number(float64(th.Host.PID())))
		case bytecode.VTID:
			setReg(int(ins.A()), value.Number(float64(th.Host.TID())))
		case bytecode.VUID:
			setReg(int(ins.A()), value.Number(float64(th.Host.UID())))
		case bytecode.VCPU:
			setReg(int(ins.A()), value.Number(float64(th.Host.CPU())))
		case bytecode.VEXECNAME:
			s, err := th.RT.Pool.Intern(th.Host.ExecName())
			if err != nil {
				return nil, err
			}
			setReg(int(ins.A()), strpool.ToValue(s))

		case bytecode.FUNCF, bytecode.IFUNCF, bytecode.JFUNCF,
			bytecode.FUNCV, bytecode.IFUNCV, bytecode.JFUNCV,
			bytecode.FUNCC, bytecode.FUNCCW:
			// Function-entry headers: frame sizing already happened in
			// callClosure from Proto.FrameSize/NumParams, so these are
			// no-ops if a chunk ever encodes them explicitly.

		case bytecode.EXIT:
			th.closeUpvalues(fr.base)
			return nil, nil

		default:
			return nil, runtimeErrf(th, "unimplemented opcode %s", op)
		}
	}
}

// testJump implements the comparison/test-and-jump pairing of §4.8: the
// instruction immediately following a comparison/test opcode must be a
// JMP; if cond holds, the jump is taken, otherwise it is skipped.
func (th *Thread) testJump(code []bytecode.Instruction, pc int, cond bool) (int, bool) {
	if pc >= len(code) || code[pc].Op() != bytecode.JMP {
		return pc, cond
	}
	if cond {
		return pc + 1 + int(code[pc].J()), true
	}
	return pc + 1, false
}

func cloneRange(s []value.Value, from, to int) []value.Value {
	if from >= to || from < 0 || to > len(s) {
		return nil
	}
	out := make([]value.Value, to-from)
	copy(out, s[from:to])
	return out
}

func (th *Thread) internConst(fr *frame, idx int) (*strpool.String, error) {
	c := fr.cl.Proto.GCConsts[idx]
	if c.Kind != bytecode.ConstStr {
		return nil, runtimeErrf(th, "constant %d is not a string", idx)
	}
	return th.RT.Pool.Intern(c.Str)
}

func (th *Thread) execFNew(fr *frame, ins bytecode.Instruction, setReg func(int, value.Value)) error {
	gc := fr.cl.Proto.GCConsts[ins.D()]
	if gc.Kind != bytecode.ConstChild {
		return runtimeErrf(th, "constant %d is not a child prototype", ins.D())
	}
	childProto := fr.cl.Proto.Children[gc.ChildPt]
	nc := newClosure(childProto)
	nc.Upvals = make([]*Upvalue, len(childProto.Upvals))
	for i, uvd := range childProto.Upvals {
		if uvd.IsLocal() {
			nc.Upvals[i] = th.findUpval(fr.base + int(uvd.Index()))
		} else {
			nc.Upvals[i] = fr.cl.Upvals[uvd.Index()]
		}
	}
	childProto.BumpCLCount()
	setReg(int(ins.A()), ClosureValue(nc))
	return nil
}

func (th *Thread) dupTemplate(fr *frame, idx int) (*table.Table, error) {
	gc := fr.cl.Proto.GCConsts[idx]
	if gc.Kind != bytecode.ConstTab {
		return nil, runtimeErrf(th, "constant %d is not a template table", idx)
	}
	t := table.New(len(gc.Table.Array), 0)
	for i, v := range gc.Table.Array {
		val, err := th.tabConstValue(v)
		if err != nil {
			return nil, err
		}
		if err := t.Set(value.Number(float64(i+1)), val); err != nil {
			return nil, err
		}
	}
	for _, e := range gc.Table.Hash {
		k, err := th.tabConstValue(e.Key)
		if err != nil {
			return nil, err
		}
		v, err := th.tabConstValue(e.Val)
		if err != nil {
			return nil, err
		}
		if err := t.Set(k, v); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func (th *Thread) tabConstValue(v bytecode.TabConst) (value.Value, error) {
	switch v.Kind {
	case bytecode.TabNil:
		return value.Nil(), nil
	case bytecode.TabFalse:
		return value.Bool(false), nil
	case bytecode.TabTrue:
		return value.Bool(true), nil
	case bytecode.TabInt, bytecode.TabNum:
		return value.Number(v.Num), nil
	case bytecode.TabStr:
		s, err := th.RT.Pool.Intern(v.Str)
		if err != nil {
			return value.Nil(), err
		}
		return strpool.ToValue(s), nil
	}
	return value.Nil(), nil
}

// concat builds R[b..c] into one interned string, via the per-CPU
// scratch buffer described in §4.8 (here, a plain strings.Builder — no
// bound other than the resulting string's own KP_MAX_STR check inside
// Pool.Intern).
func (th *Thread) concat(fr *frame, from, to int) (value.Value, error) {
	var sb []byte
	for i := from; i <= to; i++ {
		v := th.Stack[fr.base+i]
		if !strpool.IsString(v) {
			return value.Nil(), runtimeErrf(th, "attempt to concatenate a %s value", value.TypeName(v))
		}
		sb = append(sb, strpool.FromValue(v).Bytes...)
	}
	s, err := th.RT.Pool.Intern(string(sb))
	if err != nil {
		return value.Nil(), err
	}
	return strpool.ToValue(s), nil
}

func vnToVV(op bytecode.Op) bytecode.Op {
	switch op {
	case bytecode.ADDVN:
		return bytecode.ADDVV
	case bytecode.SUBVN:
		return bytecode.SUBVV
	case bytecode.MULVN:
		return bytecode.MULVV
	case bytecode.DIVVN:
		return bytecode.DIVVV
	case bytecode.MODVN:
		return bytecode.MODVV
	}
	return op
}

func nvToVV(op bytecode.Op) bytecode.Op {
	switch op {
	case bytecode.ADDNV:
		return bytecode.ADDVV
	case bytecode.SUBNV:
		return bytecode.SUBVV
	case bytecode.MULNV:
		return bytecode.MULVV
	case bytecode.DIVNV:
		return bytecode.DIVVV
	case bytecode.MODNV:
		return bytecode.MODVV
	}
	return op
}

func arith(th *Thread, op bytecode.Op, l, r value.Value) (value.Value, error) {
	if !value.IsNumber(l) || !value.IsNumber(r) {
		bad := l
		if value.IsNumber(l) {
			bad = r
		}
		return value.Nil(), runtimeErrf(th, "attempt to perform arithmetic on a %s value", value.TypeName(bad))
	}
	a, b := value.AsNumber(l), value.AsNumber(r)
	switch op {
	case bytecode.ADDVV:
		return value.Number(a + b), nil
	case bytecode.SUBVV:
		return value.Number(a - b), nil
	case bytecode.MULVV:
		return value.Number(a * b), nil
	case bytecode.DIVVV:
		if b == 0 {
			return value.Nil(), runtimeErrf(th, "division by zero")
		}
		return value.Number(a / b), nil
	case bytecode.MODVV:
		if b == 0 {
			return value.Nil(), runtimeErrf(th, "division by zero")
		}
		return value.Number(math.Mod(a, b)), nil
	}
	return value.Nil(), runtimeErrf(th, "unsupported arithmetic opcode %s", op)
}

func compare(th *Thread, op bytecode.Op, l, r value.Value) (bool, error) {
	if !value.IsNumber(l) || !value.IsNumber(r) {
		return false, runtimeErrf(th, "attempt to compare a %s value", value.TypeName(l))
	}
	a, b := value.AsNumber(l), value.AsNumber(r)
	switch op {
	case bytecode.ISLT:
		return a < b, nil
	case bytecode.ISGE:
		return a >= b, nil
	case bytecode.ISLE:
		return a <= b, nil
	case bytecode.ISGT:
		return a > b, nil
	}
	return false, runtimeErrf(th, "unsupported comparison opcode %s", op)
}
