package parser

import (
	"ktap/internal/ast"
	"ktap/internal/bytecode"
	"ktap/internal/token"
)

// ---- discharge: turn an ExpDesc into a value sitting in a register ------

// dischargeVars resolves VLOCAL/VUPVAL/VINDEXED/VCALL/VVARARG into a
// value the caller can further manipulate (VNONRELOC or VRELOCABLE),
// emitting the UGET/TGET*/etc. instruction lazily — exactly once, at the
// point the value is actually needed.
func (p *Parser) dischargeVars(e *ast.ExpDesc) {
	switch e.Kind {
	case ast.ELocal:
		e.Kind = ast.NonReloc
	case ast.EUpval:
		pc := p.emitAD(bytecode.UGET, 0, uint16(e.Info))
		e.Kind, e.Info = ast.Relocable, pc
	case ast.Indexed:
		var pc int
		switch {
		case e.IndexTab == ast.GlobalTab:
			pc = p.emitAD(bytecode.GGET, 0, uint16(e.IndexKey))
		case e.IndexKeyIsStr:
			pc = p.emitABC(bytecode.TGETS, 0, uint8(e.IndexTab), uint8(e.IndexKey))
			p.freeRegIfAbove(e.IndexTab)
		default:
			pc = p.emitABC(bytecode.TGETV, 0, uint8(e.IndexTab), uint8(e.IndexKey))
			p.freeRegIfAbove(e.IndexKey)
			p.freeRegIfAbove(e.IndexTab)
		}
		e.Kind, e.Info = ast.Relocable, pc
	case ast.ECall:
		e.Kind, e.Info = ast.NonReloc, int(p.fs.Proto.Code[e.Info].A())
	case ast.EVararg:
		p.fs.Proto.Code[e.Info] = p.fs.Proto.Code[e.Info].SetA(0)
		e.Kind = ast.Relocable
	}
}

func (p *Parser) freeExp(e ast.ExpDesc) {
	if e.Kind == ast.NonReloc && e.Info >= p.fs.NActive && e.Info == p.fs.FreeReg-1 {
		p.fs.FreeReg--
	}
}

// freeRegIfAbove frees reg if it is the topmost allocated register,
// mirroring freeExp for callers holding a bare register number (e.g. an
// Indexed ExpDesc's table/key registers) rather than an ExpDesc.
func (p *Parser) freeRegIfAbove(reg int) {
	if reg >= p.fs.NActive && reg == p.fs.FreeReg-1 {
		p.fs.FreeReg--
	}
}

// dischargeToReg forces e's value into register reg.
func (p *Parser) dischargeToReg(e *ast.ExpDesc, reg int) {
	p.dischargeVars(e)
	switch e.Kind {
	case ast.ENil:
		p.emitABC(bytecode.KNIL, uint8(reg), 0, uint8(reg))
	case ast.ETrue:
		p.emitAD(bytecode.KPRI, uint8(reg), 1)
	case ast.EFalse:
		p.emitAD(bytecode.KPRI, uint8(reg), 0)
	case ast.ENum:
		p.emitAD(bytecode.KNUM, uint8(reg), uint16(p.numberK(e.Num)))
	case ast.EConst:
		p.emitAD(bytecode.KSTR, uint8(reg), uint16(e.Info))
	case ast.Relocable:
		p.fs.Proto.Code[e.Info] = p.fs.Proto.Code[e.Info].SetA(uint8(reg))
	case ast.NonReloc:
		if reg != e.Info {
			p.emitAD(bytecode.MOV, uint8(reg), uint16(e.Info))
		}
	default:
		return
	}
	e.Kind, e.Info = ast.NonReloc, reg
}

// exp2nextreg materializes e into the next free register and consumes
// that register (advancing FreeReg).
func (p *Parser) exp2nextreg(e *ast.ExpDesc) {
	p.dischargeVars(e)
	p.freeExp(*e)
	reg := p.freeReg()
	p.reserveRegs(1)
	p.dischargeToReg(e, reg)
}

// exp2anyreg materializes e into any register, reusing its current
// register if it already has one.
func (p *Parser) exp2anyreg(e *ast.ExpDesc) {
	p.dischargeVars(e)
	if e.Kind == ast.NonReloc {
		return
	}
	p.exp2nextreg(e)
}

// exp2val fully resolves e to a value-kind ExpDesc (constant or
// register), used where no register is required (e.g. condition tests).
func (p *Parser) exp2val(e *ast.ExpDesc) {
	if e.Kind.IsVar() {
		p.dischargeVars(e)
	} else {
		p.exp2anyreg(e)
	}
}

// isNumConst reports whether e is foldable at parse time.
func isNumConst(e ast.ExpDesc) bool { return e.Kind == ast.ENum }

// ---- unary/binary operator parsing --------------------------------------

type binOp int

const (
	opNone binOp = iota
	opOr
	opAnd
	opLT
	opGT
	opLE
	opGE
	opEq
	opNE
	opConcat
	opAdd
	opSub
	opMul
	opDiv
	opMod
	opPow
)

// priority[op] = {left, right}; right < left means right-associative.
var priority = map[binOp][2]int{
	opOr: {1, 1}, opAnd: {2, 2},
	opLT: {3, 3}, opGT: {3, 3}, opLE: {3, 3}, opGE: {3, 3}, opEq: {3, 3}, opNE: {3, 3},
	opConcat: {5, 4},
	opAdd:    {6, 6}, opSub: {6, 6},
	opMul: {7, 7}, opDiv: {7, 7}, opMod: {7, 7},
	opPow: {10, 9},
}

const unaryPriority = 8

func binOpFor(k token.Kind) (binOp, bool) {
	switch k {
	case token.Or:
		return opOr, true
	case token.And:
		return opAnd, true
	case token.LT:
		return opLT, true
	case token.GT:
		return opGT, true
	case token.LE:
		return opLE, true
	case token.GE:
		return opGE, true
	case token.Eq:
		return opEq, true
	case token.NotEq:
		return opNE, true
	case token.Concat:
		return opConcat, true
	case token.Plus:
		return opAdd, true
	case token.Minus:
		return opSub, true
	case token.Star:
		return opMul, true
	case token.Slash:
		return opDiv, true
	case token.Percent:
		return opMod, true
	case token.Caret:
		return opPow, true
	}
	return opNone, false
}

// expr parses a full expression (precedence 0).
func (p *Parser) expr() (ast.ExpDesc, error) { return p.subExpr(0) }

func (p *Parser) subExpr(limit int) (ast.ExpDesc, error) {
	var e ast.ExpDesc
	var err error

	t, err := p.peek()
	if err != nil {
		return e, err
	}
	if t.Kind == token.Not || t.Kind == token.Minus {
		p.next()
		sub, err := p.subExpr(unaryPriority)
		if err != nil {
			return e, err
		}
		e = p.codeUnary(t.Kind, sub)
	} else {
		e, err = p.simpleExpr()
		if err != nil {
			return e, err
		}
	}

	for {
		t, err := p.peek()
		if err != nil {
			return e, err
		}
		op, ok := binOpFor(t.Kind)
		if !ok || priority[op][0] <= limit {
			break
		}
		p.next()
		rhs, err := p.subExpr(priority[op][1])
		if err != nil {
			return e, err
		}
		e, err = p.codeBinary(op, e, rhs)
		if err != nil {
			return e, err
		}
	}
	return e, nil
}

func (p *Parser) codeUnary(op token.Kind, e ast.ExpDesc) ast.ExpDesc {
	if op == token.Minus && isNumConst(e) {
		e.Num = -e.Num
		return e
	}
	p.exp2anyreg(&e)
	p.freeExp(e)
	bop := bytecode.NOT
	if op == token.Minus {
		bop = bytecode.UNM
	}
	pc := p.emitABC(bop, 0, uint8(e.Info), 0)
	return ast.ExpDesc{Kind: ast.Relocable, Info: pc, TrueList: ast.NoJump, FalseList: ast.NoJump}
}

// codeBinary folds constant-number operands via foldArith (division
// only by a nonzero constant; modulo and pow never) and otherwise picks the *VN/*NV/*VV opcode family
// based on operand shapes.
func (p *Parser) codeBinary(op binOp, l, r ast.ExpDesc) (ast.ExpDesc, error) {
	switch op {
	case opAnd:
		return p.codeAnd(l, r)
	case opOr:
		return p.codeOr(l, r)
	case opEq, opNE, opLT, opGT, opLE, opGE:
		return p.codeCompare(op, l, r)
	}

	if isNumConst(l) && isNumConst(r) {
		if v, ok := foldArith(op, l.Num, r.Num); ok {
			return ast.ExpDesc{Kind: ast.ENum, Num: v, TrueList: ast.NoJump, FalseList: ast.NoJump}, nil
		}
	}

	if op == opConcat {
		p.exp2nextreg(&l)
		p.exp2nextreg(&r)
		p.freeExp(r)
		p.freeExp(l)
		pc := p.emitABC(bytecode.CAT, 0, uint8(l.Info), uint8(r.Info))
		return ast.ExpDesc{Kind: ast.Relocable, Info: pc, TrueList: ast.NoJump, FalseList: ast.NoJump}, nil
	}

	vnOp, nvOp, vvOp := arithOpcodes(op)

	if isNumConst(r) {
		p.exp2anyreg(&l)
		p.freeExp(l)
		pc := p.emitABC(vnOp, 0, uint8(l.Info), uint8(p.numberK(r.Num)))
		return ast.ExpDesc{Kind: ast.Relocable, Info: pc, TrueList: ast.NoJump, FalseList: ast.NoJump}, nil
	}
	if isNumConst(l) {
		p.exp2anyreg(&r)
		p.freeExp(r)
		pc := p.emitABC(nvOp, 0, uint8(r.Info), uint8(p.numberK(l.Num)))
		return ast.ExpDesc{Kind: ast.Relocable, Info: pc, TrueList: ast.NoJump, FalseList: ast.NoJump}, nil
	}
	p.exp2anyreg(&l)
	p.exp2anyreg(&r)
	p.freeExp(r)
	p.freeExp(l)
	pc := p.emitABC(vvOp, 0, uint8(l.Info), uint8(r.Info))
	return ast.ExpDesc{Kind: ast.Relocable, Info: pc, TrueList: ast.NoJump, FalseList: ast.NoJump}, nil
}

// foldArith mirrors kp_parse.c's foldarith: add/sub/mul always fold,
// division folds unless the divisor is the literal zero (left for the
// runtime to raise as a division error), and modulo/pow never fold.
func foldArith(op binOp, a, b float64) (float64, bool) {
	switch op {
	case opAdd:
		return a + b, true
	case opSub:
		return a - b, true
	case opMul:
		return a * b, true
	case opDiv:
		if b == 0 {
			return 0, false
		}
		return a / b, true
	}
	return 0, false
}

func arithOpcodes(op binOp) (vn, nv, vv bytecode.Op) {
	switch op {
	case opAdd:
		return bytecode.ADDVN, bytecode.ADDNV, bytecode.ADDVV
	case opSub:
		return bytecode.SUBVN, bytecode.SUBNV, bytecode.SUBVV
	case opMul:
		return bytecode.MULVN, bytecode.MULNV, bytecode.MULVV
	case opDiv:
		return bytecode.DIVVN, bytecode.DIVNV, bytecode.DIVVV
	case opMod:
		return bytecode.MODVN, bytecode.MODNV, bytecode.MODVV
	case opPow:
		return bytecode.POW, bytecode.POW, bytecode.POW
	}
	return bytecode.ADDVV, bytecode.ADDVV, bytecode.ADDVV
}

// codeCompare picks among ISEQV/ISEQS/ISEQN (and NE/LT/LE variants)
// based on operand kind (nil/true/false operands go through a register
// and ISEQV; ISEQP is not emitted), and normalizes `>`/`>=` into `<`/`<=` by
// swapping operands, matching spec.md's stated encoding-family reuse.
func (p *Parser) codeCompare(op binOp, l, r ast.ExpDesc) (ast.ExpDesc, error) {
	swap := false
	switch op {
	case opGT:
		op, swap = opLT, true
	case opGE:
		op, swap = opLE, true
	}
	if swap {
		l, r = r, l
	}

	var pc int
	switch op {
	case opEq, opNE:
		pc = p.codeEquality(op, l, r)
	default:
		p.exp2anyreg(&l)
		p.exp2anyreg(&r)
		p.freeExp(r)
		p.freeExp(l)
		bop := bytecode.ISLT
		if op == opLE {
			bop = bytecode.ISLE
		}
		p.emitAD(bop, uint8(l.Info), uint16(r.Info))
		pc = p.jump()
	}
	return ast.ExpDesc{Kind: ast.EJump, Info: pc, TrueList: ast.NoJump, FalseList: ast.NoJump}, nil
}

func (p *Parser) codeEquality(op binOp, l, r ast.ExpDesc) int {
	neg := op == opNE
	if isNumConst(r) {
		p.exp2anyreg(&l)
		p.freeExp(l)
		bop := pick(neg, bytecode.ISNEN, bytecode.ISEQN)
		p.emitAD(bop, uint8(l.Info), uint16(p.numberK(r.Num)))
		return p.jump()
	}
	if r.Kind == ast.EConst {
		p.exp2anyreg(&l)
		p.freeExp(l)
		bop := pick(neg, bytecode.ISNES, bytecode.ISEQS)
		p.emitAD(bop, uint8(l.Info), uint16(r.Info))
		return p.jump()
	}
	p.exp2anyreg(&l)
	p.exp2anyreg(&r)
	p.freeExp(r)
	p.freeExp(l)
	bop := pick(neg, bytecode.ISNEV, bytecode.ISEQV)
	p.emitAD(bop, uint8(l.Info), uint16(r.Info))
	return p.jump()
}

func pick(cond bool, a, b bytecode.Op) bytecode.Op {
	if cond {
		return a
	}
	return b
}

// codeAnd/codeOr implement short-circuit evaluation by threading jump
// lists: `a and b` jumps past b (to false) if a is false; `a or b` jumps
// past b (to true) if a is true.
func (p *Parser) codeAnd(l, r ast.ExpDesc) (ast.ExpDesc, error) {
	p.goIfTrue(&l)
	p.exp2val(&r)
	r.FalseList = p.concatJumps(l.FalseList, r.FalseList)
	return r, nil
}

func (p *Parser) codeOr(l, r ast.ExpDesc) (ast.ExpDesc, error) {
	p.goIfFalse(&l)
	p.exp2val(&r)
	r.TrueList = p.concatJumps(l.TrueList, r.TrueList)
	return r, nil
}

// goIfTrue discharges e and leaves a pending false-jump list: control
// falls through when e is true, jumps (to be patched later) when false.
func (p *Parser) goIfTrue(e *ast.ExpDesc) {
	p.exp2val(e)
	var pc int
	switch e.Kind {
	case ast.EJump:
		// A comparison's JMP is taken when the test holds; flip the
		// test to its XOR-by-1 partner so the JMP is taken when it fails.
		p.fs.Proto.Code[e.Info-1] ^= 1
		pc = e.Info
	default:
		p.exp2anyreg(e)
		p.freeExp(*e)
		p.emitABC(bytecode.ISF, 0, 0, uint8(e.Info))
		pc = p.jump()
	}
	e.FalseList = p.concatJumps(e.FalseList, pc)
	p.patchListToHere(e.TrueList)
	e.TrueList = ast.NoJump
}

func (p *Parser) goIfFalse(e *ast.ExpDesc) {
	p.exp2val(e)
	var pc int
	switch e.Kind {
	case ast.EJump:
		pc = e.Info
	default:
		p.exp2anyreg(e)
		p.freeExp(*e)
		p.emitABC(bytecode.IST, 0, 0, uint8(e.Info))
		pc = p.jump()
	}
	e.TrueList = p.concatJumps(e.TrueList, pc)
	p.patchListToHere(e.FalseList)
	e.FalseList = ast.NoJump
}

// storeVar emits the instruction that assigns val into an already-parsed
// assignment target, matching Lua's luaK_storevar per-Kind dispatch.
func (p *Parser) storeVar(target ast.ExpDesc, val *ast.ExpDesc) {
	switch target.Kind {
	case ast.ELocal:
		p.freeExp(*val)
		p.dischargeToReg(val, target.Info)
	case ast.EUpval:
		p.exp2anyreg(val)
		p.freeExp(*val)
		p.emitAD(bytecode.USETV, uint8(target.Info), uint16(val.Info))
	case ast.Indexed:
		p.exp2anyreg(val)
		p.freeExp(*val)
		if target.IndexTab == ast.GlobalTab {
			p.emitAD(bytecode.GSET, uint8(val.Info), uint16(target.IndexKey))
			return
		}
		if target.IndexKeyIsStr {
			p.emitABC(bytecode.TSETS, uint8(val.Info), uint8(target.IndexTab), uint8(target.IndexKey))
		} else {
			p.emitABC(bytecode.TSETV, uint8(val.Info), uint8(target.IndexTab), uint8(target.IndexKey))
			p.freeRegIfAbove(target.IndexKey)
		}
		p.freeRegIfAbove(target.IndexTab)
	}
}

// incVar emits a `target += val` compound assignment. Only
// UPVAL/GLOBAL/INDEXED targets support it (a plain local has no
// dedicated increment opcode family), matching spec.md's stated +=
// target restriction.
func (p *Parser) incVar(target ast.ExpDesc, val *ast.ExpDesc) error {
	switch target.Kind {
	case ast.EUpval:
		if isNumConst(*val) {
			p.emitAD(bytecode.UINCN, uint8(target.Info), uint16(p.numberK(val.Num)))
			return nil
		}
		p.exp2anyreg(val)
		p.freeExp(*val)
		p.emitAD(bytecode.UINCV, uint8(target.Info), uint16(val.Info))
		return nil
	case ast.Indexed:
		p.exp2anyreg(val)
		p.freeExp(*val)
		if target.IndexTab == ast.GlobalTab {
			p.emitAD(bytecode.GINC, uint8(val.Info), uint16(target.IndexKey))
			return nil
		}
		if target.IndexKeyIsStr {
			p.emitABC(bytecode.TINCS, uint8(val.Info), uint8(target.IndexTab), uint8(target.IndexKey))
		} else {
			p.emitABC(bytecode.TINCV, uint8(val.Info), uint8(target.IndexTab), uint8(target.IndexKey))
			p.freeRegIfAbove(target.IndexKey)
		}
		p.freeRegIfAbove(target.IndexTab)
		return nil
	}
	return p.errf("invalid '+=' target")
}

// exp2boolReg fully resolves a condition-carrying ExpDesc into a
// plain 0/1-valued register, used wherever a boolean must be stored
// rather than just tested (e.g. `local ok = a == b`).
func (p *Parser) exp2boolReg(e *ast.ExpDesc) {
	p.dischargeVars(e)
	if e.Kind != ast.EJump {
		return
	}
	reg := p.freeReg()
	p.reserveRegs(1)
	falseJmp := p.jump()
	p.patchListToHere(e.Info)
	p.emitAD(bytecode.KPRI, uint8(reg), 1)
	skip := p.jump()
	p.patchListToHere(falseJmp)
	p.emitAD(bytecode.KPRI, uint8(reg), 0)
	p.patchListToHere(skip)
	e.Kind, e.Info = ast.NonReloc, reg
}
