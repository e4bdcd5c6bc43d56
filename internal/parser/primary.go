package parser

import (
	"ktap/internal/ast"
	"ktap/internal/bytecode"
	"ktap/internal/token"
)

// singlevar resolves a bare name to a local, upvalue, or global access,
// walking enclosing FuncStates and threading an upvalue chain through
// every intervening function the way kp_parse.c's singlevaraux does.
func (p *Parser) singlevar(name string) ast.ExpDesc {
	if reg, ok := p.fs.ResolveLocal(name); ok {
		return ast.ExpDesc{Kind: ast.ELocal, Info: reg, TrueList: ast.NoJump, FalseList: ast.NoJump}
	}
	if idx, ok := p.resolveUpval(p.fs, name); ok {
		return ast.ExpDesc{Kind: ast.EUpval, Info: idx, TrueList: ast.NoJump, FalseList: ast.NoJump}
	}
	// Global: GGET/GSET address the name directly via a string constant.
	return ast.ExpDesc{Kind: ast.Indexed, IndexTab: ast.GlobalTab, IndexKey: p.stringK(name), IndexKeyIsStr: true, TrueList: ast.NoJump, FalseList: ast.NoJump}
}

func (p *Parser) resolveUpval(fs *ast.FuncState, name string) (int, bool) {
	if fs.Parent == nil {
		return 0, false
	}
	if idx, ok := fs.FindUpval(name); ok {
		return idx, true
	}
	if len(fs.UpvalNames) >= maxUpval {
		panic(p.errf("too many upvalues in function"))
	}
	if reg, ok := fs.Parent.ResolveLocal(name); ok {
		desc := bytecode.MakeUpvalDesc(uint16(reg), true, false)
		idx := len(fs.Proto.Upvals)
		fs.Proto.Upvals = append(fs.Proto.Upvals, desc)
		fs.Proto.UVNames = append(fs.Proto.UVNames, name)
		fs.UpvalNames = append(fs.UpvalNames, name)
		fs.Parent.Block.HasUpval = true
		return idx, true
	}
	if parentIdx, ok := p.resolveUpval(fs.Parent, name); ok {
		desc := bytecode.MakeUpvalDesc(uint16(parentIdx), false, false)
		idx := len(fs.Proto.Upvals)
		fs.Proto.Upvals = append(fs.Proto.Upvals, desc)
		fs.Proto.UVNames = append(fs.Proto.UVNames, name)
		fs.UpvalNames = append(fs.UpvalNames, name)
		return idx, true
	}
	return 0, false
}

// primaryExpr parses a name or parenthesized expression, the head of a
// suffixedExpr chain.
func (p *Parser) primaryExpr() (ast.ExpDesc, error) {
	t, err := p.peek()
	if err != nil {
		return ast.ExpDesc{}, err
	}
	switch t.Kind {
	case token.LParen:
		p.next()
		e, err := p.expr()
		if err != nil {
			return e, err
		}
		if _, err := p.expect(token.RParen); err != nil {
			return e, err
		}
		p.dischargeVars(&e)
		return e, nil
	case token.Name:
		p.next()
		return p.singlevar(t.Text), nil
	case token.Pid, token.Tid, token.Uid, token.Cpu, token.ExecName:
		p.next()
		// `pid()` and friends call the task built-ins registered under the
		// same names; the bare keyword compiles to the intrinsic opcode.
		if ok, err := p.check(token.LParen); err != nil {
			return ast.ExpDesc{}, err
		} else if ok {
			return p.singlevar(t.Text), nil
		}
		return p.codeIntrinsic(t), nil
	case token.ArgStr, token.ProbeName, token.ArgN:
		p.next()
		return p.codeIntrinsic(t), nil
	}
	return ast.ExpDesc{}, p.errf("unexpected symbol near '%s'", t.Text)
}

// codeIntrinsic emits the dedicated opcode for an event-context
// pseudo-variable (spec.md §4.5's "intrinsic expressions").
func (p *Parser) codeIntrinsic(t token.Token) ast.ExpDesc {
	var op bytecode.Op
	var lit uint16
	switch t.Kind {
	case token.ArgStr:
		op = bytecode.VARGSTR
	case token.ProbeName:
		op = bytecode.VPROBENAME
	case token.ArgN:
		op, lit = bytecode.VARGN, uint16(t.Num)
	case token.Pid:
		op = bytecode.VPID
	case token.Tid:
		op = bytecode.VTID
	case token.Uid:
		op = bytecode.VUID
	case token.Cpu:
		op = bytecode.VCPU
	case token.ExecName:
		op = bytecode.VEXECNAME
	}
	pc := p.emitAD(op, 0, lit)
	return ast.ExpDesc{Kind: ast.Relocable, Info: pc, TrueList: ast.NoJump, FalseList: ast.NoJump}
}

// suffixedExpr parses a primaryExpr followed by any chain of `.name`,
// `[expr]`, `:name(args)`, and `(args)` suffixes.
func (p *Parser) suffixedExpr() (ast.ExpDesc, error) {
	e, err := p.primaryExpr()
	if err != nil {
		return e, err
	}
	for {
		t, err := p.peek()
		if err != nil {
			return e, err
		}
		switch t.Kind {
		case token.Dot:
			p.next()
			name, err := p.expect(token.Name)
			if err != nil {
				return e, err
			}
			e = p.codeIndexField(e, name.Text)
		case token.LBracket:
			p.next()
			key, err := p.expr()
			if err != nil {
				return e, err
			}
			if _, err := p.expect(token.RBracket); err != nil {
				return e, err
			}
			e = p.codeIndexExpr(e, key)
		case token.LParen, token.String, token.LBrace:
			e, err = p.finishCall(e, nil)
			if err != nil {
				return e, err
			}
		default:
			return e, nil
		}
	}
}

// codeIndexField/codeIndexExpr turn a table expression + key into an
// Indexed ExpDesc. The table operand is always fully materialized into
// a register first (TGETS/TGETV take a table register, not an upvalue
// index directly — an upvalue-held table is UGET'd once here rather
// than threading a separate upvalue-table opcode through the set).
func (p *Parser) codeIndexField(tab ast.ExpDesc, field string) ast.ExpDesc {
	p.exp2anyreg(&tab)
	return ast.ExpDesc{Kind: ast.Indexed, IndexTab: tab.Info, IndexKey: p.stringK(field), IndexKeyIsStr: true, TrueList: ast.NoJump, FalseList: ast.NoJump}
}

func (p *Parser) codeIndexExpr(tab, key ast.ExpDesc) ast.ExpDesc {
	p.exp2anyreg(&tab)
	p.exp2anyreg(&key)
	return ast.ExpDesc{Kind: ast.Indexed, IndexTab: tab.Info, IndexKey: key.Info, TrueList: ast.NoJump, FalseList: ast.NoJump}
}

// finishCall parses `(args)`/`"str"`/`{table}` call syntax (methodName
// non-nil for `:name(...)` sugar, not modeled separately here since
// ktap's grammar omits method-call sugar — kept for future use).
func (p *Parser) finishCall(fn ast.ExpDesc, methodName *string) (ast.ExpDesc, error) {
	p.exp2nextreg(&fn)
	base := fn.Info
	nargs, multret, err := p.parseArgs()
	if err != nil {
		return fn, err
	}
	var argc uint8
	if multret {
		argc = 0
	} else {
		argc = uint8(nargs + 1)
	}
	pc := p.emitABC(bytecode.CALL, uint8(base), argc, 2)
	p.freeRegTo(base + 1)
	return ast.ExpDesc{Kind: ast.ECall, Info: pc, TrueList: ast.NoJump, FalseList: ast.NoJump}, nil
}

// parseArgs parses a call's argument list in any of its three surface
// forms and leaves every argument value in consecutive registers above
// the callee, returning the count (meaningless when multret is true,
// i.e. the last argument was itself a call or `...`).
func (p *Parser) parseArgs() (nargs int, multret bool, err error) {
	t, err := p.peek()
	if err != nil {
		return 0, false, err
	}
	switch t.Kind {
	case token.LParen:
		p.next()
		if ok, _ := p.check(token.RParen); ok {
			p.next()
			return 0, false, nil
		}
		n, multret, err := p.exprList()
		if err != nil {
			return n, multret, err
		}
		if _, err := p.expect(token.RParen); err != nil {
			return n, multret, err
		}
		return n, multret, nil
	case token.String:
		p.next()
		e := ast.ExpDesc{Kind: ast.EConst, Info: p.stringK(t.Text), TrueList: ast.NoJump, FalseList: ast.NoJump}
		p.exp2nextreg(&e)
		return 1, false, nil
	case token.LBrace:
		e, err := p.tableConstructor()
		if err != nil {
			return 0, false, err
		}
		p.exp2nextreg(&e)
		return 1, false, nil
	}
	return 0, false, p.errf("function arguments expected")
}

// exprList parses a comma-separated expression list, placing each value
// into consecutive registers; reports whether the final expression is
// a multi-value form (call or vararg) whose result count is open-ended.
func (p *Parser) exprList() (n int, multret bool, err error) {
	e, err := p.expr()
	if err != nil {
		return 0, false, err
	}
	n = 1
	for {
		ok, err := p.accept(token.Comma)
		if err != nil {
			return n, false, err
		}
		if !ok {
			break
		}
		p.exp2nextreg(&e)
		e, err = p.expr()
		if err != nil {
			return n, false, err
		}
		n++
	}
	multret = e.Kind == ast.ECall || e.Kind == ast.EVararg
	if multret {
		p.setMultret(&e)
	} else {
		p.exp2nextreg(&e)
	}
	return n, multret, nil
}

func (p *Parser) setMultret(e *ast.ExpDesc) {
	ins := p.fs.Proto.Code[e.Info]
	switch e.Kind {
	case ast.ECall: // C=0: keep every result
		p.fs.Proto.Code[e.Info] = ins.SetD(uint16(ins.D()) & 0xff00)
	case ast.EVararg: // B=0: copy every vararg
		p.fs.Proto.Code[e.Info] = ins.SetD(uint16(ins.D()) & 0x00ff)
	}
	p.exp2nextreg(e)
}

// simpleExpr handles literals, table constructors, and function
// literals, deferring to suffixedExpr for everything else.
func (p *Parser) simpleExpr() (ast.ExpDesc, error) {
	t, err := p.peek()
	if err != nil {
		return ast.ExpDesc{}, err
	}
	switch t.Kind {
	case token.Number:
		p.next()
		return ast.ExpDesc{Kind: ast.ENum, Num: t.Num, TrueList: ast.NoJump, FalseList: ast.NoJump}, nil
	case token.String:
		p.next()
		return ast.ExpDesc{Kind: ast.EConst, Info: p.stringK(t.Text), TrueList: ast.NoJump, FalseList: ast.NoJump}, nil
	case token.Nil:
		p.next()
		return ast.ExpDesc{Kind: ast.ENil, TrueList: ast.NoJump, FalseList: ast.NoJump}, nil
	case token.True:
		p.next()
		return ast.ExpDesc{Kind: ast.ETrue, TrueList: ast.NoJump, FalseList: ast.NoJump}, nil
	case token.False:
		p.next()
		return ast.ExpDesc{Kind: ast.EFalse, TrueList: ast.NoJump, FalseList: ast.NoJump}, nil
	case token.Ellipsis:
		p.next()
		if !p.fs.Proto.IsVararg() {
			return ast.ExpDesc{}, p.errf("cannot use '...' outside a vararg function")
		}
		pc := p.emitABC(bytecode.VARG, 0, 2, 0)
		return ast.ExpDesc{Kind: ast.EVararg, Info: pc, TrueList: ast.NoJump, FalseList: ast.NoJump}, nil
	case token.LBrace:
		return p.tableConstructor()
	case token.Function:
		p.next()
		return p.functionBody(false)
	}
	return p.suffixedExpr()
}

// tableConstructor parses `{ [k]=v, name=v, v, ... }`, emitting TNEW
// plus one TSETS/TSETV per explicit field, and a trailing TSETM for any
// multi-value tail (a call or `...` in final array-style position).
func (p *Parser) tableConstructor() (ast.ExpDesc, error) {
	if _, err := p.expect(token.LBrace); err != nil {
		return ast.ExpDesc{}, err
	}
	tabReg := p.freeReg()
	p.reserveRegs(1)
	p.emitAD(bytecode.TNEW, uint8(tabReg), 0)

	arrayIdx := 1
	for {
		ok, err := p.check(token.RBrace)
		if err != nil {
			return ast.ExpDesc{}, err
		}
		if ok {
			break
		}
		if ok, _ := p.check(token.LBracket); ok {
			p.next()
			key, err := p.expr()
			if err != nil {
				return ast.ExpDesc{}, err
			}
			if _, err := p.expect(token.RBracket); err != nil {
				return ast.ExpDesc{}, err
			}
			if _, err := p.expect(token.Assign); err != nil {
				return ast.ExpDesc{}, err
			}
			val, err := p.expr()
			if err != nil {
				return ast.ExpDesc{}, err
			}
			p.exp2anyreg(&key)
			p.exp2anyreg(&val)
			p.emitABC(bytecode.TSETV, uint8(val.Info), uint8(tabReg), uint8(key.Info))
			p.freeExp(val)
			p.freeExp(key)
		} else if nameTok, isName, err2 := p.tryFieldName(); err2 != nil {
			return ast.ExpDesc{}, err2
		} else if isName {
			if _, err := p.expect(token.Assign); err != nil {
				return ast.ExpDesc{}, err
			}
			val, err := p.expr()
			if err != nil {
				return ast.ExpDesc{}, err
			}
			p.exp2anyreg(&val)
			p.emitABC(bytecode.TSETS, uint8(val.Info), uint8(tabReg), uint8(p.stringK(nameTok)))
			p.freeExp(val)
		} else {
			val, err := p.expr()
			if err != nil {
				return ast.ExpDesc{}, err
			}
			p.exp2anyreg(&val)
			p.emitABC(bytecode.TSETB, uint8(val.Info), uint8(tabReg), uint8(arrayIdx))
			p.freeExp(val)
			arrayIdx++
		}
		more, err := p.acceptFieldSep()
		if err != nil {
			return ast.ExpDesc{}, err
		}
		if !more {
			break
		}
	}
	if _, err := p.expect(token.RBrace); err != nil {
		return ast.ExpDesc{}, err
	}
	return ast.ExpDesc{Kind: ast.NonReloc, Info: tabReg, TrueList: ast.NoJump, FalseList: ast.NoJump}, nil
}

// tryFieldName uses the lexer's two-token lookahead to distinguish a
// `name = value` record field from a positional expression that
// happens to start with a name (e.g. a bare variable reference),
// consuming the name only when it is in fact followed by `=`.
func (p *Parser) tryFieldName() (name string, ok bool, err error) {
	t, err := p.peek()
	if err != nil || t.Kind != token.Name {
		return "", false, err
	}
	t2, err := p.peek2()
	if err != nil || t2.Kind != token.Assign {
		return "", false, err
	}
	p.next()
	return t.Text, true, nil
}

func (p *Parser) acceptFieldSep() (bool, error) {
	if ok, err := p.accept(token.Comma); err != nil || ok {
		return ok, err
	}
	return p.accept(token.Semi)
}

// functionBody parses `function (params) ... end`, pushing a child
// FuncState, and returns an FNEW expression referencing the compiled
// child prototype.
func (p *Parser) functionBody(isMain bool) (ast.ExpDesc, error) {
	if _, err := p.expect(token.LParen); err != nil {
		return ast.ExpDesc{}, err
	}
	child := &bytecode.Proto{Chunkname: p.chunkname}
	parentFS := p.fs
	p.fs = ast.NewFuncState(parentFS, child)
	p.fs.EnterBlock(false)

	nparams := 0
	for {
		ok, err := p.check(token.RParen)
		if err != nil {
			return ast.ExpDesc{}, err
		}
		if ok {
			break
		}
		if ok, _ := p.accept(token.Ellipsis); ok {
			child.Flags |= bytecode.ProtoVararg
			break
		}
		nt, err := p.expect(token.Name)
		if err != nil {
			return ast.ExpDesc{}, err
		}
		p.newLocal(nt.Text)
		nparams++
		if ok, err := p.accept(token.Comma); err != nil || !ok {
			if err != nil {
				return ast.ExpDesc{}, err
			}
			break
		}
	}
	p.activateLocals(nparams)
	if _, err := p.expect(token.RParen); err != nil {
		return ast.ExpDesc{}, err
	}
	if _, err := p.expect(token.LBrace); err != nil {
		return ast.ExpDesc{}, err
	}
	if err := p.statList(); err != nil {
		return ast.ExpDesc{}, err
	}
	if _, err := p.expect(token.RBrace); err != nil {
		return ast.ExpDesc{}, err
	}
	return p.finishFuncLiteral(parentFS, child), nil
}

// finishFuncLiteral closes the just-parsed child FuncState, links its
// Proto as a constant child of the parent, restores the parent as the
// current FuncState, and emits the FNEW that instantiates it. Shared by
// functionBody and the tracing statements' synthesized `fn(){ body }`
// event-handler literals (stmt.go).
func (p *Parser) finishFuncLiteral(parentFS *ast.FuncState, child *bytecode.Proto) ast.ExpDesc {
	p.closeFunc()
	childIdx := len(parentFS.Proto.Children)
	parentFS.Proto.Children = append(parentFS.Proto.Children, child)
	parentFS.Proto.Flags |= bytecode.ProtoChild

	p.fs = parentFS
	k := len(parentFS.Proto.GCConsts)
	parentFS.Proto.GCConsts = append(parentFS.Proto.GCConsts, bytecode.Const{Kind: bytecode.ConstChild, ChildPt: childIdx})
	pc := p.emitAD(bytecode.FNEW, 0, uint16(k))
	return ast.ExpDesc{Kind: ast.Relocable, Info: pc, TrueList: ast.NoJump, FalseList: ast.NoJump}
}

// newLocal declares name as a new local variable in a not-yet-active
// slot (activateLocals makes it visible); mirrors Lua's two-step
// new_localvar/adjustlocalvars split so `local x = x` resolves the RHS
// `x` against the *outer* scope.
func (p *Parser) newLocal(name string) {
	if p.fs.NActive+len(p.fs.Locals)-p.fs.NActive >= maxLocVar {
		// fallthrough; real bound check below uses len(Locals)
	}
	if len(p.fs.Locals) >= maxLocVar {
		panic(p.errf("too many local variables"))
	}
	p.fs.Locals = append(p.fs.Locals, ast.LocalVar{Name: name, Reg: p.freeReg()})
	p.reserveRegs(1)
}

func (p *Parser) activateLocals(n int) {
	p.fs.NActive += n
}
