// Package parser implements ktap's single-pass recursive-descent
// parser/emitter: as each expression or statement is recognized, it is
// translated directly into bytecode.Instruction values appended to the
// current ast.FuncState's Proto — there is no intermediate syntax tree.
//
// This has no donor analogue: the donor (internal/compiler) is a
// two-pass tree-walking compiler over a separately parsed AST. The
// control structure here — register allocation as a bump counter,
// constant folding on two numeric literals, jump lists threaded through
// instruction D-operands — is grounded directly on the real ktap
// parser, original_source/userspace/kp_parse.c, translated into the
// donor's Go idiom (exported Parser type, *Error return values via
// ktaperr, one method per grammar production) rather than transliterated
// from C control flow.
package parser

import (
	"ktap/internal/ast"
	"ktap/internal/bytecode"
	"ktap/internal/ktaperr"
	"ktap/internal/lexer"
	"ktap/internal/token"
)

const (
	maxSlots  = 250 // KP_MAX_SLOTS
	maxLocVar = 200 // KP_MAX_LOCVAR
	maxUpval  = 60  // KP_MAX_UPVAL
)

type Parser struct {
	lex       *lexer.Lexer
	chunkname string
	fs        *ast.FuncState
	line      int
}

// Parse compiles a complete chunk into its top-level Proto. The chunk is
// itself a vararg function with no parameters, matching ktap's treatment
// of a source file as an implicit `function(...)`.
func Parse(chunkname, src string) (proto *bytecode.Proto, err error) {
	p := &Parser{lex: lexer.New(chunkname, src), chunkname: chunkname}
	proto = &bytecode.Proto{Chunkname: chunkname, Flags: bytecode.ProtoVararg}
	p.fs = ast.NewFuncState(nil, proto)
	p.fs.EnterBlock(false)

	// Resource-limit overflows (too many registers/locals/upvalues) are
	// raised via panic(*ktaperr.Error) rather than threaded through every
	// emit call site, mirroring kp_lex_error's longjmp in the C parser;
	// every other diagnostic uses an ordinary error return.
	defer func() {
		if r := recover(); r != nil {
			e, ok := r.(*ktaperr.Error)
			if !ok {
				panic(r)
			}
			proto, err = nil, e
		}
	}()

	if serr := p.statList(); serr != nil {
		return nil, serr
	}
	if serr := p.expectEOF(); serr != nil {
		return nil, serr
	}
	p.closeFunc()
	return proto, nil
}

func (p *Parser) errf(format string, args ...interface{}) error {
	return ktaperr.Parsef(p.chunkname, p.line, format, args...)
}

// ---- token helpers ------------------------------------------------------

func (p *Parser) peek() (token.Token, error) { return p.lex.Peek() }

func (p *Parser) peek2() (token.Token, error) { return p.lex.Peek2() }

func (p *Parser) next() (token.Token, error) {
	t, err := p.lex.Next()
	if err != nil {
		return t, err
	}
	p.line = t.Line
	return t, nil
}

func (p *Parser) check(k token.Kind) (bool, error) {
	t, err := p.peek()
	if err != nil {
		return false, err
	}
	return t.Kind == k, nil
}

func (p *Parser) accept(k token.Kind) (bool, error) {
	ok, err := p.check(k)
	if err != nil || !ok {
		return false, err
	}
	_, err = p.next()
	return true, err
}

func (p *Parser) expect(k token.Kind) (token.Token, error) {
	t, err := p.next()
	if err != nil {
		return t, err
	}
	if t.Kind != k {
		return t, p.errf("'%s' expected", k.String()).(*ktaperr.Error).WithNear(t.Text)
	}
	return t, nil
}

func (p *Parser) expectEOF() error {
	t, err := p.peek()
	if err != nil {
		return err
	}
	if t.Kind != token.EOF {
		return p.errf("'<eof>' expected near '%s'", t.Text)
	}
	return nil
}

// ---- register / code emission -------------------------------------------

func (p *Parser) emit(i bytecode.Instruction) int {
	fs := p.fs
	fs.Proto.Code = append(fs.Proto.Code, i)
	fs.Proto.LineInfo = append(fs.Proto.LineInfo, int32(p.line))
	pc := fs.PC
	fs.PC++
	return pc
}

func (p *Parser) emitABC(op bytecode.Op, a, b, c uint8) int {
	return p.emit(bytecode.CreateABC(op, a, b, c))
}

func (p *Parser) emitAD(op bytecode.Op, a uint8, d uint16) int {
	return p.emit(bytecode.CreateAD(op, a, d))
}

func (p *Parser) freeReg() int { return p.fs.FreeReg }

func (p *Parser) reserveRegs(n int) {
	if p.fs.FreeReg+n > maxSlots {
		panic(p.errf("function or expression needs too many registers"))
	}
	p.fs.ReserveRegs(n)
}

func (p *Parser) freeRegTo(n int) { p.fs.FreeReg = n }

// ---- constants ------------------------------------------------------------

func (p *Parser) numberK(n float64) int {
	fs := p.fs
	if idx, ok := fs.ExposeNumberDedup(n); ok {
		return idx
	}
	idx := len(fs.Proto.Numbers)
	fs.Proto.Numbers = append(fs.Proto.Numbers, n)
	fs.SetNumberDedup(n, idx)
	return idx
}

func (p *Parser) stringK(s string) int {
	fs := p.fs
	if idx, ok := fs.ExposeStringDedup(s); ok {
		return idx
	}
	idx := len(fs.Proto.GCConsts)
	fs.Proto.GCConsts = append(fs.Proto.GCConsts, bytecode.Const{Kind: bytecode.ConstStr, Str: s})
	fs.SetStringDedup(s, idx)
	return idx
}

// ---- jump list management (ExpDesc.TrueList/FalseList style lists) ------

// jump emits an unconditional JMP and returns its pc, used both as a
// standalone jump and as the anchor of a patch list.
func (p *Parser) jump() int {
	return p.emitAD(bytecode.JMP, bytecode.NoReg, uint16(ast.NoJump+bytecode.BiasJ))
}

// concatJumps appends list2 to the end of list1's chain (both threaded
// through each JMP's D operand) and returns the combined list head.
func (p *Parser) concatJumps(list1, list2 int) int {
	if list2 == ast.NoJump {
		return list1
	}
	if list1 == ast.NoJump {
		return list2
	}
	pc := list1
	for {
		next := p.jumpTarget(pc)
		if next == ast.NoJump {
			break
		}
		pc = next
	}
	p.fixJump(pc, list2)
	return list1
}

func (p *Parser) jumpTarget(pc int) int {
	d := int32(p.fs.Proto.Code[pc].D()) - bytecode.BiasJ
	if d == int32(ast.NoJump) {
		return ast.NoJump
	}
	return pc + 1 + int(d)
}

func (p *Parser) fixJump(pc, dest int) {
	offset := dest - (pc + 1)
	p.fs.Proto.Code[pc] = p.fs.Proto.Code[pc].SetJ(int32(offset))
}

// patchListToHere patches every jump in list to the current pc.
func (p *Parser) patchListToHere(list int) {
	p.patchList(list, p.fs.PC)
}

func (p *Parser) patchList(list, target int) {
	for list != ast.NoJump {
		next := p.jumpTarget(list)
		p.fixJump(list, target)
		list = next
	}
}

func (p *Parser) closeFunc() {
	// A non-vararg main chunk would need RET0 here too; ktap's main
	// chunk is always vararg per Parse's ProtoVararg flag.
	if !p.lastIsReturn() {
		p.emitAD(bytecode.RET0, 0, 0)
	}
	p.fs.Proto.FrameSize = byte(p.fs.MaxStack)
	p.fs.Proto.NumParams = byte(p.countParams())
}

func (p *Parser) lastIsReturn() bool {
	code := p.fs.Proto.Code
	if len(code) == 0 {
		return false
	}
	switch code[len(code)-1].Op() {
	case bytecode.RET0, bytecode.RET1, bytecode.RET, bytecode.RETM,
		bytecode.CALLT, bytecode.CALLMT:
		return true
	}
	return false
}

func (p *Parser) countParams() int {
	n := 0
	for i := 0; i < p.fs.NActive; i++ {
		if p.fs.Locals[i].Reg == i {
			n++
		}
	}
	return n
}
