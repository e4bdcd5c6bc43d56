// Package ast holds the parser's scratch state: expression descriptors,
// per-function compile state, and block scopes. Nothing here is a tree —
// the parser emits bytecode directly as it recurses (single-pass), so
// these types exist only to carry enough information between a
// sub-expression's parse and its use by the caller to pick the right
// instruction, matching ktap_parse.c/ktapc.h's expdesc/FuncState.
//
// The donor's internal/compiler package is a two-pass tree-walking
// compiler (a Visit* method per parser.Expr/Stmt) and has no analogue to
// single-pass register allocation, so this package is grounded directly
// on the original C structures (userspace/ktapc.h's expdesc/FuncState)
// rather than adapted from donor Go code; only the struct/Go-naming
// conventions (exported fields, receiver-per-type) follow the donor.
package ast

import "ktap/internal/bytecode"

// ExpKind classifies an ExpDesc the way ktapc.h's expkind enum does.
type ExpKind int

const (
	Void  ExpKind = iota // no value
	ENil
	ETrue
	EFalse
	EConst      // Info = index into GC constant table
	ENum        // Num = numeric constant
	NonReloc    // Info = result register (already fixed)
	ELocal      // Info = local register
	EUpval      // Info = upvalue index
	Indexed     // IndexT/IndexKey = table reg/upval, index reg/const
	EJump       // Info = instruction pc of a comparison+JMP pair
	Relocable   // Info = instruction pc whose A operand isn't assigned yet
	ECall       // Info = instruction pc of a CALL/CALLM
	EVararg     // Info = instruction pc of a VARG
)

// IsVar reports whether the expression denotes an assignable variable
// (vkisvar in ktapc.h).
func (k ExpKind) IsVar() bool { return k >= ELocal && k <= Indexed }

// IsInReg reports whether the expression's value already sits in a
// register slot (vkisinreg).
func (k ExpKind) IsInReg() bool { return k == NonReloc || k == ELocal }

// ExpDesc is the parser's one-expression-at-a-time descriptor: the
// result of parsing any subexpression, not yet necessarily materialized
// into a register. The parser discharges it into a register (or folds
// it into an instruction operand) as context demands.
type ExpDesc struct {
	Kind ExpKind

	Info int     // register / constant index / instruction pc, depending on Kind
	Num  float64 // valid when Kind == ENum

	// Valid when Kind == Indexed. IndexTab == GlobalTab marks a global
	// variable access (GGET/GSET by name, no table register involved).
	IndexTab      int  // register holding the table, or GlobalTab
	IndexKey      int  // register (IndexKeyIsStr false) or GC-const index (true) of the key
	IndexKeyIsStr bool

	// Patch lists: singly-linked through each JMP instruction's D
	// operand (NO_JMP terminates), threading pending "exit when
	// true"/"exit when false" jumps for short-circuit and comparison
	// expressions.
	TrueList  int
	FalseList int
}

const NoJump = -1

// GlobalTab is the IndexTab sentinel for a global-variable ExpDesc.
const GlobalTab = -1

func VoidExp() ExpDesc { return ExpDesc{Kind: Void, TrueList: NoJump, FalseList: NoJump} }

// LocalVar records one active local's register slot and source name,
// for debug info and for resolving a bare identifier during parsing.
type LocalVar struct {
	Name      string
	Reg       int
	StartPC   int
	EndPC     int
	Immutable bool // declared via the const-like `local` binding forms, if any
}

// BlockScope tracks one lexical block (ktapc.h's BlockCnt): the break
// jump list under construction, whether the block is a loop, and the
// active-local high-water mark to roll back to on exit.
type BlockScope struct {
	Parent       *BlockScope
	IsLoop       bool
	FirstLocal   int // index into FuncState.Locals at block entry
	BreakList    int // patch list of pending `break` jumps, threaded like TrueList
	HasUpval     bool // a child closure captured a local declared in this block
}

// FuncState is the compile-time state for one function body being
// parsed, mirroring ktap_parse.c's FuncState: the in-progress Proto, the
// constant-dedup table, register/local bookkeeping, and the enclosing
// function for upvalue resolution.
type FuncState struct {
	Parent *FuncState

	Proto *bytecode.Proto

	// constDedup maps an already-emitted constant's canonical form back
	// to its Numbers/GCConsts index, so repeated literals share one slot.
	numConstDedup map[float64]int
	strConstDedup map[string]int

	PC         int // next bytecode position
	LastTarget int // pc of the last jump target, to suppress redundant jumps
	PendingJmp int // list of jumps pending patch to the next emitted pc

	Locals    []LocalVar
	NActive   int // number of active locals (Locals[:NActive] are visible)
	FreeReg   int // first free register
	MaxStack  int // high-water mark, becomes Proto.FrameSize

	UpvalNames []string // parallel to Proto.Upvals, for dedup and debug info

	Block *BlockScope
}

// FindUpval looks up an already-created upvalue of this function by
// name, for dedup (two references to the same outer local must share
// one upvalue slot).
func (fs *FuncState) FindUpval(name string) (int, bool) {
	for i, n := range fs.UpvalNames {
		if n == name {
			return i, true
		}
	}
	return 0, false
}

func NewFuncState(parent *FuncState, proto *bytecode.Proto) *FuncState {
	return &FuncState{
		Parent:        parent,
		Proto:         proto,
		numConstDedup: make(map[float64]int),
		strConstDedup: make(map[string]int),
		PendingJmp:    NoJump,
	}
}

// ReserveRegs bumps FreeReg by n and tracks the high-water mark that
// becomes the function's frame size.
func (fs *FuncState) ReserveRegs(n int) {
	fs.FreeReg += n
	if fs.FreeReg > fs.MaxStack {
		fs.MaxStack = fs.FreeReg
	}
}

// EnterBlock pushes a new lexical scope.
func (fs *FuncState) EnterBlock(isLoop bool) *BlockScope {
	b := &BlockScope{Parent: fs.Block, IsLoop: isLoop, FirstLocal: fs.NActive, BreakList: NoJump}
	fs.Block = b
	return b
}

// LeaveBlock pops the current scope, rolling back active locals to the
// scope's entry point; returns the scope's pending break list for the
// caller to patch to the loop's exit point.
func (fs *FuncState) LeaveBlock() int {
	b := fs.Block
	fs.Locals = fs.Locals[:b.FirstLocal]
	fs.NActive = b.FirstLocal
	fs.Block = b.Parent
	return b.BreakList
}

// ResolveLocal looks up name among currently active locals, innermost
// (highest register) first.
func (fs *FuncState) ResolveLocal(name string) (int, bool) {
	for i := fs.NActive - 1; i >= 0; i-- {
		if fs.Locals[i].Name == name {
			return i, true
		}
	}
	return 0, false
}

// ExposeNumberDedup/SetNumberDedup and the Str equivalents give the
// parser package access to this function's constant-dedup tables
// (Table `h` in kp_parse.c's FuncState) without exporting the maps
// themselves, since the dedup key space (float64/string) is parser
// business, not ast's.
func (fs *FuncState) ExposeNumberDedup(n float64) (int, bool) {
	idx, ok := fs.numConstDedup[n]
	return idx, ok
}

func (fs *FuncState) SetNumberDedup(n float64, idx int) { fs.numConstDedup[n] = idx }

func (fs *FuncState) ExposeStringDedup(s string) (int, bool) {
	idx, ok := fs.strConstDedup[s]
	return idx, ok
}

func (fs *FuncState) SetStringDedup(s string, idx int) { fs.strConstDedup[s] = idx }
