package vm

import (
	"unsafe"

	"ktap/internal/bytecode"
	"ktap/internal/value"
)

// Closure is a ktap function value: a prototype plus its resolved
// upvalues (FNEW's result, §4.8).
type Closure struct {
	value.GCHeader
	Proto  *bytecode.Proto
	Upvals []*Upvalue
}

func ClosureValue(c *Closure) value.Value { return value.FromObject(c) }

func ClosureFromValue(v value.Value) *Closure {
	return (*Closure)(unsafe.Pointer(value.AsHeader(v)))
}

func IsClosure(v value.Value) bool {
	return value.IsObject(v) && value.ObjectKindOf(v) == value.OFunc
}

func newClosure(proto *bytecode.Proto) *Closure {
	c := &Closure{Proto: proto}
	c.Kind = value.OFunc
	return c
}

// NewTopLevelClosure builds the closure for a chunk's top-level
// prototype, which by construction has no upvalues to resolve (it is
// never itself an FNEW target) — the entry point a driver calls to start
// running a loaded or freshly compiled chunk.
func NewTopLevelClosure(proto *bytecode.Proto) *Closure {
	return newClosure(proto)
}

// Upvalue is either open (aliasing a live stack slot on the owning
// thread) or closed (holding its own copy), matching ktap_upval_t.
// The open-upvalue list is kept sorted by descending stack index so
// findUpval/closeUpvalues can stop at the first slot below the target,
// per §4.8.
type Upvalue struct {
	value.GCHeader
	owner *Thread
	index int // stack slot, while open
	val   value.Value
	open  bool
	next  *Upvalue
}

func newOpenUpvalue(owner *Thread, index int) *Upvalue {
	uv := &Upvalue{owner: owner, index: index, open: true}
	uv.Kind = value.OUpval
	return uv
}

func (uv *Upvalue) get() value.Value {
	if uv.open {
		return uv.owner.Stack[uv.index]
	}
	return uv.val
}

func (uv *Upvalue) set(v value.Value) {
	if uv.open {
		uv.owner.Stack[uv.index] = v
	} else {
		uv.val = v
	}
}

func UpvalueValue(uv *Upvalue) value.Value { return value.FromObject(uv) }

// findUpval returns the open upvalue for stack slot index on th,
// creating and inserting one (kept in descending-index order) if none
// exists yet.
func (th *Thread) findUpval(index int) *Upvalue {
	var prev *Upvalue
	cur := th.openUV
	for cur != nil && cur.index > index {
		prev = cur
		cur = cur.next
	}
	if cur != nil && cur.index == index {
		return cur
	}
	uv := newOpenUpvalue(th, index)
	uv.next = cur
	if prev == nil {
		th.openUV = uv
	} else {
		prev.next = uv
	}
	return uv
}

// closeUpvalues closes every open upvalue on th whose slot is >= level,
// copying its value into inline storage (function_close in §4.8).
func (th *Thread) closeUpvalues(level int) {
	for th.openUV != nil && th.openUV.index >= level {
		uv := th.openUV
		th.openUV = uv.next
		uv.val = th.Stack[uv.index]
		uv.open = false
		uv.next = nil
	}
}
