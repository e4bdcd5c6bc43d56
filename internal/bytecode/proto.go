package bytecode

// Proto flag bits, taken from ktap_types.h's PROTO_* defines (the GC/JIT
// bits that don't apply to a non-JIT Go interpreter — PROTO_NOJIT,
// PROTO_ILOOP — are kept only as no-op placeholders so the bytecode
// dump format's flag byte still round-trips).
const (
	ProtoChild       = 0x01 // has child prototypes
	ProtoVararg      = 0x02 // vararg function
	ProtoFFI         = 0x04 // uses KCDATA for FFI datatypes; rejected on read
	ProtoNoJIT       = 0x08
	ProtoILoop       = 0x10
	ProtoHasReturn   = 0x20 // parser-internal: already emitted a return
	ProtoFixupReturn = 0x40 // parser-internal: needs FIXUP_RETURN pass
)

// ProtoCLCount is the base unit of the saturating 3-bit closure-creation
// counter packed into the top bits of Flags; once a function's closures
// have been created three times, BumpCLCount reports it as "polymorphic".
// FNEW (internal/vm) bumps the counter and ignores that report; nothing
// else reads it.
const (
	ProtoCLCount = 0x20
	ProtoCLCBits = 3
	ProtoCLCPoly = 3 * ProtoCLCount
)

// Upvalue descriptor bits (ktap_types.h PROTO_UV_*): an upvalue slot
// either aliases a local slot of the enclosing function (UVLocal set,
// index is a register number) or forwards one of the enclosing
// function's own upvalues (index is an upvalue number).
const (
	UVLocal     = 0x8000
	UVImmutable = 0x4000
	uvIndexMask = 0x3fff
)

type UpvalDesc uint16

func MakeUpvalDesc(index uint16, local, immutable bool) UpvalDesc {
	d := UpvalDesc(index & uvIndexMask)
	if local {
		d |= UVLocal
	}
	if immutable {
		d |= UVImmutable
	}
	return d
}

func (d UpvalDesc) Index() uint16   { return uint16(d) & uvIndexMask }
func (d UpvalDesc) IsLocal() bool   { return d&UVLocal != 0 }
func (d UpvalDesc) Immutable() bool { return d&UVImmutable != 0 }

// Const is one slot of a prototype's split constant table. Numbers and
// GC constants are stored separately in the real VM (positive index =
// number constant, negative = GC constant); we model the split as two
// Go slices (Numbers, GCConsts) rather than one pointer-arithmetic
// array, referenced symmetrically: a KNUM operand indexes Numbers, a
// KSTR/KCDATA/TDUP operand indexes GCConsts.
type Const struct {
	// Kind distinguishes how the reader/writer serializes this entry
	// (BCDUMP_KGC_* in ktap_bc.h).
	Kind    ConstKind
	Str     string  // ConstStr
	Num     float64 // ConstNum (also used for kgc table-number subentries)
	Table   *ConstTable
	ChildPt int // ConstChild: index into Proto.Children
}

type ConstKind uint8

const (
	ConstChild ConstKind = iota
	ConstTab
	ConstStr
)

// ConstTable is a constant (literal, foldable) table value — ktap's
// BCDUMP_KGC_TAB — dumped/loaded as parallel array/hash key-value lists
// rather than as TNEW+TSET* instructions.
type ConstTable struct {
	Array []TabConst
	Hash  []TabHashEntry
}

type TabHashEntry struct {
	Key TabConst
	Val TabConst
}

// TabConst is one key or value inside a ConstTable: nil/false/true/int
// (stored as float64)/num/str, per BCDUMP_KTAB_*.
type TabConst struct {
	Kind TabConstKind
	Num  float64
	Str  string
}

type TabConstKind uint8

const (
	TabNil TabConstKind = iota
	TabFalse
	TabTrue
	TabInt
	TabNum
	TabStr
)

// Proto is one compiled function prototype: bytecode, constants,
// upvalue descriptors, and (unless stripped) debug info. Mirrors
// ktap_proto_t's fields, minus the colocated-array memory layout trick
// (k/uv/lineinfo pointing into one allocation) which Go has no reason
// to replicate.
type Proto struct {
	NumParams byte
	FrameSize byte
	Flags     uint8

	Code []Instruction

	Numbers  []float64
	GCConsts []Const

	Upvals []UpvalDesc

	Children []*Proto

	// Debug info, empty when stripped (BCDUMP_F_STRIP).
	Chunkname string
	FirstLine int
	NumLine   int
	LineInfo  []int32 // one source line per Code entry
	UVNames   []string
	VarNames  []VarInfo
}

// VarInfo names a local variable and the [StartPC, EndPC) bytecode range
// it is visible in, for backtraces and the `-d` disassembly listing.
type VarInfo struct {
	Name    string
	StartPC int
	EndPC   int
}

func (p *Proto) IsVararg() bool { return p.Flags&ProtoVararg != 0 }
func (p *Proto) HasChild() bool { return p.Flags&ProtoChild != 0 }

// BumpCLCount increments the saturating 3-bit closure counter packed
// above the flag bits, returning whether the function has crossed the
// polymorphic threshold.
func (p *Proto) BumpCLCount() bool {
	cur := uint16(p.Flags) &^ 0x1f
	if cur < ProtoCLCPoly {
		cur += ProtoCLCount
	}
	p.Flags = uint8(cur) | (p.Flags & 0x1f)
	return cur >= ProtoCLCPoly
}
