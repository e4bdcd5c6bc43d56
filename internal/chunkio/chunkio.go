// Package chunkio implements the bytecode chunk writer and reader: the
// portable container format a compiled prototype tree is serialized to
// and reconstructed from (ULEB128-encoded, postorder child layout,
// optional debug info), grounded on the real ktap sources
// userspace/kp_bcwrite.c and runtime/kp_bcread.c.
package chunkio

import (
	"bytes"
	"encoding/binary"
	"math"

	"ktap/internal/bytecode"
	"ktap/internal/ktaperr"
)

// Header flag bits (BCDUMP_F_* in ktap_bc.h).
const (
	FlagBE    = 0x01
	FlagStrip = 0x02
	FlagFFI   = 0x04

	knownFlags = FlagBE | FlagStrip | FlagFFI
)

var magic = [4]byte{0x1B, 0x4C, 0x4A, 0x01}

// hostIsBE reports whether this process's native byte order is
// big-endian; used to decide FlagBE on write and whether a read needs a
// byte swap.
func hostIsBE() bool {
	var x uint16 = 1
	b := (*[2]byte)(nil)
	_ = b
	buf := make([]byte, 2)
	binary.NativeEndian.PutUint16(buf, x)
	return buf[0] == 0
}

// ---- writer -------------------------------------------------------------

// Write serializes proto (and its full child tree) into a chunk, per
// spec §4.6. strip omits chunkname and all debug info (BCDUMP_F_STRIP).
func Write(proto *bytecode.Proto, strip bool) []byte {
	var buf bytes.Buffer
	buf.Write(magic[:])

	flags := byte(0)
	if hostIsBE() {
		flags |= FlagBE
	}
	if strip {
		flags |= FlagStrip
	}
	buf.WriteByte(flags)

	if !strip {
		writeULEB(&buf, uint64(len(proto.Chunkname)))
		buf.WriteString(proto.Chunkname)
	}

	w := &writer{buf: &buf, strip: strip}
	w.writeProtoTree(proto)

	buf.WriteByte(0) // end-of-chunk marker
	return buf.Bytes()
}

type writer struct {
	buf   *bytes.Buffer
	strip bool
}

// writeProtoTree emits proto's children first (postorder), then proto
// itself, so a reader can rebuild child prototypes before the parent
// that references them via ConstChild entries needs them.
func (w *writer) writeProtoTree(p *bytecode.Proto) {
	for _, child := range p.Children {
		w.writeProtoTree(child)
	}
	var body bytes.Buffer
	w.writeProtoBody(&body, p)
	writeULEB(w.buf, uint64(body.Len()))
	w.buf.Write(body.Bytes())
}

func (w *writer) writeProtoBody(buf *bytes.Buffer, p *bytecode.Proto) {
	flags := p.Flags & (bytecode.ProtoChild | bytecode.ProtoVararg | bytecode.ProtoFFI)
	buf.WriteByte(flags)
	buf.WriteByte(p.NumParams)
	buf.WriteByte(p.FrameSize)
	buf.WriteByte(byte(len(p.Upvals)))

	writeULEB(buf, uint64(len(p.GCConsts)))
	writeULEB(buf, uint64(len(p.Numbers)))
	writeULEB(buf, uint64(len(p.Code)))

	hasDebug := !w.strip && p.Chunkname != ""
	if hasDebug {
		writeULEB(buf, uint64(1)) // nonzero marks "debug info present"
		writeULEB(buf, uint64(p.FirstLine))
		writeULEB(buf, uint64(p.NumLine))
	} else {
		writeULEB(buf, 0)
	}

	for _, ins := range p.Code {
		var b [4]byte
		binary.NativeEndian.PutUint32(b[:], uint32(ins))
		buf.Write(b[:])
	}

	for _, uv := range p.Upvals {
		var b [2]byte
		binary.NativeEndian.PutUint16(b[:], uint16(uv))
		buf.Write(b[:])
	}

	for _, c := range p.GCConsts {
		w.writeConst(buf, c)
	}

	for _, n := range p.Numbers {
		var b [8]byte
		binary.NativeEndian.PutUint64(b[:], math.Float64bits(n))
		buf.Write(b[:])
	}

	if hasDebug {
		for _, li := range p.LineInfo {
			writeLineInfo(buf, li, p.NumLine)
		}
		for _, n := range p.UVNames {
			buf.WriteString(n)
			buf.WriteByte(0)
		}
		for _, v := range p.VarNames {
			buf.WriteString(v.Name)
			buf.WriteByte(0)
			writeULEB(buf, uint64(v.StartPC))
			writeULEB(buf, uint64(v.EndPC))
		}
		buf.WriteByte(0)
	}
}

// constKgcCode mirrors BCDUMP_KGC_* in ktap_bc.h.
const (
	kgcChild = 0
	kgcTab   = 1
	kgcStr   = 2
)

func (w *writer) writeConst(buf *bytes.Buffer, c bytecode.Const) {
	switch c.Kind {
	case bytecode.ConstChild:
		writeULEB(buf, kgcChild)
	case bytecode.ConstStr:
		writeULEB(buf, kgcStr)
		writeULEB(buf, uint64(len(c.Str)))
		buf.WriteString(c.Str)
	case bytecode.ConstTab:
		writeULEB(buf, kgcTab)
		writeULEB(buf, uint64(len(c.Table.Array)))
		writeULEB(buf, uint64(len(c.Table.Hash)))
		for _, v := range c.Table.Array {
			writeTabConst(buf, v)
		}
		for _, e := range c.Table.Hash {
			writeTabConst(buf, e.Key)
			writeTabConst(buf, e.Val)
		}
	}
}

// tab-const type codes, BCDUMP_KTAB_*.
const (
	ktabNil = iota
	ktabFalse
	ktabTrue
	ktabInt
	ktabNum
	ktabStr
)

func writeTabConst(buf *bytes.Buffer, v bytecode.TabConst) {
	switch v.Kind {
	case bytecode.TabNil:
		writeULEB(buf, ktabNil)
	case bytecode.TabFalse:
		writeULEB(buf, ktabFalse)
	case bytecode.TabTrue:
		writeULEB(buf, ktabTrue)
	case bytecode.TabInt:
		writeULEB(buf, ktabInt)
		writeULEB(buf, uint64(int64(v.Num)))
	case bytecode.TabNum:
		writeULEB(buf, ktabNum)
		var b [8]byte
		binary.NativeEndian.PutUint64(b[:], math.Float64bits(v.Num))
		buf.Write(b[:])
	case bytecode.TabStr:
		writeULEB(buf, ktabStr)
		writeULEB(buf, uint64(len(v.Str)))
		buf.WriteString(v.Str)
	}
}

// writeLineInfo packs one source line per instruction in 1/2/4 bytes
// depending on how many lines the prototype spans, per §4.6.
func writeLineInfo(buf *bytes.Buffer, line int32, numLine int) {
	switch {
	case numLine <= 0xff:
		buf.WriteByte(byte(line))
	case numLine <= 0xffff:
		var b [2]byte
		binary.NativeEndian.PutUint16(b[:], uint16(line))
		buf.Write(b[:])
	default:
		var b [4]byte
		binary.NativeEndian.PutUint32(b[:], uint32(line))
		buf.Write(b[:])
	}
}

func writeULEB(buf *bytes.Buffer, v uint64) {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			buf.WriteByte(b | 0x80)
		} else {
			buf.WriteByte(b)
			return
		}
	}
}

// ---- reader ---------------------------------------------------------------

type reader struct {
	data  []byte
	pos   int
	swap  bool
	strip bool
}

// Read parses a chunk produced by Write back into its prototype tree.
func Read(data []byte) (*bytecode.Proto, error) {
	if len(data) < 5 || data[0] != magic[0] || data[1] != magic[1] || data[2] != magic[2] || data[3] != magic[3] {
		return nil, ktaperr.Readf("bad chunk header")
	}
	flags := data[4]
	if flags&^byte(knownFlags) != 0 {
		return nil, ktaperr.Readf("unknown chunk flag bits 0x%x", flags&^byte(knownFlags))
	}
	if flags&FlagFFI != 0 {
		return nil, ktaperr.Readf("chunk uses FFI constants, not supported by this reader")
	}
	r := &reader{data: data, pos: 5}
	r.strip = flags&FlagStrip != 0
	r.swap = (flags&FlagBE != 0) != hostIsBE()

	chunkname := ""
	if !r.strip {
		n, err := r.readULEB()
		if err != nil {
			return nil, err
		}
		chunkname, err = r.readString(int(n))
		if err != nil {
			return nil, err
		}
	}

	var stack []*bytecode.Proto
	for {
		if r.pos >= len(r.data) {
			return nil, ktaperr.Readf("truncated chunk")
		}
		// Peek: a single zero byte (valid as a zero-length ULEB) at the
		// top level marks end-of-chunk once at least one proto has been
		// read.
		if r.data[r.pos] == 0 && len(stack) > 0 {
			r.pos++
			break
		}
		size, err := r.readULEB()
		if err != nil {
			return nil, err
		}
		if size == 0 {
			break
		}
		end := r.pos + int(size)
		if end > len(r.data) {
			return nil, ktaperr.Readf("truncated prototype body")
		}
		body := r.data[r.pos:end]
		r.pos = end
		proto, err := readProtoBody(body, r.swap, r.strip, &stack)
		if err != nil {
			return nil, err
		}
		proto.Chunkname = chunkname
		stack = append(stack, proto)
	}
	if len(stack) == 0 {
		return nil, ktaperr.Readf("chunk contains no prototypes")
	}
	return stack[len(stack)-1], nil
}

func readProtoBody(body []byte, swap, strip bool, stack *[]*bytecode.Proto) (*bytecode.Proto, error) {
	br := &reader{data: body, pos: 0, swap: swap, strip: strip}
	p := &bytecode.Proto{}

	flags, err := br.byte()
	if err != nil {
		return nil, err
	}
	p.Flags = flags
	p.NumParams, err = br.byte()
	if err != nil {
		return nil, err
	}
	p.FrameSize, err = br.byte()
	if err != nil {
		return nil, err
	}
	sizeuv, err := br.byte()
	if err != nil {
		return nil, err
	}

	sizekgc, err := br.readULEB()
	if err != nil {
		return nil, err
	}
	sizekn, err := br.readULEB()
	if err != nil {
		return nil, err
	}
	sizebc, err := br.readULEB()
	if err != nil {
		return nil, err
	}
	hasDebug, err := br.readULEB()
	if err != nil {
		return nil, err
	}
	if hasDebug != 0 {
		fl, err := br.readULEB()
		if err != nil {
			return nil, err
		}
		nl, err := br.readULEB()
		if err != nil {
			return nil, err
		}
		p.FirstLine = int(fl)
		p.NumLine = int(nl)
	}

	p.Code = make([]bytecode.Instruction, sizebc)
	for i := range p.Code {
		w, err := br.uint32()
		if err != nil {
			return nil, err
		}
		p.Code[i] = bytecode.Instruction(w)
	}

	p.Upvals = make([]bytecode.UpvalDesc, sizeuv)
	for i := range p.Upvals {
		w, err := br.uint16()
		if err != nil {
			return nil, err
		}
		p.Upvals[i] = bytecode.UpvalDesc(w)
	}

	p.GCConsts = make([]bytecode.Const, sizekgc)
	// kgc entries are read in writer order. The writer emits a prototype's
	// children just before it, so they are the top entries of the
	// already-built stack and become p.Children in the same order; the
	// j-th CHILD entry names Children[j].
	childIdx := len(*stack)
	nchild := 0
	for i := range p.GCConsts {
		c, consumed, err := br.readConst(stack, &childIdx)
		if err != nil {
			return nil, err
		}
		if consumed {
			c.ChildPt = nchild
			nchild++
			childIdx--
		}
		p.GCConsts[i] = c
	}
	if childIdx < len(*stack) {
		p.Children = append(p.Children, (*stack)[childIdx:]...)
		*stack = (*stack)[:childIdx]
	}

	p.Numbers = make([]float64, sizekn)
	for i := range p.Numbers {
		w, err := br.uint64()
		if err != nil {
			return nil, err
		}
		p.Numbers[i] = math.Float64frombits(w)
	}

	if hasDebug != 0 {
		p.LineInfo = make([]int32, sizebc)
		for i := range p.LineInfo {
			li, err := br.lineInfo(p.NumLine)
			if err != nil {
				return nil, err
			}
			p.LineInfo[i] = li
		}
		p.UVNames = make([]string, sizeuv)
		for i := range p.UVNames {
			s, err := br.cstring()
			if err != nil {
				return nil, err
			}
			p.UVNames[i] = s
		}
		var vars []bytecode.VarInfo
		for {
			name, err := br.cstring()
			if err != nil {
				return nil, err
			}
			if name == "" {
				break
			}
			start, err := br.readULEB()
			if err != nil {
				return nil, err
			}
			end, err := br.readULEB()
			if err != nil {
				return nil, err
			}
			vars = append(vars, bytecode.VarInfo{Name: name, StartPC: int(start), EndPC: int(end)})
		}
		p.VarNames = vars
	}

	return p, nil
}

func (r *reader) byte() (byte, error) {
	if r.pos >= len(r.data) {
		return 0, ktaperr.Readf("truncated chunk (byte)")
	}
	b := r.data[r.pos]
	r.pos++
	return b, nil
}

func (r *reader) readString(n int) (string, error) {
	if r.pos+n > len(r.data) {
		return "", ktaperr.Readf("truncated chunk (string)")
	}
	s := string(r.data[r.pos : r.pos+n])
	r.pos += n
	return s, nil
}

func (r *reader) cstring() (string, error) {
	start := r.pos
	for r.pos < len(r.data) && r.data[r.pos] != 0 {
		r.pos++
	}
	if r.pos >= len(r.data) {
		return "", ktaperr.Readf("truncated chunk (cstring)")
	}
	s := string(r.data[start:r.pos])
	r.pos++
	return s, nil
}

func (r *reader) readULEB() (uint64, error) {
	var result uint64
	var shift uint
	for {
		if r.pos >= len(r.data) {
			return 0, ktaperr.Readf("truncated ULEB128")
		}
		b := r.data[r.pos]
		r.pos++
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return result, nil
		}
		shift += 7
	}
}

func (r *reader) uint32() (uint32, error) {
	if r.pos+4 > len(r.data) {
		return 0, ktaperr.Readf("truncated chunk (u32)")
	}
	v := binary.NativeEndian.Uint32(r.data[r.pos : r.pos+4])
	r.pos += 4
	if r.swap {
		v = swap32(v)
	}
	return v, nil
}

func (r *reader) uint16() (uint16, error) {
	if r.pos+2 > len(r.data) {
		return 0, ktaperr.Readf("truncated chunk (u16)")
	}
	v := binary.NativeEndian.Uint16(r.data[r.pos : r.pos+2])
	r.pos += 2
	if r.swap {
		v = v<<8 | v>>8
	}
	return v, nil
}

func (r *reader) uint64() (uint64, error) {
	if r.pos+8 > len(r.data) {
		return 0, ktaperr.Readf("truncated chunk (u64)")
	}
	v := binary.NativeEndian.Uint64(r.data[r.pos : r.pos+8])
	r.pos += 8
	if r.swap {
		v = swap64(v)
	}
	return v, nil
}

func (r *reader) lineInfo(numLine int) (int32, error) {
	switch {
	case numLine <= 0xff:
		b, err := r.byte()
		return int32(b), err
	case numLine <= 0xffff:
		v, err := r.uint16()
		return int32(v), err
	default:
		v, err := r.uint32()
		return int32(v), err
	}
}

func (r *reader) readConst(stack *[]*bytecode.Proto, childIdx *int) (bytecode.Const, bool, error) {
	kind, err := r.readULEB()
	if err != nil {
		return bytecode.Const{}, false, err
	}
	switch kind {
	case kgcChild:
		if *childIdx <= 0 {
			return bytecode.Const{}, false, ktaperr.Readf("CHILD constant references nonexistent prototype")
		}
		return bytecode.Const{Kind: bytecode.ConstChild, ChildPt: *childIdx - 1}, true, nil
	case kgcStr:
		n, err := r.readULEB()
		if err != nil {
			return bytecode.Const{}, false, err
		}
		s, err := r.readString(int(n))
		if err != nil {
			return bytecode.Const{}, false, err
		}
		return bytecode.Const{Kind: bytecode.ConstStr, Str: s}, false, nil
	case kgcTab:
		narr, err := r.readULEB()
		if err != nil {
			return bytecode.Const{}, false, err
		}
		nhash, err := r.readULEB()
		if err != nil {
			return bytecode.Const{}, false, err
		}
		tab := &bytecode.ConstTable{}
		for i := uint64(0); i < narr; i++ {
			v, err := r.readTabConst()
			if err != nil {
				return bytecode.Const{}, false, err
			}
			tab.Array = append(tab.Array, v)
		}
		for i := uint64(0); i < nhash; i++ {
			k, err := r.readTabConst()
			if err != nil {
				return bytecode.Const{}, false, err
			}
			v, err := r.readTabConst()
			if err != nil {
				return bytecode.Const{}, false, err
			}
			tab.Hash = append(tab.Hash, bytecode.TabHashEntry{Key: k, Val: v})
		}
		return bytecode.Const{Kind: bytecode.ConstTab, Table: tab}, false, nil
	default:
		return bytecode.Const{}, false, ktaperr.Readf("unknown kgc constant kind %d", kind)
	}
}

func (r *reader) readTabConst() (bytecode.TabConst, error) {
	kind, err := r.readULEB()
	if err != nil {
		return bytecode.TabConst{}, err
	}
	switch kind {
	case ktabNil:
		return bytecode.TabConst{Kind: bytecode.TabNil}, nil
	case ktabFalse:
		return bytecode.TabConst{Kind: bytecode.TabFalse}, nil
	case ktabTrue:
		return bytecode.TabConst{Kind: bytecode.TabTrue}, nil
	case ktabInt:
		n, err := r.readULEB()
		if err != nil {
			return bytecode.TabConst{}, err
		}
		return bytecode.TabConst{Kind: bytecode.TabInt, Num: float64(int64(n))}, nil
	case ktabNum:
		v, err := r.uint64()
		if err != nil {
			return bytecode.TabConst{}, err
		}
		return bytecode.TabConst{Kind: bytecode.TabNum, Num: math.Float64frombits(v)}, nil
	case ktabStr:
		n, err := r.readULEB()
		if err != nil {
			return bytecode.TabConst{}, err
		}
		s, err := r.readString(int(n))
		if err != nil {
			return bytecode.TabConst{}, err
		}
		return bytecode.TabConst{Kind: bytecode.TabStr, Str: s}, nil
	default:
		return bytecode.TabConst{}, ktaperr.Readf("unknown ktab constant kind %d", kind)
	}
}

func swap32(v uint32) uint32 {
	return v<<24 | (v&0xff00)<<8 | (v&0xff0000)>>8 | v>>24
}

func swap64(v uint64) uint64 {
	return uint64(swap32(uint32(v>>32))) | uint64(swap32(uint32(v)))<<32
}
