// Package strpool implements ktap's string intern pool: a hashed dedup
// store backed by a bump-allocated arena ("mempool"), guaranteeing that
// two strings with equal bytes share one object (the interning invariant
// §8 tests for).
//
// The hash function and mempool behavior are taken from the real ktap C
// sources (runtime/kp_str.c, runtime/kp_mempool.c) rather than invented,
// since spec.md §4.2 specifies the hash formula exactly and several §8
// round-trip properties depend on it matching bit-for-bit.
package strpool

import (
	"unsafe"

	"ktap/internal/ktaperr"
	"ktap/internal/value"
)

const (
	MaxStrLen = 512  // KP_MAX_STR
	MaxStrNum = 9999 // KP_MAX_STRNUM
	MaxPool   = 10000 * 1024 // KP_MAX_MEMPOOL_SIZE, bytes

	hashLimit = 5 // STRING_HASHLIMIT
)

// String is the heap object behind a `str` tagged Value. It is immutable
// once interned and lives until the owning Pool is torn down.
type String struct {
	value.GCHeader
	Reserved byte   // nonzero: stamped as a reserved word by MarkReserved
	Extra    byte
	Hash     uint32
	Bytes    string // immutable payload
}

func (s *String) Len() int { return len(s.Bytes) }

// Hash implements spec.md §4.2's formula verbatim:
//
//	h = 201236 ^ len; step = (len>>5)+1
//	for l := len; l >= step; l -= step { h ^= (h<<5)+(h>>2)+byte[l-1] }
func Hash(s string) uint32 {
	length := uint32(len(s))
	h := uint32(201236) ^ length
	step := (length >> hashLimit) + 1
	for l := length; l >= step; l -= step {
		h ^= (h << 5) + (h >> 2) + uint32(s[l-1])
	}
	return h
}

// chain anchors a hash bucket; collisions are chained through Next.
type chain struct {
	str  *String
	next *chain
}

// Pool is the global string intern pool: one per ktapstate.Global, torn
// down (and every interned string with it) at session exit.
type Pool struct {
	buckets  []*chain
	mask     uint32
	count    int
	poolSize int // bytes handed out by the bump allocator so far
}

func New() *Pool {
	return &Pool{
		buckets: make([]*chain, 64),
		mask:    63,
	}
}

// Intern returns the unique String object for the given bytes, allocating
// and linking a new one if this is the first occurrence. Two calls with
// equal bytes always return the identical pointer (the interning
// invariant).
func (p *Pool) Intern(s string) (*String, error) {
	if len(s) > MaxStrLen {
		return nil, ktaperr.Readf("string of %d bytes exceeds KP_MAX_STR (%d)", len(s), MaxStrLen)
	}
	h := Hash(s)
	idx := h & p.mask
	for c := p.buckets[idx]; c != nil; c = c.next {
		if c.str.Hash == h && c.str.Bytes == s {
			return c.str, nil
		}
	}
	if p.count >= MaxStrNum {
		return nil, ktaperr.Readf("exceed max string number")
	}
	// "Bump allocate" sizeof(str)+len+1 from the mempool; we track the
	// accounting even though Go's allocator does the real work, so the
	// KP_MAX_MEMPOOL_SIZE limit is still enforced the way the C
	// implementation enforces it against its bump arena.
	need := int(unsafe.Sizeof(String{})) + len(s) + 1
	if p.poolSize+need > MaxPool {
		return nil, ktaperr.Readf("string mempool exhausted")
	}
	p.poolSize += need

	str := &String{Hash: h, Bytes: s}
	str.Kind = value.OString
	if p.count*2 > len(p.buckets) {
		p.grow()
		idx = h & p.mask
	}
	p.buckets[idx] = &chain{str: str, next: p.buckets[idx]}
	p.count++
	return str, nil
}

func (p *Pool) grow() {
	old := p.buckets
	p.buckets = make([]*chain, len(old)*2)
	p.mask = uint32(len(p.buckets) - 1)
	for _, head := range old {
		for c := head; c != nil; {
			next := c.next
			idx := c.str.Hash & p.mask
			c.next = p.buckets[idx]
			p.buckets[idx] = c
			c = next
		}
	}
}

// MarkReserved interns s and stamps its reserved-word byte. The lexer
// does not read this byte; it recognises keywords with token.Lookup.
func (p *Pool) MarkReserved(s string, code byte) *String {
	str, err := p.Intern(s)
	if err != nil {
		panic(err) // only called during one-time init with short literals
	}
	str.Reserved = code
	return str
}

// Count returns the number of distinct interned strings (for KP_MAX_STRNUM
// bookkeeping / diagnostics).
func (p *Pool) Count() int { return p.count }

// ---- value.Value bridging ----

func ToValue(s *String) value.Value { return value.FromObject(s) }

func FromValue(v value.Value) *String {
	return (*String)(unsafe.Pointer(value.AsHeader(v)))
}

func IsString(v value.Value) bool {
	return value.IsObject(v) && value.ObjectKindOf(v) == value.OString
}
