// Package table implements ktap's hybrid table: an array part indexed
// 1..asize plus an open-addressed hash part using Lua's "main position"
// collision algorithm (runtime/kp_tab.c in the ktap C sources), so that
// insertion order and iteration order match spec.md §3/§4.3 exactly.
package table

import (
	"math"
	"sort"
	"sync"
	"unsafe"

	"ktap/internal/ktaperr"
	"ktap/internal/strpool"
	"ktap/internal/value"
)

const noNext = -1

// node is one slot of the hash part. next chains collisions within the
// node array itself — there is no separately allocated bucket list.
type node struct {
	key  value.Value
	val  value.Value
	next int // index of next node in this chain, or noNext
}

// StatData is the {count, sum, min, max} aggregation tuple spec.md §4.3
// describes for ptable slots. A slot "holds a stat_data" when its
// Table.arrStat/hashStat entry is non-nil.
type StatData struct {
	Count int64
	Sum   float64
	Min   float64
	Max   float64
}

func (sd *StatData) observe(x float64) {
	if sd.Count == 0 {
		sd.Min, sd.Max = x, x
	} else {
		if x < sd.Min {
			sd.Min = x
		}
		if x > sd.Max {
			sd.Max = x
		}
	}
	sd.Count++
	sd.Sum += x
}

func mergeStat(a, b *StatData) *StatData {
	r := &StatData{Count: a.Count + b.Count, Sum: a.Sum + b.Sum}
	r.Min = math.Min(a.Min, b.Min)
	r.Max = math.Max(a.Max, b.Max)
	return r
}

// Table is the ktap `tab` GC object.
type Table struct {
	value.GCHeader

	mu sync.Mutex // per-table spinlock-style exclusion, per spec.md §5

	array     []value.Value
	arrStat   []*StatData // parallel to array, nil entries are non-stat
	node      []node
	nodeStat  []*StatData // parallel to node
	hmask     uint32
	freetop   int // one past the last free node position (descends)

	// sort_next state: a singly linked traversal built by SortInit.
	sorted     []sortedEntry
	sortedNext []int // index of successor in `sorted`, -1 terminates
	sortedHead int
}

type sortedEntry struct {
	key value.Value
	val value.Value
}

func New(asize, hbits int) *Table {
	t := &Table{}
	t.Kind = value.OTable
	if asize > 0 {
		t.array = make([]value.Value, asize)
		for i := range t.array {
			t.array[i] = value.Nil()
		}
	}
	if hbits > 0 {
		size := 1 << uint(hbits)
		t.node = make([]node, size)
		for i := range t.node {
			t.node[i] = node{key: value.Nil(), val: value.Nil(), next: noNext}
		}
		t.hmask = uint32(size - 1)
		t.freetop = size
	} else {
		t.freetop = 0
	}
	return t
}

func ToValue(t *Table) value.Value { return value.FromObject(t) }

func FromValue(v value.Value) *Table {
	return (*Table)(unsafe.Pointer(value.AsHeader(v)))
}

func IsTable(v value.Value) bool {
	return value.IsObject(v) && value.ObjectKindOf(v) == value.OTable
}

// arrayIndex reports whether key is a positive integer that addresses the
// array part directly, and the 0-based slice index for it.
func (t *Table) arrayIndex(key value.Value) (idx int, ok bool) {
	if !value.IsNumber(key) {
		return 0, false
	}
	f := value.AsNumber(key)
	i := int(f)
	if float64(i) != f || i < 1 || i > len(t.array) {
		return 0, false
	}
	return i - 1, true
}

func (t *Table) mainPosition(key value.Value) uint32 {
	if len(t.node) == 0 {
		return 0
	}
	switch {
	case value.IsNumber(key):
		f := value.AsNumber(key)
		bits := math.Float64bits(f)
		return uint32(bits) & t.hmask
	case strpool.IsString(key):
		s := strpool.FromValue(key)
		return s.Hash & t.hmask
	default:
		// pointer-keyed objects (tables, closures, …): hash the object
		// address.
		addr := uint32(uintptr(unsafe.Pointer(value.AsHeader(key))))
		return addr & t.hmask
	}
}

func keyEqual(a, b value.Value) bool {
	if value.IsNumber(a) && value.IsNumber(b) {
		return value.AsNumber(a) == value.AsNumber(b)
	}
	if strpool.IsString(a) && strpool.IsString(b) {
		return strpool.FromValue(a) == strpool.FromValue(b)
	}
	return a == b
}

// Get reads t[key]; absent or nil-valued keys both read back as nil, per
// spec.md's "nil means absent" array-part rule.
func (t *Table) Get(key value.Value) value.Value {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.getLocked(key)
}

func (t *Table) getLocked(key value.Value) value.Value {
	if idx, ok := t.arrayIndex(key); ok {
		return t.array[idx]
	}
	if len(t.node) == 0 {
		return value.Nil()
	}
	i := t.mainPosition(key)
	for {
		n := &t.node[i]
		if !value.IsNil(n.key) && keyEqual(n.key, key) {
			return n.val
		}
		if n.next == noNext {
			return value.Nil()
		}
		i = uint32(n.next)
	}
}

// Set implements spec.md §4.3's Get-then-newkey algorithm: overwrite in
// place if present, otherwise displace/chain per Lua's main-position rule.
func (t *Table) Set(key, val value.Value) error {
	if value.IsNil(key) {
		return ktaperr.Runtimef("", 0, "table index is nil")
	}
	if value.IsNumber(key) && math.IsNaN(value.AsNumber(key)) {
		return ktaperr.Runtimef("", 0, "table index is NaN")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.setLocked(key, val)
}

// setLocked is Set's body; the caller holds t.mu.
func (t *Table) setLocked(key, val value.Value) error {
	if idx, ok := t.arrayIndex(key); ok {
		t.array[idx] = val
		return nil
	}
	if len(t.node) == 0 {
		if err := t.growHash(1); err != nil {
			return err
		}
	}
	i := t.mainPosition(key)
	for {
		n := &t.node[i]
		if !value.IsNil(n.key) && keyEqual(n.key, key) {
			n.val = val
			return nil
		}
		if n.next == noNext && value.IsNil(n.key) {
			break
		}
		if n.next == noNext {
			return t.newKey(key, val)
		}
		i = uint32(n.next)
	}
	// i refers to an empty main-position slot.
	t.node[i].key = key
	t.node[i].val = val
	t.node[i].next = noNext
	return nil
}

// newKey handles the "main position occupied" path: find a free node, and
// either relocate the occupant (if it is itself colliding into mp) or
// chain the new key off mp.
func (t *Table) newKey(key, val value.Value) error {
	size := len(t.node)
	free, err := t.findFree()
	if err != nil {
		return err
	}
	if len(t.node) != size {
		// findFree grew and rehashed the hash part; insert into the new layout.
		return t.setLocked(key, val)
	}
	mp := t.mainPosition(key)
	occupant := &t.node[mp]
	occupantMP := t.mainPosition(occupant.key)
	if occupantMP != mp {
		// Occupant collided into mp from elsewhere; move it to a free
		// slot and relink its original chain to point at the new spot.
		prevIdx := occupantMP
		for t.node[prevIdx].next != int(mp) {
			prevIdx = uint32(t.node[prevIdx].next)
		}
		t.node[prevIdx].next = free
		t.node[free] = *occupant
		if t.nodeStat != nil {
			t.nodeStat[free], t.nodeStat[mp] = t.nodeStat[mp], nil
		}
		occupant.key = key
		occupant.val = val
		occupant.next = noNext
		return nil
	}
	// Occupant is at its own main position: chain the new key off it.
	t.node[free] = node{key: key, val: val, next: occupant.next}
	occupant.next = free
	return nil
}

// findFree scans `freetop` downward for the next unused node, growing the
// hash part if none remains.
func (t *Table) findFree() (int, error) {
	for t.freetop > 0 {
		t.freetop--
		if value.IsNil(t.node[t.freetop].key) {
			return t.freetop, nil
		}
	}
	if err := t.growHash(len(t.node) + 1); err != nil {
		return 0, err
	}
	return t.findFree()
}

func ceilLog2(x int) int {
	if x <= 1 {
		return 0
	}
	l := 0
	n := x - 1
	for n > 0 {
		l++
		n >>= 1
	}
	return l
}

const maxHBits = 26 // KP_MAX_HBITS

func (t *Table) growHash(minSize int) error {
	bits := ceilLog2(minSize)
	if bits < 1 {
		bits = 1
	}
	if bits > maxHBits {
		return ktaperr.Runtimef("", 0, "table overflow, please enlarge entries")
	}
	size := 1 << uint(bits)
	old := t.node
	oldStat := t.nodeStat
	t.node = make([]node, size)
	t.nodeStat = make([]*StatData, size)
	for i := range t.node {
		t.node[i] = node{key: value.Nil(), val: value.Nil(), next: noNext}
	}
	t.hmask = uint32(size - 1)
	t.freetop = size
	for i, n := range old {
		if value.IsNil(n.key) {
			continue
		}
		_ = t.setLocked(n.key, n.val)
		if oldStat != nil && oldStat[i] != nil {
			if idx, ok := t.arrayIndex(n.key); ok {
				t.arrStat[idx] = oldStat[i]
			} else {
				mp := t.mainPosition(n.key)
				for j := mp; ; {
					if keyEqual(t.node[j].key, n.key) {
						t.nodeStat[j] = oldStat[i]
						break
					}
					if t.node[j].next == noNext {
						break
					}
					j = uint32(t.node[j].next)
				}
			}
		}
	}
	return nil
}

// Next implements the `next(t,k)` iterator: array indices ascending, then
// hash nodes in storage order, terminating with an empty result.
func (t *Table) Next(key value.Value) (k, v value.Value, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	startArr := 0
	if !value.IsNil(key) {
		if idx, isArr := t.arrayIndex(key); isArr {
			startArr = idx + 1
		} else {
			// key is in the hash part (or absent): locate it and resume
			// just past it.
			i := t.mainPosition(key)
			found := -1
			for {
				if keyEqual(t.node[i].key, key) {
					found = int(i)
					break
				}
				if t.node[i].next == noNext {
					break
				}
				i = uint32(t.node[i].next)
			}
			if found == -1 {
				return value.Nil(), value.Nil(), false
			}
			return t.advanceHash(found + 1)
		}
	}
	for i := startArr; i < len(t.array); i++ {
		if !value.IsNil(t.array[i]) {
			return makeIntKey(i + 1), t.array[i], true
		}
	}
	return t.advanceHash(0)
}

func (t *Table) advanceHash(from int) (value.Value, value.Value, bool) {
	for i := from; i < len(t.node); i++ {
		if !value.IsNil(t.node[i].key) {
			return t.node[i].key, t.node[i].val, true
		}
	}
	return value.Nil(), value.Nil(), false
}

func makeIntKey(i int) value.Value { return value.Number(float64(i)) }

// Len is the semantic length: number of non-nil entries across both
// parts (spec.md §4.1 — deliberately not an O(1) operator).
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, v := range t.array {
		if !value.IsNil(v) {
			n++
		}
	}
	for _, nd := range t.node {
		if !value.IsNil(nd.key) && !value.IsNil(nd.val) {
			n++
		}
	}
	return n
}

// Incr implements `a[k] += n` as a single locked read-modify-write
// (kp_tab_incr), with stat-data aware accumulation when the slot is an
// aggregation slot.
func (t *Table) Incr(key value.Value, delta float64) error {
	if value.IsNil(key) {
		return ktaperr.Runtimef("", 0, "table index is nil")
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if idx, ok := t.arrayIndex(key); ok {
		if t.arrStat == nil {
			t.arrStat = make([]*StatData, len(t.array))
		}
		if t.arrStat[idx] == nil {
			t.arrStat[idx] = &StatData{}
		}
		t.arrStat[idx].observe(delta)
		t.array[idx] = value.Number(t.arrStat[idx].Sum)
		return nil
	}
	if len(t.node) == 0 {
		if err := t.growHash(1); err != nil {
			return err
		}
	}
	i := t.mainPosition(key)
	for {
		n := &t.node[i]
		if value.IsNil(n.key) {
			break
		}
		if keyEqual(n.key, key) {
			if t.nodeStat == nil {
				t.nodeStat = make([]*StatData, len(t.node))
			}
			if t.nodeStat[i] == nil {
				t.nodeStat[i] = &StatData{}
			}
			t.nodeStat[i].observe(delta)
			n.val = value.Number(t.nodeStat[i].Sum)
			return nil
		}
		if n.next == noNext {
			if err := t.newKey(key, value.Number(delta)); err != nil {
				return err
			}
			// newKey stored delta as the value; attach a stat tuple that
			// has observed it once.
			for j := t.mainPosition(key); ; j = uint32(t.node[j].next) {
				if keyEqual(t.node[j].key, key) {
					if t.nodeStat == nil {
						t.nodeStat = make([]*StatData, len(t.node))
					}
					t.nodeStat[j] = &StatData{}
					t.nodeStat[j].observe(delta)
					return nil
				}
			}
		}
		i = uint32(n.next)
	}
	t.node[i] = node{key: key, val: value.Number(delta), next: noNext}
	if t.nodeStat == nil {
		t.nodeStat = make([]*StatData, len(t.node))
	}
	t.nodeStat[i] = &StatData{}
	t.nodeStat[i].observe(delta)
	return nil
}

// MergeStats merges another table's stat-data slots into this one,
// pairwise summing count/sum and min/max-ing min/max, per spec.md §4.3 —
// used to fold per-CPU ptable shards into the aggregate at synthesis.
func (t *Table) MergeStats(other *Table) {
	t.mu.Lock()
	other.mu.Lock()
	defer t.mu.Unlock()
	defer other.mu.Unlock()

	for i, v := range other.array {
		if value.IsNil(v) {
			continue
		}
		var osd *StatData
		if other.arrStat != nil {
			osd = other.arrStat[i]
		}
		if osd == nil {
			continue
		}
		key := makeIntKey(i + 1)
		t.mergeOneLocked(key, osd)
	}
	for i, n := range other.node {
		if value.IsNil(n.key) {
			continue
		}
		var osd *StatData
		if other.nodeStat != nil {
			osd = other.nodeStat[i]
		}
		if osd == nil {
			continue
		}
		t.mergeOneLocked(n.key, osd)
	}
}

func (t *Table) mergeOneLocked(key value.Value, osd *StatData) {
	if idx, ok := t.arrayIndex(key); ok {
		if t.arrStat == nil {
			t.arrStat = make([]*StatData, len(t.array))
		}
		if t.arrStat[idx] == nil {
			t.arrStat[idx] = &StatData{Min: osd.Min, Max: osd.Max}
		}
		merged := mergeStat(t.arrStat[idx], osd)
		t.arrStat[idx] = merged
		t.array[idx] = value.Number(merged.Sum)
		return
	}
	_ = t.getLocked(key) // ensures hash part sized appropriately below
	if len(t.node) == 0 {
		_ = t.growHash(1)
	}
	i := t.mainPosition(key)
	for {
		n := &t.node[i]
		if value.IsNil(n.key) {
			n.key, n.val, n.next = key, value.Number(osd.Sum), noNext
			if t.nodeStat == nil {
				t.nodeStat = make([]*StatData, len(t.node))
			}
			t.nodeStat[i] = &StatData{Count: osd.Count, Sum: osd.Sum, Min: osd.Min, Max: osd.Max}
			return
		}
		if keyEqual(n.key, key) {
			if t.nodeStat == nil {
				t.nodeStat = make([]*StatData, len(t.node))
			}
			if t.nodeStat[i] == nil {
				t.nodeStat[i] = &StatData{Min: osd.Min, Max: osd.Max}
			}
			merged := mergeStat(t.nodeStat[i], osd)
			t.nodeStat[i] = merged
			n.val = value.Number(merged.Sum)
			return
		}
		if n.next == noNext {
			_ = t.newKey(key, value.Number(osd.Sum))
			i = t.mainPosition(key)
			continue
		}
		i = uint32(n.next)
	}
}

// StatAt returns the aggregation tuple backing key, if any.
func (t *Table) StatAt(key value.Value) (*StatData, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if idx, ok := t.arrayIndex(key); ok && t.arrStat != nil && t.arrStat[idx] != nil {
		return t.arrStat[idx], true
	}
	if len(t.node) == 0 {
		return nil, false
	}
	i := t.mainPosition(key)
	for {
		if keyEqual(t.node[i].key, key) {
			if t.nodeStat != nil && t.nodeStat[i] != nil {
				return t.nodeStat[i], true
			}
			return nil, false
		}
		if t.node[i].next == noNext {
			return nil, false
		}
		i = uint32(t.node[i].next)
	}
}

// Comparator orders two (key,val) pairs for SortInit; returning true means
// a sorts before b.
type Comparator func(ak, av, bk, bv value.Value) bool

// DefaultComparator: numbers descending, stat-data descending by count —
// spec.md §4.3's default when no user comparator is supplied.
func (t *Table) DefaultComparator() Comparator {
	return func(ak, av, bk, bv value.Value) bool {
		if sa, ok := t.StatAt(ak); ok {
			if sb, ok2 := t.StatAt(bk); ok2 {
				return sa.Count > sb.Count
			}
		}
		if value.IsNumber(av) && value.IsNumber(bv) {
			return value.AsNumber(av) > value.AsNumber(bv)
		}
		return false
	}
}

// SortInit materializes all pairs into a contiguous buffer and threads a
// singly linked list through it via cmp, ready for SortNext.
func (t *Table) SortInit(cmp Comparator) {
	t.mu.Lock()
	pairs := make([]sortedEntry, 0, len(t.array)+len(t.node))
	for i, v := range t.array {
		if !value.IsNil(v) {
			pairs = append(pairs, sortedEntry{key: makeIntKey(i + 1), val: v})
		}
	}
	for _, n := range t.node {
		if !value.IsNil(n.key) {
			pairs = append(pairs, sortedEntry{key: n.key, val: n.val})
		}
	}
	t.mu.Unlock()

	if cmp == nil {
		cmp = t.DefaultComparator()
	}
	sort.SliceStable(pairs, func(i, j int) bool {
		return cmp(pairs[i].key, pairs[i].val, pairs[j].key, pairs[j].val)
	})

	t.mu.Lock()
	t.sorted = pairs
	t.sortedNext = make([]int, len(pairs))
	for i := range t.sortedNext {
		if i+1 < len(pairs) {
			t.sortedNext[i] = i + 1
		} else {
			t.sortedNext[i] = -1
		}
	}
	if len(pairs) > 0 {
		t.sortedHead = 0
	} else {
		t.sortedHead = -1
	}
	t.mu.Unlock()
}

// SortNext walks the list built by SortInit, holding the lock for a
// single step only (so iteration is not a snapshot, per spec.md §5).
func (t *Table) SortNext(key value.Value) (k, v value.Value, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if value.IsNil(key) {
		if t.sortedHead == -1 {
			return value.Nil(), value.Nil(), false
		}
		e := t.sorted[t.sortedHead]
		return e.key, e.val, true
	}
	for i, e := range t.sorted {
		if keyEqual(e.key, key) {
			nxt := t.sortedNext[i]
			if nxt == -1 {
				return value.Nil(), value.Nil(), false
			}
			e2 := t.sorted[nxt]
			return e2.key, e2.val, true
		}
	}
	return value.Nil(), value.Nil(), false
}
