package interp

import (
	"fmt"
	"math/rand"
)

// ---------------------------------------------------------------------------
// Memory: allocation-granular byte store with provenance tracking
// ---------------------------------------------------------------------------

// AllocID names one allocation. IDs are never reused within a run, so
// a stale pointer can always be traced back to the allocation it was
// derived from. The zero id is reserved and never allocated.
type AllocID uint64

// Pointer is an address in the interpreter's memory: an allocation
// plus a byte offset into it. Pointers carry their provenance by
// construction; there is no flat address space to confuse reused
// addresses through.
type Pointer struct {
	Alloc  AllocID
	Offset uint64
}

func (p Pointer) String() string {
	return fmt.Sprintf("a%d+%d", p.Alloc, p.Offset)
}

// WithOffset returns the pointer displaced by delta bytes. Provenance
// is unchanged; bounds are checked at access time, not here.
func (p Pointer) WithOffset(delta uint64) Pointer {
	return Pointer{Alloc: p.Alloc, Offset: p.Offset + delta}
}

// AllocKind records how an allocation came to exist. Deallocation
// must name the matching kind.
type AllocKind int

const (
	AllocStack AllocKind = iota
	AllocHeap
	AllocGlobal
	AllocConst // read-only: string/constant data
)

func (k AllocKind) String() string {
	switch k {
	case AllocStack:
		return "stack"
	case AllocHeap:
		return "heap"
	case AllocGlobal:
		return "global"
	case AllocConst:
		return "const"
	}
	return "unknown"
}

// Allocation is one independent block of bytes. Dead allocations are
// retained as tombstones so diagnostics can cite them by id.
type Allocation struct {
	id      AllocID
	bytes   []byte
	init    bitset             // per-byte initialization
	provs   map[uint64]Pointer // pointer provenance by byte offset
	align   uint64
	kind    AllocKind
	mutable bool
	dead    bool
}

// Size returns the allocation's length in bytes.
func (a *Allocation) Size() uint64 { return uint64(len(a.bytes)) }

// Align returns the allocation's alignment requirement.
func (a *Allocation) Align() uint64 { return a.align }

// Kind returns how the allocation was created.
func (a *Allocation) Kind() AllocKind { return a.kind }

// Dead reports whether the allocation has been deallocated.
func (a *Allocation) Dead() bool { return a.dead }

// Memory owns every allocation in a run. It is passed explicitly into
// each component that reads or writes; there is no ambient global
// instance.
type Memory struct {
	allocs map[AllocID]*Allocation
	next   AllocID
	poison *rand.Rand // fills fresh buffers so uninit bytes are not stable zeros
}

// NewMemory creates an empty memory with the given poison seed.
func NewMemory(seed int64) *Memory {
	return &Memory{
		allocs: make(map[AllocID]*Allocation),
		next:   1,
		poison: rand.New(rand.NewSource(seed)),
	}
}

// Allocate creates a live allocation of size bytes with the given
// alignment and kind. The buffer contents are poisoned, not zeroed;
// the init bitmap is what makes a byte readable.
func (m *Memory) Allocate(size, align uint64, kind AllocKind) AllocID {
	if align == 0 {
		align = 1
	}
	a := &Allocation{
		id:      m.next,
		bytes:   make([]byte, size),
		init:    newBitset(size),
		provs:   make(map[uint64]Pointer),
		align:   align,
		kind:    kind,
		mutable: kind != AllocConst,
	}
	m.poison.Read(a.bytes)
	m.allocs[a.id] = a
	m.next++
	return a.id
}

// AllocateBytes creates an allocation pre-filled with data, fully
// initialized. Const-kind allocations come out immutable.
func (m *Memory) AllocateBytes(data []byte, align uint64, kind AllocKind) AllocID {
	id := m.Allocate(uint64(len(data)), align, kind)
	a := m.allocs[id]
	copy(a.bytes, data)
	a.init.setRange(0, uint64(len(data)))
	return id
}

// Deallocate kills the allocation. The caller states how it believes
// the block was allocated; any mismatch is reported rather than
// patched over.
func (m *Memory) Deallocate(id AllocID, kind AllocKind, size, align uint64) *Error {
	a, ok := m.allocs[id]
	if !ok {
		return errf(InvalidDealloc, "no such allocation a%d", id).withAlloc(id)
	}
	if a.dead {
		return errf(UseAfterFree, "a%d was already deallocated", id).withAlloc(id)
	}
	if a.kind != kind {
		return errf(InvalidDealloc, "a%d is %s memory, deallocated as %s", id, a.kind, kind).withAlloc(id)
	}
	if size != a.Size() || align != a.align {
		return errf(InvalidDealloc,
			"a%d allocated with size %d align %d, deallocated with size %d align %d",
			id, a.Size(), a.align, size, align).withAlloc(id)
	}
	a.dead = true
	a.provs = nil
	return nil
}

// Release kills a stack allocation when its frame pops. Unlike
// Deallocate it cannot fail: frames always know their own storage.
func (m *Memory) Release(id AllocID) {
	if a, ok := m.allocs[id]; ok {
		a.dead = true
		a.provs = nil
	}
}

// Get returns the allocation for id, dead or alive, for diagnostics.
func (m *Memory) Get(id AllocID) (*Allocation, bool) {
	a, ok := m.allocs[id]
	return a, ok
}

// live looks up the allocation behind ptr and bounds-checks the
// access window. All reads and writes funnel through here.
func (m *Memory) live(ptr Pointer, n uint64) (*Allocation, *Error) {
	a, ok := m.allocs[ptr.Alloc]
	if !ok {
		return nil, errf(UseAfterFree, "pointer into unknown allocation").withPointer(ptr)
	}
	if a.dead {
		return nil, errf(UseAfterFree, "a%d is deallocated", ptr.Alloc).withPointer(ptr)
	}
	// Checked in two steps so offset+n cannot wrap around.
	if ptr.Offset > a.Size() || n > a.Size()-ptr.Offset {
		return nil, errf(OutOfBounds,
			"access of %d bytes at offset %d exceeds allocation size %d",
			n, ptr.Offset, a.Size()).withPointer(ptr)
	}
	return a, nil
}

// ReadBytes performs a typed read of n bytes: every byte must be
// initialized. Use CopyRaw for moves that may carry uninit bytes.
func (m *Memory) ReadBytes(ptr Pointer, n uint64) ([]byte, *Error) {
	a, err := m.live(ptr, n)
	if err != nil {
		return nil, err
	}
	if off, bad := a.init.firstClear(ptr.Offset, n); bad {
		return nil, errf(UninitializedRead,
			"byte at offset %d was never initialized", off).withPointer(ptr)
	}
	out := make([]byte, n)
	copy(out, a.bytes[ptr.Offset:ptr.Offset+n])
	return out, nil
}

// WriteBytes stores data at ptr, marking the range initialized and
// clearing any pointer provenance the write overlaps.
func (m *Memory) WriteBytes(ptr Pointer, data []byte) *Error {
	n := uint64(len(data))
	a, err := m.live(ptr, n)
	if err != nil {
		return err
	}
	if !a.mutable {
		return errf(WriteToImmutable, "a%d is read-only %s data", ptr.Alloc, a.kind).withPointer(ptr)
	}
	copy(a.bytes[ptr.Offset:], data)
	a.init.setRange(ptr.Offset, n)
	a.clearProvenance(ptr.Offset, n)
	return nil
}

// ReadProvenance returns the pointer stored at offset, if a whole
// pointer was stored there. A typed pointer read without provenance
// yields a bare integer, which is not a dereferenceable pointer.
func (m *Memory) ReadProvenance(ptr Pointer) (Pointer, bool) {
	a, ok := m.allocs[ptr.Alloc]
	if !ok || a.dead {
		return Pointer{}, false
	}
	p, ok := a.provs[ptr.Offset]
	return p, ok
}

// WriteProvenance records that the PtrSize bytes at ptr hold target.
// The caller has already written the raw bytes.
func (m *Memory) WriteProvenance(ptr Pointer, target Pointer) *Error {
	a, err := m.live(ptr, ptrSize)
	if err != nil {
		return err
	}
	a.provs[ptr.Offset] = target
	return nil
}

// CopyRaw moves n bytes from src to dst without interpreting them:
// uninitialized bytes stay uninitialized at the destination and
// pointer provenance moves along. This is the aggregate-move and
// copy-intrinsic path; it is deliberately blind.
func (m *Memory) CopyRaw(dst, src Pointer, n uint64) *Error {
	sa, err := m.live(src, n)
	if err != nil {
		return err
	}
	da, err := m.live(dst, n)
	if err != nil {
		return err
	}
	if !da.mutable {
		return errf(WriteToImmutable, "a%d is read-only %s data", dst.Alloc, da.kind).withPointer(dst)
	}

	buf := make([]byte, n)
	copy(buf, sa.bytes[src.Offset:src.Offset+n])
	initCopy := sa.init.slice(src.Offset, n)
	provCopy := make(map[uint64]Pointer)
	for off, p := range sa.provs {
		if off >= src.Offset && off+ptrSize <= src.Offset+n {
			provCopy[off-src.Offset] = p
		}
	}

	copy(da.bytes[dst.Offset:], buf)
	da.init.copyRange(dst.Offset, initCopy, n)
	da.clearProvenance(dst.Offset, n)
	for rel, p := range provCopy {
		da.provs[dst.Offset+rel] = p
	}
	return nil
}

// MarkUninit deinitializes a byte range, used when a value is moved
// out of a place.
func (m *Memory) MarkUninit(ptr Pointer, n uint64) *Error {
	a, err := m.live(ptr, n)
	if err != nil {
		return err
	}
	a.init.clearRange(ptr.Offset, n)
	a.clearProvenance(ptr.Offset, n)
	return nil
}

// InitRange reports whether every byte in the range is initialized.
func (m *Memory) InitRange(ptr Pointer, n uint64) (bool, *Error) {
	a, err := m.live(ptr, n)
	if err != nil {
		return false, err
	}
	_, bad := a.init.firstClear(ptr.Offset, n)
	return !bad, nil
}

func (a *Allocation) clearProvenance(off, n uint64) {
	for o := range a.provs {
		// A write destroys any stored pointer it overlaps, even partially.
		if o < off+n && o+ptrSize > off {
			delete(a.provs, o)
		}
	}
}

const ptrSize = 8

// ---------------------------------------------------------------------------
// bitset: per-byte init tracking
// ---------------------------------------------------------------------------

type bitset []uint64

func newBitset(n uint64) bitset {
	return make(bitset, (n+63)/64)
}

func (b bitset) set(i uint64)   { b[i/64] |= 1 << (i % 64) }
func (b bitset) clear(i uint64) { b[i/64] &^= 1 << (i % 64) }
func (b bitset) get(i uint64) bool {
	return b[i/64]&(1<<(i%64)) != 0
}

func (b bitset) setRange(off, n uint64) {
	for i := off; i < off+n; i++ {
		b.set(i)
	}
}

func (b bitset) clearRange(off, n uint64) {
	for i := off; i < off+n; i++ {
		b.clear(i)
	}
}

// firstClear returns the offset of the first uninitialized byte in
// [off, off+n), if any.
func (b bitset) firstClear(off, n uint64) (uint64, bool) {
	for i := off; i < off+n; i++ {
		if !b.get(i) {
			return i, true
		}
	}
	return 0, false
}

// slice extracts n bits starting at off as a standalone bitset.
func (b bitset) slice(off, n uint64) bitset {
	out := newBitset(n)
	for i := uint64(0); i < n; i++ {
		if b.get(off + i) {
			out.set(i)
		}
	}
	return out
}

// copyRange overwrites n bits starting at off from src (bit i of src
// becomes bit off+i).
func (b bitset) copyRange(off uint64, src bitset, n uint64) {
	for i := uint64(0); i < n; i++ {
		if src.get(i) {
			b.set(off + i)
		} else {
			b.clear(off + i)
		}
	}
}
