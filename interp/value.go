package interp

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/sable-lang/sable/mir"
)

// ---------------------------------------------------------------------------
// Value: a typed datum read out of memory
// ---------------------------------------------------------------------------

// ValueKind discriminates the runtime representations.
type ValueKind int

const (
	ValZero ValueKind = iota // zero-sized: carries no data
	ValScalar
	ValPair  // checked-op results: (result, overflow) without a memory home
	ValBytes // aggregate snapshot: raw bytes + init + provenance
)

// Scalar is a single machine word with optional pointer provenance.
// Bits holds the value little-endian in the low Size bytes.
type Scalar struct {
	Bits uint64
	Size uint8
	Prov *Pointer
}

// ScalarFromUint builds a scalar of the given byte size, masking Bits
// to the size.
func ScalarFromUint(v uint64, size uint8) Scalar {
	return Scalar{Bits: truncate(v, size), Size: size}
}

// ScalarFromPtr builds a pointer-valued scalar carrying provenance.
func ScalarFromPtr(p Pointer) Scalar {
	return Scalar{Bits: p.Offset, Size: ptrSize, Prov: &Pointer{Alloc: p.Alloc, Offset: p.Offset}}
}

// ScalarFromBool encodes a bool as a 1-byte scalar.
func ScalarFromBool(b bool) Scalar {
	if b {
		return Scalar{Bits: 1, Size: 1}
	}
	return Scalar{Bits: 0, Size: 1}
}

// Pointer returns the pointer this scalar carries, if any.
func (s Scalar) Pointer() (Pointer, bool) {
	if s.Prov == nil {
		return Pointer{}, false
	}
	return *s.Prov, true
}

// Int returns the scalar sign-extended from its size.
func (s Scalar) Int() int64 {
	return signExtend(s.Bits, s.Size)
}

// Uint returns the scalar zero-extended from its size.
func (s Scalar) Uint() uint64 {
	return truncate(s.Bits, s.Size)
}

// Bool decodes the scalar as a bool; only bytes 0 and 1 are legal,
// anything else was caught by the validity checker before this point.
func (s Scalar) Bool() bool {
	return s.Bits != 0
}

// Float64 reinterprets the scalar's bits as a float of its size.
func (s Scalar) Float64() float64 {
	if s.Size == 4 {
		return float64(math.Float32frombits(uint32(s.Bits)))
	}
	return math.Float64frombits(s.Bits)
}

func (s Scalar) String() string {
	if p, ok := s.Pointer(); ok {
		return p.String()
	}
	return fmt.Sprintf("0x%x:%d", s.Bits, s.Size)
}

// Value is what operand evaluation produces. Scalars stay in
// registers; aggregates travel as byte snapshots so moves never
// interpret their contents.
type Value struct {
	Kind   ValueKind
	Scalar Scalar
	Second Scalar // ValPair overflow flag
	Ty     *mir.Ty
	Fn     string // function-reference constants

	// ValBytes payload
	Bytes []byte
	Init  bitset
	Provs map[uint64]Pointer
}

// ZeroValue is the value of any zero-sized type.
func ZeroValue(ty *mir.Ty) Value {
	return Value{Kind: ValZero, Ty: ty}
}

// ScalarValue wraps a scalar with its type.
func ScalarValue(s Scalar, ty *mir.Ty) Value {
	return Value{Kind: ValScalar, Scalar: s, Ty: ty}
}

// PairValue wraps a checked-op result pair.
func PairValue(result Scalar, overflow bool, ty *mir.Ty) Value {
	return Value{Kind: ValPair, Scalar: result, Second: ScalarFromBool(overflow), Ty: ty}
}

// ---------------------------------------------------------------------------
// Scalar byte encoding
// ---------------------------------------------------------------------------

// encodeScalar renders a scalar to little-endian bytes of its size.
func encodeScalar(s Scalar) []byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], s.Bits)
	return buf[:s.Size]
}

// decodeScalar reassembles a scalar from little-endian bytes.
func decodeScalar(b []byte) Scalar {
	var buf [8]byte
	copy(buf[:], b)
	return Scalar{Bits: binary.LittleEndian.Uint64(buf[:]), Size: uint8(len(b))}
}

// truncate masks v to the low size bytes.
func truncate(v uint64, size uint8) uint64 {
	if size >= 8 {
		return v
	}
	return v & (1<<(8*uint64(size)) - 1)
}

// signExtend interprets the low size bytes of v as a signed integer.
func signExtend(v uint64, size uint8) int64 {
	if size >= 8 {
		return int64(v)
	}
	shift := 64 - 8*uint(size)
	return int64(v<<shift) >> shift
}
