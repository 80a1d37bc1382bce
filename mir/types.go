// Package mir defines the Sable compiler's mid-level intermediate
// representation: typed control-flow graphs of basic blocks over typed
// locals, plus the wire format compiled units are shipped in.
package mir

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Types
// ---------------------------------------------------------------------------

// TyKind discriminates the type descriptor variants.
type TyKind int

const (
	KindUnit TyKind = iota // zero-sized ()
	KindBool
	KindChar // unicode scalar value, 4 bytes
	KindInt
	KindFloat
	KindPtr    // reference-like pointer: non-null, provenance required
	KindRawPtr // raw pointer: may be null or integer-valued
	KindTuple
	KindStruct
	KindArray
	KindNever // uninhabited
)

// Ty is a MIR type descriptor. Descriptors are plain values; identity
// is structural. The interpreter computes layouts from them on demand.
type Ty struct {
	Kind   TyKind `cbor:"1,keyasint"`
	Bits   int    `cbor:"2,keyasint,omitempty"` // Int/Float: 8|16|32|64 (Float: 32|64)
	Signed bool   `cbor:"3,keyasint,omitempty"` // Int only
	Elem   *Ty    `cbor:"4,keyasint,omitempty"` // Ptr/RawPtr pointee, Array element
	Len    int    `cbor:"5,keyasint,omitempty"` // Array length
	Name   string `cbor:"6,keyasint,omitempty"`
	Fields []*Ty  `cbor:"7,keyasint,omitempty"` // Tuple/Struct
}

// Common type singletons. These are shared and must not be mutated.
var (
	TyUnit = &Ty{Kind: KindUnit}
	TyBool = &Ty{Kind: KindBool}
	TyChar = &Ty{Kind: KindChar}
	TyI8   = &Ty{Kind: KindInt, Bits: 8, Signed: true}
	TyI16  = &Ty{Kind: KindInt, Bits: 16, Signed: true}
	TyI32  = &Ty{Kind: KindInt, Bits: 32, Signed: true}
	TyI64  = &Ty{Kind: KindInt, Bits: 64, Signed: true}
	TyU8   = &Ty{Kind: KindInt, Bits: 8}
	TyU16  = &Ty{Kind: KindInt, Bits: 16}
	TyU32  = &Ty{Kind: KindInt, Bits: 32}
	TyU64  = &Ty{Kind: KindInt, Bits: 64}
	TyF32  = &Ty{Kind: KindFloat, Bits: 32}
	TyF64  = &Ty{Kind: KindFloat, Bits: 64}

	TyNever = &Ty{Kind: KindNever}
)

// PtrTo returns a reference-like pointer type to elem.
func PtrTo(elem *Ty) *Ty {
	return &Ty{Kind: KindPtr, Elem: elem}
}

// RawPtrTo returns a raw pointer type to elem.
func RawPtrTo(elem *Ty) *Ty {
	return &Ty{Kind: KindRawPtr, Elem: elem}
}

// TupleOf returns a tuple type over the given field types.
func TupleOf(fields ...*Ty) *Ty {
	return &Ty{Kind: KindTuple, Fields: fields}
}

// StructOf returns a named struct type over the given field types.
func StructOf(name string, fields ...*Ty) *Ty {
	return &Ty{Kind: KindStruct, Name: name, Fields: fields}
}

// ArrayOf returns an array type of n elements of elem.
func ArrayOf(elem *Ty, n int) *Ty {
	return &Ty{Kind: KindArray, Elem: elem, Len: n}
}

// IsZeroSized reports whether values of this type occupy no storage.
func (t *Ty) IsZeroSized() bool {
	return t.Layout().Size == 0
}

// IsScalar reports whether the type reads and writes as a single scalar.
func (t *Ty) IsScalar() bool {
	switch t.Kind {
	case KindBool, KindChar, KindInt, KindFloat, KindPtr, KindRawPtr:
		return true
	}
	return false
}

// IsPointer reports whether the type is a pointer of either flavor.
func (t *Ty) IsPointer() bool {
	return t.Kind == KindPtr || t.Kind == KindRawPtr
}

// String renders the type the way the compiler prints it.
func (t *Ty) String() string {
	switch t.Kind {
	case KindUnit:
		return "()"
	case KindBool:
		return "bool"
	case KindChar:
		return "char"
	case KindInt:
		if t.Signed {
			return fmt.Sprintf("i%d", t.Bits)
		}
		return fmt.Sprintf("u%d", t.Bits)
	case KindFloat:
		return fmt.Sprintf("f%d", t.Bits)
	case KindPtr:
		return "&" + t.Elem.String()
	case KindRawPtr:
		return "*" + t.Elem.String()
	case KindTuple:
		parts := make([]string, len(t.Fields))
		for i, f := range t.Fields {
			parts[i] = f.String()
		}
		return "(" + strings.Join(parts, ", ") + ")"
	case KindStruct:
		return t.Name
	case KindArray:
		return fmt.Sprintf("[%s; %d]", t.Elem.String(), t.Len)
	case KindNever:
		return "!"
	}
	return fmt.Sprintf("ty(%d)", t.Kind)
}
