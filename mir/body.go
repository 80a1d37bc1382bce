package mir

import "fmt"

// ---------------------------------------------------------------------------
// Bodies and blocks
// ---------------------------------------------------------------------------

// Body is one function's MIR: a list of typed locals and a graph of
// basic blocks. Local 0 is the return slot; locals 1..Args hold the
// arguments. Block 0 is the entry block.
type Body struct {
	Name   string       `cbor:"1,keyasint"`
	Args   int          `cbor:"2,keyasint"`
	Locals []LocalDecl  `cbor:"3,keyasint"`
	Blocks []BasicBlock `cbor:"4,keyasint"`
}

// LocalDecl declares one local variable slot.
type LocalDecl struct {
	Ty *Ty `cbor:"1,keyasint"`
}

// BasicBlock is a straight-line run of statements ended by exactly one
// terminator. Cleanup blocks run during unwinding.
type BasicBlock struct {
	Statements []Statement `cbor:"1,keyasint,omitempty"`
	Term       Terminator  `cbor:"2,keyasint"`
	Cleanup    bool        `cbor:"3,keyasint,omitempty"`
}

// Unit is a compiled MIR unit: every body the compiler emitted for the
// crate, its static data, and the designated entry symbol.
type Unit struct {
	Bodies  map[string]*Body `cbor:"1,keyasint"`
	Statics []Static         `cbor:"2,keyasint,omitempty"`
	Entry   string           `cbor:"3,keyasint"`
}

// Static is a piece of global data referenced by name from constants.
type Static struct {
	Name    string `cbor:"1,keyasint"`
	Ty      *Ty    `cbor:"2,keyasint"`
	Bytes   []byte `cbor:"3,keyasint"`
	Mutable bool   `cbor:"4,keyasint,omitempty"`
}

// Local names a local slot by index.
type Local int

// ReturnLocal is the designated slot for a body's return value.
const ReturnLocal Local = 0

// ---------------------------------------------------------------------------
// Places and operands
// ---------------------------------------------------------------------------

// Place describes a typed memory location: a base local plus a chain
// of projections applied left to right.
type Place struct {
	Local Local        `cbor:"1,keyasint"`
	Proj  []Projection `cbor:"2,keyasint,omitempty"`
}

// PlaceOf returns an unprojected place for a local.
func PlaceOf(l Local) Place { return Place{Local: l} }

// Field returns p extended with a field projection.
func (p Place) Field(i int) Place {
	return p.project(Projection{Kind: ProjField, Index: i})
}

// Index returns p extended with a dynamic index projection reading the
// index from another local.
func (p Place) Index(l Local) Place {
	return p.project(Projection{Kind: ProjIndex, Index: int(l)})
}

// ConstIndex returns p extended with a constant index projection.
func (p Place) ConstIndex(i int) Place {
	return p.project(Projection{Kind: ProjConstIndex, Index: i})
}

// Deref returns p extended with a pointer dereference.
func (p Place) Deref() Place {
	return p.project(Projection{Kind: ProjDeref})
}

func (p Place) project(pr Projection) Place {
	proj := make([]Projection, len(p.Proj), len(p.Proj)+1)
	copy(proj, p.Proj)
	return Place{Local: p.Local, Proj: append(proj, pr)}
}

func (p Place) String() string {
	s := fmt.Sprintf("_%d", p.Local)
	for _, pr := range p.Proj {
		switch pr.Kind {
		case ProjField:
			s = fmt.Sprintf("%s.%d", s, pr.Index)
		case ProjIndex:
			s = fmt.Sprintf("%s[_%d]", s, pr.Index)
		case ProjConstIndex:
			s = fmt.Sprintf("%s[%d]", s, pr.Index)
		case ProjDeref:
			s = "(*" + s + ")"
		}
	}
	return s
}

// ProjKind discriminates place projections.
type ProjKind int

const (
	ProjField      ProjKind = iota // Index is the field number
	ProjIndex                      // Index is the local holding the index
	ProjConstIndex                 // Index is the literal element index
	ProjDeref
)

// Projection is one step of a place's projection chain.
type Projection struct {
	Kind  ProjKind `cbor:"1,keyasint"`
	Index int      `cbor:"2,keyasint,omitempty"`
}

// OperandKind discriminates operands.
type OperandKind int

const (
	OpCopy OperandKind = iota
	OpMove
	OpConst
)

// Operand is an rvalue input: a place to copy from, a place to move
// out of, or an inline constant.
type Operand struct {
	Kind  OperandKind `cbor:"1,keyasint"`
	Place Place       `cbor:"2,keyasint"`
	Const Constant    `cbor:"3,keyasint"`
}

// Copy reads the place non-destructively.
func Copy(p Place) Operand { return Operand{Kind: OpCopy, Place: p} }

// Move reads the place and deinitializes it.
func Move(p Place) Operand { return Operand{Kind: OpMove, Place: p} }

// ConstOp wraps a constant as an operand.
func ConstOp(c Constant) Operand { return Operand{Kind: OpConst, Const: c} }

// Constant is a typed compile-time scalar, a reference to a named
// static for non-scalar data, or a function reference.
type Constant struct {
	Ty     *Ty    `cbor:"1,keyasint"`
	Bits   uint64 `cbor:"2,keyasint,omitempty"` // scalar bit pattern, little-endian truncated
	Static string `cbor:"3,keyasint,omitempty"` // non-empty: address of the named static
	Fn     string `cbor:"4,keyasint,omitempty"` // non-empty: reference to the named body
}

// ConstInt returns an integer constant of the given type.
func ConstInt(ty *Ty, v int64) Constant {
	return Constant{Ty: ty, Bits: uint64(v)}
}

// ConstBool returns a boolean constant.
func ConstBool(v bool) Constant {
	b := uint64(0)
	if v {
		b = 1
	}
	return Constant{Ty: TyBool, Bits: b}
}

// ConstStaticRef returns a pointer constant addressing a named static.
func ConstStaticRef(ty *Ty, name string) Constant {
	return Constant{Ty: ty, Static: name}
}

// ConstFn returns a function reference constant, consumed by
// call-taking intrinsics such as catch_unwind.
func ConstFn(name string) Constant {
	return Constant{Ty: RawPtrTo(TyUnit), Fn: name}
}
