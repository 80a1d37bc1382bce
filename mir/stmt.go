package mir

import "fmt"

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

// StmtKind discriminates statement variants.
type StmtKind int

const (
	StmtAssign StmtKind = iota
	StmtStorageLive
	StmtStorageDead
	StmtNop
)

// Statement is one non-terminating instruction within a block.
type Statement struct {
	Kind   StmtKind `cbor:"1,keyasint"`
	Place  Place    `cbor:"2,keyasint"`           // Assign destination
	Rvalue Rvalue   `cbor:"3,keyasint"`           // Assign source
	Local  Local    `cbor:"4,keyasint,omitempty"` // StorageLive/StorageDead subject
}

// Assign builds a place = rvalue statement.
func Assign(p Place, rv Rvalue) Statement {
	return Statement{Kind: StmtAssign, Place: p, Rvalue: rv}
}

// StorageLive marks a local's storage as live.
func StorageLive(l Local) Statement {
	return Statement{Kind: StmtStorageLive, Local: l}
}

// StorageDead releases a local's storage.
func StorageDead(l Local) Statement {
	return Statement{Kind: StmtStorageDead, Local: l}
}

// ---------------------------------------------------------------------------
// Rvalues
// ---------------------------------------------------------------------------

// RvalueKind discriminates rvalue variants.
type RvalueKind int

const (
	RvUse RvalueKind = iota
	RvBinaryOp
	RvCheckedBinaryOp
	RvUnaryOp
	RvRef
	RvAddrOf
	RvCast
	RvAggregate
	RvLen
)

// BinOp is a binary operator. Unchecked integer ops wrap in two's
// complement at the operand width; the checked statement form yields a
// (result, overflowed) pair instead.
type BinOp int

const (
	BinAdd BinOp = iota
	BinSub
	BinMul
	BinDiv
	BinRem
	BinBitAnd
	BinBitOr
	BinBitXor
	BinShl
	BinShr
	BinEq
	BinNe
	BinLt
	BinLe
	BinGt
	BinGe
)

func (op BinOp) String() string {
	names := [...]string{"+", "-", "*", "/", "%", "&", "|", "^", "<<", ">>", "==", "!=", "<", "<=", ">", ">="}
	if int(op) < len(names) {
		return names[op]
	}
	return "?"
}

// IsComparison reports whether the operator yields bool.
func (op BinOp) IsComparison() bool {
	return op >= BinEq
}

// UnOp is a unary operator.
type UnOp int

const (
	UnNeg UnOp = iota // arithmetic negation, wrapping
	UnNot             // logical not on bool, bitwise not on ints
)

// CastKind discriminates cast flavors.
type CastKind int

const (
	CastIntToInt CastKind = iota // truncate / sign- or zero-extend
	CastIntToFloat
	CastFloatToInt // saturating
	CastFloatToFloat
	CastPtrToPtr  // retains provenance
	CastPtrToAddr // exposes the address as an integer
)

// Rvalue computes a value to store into a place.
type Rvalue struct {
	Kind     RvalueKind `cbor:"1,keyasint"`
	Op       Operand    `cbor:"2,keyasint"`             // Use, UnaryOp, Cast operand; BinaryOp left
	Op2      Operand    `cbor:"3,keyasint"`             // BinaryOp right
	BinOp    BinOp      `cbor:"4,keyasint,omitempty"`
	UnOp     UnOp       `cbor:"5,keyasint,omitempty"`
	Cast     CastKind   `cbor:"6,keyasint,omitempty"`
	CastTy   *Ty        `cbor:"7,keyasint,omitempty"`   // Cast target type
	Place    Place      `cbor:"8,keyasint"`             // Ref/AddrOf/Len subject
	AggTy    *Ty        `cbor:"9,keyasint,omitempty"`   // Aggregate result type
	Elements []Operand  `cbor:"10,keyasint,omitempty"`  // Aggregate fields
}

// Use copies an operand unchanged.
func Use(op Operand) Rvalue { return Rvalue{Kind: RvUse, Op: op} }

// BinaryOp applies op with wrapping semantics.
func BinaryOp(op BinOp, l, r Operand) Rvalue {
	return Rvalue{Kind: RvBinaryOp, BinOp: op, Op: l, Op2: r}
}

// CheckedBinaryOp applies op yielding a (result, overflowed) pair.
func CheckedBinaryOp(op BinOp, l, r Operand) Rvalue {
	return Rvalue{Kind: RvCheckedBinaryOp, BinOp: op, Op: l, Op2: r}
}

// UnaryOp applies a unary operator.
func UnaryOp(op UnOp, v Operand) Rvalue {
	return Rvalue{Kind: RvUnaryOp, UnOp: op, Op: v}
}

// Ref takes a reference to a place.
func Ref(p Place) Rvalue { return Rvalue{Kind: RvRef, Place: p} }

// AddrOf takes a raw pointer to a place.
func AddrOf(p Place) Rvalue { return Rvalue{Kind: RvAddrOf, Place: p} }

// Cast converts an operand to another type.
func Cast(kind CastKind, op Operand, ty *Ty) Rvalue {
	return Rvalue{Kind: RvCast, Cast: kind, Op: op, CastTy: ty}
}

// Aggregate builds a tuple/struct/array value from element operands.
func Aggregate(ty *Ty, elems ...Operand) Rvalue {
	return Rvalue{Kind: RvAggregate, AggTy: ty, Elements: elems}
}

// Len reads the statically known length of an array place.
func Len(p Place) Rvalue { return Rvalue{Kind: RvLen, Place: p} }

// ---------------------------------------------------------------------------
// Terminators
// ---------------------------------------------------------------------------

// TermKind discriminates terminator variants.
type TermKind int

const (
	TermGoto TermKind = iota
	TermSwitchInt
	TermCall
	TermReturn
	TermDrop
	TermAssert
	TermUnreachable
	TermResume
	TermAbort
)

// NoBlock marks an absent block target (e.g. no unwind path).
const NoBlock = -1

// Terminator ends a basic block and picks the successor.
type Terminator struct {
	Kind TermKind `cbor:"1,keyasint"`

	Target int `cbor:"2,keyasint,omitempty"` // Goto/Call/Drop/Assert continuation
	Unwind int `cbor:"3,keyasint,omitempty"` // Call/Drop/Assert cleanup target, NoBlock if none

	// SwitchInt
	Discr     Operand  `cbor:"4,keyasint"`
	Values    []uint64 `cbor:"5,keyasint,omitempty"`
	Targets   []int    `cbor:"6,keyasint,omitempty"`
	Otherwise int      `cbor:"7,keyasint,omitempty"`

	// Call
	Func    string    `cbor:"8,keyasint,omitempty"`
	Args    []Operand `cbor:"9,keyasint,omitempty"`
	Dest    Place     `cbor:"10,keyasint"`
	Foreign bool      `cbor:"11,keyasint,omitempty"` // callee is an extern symbol, not crate MIR

	// Drop
	Place Place `cbor:"12,keyasint"`

	// Assert
	Cond     Operand `cbor:"13,keyasint"`
	Expected bool    `cbor:"14,keyasint,omitempty"`
	Msg      string  `cbor:"15,keyasint,omitempty"`
	Overflow bool    `cbor:"16,keyasint,omitempty"` // assert guards a checked arithmetic operation
}

// Goto unconditionally continues at block b.
func Goto(b int) Terminator { return Terminator{Kind: TermGoto, Target: b} }

// SwitchInt branches on an integer discriminant.
func SwitchInt(discr Operand, values []uint64, targets []int, otherwise int) Terminator {
	return Terminator{Kind: TermSwitchInt, Discr: discr, Values: values, Targets: targets, Otherwise: otherwise}
}

// Call invokes fn with args, storing the result into dest and
// continuing at target. unwind is the cleanup block, NoBlock if none.
func Call(fn string, args []Operand, dest Place, target, unwind int) Terminator {
	return Terminator{Kind: TermCall, Func: fn, Args: args, Dest: dest, Target: target, Unwind: unwind}
}

// CallForeign invokes an extern symbol: an intrinsic or a foreign
// function the unit carries no MIR for.
func CallForeign(fn string, args []Operand, dest Place, target, unwind int) Terminator {
	t := Call(fn, args, dest, target, unwind)
	t.Foreign = true
	return t
}

// Return pops the current frame.
func Return() Terminator { return Terminator{Kind: TermReturn} }

// Drop runs the place's destructor semantics and continues at target.
func Drop(p Place, target, unwind int) Terminator {
	return Terminator{Kind: TermDrop, Place: p, Target: target, Unwind: unwind}
}

// Assert checks a boolean condition, unwinding with msg on failure.
func Assert(cond Operand, expected bool, msg string, target, unwind int) Terminator {
	return Terminator{Kind: TermAssert, Cond: cond, Expected: expected, Msg: msg, Target: target, Unwind: unwind}
}

// AssertOverflow is an Assert guarding the overflow flag of a checked
// arithmetic operation.
func AssertOverflow(cond Operand, op BinOp, target, unwind int) Terminator {
	t := Assert(cond, false, fmt.Sprintf("attempt to compute %s with overflow", op), target, unwind)
	t.Overflow = true
	return t
}

// Unreachable marks a block the compiler proved cannot execute.
func Unreachable() Terminator { return Terminator{Kind: TermUnreachable} }

// Resume continues unwinding from a cleanup block.
func Resume() Terminator { return Terminator{Kind: TermResume} }

// Abort terminates the process without unwinding.
func Abort() Terminator { return Terminator{Kind: TermAbort} }
