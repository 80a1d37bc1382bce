// Package interp is the Sable MIR execution engine: an abstract
// machine that steps compiled MIR one statement at a time over a
// byte-precise memory model, detecting undefined behavior as it runs.
package interp

import (
	"fmt"
)

// ErrorKind classifies an execution failure. Every kind except Panic
// is fatal to the run; Panic unwinds and may be caught.
type ErrorKind int

const (
	OutOfBounds ErrorKind = iota
	UseAfterFree
	UninitializedRead
	InvalidValue
	UnalignedAccess
	WriteToImmutable
	ReachedUnreachable
	MissingBody
	UnsupportedOperation
	ArithmeticOverflow
	Panic
	InvalidDealloc
	ProcessAbort
)

func (k ErrorKind) String() string {
	switch k {
	case OutOfBounds:
		return "out-of-bounds access"
	case UseAfterFree:
		return "use after free"
	case UninitializedRead:
		return "read of uninitialized memory"
	case InvalidValue:
		return "invalid value for type"
	case UnalignedAccess:
		return "unaligned access"
	case WriteToImmutable:
		return "write to immutable allocation"
	case ReachedUnreachable:
		return "entered unreachable code"
	case MissingBody:
		return "no MIR body for callee"
	case UnsupportedOperation:
		return "unsupported operation"
	case ArithmeticOverflow:
		return "arithmetic overflow"
	case Panic:
		return "panic"
	case InvalidDealloc:
		return "invalid deallocation"
	case ProcessAbort:
		return "process abort"
	}
	return fmt.Sprintf("error(%d)", int(k))
}

// Fatal reports whether this kind aborts the machine. Panic is the
// one recoverable kind: it unwinds and may be caught.
func (k ErrorKind) Fatal() bool {
	return k != Panic
}

// Location pins a failure to a statement in a body. Stmt equal to the
// statement count means the block's terminator.
type Location struct {
	Fn    string
	Block int
	Stmt  int
}

func (l Location) String() string {
	if l.Fn == "" {
		return "<no frame>"
	}
	return fmt.Sprintf("%s[bb%d:%d]", l.Fn, l.Block, l.Stmt)
}

// Error is the engine's failure diagnostic: the violated invariant,
// where execution stood, and which allocation or pointer was involved.
// It is the primary externally visible product of a UB detection run.
type Error struct {
	Kind    ErrorKind
	Detail  string
	Loc     Location
	Alloc   AllocID // 0 if no allocation is involved
	Pointer *Pointer
}

func (e *Error) Error() string {
	s := e.Kind.String()
	if e.Detail != "" {
		s += ": " + e.Detail
	}
	if e.Pointer != nil {
		s += fmt.Sprintf(" (pointer %v)", *e.Pointer)
	} else if e.Alloc != 0 {
		s += fmt.Sprintf(" (allocation a%d)", e.Alloc)
	}
	if e.Loc.Fn != "" {
		s += " at " + e.Loc.String()
	}
	return s
}

// errf builds an Error without location; the evaluator stamps the
// current location on anything crossing a step boundary.
func errf(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

func (e *Error) withPointer(p Pointer) *Error {
	e.Pointer = &p
	e.Alloc = p.Alloc
	return e
}

func (e *Error) withAlloc(id AllocID) *Error {
	e.Alloc = id
	return e
}

// panicPayload travels with an unwind in progress. It is carried on
// the machine, not thrown through Go panics, so that stepping stays
// resumable from the host's point of view. Kind is Panic for
// language-level panics and ArithmeticOverflow for failed overflow
// checks.
type panicPayload struct {
	Kind ErrorKind
	Msg  string
	Loc  Location
}
