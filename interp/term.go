package interp

import (
	"errors"

	"github.com/sable-lang/sable/mir"
)

// ---------------------------------------------------------------------------
// Terminators
// ---------------------------------------------------------------------------

func (mch *Machine) execTerminator(fr *Frame, term mir.Terminator) *Error {
	switch term.Kind {
	case mir.TermGoto:
		fr.Block = term.Target
		fr.Stmt = 0
		return nil

	case mir.TermSwitchInt:
		if len(term.Values) > len(term.Targets) {
			return errf(InvalidValue, "switch has %d values but %d targets", len(term.Values), len(term.Targets))
		}
		v, err := mch.evalOperand(fr, term.Discr)
		if err != nil {
			return err
		}
		discr := v.Scalar.Uint()
		next := term.Otherwise
		for i, val := range term.Values {
			if discr == val {
				next = term.Targets[i]
				break
			}
		}
		fr.Block = next
		fr.Stmt = 0
		return nil

	case mir.TermCall:
		return mch.execCall(fr, term)

	case mir.TermReturn:
		more, err := mch.popFrame()
		if err != nil {
			return err
		}
		if !more {
			mch.state = Returned
		}
		return nil

	case mir.TermDrop:
		// Dropping deinitializes the place. The language's destructor
		// code, if any, was lowered into explicit calls before this
		// terminator by the compiler.
		mp, err := mch.resolvePlace(fr, term.Place)
		if err != nil {
			return err
		}
		if size := mp.ty.Layout().Size; size > 0 {
			if err := mch.mem.MarkUninit(mp.ptr, size); err != nil {
				return err
			}
		}
		fr.Block = term.Target
		fr.Stmt = 0
		return nil

	case mir.TermAssert:
		v, err := mch.evalOperand(fr, term.Cond)
		if err != nil {
			return err
		}
		if v.Ty.Kind != mir.KindBool {
			return errf(InvalidValue, "assert on non-bool %s", v.Ty)
		}
		if v.Scalar.Bool() == term.Expected {
			fr.Block = term.Target
			fr.Stmt = 0
			return nil
		}
		fr.pendingUnwind = term.Unwind
		kind := Panic
		if term.Overflow {
			kind = ArithmeticOverflow
		}
		mch.startUnwind(kind, term.Msg)
		return nil

	case mir.TermUnreachable:
		return errf(ReachedUnreachable, "%q entered a block the compiler proved unreachable", fr.Body.Name)

	case mir.TermResume:
		if mch.unwind == nil {
			return errf(InvalidValue, "resume outside of unwinding")
		}
		// The frame stays: stepUnwinding decides whether it is a
		// catch boundary or gets discarded.
		mch.state = Unwinding
		return nil

	case mir.TermAbort:
		return errf(ProcessAbort, "abort requested")
	}
	return errf(UnsupportedOperation, "terminator kind %d", term.Kind)
}

// execCall resolves the callee and pushes its frame, or dispatches to
// the intrinsic table for foreign symbols. Resolution order: unit
// bodies, then the sysroot, then intrinsics.
func (mch *Machine) execCall(fr *Frame, term mir.Terminator) *Error {
	args := make([]Value, len(term.Args))
	for i, op := range term.Args {
		v, err := mch.evalOperand(fr, op)
		if err != nil {
			return err
		}
		args[i] = v
	}
	dest, err := mch.resolvePlace(fr, term.Dest)
	if err != nil {
		return err
	}

	// The caller resumes at the call's continuation; a panic in the
	// callee diverts it to the cleanup block instead.
	fr.Block = term.Target
	fr.Stmt = 0
	fr.pendingUnwind = term.Unwind

	if body, ok := mch.unit.Bodies[term.Func]; ok {
		return mch.pushFrame(body, args, dest, true)
	}
	if mch.resolver != nil {
		body, rerr := mch.resolver.Resolve(term.Func)
		if rerr == nil {
			return mch.pushFrame(body, args, dest, true)
		}
		if !errors.Is(rerr, ErrBodyNotFound) {
			return errf(MissingBody, "resolving %q: %v", term.Func, rerr)
		}
	}
	if fn, ok := mch.intrinsics[term.Func]; ok {
		return mch.execIntrinsic(fr, term.Func, fn, args, dest)
	}
	if term.Foreign {
		return errf(UnsupportedOperation, "foreign call to %q is not implemented", term.Func)
	}
	return errf(MissingBody, "no MIR body for %q (is the sysroot configured?)", term.Func)
}

// ErrBodyNotFound is returned by body resolvers for unknown symbols.
var ErrBodyNotFound = errors.New("interp: body not found")
