package interp

import (
	"fmt"
	"math/bits"

	"github.com/sable-lang/sable/mir"
)

// ---------------------------------------------------------------------------
// Intrinsic dispatch
// ---------------------------------------------------------------------------

// intrinsicFn implements one built-in operation. Arguments arrive
// evaluated; the implementation writes its result into dest itself.
type intrinsicFn func(mch *Machine, args []Value, dest memPlace) *Error

// registerIntrinsics installs the fixed dispatch table. An
// unrecognized foreign call never silently no-ops: it aborts with
// UnsupportedOperation naming the symbol, because skipping code is
// exactly how UB in that code would go unnoticed.
func (mch *Machine) registerIntrinsics() {
	mch.intrinsics = map[string]intrinsicFn{
		// Memory
		"sable_alloc":         intrinsicAlloc,
		"sable_dealloc":       intrinsicDealloc,
		"sable_realloc":       intrinsicRealloc,
		"copy_nonoverlapping": intrinsicCopyNonoverlapping,
		"write_bytes":         intrinsicWriteBytes,

		// Integers
		"ctpop":          intrinsicCtpop,
		"ctlz":           intrinsicCtlz,
		"cttz":           intrinsicCttz,
		"bswap":          intrinsicBswap,
		"wrapping_add":   wrappingOp(mir.BinAdd),
		"wrapping_sub":   wrappingOp(mir.BinSub),
		"wrapping_mul":   wrappingOp(mir.BinMul),
		"saturating_add": intrinsicSaturatingAdd,
		"saturating_sub": intrinsicSaturatingSub,
		"exact_div":      intrinsicExactDiv,
		"black_box":      intrinsicBlackBox,

		// Panic machinery
		"panic":        intrinsicPanic,
		"abort":        intrinsicAbort,
		"catch_unwind": intrinsicCatchUnwind,
		"assume":       intrinsicAssume,

		// Introspection
		"size_of_val":      intrinsicSizeOfVal,
		"min_align_of_val": intrinsicMinAlignOfVal,

		// Minimal I/O
		"print_str": intrinsicPrintStr,
		"print_int": intrinsicPrintInt,
	}
}

func (mch *Machine) execIntrinsic(fr *Frame, name string, fn intrinsicFn, args []Value, dest memPlace) *Error {
	if err := fn(mch, args, dest); err != nil {
		if err.Detail == "" {
			err.Detail = name
		} else {
			err.Detail = name + ": " + err.Detail
		}
		return err
	}
	return nil
}

func wantArgs(args []Value, n int) *Error {
	if len(args) != n {
		return errf(InvalidValue, "expected %d arguments, got %d", n, len(args))
	}
	return nil
}

func argPointer(args []Value, i int) (Pointer, *Error) {
	p, ok := args[i].Scalar.Pointer()
	if !ok {
		return Pointer{}, errf(InvalidValue, "argument %d has no provenance", i)
	}
	return p, nil
}

// ---------------------------------------------------------------------------
// Memory intrinsics
// ---------------------------------------------------------------------------

func intrinsicAlloc(mch *Machine, args []Value, dest memPlace) *Error {
	if err := wantArgs(args, 2); err != nil {
		return err
	}
	size, align := args[0].Scalar.Uint(), args[1].Scalar.Uint()
	if align == 0 || align&(align-1) != 0 || align > 4096 {
		return errf(InvalidValue, "alignment %d is not a power of two in 1..4096", align)
	}
	id := mch.mem.Allocate(size, align, AllocHeap)
	return mch.writePlace(dest, ScalarValue(ScalarFromPtr(Pointer{Alloc: id}), dest.ty))
}

func intrinsicDealloc(mch *Machine, args []Value, dest memPlace) *Error {
	if err := wantArgs(args, 3); err != nil {
		return err
	}
	p, err := argPointer(args, 0)
	if err != nil {
		return err
	}
	if p.Offset != 0 {
		return errf(InvalidDealloc, "pointer is %d bytes into its allocation", p.Offset).withPointer(p)
	}
	return mch.mem.Deallocate(p.Alloc, AllocHeap, args[1].Scalar.Uint(), args[2].Scalar.Uint())
}

func intrinsicRealloc(mch *Machine, args []Value, dest memPlace) *Error {
	if err := wantArgs(args, 4); err != nil {
		return err
	}
	p, err := argPointer(args, 0)
	if err != nil {
		return err
	}
	oldSize, align, newSize := args[1].Scalar.Uint(), args[2].Scalar.Uint(), args[3].Scalar.Uint()
	if align == 0 || align&(align-1) != 0 || align > 4096 {
		return errf(InvalidValue, "alignment %d is not a power of two in 1..4096", align)
	}
	id := mch.mem.Allocate(newSize, align, AllocHeap)
	n := oldSize
	if newSize < n {
		n = newSize
	}
	if n > 0 {
		if cerr := mch.mem.CopyRaw(Pointer{Alloc: id}, p, n); cerr != nil {
			return cerr
		}
	}
	if derr := mch.mem.Deallocate(p.Alloc, AllocHeap, oldSize, align); derr != nil {
		return derr
	}
	return mch.writePlace(dest, ScalarValue(ScalarFromPtr(Pointer{Alloc: id}), dest.ty))
}

func intrinsicCopyNonoverlapping(mch *Machine, args []Value, dest memPlace) *Error {
	if err := wantArgs(args, 3); err != nil {
		return err
	}
	src, err := argPointer(args, 0)
	if err != nil {
		return err
	}
	dst, err := argPointer(args, 1)
	if err != nil {
		return err
	}
	// Blind copy: uninitialized bytes and provenance move untouched.
	return mch.mem.CopyRaw(dst, src, args[2].Scalar.Uint())
}

func intrinsicWriteBytes(mch *Machine, args []Value, dest memPlace) *Error {
	if err := wantArgs(args, 3); err != nil {
		return err
	}
	p, err := argPointer(args, 0)
	if err != nil {
		return err
	}
	val := byte(args[1].Scalar.Uint())
	n := args[2].Scalar.Uint()
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = val
	}
	return mch.mem.WriteBytes(p, buf)
}

// ---------------------------------------------------------------------------
// Integer intrinsics
// ---------------------------------------------------------------------------

func intrinsicCtpop(mch *Machine, args []Value, dest memPlace) *Error {
	if err := wantArgs(args, 1); err != nil {
		return err
	}
	s := args[0].Scalar
	out := uint64(bits.OnesCount64(s.Uint()))
	return mch.writePlace(dest, ScalarValue(ScalarFromUint(out, s.Size), args[0].Ty))
}

func intrinsicCtlz(mch *Machine, args []Value, dest memPlace) *Error {
	if err := wantArgs(args, 1); err != nil {
		return err
	}
	s := args[0].Scalar
	lz := bits.LeadingZeros64(s.Uint()) - (64 - 8*int(s.Size))
	return mch.writePlace(dest, ScalarValue(ScalarFromUint(uint64(lz), s.Size), args[0].Ty))
}

func intrinsicCttz(mch *Machine, args []Value, dest memPlace) *Error {
	if err := wantArgs(args, 1); err != nil {
		return err
	}
	s := args[0].Scalar
	tz := bits.TrailingZeros64(s.Uint())
	if width := 8 * int(s.Size); tz > width {
		tz = width
	}
	return mch.writePlace(dest, ScalarValue(ScalarFromUint(uint64(tz), s.Size), args[0].Ty))
}

func intrinsicBswap(mch *Machine, args []Value, dest memPlace) *Error {
	if err := wantArgs(args, 1); err != nil {
		return err
	}
	s := args[0].Scalar
	rev := bits.ReverseBytes64(s.Uint()) >> (64 - 8*uint(s.Size))
	return mch.writePlace(dest, ScalarValue(ScalarFromUint(rev, s.Size), args[0].Ty))
}

// wrappingOp builds an intrinsic applying op with wrapping semantics
// regardless of the checked/unchecked context.
func wrappingOp(op mir.BinOp) intrinsicFn {
	return func(mch *Machine, args []Value, dest memPlace) *Error {
		if err := wantArgs(args, 2); err != nil {
			return err
		}
		v, err := mch.evalBinOp(op, args[0], args[1], false)
		if err != nil {
			return err
		}
		return mch.writePlace(dest, v)
	}
}

func intrinsicSaturatingAdd(mch *Machine, args []Value, dest memPlace) *Error {
	return saturating(mch, args, dest, mir.BinAdd)
}

func intrinsicSaturatingSub(mch *Machine, args []Value, dest memPlace) *Error {
	return saturating(mch, args, dest, mir.BinSub)
}

func saturating(mch *Machine, args []Value, dest memPlace, op mir.BinOp) *Error {
	if err := wantArgs(args, 2); err != nil {
		return err
	}
	ty := args[0].Ty
	v, err := mch.evalBinOp(op, args[0], args[1], true)
	if err != nil {
		return err
	}
	if !v.Second.Bool() {
		return mch.writePlace(dest, ScalarValue(v.Scalar, ty))
	}
	size := v.Scalar.Size
	var sat uint64
	if ty.Signed {
		// Saturate toward the side the operation overflowed to.
		negative := args[0].Scalar.Int() < 0
		if op == mir.BinSub {
			negative = args[0].Scalar.Int() < args[1].Scalar.Int()
		}
		if negative {
			sat = truncate(uint64(minSigned(size)), size)
		} else {
			sat = truncate(uint64(-minSigned(size)-1), size)
		}
	} else {
		if op == mir.BinSub {
			sat = 0
		} else {
			sat = truncate(^uint64(0), size)
		}
	}
	return mch.writePlace(dest, ScalarValue(Scalar{Bits: sat, Size: size}, ty))
}

func intrinsicExactDiv(mch *Machine, args []Value, dest memPlace) *Error {
	if err := wantArgs(args, 2); err != nil {
		return err
	}
	rem, err := mch.evalBinOp(mir.BinRem, args[0], args[1], false)
	if err != nil {
		return err
	}
	if rem.Scalar.Uint() != 0 {
		return errf(InvalidValue, "%d is not exactly divisible by %d",
			args[0].Scalar.Int(), args[1].Scalar.Int())
	}
	v, err := mch.evalBinOp(mir.BinDiv, args[0], args[1], false)
	if err != nil {
		return err
	}
	return mch.writePlace(dest, v)
}

func intrinsicBlackBox(mch *Machine, args []Value, dest memPlace) *Error {
	if err := wantArgs(args, 1); err != nil {
		return err
	}
	return mch.writePlace(dest, args[0])
}

// ---------------------------------------------------------------------------
// Panic machinery
// ---------------------------------------------------------------------------

func intrinsicPanic(mch *Machine, args []Value, dest memPlace) *Error {
	msg := "explicit panic"
	if len(args) == 2 {
		if p, ok := args[0].Scalar.Pointer(); ok {
			if raw, err := mch.mem.ReadBytes(p, args[1].Scalar.Uint()); err == nil {
				msg = string(raw)
			}
		}
	}
	mch.startUnwind(Panic, msg)
	return nil
}

func intrinsicAbort(mch *Machine, args []Value, dest memPlace) *Error {
	return errf(ProcessAbort, "abort requested")
}

func intrinsicAssume(mch *Machine, args []Value, dest memPlace) *Error {
	if err := wantArgs(args, 1); err != nil {
		return err
	}
	if !args[0].Scalar.Bool() {
		return errf(ReachedUnreachable, "assumption does not hold")
	}
	return nil
}

// intrinsicCatchUnwind invokes the referenced zero-argument body and
// writes false to dest if it returns, true if it panicked. The panic
// stops unwinding at this call site; cleanup blocks of the callee's
// frames have already run by then.
func intrinsicCatchUnwind(mch *Machine, args []Value, dest memPlace) *Error {
	if err := wantArgs(args, 1); err != nil {
		return err
	}
	if args[0].Fn == "" {
		return errf(InvalidValue, "argument is not a function reference")
	}
	body, ok := mch.unit.Bodies[args[0].Fn]
	if !ok {
		return errf(MissingBody, "no MIR body for %q", args[0].Fn)
	}
	if err := mch.pushFrame(body, nil, memPlace{}, false); err != nil {
		return err
	}
	fr := mch.topFrame()
	fr.catchUnwind = true
	fr.catchDest = dest
	return nil
}

// ---------------------------------------------------------------------------
// Introspection and I/O
// ---------------------------------------------------------------------------

func intrinsicSizeOfVal(mch *Machine, args []Value, dest memPlace) *Error {
	if err := wantArgs(args, 1); err != nil {
		return err
	}
	if !args[0].Ty.IsPointer() {
		return errf(InvalidValue, "argument is not a pointer")
	}
	size := args[0].Ty.Elem.Layout().Size
	return mch.writePlace(dest, ScalarValue(ScalarFromUint(size, 8), mir.TyU64))
}

func intrinsicMinAlignOfVal(mch *Machine, args []Value, dest memPlace) *Error {
	if err := wantArgs(args, 1); err != nil {
		return err
	}
	if !args[0].Ty.IsPointer() {
		return errf(InvalidValue, "argument is not a pointer")
	}
	align := args[0].Ty.Elem.Layout().Align
	return mch.writePlace(dest, ScalarValue(ScalarFromUint(align, 8), mir.TyU64))
}

func intrinsicPrintStr(mch *Machine, args []Value, dest memPlace) *Error {
	if err := wantArgs(args, 2); err != nil {
		return err
	}
	p, err := argPointer(args, 0)
	if err != nil {
		return err
	}
	// Printing inspects the bytes, so this is a typed read: printing
	// uninitialized memory is UB like any other read of it.
	raw, rerr := mch.mem.ReadBytes(p, args[1].Scalar.Uint())
	if rerr != nil {
		return rerr
	}
	fmt.Fprint(mch.out, string(raw))
	return nil
}

func intrinsicPrintInt(mch *Machine, args []Value, dest memPlace) *Error {
	if err := wantArgs(args, 1); err != nil {
		return err
	}
	if args[0].Ty.Signed {
		fmt.Fprintf(mch.out, "%d", args[0].Scalar.Int())
	} else {
		fmt.Fprintf(mch.out, "%d", args[0].Scalar.Uint())
	}
	return nil
}
