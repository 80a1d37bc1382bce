package interp

import (
	"math"
	"math/bits"

	"github.com/sable-lang/sable/mir"
)

// ---------------------------------------------------------------------------
// Step: one statement or terminator
// ---------------------------------------------------------------------------

// Step executes exactly one statement or terminator (or one unwind
// transition). It is a no-op once the machine has left the
// Running/Unwinding states.
func (mch *Machine) Step() {
	switch mch.state {
	case Running:
		mch.stepRunning()
	case Unwinding:
		mch.stepUnwinding()
	}
}

func (mch *Machine) stepRunning() {
	fr := mch.topFrame()
	if fr == nil {
		mch.state = Returned
		return
	}
	mch.steps++
	if fr.Block < 0 || fr.Block >= len(fr.Body.Blocks) {
		mch.abort(errf(InvalidValue, "%q has no block bb%d", fr.Body.Name, fr.Block))
		return
	}
	block := &fr.Body.Blocks[fr.Block]
	if fr.Stmt < len(block.Statements) {
		stmt := block.Statements[fr.Stmt]
		fr.Stmt++
		if err := mch.execStatement(fr, stmt); err != nil {
			mch.abort(err)
		}
		return
	}
	if err := mch.execTerminator(fr, block.Term); err != nil {
		mch.abort(err)
	}
}

// stepUnwinding advances panic propagation by one frame: enter the
// frame's pending cleanup block, stop at a catch frame, or discard
// the frame and keep going. An empty stack means the panic escaped.
func (mch *Machine) stepUnwinding() {
	fr := mch.topFrame()
	if fr == nil {
		payload := mch.unwind
		mch.unwind = nil
		mch.abort(&Error{Kind: payload.Kind, Detail: payload.Msg, Loc: payload.Loc})
		return
	}

	// Cleanup runs before the frame's catch status applies, so a
	// caught body still executes its own cleanup blocks.
	if fr.pendingUnwind != mir.NoBlock {
		fr.Block = fr.pendingUnwind
		fr.Stmt = 0
		fr.pendingUnwind = mir.NoBlock
		mch.state = Running
		return
	}

	if fr.catchUnwind {
		dest := fr.catchDest
		mch.discardFrame()
		mch.unwind = nil
		mch.state = Running
		if err := mch.writePlace(dest, ScalarValue(ScalarFromBool(true), mir.TyBool)); err != nil {
			mch.abort(err)
		}
		return
	}

	mch.discardFrame()
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

func (mch *Machine) execStatement(fr *Frame, stmt mir.Statement) *Error {
	switch stmt.Kind {
	case mir.StmtAssign:
		return mch.execAssign(fr, stmt.Place, stmt.Rvalue)
	case mir.StmtStorageLive:
		l := int(stmt.Local)
		if l >= len(fr.Locals) {
			return errf(InvalidValue, "StorageLive of unknown local _%d", l)
		}
		if fr.LocalLive[l] {
			mch.mem.Release(fr.Locals[l])
		}
		layout := fr.Body.Locals[l].Ty.Layout()
		fr.Locals[l] = mch.mem.Allocate(layout.Size, layout.Align, AllocStack)
		fr.LocalLive[l] = true
		return nil
	case mir.StmtStorageDead:
		l := int(stmt.Local)
		if l >= len(fr.Locals) {
			return errf(InvalidValue, "StorageDead of unknown local _%d", l)
		}
		if fr.LocalLive[l] {
			mch.mem.Release(fr.Locals[l])
			fr.LocalLive[l] = false
		}
		return nil
	case mir.StmtNop:
		return nil
	}
	return errf(UnsupportedOperation, "statement kind %d", stmt.Kind)
}

func (mch *Machine) execAssign(fr *Frame, place mir.Place, rv mir.Rvalue) *Error {
	dest, err := mch.resolvePlace(fr, place)
	if err != nil {
		return err
	}

	// Aggregates write field-by-field into the destination rather
	// than materializing an intermediate value.
	if rv.Kind == mir.RvAggregate {
		ty := rv.AggTy
		layout := ty.Layout()
		switch ty.Kind {
		case mir.KindTuple, mir.KindStruct:
			if len(rv.Elements) > len(ty.Fields) {
				return errf(InvalidValue, "aggregate has %d elements but %s has %d fields", len(rv.Elements), ty, len(ty.Fields))
			}
		case mir.KindArray:
			if len(rv.Elements) > ty.Len {
				return errf(InvalidValue, "aggregate has %d elements but %s holds %d", len(rv.Elements), ty, ty.Len)
			}
		}
		for i, elem := range rv.Elements {
			v, err := mch.evalOperand(fr, elem)
			if err != nil {
				return err
			}
			var sub memPlace
			switch ty.Kind {
			case mir.KindTuple, mir.KindStruct:
				sub = memPlace{ptr: dest.ptr.WithOffset(layout.FieldOffsets[i]), ty: ty.Fields[i]}
			case mir.KindArray:
				sub = memPlace{ptr: dest.ptr.WithOffset(uint64(i) * ty.Elem.Layout().Size), ty: ty.Elem}
			default:
				return errf(InvalidValue, "aggregate of non-aggregate type %s", ty)
			}
			if err := mch.writePlace(sub, v); err != nil {
				return err
			}
		}
		return nil
	}

	v, err := mch.evalRvalue(fr, rv)
	if err != nil {
		return err
	}
	return mch.writePlace(dest, v)
}

// ---------------------------------------------------------------------------
// Operands and rvalues
// ---------------------------------------------------------------------------

func (mch *Machine) evalOperand(fr *Frame, op mir.Operand) (Value, *Error) {
	switch op.Kind {
	case mir.OpCopy:
		mp, err := mch.resolvePlace(fr, op.Place)
		if err != nil {
			return Value{}, err
		}
		return mch.readPlaceRaw(mp)
	case mir.OpMove:
		mp, err := mch.resolvePlace(fr, op.Place)
		if err != nil {
			return Value{}, err
		}
		v, err := mch.readPlaceRaw(mp)
		if err != nil {
			return Value{}, err
		}
		// Moving out deinitializes the source place.
		if err := mch.mem.MarkUninit(mp.ptr, mp.ty.Layout().Size); err != nil {
			return Value{}, err
		}
		return v, nil
	case mir.OpConst:
		return mch.evalConstant(op.Const)
	}
	return Value{}, errf(UnsupportedOperation, "operand kind %d", op.Kind)
}

func (mch *Machine) evalConstant(c mir.Constant) (Value, *Error) {
	if c.Fn != "" {
		return Value{Kind: ValScalar, Ty: c.Ty, Fn: c.Fn}, nil
	}
	if c.Static != "" {
		id, ok := mch.statics[c.Static]
		if !ok {
			return Value{}, errf(MissingBody, "no static named %q", c.Static)
		}
		return ScalarValue(ScalarFromPtr(Pointer{Alloc: id}), c.Ty), nil
	}
	if c.Ty.IsZeroSized() {
		return ZeroValue(c.Ty), nil
	}
	size := uint8(c.Ty.Layout().Size)
	return ScalarValue(ScalarFromUint(c.Bits, size), c.Ty), nil
}

func (mch *Machine) evalRvalue(fr *Frame, rv mir.Rvalue) (Value, *Error) {
	switch rv.Kind {
	case mir.RvUse:
		return mch.evalOperand(fr, rv.Op)

	case mir.RvBinaryOp, mir.RvCheckedBinaryOp:
		l, err := mch.evalOperand(fr, rv.Op)
		if err != nil {
			return Value{}, err
		}
		r, err := mch.evalOperand(fr, rv.Op2)
		if err != nil {
			return Value{}, err
		}
		return mch.evalBinOp(rv.BinOp, l, r, rv.Kind == mir.RvCheckedBinaryOp)

	case mir.RvUnaryOp:
		v, err := mch.evalOperand(fr, rv.Op)
		if err != nil {
			return Value{}, err
		}
		return mch.evalUnOp(rv.UnOp, v)

	case mir.RvRef, mir.RvAddrOf:
		mp, err := mch.resolvePlace(fr, rv.Place)
		if err != nil {
			return Value{}, err
		}
		ty := mir.PtrTo(mp.ty)
		if rv.Kind == mir.RvAddrOf {
			ty = mir.RawPtrTo(mp.ty)
		}
		return ScalarValue(ScalarFromPtr(mp.ptr), ty), nil

	case mir.RvCast:
		v, err := mch.evalOperand(fr, rv.Op)
		if err != nil {
			return Value{}, err
		}
		return mch.evalCast(rv.Cast, v, rv.CastTy)

	case mir.RvLen:
		mp, err := mch.resolvePlace(fr, rv.Place)
		if err != nil {
			return Value{}, err
		}
		if mp.ty.Kind != mir.KindArray {
			return Value{}, errf(InvalidValue, "len of non-array %s", mp.ty)
		}
		return ScalarValue(ScalarFromUint(uint64(mp.ty.Len), 8), mir.TyU64), nil
	}
	return Value{}, errf(UnsupportedOperation, "rvalue kind %d", rv.Kind)
}

// ---------------------------------------------------------------------------
// Arithmetic
// ---------------------------------------------------------------------------

// evalBinOp applies op with exact two's-complement semantics at the
// operand width. Checked ops return a (result, overflowed) pair.
func (mch *Machine) evalBinOp(op mir.BinOp, l, r Value, checked bool) (Value, *Error) {
	ty := l.Ty
	ls, rs := l.Scalar, r.Scalar

	if op.IsComparison() {
		res, err := compareScalars(op, ty, ls, rs)
		if err != nil {
			return Value{}, err
		}
		return ScalarValue(ScalarFromBool(res), mir.TyBool), nil
	}

	if ty.Kind == mir.KindFloat {
		if checked {
			return Value{}, errf(UnsupportedOperation, "checked float arithmetic")
		}
		return evalFloatBinOp(op, ty, ls, rs)
	}
	if ty.Kind != mir.KindInt && !ty.IsPointer() {
		return Value{}, errf(InvalidValue, "binary %s on %s", op, ty)
	}

	size := ls.Size
	width := 8 * uint(size)
	var bitsOut uint64
	overflow := false

	switch op {
	case mir.BinAdd:
		bitsOut = truncate(ls.Bits+rs.Bits, size)
		if ty.Signed {
			a, b := ls.Int(), rs.Int()
			s := signExtend(bitsOut, size)
			overflow = (b > 0 && s < a) || (b < 0 && s > a)
		} else {
			overflow = bitsOut < truncate(ls.Bits, size)
		}
	case mir.BinSub:
		bitsOut = truncate(ls.Bits-rs.Bits, size)
		if ty.Signed {
			a, b := ls.Int(), rs.Int()
			s := signExtend(bitsOut, size)
			overflow = (b < 0 && s < a) || (b > 0 && s > a)
		} else {
			overflow = truncate(rs.Bits, size) > truncate(ls.Bits, size)
		}
	case mir.BinMul:
		if ty.Signed {
			a, b := ls.Int(), rs.Int()
			prod := a * b // wraps at 64 bits
			bitsOut = truncate(uint64(prod), size)
			if b != 0 {
				if size == 8 {
					overflow = prod/b != a
				} else {
					// At narrower widths the 64-bit product is exact.
					overflow = signExtend(bitsOut, size) != prod
				}
			}
		} else {
			a, b := ls.Uint(), rs.Uint()
			hi, lo := bits.Mul64(a, b)
			bitsOut = truncate(lo, size)
			overflow = hi != 0 || truncate(lo, size) != lo
		}
	case mir.BinDiv, mir.BinRem:
		if truncate(rs.Bits, size) == 0 {
			return Value{}, errf(InvalidValue, "division by zero")
		}
		if ty.Signed {
			a, b := ls.Int(), rs.Int()
			if b == -1 && a == minSigned(size) {
				// MIN / -1 overflows; the wrapped result is MIN.
				if op == mir.BinDiv {
					bitsOut = truncate(uint64(a), size)
				} else {
					bitsOut = 0
				}
				overflow = true
			} else if op == mir.BinDiv {
				bitsOut = truncate(uint64(a/b), size)
			} else {
				bitsOut = truncate(uint64(a%b), size)
			}
		} else {
			if op == mir.BinDiv {
				bitsOut = ls.Uint() / rs.Uint()
			} else {
				bitsOut = ls.Uint() % rs.Uint()
			}
		}
	case mir.BinBitAnd:
		bitsOut = truncate(ls.Bits&rs.Bits, size)
	case mir.BinBitOr:
		bitsOut = truncate(ls.Bits|rs.Bits, size)
	case mir.BinBitXor:
		bitsOut = truncate(ls.Bits^rs.Bits, size)
	case mir.BinShl:
		sh := rs.Uint()
		overflow = sh >= uint64(width)
		bitsOut = truncate(ls.Bits<<(sh%uint64(width)), size)
	case mir.BinShr:
		sh := rs.Uint()
		overflow = sh >= uint64(width)
		shv := sh % uint64(width)
		if ty.Signed {
			bitsOut = truncate(uint64(ls.Int()>>shv), size)
		} else {
			bitsOut = ls.Uint() >> shv
		}
	default:
		return Value{}, errf(UnsupportedOperation, "binary operator %s", op)
	}

	result := Scalar{Bits: bitsOut, Size: size}
	if ty.IsPointer() {
		// Pointer arithmetic keeps the left operand's provenance.
		if p, ok := ls.Pointer(); ok {
			result.Prov = &Pointer{Alloc: p.Alloc, Offset: bitsOut}
		}
	}
	if checked {
		return PairValue(result, overflow, mir.TupleOf(ty, mir.TyBool)), nil
	}
	return ScalarValue(result, ty), nil
}

func compareScalars(op mir.BinOp, ty *mir.Ty, l, r Scalar) (bool, *Error) {
	var cmp int
	switch {
	case ty.Kind == mir.KindFloat:
		a, b := l.Float64(), r.Float64()
		if math.IsNaN(a) || math.IsNaN(b) {
			// NaN compares unequal and unordered.
			switch op {
			case mir.BinNe:
				return true, nil
			default:
				return false, nil
			}
		}
		switch {
		case a < b:
			cmp = -1
		case a > b:
			cmp = 1
		}
	case ty.Kind == mir.KindInt && ty.Signed:
		a, b := l.Int(), r.Int()
		switch {
		case a < b:
			cmp = -1
		case a > b:
			cmp = 1
		}
	case ty.IsPointer():
		// Provenance participates in pointer identity: pointers into
		// different allocations are never equal even when their
		// offsets coincide, and a real pointer is never equal to a
		// provenance-free address such as null. Order is (allocation,
		// offset), with no provenance sorting as allocation 0.
		var la, ra uint64
		if p, ok := l.Pointer(); ok {
			la = uint64(p.Alloc)
		}
		if p, ok := r.Pointer(); ok {
			ra = uint64(p.Alloc)
		}
		switch {
		case la < ra:
			cmp = -1
		case la > ra:
			cmp = 1
		case l.Uint() < r.Uint():
			cmp = -1
		case l.Uint() > r.Uint():
			cmp = 1
		}
	default:
		a, b := l.Uint(), r.Uint()
		switch {
		case a < b:
			cmp = -1
		case a > b:
			cmp = 1
		}
	}
	switch op {
	case mir.BinEq:
		return cmp == 0, nil
	case mir.BinNe:
		return cmp != 0, nil
	case mir.BinLt:
		return cmp < 0, nil
	case mir.BinLe:
		return cmp <= 0, nil
	case mir.BinGt:
		return cmp > 0, nil
	case mir.BinGe:
		return cmp >= 0, nil
	}
	return false, errf(UnsupportedOperation, "comparison %s", op)
}

func evalFloatBinOp(op mir.BinOp, ty *mir.Ty, l, r Scalar) (Value, *Error) {
	a, b := l.Float64(), r.Float64()
	var out float64
	switch op {
	case mir.BinAdd:
		out = a + b
	case mir.BinSub:
		out = a - b
	case mir.BinMul:
		out = a * b
	case mir.BinDiv:
		out = a / b
	case mir.BinRem:
		out = math.Mod(a, b)
	default:
		return Value{}, errf(UnsupportedOperation, "float operator %s", op)
	}
	return ScalarValue(floatScalar(out, ty), ty), nil
}

func floatScalar(f float64, ty *mir.Ty) Scalar {
	if ty.Bits == 32 {
		return Scalar{Bits: uint64(math.Float32bits(float32(f))), Size: 4}
	}
	return Scalar{Bits: math.Float64bits(f), Size: 8}
}

func (mch *Machine) evalUnOp(op mir.UnOp, v Value) (Value, *Error) {
	s := v.Scalar
	switch op {
	case mir.UnNeg:
		switch v.Ty.Kind {
		case mir.KindInt:
			return ScalarValue(ScalarFromUint(-s.Bits, s.Size), v.Ty), nil
		case mir.KindFloat:
			return ScalarValue(floatScalar(-s.Float64(), v.Ty), v.Ty), nil
		}
		return Value{}, errf(InvalidValue, "negation of %s", v.Ty)
	case mir.UnNot:
		switch v.Ty.Kind {
		case mir.KindBool:
			return ScalarValue(ScalarFromBool(!s.Bool()), v.Ty), nil
		case mir.KindInt:
			return ScalarValue(ScalarFromUint(^s.Bits, s.Size), v.Ty), nil
		}
		return Value{}, errf(InvalidValue, "not of %s", v.Ty)
	}
	return Value{}, errf(UnsupportedOperation, "unary operator %d", op)
}

func minSigned(size uint8) int64 {
	return -1 << (8*uint(size) - 1)
}

func (mch *Machine) evalCast(kind mir.CastKind, v Value, to *mir.Ty) (Value, *Error) {
	s := v.Scalar
	size := uint8(to.Layout().Size)
	switch kind {
	case mir.CastIntToInt:
		if v.Ty.Kind == mir.KindInt && v.Ty.Signed {
			return ScalarValue(ScalarFromUint(uint64(s.Int()), size), to), nil
		}
		return ScalarValue(ScalarFromUint(s.Uint(), size), to), nil
	case mir.CastIntToFloat:
		var f float64
		if v.Ty.Signed {
			f = float64(s.Int())
		} else {
			f = float64(s.Uint())
		}
		return ScalarValue(floatScalar(f, to), to), nil
	case mir.CastFloatToFloat:
		return ScalarValue(floatScalar(s.Float64(), to), to), nil
	case mir.CastFloatToInt:
		return ScalarValue(saturatingFloatToInt(s.Float64(), to), to), nil
	case mir.CastPtrToPtr:
		// Provenance rides along unchanged.
		out := s
		return ScalarValue(out, to), nil
	case mir.CastPtrToAddr:
		// Exposing the address strips provenance: the result is a
		// plain integer and cannot be dereferenced.
		return ScalarValue(ScalarFromUint(s.Bits, size), to), nil
	}
	return Value{}, errf(UnsupportedOperation, "cast kind %d", kind)
}

// saturatingFloatToInt converts with saturation at the integer range
// bounds; NaN converts to zero.
func saturatingFloatToInt(f float64, to *mir.Ty) Scalar {
	size := uint8(to.Layout().Size)
	if math.IsNaN(f) {
		return Scalar{Size: size}
	}
	if to.Signed {
		min := float64(minSigned(size))
		max := -min - 1
		switch {
		case f < min:
			return ScalarFromUint(uint64(minSigned(size)), size)
		case f > max:
			return ScalarFromUint(uint64(int64(max)), size)
		}
		return ScalarFromUint(uint64(int64(f)), size)
	}
	maxU := truncate(^uint64(0), size)
	switch {
	case f < 0:
		return Scalar{Size: size}
	case f > float64(maxU):
		return ScalarFromUint(maxU, size)
	}
	return ScalarFromUint(uint64(f), size)
}
