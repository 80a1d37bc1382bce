package interp

import (
	"bytes"
	"context"
	"math"
	"strings"
	"testing"

	"github.com/sable-lang/sable/mir"
)

// runUnit builds a machine for the unit and runs it to rest.
func runUnit(t *testing.T, u *mir.Unit, opts Options) *Machine {
	t.Helper()
	mch, err := NewMachine(u, opts)
	if err != nil {
		t.Fatalf("NewMachine: %v", err)
	}
	mch.Run(context.Background())
	return mch
}

func wantAbort(t *testing.T, mch *Machine, kind ErrorKind) *Error {
	t.Helper()
	if mch.State() != Aborted {
		t.Fatalf("state = %v, want aborted", mch.State())
	}
	err := mch.Err()
	if err == nil || err.Kind != kind {
		t.Fatalf("abort = %v, want kind %v", err, kind)
	}
	return err
}

func wantResult(t *testing.T, mch *Machine, v int64) {
	t.Helper()
	if mch.State() != Returned {
		t.Fatalf("state = %v (err %v), want returned", mch.State(), mch.Err())
	}
	got, ok := mch.Result()
	if !ok {
		t.Fatal("no result")
	}
	if got.Scalar.Int() != v {
		t.Errorf("result = %d, want %d", got.Scalar.Int(), v)
	}
}

// ---------------------------------------------------------------------------
// Basic execution
// ---------------------------------------------------------------------------

// The smallest interesting program: store 1 into the return slot.
func TestStoreOneAndReturn(t *testing.T) {
	b := mir.NewBodyBuilder("main", mir.TyI32)
	b.NewBlock()
	b.Assign(mir.PlaceOf(mir.ReturnLocal), mir.Use(mir.ConstOp(mir.ConstInt(mir.TyI32, 1))))
	b.Terminate(mir.Return())

	mch := runUnit(t, mir.NewUnit("main", b.Build()), Options{})
	wantResult(t, mch, 1)
}

func TestGotoChain(t *testing.T) {
	b := mir.NewBodyBuilder("main", mir.TyI32)
	bb0 := b.NewBlock()
	bb1 := b.NewBlock()
	bb2 := b.NewBlock()

	b.SelectBlock(bb0)
	b.Terminate(mir.Goto(bb2))
	b.SelectBlock(bb2)
	b.Assign(mir.PlaceOf(mir.ReturnLocal), mir.Use(mir.ConstOp(mir.ConstInt(mir.TyI32, 7))))
	b.Terminate(mir.Goto(bb1))
	b.SelectBlock(bb1)
	b.Terminate(mir.Return())

	wantResult(t, runUnit(t, mir.NewUnit("main", b.Build()), Options{}), 7)
}

func TestSwitchInt(t *testing.T) {
	for _, tc := range []struct {
		discr int64
		want  int64
	}{
		{0, 100},
		{1, 200},
		{5, 300}, // otherwise
	} {
		b := mir.NewBodyBuilder("main", mir.TyI64)
		d := b.NewLocal(mir.TyI64)
		bb0 := b.NewBlock()
		zero := b.NewBlock()
		one := b.NewBlock()
		other := b.NewBlock()

		b.SelectBlock(bb0)
		b.Assign(mir.PlaceOf(d), mir.Use(mir.ConstOp(mir.ConstInt(mir.TyI64, tc.discr))))
		b.Terminate(mir.SwitchInt(mir.Copy(mir.PlaceOf(d)), []uint64{0, 1}, []int{zero, one}, other))

		for blk, v := range map[int]int64{zero: 100, one: 200, other: 300} {
			b.SelectBlock(blk)
			b.Assign(mir.PlaceOf(mir.ReturnLocal), mir.Use(mir.ConstOp(mir.ConstInt(mir.TyI64, v))))
			b.Terminate(mir.Return())
		}

		wantResult(t, runUnit(t, mir.NewUnit("main", b.Build()), Options{}), tc.want)
	}
}

// Decoded units are untrusted input: a switch carrying more values
// than targets must abort with a diagnostic, not crash the host.
func TestSwitchWithMissingTargetsAborts(t *testing.T) {
	b := mir.NewBodyBuilder("main", mir.TyI64)
	bb0 := b.NewBlock()
	bb1 := b.NewBlock()

	b.SelectBlock(bb0)
	b.Terminate(mir.SwitchInt(mir.ConstOp(mir.ConstInt(mir.TyI64, 1)),
		[]uint64{0, 1}, []int{bb1}, bb1))

	b.SelectBlock(bb1)
	b.Assign(mir.PlaceOf(mir.ReturnLocal), mir.Use(mir.ConstOp(mir.ConstInt(mir.TyI64, 0))))
	b.Terminate(mir.Return())

	wantAbort(t, runUnit(t, mir.NewUnit("main", b.Build()), Options{}), InvalidValue)
}

// An aggregate with more elements than its type has fields is equally
// hostile and gets the same treatment.
func TestOversizedAggregateAborts(t *testing.T) {
	pairTy := mir.TupleOf(mir.TyI32, mir.TyI32)

	b := mir.NewBodyBuilder("main", mir.TyI32)
	pair := b.NewLocal(pairTy)
	b.NewBlock()
	b.Assign(mir.PlaceOf(pair), mir.Aggregate(pairTy,
		mir.ConstOp(mir.ConstInt(mir.TyI32, 1)),
		mir.ConstOp(mir.ConstInt(mir.TyI32, 2)),
		mir.ConstOp(mir.ConstInt(mir.TyI32, 3))))
	b.Assign(mir.PlaceOf(mir.ReturnLocal), mir.Use(mir.Copy(mir.PlaceOf(pair).Field(0))))
	b.Terminate(mir.Return())

	wantAbort(t, runUnit(t, mir.NewUnit("main", b.Build()), Options{}), InvalidValue)

	arrTy := mir.ArrayOf(mir.TyU8, 2)
	a := mir.NewBodyBuilder("main", mir.TyU8)
	arr := a.NewLocal(arrTy)
	a.NewBlock()
	a.Assign(mir.PlaceOf(arr), mir.Aggregate(arrTy,
		mir.ConstOp(mir.ConstInt(mir.TyU8, 1)),
		mir.ConstOp(mir.ConstInt(mir.TyU8, 2)),
		mir.ConstOp(mir.ConstInt(mir.TyU8, 3))))
	a.Assign(mir.PlaceOf(mir.ReturnLocal), mir.Use(mir.Copy(mir.PlaceOf(arr).ConstIndex(0))))
	a.Terminate(mir.Return())

	wantAbort(t, runUnit(t, mir.NewUnit("main", a.Build()), Options{}), InvalidValue)
}

// ---------------------------------------------------------------------------
// Calls
// ---------------------------------------------------------------------------

func TestCallAndReturnValue(t *testing.T) {
	// double(x) = x * 2
	d := mir.NewBodyBuilder("double", mir.TyI64, mir.TyI64)
	d.NewBlock()
	d.Assign(mir.PlaceOf(mir.ReturnLocal),
		mir.BinaryOp(mir.BinMul, mir.Copy(mir.PlaceOf(1)), mir.ConstOp(mir.ConstInt(mir.TyI64, 2))))
	d.Terminate(mir.Return())

	b := mir.NewBodyBuilder("main", mir.TyI64)
	bb0 := b.NewBlock()
	bb1 := b.NewBlock()
	b.SelectBlock(bb0)
	b.Terminate(mir.Call("double", []mir.Operand{mir.ConstOp(mir.ConstInt(mir.TyI64, 21))},
		mir.PlaceOf(mir.ReturnLocal), bb1, mir.NoBlock))
	b.SelectBlock(bb1)
	b.Terminate(mir.Return())

	wantResult(t, runUnit(t, mir.NewUnit("main", b.Build(), d.Build()), Options{}), 42)
}

// Deep recursion exercises frame push/pop linkage.
func TestRecursiveCall(t *testing.T) {
	// sum(n) = n == 0 ? 0 : n + sum(n-1)
	s := mir.NewBodyBuilder("sum", mir.TyI64, mir.TyI64)
	n := mir.Local(1)
	rec := s.NewLocal(mir.TyI64)
	arg := s.NewLocal(mir.TyI64)

	bb0 := s.NewBlock()
	base := s.NewBlock()
	step := s.NewBlock()
	after := s.NewBlock()

	s.SelectBlock(bb0)
	s.Terminate(mir.SwitchInt(mir.Copy(mir.PlaceOf(n)), []uint64{0}, []int{base}, step))

	s.SelectBlock(base)
	s.Assign(mir.PlaceOf(mir.ReturnLocal), mir.Use(mir.ConstOp(mir.ConstInt(mir.TyI64, 0))))
	s.Terminate(mir.Return())

	s.SelectBlock(step)
	s.Assign(mir.PlaceOf(arg),
		mir.BinaryOp(mir.BinSub, mir.Copy(mir.PlaceOf(n)), mir.ConstOp(mir.ConstInt(mir.TyI64, 1))))
	s.Terminate(mir.Call("sum", []mir.Operand{mir.Copy(mir.PlaceOf(arg))}, mir.PlaceOf(rec), after, mir.NoBlock))

	s.SelectBlock(after)
	s.Assign(mir.PlaceOf(mir.ReturnLocal),
		mir.BinaryOp(mir.BinAdd, mir.Copy(mir.PlaceOf(n)), mir.Copy(mir.PlaceOf(rec))))
	s.Terminate(mir.Return())

	b := mir.NewBodyBuilder("main", mir.TyI64)
	bb0 = b.NewBlock()
	bb1 := b.NewBlock()
	b.SelectBlock(bb0)
	b.Terminate(mir.Call("sum", []mir.Operand{mir.ConstOp(mir.ConstInt(mir.TyI64, 100))},
		mir.PlaceOf(mir.ReturnLocal), bb1, mir.NoBlock))
	b.SelectBlock(bb1)
	b.Terminate(mir.Return())

	wantResult(t, runUnit(t, mir.NewUnit("main", b.Build(), s.Build()), Options{}), 5050)
}

func TestMissingBody(t *testing.T) {
	b := mir.NewBodyBuilder("main", mir.TyI32)
	bb0 := b.NewBlock()
	bb1 := b.NewBlock()
	b.SelectBlock(bb0)
	b.Terminate(mir.Call("helper", nil, mir.PlaceOf(mir.ReturnLocal), bb1, mir.NoBlock))
	b.SelectBlock(bb1)
	b.Terminate(mir.Return())

	mch := runUnit(t, mir.NewUnit("main", b.Build()), Options{})
	err := wantAbort(t, mch, MissingBody)
	if !strings.Contains(err.Error(), "helper") {
		t.Errorf("diagnostic %q does not name the callee", err.Error())
	}
}

func TestUnsupportedForeignCall(t *testing.T) {
	b := mir.NewBodyBuilder("main", mir.TyI32)
	u := b.NewLocal(mir.TyUnit)
	bb0 := b.NewBlock()
	bb1 := b.NewBlock()
	b.SelectBlock(bb0)
	b.Terminate(mir.CallForeign("mystery_ffi", nil, mir.PlaceOf(u), bb1, mir.NoBlock))
	b.SelectBlock(bb1)
	b.Terminate(mir.Return())

	mch := runUnit(t, mir.NewUnit("main", b.Build()), Options{})
	err := wantAbort(t, mch, UnsupportedOperation)
	if !strings.Contains(err.Error(), "mystery_ffi") {
		t.Errorf("diagnostic %q does not name the call", err.Error())
	}
}

func TestUnreachable(t *testing.T) {
	b := mir.NewBodyBuilder("main", mir.TyI32)
	b.NewBlock()
	b.Terminate(mir.Unreachable())

	wantAbort(t, runUnit(t, mir.NewUnit("main", b.Build()), Options{}), ReachedUnreachable)
}

// ---------------------------------------------------------------------------
// Checked arithmetic and unwinding
// ---------------------------------------------------------------------------

// Checked overflow must unwind as a panic, not abort on the spot.
func TestCheckedAddOverflowUnwinds(t *testing.T) {
	b := mir.NewBodyBuilder("main", mir.TyI32)
	pair := b.NewLocal(mir.TupleOf(mir.TyI32, mir.TyBool))
	bb0 := b.NewBlock()
	bb1 := b.NewBlock()

	b.SelectBlock(bb0)
	b.Assign(mir.PlaceOf(pair), mir.CheckedBinaryOp(mir.BinAdd,
		mir.ConstOp(mir.ConstInt(mir.TyI32, math.MaxInt32)),
		mir.ConstOp(mir.ConstInt(mir.TyI32, 1))))
	b.Terminate(mir.AssertOverflow(mir.Copy(mir.PlaceOf(pair).Field(1)), mir.BinAdd, bb1, mir.NoBlock))

	b.SelectBlock(bb1)
	b.Assign(mir.PlaceOf(mir.ReturnLocal), mir.Use(mir.Copy(mir.PlaceOf(pair).Field(0))))
	b.Terminate(mir.Return())

	mch, err := NewMachine(mir.NewUnit("main", b.Build()), Options{})
	if err != nil {
		t.Fatalf("NewMachine: %v", err)
	}

	// The failed assert must pass through Unwinding before anything else.
	sawUnwinding := false
	for mch.State() == Running || mch.State() == Unwinding {
		mch.Step()
		if mch.State() == Unwinding {
			sawUnwinding = true
		}
	}
	if !sawUnwinding {
		t.Error("overflow never transitioned to unwinding")
	}
	wantAbort(t, mch, ArithmeticOverflow)
}

// The same checked add without overflow delivers the wrapped result.
func TestCheckedAddNoOverflow(t *testing.T) {
	b := mir.NewBodyBuilder("main", mir.TyI32)
	pair := b.NewLocal(mir.TupleOf(mir.TyI32, mir.TyBool))
	bb0 := b.NewBlock()
	bb1 := b.NewBlock()

	b.SelectBlock(bb0)
	b.Assign(mir.PlaceOf(pair), mir.CheckedBinaryOp(mir.BinAdd,
		mir.ConstOp(mir.ConstInt(mir.TyI32, 40)),
		mir.ConstOp(mir.ConstInt(mir.TyI32, 2))))
	b.Terminate(mir.AssertOverflow(mir.Copy(mir.PlaceOf(pair).Field(1)), mir.BinAdd, bb1, mir.NoBlock))

	b.SelectBlock(bb1)
	b.Assign(mir.PlaceOf(mir.ReturnLocal), mir.Use(mir.Copy(mir.PlaceOf(pair).Field(0))))
	b.Terminate(mir.Return())

	wantResult(t, runUnit(t, mir.NewUnit("main", b.Build()), Options{}), 42)
}

// Unchecked arithmetic wraps in two's complement, silently.
func TestUncheckedWraparound(t *testing.T) {
	b := mir.NewBodyBuilder("main", mir.TyU8)
	b.NewBlock()
	b.Assign(mir.PlaceOf(mir.ReturnLocal), mir.BinaryOp(mir.BinAdd,
		mir.ConstOp(mir.ConstInt(mir.TyU8, 255)),
		mir.ConstOp(mir.ConstInt(mir.TyU8, 3))))
	b.Terminate(mir.Return())

	mch := runUnit(t, mir.NewUnit("main", b.Build()), Options{})
	if mch.State() != Returned {
		t.Fatalf("state = %v, err %v", mch.State(), mch.Err())
	}
	got, _ := mch.Result()
	if got.Scalar.Uint() != 2 {
		t.Errorf("255 + 3 = %d, want 2", got.Scalar.Uint())
	}
}

// ---------------------------------------------------------------------------
// catch_unwind, cleanup blocks, statics
// ---------------------------------------------------------------------------

func TestCatchUnwind(t *testing.T) {
	boom := mir.NewBodyBuilder("boom", mir.TyUnit)
	bu := boom.NewLocal(mir.TyUnit)
	bb0 := boom.NewBlock()
	bb1 := boom.NewBlock()
	boom.SelectBlock(bb0)
	boom.Terminate(mir.CallForeign("panic", nil, mir.PlaceOf(bu), bb1, mir.NoBlock))
	boom.SelectBlock(bb1)
	boom.Terminate(mir.Return())

	b := mir.NewBodyBuilder("main", mir.TyI32)
	caught := b.NewLocal(mir.TyBool)
	m0 := b.NewBlock()
	m1 := b.NewBlock()
	yes := b.NewBlock()
	no := b.NewBlock()

	b.SelectBlock(m0)
	b.Terminate(mir.CallForeign("catch_unwind",
		[]mir.Operand{mir.ConstOp(mir.ConstFn("boom"))}, mir.PlaceOf(caught), m1, mir.NoBlock))
	b.SelectBlock(m1)
	b.Terminate(mir.SwitchInt(mir.Copy(mir.PlaceOf(caught)), []uint64{1}, []int{yes}, no))
	b.SelectBlock(yes)
	b.Assign(mir.PlaceOf(mir.ReturnLocal), mir.Use(mir.ConstOp(mir.ConstInt(mir.TyI32, 1))))
	b.Terminate(mir.Return())
	b.SelectBlock(no)
	b.Assign(mir.PlaceOf(mir.ReturnLocal), mir.Use(mir.ConstOp(mir.ConstInt(mir.TyI32, 0))))
	b.Terminate(mir.Return())

	wantResult(t, runUnit(t, mir.NewUnit("main", b.Build(), boom.Build()), Options{}), 1)
}

// Abort terminates the machine outright: it never unwinds, so a
// catch_unwind boundary cannot intercept it.
func TestAbortIsNotCatchable(t *testing.T) {
	doom := mir.NewBodyBuilder("doom", mir.TyUnit)
	doom.NewBlock()
	doom.Terminate(mir.Abort())

	b := mir.NewBodyBuilder("main", mir.TyBool)
	m0 := b.NewBlock()
	m1 := b.NewBlock()
	b.SelectBlock(m0)
	b.Terminate(mir.CallForeign("catch_unwind",
		[]mir.Operand{mir.ConstOp(mir.ConstFn("doom"))}, mir.PlaceOf(mir.ReturnLocal), m1, mir.NoBlock))
	b.SelectBlock(m1)
	b.Terminate(mir.Return())

	mch := runUnit(t, mir.NewUnit("main", b.Build(), doom.Build()), Options{})
	err := wantAbort(t, mch, ProcessAbort)
	if !err.Kind.Fatal() {
		t.Error("abort diagnostic reports a recoverable kind")
	}
}

func TestCatchUnwindNoPanic(t *testing.T) {
	calm := mir.NewBodyBuilder("calm", mir.TyUnit)
	calm.NewBlock()
	calm.Terminate(mir.Return())

	b := mir.NewBodyBuilder("main", mir.TyBool)
	m0 := b.NewBlock()
	m1 := b.NewBlock()
	b.SelectBlock(m0)
	b.Terminate(mir.CallForeign("catch_unwind",
		[]mir.Operand{mir.ConstOp(mir.ConstFn("calm"))}, mir.PlaceOf(mir.ReturnLocal), m1, mir.NoBlock))
	b.SelectBlock(m1)
	b.Terminate(mir.Return())

	wantResult(t, runUnit(t, mir.NewUnit("main", b.Build(), calm.Build()), Options{}), 0)
}

// Cleanup blocks run while unwinding passes through a frame; a
// mutable static makes the effect observable after the catch.
func TestUnwindRunsCleanupBlocks(t *testing.T) {
	flagTy := mir.RawPtrTo(mir.TyU8)

	thrower := mir.NewBodyBuilder("thrower", mir.TyUnit)
	fp := thrower.NewLocal(flagTy)
	tu := thrower.NewLocal(mir.TyUnit)
	t0 := thrower.NewBlock()
	tDone := thrower.NewBlock()
	tClean := thrower.NewCleanupBlock()

	thrower.SelectBlock(t0)
	thrower.Assign(mir.PlaceOf(fp), mir.Use(mir.ConstOp(mir.ConstStaticRef(flagTy, "FLAG"))))
	thrower.Terminate(mir.CallForeign("panic", nil, mir.PlaceOf(tu), tDone, tClean))
	thrower.SelectBlock(tDone)
	thrower.Terminate(mir.Return())
	thrower.SelectBlock(tClean)
	thrower.Assign(mir.PlaceOf(fp).Deref(), mir.Use(mir.ConstOp(mir.ConstInt(mir.TyU8, 1))))
	thrower.Terminate(mir.Resume())

	b := mir.NewBodyBuilder("main", mir.TyU8)
	caught := b.NewLocal(mir.TyBool)
	mp := b.NewLocal(flagTy)
	m0 := b.NewBlock()
	m1 := b.NewBlock()
	b.SelectBlock(m0)
	b.Terminate(mir.CallForeign("catch_unwind",
		[]mir.Operand{mir.ConstOp(mir.ConstFn("thrower"))}, mir.PlaceOf(caught), m1, mir.NoBlock))
	b.SelectBlock(m1)
	b.Assign(mir.PlaceOf(mp), mir.Use(mir.ConstOp(mir.ConstStaticRef(flagTy, "FLAG"))))
	b.Assign(mir.PlaceOf(mir.ReturnLocal), mir.Use(mir.Copy(mir.PlaceOf(mp).Deref())))
	b.Terminate(mir.Return())

	u := mir.NewUnit("main", b.Build(), thrower.Build())
	u.AddStatic(mir.Static{Name: "FLAG", Ty: mir.TyU8, Bytes: []byte{0}, Mutable: true})

	wantResult(t, runUnit(t, u, Options{}), 1)
}

// An uncaught panic empties the stack and becomes a fatal abort.
func TestUncaughtPanicAborts(t *testing.T) {
	b := mir.NewBodyBuilder("main", mir.TyI32)
	u := b.NewLocal(mir.TyUnit)
	bb0 := b.NewBlock()
	bb1 := b.NewBlock()
	b.SelectBlock(bb0)
	b.Terminate(mir.CallForeign("panic", nil, mir.PlaceOf(u), bb1, mir.NoBlock))
	b.SelectBlock(bb1)
	b.Terminate(mir.Return())

	wantAbort(t, runUnit(t, mir.NewUnit("main", b.Build()), Options{}), Panic)
}

// ---------------------------------------------------------------------------
// Heap intrinsics and use-after-free detection
// ---------------------------------------------------------------------------

func TestDerefAfterFree(t *testing.T) {
	ptrTy := mir.RawPtrTo(mir.TyU8)

	b := mir.NewBodyBuilder("main", mir.TyU8)
	p := b.NewLocal(ptrTy)
	u := b.NewLocal(mir.TyUnit)
	bb0 := b.NewBlock()
	bb1 := b.NewBlock()
	bb2 := b.NewBlock()

	b.SelectBlock(bb0)
	b.Terminate(mir.CallForeign("sable_alloc", []mir.Operand{
		mir.ConstOp(mir.ConstInt(mir.TyU64, 8)),
		mir.ConstOp(mir.ConstInt(mir.TyU64, 1)),
	}, mir.PlaceOf(p), bb1, mir.NoBlock))

	b.SelectBlock(bb1)
	b.Terminate(mir.CallForeign("sable_dealloc", []mir.Operand{
		mir.Copy(mir.PlaceOf(p)),
		mir.ConstOp(mir.ConstInt(mir.TyU64, 8)),
		mir.ConstOp(mir.ConstInt(mir.TyU64, 1)),
	}, mir.PlaceOf(u), bb2, mir.NoBlock))

	b.SelectBlock(bb2)
	b.Assign(mir.PlaceOf(mir.ReturnLocal), mir.Use(mir.Copy(mir.PlaceOf(p).Deref())))
	b.Terminate(mir.Return())

	mch := runUnit(t, mir.NewUnit("main", b.Build()), Options{})
	err := wantAbort(t, mch, UseAfterFree)
	if err.Alloc == 0 {
		t.Error("diagnostic does not cite the allocation")
	}
	if err.Loc.Fn != "main" {
		t.Errorf("diagnostic %q does not locate the fault in main", err.Error())
	}
}

func TestHeapWriteRead(t *testing.T) {
	ptrTy := mir.RawPtrTo(mir.TyI64)

	b := mir.NewBodyBuilder("main", mir.TyI64)
	p := b.NewLocal(ptrTy)
	u := b.NewLocal(mir.TyUnit)
	bb0 := b.NewBlock()
	bb1 := b.NewBlock()
	bb2 := b.NewBlock()

	b.SelectBlock(bb0)
	b.Terminate(mir.CallForeign("sable_alloc", []mir.Operand{
		mir.ConstOp(mir.ConstInt(mir.TyU64, 8)),
		mir.ConstOp(mir.ConstInt(mir.TyU64, 8)),
	}, mir.PlaceOf(p), bb1, mir.NoBlock))

	b.SelectBlock(bb1)
	b.Assign(mir.PlaceOf(p).Deref(), mir.Use(mir.ConstOp(mir.ConstInt(mir.TyI64, -99))))
	b.Assign(mir.PlaceOf(mir.ReturnLocal), mir.Use(mir.Copy(mir.PlaceOf(p).Deref())))
	b.Terminate(mir.CallForeign("sable_dealloc", []mir.Operand{
		mir.Copy(mir.PlaceOf(p)),
		mir.ConstOp(mir.ConstInt(mir.TyU64, 8)),
		mir.ConstOp(mir.ConstInt(mir.TyU64, 8)),
	}, mir.PlaceOf(u), bb2, mir.NoBlock))

	b.SelectBlock(bb2)
	b.Terminate(mir.Return())

	wantResult(t, runUnit(t, mir.NewUnit("main", b.Build()), Options{}), -99)
}

// A freshly allocated pointer sits at offset 0 of its allocation, but
// it still must not compare equal to the null address.
func TestHeapPointerNotNull(t *testing.T) {
	ptrTy := mir.RawPtrTo(mir.TyU8)

	b := mir.NewBodyBuilder("main", mir.TyBool)
	p := b.NewLocal(ptrTy)
	bb0 := b.NewBlock()
	bb1 := b.NewBlock()

	b.SelectBlock(bb0)
	b.Terminate(mir.CallForeign("sable_alloc", []mir.Operand{
		mir.ConstOp(mir.ConstInt(mir.TyU64, 8)),
		mir.ConstOp(mir.ConstInt(mir.TyU64, 8)),
	}, mir.PlaceOf(p), bb1, mir.NoBlock))

	b.SelectBlock(bb1)
	b.Assign(mir.PlaceOf(mir.ReturnLocal), mir.BinaryOp(mir.BinEq,
		mir.Copy(mir.PlaceOf(p)),
		mir.ConstOp(mir.ConstInt(ptrTy, 0))))
	b.Terminate(mir.Return())

	wantResult(t, runUnit(t, mir.NewUnit("main", b.Build()), Options{}), 0)
}

// ---------------------------------------------------------------------------
// Validity
// ---------------------------------------------------------------------------

func boolByteUnit(val int64) *mir.Unit {
	b := mir.NewBodyBuilder("main", mir.TyBool)
	raw := b.NewLocal(mir.TyU8)
	rp := b.NewLocal(mir.RawPtrTo(mir.TyU8))
	bp := b.NewLocal(mir.RawPtrTo(mir.TyBool))
	b.NewBlock()
	b.Assign(mir.PlaceOf(raw), mir.Use(mir.ConstOp(mir.ConstInt(mir.TyU8, val))))
	b.Assign(mir.PlaceOf(rp), mir.AddrOf(mir.PlaceOf(raw)))
	b.Assign(mir.PlaceOf(bp), mir.Cast(mir.CastPtrToPtr, mir.Copy(mir.PlaceOf(rp)), mir.RawPtrTo(mir.TyBool)))
	b.Assign(mir.PlaceOf(mir.ReturnLocal), mir.Use(mir.Copy(mir.PlaceOf(bp).Deref())))
	b.Terminate(mir.Return())
	return mir.NewUnit("main", b.Build())
}

func TestBoolValidity(t *testing.T) {
	// bytes 0 and 1 decode to false/true
	wantResult(t, runUnit(t, boolByteUnit(0), Options{}), 0)
	wantResult(t, runUnit(t, boolByteUnit(1), Options{}), 1)

	// byte 2 is not a bool
	mch := runUnit(t, boolByteUnit(2), Options{})
	err := wantAbort(t, mch, InvalidValue)
	if !strings.Contains(err.Error(), "0x02") {
		t.Errorf("diagnostic %q does not show the offending byte", err.Error())
	}
}

func TestUnalignedAccess(t *testing.T) {
	b := mir.NewBodyBuilder("main", mir.TyU16)
	arr := b.NewLocal(mir.ArrayOf(mir.TyU16, 2))
	rp := b.NewLocal(mir.RawPtrTo(mir.TyU16))
	b.NewBlock()
	b.Assign(mir.PlaceOf(arr), mir.Aggregate(mir.ArrayOf(mir.TyU16, 2),
		mir.ConstOp(mir.ConstInt(mir.TyU16, 1)), mir.ConstOp(mir.ConstInt(mir.TyU16, 2))))
	b.Assign(mir.PlaceOf(rp), mir.AddrOf(mir.PlaceOf(arr).ConstIndex(0)))
	// displace the pointer by one byte
	b.Assign(mir.PlaceOf(rp), mir.BinaryOp(mir.BinAdd,
		mir.Copy(mir.PlaceOf(rp)), mir.ConstOp(mir.ConstInt(mir.TyU64, 1))))
	b.Assign(mir.PlaceOf(mir.ReturnLocal), mir.Use(mir.Copy(mir.PlaceOf(rp).Deref())))
	b.Terminate(mir.Return())

	wantAbort(t, runUnit(t, mir.NewUnit("main", b.Build()), Options{}), UnalignedAccess)
}

func TestDeadLocalStorage(t *testing.T) {
	b := mir.NewBodyBuilder("main", mir.TyI32)
	x := b.NewLocal(mir.TyI32)
	b.NewBlock()
	b.Assign(mir.PlaceOf(x), mir.Use(mir.ConstOp(mir.ConstInt(mir.TyI32, 5))))
	b.Stmt(mir.StorageDead(x))
	b.Assign(mir.PlaceOf(mir.ReturnLocal), mir.Use(mir.Copy(mir.PlaceOf(x))))
	b.Terminate(mir.Return())

	wantAbort(t, runUnit(t, mir.NewUnit("main", b.Build()), Options{}), UseAfterFree)
}

// ---------------------------------------------------------------------------
// I/O intrinsics
// ---------------------------------------------------------------------------

func TestPrintIntrinsics(t *testing.T) {
	strTy := mir.RawPtrTo(mir.TyU8)

	b := mir.NewBodyBuilder("main", mir.TyI32)
	sp := b.NewLocal(strTy)
	u := b.NewLocal(mir.TyUnit)
	bb0 := b.NewBlock()
	bb1 := b.NewBlock()
	bb2 := b.NewBlock()

	b.SelectBlock(bb0)
	b.Assign(mir.PlaceOf(sp), mir.Use(mir.ConstOp(mir.ConstStaticRef(strTy, "GREETING"))))
	b.Terminate(mir.CallForeign("print_str", []mir.Operand{
		mir.Copy(mir.PlaceOf(sp)),
		mir.ConstOp(mir.ConstInt(mir.TyU64, 6)),
	}, mir.PlaceOf(u), bb1, mir.NoBlock))

	b.SelectBlock(bb1)
	b.Terminate(mir.CallForeign("print_int", []mir.Operand{
		mir.ConstOp(mir.ConstInt(mir.TyI64, -7)),
	}, mir.PlaceOf(u), bb2, mir.NoBlock))

	b.SelectBlock(bb2)
	b.Assign(mir.PlaceOf(mir.ReturnLocal), mir.Use(mir.ConstOp(mir.ConstInt(mir.TyI32, 0))))
	b.Terminate(mir.Return())

	unit := mir.NewUnit("main", b.Build())
	unit.AddStatic(mir.Static{Name: "GREETING", Ty: mir.ArrayOf(mir.TyU8, 6), Bytes: []byte("hello\n")})

	var out bytes.Buffer
	wantResult(t, runUnit(t, unit, Options{Output: &out}), 0)
	if out.String() != "hello\n-7" {
		t.Errorf("output = %q", out.String())
	}
}

// ---------------------------------------------------------------------------
// Cancellation and configuration
// ---------------------------------------------------------------------------

// Cancellation stops at a statement boundary and leaves allocations
// intact for post-mortem inspection.
func TestCancellationLeavesMemoryIntact(t *testing.T) {
	b := mir.NewBodyBuilder("main", mir.TyI32)
	bb0 := b.NewBlock()
	b.Terminate(mir.Goto(bb0)) // infinite loop

	mch, err := NewMachine(mir.NewUnit("main", b.Build()), Options{})
	if err != nil {
		t.Fatalf("NewMachine: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if rerr := mch.Run(ctx); rerr != context.Canceled {
		t.Fatalf("Run = %v, want context.Canceled", rerr)
	}
	if mch.State() != Running {
		t.Errorf("state = %v, want running (resumable)", mch.State())
	}

	// the frame's locals are still live and inspectable
	a, ok := mch.Memory().Get(1)
	if !ok || a.Dead() {
		t.Error("entry frame storage not intact after cancellation")
	}
}

func TestEntryOverride(t *testing.T) {
	main := mir.NewBodyBuilder("main", mir.TyI32)
	main.NewBlock()
	main.Assign(mir.PlaceOf(mir.ReturnLocal), mir.Use(mir.ConstOp(mir.ConstInt(mir.TyI32, 1))))
	main.Terminate(mir.Return())

	alt := mir.NewBodyBuilder("bench", mir.TyI32)
	alt.NewBlock()
	alt.Assign(mir.PlaceOf(mir.ReturnLocal), mir.Use(mir.ConstOp(mir.ConstInt(mir.TyI32, 2))))
	alt.Terminate(mir.Return())

	unit := mir.NewUnit("main", main.Build(), alt.Build())
	wantResult(t, runUnit(t, unit, Options{}), 1)
	wantResult(t, runUnit(t, unit, Options{Entry: "bench"}), 2)
}

func TestEntryNotFound(t *testing.T) {
	b := mir.NewBodyBuilder("main", mir.TyI32)
	b.NewBlock()
	b.Terminate(mir.Return())

	_, err := NewMachine(mir.NewUnit("main", b.Build()), Options{Entry: "nope"})
	if err == nil {
		t.Fatal("expected error for unknown entry")
	}
}
