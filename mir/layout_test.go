package mir

import "testing"

func TestScalarLayouts(t *testing.T) {
	tests := []struct {
		ty          *Ty
		size, align uint64
	}{
		{TyUnit, 0, 1},
		{TyNever, 0, 1},
		{TyBool, 1, 1},
		{TyChar, 4, 4},
		{TyU8, 1, 1},
		{TyI16, 2, 2},
		{TyI32, 4, 4},
		{TyU64, 8, 8},
		{TyF32, 4, 4},
		{TyF64, 8, 8},
		{PtrTo(TyU8), 8, 8},
		{RawPtrTo(TyI64), 8, 8},
	}
	for _, tc := range tests {
		l := tc.ty.Layout()
		if l.Size != tc.size || l.Align != tc.align {
			t.Errorf("%s layout = (%d, %d), want (%d, %d)", tc.ty, l.Size, l.Align, tc.size, tc.align)
		}
	}
}

func TestTupleLayoutPadding(t *testing.T) {
	// (u8, i32, bool): u8 at 0, padding to 4, i32 at 4, bool at 8,
	// trailing padding to the 4-byte alignment
	l := TupleOf(TyU8, TyI32, TyBool).Layout()
	if l.Size != 12 || l.Align != 4 {
		t.Fatalf("layout = (%d, %d), want (12, 4)", l.Size, l.Align)
	}
	want := []uint64{0, 4, 8}
	for i, off := range l.FieldOffsets {
		if off != want[i] {
			t.Errorf("field %d at offset %d, want %d", i, off, want[i])
		}
	}
}

func TestStructLayoutMatchesTuple(t *testing.T) {
	s := StructOf("Pair", TyI64, TyU8)
	tup := TupleOf(TyI64, TyU8)
	sl, tl := s.Layout(), tup.Layout()
	if sl.Size != tl.Size || sl.Align != tl.Align {
		t.Errorf("struct layout (%d, %d) differs from tuple (%d, %d)", sl.Size, sl.Align, tl.Size, tl.Align)
	}
	if sl.Size != 16 {
		t.Errorf("Pair size = %d, want 16", sl.Size)
	}
}

func TestArrayLayout(t *testing.T) {
	l := ArrayOf(TyU16, 4).Layout()
	if l.Size != 8 || l.Align != 2 {
		t.Errorf("[u16; 4] layout = (%d, %d), want (8, 2)", l.Size, l.Align)
	}

	// arrays of padded elements include the padding in every element
	el := TupleOf(TyI32, TyU8)
	if el.Layout().Size != 8 {
		t.Fatalf("element size = %d", el.Layout().Size)
	}
	if got := ArrayOf(el, 3).Layout().Size; got != 24 {
		t.Errorf("array size = %d, want 24", got)
	}
}

func TestZeroSizedAggregates(t *testing.T) {
	if l := TupleOf().Layout(); l.Size != 0 || l.Align != 1 {
		t.Errorf("empty tuple layout = (%d, %d)", l.Size, l.Align)
	}
	if l := ArrayOf(TyU32, 0).Layout(); l.Size != 0 {
		t.Errorf("empty array size = %d", l.Size)
	}
	if !TyUnit.IsZeroSized() {
		t.Error("unit is not zero-sized")
	}
	if TyBool.IsZeroSized() {
		t.Error("bool claims zero size")
	}
}

func TestAlignUp(t *testing.T) {
	tests := []struct{ n, align, want uint64 }{
		{0, 4, 0},
		{1, 4, 4},
		{4, 4, 4},
		{5, 8, 8},
		{9, 1, 9},
	}
	for _, tc := range tests {
		if got := alignUp(tc.n, tc.align); got != tc.want {
			t.Errorf("alignUp(%d, %d) = %d, want %d", tc.n, tc.align, got, tc.want)
		}
	}
}
