package interp

import (
	"unicode/utf8"

	"github.com/sable-lang/sable/mir"
)

// Validity checking runs on every typed access and reinterpretation.
// The check order is fixed: liveness, bounds, alignment, then byte
// pattern. The first violated invariant is the one reported.

// checkAccess validates that a typed access through ptr is legal
// before any bytes move: the allocation must be live, the window in
// bounds, and the address aligned for the type.
func (mch *Machine) checkAccess(ptr Pointer, ty *mir.Ty) *Error {
	layout := ty.Layout()
	a, err := mch.mem.live(ptr, layout.Size)
	if err != nil {
		return err
	}
	if layout.Align > 1 {
		// The allocation base is aligned to a.align; the access is
		// aligned iff the base satisfies the type and the offset keeps it.
		if a.align < layout.Align || ptr.Offset%layout.Align != 0 {
			return errf(UnalignedAccess,
				"%s requires alignment %d, pointer is at offset %d in allocation aligned to %d",
				ty, layout.Align, ptr.Offset, a.align).withPointer(ptr)
		}
	}
	return nil
}

// checkScalar validates a scalar's bit pattern against its type's
// legal values. Callers attach the pointer context.
func (mch *Machine) checkScalar(ty *mir.Ty, s Scalar) *Error {
	switch ty.Kind {
	case mir.KindBool:
		if s.Bits > 1 {
			return errf(InvalidValue, "boolean byte is 0x%02x, expected 0 or 1", s.Bits)
		}
	case mir.KindChar:
		r := rune(uint32(s.Bits))
		if !utf8.ValidRune(r) {
			return errf(InvalidValue, "char value 0x%x is not a unicode scalar", s.Bits)
		}
	case mir.KindPtr:
		// Reference-like pointers must be real: non-null, with
		// provenance tying them to a live allocation.
		p, ok := s.Pointer()
		if !ok {
			return errf(InvalidValue, "reference has no provenance (bare address 0x%x)", s.Bits)
		}
		a, found := mch.mem.Get(p.Alloc)
		if !found || a.Dead() {
			return errf(InvalidValue, "reference points into deallocated a%d", p.Alloc)
		}
		if p.Offset > a.Size() {
			return errf(InvalidValue, "reference is %d bytes past its allocation", p.Offset-a.Size())
		}
	case mir.KindNever:
		return errf(InvalidValue, "constructed a value of the uninhabited type !")
	}
	return nil
}
