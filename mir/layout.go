package mir

// Layout describes how values of a type occupy memory: total size,
// required alignment, and the byte offset of every field. Layouts use
// C-like ordered placement with natural alignment and trailing padding.
type Layout struct {
	Size         uint64
	Align        uint64
	FieldOffsets []uint64
}

// PtrSize is the interpreter's pointer width in bytes. The engine
// models a 64-bit target.
const PtrSize = 8

// Layout computes the memory layout for the type. Layouts are cheap to
// compute and small, so they are not cached on the descriptor.
func (t *Ty) Layout() Layout {
	switch t.Kind {
	case KindUnit, KindNever:
		return Layout{Size: 0, Align: 1}
	case KindBool:
		return Layout{Size: 1, Align: 1}
	case KindChar:
		return Layout{Size: 4, Align: 4}
	case KindInt, KindFloat:
		n := uint64(t.Bits / 8)
		return Layout{Size: n, Align: n}
	case KindPtr, KindRawPtr:
		return Layout{Size: PtrSize, Align: PtrSize}
	case KindTuple, KindStruct:
		offsets := make([]uint64, len(t.Fields))
		var size, align uint64 = 0, 1
		for i, f := range t.Fields {
			fl := f.Layout()
			size = alignUp(size, fl.Align)
			offsets[i] = size
			size += fl.Size
			if fl.Align > align {
				align = fl.Align
			}
		}
		return Layout{Size: alignUp(size, align), Align: align, FieldOffsets: offsets}
	case KindArray:
		el := t.Elem.Layout()
		return Layout{Size: el.Size * uint64(t.Len), Align: el.Align}
	}
	return Layout{Size: 0, Align: 1}
}

func alignUp(n, align uint64) uint64 {
	rem := n % align
	if rem == 0 {
		return n
	}
	return n + align - rem
}
