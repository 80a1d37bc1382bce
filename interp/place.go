package interp

import (
	"github.com/sable-lang/sable/mir"
)

// memPlace is a resolved place: a concrete pointer plus the type the
// location is accessed at. MIR places stay symbolic until the moment
// of access; this is the concrete form.
type memPlace struct {
	ptr Pointer
	ty  *mir.Ty
}

// resolvePlace walks a place's projection chain down to a concrete
// pointer. Deref steps perform a typed pointer read (with validity
// checking); index steps bounds-check against the array length.
func (mch *Machine) resolvePlace(fr *Frame, p mir.Place) (memPlace, *Error) {
	local := int(p.Local)
	if local < 0 || local >= len(fr.Locals) {
		return memPlace{}, errf(InvalidValue, "body %q has no local _%d", fr.Body.Name, local)
	}
	if !fr.LocalLive[local] {
		return memPlace{}, errf(UseAfterFree, "storage of local _%d is dead", local)
	}
	mp := memPlace{
		ptr: Pointer{Alloc: fr.Locals[local]},
		ty:  fr.Body.Locals[local].Ty,
	}

	for _, proj := range p.Proj {
		switch proj.Kind {
		case mir.ProjField:
			if mp.ty.Kind != mir.KindTuple && mp.ty.Kind != mir.KindStruct {
				return memPlace{}, errf(InvalidValue, "field projection on non-aggregate %s", mp.ty)
			}
			if proj.Index >= len(mp.ty.Fields) {
				return memPlace{}, errf(InvalidValue, "field %d of %s", proj.Index, mp.ty)
			}
			layout := mp.ty.Layout()
			mp.ptr = mp.ptr.WithOffset(layout.FieldOffsets[proj.Index])
			mp.ty = mp.ty.Fields[proj.Index]

		case mir.ProjConstIndex, mir.ProjIndex:
			if mp.ty.Kind != mir.KindArray {
				return memPlace{}, errf(InvalidValue, "index projection on non-array %s", mp.ty)
			}
			var idx uint64
			if proj.Kind == mir.ProjConstIndex {
				idx = uint64(proj.Index)
			} else {
				iv, err := mch.readPlaceLocal(fr, mir.Local(proj.Index))
				if err != nil {
					return memPlace{}, err
				}
				idx = iv.Scalar.Uint()
			}
			if idx >= uint64(mp.ty.Len) {
				return memPlace{}, errf(OutOfBounds,
					"index %d outside array of length %d", idx, mp.ty.Len).withPointer(mp.ptr)
			}
			mp.ptr = mp.ptr.WithOffset(idx * mp.ty.Elem.Layout().Size)
			mp.ty = mp.ty.Elem

		case mir.ProjDeref:
			if !mp.ty.IsPointer() {
				return memPlace{}, errf(InvalidValue, "dereference of non-pointer %s", mp.ty)
			}
			v, err := mch.readPlaceRaw(mp)
			if err != nil {
				return memPlace{}, err
			}
			target, ok := v.Scalar.Pointer()
			if !ok {
				return memPlace{}, errf(InvalidValue,
					"dereferenced pointer has no provenance (bare address 0x%x)",
					v.Scalar.Bits).withPointer(mp.ptr)
			}
			mp.ptr = target
			mp.ty = mp.ty.Elem
		}
	}
	return mp, nil
}

// readPlaceLocal reads an unprojected local, used for index operands.
func (mch *Machine) readPlaceLocal(fr *Frame, l mir.Local) (Value, *Error) {
	mp, err := mch.resolvePlace(fr, mir.PlaceOf(l))
	if err != nil {
		return Value{}, err
	}
	return mch.readPlaceRaw(mp)
}

// readPlaceRaw performs the typed read at a resolved place. Scalars
// are reassembled and validity-checked; aggregates come back as blind
// byte snapshots so uninitialized padding travels untouched.
func (mch *Machine) readPlaceRaw(mp memPlace) (Value, *Error) {
	layout := mp.ty.Layout()
	if layout.Size == 0 {
		if _, err := mch.mem.live(mp.ptr, 0); err != nil {
			return Value{}, err
		}
		return ZeroValue(mp.ty), nil
	}
	if err := mch.checkAccess(mp.ptr, mp.ty); err != nil {
		return Value{}, err
	}

	if mp.ty.IsScalar() {
		raw, err := mch.mem.ReadBytes(mp.ptr, layout.Size)
		if err != nil {
			return Value{}, err
		}
		s := decodeScalar(raw)
		if mp.ty.IsPointer() {
			if p, ok := mch.mem.ReadProvenance(mp.ptr); ok {
				s.Prov = &p
			}
		}
		if err := mch.checkScalar(mp.ty, s); err != nil {
			return Value{}, err.withPointer(mp.ptr)
		}
		return ScalarValue(s, mp.ty), nil
	}

	// Aggregate: snapshot bytes, init and provenance without
	// inspecting them. Typed reads of the fields happen at field
	// granularity, not here.
	a, err := mch.mem.live(mp.ptr, layout.Size)
	if err != nil {
		return Value{}, err
	}
	v := Value{Kind: ValBytes, Ty: mp.ty}
	v.Bytes = make([]byte, layout.Size)
	copy(v.Bytes, a.bytes[mp.ptr.Offset:mp.ptr.Offset+layout.Size])
	v.Init = a.init.slice(mp.ptr.Offset, layout.Size)
	v.Provs = make(map[uint64]Pointer)
	for off, p := range a.provs {
		if off >= mp.ptr.Offset && off+ptrSize <= mp.ptr.Offset+layout.Size {
			v.Provs[off-mp.ptr.Offset] = p
		}
	}
	return v, nil
}

// writePlace serializes a value into a resolved place.
func (mch *Machine) writePlace(mp memPlace, v Value) *Error {
	layout := mp.ty.Layout()
	if layout.Size == 0 {
		_, err := mch.mem.live(mp.ptr, 0)
		return err
	}
	if err := mch.checkAccess(mp.ptr, mp.ty); err != nil {
		return err
	}

	switch v.Kind {
	case ValZero:
		return nil
	case ValScalar:
		if err := mch.mem.WriteBytes(mp.ptr, encodeScalar(v.Scalar)); err != nil {
			return err
		}
		if p, ok := v.Scalar.Pointer(); ok {
			return mch.mem.WriteProvenance(mp.ptr, p)
		}
		return nil
	case ValPair:
		// (result, overflow) laid out as a two-field tuple.
		if mp.ty.Kind != mir.KindTuple || len(mp.ty.Fields) != 2 {
			return errf(InvalidValue, "checked result written to %s", mp.ty)
		}
		offs := layout.FieldOffsets
		if err := mch.mem.WriteBytes(mp.ptr.WithOffset(offs[0]), encodeScalar(v.Scalar)); err != nil {
			return err
		}
		return mch.mem.WriteBytes(mp.ptr.WithOffset(offs[1]), encodeScalar(v.Second))
	case ValBytes:
		a, err := mch.mem.live(mp.ptr, uint64(len(v.Bytes)))
		if err != nil {
			return err
		}
		if !a.mutable {
			return errf(WriteToImmutable, "a%d is read-only %s data", mp.ptr.Alloc, a.kind).withPointer(mp.ptr)
		}
		n := uint64(len(v.Bytes))
		copy(a.bytes[mp.ptr.Offset:], v.Bytes)
		a.init.copyRange(mp.ptr.Offset, v.Init, n)
		a.clearProvenance(mp.ptr.Offset, n)
		for rel, p := range v.Provs {
			a.provs[mp.ptr.Offset+rel] = p
		}
		return nil
	}
	return errf(UnsupportedOperation, "write of value kind %d", v.Kind)
}
