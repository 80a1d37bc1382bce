package interp

import (
	"github.com/sable-lang/sable/mir"
)

// ---------------------------------------------------------------------------
// Frames: function activations
// ---------------------------------------------------------------------------

// Frame is one function activation. A frame exclusively owns the
// stack allocations backing its locals; the caller linkage is an
// index into the machine's frame arena, never an owning pointer, so
// the stack forms a chain without ownership cycles.
type Frame struct {
	Body      *mir.Body
	Block     int // current basic block
	Stmt      int // next statement index within the block
	Locals    []AllocID
	LocalLive []bool
	Return    memPlace // caller-side destination for local 0
	HasReturn bool     // false for the bottom frame
	Caller    int      // arena index of the caller, -1 at the bottom

	// pendingUnwind is the cleanup block to enter if the callee this
	// frame is suspended in unwinds. NoBlock when the active call has
	// no cleanup path.
	pendingUnwind int

	// catchUnwind marks a frame pushed by the catch_unwind intrinsic:
	// a panic unwinding out of it is caught at its call site.
	catchUnwind bool
	catchDest   memPlace
}

// loc reports the frame's current execution location.
func (f *Frame) loc() Location {
	return Location{Fn: f.Body.Name, Block: f.Block, Stmt: f.Stmt}
}

// pushFrame activates body: allocates stack storage for every local,
// binds argument values, and makes the new frame current.
func (mch *Machine) pushFrame(body *mir.Body, args []Value, ret memPlace, hasRet bool) *Error {
	if len(args) != body.Args {
		return errf(InvalidValue, "%q takes %d arguments, got %d", body.Name, body.Args, len(args))
	}
	fr := &Frame{
		Body:          body,
		Locals:        make([]AllocID, len(body.Locals)),
		LocalLive:     make([]bool, len(body.Locals)),
		Return:        ret,
		HasReturn:     hasRet,
		Caller:        mch.top,
		pendingUnwind: mir.NoBlock,
	}
	for i, decl := range body.Locals {
		layout := decl.Ty.Layout()
		fr.Locals[i] = mch.mem.Allocate(layout.Size, layout.Align, AllocStack)
		fr.LocalLive[i] = true
	}
	mch.frames = append(mch.frames, fr)
	mch.top = len(mch.frames) - 1

	for i, arg := range args {
		mp := memPlace{ptr: Pointer{Alloc: fr.Locals[i+1]}, ty: body.Locals[i+1].Ty}
		if err := mch.writePlace(mp, arg); err != nil {
			return err
		}
	}
	return nil
}

// popFrame deactivates the top frame: copies the return slot into the
// caller's destination, releases every local allocation, and resumes
// the caller. Returns false when the popped frame was the bottom one.
func (mch *Machine) popFrame() (bool, *Error) {
	fr := mch.frames[mch.top]

	if fr.HasReturn && !fr.Return.ty.IsZeroSized() {
		retLayout := fr.Body.Locals[mir.ReturnLocal].Ty.Layout()
		src := Pointer{Alloc: fr.Locals[mir.ReturnLocal]}
		// Return values move blindly: padding and uninit bytes are
		// not inspected on the way out.
		if err := mch.mem.CopyRaw(fr.Return.ptr, src, retLayout.Size); err != nil {
			return false, err
		}
	} else if mch.top == 0 {
		// Bottom frame: stash the program result before the locals go away.
		mp := memPlace{ptr: Pointer{Alloc: fr.Locals[mir.ReturnLocal]}, ty: fr.Body.Locals[mir.ReturnLocal].Ty}
		v, err := mch.readPlaceRaw(mp)
		if err != nil {
			return false, err
		}
		mch.result = &v
	}

	if fr.catchUnwind {
		// Normal completion of a caught call reports "did not panic".
		if err := mch.writePlace(fr.catchDest, ScalarValue(ScalarFromBool(false), mir.TyBool)); err != nil {
			return false, err
		}
	}

	for _, id := range fr.Locals {
		mch.mem.Release(id)
	}
	mch.frames = mch.frames[:mch.top]
	mch.top = fr.Caller
	if mch.top < 0 {
		return false, nil
	}
	return true, nil
}

// discardFrame releases the top frame's locals without copying a
// return value, used while unwinding past it.
func (mch *Machine) discardFrame() {
	fr := mch.frames[mch.top]
	for _, id := range fr.Locals {
		mch.mem.Release(id)
	}
	mch.frames = mch.frames[:mch.top]
	mch.top = fr.Caller
}

// topFrame returns the active frame, or nil when the stack is empty.
func (mch *Machine) topFrame() *Frame {
	if mch.top < 0 {
		return nil
	}
	return mch.frames[mch.top]
}
