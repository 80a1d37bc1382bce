package interp

import (
	"context"
	"fmt"
	"io"

	"github.com/tliron/commonlog"

	"github.com/sable-lang/sable/mir"
)

// State is the machine's execution state.
type State int

const (
	Running   State = iota
	Unwinding       // a panic is propagating through cleanup blocks
	Returned        // bottom frame popped: program finished
	Aborted         // UB or unsupported operation
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Unwinding:
		return "unwinding"
	case Returned:
		return "returned"
	case Aborted:
		return "aborted"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// BodyResolver resolves callee names that are not defined in the
// loaded unit, typically against a sysroot store. Returning
// ErrBodyNotFound (via errors.Is semantics on the store's side) or
// any error makes the call abort with MissingBody.
type BodyResolver interface {
	Resolve(name string) (*mir.Body, error)
}

// Options configures a machine instance.
type Options struct {
	// Entry overrides the unit's designated entry symbol.
	Entry string
	// Seed drives the uninitialized-byte poisoning pattern, keeping
	// runs reproducible.
	Seed int64
	// Resolver supplies sysroot bodies; nil means calls outside the
	// unit abort with MissingBody.
	Resolver BodyResolver
	// Output receives bytes written by the print intrinsics; nil
	// discards them.
	Output io.Writer
	// Log receives engine trace output.
	Log commonlog.Logger
}

// Machine interprets one MIR unit. One machine steps one call stack;
// all state a run touches hangs off the machine, never off globals.
type Machine struct {
	mem    *Memory
	unit   *mir.Unit
	frames []*Frame
	top    int

	state   State
	fatal   *Error
	unwind  *panicPayload
	result  *Value
	statics map[string]AllocID

	intrinsics map[string]intrinsicFn
	resolver   BodyResolver
	out        io.Writer
	log        commonlog.Logger

	steps uint64
}

// NewMachine builds a machine for the unit and pushes the entry frame.
func NewMachine(unit *mir.Unit, opts Options) (*Machine, error) {
	entry := unit.Entry
	if opts.Entry != "" {
		entry = opts.Entry
	}
	body, ok := unit.Bodies[entry]
	if !ok {
		return nil, fmt.Errorf("interp: entry %q not found in unit", entry)
	}
	if body.Args != 0 {
		return nil, fmt.Errorf("interp: entry %q takes %d arguments, entry points take none", entry, body.Args)
	}

	log := opts.Log
	if log == nil {
		log = commonlog.GetLogger("sable.interp")
	}
	out := opts.Output
	if out == nil {
		out = io.Discard
	}

	mch := &Machine{
		mem:      NewMemory(opts.Seed),
		unit:     unit,
		top:      -1,
		statics:  make(map[string]AllocID, len(unit.Statics)),
		resolver: opts.Resolver,
		out:      out,
		log:      log,
	}
	mch.registerIntrinsics()

	for _, s := range unit.Statics {
		kind := AllocConst
		if s.Mutable {
			kind = AllocGlobal
		}
		align := s.Ty.Layout().Align
		mch.statics[s.Name] = mch.mem.AllocateBytes(s.Bytes, align, kind)
	}

	if err := mch.pushFrame(body, nil, memPlace{}, false); err != nil {
		return nil, fmt.Errorf("interp: entry frame: %w", err.at(Location{Fn: entry}))
	}
	log.Debugf("machine ready, entry %q, %d statics", entry, len(unit.Statics))
	return mch, nil
}

// State returns the machine's current execution state.
func (mch *Machine) State() State { return mch.state }

// Err returns the fatal diagnostic after an abort, nil otherwise.
func (mch *Machine) Err() *Error { return mch.fatal }

// Result returns the entry body's return value once the machine has
// reached Returned.
func (mch *Machine) Result() (Value, bool) {
	if mch.state != Returned || mch.result == nil {
		return Value{}, false
	}
	return *mch.result, true
}

// Memory exposes the memory model for post-mortem inspection. The
// contract on cancellation is that every open allocation is intact.
func (mch *Machine) Memory() *Memory { return mch.mem }

// Steps returns how many statements and terminators have executed.
func (mch *Machine) Steps() uint64 { return mch.steps }

// Run steps the machine to completion or first abort. Cancellation is
// honored at statement boundaries and leaves all allocations intact
// for inspection; the machine can be resumed with another Run call.
func (mch *Machine) Run(ctx context.Context) error {
	for mch.state == Running || mch.state == Unwinding {
		if err := ctx.Err(); err != nil {
			mch.log.Infof("run cancelled after %d steps", mch.steps)
			return err
		}
		mch.Step()
	}
	if mch.state == Aborted {
		return mch.fatal
	}
	return nil
}

// abort stops the machine with a fatal diagnostic, stamping the
// current location if the error does not carry one yet.
func (mch *Machine) abort(err *Error) {
	if err.Loc.Fn == "" {
		if fr := mch.topFrame(); fr != nil {
			err.Loc = fr.loc()
		}
	}
	mch.fatal = err
	mch.state = Aborted
	mch.log.Errorf("aborted: %s", err.Error())
}

// at stamps a location onto an error, keeping the first one set.
func (e *Error) at(loc Location) *Error {
	if e.Loc.Fn == "" {
		e.Loc = loc
	}
	return e
}

// startUnwind begins panic propagation from the current location.
func (mch *Machine) startUnwind(kind ErrorKind, msg string) {
	loc := Location{}
	if fr := mch.topFrame(); fr != nil {
		loc = fr.loc()
	}
	mch.unwind = &panicPayload{Kind: kind, Msg: msg, Loc: loc}
	mch.state = Unwinding
	mch.log.Debugf("panic at %s: %s", loc, msg)
}
