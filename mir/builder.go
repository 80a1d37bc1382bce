package mir

// BodyBuilder assembles a Body incrementally. The front-end and the
// test suites both construct MIR through it rather than filling in
// struct literals by hand.
type BodyBuilder struct {
	body *Body
	cur  int
	open bool
}

// NewBodyBuilder starts a body with the given name and argument count.
// Argument types are declared in order; local 0 is the return slot.
func NewBodyBuilder(name string, retTy *Ty, argTys ...*Ty) *BodyBuilder {
	locals := make([]LocalDecl, 0, 1+len(argTys))
	locals = append(locals, LocalDecl{Ty: retTy})
	for _, t := range argTys {
		locals = append(locals, LocalDecl{Ty: t})
	}
	return &BodyBuilder{
		body: &Body{Name: name, Args: len(argTys), Locals: locals},
	}
}

// NewLocal declares a fresh local of the given type and returns it.
func (b *BodyBuilder) NewLocal(ty *Ty) Local {
	b.body.Locals = append(b.body.Locals, LocalDecl{Ty: ty})
	return Local(len(b.body.Locals) - 1)
}

// NewBlock opens a new basic block and returns its index. Statements
// and the terminator accumulate into it until the next NewBlock.
func (b *BodyBuilder) NewBlock() int {
	b.body.Blocks = append(b.body.Blocks, BasicBlock{})
	b.cur = len(b.body.Blocks) - 1
	b.open = true
	return b.cur
}

// NewCleanupBlock opens a new cleanup (unwind-path) block.
func (b *BodyBuilder) NewCleanupBlock() int {
	i := b.NewBlock()
	b.body.Blocks[i].Cleanup = true
	return i
}

// SelectBlock redirects subsequent emission into an existing block.
func (b *BodyBuilder) SelectBlock(i int) {
	b.cur = i
	b.open = true
}

// Stmt appends a statement to the current block.
func (b *BodyBuilder) Stmt(s Statement) *BodyBuilder {
	blk := &b.body.Blocks[b.cur]
	blk.Statements = append(blk.Statements, s)
	return b
}

// Assign appends a place = rvalue statement to the current block.
func (b *BodyBuilder) Assign(p Place, rv Rvalue) *BodyBuilder {
	return b.Stmt(Assign(p, rv))
}

// Terminate sets the current block's terminator.
func (b *BodyBuilder) Terminate(t Terminator) *BodyBuilder {
	b.body.Blocks[b.cur].Term = t
	b.open = false
	return b
}

// Build finalizes and returns the body.
func (b *BodyBuilder) Build() *Body {
	return b.body
}

// NewUnit bundles bodies into a unit with the given entry symbol.
func NewUnit(entry string, bodies ...*Body) *Unit {
	u := &Unit{Bodies: make(map[string]*Body, len(bodies)), Entry: entry}
	for _, body := range bodies {
		u.Bodies[body.Name] = body
	}
	return u
}

// AddStatic registers a named static and returns its index.
func (u *Unit) AddStatic(s Static) int {
	u.Statics = append(u.Statics, s)
	return len(u.Statics) - 1
}
