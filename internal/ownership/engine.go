package ownership

import (
	"fmt"

	"github.com/asbel-lang/asbel/internal/ast"
	"github.com/asbel-lang/asbel/internal/diagnostic"
	"github.com/asbel-lang/asbel/internal/refine"
	"github.com/asbel-lang/asbel/internal/types"
)

// maxLoopIterations bounds the loop fixpoint. The state lattice is shallow,
// so a stable state is reached well before this.
const maxLoopIterations = 4

type loopCtx struct {
	depth     int // first scope index belonging to the loop body
	breaks    []*flow
	continues []*flow
}

type lambdaCtx struct {
	depth      int // bindings in scopes below this index are captured
	parallel   bool
	violations int
}

type engine struct {
	env  *refine.Env
	ref  *refine.Result
	sink diagnostic.Sink
	fn   *ast.FuncDecl
	res  *Result

	scopes  [][]*binding
	names   []map[string]*binding
	cur     *flow
	loops   []*loopCtx
	lambdas []*lambdaCtx
	pending []ast.Expr // move-typed temporaries not yet consumed

	reported map[string]bool
}

// Check runs the ownership engine over fn using the types recorded by the
// refinement resolver.
func Check(env *refine.Env, ref *refine.Result, sink diagnostic.Sink) *Result {
	fn := ref.Func
	res := &Result{
		Func:     fn,
		Plans:    make(map[ast.Node]*ReleasePlan),
		Access:   make(map[ast.Expr]Access),
		Uses:     make(map[*ast.Ident]ast.Node),
		Captures: make(map[*ast.Spawn][]*Capture),
		Parallel: make(map[*ast.Stage]bool),
		Flags:    make(map[ast.Node]bool),
	}
	if ref.Sig == nil || fn.Body == nil {
		return res
	}

	e := &engine{env: env, ref: ref, sink: sink, fn: fn, res: res, cur: newFlow(), reported: make(map[string]bool)}
	e.push()
	for i, p := range fn.Params {
		borrow := Owned
		switch p.Mode {
		case ast.ByRef:
			borrow = BorrowedShared
		case ast.ByMutRef:
			borrow = BorrowedMutable
		}
		e.declare(p.Name, ref.Sig.Params[i], p, borrow)
	}
	e.block(fn.Body, 0)
	e.pop()
	return res
}

// ====== Scopes ======

func (e *engine) push() {
	e.scopes = append(e.scopes, nil)
	e.names = append(e.names, make(map[string]*binding))
}

func (e *engine) pop() {
	top := len(e.scopes) - 1
	for _, b := range e.scopes[top] {
		delete(e.cur.slots, b)
	}
	e.scopes = e.scopes[:top]
	e.names = e.names[:top]
}

func (e *engine) declare(name string, t *types.Type, decl ast.Node, borrow State) *binding {
	top := len(e.scopes) - 1
	b := &binding{name: name, typ: t, decl: decl, scope: top, borrow: borrow}
	e.scopes[top] = append(e.scopes[top], b)
	e.names[top][name] = b
	if !e.cur.dead {
		e.cur.slots[b] = slot{st: Owned}
	}
	return b
}

func (e *engine) lookup(name string) *binding {
	for i := len(e.names) - 1; i >= 0; i-- {
		if b, ok := e.names[i][name]; ok {
			return b
		}
	}
	return nil
}

func (e *engine) resolve(id *ast.Ident) *binding {
	b := e.lookup(id.Name)
	if b != nil {
		e.res.Uses[id] = b.decl
	}
	return b
}

// ====== Diagnostics ======

func (e *engine) report(kind diagnostic.Kind, at ast.Node, related ast.Node, relMsg string, format string, args ...interface{}) {
	key := fmt.Sprintf("%d@%s", kind, at.GetSpan())
	if e.reported[key] {
		return
	}
	e.reported[key] = true
	e.res.Fatal = true
	for _, l := range e.lambdas {
		l.violations++
	}
	b := diagnostic.New(kind).At(at.GetSpan()).In(e.fn.Name).Messagef(format, args...)
	if related != nil {
		b.Related(related.GetSpan(), relMsg)
	}
	e.sink.Report(b.Build())
}

// usable reports a use of b at n when b no longer holds its value.
func (e *engine) usable(b *binding, n ast.Node) bool { return e.usablePath(b, nil, n) }

// usablePath is usable for the part of b named by path. Fields that were not
// moved out of a partially moved value stay usable.
func (e *engine) usablePath(b *binding, path []string, n ast.Node) bool {
	if e.cur.dead {
		return true
	}
	s, ok := e.cur.slots[b]
	if !ok {
		return true
	}
	if (s.st == Moved || s.st == MaybeMoved) && s.mask&WholeMask == 0 && len(path) > 0 &&
		s.mask&moveMask(b, path) == 0 {
		return true
	}
	switch s.st {
	case Moved, MaybeMoved, Released:
		switch {
		case s.spawn:
			e.report(diagnostic.CapturedAfterMove, n, s.by, "moved into task here",
				"%q was moved into a spawned task", b.name)
		case s.st == MaybeMoved:
			e.report(diagnostic.UseAfterMove, n, s.by, "moved here",
				"%q may have been moved", b.name)
		default:
			e.report(diagnostic.UseAfterMove, n, s.by, "moved here",
				"use of moved value %q", b.name)
		}
		return false
	}
	return true
}

// captured returns the innermost pipeline lambda for which b is an outer binding.
func (e *engine) captured(b *binding) *lambdaCtx {
	for i := len(e.lambdas) - 1; i >= 0; i-- {
		if b.scope < e.lambdas[i].depth {
			return e.lambdas[i]
		}
	}
	return nil
}

// ====== Places ======

// place resolves a place expression to its root binding and the path of
// field names below the root.
func (e *engine) place(x ast.Expr) (*binding, []string, bool) {
	switch x := x.(type) {
	case *ast.Ident:
		b := e.resolve(x)
		return b, nil, b != nil
	case *ast.Selector:
		b, path, ok := e.place(x.X)
		if !ok {
			return nil, nil, false
		}
		return b, append(path, x.Name), true
	}
	return nil, nil, false
}

func (e *engine) typeOf(x ast.Expr) *types.Type { return e.ref.TypeOf(x) }

func isMove(t *types.Type) bool { return t != nil && !t.IsCopy() }

// moveMask returns the move-mask bits for a move of path out of b.
func moveMask(b *binding, path []string) uint64 {
	if len(path) == 0 {
		return WholeMask
	}
	if _, idx, ok := b.typ.Field(path[0]); ok {
		return FieldMask(idx)
	}
	return WholeMask
}

func (e *engine) move(x ast.Expr, b *binding, path []string) {
	if b.borrow != Owned {
		e.report(diagnostic.AliasConflict, x, b.decl, "declared as a reference here",
			"cannot move out of borrowed %q", b.name)
		return
	}
	if !e.usablePath(b, path, x) {
		return
	}
	if l := e.captured(b); l != nil {
		if l.parallel {
			e.report(diagnostic.ParallelCapture, x, b.decl, "declared here",
				"parallel stage moves captured %q", b.name)
		} else {
			e.report(diagnostic.UseAfterMove, x, b.decl, "declared here",
				"%q is moved inside a stage that runs once per element", b.name)
		}
		return
	}
	e.res.Access[x] = Move
	if e.cur.dead {
		return
	}
	s := e.cur.slots[b]
	if s.st == Owned {
		s.mask = 0
	}
	bit := moveMask(b, path)
	if s.st != MaybeMoved || bit == WholeMask {
		s.st = Moved
	}
	s.by, s.spawn = x, false
	s.mask |= bit
	e.cur.slots[b] = s
}

// ====== Statements ======

// block analyzes b in a new scope. exitDepth is the first scope released when
// control falls off its end.
func (e *engine) block(b *ast.Block, exitDepth int) {
	e.push()
	if exitDepth > len(e.scopes)-1 || exitDepth < 0 {
		exitDepth = len(e.scopes) - 1
	}
	for _, s := range b.Stmts {
		if e.cur.dead {
			break
		}
		e.stmt(s)
	}
	e.plan(b, Fallthrough, exitDepth)
	e.pop()
}

func (e *engine) inner(b *ast.Block) { e.block(b, len(e.scopes)) }

func (e *engine) stmt(s ast.Stmt) {
	switch s := s.(type) {
	case *ast.Block:
		e.inner(s)

	case *ast.Let:
		e.consume(s.Value)
		t := e.ref.Locals[s]
		if t == nil {
			t = e.typeOf(s.Value)
		}
		e.declare(s.Name, t, s, Owned)

	case *ast.Assign:
		e.assign(s)

	case *ast.ExprStmt:
		if _, _, ok := e.place(s.X); ok {
			e.read(s.X)
			return
		}
		e.consume(s.X)
		if t := e.typeOf(s.X); isMove(t) && !e.cur.dead {
			r := newRelease(s.X.String(), t)
			r.Temp = s.X
			e.res.Plans[s] = &ReleasePlan{Exit: Discard, At: s, Releases: []*Release{r}}
		}

	case *ast.Return:
		if s.Value != nil {
			e.consume(s.Value)
		}
		e.plan(s, ReturnExit, 0)
		e.cur = deadFlow()

	case *ast.Break:
		e.loopExit(s, BreakExit)

	case *ast.Continue:
		e.loopExit(s, ContinueExit)

	case *ast.If:
		e.read(s.Cond)
		saved := e.cur.clone()
		e.inner(s.Then)
		then := e.cur
		e.cur = saved
		if s.Else != nil {
			e.inner(s.Else)
		}
		e.cur = join(then, e.cur)

	case *ast.While:
		e.loop(s)

	case *ast.Guard:
		e.read(s.Cond)
		saved := e.cur.clone()
		e.inner(s.Else)
		e.cur = join(saved, e.cur)
	}
}

func (e *engine) loopExit(s ast.Stmt, kind ExitKind) {
	if len(e.loops) == 0 {
		e.cur = deadFlow()
		return
	}
	l := e.loops[len(e.loops)-1]
	e.plan(s, kind, l.depth)
	out := e.cur.clone()
	for b := range out.slots {
		if b.scope >= l.depth {
			delete(out.slots, b)
		}
	}
	if kind == BreakExit {
		l.breaks = append(l.breaks, out)
	} else {
		l.continues = append(l.continues, out)
	}
	e.cur = deadFlow()
}

// loop iterates the body to a fixpoint so moves in one iteration are seen by
// uses in the next.
func (e *engine) loop(s *ast.While) {
	head := e.cur.clone()
	var exit *flow
	for i := 0; i < maxLoopIterations; i++ {
		e.cur = head.clone()
		e.read(s.Cond)
		exit = e.cur.clone()

		l := &loopCtx{depth: len(e.scopes)}
		e.loops = append(e.loops, l)
		e.inner(s.Body)
		e.loops = e.loops[:len(e.loops)-1]

		back := e.cur
		for _, c := range l.continues {
			back = join(back, c)
		}
		for _, b := range l.breaks {
			exit = join(exit, b)
		}
		next := join(head, back)
		if equal(next, head) {
			break
		}
		head = next
	}
	e.cur = exit
}

func (e *engine) assign(s *ast.Assign) {
	e.consume(s.Value)
	b, path, ok := e.place(s.Target)
	if !ok {
		return
	}
	e.res.Access[s.Target] = Mut
	if b.borrow == BorrowedShared {
		e.report(diagnostic.AliasConflict, s.Target, b.decl, "declared as a shared reference here",
			"cannot assign through shared reference %q", b.name)
		return
	}
	if l := e.captured(b); l != nil && l.parallel {
		e.report(diagnostic.ParallelCapture, s.Target, b.decl, "declared here",
			"parallel stage writes captured %q", b.name)
		return
	}
	if e.cur.dead {
		return
	}
	st := e.cur.slots[b]

	if len(path) == 0 {
		if r := e.releaseFor(b); r != nil {
			e.res.Plans[s] = &ReleasePlan{Exit: Overwrite, At: s, Releases: []*Release{r}}
		} else if b.borrow == BorrowedMutable && isMove(b.typ) {
			e.res.Plans[s] = &ReleasePlan{Exit: Overwrite, At: s, Releases: []*Release{newRelease(b.name, b.typ)}}
		}
		e.cur.slots[b] = slot{st: Owned}
		return
	}

	// A field that was moved out is reinitialized without a release.
	bit := moveMask(b, path)
	if st.st == Moved && st.mask&WholeMask == 0 && len(path) == 1 && st.mask&bit != 0 {
		st.mask &^= bit
		if st.mask == 0 {
			st = slot{st: Owned}
		}
		e.cur.slots[b] = st
		return
	}
	if !e.usablePath(b, path, s.Target) {
		return
	}
	if t := e.typeOf(s.Target); isMove(t) {
		r := newRelease(s.Target.String(), t)
		r.Decl, r.Path = b.decl, path
		e.res.Plans[s] = &ReleasePlan{Exit: Overwrite, At: s, Releases: []*Release{r}}
	}
}

// ====== Expressions ======

// read evaluates x for inspection or copy.
func (e *engine) read(x ast.Expr) {
	if b, path, ok := e.place(x); ok {
		if e.usablePath(b, path, x) {
			e.res.Access[x] = Read
		}
		return
	}
	e.eval(x)
}

// consume evaluates x whose value moves into a new owner.
func (e *engine) consume(x ast.Expr) {
	if b, path, ok := e.place(x); ok {
		if isMove(e.typeOf(x)) {
			e.move(x, b, path)
		} else if e.usablePath(b, path, x) {
			e.res.Access[x] = Read
		}
		return
	}
	e.eval(x)
}

func (e *engine) eval(x ast.Expr) {
	switch x := x.(type) {
	case *ast.Binary:
		e.read(x.X)
		e.read(x.Y)
	case *ast.Unary:
		e.read(x.X)
	case *ast.Call:
		e.call(x)
	case *ast.Selector:
		e.read(x.X)
	case *ast.StructLit:
		mark := len(e.pending)
		for _, f := range x.Fields {
			e.consume(f.Value)
			e.hold(f.Value)
		}
		e.pending = e.pending[:mark]
	case *ast.Spawn:
		e.spawn(x)
	case *ast.Try:
		e.eval(x.X)
		if x.Context != nil {
			for _, a := range x.Context.Args {
				e.read(a)
			}
		}
		e.plan(x, ErrorExit, 0)
	case *ast.Old:
		e.read(x.X)
	case *ast.Pipeline:
		e.pipeline(x)
	}
}

// hold records a move-typed temporary awaiting its consumer.
func (e *engine) hold(x ast.Expr) {
	if _, _, ok := e.place(x); ok {
		return
	}
	if isMove(e.typeOf(x)) {
		e.pending = append(e.pending, x)
	}
}

// borrowedTemp schedules the release of a temporary lent to a call; it is
// dropped once the call returns.
func (e *engine) borrowedTemp(x ast.Expr) {
	t := e.typeOf(x)
	if !isMove(t) || e.cur.dead {
		return
	}
	r := newRelease(x.String(), t)
	r.Temp = x
	e.res.Plans[x] = &ReleasePlan{Exit: Discard, At: x, Releases: []*Release{r}}
}

func (e *engine) paramModes(callee string, n int) []ast.ParamMode {
	modes := make([]ast.ParamMode, n)
	if sig := e.env.Funcs[callee]; sig != nil {
		for i := range modes {
			if i < len(sig.Decl.Params) {
				modes[i] = sig.Decl.Params[i].Mode
			}
		}
	}
	return modes
}

// call checks one call's arguments. Borrows last only for the call, so
// exclusivity is checked across this argument list.
func (e *engine) call(c *ast.Call) {
	modes := e.paramModes(c.Callee, len(c.Args))
	shared := make(map[*binding]ast.Node)
	mut := make(map[*binding]ast.Node)
	moved := make(map[*binding]ast.Node)
	mark := len(e.pending)

	for i, arg := range c.Args {
		b, path, ok := e.place(arg)
		if !ok {
			if modes[i] == ast.ByValue {
				e.consume(arg)
				e.hold(arg)
			} else {
				e.read(arg)
				e.hold(arg)
				e.borrowedTemp(arg)
			}
			continue
		}
		switch modes[i] {
		case ast.ByRef:
			if prev := mut[b]; prev != nil {
				e.report(diagnostic.AliasConflict, arg, prev, "mutably borrowed here",
					"cannot borrow %q while it is mutably borrowed", b.name)
			} else if prev := moved[b]; prev != nil {
				e.report(diagnostic.AliasConflict, arg, prev, "moved here",
					"cannot borrow %q after moving it into the same call", b.name)
			} else if e.usablePath(b, path, arg) {
				shared[b] = arg
				e.res.Access[arg] = Shared
			}

		case ast.ByMutRef:
			prev, what := shared[b], "borrowed here"
			if prev == nil {
				prev, what = mut[b], "mutably borrowed here"
			}
			if prev == nil {
				prev, what = moved[b], "moved here"
			}
			switch {
			case prev != nil:
				e.report(diagnostic.AliasConflict, arg, prev, what,
					"cannot mutably borrow %q more than once in the same call", b.name)
			case b.borrow == BorrowedShared:
				e.report(diagnostic.AliasConflict, arg, b.decl, "declared as a shared reference here",
					"cannot mutably borrow through shared reference %q", b.name)
			case e.captured(b) != nil && e.captured(b).parallel:
				e.report(diagnostic.ParallelCapture, arg, b.decl, "declared here",
					"parallel stage mutably borrows captured %q", b.name)
			default:
				if e.usablePath(b, path, arg) {
					mut[b] = arg
					e.res.Access[arg] = Mut
				}
			}

		default:
			if !isMove(e.typeOf(arg)) {
				if e.usablePath(b, path, arg) {
					e.res.Access[arg] = Read
				}
				continue
			}
			prev, what := shared[b], "borrowed here"
			if prev == nil {
				prev, what = mut[b], "mutably borrowed here"
			}
			if prev != nil {
				e.report(diagnostic.AliasConflict, arg, prev, what,
					"cannot move %q while it is borrowed by the same call", b.name)
				continue
			}
			e.move(arg, b, path)
			moved[b] = arg
		}
	}
	e.pending = e.pending[:mark]
}

// spawn moves every free binding of the task body into the task and checks
// the body in a scope of its own.
func (e *engine) spawn(s *ast.Spawn) {
	var caps []*Capture
	var moved []*binding
	for _, id := range ast.FreeVars(s.Body) {
		b := e.lookup(id.Name)
		if b == nil {
			continue
		}
		if b.borrow != Owned {
			e.report(diagnostic.AliasConflict, id, b.decl, "declared as a reference here",
				"cannot move borrowed %q into a task", b.name)
			continue
		}
		if !e.usable(b, id) {
			continue
		}
		if l := e.captured(b); l != nil {
			if l.parallel {
				e.report(diagnostic.ParallelCapture, id, b.decl, "declared here",
					"parallel stage moves captured %q into a task", b.name)
			} else {
				e.report(diagnostic.UseAfterMove, id, b.decl, "declared here",
					"%q is moved into a task once per element", b.name)
			}
			continue
		}
		caps = append(caps, &Capture{Name: b.name, Outer: b.decl, Inner: id, Type: b.typ})
		moved = append(moved, b)
	}
	e.res.Captures[s] = caps
	for _, b := range moved {
		if !e.cur.dead {
			e.cur.slots[b] = slot{st: Moved, mask: WholeMask, by: s, spawn: true}
		}
	}

	scopes, names, cur := e.scopes, e.names, e.cur
	loops, lambdas, pending := e.loops, e.lambdas, e.pending
	e.scopes, e.names, e.cur = nil, nil, newFlow()
	e.loops, e.lambdas, e.pending = nil, nil, nil

	e.push()
	for _, c := range caps {
		e.declare(c.Name, c.Type, c.Inner, Owned)
	}
	e.block(s.Body, 0)
	e.pop()

	e.scopes, e.names, e.cur = scopes, names, cur
	e.loops, e.lambdas, e.pending = loops, lambdas, pending
}

func (e *engine) pipeline(p *ast.Pipeline) {
	e.read(p.Source.Lo)
	e.read(p.Source.Hi)
	elem := e.env.Types.Prim(types.I64)
	for _, st := range p.Stages {
		l := &lambdaCtx{depth: len(e.scopes), parallel: st.Hint == ast.Parallel}
		e.lambdas = append(e.lambdas, l)
		e.push()
		for _, name := range st.Fn.Params {
			e.declare(name, elem, st.Fn, Owned)
		}
		e.read(st.Fn.Body)
		e.pop()
		if t := e.ref.TypeOf(st.Fn); st.Op == ast.MapStage && t != nil {
			elem = t
		}
		e.lambdas = e.lambdas[:len(e.lambdas)-1]
		if l.parallel && l.violations == 0 {
			e.res.Parallel[st] = true
		}
	}
}
