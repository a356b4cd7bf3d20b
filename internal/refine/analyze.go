package refine

import (
	"math"

	"github.com/asbel-lang/asbel/internal/ast"
	"github.com/asbel-lang/asbel/internal/diagnostic"
	"github.com/asbel-lang/asbel/internal/obligation"
	"github.com/asbel-lang/asbel/internal/types"
)

// Options tune the resolver.
type Options struct {
	// WarnDeferred reports a DeferredCheck warning for every runtime check.
	WarnDeferred bool
}

// Result is the per-function output of the resolver.
type Result struct {
	Func        *ast.FuncDecl
	Sig         *Signature
	Obligations *obligation.Set
	Types       map[ast.Expr]*types.Type
	Intervals   map[ast.Expr]types.Interval
	Locals      map[*ast.Let]*types.Type
	Fatal       bool
}

// TypeOf returns the static type recorded for e, or nil.
func (r *Result) TypeOf(e ast.Expr) *types.Type { return r.Types[e] }

// ValueOf returns the abstract value recorded for e.
func (r *Result) ValueOf(e ast.Expr) Value {
	iv, ok := r.Intervals[e]
	if !ok {
		iv = types.Full()
	}
	return Value{Iv: iv, Int: isInteger(r.Types[e])}
}

func isInteger(t *types.Type) bool {
	p, ok := t.PrimKind()
	return ok && p.IsInteger()
}

// ====== Scopes ======

type binding struct {
	name    string
	typ     *types.Type
	mutable bool
}

type scope struct {
	parent *scope
	names  map[string]*binding
}

func (s *scope) lookup(name string) *binding {
	for ; s != nil; s = s.parent {
		if b, ok := s.names[name]; ok {
			return b
		}
	}
	return nil
}

type facts map[*binding]types.Interval

func (f facts) clone() facts {
	out := make(facts, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

type analyzer struct {
	env   *Env
	opts  Options
	sink  diagnostic.Sink
	fn    *ast.FuncDecl
	res   *Result
	scope *scope
	facts facts
	// tasks counts the spawn bodies enclosing the current statement.
	tasks int
}

// Analyze runs interval propagation over fn and records its obligations.
func Analyze(env *Env, fn *ast.FuncDecl, opts Options, sink diagnostic.Sink) *Result {
	res := &Result{
		Func:        fn,
		Sig:         env.Funcs[fn.Name],
		Obligations: obligation.NewSet(),
		Types:       make(map[ast.Expr]*types.Type),
		Intervals:   make(map[ast.Expr]types.Interval),
		Locals:      make(map[*ast.Let]*types.Type),
	}
	if res.Sig == nil {
		// The signature failed to resolve and has already been reported.
		res.Fatal = true
		return res
	}

	a := &analyzer{env: env, opts: opts, sink: sink, fn: fn, res: res, facts: make(facts)}
	a.push()
	for i, p := range fn.Params {
		a.bind(p.Name, res.Sig.Params[i], p.Mutable, res.Sig.Params[i].Interval())
	}
	if fn.Body != nil {
		a.block(fn.Body)
	}
	return res
}

func (a *analyzer) push() { a.scope = &scope{parent: a.scope, names: make(map[string]*binding)} }
func (a *analyzer) pop()  { a.scope = a.scope.parent }

func (a *analyzer) bind(name string, t *types.Type, mutable bool, iv types.Interval) *binding {
	b := &binding{name: name, typ: t, mutable: mutable}
	a.scope.names[name] = b
	if t != nil && t.IsNumeric() {
		a.facts[b] = iv
	}
	return b
}

func (a *analyzer) fact(b *binding) types.Interval {
	if iv, ok := a.facts[b]; ok {
		return iv
	}
	if b.typ == nil {
		return types.Full()
	}
	return b.typ.Interval()
}

func (a *analyzer) report(d *diagnostic.Diagnostic) {
	if d.IsFatal() {
		a.res.Fatal = true
	}
	a.sink.Report(d)
}

func (a *analyzer) unresolved(n ast.Node, format string, args ...interface{}) {
	a.report(diagnostic.New(diagnostic.UnresolvedName).At(n.GetSpan()).Messagef(format, args...).In(a.fn.Name).Build())
}

func (a *analyzer) prim(k types.PrimKind) *types.Type { return a.env.Types.Prim(k) }

// concrete gives untyped literals their default type.
func (a *analyzer) concrete(t *types.Type) *types.Type {
	if t == nil || t.Kind != types.KindPrimitive {
		return t
	}
	switch t.Prim {
	case types.UntypedInt:
		return a.prim(types.I64)
	case types.UntypedFloat:
		return a.prim(types.F64)
	}
	return t
}

// ====== Statements ======

func (a *analyzer) block(b *ast.Block) {
	a.push()
	defer a.pop()
	for _, s := range b.Stmts {
		a.stmt(s)
	}
}

func (a *analyzer) stmt(s ast.Stmt) {
	switch s := s.(type) {
	case *ast.Block:
		a.block(s)

	case *ast.Let:
		vt, iv := a.expr(s.Value)
		t := a.concrete(vt)
		if s.Type != nil {
			declared, err := a.env.Resolve(s.Type)
			if err != nil {
				a.reportErr(err)
			} else {
				t = declared
				a.obligate(s.Value, vt, iv, t)
				iv = a.narrowTo(iv, t)
			}
		}
		a.res.Locals[s] = t
		a.bind(s.Name, t, s.Mutable, iv)

	case *ast.Assign:
		vt, iv := a.expr(s.Value)
		if id, ok := s.Target.(*ast.Ident); ok {
			b := a.scope.lookup(id.Name)
			if b == nil {
				a.unresolved(id, "undefined name %q", id.Name)
				return
			}
			a.res.Types[id] = b.typ
			a.res.Intervals[id] = a.fact(b)
			a.obligate(s.Value, vt, iv, b.typ)
			if b.typ != nil && b.typ.IsNumeric() {
				a.facts[b] = a.narrowTo(iv, b.typ)
			}
			return
		}
		tt, _ := a.expr(s.Target)
		a.obligate(s.Value, vt, iv, tt)

	case *ast.ExprStmt:
		a.expr(s.X)

	case *ast.Return:
		if s.Value == nil {
			return
		}
		vt, iv := a.expr(s.Value)
		// A task's return value is discarded, not the function result.
		if !s.Err && a.tasks == 0 {
			a.obligate(s.Value, vt, iv, a.res.Sig.Result)
		}

	case *ast.Break, *ast.Continue:

	case *ast.If:
		a.expr(s.Cond)
		saved := a.facts.clone()

		a.narrow(s.Cond, true)
		a.block(s.Then)
		thenFacts, thenExits := a.facts, ast.Exits(s.Then)

		a.facts = saved.clone()
		a.narrow(s.Cond, false)
		if s.Else != nil {
			a.block(s.Else)
		}
		elseFacts, elseExits := a.facts, s.Else != nil && ast.Exits(s.Else)

		switch {
		case thenExits && !elseExits:
			a.facts = elseFacts
		case elseExits && !thenExits:
			a.facts = thenFacts
		case thenExits && elseExits:
			a.facts = saved
		default:
			a.facts = join(thenFacts, elseFacts)
		}

	case *ast.While:
		for _, b := range a.assigned(s.Body) {
			if b.typ != nil && b.typ.IsNumeric() {
				a.facts[b] = b.typ.Interval()
			}
		}
		a.expr(s.Cond)
		saved := a.facts.clone()
		a.narrow(s.Cond, true)
		a.block(s.Body)
		a.facts = saved
		if !breaks(s.Body) {
			a.narrow(s.Cond, false)
		}

	case *ast.Guard:
		a.expr(s.Cond)
		saved := a.facts.clone()
		a.narrow(s.Cond, false)
		a.block(s.Else)
		if !ast.Exits(s.Else) {
			a.report(diagnostic.New(diagnostic.MissingExit).At(s.Span).
				Messagef("guard else block must end in return, break or continue").In(a.fn.Name).Build())
		}
		a.facts = saved
		a.narrow(s.Cond, true)
	}
}

func (a *analyzer) reportErr(err error) {
	if re, ok := err.(*ResolveError); ok {
		a.report(re.Diagnostic(a.fn.Name))
		return
	}
	a.report(diagnostic.New(diagnostic.UnresolvedName).Messagef("%v", err).In(a.fn.Name).Build())
}

// narrowTo restricts a value interval to what a binding of type t can hold
// once its obligation has been met.
func (a *analyzer) narrowTo(iv types.Interval, t *types.Type) types.Interval {
	if t == nil || !t.IsNumeric() {
		return iv
	}
	iv = iv.Intersect(t.Interval())
	if isInteger(t) {
		iv = iv.Integer()
	}
	return iv
}

func join(x, y facts) facts {
	out := make(facts, len(x))
	for b, iv := range x {
		if other, ok := y[b]; ok {
			out[b] = iv.Union(other)
		}
	}
	return out
}

// assigned returns the visible bindings assigned anywhere in body, directly
// or through a &mut argument.
func (a *analyzer) assigned(body *ast.Block) []*binding {
	var out []*binding
	seen := make(map[*binding]bool)
	add := func(b *binding) {
		if b != nil && !seen[b] {
			seen[b] = true
			out = append(out, b)
		}
	}
	ast.Inspect(body, func(n ast.Node) bool {
		switch n := n.(type) {
		case *ast.Assign:
			if id, ok := n.Target.(*ast.Ident); ok {
				add(a.scope.lookup(id.Name))
			}
		case *ast.Call:
			for _, b := range a.mutArgs(n) {
				add(b)
			}
		}
		return true
	})
	return out
}

// breaks reports whether body contains a break that targets its own loop.
func breaks(body *ast.Block) bool {
	found := false
	ast.Inspect(body, func(n ast.Node) bool {
		switch n.(type) {
		case *ast.Break:
			found = true
		case *ast.While, *ast.Spawn, *ast.Lambda:
			return false
		}
		return !found
	})
	return found
}

// ====== Flow narrowing ======

// narrow applies the facts implied by cond evaluating to positive.
func (a *analyzer) narrow(cond ast.Expr, positive bool) {
	switch c := cond.(type) {
	case *ast.Unary:
		if c.Op == ast.Not {
			a.narrow(c.X, !positive)
		}
	case *ast.Binary:
		switch {
		case c.Op == ast.And && positive, c.Op == ast.Or && !positive:
			a.narrow(c.X, positive)
			a.narrow(c.Y, positive)
		case c.Op.IsComparison():
			op := c.Op
			if !positive {
				op = op.Negate()
			}
			a.narrowCmp(c.X, op, c.Y)
			a.narrowCmp(c.Y, op.Flip(), c.X)
		}
	}
}

func (a *analyzer) narrowCmp(x ast.Expr, op ast.BinaryOp, y ast.Expr) {
	id, ok := x.(*ast.Ident)
	if !ok {
		return
	}
	b := a.scope.lookup(id.Name)
	if b == nil || b.typ == nil || !b.typ.IsNumeric() {
		return
	}
	other, ok := a.res.Intervals[y]
	if !ok {
		return
	}

	inf := math.Inf(1)
	var bound types.Interval
	switch op {
	case ast.Lt:
		bound = types.Interval{Lo: -inf, LoOpen: true, Hi: other.Hi, HiOpen: true}
	case ast.Le:
		bound = types.Interval{Lo: -inf, LoOpen: true, Hi: other.Hi, HiOpen: other.HiOpen}
	case ast.Gt:
		bound = types.Interval{Lo: other.Lo, LoOpen: true, Hi: inf, HiOpen: true}
	case ast.Ge:
		bound = types.Interval{Lo: other.Lo, LoOpen: other.LoOpen, Hi: inf, HiOpen: true}
	case ast.Eq:
		bound = other
	default:
		return
	}

	iv := a.fact(b).Intersect(bound)
	if isInteger(b.typ) {
		iv = iv.Integer()
	}
	a.facts[b] = iv
}
