// Package lower turns an analyzed function into the structured IR. Every
// ownership and contract decision made by the earlier passes becomes an
// explicit statement: deferred obligations become guards and assertions,
// release plans become release statements at their exit edges, and moves of
// conditionally owned bindings maintain drop flags.
package lower

import (
	"errors"
	"fmt"

	"github.com/asbel-lang/asbel/internal/ast"
	"github.com/asbel-lang/asbel/internal/contract"
	"github.com/asbel-lang/asbel/internal/ir"
	"github.com/asbel-lang/asbel/internal/obligation"
	"github.com/asbel-lang/asbel/internal/ownership"
	"github.com/asbel-lang/asbel/internal/refine"
	"github.com/asbel-lang/asbel/internal/types"
)

// ErrFatal is returned for functions whose analysis reported fatal diagnostics.
var ErrFatal = errors.New("function has fatal diagnostics")

// Lower emits the IR of one analyzed function and validates it.
func Lower(env *refine.Env, rr *refine.Result, own *ownership.Result, cr *contract.Result) (*ir.Function, error) {
	fn := rr.Func
	if fn.Body == nil {
		return nil, fmt.Errorf("%s: extern functions have no body", fn.Name)
	}
	if rr.Fatal || own.Fatal || cr.Fatal {
		return nil, fmt.Errorf("%s: %w", fn.Name, ErrFatal)
	}

	l := &lowerer{
		env:   env,
		rr:    rr,
		own:   own,
		cr:    cr,
		names: make(map[ast.Node]string),
		used:  make(map[string]int),
		taken: make(map[string]bool),
		flags: make(map[ast.Node]string),
		snaps: make(map[*contract.Snapshot]string),
		temps: make(map[ast.Expr]string),
	}
	out := &ir.Function{
		Name:        fn.Name,
		Result:      typeName(rr.Sig.Result),
		Fails:       fn.Fails,
		Obligations: rr.Obligations.Deferred(),
		Releases:    own.ReleaseCount(),
	}
	for i, p := range fn.Params {
		out.Params = append(out.Params, ir.Param{
			Name: l.declare(p, p.Name),
			Type: typeName(rr.Sig.Params[i]),
			Mode: p.Mode.String(),
		})
	}
	l.root = out

	for _, s := range cr.Snapshots {
		l.snaps[s] = l.reserve(s.Name)
		l.emit(&ir.Snapshot{Name: l.snaps[s], Type: typeName(s.Type), Source: l.pure(s.Expr, l.paramLeaf)})
	}
	for _, s := range fn.Body.Stmts {
		l.stmt(s)
	}
	l.asserts(fn.Body, nil)
	l.releases(own.Plan(fn.Body))
	if !ast.Exits(fn.Body) {
		l.emit(&ir.Return{})
	}
	out.Body = l.out

	if err := ir.Validate(out); err != nil {
		return nil, err
	}
	return out, nil
}

type lowerer struct {
	env *refine.Env
	rr  *refine.Result
	own *ownership.Result
	cr  *contract.Result

	root *ir.Function
	out  []ir.Stmt

	names map[ast.Node]string
	used  map[string]int
	taken map[string]bool
	flags map[ast.Node]string
	snaps map[*contract.Snapshot]string
	temps map[ast.Expr]string
	ntemp int
}

func (l *lowerer) emit(s ir.Stmt) { l.out = append(l.out, s) }

// nested collects the statements emitted by f into a separate list.
func (l *lowerer) nested(f func()) []ir.Stmt {
	saved := l.out
	l.out = nil
	f()
	got := l.out
	l.out = saved
	return got
}

// reserve returns base, or base$N for the first N that no other name of the
// function has taken. Every name the lowerer emits goes through it.
func (l *lowerer) reserve(base string) string {
	name := base
	for l.taken[name] {
		l.used[base]++
		name = fmt.Sprintf("%s$%d", base, l.used[base])
	}
	l.taken[name] = true
	return name
}

// declare gives decl a function-unique name derived from base.
func (l *lowerer) declare(decl ast.Node, base string) string {
	name := l.reserve(base)
	l.names[decl] = name
	return name
}

func (l *lowerer) nameOf(id *ast.Ident) string {
	if decl, ok := l.own.Uses[id]; ok {
		if name, ok := l.names[decl]; ok {
			return name
		}
	}
	return id.Name
}

func (l *lowerer) flagName(decl ast.Node) string {
	if name, ok := l.flags[decl]; ok {
		return name
	}
	name := l.reserve(l.names[decl] + "$moved")
	l.flags[decl] = name
	return name
}

func (l *lowerer) tempName() string {
	name := l.reserve(fmt.Sprintf("$t%d", l.ntemp))
	l.ntemp++
	return name
}

// temp binds v to a fresh local and returns the operand that consumes it.
func (l *lowerer) temp(x ast.Expr, t *types.Type, v ir.Value) ir.Value {
	name := l.tempName()
	l.emit(&ir.Let{Name: name, Type: typeName(t), Value: v})
	l.temps[x] = name
	if t != nil && !t.IsCopy() {
		return ir.Move{Name: name}
	}
	return ir.Var{Name: name}
}

func typeName(t *types.Type) string {
	if t == nil {
		return "unit"
	}
	if p, ok := t.PrimKind(); ok && t.Kind == types.KindPrimitive {
		switch p {
		case types.UntypedInt:
			return "i64"
		case types.UntypedFloat:
			return "f64"
		}
	}
	return t.String()
}

// read turns an operand into a plain copy of the same place.
func read(v ir.Value) ir.Value {
	switch v := v.(type) {
	case ir.Move:
		return ir.Var{Name: v.Name, Path: v.Path}
	case ir.Borrow:
		return ir.Var{Name: v.Name, Path: v.Path}
	}
	return v
}

// ====== Statements ======

func (l *lowerer) block(b *ast.Block) {
	for _, s := range b.Stmts {
		l.stmt(s)
	}
	l.releases(l.own.Plan(b))
}

func (l *lowerer) stmt(s ast.Stmt) {
	switch s := s.(type) {
	case *ast.Block:
		l.block(s)

	case *ast.Let:
		v := l.value(s.Value)
		name := l.declare(s, s.Name)
		l.emit(&ir.Let{Name: name, Type: typeName(l.rr.Locals[s]), Value: v})
		if l.own.Flags[s] {
			l.emit(&ir.Flag{Name: l.flagName(s), Reset: true})
		}

	case *ast.Assign:
		l.assign(s)

	case *ast.ExprStmt:
		if c, ok := s.X.(*ast.Call); ok {
			l.call(c, true)
		} else {
			l.value(s.X)
		}
		l.releases(l.own.Plan(s))

	case *ast.Return:
		var v ir.Value
		if s.Value != nil {
			v = l.value(s.Value)
		}
		if !s.Err {
			l.asserts(s, v)
		}
		l.releases(l.own.Plan(s))
		if s.Err {
			l.emit(&ir.Fail{Value: v})
		} else {
			l.emit(&ir.Return{Value: v})
		}

	case *ast.Break:
		l.releases(l.own.Plan(s))
		l.emit(&ir.Break{})

	case *ast.Continue:
		l.releases(l.own.Plan(s))
		l.emit(&ir.Continue{})

	case *ast.If:
		c := l.value(s.Cond)
		then := l.nested(func() { l.block(s.Then) })
		var els []ir.Stmt
		if s.Else != nil {
			els = l.nested(func() { l.block(s.Else) })
		}
		l.emit(&ir.If{Cond: read(c), Then: then, Else: els})

	case *ast.While:
		var c ir.Value
		pre := l.nested(func() { c = l.value(s.Cond) })
		body := l.nested(func() { l.block(s.Body) })
		l.emit(&ir.Loop{Pre: pre, Cond: read(c), Body: body})

	case *ast.Guard:
		c := l.value(s.Cond)
		els := l.nested(func() { l.block(s.Else) })
		l.emit(&ir.If{Cond: ir.Unary{Operator: "not", X: read(c), Type: "bool"}, Then: els})
	}
}

func (l *lowerer) assign(s *ast.Assign) {
	v := l.value(s.Value)
	root, ok := ast.Root(s.Target)
	if !ok {
		return
	}
	var path []string
	if sel, ok := s.Target.(*ast.Selector); ok {
		path = selectorPath(sel)
	}
	l.releases(l.own.Plan(s))
	l.emit(&ir.Set{Name: l.nameOf(root), Path: path, Value: v})

	decl := l.own.Uses[root]
	if !l.own.Flags[decl] {
		return
	}
	if len(path) == 0 {
		l.emit(&ir.Flag{Name: l.flagName(decl), Reset: true})
		return
	}
	if _, idx, ok := l.rr.TypeOf(root).Field(path[0]); ok {
		l.emit(&ir.Flag{Name: l.flagName(decl), Clear: ownership.FieldMask(idx)})
	}
}

func selectorPath(e ast.Expr) []string {
	sel, ok := e.(*ast.Selector)
	if !ok {
		return nil
	}
	return append(selectorPath(sel.X), sel.Name)
}

// ====== Releases ======

func (l *lowerer) releases(p *ownership.ReleasePlan) {
	if p == nil {
		return
	}
	for _, r := range p.Releases {
		rel := &ir.Release{
			Path:       r.Path,
			Kind:       r.Kind.String(),
			Func:       r.Func,
			DeadlineMS: r.DeadlineMS,
			Skip:       r.SkipFields,
		}
		if r.Temp != nil {
			rel.Name = l.temps[r.Temp]
		} else {
			rel.Name = l.names[r.Decl]
		}
		if r.Conditional {
			rel.Flag = l.flagName(r.Decl)
		}
		l.emit(rel)
	}
}

// ====== Expressions ======

// value lowers x to an operand, emitting the runtime checks anchored at it.
func (l *lowerer) value(x ast.Expr) ir.Value {
	v := l.operand(x)
	for _, o := range l.rr.Obligations.DeferredAt(x) {
		if o.Source != obligation.Refinement {
			continue
		}
		it := read(v)
		l.emit(&ir.Guard{
			Obligation: o.ID,
			Source:     o.Source.String(),
			Cond: l.pure(o.Check, func(e ast.Expr) ir.Value {
				if id, ok := e.(*ast.Ident); ok && id.Name == ast.ItName {
					return it
				}
				return nil
			}),
			Message: fmt.Sprintf("%s is not a valid %s", x, o.Target),
		})
	}
	return v
}

func (l *lowerer) operand(x ast.Expr) ir.Value {
	switch x := x.(type) {
	case *ast.IntLit:
		return ir.Const{Type: typeName(l.rr.TypeOf(x)), Val: x.Value}
	case *ast.FloatLit:
		return ir.Const{Type: typeName(l.rr.TypeOf(x)), Val: x.Value}
	case *ast.BoolLit:
		return ir.Const{Type: "bool", Val: x.Value}
	case *ast.StringLit:
		return ir.Const{Type: "str", Val: x.Value}
	case *ast.Ident, *ast.Selector:
		return l.place(x)
	case *ast.Binary:
		return l.binary(x)
	case *ast.Unary:
		v := l.value(x.X)
		return l.temp(x, l.rr.TypeOf(x), ir.Unary{Operator: x.Op.String(), X: read(v), Type: typeName(l.rr.TypeOf(x))})
	case *ast.Call:
		return l.call(x, false)
	case *ast.StructLit:
		return l.alloc(x)
	case *ast.Spawn:
		return l.spawn(x)
	case *ast.Try:
		return l.try(x)
	case *ast.Pipeline:
		return l.pipeline(x)
	}
	return ir.Const{Type: "unit"}
}

// place lowers an identifier or field chain according to the access the
// ownership engine recorded for it.
func (l *lowerer) place(x ast.Expr) ir.Value {
	root, ok := ast.Root(x)
	if !ok {
		sel := x.(*ast.Selector)
		base := read(l.value(sel.X))
		if v, ok := base.(ir.Var); ok {
			return ir.Var{Name: v.Name, Path: append(append([]string(nil), v.Path...), sel.Name)}
		}
		return base
	}
	name, path := l.nameOf(root), selectorPath(x)
	switch l.own.Access[x] {
	case ownership.Move:
		l.moved(root, path)
		return ir.Move{Name: name, Path: path}
	case ownership.Shared:
		return ir.Borrow{Name: name, Path: path}
	case ownership.Mut:
		return ir.Borrow{Name: name, Path: path, Mut: true}
	}
	return ir.Var{Name: name, Path: path}
}

// moved records a move in the drop flag of a conditionally owned binding.
func (l *lowerer) moved(root *ast.Ident, path []string) {
	decl := l.own.Uses[root]
	if !l.own.Flags[decl] {
		return
	}
	bit := ownership.WholeMask
	if len(path) > 0 {
		if _, idx, ok := l.rr.TypeOf(root).Field(path[0]); ok {
			bit = ownership.FieldMask(idx)
		}
	}
	l.emit(&ir.Flag{Name: l.flagName(decl), Set: bit})
}

func (l *lowerer) binary(x *ast.Binary) ir.Value {
	t := l.rr.TypeOf(x)
	if x.Op == ast.And || x.Op == ast.Or {
		name := l.tempName()
		l.emit(&ir.Let{Name: name, Type: "bool", Value: read(l.value(x.X))})
		rhs := l.nested(func() {
			l.emit(&ir.Set{Name: name, Value: read(l.value(x.Y))})
		})
		var cond ir.Value = ir.Var{Name: name}
		if x.Op == ast.Or {
			cond = ir.Unary{Operator: "not", X: cond, Type: "bool"}
		}
		l.emit(&ir.If{Cond: cond, Then: rhs})
		l.temps[x] = name
		return ir.Var{Name: name}
	}
	a := read(l.value(x.X))
	b := read(l.value(x.Y))
	return l.temp(x, t, ir.Binary{Operator: x.Op.String(), X: a, Y: b, Type: typeName(t)})
}

// call lowers a call. Requires guards run after the arguments are evaluated
// and before control enters the callee. With discard set, unit calls become
// plain evaluations.
func (l *lowerer) call(c *ast.Call, discard bool) ir.Value {
	sig := l.env.Funcs[c.Callee]
	args := make([]ir.Value, len(c.Args))
	for i, a := range c.Args {
		v := l.value(a)
		if sig != nil && i < len(sig.Decl.Params) && sig.Decl.Params[i].Mode != ast.ByValue {
			if m, ok := v.(ir.Move); ok {
				v = ir.Borrow{Name: m.Name, Path: m.Path, Mut: sig.Decl.Params[i].Mode == ast.ByMutRef}
			}
		}
		args[i] = v
	}

	for _, o := range l.rr.Obligations.DeferredAt(c) {
		if o.Source != obligation.Requires || sig == nil {
			continue
		}
		l.emit(&ir.Guard{
			Obligation: o.ID,
			Source:     o.Source.String(),
			Cond: l.pure(o.Check, func(e ast.Expr) ir.Value {
				if id, ok := e.(*ast.Ident); ok {
					if i := sig.ParamIndex(id.Name); i >= 0 && i < len(args) {
						return read(args[i])
					}
				}
				return nil
			}),
			Message: fmt.Sprintf("%s requires %s", c.Callee, o.Check),
		})
	}

	fails := sig != nil && sig.Decl.Fails
	call := ir.Call{Callee: c.Callee, Args: args, Fails: fails}
	t := l.rr.TypeOf(c)
	var out ir.Value
	switch {
	case fails:
		name := l.tempName()
		l.emit(&ir.Let{Name: name, Type: "Result[" + typeName(t) + "]", Value: call})
		l.temps[c] = name
		out = ir.Var{Name: name}
	case discard && (t == nil || typeName(t) == "unit"):
		l.emit(&ir.Eval{Value: call})
	default:
		out = l.temp(c, t, call)
	}

	// temporaries lent to the call are dropped once it returns
	for _, a := range c.Args {
		l.releases(l.own.Plan(a))
	}
	return out
}

func (l *lowerer) alloc(x *ast.StructLit) ir.Value {
	a := ir.Alloc{Type: x.Type}
	vals := make(map[string]ir.Value, len(x.Fields))
	for _, f := range x.Fields {
		vals[f.Name] = l.value(f.Value)
	}
	t := l.rr.TypeOf(x)
	u := t.Underlying()
	// declaration order; FieldMask bits index it
	if u != nil && len(u.Fields) == len(x.Fields) {
		for _, f := range u.Fields {
			a.Fields = append(a.Fields, ir.FieldValue{Name: f.Name, Value: vals[f.Name]})
		}
	} else {
		for _, f := range x.Fields {
			a.Fields = append(a.Fields, ir.FieldValue{Name: f.Name, Value: vals[f.Name]})
		}
	}
	if u != nil && u.Resource.Kind != types.NoResource {
		a.Resource = &ir.Resource{Kind: u.Resource.Kind.String(), Func: u.Resource.Func, DeadlineMS: u.Resource.DeadlineMS}
	}
	return l.temp(x, t, a)
}

// spawn lowers the task body into a separate function of the root and
// moves the captured bindings into it.
func (l *lowerer) spawn(s *ast.Spawn) ir.Value {
	caps := l.own.Captures[s]
	idx := len(l.root.Tasks)
	task := &ir.Function{Name: fmt.Sprintf("%s$task%d", l.root.Name, idx), Result: "unit"}
	l.root.Tasks = append(l.root.Tasks, task)

	var outer []string
	for _, c := range caps {
		outer = append(outer, l.names[c.Outer])
		if l.own.Flags[c.Outer] {
			l.emit(&ir.Flag{Name: l.flagName(c.Outer), Set: ownership.WholeMask})
		}
	}

	task.Body = l.nested(func() {
		for _, c := range caps {
			task.Params = append(task.Params, ir.Param{
				Name: l.declare(c.Inner, c.Name),
				Type: typeName(c.Type),
				Mode: ast.ByValue.String(),
			})
		}
		l.block(s.Body)
		if !ast.Exits(s.Body) {
			l.emit(&ir.Return{})
		}
	})

	return l.temp(s, l.rr.TypeOf(s), ir.Spawn{Task: idx, Captures: outer})
}

// try unwraps a failing call; on error the pending releases run and the
// error leaves the function with its context attached.
func (l *lowerer) try(x *ast.Try) ir.Value {
	src := read(l.value(x.X))
	srcVar, ok := src.(ir.Var)
	if !ok || len(srcVar.Path) > 0 {
		name := l.tempName()
		l.emit(&ir.Let{Name: name, Type: typeName(l.rr.TypeOf(x.X)), Value: src})
		srcVar = ir.Var{Name: name}
	}

	var ctx *ir.ContextInfo
	if x.Context != nil {
		ctx = &ir.ContextInfo{Format: x.Context.Format}
		for _, a := range x.Context.Args {
			ctx.Args = append(ctx.Args, read(l.value(a)))
		}
	}
	onErr := l.nested(func() { l.releases(l.own.Plan(x)) })

	t := l.rr.TypeOf(x)
	dst := l.tempName()
	l.emit(&ir.Propagate{Src: srcVar.Name, Dst: dst, Type: typeName(t), Context: ctx, OnError: onErr})
	l.temps[x] = dst
	if t != nil && !t.IsCopy() {
		return ir.Move{Name: dst}
	}
	return ir.Var{Name: dst}
}

func (l *lowerer) pipeline(p *ast.Pipeline) ir.Value {
	lo := read(l.value(p.Source.Lo))
	hi := read(l.value(p.Source.Hi))
	pl := &ir.ParLoop{Lo: lo, Hi: hi, Sink: p.Sink.String(), Type: typeName(l.rr.TypeOf(p))}
	for _, st := range p.Stages {
		stage := &ir.Stage{Kind: st.Op.String(), Parallel: l.own.Parallel[st]}
		if len(st.Fn.Params) > 0 {
			stage.Param = l.declare(st.Fn, st.Fn.Params[0])
		}
		stage.Body = l.nested(func() { stage.Result = read(l.value(st.Fn.Body)) })
		pl.Stages = append(pl.Stages, stage)
	}
	pl.Dst = l.tempName()
	l.emit(pl)
	l.temps[p] = pl.Dst
	return ir.Var{Name: pl.Dst}
}

// ====== Contracts ======

// asserts emits the deferred ensures checks anchored at a return or at the
// function body for fallthrough. v is the returned value.
func (l *lowerer) asserts(at ast.Node, v ir.Value) {
	for _, o := range l.rr.Obligations.DeferredAt(at) {
		if o.Source != obligation.Ensures {
			continue
		}
		l.emit(&ir.Assert{
			Obligation: o.ID,
			Cond: l.pure(o.Check, func(e ast.Expr) ir.Value {
				switch e := e.(type) {
				case *ast.Ident:
					if e.Name == ast.ResultName && v != nil {
						return read(v)
					}
				case *ast.Old:
					if s := l.cr.Snapshot(e); s != nil {
						return ir.Var{Name: l.snaps[s]}
					}
				}
				return nil
			}),
			Message: fmt.Sprintf("%s ensures %s", l.rr.Func.Name, o.Check),
		})
	}
}

func (l *lowerer) paramLeaf(e ast.Expr) ir.Value {
	if id, ok := e.(*ast.Ident); ok {
		if p := l.rr.Func.Param(id.Name); p != nil {
			return ir.Var{Name: l.names[p]}
		}
	}
	return nil
}

// pure converts a predicate into an IR expression tree. leaf resolves the
// names and snapshots bound by the predicate's context.
func (l *lowerer) pure(e ast.Expr, leaf func(ast.Expr) ir.Value) ir.Value {
	if v := leaf(e); v != nil {
		return v
	}
	switch e := e.(type) {
	case *ast.IntLit:
		return ir.Const{Type: "i64", Val: e.Value}
	case *ast.FloatLit:
		return ir.Const{Type: "f64", Val: e.Value}
	case *ast.BoolLit:
		return ir.Const{Type: "bool", Val: e.Value}
	case *ast.StringLit:
		return ir.Const{Type: "str", Val: e.Value}
	case *ast.Binary:
		return ir.Binary{Operator: e.Op.String(), X: l.pure(e.X, leaf), Y: l.pure(e.Y, leaf)}
	case *ast.Unary:
		return ir.Unary{Operator: e.Op.String(), X: l.pure(e.X, leaf)}
	case *ast.Call:
		c := ir.Call{Callee: e.Callee}
		for _, a := range e.Args {
			c.Args = append(c.Args, l.pure(a, leaf))
		}
		return c
	case *ast.Selector:
		if v, ok := l.pure(e.X, leaf).(ir.Var); ok {
			return ir.Var{Name: v.Name, Path: append(append([]string(nil), v.Path...), e.Name)}
		}
	case *ast.Ident:
		return ir.Var{Name: e.Name}
	}
	return ir.Const{Type: "bool", Val: true}
}
