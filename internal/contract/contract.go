// Package contract verifies requires and ensures clauses. Requires clauses are
// checked at every call site against the resolver's argument intervals;
// ensures clauses are checked at every successful return. Whatever cannot be
// decided statically becomes a deferred obligation the emitter turns into a
// runtime guard or assertion.
package contract

import (
	"fmt"

	"github.com/asbel-lang/asbel/internal/ast"
	"github.com/asbel-lang/asbel/internal/diagnostic"
	"github.com/asbel-lang/asbel/internal/obligation"
	"github.com/asbel-lang/asbel/internal/refine"
	"github.com/asbel-lang/asbel/internal/types"
)

// Snapshot is an entry-time copy of a scalar parameter or parameter field,
// referenced by old() in ensures clauses.
type Snapshot struct {
	Name string // e.g. old$0
	Expr ast.Expr
	Type *types.Type
}

// Context is a `?` site with a context clause.
type Context struct {
	Try    *ast.Try
	Format string
	Args   []ast.Expr
}

// Result is the per-function output of the verifier. Obligations are added to
// the resolver's set so a function has one numbering.
type Result struct {
	Func      *ast.FuncDecl
	Requires  []*obligation.Obligation // call sites inside this function
	Ensures   []*obligation.Obligation // returns of this function
	Snapshots []*Snapshot
	Contexts  []*Context

	// Valid marks the ensures clauses of this function that passed validation.
	Valid []bool

	Fatal bool

	snaps map[string]*Snapshot
}

// Snapshot returns the snapshot taken for old(x), or nil.
func (r *Result) Snapshot(o *ast.Old) *Snapshot {
	return r.snaps[o.X.String()]
}

type verifier struct {
	env  *refine.Env
	ref  *refine.Result
	sink diagnostic.Sink
	fn   *ast.FuncDecl
	res  *Result
}

// Verify checks the contracts reachable from fn.
func Verify(env *refine.Env, ref *refine.Result, sink diagnostic.Sink) *Result {
	fn := ref.Func
	v := &verifier{env: env, ref: ref, sink: sink, fn: fn, res: &Result{Func: fn, snaps: make(map[string]*Snapshot)}}
	if ref.Sig == nil {
		return v.res
	}
	for _, c := range fn.Requires {
		if err := refine.ValidatePredicate(c.Expr, v.requiresLeaf(fn)); err != nil {
			v.report(diagnostic.New(diagnostic.InvalidPredicate).At(c.Span).
				Messagef("requires %s: %v", c.Expr, err))
		}
	}
	v.res.Valid = make([]bool, len(fn.Ensures))
	for i, c := range fn.Ensures {
		v.res.Valid[i] = v.validateEnsures(c)
	}
	if fn.Body == nil {
		return v.res
	}

	ast.Inspect(fn.Body, func(n ast.Node) bool {
		switch n := n.(type) {
		case *ast.Call:
			v.callSite(n)
		case *ast.Try:
			if n.Context != nil {
				v.res.Contexts = append(v.res.Contexts, &Context{Try: n, Format: n.Context.Format, Args: n.Context.Args})
			}
		}
		return true
	})
	v.returns(fn.Body)
	if len(fn.Ensures) > 0 && !ast.Exits(fn.Body) {
		v.ensuresAt(fn.Body, nil)
	}
	return v.res
}

func (v *verifier) report(b *diagnostic.Builder) {
	d := b.In(v.fn.Name).Build()
	if d.IsFatal() {
		v.res.Fatal = true
	}
	v.sink.Report(d)
}

// ====== Requires ======

// requiresLeaf accepts the parameters of fn and their fields.
func (v *verifier) requiresLeaf(fn *ast.FuncDecl) func(ast.Expr) error {
	return func(e ast.Expr) error {
		root, ok := ast.Root(e)
		if !ok {
			return fmt.Errorf("old() is only valid in ensures clauses")
		}
		if fn.Param(root.Name) == nil {
			return fmt.Errorf("%q is not a parameter of %s", root.Name, fn.Name)
		}
		return nil
	}
}

func (v *verifier) callSite(call *ast.Call) {
	sig := v.env.Funcs[call.Callee]
	if sig == nil || len(sig.Decl.Requires) == 0 || len(call.Args) != len(sig.Params) {
		return
	}
	lookup := v.argLookup(sig, call)
	for i, c := range sig.Decl.Requires {
		if refine.ValidatePredicate(c.Expr, v.requiresLeaf(sig.Decl)) != nil {
			continue
		}
		o := &obligation.Obligation{
			Source: obligation.Requires,
			Anchor: call,
			Span:   call.Span,
			Check:  c.Expr,
			Callee: call.Callee,
			Clause: i,
		}
		switch refine.Truth(c.Expr, lookup) {
		case types.True:
			o.Status, o.Proof = obligation.Discharged, "argument intervals"
		case types.False:
			if v.constantArgs(call) {
				o.Status = obligation.Violated
				v.report(diagnostic.New(diagnostic.ContractViolation).At(call.Span).
					Messagef("call to %s violates requires %s", call.Callee, c.Expr).
					Related(c.Span, "requirement declared here"))
			} else {
				o.Status = obligation.Deferred
				v.report(diagnostic.New(diagnostic.AlwaysFails).Warning().At(call.Span).
					Messagef("call to %s can never satisfy requires %s", call.Callee, c.Expr))
			}
		default:
			o.Status = obligation.Deferred
		}
		v.ref.Obligations.Add(o)
		v.res.Requires = append(v.res.Requires, o)
	}
}

// argLookup maps the callee's parameter names to the caller's argument values.
func (v *verifier) argLookup(sig *refine.Signature, call *ast.Call) refine.Lookup {
	return func(e ast.Expr) (refine.Value, bool) {
		root, ok := ast.Root(e)
		if !ok {
			return refine.Value{}, false
		}
		idx := sig.ParamIndex(root.Name)
		if idx < 0 {
			return refine.Value{}, false
		}
		if root == e {
			return v.ref.ValueOf(call.Args[idx]), true
		}
		t := fieldType(sig.Params[idx], e)
		if t == nil {
			return refine.Value{}, false
		}
		return typeValue(t), true
	}
}

func (v *verifier) constantArgs(call *ast.Call) bool {
	for _, a := range call.Args {
		if _, ok := v.ref.ValueOf(a).Iv.Constant(); !ok {
			if v.ref.TypeOf(a).IsNumeric() {
				return false
			}
		}
	}
	return true
}

// ====== Ensures ======

func (v *verifier) validateEnsures(c *ast.Clause) bool {
	ok := true
	err := refine.ValidatePredicate(c.Expr, func(e ast.Expr) error {
		switch e := e.(type) {
		case *ast.Old:
			if !v.snapshot(e) {
				ok = false
			}
			return nil
		}
		root, _ := ast.Root(e)
		switch {
		case root != nil && root.Name == ast.ResultName:
			return nil
		case root != nil && v.fn.Param(root.Name) != nil:
			ok = false
			v.report(diagnostic.New(diagnostic.InvalidSnapshot).At(e.GetSpan()).
				Messagef("ensures may reference %q only through old(%s)", root.Name, e))
			return nil
		}
		return fmt.Errorf("%s is not %q, a builtin or an old() snapshot", e, ast.ResultName)
	})
	if err != nil {
		v.report(diagnostic.New(diagnostic.InvalidPredicate).At(c.Span).
			Messagef("ensures %s: %v", c.Expr, err))
		return false
	}
	return ok
}

// snapshot records old(x). Only scalar parameters and scalar parameter fields
// can be snapshotted.
func (v *verifier) snapshot(o *ast.Old) bool {
	root, ok := ast.Root(o.X)
	idx := -1
	if ok {
		idx = v.ref.Sig.ParamIndex(root.Name)
	}
	if idx < 0 {
		v.report(diagnostic.New(diagnostic.InvalidSnapshot).At(o.Span).
			Messagef("old(%s) must name a parameter", o.X))
		return false
	}
	t := v.ref.Sig.Params[idx]
	if root != o.X {
		t = fieldType(t, o.X)
	}
	if p, ok := t.PrimKind(); !ok || p == types.Str || p == types.Unit || p == types.Task {
		v.report(diagnostic.New(diagnostic.InvalidSnapshot).At(o.Span).
			Messagef("old(%s) snapshots %s; only scalar values can be snapshotted", o.X, t))
		return false
	}
	key := o.X.String()
	if v.res.snaps[key] == nil {
		s := &Snapshot{Name: fmt.Sprintf("old$%d", len(v.res.Snapshots)), Expr: o.X, Type: t}
		v.res.snaps[key] = s
		v.res.Snapshots = append(v.res.Snapshots, s)
	}
	return true
}

// returns checks every success return of the function body. Returns inside
// spawned tasks belong to the task.
func (v *verifier) returns(body *ast.Block) {
	ast.Inspect(body, func(n ast.Node) bool {
		switch n := n.(type) {
		case *ast.Spawn:
			return false
		case *ast.Return:
			if !n.Err {
				v.ensuresAt(n, n.Value)
			}
		}
		return true
	})
}

// ensuresAt records one obligation per valid ensures clause at a normal exit.
func (v *verifier) ensuresAt(anchor ast.Node, value ast.Expr) {
	lookup := func(e ast.Expr) (refine.Value, bool) {
		switch e := e.(type) {
		case *ast.Ident:
			if e.Name == ast.ResultName && value != nil {
				return v.ref.ValueOf(value), true
			}
		case *ast.Old:
			if s := v.res.snaps[e.X.String()]; s != nil {
				return typeValue(s.Type), true
			}
		}
		return refine.Value{}, false
	}
	for i, c := range v.fn.Ensures {
		if !v.res.Valid[i] {
			continue
		}
		o := &obligation.Obligation{
			Source: obligation.Ensures,
			Anchor: anchor,
			Span:   anchor.GetSpan(),
			Check:  c.Expr,
			Callee: v.fn.Name,
			Clause: i,
		}
		switch refine.Truth(c.Expr, lookup) {
		case types.True:
			o.Status, o.Proof = obligation.Discharged, "return interval"
		case types.False:
			o.Status = obligation.Deferred
			v.report(diagnostic.New(diagnostic.AlwaysFails).Warning().At(o.Span).
				Messagef("ensures %s can never hold here", c.Expr))
		default:
			o.Status = obligation.Deferred
		}
		v.ref.Obligations.Add(o)
		v.res.Ensures = append(v.res.Ensures, o)
	}
}

// ====== Helpers ======

func fieldType(t *types.Type, sel ast.Expr) *types.Type {
	s, ok := sel.(*ast.Selector)
	if !ok {
		return t
	}
	base := fieldType(t, s.X)
	if base == nil {
		return nil
	}
	f, _, ok := base.Field(s.Name)
	if !ok {
		return nil
	}
	return f.Type
}

func typeValue(t *types.Type) refine.Value {
	p, ok := t.PrimKind()
	return refine.Value{Iv: t.Interval(), Int: ok && p.IsInteger()}
}
