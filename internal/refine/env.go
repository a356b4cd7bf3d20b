// Package refine implements the refinement resolver: it elaborates declared
// types into interned refined types, propagates value intervals through
// function bodies and records a proof obligation at every point where a value
// is constructed into, or narrowed to, a constrained type.
package refine

import (
	"fmt"
	"math"

	"github.com/asbel-lang/asbel/internal/ast"
	"github.com/asbel-lang/asbel/internal/diagnostic"
	"github.com/asbel-lang/asbel/internal/position"
	"github.com/asbel-lang/asbel/internal/types"
)

// ResolveError reports a type expression that cannot be elaborated.
type ResolveError struct {
	Kind diagnostic.Kind
	Span position.Span
	Msg  string
}

func (e *ResolveError) Error() string { return fmt.Sprintf("%s: %s", e.Span, e.Msg) }

// Diagnostic converts the error for reporting inside function fn.
func (e *ResolveError) Diagnostic(fn string) *diagnostic.Diagnostic {
	return diagnostic.New(e.Kind).At(e.Span).Messagef("%s", e.Msg).In(fn).Build()
}

// Signature is the resolved signature of a function.
type Signature struct {
	Decl   *ast.FuncDecl
	Params []*types.Type
	Result *types.Type
	Type   *types.Type
}

// ParamIndex returns the position of the named parameter, or -1.
func (s *Signature) ParamIndex(name string) int {
	for i, p := range s.Decl.Params {
		if p.Name == name {
			return i
		}
	}
	return -1
}

// Env holds the program-level names every function analysis resolves against.
// It is built once and only read afterwards.
type Env struct {
	Types *types.Interner
	Named map[string]*types.Type
	Funcs map[string]*Signature

	decls     map[string]*ast.TypeDecl
	resolving map[string]bool
}

// Declare resolves every type declaration and function signature of prog.
// Problems are reported to sink; the offending declaration is skipped.
func Declare(prog *ast.Program, in *types.Interner, sink diagnostic.Sink) *Env {
	env := &Env{
		Types:     in,
		Named:     make(map[string]*types.Type),
		Funcs:     make(map[string]*Signature),
		decls:     make(map[string]*ast.TypeDecl),
		resolving: make(map[string]bool),
	}
	for _, d := range prog.Types {
		env.decls[d.Name] = d
	}
	for _, d := range prog.Types {
		if _, err := env.named(d.Name, d.Span); err != nil {
			report(sink, err, "")
		}
	}
	for _, fn := range prog.Funcs {
		sig, err := env.signature(fn)
		if err != nil {
			report(sink, err, fn.Name)
			continue
		}
		env.Funcs[fn.Name] = sig
	}
	env.decls, env.resolving = nil, nil
	return env
}

func report(sink diagnostic.Sink, err error, fn string) {
	if re, ok := err.(*ResolveError); ok {
		sink.Report(re.Diagnostic(fn))
		return
	}
	sink.Report(diagnostic.New(diagnostic.UnresolvedName).Messagef("%v", err).In(fn).Build())
}

func (env *Env) signature(fn *ast.FuncDecl) (*Signature, error) {
	sig := &Signature{Decl: fn}
	for _, p := range fn.Params {
		t, err := env.Resolve(p.Type)
		if err != nil {
			return nil, err
		}
		sig.Params = append(sig.Params, t)
	}
	res, err := env.Resolve(fn.Result)
	if err != nil {
		return nil, err
	}
	sig.Result = res
	sig.Type = env.Types.Func(sig.Params, res, fn.Fails)
	return sig, nil
}

// Resolve elaborates a type expression. A nil expression is unit.
func (env *Env) Resolve(tx *ast.TypeExpr) (*types.Type, error) {
	if tx == nil {
		return env.Types.Prim(types.Unit), nil
	}

	base, err := env.resolveBase(tx)
	if err != nil {
		return nil, err
	}
	if !tx.Refined() {
		return base, nil
	}

	if !base.IsNumeric() {
		return nil, &ResolveError{
			Kind: diagnostic.InvalidPredicate,
			Span: tx.Span,
			Msg:  fmt.Sprintf("refinement on non-numeric type %s", base),
		}
	}

	pred := &types.Predicate{}
	var text string
	if tx.Range != nil {
		if err := rangePredicate(tx.Range, tx.Span, pred); err != nil {
			return nil, err
		}
		text = tx.Range.String()
	}
	if tx.Where != nil {
		if err := ValidatePredicate(tx.Where, OnlyIt); err != nil {
			return nil, &ResolveError{Kind: diagnostic.InvalidPredicate, Span: tx.Where.GetSpan(), Msg: err.Error()}
		}
		pred.Where = tx.Where
		if text != "" {
			text += " "
		}
		text += "where " + tx.Where.String()
	}
	pred.Text = text
	return env.Types.Refined(base, pred), nil
}

func (env *Env) resolveBase(tx *ast.TypeExpr) (*types.Type, error) {
	if tx.Name == "fn" {
		params := make([]*types.Type, len(tx.Params))
		for i, p := range tx.Params {
			t, err := env.Resolve(p)
			if err != nil {
				return nil, err
			}
			params[i] = t
		}
		res, err := env.Resolve(tx.Result)
		if err != nil {
			return nil, err
		}
		return env.Types.Func(params, res, tx.Fails), nil
	}
	if k, ok := types.ParsePrim(tx.Name); ok {
		return env.Types.Prim(k), nil
	}
	return env.named(tx.Name, tx.Span)
}

func (env *Env) named(name string, span position.Span) (*types.Type, error) {
	if t, ok := env.Named[name]; ok {
		return t, nil
	}
	d, ok := env.decls[name]
	if !ok {
		return nil, &ResolveError{Kind: diagnostic.UnresolvedName, Span: span, Msg: fmt.Sprintf("unknown type %q", name)}
	}
	if env.resolving[name] {
		return nil, &ResolveError{Kind: diagnostic.UnresolvedName, Span: d.Span, Msg: fmt.Sprintf("type %q contains itself by value", name)}
	}
	env.resolving[name] = true
	defer delete(env.resolving, name)

	var t *types.Type
	switch d.Kind {
	case ast.InterfaceDecl:
		methods := make([]types.Method, 0, len(d.Methods))
		for _, m := range d.Methods {
			params := make([]*types.Type, 0, len(m.Params))
			for _, p := range m.Params {
				pt, err := env.Resolve(p.Type)
				if err != nil {
					return nil, err
				}
				params = append(params, pt)
			}
			res, err := env.Resolve(m.Result)
			if err != nil {
				return nil, err
			}
			methods = append(methods, types.Method{Name: m.Name, Sig: env.Types.Func(params, res, m.Fails)})
		}
		t = env.Types.Interface(name, methods)
	default:
		fields := make([]types.Field, 0, len(d.Fields))
		for _, f := range d.Fields {
			ft, err := env.Resolve(f.Type)
			if err != nil {
				return nil, err
			}
			fields = append(fields, types.Field{Name: f.Name, Type: ft})
		}
		res, err := resourceOf(d)
		if err != nil {
			return nil, err
		}
		t = env.Types.Composite(name, fields, res)
	}
	env.Named[name] = t
	return t, nil
}

// resourceOf reads the resource attributes of a type declaration.
func resourceOf(d *ast.TypeDecl) (types.Resource, error) {
	var res types.Resource
	for _, a := range d.Attrs {
		bad := &ResolveError{Kind: diagnostic.InvalidPredicate, Span: a.Span}
		switch a.Name {
		case "auto_close":
			res = types.Resource{Kind: types.AutoClose, Func: "close"}
		case "auto_release":
			if len(a.Args) != 1 {
				bad.Msg = "@auto_release expects the release function"
				return res, bad
			}
			var fn string
			switch arg := a.Args[0].(type) {
			case *ast.Ident:
				fn = arg.Name
			case *ast.StringLit:
				fn = arg.Value
			default:
				bad.Msg = "@auto_release expects a function name"
				return res, bad
			}
			res = types.Resource{Kind: types.AutoRelease, Func: fn}
		case "timeout":
			lit, ok := singleInt(a.Args)
			if !ok || lit < 0 {
				bad.Msg = "@timeout expects a non-negative millisecond count"
				return res, bad
			}
			res = types.Resource{Kind: types.Timeout, Func: "close", DeadlineMS: lit}
		}
	}
	return res, nil
}

func singleInt(args []ast.Expr) (int64, bool) {
	if len(args) != 1 {
		return 0, false
	}
	lit, ok := args[0].(*ast.IntLit)
	if !ok {
		return 0, false
	}
	return lit.Value, true
}

// rangePredicate fills pred from a range clause with constant bounds.
func rangePredicate(r *ast.RangeExpr, span position.Span, pred *types.Predicate) error {
	iv := types.Full()
	if r.Lo != nil {
		v, ok := constBound(r.Lo, false)
		if !ok {
			return &ResolveError{Kind: diagnostic.InvalidPredicate, Span: span, Msg: fmt.Sprintf("range bound %s is not a constant", r.Lo)}
		}
		iv.Lo, iv.LoOpen = v, false
		if n, ok := constInt(r.Lo); ok {
			pred.IntLo = &n
		}
	}
	if r.Hi != nil {
		v, ok := constBound(r.Hi, true)
		if !ok {
			return &ResolveError{Kind: diagnostic.InvalidPredicate, Span: span, Msg: fmt.Sprintf("range bound %s is not a constant", r.Hi)}
		}
		iv.Hi, iv.HiOpen = v, !r.Inclusive
		if n, ok := constInt(r.Hi); ok && (r.Inclusive || n > math.MinInt64) {
			if !r.Inclusive {
				n--
			}
			pred.IntHi = &n
		}
	}
	empty := iv.IsEmpty()
	if pred.IntLo != nil && pred.IntHi != nil {
		empty = empty || *pred.IntLo > *pred.IntHi
	}
	if empty {
		return &ResolveError{Kind: diagnostic.InvalidPredicate, Span: span, Msg: fmt.Sprintf("range %s is empty", r)}
	}
	pred.Range = &iv
	return nil
}

// constBound folds a literal numeric range bound. Integers float64 cannot
// hold are widened outward to the neighbouring float64.
func constBound(e ast.Expr, upper bool) (float64, bool) {
	if !ast.IsConstant(e) {
		return 0, false
	}
	iv := Eval(e, nil).Iv
	v := iv.Lo
	if upper {
		v = iv.Hi
	}
	if iv.IsEmpty() || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// constInt returns the exact value of an integer literal, possibly negated.
func constInt(e ast.Expr) (int64, bool) {
	switch e := e.(type) {
	case *ast.IntLit:
		return e.Value, true
	case *ast.Unary:
		if n, ok := constInt(e.X); ok && e.Op == ast.Neg && n != math.MinInt64 {
			return -n, true
		}
	}
	return 0, false
}
