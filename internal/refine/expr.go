package refine

import (
	"fmt"
	"math"
	"strconv"

	"github.com/asbel-lang/asbel/internal/ast"
	"github.com/asbel-lang/asbel/internal/diagnostic"
	"github.com/asbel-lang/asbel/internal/obligation"
	"github.com/asbel-lang/asbel/internal/types"
)

// ====== Expressions ======

// expr computes and records the static type and interval of e. A nil type
// means the expression could not be typed and has been reported.
func (a *analyzer) expr(e ast.Expr) (*types.Type, types.Interval) {
	t, iv := a.exprInner(e)
	if t != nil && isInteger(t) {
		iv = iv.Integer()
	}
	a.res.Types[e] = t
	a.res.Intervals[e] = iv
	return t, iv
}

func (a *analyzer) exprInner(e ast.Expr) (*types.Type, types.Interval) {
	switch e := e.(type) {
	case *ast.Ident:
		b := a.scope.lookup(e.Name)
		if b == nil {
			a.unresolved(e, "undefined name %q", e.Name)
			return nil, types.Full()
		}
		return b.typ, a.fact(b)

	case *ast.IntLit:
		return a.prim(types.UntypedInt), types.IntValue(e.Value)
	case *ast.FloatLit:
		return a.prim(types.UntypedFloat), types.Point(e.Value)
	case *ast.BoolLit:
		return a.prim(types.Bool), boolValue(types.TriOf(e.Value)).Iv
	case *ast.StringLit:
		return a.prim(types.Str), types.Full()

	case *ast.Binary:
		return a.binary(e)

	case *ast.Unary:
		xt, xi := a.expr(e.X)
		if e.Op == ast.Not {
			return a.prim(types.Bool), boolValue(triOf(xi).Not()).Iv
		}
		k, ok := xt.PrimKind()
		if !ok || !k.IsNumeric() {
			return nil, types.Full()
		}
		if k.IsInteger() && !k.IsSigned() {
			k = types.IntKind(true, min(k.Bits()*2, 64))
		}
		return a.prim(k), xi.Neg()

	case *ast.Call:
		return a.call(e)

	case *ast.Selector:
		xt, _ := a.expr(e.X)
		if xt == nil {
			return nil, types.Full()
		}
		f, _, ok := xt.Field(e.Name)
		if !ok {
			a.unresolved(e, "%s has no field %q", xt, e.Name)
			return nil, types.Full()
		}
		return f.Type, f.Type.Interval()

	case *ast.StructLit:
		return a.structLit(e)

	case *ast.Spawn:
		saved := a.facts.clone()
		a.tasks++
		a.block(e.Body)
		a.tasks--
		a.facts = saved
		return a.prim(types.Task), types.Full()

	case *ast.Try:
		t, iv := a.expr(e.X)
		if e.Context != nil {
			for _, arg := range e.Context.Args {
				a.expr(arg)
			}
		}
		return t, iv

	case *ast.Old:
		a.report(diagnostic.New(diagnostic.InvalidSnapshot).At(e.Span).
			Messagef("old() is only valid in ensures clauses").In(a.fn.Name).Build())
		return a.expr(e.X)

	case *ast.Pipeline:
		return a.pipeline(e)
	}
	return nil, types.Full()
}

func triOf(iv types.Interval) types.Tri {
	if c, ok := iv.Constant(); ok {
		return types.TriOf(c != 0)
	}
	return types.Unknown
}

func (a *analyzer) binary(e *ast.Binary) (*types.Type, types.Interval) {
	xt, xi := a.expr(e.X)
	yt, yi := a.expr(e.Y)

	switch {
	case e.Op.IsComparison():
		return a.prim(types.Bool), boolValue(types.Compare(e.Op, xi, yi)).Iv
	case e.Op == ast.And:
		return a.prim(types.Bool), boolValue(triOf(xi).And(triOf(yi))).Iv
	case e.Op == ast.Or:
		return a.prim(types.Bool), boolValue(triOf(xi).Or(triOf(yi))).Iv
	}

	xk, xok := xt.PrimKind()
	yk, yok := yt.PrimKind()
	if !xok || !yok || !xk.IsNumeric() || !yk.IsNumeric() {
		return nil, types.Full()
	}
	k := types.ArithResult(e.Op, xk, yk)
	iv := Arith(e.Op, Value{Iv: xi, Int: xk.IsInteger()}, Value{Iv: yi, Int: yk.IsInteger()})
	return a.prim(k), iv
}

func (a *analyzer) call(e *ast.Call) (*types.Type, types.Interval) {
	if n, ok := Builtins[e.Callee]; ok && n == len(e.Args) {
		var k types.PrimKind = types.UntypedInt
		for i, arg := range e.Args {
			t, _ := a.expr(arg)
			ak, ok := t.PrimKind()
			if !ok || !ak.IsNumeric() {
				return nil, types.Full()
			}
			if i == 0 {
				k = ak
			} else {
				k = types.ArithResult(ast.Div, k, ak)
			}
		}
		return a.prim(k), Eval(e, a.recorded).Iv
	}

	sig := a.env.Funcs[e.Callee]
	if sig == nil {
		for _, arg := range e.Args {
			a.expr(arg)
		}
		a.unresolved(e, "undefined function %q", e.Callee)
		return nil, types.Full()
	}
	if len(e.Args) != len(sig.Params) {
		a.unresolved(e, "%s expects %d arguments, got %d", e.Callee, len(sig.Params), len(e.Args))
	}
	for i, arg := range e.Args {
		at, ai := a.expr(arg)
		if i < len(sig.Params) {
			a.obligate(arg, at, ai, sig.Params[i])
		}
	}
	// the callee may store anything its type admits through a &mut argument
	for _, b := range a.mutArgs(e) {
		if _, ok := a.facts[b]; ok {
			a.facts[b] = b.typ.Interval()
		}
	}
	return sig.Result, sig.Result.Interval()
}

// mutArgs returns the bindings passed by name to &mut parameters of call.
func (a *analyzer) mutArgs(call *ast.Call) []*binding {
	sig := a.env.Funcs[call.Callee]
	if sig == nil || sig.Decl == nil {
		return nil
	}
	var out []*binding
	for i, arg := range call.Args {
		if i >= len(sig.Decl.Params) || sig.Decl.Params[i].Mode != ast.ByMutRef {
			continue
		}
		if id, ok := arg.(*ast.Ident); ok {
			if b := a.scope.lookup(id.Name); b != nil {
				out = append(out, b)
			}
		}
	}
	return out
}

// recorded looks up intervals already computed for leaf expressions.
func (a *analyzer) recorded(e ast.Expr) (Value, bool) {
	iv, ok := a.res.Intervals[e]
	if !ok {
		return Value{}, false
	}
	return Value{Iv: iv, Int: isInteger(a.res.Types[e])}, true
}

func (a *analyzer) structLit(e *ast.StructLit) (*types.Type, types.Interval) {
	t := a.env.Named[e.Type]
	if t == nil || t.Kind != types.KindComposite {
		for _, fi := range e.Fields {
			a.expr(fi.Value)
		}
		a.unresolved(e, "unknown struct type %q", e.Type)
		return nil, types.Full()
	}

	set := make(map[string]bool, len(e.Fields))
	for _, fi := range e.Fields {
		vt, iv := a.expr(fi.Value)
		f, _, ok := t.Field(fi.Name)
		if !ok {
			a.unresolved(e, "%s has no field %q", t, fi.Name)
			continue
		}
		set[fi.Name] = true
		a.obligate(fi.Value, vt, iv, f.Type)
	}
	for _, f := range t.Fields {
		if !set[f.Name] {
			a.unresolved(e, "field %q of %s is not initialised", f.Name, t)
		}
	}
	return t, types.Full()
}

func (a *analyzer) pipeline(e *ast.Pipeline) (*types.Type, types.Interval) {
	_, lo := a.expr(e.Source.Lo)
	_, hi := a.expr(e.Source.Hi)
	i64 := a.prim(types.I64)
	a.res.Types[e.Source] = i64

	elemType := i64
	elem := types.Interval{Lo: lo.Lo, LoOpen: lo.LoOpen, Hi: hi.Hi, HiOpen: true}.Integer()
	a.res.Intervals[e.Source] = elem

	for _, st := range e.Stages {
		a.push()
		if len(st.Fn.Params) > 0 {
			a.bind(st.Fn.Params[0], elemType, false, elem)
		}
		bt, bi := a.expr(st.Fn.Body)
		a.pop()
		a.res.Types[st.Fn] = bt

		if st.Op == ast.MapStage {
			if bt = a.concrete(bt); bt == nil {
				bt = i64
			}
			elemType, elem = bt, bi
		}
	}

	switch e.Sink {
	case ast.CountSink:
		n := math.Max(0, hi.Hi-lo.Lo)
		return i64, types.Closed(0, n).Intersect(i64.Interval())
	case ast.DrainSink:
		return a.prim(types.Unit), types.Full()
	}
	return i64, i64.Interval()
}

// ====== Obligations ======

// obligate records the obligation for constructing a value of type vt with
// interval iv into target at the value expression anchor.
func (a *analyzer) obligate(anchor ast.Expr, vt *types.Type, iv types.Interval, target *types.Type) {
	if target == nil || !target.IsNumeric() {
		return
	}
	tIv := target.Interval()
	refined := target.Kind == types.KindRefined
	// integer bounds beyond MaxExactInt may have been rounded; nothing is
	// decided on them at compile time
	rounded := isInteger(target) && iv.Rounded()
	if !refined && iv.Subset(tIv) && (!rounded || vt != nil && vt.Underlying() == target.Underlying()) {
		return
	}

	o := &obligation.Obligation{
		Source:   obligation.Refinement,
		Anchor:   anchor,
		Span:     anchor.GetSpan(),
		Target:   target,
		Interval: iv,
		Check:    CheckExpr(target, iv, anchor),
	}
	defer a.res.Obligations.Add(o)

	if vt == target {
		o.Status, o.Proof = obligation.Discharged, fmt.Sprintf("value already has type %s", target)
		return
	}

	it := Value{Iv: iv, Int: isInteger(vt)}
	where := types.True
	for _, w := range Wheres(target) {
		where = where.And(Truth(w, bindIt(it)))
	}
	if rounded {
		where = types.Unknown
	}

	if c, ok := iv.Constant(); ok && !rounded {
		switch {
		case !tIv.Contains(c) || where == types.False:
			o.Status = obligation.Violated
			a.report(diagnostic.New(diagnostic.RefinementViolation).At(anchor.GetSpan()).
				Messagef("value %s does not satisfy %s", formatConst(c), target).In(a.fn.Name).Build())
		case where == types.True:
			o.Status, o.Proof = obligation.Discharged, "constant"
		default:
			o.Status = obligation.Deferred
		}
		return
	}

	if iv.Subset(tIv) && where == types.True && !rounded {
		o.Status, o.Proof = obligation.Discharged, fmt.Sprintf("%s within %s", iv, tIv)
		return
	}

	o.Status = obligation.Deferred
	if (!rounded && iv.Disjoint(tIv)) || where == types.False {
		a.report(diagnostic.New(diagnostic.AlwaysFails).Warning().At(anchor.GetSpan()).
			Messagef("value in %s can never satisfy %s; the runtime check will always fail", iv, target).
			In(a.fn.Name).Build())
	} else if a.opts.WarnDeferred {
		a.report(diagnostic.New(diagnostic.DeferredCheck).Warning().At(anchor.GetSpan()).
			Messagef("runtime check inserted: value in %s against %s", iv, target).In(a.fn.Name).Build())
	}
}

func bindIt(v Value) Lookup {
	return func(e ast.Expr) (Value, bool) {
		if id, ok := e.(*ast.Ident); ok && id.Name == ast.ItName {
			return v, true
		}
		return Value{}, false
	}
}

func formatConst(c float64) string { return strconv.FormatFloat(c, 'g', -1, 64) }

// Wheres collects the opaque predicates of t and its refined bases.
func Wheres(t *types.Type) []ast.Expr {
	var out []ast.Expr
	for ; t != nil && t.Kind == types.KindRefined; t = t.Base {
		if t.Pred.Opaque() {
			out = append(out, t.Pred.Where)
		}
	}
	return out
}

// exactBounds returns the tightest integer range bounds declared along t's
// refinement chain.
func exactBounds(t *types.Type) (lo, hi *int64) {
	for ; t != nil && t.Kind == types.KindRefined; t = t.Base {
		if p := t.Pred; p != nil {
			if p.IntLo != nil && (lo == nil || *p.IntLo > *lo) {
				lo = p.IntLo
			}
			if p.IntHi != nil && (hi == nil || *p.IntHi < *hi) {
				hi = p.IntHi
			}
		}
	}
	return lo, hi
}

// CheckExpr builds the runtime check for a value in iv against target as a
// boolean expression over `it`. Bounds already implied by iv are omitted.
func CheckExpr(target *types.Type, iv types.Interval, at ast.Node) ast.Expr {
	span := at.GetSpan()
	tIv := target.Interval()
	integral := isInteger(target)
	it := func() ast.Expr { return &ast.Ident{Span: span, Name: ast.ItName} }
	num := func(v float64) ast.Expr {
		if integral && v == math.Trunc(v) && math.Abs(v) < 1<<62 {
			return &ast.IntLit{Span: span, Value: int64(v)}
		}
		return &ast.FloatLit{Span: span, Value: v}
	}

	var check ast.Expr
	and := func(e ast.Expr) {
		if check == nil {
			check = e
			return
		}
		check = &ast.Binary{Span: span, Op: ast.And, X: check, Y: e}
	}

	lo, hi := exactBounds(target)
	lowerImplied := iv.Lo > tIv.Lo || (iv.Lo == tIv.Lo && (!tIv.LoOpen || iv.LoOpen))
	if integral && lo != nil && iv.Lo < -types.MaxExactInt {
		lowerImplied = false
	}
	if !math.IsInf(tIv.Lo, -1) && !lowerImplied {
		op, bound := ast.Ge, num(tIv.Lo)
		if tIv.LoOpen {
			op = ast.Gt
		}
		if integral && lo != nil && (float64(*lo) == tIv.Lo || types.IntValue(*lo).Lo == tIv.Lo) {
			op, bound = ast.Ge, &ast.IntLit{Span: span, Value: *lo}
		}
		and(&ast.Binary{Span: span, Op: op, X: it(), Y: bound})
	}
	upperImplied := iv.Hi < tIv.Hi || (iv.Hi == tIv.Hi && (!tIv.HiOpen || iv.HiOpen))
	if integral && hi != nil && iv.Hi > types.MaxExactInt {
		upperImplied = false
	}
	if !math.IsInf(tIv.Hi, 1) && !upperImplied {
		op, bound := ast.Le, num(tIv.Hi)
		if tIv.HiOpen {
			op = ast.Lt
		}
		if integral && hi != nil && (float64(*hi) == tIv.Hi || types.IntValue(*hi).Hi == tIv.Hi) {
			op, bound = ast.Le, &ast.IntLit{Span: span, Value: *hi}
		}
		and(&ast.Binary{Span: span, Op: op, X: it(), Y: bound})
	}
	for _, w := range Wheres(target) {
		and(w)
	}
	if check == nil {
		check = &ast.BoolLit{Span: span, Value: true}
	}
	return check
}
