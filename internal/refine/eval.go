package refine

import (
	"fmt"
	"math"

	"github.com/asbel-lang/asbel/internal/ast"
	"github.com/asbel-lang/asbel/internal/types"
)

// Value is the abstract value of an expression: the interval it lies in and
// whether it is integral.
type Value struct {
	Iv  types.Interval
	Int bool
}

// Lookup supplies the abstract value of a leaf expression (an identifier,
// field selection or old() snapshot). It returns false when nothing is known.
type Lookup func(e ast.Expr) (Value, bool)

// Builtins are the pure functions predicates and ensures clauses may call.
var Builtins = map[string]int{"abs": 1, "min": 2, "max": 2}

func boolValue(t types.Tri) Value {
	switch t {
	case types.True:
		return Value{Iv: types.Point(1), Int: true}
	case types.False:
		return Value{Iv: types.Point(0), Int: true}
	}
	return Value{Iv: types.Closed(0, 1), Int: true}
}

// Eval computes the abstract value of e.
func Eval(e ast.Expr, lookup Lookup) Value {
	switch e := e.(type) {
	case *ast.IntLit:
		return Value{Iv: types.IntValue(e.Value), Int: true}
	case *ast.FloatLit:
		return Value{Iv: types.Point(e.Value)}
	case *ast.BoolLit:
		return boolValue(types.TriOf(e.Value))
	case *ast.Unary:
		if e.Op == ast.Not {
			return boolValue(Truth(e, lookup))
		}
		x := Eval(e.X, lookup)
		return Value{Iv: x.Iv.Neg(), Int: x.Int}
	case *ast.Binary:
		if !e.Op.IsArithmetic() {
			return boolValue(Truth(e, lookup))
		}
		x, y := Eval(e.X, lookup), Eval(e.Y, lookup)
		return Value{Iv: Arith(e.Op, x, y), Int: x.Int && y.Int}
	case *ast.Call:
		if n, ok := Builtins[e.Callee]; ok && n == len(e.Args) {
			return evalBuiltin(e, lookup)
		}
	}
	if lookup != nil {
		if v, ok := lookup(e); ok {
			return v
		}
	}
	return Value{Iv: types.Full()}
}

// Arith applies a binary arithmetic operator to abstract values.
func Arith(op ast.BinaryOp, x, y Value) types.Interval {
	isInt := x.Int && y.Int
	switch op {
	case ast.Add:
		return x.Iv.Add(y.Iv)
	case ast.Sub:
		return x.Iv.Sub(y.Iv)
	case ast.Mul:
		return x.Iv.Mul(y.Iv)
	case ast.Div:
		if isInt {
			return x.Iv.DivInt(y.Iv)
		}
		return x.Iv.Div(y.Iv)
	case ast.Rem:
		if isInt {
			return x.Iv.RemInt(y.Iv)
		}
		return x.Iv.Rem(y.Iv)
	}
	return types.Full()
}

func evalBuiltin(e *ast.Call, lookup Lookup) Value {
	x := Eval(e.Args[0], lookup)
	switch e.Callee {
	case "abs":
		iv := x.Iv
		switch {
		case iv.Lo >= 0:
		case iv.Hi <= 0:
			iv = iv.Neg()
		default:
			iv = types.Closed(0, math.Max(-iv.Lo, iv.Hi))
			if math.IsInf(iv.Hi, 1) {
				iv.HiOpen = true
			}
		}
		return Value{Iv: iv, Int: x.Int}
	case "min", "max":
		y := Eval(e.Args[1], lookup)
		iv := types.Closed(math.Min(x.Iv.Lo, y.Iv.Lo), math.Min(x.Iv.Hi, y.Iv.Hi))
		if e.Callee == "max" {
			iv = types.Closed(math.Max(x.Iv.Lo, y.Iv.Lo), math.Max(x.Iv.Hi, y.Iv.Hi))
		}
		iv.LoOpen, iv.HiOpen = math.IsInf(iv.Lo, 0), math.IsInf(iv.Hi, 0)
		return Value{Iv: iv, Int: x.Int && y.Int}
	}
	return Value{Iv: types.Full()}
}

// Truth decides a boolean expression with three-valued logic.
func Truth(e ast.Expr, lookup Lookup) types.Tri {
	switch e := e.(type) {
	case *ast.BoolLit:
		return types.TriOf(e.Value)
	case *ast.Unary:
		if e.Op == ast.Not {
			return Truth(e.X, lookup).Not()
		}
	case *ast.Binary:
		switch {
		case e.Op == ast.And:
			return Truth(e.X, lookup).And(Truth(e.Y, lookup))
		case e.Op == ast.Or:
			return Truth(e.X, lookup).Or(Truth(e.Y, lookup))
		case e.Op.IsComparison():
			x, y := Eval(e.X, lookup), Eval(e.Y, lookup)
			if x.Int && y.Int && x.Iv.Rounded() && y.Iv.Rounded() {
				// both sides may stand for integers float64 cannot tell apart
				return types.Unknown
			}
			return types.Compare(e.Op, x.Iv, y.Iv)
		}
	}
	v := Eval(e, lookup)
	if c, ok := v.Iv.Constant(); ok {
		return types.TriOf(c != 0)
	}
	return types.Unknown
}

// ValidatePredicate checks that e is a pure boolean expression built from
// literals, operators and builtin calls. Leaves (identifiers, field selections
// and old() snapshots) are passed to leaf, which rejects them by returning an
// error.
func ValidatePredicate(e ast.Expr, leaf func(ast.Expr) error) error {
	var err error
	ast.Inspect(e, func(n ast.Node) bool {
		if err != nil {
			return false
		}
		switch n := n.(type) {
		case *ast.IntLit, *ast.FloatLit, *ast.BoolLit, *ast.Binary, *ast.Unary:
			return true
		case *ast.Ident, *ast.Selector, *ast.Old:
			err = leaf(n.(ast.Expr))
			return false
		case *ast.Call:
			if want, ok := Builtins[n.Callee]; !ok || want != len(n.Args) {
				err = fmt.Errorf("predicate calls %s, only abs, min and max are pure", n.Callee)
				return false
			}
			return true
		}
		err = fmt.Errorf("%s is not allowed in a predicate", n)
		return false
	})
	return err
}

// OnlyIt accepts the bound value `it` and nothing else.
func OnlyIt(e ast.Expr) error {
	if id, ok := e.(*ast.Ident); ok && id.Name == ast.ItName {
		return nil
	}
	return fmt.Errorf("predicate may only reference %q, found %s", ast.ItName, e)
}
