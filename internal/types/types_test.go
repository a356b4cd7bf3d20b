package types

import (
	"math"
	"sync"
	"testing"

	"github.com/asbel-lang/asbel/internal/ast"
	"github.com/asbel-lang/asbel/internal/testrunner/prop"
)

func TestIntervalArithmeticContainsConcreteResults(t *testing.T) {
	a, b := Closed(-50, 30), Closed(-7, 12)
	gen := prop.GenPair(prop.GenInt64(-50, 30), prop.GenInt64(-7, 12))
	res := prop.ForAll(gen, nil, func(p prop.Pair[int64, int64]) bool {
		x, y := float64(p.A), float64(p.B)
		return a.Add(b).Contains(x+y) && a.Sub(b).Contains(x-y) && a.Mul(b).Contains(x*y)
	}, prop.Options{Trials: 500, Seed: 3})
	if res.Failed {
		t.Fatalf("property failed: %s", res)
	}
}

func TestIntervalArithmetic(t *testing.T) {
	a := Closed(0, 100)
	tests := []struct {
		name string
		got  Interval
		want Interval
	}{
		{"add", a.Add(a), Closed(0, 200)},
		{"sub", a.Sub(Closed(10, 20)), Closed(-20, 90)},
		{"neg", Closed(1, 5).Neg(), Closed(-5, -1)},
		{"mul signs", Closed(-2, 3).Mul(Closed(-4, 5)), Closed(-12, 15)},
		{"div", Closed(10, 20).Div(Closed(2, 5)), Closed(2, 10)},
		{"div by range with zero", a.Div(Closed(-1, 1)), Full()},
		{"div int", Closed(7, 9).DivInt(Closed(2, 2)), Closed(3, 4)},
		{"rem", a.RemInt(Closed(7, 7)), Closed(0, 6)},
		{"rem negative dividend", Closed(-50, -1).RemInt(Closed(10, 10)), Closed(-9, 0)},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s: got %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

func TestIntervalSetOps(t *testing.T) {
	halfOpen := Interval{Lo: 1, Hi: math.Inf(1), HiOpen: true}
	if !Closed(1, 10).Subset(halfOpen) {
		t.Error("[1,10] should be within [1,+inf)")
	}
	if Closed(0, 10).Subset(halfOpen) {
		t.Error("[0,10] is not within [1,+inf)")
	}
	open := Interval{Lo: 0, Hi: 10, HiOpen: true}
	if Closed(0, 10).Subset(open) {
		t.Error("[0,10] is not within [0,10)")
	}
	if got := open.Integer(); got != Closed(0, 9) {
		t.Errorf("Integer([0,10)) = %v", got)
	}
	if !Closed(0, 5).Disjoint(Closed(6, 9)) || Closed(0, 5).Disjoint(Closed(5, 9)) {
		t.Error("Disjoint mismatch")
	}
	if got := Closed(0, 5).Union(Closed(8, 9)); got != Closed(0, 9) {
		t.Errorf("Union = %v", got)
	}
	if got := halfOpen.String(); got != "[1, +inf)" {
		t.Errorf("String = %q", got)
	}
}

func TestCompare(t *testing.T) {
	tests := []struct {
		op   ast.BinaryOp
		a, b Interval
		want Tri
	}{
		{ast.Lt, Closed(0, 5), Closed(6, 9), True},
		{ast.Lt, Closed(0, 5), Closed(5, 9), Unknown},
		{ast.Lt, Closed(5, 9), Closed(0, 5), False},
		{ast.Le, Closed(0, 5), Closed(5, 9), True},
		{ast.Ge, Point(-1), Point(0), False},
		{ast.Ge, Point(4), Point(0), True},
		{ast.Eq, Point(3), Point(3), True},
		{ast.Ne, Closed(0, 2), Closed(3, 4), True},
		{ast.Eq, Closed(0, 2), Closed(1, 4), Unknown},
	}
	for _, tt := range tests {
		if got := Compare(tt.op, tt.a, tt.b); got != tt.want {
			t.Errorf("%v %s %v = %v, want %v", tt.a, tt.op, tt.b, got, tt.want)
		}
	}
	if True.And(Unknown) != Unknown || False.And(Unknown) != False || True.Or(Unknown) != True {
		t.Error("Kleene connectives mismatch")
	}
}

func TestArithResult(t *testing.T) {
	tests := []struct {
		op   ast.BinaryOp
		a, b PrimKind
		want PrimKind
	}{
		{ast.Add, U8, U8, U16},
		{ast.Mul, U16, U8, U32},
		{ast.Sub, U8, U8, I16},
		{ast.Add, I32, I32, I64},
		{ast.Add, U64, U64, U64},
		{ast.Add, U8, UntypedInt, U16},
		{ast.Div, U8, U8, U8},
		{ast.Add, F32, UntypedFloat, F32},
		{ast.Mul, F32, F64, F64},
		{ast.Add, UntypedInt, UntypedInt, UntypedInt},
	}
	for _, tt := range tests {
		if got := ArithResult(tt.op, tt.a, tt.b); got != tt.want {
			t.Errorf("%s %s %s = %s, want %s", tt.a, tt.op, tt.b, got, tt.want)
		}
	}
}

func TestInternerIdentity(t *testing.T) {
	in := NewInterner()
	u8 := in.Prim(U8)
	r := Closed(0, 100)
	a := in.Refined(u8, &Predicate{Range: &r, Text: "0..=100"})
	b := in.Refined(u8, &Predicate{Range: &r, Text: "0..=100"})
	if a != b {
		t.Fatal("structurally equal refined types must intern to the same pointer")
	}
	if got := a.Interval(); got != Closed(0, 100) {
		t.Errorf("Interval = %v", got)
	}
	if a.String() != "u8(0..=100)" {
		t.Errorf("String = %q", a.String())
	}

	file := in.Composite("File", []Field{{Name: "fd", Type: in.Prim(I32)}}, Resource{Kind: AutoClose})
	if file.IsCopy() || !file.IsResource() {
		t.Error("File should be a resource-bound move type")
	}
	if !a.IsCopy() {
		t.Error("refined primitives are copy types")
	}
	if _, idx, ok := file.Field("fd"); !ok || idx != 0 {
		t.Error("Field lookup failed")
	}
}

func TestInternerConcurrent(t *testing.T) {
	in := NewInterner()
	const workers = 16
	results := make([]*Type, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = in.Func([]*Type{in.Prim(F64)}, in.Prim(F64), false)
		}(i)
	}
	wg.Wait()

	for i := 1; i < workers; i++ {
		if results[i] != results[0] {
			t.Fatalf("worker %d interned a distinct type", i)
		}
	}
	if Universe() != Universe() {
		t.Error("Universe must be a singleton")
	}
}
