package contract

import (
	"testing"

	"github.com/asbel-lang/asbel/internal/ast"
	"github.com/asbel-lang/asbel/internal/ast/asttest"
	"github.com/asbel-lang/asbel/internal/diagnostic"
	"github.com/asbel-lang/asbel/internal/obligation"
	"github.com/asbel-lang/asbel/internal/refine"
	"github.com/asbel-lang/asbel/internal/types"
)

func verify(t *testing.T, prog *ast.Program, fn string) (*Result, *refine.Result, *diagnostic.Bag) {
	t.Helper()
	bag := &diagnostic.Bag{}
	env := refine.Declare(prog, types.NewInterner(), bag)
	decl := prog.Func(fn)
	if decl == nil {
		t.Fatalf("no function %q", fn)
	}
	rr := refine.Analyze(env, decl, refine.Options{}, bag)
	return Verify(env, rr, bag), rr, bag
}

func count(bag *diagnostic.Bag, k diagnostic.Kind) int {
	n := 0
	for _, d := range bag.Items() {
		if d.Kind == k {
			n++
		}
	}
	return n
}

// sqrt requires a non-negative argument and promises a non-negative result.
func sqrtDecl(b *asttest.Builder) []*ast.FuncDecl {
	host := b.Extern("sqrt_host", asttest.Params(b.Param("x", b.T("f64"))), b.T("f64"))
	sqrt := b.Func("sqrt", asttest.Params(b.Param("x", b.T("f64"))), b.T("f64"),
		b.Return(b.Call("sqrt_host", b.Id("x"))))
	b.Requires(sqrt, b.Bin(ast.Ge, b.Id("x"), b.Float(0)))
	b.Ensures(sqrt, b.Bin(ast.Ge, b.Id(ast.ResultName), b.Float(0)))
	return []*ast.FuncDecl{host, sqrt}
}

func TestRequiresAtCallSites(t *testing.T) {
	b := asttest.New("sqrt.asb")
	good := b.Call("sqrt", b.Float(4))
	unknown := b.Call("sqrt", b.Id("y"))
	bad := b.Call("sqrt", b.Neg(b.Float(1)))
	caller := b.Func("main", asttest.Params(b.Param("y", b.T("f64"))), nil,
		b.Let("a", nil, good),
		b.Let("b", nil, unknown),
		b.Let("c", nil, bad),
	)
	prog := b.Program(nil, append(sqrtDecl(b), caller)...)

	res, rr, bag := verify(t, prog, "main")
	tests := []struct {
		name string
		call *ast.Call
		want obligation.Status
	}{
		{"constant in range", good, obligation.Discharged},
		{"unknown argument", unknown, obligation.Deferred},
		{"constant out of range", bad, obligation.Violated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obs := rr.Obligations.At(tt.call)
			if len(obs) != 1 {
				t.Fatalf("obligations at %s = %d, want 1", tt.call, len(obs))
			}
			if o := obs[0]; o.Status != tt.want || o.Source != obligation.Requires || o.Callee != "sqrt" {
				t.Errorf("obligation = %v, want %v requires of sqrt", o, tt.want)
			}
		})
	}
	if len(res.Requires) != 3 {
		t.Errorf("requires obligations = %d, want 3", len(res.Requires))
	}
	if !res.Fatal || count(bag, diagnostic.ContractViolation) != 1 {
		t.Errorf("expected one fatal ContractViolation, got %v", bag.Items())
	}
}

func TestRequiresUseNarrowedArguments(t *testing.T) {
	b := asttest.New("narrow.asb")
	callee := b.Func("positive", asttest.Params(b.Param("n", b.T("i64"))), nil)
	b.Requires(callee, b.Bin(ast.Gt, b.Id("n"), b.Int(0)))
	inRange := b.Call("positive", b.Id("k"))
	guarded := b.Call("positive", b.Id("m"))
	caller := b.Func("caller", asttest.Params(
		b.Param("k", b.IntRange("u8", 1, 10)),
		b.Param("m", b.T("i64")),
	), nil,
		b.Do(inRange),
		b.Guard(b.Bin(ast.Gt, b.Id("m"), b.Int(5)), b.Return(nil)),
		b.Do(guarded),
	)
	prog := b.Program(nil, callee, caller)

	_, rr, bag := verify(t, prog, "caller")
	for _, call := range []*ast.Call{inRange, guarded} {
		obs := rr.Obligations.At(call)
		if len(obs) != 1 || obs[0].Status != obligation.Discharged {
			t.Errorf("%s: obligations %v, want one discharged (%v)", call, obs, bag.Items())
		}
	}
}

func TestEnsuresPerReturn(t *testing.T) {
	b := asttest.New("inc.asb")
	ret := b.Return(b.Bin(ast.Add, b.Id("x"), b.Int(1)))
	inc := b.Func("inc", asttest.Params(b.Param("x", b.IntRange("u8", 0, 10))), b.T("i64"), ret)
	b.Ensures(inc,
		b.Bin(ast.Gt, b.Id(ast.ResultName), b.Int(0)),
		b.Bin(ast.Le, b.Id(ast.ResultName), b.Int(5)),
		b.Bin(ast.Lt, b.Id(ast.ResultName), b.Int(0)),
		b.Bin(ast.Gt, b.Id(ast.ResultName), b.Old(b.Id("x"))),
	)
	prog := b.Program(nil, inc)

	res, rr, bag := verify(t, prog, "inc")
	if res.Fatal {
		t.Fatalf("unexpected fatal diagnostics: %v", bag.Items())
	}
	obs := rr.Obligations.At(ret)
	want := []obligation.Status{obligation.Discharged, obligation.Deferred, obligation.Deferred, obligation.Deferred}
	if len(obs) != len(want) {
		t.Fatalf("obligations at return = %d, want %d", len(obs), len(want))
	}
	for i, o := range obs {
		if o.Status != want[i] || o.Clause != i || o.Source != obligation.Ensures {
			t.Errorf("clause %d: %v, want %v", i, o, want[i])
		}
	}
	if count(bag, diagnostic.AlwaysFails) != 1 {
		t.Errorf("result < 0 must warn: %v", bag.Items())
	}
	if len(res.Snapshots) != 1 || res.Snapshots[0].Name != "old$0" {
		t.Errorf("snapshots = %v", res.Snapshots)
	}
}

func TestErrorReturnsAreExempt(t *testing.T) {
	b := asttest.New("exempt.asb")
	fn := asttest.Fails(b.Func("parse", asttest.Params(b.Param("n", b.T("i64"))), b.T("i64"),
		b.If(b.Bin(ast.Lt, b.Id("n"), b.Int(0)), asttest.Stmts(b.ReturnErr(b.Str("negative"))), nil),
		b.Return(b.Id("n")),
	))
	b.Ensures(fn, b.Bin(ast.Ge, b.Id(ast.ResultName), b.Int(0)))
	prog := b.Program(nil, fn)

	res, _, bag := verify(t, prog, "parse")
	if len(res.Ensures) != 1 {
		t.Fatalf("ensures obligations = %d, want 1 (%v)", len(res.Ensures), bag.Items())
	}
	if res.Ensures[0].Anchor != fn.Body.Stmts[1] {
		t.Errorf("ensures anchored at %v, want the success return", res.Ensures[0].Anchor)
	}
}

func TestSnapshotRules(t *testing.T) {
	b := asttest.New("snap.asb")
	bare := b.Func("bare", asttest.Params(b.Param("x", b.T("i64"))), b.T("i64"), b.Return(b.Id("x")))
	b.Ensures(bare, b.Bin(ast.Ge, b.Id(ast.ResultName), b.Id("x")))

	whole := b.Func("whole", asttest.Params(b.Param("p", b.T("Point"))), b.T("i64"), b.Return(b.Int(0)))
	b.Ensures(whole, b.Bin(ast.Ge, b.Id(ast.ResultName), b.Old(b.Id("p"))))

	field := b.Func("field", asttest.Params(b.Param("p", b.T("Point"))), b.T("i64"),
		b.Return(b.Sel(b.Id("p"), "x")))
	b.Ensures(field, b.Bin(ast.Ge, b.Id(ast.ResultName), b.Old(b.Sel(b.Id("p"), "x"))))

	badRequires := b.Func("badRequires", asttest.Params(b.Param("x", b.T("i64"))), nil)
	b.Requires(badRequires, b.Bin(ast.Gt, b.Old(b.Id("x")), b.Int(0)))

	prog := b.Program(asttest.Types(
		b.Struct("Point", b.Field("x", b.T("i64")), b.Field("y", b.T("i64"))),
	), bare, whole, field, badRequires)

	tests := []struct {
		fn   string
		kind diagnostic.Kind
		want int
	}{
		{"bare", diagnostic.InvalidSnapshot, 1},
		{"whole", diagnostic.InvalidSnapshot, 1},
		{"field", diagnostic.InvalidSnapshot, 0},
		{"badRequires", diagnostic.InvalidPredicate, 1},
	}
	for _, tt := range tests {
		t.Run(tt.fn, func(t *testing.T) {
			res, _, bag := verify(t, prog, tt.fn)
			if got := count(bag, tt.kind); got != tt.want {
				t.Errorf("%s diagnostics = %d, want %d (%v)", tt.kind, got, tt.want, bag.Items())
			}
			if tt.want > 0 && len(res.Ensures) != 0 {
				t.Errorf("invalid clauses must not produce obligations: %v", res.Ensures)
			}
		})
	}

	res, _, _ := verify(t, prog, "field")
	if len(res.Snapshots) != 1 || res.Snapshots[0].Expr.String() != "p.x" {
		t.Errorf("snapshots = %v, want old(p.x)", res.Snapshots)
	}
}

func TestFallthroughEnsuresAndContexts(t *testing.T) {
	b := asttest.New("ctx.asb")
	load := asttest.Fails(b.Extern("load", nil, b.T("i64")))
	try := b.TryContext(b.Call("load"), "loading {}", b.Id("x"))
	fn := asttest.Fails(b.Func("touch", asttest.Params(b.Param("x", b.T("u8"))), nil,
		b.Let("v", nil, try)))
	b.Ensures(fn, b.Bin(ast.Ge, b.Old(b.Id("x")), b.Int(0)))
	prog := b.Program(nil, load, fn)

	res, rr, bag := verify(t, prog, "touch")
	if res.Fatal {
		t.Fatalf("unexpected fatal diagnostics: %v", bag.Items())
	}
	obs := rr.Obligations.At(fn.Body)
	if len(obs) != 1 || obs[0].Status != obligation.Discharged {
		t.Errorf("fallthrough ensures = %v, want one discharged", obs)
	}
	if len(res.Contexts) != 1 || res.Contexts[0].Try != try || res.Contexts[0].Format != "loading {}" {
		t.Errorf("contexts = %+v", res.Contexts)
	}
}
