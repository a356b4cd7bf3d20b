package lower

import (
	"errors"
	"strings"
	"testing"

	"github.com/asbel-lang/asbel/internal/ast"
	"github.com/asbel-lang/asbel/internal/ast/asttest"
	"github.com/asbel-lang/asbel/internal/contract"
	"github.com/asbel-lang/asbel/internal/diagnostic"
	"github.com/asbel-lang/asbel/internal/ir"
	"github.com/asbel-lang/asbel/internal/ownership"
	"github.com/asbel-lang/asbel/internal/refine"
	"github.com/asbel-lang/asbel/internal/types"
)

func program(b *asttest.Builder, funcs ...*ast.FuncDecl) *ast.Program {
	file := func() *ast.TypeExpr { return b.T("File") }
	host := b.Extern("sqrt_host", asttest.Params(b.Param("x", b.T("f64"))), b.T("f64"))
	sqrt := b.Func("sqrt", asttest.Params(b.Param("x", b.T("f64"))), b.T("f64"),
		b.Return(b.Call("sqrt_host", b.Id("x"))))
	b.Requires(sqrt, b.Bin(ast.Ge, b.Id("x"), b.Float(0)))
	b.Ensures(sqrt, b.Bin(ast.Ge, b.Id(ast.ResultName), b.Float(0)))
	decls := []*ast.FuncDecl{
		host, sqrt,
		b.Extern("open", nil, file()),
		asttest.Fails(b.Extern("risky", nil, b.T("i64"))),
		b.Extern("consume", asttest.Params(b.Param("f", file())), nil),
		b.Extern("peek", asttest.Params(b.Ref("f", file())), nil),
	}
	return b.Program(asttest.Types(b.Resource("File", b.Attr("auto_close"))), append(decls, funcs...)...)
}

func analyze(t *testing.T, prog *ast.Program, fn string) (*ir.Function, error) {
	t.Helper()
	bag := &diagnostic.Bag{}
	env := refine.Declare(prog, types.NewInterner(), bag)
	decl := prog.Func(fn)
	if decl == nil {
		t.Fatalf("no function %q", fn)
	}
	rr := refine.Analyze(env, decl, refine.Options{}, bag)
	own := ownership.Check(env, rr, bag)
	cr := contract.Verify(env, rr, bag)
	return Lower(env, rr, own, cr)
}

func lower(t *testing.T, prog *ast.Program, fn string) *ir.Function {
	t.Helper()
	f, err := analyze(t, prog, fn)
	if err != nil {
		t.Fatalf("Lower(%s): %v", fn, err)
	}
	return f
}

// index returns the position of the first top-level statement matching f.
func index(ss []ir.Stmt, f func(ir.Stmt) bool) int {
	for i, s := range ss {
		if f(s) {
			return i
		}
	}
	return -1
}

func collect[T ir.Stmt](ss []ir.Stmt) []T {
	var out []T
	ir.Walk(ss, func(s ir.Stmt) {
		if v, ok := s.(T); ok {
			out = append(out, v)
		}
	})
	return out
}

func TestRequiresGuardPrecedesCall(t *testing.T) {
	b := asttest.New("guard.asb")
	main := b.Func("main", asttest.Params(b.Param("y", b.T("f64"))), nil,
		b.Let("r", nil, b.Call("sqrt", b.Id("y"))))
	f := lower(t, program(b, main), "main")

	guard := index(f.Body, func(s ir.Stmt) bool {
		g, ok := s.(*ir.Guard)
		return ok && g.Source == "requires"
	})
	call := index(f.Body, func(s ir.Stmt) bool {
		l, ok := s.(*ir.Let)
		if !ok {
			return false
		}
		c, ok := l.Value.(ir.Call)
		return ok && c.Callee == "sqrt"
	})
	if guard < 0 || call < 0 || guard > call {
		t.Fatalf("guard at %d, call at %d:\n%s", guard, call, f)
	}
	g := f.Body[guard].(*ir.Guard)
	if !strings.Contains(g.Cond.String(), "y >=") {
		t.Errorf("guard condition %s does not test the argument", g.Cond)
	}
	if len(f.Obligations) != 1 || g.Obligation != f.Obligations[0] {
		t.Errorf("obligations = %v, guard checks #%d", f.Obligations, g.Obligation)
	}
}

func TestDischargedRequiresHaveNoGuard(t *testing.T) {
	b := asttest.New("const.asb")
	main := b.Func("main", nil, nil, b.Let("r", nil, b.Call("sqrt", b.Float(4))))
	f := lower(t, program(b, main), "main")
	if gs := collect[*ir.Guard](f.Body); len(gs) != 0 {
		t.Errorf("guards = %v, want none:\n%s", gs, f)
	}
}

func TestEnsuresAssertBeforeReturn(t *testing.T) {
	b := asttest.New("ensures.asb")
	f := lower(t, program(b), "sqrt")

	assert := index(f.Body, func(s ir.Stmt) bool { _, ok := s.(*ir.Assert); return ok })
	ret := index(f.Body, func(s ir.Stmt) bool { _, ok := s.(*ir.Return); return ok })
	if assert < 0 || ret < 0 || assert > ret {
		t.Fatalf("assert at %d, return at %d:\n%s", assert, ret, f)
	}
	a := f.Body[assert].(*ir.Assert)
	r := f.Body[ret].(*ir.Return)
	if r.Value == nil || !strings.Contains(a.Cond.String(), r.Value.String()) {
		t.Errorf("assert %s does not test the returned value %s", a.Cond, r.Value)
	}
	if !strings.HasPrefix(a.Message, "sqrt ensures") {
		t.Errorf("message = %q", a.Message)
	}
}

func TestReleasePlacement(t *testing.T) {
	tests := []struct {
		name string
		body func(b *asttest.Builder) []ast.Stmt
		want []string
	}{
		{
			name: "reverse declaration order",
			body: func(b *asttest.Builder) []ast.Stmt {
				return asttest.Stmts(
					b.Let("a", nil, b.Call("open")),
					b.Let("b", nil, b.Call("open")),
				)
			},
			want: []string{"release close close(b)", "release close close(a)"},
		},
		{
			name: "moved binding is not released",
			body: func(b *asttest.Builder) []ast.Stmt {
				return asttest.Stmts(
					b.Let("a", nil, b.Call("open")),
					b.Let("b", nil, b.Call("open")),
					b.Do(b.Call("consume", b.Id("a"))),
				)
			},
			want: []string{"release close close(b)"},
		},
		{
			name: "borrowed binding stays owned",
			body: func(b *asttest.Builder) []ast.Stmt {
				return asttest.Stmts(
					b.Let("a", nil, b.Call("open")),
					b.Do(b.Call("peek", b.Id("a"))),
				)
			},
			want: []string{"release close close(a)"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := asttest.New("release.asb")
			fn := b.Func("f", nil, nil, tt.body(b)...)
			f := lower(t, program(b, fn), "f")

			var got []string
			for _, r := range collect[*ir.Release](f.Body) {
				got = append(got, r.String())
			}
			if strings.Join(got, "; ") != strings.Join(tt.want, "; ") {
				t.Errorf("releases = %q, want %q\n%s", got, tt.want, f)
			}
			if _, ok := f.Body[len(f.Body)-1].(*ir.Return); !ok {
				t.Errorf("body does not end in a return:\n%s", f)
			}
		})
	}
}

func TestEarlyReturnReleases(t *testing.T) {
	b := asttest.New("early.asb")
	fn := b.Func("f", asttest.Params(b.Param("c", b.T("bool"))), nil,
		b.Let("a", nil, b.Call("open")),
		b.If(b.Id("c"), asttest.Stmts(b.Return(nil)), nil),
	)
	f := lower(t, program(b, fn), "f")

	branch := collect[*ir.If](f.Body)
	if len(branch) != 1 {
		t.Fatalf("ifs = %d:\n%s", len(branch), f)
	}
	then := branch[0].Then
	if len(then) != 2 {
		t.Fatalf("then = %v", then)
	}
	if r, ok := then[0].(*ir.Release); !ok || r.Name != "a" {
		t.Errorf("then[0] = %v, want release of a", then[0])
	}
	if _, ok := then[1].(*ir.Return); !ok {
		t.Errorf("then[1] = %v, want return", then[1])
	}
	if n := len(collect[*ir.Release](f.Body)); n != 2 {
		t.Errorf("releases = %d, want 2", n)
	}
}

func TestDropFlags(t *testing.T) {
	b := asttest.New("flags.asb")
	fn := b.Func("f", asttest.Params(b.Param("c", b.T("bool"))), nil,
		b.Let("a", nil, b.Call("open")),
		b.If(b.Id("c"), asttest.Stmts(b.Do(b.Call("consume", b.Id("a")))), nil),
	)
	f := lower(t, program(b, fn), "f")
	text := f.String()

	for _, want := range []string{
		"flag a$moved reset",
		"flag a$moved set 0x1",
		"call consume(move a)",
		"release close close(a) unless-moved a$moved",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("missing %q in:\n%s", want, text)
		}
	}
}

func TestTryReleasesOnError(t *testing.T) {
	b := asttest.New("try.asb")
	fn := asttest.Fails(b.Func("f", nil, nil,
		b.Let("a", nil, b.Call("open")),
		b.Let("v", nil, b.TryContext(b.Call("risky"), "risky failed")),
	))
	f := lower(t, program(b, fn), "f")

	props := collect[*ir.Propagate](f.Body)
	if len(props) != 1 {
		t.Fatalf("propagates = %d:\n%s", len(props), f)
	}
	p := props[0]
	if p.Context == nil || p.Context.Format != "risky failed" {
		t.Errorf("context = %+v", p.Context)
	}
	if len(p.OnError) != 1 || p.OnError[0].(*ir.Release).Name != "a" {
		t.Errorf("on error = %v, want release of a", p.OnError)
	}
	if n := len(collect[*ir.Release](f.Body)); n != 2 {
		t.Errorf("releases = %d, want 2 (error edge and fallthrough)", n)
	}
}

func TestSpawnBecomesTask(t *testing.T) {
	b := asttest.New("spawn.asb")
	fn := b.Func("f", nil, nil,
		b.Let("a", nil, b.Call("open")),
		b.Let("h", nil, b.Spawn(b.Do(b.Call("consume", b.Id("a"))))),
	)
	f := lower(t, program(b, fn), "f")

	if len(f.Tasks) != 1 {
		t.Fatalf("tasks = %d:\n%s", len(f.Tasks), f)
	}
	task := f.Tasks[0]
	if len(task.Params) != 1 || task.Params[0].Type != "File" {
		t.Errorf("task params = %+v", task.Params)
	}
	if !strings.Contains(f.String(), "spawn task0(a)") {
		t.Errorf("missing spawn:\n%s", f)
	}
	if n := len(collect[*ir.Release](f.Body)); n != 0 {
		t.Errorf("spawning function releases the moved capture:\n%s", f)
	}
}

func TestPipelineStages(t *testing.T) {
	b := asttest.New("pipe.asb")
	fn := b.Func("f", nil, b.T("i64"),
		b.Return(b.Pipeline(b.Int(0), b.Int(10), ast.SumSink,
			b.Stage(ast.MapStage, ast.Parallel, "x", b.Bin(ast.Mul, b.Id("x"), b.Int(2))),
			b.Stage(ast.FilterStage, ast.NoHint, "y", b.Bin(ast.Gt, b.Id("y"), b.Int(4))),
		)))
	f := lower(t, program(b, fn), "f")

	loops := collect[*ir.ParLoop](f.Body)
	if len(loops) != 1 {
		t.Fatalf("parloops = %d:\n%s", len(loops), f)
	}
	st := loops[0].Stages
	if len(st) != 2 || !st[0].Parallel || st[1].Parallel || st[0].Param != "x" || st[1].Kind != "filter" {
		t.Errorf("stages:\n%s", f)
	}
	if loops[0].Sink != "sum" {
		t.Errorf("sink = %q", loops[0].Sink)
	}
}

func TestFatalFunctionsAreRefused(t *testing.T) {
	b := asttest.New("fatal.asb")
	fn := b.Func("f", nil, nil,
		b.Let("a", nil, b.Call("open")),
		b.Do(b.Call("consume", b.Id("a"))),
		b.Do(b.Call("consume", b.Id("a"))),
	)
	_, err := analyze(t, program(b, fn), "f")
	if !errors.Is(err, ErrFatal) {
		t.Errorf("err = %v, want ErrFatal", err)
	}
}

func TestShadowedNamesAreUnique(t *testing.T) {
	b := asttest.New("shadow.asb")
	fn := b.Func("f", nil, b.T("i64"),
		b.Let("x", nil, b.Int(1)),
		b.Block(
			b.Let("x", nil, b.Int(2)),
			b.Let("x_1", nil, b.Int(3)),
			b.Let("x$1", nil, b.Int(4)),
			b.Return(b.Id("x")),
		),
	)
	f := lower(t, program(b, fn), "f")

	seen := make(map[string]bool)
	var inner string
	for _, l := range collect[*ir.Let](f.Body) {
		if seen[l.Name] {
			t.Errorf("%s declared twice:\n%s", l.Name, f)
		}
		seen[l.Name] = true
		if c, ok := l.Value.(ir.Const); ok && c.String() == "2" {
			inner = l.Name
		}
	}
	rets := collect[*ir.Return](f.Body)
	if len(rets) != 1 || inner == "" {
		t.Fatalf("unexpected body:\n%s", f)
	}
	if v, ok := rets[0].Value.(ir.Var); !ok || v.Name != inner {
		t.Errorf("return %v, want the inner x (%s)", rets[0].Value, inner)
	}
}
