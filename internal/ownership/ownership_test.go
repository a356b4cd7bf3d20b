package ownership

import (
	"fmt"
	"sort"
	"strings"
	"testing"
	"time"

	"go.uber.org/mock/gomock"

	"github.com/asbel-lang/asbel/internal/ast"
	"github.com/asbel-lang/asbel/internal/ast/asttest"
	"github.com/asbel-lang/asbel/internal/diagnostic"
	"github.com/asbel-lang/asbel/internal/diagnostic/mock_diagnostic"
	"github.com/asbel-lang/asbel/internal/refine"
	"github.com/asbel-lang/asbel/internal/testrunner/prop"
	"github.com/asbel-lang/asbel/internal/types"
)

// program declares the File resource, a Pair of files and host functions
// taking files in every passing mode.
func program(b *asttest.Builder, funcs ...*ast.FuncDecl) *ast.Program {
	file := func() *ast.TypeExpr { return b.T("File") }
	decls := []*ast.FuncDecl{
		b.Extern("open", nil, file()),
		asttest.Fails(b.Extern("risky", nil, b.T("i64"))),
		b.Extern("consume", asttest.Params(b.Param("f", file())), nil),
		b.Extern("peek", asttest.Params(b.Ref("f", file())), nil),
		b.Extern("write", asttest.Params(b.MutRef("f", file())), nil),
		b.Extern("link", asttest.Params(b.Ref("a", file()), b.MutRef("b", file())), nil),
		b.Extern("both", asttest.Params(b.Ref("a", file()), b.Ref("b", file())), nil),
		b.Extern("swap", asttest.Params(b.MutRef("a", file()), b.MutRef("b", file())), nil),
		b.Extern("give", asttest.Params(b.Ref("a", file()), b.Param("b", file())), nil),
		b.Extern("pair", asttest.Params(b.Param("f", file()), b.Param("n", b.T("i64"))), nil),
	}
	return b.Program(asttest.Types(
		b.Resource("File", b.Attr("auto_close")),
		b.Struct("Pair", b.Field("a", file()), b.Field("b", file())),
	), append(decls, funcs...)...)
}

func check(t *testing.T, prog *ast.Program, fn string) (*Result, *diagnostic.Bag) {
	t.Helper()
	bag := &diagnostic.Bag{}
	env := refine.Declare(prog, types.NewInterner(), bag)
	decl := prog.Func(fn)
	if decl == nil {
		t.Fatalf("no function %q", fn)
	}
	rr := refine.Analyze(env, decl, refine.Options{}, bag)
	if rr.Fatal {
		t.Fatalf("resolver failed: %v", bag.Items())
	}
	return Check(env, rr, bag), bag
}

func fatalKinds(bag *diagnostic.Bag) []string {
	seen := map[string]bool{}
	var out []string
	for _, d := range bag.Items() {
		if d.IsFatal() && !seen[d.Kind.String()] {
			seen[d.Kind.String()] = true
			out = append(out, d.Kind.String())
		}
	}
	sort.Strings(out)
	return out
}

func planText(p *ReleasePlan) string {
	if p == nil {
		return "<none>"
	}
	parts := make([]string, len(p.Releases))
	for i, r := range p.Releases {
		parts[i] = r.String()
	}
	return strings.Join(parts, "; ")
}

func TestMoveSoundness(t *testing.T) {
	tests := []struct {
		name string
		body func(b *asttest.Builder) []ast.Stmt
		want string
	}{
		{
			name: "use after move",
			body: func(b *asttest.Builder) []ast.Stmt {
				return asttest.Stmts(
					b.Let("f", nil, b.Call("open")),
					b.Do(b.Call("consume", b.Id("f"))),
					b.Do(b.Call("peek", b.Id("f"))),
				)
			},
			want: "UseAfterMove",
		},
		{
			name: "move on one branch",
			body: func(b *asttest.Builder) []ast.Stmt {
				return asttest.Stmts(
					b.Let("f", nil, b.Call("open")),
					b.If(b.Id("c"), asttest.Stmts(b.Do(b.Call("consume", b.Id("f")))), nil),
					b.Do(b.Call("peek", b.Id("f"))),
				)
			},
			want: "UseAfterMove",
		},
		{
			name: "reassignment restores ownership",
			body: func(b *asttest.Builder) []ast.Stmt {
				return asttest.Stmts(
					b.Var("f", nil, b.Call("open")),
					b.If(b.Id("c"),
						asttest.Stmts(b.Do(b.Call("consume", b.Id("f")))),
						asttest.Stmts(b.Do(b.Call("consume", b.Id("f"))))),
					b.Assign(b.Id("f"), b.Call("open")),
					b.Do(b.Call("peek", b.Id("f"))),
				)
			},
		},
		{
			name: "move inside loop",
			body: func(b *asttest.Builder) []ast.Stmt {
				return asttest.Stmts(
					b.Let("f", nil, b.Call("open")),
					b.While(b.Id("c"), b.Do(b.Call("consume", b.Id("f")))),
				)
			},
			want: "UseAfterMove",
		},
		{
			name: "move then break",
			body: func(b *asttest.Builder) []ast.Stmt {
				return asttest.Stmts(
					b.Let("f", nil, b.Call("open")),
					b.While(b.Id("c"), b.Do(b.Call("consume", b.Id("f"))), b.Break()),
				)
			},
		},
		{
			name: "partial move keeps sibling fields",
			body: func(b *asttest.Builder) []ast.Stmt {
				return asttest.Stmts(
					b.Let("p", nil, b.Lit("Pair", "a", b.Call("open"), "b", b.Call("open"))),
					b.Do(b.Call("consume", b.Sel(b.Id("p"), "a"))),
					b.Do(b.Call("peek", b.Sel(b.Id("p"), "b"))),
				)
			},
		},
		{
			name: "partial move blocks whole use",
			body: func(b *asttest.Builder) []ast.Stmt {
				return asttest.Stmts(
					b.Let("p", nil, b.Lit("Pair", "a", b.Call("open"), "b", b.Call("open"))),
					b.Do(b.Call("consume", b.Sel(b.Id("p"), "a"))),
					b.Let("q", nil, b.Id("p")),
				)
			},
			want: "UseAfterMove",
		},
		{
			name: "copies stay usable",
			body: func(b *asttest.Builder) []ast.Stmt {
				return asttest.Stmts(
					b.Let("n", nil, b.Int(5)),
					b.Let("m", nil, b.Id("n")),
					b.Let("k", nil, b.Id("n")),
				)
			},
		},
		{
			name: "shared and mutable borrow in one call",
			body: func(b *asttest.Builder) []ast.Stmt {
				return asttest.Stmts(
					b.Let("f", nil, b.Call("open")),
					b.Do(b.Call("link", b.Id("f"), b.Id("f"))),
				)
			},
			want: "AliasConflict",
		},
		{
			name: "two mutable borrows",
			body: func(b *asttest.Builder) []ast.Stmt {
				return asttest.Stmts(
					b.Let("f", nil, b.Call("open")),
					b.Do(b.Call("swap", b.Id("f"), b.Id("f"))),
				)
			},
			want: "AliasConflict",
		},
		{
			name: "move while borrowed",
			body: func(b *asttest.Builder) []ast.Stmt {
				return asttest.Stmts(
					b.Let("f", nil, b.Call("open")),
					b.Do(b.Call("give", b.Id("f"), b.Id("f"))),
				)
			},
			want: "AliasConflict",
		},
		{
			name: "two shared borrows",
			body: func(b *asttest.Builder) []ast.Stmt {
				return asttest.Stmts(
					b.Let("f", nil, b.Call("open")),
					b.Do(b.Call("both", b.Id("f"), b.Id("f"))),
				)
			},
		},
		{
			name: "borrows end with the call",
			body: func(b *asttest.Builder) []ast.Stmt {
				return asttest.Stmts(
					b.Let("f", nil, b.Call("open")),
					b.Do(b.Call("write", b.Id("f"))),
					b.Do(b.Call("peek", b.Id("f"))),
					b.Do(b.Call("consume", b.Id("f"))),
				)
			},
		},
		{
			name: "use after spawn capture",
			body: func(b *asttest.Builder) []ast.Stmt {
				return asttest.Stmts(
					b.Let("f", nil, b.Call("open")),
					b.Let("t", nil, b.Spawn(b.Do(b.Call("consume", b.Id("f"))))),
					b.Do(b.Call("peek", b.Id("f"))),
				)
			},
			want: "CapturedAfterMove",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := asttest.New("own.asb")
			fn := b.Func("f", asttest.Params(b.Param("c", b.T("bool"))), nil, tt.body(b)...)
			res, bag := check(t, program(b, fn), "f")
			got := strings.Join(fatalKinds(bag), ",")
			if got != tt.want {
				t.Fatalf("diagnostics = %q, want %q (%v)", got, tt.want, bag.Items())
			}
			if res.Fatal != (tt.want != "") {
				t.Errorf("Fatal = %v", res.Fatal)
			}
		})
	}
}

func TestBorrowedParameters(t *testing.T) {
	b := asttest.New("params.asb")
	moveOut := b.Func("moveOut", asttest.Params(b.Ref("f", b.T("File"))), nil,
		b.Do(b.Call("consume", b.Id("f"))))
	writeShared := b.Func("writeShared", asttest.Params(b.Ref("f", b.T("File"))), nil,
		b.Do(b.Call("write", b.Id("f"))))
	spawnRef := b.Func("spawnRef", asttest.Params(b.MutRef("f", b.T("File"))), nil,
		b.Do(b.Spawn(b.Do(b.Call("peek", b.Id("f"))))))
	writeMut := b.Func("writeMut", asttest.Params(b.MutRef("f", b.T("File"))), nil,
		b.Do(b.Call("write", b.Id("f"))),
		b.Do(b.Call("peek", b.Id("f"))))
	prog := program(b, moveOut, writeShared, spawnRef, writeMut)

	for _, fn := range []string{"moveOut", "writeShared", "spawnRef"} {
		_, bag := check(t, prog, fn)
		if got := strings.Join(fatalKinds(bag), ","); got != "AliasConflict" {
			t.Errorf("%s: diagnostics = %q, want AliasConflict", fn, got)
		}
	}
	res, bag := check(t, prog, "writeMut")
	if res.Fatal {
		t.Fatalf("writeMut: %v", bag.Items())
	}
	if got := planText(res.Plan(writeMut.Body)); got != "" {
		t.Errorf("reference parameters are never released, got %q", got)
	}
}

func TestReleasePlans(t *testing.T) {
	b := asttest.New("release.asb")

	open := func(name string) ast.Stmt { return b.Let(name, nil, b.Call("open")) }

	fallthroughFn := b.Func("fall", nil, nil, open("a"), open("b"))

	ret := b.Return(b.Id("a"))
	returnFn := b.Func("ret", nil, b.T("File"), open("a"), open("b"), ret)

	early := b.Return(nil)
	earlyFn := b.Func("early", asttest.Params(b.Param("c", b.T("bool"))), nil,
		open("a"),
		b.If(b.Id("c"), asttest.Stmts(open("x"), early), nil),
		open("b"))

	brk := b.Break()
	loopFn := b.Func("loop", asttest.Params(b.Param("c", b.T("bool"))), nil,
		open("a"),
		b.While(b.Id("c"), open("x"), brk))

	try := b.Try(b.Call("risky"))
	tryFn := asttest.Fails(b.Func("try", nil, nil, open("a"), b.Let("n", nil, try), open("b")))

	pendingTry := b.Try(b.Call("risky"))
	pendingFn := asttest.Fails(b.Func("pending", nil, nil,
		b.Do(b.Call("pair", b.Call("open"), pendingTry))))

	discard := b.Do(b.Call("open"))
	discardFn := b.Func("discard", nil, nil, discard)

	over := b.Assign(b.Id("f"), b.Call("open"))
	overFn := b.Func("over", nil, nil, b.Var("f", nil, b.Call("open")), over)

	partialFn := b.Func("partial", nil, nil,
		b.Let("p", nil, b.Lit("Pair", "a", b.Call("open"), "b", b.Call("open"))),
		b.Do(b.Call("consume", b.Sel(b.Id("p"), "a"))))

	paramFn := b.Func("param", asttest.Params(b.Param("f", b.T("File"))), nil)

	prog := program(b, fallthroughFn, returnFn, earlyFn, loopFn, tryFn, pendingFn,
		discardFn, overFn, partialFn, paramFn)

	tests := []struct {
		fn   string
		at   func() ast.Node
		want string
	}{
		{"fall", func() ast.Node { return fallthroughFn.Body }, "close(b); close(a)"},
		{"ret", func() ast.Node { return ret }, "close(b)"},
		{"early", func() ast.Node { return early }, "close(x); close(a)"},
		{"early", func() ast.Node { return earlyFn.Body }, "close(b); close(a)"},
		{"loop", func() ast.Node { return brk }, "close(x)"},
		{"loop", func() ast.Node { return loopFn.Body }, "close(a)"},
		{"try", func() ast.Node { return try }, "close(a)"},
		{"pending", func() ast.Node { return pendingTry }, "close(open())"},
		{"discard", func() ast.Node { return discard }, "close(open())"},
		{"over", func() ast.Node { return over }, "close(f)"},
		{"over", func() ast.Node { return overFn.Body }, "close(f)"},
		{"partial", func() ast.Node { return partialFn.Body }, "free(p) skip[a]"},
		{"param", func() ast.Node { return paramFn.Body }, "close(f)"},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%s", tt.fn, tt.want), func(t *testing.T) {
			res, bag := check(t, prog, tt.fn)
			if res.Fatal {
				t.Fatalf("unexpected diagnostics: %v", bag.Items())
			}
			if got := planText(res.Plan(tt.at())); got != tt.want {
				t.Errorf("plan = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestConditionalRelease(t *testing.T) {
	b := asttest.New("flag.asb")
	decl := b.Let("f", nil, b.Call("open"))
	fn := b.Func("f", asttest.Params(b.Param("c", b.T("bool"))), nil,
		decl,
		b.If(b.Id("c"), asttest.Stmts(b.Do(b.Call("consume", b.Id("f")))), nil))

	res, bag := check(t, program(b, fn), "f")
	if res.Fatal {
		t.Fatalf("unexpected diagnostics: %v", bag.Items())
	}
	if got := planText(res.Plan(fn.Body)); got != "close(f) if-owned" {
		t.Errorf("plan = %q", got)
	}
	if !res.Flags[decl] {
		t.Error("f needs a drop flag")
	}
}

func TestResourceReleaseKinds(t *testing.T) {
	b := asttest.New("kinds.asb")
	fn := b.Func("f", asttest.Params(
		b.Param("c", b.T("Conn")),
		b.Param("l", b.T("Lease")),
		b.Param("p", b.T("Plain")),
	), nil)
	prog := b.Program(asttest.Types(
		b.Resource("Conn", b.Attr("auto_release", b.Id("disconnect"))),
		b.Resource("Lease", b.Attr("timeout", b.Int(250))),
		b.Struct("Plain", b.Field("n", b.T("i64"))),
	), fn)

	res, bag := check(t, prog, "f")
	if res.Fatal {
		t.Fatalf("unexpected diagnostics: %v", bag.Items())
	}
	want := "free(p); close(l, deadline=250ms); disconnect(c)"
	if got := planText(res.Plan(fn.Body)); got != want {
		t.Errorf("plan = %q, want %q", got, want)
	}
}

func TestCaptureSafety(t *testing.T) {
	b := asttest.New("capture.asb")

	readStage := b.Stage(ast.MapStage, ast.Parallel, "x", b.Bin(ast.Add, b.Id("x"), b.Id("n")))
	readFn := b.Func("read", asttest.Params(b.Param("n", b.T("i64"))), b.T("i64"),
		b.Return(b.Pipeline(b.Int(0), b.Int(10), ast.SumSink, readStage)))

	moveStage := b.Stage(ast.EachStage, ast.Parallel, "x", b.Call("consume", b.Id("f")))
	moveFn := b.Func("move", asttest.Params(b.Param("f", b.T("File"))), nil,
		b.Do(b.Pipeline(b.Int(0), b.Int(10), ast.DrainSink, moveStage)))

	seqStage := b.Stage(ast.EachStage, ast.Sequential, "x", b.Call("consume", b.Id("f")))
	seqFn := b.Func("seq", asttest.Params(b.Param("f", b.T("File"))), nil,
		b.Do(b.Pipeline(b.Int(0), b.Int(10), ast.DrainSink, seqStage)))

	mutStage := b.Stage(ast.EachStage, ast.Parallel, "x", b.Call("write", b.Id("f")))
	mutFn := b.Func("mut", asttest.Params(b.Param("f", b.T("File"))), nil,
		b.Do(b.Pipeline(b.Int(0), b.Int(10), ast.DrainSink, mutStage)))

	spawn := b.Spawn(b.Do(b.Call("consume", b.Id("f"))), b.Do(b.Call("peek", b.Id("g"))))
	spawnFn := b.Func("spawn", asttest.Params(b.Param("f", b.T("File")), b.Param("g", b.T("File")), b.Param("n", b.T("i64"))), nil,
		b.Do(spawn),
		b.Let("m", nil, b.Id("n")))

	prog := program(b, readFn, moveFn, seqFn, mutFn, spawnFn)

	res, bag := check(t, prog, "read")
	if res.Fatal || !res.Parallel[readStage] {
		t.Errorf("read-only stage must be proven parallel: %v", bag.Items())
	}

	for _, tc := range []struct {
		fn    string
		stage *ast.Stage
		want  string
	}{
		{"move", moveStage, "ParallelCapture"},
		{"seq", seqStage, "UseAfterMove"},
		{"mut", mutStage, "ParallelCapture"},
	} {
		res, bag := check(t, prog, tc.fn)
		if got := strings.Join(fatalKinds(bag), ","); got != tc.want {
			t.Errorf("%s: diagnostics = %q, want %q", tc.fn, got, tc.want)
		}
		if res.Parallel[tc.stage] {
			t.Errorf("%s: stage must not be marked parallel", tc.fn)
		}
	}

	res, bag = check(t, prog, "spawn")
	if res.Fatal {
		t.Fatalf("spawn: %v", bag.Items())
	}
	var names []string
	for _, c := range res.Captures[spawn] {
		names = append(names, c.Name)
	}
	if got := strings.Join(names, ","); got != "f,g" {
		t.Errorf("captures = %q, want f,g", got)
	}
	if got := planText(res.Plan(spawn.Body)); got != "close(g)" {
		t.Errorf("task plan = %q, want close(g)", got)
	}
	if got := planText(res.Plan(spawnFn.Body)); got != "" {
		t.Errorf("captured files must not be released by the spawner, got %q", got)
	}
}

// A single call never holds a mutable borrow of a binding alongside any
// other borrow of it.
func TestBorrowExclusivityProperty(t *testing.T) {
	modes := prop.GenSlice(prop.GenOneOf(ast.ByRef, ast.ByMutRef))
	property := func(ms []ast.ParamMode) bool {
		if len(ms) > 5 {
			ms = ms[:5]
		}
		b := asttest.New("prop.asb")
		var params []*ast.Param
		var args []ast.Expr
		for i, m := range ms {
			p := b.Ref(fmt.Sprintf("p%d", i), b.T("File"))
			p.Mode = m
			params = append(params, p)
			args = append(args, b.Id("f"))
		}
		fn := b.Func("f", nil, nil,
			b.Let("f", nil, b.Call("open")),
			b.Do(b.Call("target", args...)))
		prog := program(b, b.Extern("target", params, nil), fn)

		bag := &diagnostic.Bag{}
		env := refine.Declare(prog, types.NewInterner(), bag)
		res := Check(env, refine.Analyze(env, fn, refine.Options{}, bag), bag)

		hasMut := false
		for _, m := range ms {
			hasMut = hasMut || m == ast.ByMutRef
		}
		want := hasMut && len(ms) >= 2
		return res.Fatal == want
	}

	res := prop.ForAll(modes, prop.ShrinkSlice[ast.ParamMode](nil), property,
		prop.Options{Trials: 200, Size: 5, MaxShrinkTime: 2 * time.Second})
	if res.Failed {
		t.Fatalf("property failed: %s", res)
	}
}

func TestDiagnosticsReachSink(t *testing.T) {
	ctrl := gomock.NewController(t)
	sink := mock_diagnostic.NewMockSink(ctrl)

	b := asttest.New("sink.asb")
	use := b.Id("f")
	fn := b.Func("f", nil, nil,
		b.Let("f", nil, b.Call("open")),
		b.Do(b.Call("consume", b.Id("f"))),
		b.Do(b.Call("consume", use)))
	prog := program(b, fn)

	bag := &diagnostic.Bag{}
	env := refine.Declare(prog, types.NewInterner(), bag)
	rr := refine.Analyze(env, fn, refine.Options{}, bag)

	sink.EXPECT().Report(gomock.Cond(func(x any) bool {
		d := x.(*diagnostic.Diagnostic)
		return d.Kind == diagnostic.UseAfterMove && d.Span == use.Span && d.Function == "f" && len(d.Related) == 1
	})).Times(1)

	res := Check(env, rr, sink)
	if err := res.Err(); err == nil || !strings.Contains(err.Error(), "ownership violations") {
		t.Errorf("Err() = %v", err)
	}
}
