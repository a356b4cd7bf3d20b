package compiler

import (
	"context"
	"errors"
	"testing"

	"github.com/asbel-lang/asbel/internal/ast"
	"github.com/asbel-lang/asbel/internal/ast/asttest"
	"github.com/asbel-lang/asbel/internal/diagnostic"
	"github.com/asbel-lang/asbel/internal/lower"
)

func program() *ast.Program {
	b := asttest.New("prog.asb")
	file := func() *ast.TypeExpr { return b.T("File") }
	sqrt := b.Func("sqrt", asttest.Params(b.Param("x", b.T("f64"))), b.T("f64"),
		b.Return(b.Call("sqrt_host", b.Id("x"))))
	b.Requires(sqrt, b.Bin(ast.Ge, b.Id("x"), b.Float(0)))
	b.Ensures(sqrt, b.Bin(ast.Ge, b.Id(ast.ResultName), b.Float(0)))

	good := b.Func("good", asttest.Params(b.Param("y", b.T("f64"))), b.T("f64"),
		b.Return(b.Call("sqrt", b.Id("y"))))
	bad := b.Func("bad", nil, nil,
		b.Let("a", nil, b.Call("open")),
		b.Do(b.Call("consume", b.Id("a"))),
		b.Do(b.Call("consume", b.Id("a"))),
	)
	worse := b.Func("worse", nil, nil,
		b.Let("a", nil, b.Call("open")),
		b.Do(b.Call("consume", b.Id("a"))),
		b.Do(b.Call("peek", b.Id("a"))),
	)
	return b.Program(asttest.Types(b.Resource("File", b.Attr("auto_close"))),
		b.Extern("sqrt_host", asttest.Params(b.Param("x", b.T("f64"))), b.T("f64")),
		sqrt,
		b.Extern("open", nil, file()),
		b.Extern("consume", asttest.Params(b.Param("f", file())), nil),
		b.Extern("peek", asttest.Params(b.Ref("f", file())), nil),
		good, bad, worse,
	)
}

func TestCompileIsolatesFailingFunctions(t *testing.T) {
	res, err := New(Options{Workers: 2}, nil).Compile(context.Background(), program())
	if err != nil {
		t.Fatal(err)
	}
	if !errors.Is(res.Err(), ErrFatal) {
		t.Errorf("Err() = %v, want ErrFatal", res.Err())
	}
	if res.Module.Func("good") == nil || res.Module.Func("sqrt") == nil {
		t.Fatalf("clean functions were not lowered: %d functions", len(res.Module.Functions))
	}
	for _, name := range []string{"bad", "worse"} {
		fr := res.Func(name)
		if fr == nil || !errors.Is(fr.Err, lower.ErrFatal) || fr.IR != nil {
			t.Errorf("%s: %+v", name, fr)
		}
	}
	if res.Stats.Functions != 4 || res.Stats.Lowered != 2 || res.Stats.Failed != 2 {
		t.Errorf("stats = %+v", res.Stats)
	}
	moves := 0
	for _, d := range res.Diagnostics {
		if d.Kind == diagnostic.UseAfterMove {
			moves++
		}
	}
	if moves != 2 {
		t.Errorf("UseAfterMove diagnostics = %d, want 2", moves)
	}
}

func TestCompileOrderIsDeterministic(t *testing.T) {
	prog := program()
	serial, err := New(Options{Workers: 1}, nil).Compile(context.Background(), prog)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		par, err := New(Options{Workers: 8}, nil).Compile(context.Background(), prog)
		if err != nil {
			t.Fatal(err)
		}
		if len(par.Funcs) != len(serial.Funcs) {
			t.Fatalf("funcs = %d, want %d", len(par.Funcs), len(serial.Funcs))
		}
		for j := range par.Funcs {
			if par.Funcs[j].Name != serial.Funcs[j].Name {
				t.Errorf("func %d = %s, want %s", j, par.Funcs[j].Name, serial.Funcs[j].Name)
			}
		}
		for j, f := range par.Module.Functions {
			if f.String() != serial.Module.Functions[j].String() {
				t.Errorf("%s differs between runs:\n%s\n---\n%s", f.Name, f, serial.Module.Functions[j])
			}
		}
		if len(par.Diagnostics) != len(serial.Diagnostics) {
			t.Errorf("diagnostics = %d, want %d", len(par.Diagnostics), len(serial.Diagnostics))
		}
	}
}

func TestCompilesShareTypeIdentity(t *testing.T) {
	c := New(Options{Workers: 2}, nil)
	first, err := c.Compile(context.Background(), program())
	if err != nil {
		t.Fatal(err)
	}
	second, err := c.Compile(context.Background(), program())
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"sqrt", "good"} {
		a, b := first.Func(name), second.Func(name)
		if a == nil || b == nil || a.Refine == nil || b.Refine == nil {
			t.Fatalf("%s: missing refine result", name)
		}
		if a.Refine.Sig.Type != b.Refine.Sig.Type {
			t.Errorf("%s: signature types differ between compiles: %v vs %v", name, a.Refine.Sig.Type, b.Refine.Sig.Type)
		}
		if a.Refine.Sig.Params[0] != b.Refine.Sig.Params[0] {
			t.Errorf("%s: parameter types differ between compiles", name)
		}
	}
	if second.Stats.Types != first.Stats.Types {
		t.Errorf("recompiling the same program grew the type table from %d to %d", first.Stats.Types, second.Stats.Types)
	}
}

func TestDeferredChecksAsErrors(t *testing.T) {
	b := asttest.New("warn.asb")
	main := b.Func("main", asttest.Params(b.Param("y", b.T("i64"))), b.T("i64"),
		b.Let("p", b.IntRange("i64", 0, 100), b.Id("y")),
		b.Return(b.Id("p")))
	prog := b.Program(nil, main)

	tests := []struct {
		name  string
		opts  Options
		fatal bool
		warns bool
	}{
		{"silent", Options{}, false, false},
		{"warn", Options{WarnDeferred: true}, false, true},
		{"as errors", Options{WarnDeferred: true, WarningsAsErrors: true}, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := New(tt.opts, nil).Compile(context.Background(), prog)
			if err != nil {
				t.Fatal(err)
			}
			if got := res.Err() != nil; got != tt.fatal {
				t.Errorf("fatal = %v, want %v: %v", got, tt.fatal, res.Diagnostics)
			}
			warned := false
			for _, d := range res.Diagnostics {
				if d.Kind == diagnostic.DeferredCheck && d.Severity == diagnostic.Warning {
					warned = true
				}
			}
			if warned != tt.warns {
				t.Errorf("deferred warning = %v, want %v", warned, tt.warns)
			}
		})
	}
}

func TestMaxErrorsTruncates(t *testing.T) {
	res, err := New(Options{MaxErrors: 1}, nil).Compile(context.Background(), program())
	if err != nil {
		t.Fatal(err)
	}
	fatal := 0
	for _, d := range res.Diagnostics {
		if d.IsFatal() {
			fatal++
		}
	}
	if fatal != 1 || !res.Truncated {
		t.Errorf("fatal = %d truncated = %v", fatal, res.Truncated)
	}
}

func TestCompileHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := New(Options{}, nil).Compile(ctx, program()); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
