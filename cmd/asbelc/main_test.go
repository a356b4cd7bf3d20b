package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/asbel-lang/asbel/internal/ast"
	"github.com/asbel-lang/asbel/internal/ast/asttest"
	"github.com/asbel-lang/asbel/internal/cli"
)

func writeProgram(t *testing.T, dir, name string, p *ast.Program) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := ast.Encode(f, p); err != nil {
		t.Fatal(err)
	}
	return path
}

func sqrtProgram() *ast.Program {
	b := asttest.New("sqrt.asb")
	sqrt := b.Func("sqrt", asttest.Params(b.Param("x", b.T("f64"))), b.T("f64"),
		b.Return(b.Call("sqrt_host", b.Id("x"))))
	b.Requires(sqrt, b.Bin(ast.Ge, b.Id("x"), b.Float(0)))
	return b.Program(nil,
		b.Extern("sqrt_host", asttest.Params(b.Param("x", b.T("f64"))), b.T("f64")),
		sqrt,
		b.Func("main", nil, b.T("f64"), b.Return(b.Call("sqrt", b.Float(4)))),
		b.Func("caller", asttest.Params(b.Param("y", b.T("f64"))), b.T("f64"),
			b.Return(b.Call("sqrt", b.Id("y")))),
	)
}

func movedProgram() *ast.Program {
	b := asttest.New("moved.asb")
	file := func() *ast.TypeExpr { return b.T("File") }
	return b.Program(asttest.Types(b.Resource("File", b.Attr("auto_close"))),
		b.Extern("consume", asttest.Params(b.Param("f", file())), nil),
		b.Func("f", nil, nil,
			b.Let("a", nil, b.Lit("File")),
			b.Do(b.Call("consume", b.Id("a"))),
			b.Do(b.Call("consume", b.Id("a"))),
		))
}

func TestSubcommands(t *testing.T) {
	dir := t.TempDir()
	good := writeProgram(t, dir, "sqrt.json", sqrtProgram())
	bad := writeProgram(t, dir, "moved.json", movedProgram())
	config := filepath.Join(dir, "absent.json")

	tests := []struct {
		name    string
		args    []string
		code    int
		stdout  string
		stderr  string
		isJSON  bool
		outFile string
	}{
		{name: "check clean", args: []string{"check", "-config", config, good}, stdout: "no issues found"},
		{name: "check violation", args: []string{"check", "-config", config, bad}, code: 1, stdout: "E0200 UseAfterMove"},
		{name: "check json", args: []string{"check", "-config", config, "-json", bad}, code: 1, isJSON: true},
		{name: "lower text", args: []string{"lower", "-config", config, good}, stdout: "fn main() -> f64 {"},
		{name: "lower refuses violations", args: []string{"lower", "-config", config, bad}, code: 1, stderr: "UseAfterMove"},
		{name: "lower json", args: []string{"lower", "-config", config, "-format", "json", good}, isJSON: true},
		{name: "lower to file", args: []string{"lower", "-config", config, "-o", filepath.Join(dir, "out.ir"), good}, outFile: filepath.Join(dir, "out.ir")},
		{name: "bad format", args: []string{"lower", "-config", config, "-format", "c", good}, code: 2},
		{name: "run entry", args: []string{"run", "-config", config, good}, stdout: "2"},
		{name: "run with args", args: []string{"run", "-config", config, "-entry", "caller", good, "9"}, stdout: "3"},
		{name: "run abort", args: []string{"run", "-config", config, "-entry", "caller", good, "-1"}, code: 1, stderr: "abort: caller bug"},
		{name: "run trace", args: []string{"run", "-config", config, "-trace", good}, stdout: "2"},
		{name: "missing file", args: []string{"check", "-config", config}, code: 2, stderr: "insufficient arguments"},
		{name: "bad schema flag", args: []string{"check", "-config", config, "-schema", "nope", good}, code: 2},
		{name: "version", args: []string{"version"}, stdout: cli.Version},
		{name: "help", args: []string{"help"}, stdout: "COMMANDS:"},
		{name: "command help", args: []string{"run", "-h"}, stderr: "run -entry sqrt prog.json 9"},
		{name: "unknown", args: []string{"frobnicate"}, code: 2, stderr: "unknown subcommand"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			code := run(tt.args, &stdout, &stderr)
			if code != tt.code {
				t.Fatalf("exit = %d, want %d\nstdout: %s\nstderr: %s", code, tt.code, &stdout, &stderr)
			}
			if !strings.Contains(stdout.String(), tt.stdout) {
				t.Errorf("stdout lacks %q:\n%s", tt.stdout, &stdout)
			}
			if !strings.Contains(stderr.String(), tt.stderr) {
				t.Errorf("stderr lacks %q:\n%s", tt.stderr, &stderr)
			}
			if tt.isJSON {
				dec := json.NewDecoder(&stdout)
				var v map[string]any
				if err := dec.Decode(&v); err != nil {
					t.Errorf("stdout is not JSON: %v", err)
				}
			}
			if tt.outFile != "" {
				data, err := os.ReadFile(tt.outFile)
				if err != nil || !strings.Contains(string(data), "module sqrt") {
					t.Errorf("output file: %v\n%s", err, data)
				}
			}
		})
	}
}

func TestParseValues(t *testing.T) {
	got := parseValues([]string{"3", "-2.5", "true", "name"})
	want := []any{int64(3), -2.5, true, "name"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("value %d = %#v, want %#v", i, got[i], want[i])
		}
	}
}

func TestInitWritesConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "asbel.json")
	tests := []struct {
		name    string
		args    []string
		code    int
		workers int
	}{
		{name: "fresh", args: []string{"init", "-config", path, "-workers", "3"}, workers: 3},
		{name: "exists", args: []string{"init", "-config", path, "-workers", "5"}, code: 1, workers: 3},
		{name: "force", args: []string{"init", "-config", path, "-force", "-Werror"}, workers: 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			if code := run(tt.args, &stdout, &stderr); code != tt.code {
				t.Fatalf("exit = %d, want %d\nstderr: %s", code, tt.code, &stderr)
			}
			cfg, err := cli.LoadConfig(path)
			if err != nil {
				t.Fatal(err)
			}
			if cfg.Workers != tt.workers {
				t.Errorf("workers = %d, want %d", cfg.Workers, tt.workers)
			}
		})
	}
	cfg, err := cli.LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.WarningsAsErrors || cfg.Entry != "main" {
		t.Errorf("forced config = %+v", cfg)
	}
}
