package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/asbel-lang/asbel/internal/ast"
	"github.com/asbel-lang/asbel/internal/compiler"
	"github.com/asbel-lang/asbel/internal/diagnostic"
	"github.com/asbel-lang/asbel/internal/ir"
	"github.com/asbel-lang/asbel/internal/position"
	"github.com/asbel-lang/asbel/internal/vm"
	"github.com/asbel-lang/asbel/internal/watch"
)

// compileFile decodes the typed AST at path and runs the pipeline over it.
func (c *common) compileFile(ctx context.Context, path string) (*compiler.Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	prog, err := ast.DecodeWithConstraint(f, c.cfg.Schema)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	c.log.Info("%s: %d types, %d functions", path, len(prog.Types), len(prog.Funcs))
	return c.compiler().Compile(ctx, prog)
}

// render prints diagnostics, quoting source lines for any span whose file
// can be found next to the typed AST or in the working directory.
func (c *common) render(w io.Writer, astPath string, ds []*diagnostic.Diagnostic) {
	sources := position.NewSourceMap()
	seen := make(map[string]bool)
	for _, d := range ds {
		name := d.Span.Start.Filename
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		for _, p := range []string{name, filepath.Join(filepath.Dir(astPath), name)} {
			if data, err := os.ReadFile(p); err == nil {
				sources.AddFile(name, string(data))
				break
			}
		}
	}
	r := &diagnostic.Renderer{Color: c.useColor(w), Sources: sources}
	if err := r.Render(w, ds); err != nil {
		c.log.Error("%v", err)
	}
}

// repeat runs once and then, with --watch, again on every change until
// interrupted.
func (c *common) repeat(files []string, once func(ctx context.Context) int) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	code := once(ctx)
	if !c.watch {
		return code
	}
	w, err := watch.New(files, 0, c.log)
	if err != nil {
		c.log.Error("%v", err)
		return 1
	}
	defer w.Close()
	c.log.Info("watching %d file(s)", len(files))
	err = w.Run(ctx, func(changed []string) {
		c.log.Info("changed: %s", strings.Join(changed, ", "))
		code = once(ctx)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		c.log.Error("%v", err)
		return 1
	}
	return code
}

func checkCmd(args []string, stdout, stderr io.Writer) int {
	c := newCommon("check", stderr)
	c.addWatch()
	jsonOut := c.fs.Bool("json", false, "print diagnostics as JSON")
	if err := c.parse(args); err != nil {
		return usageError(err, stderr)
	}
	files, err := c.files(1)
	if err != nil {
		return usageError(err, stderr)
	}

	return c.repeat(files, func(ctx context.Context) int {
		code := 0
		for _, path := range files {
			res, err := c.compileFile(ctx, path)
			if err != nil {
				c.log.Error("%v", err)
				code = 1
				continue
			}
			if *jsonOut {
				enc := json.NewEncoder(stdout)
				enc.SetIndent("", "  ")
				_ = enc.Encode(map[string]any{"file": path, "diagnostics": res.Diagnostics, "truncated": res.Truncated})
			} else {
				c.render(stdout, path, res.Diagnostics)
			}
			if res.Err() != nil {
				code = 1
			}
		}
		return code
	})
}

func lowerCmd(args []string, stdout, stderr io.Writer) int {
	c := newCommon("lower", stderr)
	c.addWatch()
	format := c.fs.String("format", "text", "output format: text or json")
	out := c.fs.String("o", "", "write the IR to this file instead of stdout")
	if err := c.parse(args); err != nil {
		return usageError(err, stderr)
	}
	if *format != "text" && *format != "json" {
		return usageError(fmt.Errorf("unknown format %q", *format), stderr)
	}
	files, err := c.files(1)
	if err != nil {
		return usageError(err, stderr)
	}

	return c.repeat(files, func(ctx context.Context) int {
		code := 0
		var mods []*ir.Module
		for _, path := range files {
			res, err := c.compileFile(ctx, path)
			if err != nil {
				c.log.Error("%v", err)
				code = 1
				continue
			}
			if res.Err() != nil || len(res.Diagnostics) > 0 {
				c.render(stderr, path, res.Diagnostics)
			}
			if res.Err() != nil {
				code = 1
				continue
			}
			res.Module.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
			mods = append(mods, res.Module)
		}
		if err := writeModules(stdout, *out, *format, mods); err != nil {
			c.log.Error("%v", err)
			return 1
		}
		return code
	})
}

func writeModules(stdout io.Writer, path, format string, mods []*ir.Module) error {
	w := stdout
	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	for _, m := range mods {
		if format == "json" {
			if err := ir.Encode(w, m); err != nil {
				return err
			}
			continue
		}
		if _, err := io.WriteString(w, m.String()); err != nil {
			return err
		}
	}
	return nil
}

func runCmd(args []string, stdout, stderr io.Writer) int {
	c := newCommon("run", stderr)
	entry := c.fs.String("entry", "", "function to execute (default from config)")
	trace := c.fs.Bool("trace", false, "print the allocation, move and release trace")
	timeout := c.fs.Duration("timeout", 0, "optional timeout (e.g., 30s)")
	if err := c.parse(args); err != nil {
		return usageError(err, stderr)
	}
	files, err := c.files(1)
	if err != nil {
		return usageError(err, stderr)
	}
	path, callArgs := files[0], parseValues(files[1:])
	if *entry == "" {
		*entry = c.cfg.Entry
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if *timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *timeout)
		defer cancel()
	}

	res, err := c.compileFile(ctx, path)
	if err != nil {
		c.log.Error("%v", err)
		return 1
	}
	if len(res.Diagnostics) > 0 {
		c.render(stderr, path, res.Diagnostics)
	}
	if res.Err() != nil {
		return 1
	}

	m := vm.New(res.Module, vm.WithLogger(c.log))
	start := time.Now()
	v, err := m.Call(ctx, *entry, callArgs...)
	c.log.Info("%s finished in %s", *entry, time.Since(start))
	if *trace {
		for _, e := range m.Trace() {
			fmt.Fprintln(stdout, e)
		}
	}
	if err != nil {
		var ab *vm.Abort
		if errors.As(err, &ab) {
			fmt.Fprintf(stderr, "abort: %v\n", ab)
		} else {
			fmt.Fprintf(stderr, "error: %v\n", err)
		}
		return 1
	}
	if v != nil {
		fmt.Fprintln(stdout, v)
	}
	return 0
}

// parseValues converts command line arguments to runtime values.
func parseValues(args []string) []vm.Value {
	out := make([]vm.Value, 0, len(args))
	for _, a := range args {
		if i, err := strconv.ParseInt(a, 10, 64); err == nil {
			out = append(out, i)
		} else if f, err := strconv.ParseFloat(a, 64); err == nil {
			out = append(out, f)
		} else if b, err := strconv.ParseBool(a); err == nil {
			out = append(out, b)
		} else {
			out = append(out, a)
		}
	}
	return out
}

func usageError(err error, stderr io.Writer) int {
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	fmt.Fprintf(stderr, "Error: %v\n", err)
	return 2
}
