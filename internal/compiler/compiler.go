// Package compiler drives the pipeline over a whole program: declarations are
// resolved once, then every function with a body is analysed, verified and
// lowered by a bounded pool of workers.
package compiler

import (
	"context"
	"errors"
	"runtime"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/asbel-lang/asbel/internal/ast"
	"github.com/asbel-lang/asbel/internal/cli"
	"github.com/asbel-lang/asbel/internal/contract"
	"github.com/asbel-lang/asbel/internal/diagnostic"
	"github.com/asbel-lang/asbel/internal/ir"
	"github.com/asbel-lang/asbel/internal/lower"
	"github.com/asbel-lang/asbel/internal/ownership"
	"github.com/asbel-lang/asbel/internal/refine"
	"github.com/asbel-lang/asbel/internal/types"
)

// ErrFatal is returned by Result.Err when any function has fatal diagnostics.
var ErrFatal = errors.New("program has fatal diagnostics")

// Options configure a Compiler.
type Options struct {
	// Workers bounds concurrent function analysis (<=0 => NumCPU).
	Workers          int
	MaxErrors        int
	WarningsAsErrors bool
	WarnDeferred     bool
	// Module names the lowered module; defaults to "main".
	Module string
}

// FuncResult is the outcome of one function.
type FuncResult struct {
	Name      string
	Refine    *refine.Result
	Ownership *ownership.Result
	Contract  *contract.Result
	IR        *ir.Function
	Err       error
	Took      time.Duration
}

// Stats holds simple execution statistics.
type Stats struct {
	Functions   int64
	Lowered     int64
	Failed      int64
	Obligations int64
	Releases    int64
	MaxParallel int64
	// Types is the size of the shared type table after the compile.
	Types int64
}

// Result is the outcome of compiling a program. Module holds only the
// functions that lowered cleanly.
type Result struct {
	Module      *ir.Module
	Funcs       []*FuncResult
	Diagnostics []*diagnostic.Diagnostic
	Truncated   bool
	Stats       Stats
}

// Err returns ErrFatal when any diagnostic is fatal.
func (r *Result) Err() error {
	for _, d := range r.Diagnostics {
		if d.IsFatal() {
			return ErrFatal
		}
	}
	if r.Truncated {
		return ErrFatal
	}
	return nil
}

// Func returns the result for name, or nil.
func (r *Result) Func(name string) *FuncResult {
	for _, f := range r.Funcs {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// Compiler runs the pipeline with fixed options.
type Compiler struct {
	opts Options
	log  *cli.Logger
}

// New constructs a Compiler. A nil logger discards output.
func New(opts Options, log *cli.Logger) *Compiler {
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.Module == "" {
		opts.Module = "main"
	}
	if log == nil {
		log = cli.Discard()
	}
	return &Compiler{opts: opts, log: log}
}

// Compile analyses and lowers prog. The returned error is non-nil only when
// ctx is cancelled; program errors are diagnostics.
func (c *Compiler) Compile(ctx context.Context, prog *ast.Program) (*Result, error) {
	engine := diagnostic.NewEngine(diagnostic.Config{
		MaxErrors:        c.opts.MaxErrors,
		WarningsAsErrors: c.opts.WarningsAsErrors,
	})
	env := refine.Declare(prog, types.Universe(), engine)

	var bodies []*ast.FuncDecl
	for _, fn := range prog.Funcs {
		if fn.Body != nil {
			bodies = append(bodies, fn)
		}
	}
	funcs := make([]*FuncResult, len(bodies))

	var stats Stats
	var running int64
	stats.Functions = int64(len(bodies))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.Workers)
	for i, fn := range bodies {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			cur := atomic.AddInt64(&running, 1)
			for {
				prev := atomic.LoadInt64(&stats.MaxParallel)
				if cur <= prev || atomic.CompareAndSwapInt64(&stats.MaxParallel, prev, cur) {
					break
				}
			}
			defer atomic.AddInt64(&running, -1)

			fr := c.function(env, fn, engine)
			funcs[i] = fr
			if fr.Err != nil {
				atomic.AddInt64(&stats.Failed, 1)
				c.log.Debug("%s: %v (%s)", fr.Name, fr.Err, fr.Took)
				return nil
			}
			atomic.AddInt64(&stats.Lowered, 1)
			atomic.AddInt64(&stats.Obligations, int64(len(fr.IR.Obligations)))
			atomic.AddInt64(&stats.Releases, int64(fr.IR.Releases))
			c.log.Debug("%s: lowered in %s", fr.Name, fr.Took)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	stats.Types = int64(env.Types.Len())

	mod := &ir.Module{Name: c.opts.Module}
	for _, fr := range funcs {
		if fr.IR != nil {
			mod.Functions = append(mod.Functions, fr.IR)
		}
	}
	res := &Result{
		Module:      mod,
		Funcs:       funcs,
		Diagnostics: engine.Diagnostics(),
		Truncated:   engine.Truncated(),
		Stats:       stats,
	}
	c.log.Info("compiled %d functions: %d lowered, %d failed, %d runtime checks, %d releases",
		stats.Functions, stats.Lowered, stats.Failed, stats.Obligations, stats.Releases)
	return res, nil
}

// function runs every stage over fn. Diagnostics are collected locally and
// forwarded in one batch so each function's reports stay together.
func (c *Compiler) function(env *refine.Env, fn *ast.FuncDecl, engine *diagnostic.Engine) *FuncResult {
	start := time.Now()
	bag := &diagnostic.Bag{}
	fr := &FuncResult{Name: fn.Name}

	fr.Refine = refine.Analyze(env, fn, refine.Options{WarnDeferred: c.opts.WarnDeferred}, bag)
	fr.Ownership = ownership.Check(env, fr.Refine, bag)
	fr.Contract = contract.Verify(env, fr.Refine, bag)
	if bag.HasFatal() {
		fr.Err = lower.ErrFatal
	} else {
		fr.IR, fr.Err = lower.Lower(env, fr.Refine, fr.Ownership, fr.Contract)
	}
	for _, d := range bag.Items() {
		engine.Report(d)
	}
	fr.Took = time.Since(start)
	return fr
}
