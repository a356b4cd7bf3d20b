package vm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"strings"

	"golang.org/x/sync/errgroup"

	asberr "github.com/asbel-lang/asbel/internal/errors"
	"github.com/asbel-lang/asbel/internal/ir"
)

// Task is the handle of a spawned task.
type Task struct {
	ID   int
	Name string
}

func (t *Task) String() string { return fmt.Sprintf("task#%d(%s)", t.ID, t.Name) }

// outcome is the value of a call to a failing function before `?` unwraps it.
type outcome struct {
	val  Value
	fail *Failure
}

type control int

const (
	next control = iota
	breakLoop
	continueLoop
	returned
)

// frame holds the locals of one function activation. Pipeline stages run in
// child frames that read through to their parent.
type frame struct {
	m      *Machine
	ctx    context.Context
	root   *ir.Function
	parent *frame
	vars   map[string]Value
	flags  map[string]uint64
	tasks  *errgroup.Group
	ntask  int
	ret    Value
}

func newFrame(m *Machine, ctx context.Context, root *ir.Function) *frame {
	return &frame{m: m, ctx: ctx, root: root, vars: make(map[string]Value), flags: make(map[string]uint64)}
}

func (fr *frame) child() *frame {
	return &frame{m: fr.m, ctx: fr.ctx, root: fr.root, parent: fr, vars: make(map[string]Value), flags: fr.flags}
}

func (fr *frame) join() error {
	if fr.tasks == nil {
		return nil
	}
	return fr.tasks.Wait()
}

func (fr *frame) lookup(name string) (Value, error) {
	for f := fr; f != nil; f = f.parent {
		if v, ok := f.vars[name]; ok {
			return v, nil
		}
	}
	return nil, asberr.Internal("undefined local %s", name)
}

func (fr *frame) load(name string, path []string) (Value, error) {
	v, err := fr.lookup(name)
	if err != nil {
		return nil, err
	}
	for _, p := range path {
		obj, ok := v.(*Object)
		if !ok {
			return nil, asberr.Internal("%s: field %s of non-composite %v", name, p, v)
		}
		v = obj.Fields[p]
	}
	return v, nil
}

func (fr *frame) store(name string, path []string, v Value) error {
	if len(path) == 0 {
		for f := fr; f != nil; f = f.parent {
			if _, ok := f.vars[name]; ok {
				f.vars[name] = v
				return nil
			}
		}
		fr.vars[name] = v
		return nil
	}
	base, err := fr.load(name, path[:len(path)-1])
	if err != nil {
		return err
	}
	obj, ok := base.(*Object)
	if !ok {
		return asberr.Internal("%s: store into non-composite %v", name, base)
	}
	obj.Fields[path[len(path)-1]] = v
	return nil
}

// ====== Statements ======

func (fr *frame) exec(ss []ir.Stmt) (control, error) {
	for _, s := range ss {
		ctl, err := fr.step(s)
		if err != nil || ctl != next {
			return ctl, err
		}
	}
	return next, nil
}

func (fr *frame) step(s ir.Stmt) (control, error) {
	switch s := s.(type) {
	case *ir.Let:
		v, err := fr.eval(s.Value)
		if err != nil {
			return next, err
		}
		fr.vars[s.Name] = v

	case *ir.Set:
		v, err := fr.eval(s.Value)
		if err != nil {
			return next, err
		}
		return next, fr.store(s.Name, s.Path, v)

	case *ir.Eval:
		_, err := fr.eval(s.Value)
		return next, err

	case *ir.Snapshot:
		v, err := fr.eval(s.Source)
		if err != nil {
			return next, err
		}
		fr.vars[s.Name] = v

	case *ir.Guard:
		ok, err := fr.truth(s.Cond)
		if err != nil || ok {
			return next, err
		}
		kind := RefinementFailure
		if s.Source == "requires" {
			kind = CallerBug
		}
		return next, &Abort{Kind: kind, Func: fr.root.Name, Obligation: s.Obligation, Message: s.Message}

	case *ir.Assert:
		ok, err := fr.truth(s.Cond)
		if err != nil || ok {
			return next, err
		}
		return next, &Abort{Kind: ImplementationBug, Func: fr.root.Name, Obligation: s.Obligation, Message: s.Message}

	case *ir.Release:
		return next, fr.release(s)

	case *ir.Flag:
		f := fr.flags[s.Name]
		if s.Reset {
			f = 0
		}
		fr.flags[s.Name] = (f | s.Set) &^ s.Clear

	case *ir.If:
		ok, err := fr.truth(s.Cond)
		if err != nil {
			return next, err
		}
		if ok {
			return fr.exec(s.Then)
		}
		return fr.exec(s.Else)

	case *ir.Loop:
		return fr.loop(s)

	case *ir.Break:
		return breakLoop, nil

	case *ir.Continue:
		return continueLoop, nil

	case *ir.Return:
		if s.Value != nil {
			v, err := fr.eval(s.Value)
			if err != nil {
				return returned, err
			}
			fr.ret = v
		}
		return returned, nil

	case *ir.Fail:
		v, err := fr.eval(s.Value)
		if err != nil {
			return returned, err
		}
		return returned, &Failure{Value: v}

	case *ir.Propagate:
		return fr.propagate(s)

	case *ir.ParLoop:
		return next, fr.parloop(s)

	default:
		return next, asberr.Internal("unknown statement %s", s.Op())
	}
	return next, nil
}

func (fr *frame) loop(s *ir.Loop) (control, error) {
	for {
		if err := fr.ctx.Err(); err != nil {
			return next, err
		}
		if _, err := fr.exec(s.Pre); err != nil {
			return next, err
		}
		ok, err := fr.truth(s.Cond)
		if err != nil {
			return next, err
		}
		if !ok {
			return next, nil
		}
		ctl, err := fr.exec(s.Body)
		if err != nil {
			return ctl, err
		}
		switch ctl {
		case breakLoop:
			return next, nil
		case returned:
			return returned, nil
		}
	}
}

func (fr *frame) release(s *ir.Release) error {
	v, err := fr.load(s.Name, s.Path)
	if err != nil {
		return err
	}
	obj, ok := v.(*Object)
	if !ok {
		return nil
	}
	var mask uint64
	if s.Flag != "" {
		mask = fr.flags[s.Flag]
	}
	skip, whole := skipped(obj, s.Skip, mask)
	if whole {
		return nil
	}
	return fr.m.release(obj, s.Kind, s.Func, s.DeadlineMS, skip)
}

func (fr *frame) propagate(s *ir.Propagate) (control, error) {
	v, err := fr.lookup(s.Src)
	if err != nil {
		return next, err
	}
	out, ok := v.(outcome)
	if !ok {
		return next, asberr.Internal("propagate from %s: not a call result", s.Src)
	}
	if out.fail == nil {
		fr.vars[s.Dst] = out.val
		return next, nil
	}
	if _, err := fr.exec(s.OnError); err != nil {
		return returned, err
	}
	fail := out.fail
	if s.Context != nil {
		args := make([]Value, len(s.Context.Args))
		for i, a := range s.Context.Args {
			if args[i], err = fr.eval(a); err != nil {
				return returned, err
			}
		}
		fail = fail.with(format(s.Context.Format, args))
	}
	return returned, fail
}

// parloop streams [Lo, Hi) through the stages. Parallel stages evaluate all
// elements concurrently; the order of elements is preserved.
func (fr *frame) parloop(s *ir.ParLoop) error {
	lo, err := fr.eval(s.Lo)
	if err != nil {
		return err
	}
	hi, err := fr.eval(s.Hi)
	if err != nil {
		return err
	}
	from, ok1 := lo.(int64)
	to, ok2 := hi.(int64)
	if !ok1 || !ok2 {
		return asberr.Internal("pipeline bounds %v..%v are not integers", lo, hi)
	}
	var items []Value
	for i := from; i < to; i++ {
		items = append(items, i)
	}

	for _, st := range s.Stages {
		results := make([]Value, len(items))
		one := func(i int) error {
			c := fr.child()
			c.vars[st.Param] = items[i]
			if _, err := c.exec(st.Body); err != nil {
				return err
			}
			r, err := c.eval(st.Result)
			results[i] = r
			return err
		}
		if st.Parallel {
			g, _ := errgroup.WithContext(fr.ctx)
			g.SetLimit(runtime.GOMAXPROCS(0))
			for i := range items {
				g.Go(func() error { return one(i) })
			}
			if err := g.Wait(); err != nil {
				return err
			}
		} else {
			for i := range items {
				if err := one(i); err != nil {
					return err
				}
			}
		}

		switch st.Kind {
		case "map":
			items = results
		case "filter":
			kept := items[:0:0]
			for i, r := range results {
				if r == true {
					kept = append(kept, items[i])
				}
			}
			items = kept
		}
	}

	var out Value
	switch s.Sink {
	case "count":
		out = int64(len(items))
	case "sum":
		var sum Value = int64(0)
		for _, it := range items {
			if sum, err = binary("+", sum, it); err != nil {
				return err
			}
		}
		out = sum
	}
	fr.vars[s.Dst] = out
	return nil
}

// ====== Values ======

func (fr *frame) truth(v ir.Value) (bool, error) {
	x, err := fr.eval(v)
	if err != nil {
		return false, err
	}
	b, ok := x.(bool)
	if !ok {
		return false, asberr.Internal("condition %s is %v, not a bool", v, x)
	}
	return b, nil
}

func (fr *frame) eval(v ir.Value) (Value, error) {
	switch v := v.(type) {
	case nil:
		return nil, nil
	case ir.Const:
		return constant(v), nil
	case ir.Var:
		return fr.load(v.Name, v.Path)
	case ir.Borrow:
		return fr.load(v.Name, v.Path)
	case ir.Move:
		x, err := fr.load(v.Name, v.Path)
		if obj, ok := x.(*Object); ok {
			fr.m.record(Event{Op: "move", Object: obj.String()})
		}
		return x, err
	case ir.Binary:
		x, err := fr.eval(v.X)
		if err != nil {
			return nil, err
		}
		y, err := fr.eval(v.Y)
		if err != nil {
			return nil, err
		}
		return binary(v.Operator, x, y)
	case ir.Unary:
		x, err := fr.eval(v.X)
		if err != nil {
			return nil, err
		}
		return unary(v.Operator, x)
	case ir.Call:
		return fr.call(v)
	case ir.Alloc:
		fields := make([]Value, len(v.Fields))
		for i, f := range v.Fields {
			x, err := fr.eval(f.Value)
			if err != nil {
				return nil, err
			}
			fields[i] = x
		}
		return fr.m.alloc(v, fields), nil
	case ir.Spawn:
		return fr.spawn(v)
	}
	return nil, asberr.Internal("unknown value %s", v.Op())
}

func (fr *frame) call(c ir.Call) (Value, error) {
	args := make([]Value, len(c.Args))
	for i, a := range c.Args {
		x, err := fr.eval(a)
		if err != nil {
			return nil, err
		}
		args[i] = x
	}
	v, err := fr.m.invoke(fr.ctx, c.Callee, args)
	if !c.Fails {
		return v, err
	}
	var fail *Failure
	if errors.As(err, &fail) {
		return outcome{fail: fail}, nil
	}
	if err != nil {
		return nil, err
	}
	return outcome{val: v}, nil
}

func (fr *frame) spawn(s ir.Spawn) (Value, error) {
	if s.Task >= len(fr.root.Tasks) {
		return nil, asberr.Internal("%s has no task %d", fr.root.Name, s.Task)
	}
	task := fr.root.Tasks[s.Task]
	args := make([]Value, len(s.Captures))
	for i, name := range s.Captures {
		x, err := fr.lookup(name)
		if err != nil {
			return nil, err
		}
		if obj, ok := x.(*Object); ok {
			fr.m.record(Event{Op: "move", Object: obj.String()})
		}
		args[i] = x
	}
	if fr.tasks == nil {
		fr.tasks = new(errgroup.Group)
	}
	fr.ntask++
	h := &Task{ID: fr.ntask, Name: task.Name}
	root, ctx := fr.root, fr.ctx
	fr.tasks.Go(func() error {
		_, err := fr.m.run(ctx, root, task, args)
		return err
	})
	return h, nil
}

func constant(c ir.Const) Value {
	switch x := c.Val.(type) {
	case float64:
		// JSON numbers decode as float64
		if isIntType(c.Type) && x == math.Trunc(x) {
			return int64(x)
		}
		return x
	case int:
		return int64(x)
	}
	return c.Val
}

func isIntType(t string) bool {
	return strings.HasPrefix(t, "i") || strings.HasPrefix(t, "u") && t != "unit"
}

func unary(op string, x Value) (Value, error) {
	switch op {
	case "not":
		if b, ok := x.(bool); ok {
			return !b, nil
		}
	case "-":
		switch n := x.(type) {
		case int64:
			if n == math.MinInt64 {
				return nil, asberr.IntegerOverflow("negation", n)
			}
			return -n, nil
		case float64:
			return -n, nil
		}
	}
	return nil, asberr.Internal("operator %s not defined on %v", op, x)
}

func binary(op string, x, y Value) (Value, error) {
	switch a := x.(type) {
	case int64:
		switch b := y.(type) {
		case int64:
			return intOp(op, a, b)
		case float64:
			return floatOp(op, float64(a), b)
		}
	case float64:
		switch b := y.(type) {
		case float64:
			return floatOp(op, a, b)
		case int64:
			return floatOp(op, a, float64(b))
		}
	case bool:
		if b, ok := y.(bool); ok {
			switch op {
			case "and":
				return a && b, nil
			case "or":
				return a || b, nil
			case "==":
				return a == b, nil
			case "!=":
				return a != b, nil
			}
		}
	case string:
		if b, ok := y.(string); ok {
			switch op {
			case "+":
				return a + b, nil
			case "==":
				return a == b, nil
			case "!=":
				return a != b, nil
			}
		}
	}
	return nil, asberr.Internal("operator %s not defined on %v and %v", op, x, y)
}

func intOp(op string, a, b int64) (Value, error) {
	switch op {
	case "+":
		s := a + b
		if (a > 0 && b > 0 && s < 0) || (a < 0 && b < 0 && s >= 0) {
			return nil, asberr.IntegerOverflow("addition", a, b)
		}
		return s, nil
	case "-":
		d := a - b
		if (a >= 0 && b < 0 && d < 0) || (a < 0 && b > 0 && d >= 0) {
			return nil, asberr.IntegerOverflow("subtraction", a, b)
		}
		return d, nil
	case "*":
		if a != 0 && b != 0 {
			p := a * b
			if p/b != a || (a == -1 && b == math.MinInt64) || (b == -1 && a == math.MinInt64) {
				return nil, asberr.IntegerOverflow("multiplication", a, b)
			}
			return p, nil
		}
		return int64(0), nil
	case "/", "%":
		if b == 0 {
			return nil, asberr.DivisionByZero(op)
		}
		if op == "/" {
			return a / b, nil
		}
		return a % b, nil
	}
	return compare(op, a < b, a == b)
}

func floatOp(op string, a, b float64) (Value, error) {
	switch op {
	case "+":
		return a + b, nil
	case "-":
		return a - b, nil
	case "*":
		return a * b, nil
	case "/":
		return a / b, nil
	case "%":
		return math.Mod(a, b), nil
	case "==":
		return a == b, nil
	case "!=":
		return a != b, nil
	case "<":
		return a < b, nil
	case "<=":
		return a <= b, nil
	case ">":
		return a > b, nil
	case ">=":
		return a >= b, nil
	}
	return nil, asberr.Internal("unknown operator %s", op)
}

func compare(op string, less, equal bool) (Value, error) {
	switch op {
	case "==":
		return equal, nil
	case "!=":
		return !equal, nil
	case "<":
		return less, nil
	case "<=":
		return less || equal, nil
	case ">":
		return !less && !equal, nil
	case ">=":
		return !less, nil
	}
	return nil, asberr.Internal("unknown operator %s", op)
}
