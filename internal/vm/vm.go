// Package vm is a reference interpreter for the lowered IR. It executes the
// runtime checks, drop flags, releases, tasks and error propagation the
// emitter made explicit, and records a trace of allocations, moves and
// releases.
package vm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/asbel-lang/asbel/internal/cli"
	asberr "github.com/asbel-lang/asbel/internal/errors"
	"github.com/asbel-lang/asbel/internal/ir"
)

// Host is a Go implementation of an extern function. A returned error is an
// Err value of the call.
type Host func(args []Value) (Value, error)

// Option configures a Machine.
type Option func(*Machine)

// WithLogger logs every trace event at debug level.
func WithLogger(l *cli.Logger) Option { return func(m *Machine) { m.log = l } }

// WithHosts registers host functions.
func WithHosts(hosts map[string]Host) Option {
	return func(m *Machine) {
		for name, h := range hosts {
			m.hosts[name] = h
		}
	}
}

// Machine executes the functions of one module.
type Machine struct {
	mod   *ir.Module
	hosts map[string]Host
	log   *cli.Logger

	mu     sync.Mutex
	trace  []Event
	nextID int
}

// New creates a machine for mod with the default host functions.
func New(mod *ir.Module, opts ...Option) *Machine {
	m := &Machine{mod: mod, hosts: DefaultHosts()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Register adds or replaces a host function.
func (m *Machine) Register(name string, h Host) { m.hosts[name] = h }

// Trace returns a copy of the events recorded so far.
func (m *Machine) Trace() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.trace...)
}

// Call runs the named function. A failing function returns its error value
// as a *Failure; failed runtime checks return an *Abort.
func (m *Machine) Call(ctx context.Context, name string, args ...Value) (Value, error) {
	return m.invoke(ctx, name, args)
}

func (m *Machine) invoke(ctx context.Context, name string, args []Value) (Value, error) {
	if f := m.mod.Func(name); f != nil {
		return m.run(ctx, f, f, args)
	}
	h, ok := m.hosts[name]
	if !ok {
		return nil, asberr.UnknownFunction(name)
	}
	v, err := h(args)
	if err != nil {
		var fail *Failure
		if errors.As(err, &fail) {
			return nil, fail
		}
		return nil, &Failure{Value: err.Error()}
	}
	return v, nil
}

// run executes fn, a function of root or one of its tasks, and joins the
// tasks it spawned before returning.
func (m *Machine) run(ctx context.Context, root, fn *ir.Function, args []Value) (Value, error) {
	if len(args) != len(fn.Params) {
		return nil, asberr.Internal("%s: got %d arguments, want %d", fn.Name, len(args), len(fn.Params))
	}
	fr := newFrame(m, ctx, root)
	for i, p := range fn.Params {
		fr.vars[p.Name] = args[i]
	}
	_, err := fr.exec(fn.Body)
	if jerr := fr.join(); err == nil {
		err = jerr
	}
	if err != nil {
		return nil, err
	}
	return fr.ret, nil
}

// DefaultHosts returns the host functions every machine starts with.
func DefaultHosts() map[string]Host {
	return map[string]Host{
		"sqrt_host": func(args []Value) (Value, error) {
			x, err := float(args, 0)
			if err != nil {
				return nil, err
			}
			return math.Sqrt(x), nil
		},
		"abs": func(args []Value) (Value, error) {
			switch x := arg(args, 0).(type) {
			case int64:
				if x < 0 {
					return -x, nil
				}
				return x, nil
			case float64:
				return math.Abs(x), nil
			}
			return nil, fmt.Errorf("abs: unsupported argument %v", arg(args, 0))
		},
	}
}

func arg(args []Value, i int) Value {
	if i < len(args) {
		return args[i]
	}
	return nil
}

func float(args []Value, i int) (float64, error) {
	switch x := arg(args, i).(type) {
	case float64:
		return x, nil
	case int64:
		return float64(x), nil
	}
	return 0, fmt.Errorf("argument %d: %v is not a number", i, arg(args, i))
}
