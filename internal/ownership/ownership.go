// Package ownership implements the ownership and borrow engine. It walks each
// function body once, tracking a per-binding ownership state, rejects uses of
// moved values, aliasing violations and unsafe task captures, and records the
// exact ordered list of releases required on every exit path.
package ownership

import (
	"errors"
	"fmt"
	"strings"

	"github.com/asbel-lang/asbel/internal/ast"
	"github.com/asbel-lang/asbel/internal/types"
)

// ErrFatal is returned by Result.Err when the function has ownership
// violations and must not be lowered.
var ErrFatal = errors.New("ownership violations")

// Access classifies how a place expression is used.
type Access int

const (
	Read Access = iota // copied or inspected
	Move
	Shared
	Mut
)

func (a Access) String() string {
	switch a {
	case Move:
		return "move"
	case Shared:
		return "borrow"
	case Mut:
		return "borrow_mut"
	}
	return "read"
}

// ExitKind names the control-flow edge a release plan belongs to.
type ExitKind int

const (
	Fallthrough ExitKind = iota
	ReturnExit
	BreakExit
	ContinueExit
	ErrorExit // `?` propagation
	Overwrite // assignment replacing an owned value
	Discard   // expression statement dropping its result
)

func (k ExitKind) String() string {
	switch k {
	case ReturnExit:
		return "return"
	case BreakExit:
		return "break"
	case ContinueExit:
		return "continue"
	case ErrorExit:
		return "error"
	case Overwrite:
		return "overwrite"
	case Discard:
		return "discard"
	}
	return "fallthrough"
}

// ReleaseKind is the action performed by a release.
type ReleaseKind int

const (
	Free ReleaseKind = iota
	Close
	ReleaseCall
	TimeoutRelease
)

func (k ReleaseKind) String() string {
	switch k {
	case Close:
		return "close"
	case ReleaseCall:
		return "release"
	case TimeoutRelease:
		return "timeout"
	}
	return "free"
}

// Release is one scheduled release action.
type Release struct {
	Name       string
	Decl       ast.Node // declaring node; nil for temporaries
	Temp       ast.Expr // temporary value expression, if not a binding
	Path       []string // field path for an overwritten field
	Type       *types.Type
	Kind       ReleaseKind
	Func       string
	DeadlineMS int64

	// SkipFields lists fields already moved out; only the residual is released.
	SkipFields []string
	// Conditional releases consult the binding's runtime drop flag.
	Conditional bool
}

func newRelease(name string, t *types.Type) *Release {
	r := &Release{Name: name, Type: t, Kind: Free, Func: "free"}
	if !t.IsResource() {
		return r
	}
	u := t.Underlying()
	switch u.Resource.Kind {
	case types.AutoClose:
		r.Kind, r.Func = Close, u.Resource.Func
	case types.AutoRelease:
		r.Kind, r.Func = ReleaseCall, u.Resource.Func
	case types.Timeout:
		r.Kind, r.Func, r.DeadlineMS = TimeoutRelease, u.Resource.Func, u.Resource.DeadlineMS
	}
	return r
}

func (r *Release) String() string {
	var b strings.Builder
	switch r.Kind {
	case TimeoutRelease:
		fmt.Fprintf(&b, "%s(%s, deadline=%dms)", r.Func, r.Name, r.DeadlineMS)
	default:
		fmt.Fprintf(&b, "%s(%s)", r.Func, r.Name)
	}
	if len(r.SkipFields) > 0 {
		fmt.Fprintf(&b, " skip[%s]", strings.Join(r.SkipFields, ","))
	}
	if r.Conditional {
		b.WriteString(" if-owned")
	}
	return b.String()
}

// ReleasePlan is the ordered release list for one exit edge.
type ReleasePlan struct {
	Exit     ExitKind
	At       ast.Node
	Releases []*Release
}

func (p *ReleasePlan) String() string {
	parts := make([]string, len(p.Releases))
	for i, r := range p.Releases {
		parts[i] = r.String()
	}
	return fmt.Sprintf("%s: [%s]", p.Exit, strings.Join(parts, "; "))
}

// Capture is a binding moved into a spawned task.
type Capture struct {
	Name  string
	Outer ast.Node // declaration in the spawning scope
	Inner ast.Node // declaration inside the task body
	Type  *types.Type
}

// Result is the per-function output of the engine.
type Result struct {
	Func *ast.FuncDecl

	// Plans maps exit nodes (blocks for fallthrough, return, break, continue,
	// try, assign and expression statements) to their release plans.
	Plans map[ast.Node]*ReleasePlan
	// Access records how every place expression is used.
	Access map[ast.Expr]Access
	// Uses resolves identifiers to their declaring node.
	Uses map[*ast.Ident]ast.Node
	// Captures lists the moved bindings of each spawn.
	Captures map[*ast.Spawn][]*Capture
	// Parallel marks pipeline stages proven safe to run data-parallel.
	Parallel map[*ast.Stage]bool
	// Flags marks declarations that need a runtime drop flag.
	Flags map[ast.Node]bool

	Fatal bool
}

// Plan returns the release plan recorded at n, or nil.
func (r *Result) Plan(n ast.Node) *ReleasePlan { return r.Plans[n] }

// ReleaseCount returns the total number of scheduled releases.
func (r *Result) ReleaseCount() int {
	n := 0
	for _, p := range r.Plans {
		n += len(p.Releases)
	}
	return n
}

// Err returns ErrFatal when the function has violations.
func (r *Result) Err() error {
	if r.Fatal {
		return fmt.Errorf("%s: %w", r.Func.Name, ErrFatal)
	}
	return nil
}

func fieldNames(t *types.Type, mask uint64) []string {
	u := t.Underlying()
	var out []string
	for i, f := range u.Fields {
		if mask&FieldMask(i) != 0 {
			out = append(out, f.Name)
		}
	}
	return out
}
