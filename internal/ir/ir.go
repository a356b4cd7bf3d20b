// Package ir defines the structured, C-ready intermediate representation the
// emitter produces. Every ownership and contract decision is explicit in it:
// moves, borrows, releases, guards, assertions, snapshots, spawns and error
// propagation are statements or operands of their own.
package ir

import (
	"fmt"
	"strings"
)

// Module bundles the lowered functions of one program.
type Module struct {
	Name      string      `json:"name"`
	Functions []*Function `json:"functions"`
}

// Func returns the function called name, or nil.
func (m *Module) Func(name string) *Function {
	for _, f := range m.Functions {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// Param is a lowered parameter. Mode is value, ref or mut_ref.
type Param struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Mode string `json:"mode"`
}

// Function is one lowered function. Tasks holds the bodies of the tasks it
// spawns; their parameters are the captured bindings.
type Function struct {
	Name   string      `json:"name"`
	Params []Param     `json:"params,omitempty"`
	Result string      `json:"result"`
	Fails  bool        `json:"fails,omitempty"`
	Body   []Stmt      `json:"body"`
	Tasks  []*Function `json:"tasks,omitempty"`

	// Obligations lists the runtime checks the body must contain, and
	// Releases the number of release statements, for Validate.
	Obligations []int `json:"obligations,omitempty"`
	Releases    int   `json:"releases"`
}

// ====== Values ======

// Value is an operand or a pure expression tree.
type Value interface {
	Op() string
	String() string
}

// Const is a literal. Val holds an int64, float64, bool or string.
type Const struct {
	Type string `json:"type"`
	Val  any    `json:"value"`
}

// Var reads (copies) a place.
type Var struct {
	Name string   `json:"name"`
	Path []string `json:"path,omitempty"`
}

// Move transfers ownership out of a place; the source is invalid afterwards.
type Move struct {
	Name string   `json:"name"`
	Path []string `json:"path,omitempty"`
}

// Borrow passes a place by reference. It has no runtime effect.
type Borrow struct {
	Name string   `json:"name"`
	Path []string `json:"path,omitempty"`
	Mut  bool     `json:"mut,omitempty"`
}

// Binary is a pure arithmetic, comparison or logical operation.
type Binary struct {
	Operator string `json:"operator"`
	X        Value  `json:"x"`
	Y        Value  `json:"y"`
	Type     string `json:"type,omitempty"`
}

// Unary is a pure negation.
type Unary struct {
	Operator string `json:"operator"`
	X        Value  `json:"x"`
	Type     string `json:"type,omitempty"`
}

// Call invokes a function with flattened operands. Fails calls produce a
// result that must be unwrapped by Propagate.
type Call struct {
	Callee string  `json:"callee"`
	Args   []Value `json:"args,omitempty"`
	Fails  bool    `json:"fails,omitempty"`
}

// FieldValue initializes one field of an allocation.
type FieldValue struct {
	Name  string `json:"name"`
	Value Value  `json:"value"`
}

// Alloc creates a heap composite.
type Alloc struct {
	Type     string       `json:"type"`
	Fields   []FieldValue `json:"fields,omitempty"`
	Resource *Resource    `json:"resource,omitempty"`
}

// Resource is the release action of a resource type.
type Resource struct {
	Kind       string `json:"kind"`
	Func       string `json:"func"`
	DeadlineMS int64  `json:"deadline_ms,omitempty"`
}

// Spawn starts Tasks[Task] with the captured bindings moved into it.
type Spawn struct {
	Task     int      `json:"task"`
	Captures []string `json:"captures,omitempty"`
}

func (Const) Op() string  { return "const" }
func (Var) Op() string    { return "var" }
func (Move) Op() string   { return "move" }
func (Borrow) Op() string { return "borrow" }
func (Binary) Op() string { return "binary" }
func (Unary) Op() string  { return "unary" }
func (Call) Op() string   { return "call" }
func (Alloc) Op() string  { return "alloc" }
func (Spawn) Op() string  { return "spawn" }

func place(name string, path []string) string {
	if len(path) == 0 {
		return name
	}
	return name + "." + strings.Join(path, ".")
}

func (c Const) String() string {
	if s, ok := c.Val.(string); ok {
		return fmt.Sprintf("%q", s)
	}
	return fmt.Sprint(c.Val)
}

func (v Var) String() string  { return place(v.Name, v.Path) }
func (m Move) String() string { return "move " + place(m.Name, m.Path) }

func (b Borrow) String() string {
	if b.Mut {
		return "&mut " + place(b.Name, b.Path)
	}
	return "&" + place(b.Name, b.Path)
}

func (b Binary) String() string { return fmt.Sprintf("(%s %s %s)", b.X, b.Operator, b.Y) }

func (u Unary) String() string {
	if u.Operator == "not" {
		return fmt.Sprintf("not %s", u.X)
	}
	return fmt.Sprintf("%s%s", u.Operator, u.X)
}

func (c Call) String() string {
	args := make([]string, len(c.Args))
	for i, a := range c.Args {
		args[i] = a.String()
	}
	return fmt.Sprintf("call %s(%s)", c.Callee, strings.Join(args, ", "))
}

func (a Alloc) String() string {
	parts := make([]string, len(a.Fields))
	for i, f := range a.Fields {
		parts[i] = fmt.Sprintf("%s: %s", f.Name, f.Value)
	}
	return fmt.Sprintf("alloc %s{%s}", a.Type, strings.Join(parts, ", "))
}

func (s Spawn) String() string {
	return fmt.Sprintf("spawn task%d(%s)", s.Task, strings.Join(s.Captures, ", "))
}

// ====== Statements ======

// Stmt is a lowered statement.
type Stmt interface{ Op() string }

// Let declares a local.
type Let struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Value Value  `json:"value"`
}

// Set stores into a place.
type Set struct {
	Name  string   `json:"name"`
	Path  []string `json:"path,omitempty"`
	Value Value    `json:"value"`
}

// Eval evaluates a value for its effects.
type Eval struct {
	Value Value `json:"value"`
}

// Guard aborts when Cond is false. Source is refinement or requires.
type Guard struct {
	Obligation int    `json:"obligation"`
	Source     string `json:"source"`
	Cond       Value  `json:"cond"`
	Message    string `json:"message"`
}

// Assert aborts with an implementation bug when an ensures clause fails.
type Assert struct {
	Obligation int    `json:"obligation"`
	Cond       Value  `json:"cond"`
	Message    string `json:"message"`
}

// Snapshot copies a scalar at function entry for old().
type Snapshot struct {
	Name   string `json:"name"`
	Type   string `json:"type"`
	Source Value  `json:"source"`
}

// Release runs a release action. Skip lists fields already moved out; a
// non-empty Flag makes the release consult that drop flag at run time.
type Release struct {
	Name       string   `json:"name"`
	Path       []string `json:"path,omitempty"`
	Kind       string   `json:"kind"`
	Func       string   `json:"func"`
	DeadlineMS int64    `json:"deadline_ms,omitempty"`
	Skip       []string `json:"skip,omitempty"`
	Flag       string   `json:"flag,omitempty"`
}

// Flag updates a drop flag: Reset clears it, then Set bits are or-ed in and
// Clear bits removed.
type Flag struct {
	Name  string `json:"name"`
	Reset bool   `json:"reset,omitempty"`
	Set   uint64 `json:"set,omitempty"`
	Clear uint64 `json:"clear,omitempty"`
}

// If is a two-way branch.
type If struct {
	Cond Value  `json:"cond"`
	Then []Stmt `json:"then"`
	Else []Stmt `json:"else,omitempty"`
}

// Loop runs Pre then tests Cond before every iteration.
type Loop struct {
	Pre  []Stmt `json:"pre,omitempty"`
	Cond Value  `json:"cond"`
	Body []Stmt `json:"body"`
}

// Break leaves the innermost loop.
type Break struct{}

// Continue starts the next iteration of the innermost loop.
type Continue struct{}

// Return leaves the function successfully.
type Return struct {
	Value Value `json:"value,omitempty"`
}

// Fail leaves a failing function with an error value.
type Fail struct {
	Value Value `json:"value"`
}

// ContextInfo is a `?` context clause appended to a propagated error.
type ContextInfo struct {
	Format string  `json:"format"`
	Args   []Value `json:"args,omitempty"`
}

// Propagate unwraps the result in Src into Dst. On error it runs OnError and
// returns the error with Context appended to its chain.
type Propagate struct {
	Src     string       `json:"src"`
	Dst     string       `json:"dst"`
	Type    string       `json:"type"`
	Context *ContextInfo `json:"context,omitempty"`
	OnError []Stmt       `json:"on_error,omitempty"`
}

// Stage is one lowered pipeline stage. Body computes Result from Param.
type Stage struct {
	Kind     string `json:"kind"`
	Param    string `json:"param"`
	Parallel bool   `json:"parallel,omitempty"`
	Body     []Stmt `json:"body,omitempty"`
	Result   Value  `json:"result"`
}

// ParLoop streams the integers [Lo, Hi) through Stages into Sink, storing the
// sink's value in Dst.
type ParLoop struct {
	Dst    string   `json:"dst"`
	Type   string   `json:"type"`
	Lo     Value    `json:"lo"`
	Hi     Value    `json:"hi"`
	Stages []*Stage `json:"stages"`
	Sink   string   `json:"sink"`
}

func (*Let) Op() string       { return "let" }
func (*Set) Op() string       { return "set" }
func (*Eval) Op() string      { return "eval" }
func (*Guard) Op() string     { return "guard" }
func (*Assert) Op() string    { return "assert" }
func (*Snapshot) Op() string  { return "snapshot" }
func (*Release) Op() string   { return "release" }
func (*Flag) Op() string      { return "flag" }
func (*If) Op() string        { return "if" }
func (*Loop) Op() string      { return "loop" }
func (*Break) Op() string     { return "break" }
func (*Continue) Op() string  { return "continue" }
func (*Return) Op() string    { return "return" }
func (*Fail) Op() string      { return "fail" }
func (*Propagate) Op() string { return "propagate" }
func (*ParLoop) Op() string   { return "parloop" }
