// Package ast defines the typed, name-resolved Abstract Syntax Tree consumed by
// the Asbel ownership and refinement pipeline. Parsing and name resolution run
// before this package is populated; every node carries the source span used by
// diagnostics.
package ast

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/asbel-lang/asbel/internal/position"
)

// Node is the base interface for all AST nodes
type Node interface {
	// GetSpan returns the source span covered by this node
	GetSpan() position.Span
	// String returns the node in source-like form
	String() string
}

// Stmt represents all statement nodes in the AST
type Stmt interface {
	Node
	stmtNode()
}

// Expr represents all expression nodes in the AST
type Expr interface {
	Node
	exprNode()
}

// ResultName is the identifier bound to the return value inside ensures clauses.
const ResultName = "result"

// ItName is the identifier bound to the constrained value inside a where predicate.
const ItName = "it"

// ===== Program Structure =====

// Program is a resolved compilation unit.
type Program struct {
	Span          position.Span `json:"span"`
	SchemaVersion string        `json:"schema_version"`
	Types         []*TypeDecl   `json:"types,omitempty"`
	Funcs         []*FuncDecl   `json:"funcs,omitempty"`
}

func (p *Program) GetSpan() position.Span { return p.Span }
func (p *Program) String() string {
	var parts []string
	for _, t := range p.Types {
		parts = append(parts, t.String())
	}
	for _, f := range p.Funcs {
		parts = append(parts, f.String())
	}
	return strings.Join(parts, "\n\n")
}

// Func returns the function declaration called name, or nil.
func (p *Program) Func(name string) *FuncDecl {
	for _, f := range p.Funcs {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// ===== Declarations =====

// TypeDeclKind distinguishes struct and interface declarations.
type TypeDeclKind int

const (
	StructDecl TypeDeclKind = iota
	InterfaceDecl
)

func (k TypeDeclKind) MarshalText() ([]byte, error) {
	if k == InterfaceDecl {
		return []byte("interface"), nil
	}
	return []byte("struct"), nil
}

func (k *TypeDeclKind) UnmarshalText(b []byte) error {
	switch string(b) {
	case "struct", "":
		*k = StructDecl
	case "interface":
		*k = InterfaceDecl
	default:
		return fmt.Errorf("unknown type declaration kind %q", b)
	}
	return nil
}

// TypeDecl declares a named composite or interface type.
type TypeDecl struct {
	Span    position.Span `json:"span"`
	Name    string        `json:"name"`
	Kind    TypeDeclKind  `json:"decl"`
	Fields  []*FieldDecl  `json:"fields,omitempty"`
	Methods []*MethodSig  `json:"methods,omitempty"`
	Attrs   []*Attribute  `json:"attrs,omitempty"`
}

func (d *TypeDecl) GetSpan() position.Span { return d.Span }
func (d *TypeDecl) String() string {
	var b strings.Builder
	for _, a := range d.Attrs {
		b.WriteString(a.String())
		b.WriteByte('\n')
	}
	if d.Kind == InterfaceDecl {
		fmt.Fprintf(&b, "interface %s:", d.Name)
		for _, m := range d.Methods {
			fmt.Fprintf(&b, "\n    %s", m)
		}
		return b.String()
	}
	fmt.Fprintf(&b, "struct %s:", d.Name)
	for _, f := range d.Fields {
		fmt.Fprintf(&b, "\n    %s", f)
	}
	return b.String()
}

// Attr returns the attribute called name, or nil.
func (d *TypeDecl) Attr(name string) *Attribute {
	for _, a := range d.Attrs {
		if a.Name == name {
			return a
		}
	}
	return nil
}

// FieldDecl is a named, typed field of a struct declaration.
type FieldDecl struct {
	Span position.Span `json:"span"`
	Name string        `json:"name"`
	Type *TypeExpr     `json:"type"`
}

func (f *FieldDecl) GetSpan() position.Span { return f.Span }
func (f *FieldDecl) String() string         { return fmt.Sprintf("%s: %s", f.Name, f.Type) }

// MethodSig is an interface method signature.
type MethodSig struct {
	Span   position.Span `json:"span"`
	Name   string        `json:"name"`
	Params []*Param      `json:"params,omitempty"`
	Result *TypeExpr     `json:"result,omitempty"`
	Fails  bool          `json:"fails,omitempty"`
}

func (m *MethodSig) GetSpan() position.Span { return m.Span }
func (m *MethodSig) String() string {
	return fmt.Sprintf("fn %s(%s)%s", m.Name, joinParams(m.Params), resultSuffix(m.Result, m.Fails))
}

// Attribute is a compile-time annotation such as @auto_close or @timeout(500).
type Attribute struct {
	Span position.Span `json:"span"`
	Name string        `json:"name"`
	Args []Expr        `json:"args,omitempty"`
}

func (a *Attribute) GetSpan() position.Span { return a.Span }
func (a *Attribute) String() string {
	if len(a.Args) == 0 {
		return "@" + a.Name
	}
	return fmt.Sprintf("@%s(%s)", a.Name, joinExprs(a.Args))
}

// FuncDecl represents a function definition together with its contract.
type FuncDecl struct {
	Span     position.Span `json:"span"`
	Name     string        `json:"name"`
	Params   []*Param      `json:"params,omitempty"`
	Result   *TypeExpr     `json:"result,omitempty"`
	Fails    bool          `json:"fails,omitempty"`
	Requires []*Clause     `json:"requires,omitempty"`
	Ensures  []*Clause     `json:"ensures,omitempty"`
	Body     *Block        `json:"body,omitempty"`
	Extern   bool          `json:"extern,omitempty"` // host-provided, no body
	Test     bool          `json:"test,omitempty"`   // test_cases / test_property body
}

func (f *FuncDecl) GetSpan() position.Span { return f.Span }
func (f *FuncDecl) String() string {
	var b strings.Builder
	if f.Extern {
		b.WriteString("extern ")
	}
	fmt.Fprintf(&b, "fn %s(%s)%s", f.Name, joinParams(f.Params), resultSuffix(f.Result, f.Fails))
	for _, r := range f.Requires {
		fmt.Fprintf(&b, "\n    requires %s", r)
	}
	for _, e := range f.Ensures {
		fmt.Fprintf(&b, "\n    ensures %s", e)
	}
	if f.Body != nil {
		b.WriteString(":\n")
		b.WriteString(indent(f.Body.String()))
	}
	return b.String()
}

// Param returns the parameter called name, or nil.
func (f *FuncDecl) Param(name string) *Param {
	for _, p := range f.Params {
		if p.Name == name {
			return p
		}
	}
	return nil
}

// ParamMode is the passing mode the resolver inferred for a parameter.
type ParamMode int

const (
	ByValue  ParamMode = iota // ownership transfers to the callee
	ByRef                     // &self-style shared borrow
	ByMutRef                  // &mut self-style exclusive borrow
)

var paramModeNames = map[ParamMode]string{ByValue: "value", ByRef: "ref", ByMutRef: "mut_ref"}

func (m ParamMode) String() string { return paramModeNames[m] }

func (m ParamMode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

func (m *ParamMode) UnmarshalText(b []byte) error {
	for k, v := range paramModeNames {
		if v == string(b) {
			*m = k
			return nil
		}
	}
	if len(b) == 0 {
		*m = ByValue
		return nil
	}
	return fmt.Errorf("unknown parameter mode %q", b)
}

// Param represents a function parameter.
type Param struct {
	Span    position.Span `json:"span"`
	Name    string        `json:"name"`
	Type    *TypeExpr     `json:"type"`
	Mode    ParamMode     `json:"mode"`
	Mutable bool          `json:"mutable,omitempty"`
}

func (p *Param) GetSpan() position.Span { return p.Span }
func (p *Param) String() string {
	switch p.Mode {
	case ByRef:
		return fmt.Sprintf("%s: &%s", p.Name, p.Type)
	case ByMutRef:
		return fmt.Sprintf("%s: &mut %s", p.Name, p.Type)
	}
	return fmt.Sprintf("%s: %s", p.Name, p.Type)
}

// Clause is a requires or ensures predicate.
type Clause struct {
	Span position.Span `json:"span"`
	Expr Expr          `json:"expr"`
}

func (c *Clause) GetSpan() position.Span { return c.Span }
func (c *Clause) String() string         { return c.Expr.String() }

// TypeExpr is a declared or inferred type as written in source. A nil Range and
// Where denote the unrefined base type.
type TypeExpr struct {
	Span   position.Span `json:"span"`
	Name   string        `json:"name"`
	Range  *RangeExpr    `json:"range,omitempty"`
	Where  Expr          `json:"where,omitempty"`
	Params []*TypeExpr   `json:"params,omitempty"` // function types only
	Result *TypeExpr     `json:"result,omitempty"` // function types only
	Fails  bool          `json:"fails,omitempty"`
}

func (t *TypeExpr) GetSpan() position.Span { return t.Span }
func (t *TypeExpr) String() string {
	if t == nil {
		return "unit"
	}
	var b strings.Builder
	if t.Name == "fn" {
		parts := make([]string, len(t.Params))
		for i, p := range t.Params {
			parts[i] = p.String()
		}
		fmt.Fprintf(&b, "fn(%s)%s", strings.Join(parts, ", "), resultSuffix(t.Result, t.Fails))
		return b.String()
	}
	b.WriteString(t.Name)
	if t.Range != nil {
		fmt.Fprintf(&b, "(%s)", t.Range)
	}
	if t.Where != nil {
		fmt.Fprintf(&b, " where %s", t.Where)
	}
	return b.String()
}

// Refined reports whether the type expression carries a predicate.
func (t *TypeExpr) Refined() bool { return t != nil && (t.Range != nil || t.Where != nil) }

// RangeExpr is a value range; a nil bound is open (`1..`, `..0`).
type RangeExpr struct {
	Lo        Expr `json:"lo,omitempty"`
	Hi        Expr `json:"hi,omitempty"`
	Inclusive bool `json:"inclusive,omitempty"`
}

func (r *RangeExpr) String() string {
	var b strings.Builder
	if r.Lo != nil {
		b.WriteString(r.Lo.String())
	}
	b.WriteString("..")
	if r.Inclusive {
		b.WriteByte('=')
	}
	if r.Hi != nil {
		b.WriteString(r.Hi.String())
	}
	return b.String()
}

// ===== Statements =====

// Block is a braced sequence of statements introducing a scope.
type Block struct {
	Span  position.Span `json:"span"`
	Stmts []Stmt        `json:"stmts,omitempty"`
}

func (s *Block) GetSpan() position.Span { return s.Span }
func (s *Block) String() string {
	if len(s.Stmts) == 0 {
		return "pass"
	}
	parts := make([]string, len(s.Stmts))
	for i, st := range s.Stmts {
		parts[i] = st.String()
	}
	return strings.Join(parts, "\n")
}

// Let declares a binding; Mutable distinguishes `var` from `let`.
type Let struct {
	Span    position.Span `json:"span"`
	Name    string        `json:"name"`
	Mutable bool          `json:"mutable,omitempty"`
	Type    *TypeExpr     `json:"type,omitempty"`
	Value   Expr          `json:"value"`
}

func (s *Let) GetSpan() position.Span { return s.Span }
func (s *Let) String() string {
	kw := "let"
	if s.Mutable {
		kw = "var"
	}
	if s.Type != nil {
		return fmt.Sprintf("%s %s: %s = %s", kw, s.Name, s.Type, s.Value)
	}
	return fmt.Sprintf("%s %s = %s", kw, s.Name, s.Value)
}

// Assign stores Value into an Ident or Selector target.
type Assign struct {
	Span   position.Span `json:"span"`
	Target Expr          `json:"target"`
	Value  Expr          `json:"value"`
}

func (s *Assign) GetSpan() position.Span { return s.Span }
func (s *Assign) String() string         { return fmt.Sprintf("%s = %s", s.Target, s.Value) }

// ExprStmt evaluates an expression for its effects.
type ExprStmt struct {
	Span position.Span `json:"span"`
	X    Expr          `json:"x"`
}

func (s *ExprStmt) GetSpan() position.Span { return s.Span }
func (s *ExprStmt) String() string         { return s.X.String() }

// Return leaves the function; Err marks `return Err(value)` on failing functions.
type Return struct {
	Span  position.Span `json:"span"`
	Value Expr          `json:"value,omitempty"`
	Err   bool          `json:"err,omitempty"`
}

func (s *Return) GetSpan() position.Span { return s.Span }
func (s *Return) String() string {
	switch {
	case s.Value == nil:
		return "return"
	case s.Err:
		return fmt.Sprintf("return Err(%s)", s.Value)
	}
	return "return " + s.Value.String()
}

// Break leaves the innermost loop.
type Break struct {
	Span position.Span `json:"span"`
}

func (s *Break) GetSpan() position.Span { return s.Span }
func (s *Break) String() string         { return "break" }

// Continue starts the next iteration of the innermost loop.
type Continue struct {
	Span position.Span `json:"span"`
}

func (s *Continue) GetSpan() position.Span { return s.Span }
func (s *Continue) String() string         { return "continue" }

// If is a two-way conditional; Else may be nil.
type If struct {
	Span position.Span `json:"span"`
	Cond Expr          `json:"cond"`
	Then *Block        `json:"then"`
	Else *Block        `json:"else,omitempty"`
}

func (s *If) GetSpan() position.Span { return s.Span }
func (s *If) String() string {
	out := fmt.Sprintf("if %s:\n%s", s.Cond, indent(s.Then.String()))
	if s.Else != nil {
		out += "\nelse:\n" + indent(s.Else.String())
	}
	return out
}

// While loops while Cond holds.
type While struct {
	Span position.Span `json:"span"`
	Cond Expr          `json:"cond"`
	Body *Block        `json:"body"`
}

func (s *While) GetSpan() position.Span { return s.Span }
func (s *While) String() string {
	return fmt.Sprintf("while %s:\n%s", s.Cond, indent(s.Body.String()))
}

// Guard continues only when Cond holds; Else must leave the enclosing scope.
type Guard struct {
	Span position.Span `json:"span"`
	Cond Expr          `json:"cond"`
	Else *Block        `json:"else"`
}

func (s *Guard) GetSpan() position.Span { return s.Span }
func (s *Guard) String() string {
	return fmt.Sprintf("guard %s else:\n%s", s.Cond, indent(s.Else.String()))
}

func (*Block) stmtNode()    {}
func (*Let) stmtNode()      {}
func (*Assign) stmtNode()   {}
func (*ExprStmt) stmtNode() {}
func (*Return) stmtNode()   {}
func (*Break) stmtNode()    {}
func (*Continue) stmtNode() {}
func (*If) stmtNode()       {}
func (*While) stmtNode()    {}
func (*Guard) stmtNode()    {}

// ===== Expressions =====

// Ident references a binding, parameter, `result` or `it`.
type Ident struct {
	Span position.Span `json:"span"`
	Name string        `json:"name"`
}

func (e *Ident) GetSpan() position.Span { return e.Span }
func (e *Ident) String() string         { return e.Name }

// IntLit is an integer literal.
type IntLit struct {
	Span  position.Span `json:"span"`
	Value int64         `json:"value"`
}

func (e *IntLit) GetSpan() position.Span { return e.Span }
func (e *IntLit) String() string         { return strconv.FormatInt(e.Value, 10) }

// FloatLit is a floating point literal.
type FloatLit struct {
	Span  position.Span `json:"span"`
	Value float64       `json:"value"`
}

func (e *FloatLit) GetSpan() position.Span { return e.Span }
func (e *FloatLit) String() string {
	s := strconv.FormatFloat(e.Value, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eEn") {
		s += ".0"
	}
	return s
}

// BoolLit is true or false.
type BoolLit struct {
	Span  position.Span `json:"span"`
	Value bool          `json:"value"`
}

func (e *BoolLit) GetSpan() position.Span { return e.Span }
func (e *BoolLit) String() string         { return strconv.FormatBool(e.Value) }

// StringLit is a string literal.
type StringLit struct {
	Span  position.Span `json:"span"`
	Value string        `json:"value"`
}

func (e *StringLit) GetSpan() position.Span { return e.Span }
func (e *StringLit) String() string         { return strconv.Quote(e.Value) }

// Binary is an infix operation.
type Binary struct {
	Span position.Span `json:"span"`
	Op   BinaryOp      `json:"op"`
	X    Expr          `json:"x"`
	Y    Expr          `json:"y"`
}

func (e *Binary) GetSpan() position.Span { return e.Span }
func (e *Binary) String() string         { return fmt.Sprintf("(%s %s %s)", e.X, e.Op, e.Y) }

// Unary is a prefix operation.
type Unary struct {
	Span position.Span `json:"span"`
	Op   UnaryOp       `json:"op"`
	X    Expr          `json:"x"`
}

func (e *Unary) GetSpan() position.Span { return e.Span }
func (e *Unary) String() string {
	if e.Op == Not {
		return fmt.Sprintf("not %s", e.X)
	}
	return fmt.Sprintf("%s%s", e.Op, e.X)
}

// Call invokes a resolved function by name. Methods are resolved to
// `Type.method` callees with the receiver as the first argument.
type Call struct {
	Span   position.Span `json:"span"`
	Callee string        `json:"callee"`
	Args   []Expr        `json:"args,omitempty"`
}

func (e *Call) GetSpan() position.Span { return e.Span }
func (e *Call) String() string         { return fmt.Sprintf("%s(%s)", e.Callee, joinExprs(e.Args)) }

// Selector reads field Name of X.
type Selector struct {
	Span position.Span `json:"span"`
	X    Expr          `json:"x"`
	Name string        `json:"name"`
}

func (e *Selector) GetSpan() position.Span { return e.Span }
func (e *Selector) String() string         { return fmt.Sprintf("%s.%s", e.X, e.Name) }

// StructLit constructs a heap-owned composite.
type StructLit struct {
	Span   position.Span `json:"span"`
	Type   string        `json:"type"`
	Fields []*FieldInit  `json:"fields,omitempty"`
}

func (e *StructLit) GetSpan() position.Span { return e.Span }
func (e *StructLit) String() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = fmt.Sprintf("%s: %s", f.Name, f.Value)
	}
	return fmt.Sprintf("%s{%s}", e.Type, strings.Join(parts, ", "))
}

// FieldInit initialises one field of a StructLit.
type FieldInit struct {
	Span  position.Span `json:"span"`
	Name  string        `json:"name"`
	Value Expr          `json:"value"`
}

// Spawn starts Body as a concurrent task and yields its handle.
type Spawn struct {
	Span position.Span `json:"span"`
	Body *Block        `json:"body"`
}

func (e *Spawn) GetSpan() position.Span { return e.Span }
func (e *Spawn) String() string         { return "spawn:\n" + indent(e.Body.String()) }

// Try is the `?` operator; on Err the error propagates out of the function
// after Context (if any) is attached.
type Try struct {
	Span    position.Span  `json:"span"`
	X       Expr           `json:"x"`
	Context *ContextClause `json:"context,omitempty"`
}

func (e *Try) GetSpan() position.Span { return e.Span }
func (e *Try) String() string {
	if e.Context != nil {
		return fmt.Sprintf("%s.context(%s)?", e.X, e.Context)
	}
	return e.X.String() + "?"
}

// ContextClause is a lazily formatted message; `{}` placeholders are filled
// from Args only when an error actually propagates.
type ContextClause struct {
	Format string `json:"format"`
	Args   []Expr `json:"args,omitempty"`
}

func (c *ContextClause) String() string {
	if len(c.Args) == 0 {
		return strconv.Quote(c.Format)
	}
	return fmt.Sprintf("%q, %s", c.Format, joinExprs(c.Args))
}

// Old refers to the value of X captured before the function body ran.
type Old struct {
	Span position.Span `json:"span"`
	X    Expr          `json:"x"`
}

func (e *Old) GetSpan() position.Span { return e.Span }
func (e *Old) String() string         { return fmt.Sprintf("old(%s)", e.X) }

// Pipeline streams the integers of Source through Stages into Sink.
type Pipeline struct {
	Span   position.Span `json:"span"`
	Source *RangeLit     `json:"source"`
	Stages []*Stage      `json:"stages,omitempty"`
	Sink   SinkOp        `json:"sink"`
}

func (e *Pipeline) GetSpan() position.Span { return e.Span }
func (e *Pipeline) String() string {
	var b strings.Builder
	b.WriteString(e.Source.String())
	for _, s := range e.Stages {
		fmt.Fprintf(&b, " |> %s", s)
	}
	fmt.Fprintf(&b, " |> %s", e.Sink)
	return b.String()
}

// RangeLit is the half-open integer range Lo..Hi.
type RangeLit struct {
	Span position.Span `json:"span"`
	Lo   Expr          `json:"lo"`
	Hi   Expr          `json:"hi"`
}

func (e *RangeLit) GetSpan() position.Span { return e.Span }
func (e *RangeLit) String() string         { return fmt.Sprintf("(%s..%s)", e.Lo, e.Hi) }

// Stage is one map/filter/each step of a Pipeline.
type Stage struct {
	Span position.Span `json:"span"`
	Op   StageOp       `json:"op"`
	Fn   *Lambda       `json:"fn"`
	Hint Hint          `json:"hint,omitempty"`
}

func (s *Stage) GetSpan() position.Span { return s.Span }
func (s *Stage) String() string {
	prefix := ""
	switch s.Hint {
	case Parallel:
		prefix = "@parallel "
	case Sequential:
		prefix = "@sequential "
	}
	return fmt.Sprintf("%s%s(%s)", prefix, s.Op, s.Fn)
}

// Lambda is a single-expression closure.
type Lambda struct {
	Span   position.Span `json:"span"`
	Params []string      `json:"params"`
	Body   Expr          `json:"body"`
}

func (e *Lambda) GetSpan() position.Span { return e.Span }
func (e *Lambda) String() string {
	return fmt.Sprintf("|%s| %s", strings.Join(e.Params, ", "), e.Body)
}

func (*Ident) exprNode()     {}
func (*IntLit) exprNode()    {}
func (*FloatLit) exprNode()  {}
func (*BoolLit) exprNode()   {}
func (*StringLit) exprNode() {}
func (*Binary) exprNode()    {}
func (*Unary) exprNode()     {}
func (*Call) exprNode()      {}
func (*Selector) exprNode()  {}
func (*StructLit) exprNode() {}
func (*Spawn) exprNode()     {}
func (*Try) exprNode()       {}
func (*Old) exprNode()       {}
func (*Pipeline) exprNode()  {}
func (*RangeLit) exprNode()  {}
func (*Lambda) exprNode()    {}

// ===== helpers =====

func joinExprs(es []Expr) string {
	parts := make([]string, len(es))
	for i, e := range es {
		parts[i] = e.String()
	}
	return strings.Join(parts, ", ")
}

func joinParams(ps []*Param) string {
	parts := make([]string, len(ps))
	for i, p := range ps {
		parts[i] = p.String()
	}
	return strings.Join(parts, ", ")
}

func resultSuffix(result *TypeExpr, fails bool) string {
	s := ""
	if result != nil {
		s = " -> " + result.String()
	}
	if fails {
		s += " fails"
	}
	return s
}

func indent(s string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = "    " + l
	}
	return strings.Join(lines, "\n")
}
