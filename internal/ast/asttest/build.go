// Package asttest provides a fluent builder for typed AST fragments used in
// tests. Every node receives a distinct span so diagnostics can be matched to
// the node that caused them.
package asttest

import (
	"github.com/asbel-lang/asbel/internal/ast"
	"github.com/asbel-lang/asbel/internal/position"
)

// Builder creates AST nodes with increasing line numbers.
type Builder struct {
	file string
	line int
}

// New creates a builder whose spans point into file.
func New(file string) *Builder {
	return &Builder{file: file}
}

func (b *Builder) span() position.Span {
	b.line++
	return position.At(b.file, b.line, 1, 1)
}

// ===== Program =====

// Program assembles a program at the current schema version.
func (b *Builder) Program(types []*ast.TypeDecl, funcs ...*ast.FuncDecl) *ast.Program {
	return &ast.Program{
		Span:          b.span(),
		SchemaVersion: ast.SchemaVersion,
		Types:         types,
		Funcs:         funcs,
	}
}

// Types is a convenience for building a TypeDecl slice.
func Types(ds ...*ast.TypeDecl) []*ast.TypeDecl { return ds }

// Struct declares a composite type.
func (b *Builder) Struct(name string, fields ...*ast.FieldDecl) *ast.TypeDecl {
	return &ast.TypeDecl{Span: b.span(), Name: name, Kind: ast.StructDecl, Fields: fields}
}

// Resource declares a composite type carrying a resource attribute such as
// auto_close, auto_release(fn) or timeout(ms).
func (b *Builder) Resource(name string, attr *ast.Attribute, fields ...*ast.FieldDecl) *ast.TypeDecl {
	d := b.Struct(name, fields...)
	d.Attrs = []*ast.Attribute{attr}
	return d
}

// Interface declares an interface type.
func (b *Builder) Interface(name string, methods ...*ast.MethodSig) *ast.TypeDecl {
	return &ast.TypeDecl{Span: b.span(), Name: name, Kind: ast.InterfaceDecl, Methods: methods}
}

// Method declares an interface method signature.
func (b *Builder) Method(name string, params []*ast.Param, result *ast.TypeExpr) *ast.MethodSig {
	return &ast.MethodSig{Span: b.span(), Name: name, Params: params, Result: result}
}

// Field declares a struct field.
func (b *Builder) Field(name string, t *ast.TypeExpr) *ast.FieldDecl {
	return &ast.FieldDecl{Span: b.span(), Name: name, Type: t}
}

// Attr builds an attribute.
func (b *Builder) Attr(name string, args ...ast.Expr) *ast.Attribute {
	return &ast.Attribute{Span: b.span(), Name: name, Args: args}
}

// ===== Functions =====

// Params is a convenience for building a parameter list.
func Params(ps ...*ast.Param) []*ast.Param { return ps }

// Func declares a function with a body.
func (b *Builder) Func(name string, params []*ast.Param, result *ast.TypeExpr, body ...ast.Stmt) *ast.FuncDecl {
	return &ast.FuncDecl{
		Span:   b.span(),
		Name:   name,
		Params: params,
		Result: result,
		Body:   b.Block(body...),
	}
}

// Extern declares a host-provided function.
func (b *Builder) Extern(name string, params []*ast.Param, result *ast.TypeExpr) *ast.FuncDecl {
	return &ast.FuncDecl{Span: b.span(), Name: name, Params: params, Result: result, Extern: true}
}

// Requires appends requires clauses to f and returns it.
func (b *Builder) Requires(f *ast.FuncDecl, conds ...ast.Expr) *ast.FuncDecl {
	for _, c := range conds {
		f.Requires = append(f.Requires, &ast.Clause{Span: b.span(), Expr: c})
	}
	return f
}

// Ensures appends ensures clauses to f and returns it.
func (b *Builder) Ensures(f *ast.FuncDecl, conds ...ast.Expr) *ast.FuncDecl {
	for _, c := range conds {
		f.Ensures = append(f.Ensures, &ast.Clause{Span: b.span(), Expr: c})
	}
	return f
}

// Fails marks f as returning Result.
func Fails(f *ast.FuncDecl) *ast.FuncDecl {
	f.Fails = true
	return f
}

// Param declares a by-value parameter.
func (b *Builder) Param(name string, t *ast.TypeExpr) *ast.Param {
	return &ast.Param{Span: b.span(), Name: name, Type: t, Mode: ast.ByValue}
}

// Ref declares a shared-reference parameter.
func (b *Builder) Ref(name string, t *ast.TypeExpr) *ast.Param {
	return &ast.Param{Span: b.span(), Name: name, Type: t, Mode: ast.ByRef}
}

// MutRef declares a mutable-reference parameter.
func (b *Builder) MutRef(name string, t *ast.TypeExpr) *ast.Param {
	return &ast.Param{Span: b.span(), Name: name, Type: t, Mode: ast.ByMutRef, Mutable: true}
}

// ===== Types =====

// T references a named type.
func (b *Builder) T(name string) *ast.TypeExpr {
	return &ast.TypeExpr{Span: b.span(), Name: name}
}

// Range references name narrowed by lo..hi. Nil bounds are open.
func (b *Builder) Range(name string, lo, hi ast.Expr, inclusive bool) *ast.TypeExpr {
	t := b.T(name)
	t.Range = &ast.RangeExpr{Lo: lo, Hi: hi, Inclusive: inclusive}
	return t
}

// IntRange references name narrowed by the inclusive integer range lo..=hi.
func (b *Builder) IntRange(name string, lo, hi int64) *ast.TypeExpr {
	return b.Range(name, b.Int(lo), b.Int(hi), true)
}

// Where references name narrowed by an arbitrary predicate over it.
func (b *Builder) Where(name string, pred ast.Expr) *ast.TypeExpr {
	t := b.T(name)
	t.Where = pred
	return t
}

// ===== Statements =====

// Block wraps statements in a block.
func (b *Builder) Block(stmts ...ast.Stmt) *ast.Block {
	return &ast.Block{Span: b.span(), Stmts: stmts}
}

// Let declares an immutable binding.
func (b *Builder) Let(name string, t *ast.TypeExpr, value ast.Expr) *ast.Let {
	return &ast.Let{Span: b.span(), Name: name, Type: t, Value: value}
}

// Var declares a mutable binding.
func (b *Builder) Var(name string, t *ast.TypeExpr, value ast.Expr) *ast.Let {
	l := b.Let(name, t, value)
	l.Mutable = true
	return l
}

// Assign assigns value to target.
func (b *Builder) Assign(target, value ast.Expr) *ast.Assign {
	return &ast.Assign{Span: b.span(), Target: target, Value: value}
}

// Do evaluates x for its effects.
func (b *Builder) Do(x ast.Expr) *ast.ExprStmt {
	return &ast.ExprStmt{Span: b.span(), X: x}
}

// Return returns value, which may be nil.
func (b *Builder) Return(value ast.Expr) *ast.Return {
	return &ast.Return{Span: b.span(), Value: value}
}

// ReturnErr returns value on the error channel.
func (b *Builder) ReturnErr(value ast.Expr) *ast.Return {
	return &ast.Return{Span: b.span(), Value: value, Err: true}
}

// Break exits the innermost loop.
func (b *Builder) Break() *ast.Break { return &ast.Break{Span: b.span()} }

// Continue restarts the innermost loop.
func (b *Builder) Continue() *ast.Continue { return &ast.Continue{Span: b.span()} }

// If builds a conditional. A nil els omits the else block.
func (b *Builder) If(cond ast.Expr, then []ast.Stmt, els []ast.Stmt) *ast.If {
	s := &ast.If{Span: b.span(), Cond: cond, Then: b.Block(then...)}
	if els != nil {
		s.Else = b.Block(els...)
	}
	return s
}

// While builds a loop.
func (b *Builder) While(cond ast.Expr, body ...ast.Stmt) *ast.While {
	return &ast.While{Span: b.span(), Cond: cond, Body: b.Block(body...)}
}

// Guard builds a guard whose else block must exit.
func (b *Builder) Guard(cond ast.Expr, els ...ast.Stmt) *ast.Guard {
	return &ast.Guard{Span: b.span(), Cond: cond, Else: b.Block(els...)}
}

// Stmts is a convenience for building a statement slice.
func Stmts(ss ...ast.Stmt) []ast.Stmt { return ss }

// ===== Expressions =====

func (b *Builder) Id(name string) *ast.Ident { return &ast.Ident{Span: b.span(), Name: name} }

func (b *Builder) Int(v int64) *ast.IntLit { return &ast.IntLit{Span: b.span(), Value: v} }

func (b *Builder) Float(v float64) *ast.FloatLit { return &ast.FloatLit{Span: b.span(), Value: v} }

func (b *Builder) Bool(v bool) *ast.BoolLit { return &ast.BoolLit{Span: b.span(), Value: v} }

func (b *Builder) Str(v string) *ast.StringLit { return &ast.StringLit{Span: b.span(), Value: v} }

// Bin builds a binary expression.
func (b *Builder) Bin(op ast.BinaryOp, x, y ast.Expr) *ast.Binary {
	return &ast.Binary{Span: b.span(), Op: op, X: x, Y: y}
}

// Neg builds arithmetic negation.
func (b *Builder) Neg(x ast.Expr) *ast.Unary {
	return &ast.Unary{Span: b.span(), Op: ast.Neg, X: x}
}

// Not builds logical negation.
func (b *Builder) Not(x ast.Expr) *ast.Unary {
	return &ast.Unary{Span: b.span(), Op: ast.Not, X: x}
}

// Call calls a named function.
func (b *Builder) Call(callee string, args ...ast.Expr) *ast.Call {
	return &ast.Call{Span: b.span(), Callee: callee, Args: args}
}

// Sel selects a field.
func (b *Builder) Sel(x ast.Expr, name string) *ast.Selector {
	return &ast.Selector{Span: b.span(), X: x, Name: name}
}

// Lit builds a struct literal from alternating field names and values.
func (b *Builder) Lit(typ string, kv ...any) *ast.StructLit {
	e := &ast.StructLit{Span: b.span(), Type: typ}
	for i := 0; i+1 < len(kv); i += 2 {
		e.Fields = append(e.Fields, &ast.FieldInit{
			Span:  b.span(),
			Name:  kv[i].(string),
			Value: kv[i+1].(ast.Expr),
		})
	}
	return e
}

// Spawn starts a task running body.
func (b *Builder) Spawn(body ...ast.Stmt) *ast.Spawn {
	return &ast.Spawn{Span: b.span(), Body: b.Block(body...)}
}

// Try applies the ? operator.
func (b *Builder) Try(x ast.Expr) *ast.Try {
	return &ast.Try{Span: b.span(), X: x}
}

// TryContext applies ? with a context clause.
func (b *Builder) TryContext(x ast.Expr, format string, args ...ast.Expr) *ast.Try {
	t := b.Try(x)
	t.Context = &ast.ContextClause{Format: format, Args: args}
	return t
}

// Old snapshots x at function entry.
func (b *Builder) Old(x ast.Expr) *ast.Old {
	return &ast.Old{Span: b.span(), X: x}
}

// Pipeline builds lo..hi |> stages |> sink.
func (b *Builder) Pipeline(lo, hi ast.Expr, sink ast.SinkOp, stages ...*ast.Stage) *ast.Pipeline {
	return &ast.Pipeline{
		Span:   b.span(),
		Source: &ast.RangeLit{Span: b.span(), Lo: lo, Hi: hi},
		Stages: stages,
		Sink:   sink,
	}
}

// Stage builds a pipeline stage whose lambda binds param.
func (b *Builder) Stage(op ast.StageOp, hint ast.Hint, param string, body ast.Expr) *ast.Stage {
	return &ast.Stage{
		Span: b.span(),
		Op:   op,
		Hint: hint,
		Fn:   &ast.Lambda{Span: b.span(), Params: []string{param}, Body: body},
	}
}
