package ast

// Inspect traverses the expression and statement tree rooted at n in
// depth-first order, calling f for each node. If f returns false the children
// of that node are skipped. Lambda and Spawn bodies are visited.
func Inspect(n Node, f func(Node) bool) {
	if n == nil || !f(n) {
		return
	}

	switch n := n.(type) {
	case *Block:
		for _, s := range n.Stmts {
			Inspect(s, f)
		}
	case *Let:
		inspectExpr(n.Value, f)
	case *Assign:
		inspectExpr(n.Target, f)
		inspectExpr(n.Value, f)
	case *ExprStmt:
		inspectExpr(n.X, f)
	case *Return:
		inspectExpr(n.Value, f)
	case *If:
		inspectExpr(n.Cond, f)
		Inspect(n.Then, f)
		if n.Else != nil {
			Inspect(n.Else, f)
		}
	case *While:
		inspectExpr(n.Cond, f)
		Inspect(n.Body, f)
	case *Guard:
		inspectExpr(n.Cond, f)
		Inspect(n.Else, f)
	case *Binary:
		inspectExpr(n.X, f)
		inspectExpr(n.Y, f)
	case *Unary:
		inspectExpr(n.X, f)
	case *Call:
		for _, a := range n.Args {
			inspectExpr(a, f)
		}
	case *Selector:
		inspectExpr(n.X, f)
	case *StructLit:
		for _, fi := range n.Fields {
			inspectExpr(fi.Value, f)
		}
	case *Spawn:
		Inspect(n.Body, f)
	case *Try:
		inspectExpr(n.X, f)
		if n.Context != nil {
			for _, a := range n.Context.Args {
				inspectExpr(a, f)
			}
		}
	case *Old:
		inspectExpr(n.X, f)
	case *Pipeline:
		Inspect(n.Source, f)
		for _, s := range n.Stages {
			Inspect(s.Fn, f)
		}
	case *RangeLit:
		inspectExpr(n.Lo, f)
		inspectExpr(n.Hi, f)
	case *Lambda:
		inspectExpr(n.Body, f)
	}
}

func inspectExpr(e Expr, f func(Node) bool) {
	if e != nil {
		Inspect(e, f)
	}
}

// FreeVars returns the identifiers referenced in n that are not bound inside
// it, in first-reference order. Let bindings are scoped to their enclosing
// block and lambda parameters to the lambda body.
func FreeVars(n Node) []*Ident {
	fv := &freeVars{seen: make(map[string]bool)}
	fv.visit(n, make(map[string]bool))
	return fv.out
}

type freeVars struct {
	seen map[string]bool
	out  []*Ident
}

func (fv *freeVars) visit(n Node, bound map[string]bool) {
	switch n := n.(type) {
	case *Block:
		inner := copyScope(bound)
		for _, s := range n.Stmts {
			fv.visit(s, inner)
		}
	case *Let:
		fv.visit(n.Value, bound)
		bound[n.Name] = true
	case *Lambda:
		inner := copyScope(bound)
		for _, p := range n.Params {
			inner[p] = true
		}
		fv.visit(n.Body, inner)
	case *Ident:
		if !bound[n.Name] && !fv.seen[n.Name] {
			fv.seen[n.Name] = true
			fv.out = append(fv.out, n)
		}
	default:
		for _, c := range Children(n) {
			fv.visit(c, bound)
		}
	}
}

func copyScope(m map[string]bool) map[string]bool {
	out := make(map[string]bool, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Children returns the direct child nodes of n in evaluation order.
func Children(n Node) []Node {
	var out []Node
	root := true
	Inspect(n, func(c Node) bool {
		if root {
			root = false
			return true
		}
		out = append(out, c)
		return false
	})
	return out
}

// IsConstant reports whether e is built only from literals.
func IsConstant(e Expr) bool {
	switch e := e.(type) {
	case *IntLit, *FloatLit, *BoolLit, *StringLit:
		return true
	case *Unary:
		return IsConstant(e.X)
	case *Binary:
		return IsConstant(e.X) && IsConstant(e.Y)
	}
	return false
}

// Root returns the binding name at the base of an Ident/Selector chain.
func Root(e Expr) (*Ident, bool) {
	switch e := e.(type) {
	case *Ident:
		return e, true
	case *Selector:
		return Root(e.X)
	}
	return nil, false
}

// Exits reports whether control can never fall off the end of b.
func Exits(b *Block) bool {
	if b == nil || len(b.Stmts) == 0 {
		return false
	}
	switch s := b.Stmts[len(b.Stmts)-1].(type) {
	case *Return, *Break, *Continue:
		return true
	case *Block:
		return Exits(s)
	case *If:
		return s.Else != nil && Exits(s.Then) && Exits(s.Else)
	}
	return false
}
