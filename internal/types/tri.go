package types

import "github.com/asbel-lang/asbel/internal/ast"

// Tri is a three-valued truth value used when evaluating predicates over
// intervals.
type Tri int

const (
	Unknown Tri = iota
	True
	False
)

// TriOf converts a boolean.
func TriOf(b bool) Tri {
	if b {
		return True
	}
	return False
}

func (t Tri) String() string {
	switch t {
	case True:
		return "true"
	case False:
		return "false"
	}
	return "unknown"
}

// Not negates t.
func (t Tri) Not() Tri {
	switch t {
	case True:
		return False
	case False:
		return True
	}
	return Unknown
}

// And is Kleene conjunction.
func (t Tri) And(o Tri) Tri {
	if t == False || o == False {
		return False
	}
	if t == True && o == True {
		return True
	}
	return Unknown
}

// Or is Kleene disjunction.
func (t Tri) Or(o Tri) Tri {
	if t == True || o == True {
		return True
	}
	if t == False && o == False {
		return False
	}
	return Unknown
}

// Compare decides `x op y` for every x in a and y in b. It returns True when
// the comparison holds for all pairs, False when it holds for none.
func Compare(op ast.BinaryOp, a, b Interval) Tri {
	if a.IsEmpty() || b.IsEmpty() {
		return Unknown
	}
	switch op {
	case ast.Lt:
		return less(a, b)
	case ast.Le:
		return lessEq(a, b)
	case ast.Gt:
		return less(b, a)
	case ast.Ge:
		return lessEq(b, a)
	case ast.Eq:
		return equal(a, b)
	case ast.Ne:
		return equal(a, b).Not()
	}
	return Unknown
}

func less(a, b Interval) Tri {
	if a.Hi < b.Lo || (a.Hi == b.Lo && (a.HiOpen || b.LoOpen)) {
		return True
	}
	if a.Lo >= b.Hi {
		return False
	}
	return Unknown
}

func lessEq(a, b Interval) Tri {
	if a.Hi <= b.Lo {
		return True
	}
	if a.Lo > b.Hi || (a.Lo == b.Hi && (a.LoOpen || b.HiOpen)) {
		return False
	}
	return Unknown
}

func equal(a, b Interval) Tri {
	av, aok := a.Constant()
	bv, bok := b.Constant()
	if aok && bok {
		return TriOf(av == bv)
	}
	if a.Disjoint(b) {
		return False
	}
	return Unknown
}
