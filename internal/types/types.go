// Package types defines the interned type model shared by every stage of the
// ownership and refinement pipeline: primitive, refined, composite, interface
// and function types, the interval domain used for range propagation, and the
// process-wide interning table.
package types

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/asbel-lang/asbel/internal/ast"
)

// ====== Type Kinds ======

// Kind tags the variant held by a Type.
type Kind int

const (
	KindPrimitive Kind = iota
	KindRefined
	KindComposite
	KindInterface
	KindFunction
)

func (k Kind) String() string {
	switch k {
	case KindPrimitive:
		return "primitive"
	case KindRefined:
		return "refined"
	case KindComposite:
		return "composite"
	case KindInterface:
		return "interface"
	case KindFunction:
		return "function"
	}
	return "unknown"
}

// PrimKind enumerates the primitive types.
type PrimKind int

const (
	U8 PrimKind = iota
	U16
	U32
	U64
	I8
	I16
	I32
	I64
	F32
	F64
	Bool
	Str
	Unit
	Task
	UntypedInt   // integer literal before it adopts a context type
	UntypedFloat // float literal before it adopts a context type
)

var primNames = [...]string{
	U8: "u8", U16: "u16", U32: "u32", U64: "u64",
	I8: "i8", I16: "i16", I32: "i32", I64: "i64",
	F32: "f32", F64: "f64", Bool: "bool", Str: "str", Unit: "unit", Task: "task",
	UntypedInt: "untyped int", UntypedFloat: "untyped float",
}

func (p PrimKind) String() string { return primNames[p] }

// ParsePrim maps a source type name to its primitive kind.
func ParsePrim(name string) (PrimKind, bool) {
	for k, n := range primNames[:UntypedInt] {
		if n == name {
			return PrimKind(k), true
		}
	}
	return 0, false
}

// IsInteger reports whether p is an integer kind.
func (p PrimKind) IsInteger() bool { return p <= I64 || p == UntypedInt }

// IsFloat reports whether p is a floating point kind.
func (p PrimKind) IsFloat() bool { return p == F32 || p == F64 || p == UntypedFloat }

// IsNumeric reports whether p supports arithmetic.
func (p PrimKind) IsNumeric() bool { return p.IsInteger() || p.IsFloat() }

// IsSigned reports whether p can hold negative values.
func (p PrimKind) IsSigned() bool { return p >= I8 && p != Bool && p != Str && p != Unit && p != Task }

// Bits returns the width of a sized numeric kind, or 0.
func (p PrimKind) Bits() int {
	switch p {
	case U8, I8:
		return 8
	case U16, I16:
		return 16
	case U32, I32, F32:
		return 32
	case U64, I64, F64:
		return 64
	}
	return 0
}

// IntKind returns the integer kind with the given signedness and width.
func IntKind(signed bool, bits int) PrimKind {
	idx := 0
	for w := 8; w < bits && idx < 3; w *= 2 {
		idx++
	}
	if signed {
		return I8 + PrimKind(idx)
	}
	return U8 + PrimKind(idx)
}

// Range returns the natural value interval of p.
func (p PrimKind) Range() Interval {
	switch {
	case p.IsInteger() && p != UntypedInt:
		bits := float64(p.Bits())
		if p.IsSigned() {
			return Closed(-math.Pow(2, bits-1), math.Pow(2, bits-1)-1)
		}
		return Closed(0, math.Pow(2, bits)-1)
	case p == F32:
		return Closed(-math.MaxFloat32, math.MaxFloat32)
	case p == Bool:
		return Closed(0, 1)
	}
	return Full()
}

// ArithResult returns the kind produced by `a op b`. Untyped literals adopt
// the other operand's kind. Addition and multiplication double the width,
// unsigned subtraction moves to the next signed width; all widening stops at
// 64 bits.
func ArithResult(op ast.BinaryOp, a, b PrimKind) PrimKind {
	switch {
	case a == UntypedInt || a == UntypedFloat:
		if b == UntypedInt || b == UntypedFloat {
			if a == UntypedFloat || b == UntypedFloat {
				return UntypedFloat
			}
			return UntypedInt
		}
		a = b
	case b == UntypedInt || b == UntypedFloat:
		b = a
	}

	if a.IsFloat() || b.IsFloat() {
		if a == F64 || b == F64 || !a.IsFloat() || !b.IsFloat() {
			return F64
		}
		return F32
	}

	signed := a.IsSigned() || b.IsSigned()
	bits := max(a.Bits(), b.Bits())
	if a.IsSigned() != b.IsSigned() {
		unsigned := a
		if a.IsSigned() {
			unsigned = b
		}
		if unsigned.Bits() >= bits {
			bits *= 2
		}
	}

	switch op {
	case ast.Add, ast.Mul:
		bits *= 2
	case ast.Sub:
		if !signed {
			signed = true
		}
		bits *= 2
	}
	return IntKind(signed, min(bits, 64))
}

// ====== Type ======

// Type is an interned type. Values are created only through an Interner and
// are never mutated afterwards, so identity comparison is type equality.
type Type struct {
	ID   int
	Kind Kind
	Name string // composite and interface types

	Prim PrimKind // KindPrimitive

	Base *Type      // KindRefined
	Pred *Predicate // KindRefined

	Fields   []Field  // KindComposite
	Resource Resource // KindComposite

	Methods []Method // KindInterface

	Params []*Type // KindFunction
	Result *Type   // KindFunction
	Fails  bool    // KindFunction

	key string
}

// Field is a named member of a composite.
type Field struct {
	Name string
	Type *Type
}

// Method is an interface method signature.
type Method struct {
	Name string
	Sig  *Type
}

// ResourceKind classifies the release action of a resource-bound type.
type ResourceKind int

const (
	NoResource ResourceKind = iota
	AutoClose
	AutoRelease
	Timeout
)

func (k ResourceKind) String() string {
	switch k {
	case AutoClose:
		return "auto_close"
	case AutoRelease:
		return "auto_release"
	case Timeout:
		return "timeout"
	}
	return "none"
}

// Resource describes how a resource-bound composite is released at scope exit.
type Resource struct {
	Kind       ResourceKind
	Func       string // release function for AutoRelease
	DeadlineMS int64  // Timeout deadline passed to the release call
}

func (r Resource) String() string {
	switch r.Kind {
	case AutoRelease:
		return fmt.Sprintf("@auto_release(%s)", r.Func)
	case Timeout:
		return fmt.Sprintf("@timeout(%d)", r.DeadlineMS)
	case AutoClose:
		return "@auto_close"
	}
	return ""
}

// Predicate narrows a refined type. Range predicates are decided with
// interval arithmetic; Where predicates are opaque boolean expressions over
// the bound value `it`.
type Predicate struct {
	Range *Interval
	// IntLo and IntHi are the inclusive bounds of Range when they are
	// integer constants. Range rounds them outward beyond MaxExactInt.
	IntLo, IntHi *int64
	Where        ast.Expr
	Text         string
}

// Opaque reports whether the predicate cannot be decided by intervals alone.
func (p *Predicate) Opaque() bool { return p.Where != nil }

func (p *Predicate) String() string { return p.Text }

func (p *Predicate) key() string {
	var b strings.Builder
	if p.Range != nil {
		b.WriteString(p.Range.String())
	}
	for _, v := range []*int64{p.IntLo, p.IntHi} {
		b.WriteByte('|')
		if v != nil {
			b.WriteString(strconv.FormatInt(*v, 10))
		}
	}
	b.WriteByte('|')
	if p.Where != nil {
		b.WriteString(p.Where.String())
	}
	return b.String()
}

// Underlying strips refinements.
func (t *Type) Underlying() *Type {
	for t != nil && t.Kind == KindRefined {
		t = t.Base
	}
	return t
}

// PrimKind returns the primitive kind underlying t.
func (t *Type) PrimKind() (PrimKind, bool) {
	u := t.Underlying()
	if u == nil || u.Kind != KindPrimitive {
		return 0, false
	}
	return u.Prim, true
}

// IsNumeric reports whether t's underlying type supports arithmetic.
func (t *Type) IsNumeric() bool {
	p, ok := t.PrimKind()
	return ok && p.IsNumeric()
}

// IsCopy reports whether reading a value of t leaves the source usable.
// Primitives, refined primitives and function values are copied; everything
// else is moved.
func (t *Type) IsCopy() bool {
	u := t.Underlying()
	return u == nil || u.Kind == KindPrimitive || u.Kind == KindFunction
}

// IsResource reports whether values of t carry a resource release action.
func (t *Type) IsResource() bool {
	u := t.Underlying()
	return u != nil && u.Kind == KindComposite && u.Resource.Kind != NoResource
}

// Interval returns the set of values a value of t may hold.
func (t *Type) Interval() Interval {
	switch t.Kind {
	case KindPrimitive:
		return t.Prim.Range()
	case KindRefined:
		iv := t.Base.Interval()
		if t.Pred.Range != nil {
			iv = iv.Intersect(*t.Pred.Range)
		}
		if p, ok := t.PrimKind(); ok && p.IsInteger() {
			iv = iv.Integer()
		}
		return iv
	}
	return Full()
}

// Field looks up a composite field by name.
func (t *Type) Field(name string) (Field, int, bool) {
	u := t.Underlying()
	if u == nil {
		return Field{}, -1, false
	}
	for i, f := range u.Fields {
		if f.Name == name {
			return f, i, true
		}
	}
	return Field{}, -1, false
}

func (t *Type) String() string {
	if t == nil {
		return "<nil>"
	}
	switch t.Kind {
	case KindPrimitive:
		return t.Prim.String()
	case KindRefined:
		return fmt.Sprintf("%s(%s)", t.Base, t.Pred)
	case KindComposite, KindInterface:
		return t.Name
	case KindFunction:
		parts := make([]string, len(t.Params))
		for i, p := range t.Params {
			parts[i] = p.String()
		}
		s := fmt.Sprintf("fn(%s) -> %s", strings.Join(parts, ", "), t.Result)
		if t.Fails {
			s += "!"
		}
		return s
	}
	return "<invalid>"
}
