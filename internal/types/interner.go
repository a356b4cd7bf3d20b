package types

import (
	"fmt"
	"strings"
	"sync"
)

// ====== Interning ======

// Interner is an append-only table of structurally unique types. Readers
// proceed in parallel; a writer takes the exclusive lock only when a new
// structure is added.
type Interner struct {
	mu    sync.RWMutex
	byKey map[string]*Type
	all   []*Type
}

// NewInterner creates an interner pre-populated with every primitive type.
func NewInterner() *Interner {
	in := &Interner{byKey: make(map[string]*Type)}
	for k := range primNames {
		in.Prim(PrimKind(k))
	}
	return in
}

var (
	universe     *Interner
	universeOnce sync.Once
)

// Universe returns the process-wide interner.
func Universe() *Interner {
	universeOnce.Do(func() { universe = NewInterner() })
	return universe
}

func (in *Interner) intern(t *Type) *Type {
	in.mu.RLock()
	if existing, ok := in.byKey[t.key]; ok {
		in.mu.RUnlock()
		return existing
	}
	in.mu.RUnlock()

	in.mu.Lock()
	defer in.mu.Unlock()
	if existing, ok := in.byKey[t.key]; ok {
		return existing
	}
	t.ID = len(in.all)
	in.all = append(in.all, t)
	in.byKey[t.key] = t
	return t
}

// Len returns the number of interned types.
func (in *Interner) Len() int {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return len(in.all)
}

// Prim returns the primitive type of kind k.
func (in *Interner) Prim(k PrimKind) *Type {
	return in.intern(&Type{Kind: KindPrimitive, Prim: k, key: "p:" + k.String()})
}

// Refined returns base narrowed by pred. Refining a refined type nests.
func (in *Interner) Refined(base *Type, pred *Predicate) *Type {
	return in.intern(&Type{
		Kind: KindRefined,
		Base: base,
		Pred: pred,
		key:  fmt.Sprintf("r:%d:%s", base.ID, pred.key()),
	})
}

// Composite returns the named struct type with the given fields.
func (in *Interner) Composite(name string, fields []Field, res Resource) *Type {
	var b strings.Builder
	fmt.Fprintf(&b, "s:%s{", name)
	for _, f := range fields {
		fmt.Fprintf(&b, "%s:%d;", f.Name, f.Type.ID)
	}
	fmt.Fprintf(&b, "}%d:%s:%d", res.Kind, res.Func, res.DeadlineMS)
	return in.intern(&Type{
		Kind:     KindComposite,
		Name:     name,
		Fields:   append([]Field(nil), fields...),
		Resource: res,
		key:      b.String(),
	})
}

// Interface returns the named interface type with the given methods.
func (in *Interner) Interface(name string, methods []Method) *Type {
	var b strings.Builder
	fmt.Fprintf(&b, "i:%s{", name)
	for _, m := range methods {
		fmt.Fprintf(&b, "%s:%d;", m.Name, m.Sig.ID)
	}
	b.WriteByte('}')
	return in.intern(&Type{
		Kind:    KindInterface,
		Name:    name,
		Methods: append([]Method(nil), methods...),
		key:     b.String(),
	})
}

// Func returns the function type params -> result, failing if fails is set.
func (in *Interner) Func(params []*Type, result *Type, fails bool) *Type {
	var b strings.Builder
	b.WriteString("f(")
	for _, p := range params {
		fmt.Fprintf(&b, "%d,", p.ID)
	}
	fmt.Fprintf(&b, ")%d:%t", result.ID, fails)
	return in.intern(&Type{
		Kind:   KindFunction,
		Params: append([]*Type(nil), params...),
		Result: result,
		Fails:  fails,
		key:    b.String(),
	})
}
