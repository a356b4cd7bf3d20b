// Package obligation records the proof obligations produced by the refinement
// resolver and the contract verifier and consumed by the emitter.
package obligation

import (
	"fmt"
	"sort"

	"github.com/asbel-lang/asbel/internal/ast"
	"github.com/asbel-lang/asbel/internal/position"
	"github.com/asbel-lang/asbel/internal/types"
)

// Status is the clause state of an obligation.
type Status int

const (
	Unchecked Status = iota
	Discharged
	Deferred
	Violated
)

func (s Status) String() string {
	switch s {
	case Discharged:
		return "discharged"
	case Deferred:
		return "deferred"
	case Violated:
		return "violated"
	}
	return "unchecked"
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Source names the pass and rule that created an obligation.
type Source int

const (
	Refinement Source = iota
	Requires
	Ensures
)

func (s Source) String() string {
	switch s {
	case Requires:
		return "requires"
	case Ensures:
		return "ensures"
	}
	return "refinement"
}

func (s Source) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Obligation is a predicate that must hold at one program point.
//
// Anchor locates the point: for refinements it is the value expression being
// constructed or narrowed, for requires the call expression, and for ensures
// the return statement. Check is a boolean expression over `it` (refinements),
// the callee's parameter names (requires) or `result` and old() snapshots
// (ensures).
type Obligation struct {
	ID       int
	Source   Source
	Status   Status
	Anchor   ast.Node
	Span     position.Span
	Check    ast.Expr
	Target   *types.Type    // refinement target
	Interval types.Interval // interval of the produced value
	Callee   string         // requires: called function
	Clause   int            // requires/ensures: clause index
	Proof    string         // discharged: why no runtime check is needed
}

func (o *Obligation) String() string {
	switch o.Status {
	case Discharged:
		return fmt.Sprintf("#%d %s %s: discharged (%s)", o.ID, o.Source, o.Check, o.Proof)
	case Deferred:
		return fmt.Sprintf("#%d %s %s: deferred", o.ID, o.Source, o.Check)
	}
	return fmt.Sprintf("#%d %s %s: %s", o.ID, o.Source, o.Check, o.Status)
}

// Set is the per-function collection of obligations, indexed by anchor.
type Set struct {
	items    []*Obligation
	byAnchor map[ast.Node][]*Obligation
}

// NewSet creates an empty set.
func NewSet() *Set {
	return &Set{byAnchor: make(map[ast.Node][]*Obligation)}
}

// Add assigns o the next ID and records it.
func (s *Set) Add(o *Obligation) *Obligation {
	o.ID = len(s.items)
	s.items = append(s.items, o)
	s.byAnchor[o.Anchor] = append(s.byAnchor[o.Anchor], o)
	return o
}

// All returns every obligation in creation order.
func (s *Set) All() []*Obligation { return s.items }

// At returns the obligations anchored at n.
func (s *Set) At(n ast.Node) []*Obligation { return s.byAnchor[n] }

// DeferredAt returns the runtime checks anchored at n in creation order.
func (s *Set) DeferredAt(n ast.Node) []*Obligation {
	var out []*Obligation
	for _, o := range s.byAnchor[n] {
		if o.Status == Deferred {
			out = append(out, o)
		}
	}
	return out
}

// Deferred returns the IDs of all runtime checks, sorted.
func (s *Set) Deferred() []int {
	var ids []int
	for _, o := range s.items {
		if o.Status == Deferred {
			ids = append(ids, o.ID)
		}
	}
	sort.Ints(ids)
	return ids
}

// Count returns the number of obligations with status st.
func (s *Set) Count(st Status) int {
	n := 0
	for _, o := range s.items {
		if o.Status == st {
			n++
		}
	}
	return n
}
