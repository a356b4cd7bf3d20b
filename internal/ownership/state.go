package ownership

import (
	"fmt"

	"github.com/asbel-lang/asbel/internal/ast"
	"github.com/asbel-lang/asbel/internal/types"
)

// ====== Ownership States ======

// State is the ownership mode of a binding at a program point.
type State int

const (
	Uninit State = iota
	Owned
	BorrowedShared
	BorrowedMutable
	Moved
	Released
	// MaybeMoved is the join of Owned and Moved (or of two different partial
	// moves). It is reported as Moved on use and released behind a drop flag.
	MaybeMoved
)

func (s State) String() string {
	switch s {
	case Uninit:
		return "uninit"
	case Owned:
		return "owned"
	case BorrowedShared:
		return "borrowed_shared"
	case BorrowedMutable:
		return "borrowed_mut"
	case Moved:
		return "moved"
	case Released:
		return "released"
	case MaybeMoved:
		return "maybe_moved"
	default:
		return "unknown"
	}
}

// WholeMask marks a move of the entire value in a move mask. Bit i+1 marks a
// move of top-level field i.
const WholeMask uint64 = 1

// FieldMask returns the move-mask bit for field index i.
func FieldMask(i int) uint64 { return 1 << uint(i+1) }

// binding is one declared name. Bindings are identified by pointer so
// shadowing never aliases state.
type binding struct {
	name  string
	typ   *types.Type
	decl  ast.Node
	scope int

	// borrow is BorrowedShared or BorrowedMutable for reference parameters,
	// which never own their value.
	borrow State
}

func (b *binding) owning() bool { return b.borrow == Owned || b.borrow == Uninit }

func (b *binding) needsRelease() bool { return b.owning() && b.typ != nil && !b.typ.IsCopy() }

// slot is the tracked state of one binding.
type slot struct {
	st    State
	mask  uint64   // Moved: which parts moved
	by    ast.Node // the node that moved the value, for diagnostics
	spawn bool     // moved into a spawned task
}

func (s slot) String() string {
	if s.st == Moved {
		return fmt.Sprintf("moved(%#x)", s.mask)
	}
	return s.st.String()
}

// flow is the abstract state of every live binding on one path. A dead flow
// belongs to unreachable code.
type flow struct {
	dead  bool
	slots map[*binding]slot
}

func newFlow() *flow { return &flow{slots: make(map[*binding]slot)} }

func deadFlow() *flow { return &flow{dead: true, slots: map[*binding]slot{}} }

func (f *flow) clone() *flow {
	out := &flow{dead: f.dead, slots: make(map[*binding]slot, len(f.slots))}
	for b, s := range f.slots {
		out.slots[b] = s
	}
	return out
}

// join merges two paths reaching the same point.
func join(a, b *flow) *flow {
	switch {
	case a.dead:
		return b.clone()
	case b.dead:
		return a.clone()
	}
	out := newFlow()
	for bd, x := range a.slots {
		y, ok := b.slots[bd]
		if !ok {
			continue
		}
		out.slots[bd] = joinSlot(x, y)
	}
	return out
}

func joinSlot(x, y slot) slot {
	if x.st == y.st && x.mask == y.mask {
		if x.by == nil {
			x.by = y.by
		}
		x.spawn = x.spawn || y.spawn
		return x
	}
	out := slot{st: MaybeMoved, mask: x.mask | y.mask, by: x.by, spawn: x.spawn || y.spawn}
	if out.by == nil {
		out.by = y.by
	}
	if x.st == Released || y.st == Released {
		out.st = Released
	}
	return out
}

// equal reports whether two flows carry the same states.
func equal(a, b *flow) bool {
	if a.dead != b.dead || len(a.slots) != len(b.slots) {
		return false
	}
	for bd, x := range a.slots {
		y, ok := b.slots[bd]
		if !ok || x.st != y.st || x.mask != y.mask || x.spawn != y.spawn {
			return false
		}
	}
	return true
}
