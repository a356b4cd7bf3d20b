package ownership

import "github.com/asbel-lang/asbel/internal/ast"

// ====== Release Plans ======

// plan records the releases needed when control leaves every scope from depth
// up to the innermost one at node at. Scopes are released innermost first and
// bindings in reverse declaration order. Error exits also drop the pending
// temporaries of the interrupted expression.
func (e *engine) plan(at ast.Node, exit ExitKind, depth int) {
	if e.cur.dead {
		return
	}
	p := &ReleasePlan{Exit: exit, At: at}
	if exit == ErrorExit {
		for i := len(e.pending) - 1; i >= 0; i-- {
			x := e.pending[i]
			r := newRelease(x.String(), e.typeOf(x))
			r.Temp = x
			p.Releases = append(p.Releases, r)
		}
	}
	for i := len(e.scopes) - 1; i >= depth && i >= 0; i-- {
		bs := e.scopes[i]
		for j := len(bs) - 1; j >= 0; j-- {
			if r := e.releaseFor(bs[j]); r != nil {
				p.Releases = append(p.Releases, r)
			}
		}
	}
	e.res.Plans[at] = p
}

// releaseFor returns the release owed by b in the current state, or nil.
func (e *engine) releaseFor(b *binding) *Release {
	if !b.needsRelease() {
		return nil
	}
	s, ok := e.cur.slots[b]
	if !ok {
		return nil
	}
	r := newRelease(b.name, b.typ)
	r.Decl = b.decl
	switch s.st {
	case Owned:
		return r
	case Moved:
		if s.mask&WholeMask != 0 {
			return nil
		}
		r.SkipFields = fieldNames(b.typ, s.mask)
		return r
	case MaybeMoved:
		r.Conditional = true
		e.res.Flags[b.decl] = true
		return r
	}
	return nil
}
