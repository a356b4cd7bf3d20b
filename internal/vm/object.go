package vm

import (
	"fmt"

	asberr "github.com/asbel-lang/asbel/internal/errors"
	"github.com/asbel-lang/asbel/internal/ir"
	"github.com/asbel-lang/asbel/internal/ownership"
)

// Value is a runtime value: int64, float64, bool, string, *Object, *Task or
// nil for unit.
type Value = any

// Object is a heap composite created by alloc.
type Object struct {
	ID       int
	Type     string
	Names    []string
	Fields   map[string]Value
	Resource *ir.Resource

	released bool
}

func (o *Object) String() string { return fmt.Sprintf("%s#%d", o.Type, o.ID) }

// Event is one entry of the execution trace.
type Event struct {
	Op         string // alloc, move or release
	Object     string
	Kind       string // release kind
	Func       string // release function
	DeadlineMS int64
}

func (e Event) String() string {
	switch e.Op {
	case "release":
		if e.DeadlineMS > 0 {
			return fmt.Sprintf("release %s %s(%s) deadline=%dms", e.Kind, e.Func, e.Object, e.DeadlineMS)
		}
		return fmt.Sprintf("release %s %s(%s)", e.Kind, e.Func, e.Object)
	}
	return fmt.Sprintf("%s %s", e.Op, e.Object)
}

func (m *Machine) record(e Event) {
	m.mu.Lock()
	m.trace = append(m.trace, e)
	m.mu.Unlock()
	if m.log != nil {
		m.log.Debug("%s", e)
	}
}

func (m *Machine) alloc(a ir.Alloc, fields []Value) *Object {
	m.mu.Lock()
	m.nextID++
	o := &Object{ID: m.nextID, Type: a.Type, Fields: make(map[string]Value, len(a.Fields)), Resource: a.Resource}
	m.mu.Unlock()
	for i, f := range a.Fields {
		o.Names = append(o.Names, f.Name)
		o.Fields[f.Name] = fields[i]
	}
	m.record(Event{Op: "alloc", Object: o.String()})
	return o
}

// release runs the release action of o and then releases its owned fields in
// reverse declaration order, except those in skip.
func (m *Machine) release(o *Object, kind, fn string, deadline int64, skip map[string]bool) error {
	if o.released {
		return asberr.NewStandardError(asberr.CategoryRuntime, "DOUBLE_RELEASE",
			fmt.Sprintf("%s released twice", o), map[string]interface{}{"object": o.String()})
	}
	o.released = true
	m.record(Event{Op: "release", Object: o.String(), Kind: kind, Func: fn, DeadlineMS: deadline})
	if h, ok := m.hosts[fn]; ok {
		if _, err := h([]Value{o}); err != nil {
			return fmt.Errorf("%s(%s): %w", fn, o, err)
		}
	}
	for i := len(o.Names) - 1; i >= 0; i-- {
		name := o.Names[i]
		child, ok := o.Fields[name].(*Object)
		if !ok || skip[name] || child.released {
			continue
		}
		k, f, d := "free", "free", int64(0)
		if r := child.Resource; r != nil {
			k, f, d = releaseKind(r.Kind), r.Func, r.DeadlineMS
		}
		if err := m.release(child, k, f, d, nil); err != nil {
			return err
		}
	}
	return nil
}

func releaseKind(resource string) string {
	switch resource {
	case "auto_close":
		return "close"
	case "auto_release":
		return "release"
	case "timeout":
		return "timeout"
	}
	return "free"
}

// skipped merges the static skip list with the fields a drop flag marks as
// moved. whole reports that the flag marks the entire value as moved.
func skipped(o *Object, static []string, mask uint64) (skip map[string]bool, whole bool) {
	if mask&ownership.WholeMask != 0 {
		return nil, true
	}
	skip = make(map[string]bool)
	for _, s := range static {
		skip[s] = true
	}
	for i, name := range o.Names {
		if mask&ownership.FieldMask(i) != 0 {
			skip[name] = true
		}
	}
	return skip, false
}
