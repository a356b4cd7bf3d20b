package ir

import (
	"fmt"
	"sort"
	"strings"
)

// Walk calls f for every statement of ss, descending into nested bodies.
func Walk(ss []Stmt, f func(Stmt)) {
	for _, s := range ss {
		f(s)
		switch s := s.(type) {
		case *If:
			Walk(s.Then, f)
			Walk(s.Else, f)
		case *Loop:
			Walk(s.Pre, f)
			Walk(s.Body, f)
		case *Propagate:
			Walk(s.OnError, f)
		case *ParLoop:
			for _, st := range s.Stages {
				Walk(st.Body, f)
			}
		}
	}
}

// all returns f followed by its tasks, recursively.
func (f *Function) all() []*Function {
	out := []*Function{f}
	for _, t := range f.Tasks {
		out = append(out, t.all()...)
	}
	return out
}

// Validate confirms that every expected runtime check appears exactly once
// and that the number of release statements matches the release plans.
func Validate(f *Function) error {
	seen := make(map[int]int)
	releases := 0
	for _, fn := range f.all() {
		Walk(fn.Body, func(s Stmt) {
			switch s := s.(type) {
			case *Guard:
				seen[s.Obligation]++
			case *Assert:
				seen[s.Obligation]++
			case *Release:
				releases++
			}
		})
	}

	var problems []string
	want := make(map[int]bool, len(f.Obligations))
	for _, id := range f.Obligations {
		want[id] = true
		switch n := seen[id]; {
		case n == 0:
			problems = append(problems, fmt.Sprintf("obligation #%d has no runtime check", id))
		case n > 1:
			problems = append(problems, fmt.Sprintf("obligation #%d is checked %d times", id, n))
		}
	}
	var extra []int
	for id := range seen {
		if !want[id] {
			extra = append(extra, id)
		}
	}
	sort.Ints(extra)
	for _, id := range extra {
		problems = append(problems, fmt.Sprintf("check #%d has no deferred obligation", id))
	}
	if releases != f.Releases {
		problems = append(problems, fmt.Sprintf("%d release statements, want %d", releases, f.Releases))
	}
	if len(problems) > 0 {
		return fmt.Errorf("%s: invalid IR: %s", f.Name, strings.Join(problems, "; "))
	}
	return nil
}
