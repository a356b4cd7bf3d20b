package vm

import (
	"fmt"
	"strings"
)

// AbortKind classifies a failed runtime check.
type AbortKind int

const (
	// CallerBug is a violated requires clause: the caller passed bad input.
	CallerBug AbortKind = iota
	// ImplementationBug is a violated ensures clause.
	ImplementationBug
	// RefinementFailure is a value that does not fit its refined type.
	RefinementFailure
)

func (k AbortKind) String() string {
	switch k {
	case CallerBug:
		return "caller bug"
	case ImplementationBug:
		return "implementation bug"
	}
	return "refinement failure"
}

// Abort is the fatal error raised by a failed guard or assertion. It is not
// recoverable by `?`.
type Abort struct {
	Kind       AbortKind
	Func       string
	Obligation int
	Message    string
}

func (a *Abort) Error() string {
	return fmt.Sprintf("%s: %s in %s (check #%d)", a.Kind, a.Message, a.Func, a.Obligation)
}

// Failure is an error value returned by a failing function. Context holds the
// context messages attached while it propagated, innermost first.
type Failure struct {
	Value   Value
	Context []string
}

func (f *Failure) Error() string {
	parts := make([]string, 0, len(f.Context)+1)
	for i := len(f.Context) - 1; i >= 0; i-- {
		parts = append(parts, f.Context[i])
	}
	parts = append(parts, fmt.Sprint(f.Value))
	return strings.Join(parts, ": ")
}

func (f *Failure) with(msg string) *Failure {
	ctx := append(append([]string(nil), f.Context...), msg)
	return &Failure{Value: f.Value, Context: ctx}
}

// format fills the `{}` placeholders of a context clause in order.
func format(tmpl string, args []Value) string {
	var b strings.Builder
	for i := 0; ; i++ {
		j := strings.Index(tmpl, "{}")
		if j < 0 || i >= len(args) {
			b.WriteString(tmpl)
			return b.String()
		}
		b.WriteString(tmpl[:j])
		fmt.Fprint(&b, args[i])
		tmpl = tmpl[j+2:]
	}
}
