// Diagnostic records produced by the ownership, refinement and contract passes.
// Fatal diagnostics stop code generation for the function they belong to;
// warnings never block.

package diagnostic

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/asbel-lang/asbel/internal/position"
)

// Severity represents the severity level of a diagnostic message.
type Severity int

const (
	Fatal Severity = iota
	Warning
)

func (s Severity) String() string {
	switch s {
	case Fatal:
		return "fatal"
	case Warning:
		return "warning"
	default:
		return "unknown"
	}
}

// MarshalText encodes the severity by name.
func (s Severity) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Kind names the safety rule a diagnostic reports.
type Kind int

const (
	RefinementViolation Kind = iota
	UseAfterMove
	CapturedAfterMove
	AliasConflict
	ContractViolation
	ParallelCapture
	InvalidSnapshot
	InvalidPredicate
	UnresolvedName
	MissingExit
	AlwaysFails
	DeferredCheck
)

var kindNames = [...]string{
	RefinementViolation: "RefinementViolation",
	UseAfterMove:        "UseAfterMove",
	CapturedAfterMove:   "CapturedAfterMove",
	AliasConflict:       "AliasConflict",
	ContractViolation:   "ContractViolation",
	ParallelCapture:     "ParallelCapture",
	InvalidSnapshot:     "InvalidSnapshot",
	InvalidPredicate:    "InvalidPredicate",
	UnresolvedName:      "UnresolvedName",
	MissingExit:         "MissingExit",
	AlwaysFails:         "AlwaysFails",
	DeferredCheck:       "DeferredCheck",
}

var kindCodes = [...]string{
	RefinementViolation: "E0100",
	UseAfterMove:        "E0200",
	CapturedAfterMove:   "E0201",
	AliasConflict:       "E0202",
	ParallelCapture:     "E0203",
	ContractViolation:   "E0300",
	InvalidSnapshot:     "E0301",
	InvalidPredicate:    "E0101",
	UnresolvedName:      "E0001",
	MissingExit:         "E0002",
	AlwaysFails:         "W0100",
	DeferredCheck:       "W0101",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Code returns the stable diagnostic code for the kind.
func (k Kind) Code() string {
	if int(k) < len(kindCodes) {
		return kindCodes[k]
	}
	return "E9999"
}

// MarshalText encodes the kind by name.
func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// Diagnostic represents a single diagnostic message.
type Diagnostic struct {
	Kind     Kind          `json:"kind"`
	Severity Severity      `json:"severity"`
	Message  string        `json:"message"`
	Span     position.Span `json:"span"`
	Function string        `json:"function,omitempty"`
	Related  []Related     `json:"related,omitempty"`
	Notes    []string      `json:"notes,omitempty"`
}

// Related points at a secondary location, e.g. where a value was moved.
type Related struct {
	Message string        `json:"message"`
	Span    position.Span `json:"span"`
}

// IsFatal reports whether the diagnostic halts code generation.
func (d *Diagnostic) IsFatal() bool { return d.Severity == Fatal }

func (d *Diagnostic) String() string {
	return fmt.Sprintf("%s: %s[%s]: %s", d.Span, d.Severity, d.Kind, d.Message)
}

// Builder helps construct diagnostic messages with fluent API.
type Builder struct {
	diagnostic *Diagnostic
}

// New starts a fatal diagnostic of the given kind.
func New(kind Kind) *Builder {
	return &Builder{diagnostic: &Diagnostic{Kind: kind, Severity: Fatal}}
}

func (b *Builder) Warning() *Builder {
	b.diagnostic.Severity = Warning

	return b
}

func (b *Builder) At(span position.Span) *Builder {
	b.diagnostic.Span = span

	return b
}

func (b *Builder) Messagef(format string, args ...interface{}) *Builder {
	b.diagnostic.Message = fmt.Sprintf(format, args...)

	return b
}

func (b *Builder) In(function string) *Builder {
	b.diagnostic.Function = function

	return b
}

func (b *Builder) Related(span position.Span, message string) *Builder {
	b.diagnostic.Related = append(b.diagnostic.Related, Related{Message: message, Span: span})

	return b
}

func (b *Builder) Note(note string) *Builder {
	b.diagnostic.Notes = append(b.diagnostic.Notes, note)

	return b
}

func (b *Builder) Build() *Diagnostic {
	return b.diagnostic
}

// Sink receives diagnostics as passes produce them.
type Sink interface {
	Report(d *Diagnostic)
}

// Bag is a per-function, single-goroutine Sink.
type Bag struct {
	items []*Diagnostic
}

// Report implements Sink.
func (b *Bag) Report(d *Diagnostic) { b.items = append(b.items, d) }

// Items returns the collected diagnostics in report order.
func (b *Bag) Items() []*Diagnostic { return b.items }

// HasFatal reports whether any collected diagnostic is fatal.
func (b *Bag) HasFatal() bool {
	for _, d := range b.items {
		if d.IsFatal() {
			return true
		}
	}
	return false
}

// Config controls engine behavior.
type Config struct {
	MaxErrors        int
	WarningsAsErrors bool
	IgnoreKinds      []Kind
}

// Engine manages the collection of diagnostics for a compilation unit. It is
// safe for concurrent use by per-function workers.
type Engine struct {
	mu          sync.Mutex
	diagnostics []*Diagnostic
	config      Config
	truncated   bool
}

// NewEngine creates a new diagnostic engine.
func NewEngine(config Config) *Engine {
	return &Engine{config: config}
}

// Report adds a diagnostic to the engine.
func (e *Engine) Report(d *Diagnostic) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, k := range e.config.IgnoreKinds {
		if d.Kind == k && d.Severity == Warning {
			return
		}
	}

	if e.config.WarningsAsErrors && d.Severity == Warning {
		d.Severity = Fatal
	}

	if e.config.MaxErrors > 0 && d.IsFatal() && e.fatalCountLocked() >= e.config.MaxErrors {
		e.truncated = true
		return
	}

	e.diagnostics = append(e.diagnostics, d)
}

func (e *Engine) fatalCountLocked() int {
	n := 0
	for _, d := range e.diagnostics {
		if d.IsFatal() {
			n++
		}
	}
	return n
}

// Diagnostics returns all diagnostics sorted by position then severity.
func (e *Engine) Diagnostics() []*Diagnostic {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := append([]*Diagnostic(nil), e.diagnostics...)
	Sort(out)
	return out
}

// HasFatal returns true if there are any fatal diagnostics.
func (e *Engine) HasFatal() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.fatalCountLocked() > 0
}

// Truncated reports whether fatal diagnostics were dropped by MaxErrors.
func (e *Engine) Truncated() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.truncated
}

// Sort orders diagnostics by file, line, column, then severity (fatal first).
func Sort(ds []*Diagnostic) {
	sort.SliceStable(ds, func(i, j int) bool {
		a, b := ds[i].Span.Start, ds[j].Span.Start
		if a.Filename != b.Filename {
			return a.Filename < b.Filename
		}
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		if a.Column != b.Column {
			return a.Column < b.Column
		}
		return ds[i].Severity < ds[j].Severity
	})
}

// Summary formats the closing "N fatal, M warning(s)" line.
func Summary(ds []*Diagnostic) string {
	fatal, warn := 0, 0
	for _, d := range ds {
		if d.IsFatal() {
			fatal++
		} else {
			warn++
		}
	}
	if fatal == 0 && warn == 0 {
		return "no issues found"
	}

	var parts []string
	if fatal > 0 {
		parts = append(parts, fmt.Sprintf("%d fatal", fatal))
	}
	if warn > 0 {
		parts = append(parts, fmt.Sprintf("%d warning(s)", warn))
	}
	return strings.Join(parts, ", ")
}
