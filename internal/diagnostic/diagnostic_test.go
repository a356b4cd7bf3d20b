package diagnostic

import (
	"bytes"
	"strings"
	"sync"
	"testing"

	"github.com/asbel-lang/asbel/internal/position"
)

func TestBuilder(t *testing.T) {
	span := position.At("a.asb", 4, 3, 1)
	d := New(UseAfterMove).
		At(span).
		Messagef("use of moved value %q", "buf").
		In("main").
		Related(position.At("a.asb", 2, 9, 3), "value moved here").
		Build()

	if !d.IsFatal() {
		t.Errorf("expected fatal severity")
	}
	if d.Message != `use of moved value "buf"` {
		t.Errorf("message = %q", d.Message)
	}
	if len(d.Related) != 1 || d.Function != "main" {
		t.Errorf("unexpected related/function: %+v", d)
	}

	w := New(AlwaysFails).Warning().Build()
	if w.IsFatal() {
		t.Errorf("warning reported as fatal")
	}
}

func TestKindCodesAreUnique(t *testing.T) {
	seen := make(map[string]Kind)
	for k := RefinementViolation; k <= DeferredCheck; k++ {
		code := k.Code()
		if prev, ok := seen[code]; ok {
			t.Fatalf("code %s shared by %s and %s", code, prev, k)
		}
		seen[code] = k
		if strings.HasPrefix(k.String(), "Kind(") {
			t.Errorf("kind %d has no name", int(k))
		}
	}
}

func TestEngineWarningsAsErrorsAndMaxErrors(t *testing.T) {
	e := NewEngine(Config{MaxErrors: 2, WarningsAsErrors: true})

	e.Report(New(AlwaysFails).Warning().At(position.At("a.asb", 1, 1, 1)).Build())
	if !e.HasFatal() {
		t.Fatalf("warning should have been promoted")
	}

	e.Report(New(UseAfterMove).At(position.At("a.asb", 3, 1, 1)).Build())
	e.Report(New(AliasConflict).At(position.At("a.asb", 2, 1, 1)).Build())

	ds := e.Diagnostics()
	if len(ds) != 2 {
		t.Fatalf("expected 2 diagnostics after truncation, got %d", len(ds))
	}
	if !e.Truncated() {
		t.Errorf("expected truncation flag")
	}
	if ds[0].Span.Start.Line != 1 || ds[1].Span.Start.Line != 3 {
		t.Errorf("diagnostics not sorted by position: %v, %v", ds[0], ds[1])
	}
}

func TestEngineIgnoresWarningKinds(t *testing.T) {
	e := NewEngine(Config{IgnoreKinds: []Kind{DeferredCheck}})
	e.Report(New(DeferredCheck).Warning().Build())
	e.Report(New(DeferredCheck).Build())

	if got := len(e.Diagnostics()); got != 1 {
		t.Fatalf("expected only the fatal diagnostic to survive, got %d", got)
	}
}

func TestEngineConcurrentReport(t *testing.T) {
	e := NewEngine(Config{})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(line int) {
			defer wg.Done()
			e.Report(New(UseAfterMove).At(position.At("a.asb", line, 1, 1)).Build())
		}(i + 1)
	}
	wg.Wait()

	if got := len(e.Diagnostics()); got != 16 {
		t.Fatalf("expected 16 diagnostics, got %d", got)
	}
}

func TestRendererQuotesSource(t *testing.T) {
	sm := position.NewSourceMap()
	sm.AddFile("a.asb", "let a = open()\nuse(a)\nuse(a)")

	d := New(UseAfterMove).
		At(position.At("a.asb", 3, 5, 1)).
		Messagef("use of moved value `a`").
		Note("values are moved when passed by value").
		Build()

	var buf bytes.Buffer
	r := &Renderer{Sources: sm}
	if err := r.Render(&buf, []*Diagnostic{d}); err != nil {
		t.Fatal(err)
	}

	out := buf.String()
	for _, want := range []string{
		"a.asb:3:5: fatal[E0200 UseAfterMove]: use of moved value `a`",
		"   | use(a)",
		"   |     ^",
		"note: values are moved",
		"1 fatal",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "\x1b[") {
		t.Errorf("colour codes emitted with Color=false")
	}
}

func TestSummary(t *testing.T) {
	if got := Summary(nil); got != "no issues found" {
		t.Errorf("Summary(nil) = %q", got)
	}
	ds := []*Diagnostic{New(UseAfterMove).Build(), New(AlwaysFails).Warning().Build()}
	if got := Summary(ds); got != "1 fatal, 1 warning(s)" {
		t.Errorf("Summary = %q", got)
	}
}
