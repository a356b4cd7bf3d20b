package diagnostic

import (
	"fmt"
	"io"
	"strings"

	"github.com/asbel-lang/asbel/internal/position"
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[1;31m"
	ansiYellow = "\x1b[1;33m"
	ansiBlue   = "\x1b[1;34m"
)

// Renderer writes diagnostics in the "file:line:col: severity[code kind]" form,
// quoting the source line when the text is known.
type Renderer struct {
	Color   bool
	Sources *position.SourceMap
}

// Render writes every diagnostic followed by a summary line.
func (r *Renderer) Render(w io.Writer, ds []*Diagnostic) error {
	for _, d := range ds {
		if _, err := io.WriteString(w, r.format(d)); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintln(w, Summary(ds))
	return err
}

func (r *Renderer) format(d *Diagnostic) string {
	var b strings.Builder

	sev := d.Severity.String()
	if r.Color {
		color := ansiRed
		if d.Severity == Warning {
			color = ansiYellow
		}
		sev = color + sev + ansiReset
	}

	fmt.Fprintf(&b, "%s: %s[%s %s]: %s\n", d.Span, sev, d.Kind.Code(), d.Kind, d.Message)

	if line := r.Sources.Line(d.Span.Start.Filename, d.Span.Start.Line); line != "" {
		gutter := "   |"
		if r.Color {
			gutter = ansiBlue + gutter + ansiReset
		}
		fmt.Fprintf(&b, "%s %s\n", gutter, line)
		width := 1
		if d.Span.End.Line == d.Span.Start.Line && d.Span.End.Column > d.Span.Start.Column {
			width = d.Span.End.Column - d.Span.Start.Column
		}
		fmt.Fprintf(&b, "%s %s%s\n", gutter, strings.Repeat(" ", d.Span.Start.Column-1), strings.Repeat("^", width))
	}

	for _, rel := range d.Related {
		fmt.Fprintf(&b, "  --> %s: %s\n", rel.Span, rel.Message)
	}
	for _, n := range d.Notes {
		fmt.Fprintf(&b, "  note: %s\n", n)
	}
	if d.Function != "" {
		fmt.Fprintf(&b, "  in function %s\n", d.Function)
	}

	return b.String()
}
