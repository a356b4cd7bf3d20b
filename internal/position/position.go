// Package position provides source positions and spans carried by the typed
// AST so that ownership, refinement and contract diagnostics can point at the
// offending source text.
package position

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Position represents a single point in source code
type Position struct {
	Filename string `json:"file,omitempty"`
	Line     int    `json:"line"`   // 1-based
	Column   int    `json:"column"` // 1-based
	Offset   int    `json:"offset"` // 0-based byte offset
}

// IsValid returns true if the position is valid
func (p Position) IsValid() bool {
	return p.Line > 0 && p.Column > 0 && p.Offset >= 0
}

// String returns a string representation of the position
func (p Position) String() string {
	if p.Filename != "" {
		return fmt.Sprintf("%s:%d:%d", filepath.Base(p.Filename), p.Line, p.Column)
	}
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

// Before returns true if this position comes before other
func (p Position) Before(other Position) bool {
	if p.Filename != other.Filename {
		return p.Filename < other.Filename
	}
	if p.Line != other.Line {
		return p.Line < other.Line
	}
	return p.Column < other.Column
}

// Span represents a range of source code between two positions
type Span struct {
	Start Position `json:"start"` // inclusive
	End   Position `json:"end"`   // exclusive
}

// At returns a single-line span starting at line:col covering width columns.
func At(file string, line, col, width int) Span {
	if width < 1 {
		width = 1
	}
	return Span{
		Start: Position{Filename: file, Line: line, Column: col},
		End:   Position{Filename: file, Line: line, Column: col + width},
	}
}

// IsValid returns true if the span is valid
func (s Span) IsValid() bool {
	return s.Start.IsValid() && s.End.IsValid() &&
		s.Start.Filename == s.End.Filename &&
		!s.End.Before(s.Start)
}

// String returns a string representation of the span
func (s Span) String() string {
	if !s.Start.IsValid() {
		return "<unknown>"
	}
	if s.Start.Filename != "" {
		filename := filepath.Base(s.Start.Filename)
		if s.Start.Line == s.End.Line || !s.End.IsValid() {
			return fmt.Sprintf("%s:%d:%d", filename, s.Start.Line, s.Start.Column)
		}
		return fmt.Sprintf("%s:%d:%d-%d:%d", filename, s.Start.Line, s.Start.Column, s.End.Line, s.End.Column)
	}

	if s.Start.Line == s.End.Line || !s.End.IsValid() {
		return fmt.Sprintf("%d:%d", s.Start.Line, s.Start.Column)
	}
	return fmt.Sprintf("%d:%d-%d:%d", s.Start.Line, s.Start.Column, s.End.Line, s.End.Column)
}

// Union returns a span that encompasses both this span and other
func (s Span) Union(other Span) Span {
	if !s.IsValid() {
		return other
	}
	if !other.IsValid() {
		return s
	}
	if s.Start.Filename != other.Start.Filename {
		return s // Cannot union spans from different files
	}

	start := s.Start
	if other.Start.Before(start) {
		start = other.Start
	}

	end := s.End
	if end.Before(other.End) {
		end = other.End
	}

	return Span{Start: start, End: end}
}

// SourceMap holds the text of source files so diagnostics can quote the
// offending line.
type SourceMap struct {
	files map[string][]string
}

// NewSourceMap creates an empty source map
func NewSourceMap() *SourceMap {
	return &SourceMap{files: make(map[string][]string)}
}

// AddFile registers the content of filename.
func (sm *SourceMap) AddFile(filename, content string) {
	sm.files[filename] = strings.Split(content, "\n")
}

// Line returns the 1-based line of filename, or "" when unknown.
func (sm *SourceMap) Line(filename string, line int) string {
	if sm == nil {
		return ""
	}
	lines, ok := sm.files[filename]
	if !ok || line < 1 || line > len(lines) {
		return ""
	}
	return strings.TrimRight(lines[line-1], "\r")
}
