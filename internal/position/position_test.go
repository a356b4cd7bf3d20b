package position

import "testing"

func TestSpanString(t *testing.T) {
	tests := []struct {
		name string
		span Span
		want string
	}{
		{"single line", At("src/main.asb", 3, 7, 4), "main.asb:3:7"},
		{"no file", At("", 1, 2, 1), "1:2"},
		{"multi line", Span{
			Start: Position{Filename: "a.asb", Line: 1, Column: 1},
			End:   Position{Filename: "a.asb", Line: 4, Column: 2},
		}, "a.asb:1:1-4:2"},
		{"invalid", Span{}, "<unknown>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.span.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSpanUnion(t *testing.T) {
	a := At("a.asb", 2, 5, 3)
	b := At("a.asb", 4, 1, 10)

	u := a.Union(b)
	if u.Start != a.Start {
		t.Errorf("union start = %v, want %v", u.Start, a.Start)
	}
	if u.End != b.End {
		t.Errorf("union end = %v, want %v", u.End, b.End)
	}

	if got := (Span{}).Union(b); got != b {
		t.Errorf("union with invalid span should return other, got %v", got)
	}
}

func TestSourceMapLine(t *testing.T) {
	sm := NewSourceMap()
	sm.AddFile("a.asb", "let x = 1\r\nlet y = x\n")

	if got := sm.Line("a.asb", 1); got != "let x = 1" {
		t.Errorf("Line(1) = %q", got)
	}
	if got := sm.Line("a.asb", 9); got != "" {
		t.Errorf("Line(9) = %q, want empty", got)
	}
	var nilMap *SourceMap
	if got := nilMap.Line("a.asb", 1); got != "" {
		t.Errorf("nil map Line = %q, want empty", got)
	}
}
