package ir

import (
	"fmt"
	"strings"
)

func (m *Module) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "module %s\n", m.Name)
	for _, f := range m.Functions {
		b.WriteString(f.String())
	}
	return b.String()
}

func (f *Function) String() string {
	var b strings.Builder
	f.write(&b, "fn "+f.Name)
	for i, t := range f.Tasks {
		t.write(&b, fmt.Sprintf("task%d of %s", i, f.Name))
	}
	return b.String()
}

func (f *Function) write(b *strings.Builder, head string) {
	params := make([]string, len(f.Params))
	for i, p := range f.Params {
		switch p.Mode {
		case "ref":
			params[i] = fmt.Sprintf("%s: &%s", p.Name, p.Type)
		case "mut_ref":
			params[i] = fmt.Sprintf("%s: &mut %s", p.Name, p.Type)
		default:
			params[i] = fmt.Sprintf("%s: %s", p.Name, p.Type)
		}
	}
	result := f.Result
	if f.Fails {
		result = fmt.Sprintf("Result[%s]", result)
	}
	fmt.Fprintf(b, "%s(%s) -> %s {\n", head, strings.Join(params, ", "), result)
	writeStmts(b, f.Body, 1)
	b.WriteString("}\n")
}

func writeStmts(b *strings.Builder, ss []Stmt, depth int) {
	pad := strings.Repeat("  ", depth)
	for _, s := range ss {
		switch s := s.(type) {
		case *If:
			fmt.Fprintf(b, "%sif %s {\n", pad, s.Cond)
			writeStmts(b, s.Then, depth+1)
			if len(s.Else) > 0 {
				fmt.Fprintf(b, "%s} else {\n", pad)
				writeStmts(b, s.Else, depth+1)
			}
			fmt.Fprintf(b, "%s}\n", pad)
		case *Loop:
			fmt.Fprintf(b, "%sloop {\n", pad)
			writeStmts(b, s.Pre, depth+1)
			fmt.Fprintf(b, "%s  break unless %s\n", pad, s.Cond)
			writeStmts(b, s.Body, depth+1)
			fmt.Fprintf(b, "%s}\n", pad)
		case *Propagate:
			fmt.Fprintf(b, "%s%s\n", pad, s)
			if len(s.OnError) > 0 {
				fmt.Fprintf(b, "%s  on error {\n", pad)
				writeStmts(b, s.OnError, depth+2)
				fmt.Fprintf(b, "%s  }\n", pad)
			}
		case *ParLoop:
			fmt.Fprintf(b, "%s%s\n", pad, s)
			for _, st := range s.Stages {
				mode := "seq"
				if st.Parallel {
					mode = "par"
				}
				fmt.Fprintf(b, "%s  %s %s |%s| {\n", pad, mode, st.Kind, st.Param)
				writeStmts(b, st.Body, depth+2)
				fmt.Fprintf(b, "%s    yield %s\n", pad, st.Result)
				fmt.Fprintf(b, "%s  }\n", pad)
			}
		default:
			fmt.Fprintf(b, "%s%s\n", pad, s)
		}
	}
}

func (s *Let) String() string  { return fmt.Sprintf("let %s: %s = %s", s.Name, s.Type, s.Value) }
func (s *Set) String() string  { return fmt.Sprintf("set %s = %s", place(s.Name, s.Path), s.Value) }
func (s *Eval) String() string { return s.Value.String() }

func (s *Guard) String() string {
	return fmt.Sprintf("guard#%d %s %s else %q", s.Obligation, s.Source, s.Cond, s.Message)
}

func (s *Assert) String() string {
	return fmt.Sprintf("assert#%d %s else %q", s.Obligation, s.Cond, s.Message)
}

func (s *Snapshot) String() string {
	return fmt.Sprintf("snapshot %s: %s = %s", s.Name, s.Type, s.Source)
}

func (s *Release) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "release %s %s(%s)", s.Kind, s.Func, place(s.Name, s.Path))
	if s.DeadlineMS > 0 {
		fmt.Fprintf(&b, " deadline=%dms", s.DeadlineMS)
	}
	if len(s.Skip) > 0 {
		fmt.Fprintf(&b, " skip[%s]", strings.Join(s.Skip, ","))
	}
	if s.Flag != "" {
		fmt.Fprintf(&b, " unless-moved %s", s.Flag)
	}
	return b.String()
}

func (s *Flag) String() string {
	var parts []string
	if s.Reset {
		parts = append(parts, "reset")
	}
	if s.Set != 0 {
		parts = append(parts, fmt.Sprintf("set %#x", s.Set))
	}
	if s.Clear != 0 {
		parts = append(parts, fmt.Sprintf("clear %#x", s.Clear))
	}
	return fmt.Sprintf("flag %s %s", s.Name, strings.Join(parts, " "))
}

func (*Break) String() string    { return "break" }
func (*Continue) String() string { return "continue" }

func (s *Return) String() string {
	if s.Value == nil {
		return "return"
	}
	return "return " + s.Value.String()
}

func (s *Fail) String() string { return "fail " + s.Value.String() }

func (s *If) String() string   { return fmt.Sprintf("if %s", s.Cond) }
func (s *Loop) String() string { return fmt.Sprintf("loop while %s", s.Cond) }

func (s *Propagate) String() string {
	out := fmt.Sprintf("propagate %s: %s = %s", s.Dst, s.Type, s.Src)
	if s.Context != nil {
		args := make([]string, len(s.Context.Args))
		for i, a := range s.Context.Args {
			args[i] = a.String()
		}
		out += fmt.Sprintf(" context %q", s.Context.Format)
		if len(args) > 0 {
			out += " (" + strings.Join(args, ", ") + ")"
		}
	}
	return out
}

func (s *ParLoop) String() string {
	return fmt.Sprintf("parloop %s: %s = %s(%s..%s)", s.Dst, s.Type, s.Sink, s.Lo, s.Hi)
}
