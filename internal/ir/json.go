package ir

import (
	"bytes"
	"encoding/json"
	"io"
)

// Encode writes m as indented JSON. Every statement and value carries an "op"
// discriminator.
func Encode(w io.Writer, m *Module) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(m)
}

// tagged marshals v and prepends the "op" member.
func tagged(op string, v any) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	head := []byte(`{"op":"` + op + `"`)
	if bytes.Equal(body, []byte("{}")) {
		return append(head, '}'), nil
	}
	return append(append(head, ','), body[1:]...), nil
}

func (v Const) MarshalJSON() ([]byte, error)  { type plain Const; return tagged(v.Op(), plain(v)) }
func (v Var) MarshalJSON() ([]byte, error)    { type plain Var; return tagged(v.Op(), plain(v)) }
func (v Move) MarshalJSON() ([]byte, error)   { type plain Move; return tagged(v.Op(), plain(v)) }
func (v Borrow) MarshalJSON() ([]byte, error) { type plain Borrow; return tagged(v.Op(), plain(v)) }
func (v Binary) MarshalJSON() ([]byte, error) { type plain Binary; return tagged(v.Op(), plain(v)) }
func (v Unary) MarshalJSON() ([]byte, error)  { type plain Unary; return tagged(v.Op(), plain(v)) }
func (v Call) MarshalJSON() ([]byte, error)   { type plain Call; return tagged(v.Op(), plain(v)) }
func (v Alloc) MarshalJSON() ([]byte, error)  { type plain Alloc; return tagged(v.Op(), plain(v)) }
func (v Spawn) MarshalJSON() ([]byte, error)  { type plain Spawn; return tagged(v.Op(), plain(v)) }

func (s *Let) MarshalJSON() ([]byte, error)    { type plain Let; return tagged(s.Op(), (*plain)(s)) }
func (s *Set) MarshalJSON() ([]byte, error)    { type plain Set; return tagged(s.Op(), (*plain)(s)) }
func (s *Eval) MarshalJSON() ([]byte, error)   { type plain Eval; return tagged(s.Op(), (*plain)(s)) }
func (s *Guard) MarshalJSON() ([]byte, error)  { type plain Guard; return tagged(s.Op(), (*plain)(s)) }
func (s *Assert) MarshalJSON() ([]byte, error) { type plain Assert; return tagged(s.Op(), (*plain)(s)) }
func (s *Snapshot) MarshalJSON() ([]byte, error) {
	type plain Snapshot
	return tagged(s.Op(), (*plain)(s))
}
func (s *Release) MarshalJSON() ([]byte, error) {
	type plain Release
	return tagged(s.Op(), (*plain)(s))
}
func (s *Flag) MarshalJSON() ([]byte, error)     { type plain Flag; return tagged(s.Op(), (*plain)(s)) }
func (s *If) MarshalJSON() ([]byte, error)       { type plain If; return tagged(s.Op(), (*plain)(s)) }
func (s *Loop) MarshalJSON() ([]byte, error)     { type plain Loop; return tagged(s.Op(), (*plain)(s)) }
func (s *Break) MarshalJSON() ([]byte, error)    { return tagged(s.Op(), struct{}{}) }
func (s *Continue) MarshalJSON() ([]byte, error) { return tagged(s.Op(), struct{}{}) }
func (s *Return) MarshalJSON() ([]byte, error)   { type plain Return; return tagged(s.Op(), (*plain)(s)) }
func (s *Fail) MarshalJSON() ([]byte, error)     { type plain Fail; return tagged(s.Op(), (*plain)(s)) }
func (s *Propagate) MarshalJSON() ([]byte, error) {
	type plain Propagate
	return tagged(s.Op(), (*plain)(s))
}
func (s *ParLoop) MarshalJSON() ([]byte, error) {
	type plain ParLoop
	return tagged(s.Op(), (*plain)(s))
}
