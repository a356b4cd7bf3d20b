package ast

import "fmt"

// BinaryOp enumerates infix operators.
type BinaryOp int

const (
	Add BinaryOp = iota
	Sub
	Mul
	Div
	Rem
	Eq
	Ne
	Lt
	Le
	Gt
	Ge
	And
	Or
)

var binaryOpNames = [...]string{
	Add: "+", Sub: "-", Mul: "*", Div: "/", Rem: "%",
	Eq: "==", Ne: "!=", Lt: "<", Le: "<=", Gt: ">", Ge: ">=",
	And: "and", Or: "or",
}

func (op BinaryOp) String() string {
	if int(op) < len(binaryOpNames) {
		return binaryOpNames[op]
	}
	return "?"
}

// IsArithmetic reports whether op produces a number.
func (op BinaryOp) IsArithmetic() bool { return op <= Rem }

// IsComparison reports whether op compares two numbers.
func (op BinaryOp) IsComparison() bool { return op >= Eq && op <= Ge }

// IsLogical reports whether op combines booleans.
func (op BinaryOp) IsLogical() bool { return op == And || op == Or }

// Negate returns the comparison that holds exactly when op does not.
func (op BinaryOp) Negate() BinaryOp {
	switch op {
	case Eq:
		return Ne
	case Ne:
		return Eq
	case Lt:
		return Ge
	case Le:
		return Gt
	case Gt:
		return Le
	case Ge:
		return Lt
	}
	return op
}

// Flip returns the comparison with its operands swapped (a < b  <=>  b > a).
func (op BinaryOp) Flip() BinaryOp {
	switch op {
	case Lt:
		return Gt
	case Le:
		return Ge
	case Gt:
		return Lt
	case Ge:
		return Le
	}
	return op
}

func (op BinaryOp) MarshalText() ([]byte, error) { return []byte(op.String()), nil }

func (op *BinaryOp) UnmarshalText(b []byte) error {
	for i, n := range binaryOpNames {
		if n == string(b) {
			*op = BinaryOp(i)
			return nil
		}
	}
	switch string(b) {
	case "&&":
		*op = And
		return nil
	case "||":
		*op = Or
		return nil
	}
	return fmt.Errorf("unknown binary operator %q", b)
}

// UnaryOp enumerates prefix operators.
type UnaryOp int

const (
	Neg UnaryOp = iota
	Not
)

func (op UnaryOp) String() string {
	if op == Not {
		return "not"
	}
	return "-"
}

func (op UnaryOp) MarshalText() ([]byte, error) { return []byte(op.String()), nil }

func (op *UnaryOp) UnmarshalText(b []byte) error {
	switch string(b) {
	case "-":
		*op = Neg
	case "not", "!":
		*op = Not
	default:
		return fmt.Errorf("unknown unary operator %q", b)
	}
	return nil
}

// StageOp is the operation applied by a pipeline stage.
type StageOp int

const (
	MapStage StageOp = iota
	FilterStage
	EachStage
)

var stageOpNames = [...]string{MapStage: "map", FilterStage: "filter", EachStage: "each"}

func (op StageOp) String() string { return stageOpNames[op] }

func (op StageOp) MarshalText() ([]byte, error) { return []byte(op.String()), nil }

func (op *StageOp) UnmarshalText(b []byte) error {
	for i, n := range stageOpNames {
		if n == string(b) {
			*op = StageOp(i)
			return nil
		}
	}
	return fmt.Errorf("unknown stage %q", b)
}

// Hint is the advisory @parallel / @sequential annotation on a stage.
type Hint int

const (
	NoHint Hint = iota
	Parallel
	Sequential
)

var hintNames = [...]string{NoHint: "", Parallel: "parallel", Sequential: "sequential"}

func (h Hint) String() string { return hintNames[h] }

func (h Hint) MarshalText() ([]byte, error) { return []byte(h.String()), nil }

func (h *Hint) UnmarshalText(b []byte) error {
	for i, n := range hintNames {
		if n == string(b) {
			*h = Hint(i)
			return nil
		}
	}
	return fmt.Errorf("unknown stage hint %q", b)
}

// SinkOp terminates a pipeline.
type SinkOp int

const (
	SumSink SinkOp = iota
	CountSink
	DrainSink
)

var sinkOpNames = [...]string{SumSink: "sum", CountSink: "count", DrainSink: "drain"}

func (op SinkOp) String() string { return sinkOpNames[op] }

func (op SinkOp) MarshalText() ([]byte, error) { return []byte(op.String()), nil }

func (op *SinkOp) UnmarshalText(b []byte) error {
	for i, n := range sinkOpNames {
		if n == string(b) {
			*op = SinkOp(i)
			return nil
		}
	}
	return fmt.Errorf("unknown pipeline sink %q", b)
}
