package ast

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"reflect"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/asbel-lang/asbel/internal/errors"
)

// SchemaVersion is the version of the JSON node schema written by Encode.
const SchemaVersion = "1.2.0"

// SupportedSchema is the range of schema versions Decode accepts by default.
const SupportedSchema = ">= 1.0.0, < 2.0.0"

// nodeKinds maps the "kind" discriminator of the JSON schema to node types.
var nodeKinds = map[string]reflect.Type{
	"block":    reflect.TypeOf(Block{}),
	"let":      reflect.TypeOf(Let{}),
	"assign":   reflect.TypeOf(Assign{}),
	"expr":     reflect.TypeOf(ExprStmt{}),
	"return":   reflect.TypeOf(Return{}),
	"break":    reflect.TypeOf(Break{}),
	"continue": reflect.TypeOf(Continue{}),
	"if":       reflect.TypeOf(If{}),
	"while":    reflect.TypeOf(While{}),
	"guard":    reflect.TypeOf(Guard{}),
	"ident":    reflect.TypeOf(Ident{}),
	"int":      reflect.TypeOf(IntLit{}),
	"float":    reflect.TypeOf(FloatLit{}),
	"bool":     reflect.TypeOf(BoolLit{}),
	"string":   reflect.TypeOf(StringLit{}),
	"binary":   reflect.TypeOf(Binary{}),
	"unary":    reflect.TypeOf(Unary{}),
	"call":     reflect.TypeOf(Call{}),
	"selector": reflect.TypeOf(Selector{}),
	"struct":   reflect.TypeOf(StructLit{}),
	"spawn":    reflect.TypeOf(Spawn{}),
	"try":      reflect.TypeOf(Try{}),
	"old":      reflect.TypeOf(Old{}),
	"pipeline": reflect.TypeOf(Pipeline{}),
	"range":    reflect.TypeOf(RangeLit{}),
	"lambda":   reflect.TypeOf(Lambda{}),
}

var (
	kindOf   = make(map[reflect.Type]string, len(nodeKinds))
	exprType = reflect.TypeOf((*Expr)(nil)).Elem()
	stmtType = reflect.TypeOf((*Stmt)(nil)).Elem()
	pkgPath  = reflect.TypeOf(Program{}).PkgPath()
)

func init() {
	for k, t := range nodeKinds {
		kindOf[t] = k
	}
}

// CheckSchema verifies that version satisfies the semver constraint.
func CheckSchema(version, constraint string) error {
	if version == "" {
		return errors.NewStandardError(errors.CategorySchema, "MISSING_SCHEMA", "missing schema_version",
			map[string]interface{}{"constraint": constraint})
	}
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return fmt.Errorf("invalid schema constraint %q: %w", constraint, err)
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return fmt.Errorf("invalid schema_version %q: %w", version, err)
	}
	if !c.Check(v) {
		return errors.UnsupportedSchema(v.String(), constraint)
	}
	return nil
}

// Encode writes p using the JSON node schema.
func Encode(w io.Writer, p *Program) error {
	if p.SchemaVersion == "" {
		cp := *p
		cp.SchemaVersion = SchemaVersion
		p = &cp
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(encodeValue(reflect.ValueOf(p)))
}

// Decode reads a program, rejecting schema versions outside SupportedSchema.
func Decode(r io.Reader) (*Program, error) {
	return DecodeWithConstraint(r, SupportedSchema)
}

// DecodeWithConstraint reads a program whose schema_version satisfies constraint.
func DecodeWithConstraint(r io.Reader, constraint string) (*Program, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read typed AST: %w", err)
	}

	var head struct {
		SchemaVersion string `json:"schema_version"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, errors.InvalidInput("typed AST", err)
	}
	if err := CheckSchema(head.SchemaVersion, constraint); err != nil {
		return nil, err
	}

	v, err := decodeValue(data, reflect.TypeOf(&Program{}))
	if err != nil {
		return nil, errors.InvalidInput("typed AST", err)
	}
	return v.Interface().(*Program), nil
}

func isNodeStruct(t reflect.Type) bool {
	return t.Kind() == reflect.Struct && t.PkgPath() == pkgPath
}

func needsWalk(t reflect.Type) bool {
	if t == exprType || t == stmtType {
		return true
	}
	return t.Kind() == reflect.Ptr && isNodeStruct(t.Elem())
}

func jsonName(f reflect.StructField) (string, bool) {
	tag := f.Tag.Get("json")
	if tag == "" {
		return strings.ToLower(f.Name), false
	}
	name, opts, _ := strings.Cut(tag, ",")
	return name, strings.Contains(opts, "omitempty")
}

func encodeValue(v reflect.Value) any {
	switch v.Kind() {
	case reflect.Interface:
		if v.IsNil() {
			return nil
		}
		return encodeValue(v.Elem())
	case reflect.Ptr:
		if v.IsNil() {
			return nil
		}
		if isNodeStruct(v.Elem().Type()) {
			return encodeStruct(v.Elem())
		}
		return v.Interface()
	case reflect.Slice:
		if !needsWalk(v.Type().Elem()) {
			return v.Interface()
		}
		out := make([]any, v.Len())
		for i := range out {
			out[i] = encodeValue(v.Index(i))
		}
		return out
	}
	return v.Interface()
}

func encodeStruct(v reflect.Value) map[string]any {
	out := make(map[string]any, v.NumField()+1)
	if k, ok := kindOf[v.Type()]; ok {
		out["kind"] = k
	}
	for i := 0; i < v.NumField(); i++ {
		f := v.Type().Field(i)
		if !f.IsExported() {
			continue
		}
		name, omit := jsonName(f)
		if name == "-" {
			continue
		}
		fv := v.Field(i)
		if (omit || name == "span") && fv.IsZero() {
			continue
		}
		out[name] = encodeValue(fv)
	}
	return out
}

func decodeValue(raw json.RawMessage, t reflect.Type) (reflect.Value, error) {
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return reflect.Zero(t), nil
	}

	switch {
	case t == exprType || t == stmtType:
		var head struct {
			Kind string `json:"kind"`
		}
		if err := json.Unmarshal(raw, &head); err != nil {
			return reflect.Value{}, err
		}
		st, ok := nodeKinds[head.Kind]
		if !ok {
			return reflect.Value{}, fmt.Errorf("unknown node kind %q", head.Kind)
		}
		pv, err := decodeStruct(raw, st)
		if err != nil {
			return reflect.Value{}, err
		}
		if !pv.Type().Implements(t) {
			what := "expression"
			if t == stmtType {
				what = "statement"
			}
			return reflect.Value{}, fmt.Errorf("node kind %q is not a valid %s", head.Kind, what)
		}
		return pv, nil

	case t.Kind() == reflect.Ptr && isNodeStruct(t.Elem()):
		return decodeStruct(raw, t.Elem())

	case t.Kind() == reflect.Slice && needsWalk(t.Elem()):
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return reflect.Value{}, err
		}
		out := reflect.MakeSlice(t, len(items), len(items))
		for i, item := range items {
			ev, err := decodeValue(item, t.Elem())
			if err != nil {
				return reflect.Value{}, fmt.Errorf("[%d]: %w", i, err)
			}
			out.Index(i).Set(ev)
		}
		return out, nil
	}

	pv := reflect.New(t)
	if err := json.Unmarshal(raw, pv.Interface()); err != nil {
		return reflect.Value{}, err
	}
	return pv.Elem(), nil
}

func decodeStruct(raw json.RawMessage, st reflect.Type) (reflect.Value, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return reflect.Value{}, fmt.Errorf("%s: %w", st.Name(), err)
	}

	pv := reflect.New(st)
	for i := 0; i < st.NumField(); i++ {
		f := st.Field(i)
		if !f.IsExported() {
			continue
		}
		name, _ := jsonName(f)
		fr, ok := fields[name]
		if !ok || name == "-" {
			continue
		}
		fv, err := decodeValue(fr, f.Type)
		if err != nil {
			return reflect.Value{}, fmt.Errorf("%s.%s: %w", st.Name(), name, err)
		}
		pv.Elem().Field(i).Set(fv)
	}
	return pv, nil
}
