package stagegraph

import (
	"fmt"

	"github.com/google/cel-go/cel"
)

var celEnv = mustEnv()

func mustEnv() *cel.Env {
	env, err := cel.NewEnv(
		cel.Variable("payload", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("attributes", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		panic(fmt.Sprintf("stagegraph: create CEL env: %v", err))
	}
	return env
}

// Precondition is a boolean CEL expression a payload must satisfy before a
// rule may fire. Expressions see two variables: payload and attributes (the
// record's attributes before the transition).
type Precondition struct {
	Field   string
	Expr    string
	Message string

	program cel.Program
}

// Compile builds a precondition from expr.
func Compile(field, expr, message string) (*Precondition, error) {
	ast, issues := celEnv.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile %q: %w", expr, issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("compile %q: result type %s, want bool", expr, ast.OutputType())
	}
	prg, err := celEnv.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("program %q: %w", expr, err)
	}
	return &Precondition{Field: field, Expr: expr, Message: message, program: prg}, nil
}

// Require is Compile for graph declarations; it panics on an invalid
// expression.
func Require(field, expr, message string) *Precondition {
	p, err := Compile(field, expr, message)
	if err != nil {
		panic("stagegraph: " + err.Error())
	}
	return p
}

// Check evaluates the precondition. A runtime evaluation error, such as a
// type mismatch, is reported as an unsatisfied precondition with the error
// attached.
func (p *Precondition) Check(payload, attributes map[string]any) (bool, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	if attributes == nil {
		attributes = map[string]any{}
	}
	out, _, err := p.program.Eval(map[string]any{
		"payload":    payload,
		"attributes": attributes,
	})
	if err != nil {
		return false, fmt.Errorf("evaluate %q: %w", p.Expr, err)
	}
	ok, isBool := out.Value().(bool)
	if !isBool {
		return false, fmt.Errorf("evaluate %q: result not boolean", p.Expr)
	}
	return ok, nil
}

// NormalizePayload returns a copy of payload with every integer value
// converted to float64, so numbers compare the same way whether they came
// from JSON or from Go callers.
func NormalizePayload(payload map[string]any) map[string]any {
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case int:
		return float64(t)
	case int8:
		return float64(t)
	case int16:
		return float64(t)
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	case uint:
		return float64(t)
	case uint8:
		return float64(t)
	case uint16:
		return float64(t)
	case uint32:
		return float64(t)
	case uint64:
		return float64(t)
	case float32:
		return float64(t)
	case map[string]any:
		return NormalizePayload(t)
	case []any:
		s := make([]any, len(t))
		for i, e := range t {
			s[i] = normalizeValue(e)
		}
		return s
	default:
		return v
	}
}
