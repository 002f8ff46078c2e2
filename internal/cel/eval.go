// Package cel provides CEL expression evaluation for inbound envelope filtering.
package cel

import (
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
)

// EnvelopeVars are the variables available to envelope filter expressions.
var EnvelopeVars = []string{"kind", "key", "origin", "source"}

// Filter is a compiled CEL expression that matches against attribute maps.
type Filter struct {
	expr    string
	program cel.Program
}

// Compile parses and compiles a CEL expression over the given variable
// names, all declared dynamic. The expression must produce a bool.
func Compile(expr string, vars ...string) (*Filter, error) {
	opts := make([]cel.EnvOption, 0, len(vars))
	for _, v := range vars {
		opts = append(opts, cel.Variable(v, cel.DynType))
	}

	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("cel env: %w", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("cel compile: %w", issues.Err())
	}
	switch t := ast.OutputType().String(); t {
	case "bool", "dyn":
	default:
		return nil, fmt.Errorf("cel compile: expression yields %s, want bool", t)
	}

	prog, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("cel program: %w", err)
	}

	return &Filter{expr: expr, program: prog}, nil
}

// CompileEnvelope compiles expr over EnvelopeVars.
func CompileEnvelope(expr string) (*Filter, error) {
	return Compile(expr, EnvelopeVars...)
}

// String returns the source expression.
func (f *Filter) String() string { return f.expr }

// Match evaluates the filter against attrs.
// Returns false (not error) on missing keys, type mismatches, or evaluation errors.
func (f *Filter) Match(attrs map[string]any) bool {
	out, _, err := f.program.Eval(attrs)
	if err != nil {
		return false
	}
	if out.Type() != types.BoolType {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}
