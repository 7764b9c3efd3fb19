package provider

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"chat2edit/internal/value"
)

// Impl is the body of a provider function. It reads its bound arguments,
// may signal feedback or a response through call, and returns the value
// the statement evaluates to (None for procedures).
type Impl func(ctx context.Context, call *Call, args Args) (value.Value, error)

// Param declares one function parameter. Type is the name shown to the
// model in the signature; the implementation checks actual values.
type Param struct {
	Name    string
	Type    string
	Default *value.Value // nil = required
}

// Required declares a parameter without a default.
func Required(name, typ string) Param { return Param{Name: name, Type: typ} }

// Optional declares a parameter with a default.
func Optional(name, typ string, def value.Value) Param {
	return Param{Name: name, Type: typ, Default: &def}
}

// IsRequired reports whether the parameter has no default.
func (p Param) IsRequired() bool { return p.Default == nil }

// Function is a named capability callable from commands.
type Function struct {
	Name    string
	Params  []Param
	Returns string // empty = None

	// Async functions do I/O (inference services); the evaluator runs them
	// under the statement timeout and waits for them before moving on.
	Async bool

	Doc  string
	Impl Impl
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Validate checks if the function definition is valid.
func (f *Function) Validate() error {
	if !identRe.MatchString(f.Name) {
		return fmt.Errorf("%w: %q", ErrFunctionNameInvalid, f.Name)
	}
	if f.Impl == nil {
		return ErrFunctionImplNil
	}
	seen := make(map[string]bool)
	sawOptional := false
	for _, p := range f.Params {
		if !identRe.MatchString(p.Name) {
			return fmt.Errorf("%w: parameter name %q", ErrInvalidParams, p.Name)
		}
		if seen[p.Name] {
			return fmt.Errorf("%w: duplicate parameter %q", ErrInvalidParams, p.Name)
		}
		seen[p.Name] = true
		if p.IsRequired() && sawOptional {
			return fmt.Errorf("%w: required parameter %q follows an optional one", ErrInvalidParams, p.Name)
		}
		sawOptional = sawOptional || !p.IsRequired()
	}
	return nil
}

// Signature renders `name(param: type, param: type = default) -> type`.
func (f *Function) Signature() string {
	parts := make([]string, len(f.Params))
	for i, p := range f.Params {
		s := p.Name
		if p.Type != "" {
			s += ": " + p.Type
		}
		if p.Default != nil {
			s += " = " + p.Default.String()
		}
		parts[i] = s
	}
	ret := f.Returns
	if ret == "" {
		ret = "None"
	}
	sig := fmt.Sprintf("%s(%s) -> %s", f.Name, strings.Join(parts, ", "), ret)
	if f.Async {
		sig = "async " + sig
	}
	return sig
}

// KeywordValue is an evaluated keyword argument.
type KeywordValue struct {
	Name  string
	Value value.Value
}

// Bind maps evaluated call arguments onto the declared parameters.
func (f *Function) Bind(positional []value.Value, keywords []KeywordValue) (Args, error) {
	args := Args{fn: f.Name, vals: make(map[string]value.Value, len(f.Params))}

	if len(positional) > len(f.Params) {
		return args, fmt.Errorf("%w: %s() takes %d positional argument(s) but %d were given",
			ErrInvalidArguments, f.Name, len(f.Params), len(positional))
	}
	for i, v := range positional {
		args.vals[f.Params[i].Name] = v
	}
	for _, kw := range keywords {
		if !f.hasParam(kw.Name) {
			return args, fmt.Errorf("%w: %s() got an unexpected keyword argument '%s'",
				ErrInvalidArguments, f.Name, kw.Name)
		}
		if _, dup := args.vals[kw.Name]; dup {
			return args, fmt.Errorf("%w: %s() got multiple values for argument '%s'",
				ErrInvalidArguments, f.Name, kw.Name)
		}
		args.vals[kw.Name] = kw.Value
	}
	for _, p := range f.Params {
		if _, ok := args.vals[p.Name]; ok {
			continue
		}
		if p.IsRequired() {
			return args, fmt.Errorf("%w: %s() missing required argument '%s'",
				ErrInvalidArguments, f.Name, p.Name)
		}
		args.vals[p.Name] = *p.Default
	}
	return args, nil
}

func (f *Function) hasParam(name string) bool {
	for _, p := range f.Params {
		if p.Name == name {
			return true
		}
	}
	return false
}
