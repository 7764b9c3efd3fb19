package provider

import (
	"fmt"

	"chat2edit/internal/value"
)

// Args holds the bound arguments of one call. Getters return an
// *ArgumentError when the value has the wrong shape.
type Args struct {
	fn   string
	vals map[string]value.Value
}

// NewArgs builds an Args directly, mostly for tests.
func NewArgs(fn string, vals map[string]value.Value) Args {
	if vals == nil {
		vals = make(map[string]value.Value)
	}
	return Args{fn: fn, vals: vals}
}

// Func returns the name of the function the arguments were bound for.
func (a Args) Func() string { return a.fn }

func (a Args) fail(param, reason string) error {
	return &ArgumentError{Func: a.fn, Param: param, Reason: reason}
}

// Get returns the raw value of a parameter (None when unbound).
func (a Args) Get(name string) value.Value { return a.vals[name] }

// IsSet reports whether a parameter holds something other than None.
func (a Args) IsSet(name string) bool {
	v, ok := a.vals[name]
	return ok && !v.IsNone()
}

// String returns a string argument.
func (a Args) String(name string) (string, error) {
	s, ok := a.vals[name].Str()
	if !ok {
		return "", a.fail(name, "must be a string")
	}
	return s, nil
}

// OptString returns a string argument or "" when it is None.
func (a Args) OptString(name string) (string, error) {
	if !a.IsSet(name) {
		return "", nil
	}
	return a.String(name)
}

// Int returns an integer argument.
func (a Args) Int(name string) (int64, error) {
	n, ok := a.vals[name].AsInt()
	if !ok {
		return 0, a.fail(name, "must be an integer")
	}
	return n, nil
}

// Float returns a numeric argument; integers are widened.
func (a Args) Float(name string) (float64, error) {
	f, ok := a.vals[name].AsFloat()
	if !ok {
		return 0, a.fail(name, "must be a number")
	}
	return f, nil
}

// Bool returns a boolean argument.
func (a Args) Bool(name string) (bool, error) {
	b, ok := a.vals[name].AsBool()
	if !ok {
		return false, a.fail(name, "must be a boolean")
	}
	return b, nil
}

// List returns the items of a list or tuple argument.
func (a Args) List(name string) ([]value.Value, error) {
	items, ok := a.vals[name].Items()
	if !ok {
		return nil, a.fail(name, "must be a list")
	}
	return items, nil
}

// Strings returns a list argument whose items are all strings.
func (a Args) Strings(name string) ([]string, error) {
	items, err := a.List(name)
	if err != nil {
		return nil, a.fail(name, "must be a list of strings")
	}
	out := make([]string, len(items))
	for i, it := range items {
		s, ok := it.Str()
		if !ok {
			return nil, a.fail(name, "must be a list of strings")
		}
		out[i] = s
	}
	return out, nil
}

// Object returns an object argument.
func (a Args) Object(name string) (value.Object, error) {
	o, ok := a.vals[name].Object()
	if !ok {
		return nil, a.fail(name, "must be an object")
	}
	return o, nil
}

// ObjectAs returns an object argument of a concrete type.
func ObjectAs[T value.Object](a Args, name, typeName string) (T, error) {
	var zero T
	o, ok := a.vals[name].Object()
	if !ok {
		return zero, a.fail(name, fmt.Sprintf("must be %s", article(typeName)))
	}
	t, ok := o.(T)
	if !ok {
		return zero, a.fail(name, fmt.Sprintf("must be %s", article(typeName)))
	}
	return t, nil
}

// ObjectsAs returns the objects of a list argument, all of one concrete
// type. A single object is accepted as a one-element list.
func ObjectsAs[T value.Object](a Args, name, typeName string) ([]T, error) {
	v := a.vals[name]
	if o, ok := v.Object(); ok {
		t, ok := o.(T)
		if !ok {
			return nil, a.fail(name, fmt.Sprintf("must be a list of %ss", typeName))
		}
		return []T{t}, nil
	}
	items, ok := v.Items()
	if !ok {
		return nil, a.fail(name, fmt.Sprintf("must be a list of %ss", typeName))
	}
	out := make([]T, 0, len(items))
	for _, it := range items {
		o, ok := it.Object()
		if !ok {
			return nil, a.fail(name, fmt.Sprintf("must be a list of %ss", typeName))
		}
		t, ok := o.(T)
		if !ok {
			return nil, a.fail(name, fmt.Sprintf("must be a list of %ss", typeName))
		}
		out = append(out, t)
	}
	return out, nil
}

func article(noun string) string {
	if noun == "" {
		return "a value"
	}
	switch noun[0] {
	case 'a', 'e', 'i', 'o', 'u':
		return "an " + noun
	}
	return "a " + noun
}
