// Package value defines the values that command statements produce and
// consume, and the per-conversation Context that names them.
//
// Value is a closed union: every value is one of the kinds below. Domain
// objects (images, boxes, text layers) are opaque Object handles owned by a
// provider; the core only moves them around and compares them by identity.
package value

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// Kind tags the variant held by a Value.
type Kind uint8

const (
	KindNone Kind = iota
	KindString
	KindInt
	KindFloat
	KindBool
	KindList
	KindTuple
	KindObject
)

var kindNames = [...]string{
	KindNone:   "none",
	KindString: "string",
	KindInt:    "int",
	KindFloat:  "float",
	KindBool:   "bool",
	KindList:   "list",
	KindTuple:  "tuple",
	KindObject: "object",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, bool) {
	for k, name := range kindNames {
		if name == s {
			return Kind(k), true
		}
	}
	return KindNone, false
}

// Object is an opaque domain handle. Implementations should be pointer
// types: identity is what NameOf and Equal compare.
type Object interface {
	ObjectType() string
}

// Value is an immutable command-language value. The zero Value is None.
type Value struct {
	kind  Kind
	str   string
	num   int64
	flt   float64
	flag  bool
	items []Value
	obj   Object
}

// None returns the None value.
func None() Value { return Value{} }

// String wraps a string.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Int wraps an integer.
func Int(i int64) Value { return Value{kind: KindInt, num: i} }

// Float wraps a float.
func Float(f float64) Value { return Value{kind: KindFloat, flt: f} }

// Bool wraps a boolean.
func Bool(b bool) Value { return Value{kind: KindBool, flag: b} }

// List builds a list from items (copied).
func List(items ...Value) Value {
	return Value{kind: KindList, items: append([]Value(nil), items...)}
}

// Tuple builds a tuple from items (copied).
func Tuple(items ...Value) Value {
	return Value{kind: KindTuple, items: append([]Value(nil), items...)}
}

// Obj wraps a domain object. A nil object yields None.
func Obj(o Object) Value {
	if o == nil || isNilPointer(o) {
		return None()
	}
	return Value{kind: KindObject, obj: o}
}

func isNilPointer(o Object) bool {
	rv := reflect.ValueOf(o)
	return rv.Kind() == reflect.Ptr && rv.IsNil()
}

// Objects wraps each object in a list value.
func Objects[T Object](objs []T) Value {
	items := make([]Value, 0, len(objs))
	for _, o := range objs {
		items = append(items, Obj(o))
	}
	return Value{kind: KindList, items: items}
}

func (v Value) Kind() Kind   { return v.kind }
func (v Value) IsNone() bool { return v.kind == KindNone }

// Str returns the string held by v.
func (v Value) Str() (string, bool) { return v.str, v.kind == KindString }

// AsInt returns the integer held by v.
func (v Value) AsInt() (int64, bool) { return v.num, v.kind == KindInt }

// AsFloat returns v as a float; integers are widened.
func (v Value) AsFloat() (float64, bool) {
	switch v.kind {
	case KindFloat:
		return v.flt, true
	case KindInt:
		return float64(v.num), true
	}
	return 0, false
}

// AsBool returns the boolean held by v.
func (v Value) AsBool() (bool, bool) { return v.flag, v.kind == KindBool }

// Items returns a copy of the elements of a list or tuple.
func (v Value) Items() ([]Value, bool) {
	if v.kind != KindList && v.kind != KindTuple {
		return nil, false
	}
	return append([]Value(nil), v.items...), true
}

// Len returns the number of elements of a list or tuple, 0 otherwise.
func (v Value) Len() int { return len(v.items) }

// Index returns element i of a list or tuple.
func (v Value) Index(i int) Value {
	if i < 0 || i >= len(v.items) {
		return None()
	}
	return v.items[i]
}

// Object returns the domain object held by v.
func (v Value) Object() (Object, bool) { return v.obj, v.kind == KindObject }

// TypeName is the command-language name of v's type. Objects report their
// ObjectType.
func (v Value) TypeName() string {
	if v.kind == KindObject {
		return v.obj.ObjectType()
	}
	return v.kind.String()
}

// Walk visits v and, depth first, every element nested in it. Returning
// false from fn stops the walk.
func (v Value) Walk(fn func(Value) bool) bool {
	if !fn(v) {
		return false
	}
	for _, item := range v.items {
		if !item.Walk(fn) {
			return false
		}
	}
	return true
}

// ContainedObjects returns every Object nested in v, in walk order.
func (v Value) ContainedObjects() []Object {
	var out []Object
	v.Walk(func(x Value) bool {
		if x.kind == KindObject {
			out = append(out, x.obj)
		}
		return true
	})
	return out
}

// Equal reports structural equality; objects compare by identity.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNone:
		return true
	case KindString:
		return v.str == o.str
	case KindInt:
		return v.num == o.num
	case KindFloat:
		return v.flt == o.flt
	case KindBool:
		return v.flag == o.flag
	case KindList, KindTuple:
		if len(v.items) != len(o.items) {
			return false
		}
		for i := range v.items {
			if !v.items[i].Equal(o.items[i]) {
				return false
			}
		}
		return true
	case KindObject:
		return SameObject(v.obj, o.obj)
	}
	return false
}

// SameObject reports whether a and b are the same handle.
func SameObject(a, b Object) bool {
	if a == nil || b == nil {
		return a == b
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb || !ta.Comparable() {
		return false
	}
	return a == b
}

// String renders v as a command-language literal. Objects render as
// <type>, since they have no literal form.
func (v Value) String() string {
	var b strings.Builder
	v.write(&b)
	return b.String()
}

func (v Value) write(b *strings.Builder) {
	switch v.kind {
	case KindNone:
		b.WriteString("None")
	case KindString:
		b.WriteString(Quote(v.str))
	case KindInt:
		b.WriteString(strconv.FormatInt(v.num, 10))
	case KindFloat:
		s := strconv.FormatFloat(v.flt, 'g', -1, 64)
		if !strings.ContainsAny(s, ".eEnN") {
			s += ".0"
		}
		b.WriteString(s)
	case KindBool:
		if v.flag {
			b.WriteString("True")
		} else {
			b.WriteString("False")
		}
	case KindList, KindTuple:
		open, close := "[", "]"
		if v.kind == KindTuple {
			open, close = "(", ")"
		}
		b.WriteString(open)
		for i, item := range v.items {
			if i > 0 {
				b.WriteString(", ")
			}
			item.write(b)
		}
		if v.kind == KindTuple && len(v.items) == 1 {
			b.WriteString(",")
		}
		b.WriteString(close)
	case KindObject:
		fmt.Fprintf(b, "<%s>", v.obj.ObjectType())
	}
}

// Quote renders s as a single-quoted string literal.
func Quote(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('\'')
	for _, r := range s {
		switch r {
		case '\'':
			b.WriteString(`\'`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('\'')
	return b.String()
}
