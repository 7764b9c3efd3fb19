package value

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"chat2edit/internal/logging"
)

// ErrUnknownObjectType is returned by an ObjectCodec for object types it
// does not own. Decode drops entries that reference such objects.
var ErrUnknownObjectType = errors.New("unknown object type")

// ObjectCodec converts provider objects to and from JSON.
type ObjectCodec interface {
	EncodeObject(o Object) (json.RawMessage, error)
	DecodeObject(objectType string, data json.RawMessage) (Object, error)
}

type contextDoc struct {
	Version     int                 `json:"version"`
	Objects     []objectDoc         `json:"objects,omitempty"`
	Vars        []varDoc            `json:"vars"`
	Counters    map[string]int      `json:"counters,omitempty"`
	Attachments map[string][]string `json:"attachments,omitempty"`
}

type objectDoc struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type varDoc struct {
	Name  string   `json:"name"`
	Value valueDoc `json:"value"`
}

// valueDoc is the wire form of a Value. Objects are stored once in the
// document's object table and referenced by index, so two names bound to
// the same object still share it after decoding.
type valueDoc struct {
	Kind  string     `json:"kind"`
	Str   string     `json:"s,omitempty"`
	Int   int64      `json:"i,omitempty"`
	Float float64    `json:"f,omitempty"`
	Bool  bool       `json:"b,omitempty"`
	Items []valueDoc `json:"items,omitempty"`
	Ref   int        `json:"ref,omitempty"`
}

const codecVersion = 1

// Encode serializes ctx. Every object must be accepted by codec.
func Encode(ctx *Context, codec ObjectCodec) ([]byte, error) {
	enc := &encoder{codec: codec, index: make(map[Object]int)}
	doc := contextDoc{
		Version:     codecVersion,
		Counters:    ctx.counters,
		Attachments: ctx.attachments,
	}
	for _, name := range ctx.names {
		vd, err := enc.value(ctx.vars[name])
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", name, err)
		}
		doc.Vars = append(doc.Vars, varDoc{Name: name, Value: vd})
	}
	doc.Objects = enc.objects
	return json.Marshal(doc)
}

type encoder struct {
	codec   ObjectCodec
	index   map[Object]int
	objects []objectDoc
}

func (e *encoder) value(v Value) (valueDoc, error) {
	vd := valueDoc{Kind: v.kind.String()}
	switch v.kind {
	case KindString:
		vd.Str = v.str
	case KindInt:
		vd.Int = v.num
	case KindFloat:
		vd.Float = v.flt
	case KindBool:
		vd.Bool = v.flag
	case KindList, KindTuple:
		for _, item := range v.items {
			id, err := e.value(item)
			if err != nil {
				return vd, err
			}
			vd.Items = append(vd.Items, id)
		}
	case KindObject:
		ref, err := e.object(v.obj)
		if err != nil {
			return vd, err
		}
		vd.Ref = ref
	}
	return vd, nil
}

func (e *encoder) object(o Object) (int, error) {
	comparable := reflect.TypeOf(o).Comparable()
	if comparable {
		if ref, ok := e.index[o]; ok {
			return ref, nil
		}
	}
	data, err := e.codec.EncodeObject(o)
	if err != nil {
		return 0, err
	}
	e.objects = append(e.objects, objectDoc{Type: o.ObjectType(), Data: data})
	ref := len(e.objects)
	if comparable {
		e.index[o] = ref
	}
	return ref, nil
}

// Decode rebuilds a Context. Entries whose kind or object type is unknown,
// or whose object no longer decodes, are dropped (and logged) so that older
// stores keep loading. Malformed JSON is an error.
func Decode(data []byte, codec ObjectCodec) (*Context, error) {
	var doc contextDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("corrupt context: %w", err)
	}

	objects := make([]Object, len(doc.Objects))
	usable := make([]bool, len(doc.Objects))
	for i, od := range doc.Objects {
		o, err := codec.DecodeObject(od.Type, od.Data)
		if err != nil {
			if errors.Is(err, ErrUnknownObjectType) {
				logging.ProviderWarn("dropping object of unknown type %q", od.Type)
			} else {
				logging.ProviderWarn("dropping %s object: %v", od.Type, err)
			}
			continue
		}
		objects[i], usable[i] = o, true
	}

	ctx := NewContext()
	for _, vd := range doc.Vars {
		v, ok := decodeValue(vd.Value, objects, usable)
		if !ok {
			logging.ProviderWarn("dropping variable %q: unsupported value", vd.Name)
			continue
		}
		ctx.Set(vd.Name, v)
	}
	for alias, idx := range doc.Counters {
		ctx.counters[alias] = idx
	}
	for id, names := range doc.Attachments {
		alive := true
		for _, n := range names {
			alive = alive && ctx.Has(n)
		}
		if alive {
			ctx.attachments[id] = names
		}
	}
	return ctx, nil
}

func decodeValue(vd valueDoc, objects []Object, usable []bool) (Value, bool) {
	kind, ok := ParseKind(vd.Kind)
	if !ok {
		return None(), false
	}
	switch kind {
	case KindNone:
		return None(), true
	case KindString:
		return String(vd.Str), true
	case KindInt:
		return Int(vd.Int), true
	case KindFloat:
		return Float(vd.Float), true
	case KindBool:
		return Bool(vd.Bool), true
	case KindList, KindTuple:
		items := make([]Value, 0, len(vd.Items))
		for _, id := range vd.Items {
			item, ok := decodeValue(id, objects, usable)
			if !ok {
				return None(), false
			}
			items = append(items, item)
		}
		return Value{kind: kind, items: items}, true
	case KindObject:
		i := vd.Ref - 1
		if i < 0 || i >= len(objects) || !usable[i] {
			return None(), false
		}
		return Obj(objects[i]), true
	}
	return None(), false
}
