package value

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type blob struct {
	Label string `json:"label"`
}

func (*blob) ObjectType() string { return "blob" }

type ghost struct{}

func (*ghost) ObjectType() string { return "ghost" }

type blobCodec struct{}

func (blobCodec) EncodeObject(o Object) (json.RawMessage, error) {
	b, ok := o.(*blob)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownObjectType, o.ObjectType())
	}
	return json.Marshal(b)
}

func (blobCodec) DecodeObject(typ string, data json.RawMessage) (Object, error) {
	if typ != "blob" {
		return nil, fmt.Errorf("%w: %s", ErrUnknownObjectType, typ)
	}
	var b blob
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

func TestZeroValueIsNone(t *testing.T) {
	var v Value
	assert.True(t, v.IsNone())
	assert.Equal(t, KindNone, v.Kind())
	assert.Equal(t, "None", v.String())
	assert.True(t, Obj(nil).IsNone())
	var nilBlob *blob
	assert.True(t, Obj(nilBlob).IsNone())
}

func TestLiteralRendering(t *testing.T) {
	tests := []struct {
		v    Value
		want string
	}{
		{String("it's"), `'it\'s'`},
		{Int(-3), "-3"},
		{Float(2), "2.0"},
		{Float(0.5), "0.5"},
		{Bool(true), "True"},
		{List(Int(1), String("a")), "[1, 'a']"},
		{Tuple(Int(1)), "(1,)"},
		{Tuple(Int(1), Int(2)), "(1, 2)"},
		{Obj(&blob{}), "<blob>"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.v.String())
	}
}

func TestEqualUsesObjectIdentity(t *testing.T) {
	a, b := &blob{Label: "x"}, &blob{Label: "x"}
	assert.True(t, Obj(a).Equal(Obj(a)))
	assert.False(t, Obj(a).Equal(Obj(b)))
	assert.True(t, List(Obj(a), Int(1)).Equal(List(Obj(a), Int(1))))
	assert.False(t, List(Int(1)).Equal(Tuple(Int(1))))
	assert.False(t, Int(1).Equal(Float(1)))
}

func TestAccessors(t *testing.T) {
	f, ok := Int(3).AsFloat()
	assert.True(t, ok)
	assert.Equal(t, 3.0, f)

	_, ok = String("x").AsInt()
	assert.False(t, ok)

	items, ok := List(Int(1), Int(2)).Items()
	require.True(t, ok)
	items[0] = Int(99)
	l := List(Int(1), Int(2))
	assert.Equal(t, "[1, 2]", l.String(), "Items must return a copy")
	assert.Equal(t, Int(2), l.Index(1))
	assert.True(t, l.Index(7).IsNone())
}

func TestContainedObjects(t *testing.T) {
	a, b := &blob{}, &blob{}
	v := List(Obj(a), Tuple(Int(1), Obj(b)))
	objs := v.ContainedObjects()
	require.Len(t, objs, 2)
	assert.Same(t, a, objs[0])
	assert.Same(t, b, objs[1])
}

func TestContextOrderAndRebind(t *testing.T) {
	ctx := NewContext()
	ctx.Set("b", Int(1))
	ctx.Set("a", Int(2))
	ctx.Set("b", Int(3))
	assert.Equal(t, []string{"b", "a"}, ctx.Names())

	v, ok := ctx.Get("b")
	require.True(t, ok)
	assert.Equal(t, Int(3), v)

	ctx.Delete("b")
	assert.Equal(t, []string{"a"}, ctx.Names())
	assert.Equal(t, 1, ctx.Len())
}

func TestMintNameSkipsTakenNames(t *testing.T) {
	ctx := NewContext()
	assert.Equal(t, "image0", ctx.MintName("image"))
	ctx.Set("image0", None())
	ctx.Set("image1", None())
	assert.Equal(t, "image2", ctx.MintName("image"))
	assert.Equal(t, "box0", ctx.MintName("box"))
	assert.Equal(t, 3, ctx.Counter("image"))
}

func TestNameOf(t *testing.T) {
	ctx := NewContext()
	a := &blob{}
	ctx.Set("x", Obj(a))
	ctx.Set("y", Obj(a))
	name, ok := ctx.NameOf(Obj(a))
	require.True(t, ok)
	assert.Equal(t, "x", name)

	_, ok = ctx.NameOf(Obj(&blob{}))
	assert.False(t, ok)
}

func TestFilterKeepsCountersAndLiveMemos(t *testing.T) {
	ctx := NewContext()
	ctx.Set(ctx.MintName("image"), Obj(&blob{}))
	ctx.Set("note", String("x"))
	ctx.RememberAttachment("f1", []string{"image0"})
	ctx.RememberAttachment("f2", []string{"note"})

	out := ctx.Filter(func(_ string, v Value) bool { return v.Kind() == KindObject })
	assert.Equal(t, []string{"image0"}, out.Names())
	assert.Equal(t, 1, out.Counter("image"))

	names, ok := out.AttachmentNames("f1")
	assert.True(t, ok)
	assert.Equal(t, []string{"image0"}, names)
	_, ok = out.AttachmentNames("f2")
	assert.False(t, ok)
}

func TestCloneIsIndependent(t *testing.T) {
	ctx := NewContext()
	ctx.Set("a", Int(1))
	clone := ctx.Clone()
	clone.Set("b", Int(2))
	clone.MintName("image")
	assert.Equal(t, []string{"a"}, ctx.Names())
	assert.Equal(t, 0, ctx.Counter("image"))
}

func TestCodecRoundTripPreservesSharing(t *testing.T) {
	a := &blob{Label: "cat"}
	ctx := NewContext()
	ctx.Set(ctx.MintName("image"), Obj(a))
	ctx.Set("alias", Obj(a))
	ctx.Set("boxes", List(Tuple(Int(1), Float(2.5)), String("s"), Bool(true), None()))
	ctx.RememberAttachment("file-1", []string{"image0"})

	data, err := Encode(ctx, blobCodec{})
	require.NoError(t, err)

	got, err := Decode(data, blobCodec{})
	require.NoError(t, err)
	assert.Equal(t, ctx.Names(), got.Names())

	v0, _ := got.Get("image0")
	v1, _ := got.Get("alias")
	o0, _ := v0.Object()
	o1, _ := v1.Object()
	assert.Same(t, o0, o1)
	assert.Equal(t, "cat", o0.(*blob).Label)

	boxes, _ := got.Get("boxes")
	orig, _ := ctx.Get("boxes")
	assert.True(t, orig.Equal(boxes))
	assert.Equal(t, 1, got.Counter("image"))
	names, ok := got.AttachmentNames("file-1")
	assert.True(t, ok)
	if diff := cmp.Diff([]string{"image0"}, names); diff != "" {
		t.Errorf("attachment memo mismatch (-want +got):\n%s", diff)
	}
}

func TestEncodeRejectsForeignObjects(t *testing.T) {
	ctx := NewContext()
	ctx.Set("g", Obj(&ghost{}))
	_, err := Encode(ctx, blobCodec{})
	assert.ErrorIs(t, err, ErrUnknownObjectType)
}

func TestDecodeDropsUnknownEntries(t *testing.T) {
	data := []byte(`{
		"version": 1,
		"objects": [{"type": "hologram", "data": {}}, {"type": "blob", "data": {"label": "ok"}}],
		"vars": [
			{"name": "h", "value": {"kind": "object", "ref": 1}},
			{"name": "nested", "value": {"kind": "list", "items": [{"kind": "object", "ref": 1}]}},
			{"name": "future", "value": {"kind": "bytes"}},
			{"name": "b", "value": {"kind": "object", "ref": 2}},
			{"name": "n", "value": {"kind": "int", "i": 4}}
		],
		"attachments": {"f": ["h"], "g": ["b"]}
	}`)
	ctx, err := Decode(data, blobCodec{})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "n"}, ctx.Names())
	_, ok := ctx.AttachmentNames("f")
	assert.False(t, ok)
	_, ok = ctx.AttachmentNames("g")
	assert.True(t, ok)
}

func TestDecodeDropsUndecodableObjects(t *testing.T) {
	data := []byte(`{
		"version": 1,
		"objects": [{"type": "blob", "data": {"label": 7}}, {"type": "blob", "data": {"label": "ok"}}],
		"vars": [
			{"name": "old", "value": {"kind": "object", "ref": 1}},
			{"name": "cur", "value": {"kind": "object", "ref": 2}}
		]
	}`)
	ctx, err := Decode(data, blobCodec{})
	require.NoError(t, err)
	assert.Equal(t, []string{"cur"}, ctx.Names())
}

func TestDecodeCorruptJSON(t *testing.T) {
	_, err := Decode([]byte("{not json"), blobCodec{})
	assert.Error(t, err)
}
