package canvas

import (
	"bytes"
	"context"
	"embed"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"path"
	"strings"

	"github.com/google/uuid"

	"chat2edit/internal/logging"
	"chat2edit/internal/provider"
	"chat2edit/internal/value"
)

// Name is the variant name this provider registers under.
const Name = "canvas"

// FileExtension marks saved canvas documents.
const FileExtension = ".fcanvas"

//go:embed exemplars/*.yaml
var exemplarFS embed.FS

func init() {
	provider.RegisterFactory(Name, func(opts provider.Options) (provider.Provider, error) {
		var inf Inference
		if opts.InferenceURL != "" {
			inf = NewHTTPInference(opts.InferenceURL, opts.InferenceTimeout, opts.HTTPClient)
		}
		return New(opts, inf)
	})
}

// Provider edits fabric canvases.
type Provider struct {
	provider.Base
	inference Inference
}

var _ provider.Provider = (*Provider)(nil)

// New builds the provider. inf may be nil, in which case the functions
// that need a model fail when called.
func New(opts provider.Options, inf Inference) (*Provider, error) {
	p := &Provider{inference: inf}

	all := provider.NewRegistry()
	for _, fn := range p.functions() {
		all.MustRegister(fn)
	}
	selected, err := all.Select(opts.Functions)
	if err != nil {
		return nil, err
	}

	exemplars := provider.NewExemplarSet()
	if err := exemplars.LoadFS(exemplarFS, "exemplars"); err != nil {
		return nil, fmt.Errorf("load builtin exemplars: %w", err)
	}
	if opts.ExemplarsDir != "" {
		if err := exemplars.LoadDir(opts.ExemplarsDir); err != nil {
			return nil, err
		}
	}

	p.Base = provider.NewBase(Name, selected, exemplars, TypeCanvas, TypeImage, TypeTextbox, TypeRect, TypeGroup)
	return p, nil
}

// Alias names canvases "image", boxes "box", cut-out objects "object" and
// text "text".
func (p *Provider) Alias(v value.Value) (string, bool) {
	if o, ok := v.Object(); ok {
		switch o.(type) {
		case *Canvas:
			return "image", true
		case *Image, *Group:
			return "object", true
		case *Textbox:
			return "text", true
		case *Rect:
			return "box", true
		}
		return "", false
	}
	if isBox(v) {
		return "box", true
	}
	return "", false
}

func isBox(v value.Value) bool {
	if v.Kind() != value.KindTuple || v.Len() != 4 {
		return false
	}
	items, _ := v.Items()
	for _, it := range items {
		if _, ok := it.AsInt(); !ok {
			return false
		}
	}
	return true
}

// ConvertFileToObjects turns an uploaded picture into a canvas, and a
// saved canvas document into the canvas plus one box per prompt rectangle.
func (p *Provider) ConvertFileToObjects(_ context.Context, f provider.File) ([]value.Value, error) {
	switch {
	case strings.HasPrefix(f.ContentType, "image/"):
		cfg, _, err := image.DecodeConfig(bytes.NewReader(f.Data))
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", provider.ErrUnsupportedFile, f.Name, err)
		}
		src := "data:" + f.ContentType + ";base64," + base64.StdEncoding.EncodeToString(f.Data)
		bg := NewImage(src, float64(cfg.Width), float64(cfg.Height))
		bg.Filename = f.Name
		return []value.Value{value.Obj(NewCanvas(bg))}, nil

	case strings.HasSuffix(f.Name, FileExtension):
		var c Canvas
		if err := json.Unmarshal(f.Data, &c); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", provider.ErrUnsupportedFile, f.Name, err)
		}
		if c.BackgroundImage == nil {
			return nil, fmt.Errorf("%w: %s: canvas has no background image", provider.ErrUnsupportedFile, f.Name)
		}
		out := []value.Value{value.Obj(&c)}
		kept := c.Objects[:0:0]
		for _, e := range c.Objects {
			if r, ok := e.(*Rect); ok && r.IsPrompt {
				out = append(out, boxValue(r.Box()))
				continue
			}
			kept = append(kept, e)
		}
		c.Objects = kept
		logging.ProviderDebug("canvas %s: %d objects, %d prompt boxes", f.Name, len(kept), len(out)-1)
		return out, nil
	}
	return nil, fmt.Errorf("%w: %s (%s)", provider.ErrUnsupportedFile, f.Name, f.ContentType)
}

func boxValue(b [4]int64) value.Value {
	return value.Tuple(value.Int(b[0]), value.Int(b[1]), value.Int(b[2]), value.Int(b[3]))
}

// ConvertObjectToFile saves a canvas, or an object on a blank canvas, as a
// canvas document.
func (p *Provider) ConvertObjectToFile(_ context.Context, v value.Value) (provider.File, error) {
	o, ok := v.Object()
	if !ok {
		return provider.File{}, fmt.Errorf("%w: %s", provider.ErrNotConvertible, v.TypeName())
	}
	var c *Canvas
	base := ""
	switch t := o.(type) {
	case *Canvas:
		c = t
		if t.BackgroundImage != nil {
			base = t.BackgroundImage.Filename
		}
	case *Image:
		c = NewCanvas(t)
		base = t.Filename
	default:
		return provider.File{}, fmt.Errorf("%w: %s", provider.ErrNotConvertible, o.ObjectType())
	}
	if base == "" {
		base = uuid.NewString() + ".png"
	}
	data, err := json.Marshal(c)
	if err != nil {
		return provider.File{}, fmt.Errorf("encode canvas: %w", err)
	}
	name := strings.TrimSuffix(path.Base(base), FileExtension) + FileExtension
	return provider.File{Name: name, ContentType: "application/json", Data: data}, nil
}

// Codec returns the persistence codec for canvas objects.
func (p *Provider) Codec() value.ObjectCodec { return codec{} }

type codec struct{}

func (codec) EncodeObject(o value.Object) (json.RawMessage, error) {
	switch o.(type) {
	case *Canvas, *Image, *Textbox, *Rect, *Group:
		return json.Marshal(o)
	}
	return nil, fmt.Errorf("%w: %s", value.ErrUnknownObjectType, o.ObjectType())
}

func (codec) DecodeObject(typ string, data json.RawMessage) (value.Object, error) {
	var o value.Object
	switch typ {
	case TypeCanvas:
		o = &Canvas{}
	case TypeImage:
		o = &Image{}
	case TypeTextbox:
		o = &Textbox{}
	case TypeRect:
		o = &Rect{}
	case TypeGroup:
		o = &Group{}
	default:
		return nil, fmt.Errorf("%w: %s", value.ErrUnknownObjectType, typ)
	}
	if err := json.Unmarshal(data, o); err != nil {
		return nil, err
	}
	return o, nil
}
