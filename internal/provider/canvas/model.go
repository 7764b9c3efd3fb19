// Package canvas is the image-editing provider. Its objects mirror the
// fabric.js JSON model so a front end can render saved canvases directly.
package canvas

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/google/uuid"
)

// Object type names used by the codec and by Allowed.
const (
	TypeCanvas  = "canvas"
	TypeImage   = "image"
	TypeTextbox = "textbox"
	TypeRect    = "rect"
	TypeGroup   = "group"
)

const fabricVersion = "6.0.1"

// Object holds the fabric properties shared by every element.
type Object struct {
	ID          string  `json:"id"`
	Type        string  `json:"type"`
	OriginX     string  `json:"originX"`
	OriginY     string  `json:"originY"`
	Left        float64 `json:"left"`
	Top         float64 `json:"top"`
	Width       float64 `json:"width"`
	Height      float64 `json:"height"`
	Fill        string  `json:"fill"`
	Stroke      string  `json:"stroke,omitempty"`
	StrokeWidth int     `json:"strokeWidth"`
	Selectable  bool    `json:"selectable"`
	ScaleX      float64 `json:"scaleX"`
	ScaleY      float64 `json:"scaleY"`
	Angle       float64 `json:"angle"`
	FlipX       bool    `json:"flipX"`
	FlipY       bool    `json:"flipY"`
	Opacity     float64 `json:"opacity"`
	Visible     bool    `json:"visible"`
}

func newObject(fabricType string) Object {
	return Object{
		ID:          uuid.NewString(),
		Type:        fabricType,
		OriginX:     "left",
		OriginY:     "top",
		Fill:        "rgb(0,0,0)",
		StrokeWidth: 1,
		Selectable:  true,
		ScaleX:      1,
		ScaleY:      1,
		Opacity:     1,
		Visible:     true,
	}
}

func (o *Object) base() *Object { return o }

// Box returns the rounded bounding box (left, top, right, bottom).
func (o *Object) Box() [4]int64 {
	return [4]int64{
		int64(math.Round(o.Left)),
		int64(math.Round(o.Top)),
		int64(math.Round(o.Left + o.Width)),
		int64(math.Round(o.Top + o.Height)),
	}
}

func (o *Object) flip(axis string) {
	if axis == "x" {
		o.FlipX = !o.FlipX
	} else {
		o.FlipY = !o.FlipY
	}
}

func (o *Object) scale(factor float64, axis string) {
	switch axis {
	case "x":
		o.ScaleX *= factor
	case "y":
		o.ScaleY *= factor
	default:
		o.ScaleX *= factor
		o.ScaleY *= factor
	}
}

// Element is anything that can sit on a canvas.
type Element interface {
	ObjectType() string
	base() *Object
	clone() Element
}

// Image is a raster element. Detected and segmented objects are images
// whose LabelToScore records where they came from.
type Image struct {
	Object
	CropX        int                `json:"cropX"`
	CropY        int                `json:"cropY"`
	Src          string             `json:"src"`
	Filters      []Filter           `json:"filters"`
	Filename     string             `json:"filename,omitempty"`
	LabelToScore map[string]float64 `json:"label_to_score,omitempty"`
	Inpainted    bool               `json:"inpainted"`
}

// NewImage creates an image element from a data URL.
func NewImage(src string, width, height float64) *Image {
	img := &Image{Object: newObject("Image"), Src: src}
	img.Width, img.Height = width, height
	return img
}

func (*Image) ObjectType() string { return TypeImage }

func (img *Image) clone() Element {
	c := *img
	c.Filters = append([]Filter(nil), img.Filters...)
	if img.LabelToScore != nil {
		c.LabelToScore = make(map[string]float64, len(img.LabelToScore))
		for k, v := range img.LabelToScore {
			c.LabelToScore[k] = v
		}
	}
	return &c
}

// Detected reports whether the image was cut out of a background by an
// inference model, in which case moving it leaves a hole to inpaint.
func (img *Image) Detected() bool { return len(img.LabelToScore) > 0 }

// ApplyFilter adds f, merging it into an existing adjustable filter of the
// same type.
func (img *Image) ApplyFilter(f Filter) {
	if f.adjustable() {
		for i := range img.Filters {
			if img.Filters[i].Type == f.Type {
				img.Filters[i].Value += f.Value
				return
			}
		}
	}
	img.Filters = append(img.Filters, f)
}

// Textbox is a text element.
type Textbox struct {
	Object
	Text       string  `json:"text"`
	FontSize   int     `json:"fontSize"`
	FontWeight string  `json:"fontWeight"`
	FontFamily string  `json:"fontFamily"`
	FontStyle  string  `json:"fontStyle"`
	LineHeight float64 `json:"lineHeight"`
	TextAlign  string  `json:"textAlign"`
}

// NewTextbox creates a text element with fabric's defaults.
func NewTextbox(text string) *Textbox {
	return &Textbox{
		Object:     newObject("Textbox"),
		Text:       text,
		FontSize:   40,
		FontWeight: "normal",
		FontFamily: "Times New Roman",
		FontStyle:  "normal",
		LineHeight: 1.16,
		TextAlign:  "left",
	}
}

func (*Textbox) ObjectType() string { return TypeTextbox }

func (t *Textbox) clone() Element {
	c := *t
	return &c
}

// Rect is a rectangle. Prompt rectangles are drawn by the user to point at
// a region and become box tuples on upload.
type Rect struct {
	Object
	RX       int  `json:"rx"`
	RY       int  `json:"ry"`
	IsPrompt bool `json:"is_prompt"`
}

// NewRect creates a rectangle element.
func NewRect(left, top, width, height float64) *Rect {
	r := &Rect{Object: newObject("Rect")}
	r.Left, r.Top, r.Width, r.Height = left, top, width, height
	return r
}

func (*Rect) ObjectType() string { return TypeRect }

func (r *Rect) clone() Element {
	c := *r
	return &c
}

// Group is a fabric group of elements.
type Group struct {
	Object
	Objects []Element `json:"-"`
}

func (*Group) ObjectType() string { return TypeGroup }

func (g *Group) clone() Element {
	c := *g
	c.Objects = cloneElements(g.Objects)
	return &c
}

// MarshalJSON writes the group with its children.
func (g *Group) MarshalJSON() ([]byte, error) {
	type plain Group
	return json.Marshal(struct {
		*plain
		Objects []Element `json:"objects"`
	}{(*plain)(g), nonNil(g.Objects)})
}

// UnmarshalJSON reads the group and its typed children.
func (g *Group) UnmarshalJSON(data []byte) error {
	type plain Group
	aux := struct {
		*plain
		Objects []json.RawMessage `json:"objects"`
	}{plain: (*plain)(g)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	objs, err := decodeElements(aux.Objects)
	if err != nil {
		return err
	}
	g.Objects = objs
	return nil
}

// Canvas is an editable image: a background plus elements on top.
type Canvas struct {
	Version         string    `json:"version"`
	BackgroundImage *Image    `json:"backgroundImage"`
	Objects         []Element `json:"-"`
}

// NewCanvas wraps a background image.
func NewCanvas(bg *Image) *Canvas {
	return &Canvas{Version: fabricVersion, BackgroundImage: bg}
}

func (*Canvas) ObjectType() string { return TypeCanvas }

// Clone deep-copies the canvas. Elements keep their ids so targets found
// on the original can be located on the copy.
func (c *Canvas) Clone() *Canvas {
	out := &Canvas{Version: c.Version, Objects: cloneElements(c.Objects)}
	if c.BackgroundImage != nil {
		out.BackgroundImage = c.BackgroundImage.clone().(*Image)
	}
	return out
}

// IndexOf returns the position of the element with e's id, or -1.
func (c *Canvas) IndexOf(e Element) int {
	id := e.base().ID
	for i, o := range c.Objects {
		if o.base().ID == id {
			return i
		}
	}
	return -1
}

// Size returns the background size.
func (c *Canvas) Size() (float64, float64) {
	if c.BackgroundImage == nil {
		return 0, 0
	}
	return c.BackgroundImage.Width, c.BackgroundImage.Height
}

// MarshalJSON writes fabric canvas JSON.
func (c *Canvas) MarshalJSON() ([]byte, error) {
	type plain Canvas
	return json.Marshal(struct {
		*plain
		Objects []Element `json:"objects"`
	}{(*plain)(c), nonNil(c.Objects)})
}

// UnmarshalJSON reads fabric canvas JSON.
func (c *Canvas) UnmarshalJSON(data []byte) error {
	type plain Canvas
	aux := struct {
		*plain
		Objects []json.RawMessage `json:"objects"`
	}{plain: (*plain)(c)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	objs, err := decodeElements(aux.Objects)
	if err != nil {
		return err
	}
	c.Objects = objs
	if c.Version == "" {
		c.Version = fabricVersion
	}
	return nil
}

func decodeElements(raws []json.RawMessage) ([]Element, error) {
	out := make([]Element, 0, len(raws))
	for i, raw := range raws {
		var head struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(raw, &head); err != nil {
			return nil, fmt.Errorf("object %d: %w", i, err)
		}
		var e Element
		switch head.Type {
		case "Image", "image":
			e = &Image{}
		case "Textbox", "textbox":
			e = &Textbox{}
		case "Rect", "rect":
			e = &Rect{}
		case "Group", "group":
			e = &Group{}
		default:
			return nil, fmt.Errorf("object %d: unknown fabric type %q", i, head.Type)
		}
		if err := json.Unmarshal(raw, e); err != nil {
			return nil, fmt.Errorf("object %d: %w", i, err)
		}
		out = append(out, e)
	}
	return out, nil
}

func cloneElements(es []Element) []Element {
	if es == nil {
		return nil
	}
	out := make([]Element, len(es))
	for i, e := range es {
		out[i] = e.clone()
	}
	return out
}

func nonNil(es []Element) []Element {
	if es == nil {
		return []Element{}
	}
	return es
}
