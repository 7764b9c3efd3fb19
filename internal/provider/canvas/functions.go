package canvas

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"

	"chat2edit/internal/logging"
	"chat2edit/internal/provider"
	"chat2edit/internal/value"
)

var (
	errNoBackground     = errors.New("the image has no background")
	errTargetNotInImage = errors.New("the target is not within the image")
	errNoInference      = errors.New("inference service is not configured")
)

const positionWarning = "The specified position exceeds the size of the image."

func (p *Provider) functions() []*provider.Function {
	none := value.None()
	return []*provider.Function{
		{
			Name: "response_user",
			Params: []provider.Param{
				provider.Required("text", "str"),
				provider.Optional("attachments", "list[Image | Object | Text]", value.List()),
				provider.Optional("images", "list[Image]", value.List()),
			},
			Doc:  "Reply to the user and end the turn. images is appended to attachments.",
			Impl: p.responseUser,
		},
		{
			Name:    "detect",
			Params:  []provider.Param{provider.Required("image", "Image"), provider.Required("prompt", "str")},
			Returns: "list[Object]",
			Async:   true,
			Doc:     "Find every object matching prompt.",
			Impl:    p.detect,
		},
		{
			Name:    "segment",
			Params:  []provider.Param{provider.Required("image", "Image"), provider.Required("box", "Box")},
			Returns: "Object",
			Async:   true,
			Impl:    p.segment,
		},
		{
			Name:    "remove",
			Params:  []provider.Param{provider.Required("image", "Image"), provider.Required("targets", "list[Object | Text]")},
			Returns: "Image",
			Async:   true,
			Impl:    p.remove,
		},
		{
			Name: "replace",
			Params: []provider.Param{
				provider.Required("image", "Image"),
				provider.Required("targets", "list[Object]"),
				provider.Required("prompt", "str"),
			},
			Returns: "Image",
			Async:   true,
			Impl:    p.replace,
		},
		{
			Name: "filter",
			Params: []provider.Param{
				provider.Required("image", "Image"),
				provider.Required("filter_name", "str"),
				provider.Optional("filter_value", "float", none),
				provider.Optional("targets", "list[Object]", none),
			},
			Returns: "Image",
			Impl:    p.filter,
		},
		{
			Name: "rotate",
			Params: []provider.Param{
				provider.Required("image", "Image"),
				provider.Required("angle", "float"),
				provider.Optional("targets", "list[Object | Text]", none),
			},
			Returns: "Image",
			Async:   true,
			Impl:    p.rotate,
		},
		{
			Name: "flip",
			Params: []provider.Param{
				provider.Required("image", "Image"),
				provider.Required("axis", "Literal['x', 'y']"),
				provider.Optional("targets", "list[Object | Text]", none),
			},
			Returns: "Image",
			Async:   true,
			Impl:    p.flip,
		},
		{
			Name: "move",
			Params: []provider.Param{
				provider.Required("image", "Image"),
				provider.Required("targets", "list[Object | Text]"),
				provider.Required("dest", "tuple[int, int]"),
			},
			Returns: "Image",
			Async:   true,
			Impl:    p.move,
		},
		{
			Name: "shift",
			Params: []provider.Param{
				provider.Required("image", "Image"),
				provider.Required("targets", "list[Object | Text]"),
				provider.Required("offset", "int"),
				provider.Required("axis", "Literal['x', 'y']"),
			},
			Returns: "Image",
			Async:   true,
			Impl:    p.shift,
		},
		{
			Name: "scale",
			Params: []provider.Param{
				provider.Required("image", "Image"),
				provider.Required("factor", "float"),
				provider.Optional("targets", "list[Object | Text]", none),
				provider.Optional("axis", "Literal['x', 'y']", none),
			},
			Returns: "Image",
			Async:   true,
			Impl:    p.scale,
		},
		{
			Name: "create_text",
			Params: []provider.Param{
				provider.Required("content", "str"),
				provider.Optional("font_family", "str", value.String("Times New Roman")),
				provider.Optional("font_size", "int", value.Int(40)),
				provider.Optional("font_weight", "str", value.String("normal")),
				provider.Optional("font_style", "str", value.String("normal")),
				provider.Optional("color", "str", value.String("rgb(0,0,0)")),
			},
			Returns: "Text",
			Impl:    p.createText,
		},
		{
			Name: "insert",
			Params: []provider.Param{
				provider.Required("image", "Image"),
				provider.Required("target", "Object | Text"),
				provider.Optional("position", "tuple[int, int]", none),
			},
			Returns: "Image",
			Impl:    p.insert,
		},
		{
			Name:    "get_position",
			Params:  []provider.Param{provider.Required("target", "Image | Object | Text")},
			Returns: "tuple[int, int]",
			Impl:    p.getPosition,
		},
		{
			Name:    "get_size",
			Params:  []provider.Param{provider.Required("target", "Image | Object | Text")},
			Returns: "tuple[int, int]",
			Impl:    p.getSize,
		},
	}
}

func (p *Provider) responseUser(_ context.Context, call *provider.Call, args provider.Args) (value.Value, error) {
	text, err := args.String("text")
	if err != nil {
		return value.None(), err
	}
	var attachments []value.Value
	for _, key := range []string{"attachments", "images"} {
		v := args.Get(key)
		if v.IsNone() {
			continue
		}
		if items, ok := v.Items(); ok {
			attachments = append(attachments, items...)
		} else {
			attachments = append(attachments, v)
		}
	}
	return value.None(), call.Respond(text, attachments...)
}

func (p *Provider) detect(ctx context.Context, call *provider.Call, args provider.Args) (value.Value, error) {
	c, err := canvasArg(args)
	if err != nil {
		return value.None(), err
	}
	prompt, err := args.String("prompt")
	if err != nil {
		return value.None(), err
	}
	if p.inference == nil {
		return value.None(), errNoInference
	}

	dets, err := p.inference.Detect(ctx, c.BackgroundImage, prompt)
	if err != nil {
		return value.None(), err
	}
	objects := make([]*Image, len(dets))
	for i, d := range dets {
		objects[i] = detectionImage(d, prompt)
	}

	imageName, ok := call.NameOf(args.Get("image"))
	if !ok {
		imageName = "image"
	}
	text := fmt.Sprintf("Detected %d `%s` in `%s`", len(objects), prompt, imageName)
	switch len(objects) {
	case 0:
		call.Warning(text)
	case 1:
		call.Info(text)
	default:
		annotatedName := "annotated_" + imageName
		if prev, ok := call.Lookup(annotatedName); ok {
			logging.ProviderDebug("detect: replacing %s (%s)", annotatedName, prev.TypeName())
		}
		call.Bind(annotatedName, value.Obj(annotate(c, objects)))
		call.Warning(text, annotatedName)
	}
	return value.Objects(objects), nil
}

func (p *Provider) segment(ctx context.Context, _ *provider.Call, args provider.Args) (value.Value, error) {
	c, err := canvasArg(args)
	if err != nil {
		return value.None(), err
	}
	box, err := boxArg(args, "box")
	if err != nil {
		return value.None(), err
	}
	if p.inference == nil {
		return value.None(), errNoInference
	}
	d, err := p.inference.Segment(ctx, c.BackgroundImage, box)
	if err != nil {
		return value.None(), err
	}
	return value.Obj(detectionImage(d, "box")), nil
}

func (p *Provider) remove(ctx context.Context, _ *provider.Call, args provider.Args) (value.Value, error) {
	c, targets, err := canvasAndTargets(args, "targets")
	if err != nil {
		return value.None(), err
	}
	out := c.Clone()
	idxs, err := adopt(out, targets)
	if err != nil {
		return value.None(), err
	}
	if err := p.inpaint(ctx, out, idxs); err != nil {
		return value.None(), err
	}
	removeAt(out, idxs)
	return value.Obj(out), nil
}

func (p *Provider) replace(ctx context.Context, _ *provider.Call, args provider.Args) (value.Value, error) {
	c, targets, err := canvasAndTargets(args, "targets")
	if err != nil {
		return value.None(), err
	}
	prompt, err := args.String("prompt")
	if err != nil {
		return value.None(), err
	}
	if p.inference == nil {
		return value.None(), errNoInference
	}
	out := c.Clone()
	idxs, err := adopt(out, targets)
	if err != nil {
		return value.None(), err
	}
	var masks []*Image
	for _, i := range idxs {
		if img, ok := out.Objects[i].(*Image); ok {
			masks = append(masks, img)
		}
	}
	if len(masks) == 0 {
		return value.None(), &provider.ArgumentError{Func: "replace", Param: "targets", Reason: "must contain at least one object"}
	}
	src, err := p.inference.Generate(ctx, out.BackgroundImage, masks, prompt)
	if err != nil {
		return value.None(), err
	}
	out.BackgroundImage.Src = src
	removeAt(out, idxs)
	return value.Obj(out), nil
}

func (p *Provider) filter(_ context.Context, call *provider.Call, args provider.Args) (value.Value, error) {
	c, err := canvasArg(args)
	if err != nil {
		return value.None(), err
	}
	name, err := args.String("filter_name")
	if err != nil {
		return value.None(), err
	}
	fabricType, ok := ResolveFilterName(name)
	if !ok {
		call.Error(fmt.Sprintf("Available values for `filter_name` are: %s", strings.Join(FilterNames(), ", ")))
		return args.Get("image"), nil
	}
	var amount *float64
	if args.IsSet("filter_value") {
		v, err := args.Float("filter_value")
		if err != nil {
			return value.None(), err
		}
		amount = &v
	}
	f, err := NewFilter(fabricType, amount)
	if err != nil {
		return value.None(), &provider.ArgumentError{Func: "filter", Param: "filter_value", Reason: "is required for " + strings.ToLower(fabricType)}
	}
	targets, err := targetsArg(args, "targets")
	if err != nil {
		return value.None(), err
	}

	out := c.Clone()
	if len(targets) == 0 {
		out.BackgroundImage.ApplyFilter(f)
		for _, e := range out.Objects {
			if img, ok := e.(*Image); ok {
				img.ApplyFilter(f)
			}
		}
		return value.Obj(out), nil
	}
	idxs, err := adopt(out, targets)
	if err != nil {
		return value.None(), err
	}
	for _, i := range idxs {
		if img, ok := out.Objects[i].(*Image); ok {
			img.ApplyFilter(f)
		}
	}
	return value.Obj(out), nil
}

func (p *Provider) rotate(ctx context.Context, _ *provider.Call, args provider.Args) (value.Value, error) {
	angle, err := args.Float("angle")
	if err != nil {
		return value.None(), err
	}
	return p.transform(ctx, args, func(o *Object) { o.Angle += angle })
}

func (p *Provider) flip(ctx context.Context, _ *provider.Call, args provider.Args) (value.Value, error) {
	axis, err := axisArg(args, "flip", false)
	if err != nil {
		return value.None(), err
	}
	return p.transform(ctx, args, func(o *Object) { o.flip(axis) })
}

func (p *Provider) scale(ctx context.Context, _ *provider.Call, args provider.Args) (value.Value, error) {
	factor, err := args.Float("factor")
	if err != nil {
		return value.None(), err
	}
	if factor <= 0 {
		return value.None(), &provider.ArgumentError{Func: "scale", Param: "factor", Reason: "must be positive"}
	}
	axis, err := axisArg(args, "scale", true)
	if err != nil {
		return value.None(), err
	}
	return p.transform(ctx, args, func(o *Object) { o.scale(factor, axis) })
}

// transform edits the targets, or the background when there are none.
// Detected objects leave a hole behind, so the background is inpainted
// before they change.
func (p *Provider) transform(ctx context.Context, args provider.Args, edit func(*Object)) (value.Value, error) {
	c, targets, err := canvasAndTargets(args, "targets")
	if err != nil {
		return value.None(), err
	}
	out := c.Clone()
	if len(targets) == 0 {
		edit(out.BackgroundImage.base())
		return value.Obj(out), nil
	}
	idxs, err := adopt(out, targets)
	if err != nil {
		return value.None(), err
	}
	if err := p.inpaint(ctx, out, idxs); err != nil {
		return value.None(), err
	}
	for _, i := range idxs {
		edit(out.Objects[i].base())
	}
	return value.Obj(out), nil
}

func (p *Provider) move(ctx context.Context, call *provider.Call, args provider.Args) (value.Value, error) {
	c, targets, err := canvasAndTargets(args, "targets")
	if err != nil {
		return value.None(), err
	}
	if len(targets) == 0 {
		return value.None(), &provider.ArgumentError{Func: "move", Param: "targets", Reason: "must not be empty"}
	}
	dest, err := pointArg(args, "dest")
	if err != nil {
		return value.None(), err
	}
	warnOutside(call, c, dest)
	return p.transform(ctx, args, func(o *Object) { o.Left, o.Top = dest[0], dest[1] })
}

func (p *Provider) shift(ctx context.Context, _ *provider.Call, args provider.Args) (value.Value, error) {
	_, targets, err := canvasAndTargets(args, "targets")
	if err != nil {
		return value.None(), err
	}
	if len(targets) == 0 {
		return value.None(), &provider.ArgumentError{Func: "shift", Param: "targets", Reason: "must not be empty"}
	}
	offset, err := args.Float("offset")
	if err != nil {
		return value.None(), err
	}
	axis, err := axisArg(args, "shift", false)
	if err != nil {
		return value.None(), err
	}
	return p.transform(ctx, args, func(o *Object) {
		if axis == "x" {
			o.Left += offset
		} else {
			o.Top += offset
		}
	})
}

func (p *Provider) createText(_ context.Context, _ *provider.Call, args provider.Args) (value.Value, error) {
	content, err := args.String("content")
	if err != nil {
		return value.None(), err
	}
	t := NewTextbox(content)
	if t.FontFamily, err = args.String("font_family"); err != nil {
		return value.None(), err
	}
	size, err := args.Int("font_size")
	if err != nil {
		return value.None(), err
	}
	if size <= 0 {
		return value.None(), &provider.ArgumentError{Func: "create_text", Param: "font_size", Reason: "must be positive"}
	}
	t.FontSize = int(size)
	if t.FontWeight, err = args.String("font_weight"); err != nil {
		return value.None(), err
	}
	if t.FontStyle, err = args.String("font_style"); err != nil {
		return value.None(), err
	}
	if t.Fill, err = args.String("color"); err != nil {
		return value.None(), err
	}
	return value.Obj(t), nil
}

func (p *Provider) insert(_ context.Context, call *provider.Call, args provider.Args) (value.Value, error) {
	c, err := canvasArg(args)
	if err != nil {
		return value.None(), err
	}
	target, err := elementArg(args, "target")
	if err != nil {
		return value.None(), err
	}
	out := c.Clone()
	placed := target.clone()
	placed.base().ID = uuid.NewString()
	if args.IsSet("position") {
		pos, err := pointArg(args, "position")
		if err != nil {
			return value.None(), err
		}
		warnOutside(call, c, pos)
		placed.base().Left, placed.base().Top = pos[0], pos[1]
	}
	out.Objects = append(out.Objects, placed)
	return value.Obj(out), nil
}

func (p *Provider) getPosition(_ context.Context, _ *provider.Call, args provider.Args) (value.Value, error) {
	o, err := placementArg(args, "target")
	if err != nil {
		return value.None(), err
	}
	return value.Tuple(value.Int(int64(math.Round(o.Left))), value.Int(int64(math.Round(o.Top)))), nil
}

func (p *Provider) getSize(_ context.Context, _ *provider.Call, args provider.Args) (value.Value, error) {
	o, err := placementArg(args, "target")
	if err != nil {
		return value.None(), err
	}
	w := int64(math.Round(o.Width * o.ScaleX))
	h := int64(math.Round(o.Height * o.ScaleY))
	return value.Tuple(value.Int(w), value.Int(h)), nil
}

// inpaint fills the background behind detected objects that have not
// been lifted yet.
func (p *Provider) inpaint(ctx context.Context, c *Canvas, idxs []int) error {
	var masks []*Image
	for _, i := range idxs {
		if img, ok := c.Objects[i].(*Image); ok && img.Detected() && !img.Inpainted {
			masks = append(masks, img)
		}
	}
	if len(masks) == 0 {
		return nil
	}
	if p.inference == nil {
		return errNoInference
	}
	src, err := p.inference.Inpaint(ctx, c.BackgroundImage, masks)
	if err != nil {
		return err
	}
	c.BackgroundImage.Src = src
	for _, m := range masks {
		m.Inpainted = true
	}
	return nil
}

func detectionImage(d Detection, label string) *Image {
	img := NewImage(d.Src, d.Width, d.Height)
	img.Left, img.Top = d.Left, d.Top
	img.LabelToScore = map[string]float64{label: d.Score}
	return img
}

// annotate returns a copy of c with a numbered red box around each object.
func annotate(c *Canvas, objects []*Image) *Canvas {
	out := c.Clone()
	_, h := out.Size()
	fontSize := int(h / 8)
	if fontSize < 12 {
		fontSize = 12
	}
	for i, obj := range objects {
		box := NewRect(obj.Left, obj.Top, obj.Width, obj.Height)
		box.Stroke, box.StrokeWidth = "red", 3
		box.Fill, box.Selectable = "transparent", false

		label := NewTextbox(fmt.Sprintf("%d", i))
		label.Left, label.Top = obj.Left, obj.Top
		label.FontSize = fontSize
		label.Fill, label.Selectable = "red", false

		out.Objects = append(out.Objects, box, label)
	}
	return out
}

// adopt returns the positions of targets on c. Detected objects that were
// never placed are added at their detected position.
func adopt(c *Canvas, targets []Element) ([]int, error) {
	idxs := make([]int, 0, len(targets))
	for _, t := range targets {
		i := c.IndexOf(t)
		if i < 0 {
			img, ok := t.(*Image)
			if !ok || !img.Detected() {
				return nil, errTargetNotInImage
			}
			c.Objects = append(c.Objects, img.clone())
			i = len(c.Objects) - 1
		}
		if !containsInt(idxs, i) {
			idxs = append(idxs, i)
		}
	}
	return idxs, nil
}

func removeAt(c *Canvas, idxs []int) {
	kept := c.Objects[:0:0]
	for i, e := range c.Objects {
		if !containsInt(idxs, i) {
			kept = append(kept, e)
		}
	}
	c.Objects = kept
}

func containsInt(xs []int, x int) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

func warnOutside(call *provider.Call, c *Canvas, pt [2]float64) {
	w, h := c.Size()
	if pt[0] > w || pt[1] > h || pt[0] < 0 || pt[1] < 0 {
		call.Warning(positionWarning)
	}
}

func canvasArg(args provider.Args) (*Canvas, error) {
	c, err := provider.ObjectAs[*Canvas](args, "image", "image")
	if err != nil {
		return nil, err
	}
	if c.BackgroundImage == nil {
		return nil, errNoBackground
	}
	return c, nil
}

func canvasAndTargets(args provider.Args, name string) (*Canvas, []Element, error) {
	c, err := canvasArg(args)
	if err != nil {
		return nil, nil, err
	}
	targets, err := targetsArg(args, name)
	if err != nil {
		return nil, nil, err
	}
	return c, targets, nil
}

// targetsArg accepts one element or a list of them; None means no targets.
func targetsArg(args provider.Args, name string) ([]Element, error) {
	v := args.Get(name)
	if v.IsNone() {
		return nil, nil
	}
	items, ok := v.Items()
	if !ok {
		items = []value.Value{v}
	}
	out := make([]Element, 0, len(items))
	for _, it := range items {
		o, ok := it.Object()
		if !ok {
			return nil, argErr(args, name, "must be a list of objects")
		}
		e, ok := o.(Element)
		if !ok {
			return nil, argErr(args, name, "must be a list of objects")
		}
		out = append(out, e)
	}
	return out, nil
}

func elementArg(args provider.Args, name string) (Element, error) {
	o, err := args.Object(name)
	if err != nil {
		return nil, err
	}
	e, ok := o.(Element)
	if !ok {
		return nil, argErr(args, name, "must be an object or a text")
	}
	return e, nil
}

// placementArg reads an element, or a canvas whose background stands in
// for it.
func placementArg(args provider.Args, name string) (*Object, error) {
	o, err := args.Object(name)
	if err != nil {
		return nil, err
	}
	switch t := o.(type) {
	case *Canvas:
		if t.BackgroundImage == nil {
			return nil, errNoBackground
		}
		return t.BackgroundImage.base(), nil
	case Element:
		return t.base(), nil
	}
	return nil, argErr(args, name, "must be an image, an object or a text")
}

func axisArg(args provider.Args, fn string, optional bool) (string, error) {
	if optional && !args.IsSet("axis") {
		return "", nil
	}
	axis, err := args.String("axis")
	if err != nil || (axis != "x" && axis != "y") {
		return "", &provider.ArgumentError{Func: fn, Param: "axis", Reason: "must be either 'x' or 'y'"}
	}
	return axis, nil
}

func pointArg(args provider.Args, name string) ([2]float64, error) {
	nums, ok := numbers(args.Get(name), 2)
	if !ok {
		return [2]float64{}, argErr(args, name, "must be a tuple with two integer elements")
	}
	return [2]float64{nums[0], nums[1]}, nil
}

func boxArg(args provider.Args, name string) ([4]int64, error) {
	nums, ok := numbers(args.Get(name), 4)
	if !ok {
		return [4]int64{}, argErr(args, name, "must be a tuple of four integers (left, top, right, bottom)")
	}
	var box [4]int64
	for i, n := range nums {
		box[i] = int64(math.Round(n))
	}
	if box[2] <= box[0] || box[3] <= box[1] {
		return [4]int64{}, argErr(args, name, "must have right > left and bottom > top")
	}
	return box, nil
}

func numbers(v value.Value, n int) ([]float64, bool) {
	items, ok := v.Items()
	if !ok || len(items) != n {
		return nil, false
	}
	out := make([]float64, n)
	for i, it := range items {
		f, ok := it.AsFloat()
		if !ok {
			return nil, false
		}
		out[i] = f
	}
	return out, true
}

func argErr(args provider.Args, param, reason string) error {
	return &provider.ArgumentError{Func: args.Func(), Param: param, Reason: reason}
}
