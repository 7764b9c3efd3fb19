package canvas

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Filter is a fabric image filter. Adjustable filters carry a value under
// a type-specific JSON key and merge when applied twice.
type Filter struct {
	Type  string
	Mode  string
	Value float64
}

// fabric JSON key of each adjustable filter's value.
var filterValueKeys = map[string]string{
	"Brightness": "brightness",
	"Blur":       "blur",
	"Contrast":   "contrast",
	"Noise":      "noise",
	"Pixelate":   "blocksize",
	"Saturation": "saturation",
}

// filterNames maps the names the model may use to fabric filter types.
var filterNames = map[string]string{
	"grayscale":  "Grayscale",
	"gray":       "Grayscale",
	"invert":     "Invert",
	"negative":   "Invert",
	"brightness": "Brightness",
	"bright":     "Brightness",
	"blur":       "Blur",
	"blurness":   "Blur",
	"contrast":   "Contrast",
	"noise":      "Noise",
	"pixelate":   "Pixelate",
	"pixel":      "Pixelate",
	"saturation": "Saturation",
}

func (f Filter) adjustable() bool {
	_, ok := filterValueKeys[f.Type]
	return ok
}

// ResolveFilterName maps a user-facing filter name to its fabric type.
func ResolveFilterName(name string) (string, bool) {
	t, ok := filterNames[strings.ToLower(strings.TrimSpace(name))]
	return t, ok
}

// FilterNames lists the accepted filter names, sorted.
func FilterNames() []string {
	out := make([]string, 0, len(filterNames))
	for n := range filterNames {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// NewFilter builds a filter from its fabric type. value is a multiplier
// (1.15 = +15%); adjustable filters store the offset from 1.
func NewFilter(fabricType string, value *float64) (Filter, error) {
	switch fabricType {
	case "Grayscale":
		return Filter{Type: fabricType, Mode: "average"}, nil
	case "Invert":
		return Filter{Type: fabricType}, nil
	}
	if _, ok := filterValueKeys[fabricType]; !ok {
		return Filter{}, fmt.Errorf("invalid filter type: %s", fabricType)
	}
	if value == nil {
		return Filter{}, fmt.Errorf("filter %s needs a value", fabricType)
	}
	v := *value - 1
	if fabricType == "Pixelate" {
		v *= 10
	}
	return Filter{Type: fabricType, Value: v}, nil
}

// MarshalJSON writes the fabric filter object.
func (f Filter) MarshalJSON() ([]byte, error) {
	m := map[string]any{"type": f.Type}
	switch {
	case f.Type == "Grayscale":
		m["mode"] = f.Mode
	case f.Type == "Invert":
		m["alpha"] = false
		m["invert"] = true
	case f.adjustable():
		m[filterValueKeys[f.Type]] = f.Value
	}
	return json.Marshal(m)
}

// UnmarshalJSON reads a fabric filter object.
func (f *Filter) UnmarshalJSON(data []byte) error {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	t, _ := m["type"].(string)
	if t == "" {
		return fmt.Errorf("filter without type")
	}
	*f = Filter{Type: t}
	if mode, ok := m["mode"].(string); ok {
		f.Mode = mode
	}
	if key, ok := filterValueKeys[t]; ok {
		if v, ok := m[key].(float64); ok {
			f.Value = v
		}
	}
	return nil
}
