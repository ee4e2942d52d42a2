// Package urlmetric models the layout samples reported by visitors' browsers
// ("URL metrics") and buckets them into viewport groups bounded by breakpoints.
//
// A URL metric carries the viewport of one page view and, for every tracked
// element, its XPath, intersection ratio and bounding rect. Extensions may add
// their own element properties; those land in Element.Extra after the payload
// has been validated against a Schema built with their properties merged in.
package urlmetric

import (
	"encoding/json"
	"math"
	"time"
)

// Unbounded is the maximum viewport width of the widest group.
const Unbounded = math.MaxInt

// Viewport is the browser window size at sampling time.
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// DOMRect mirrors the browser DOMRect.
type DOMRect struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Top    float64 `json:"top"`
	Right  float64 `json:"right"`
	Bottom float64 `json:"bottom"`
	Left   float64 `json:"left"`
}

// Element is the per-element record of a URL metric.
type Element struct {
	XPath              string  `json:"xpath"`
	IsLCP              bool    `json:"isLCP"`
	IntersectionRatio  float64 `json:"intersectionRatio"`
	IntersectionRect   DOMRect `json:"intersectionRect"`
	BoundingClientRect DOMRect `json:"boundingClientRect"`

	// Extra holds extension properties keyed by their wire name.
	Extra map[string]any `json:"-"`
}

// elementFields are the wire names handled by the struct fields.
var elementFields = map[string]bool{
	"xpath": true, "isLCP": true, "intersectionRatio": true,
	"intersectionRect": true, "boundingClientRect": true,
}

type elementAlias Element

// UnmarshalJSON decodes the known fields and keeps the rest in Extra.
func (e *Element) UnmarshalJSON(data []byte) error {
	var a elementAlias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	var all map[string]any
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for k, v := range all {
		if elementFields[k] {
			continue
		}
		if a.Extra == nil {
			a.Extra = make(map[string]any)
		}
		a.Extra[k] = v
	}
	*e = Element(a)
	return nil
}

// MarshalJSON flattens Extra next to the known fields.
func (e Element) MarshalJSON() ([]byte, error) {
	base, err := json.Marshal(elementAlias(e))
	if err != nil || len(e.Extra) == 0 {
		return base, err
	}
	var all map[string]any
	if err := json.Unmarshal(base, &all); err != nil {
		return nil, err
	}
	for k, v := range e.Extra {
		if !elementFields[k] {
			all[k] = v
		}
	}
	return json.Marshal(all)
}

// Get returns an extension property.
func (e *Element) Get(name string) (any, bool) {
	v, ok := e.Extra[name]
	return v, ok
}

// Number returns an extension property when it is numeric.
func (e *Element) Number(name string) (float64, bool) {
	v, ok := e.Extra[name]
	if !ok {
		return 0, false
	}
	return ToFloat(v)
}

// Extend sets an extension property.
func (e *Element) Extend(name string, v any) {
	if e.Extra == nil {
		e.Extra = make(map[string]any)
	}
	e.Extra[name] = v
}

// URLMetric is one page view's layout sample.
type URLMetric struct {
	ID        string    `json:"uuid,omitempty"`
	URL       string    `json:"url"`
	Slug      string    `json:"slug,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Viewport  Viewport  `json:"viewport"`
	Elements  []Element `json:"elements"`
}

// Element returns the element with the given XPath, or nil.
func (m *URLMetric) Element(xpath string) *Element {
	for i := range m.Elements {
		if m.Elements[i].XPath == xpath {
			return &m.Elements[i]
		}
	}
	return nil
}

// ToFloat reports whether v is numeric and returns it as float64. It accepts
// the shapes a decoded JSON value or a Go caller may hold.
func ToFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, !math.IsNaN(n) && !math.IsInf(n, 0)
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
