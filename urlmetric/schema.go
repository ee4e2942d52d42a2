package urlmetric

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
)

// Schema validates URL metric payloads submitted by browsers.
type Schema struct {
	root     *jsonschema.Schema
	resolved *jsonschema.Resolved
}

func ptr[T any](v T) *T { return &v }

// falseSchema rejects everything; used for additionalProperties.
func falseSchema() *jsonschema.Schema {
	return &jsonschema.Schema{Not: &jsonschema.Schema{}}
}

func rectSchema() *jsonschema.Schema {
	num := func() *jsonschema.Schema { return &jsonschema.Schema{Type: "number"} }
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"width": num(), "height": num(), "x": num(), "y": num(),
			"top": num(), "right": num(), "bottom": num(), "left": num(),
		},
		Required: []string{"width", "height"},
	}
}

// NewSchema builds the payload schema with extension element properties merged
// into the element item schema. Extension properties never override the
// built-in ones.
func NewSchema(elementProps map[string]*jsonschema.Schema) (*Schema, error) {
	itemProps := map[string]*jsonschema.Schema{
		"xpath":              {Type: "string", MinLength: ptr(1)},
		"isLCP":              {Type: "boolean"},
		"intersectionRatio":  {Type: "number", Minimum: ptr(0.0), Maximum: ptr(1.0)},
		"intersectionRect":   rectSchema(),
		"boundingClientRect": rectSchema(),
	}
	for name, s := range elementProps {
		if _, builtin := itemProps[name]; builtin || s == nil {
			continue
		}
		itemProps[name] = s
	}

	root := &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"url":  {Type: "string", MinLength: ptr(1)},
			"slug": {Type: "string"},
			"viewport": {
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"width":  {Type: "number", Minimum: ptr(0.0)},
					"height": {Type: "number", Minimum: ptr(0.0)},
				},
				Required: []string{"width", "height"},
			},
			"elements": {
				Type: "array",
				Items: &jsonschema.Schema{
					Type:                 "object",
					Properties:           itemProps,
					Required:             []string{"xpath", "intersectionRatio", "boundingClientRect"},
					AdditionalProperties: falseSchema(),
				},
			},
		},
		Required: []string{"url", "viewport", "elements"},
	}

	resolved, err := root.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("urlmetric: resolve schema: %w", err)
	}
	return &Schema{root: root, resolved: resolved}, nil
}

// ElementProperties returns the element item properties, extensions included.
func (s *Schema) ElementProperties() map[string]*jsonschema.Schema {
	return maps.Clone(s.root.Properties["elements"].Items.Properties)
}

// JSON returns the schema document.
func (s *Schema) JSON() ([]byte, error) {
	return json.Marshal(s.root)
}

// Validate checks raw against the schema and decodes it. The returned metric
// has no ID and a zero Timestamp; the caller assigns both.
func (s *Schema) Validate(raw []byte) (*URLMetric, error) {
	var instance any
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&instance); err != nil {
		return nil, fmt.Errorf("urlmetric: decode: %w", err)
	}
	if err := s.resolved.Validate(instance); err != nil {
		return nil, fmt.Errorf("urlmetric: invalid payload: %w", err)
	}

	var m URLMetric
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("urlmetric: decode: %w", err)
	}
	m.ID = ""
	m.Timestamp = time.Time{}
	return &m, nil
}
