// Package annotation implements the vector-markup document model used for
// photo annotations, together with its validation and sanitization pipeline.
//
// Documents may arrive from an older schema version, a lossy retry, or a
// hostile client, so every field an object carries is treated as untrusted
// until it has passed through Validate or Sanitize.
package annotation

import (
	"encoding/json"
	"fmt"
)

// Type discriminates the annotation object union.
type Type string

const (
	TypeArrow       Type = "arrow"
	TypeLine        Type = "line"
	TypeRect        Type = "rect"
	TypeCircle      Type = "circle"
	TypeEllipse     Type = "ellipse"
	TypeText        Type = "text"
	TypeFreehand    Type = "freehand"
	TypeMeasurement Type = "measurement"
)

// knownTypes lists every member of the union. Decoding drops anything else.
var knownTypes = map[Type]struct{}{
	TypeArrow:       {},
	TypeLine:        {},
	TypeRect:        {},
	TypeCircle:      {},
	TypeEllipse:     {},
	TypeText:        {},
	TypeFreehand:    {},
	TypeMeasurement: {},
}

// Base carries the fields shared by every annotation object.
type Base struct {
	ID          string         `json:"id"`
	X           float64        `json:"x"`
	Y           float64        `json:"y"`
	Rotation    float64        `json:"rotation,omitempty"`
	ScaleX      float64        `json:"scaleX,omitempty"`
	ScaleY      float64        `json:"scaleY,omitempty"`
	Color       string         `json:"color"`
	StrokeWidth float64        `json:"strokeWidth"`
	Opacity     *float64       `json:"opacity,omitempty"`
	Locked      bool           `json:"locked,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Object is the sealed union of annotation shapes. Every consumer that
// switches on the concrete type must handle all of them; Decode guarantees no
// other implementation ever enters a document.
type Object interface {
	Type() Type
	// Common exposes the shared fields for mutation by the sanitizer.
	Common() *Base
}

// Arrow is a two-point arrow. Points holds [x1, y1, x2, y2] relative to the
// object position.
type Arrow struct {
	Base
	Points []float64 `json:"points"`
}

func (a *Arrow) Type() Type    { return TypeArrow }
func (a *Arrow) Common() *Base { return &a.Base }

// Line is a polyline with at least two vertices.
type Line struct {
	Base
	Points []float64 `json:"points"`
}

func (l *Line) Type() Type    { return TypeLine }
func (l *Line) Common() *Base { return &l.Base }

type Rect struct {
	Base
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

func (r *Rect) Type() Type    { return TypeRect }
func (r *Rect) Common() *Base { return &r.Base }

type Circle struct {
	Base
	Radius float64 `json:"radius"`
}

func (c *Circle) Type() Type    { return TypeCircle }
func (c *Circle) Common() *Base { return &c.Base }

type Ellipse struct {
	Base
	RadiusX float64 `json:"radiusX"`
	RadiusY float64 `json:"radiusY"`
}

func (e *Ellipse) Type() Type    { return TypeEllipse }
func (e *Ellipse) Common() *Base { return &e.Base }

type Text struct {
	Base
	Text     string  `json:"text"`
	FontSize float64 `json:"fontSize"`
}

func (t *Text) Type() Type    { return TypeText }
func (t *Text) Common() *Base { return &t.Base }

// Freehand is a hand-drawn stroke. Points holds interleaved x/y scalars and
// is capped at MaxFreehandPoints vertices by the sanitizer.
type Freehand struct {
	Base
	Points []float64 `json:"points"`
}

func (f *Freehand) Type() Type    { return TypeFreehand }
func (f *Freehand) Common() *Base { return &f.Base }

// Measurement is a line annotated with a real-world length.
type Measurement struct {
	Base
	Points        []float64 `json:"points"`
	Length        float64   `json:"length"`
	Unit          string    `json:"unit"`
	PixelsPerUnit float64   `json:"pixelsPerUnit"`
	ShowLabel     bool      `json:"showLabel"`
}

func (m *Measurement) Type() Type    { return TypeMeasurement }
func (m *Measurement) Common() *Base { return &m.Base }

// decodeObject unmarshals one raw object keyed on its "type" tag. A missing or
// unknown tag yields (nil, nil): the object is dropped, not an error, so one
// stray element cannot poison a whole document.
func decodeObject(raw json.RawMessage) (Object, error) {
	var tag struct {
		Type Type `json:"type"`
	}
	if err := json.Unmarshal(raw, &tag); err != nil {
		return nil, fmt.Errorf("object type tag: %w", err)
	}
	if _, ok := knownTypes[tag.Type]; !ok {
		return nil, nil
	}

	var obj Object
	switch tag.Type {
	case TypeArrow:
		obj = &Arrow{}
	case TypeLine:
		obj = &Line{}
	case TypeRect:
		obj = &Rect{}
	case TypeCircle:
		obj = &Circle{}
	case TypeEllipse:
		obj = &Ellipse{}
	case TypeText:
		obj = &Text{}
	case TypeFreehand:
		obj = &Freehand{}
	case TypeMeasurement:
		obj = &Measurement{}
	}
	if err := json.Unmarshal(raw, obj); err != nil {
		return nil, fmt.Errorf("decode %s object: %w", tag.Type, err)
	}
	return obj, nil
}

// encodeObject marshals one object with its "type" discriminator injected.
func encodeObject(o Object) ([]byte, error) {
	switch v := o.(type) {
	case *Arrow:
		return json.Marshal(struct {
			Type Type `json:"type"`
			*Arrow
		}{TypeArrow, v})
	case *Line:
		return json.Marshal(struct {
			Type Type `json:"type"`
			*Line
		}{TypeLine, v})
	case *Rect:
		return json.Marshal(struct {
			Type Type `json:"type"`
			*Rect
		}{TypeRect, v})
	case *Circle:
		return json.Marshal(struct {
			Type Type `json:"type"`
			*Circle
		}{TypeCircle, v})
	case *Ellipse:
		return json.Marshal(struct {
			Type Type `json:"type"`
			*Ellipse
		}{TypeEllipse, v})
	case *Text:
		return json.Marshal(struct {
			Type Type `json:"type"`
			*Text
		}{TypeText, v})
	case *Freehand:
		return json.Marshal(struct {
			Type Type `json:"type"`
			*Freehand
		}{TypeFreehand, v})
	case *Measurement:
		return json.Marshal(struct {
			Type Type `json:"type"`
			*Measurement
		}{TypeMeasurement, v})
	default:
		return nil, fmt.Errorf("unknown object type %T", o)
	}
}
