package annotation

import (
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/fieldsnap/fieldsnap/internal/common"
)

// Structural limits for annotation documents. Anything beyond these bounds is
// either rejected (Validate) or clamped (Sanitize).
const (
	MaxObjects         = 500
	MaxDocumentBytes   = 1 << 20
	MaxCanvasDimension = 10000

	MinStrokeWidth = 1
	MaxStrokeWidth = 50
	MinFontSize    = 8
	MaxFontSize    = 144
	MaxTextLength  = 500

	// MaxFreehandPoints caps a single stroke at 10k vertices (20k scalars).
	MaxFreehandPoints = 10000

	// DefaultColor replaces colors that fail the hex grammar.
	DefaultColor = "#FF0000"

	// overflowMarginRatio allows objects to extend past the visible canvas by
	// half of its larger dimension before coordinates count as out of bounds.
	overflowMarginRatio = 0.5
)

// Canvas describes the coordinate space a document is drawn in.
type Canvas struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Scale  float64 `json:"scale,omitempty"`
}

// Document is one versioned vector-markup document over a photo. It owns its
// objects; objects reference nothing outside the document.
type Document struct {
	Version int      `json:"version"`
	Canvas  Canvas   `json:"canvas"`
	Objects []Object `json:"objects"`
}

// documentEnvelope mirrors Document with objects kept raw for two-phase
// decoding through the type tag.
type documentEnvelope struct {
	Version int               `json:"version"`
	Canvas  Canvas            `json:"canvas"`
	Objects []json.RawMessage `json:"objects"`
}

func (d *Document) UnmarshalJSON(data []byte) error {
	var env documentEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}

	d.Version = env.Version
	d.Canvas = env.Canvas
	d.Objects = d.Objects[:0]
	for _, raw := range env.Objects {
		obj, err := decodeObject(raw)
		if err != nil {
			return err
		}
		if obj == nil {
			continue
		}
		d.Objects = append(d.Objects, obj)
	}
	return nil
}

func (d Document) MarshalJSON() ([]byte, error) {
	env := struct {
		Version int               `json:"version"`
		Canvas  Canvas            `json:"canvas"`
		Objects []json.RawMessage `json:"objects"`
	}{
		Version: d.Version,
		Canvas:  d.Canvas,
		Objects: make([]json.RawMessage, 0, len(d.Objects)),
	}
	for _, o := range d.Objects {
		raw, err := encodeObject(o)
		if err != nil {
			return nil, err
		}
		env.Objects = append(env.Objects, raw)
	}
	return json.Marshal(env)
}

//go:embed schema.json
var schemaJSON string

var documentSchema = jsonschema.MustCompileString("annotation.schema.json", schemaJSON)

// Parse decodes raw JSON into a Document. The payload is first checked
// against the embedded JSON Schema, which rejects payloads that are not even
// document-shaped (wrong top-level type, non-array objects, and so on) before
// the semantic validator ever sees them.
func Parse(raw []byte) (*Document, error) {
	var instance any
	if err := json.Unmarshal(raw, &instance); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrInvalidAnnotation, err)
	}
	if err := documentSchema.Validate(instance); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrInvalidAnnotation, err)
	}

	doc := &Document{}
	if err := json.Unmarshal(raw, doc); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrInvalidAnnotation, err)
	}
	return doc, nil
}

// serializedSize returns the document's encoded length in bytes, or -1 when
// it cannot be encoded at all.
func serializedSize(d *Document) int {
	raw, err := json.Marshal(d)
	if err != nil {
		return -1
	}
	return len(raw)
}

// overflowMargin is how far past the canvas an object may sit before its
// coordinates are flagged.
func overflowMargin(c Canvas) float64 {
	m := c.Width
	if c.Height > m {
		m = c.Height
	}
	return m * overflowMarginRatio
}
