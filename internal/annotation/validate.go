package annotation

import (
	"fmt"
	"math"
	"regexp"
	"unicode/utf8"
)

// Result reports the outcome of validating a document. Errors make the
// document unusable; warnings flag recoverable issues that Sanitize repairs
// silently.
type Result struct {
	Valid    bool
	Errors   []string
	Warnings []string
}

var hexColorRe = regexp.MustCompile(`^#(?:[0-9a-fA-F]{3}|[0-9a-fA-F]{6}|[0-9a-fA-F]{8})$`)

// Validate checks d against every structural and per-object invariant without
// mutating it.
func Validate(d *Document) Result {
	var res Result
	if d == nil {
		res.Errors = append(res.Errors, "document is nil")
		return res
	}

	if d.Version < 1 {
		res.Errors = append(res.Errors, fmt.Sprintf("version must be >= 1, got %d", d.Version))
	}
	if !(d.Canvas.Width > 0 && d.Canvas.Width <= MaxCanvasDimension) {
		res.Errors = append(res.Errors, fmt.Sprintf("canvas width %v out of range (0, %d]", d.Canvas.Width, MaxCanvasDimension))
	}
	if !(d.Canvas.Height > 0 && d.Canvas.Height <= MaxCanvasDimension) {
		res.Errors = append(res.Errors, fmt.Sprintf("canvas height %v out of range (0, %d]", d.Canvas.Height, MaxCanvasDimension))
	}
	if d.Canvas.Scale < 0 {
		res.Warnings = append(res.Warnings, fmt.Sprintf("canvas scale %v is negative", d.Canvas.Scale))
	}
	if len(d.Objects) > MaxObjects {
		res.Errors = append(res.Errors, fmt.Sprintf("object count %d exceeds limit %d", len(d.Objects), MaxObjects))
	}
	if size := serializedSize(d); size > MaxDocumentBytes {
		res.Errors = append(res.Errors, fmt.Sprintf("serialized size %d exceeds limit %d", size, MaxDocumentBytes))
	}

	seen := make(map[string]struct{}, len(d.Objects))
	for i, o := range d.Objects {
		if o == nil {
			res.Errors = append(res.Errors, fmt.Sprintf("object %d is nil", i))
			continue
		}
		id := o.Common().ID
		if id != "" {
			if _, dup := seen[id]; dup {
				res.Errors = append(res.Errors, fmt.Sprintf("duplicate object id %q", id))
			}
			seen[id] = struct{}{}
		}

		errs, warns := validateObject(o, d.Canvas, i)
		res.Errors = append(res.Errors, errs...)
		res.Warnings = append(res.Warnings, warns...)
	}

	res.Valid = len(res.Errors) == 0
	return res
}

func validateObject(o Object, c Canvas, idx int) (errs, warns []string) {
	b := o.Common()
	at := fmt.Sprintf("object %d (%s)", idx, o.Type())

	if b.ID == "" {
		errs = append(errs, at+": missing id")
	}
	if !hexColorRe.MatchString(b.Color) {
		errs = append(errs, fmt.Sprintf("%s: color %q is not valid hex", at, b.Color))
	}
	if b.StrokeWidth < MinStrokeWidth || b.StrokeWidth > MaxStrokeWidth {
		warns = append(warns, fmt.Sprintf("%s: stroke width %v outside [%d, %d]", at, b.StrokeWidth, MinStrokeWidth, MaxStrokeWidth))
	}
	if b.Opacity != nil && (*b.Opacity < 0 || *b.Opacity > 1) {
		warns = append(warns, fmt.Sprintf("%s: opacity %v outside [0, 1]", at, *b.Opacity))
	}

	margin := overflowMargin(c)
	if !inRange(b.X, -margin, c.Width+margin) {
		warns = append(warns, fmt.Sprintf("%s: x %v outside canvas overflow margin", at, b.X))
	}
	if !inRange(b.Y, -margin, c.Height+margin) {
		warns = append(warns, fmt.Sprintf("%s: y %v outside canvas overflow margin", at, b.Y))
	}

	switch v := o.(type) {
	case *Arrow:
		if len(v.Points) < 4 {
			warns = append(warns, at+": fewer than two points")
		}
	case *Line:
		if len(v.Points) < 4 {
			warns = append(warns, at+": fewer than two points")
		}
	case *Rect:
		if v.Width <= 0 || v.Height <= 0 {
			warns = append(warns, fmt.Sprintf("%s: non-positive size %vx%v", at, v.Width, v.Height))
		}
	case *Circle:
		if v.Radius <= 0 {
			warns = append(warns, fmt.Sprintf("%s: non-positive radius %v", at, v.Radius))
		}
	case *Ellipse:
		if v.RadiusX <= 0 || v.RadiusY <= 0 {
			warns = append(warns, fmt.Sprintf("%s: non-positive radii %vx%v", at, v.RadiusX, v.RadiusY))
		}
	case *Text:
		if utf8.RuneCountInString(v.Text) > MaxTextLength {
			warns = append(warns, fmt.Sprintf("%s: text exceeds %d characters", at, MaxTextLength))
		}
		if v.FontSize < MinFontSize || v.FontSize > MaxFontSize {
			warns = append(warns, fmt.Sprintf("%s: font size %v outside [%d, %d]", at, v.FontSize, MinFontSize, MaxFontSize))
		}
	case *Freehand:
		if len(v.Points) < 4 {
			warns = append(warns, at+": fewer than two points")
		}
		if len(v.Points) > 2*MaxFreehandPoints {
			warns = append(warns, fmt.Sprintf("%s: %d point scalars exceed limit %d", at, len(v.Points), 2*MaxFreehandPoints))
		}
	case *Measurement:
		if len(v.Points) < 4 {
			warns = append(warns, at+": fewer than two points")
		}
		if v.PixelsPerUnit <= 0 {
			warns = append(warns, fmt.Sprintf("%s: non-positive pixelsPerUnit %v", at, v.PixelsPerUnit))
		}
		if v.Length < 0 {
			warns = append(warns, fmt.Sprintf("%s: negative length %v", at, v.Length))
		}
	}

	return errs, warns
}

// inRange reports whether v is within [lo, hi]. Non-finite values never qualify.
func inRange(v, lo, hi float64) bool {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return false
	}
	return v >= lo && v <= hi
}
