package annotation

import (
	"math"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// Sanitize returns a best-effort corrected copy of d that satisfies every
// document invariant. It never fails: broken fields are clamped, defaulted or
// dropped, and as much of the original content as possible is preserved.
// Sanitizing an already-sanitized document is a no-op.
func Sanitize(d *Document) *Document {
	out := &Document{Version: 1, Canvas: Canvas{Width: 1, Height: 1}}
	if d == nil {
		return out
	}

	if d.Version > 1 {
		out.Version = d.Version
	}
	out.Canvas.Width = clamp(d.Canvas.Width, 1, MaxCanvasDimension)
	out.Canvas.Height = clamp(d.Canvas.Height, 1, MaxCanvasDimension)
	if d.Canvas.Scale > 0 && !math.IsInf(d.Canvas.Scale, 0) {
		out.Canvas.Scale = d.Canvas.Scale
	}

	objects := d.Objects
	if len(objects) > MaxObjects {
		// Oldest-first truncation: keep the head of the list.
		objects = objects[:MaxObjects]
	}

	seen := make(map[string]struct{}, len(objects))
	for _, o := range objects {
		if o == nil {
			continue
		}
		s := sanitizeObject(o, out.Canvas)
		if s == nil {
			continue
		}
		b := s.Common()
		if _, dup := seen[b.ID]; dup {
			b.ID = uuid.NewString()
		}
		seen[b.ID] = struct{}{}
		out.Objects = append(out.Objects, s)
	}

	// The per-stroke cap bounds single objects, not their sum; shed from the
	// tail until the document fits.
	for serializedSize(out) > MaxDocumentBytes && len(out.Objects) > 0 {
		out.Objects = out.Objects[:len(out.Objects)-1]
	}

	return out
}

// sanitizeObject returns a cleaned copy of o, or nil when the object cannot
// be kept.
func sanitizeObject(o Object, c Canvas) Object {
	var out Object
	switch v := o.(type) {
	case *Arrow:
		s := *v
		s.Points = sanitizePoints(v.Points)
		out = &s
	case *Line:
		s := *v
		s.Points = sanitizePoints(v.Points)
		out = &s
	case *Rect:
		s := *v
		s.Width = positiveOr(v.Width, 100)
		s.Height = positiveOr(v.Height, 100)
		out = &s
	case *Circle:
		s := *v
		s.Radius = positiveOr(v.Radius, 50)
		out = &s
	case *Ellipse:
		s := *v
		s.RadiusX = positiveOr(v.RadiusX, 50)
		s.RadiusY = positiveOr(v.RadiusY, 50)
		out = &s
	case *Text:
		s := *v
		s.Text = sanitizeText(v.Text)
		s.FontSize = clamp(v.FontSize, MinFontSize, MaxFontSize)
		out = &s
	case *Freehand:
		s := *v
		s.Points = downsamplePoints(sanitizePoints(v.Points), MaxFreehandPoints)
		out = &s
	case *Measurement:
		s := *v
		s.Points = sanitizePoints(v.Points)
		s.PixelsPerUnit = positiveOr(v.PixelsPerUnit, 1)
		if s.Unit == "" {
			s.Unit = "px"
		}
		if !(s.Length >= 0) || math.IsInf(s.Length, 0) {
			s.Length = 0
		}
		out = &s
	default:
		return nil
	}

	b := out.Common()
	if b.ID == "" {
		b.ID = uuid.NewString()
	}

	margin := overflowMargin(c)
	b.X = clamp(b.X, -margin, c.Width+margin)
	b.Y = clamp(b.Y, -margin, c.Height+margin)
	b.Color = normalizeColor(b.Color)
	b.StrokeWidth = clamp(b.StrokeWidth, MinStrokeWidth, MaxStrokeWidth)
	if b.Opacity != nil {
		v := clamp(*b.Opacity, 0, 1)
		b.Opacity = &v
	}
	if math.IsNaN(b.Rotation) || math.IsInf(b.Rotation, 0) {
		b.Rotation = 0
	}

	return out
}

// normalizeColor maps any accepted hex form to 6-digit uppercase. Shorthand
// #RGB expands, #RRGGBBAA drops its alpha channel, anything else becomes the
// default red.
func normalizeColor(color string) string {
	if !hexColorRe.MatchString(color) {
		return DefaultColor
	}
	hex := strings.ToUpper(color[1:])
	switch len(hex) {
	case 3:
		var sb strings.Builder
		for _, r := range hex {
			sb.WriteRune(r)
			sb.WriteRune(r)
		}
		return "#" + sb.String()
	case 8:
		return "#" + hex[:6]
	default:
		return "#" + hex
	}
}

var (
	tagRe     = regexp.MustCompile(`<[^>]*>`)
	controlRe = regexp.MustCompile("[\x00-\x08\x0B\x0C\x0E-\x1F\x7F]")
)

// sanitizeText strips markup and control characters and truncates to
// MaxTextLength runes. Tag stripping loops because removing an inner tag can
// expose an outer one ("<scr<b>ipt>").
func sanitizeText(text string) string {
	for {
		stripped := tagRe.ReplaceAllString(text, "")
		if stripped == text {
			break
		}
		text = stripped
	}
	text = controlRe.ReplaceAllString(text, "")

	runes := []rune(text)
	if len(runes) > MaxTextLength {
		text = string(runes[:MaxTextLength])
	}
	return text
}

// sanitizePoints drops non-finite scalars, trims an odd trailing scalar and
// falls back to a unit-length horizontal segment when fewer than two vertices
// remain.
func sanitizePoints(points []float64) []float64 {
	cleaned := make([]float64, 0, len(points))
	for _, p := range points {
		if math.IsNaN(p) || math.IsInf(p, 0) {
			continue
		}
		cleaned = append(cleaned, p)
	}
	if len(cleaned)%2 == 1 {
		cleaned = cleaned[:len(cleaned)-1]
	}
	if len(cleaned) < 4 {
		return []float64{0, 0, 100, 0}
	}
	return cleaned
}

// downsamplePoints uniformly strides an interleaved x/y array down to at most
// maxPoints vertices, always keeping the first and last vertex.
func downsamplePoints(points []float64, maxPoints int) []float64 {
	n := len(points) / 2
	if n <= maxPoints {
		return points
	}

	out := make([]float64, 0, 2*maxPoints)
	for i := 0; i < maxPoints; i++ {
		// Uniform stride over the original vertices, first and last kept.
		src := i * (n - 1) / (maxPoints - 1)
		out = append(out, points[2*src], points[2*src+1])
	}
	return out
}

// clamp pins v into [lo, hi]; non-finite input collapses to lo.
func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) || v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// positiveOr returns v when it is a usable positive dimension, otherwise the
// fallback.
func positiveOr(v, fallback float64) float64 {
	if v > 0 && !math.IsInf(v, 0) {
		return v
	}
	return fallback
}
