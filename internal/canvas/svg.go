package canvas

import (
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/fieldsnap/fieldsnap/internal/annotation"
)

// SVGRenderer is a retained-scene adapter that flattens annotation objects to
// SVG markup. It backs the server-side render path and doubles as the
// reference Renderer implementation.
type SVGRenderer struct {
	mu       sync.Mutex
	mounted  bool
	opts     Options
	order    []string
	scene    map[string]annotation.Object
	selected []string
	handlers map[int]Handler
	nextSub  int
}

func NewSVGRenderer() *SVGRenderer {
	return &SVGRenderer{
		scene:    make(map[string]annotation.Object),
		handlers: make(map[int]Handler),
	}
}

func (r *SVGRenderer) Mount(opts Options) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if opts.Scale == 0 {
		opts.Scale = 1
	}
	r.opts = opts
	r.mounted = true
	return nil
}

func (r *SVGRenderer) Unmount() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mounted = false
	r.order = nil
	r.scene = make(map[string]annotation.Object)
	r.selected = nil
}

func (r *SVGRenderer) SetSize(width, height float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.opts.Width, r.opts.Height = width, height
}

func (r *SVGRenderer) SetScale(scale float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if scale > 0 {
		r.opts.Scale = scale
	}
}

func (r *SVGRenderer) SetBackground(url string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.opts.BackgroundURL = url
}

func (r *SVGRenderer) Draw(obj annotation.Object) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := obj.Common().ID
	if id == "" {
		return fmt.Errorf("draw: object has no id")
	}
	if _, exists := r.scene[id]; !exists {
		r.order = append(r.order, id)
	}
	r.scene[id] = obj
	return nil
}

func (r *SVGRenderer) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.scene[id]; !ok {
		return
	}
	delete(r.scene, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

func (r *SVGRenderer) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scene = make(map[string]annotation.Object)
	r.order = nil
	r.selected = nil
}

func (r *SVGRenderer) Redraw(objs []annotation.Object) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scene = make(map[string]annotation.Object, len(objs))
	r.order = r.order[:0]
	for _, o := range objs {
		id := o.Common().ID
		if id == "" {
			return fmt.Errorf("redraw: object has no id")
		}
		if _, exists := r.scene[id]; !exists {
			r.order = append(r.order, id)
		}
		r.scene[id] = o
	}
	return nil
}

func (r *SVGRenderer) SetSelection(ids []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.selected = append([]string(nil), ids...)
}

func (r *SVGRenderer) Selection() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.selected...)
}

func (r *SVGRenderer) ExportVector() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var sb strings.Builder
	fmt.Fprintf(&sb, `<svg xmlns="http://www.w3.org/2000/svg" width="%g" height="%g" viewBox="0 0 %g %g">`,
		r.opts.Width, r.opts.Height, r.opts.Width, r.opts.Height)
	sb.WriteString(`<defs><marker id="arrowhead" markerWidth="10" markerHeight="7" refX="9" refY="3.5" orient="auto"><polygon points="0 0, 10 3.5, 0 7"/></marker></defs>`)
	if r.opts.BackgroundURL != "" {
		fmt.Fprintf(&sb, `<image href="%s" x="0" y="0" width="%g" height="%g"/>`,
			escapeAttr(r.opts.BackgroundURL), r.opts.Width, r.opts.Height)
	}
	for _, id := range r.order {
		if err := writeObject(&sb, r.scene[id]); err != nil {
			return "", err
		}
	}
	sb.WriteString(`</svg>`)
	return sb.String(), nil
}

func (r *SVGRenderer) ExportRaster() ([]byte, error) {
	return nil, ErrRasterUnsupported
}

func (r *SVGRenderer) Subscribe(h Handler) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextSub
	r.nextSub++
	r.handlers[id] = h
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.handlers, id)
	}
}

// Inject translates a raw device pointer sample into a normalized event and
// dispatches it to subscribers. This is the adapter's single coordinate
// boundary.
func (r *SVGRenderer) Inject(dp DevicePointer) {
	r.mu.Lock()
	tr := Transform{Scale: r.opts.Scale}
	x, y := tr.ToDocument(dp.DeviceX, dp.DeviceY)
	target, hit := r.hitTestLocked(x, y)
	handlers := make([]Handler, 0, len(r.handlers))
	for _, h := range r.handlers {
		handlers = append(handlers, h)
	}
	r.mu.Unlock()

	ev := &PointerEvent{
		Kind:         dp.Kind,
		X:            x,
		Y:            y,
		TargetID:     target,
		OnBackground: !hit,
		Shift:        dp.Shift,
		Ctrl:         dp.Ctrl,
		Alt:          dp.Alt,
	}
	for _, h := range handlers {
		h(ev)
		if ev.Consumed() {
			break
		}
	}
}

func (r *SVGRenderer) HitTest(x, y float64) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hitTestLocked(x, y)
}

// hitTestLocked walks the scene topmost-first using per-type bounding boxes.
func (r *SVGRenderer) hitTestLocked(x, y float64) (string, bool) {
	for i := len(r.order) - 1; i >= 0; i-- {
		o := r.scene[r.order[i]]
		x0, y0, x1, y1 := bounds(o)
		// Thin shapes get a small grab margin.
		const pad = 4
		if x >= x0-pad && x <= x1+pad && y >= y0-pad && y <= y1+pad {
			return r.order[i], true
		}
	}
	return "", false
}

func (r *SVGRenderer) Native() any { return r }

// bounds computes a document-space bounding box for any member of the object
// union. New object types must be added here.
func bounds(o annotation.Object) (x0, y0, x1, y1 float64) {
	b := o.Common()
	switch v := o.(type) {
	case *annotation.Arrow:
		return pointsBounds(b.X, b.Y, v.Points)
	case *annotation.Line:
		return pointsBounds(b.X, b.Y, v.Points)
	case *annotation.Rect:
		return b.X, b.Y, b.X + v.Width, b.Y + v.Height
	case *annotation.Circle:
		return b.X - v.Radius, b.Y - v.Radius, b.X + v.Radius, b.Y + v.Radius
	case *annotation.Ellipse:
		return b.X - v.RadiusX, b.Y - v.RadiusY, b.X + v.RadiusX, b.Y + v.RadiusY
	case *annotation.Text:
		// Approximate: width scales with content length, height with size.
		w := float64(len(v.Text)) * v.FontSize * 0.6
		return b.X, b.Y, b.X + w, b.Y + v.FontSize
	case *annotation.Freehand:
		return pointsBounds(b.X, b.Y, v.Points)
	case *annotation.Measurement:
		return pointsBounds(b.X, b.Y, v.Points)
	default:
		return b.X, b.Y, b.X, b.Y
	}
}

func pointsBounds(ox, oy float64, points []float64) (x0, y0, x1, y1 float64) {
	x0, y0 = math.Inf(1), math.Inf(1)
	x1, y1 = math.Inf(-1), math.Inf(-1)
	for i := 0; i+1 < len(points); i += 2 {
		x, y := ox+points[i], oy+points[i+1]
		x0, x1 = math.Min(x0, x), math.Max(x1, x)
		y0, y1 = math.Min(y0, y), math.Max(y1, y)
	}
	if len(points) < 2 {
		return ox, oy, ox, oy
	}
	return x0, y0, x1, y1
}

// writeObject emits one SVG element per object type. The switch is
// exhaustive over the annotation union; an unknown type is a programming
// error surfaced loudly rather than skipped.
func writeObject(sb *strings.Builder, o annotation.Object) error {
	b := o.Common()
	style := commonStyle(b)

	switch v := o.(type) {
	case *annotation.Arrow:
		x1, y1, x2, y2 := segment(b, v.Points)
		fmt.Fprintf(sb, `<line x1="%g" y1="%g" x2="%g" y2="%g"%s marker-end="url(#arrowhead)"/>`, x1, y1, x2, y2, style)
	case *annotation.Line:
		fmt.Fprintf(sb, `<polyline points="%s" fill="none"%s/>`, pointList(b, v.Points), style)
	case *annotation.Rect:
		fmt.Fprintf(sb, `<rect x="%g" y="%g" width="%g" height="%g" fill="none"%s/>`, b.X, b.Y, v.Width, v.Height, style)
	case *annotation.Circle:
		fmt.Fprintf(sb, `<circle cx="%g" cy="%g" r="%g" fill="none"%s/>`, b.X, b.Y, v.Radius, style)
	case *annotation.Ellipse:
		fmt.Fprintf(sb, `<ellipse cx="%g" cy="%g" rx="%g" ry="%g" fill="none"%s/>`, b.X, b.Y, v.RadiusX, v.RadiusY, style)
	case *annotation.Text:
		fmt.Fprintf(sb, `<text x="%g" y="%g" font-size="%g" fill="%s"%s>%s</text>`,
			b.X, b.Y, v.FontSize, escapeAttr(b.Color), opacityAttr(b), escapeText(v.Text))
	case *annotation.Freehand:
		fmt.Fprintf(sb, `<polyline points="%s" fill="none" stroke-linejoin="round" stroke-linecap="round"%s/>`, pointList(b, v.Points), style)
	case *annotation.Measurement:
		x1, y1, x2, y2 := segment(b, v.Points)
		fmt.Fprintf(sb, `<line x1="%g" y1="%g" x2="%g" y2="%g"%s/>`, x1, y1, x2, y2, style)
		if v.ShowLabel {
			fmt.Fprintf(sb, `<text x="%g" y="%g" font-size="12" fill="%s">%s</text>`,
				(x1+x2)/2, (y1+y2)/2-4, escapeAttr(b.Color), escapeText(fmt.Sprintf("%g %s", v.Length, v.Unit)))
		}
	default:
		return fmt.Errorf("svg: unknown object type %T", o)
	}
	return nil
}

func commonStyle(b *annotation.Base) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, ` stroke="%s" stroke-width="%g"`, escapeAttr(b.Color), b.StrokeWidth)
	sb.WriteString(opacityAttr(b))
	if b.Rotation != 0 {
		fmt.Fprintf(&sb, ` transform="rotate(%g %g %g)"`, b.Rotation, b.X, b.Y)
	}
	return sb.String()
}

func opacityAttr(b *annotation.Base) string {
	if b.Opacity == nil {
		return ""
	}
	return fmt.Sprintf(` opacity="%g"`, *b.Opacity)
}

// segment returns the absolute endpoints of a two-point shape.
func segment(b *annotation.Base, points []float64) (x1, y1, x2, y2 float64) {
	if len(points) < 4 {
		return b.X, b.Y, b.X, b.Y
	}
	return b.X + points[0], b.Y + points[1], b.X + points[2], b.Y + points[3]
}

func pointList(b *annotation.Base, points []float64) string {
	var sb strings.Builder
	for i := 0; i+1 < len(points); i += 2 {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%g,%g", b.X+points[i], b.Y+points[i+1])
	}
	return sb.String()
}

var (
	textEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	attrEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;", "'", "&#39;")
)

func escapeText(s string) string { return textEscaper.Replace(s) }
func escapeAttr(s string) string { return attrEscaper.Replace(s) }
