package canvas

import (
	"errors"

	"github.com/fieldsnap/fieldsnap/internal/annotation"
)

// ErrRasterUnsupported is returned by adapters that can only export vector
// output.
var ErrRasterUnsupported = errors.New("renderer does not support raster export")

// Options configures a renderer when it is mounted.
type Options struct {
	Width  float64
	Height float64
	// Scale is the initial zoom factor; zero means 1.
	Scale float64
	// BackgroundURL optionally references the photo the annotations overlay.
	BackgroundURL string
}

// Renderer is the contract one concrete graphics adapter implements. All
// coordinates crossing this interface are unscaled document coordinates; the
// adapter owns the device mapping via its Transform.
type Renderer interface {
	// Mount prepares the drawing surface. Calling Mount on a mounted renderer
	// reconfigures it.
	Mount(opts Options) error
	// Unmount releases the surface; the scene is discarded.
	Unmount()

	SetSize(width, height float64)
	SetScale(scale float64)
	SetBackground(url string)

	// Draw adds or replaces a single object in the scene.
	Draw(obj annotation.Object) error
	// Remove deletes one object; unknown ids are ignored.
	Remove(id string)
	// Clear removes every object but keeps the surface mounted.
	Clear()
	// Redraw replaces the whole scene in one batch.
	Redraw(objs []annotation.Object) error

	SetSelection(ids []string)
	Selection() []string

	// ExportVector flattens the scene to a vector string (e.g. SVG markup).
	ExportVector() (string, error)
	// ExportRaster flattens the scene to encoded raster bytes, or
	// ErrRasterUnsupported.
	ExportRaster() ([]byte, error)

	// Subscribe registers a handler for normalized pointer events and returns
	// its unsubscribe function.
	Subscribe(h Handler) (unsubscribe func())

	// HitTest resolves a document-space point to the topmost object id.
	HitTest(x, y float64) (id string, ok bool)

	// Native exposes the underlying library object for operations the
	// abstraction does not cover. Callers must type-assert and accept
	// breakage when the adapter changes.
	Native() any
}
