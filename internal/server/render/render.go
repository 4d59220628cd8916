// Package render turns annotation documents into shareable SVG artifacts.
package render

import (
	"fmt"

	"github.com/fieldsnap/fieldsnap/internal/annotation"
	"github.com/fieldsnap/fieldsnap/internal/canvas"
)

// SVG renders the document to standalone SVG markup. The document is
// sanitized first so a stored draft with out-of-range values still
// produces a usable artifact.
func SVG(doc *annotation.Document) (string, error) {
	clean := annotation.Sanitize(doc)

	r := canvas.NewSVGRenderer()
	if err := r.Mount(canvas.Options{
		Width:  clean.Canvas.Width,
		Height: clean.Canvas.Height,
		Scale:  clean.Canvas.Scale,
	}); err != nil {
		return "", fmt.Errorf("failed to mount renderer: %w", err)
	}
	defer r.Unmount()

	for _, obj := range clean.Objects {
		if err := r.Draw(obj); err != nil {
			return "", fmt.Errorf("failed to draw object %s: %w", obj.Common().ID, err)
		}
	}

	return r.ExportVector()
}
