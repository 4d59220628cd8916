package canvas

// Transform maps between device pixels and unscaled document coordinates.
// The adapter applies it exactly once, at the event-translation boundary, so
// every downstream consumer works purely in document space.
type Transform struct {
	// Scale is the current zoom factor (device pixels per document unit).
	Scale float64
	// OffsetX, OffsetY are the device-space position of the document origin.
	OffsetX float64
	OffsetY float64
}

// IdentityTransform maps 1:1 with no panning.
func IdentityTransform() Transform {
	return Transform{Scale: 1}
}

// ToDocument converts device coordinates into document coordinates.
func (t Transform) ToDocument(deviceX, deviceY float64) (x, y float64) {
	s := t.Scale
	if s == 0 {
		s = 1
	}
	return (deviceX - t.OffsetX) / s, (deviceY - t.OffsetY) / s
}

// ToDevice converts document coordinates into device coordinates.
func (t Transform) ToDevice(docX, docY float64) (x, y float64) {
	s := t.Scale
	if s == 0 {
		s = 1
	}
	return docX*s + t.OffsetX, docY*s + t.OffsetY
}
