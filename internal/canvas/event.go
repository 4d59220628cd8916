// Package canvas defines the renderer-agnostic contract for interactive
// annotation editing: a normalized pointer-event shape and a renderer
// interface a concrete graphics adapter implements. The annotation document
// model is persisted independently of how it is drawn; swapping the drawing
// engine means writing one adapter, not touching the model or its pipeline.
package canvas

// EventKind classifies a normalized pointer event.
type EventKind string

const (
	PointerDown   EventKind = "down"
	PointerMove   EventKind = "move"
	PointerUp     EventKind = "up"
	PointerTap    EventKind = "tap"
	PointerDouble EventKind = "double"
)

// PointerEvent is a pointer interaction translated into unscaled document
// coordinates at the adapter boundary. Downstream consumers never see device
// pixels or library-specific event types.
type PointerEvent struct {
	Kind EventKind

	// X, Y are document-space coordinates.
	X float64
	Y float64

	// TargetID is the hit object's id, empty when the event landed on the
	// background.
	TargetID     string
	OnBackground bool

	Shift bool
	Ctrl  bool
	Alt   bool

	consumed bool
}

// Consume marks the event handled, stopping the adapter's default behavior
// (the prevent-default capability of the contract).
func (e *PointerEvent) Consume() { e.consumed = true }

// Consumed reports whether a handler consumed the event.
func (e *PointerEvent) Consumed() bool { return e.consumed }

// Handler observes normalized pointer events.
type Handler func(*PointerEvent)

// DevicePointer is a raw pointer sample in device pixels, before coordinate
// normalization. Concrete adapters translate these into PointerEvents.
type DevicePointer struct {
	Kind    EventKind
	DeviceX float64
	DeviceY float64
	Shift   bool
	Ctrl    bool
	Alt     bool
}
