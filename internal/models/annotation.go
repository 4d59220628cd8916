package models

import (
	"encoding/json"
	"time"
)

// AnnotationVersion is one immutable revision of a photo's annotation
// document. Saving never mutates in place: each save creates version n+1
// with a back-reference to its parent.
type AnnotationVersion struct {
	MediaID       string          `json:"media_id"`
	Version       int             `json:"version"`
	ParentVersion *int            `json:"parent_version,omitempty"`
	Document      json.RawMessage `json:"document"`
	RenderPath    string          `json:"render_path,omitempty"`
	CreatedBy     string          `json:"created_by"`
	CreatedAt     time.Time       `json:"created_at"`
}
