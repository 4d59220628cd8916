// Package common defines shared constants and sentinel errors used across
// the agent and server layers of FieldSnap. Callers should use errors.Is to
// match these values.
package common

import "errors"

var (
	// Store-level errors.
	ErrNotFound         = errors.New("not found")
	ErrStoreUnavailable = errors.New("queue store unavailable")

	// Admission-time capacity errors. ErrQueueNearFull is advisory: the item
	// was still admitted.
	ErrQueueFull     = errors.New("upload queue full")
	ErrQueueNearFull = errors.New("upload queue near capacity")

	// Upload task errors.
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrUploadFailed     = errors.New("upload failed")

	// Annotation pipeline errors.
	ErrInvalidAnnotation = errors.New("invalid annotation document")

	// Media post-processing errors.
	ErrUnsupportedMedia = errors.New("unsupported media format")

	// Advisory lock errors.
	ErrLocked = errors.New("resource locked by another editor")

	// Token errors (invalid, malformed or expired bearer token).
	ErrInvalidToken = errors.New("invalid token")
)
