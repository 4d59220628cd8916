// Package models defines the data records shared by the upload agent and the
// media API.
package models

import "time"

// UploadStatus tracks a queued item through the engine's state machine.
type UploadStatus string

const (
	StatusPending   UploadStatus = "pending"
	StatusUploading UploadStatus = "uploading"
	StatusFailed    UploadStatus = "failed"
)

// Category classifies a job photo.
type Category string

const (
	CategoryBefore    Category = "before"
	CategoryAfter     Category = "after"
	CategoryDamage    Category = "damage"
	CategoryEquipment Category = "equipment"
	CategoryReceipt   Category = "receipt"
	CategoryOther     Category = "other"
)

// GPSPosition is a capture location.
type GPSPosition struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// EXIFData holds the capture metadata extracted from a photo.
type EXIFData struct {
	CapturedAt  *time.Time   `json:"captured_at,omitempty"`
	DeviceMake  string       `json:"device_make,omitempty"`
	DeviceModel string       `json:"device_model,omitempty"`
	GPS         *GPSPosition `json:"gps,omitempty"`
}

// QueuedUpload is one pending media upload, persisted in the local queue
// store together with its binary payload so a single durable write commits
// both. The store owns the record; the engine borrows it while processing.
type QueuedUpload struct {
	ID          string
	JobID       string
	CustomerID  string
	Category    Category
	Description string

	FileName string
	MimeType string
	FileSize int64
	Payload  []byte

	EXIF *EXIFData
	GPS  *GPSPosition

	QueuedAt      time.Time
	AttemptCount  int
	Status        UploadStatus
	LastError     string
	NextAttemptAt time.Time

	// LocalPreviewPath is a process-local handle for optimistic UI preview.
	// It is never persisted across sessions.
	LocalPreviewPath string `json:"-"`
}

// MediaRecord is the metadata row created remotely once a payload has been
// committed to blob storage.
type MediaRecord struct {
	ID          string       `json:"id"`
	TenantID    string       `json:"tenant_id"`
	JobID       string       `json:"job_id"`
	CustomerID  string       `json:"customer_id,omitempty"`
	StoragePath string       `json:"storage_path"`
	Bucket      string       `json:"bucket"`
	FileName    string       `json:"file_name"`
	MimeType    string       `json:"mime_type"`
	FileSize    int64        `json:"file_size"`
	Category    Category     `json:"category"`
	Description string       `json:"description,omitempty"`
	EXIF        *EXIFData    `json:"exif,omitempty"`
	GPS         *GPSPosition `json:"gps,omitempty"`
	UploadedBy  string       `json:"uploaded_by"`
	CreatedAt   time.Time    `json:"created_at"`

	// ThumbnailPath is filled in by the background thumbnail worker once
	// a preview has been generated and stored.
	ThumbnailPath string `json:"thumbnail_path,omitempty"`

	// URL is a fetchable link for the stored payload, derived from the
	// blob store at upload time. Signed links expire; bucket and
	// storage path remain the durable reference.
	URL string `json:"url,omitempty"`
}

// Lock is an advisory, time-boxed mutual-exclusion token on an annotation
// document. Storage lives in the lock service; consumers only inspect state.
type Lock struct {
	ResourceID string    `json:"resource_id"`
	HolderID   string    `json:"holder_id"`
	HolderName string    `json:"holder_name"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Expired reports whether the lock's lease has lapsed at the given instant.
func (l *Lock) Expired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}

// HeldBy reports whether holder currently owns the lock.
func (l *Lock) HeldBy(holderID string, now time.Time) bool {
	return l.HolderID == holderID && !l.Expired(now)
}
