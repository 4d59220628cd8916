// Package queuestore persists the agent's upload queue in a local SQLite
// database. Payload bytes and metadata are committed in a single row so a
// queued photo survives process restarts intact.
package queuestore

import (
	"context"
	"time"

	"github.com/fieldsnap/fieldsnap/internal/models"
)

// softLimitRatio is the fraction of a hard limit at which Add starts
// returning a near-full warning alongside success.
const softLimitRatio = 0.8

// Limits caps the queue. A zero value disables the corresponding limit.
type Limits struct {
	MaxItems      int
	MaxTotalBytes int64
}

// AdmitResult reports the outcome of a successful Add. Warning is
// common.ErrQueueNearFull when the queue has crossed the soft threshold.
type AdmitResult struct {
	Warning error
}

// Status aggregates queue occupancy by state.
type Status struct {
	Pending    int
	Uploading  int
	Failed     int
	TotalBytes int64
}

// Store is the persistence contract the upload engine drains from.
type Store interface {
	// Add admits a new upload. It returns common.ErrQueueFull when a hard
	// limit would be exceeded; the item is not stored in that case.
	Add(ctx context.Context, u *models.QueuedUpload) (*AdmitResult, error)

	// Get returns a single item or common.ErrNotFound.
	Get(ctx context.Context, id string) (*models.QueuedUpload, error)

	// GetByStatus lists items in the given state, oldest queued first.
	GetByStatus(ctx context.Context, status models.UploadStatus) ([]*models.QueuedUpload, error)

	// SetStatus moves an item to the given state.
	SetStatus(ctx context.Context, id string, status models.UploadStatus) error

	// Remove deletes an item, payload included. Missing items yield
	// common.ErrNotFound.
	Remove(ctx context.Context, id string) error

	// RecordFailure increments the attempt counter, stores the failure
	// cause and the next eligible attempt time, and flips the item to
	// failed once maxAttempts is reached. It returns the updated record.
	RecordFailure(ctx context.Context, id string, cause string, nextAttemptAt time.Time, maxAttempts int) (*models.QueuedUpload, error)

	// ResetFailed moves all failed items back to pending with a fresh
	// attempt budget. It returns the number of items reset.
	ResetFailed(ctx context.Context) (int, error)

	// ClearFailed removes all failed items. It returns the number removed.
	ClearFailed(ctx context.Context) (int, error)

	// Status reports current queue occupancy.
	Status(ctx context.Context) (*Status, error)

	Close() error
}
