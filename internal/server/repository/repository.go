// Package repository persists media records and annotation versions for
// the media API.
package repository

import (
	"context"

	"github.com/fieldsnap/fieldsnap/internal/models"
)

// Repository is the media API's storage contract. All reads are scoped by
// tenant; a row belonging to another tenant behaves as absent.
type Repository interface {
	CreateMedia(ctx context.Context, rec *models.MediaRecord) error
	GetMedia(ctx context.Context, tenantID, id string) (*models.MediaRecord, error)
	ListMediaByJob(ctx context.Context, tenantID, jobID string) ([]*models.MediaRecord, error)

	// SaveAnnotation appends the next version for the media item, wiring
	// the parent back-reference, and returns the stored row.
	SaveAnnotation(ctx context.Context, tenantID string, v *models.AnnotationVersion) (*models.AnnotationVersion, error)

	// GetAnnotation returns the given version, or the latest when version
	// is zero.
	GetAnnotation(ctx context.Context, tenantID, mediaID string, version int) (*models.AnnotationVersion, error)
	ListAnnotationVersions(ctx context.Context, tenantID, mediaID string) ([]*models.AnnotationVersion, error)

	// SetRenderPath records where the rendered annotation artifact lives.
	SetRenderPath(ctx context.Context, mediaID string, version int, renderPath string) error

	// SetThumbnailPath records where the generated preview lives.
	SetThumbnailPath(ctx context.Context, mediaID, thumbnailPath string) error

	Close() error
}
