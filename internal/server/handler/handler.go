// Package handler exposes the media API over HTTP: media registration,
// annotation versioning and advisory locks.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/fieldsnap/fieldsnap/internal/annotation"
	"github.com/fieldsnap/fieldsnap/internal/common"
	"github.com/fieldsnap/fieldsnap/internal/models"
	"github.com/fieldsnap/fieldsnap/internal/server/render"
	"github.com/fieldsnap/fieldsnap/internal/server/repository"
	"github.com/fieldsnap/fieldsnap/internal/server/tasks"
	"github.com/fieldsnap/fieldsnap/internal/server/thumbs"
)

// LockService grants and inspects annotation locks.
type LockService interface {
	Acquire(ctx context.Context, resourceID, holderID, holderName string) (*models.Lock, error)
	Release(ctx context.Context, resourceID, holderID string) error
	State(ctx context.Context, resourceID string) (*models.Lock, error)
}

// BlobStore reads uploaded payloads and stores derived artifacts.
type BlobStore interface {
	Put(ctx context.Context, key string, body []byte, contentType string) (string, error)
	Get(ctx context.Context, key string) ([]byte, error)
}

// TaskSubmitter dispatches fire-and-forget background work.
type TaskSubmitter interface {
	Submit(task tasks.Task) bool
}

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// SaveAnnotationResponse reports the stored version and any values the
// sanitizer had to fix.
type SaveAnnotationResponse struct {
	Version       int      `json:"version"`
	ParentVersion *int     `json:"parent_version,omitempty"`
	Warnings      []string `json:"warnings,omitempty"`
}

// Handler provides the HTTP handlers for the media API.
type Handler struct {
	repo      repository.Repository
	locks     LockService
	blobs     BlobStore
	tasks     TaskSubmitter
	logger    *zap.Logger
	jwtSecret []byte
}

// NewHandler wires the media API handlers.
func NewHandler(repo repository.Repository, locks LockService, blobs BlobStore, submitter TaskSubmitter, logger *zap.Logger, jwtSecret []byte) *Handler {
	return &Handler{
		repo:      repo,
		locks:     locks,
		blobs:     blobs,
		tasks:     submitter,
		logger:    logger,
		jwtSecret: jwtSecret,
	}
}

// RegisterRoutes registers the authenticated API routes on rg.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.Use(h.Authenticate)

	rg.POST("/media", h.CreateMedia)
	rg.GET("/media/:id", h.GetMedia)
	rg.GET("/jobs/:jobID/media", h.ListJobMedia)

	rg.POST("/media/:id/annotations", h.SaveAnnotation)
	rg.GET("/media/:id/annotations", h.GetAnnotation)
	rg.GET("/media/:id/annotations/versions", h.ListAnnotationVersions)

	rg.POST("/media/:id/lock", h.AcquireLock)
	rg.DELETE("/media/:id/lock", h.ReleaseLock)
	rg.GET("/media/:id/lock", h.LockState)
}

// Health answers liveness probes; the agent's online watcher polls it.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": "fieldsnap-media"})
}

// CreateMedia registers metadata for a payload the agent already
// committed to blob storage.
func (h *Handler) CreateMedia(c *gin.Context) {
	claims := currentClaims(c)

	var rec models.MediaRecord
	if err := c.ShouldBindJSON(&rec); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: err.Error()})
		return
	}
	if rec.ID == "" || rec.JobID == "" || rec.StoragePath == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: "id, job_id and storage_path are required"})
		return
	}

	// The token, not the body, decides whose media this is.
	rec.TenantID = claims.TenantID
	rec.UploadedBy = claims.UserID
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	if err := h.repo.CreateMedia(c.Request.Context(), &rec); err != nil {
		h.logger.Error("failed to create media", zap.String("id", rec.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal_error", Message: "failed to create media"})
		return
	}

	h.scheduleThumbnail(rec.ID, rec.StoragePath)

	c.JSON(http.StatusCreated, rec)
}

// scheduleThumbnail dispatches preview generation fire-and-forget. Media
// the decoders cannot read simply never gets a thumbnail.
func (h *Handler) scheduleThumbnail(mediaID, storagePath string) {
	h.tasks.Submit(tasks.Task{
		Name: "generate-thumbnail",
		Run: func(ctx context.Context) error {
			src, err := h.blobs.Get(ctx, storagePath)
			if err != nil {
				return fmt.Errorf("fetch %s: %w", storagePath, err)
			}
			thumb, err := thumbs.JPEG(src, thumbs.DefaultMaxEdge)
			if err != nil {
				return fmt.Errorf("thumbnail %s: %w", mediaID, err)
			}
			key := fmt.Sprintf("thumbs/%s.jpg", mediaID)
			path, err := h.blobs.Put(ctx, key, thumb, "image/jpeg")
			if err != nil {
				return fmt.Errorf("store thumbnail %s: %w", key, err)
			}
			return h.repo.SetThumbnailPath(ctx, mediaID, path)
		},
	})
}

// GetMedia returns a single media record.
func (h *Handler) GetMedia(c *gin.Context) {
	claims := currentClaims(c)

	rec, err := h.repo.GetMedia(c.Request.Context(), claims.TenantID, c.Param("id"))
	if errors.Is(err, common.ErrNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "not_found", Message: "media not found"})
		return
	}
	if err != nil {
		h.logger.Error("failed to get media", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal_error", Message: "failed to retrieve media"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

// ListJobMedia returns all media attached to a job.
func (h *Handler) ListJobMedia(c *gin.Context) {
	claims := currentClaims(c)

	records, err := h.repo.ListMediaByJob(c.Request.Context(), claims.TenantID, c.Param("jobID"))
	if err != nil {
		h.logger.Error("failed to list media", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal_error", Message: "failed to list media"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": records})
}

// SaveAnnotation validates, sanitizes and stores a new annotation version
// for a photo, then schedules SVG rendering in the background.
func (h *Handler) SaveAnnotation(c *gin.Context) {
	claims := currentClaims(c)
	mediaID := c.Param("id")
	ctx := c.Request.Context()

	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, annotation.MaxDocumentBytes*2))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: "failed to read body"})
		return
	}

	doc, err := annotation.Parse(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_annotation", Message: err.Error()})
		return
	}

	result := annotation.Validate(doc)
	if !result.Valid {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":    "invalid_annotation",
			"errors":   result.Errors,
			"warnings": result.Warnings,
		})
		return
	}

	// Advisory lock check: a live lock held by someone else rejects the
	// save so two technicians do not silently overwrite each other.
	if lock, lerr := h.locks.State(ctx, mediaID); lerr == nil && lock != nil && !lock.HeldBy(claims.UserID, time.Now()) {
		c.JSON(http.StatusConflict, gin.H{"error": "locked", "lock": lock})
		return
	}

	clean := annotation.Sanitize(doc)
	document, err := json.Marshal(clean)
	if err != nil {
		h.logger.Error("failed to encode sanitized document", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal_error", Message: "failed to store annotation"})
		return
	}

	saved, err := h.repo.SaveAnnotation(ctx, claims.TenantID, &models.AnnotationVersion{
		MediaID:   mediaID,
		Document:  document,
		CreatedBy: claims.UserID,
		CreatedAt: time.Now().UTC(),
	})
	if errors.Is(err, common.ErrNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "not_found", Message: "media not found"})
		return
	}
	if err != nil {
		h.logger.Error("failed to save annotation", zap.String("media", mediaID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal_error", Message: "failed to store annotation"})
		return
	}

	h.scheduleRender(mediaID, saved.Version, clean)

	c.JSON(http.StatusCreated, SaveAnnotationResponse{
		Version:       saved.Version,
		ParentVersion: saved.ParentVersion,
		Warnings:      result.Warnings,
	})
}

// scheduleRender dispatches SVG rendering fire-and-forget. A full queue
// or a failed render never affects the save that triggered it.
func (h *Handler) scheduleRender(mediaID string, version int, doc *annotation.Document) {
	h.tasks.Submit(tasks.Task{
		Name: "render-annotation",
		Run: func(ctx context.Context) error {
			svg, err := render.SVG(doc)
			if err != nil {
				return fmt.Errorf("render %s v%d: %w", mediaID, version, err)
			}
			key := fmt.Sprintf("renders/%s/%d.svg", mediaID, version)
			path, err := h.blobs.Put(ctx, key, []byte(svg), "image/svg+xml")
			if err != nil {
				return fmt.Errorf("store render %s: %w", key, err)
			}
			return h.repo.SetRenderPath(ctx, mediaID, version, path)
		},
	})
}

// GetAnnotation returns an annotation version; the latest by default,
// a specific one via ?version=n.
func (h *Handler) GetAnnotation(c *gin.Context) {
	claims := currentClaims(c)
	mediaID := c.Param("id")

	version := 0
	if v := c.Query("version"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: "version must be a positive integer"})
			return
		}
		version = parsed
	}

	ann, err := h.repo.GetAnnotation(c.Request.Context(), claims.TenantID, mediaID, version)
	if errors.Is(err, common.ErrNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "not_found", Message: "annotation not found"})
		return
	}
	if err != nil {
		h.logger.Error("failed to get annotation", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal_error", Message: "failed to retrieve annotation"})
		return
	}
	c.JSON(http.StatusOK, ann)
}

// ListAnnotationVersions returns the version history, oldest first.
func (h *Handler) ListAnnotationVersions(c *gin.Context) {
	claims := currentClaims(c)

	versions, err := h.repo.ListAnnotationVersions(c.Request.Context(), claims.TenantID, c.Param("id"))
	if err != nil {
		h.logger.Error("failed to list annotation versions", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal_error", Message: "failed to list versions"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": versions})
}

// AcquireLock takes the advisory lock for the calling user.
func (h *Handler) AcquireLock(c *gin.Context) {
	claims := currentClaims(c)

	lock, err := h.locks.Acquire(c.Request.Context(), c.Param("id"), claims.UserID, claims.Name)
	if errors.Is(err, common.ErrLocked) {
		c.JSON(http.StatusConflict, gin.H{"error": "locked", "lock": lock})
		return
	}
	if err != nil {
		h.logger.Error("failed to acquire lock", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal_error", Message: "failed to acquire lock"})
		return
	}
	c.JSON(http.StatusOK, lock)
}

// ReleaseLock drops the caller's advisory lock.
func (h *Handler) ReleaseLock(c *gin.Context) {
	claims := currentClaims(c)

	err := h.locks.Release(c.Request.Context(), c.Param("id"), claims.UserID)
	if errors.Is(err, common.ErrLocked) {
		c.JSON(http.StatusConflict, ErrorResponse{Error: "locked", Message: "lock held by another user"})
		return
	}
	if err != nil {
		h.logger.Error("failed to release lock", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal_error", Message: "failed to release lock"})
		return
	}
	c.Status(http.StatusNoContent)
}

// LockState reports whether the document is locked and by whom.
func (h *Handler) LockState(c *gin.Context) {
	claims := currentClaims(c)

	lock, err := h.locks.State(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.logger.Error("failed to read lock state", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal_error", Message: "failed to read lock"})
		return
	}
	if lock == nil {
		c.JSON(http.StatusOK, gin.H{"locked": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"locked":   true,
		"own_lock": lock.HeldBy(claims.UserID, time.Now()),
		"lock":     lock,
	})
}
