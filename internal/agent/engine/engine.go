// Package engine drains the local upload queue to remote storage. It caps
// concurrent uploads, retries transient failures with exponential backoff
// and parks items that keep failing so the rest of the queue can move.
package engine

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/fieldsnap/fieldsnap/internal/agent/queuestore"
	"github.com/fieldsnap/fieldsnap/internal/common"
	"github.com/fieldsnap/fieldsnap/internal/logging"
	"github.com/fieldsnap/fieldsnap/internal/models"
)

// BlobStore commits a payload to durable object storage and returns the
// storage path it was written under. URL derives a fetchable link for a
// stored object.
type BlobStore interface {
	Put(ctx context.Context, key string, body []byte, contentType string) (string, error)
	URL(ctx context.Context, key string) (string, error)
	Bucket() string
}

// MediaStore creates media metadata records on the backend and answers
// health probes.
type MediaStore interface {
	CreateMedia(ctx context.Context, rec *models.MediaRecord) error
	Ping(ctx context.Context) error
}

// IdentityResolver supplies the authenticated user and tenant for outgoing
// uploads. It returns common.ErrNotAuthenticated when the session token is
// missing or expired.
type IdentityResolver interface {
	Identity(ctx context.Context) (userID, tenantID string, err error)
}

// Notifier receives upload lifecycle events, typically to surface toasts
// in a UI shell. Implementations must not block.
type Notifier interface {
	UploadSucceeded(u *models.QueuedUpload, rec *models.MediaRecord)
	UploadFailed(u *models.QueuedUpload, err error, terminal bool)
}

// NopNotifier discards all events.
type NopNotifier struct{}

func (NopNotifier) UploadSucceeded(*models.QueuedUpload, *models.MediaRecord) {}
func (NopNotifier) UploadFailed(*models.QueuedUpload, error, bool)            {}

// Config tunes the engine. Zero fields fall back to defaults.
type Config struct {
	Concurrency int64
	MaxAttempts int
	BackoffBase time.Duration
	BackoffCap  time.Duration

	// PreviewDir is where enqueued payloads are spooled so the UI can
	// show them before the upload lands. Empty disables previews.
	PreviewDir string
}

const (
	defaultConcurrency = 3
	defaultMaxAttempts = 10
	defaultBackoffBase = time.Second
	defaultBackoffCap  = 5 * time.Minute
)

func (c *Config) applyDefaults() {
	if c.Concurrency <= 0 {
		c.Concurrency = defaultConcurrency
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = defaultBackoffBase
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = defaultBackoffCap
	}
}

// Engine owns the drain state. All fields live on the struct so multiple
// engines can coexist in one process, tests included.
type Engine struct {
	store    queuestore.Store
	blobs    BlobStore
	media    MediaStore
	identity IdentityResolver
	notifier Notifier
	logger   logging.Logger
	cfg      Config

	sem *semaphore.Weighted
	wg  sync.WaitGroup

	mu       sync.Mutex
	draining bool

	// previews maps upload id to its spooled preview file. Process-local
	// state only; previews do not survive a restart.
	previews sync.Map

	online atomic.Bool

	now func() time.Time
}

// New wires an engine over its collaborators. The notifier may be nil.
func New(store queuestore.Store, blobs BlobStore, media MediaStore, identity IdentityResolver, notifier Notifier, logger logging.Logger, cfg Config) *Engine {
	cfg.applyDefaults()
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Engine{
		store:    store,
		blobs:    blobs,
		media:    media,
		identity: identity,
		notifier: notifier,
		logger:   logger,
		cfg:      cfg,
		sem:      semaphore.NewWeighted(cfg.Concurrency),
		now:      time.Now,
	}
}

// Online reports whether the engine currently believes the backend is
// reachable.
func (e *Engine) Online() bool {
	return e.online.Load()
}

// SetOnline flips connectivity state. Coming back online kicks off a
// drain pass so queued work resumes without user action.
func (e *Engine) SetOnline(online bool) {
	was := e.online.Swap(online)
	if online && !was {
		e.logger.Info(context.Background(), "connectivity restored, draining queue")
		go e.ProcessQueue(context.Background())
	}
	if !online && was {
		e.logger.Info(context.Background(), "connectivity lost, queueing locally")
	}
}

// StartOnlineWatcher probes the backend on a fixed interval and updates
// connectivity state until ctx is cancelled.
func (e *Engine) StartOnlineWatcher(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			err := e.media.Ping(pingCtx)
			cancel()
			e.SetOnline(err == nil)
			// Re-drain on every healthy tick so items whose backoff
			// window has elapsed get picked up again.
			if err == nil {
				go e.ProcessQueue(ctx)
			}
		case <-ctx.Done():
			return
		}
	}
}

// EnqueueResult reports a successful admission to the queue.
type EnqueueResult struct {
	// PreviewPath points at a process-local copy of the photo for
	// immediate display while the upload waits its turn. Empty when
	// previews are disabled or the spool failed.
	PreviewPath string
	// Warning is non-nil when the queue is past its soft capacity
	// threshold. The item was still admitted.
	Warning error
}

// QueueUpload admits a photo to the durable queue. The write commits
// before this returns, so the capture is safe even if the process dies
// immediately after. If the backend is reachable a drain pass starts in
// the background.
func (e *Engine) QueueUpload(ctx context.Context, u *models.QueuedUpload) (*EnqueueResult, error) {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.QueuedAt.IsZero() {
		u.QueuedAt = e.now().UTC()
	}
	u.Status = models.StatusPending

	res, err := e.store.Add(ctx, u)
	if err != nil {
		return nil, err
	}
	e.logger.Info(ctx, "queued upload", "id", u.ID, "job", u.JobID, "size", u.FileSize)

	out := &EnqueueResult{Warning: res.Warning}
	if e.cfg.PreviewDir != "" {
		out.PreviewPath = e.spoolPreview(ctx, u)
		u.LocalPreviewPath = out.PreviewPath
	}

	if e.Online() {
		go e.ProcessQueue(context.Background())
	}
	return out, nil
}

// spoolPreview writes a local copy of the payload for optimistic display.
// Best effort: a failed spool costs the preview, never the enqueue.
func (e *Engine) spoolPreview(ctx context.Context, u *models.QueuedUpload) string {
	if err := os.MkdirAll(e.cfg.PreviewDir, 0o700); err != nil {
		e.logger.Warn(ctx, "failed to create preview dir", "dir", e.cfg.PreviewDir, "error", err)
		return ""
	}
	p := filepath.Join(e.cfg.PreviewDir, u.ID+filepath.Ext(u.FileName))
	if err := os.WriteFile(p, u.Payload, 0o600); err != nil {
		e.logger.Warn(ctx, "failed to spool preview", "id", u.ID, "error", err)
		return ""
	}
	e.previews.Store(u.ID, p)
	return p
}

// ProcessQueue runs one drain pass: it loads due pending items and uploads
// them with at most cfg.Concurrency in flight. A pass that is already
// running makes this call a no-op, so callers may trigger it freely.
func (e *Engine) ProcessQueue(ctx context.Context) {
	e.mu.Lock()
	if e.draining {
		e.mu.Unlock()
		return
	}
	e.draining = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.draining = false
		e.mu.Unlock()
	}()

	pending, err := e.store.GetByStatus(ctx, models.StatusPending)
	if err != nil {
		e.logger.Error(ctx, "failed to load pending uploads", "error", err)
		return
	}

	now := e.now()
	for _, u := range pending {
		// Items inside their backoff window wait for a later pass.
		if !u.NextAttemptAt.IsZero() && u.NextAttemptAt.After(now) {
			continue
		}

		if err := e.sem.Acquire(ctx, 1); err != nil {
			break
		}
		e.wg.Add(1)
		go func(u *models.QueuedUpload) {
			defer e.wg.Done()
			defer e.sem.Release(1)
			e.uploadOne(ctx, u)
		}(u)
	}

	e.wg.Wait()
}

func (e *Engine) uploadOne(ctx context.Context, u *models.QueuedUpload) {
	if err := e.store.SetStatus(ctx, u.ID, models.StatusUploading); err != nil {
		e.logger.Error(ctx, "failed to mark upload in flight", "id", u.ID, "error", err)
		return
	}

	rec, err := e.push(ctx, u)
	if err != nil {
		e.recordFailure(ctx, u, err)
		return
	}

	if err := e.store.Remove(ctx, u.ID); err != nil {
		e.logger.Error(ctx, "failed to dequeue completed upload", "id", u.ID, "error", err)
		return
	}
	if p, ok := e.previews.LoadAndDelete(u.ID); ok {
		_ = os.Remove(p.(string))
	}
	e.logger.Info(ctx, "upload complete", "id", u.ID, "media", rec.ID)
	e.notifier.UploadSucceeded(u, rec)
}

// push commits the payload to blob storage and then creates the metadata
// record. Ordering matters: an orphaned blob is harmless, a metadata row
// without a blob is not.
func (e *Engine) push(ctx context.Context, u *models.QueuedUpload) (*models.MediaRecord, error) {
	userID, tenantID, err := e.identity.Identity(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve identity: %w", err)
	}

	key := path.Join(tenantID, u.JobID, u.ID, u.FileName)
	storagePath, err := e.blobs.Put(ctx, key, u.Payload, u.MimeType)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrUploadFailed, err)
	}

	// A missing link is cosmetic; the record still carries bucket+path.
	url, err := e.blobs.URL(ctx, storagePath)
	if err != nil {
		e.logger.Warn(ctx, "failed to derive media url", "id", u.ID, "error", err)
	}

	rec := &models.MediaRecord{
		ID:          u.ID,
		TenantID:    tenantID,
		JobID:       u.JobID,
		CustomerID:  u.CustomerID,
		StoragePath: storagePath,
		Bucket:      e.blobs.Bucket(),
		FileName:    u.FileName,
		MimeType:    u.MimeType,
		FileSize:    u.FileSize,
		Category:    u.Category,
		Description: u.Description,
		EXIF:        u.EXIF,
		GPS:         u.GPS,
		UploadedBy:  userID,
		CreatedAt:   e.now().UTC(),
		URL:         url,
	}
	if err := e.media.CreateMedia(ctx, rec); err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrUploadFailed, err)
	}
	return rec, nil
}

func (e *Engine) recordFailure(ctx context.Context, u *models.QueuedUpload, cause error) {
	// The store increments the counter below; the delay is computed from
	// the attempt count this failure brings it to.
	delay := backoffDelay(u.AttemptCount+1, e.cfg.BackoffBase, e.cfg.BackoffCap)
	next := e.now().Add(delay)

	updated, err := e.store.RecordFailure(ctx, u.ID, cause.Error(), next, e.cfg.MaxAttempts)
	if err != nil {
		e.logger.Error(ctx, "failed to record upload failure", "id", u.ID, "error", err)
		return
	}

	terminal := updated.Status == models.StatusFailed
	if terminal {
		e.logger.Error(ctx, "upload failed permanently", "id", u.ID, "attempts", updated.AttemptCount, "error", cause)
	} else {
		e.logger.Warn(ctx, "upload attempt failed", "id", u.ID, "attempt", updated.AttemptCount, "retry_at", next, "error", cause)
	}
	e.notifier.UploadFailed(updated, cause, terminal)
}

// RetryFailed returns all permanently failed items to the pending queue
// with a fresh attempt budget and starts a drain pass.
func (e *Engine) RetryFailed(ctx context.Context) (int, error) {
	n, err := e.store.ResetFailed(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 && e.Online() {
		go e.ProcessQueue(context.Background())
	}
	return n, nil
}

// ClearFailed discards all permanently failed items.
func (e *Engine) ClearFailed(ctx context.Context) (int, error) {
	return e.store.ClearFailed(ctx)
}

// Status reports queue occupancy.
func (e *Engine) Status(ctx context.Context) (*queuestore.Status, error) {
	return e.store.Status(ctx)
}

// Close waits for in-flight uploads to finish, closes the store and
// returns how many items remain queued so callers can warn before exit.
func (e *Engine) Close(ctx context.Context) (int, error) {
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}

	st, err := e.store.Status(ctx)
	remaining := 0
	if err == nil {
		remaining = st.Pending + st.Uploading + st.Failed
	}

	if cerr := e.store.Close(); cerr != nil {
		return remaining, cerr
	}
	return remaining, err
}
