// Package inbox watches a capture directory and feeds dropped photos into
// the upload queue. Files are deleted once the queue has durably accepted
// them, so the directory acts as a hand-off point for camera tooling.
package inbox

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/fieldsnap/fieldsnap/internal/agent/engine"
	"github.com/fieldsnap/fieldsnap/internal/logging"
	"github.com/fieldsnap/fieldsnap/internal/models"
)

// Enqueuer admits a photo to the durable upload queue.
type Enqueuer interface {
	QueueUpload(ctx context.Context, u *models.QueuedUpload) (*engine.EnqueueResult, error)
}

// mimeByExt lists the image types the inbox picks up. Anything else in
// the directory is ignored.
var mimeByExt = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".heic": "image/heic",
	".webp": "image/webp",
}

// Options tune a Watcher.
type Options struct {
	// JobID is attached to every photo ingested from the directory.
	JobID string
	// Category defaults to CategoryOther when empty.
	Category models.Category
	// Settle is how long a file must stay quiet after its last write
	// before it is read. Defaults to 200ms.
	Settle time.Duration
}

// Watcher ingests photos from a single directory.
type Watcher struct {
	dir      string
	enqueuer Enqueuer
	logger   logging.Logger
	opts     Options

	fw *fsnotify.Watcher

	mu     sync.Mutex
	timers map[string]*time.Timer
	wg     sync.WaitGroup
}

// New prepares a watcher over dir. Start must be called to begin ingesting.
func New(dir string, enqueuer Enqueuer, logger logging.Logger, opts Options) (*Watcher, error) {
	if opts.Settle <= 0 {
		opts.Settle = 200 * time.Millisecond
	}
	if opts.Category == "" {
		opts.Category = models.CategoryOther
	}
	return &Watcher{
		dir:      dir,
		enqueuer: enqueuer,
		logger:   logger,
		opts:     opts,
		timers:   make(map[string]*time.Timer),
	}, nil
}

// Start ingests files already present in the directory, then watches for
// new ones until ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := fw.Add(w.dir); err != nil {
		fw.Close()
		return fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}
	w.fw = fw

	// Files dropped while the agent was not running.
	if err := w.scanExisting(ctx); err != nil {
		w.logger.Warn(ctx, "initial inbox scan failed", "error", err)
	}

	w.wg.Add(1)
	go w.loop(ctx)
	return nil
}

// Close stops the watch loop and waits for in-flight ingests.
func (w *Watcher) Close() error {
	var err error
	if w.fw != nil {
		err = w.fw.Close()
	}
	w.wg.Wait()
	return err
}

func (w *Watcher) scanExisting(ctx context.Context) error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		w.ingest(ctx, filepath.Join(w.dir, entry.Name()))
	}
	return nil
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if _, ok := mimeByExt[strings.ToLower(filepath.Ext(event.Name))]; !ok {
				continue
			}
			w.scheduleIngest(ctx, event.Name)
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn(ctx, "inbox watch error", "error", err)
		}
	}
}

// scheduleIngest debounces per file so a photo still being written is not
// read half-finished. Every new write resets the timer.
func (w *Watcher) scheduleIngest(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	// A stopped timer's callback never runs, so its wg slot must be
	// released here or Close would wait on it forever.
	if t, ok := w.timers[path]; ok && t.Stop() {
		w.wg.Done()
	}
	w.wg.Add(1)
	w.timers[path] = time.AfterFunc(w.opts.Settle, func() {
		defer w.wg.Done()
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()
		w.ingest(ctx, path)
	})
}

func (w *Watcher) ingest(ctx context.Context, path string) {
	mime, ok := mimeByExt[strings.ToLower(filepath.Ext(path))]
	if !ok {
		return
	}

	payload, err := os.ReadFile(path)
	if err != nil {
		w.logger.Warn(ctx, "failed to read inbox file", "path", path, "error", err)
		return
	}
	if len(payload) == 0 {
		return
	}

	u := &models.QueuedUpload{
		JobID:    w.opts.JobID,
		Category: w.opts.Category,
		FileName: filepath.Base(path),
		MimeType: mime,
		FileSize: int64(len(payload)),
		Payload:  payload,
	}
	res, err := w.enqueuer.QueueUpload(ctx, u)
	if err != nil {
		w.logger.Error(ctx, "failed to queue inbox file", "path", path, "error", err)
		return
	}
	if res.Warning != nil {
		w.logger.Warn(ctx, "upload queue near capacity", "path", path)
	}

	// The payload is durable in the queue now; the source file has served
	// its purpose.
	if err := os.Remove(path); err != nil {
		w.logger.Warn(ctx, "failed to remove ingested file", "path", path, "error", err)
	}
	w.logger.Info(ctx, "ingested photo", "file", u.FileName, "size", u.FileSize)
}
