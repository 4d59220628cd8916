// Package cli wires the upload agent together and drives it from a small
// interactive prompt.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/fieldsnap/fieldsnap/internal/agent/config"
	"github.com/fieldsnap/fieldsnap/internal/agent/engine"
	"github.com/fieldsnap/fieldsnap/internal/agent/inbox"
	"github.com/fieldsnap/fieldsnap/internal/agent/queuestore"
	"github.com/fieldsnap/fieldsnap/internal/common"
	"github.com/fieldsnap/fieldsnap/internal/logging"
	"github.com/fieldsnap/fieldsnap/internal/models"
	"github.com/fieldsnap/fieldsnap/internal/remote"
)

// App owns the agent's long-lived pieces: the durable queue, the upload
// engine and the optional capture-directory watcher.
type App struct {
	cfg    *config.Config
	engine *engine.Engine
	inbox  *inbox.Watcher
	logger logging.Logger

	out io.Writer
	in  *bufio.Scanner
}

// NewApp builds the agent from config. When the queue database cannot be
// opened at the configured path the agent falls back to an in-memory
// queue so the session still works, at the cost of durability.
func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	logger := logging.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	limits := queuestore.Limits{MaxItems: cfg.MaxQueueItems, MaxTotalBytes: cfg.MaxQueueBytes}
	store, err := queuestore.Open(ctx, cfg.QueueDBPath, limits)
	if errors.Is(err, common.ErrStoreUnavailable) {
		logger.Error(ctx, "queue store unavailable, falling back to in-memory queue", "path", cfg.QueueDBPath, "error", err)
		store, err = queuestore.Open(ctx, ":memory:", limits)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open queue store: %w", err)
	}

	blobs, err := remote.NewS3BlobStore(ctx, remote.S3Config{
		Endpoint:  cfg.S3Endpoint,
		Region:    cfg.S3Region,
		Bucket:    cfg.S3Bucket,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to build blob store: %w", err)
	}

	identity := remote.NewFileIdentity(cfg.TokenFile)
	media := remote.NewMediaClient(cfg.ServerEndpointAddr, identity)

	app := &App{
		cfg:    cfg,
		logger: logger,
		out:    os.Stdout,
		in:     bufio.NewScanner(os.Stdin),
	}

	app.engine = engine.New(store, blobs, media, identity, app, logger, engine.Config{
		Concurrency: int64(cfg.UploadConcurrency),
		MaxAttempts: cfg.MaxAttempts,
		BackoffBase: cfg.BackoffBase,
		BackoffCap:  cfg.BackoffCap,
		PreviewDir:  cfg.PreviewDir,
	})

	if cfg.InboxDir != "" {
		w, err := inbox.New(cfg.InboxDir, app.engine, logger, inbox.Options{JobID: cfg.InboxJobID})
		if err != nil {
			return nil, fmt.Errorf("failed to prepare inbox watcher: %w", err)
		}
		app.inbox = w
	}

	return app, nil
}

// UploadSucceeded implements engine.Notifier.
func (a *App) UploadSucceeded(u *models.QueuedUpload, rec *models.MediaRecord) {
	fmt.Fprintf(a.out, "uploaded %s (%s)\n", u.FileName, rec.ID)
}

// UploadFailed implements engine.Notifier.
func (a *App) UploadFailed(u *models.QueuedUpload, err error, terminal bool) {
	if terminal {
		fmt.Fprintf(a.out, "upload of %s failed permanently after %d attempts: %v\n", u.FileName, u.AttemptCount, err)
		return
	}
	fmt.Fprintf(a.out, "upload of %s failed, will retry: %v\n", u.FileName, err)
}

// Run starts the background loops and enters the prompt. It returns when
// the user quits or stdin closes.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go a.engine.StartOnlineWatcher(ctx, a.cfg.OnlineCheckInterval)

	if a.inbox != nil {
		if err := a.inbox.Start(ctx); err != nil {
			a.logger.Warn(ctx, "inbox watcher disabled", "error", err)
		} else {
			defer a.inbox.Close()
		}
	}

	fmt.Fprintln(a.out, "fieldsnap agent (type 'help' for commands)")
	for {
		fmt.Fprintf(a.out, "agent %s> ", a.mode())
		if !a.in.Scan() {
			break
		}
		parts := strings.Fields(a.in.Text())
		if len(parts) == 0 {
			continue
		}

		switch parts[0] {
		case "help":
			fmt.Fprintln(a.out, "Available commands: status, sync, retry, clear, exit")
		case "status":
			a.printStatus(ctx)
		case "sync":
			a.engine.ProcessQueue(ctx)
			a.printStatus(ctx)
		case "retry":
			n, err := a.engine.RetryFailed(ctx)
			if err != nil {
				fmt.Fprintf(a.out, "retry failed: %v\n", err)
				continue
			}
			fmt.Fprintf(a.out, "requeued %d failed uploads\n", n)
		case "clear":
			n, err := a.engine.ClearFailed(ctx)
			if err != nil {
				fmt.Fprintf(a.out, "clear failed: %v\n", err)
				continue
			}
			fmt.Fprintf(a.out, "discarded %d failed uploads\n", n)
		case "exit", "quit":
			if a.confirmQuit(ctx) {
				fmt.Fprintln(a.out, "Bye!")
				return a.shutdown(ctx, cancel)
			}
		default:
			fmt.Fprintf(a.out, "unknown command %q\n", parts[0])
		}
	}
	return a.shutdown(ctx, cancel)
}

func (a *App) mode() string {
	if a.engine.Online() {
		return "(online)"
	}
	return "(offline)"
}

func (a *App) printStatus(ctx context.Context) {
	st, err := a.engine.Status(ctx)
	if err != nil {
		fmt.Fprintf(a.out, "status unavailable: %v\n", err)
		return
	}
	fmt.Fprintf(a.out, "pending: %d  uploading: %d  failed: %d  queued bytes: %d\n",
		st.Pending, st.Uploading, st.Failed, st.TotalBytes)
}

// confirmQuit warns when work is still queued. Queued items are durable
// and resume on the next start, but the user should know they exist.
func (a *App) confirmQuit(ctx context.Context) bool {
	st, err := a.engine.Status(ctx)
	if err != nil || st.Pending+st.Uploading == 0 {
		return true
	}
	fmt.Fprintf(a.out, "%d uploads are still queued and will resume on next start. Quit anyway? [y/N] ", st.Pending+st.Uploading)
	if !a.in.Scan() {
		return true
	}
	return parseYes(a.in.Text())
}

func parseYes(line string) bool {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}

func (a *App) shutdown(ctx context.Context, cancel context.CancelFunc) error {
	cancel()

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer closeCancel()

	remaining, err := a.engine.Close(closeCtx)
	if err != nil {
		return err
	}
	if remaining > 0 {
		a.logger.Info(closeCtx, "queued uploads preserved for next session", "count", remaining)
	}
	return nil
}
