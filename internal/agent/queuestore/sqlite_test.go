package queuestore

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"

	"github.com/fieldsnap/fieldsnap/internal/common"
	"github.com/fieldsnap/fieldsnap/internal/models"
)

func setupStore(t *testing.T, limits Limits) *SQLiteStore {
	t.Helper()
	s, err := Open(context.Background(), ":memory:", limits)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newUpload(id string, size int64, queuedAt time.Time) *models.QueuedUpload {
	return &models.QueuedUpload{
		ID:       id,
		JobID:    "job-1",
		Category: models.CategoryBefore,
		FileName: id + ".jpg",
		MimeType: "image/jpeg",
		FileSize: size,
		Payload:  make([]byte, size),
		QueuedAt: queuedAt,
		Status:   models.StatusPending,
	}
}

func TestAdd_HardItemLimit(t *testing.T) {
	s := setupStore(t, Limits{MaxItems: 2})
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := s.Add(ctx, newUpload("a", 10, now))
	require.NoError(t, err)
	_, err = s.Add(ctx, newUpload("b", 10, now))
	require.NoError(t, err)

	_, err = s.Add(ctx, newUpload("c", 10, now))
	require.ErrorIs(t, err, common.ErrQueueFull)

	// The rejected item must not be stored.
	st, err := s.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Pending)
}

func TestAdd_HardByteLimit(t *testing.T) {
	s := setupStore(t, Limits{MaxTotalBytes: 100})
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := s.Add(ctx, newUpload("a", 60, now))
	require.NoError(t, err)

	_, err = s.Add(ctx, newUpload("b", 60, now))
	require.ErrorIs(t, err, common.ErrQueueFull)
}

func TestAdd_NearFullWarning(t *testing.T) {
	s := setupStore(t, Limits{MaxItems: 5})
	ctx := context.Background()
	now := time.Now().UTC()

	for i := 0; i < 3; i++ {
		res, err := s.Add(ctx, newUpload(fmt.Sprintf("u%d", i), 1, now))
		require.NoError(t, err)
		assert.NoError(t, res.Warning)
	}

	// The fourth item crosses 80% occupancy.
	res, err := s.Add(ctx, newUpload("u3", 1, now))
	require.NoError(t, err)
	assert.ErrorIs(t, res.Warning, common.ErrQueueNearFull)
}

func TestGetByStatus_OldestFirst(t *testing.T) {
	s := setupStore(t, Limits{})
	ctx := context.Background()
	base := time.Now().UTC()

	_, err := s.Add(ctx, newUpload("newer", 1, base.Add(time.Minute)))
	require.NoError(t, err)
	_, err = s.Add(ctx, newUpload("oldest", 1, base))
	require.NoError(t, err)
	_, err = s.Add(ctx, newUpload("newest", 1, base.Add(2*time.Minute)))
	require.NoError(t, err)

	items, err := s.GetByStatus(ctx, models.StatusPending)
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, "oldest", items[0].ID)
	assert.Equal(t, "newer", items[1].ID)
	assert.Equal(t, "newest", items[2].ID)
}

func TestGet_RoundTrip(t *testing.T) {
	s := setupStore(t, Limits{})
	ctx := context.Background()

	captured := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	u := newUpload("a", 4, time.Now().UTC())
	u.Payload = []byte{0xde, 0xad, 0xbe, 0xef}
	u.Description = "cracked heat exchanger"
	u.EXIF = &models.EXIFData{CapturedAt: &captured, DeviceMake: "Apple"}
	u.GPS = &models.GPSPosition{Latitude: 52.37, Longitude: 4.89}

	_, err := s.Add(ctx, u)
	require.NoError(t, err)

	got, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, got.Payload)
	assert.Equal(t, "cracked heat exchanger", got.Description)
	require.NotNil(t, got.EXIF)
	assert.Equal(t, "Apple", got.EXIF.DeviceMake)
	require.NotNil(t, got.GPS)
	assert.InDelta(t, 52.37, got.GPS.Latitude, 1e-9)
}

func TestGet_NotFound(t *testing.T) {
	s := setupStore(t, Limits{})
	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestRemove(t *testing.T) {
	s := setupStore(t, Limits{})
	ctx := context.Background()

	_, err := s.Add(ctx, newUpload("a", 1, time.Now().UTC()))
	require.NoError(t, err)

	require.NoError(t, s.Remove(ctx, "a"))
	assert.ErrorIs(t, s.Remove(ctx, "a"), common.ErrNotFound)
}

func TestRecordFailure_RetriesThenFails(t *testing.T) {
	s := setupStore(t, Limits{})
	ctx := context.Background()
	maxAttempts := 3

	_, err := s.Add(ctx, newUpload("a", 1, time.Now().UTC()))
	require.NoError(t, err)

	next := time.Now().UTC().Add(time.Second).Truncate(time.Second)
	u, err := s.RecordFailure(ctx, "a", "connection refused", next, maxAttempts)
	require.NoError(t, err)
	assert.Equal(t, 1, u.AttemptCount)
	assert.Equal(t, models.StatusPending, u.Status)
	assert.Equal(t, "connection refused", u.LastError)
	assert.True(t, u.NextAttemptAt.Equal(next), "next attempt time should persist")

	_, err = s.RecordFailure(ctx, "a", "timeout", next, maxAttempts)
	require.NoError(t, err)

	u, err = s.RecordFailure(ctx, "a", "timeout", next, maxAttempts)
	require.NoError(t, err)
	assert.Equal(t, 3, u.AttemptCount)
	assert.Equal(t, models.StatusFailed, u.Status)
}

func TestRecordFailure_NotFound(t *testing.T) {
	s := setupStore(t, Limits{})
	_, err := s.RecordFailure(context.Background(), "missing", "x", time.Now(), 3)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestResetFailed(t *testing.T) {
	s := setupStore(t, Limits{})
	ctx := context.Background()

	_, err := s.Add(ctx, newUpload("a", 1, time.Now().UTC()))
	require.NoError(t, err)
	_, err = s.Add(ctx, newUpload("b", 1, time.Now().UTC()))
	require.NoError(t, err)
	_, err = s.RecordFailure(ctx, "a", "boom", time.Now(), 1)
	require.NoError(t, err)

	n, err := s.ResetFailed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	u, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, u.Status)
	assert.Equal(t, 0, u.AttemptCount)
	assert.Empty(t, u.LastError)
}

func TestClearFailed(t *testing.T) {
	s := setupStore(t, Limits{})
	ctx := context.Background()

	_, err := s.Add(ctx, newUpload("a", 1, time.Now().UTC()))
	require.NoError(t, err)
	_, err = s.Add(ctx, newUpload("b", 1, time.Now().UTC()))
	require.NoError(t, err)
	_, err = s.RecordFailure(ctx, "a", "boom", time.Now(), 1)
	require.NoError(t, err)

	n, err := s.ClearFailed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.Get(ctx, "a")
	assert.ErrorIs(t, err, common.ErrNotFound)
	_, err = s.Get(ctx, "b")
	assert.NoError(t, err)
}

func TestStatus_Aggregates(t *testing.T) {
	s := setupStore(t, Limits{})
	ctx := context.Background()

	_, err := s.Add(ctx, newUpload("a", 10, time.Now().UTC()))
	require.NoError(t, err)
	_, err = s.Add(ctx, newUpload("b", 20, time.Now().UTC()))
	require.NoError(t, err)
	_, err = s.Add(ctx, newUpload("c", 30, time.Now().UTC()))
	require.NoError(t, err)

	require.NoError(t, s.SetStatus(ctx, "b", models.StatusUploading))
	_, err = s.RecordFailure(ctx, "c", "boom", time.Now(), 1)
	require.NoError(t, err)

	st, err := s.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Pending)
	assert.Equal(t, 1, st.Uploading)
	assert.Equal(t, 1, st.Failed)
	assert.Equal(t, int64(60), st.TotalBytes)
}

func TestOpen_UnusableDBIsStoreUnavailable(t *testing.T) {
	// A path whose parent does not exist cannot be created by the driver.
	path := filepath.Join(t.TempDir(), "missing", "queue.db")

	_, err := Open(context.Background(), path, Limits{})
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrStoreUnavailable)
}

func TestOpen_SurvivesRestart(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "queue.db")

	s, err := Open(ctx, path, Limits{})
	require.NoError(t, err)

	u := newUpload("a", 3, time.Now().UTC())
	u.Payload = []byte{1, 2, 3}
	_, err = s.Add(ctx, u)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s2, err := Open(ctx, path, Limits{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s2.Close() })

	got, err := s2.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, got.Payload)
}

func TestOpen_RequeuesStrandedUploads(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "queue.db")

	s, err := Open(ctx, path, Limits{})
	require.NoError(t, err)
	_, err = s.Add(ctx, newUpload("a", 1, time.Now().UTC()))
	require.NoError(t, err)
	require.NoError(t, s.SetStatus(ctx, "a", models.StatusUploading))
	require.NoError(t, s.Close())

	s2, err := Open(ctx, path, Limits{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s2.Close() })

	got, err := s2.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)
}
