package queuestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pressly/goose/v3"

	"github.com/fieldsnap/fieldsnap/internal/agent/migrations"
	"github.com/fieldsnap/fieldsnap/internal/common"
	"github.com/fieldsnap/fieldsnap/internal/dbx"
	"github.com/fieldsnap/fieldsnap/internal/models"
)

// SQLiteStore implements Store on a local SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	limits Limits
}

// Open opens (creating if necessary) the queue database at dsn, applies
// pending migrations and recovers items stranded mid-upload by a crash.
// All failures wrap common.ErrStoreUnavailable so callers can degrade.
func Open(ctx context.Context, dsn string, limits Limits) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open queue db: %w", common.ErrStoreUnavailable, err)
	}
	// A single connection keeps :memory: databases coherent and sidesteps
	// SQLITE_BUSY under concurrent writers.
	db.SetMaxOpenConns(1)

	if err := runMigrations(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: failed to migrate queue db: %w", common.ErrStoreUnavailable, err)
	}

	// Items left in uploading never completed; requeue them.
	if _, err := db.ExecContext(ctx,
		`update uploads set status=? where status=?`,
		models.StatusPending, models.StatusUploading); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: failed to recover stranded uploads: %w", common.ErrStoreUnavailable, err)
	}

	return &SQLiteStore{db: db, limits: limits}, nil
}

func runMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	return goose.UpContext(ctx, db, ".")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Add admits a new upload inside a single transaction so the occupancy
// check and the insert cannot race another writer.
func (s *SQLiteStore) Add(ctx context.Context, u *models.QueuedUpload) (*AdmitResult, error) {
	result := &AdmitResult{}

	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		var count int
		var totalBytes int64
		row := tx.QueryRowContext(ctx,
			`select count(*), coalesce(sum(file_size), 0) from uploads`)
		if err := row.Scan(&count, &totalBytes); err != nil {
			return fmt.Errorf("failed to read queue occupancy: %w", err)
		}

		if s.limits.MaxItems > 0 && count >= s.limits.MaxItems {
			return common.ErrQueueFull
		}
		if s.limits.MaxTotalBytes > 0 && totalBytes+u.FileSize > s.limits.MaxTotalBytes {
			return common.ErrQueueFull
		}

		exifJSON, err := marshalEXIF(u.EXIF)
		if err != nil {
			return err
		}

		query := `insert into uploads
			(id, job_id, customer_id, category, description,
			 file_name, mime_type, file_size, payload, exif_json,
			 gps_lat, gps_lon, queued_at, attempt_count, status,
			 last_error, next_attempt_at)
			values (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
		_, err = tx.ExecContext(ctx, query,
			u.ID, u.JobID, u.CustomerID, u.Category, u.Description,
			u.FileName, u.MimeType, u.FileSize, u.Payload, exifJSON,
			gpsLat(u.GPS), gpsLon(u.GPS), u.QueuedAt, u.AttemptCount, u.Status,
			u.LastError, nullableTime(u.NextAttemptAt))
		if err != nil {
			return fmt.Errorf("failed to insert upload: %w", err)
		}

		count++
		totalBytes += u.FileSize
		if nearFull(count, totalBytes, s.limits) {
			result.Warning = common.ErrQueueNearFull
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func nearFull(count int, totalBytes int64, limits Limits) bool {
	if limits.MaxItems > 0 && float64(count) >= float64(limits.MaxItems)*softLimitRatio {
		return true
	}
	if limits.MaxTotalBytes > 0 && float64(totalBytes) >= float64(limits.MaxTotalBytes)*softLimitRatio {
		return true
	}
	return false
}

const selectColumns = `id, job_id, customer_id, category, description,
	file_name, mime_type, file_size, payload, exif_json,
	gps_lat, gps_lon, queued_at, attempt_count, status,
	last_error, next_attempt_at`

func (s *SQLiteStore) Get(ctx context.Context, id string) (*models.QueuedUpload, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+selectColumns+` from uploads where id=?`, id)
	u, err := scanUpload(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get upload: %w", err)
	}
	return u, nil
}

func (s *SQLiteStore) GetByStatus(ctx context.Context, status models.UploadStatus) ([]*models.QueuedUpload, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+selectColumns+` from uploads where status=? order by queued_at asc`, status)
	if err != nil {
		return nil, fmt.Errorf("failed to select uploads: %w", err)
	}
	defer rows.Close()

	var result []*models.QueuedUpload
	for rows.Next() {
		u, err := scanUpload(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *SQLiteStore) SetStatus(ctx context.Context, id string, status models.UploadStatus) error {
	res, err := s.db.ExecContext(ctx,
		`update uploads set status=? where id=?`, status, id)
	if err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}
	return requireOneRow(res)
}

func (s *SQLiteStore) Remove(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from uploads where id=?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete upload: %w", err)
	}
	return requireOneRow(res)
}

// RecordFailure bumps the attempt counter and schedules the next retry in
// one transaction, then returns the updated record so the caller sees the
// state it just produced.
func (s *SQLiteStore) RecordFailure(ctx context.Context, id string, cause string, nextAttemptAt time.Time, maxAttempts int) (*models.QueuedUpload, error) {
	var updated *models.QueuedUpload

	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		var attempts int
		row := tx.QueryRowContext(ctx, `select attempt_count from uploads where id=?`, id)
		if err := row.Scan(&attempts); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return common.ErrNotFound
			}
			return fmt.Errorf("failed to read attempt count: %w", err)
		}

		attempts++
		status := models.StatusPending
		if attempts >= maxAttempts {
			status = models.StatusFailed
		}

		_, err := tx.ExecContext(ctx,
			`update uploads set attempt_count=?, status=?, last_error=?, next_attempt_at=? where id=?`,
			attempts, status, cause, nullableTime(nextAttemptAt), id)
		if err != nil {
			return fmt.Errorf("failed to record failure: %w", err)
		}

		row = tx.QueryRowContext(ctx,
			`select `+selectColumns+` from uploads where id=?`, id)
		u, err := scanUpload(row)
		if err != nil {
			return fmt.Errorf("failed to reread upload: %w", err)
		}
		updated = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *SQLiteStore) ResetFailed(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`update uploads set status=?, attempt_count=0, last_error='', next_attempt_at=null where status=?`,
		models.StatusPending, models.StatusFailed)
	if err != nil {
		return 0, fmt.Errorf("failed to reset failed uploads: %w", err)
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(ra), nil
}

func (s *SQLiteStore) ClearFailed(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`delete from uploads where status=?`, models.StatusFailed)
	if err != nil {
		return 0, fmt.Errorf("failed to clear failed uploads: %w", err)
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(ra), nil
}

func (s *SQLiteStore) Status(ctx context.Context) (*Status, error) {
	rows, err := s.db.QueryContext(ctx,
		`select status, count(*), coalesce(sum(file_size), 0) from uploads group by status`)
	if err != nil {
		return nil, fmt.Errorf("failed to read queue status: %w", err)
	}
	defer rows.Close()

	st := &Status{}
	for rows.Next() {
		var status models.UploadStatus
		var count int
		var bytes int64
		if err := rows.Scan(&status, &count, &bytes); err != nil {
			return nil, err
		}
		switch status {
		case models.StatusPending:
			st.Pending = count
		case models.StatusUploading:
			st.Uploading = count
		case models.StatusFailed:
			st.Failed = count
		}
		st.TotalBytes += bytes
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return st, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUpload(row rowScanner) (*models.QueuedUpload, error) {
	u := &models.QueuedUpload{}
	var exifJSON string
	var lat, lon sql.NullFloat64
	var nextAttempt sql.NullTime

	err := row.Scan(
		&u.ID, &u.JobID, &u.CustomerID, &u.Category, &u.Description,
		&u.FileName, &u.MimeType, &u.FileSize, &u.Payload, &exifJSON,
		&lat, &lon, &u.QueuedAt, &u.AttemptCount, &u.Status,
		&u.LastError, &nextAttempt)
	if err != nil {
		return nil, err
	}

	if exifJSON != "" {
		exif := &models.EXIFData{}
		if err := json.Unmarshal([]byte(exifJSON), exif); err != nil {
			return nil, fmt.Errorf("failed to decode exif: %w", err)
		}
		u.EXIF = exif
	}
	if lat.Valid && lon.Valid {
		u.GPS = &models.GPSPosition{Latitude: lat.Float64, Longitude: lon.Float64}
	}
	if nextAttempt.Valid {
		u.NextAttemptAt = nextAttempt.Time
	}
	return u, nil
}

func marshalEXIF(exif *models.EXIFData) (string, error) {
	if exif == nil {
		return "", nil
	}
	b, err := json.Marshal(exif)
	if err != nil {
		return "", fmt.Errorf("failed to encode exif: %w", err)
	}
	return string(b), nil
}

func gpsLat(gps *models.GPSPosition) sql.NullFloat64 {
	if gps == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: gps.Latitude, Valid: true}
}

func gpsLon(gps *models.GPSPosition) sql.NullFloat64 {
	if gps == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: gps.Longitude, Valid: true}
}

func nullableTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}

func requireOneRow(res sql.Result) error {
	ra, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if ra == 0 {
		return common.ErrNotFound
	}
	return nil
}
