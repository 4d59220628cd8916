package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/fieldsnap/fieldsnap/internal/common"
	"github.com/fieldsnap/fieldsnap/internal/dbx"
	"github.com/fieldsnap/fieldsnap/internal/models"
	"github.com/fieldsnap/fieldsnap/internal/server/migrations"
)

// PostgresRepository implements Repository on PostgreSQL via pgx's
// database/sql driver.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository wraps an existing handle. Used by tests; Open is
// the production entry point.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Open connects to the database and applies pending migrations.
func Open(ctx context.Context, databaseURL string) (*PostgresRepository, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "."); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &PostgresRepository{db: db}, nil
}

func (r *PostgresRepository) Close() error {
	return r.db.Close()
}

func (r *PostgresRepository) CreateMedia(ctx context.Context, rec *models.MediaRecord) error {
	exifJSON := ""
	if rec.EXIF != nil {
		b, err := json.Marshal(rec.EXIF)
		if err != nil {
			return fmt.Errorf("failed to encode exif: %w", err)
		}
		exifJSON = string(b)
	}

	var lat, lon sql.NullFloat64
	if rec.GPS != nil {
		lat = sql.NullFloat64{Float64: rec.GPS.Latitude, Valid: true}
		lon = sql.NullFloat64{Float64: rec.GPS.Longitude, Valid: true}
	}

	query := `INSERT INTO media
		(id, tenant_id, job_id, customer_id, storage_path, bucket,
		 file_name, mime_type, file_size, category, description,
		 exif_json, gps_lat, gps_lon, uploaded_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (id) DO NOTHING`
	_, err := r.db.ExecContext(ctx, query,
		rec.ID, rec.TenantID, rec.JobID, rec.CustomerID, rec.StoragePath, rec.Bucket,
		rec.FileName, rec.MimeType, rec.FileSize, rec.Category, rec.Description,
		exifJSON, lat, lon, rec.UploadedBy, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert media: %w", err)
	}
	return nil
}

const mediaColumns = `id, tenant_id, job_id, customer_id, storage_path, bucket,
	file_name, mime_type, file_size, category, description,
	exif_json, gps_lat, gps_lon, uploaded_by, created_at, thumbnail_path`

func (r *PostgresRepository) GetMedia(ctx context.Context, tenantID, id string) (*models.MediaRecord, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+mediaColumns+` FROM media WHERE tenant_id=$1 AND id=$2`, tenantID, id)
	rec, err := scanMedia(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get media: %w", err)
	}
	return rec, nil
}

func (r *PostgresRepository) ListMediaByJob(ctx context.Context, tenantID, jobID string) ([]*models.MediaRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+mediaColumns+` FROM media WHERE tenant_id=$1 AND job_id=$2 ORDER BY created_at`, tenantID, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list media: %w", err)
	}
	defer rows.Close()

	var result []*models.MediaRecord
	for rows.Next() {
		rec, err := scanMedia(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) SaveAnnotation(ctx context.Context, tenantID string, v *models.AnnotationVersion) (*models.AnnotationVersion, error) {
	var saved *models.AnnotationVersion

	err := dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		// The media row doubles as the tenant check.
		var mediaID string
		row := tx.QueryRowContext(ctx,
			`SELECT id FROM media WHERE tenant_id=$1 AND id=$2`, tenantID, v.MediaID)
		if err := row.Scan(&mediaID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return common.ErrNotFound
			}
			return fmt.Errorf("failed to check media: %w", err)
		}

		var latest int
		row = tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(version), 0) FROM annotation_versions WHERE media_id=$1`, v.MediaID)
		if err := row.Scan(&latest); err != nil {
			return fmt.Errorf("failed to read latest version: %w", err)
		}

		next := *v
		next.Version = latest + 1
		if latest > 0 {
			parent := latest
			next.ParentVersion = &parent
		} else {
			next.ParentVersion = nil
		}

		_, err := tx.ExecContext(ctx,
			`INSERT INTO annotation_versions
				(media_id, version, parent_version, document, render_path, created_by, created_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			next.MediaID, next.Version, nullableInt(next.ParentVersion),
			string(next.Document), next.RenderPath, next.CreatedBy, next.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert annotation version: %w", err)
		}

		saved = &next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}

const annotationColumns = `av.media_id, av.version, av.parent_version,
	av.document, av.render_path, av.created_by, av.created_at`

func (r *PostgresRepository) GetAnnotation(ctx context.Context, tenantID, mediaID string, version int) (*models.AnnotationVersion, error) {
	var row *sql.Row
	if version > 0 {
		row = r.db.QueryRowContext(ctx,
			`SELECT `+annotationColumns+` FROM annotation_versions av
				JOIN media m ON m.id = av.media_id
				WHERE m.tenant_id=$1 AND av.media_id=$2 AND av.version=$3`,
			tenantID, mediaID, version)
	} else {
		row = r.db.QueryRowContext(ctx,
			`SELECT `+annotationColumns+` FROM annotation_versions av
				JOIN media m ON m.id = av.media_id
				WHERE m.tenant_id=$1 AND av.media_id=$2
				ORDER BY av.version DESC LIMIT 1`,
			tenantID, mediaID)
	}

	v, err := scanAnnotation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get annotation: %w", err)
	}
	return v, nil
}

func (r *PostgresRepository) ListAnnotationVersions(ctx context.Context, tenantID, mediaID string) ([]*models.AnnotationVersion, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+annotationColumns+` FROM annotation_versions av
			JOIN media m ON m.id = av.media_id
			WHERE m.tenant_id=$1 AND av.media_id=$2
			ORDER BY av.version`,
		tenantID, mediaID)
	if err != nil {
		return nil, fmt.Errorf("failed to list annotation versions: %w", err)
	}
	defer rows.Close()

	var result []*models.AnnotationVersion
	for rows.Next() {
		v, err := scanAnnotation(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) SetThumbnailPath(ctx context.Context, mediaID, thumbnailPath string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE media SET thumbnail_path=$1 WHERE id=$2`, thumbnailPath, mediaID)
	if err != nil {
		return fmt.Errorf("failed to set thumbnail path: %w", err)
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if ra == 0 {
		return common.ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) SetRenderPath(ctx context.Context, mediaID string, version int, renderPath string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE annotation_versions SET render_path=$1 WHERE media_id=$2 AND version=$3`,
		renderPath, mediaID, version)
	if err != nil {
		return fmt.Errorf("failed to set render path: %w", err)
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if ra == 0 {
		return common.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMedia(row rowScanner) (*models.MediaRecord, error) {
	rec := &models.MediaRecord{}
	var exifJSON string
	var lat, lon sql.NullFloat64

	err := row.Scan(
		&rec.ID, &rec.TenantID, &rec.JobID, &rec.CustomerID, &rec.StoragePath, &rec.Bucket,
		&rec.FileName, &rec.MimeType, &rec.FileSize, &rec.Category, &rec.Description,
		&exifJSON, &lat, &lon, &rec.UploadedBy, &rec.CreatedAt, &rec.ThumbnailPath)
	if err != nil {
		return nil, err
	}

	if exifJSON != "" {
		exif := &models.EXIFData{}
		if err := json.Unmarshal([]byte(exifJSON), exif); err != nil {
			return nil, fmt.Errorf("failed to decode exif: %w", err)
		}
		rec.EXIF = exif
	}
	if lat.Valid && lon.Valid {
		rec.GPS = &models.GPSPosition{Latitude: lat.Float64, Longitude: lon.Float64}
	}
	return rec, nil
}

func scanAnnotation(row rowScanner) (*models.AnnotationVersion, error) {
	v := &models.AnnotationVersion{}
	var parent sql.NullInt64
	var document string

	err := row.Scan(&v.MediaID, &v.Version, &parent, &document, &v.RenderPath, &v.CreatedBy, &v.CreatedAt)
	if err != nil {
		return nil, err
	}
	if parent.Valid {
		p := int(parent.Int64)
		v.ParentVersion = &p
	}
	v.Document = json.RawMessage(document)
	return v, nil
}

func nullableInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}
