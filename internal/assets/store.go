package assets

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

const schemaVersion = 1

// ErrSchemaMismatch indicates the database schema version doesn't match the expected version.
var ErrSchemaMismatch = errors.New("schema version mismatch")

// Store manages the asset catalog backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the asset database at path. Writes rely on
// the busy_timeout pragma; the catalog sees far less contention than the job
// ledger.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) initSchema(ctx context.Context) error {
	var tableExists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}

	if tableExists == 0 {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin schema tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()
		if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
			return fmt.Errorf("record schema version: %w", err)
		}
		return tx.Commit()
	}

	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d", ErrSchemaMismatch, version, schemaVersion)
	}
	return nil
}

// Create inserts a new asset in processing state.
func (s *Store) Create(ctx context.Context, asset *Asset) (*Asset, error) {
	if asset == nil {
		return nil, errors.New("asset is nil")
	}
	if asset.Key == "" {
		return nil, errors.New("asset key is empty")
	}
	if asset.Status == "" {
		asset.Status = StatusProcessing
	}
	timestamp := time.Now().UTC().Format(time.RFC3339Nano)

	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO assets (
            key, file_name, project_id, media_type, owner_id, status,
            file_url, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		asset.Key,
		asset.FileName,
		nullableString(asset.ProjectID),
		nullableString(asset.MediaType),
		nullableString(asset.OwnerID),
		asset.Status,
		nullableString(asset.FileURL),
		timestamp,
		timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert asset: %w", err)
	}
	return s.GetByKey(ctx, asset.Key)
}

// GetByKey fetches an asset by key. Returns nil when no row matches.
func (s *Store) GetByKey(ctx context.Context, key string) (*Asset, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+assetColumns+` FROM assets WHERE key = ?`, key)
	asset, err := scanAsset(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get asset: %w", err)
	}
	return asset, nil
}

// List returns all assets, newest first.
func (s *Store) List(ctx context.Context) ([]*Asset, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+assetColumns+` FROM assets ORDER BY created_at DESC, key`)
	if err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	defer rows.Close()

	var all []*Asset
	for rows.Next() {
		asset, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		all = append(all, asset)
	}
	return all, rows.Err()
}

// RecordMediaInfo stores probe results against an asset.
func (s *Store) RecordMediaInfo(ctx context.Context, key string, durationSeconds int, resolution string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE assets SET duration_seconds = ?, resolution = ?, updated_at = ? WHERE key = ?`,
		durationSeconds,
		nullableString(resolution),
		now,
		key,
	)
	if err != nil {
		return fmt.Errorf("record media info: %w", err)
	}
	return nil
}

// MarkReady flips an asset to ready and records its published artifact URLs.
func (s *Store) MarkReady(ctx context.Context, key string, artifacts Artifacts) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE assets
         SET status = ?, thumbnail_url = ?, preview_url = ?, playlist_url = ?,
             renditions_json = ?, error_message = NULL, updated_at = ?
         WHERE key = ?`,
		StatusReady,
		nullableString(artifacts.ThumbnailURL),
		nullableString(artifacts.PreviewURL),
		nullableString(artifacts.PlaylistURL),
		nullableString(artifacts.RenditionsJSON),
		now,
		key,
	)
	if err != nil {
		return fmt.Errorf("mark ready: %w", err)
	}
	return nil
}

// MarkFailed flips an asset to failed with a reason.
func (s *Store) MarkFailed(ctx context.Context, key, reason string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE assets SET status = ?, error_message = ?, updated_at = ? WHERE key = ?`,
		StatusFailed,
		nullableString(reason),
		now,
		key,
	)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return nil
}

// Delete removes an asset row. Returns false when the key was unknown.
func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM assets WHERE key = ?`, key)
	if err != nil {
		return false, fmt.Errorf("delete asset: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

const assetColumns = "key, file_name, project_id, media_type, owner_id, status, file_url, thumbnail_url, preview_url, playlist_url, duration_seconds, resolution, renditions_json, error_message, created_at, updated_at"

func scanAsset(scanner interface{ Scan(dest ...any) error }) (*Asset, error) {
	var (
		key          string
		fileName     string
		projectID    sql.NullString
		mediaType    sql.NullString
		ownerID      sql.NullString
		statusStr    string
		fileURL      sql.NullString
		thumbnailURL sql.NullString
		previewURL   sql.NullString
		playlistURL  sql.NullString
		duration     sql.NullInt64
		resolution   sql.NullString
		renditions   sql.NullString
		errorMessage sql.NullString
		createdRaw   sql.NullString
		updatedRaw   sql.NullString
	)

	if err := scanner.Scan(
		&key,
		&fileName,
		&projectID,
		&mediaType,
		&ownerID,
		&statusStr,
		&fileURL,
		&thumbnailURL,
		&previewURL,
		&playlistURL,
		&duration,
		&resolution,
		&renditions,
		&errorMessage,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	asset := &Asset{
		Key:             key,
		FileName:        fileName,
		ProjectID:       projectID.String,
		MediaType:       mediaType.String,
		OwnerID:         ownerID.String,
		Status:          Status(statusStr),
		FileURL:         fileURL.String,
		ThumbnailURL:    thumbnailURL.String,
		PreviewURL:      previewURL.String,
		PlaylistURL:     playlistURL.String,
		DurationSeconds: int(duration.Int64),
		Resolution:      resolution.String,
		RenditionsJSON:  renditions.String,
		ErrorMessage:    errorMessage.String,
	}
	if created, err := time.Parse(time.RFC3339Nano, createdRaw.String); err == nil {
		asset.CreatedAt = created
	}
	if updated, err := time.Parse(time.RFC3339Nano, updatedRaw.String); err == nil {
		asset.UpdatedAt = updated
	}
	return asset, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}
