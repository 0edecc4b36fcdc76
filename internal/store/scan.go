package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/agrinova/apiserver/types"
)

// ScanRepository handles persistence for scans. Scans are append-only;
// the repository deliberately exposes no update or delete operations.
type ScanRepository struct {
	db *sql.DB
}

func NewScanRepository(db *sql.DB) *ScanRepository {
	return &ScanRepository{db: db}
}

// Create inserts a new scan row. A dangling user reference is reported
// as ErrForeignKey.
func (r *ScanRepository) Create(ctx context.Context, scan types.Scan) (types.Scan, error) {
	scan.CreatedAt = time.Now()

	const query = `
		INSERT INTO scans (user_id, prediction, confidence, image_filename, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`
	imageFilename := sql.NullString{String: scan.ImageFilename, Valid: scan.ImageFilename != ""}
	if err := r.db.QueryRowContext(
		ctx,
		query,
		scan.UserID,
		scan.Prediction,
		scan.Confidence,
		imageFilename,
		scan.CreatedAt,
	).Scan(&scan.ID); err != nil {
		return types.Scan{}, translateError(err)
	}
	return scan, nil
}

func (r *ScanRepository) GetByID(ctx context.Context, id int) (types.Scan, error) {
	const query = `
		SELECT id, user_id, prediction, confidence, image_filename, created_at
		FROM scans
		WHERE id = $1`
	var scan types.Scan
	var imageFilename sql.NullString
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&scan.ID,
		&scan.UserID,
		&scan.Prediction,
		&scan.Confidence,
		&imageFilename,
		&scan.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Scan{}, ErrNotFound
		}
		return types.Scan{}, err
	}
	scan.ImageFilename = imageFilename.String
	return scan, nil
}

// ListByUser returns the user's scans, newest first.
func (r *ScanRepository) ListByUser(ctx context.Context, userID int) ([]types.Scan, error) {
	const query = `
		SELECT id, user_id, prediction, confidence, image_filename, created_at
		FROM scans
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	scans := []types.Scan{}
	for rows.Next() {
		var scan types.Scan
		var imageFilename sql.NullString
		if err := rows.Scan(
			&scan.ID,
			&scan.UserID,
			&scan.Prediction,
			&scan.Confidence,
			&imageFilename,
			&scan.CreatedAt,
		); err != nil {
			return nil, err
		}
		scan.ImageFilename = imageFilename.String
		scans = append(scans, scan)
	}
	return scans, rows.Err()
}
