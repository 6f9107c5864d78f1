package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx/types"

	"hotelcctv/internal/pipeline"
)

// Camera is a camera row. Settings holds per-camera overrides as JSON.
type Camera struct {
	ID            string                `db:"id" json:"id"`
	Name          string                `db:"name" json:"name"`
	StreamURL     string                `db:"stream_url" json:"stream_url"`
	Enabled       bool                  `db:"enabled" json:"enabled"`
	Status        pipeline.CameraStatus `db:"status" json:"status"`
	LastConnected *time.Time            `db:"last_connected" json:"last_connected,omitempty"`
	Settings      types.JSONText        `db:"settings" json:"settings"`
	CreatedAt     time.Time             `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time             `db:"updated_at" json:"updated_at"`
}

const cameraColumns = `id, name, stream_url, enabled, status, last_connected, settings, created_at, updated_at`

// SaveCamera inserts or updates a camera. Status and last_connected are owned
// by the worker and are not overwritten on update.
func (d *Database) SaveCamera(ctx context.Context, cam *Camera) error {
	now := utc(time.Now())
	if cam.CreatedAt.IsZero() {
		cam.CreatedAt = now
	}
	cam.UpdatedAt = now
	if cam.Status == "" {
		cam.Status = pipeline.CameraOffline
	}
	if len(cam.Settings) == 0 {
		cam.Settings = types.JSONText("{}")
	}

	query := d.q(`INSERT INTO cameras (` + cameraColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			stream_url = excluded.stream_url,
			enabled = excluded.enabled,
			settings = excluded.settings,
			updated_at = excluded.updated_at`)
	_, err := d.db.ExecContext(ctx, query, cam.ID, cam.Name, cam.StreamURL, cam.Enabled, cam.Status,
		utcPtr(cam.LastConnected), cam.Settings.String(), utc(cam.CreatedAt), cam.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save camera: %w", err)
	}
	return nil
}

// GetCamera retrieves a camera by ID
func (d *Database) GetCamera(ctx context.Context, id string) (*Camera, error) {
	var cam Camera
	err := d.db.GetContext(ctx, &cam, d.q(`SELECT `+cameraColumns+` FROM cameras WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCameraNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get camera: %w", err)
	}
	return &cam, nil
}

// ListCameras returns all cameras ordered by id
func (d *Database) ListCameras(ctx context.Context) ([]*Camera, error) {
	var cams []*Camera
	if err := d.db.SelectContext(ctx, &cams, `SELECT `+cameraColumns+` FROM cameras ORDER BY id`); err != nil {
		return nil, fmt.Errorf("failed to list cameras: %w", err)
	}
	return cams, nil
}

// DeleteCamera deletes a camera and its worker state
func (d *Database) DeleteCamera(ctx context.Context, id string) error {
	tx, err := d.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, d.q(`DELETE FROM cameras WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("failed to delete camera: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrCameraNotFound
	}
	if _, err := tx.ExecContext(ctx, d.q(`DELETE FROM worker_states WHERE camera_id = ?`), id); err != nil {
		return fmt.Errorf("failed to delete worker state: %w", err)
	}
	if _, err := tx.ExecContext(ctx, d.q(`DELETE FROM validation_prompts WHERE camera_id = ?`), id); err != nil {
		return fmt.Errorf("failed to delete validation prompts: %w", err)
	}
	return tx.Commit()
}

// SetCameraStatus updates the camera availability; going online also stamps
// last_connected.
func (d *Database) SetCameraStatus(ctx context.Context, id string, status pipeline.CameraStatus) error {
	var err error
	if status == pipeline.CameraOnline {
		_, err = d.db.ExecContext(ctx, d.q(`UPDATE cameras SET status = ?, last_connected = ? WHERE id = ?`),
			status, utc(time.Now()), id)
	} else {
		_, err = d.db.ExecContext(ctx, d.q(`UPDATE cameras SET status = ? WHERE id = ?`), status, id)
	}
	if err != nil {
		return fmt.Errorf("failed to update camera status: %w", err)
	}
	return nil
}

// UpdateCameraSettings replaces the per-camera override document
func (d *Database) UpdateCameraSettings(ctx context.Context, id string, settings types.JSONText) error {
	if err := settings.Unmarshal(&map[string]any{}); err != nil {
		return fmt.Errorf("invalid settings json: %w", err)
	}
	res, err := d.db.ExecContext(ctx, d.q(`UPDATE cameras SET settings = ?, updated_at = ? WHERE id = ?`),
		settings.String(), utc(time.Now()), id)
	if err != nil {
		return fmt.Errorf("failed to update camera settings: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrCameraNotFound
	}
	return nil
}
