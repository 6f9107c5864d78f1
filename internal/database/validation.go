package database

import (
	"context"
	"fmt"
	"time"

	"hotelcctv/internal/pipeline"
)

// ValidationLog records one call to the validation service
type ValidationLog struct {
	ID           string             `db:"id" json:"id"`
	CameraID     string             `db:"camera_id" json:"camera_id"`
	EventType    pipeline.EventType `db:"event_type" json:"event_type"`
	Accepted     bool               `db:"accepted" json:"accepted"`
	Confidence   float64            `db:"confidence" json:"confidence"`
	Reason       string             `db:"reason" json:"reason"`
	Prompt       string             `db:"prompt" json:"prompt"`
	RawResponse  string             `db:"raw_response" json:"raw_response"`
	ProcessingMs int64              `db:"processing_ms" json:"processing_ms"`
	Error        string             `db:"error" json:"error,omitempty"`
	CreatedAt    time.Time          `db:"created_at" json:"created_at"`
}

// SetValidationPrompt stores a per-camera prompt override. An empty prompt
// removes the override.
func (d *Database) SetValidationPrompt(ctx context.Context, cameraID string, eventType pipeline.EventType, prompt string) error {
	if prompt == "" {
		_, err := d.db.ExecContext(ctx, d.q(`DELETE FROM validation_prompts WHERE camera_id = ? AND event_type = ?`),
			cameraID, string(eventType))
		if err != nil {
			return fmt.Errorf("failed to delete validation prompt: %w", err)
		}
		return nil
	}
	_, err := d.db.ExecContext(ctx, d.q(`INSERT INTO validation_prompts (camera_id, event_type, prompt)
		VALUES (?, ?, ?)
		ON CONFLICT (camera_id, event_type) DO UPDATE SET prompt = excluded.prompt`),
		cameraID, string(eventType), prompt)
	if err != nil {
		return fmt.Errorf("failed to save validation prompt: %w", err)
	}
	return nil
}

// ValidationPrompt returns the override for a camera and event type, or
// "" when none is set.
func (d *Database) ValidationPrompt(ctx context.Context, cameraID string, eventType pipeline.EventType) (string, error) {
	var prompts []string
	err := d.db.SelectContext(ctx, &prompts,
		d.q(`SELECT prompt FROM validation_prompts WHERE camera_id = ? AND event_type = ?`),
		cameraID, string(eventType))
	if err != nil {
		return "", fmt.Errorf("failed to get validation prompt: %w", err)
	}
	if len(prompts) == 0 {
		return "", nil
	}
	return prompts[0], nil
}

// ValidationPrompts returns all overrides for a camera
func (d *Database) ValidationPrompts(ctx context.Context, cameraID string) (map[pipeline.EventType]string, error) {
	rows := []struct {
		EventType string `db:"event_type"`
		Prompt    string `db:"prompt"`
	}{}
	err := d.db.SelectContext(ctx, &rows,
		d.q(`SELECT event_type, prompt FROM validation_prompts WHERE camera_id = ?`), cameraID)
	if err != nil {
		return nil, fmt.Errorf("failed to list validation prompts: %w", err)
	}
	out := make(map[pipeline.EventType]string, len(rows))
	for _, r := range rows {
		out[pipeline.EventType(r.EventType)] = r.Prompt
	}
	return out, nil
}

// InsertValidationLog stores a validation log entry
func (d *Database) InsertValidationLog(ctx context.Context, l *ValidationLog) error {
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now()
	}
	_, err := d.db.ExecContext(ctx, d.q(`INSERT INTO validation_logs
		(id, camera_id, event_type, accepted, confidence, reason, prompt, raw_response, processing_ms, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		l.ID, l.CameraID, string(l.EventType), l.Accepted, l.Confidence, l.Reason, l.Prompt,
		l.RawResponse, l.ProcessingMs, l.Error, utc(l.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert validation log: %w", err)
	}
	return nil
}

// ListValidationLogs returns the newest validation logs for a camera, or for
// all cameras when cameraID is empty.
func (d *Database) ListValidationLogs(ctx context.Context, cameraID string, limit int) ([]*ValidationLog, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, camera_id, event_type, accepted, confidence, reason, prompt, raw_response,
		processing_ms, error, created_at FROM validation_logs`
	var args []any
	if cameraID != "" {
		query += " WHERE camera_id = ?"
		args = append(args, cameraID)
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)

	var logs []*ValidationLog
	if err := d.db.SelectContext(ctx, &logs, d.q(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list validation logs: %w", err)
	}
	return logs, nil
}
