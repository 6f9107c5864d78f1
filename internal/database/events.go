package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx/types"

	"hotelcctv/internal/pipeline"
)

// Event is a persisted detection event
type Event struct {
	ID                   string             `db:"id" json:"id"`
	CameraID             string             `db:"camera_id" json:"camera_id"`
	Type                 pipeline.EventType `db:"event_type" json:"event_type"`
	Confidence           float64            `db:"confidence" json:"confidence"`
	FrameNumber          uint64             `db:"frame_number" json:"frame_number"`
	BBoxX1               int                `db:"bbox_x1" json:"-"`
	BBoxY1               int                `db:"bbox_y1" json:"-"`
	BBoxX2               int                `db:"bbox_x2" json:"-"`
	BBoxY2               int                `db:"bbox_y2" json:"-"`
	ClipPath             *string            `db:"clip_path" json:"clip_path"`
	ThumbnailPath        *string            `db:"thumbnail_path" json:"thumbnail_path"`
	Metadata             types.JSONText     `db:"metadata" json:"metadata"`
	Validated            bool               `db:"validated" json:"validated"`
	ValidationAccepted   *bool              `db:"validation_accepted" json:"validation_accepted,omitempty"`
	ValidationConfidence *float64           `db:"validation_confidence" json:"validation_confidence,omitempty"`
	ValidationReason     *string            `db:"validation_reason" json:"validation_reason,omitempty"`
	CreatedAt            time.Time          `db:"created_at" json:"created_at"`
}

// BBox returns the event box
func (e *Event) BBox() pipeline.BBox {
	return pipeline.BBox{X1: e.BBoxX1, Y1: e.BBoxY1, X2: e.BBoxX2, Y2: e.BBoxY2}
}

// MarshalJSON adds the bbox as a 4-element array
func (e Event) MarshalJSON() ([]byte, error) {
	type alias Event
	return json.Marshal(struct {
		alias
		BBox [4]int `json:"bbox"`
	}{alias(e), [4]int{e.BBoxX1, e.BBoxY1, e.BBoxX2, e.BBoxY2}})
}

// NewEvent builds an event row from a confirmed detection
func NewEvent(id, cameraID string, det pipeline.Detection, clipPath, thumbPath string, verdict *pipeline.Verdict) (*Event, error) {
	meta, err := json.Marshal(det.Metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	ev := &Event{
		ID:            id,
		CameraID:      cameraID,
		Type:          det.Label.EventType(),
		Confidence:    det.Confidence,
		FrameNumber:   det.FrameIndex,
		BBoxX1:        det.BBox.X1,
		BBoxY1:        det.BBox.Y1,
		BBoxX2:        det.BBox.X2,
		BBoxY2:        det.BBox.Y2,
		ClipPath:      nullable(clipPath),
		ThumbnailPath: nullable(thumbPath),
		Metadata:      types.JSONText(meta),
		CreatedAt:     det.Timestamp,
	}
	if verdict != nil {
		ev.Validated = true
		ev.ValidationAccepted = &verdict.Accepted
		ev.ValidationConfidence = &verdict.Confidence
		ev.ValidationReason = nullable(verdict.Reason)
	}
	return ev, nil
}

const eventColumns = `id, camera_id, event_type, confidence, frame_number, bbox_x1, bbox_y1, bbox_x2, bbox_y2,
	clip_path, thumbnail_path, metadata, validated, validation_accepted, validation_confidence,
	validation_reason, created_at`

// InsertEvent stores an event
func (d *Database) InsertEvent(ctx context.Context, ev *Event) error {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	if len(ev.Metadata) == 0 {
		ev.Metadata = types.JSONText("{}")
	}
	query := d.q(`INSERT INTO events (` + eventColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := d.db.ExecContext(ctx, query,
		ev.ID, ev.CameraID, ev.Type, ev.Confidence, int64(ev.FrameNumber),
		ev.BBoxX1, ev.BBoxY1, ev.BBoxX2, ev.BBoxY2,
		ev.ClipPath, ev.ThumbnailPath, ev.Metadata.String(),
		ev.Validated, ev.ValidationAccepted, ev.ValidationConfidence, ev.ValidationReason,
		utc(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

// GetEvent retrieves an event by ID
func (d *Database) GetEvent(ctx context.Context, id string) (*Event, error) {
	var ev Event
	err := d.db.GetContext(ctx, &ev, d.q(`SELECT `+eventColumns+` FROM events WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	return &ev, nil
}

// EventFilter narrows ListEvents
type EventFilter struct {
	CameraID string
	Type     pipeline.EventType
	Since    *time.Time
	Limit    int
}

// ListEvents returns events newest first
func (d *Database) ListEvents(ctx context.Context, f EventFilter) ([]*Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE 1=1`
	var args []any
	if f.CameraID != "" {
		query += " AND camera_id = ?"
		args = append(args, f.CameraID)
	}
	if f.Type != "" {
		query += " AND event_type = ?"
		args = append(args, f.Type)
	}
	if f.Since != nil {
		query += " AND created_at >= ?"
		args = append(args, utc(*f.Since))
	}
	query += " ORDER BY created_at DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	var events []*Event
	if err := d.db.SelectContext(ctx, &events, d.q(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	return events, nil
}

// DeleteEventsBefore deletes events older than the given time
func (d *Database) DeleteEventsBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := d.db.ExecContext(ctx, d.q(`DELETE FROM events WHERE created_at < ?`), utc(before))
	if err != nil {
		return 0, fmt.Errorf("failed to delete old events: %w", err)
	}
	return res.RowsAffected()
}
