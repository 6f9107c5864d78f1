package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"hotelcctv/internal/pipeline"
)

const workerColumns = `camera_id, running, status, frame_count, frames_processed, events_detected,
	start_time, last_heartbeat, last_error`

// SaveWorkerState upserts the persisted view of a worker
func (d *Database) SaveWorkerState(ctx context.Context, s pipeline.WorkerState) error {
	query := d.q(`INSERT INTO worker_states (` + workerColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (camera_id) DO UPDATE SET
			running = excluded.running,
			status = excluded.status,
			frame_count = excluded.frame_count,
			frames_processed = excluded.frames_processed,
			events_detected = excluded.events_detected,
			start_time = excluded.start_time,
			last_heartbeat = excluded.last_heartbeat,
			last_error = excluded.last_error`)
	_, err := d.db.ExecContext(ctx, query,
		s.CameraID, s.Running, string(s.Status),
		int64(s.FrameCount), int64(s.FramesProcessed), int64(s.EventsDetected),
		utcPtr(s.StartTime), utcPtr(s.LastHeartbeat), s.LastError)
	if err != nil {
		return fmt.Errorf("failed to save worker state: %w", err)
	}
	return nil
}

// GetWorkerState returns the persisted state of one worker
func (d *Database) GetWorkerState(ctx context.Context, cameraID string) (*pipeline.WorkerState, error) {
	var s pipeline.WorkerState
	err := d.db.GetContext(ctx, &s, d.q(`SELECT `+workerColumns+` FROM worker_states WHERE camera_id = ?`), cameraID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrWorkerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get worker state: %w", err)
	}
	return &s, nil
}

// ListWorkerStates returns all persisted worker states
func (d *Database) ListWorkerStates(ctx context.Context) ([]pipeline.WorkerState, error) {
	var states []pipeline.WorkerState
	if err := d.db.SelectContext(ctx, &states, `SELECT `+workerColumns+` FROM worker_states ORDER BY camera_id`); err != nil {
		return nil, fmt.Errorf("failed to list worker states: %w", err)
	}
	return states, nil
}

// MarkDeadWorkers flags running workers whose heartbeat is older than
// timeout as errored and returns their camera IDs. A row whose heartbeat
// moved after it was read is left alone.
func (d *Database) MarkDeadWorkers(ctx context.Context, now time.Time, timeout time.Duration) ([]string, error) {
	tx, err := d.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var running []pipeline.WorkerState
	err = tx.SelectContext(ctx, &running, d.q(`SELECT `+workerColumns+` FROM worker_states WHERE running = ?`), true)
	if err != nil {
		return nil, fmt.Errorf("failed to list running workers: %w", err)
	}

	var dead []string
	for i := range running {
		if running[i].IsAlive(now, timeout) {
			continue
		}
		marked, err := d.markDead(ctx, tx, running[i])
		if err != nil {
			return nil, err
		}
		if marked {
			dead = append(dead, running[i].CameraID)
		}
	}
	if len(dead) == 0 {
		return nil, nil
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit dead worker update: %w", err)
	}

	d.logger.Warn("Marked dead workers", zap.Strings("camera_ids", dead))
	return dead, nil
}

// markDead errors out the row of seen, provided it is still running with the
// heartbeat seen carries.
func (d *Database) markDead(ctx context.Context, ex sqlx.ExecerContext, seen pipeline.WorkerState) (bool, error) {
	query := `UPDATE worker_states SET running = ?, status = ?, last_error = ?
		WHERE camera_id = ? AND running = ? AND `
	args := []any{false, string(pipeline.StatusError), "Heartbeat timeout", seen.CameraID, true}
	if seen.LastHeartbeat == nil {
		query += `last_heartbeat IS NULL`
	} else {
		query += `last_heartbeat = ?`
		args = append(args, utc(*seen.LastHeartbeat))
	}

	res, err := ex.ExecContext(ctx, d.q(query), args...)
	if err != nil {
		return false, fmt.Errorf("failed to mark dead worker %s: %w", seen.CameraID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to mark dead worker %s: %w", seen.CameraID, err)
	}
	return n == 1, nil
}
