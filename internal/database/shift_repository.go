package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"fleet-tracker/internal/models"
)

// ErrShiftNotFound is returned when a shift does not exist, belongs to
// another driver, or has already ended
var ErrShiftNotFound = errors.New("shift not found")

// ShiftRepository stores shift records in Postgres. It also serves as the
// agent's shift store when the agent writes to the database directly.
type ShiftRepository struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewShiftRepository creates a repository over db
func NewShiftRepository(db *sqlx.DB) *ShiftRepository {
	return &ShiftRepository{db: db, now: time.Now}
}

// Create inserts s with a fresh id and returns it
func (r *ShiftRepository) Create(ctx context.Context, s *models.Shift) (string, error) {
	if s.DriverID == "" {
		return "", errors.New("shift has no driver")
	}

	now := r.now().UnixMilli()
	rec := *s
	rec.ID = uuid.New().String()
	if rec.Status == "" {
		rec.Status = models.ShiftStatusActive
	}
	if rec.StartTime == 0 {
		rec.StartTime = now
	}
	rec.CreatedAt = now
	rec.UpdatedAt = now

	query := `
		INSERT INTO shifts (
			id, driver_id, status, start_time, end_time, start_latitude, start_longitude,
			total_pause_seconds, pause_start_time, created_at, updated_at
		) VALUES (
			:id, :driver_id, :status, :start_time, :end_time, :start_latitude, :start_longitude,
			:total_pause_seconds, :pause_start_time, :created_at, :updated_at
		)
	`
	if _, err := r.db.NamedExecContext(ctx, query, rec); err != nil {
		return "", fmt.Errorf("failed to insert shift: %w", err)
	}
	return rec.ID, nil
}

// Update applies a status transition to any open shift
func (r *ShiftRepository) Update(ctx context.Context, id string, u models.ShiftUpdate) error {
	return r.update(ctx, id, "", u)
}

// UpdateForDriver applies a status transition to an open shift owned by driverID
func (r *ShiftRepository) UpdateForDriver(ctx context.Context, id, driverID string, u models.ShiftUpdate) error {
	if driverID == "" {
		return ErrShiftNotFound
	}
	return r.update(ctx, id, driverID, u)
}

// update writes the new status and keeps pause accounting: entering paused
// stamps pause_start_time, leaving it folds the pause into
// total_pause_seconds. Ended shifts are never modified.
func (r *ShiftRepository) update(ctx context.Context, id, driverID string, u models.ShiftUpdate) error {
	if !u.Status.Valid() {
		return fmt.Errorf("invalid shift status %q", u.Status)
	}

	now := r.now().UnixMilli()
	query := `
		UPDATE shifts SET
			status = $2,
			end_time = COALESCE($3, end_time),
			total_pause_seconds = total_pause_seconds + CASE
				WHEN pause_start_time IS NOT NULL AND $2 <> 'paused'
				THEN ((COALESCE($3, $4) - pause_start_time) / 1000)::INT
				ELSE 0 END,
			pause_start_time = CASE
				WHEN $2 = 'paused' THEN COALESCE(pause_start_time, $4)
				ELSE NULL END,
			updated_at = $4
		WHERE id = $1
		  AND status <> 'ended'
		  AND ($5 = '' OR driver_id = $5)
	`
	res, err := r.db.ExecContext(ctx, query, id, u.Status, models.ToNullInt64(u.EndTime), now, driverID)
	if err != nil {
		return fmt.Errorf("failed to update shift: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update shift: %w", err)
	}
	if n == 0 {
		return ErrShiftNotFound
	}
	return nil
}

// Get loads one shift
func (r *ShiftRepository) Get(ctx context.Context, id string) (*models.Shift, error) {
	var s models.Shift
	if err := r.db.GetContext(ctx, &s, `SELECT * FROM shifts WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrShiftNotFound
		}
		return nil, fmt.Errorf("failed to load shift: %w", err)
	}
	return &s, nil
}

// CurrentForDriver returns the driver's most recent active or paused shift
func (r *ShiftRepository) CurrentForDriver(ctx context.Context, driverID string) (*models.Shift, error) {
	var s models.Shift
	query := `
		SELECT * FROM shifts
		WHERE driver_id = $1 AND status IN ('active', 'paused')
		ORDER BY start_time DESC
		LIMIT 1
	`
	if err := r.db.GetContext(ctx, &s, query, driverID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrShiftNotFound
		}
		return nil, fmt.Errorf("failed to load current shift: %w", err)
	}
	return &s, nil
}
