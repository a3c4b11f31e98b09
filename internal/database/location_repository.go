package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"fleet-tracker/internal/models"
)

const insertLocation = `
	INSERT INTO driver_locations (
		driver_id, shift_id, latitude, longitude, heading, speed, accuracy,
		battery, source, is_offline_sync, batch_id, timestamp, created_at
	) VALUES (
		:driver_id, :shift_id, :latitude, :longitude, :heading, :speed, :accuracy,
		:battery, :source, :is_offline_sync, :batch_id, :timestamp, :created_at
	)
`

// A replayed fix must not move the live marker backwards
const upsertCurrentLocation = `
	INSERT INTO driver_current_location (
		driver_id, shift_id, latitude, longitude, heading, speed, accuracy, timestamp, updated_at
	) VALUES (
		:driver_id, :shift_id, :latitude, :longitude, :heading, :speed, :accuracy, :timestamp, :created_at
	)
	ON CONFLICT (driver_id) DO UPDATE SET
		shift_id = EXCLUDED.shift_id,
		latitude = EXCLUDED.latitude,
		longitude = EXCLUDED.longitude,
		heading = EXCLUDED.heading,
		speed = EXCLUDED.speed,
		accuracy = EXCLUDED.accuracy,
		timestamp = EXCLUDED.timestamp,
		updated_at = EXCLUDED.updated_at
	WHERE driver_current_location.timestamp <= EXCLUDED.timestamp
`

// LocationRepository stores ingested fixes
type LocationRepository struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewLocationRepository creates a repository over db
func NewLocationRepository(db *sqlx.DB) *LocationRepository {
	return &LocationRepository{db: db, now: time.Now}
}

// Insert stores one live fix and updates the driver's current location
func (r *LocationRepository) Insert(ctx context.Context, loc models.DriverLocation) error {
	loc.CreatedAt = r.now().Unix()
	return r.inTx(ctx, func(tx *sqlx.Tx) error {
		return insertOne(ctx, tx, loc)
	})
}

// InsertBatch stores a replayed batch atomically under one batch id and
// returns that id
func (r *LocationRepository) InsertBatch(ctx context.Context, locs []models.DriverLocation) (string, error) {
	if len(locs) == 0 {
		return "", nil
	}

	batchID := uuid.New().String()
	createdAt := r.now().Unix()

	err := r.inTx(ctx, func(tx *sqlx.Tx) error {
		for _, loc := range locs {
			loc.BatchID = &batchID
			loc.CreatedAt = createdAt
			if err := insertOne(ctx, tx, loc); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return batchID, nil
}

// ForShift returns a shift's fixes in capture order
func (r *LocationRepository) ForShift(ctx context.Context, shiftID string) ([]models.DriverLocation, error) {
	var locs []models.DriverLocation
	query := `SELECT * FROM driver_locations WHERE shift_id = $1 ORDER BY timestamp ASC, id ASC`
	if err := r.db.SelectContext(ctx, &locs, query, shiftID); err != nil {
		return nil, fmt.Errorf("failed to load shift locations: %w", err)
	}
	return locs, nil
}

// CurrentLocations returns the latest position of every driver with an open shift
func (r *LocationRepository) CurrentLocations(ctx context.Context) ([]models.CurrentLocation, error) {
	locs := []models.CurrentLocation{}
	query := `
		SELECT c.* FROM driver_current_location c
		JOIN shifts s ON s.id = c.shift_id
		WHERE s.status IN ('active', 'paused')
		ORDER BY c.driver_id
	`
	if err := r.db.SelectContext(ctx, &locs, query); err != nil {
		return nil, fmt.Errorf("failed to load current locations: %w", err)
	}
	return locs, nil
}

func insertOne(ctx context.Context, tx *sqlx.Tx, loc models.DriverLocation) error {
	if _, err := tx.NamedExecContext(ctx, insertLocation, loc); err != nil {
		return fmt.Errorf("failed to insert location: %w", err)
	}
	if _, err := tx.NamedExecContext(ctx, upsertCurrentLocation, loc); err != nil {
		return fmt.Errorf("failed to update current location: %w", err)
	}
	return nil
}

func (r *LocationRepository) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}
