package database

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	log "github.com/sirupsen/logrus"
)

// Connect opens and pings the Postgres database
func Connect(dbURL string) (*sqlx.DB, error) {
	log.Printf("🔌 Connecting to database (URL prefix: %s...)", dbURL[:min(30, len(dbURL))])

	db, err := sqlx.Connect("postgres", dbURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Println("✅ Database connection successful")
	return db, nil
}

// Migrate creates the schema. Every statement is idempotent.
func Migrate(db *sqlx.DB) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			password TEXT NOT NULL,
			name TEXT NOT NULL,
			role TEXT NOT NULL CHECK(role IN ('driver', 'admin')),
			created_at BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())::BIGINT,
			updated_at BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())::BIGINT
		)`,

		// Times are epoch milliseconds, matching the agent
		`CREATE TABLE IF NOT EXISTS shifts (
			id TEXT PRIMARY KEY,
			driver_id TEXT NOT NULL REFERENCES users(id),
			status TEXT NOT NULL CHECK(status IN ('inactive', 'active', 'paused', 'ended')),
			start_time BIGINT NOT NULL,
			end_time BIGINT,
			start_latitude DOUBLE PRECISION,
			start_longitude DOUBLE PRECISION,
			total_pause_seconds INT NOT NULL DEFAULT 0,
			pause_start_time BIGINT,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_shifts_driver_status ON shifts(driver_id, status)`,

		`CREATE TABLE IF NOT EXISTS driver_locations (
			id SERIAL PRIMARY KEY,
			driver_id TEXT NOT NULL REFERENCES users(id),
			shift_id TEXT REFERENCES shifts(id),
			latitude DOUBLE PRECISION NOT NULL,
			longitude DOUBLE PRECISION NOT NULL,
			heading DOUBLE PRECISION,
			speed DOUBLE PRECISION,
			accuracy DOUBLE PRECISION,
			battery DOUBLE PRECISION,
			source TEXT NOT NULL DEFAULT 'device',
			is_offline_sync BOOLEAN NOT NULL DEFAULT FALSE,
			batch_id TEXT,
			timestamp BIGINT NOT NULL,
			created_at BIGINT NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_driver_locations_shift ON driver_locations(shift_id, timestamp)`,

		// Latest position per driver for the live map
		`CREATE TABLE IF NOT EXISTS driver_current_location (
			driver_id TEXT PRIMARY KEY REFERENCES users(id),
			shift_id TEXT,
			latitude DOUBLE PRECISION NOT NULL,
			longitude DOUBLE PRECISION NOT NULL,
			heading DOUBLE PRECISION,
			speed DOUBLE PRECISION,
			accuracy DOUBLE PRECISION,
			timestamp BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		)`,
	}

	for i, migration := range migrations {
		if _, err := db.Exec(migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	log.Printf("✅ Applied %d migrations", len(migrations))
	return nil
}
