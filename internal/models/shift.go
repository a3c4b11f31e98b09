package models

import (
	"database/sql"
	"time"
)

// ShiftStatus represents the current status of a shift
type ShiftStatus string

const (
	ShiftStatusInactive ShiftStatus = "inactive" // No shift running on this device
	ShiftStatusActive   ShiftStatus = "active"   // Shift in progress, tracking on
	ShiftStatusPaused   ShiftStatus = "paused"   // On break, tracking off
	ShiftStatusEnded    ShiftStatus = "ended"    // Completed
)

// Valid reports whether s is one of the known statuses
func (s ShiftStatus) Valid() bool {
	switch s {
	case ShiftStatusInactive, ShiftStatusActive, ShiftStatusPaused, ShiftStatusEnded:
		return true
	}
	return false
}

// Shift represents a driver's work shift.
// ID stays empty until the record store has persisted the shift.
type Shift struct {
	ID                string      `json:"id" db:"id"`
	DriverID          string      `json:"driver_id" db:"driver_id"`
	Status            ShiftStatus `json:"status" db:"status"`
	StartTime         int64       `json:"start_time" db:"start_time"` // epoch ms
	EndTime           *int64      `json:"end_time,omitempty" db:"end_time"`
	StartLatitude     *float64    `json:"start_latitude,omitempty" db:"start_latitude"`
	StartLongitude    *float64    `json:"start_longitude,omitempty" db:"start_longitude"`
	TotalPauseSeconds int         `json:"total_pause_seconds" db:"total_pause_seconds"`
	PauseStartTime    *int64      `json:"pause_start_time,omitempty" db:"pause_start_time"`
	CreatedAt         int64       `json:"created_at" db:"created_at"`
	UpdatedAt         int64       `json:"updated_at" db:"updated_at"`
}

// ShiftUpdate carries the fields a status transition writes
type ShiftUpdate struct {
	Status  ShiftStatus `json:"status"`
	EndTime *int64      `json:"end_time,omitempty"`
}

// Clone returns a deep copy of s
func (s *Shift) Clone() *Shift {
	if s == nil {
		return nil
	}
	c := *s
	c.EndTime = cloneInt64(s.EndTime)
	c.PauseStartTime = cloneInt64(s.PauseStartTime)
	if s.StartLatitude != nil {
		lat := *s.StartLatitude
		c.StartLatitude = &lat
	}
	if s.StartLongitude != nil {
		lng := *s.StartLongitude
		c.StartLongitude = &lng
	}
	return &c
}

func cloneInt64(v *int64) *int64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

// GetActiveShiftDuration calculates the active duration excluding pauses
func (s *Shift) GetActiveShiftDuration(now time.Time) time.Duration {
	if s.StartTime == 0 {
		return 0
	}

	end := now.UnixMilli()
	if s.EndTime != nil {
		end = *s.EndTime
	}
	total := time.Duration(end-s.StartTime) * time.Millisecond

	pause := time.Duration(s.TotalPauseSeconds) * time.Second
	if s.PauseStartTime != nil {
		pause += time.Duration(end-*s.PauseStartTime) * time.Millisecond
	}

	active := total - pause
	if active < 0 {
		active = 0
	}
	return active
}

// ToNullInt64 converts a pointer to int64 to sql.NullInt64
func ToNullInt64(i *int64) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{Valid: false}
	}
	return sql.NullInt64{Int64: *i, Valid: true}
}
