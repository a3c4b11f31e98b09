package models

// DriverLocation is a stored GPS location received from a driver
type DriverLocation struct {
	ID            int      `json:"id" db:"id"`
	DriverID      string   `json:"driver_id" db:"driver_id"`
	ShiftID       *string  `json:"shift_id,omitempty" db:"shift_id"`
	Latitude      float64  `json:"latitude" db:"latitude"`
	Longitude     float64  `json:"longitude" db:"longitude"`
	Heading       *float64 `json:"heading,omitempty" db:"heading"`   // Direction of travel (0-360 degrees)
	Speed         *float64 `json:"speed,omitempty" db:"speed"`       // Speed in m/s
	Accuracy      *float64 `json:"accuracy,omitempty" db:"accuracy"` // GPS accuracy in meters
	Battery       *float64 `json:"battery,omitempty" db:"battery"`
	Source        string   `json:"source" db:"source"`
	IsOfflineSync bool     `json:"is_offline_sync" db:"is_offline_sync"`
	BatchID       *string  `json:"batch_id,omitempty" db:"batch_id"` // Set for replayed offline batches
	Timestamp     int64    `json:"timestamp" db:"timestamp"`         // Client-side capture time (ms)
	CreatedAt     int64    `json:"created_at" db:"created_at"`       // Server-side timestamp
}

// FromUpload converts an uploaded sample into a storable row
func FromUpload(u LocationUpload) DriverLocation {
	accuracy := u.Accuracy
	loc := DriverLocation{
		DriverID:      u.DriverID,
		Latitude:      u.Latitude,
		Longitude:     u.Longitude,
		Heading:       u.Heading,
		Speed:         u.Speed,
		Accuracy:      &accuracy,
		Battery:       u.Battery,
		Source:        string(u.Source),
		IsOfflineSync: u.IsOfflineSync,
		Timestamp:     u.Timestamp,
	}
	if loc.Source == "" {
		loc.Source = string(SourceDevice)
	}
	if u.ShiftID != "" {
		shiftID := u.ShiftID
		loc.ShiftID = &shiftID
	}
	return loc
}

// CurrentLocation is the latest position held for a driver
type CurrentLocation struct {
	DriverID  string   `json:"driver_id" db:"driver_id"`
	ShiftID   *string  `json:"shift_id,omitempty" db:"shift_id"`
	Latitude  float64  `json:"latitude" db:"latitude"`
	Longitude float64  `json:"longitude" db:"longitude"`
	Heading   *float64 `json:"heading,omitempty" db:"heading"`
	Speed     *float64 `json:"speed,omitempty" db:"speed"`
	Accuracy  *float64 `json:"accuracy,omitempty" db:"accuracy"`
	Timestamp int64    `json:"timestamp" db:"timestamp"`
	UpdatedAt int64    `json:"updated_at" db:"updated_at"`
}
