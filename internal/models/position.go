package models

// PositionSource tells where a fix came from
type PositionSource string

const (
	SourceDevice  PositionSource = "device"  // Satellite/device positioning
	SourceNetwork PositionSource = "network" // IP lookup, city/ISP-block accuracy
)

// PositionSample is a single fix. It is treated as an immutable value:
// pass it by value and never mutate one after creation.
type PositionSample struct {
	Latitude  float64        `json:"latitude"`
	Longitude float64        `json:"longitude"`
	Accuracy  float64        `json:"accuracy"`          // meters, >= 0
	Speed     *float64       `json:"speed,omitempty"`   // m/s
	Heading   *float64       `json:"heading,omitempty"` // 0-360 degrees
	Timestamp int64          `json:"timestamp"`         // capture time, epoch ms
	Battery   *float64       `json:"battery,omitempty"` // 0-100
	Source    PositionSource `json:"source,omitempty"`
}

// Degraded reports whether the sample came from a coarse network lookup
func (p PositionSample) Degraded() bool {
	return p.Source == SourceNetwork
}

// LocationUpload is a sample tagged for the ingestion endpoint
type LocationUpload struct {
	PositionSample
	ShiftID       string `json:"shift_id"`
	DriverID      string `json:"driver_id"`
	IsOfflineSync bool   `json:"is_offline_sync"`
}

// MaxLocationBatch is the largest batch the ingestion endpoint accepts
const MaxLocationBatch = 1000

// LocationBatch is the body of a batched upload
type LocationBatch struct {
	Locations []LocationUpload `json:"locations"`
}
