package tracking

import (
	"fleet-tracker/internal/geo"
	"fleet-tracker/internal/models"
)

// Gate thresholds
const (
	// MaxSilenceMillis forces a send once this long has passed since the last
	// successful transmission, even if the driver has not moved
	MaxSilenceMillis = 90000

	// MinDistanceMeters is the movement that counts as a significant change
	MinDistanceMeters = 200.0
)

// ShouldSend decides whether candidate is worth transmitting given the last
// successfully transmitted sample and when it was transmitted (epoch ms).
// With nothing transmitted yet it always sends.
func ShouldSend(candidate models.PositionSample, last *models.PositionSample, lastAt int64) bool {
	if last == nil {
		return true
	}

	if candidate.Timestamp-lastAt > MaxSilenceMillis {
		return true
	}

	distance := geo.DistanceMeters(last.Latitude, last.Longitude, candidate.Latitude, candidate.Longitude)
	return distance > MinDistanceMeters
}
