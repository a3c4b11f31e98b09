package geo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDistanceMeters_SamePointIsZero(t *testing.T) {
	points := [][2]float64{
		{0, 0},
		{37.3329, -121.8866},
		{-33.8688, 151.2093},
		{89.9, 179.9},
	}
	for _, p := range points {
		assert.Equal(t, 0.0, DistanceMeters(p[0], p[1], p[0], p[1]))
	}
}

func TestDistanceMeters_Symmetric(t *testing.T) {
	a := [2]float64{37.3329, -121.8866}
	b := [2]float64{37.7749, -122.4194}

	ab := DistanceMeters(a[0], a[1], b[0], b[1])
	ba := DistanceMeters(b[0], b[1], a[0], a[1])

	assert.InDelta(t, ab, ba, 1e-6)
	assert.Greater(t, ab, 0.0)
}

func TestDistanceMeters_OneDegreeOfLatitude(t *testing.T) {
	// One degree along a meridian is ~111.2 km with R = 6371 km
	got := DistanceMeters(10, 20, 11, 20)

	assert.InEpsilon(t, 111195.0, got, 0.001)
}

func TestDistanceMeters_Antipodal(t *testing.T) {
	got := DistanceMeters(0, 0, 0, 180)

	assert.InEpsilon(t, 20015086.8, got, 0.001)
}

func TestValid(t *testing.T) {
	assert.True(t, Valid(45.5, -122.6))
	assert.True(t, Valid(-90, 180))
	assert.False(t, Valid(90.1, 0))
	assert.False(t, Valid(0, -180.5))
	assert.False(t, Valid(math.NaN(), 0))
}
