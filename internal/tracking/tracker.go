package tracking

import (
	"context"
	"sync"
	"time"

	"fleet-tracker/internal/models"
)

// Tracker is the per-shift tracking state: the current position cache and
// the last-transmitted marker. One is created when a shift starts and
// discarded when it ends.
type Tracker struct {
	shiftID     string
	driverID    string
	transmitter *Transmitter
	now         func() time.Time

	mu      sync.Mutex
	current *models.PositionSample
	last    *models.PositionSample
	lastAt  int64
}

// TrackerOption configures a Tracker
type TrackerOption func(*Tracker)

// WithClock sets the clock used to stamp transmissions
func WithClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// NewTracker creates the tracking state for one shift
func NewTracker(shiftID, driverID string, transmitter *Transmitter, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		shiftID:     shiftID,
		driverID:    driverID,
		transmitter: transmitter,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// HandleFix runs one delivered fix through the gate and, if it passes, the
// transmission path. The marker only moves on a confirmed send.
func (t *Tracker) HandleFix(ctx context.Context, sample models.PositionSample) {
	t.mu.Lock()
	t.current = &sample
	last, lastAt := t.last, t.lastAt
	t.mu.Unlock()

	if !ShouldSend(sample, last, lastAt) {
		return
	}

	u := models.LocationUpload{
		PositionSample: sample,
		ShiftID:        t.shiftID,
		DriverID:       t.driverID,
	}
	if !t.transmitter.Transmit(ctx, u) {
		return
	}

	t.mu.Lock()
	t.last = &sample
	t.lastAt = t.now().UnixMilli()
	t.mu.Unlock()
}

// Current returns the most recent fix seen, transmitted or not
func (t *Tracker) Current() *models.PositionSample {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == nil {
		return nil
	}
	c := *t.current
	return &c
}

// LastTransmitted returns the marker: the last sent fix and when it was sent
func (t *Tracker) LastTransmitted() (*models.PositionSample, int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.last == nil {
		return nil, 0
	}
	l := *t.last
	return &l, t.lastAt
}

// Reset clears the marker and position cache
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.current = nil
	t.last = nil
	t.lastAt = 0
}

// ShiftID returns the shift this tracker reports for
func (t *Tracker) ShiftID() string {
	return t.shiftID
}
