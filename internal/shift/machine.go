// Package shift owns the driver's shift lifecycle and decides when location
// tracking may run.
package shift

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"fleet-tracker/internal/location"
	"fleet-tracker/internal/models"
	"fleet-tracker/internal/notify"
	"fleet-tracker/internal/session"
	"fleet-tracker/internal/tracking"
)

var (
	ErrShiftInProgress  = errors.New("a shift is already in progress")
	ErrPermissionDenied = errors.New("location permission denied")
	ErrConsentRequired  = errors.New("location consent has not been given")
)

// Store is the shift record store. The store is the system of record; the
// machine only caches the current shift.
type Store interface {
	Create(ctx context.Context, s *models.Shift) (string, error)
	Update(ctx context.Context, id string, u models.ShiftUpdate) error
}

// Consent reports whether the driver agreed to location collection
type Consent interface {
	Consented(ctx context.Context) bool
}

// StaticConsent is a fixed consent answer, typically from configuration
type StaticConsent bool

func (c StaticConsent) Consented(context.Context) bool { return bool(c) }

// StartOptions tune Start
type StartOptions struct {
	// BypassConsent skips the consent check for callers that already
	// obtained consent another way
	BypassConsent bool
}

// Deps are the collaborators a Machine drives
type Deps struct {
	Provider    location.Provider
	Resolver    *location.PermissionResolver
	Ladder      *location.Ladder
	Store       Store
	Consent     Consent
	Transmitter *tracking.Transmitter
	Sessions    session.Provider
	Notifier    notify.Notifier
	Now         func() time.Time
}

// Machine is the shift state machine: inactive → active ⇄ paused → ended.
// Transitions are serialized; state reads never wait for a transition.
type Machine struct {
	deps Deps

	// op serializes transitions
	op sync.Mutex

	mu         sync.Mutex
	shift      *models.Shift
	tracker    *tracking.Tracker
	supervisor *tracking.Supervisor
}

// NewMachine creates a machine with no shift
func NewMachine(deps Deps) *Machine {
	if deps.Notifier == nil {
		deps.Notifier = notify.Discard
	}
	if deps.Consent == nil {
		deps.Consent = StaticConsent(false)
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Machine{deps: deps}
}

// Start begins a new shift. It checks consent and permission, records the
// shift with the store, opens tracking and flushes fixes left over from
// earlier offline periods.
func (m *Machine) Start(ctx context.Context, opts StartOptions) (*models.Shift, error) {
	m.op.Lock()
	defer m.op.Unlock()

	if st := m.Status(); st == models.ShiftStatusActive || st == models.ShiftStatusPaused {
		return nil, ErrShiftInProgress
	}

	if !opts.BypassConsent && !m.deps.Consent.Consented(ctx) {
		return nil, ErrConsentRequired
	}

	if err := m.ensurePermission(ctx); err != nil {
		return nil, err
	}

	var driverID string
	if m.deps.Sessions != nil {
		if sess, ok := m.deps.Sessions.Current(ctx); ok {
			driverID = sess.DriverID
		}
	}

	rec := &models.Shift{
		DriverID:  driverID,
		Status:    models.ShiftStatusActive,
		StartTime: m.deps.Now().UnixMilli(),
	}
	if m.deps.Ladder != nil {
		if fix := m.deps.Ladder.Acquire(ctx); fix != nil {
			lat, lng := fix.Latitude, fix.Longitude
			rec.StartLatitude = &lat
			rec.StartLongitude = &lng
		}
	}

	id, err := m.deps.Store.Create(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("failed to create shift: %w", err)
	}
	rec.ID = id

	tracker := tracking.NewTracker(id, driverID, m.deps.Transmitter, tracking.WithClock(m.deps.Now))
	supervisor := tracking.NewSupervisor(m.deps.Provider, tracker.HandleFix, m.deps.Notifier)

	m.mu.Lock()
	m.shift = rec
	m.tracker = tracker
	m.supervisor = supervisor
	m.mu.Unlock()

	supervisor.Open(ctx)
	m.flush(ctx)

	log.WithFields(log.Fields{"shift_id": id, "driver_id": driverID}).Info("✅ Shift started")
	m.deps.Notifier.Notify(ctx, notify.Success(notify.KindShiftStarted, "Shift started", "Location tracking is on."))

	return rec.Clone(), nil
}

// ensurePermission resolves the permission state, prompting when unknown
func (m *Machine) ensurePermission(ctx context.Context) error {
	switch m.deps.Resolver.Check(ctx) {
	case location.PermissionGranted:
		return nil
	case location.PermissionDenied:
		return ErrPermissionDenied
	}

	state, degraded := m.deps.Resolver.Request(ctx)
	if state != location.PermissionGranted {
		return ErrPermissionDenied
	}
	if degraded {
		log.Warn("⚠️  starting shift without a confirmed device fix")
	}
	return nil
}

// Pause stops tracking for a break. It is a no-op unless a persisted shift
// is active.
func (m *Machine) Pause(ctx context.Context) error {
	m.op.Lock()
	defer m.op.Unlock()

	cur, sup := m.snapshot()
	if cur == nil || cur.ID == "" || cur.Status != models.ShiftStatusActive {
		return nil
	}

	if err := m.deps.Store.Update(ctx, cur.ID, models.ShiftUpdate{Status: models.ShiftStatusPaused}); err != nil {
		return fmt.Errorf("failed to pause shift: %w", err)
	}
	sup.Close()

	now := m.deps.Now().UnixMilli()
	m.mu.Lock()
	m.shift.Status = models.ShiftStatusPaused
	m.shift.PauseStartTime = &now
	m.mu.Unlock()

	log.WithField("shift_id", cur.ID).Info("⏸️  Shift paused")
	m.deps.Notifier.Notify(ctx, notify.Info(notify.KindShiftPaused, "Shift paused", "Location tracking is paused."))
	return nil
}

// Resume restarts tracking after a pause with a fresh strict subscription.
// It is a no-op unless a persisted shift is paused.
func (m *Machine) Resume(ctx context.Context) error {
	m.op.Lock()
	defer m.op.Unlock()

	cur, sup := m.snapshot()
	if cur == nil || cur.ID == "" || cur.Status != models.ShiftStatusPaused {
		return nil
	}

	if err := m.deps.Store.Update(ctx, cur.ID, models.ShiftUpdate{Status: models.ShiftStatusActive}); err != nil {
		return fmt.Errorf("failed to resume shift: %w", err)
	}

	now := m.deps.Now().UnixMilli()
	m.mu.Lock()
	if m.shift.PauseStartTime != nil {
		m.shift.TotalPauseSeconds += int((now - *m.shift.PauseStartTime) / 1000)
		m.shift.PauseStartTime = nil
	}
	m.shift.Status = models.ShiftStatusActive
	m.mu.Unlock()

	sup.Open(ctx)

	log.WithField("shift_id", cur.ID).Info("▶️  Shift resumed")
	m.deps.Notifier.Notify(ctx, notify.Success(notify.KindShiftResumed, "Shift resumed", "Location tracking is on."))
	return nil
}

// End closes tracking, flushes the offline queue one last time and records
// the end of the shift. On a store failure the shift stays as it was.
func (m *Machine) End(ctx context.Context) error {
	m.op.Lock()
	defer m.op.Unlock()

	cur, sup := m.snapshot()
	if cur == nil || cur.ID == "" {
		return nil
	}
	if cur.Status != models.ShiftStatusActive && cur.Status != models.ShiftStatusPaused {
		return nil
	}

	sup.Close()
	m.flush(ctx)

	endTime := m.deps.Now().UnixMilli()
	update := models.ShiftUpdate{Status: models.ShiftStatusEnded, EndTime: &endTime}
	if err := m.deps.Store.Update(ctx, cur.ID, update); err != nil {
		if cur.Status == models.ShiftStatusActive {
			sup.Open(ctx)
		}
		return fmt.Errorf("failed to end shift: %w", err)
	}

	m.mu.Lock()
	m.tracker.Reset()
	m.shift = nil
	m.tracker = nil
	m.supervisor = nil
	m.mu.Unlock()

	log.WithField("shift_id", cur.ID).Info("🏁 Shift ended")
	m.deps.Notifier.Notify(ctx, notify.Success(notify.KindShiftEnded, "Shift ended", "Location tracking is off."))
	return nil
}

func (m *Machine) flush(ctx context.Context) {
	if n, err := m.deps.Transmitter.Flush(ctx); err != nil {
		log.WithError(err).Warn("⚠️  offline queue flush failed, will retry")
	} else if n > 0 {
		log.WithField("count", n).Debug("offline queue flushed")
	}
}

func (m *Machine) snapshot() (*models.Shift, *tracking.Supervisor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.shift == nil {
		return nil, nil
	}
	return m.shift.Clone(), m.supervisor
}

// Current returns a copy of the current shift, or nil
func (m *Machine) Current() *models.Shift {
	cur, _ := m.snapshot()
	return cur
}

// Status returns the current shift's status, inactive when there is none
func (m *Machine) Status() models.ShiftStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.shift == nil {
		return models.ShiftStatusInactive
	}
	return m.shift.Status
}

// Tracking reports whether a location subscription is currently open
func (m *Machine) Tracking() bool {
	m.mu.Lock()
	sup := m.supervisor
	m.mu.Unlock()
	return sup != nil && sup.IsOpen()
}

// LastFix returns the most recent fix seen during the current shift
func (m *Machine) LastFix() *models.PositionSample {
	m.mu.Lock()
	tracker := m.tracker
	m.mu.Unlock()
	if tracker == nil {
		return nil
	}
	return tracker.Current()
}
