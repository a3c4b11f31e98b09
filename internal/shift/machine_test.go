package shift

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleet-tracker/internal/location"
	"fleet-tracker/internal/location/locationtest"
	"fleet-tracker/internal/models"
	"fleet-tracker/internal/notify"
	"fleet-tracker/internal/session"
	"fleet-tracker/internal/tracking"
)

const (
	t0      = int64(1_700_000_000_000)
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type memoryStore struct {
	mu        sync.Mutex
	shifts    map[string]models.Shift
	updates   []models.ShiftUpdate
	createErr error
	updateErr error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{shifts: make(map[string]models.Shift)}
}

func (s *memoryStore) Create(_ context.Context, sh *models.Shift) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return "", s.createErr
	}
	id := fmt.Sprintf("shift-%d", len(s.shifts)+1)
	rec := *sh
	rec.ID = id
	s.shifts[id] = rec
	return id, nil
}

func (s *memoryStore) Update(_ context.Context, id string, u models.ShiftUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return s.updateErr
	}
	rec, ok := s.shifts[id]
	if !ok {
		return errors.New("shift not found")
	}
	rec.Status = u.Status
	rec.EndTime = u.EndTime
	s.shifts[id] = rec
	s.updates = append(s.updates, u)
	return nil
}

func (s *memoryStore) get(id string) models.Shift {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shifts[id]
}

func (s *memoryStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.shifts)
}

func (s *memoryStore) failUpdates(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateErr = err
}

type ingestor struct {
	mu      sync.Mutex
	down    bool
	sent    []models.LocationUpload
	batches [][]models.LocationUpload
}

func (i *ingestor) Send(_ context.Context, _ *session.Session, u models.LocationUpload) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.down {
		return errors.New("network unreachable")
	}
	i.sent = append(i.sent, u)
	return nil
}

func (i *ingestor) SendBatch(_ context.Context, _ *session.Session, batch []models.LocationUpload) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.down {
		return errors.New("network unreachable")
	}
	i.batches = append(i.batches, append([]models.LocationUpload(nil), batch...))
	return nil
}

func (i *ingestor) setDown(down bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.down = down
}

func (i *ingestor) snapshot() ([]models.LocationUpload, [][]models.LocationUpload) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]models.LocationUpload(nil), i.sent...), append([][]models.LocationUpload(nil), i.batches...)
}

type sessions struct{}

func (sessions) Current(context.Context) (*session.Session, bool) {
	return &session.Session{Token: "tok", DriverID: "driver-7"}, true
}

type noticeLog struct {
	mu    sync.Mutex
	kinds []string
}

func (n *noticeLog) Notify(_ context.Context, notice notify.Notice) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.kinds = append(n.kinds, notice.Kind)
}

func (n *noticeLog) has(kind string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, k := range n.kinds {
		if k == kind {
			return true
		}
	}
	return false
}

type harness struct {
	machine  *Machine
	provider *locationtest.Provider
	store    *memoryStore
	ingestor *ingestor
	queue    *tracking.MemoryQueue
	clock    *clock
	notices  *noticeLog
}

func newHarness(t *testing.T, provider location.Provider, fake *locationtest.Provider, consent bool) *harness {
	t.Helper()
	h := &harness{
		provider: fake,
		store:    newMemoryStore(),
		ingestor: &ingestor{},
		queue:    tracking.NewMemoryQueue(),
		clock:    &clock{t: time.UnixMilli(t0)},
		notices:  &noticeLog{},
	}
	tx := tracking.NewTransmitter(sessions{}, h.ingestor, h.queue)
	h.machine = NewMachine(Deps{
		Provider:    provider,
		Resolver:    location.NewPermissionResolver(provider, nil, h.notices),
		Ladder:      location.NewLadder(provider, nil),
		Store:       h.store,
		Consent:     StaticConsent(consent),
		Transmitter: tx,
		Sessions:    sessions{},
		Notifier:    h.notices,
		Now:         h.clock.now,
	})
	t.Cleanup(func() { _ = h.machine.End(context.Background()) })
	return h
}

func newDefaultHarness(t *testing.T) *harness {
	fake := locationtest.NewProvider()
	return newHarness(t, fake, fake, true)
}

func (h *harness) waitWatches(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return h.provider.WatchCount() >= n && h.provider.OpenWatches() == 1
	}, waitFor, tick)
}

func fixAt(ts int64) models.PositionSample {
	return models.PositionSample{Latitude: 48.8566, Longitude: 2.3522, Accuracy: 6, Timestamp: ts, Source: models.SourceDevice}
}

func TestMachine_StartPersistsAndOpensTracking(t *testing.T) {
	h := newDefaultHarness(t)

	sh, err := h.machine.Start(context.Background(), StartOptions{})

	require.NoError(t, err)
	require.NotEmpty(t, sh.ID)
	assert.Equal(t, models.ShiftStatusActive, sh.Status)
	assert.Equal(t, t0, sh.StartTime)
	assert.Equal(t, "driver-7", sh.DriverID)
	assert.Equal(t, models.ShiftStatusActive, h.store.get(sh.ID).Status)

	h.waitWatches(t, 1)
	assert.True(t, h.machine.Tracking())
	assert.Equal(t, tracking.StrictProfile, h.provider.WatchProfiles[0])
	assert.True(t, h.notices.has(notify.KindShiftStarted))
}

func TestMachine_StartRecordsStartingPosition(t *testing.T) {
	h := newDefaultHarness(t)
	h.provider.QueueFix(fixAt(t0)) // permission probe
	h.provider.QueueFix(models.PositionSample{Latitude: 51.5, Longitude: -0.12, Timestamp: t0})

	sh, err := h.machine.Start(context.Background(), StartOptions{})

	require.NoError(t, err)
	require.NotNil(t, sh.StartLatitude)
	assert.Equal(t, 51.5, *sh.StartLatitude)
	assert.Equal(t, -0.12, *sh.StartLongitude)
}

func TestMachine_StartWhileInProgressIsRejected(t *testing.T) {
	h := newDefaultHarness(t)
	ctx := context.Background()

	_, err := h.machine.Start(ctx, StartOptions{})
	require.NoError(t, err)
	_, err = h.machine.Start(ctx, StartOptions{})
	assert.ErrorIs(t, err, ErrShiftInProgress)

	require.NoError(t, h.machine.Pause(ctx))
	_, err = h.machine.Start(ctx, StartOptions{})
	assert.ErrorIs(t, err, ErrShiftInProgress)

	assert.Equal(t, 1, h.store.count())
}

func TestMachine_ConsentRequiredUnlessBypassed(t *testing.T) {
	fake := locationtest.NewProvider()
	h := newHarness(t, fake, fake, false)

	_, err := h.machine.Start(context.Background(), StartOptions{})
	assert.ErrorIs(t, err, ErrConsentRequired)
	assert.Zero(t, h.store.count())
	assert.Zero(t, fake.FixCalls(), "no permission prompt without consent")

	_, err = h.machine.Start(context.Background(), StartOptions{BypassConsent: true})
	assert.NoError(t, err)
}

func TestMachine_PermissionDenied(t *testing.T) {
	fake := locationtest.NewProvider()
	querying := &locationtest.QueryingProvider{Provider: fake, State: location.PermissionDenied}
	h := newHarness(t, querying, fake, true)

	_, err := h.machine.Start(context.Background(), StartOptions{})

	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.Zero(t, h.store.count())
	assert.Zero(t, fake.WatchCount())
	assert.Equal(t, models.ShiftStatusInactive, h.machine.Status())
}

func TestMachine_UnknownPermissionIsRequested(t *testing.T) {
	fake := locationtest.NewProvider()
	fake.QueueFix(fixAt(t0))
	querying := &locationtest.QueryingProvider{Provider: fake, Err: errors.New("query unsupported")}
	h := newHarness(t, querying, fake, true)

	_, err := h.machine.Start(context.Background(), StartOptions{})

	require.NoError(t, err)
	assert.Equal(t, location.RequestStrategies[0], fake.FixProfiles[0])
	assert.True(t, h.notices.has(notify.KindPermissionGranted))
}

func TestMachine_UnknownPermissionDeniedOnRequest(t *testing.T) {
	fake := locationtest.NewProvider()
	fake.DefaultErr = location.NewError(location.CodePermissionDenied, "denied")
	querying := &locationtest.QueryingProvider{Provider: fake, Err: errors.New("query unsupported")}
	h := newHarness(t, querying, fake, true)

	_, err := h.machine.Start(context.Background(), StartOptions{})

	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.Zero(t, h.store.count())
}

func TestMachine_InconclusivePermissionDoesNotBlockStart(t *testing.T) {
	fake := locationtest.NewProvider()
	fake.DefaultErr = location.NewError(location.CodeTimeout, "no signal")
	querying := &locationtest.QueryingProvider{Provider: fake, Err: errors.New("query unsupported")}
	h := newHarness(t, querying, fake, true)

	rec, err := h.machine.Start(context.Background(), StartOptions{})

	require.NoError(t, err)
	assert.Nil(t, rec.StartLatitude)
	assert.Equal(t, 1, h.store.count())
	assert.True(t, h.notices.has(notify.KindPermissionDegraded))
	assert.False(t, h.notices.has(notify.KindPermissionDenied))
	h.waitWatches(t, 1)
}

func TestMachine_CreateFailureLeavesNoShift(t *testing.T) {
	h := newDefaultHarness(t)
	h.store.createErr = errors.New("db down")

	_, err := h.machine.Start(context.Background(), StartOptions{})

	require.Error(t, err)
	assert.Equal(t, models.ShiftStatusInactive, h.machine.Status())
	assert.Nil(t, h.machine.Current())
	assert.Zero(t, h.provider.WatchCount())
}

func TestMachine_TransitionsWithoutShiftAreNoops(t *testing.T) {
	h := newDefaultHarness(t)
	ctx := context.Background()

	assert.NoError(t, h.machine.Pause(ctx))
	assert.NoError(t, h.machine.Resume(ctx))
	assert.NoError(t, h.machine.End(ctx))

	assert.Equal(t, models.ShiftStatusInactive, h.machine.Status())
	assert.Empty(t, h.store.updates)
}

func TestMachine_PauseAndResume(t *testing.T) {
	h := newDefaultHarness(t)
	ctx := context.Background()

	sh, err := h.machine.Start(ctx, StartOptions{})
	require.NoError(t, err)
	h.waitWatches(t, 1)

	require.NoError(t, h.machine.Pause(ctx))
	assert.Equal(t, models.ShiftStatusPaused, h.machine.Status())
	assert.Equal(t, models.ShiftStatusPaused, h.store.get(sh.ID).Status)
	assert.Zero(t, h.provider.OpenWatches(), "pause closes the subscription before returning")
	assert.False(t, h.machine.Tracking())

	// Pausing twice does nothing
	require.NoError(t, h.machine.Pause(ctx))
	assert.Len(t, h.store.updates, 1)

	h.clock.advance(15 * time.Minute)
	require.NoError(t, h.machine.Resume(ctx))
	h.waitWatches(t, 2)

	assert.Equal(t, models.ShiftStatusActive, h.machine.Status())
	assert.Equal(t, tracking.StrictProfile, h.provider.LastWatchProfile())
	assert.Equal(t, 900, h.machine.Current().TotalPauseSeconds)
	assert.Nil(t, h.machine.Current().PauseStartTime)
}

func TestMachine_PauseStoreFailureKeepsTracking(t *testing.T) {
	h := newDefaultHarness(t)
	ctx := context.Background()

	_, err := h.machine.Start(ctx, StartOptions{})
	require.NoError(t, err)
	h.waitWatches(t, 1)
	h.store.failUpdates(errors.New("timeout"))

	assert.Error(t, h.machine.Pause(ctx))
	assert.Equal(t, models.ShiftStatusActive, h.machine.Status())
	assert.True(t, h.machine.Tracking())
	assert.Equal(t, 1, h.provider.OpenWatches())
}

func TestMachine_EndFromPausedClearsState(t *testing.T) {
	h := newDefaultHarness(t)
	ctx := context.Background()

	sh, err := h.machine.Start(ctx, StartOptions{})
	require.NoError(t, err)
	require.NoError(t, h.machine.Pause(ctx))

	h.clock.advance(time.Hour)
	require.NoError(t, h.machine.End(ctx))

	stored := h.store.get(sh.ID)
	assert.Equal(t, models.ShiftStatusEnded, stored.Status)
	require.NotNil(t, stored.EndTime)
	assert.Equal(t, t0+time.Hour.Milliseconds(), *stored.EndTime)

	assert.Nil(t, h.machine.Current())
	assert.Nil(t, h.machine.LastFix())
	assert.Equal(t, models.ShiftStatusInactive, h.machine.Status())
	assert.True(t, h.notices.has(notify.KindShiftEnded))

	// A fresh shift can start afterwards
	next, err := h.machine.Start(ctx, StartOptions{})
	require.NoError(t, err)
	assert.NotEqual(t, sh.ID, next.ID)
}

func TestMachine_EndStoreFailureReopensTracking(t *testing.T) {
	h := newDefaultHarness(t)
	ctx := context.Background()

	_, err := h.machine.Start(ctx, StartOptions{})
	require.NoError(t, err)
	h.waitWatches(t, 1)
	h.store.failUpdates(errors.New("timeout"))

	assert.Error(t, h.machine.End(ctx))
	assert.Equal(t, models.ShiftStatusActive, h.machine.Status())
	h.waitWatches(t, 2)

	h.store.failUpdates(nil)
}

func TestMachine_EndFlushesQueue(t *testing.T) {
	h := newDefaultHarness(t)
	ctx := context.Background()

	_, err := h.machine.Start(ctx, StartOptions{})
	require.NoError(t, err)
	h.waitWatches(t, 1)

	h.ingestor.setDown(true)
	h.provider.Emit(fixAt(t0))
	require.Eventually(t, func() bool {
		n, _ := h.queue.Len(ctx)
		return n == 1
	}, waitFor, tick)

	h.ingestor.setDown(false)
	require.NoError(t, h.machine.End(ctx))

	_, batches := h.ingestor.snapshot()
	require.Len(t, batches, 1)
	assert.True(t, batches[0][0].IsOfflineSync)
}

func TestMachine_OfflineFixesReplayedAcrossPause(t *testing.T) {
	h := newDefaultHarness(t)
	ctx := context.Background()

	sh, err := h.machine.Start(ctx, StartOptions{})
	require.NoError(t, err)
	h.waitWatches(t, 1)

	// F1: nothing transmitted yet, sent immediately
	h.provider.Emit(fixAt(t0))
	require.Eventually(t, func() bool {
		sent, _ := h.ingestor.snapshot()
		return len(sent) == 1
	}, waitFor, tick)
	n, _ := h.queue.Len(ctx)
	assert.Zero(t, n)

	// F2: 91s later with the network down, queued
	h.clock.advance(91 * time.Second)
	h.ingestor.setDown(true)
	h.provider.Emit(fixAt(t0 + 91_000))
	require.Eventually(t, func() bool {
		n, _ := h.queue.Len(ctx)
		return n == 1
	}, waitFor, tick)

	require.NoError(t, h.machine.Pause(ctx))
	assert.Zero(t, h.provider.OpenWatches())

	// F3 after resume with the network back
	h.ingestor.setDown(false)
	h.clock.advance(30 * time.Second)
	require.NoError(t, h.machine.Resume(ctx))
	h.waitWatches(t, 2)
	h.provider.Emit(fixAt(t0 + 121_000))

	require.Eventually(t, func() bool {
		sent, batches := h.ingestor.snapshot()
		return len(sent) == 2 && len(batches) == 1
	}, waitFor, tick)

	sent, batches := h.ingestor.snapshot()
	assert.Equal(t, t0, sent[0].Timestamp)
	assert.Equal(t, t0+121_000, sent[1].Timestamp)
	for _, u := range sent {
		assert.False(t, u.IsOfflineSync)
		assert.Equal(t, sh.ID, u.ShiftID)
		assert.Equal(t, "driver-7", u.DriverID)
	}

	require.Len(t, batches[0], 1)
	assert.Equal(t, t0+91_000, batches[0][0].Timestamp)
	assert.True(t, batches[0][0].IsOfflineSync)

	n, _ = h.queue.Len(ctx)
	assert.Zero(t, n)
}
