package tracking

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"fleet-tracker/internal/location"
	"fleet-tracker/internal/models"
	"fleet-tracker/internal/notify"
)

// Subscription profiles
var (
	// StrictProfile is used on shift start and resume
	StrictProfile = location.Profile{HighAccuracy: true, Timeout: 30 * time.Second, MaximumAge: 30 * time.Second}

	// PermissiveProfile is the last resort after an unclassified error
	PermissiveProfile = location.Profile{HighAccuracy: false, Timeout: 45 * time.Second, MaximumAge: 60 * time.Second}
)

// Restart tuning
const (
	UnavailableRestartDelay = 2 * time.Second
	InterruptedRestartDelay = 3 * time.Second
	RelaxedMaximumAge       = 120 * time.Second
	MaxWatchTimeout         = 60 * time.Second

	// DefaultMaxRestarts caps consecutive unavailable/timeout restarts
	// between successful deliveries
	DefaultMaxRestarts = 10
)

// FixHandler receives every delivered fix, in delivery order, on the
// supervisor goroutine
type FixHandler func(ctx context.Context, sample models.PositionSample)

// Supervisor keeps one location subscription open for a shift and reopens it
// with degraded parameters when deliveries fail. Raw provider errors never
// leave the supervisor.
type Supervisor struct {
	provider location.Provider
	handler  FixHandler
	notifier notify.Notifier

	// MaxRestarts caps consecutive recoverable restarts
	MaxRestarts int

	sleep func(ctx context.Context, d time.Duration) error

	mu  sync.Mutex
	sub *subscription
}

// subscription is the live handle: the goroutine owning the watch, its
// cancel func and a channel closed when it exits
type subscription struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func (s *subscription) running() bool {
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// NewSupervisor creates a closed supervisor
func NewSupervisor(provider location.Provider, handler FixHandler, notifier notify.Notifier) *Supervisor {
	if notifier == nil {
		notifier = notify.Discard
	}
	return &Supervisor{
		provider:    provider,
		handler:     handler,
		notifier:    notifier,
		MaxRestarts: DefaultMaxRestarts,
		sleep:       sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Open starts a fresh subscription with the strict profile. It is a no-op
// if one is already running. The subscription outlives ctx's cancellation;
// only Close stops it.
func (s *Supervisor) Open(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sub != nil && s.sub.running() {
		return
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sub := &subscription{cancel: cancel, done: make(chan struct{})}
	s.sub = sub

	go s.run(runCtx, sub)
}

// Close stops the subscription and waits until no further fix can be
// handled. Closing a closed supervisor is a no-op.
func (s *Supervisor) Close() {
	s.mu.Lock()
	sub := s.sub
	s.sub = nil
	s.mu.Unlock()

	if sub == nil {
		return
	}
	sub.cancel()
	<-sub.done
}

// IsOpen reports whether a subscription is currently running
func (s *Supervisor) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sub != nil && s.sub.running()
}

// recovery tracks restart attempts since the last successful delivery
type recovery struct {
	restarts    int
	interrupted bool
}

func (s *Supervisor) run(ctx context.Context, sub *subscription) {
	defer close(sub.done)

	profile := StrictProfile
	var rec recovery

	for {
		deliveryErr := s.watch(ctx, profile, &rec)
		if ctx.Err() != nil {
			return
		}

		next, delay, ok := s.recover(ctx, deliveryErr, profile, &rec)
		if !ok {
			log.WithError(deliveryErr).Warn("⚠️  location tracking stopped until the shift is resumed")
			return
		}

		if delay > 0 {
			if err := s.sleep(ctx, delay); err != nil {
				return
			}
		}
		profile = next
	}
}

// watch opens one handle and handles deliveries until it fails or ctx ends.
// The handle is always cleared before returning.
func (s *Supervisor) watch(ctx context.Context, profile location.Profile, rec *recovery) error {
	id, events, err := s.provider.Watch(ctx, profile)
	if err != nil {
		return err
	}
	defer s.provider.ClearWatch(id)

	entry := log.WithFields(log.Fields{"watch_id": id, "profile": profile.String()})
	entry.Debug("📡 location subscription opened")

	for {
		select {
		case <-ctx.Done():
			entry.Debug("location subscription closed")
			return ctx.Err()

		case ev, ok := <-events:
			if !ok {
				return location.NewError(location.CodePositionUnavailable, "subscription ended by provider")
			}
			if ev.Err != nil {
				entry.WithField("code", location.CodeOf(ev.Err)).Debugf("delivery error: %v", ev.Err)
				return ev.Err
			}
			if ev.Sample == nil {
				continue
			}

			*rec = recovery{}
			s.handler(ctx, *ev.Sample)
		}
	}
}

// recover picks the profile and delay for the next handle, or reports that
// recovery is exhausted
func (s *Supervisor) recover(ctx context.Context, err error, profile location.Profile, rec *recovery) (location.Profile, time.Duration, bool) {
	switch location.CodeOf(err) {
	case location.CodePositionUnavailable:
		rec.restarts++
		if rec.restarts > s.MaxRestarts {
			return profile, 0, false
		}
		relaxed := profile
		relaxed.HighAccuracy = false
		relaxed.MaximumAge = RelaxedMaximumAge
		return relaxed, UnavailableRestartDelay, true

	case location.CodeTimeout:
		rec.restarts++
		if rec.restarts > s.MaxRestarts {
			return profile, 0, false
		}
		longer := profile
		longer.Timeout *= 2
		if longer.Timeout > MaxWatchTimeout {
			longer.Timeout = MaxWatchTimeout
		}
		return longer, 0, true

	default:
		if rec.interrupted {
			return profile, 0, false
		}
		rec.interrupted = true
		s.notifier.Notify(ctx, notify.Error(notify.KindTrackingInterrupt,
			"Tracking interrupted", "Location tracking was interrupted. Trying to reconnect."))
		return PermissiveProfile, InterruptedRestartDelay, true
	}
}
