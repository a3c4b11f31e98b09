package location

import (
	"context"
	"time"

	"fleet-tracker/internal/notify"

	log "github.com/sirupsen/logrus"
)

// ProbeTimeout bounds the fix used to infer permission on platforms that
// cannot be queried
const ProbeTimeout = 5 * time.Second

// RequestStrategies are tried in order by Request, widening each time
var RequestStrategies = []Profile{
	{HighAccuracy: true, Timeout: 5 * time.Second, MaximumAge: 0},
	{HighAccuracy: false, Timeout: 10 * time.Second, MaximumAge: 60 * time.Second},
	{HighAccuracy: false, Timeout: 20 * time.Second, MaximumAge: 300 * time.Second},
}

// PermissionResolver decides whether location access is available and
// acquires it when it is not known yet
type PermissionResolver struct {
	provider Provider
	network  NetworkLocator
	notifier notify.Notifier
}

// NewPermissionResolver creates a resolver. network may be nil, in which case
// the IP fallback is skipped.
func NewPermissionResolver(provider Provider, network NetworkLocator, notifier notify.Notifier) *PermissionResolver {
	if notifier == nil {
		notifier = notify.Discard
	}
	return &PermissionResolver{
		provider: provider,
		network:  network,
		notifier: notifier,
	}
}

// Check returns the current permission state without prompting
func (r *PermissionResolver) Check(ctx context.Context) Permission {
	if q, ok := r.provider.(PermissionQuerier); ok {
		state, err := q.QueryPermission(ctx)
		if err == nil {
			return state
		}
		log.WithError(err).Debug("native permission query failed")
		return PermissionUnknown
	}

	if q, ok := r.provider.(StandardPermissionQuerier); ok {
		if state, available := q.StandardPermission(ctx); available {
			return state
		}
	}

	return r.probe(ctx)
}

// probe infers the permission state from an actual fix attempt
func (r *PermissionResolver) probe(ctx context.Context) Permission {
	probeCtx, cancel := context.WithTimeout(ctx, ProbeTimeout)
	defer cancel()

	_, err := r.provider.GetFix(probeCtx, Profile{HighAccuracy: false, Timeout: ProbeTimeout, MaximumAge: time.Minute})
	if err == nil {
		return PermissionGranted
	}
	if CodeOf(err) == CodePermissionDenied {
		return PermissionDenied
	}

	// Timeouts and missing signal say nothing about access; do not block the driver
	log.WithError(err).Debug("permission probe inconclusive, assuming granted")
	return PermissionGranted
}

// Request acquires location access by attempting fixes with progressively
// wider strategies. It reports denied only when every strategy was explicitly
// refused. degraded is true when no device fix was obtained.
func (r *PermissionResolver) Request(ctx context.Context) (state Permission, degraded bool) {
	denials := 0

	for i, strategy := range RequestStrategies {
		attemptCtx, cancel := context.WithTimeout(ctx, strategy.Timeout)
		_, err := r.provider.GetFix(attemptCtx, strategy)
		cancel()

		if err == nil {
			log.Printf("✅ Location permission granted (strategy %d)", i+1)
			r.notifier.Notify(ctx, notify.Success(notify.KindPermissionGranted,
				"Location enabled", "Location access granted"))
			return PermissionGranted, false
		}

		if CodeOf(err) == CodePermissionDenied {
			denials++
		}
		log.WithFields(log.Fields{"strategy": i + 1, "code": CodeOf(err)}).Debugf("permission strategy failed: %v", err)

		if ctx.Err() != nil {
			break
		}
	}

	if denials == len(RequestStrategies) {
		log.Println("❌ Location permission denied")
		r.notifier.Notify(ctx, notify.Error(notify.KindPermissionDenied,
			"Location blocked", "Location access was denied. Enable it in your device settings to start a shift."))
		return PermissionDenied, false
	}

	if r.network != nil {
		_, _, err := r.network.Locate(ctx)
		if err == nil {
			log.Println("⚠️  Device positioning unavailable, using network location")
			r.notifier.Notify(ctx, notify.Info(notify.KindPermissionDegraded,
				"Limited accuracy", "GPS signal unavailable. Using approximate network location."))
			return PermissionGranted, true
		}
		log.WithError(err).Warn("network location fallback failed")
	}

	// Nothing explicitly refused access, so the driver is not blocked. The
	// supervisor keeps retrying once tracking starts.
	log.Println("⚠️  Location not confirmed by any source, continuing without a fix")
	r.notifier.Notify(ctx, notify.Info(notify.KindPermissionDegraded,
		"Location not confirmed", "Could not get a fix yet. Tracking will keep trying; check GPS and network."))
	return PermissionGranted, true
}
