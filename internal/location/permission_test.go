package location_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"fleet-tracker/internal/location"
	"fleet-tracker/internal/location/locationtest"
	"fleet-tracker/internal/models"
	"fleet-tracker/internal/notify"
)

type recorder struct {
	mu      sync.Mutex
	notices []notify.Notice
}

func (r *recorder) Notify(_ context.Context, n notify.Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
}

func (r *recorder) kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]string, 0, len(r.notices))
	for _, n := range r.notices {
		kinds = append(kinds, n.Kind)
	}
	return kinds
}

type standardProvider struct {
	*locationtest.Provider
	state     location.Permission
	available bool
}

func (s *standardProvider) StandardPermission(context.Context) (location.Permission, bool) {
	return s.state, s.available
}

func denied() error {
	return location.NewError(location.CodePermissionDenied, "user denied")
}

func TestCheck_UsesNativeQuery(t *testing.T) {
	provider := &locationtest.QueryingProvider{Provider: locationtest.NewProvider(), State: location.PermissionDenied}
	resolver := location.NewPermissionResolver(provider, nil, nil)

	assert.Equal(t, location.PermissionDenied, resolver.Check(context.Background()))
	assert.Equal(t, 0, provider.FixCalls(), "native query must not probe")
}

func TestCheck_NativeQueryErrorIsUnknown(t *testing.T) {
	provider := &locationtest.QueryingProvider{Provider: locationtest.NewProvider(), Err: errors.New("boom")}
	resolver := location.NewPermissionResolver(provider, nil, nil)

	assert.Equal(t, location.PermissionUnknown, resolver.Check(context.Background()))
}

func TestCheck_UsesStandardQueryWhenAvailable(t *testing.T) {
	provider := &standardProvider{Provider: locationtest.NewProvider(), state: location.PermissionGranted, available: true}
	resolver := location.NewPermissionResolver(provider, nil, nil)

	assert.Equal(t, location.PermissionGranted, resolver.Check(context.Background()))
	assert.Equal(t, 0, provider.FixCalls())
}

func TestCheck_ProbeOutcomes(t *testing.T) {
	tests := []struct {
		name string
		fix  locationtest.FixResult
		want location.Permission
	}{
		{"fix succeeds", locationtest.FixResult{Sample: models.PositionSample{Latitude: 1}}, location.PermissionGranted},
		{"explicit denial", locationtest.FixResult{Err: denied()}, location.PermissionDenied},
		{"timeout is inconclusive", locationtest.FixResult{Err: location.NewError(location.CodeTimeout, "")}, location.PermissionGranted},
		{"unavailable is inconclusive", locationtest.FixResult{Err: location.NewError(location.CodePositionUnavailable, "")}, location.PermissionGranted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Standard capability absent at runtime falls through to the probe
			provider := &standardProvider{Provider: locationtest.NewProvider()}
			provider.Fixes = []locationtest.FixResult{tt.fix}
			resolver := location.NewPermissionResolver(provider, nil, nil)

			assert.Equal(t, tt.want, resolver.Check(context.Background()))
			assert.Equal(t, 1, provider.FixCalls())
			assert.LessOrEqual(t, provider.FixProfiles[0].Timeout, location.ProbeTimeout)
		})
	}
}

func TestRequest_FirstFixGrants(t *testing.T) {
	provider := locationtest.NewProvider()
	provider.QueueErr(location.NewError(location.CodeTimeout, ""))
	provider.QueueFix(models.PositionSample{Latitude: 1})
	notices := &recorder{}

	state, degraded := location.NewPermissionResolver(provider, nil, notices).Request(context.Background())

	assert.Equal(t, location.PermissionGranted, state)
	assert.False(t, degraded)
	assert.Equal(t, 2, provider.FixCalls())
	assert.Equal(t, location.RequestStrategies[:2], provider.FixProfiles)
	assert.Equal(t, []string{notify.KindPermissionGranted}, notices.kinds())
}

func TestRequest_AllDenied(t *testing.T) {
	provider := locationtest.NewProvider()
	provider.DefaultErr = denied()
	network := &locationtest.Network{Lat: 1, Lng: 1}
	notices := &recorder{}

	state, degraded := location.NewPermissionResolver(provider, network, notices).Request(context.Background())

	assert.Equal(t, location.PermissionDenied, state)
	assert.False(t, degraded)
	assert.Equal(t, 0, network.Calls(), "explicit denial must not fall back to IP")
	assert.Equal(t, []string{notify.KindPermissionDenied}, notices.kinds())
}

func TestRequest_NoSignalFallsBackToNetwork(t *testing.T) {
	provider := locationtest.NewProvider()
	network := &locationtest.Network{Lat: 1, Lng: 1}
	notices := &recorder{}

	state, degraded := location.NewPermissionResolver(provider, network, notices).Request(context.Background())

	assert.Equal(t, location.PermissionGranted, state)
	assert.True(t, degraded)
	assert.Equal(t, 3, provider.FixCalls())
	assert.Equal(t, 1, network.Calls())
	assert.Equal(t, []string{notify.KindPermissionDegraded}, notices.kinds())
}

func TestRequest_NothingWorksStillGrantsDegraded(t *testing.T) {
	provider := locationtest.NewProvider()
	provider.DefaultErr = location.NewError(location.CodeTimeout, "")
	network := &locationtest.Network{Err: errors.New("offline")}
	notices := &recorder{}

	state, degraded := location.NewPermissionResolver(provider, network, notices).Request(context.Background())

	assert.Equal(t, location.PermissionGranted, state, "no strategy refused access")
	assert.True(t, degraded)
	assert.Equal(t, 3, provider.FixCalls())
	assert.Equal(t, 1, network.Calls())
	assert.Equal(t, []string{notify.KindPermissionDegraded}, notices.kinds())
}

func TestRequest_MixedDenialIsNotDenied(t *testing.T) {
	provider := locationtest.NewProvider()
	provider.QueueErr(denied())
	provider.QueueErr(location.NewError(location.CodePositionUnavailable, ""))
	provider.QueueErr(denied())
	network := &locationtest.Network{Err: errors.New("offline")}
	notices := &recorder{}

	state, degraded := location.NewPermissionResolver(provider, network, notices).Request(context.Background())

	assert.Equal(t, location.PermissionGranted, state)
	assert.True(t, degraded)
	assert.Equal(t, []string{notify.KindPermissionDegraded}, notices.kinds())
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, location.CodePermissionDenied, location.CodeOf(denied()))
	assert.Equal(t, location.CodeTimeout, location.CodeOf(context.DeadlineExceeded))
	assert.Equal(t, location.CodeUnknown, location.CodeOf(errors.New("x")))
	assert.Equal(t, location.CodeUnknown, location.CodeOf(nil))
}
