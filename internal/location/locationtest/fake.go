// Package locationtest provides scriptable location providers for tests.
package locationtest

import (
	"context"
	"fmt"
	"sync"

	"fleet-tracker/internal/location"
	"fleet-tracker/internal/models"
)

// FixResult is one scripted GetFix outcome
type FixResult struct {
	Sample models.PositionSample
	Err    error
}

// Provider is a scriptable location.Provider. GetFix pops results from Fixes
// and returns DefaultErr once they run out. Watches stay open until cleared;
// tests push deliveries with Emit and Fail.
type Provider struct {
	mu sync.Mutex

	Fixes      []FixResult
	DefaultErr error
	WatchErr   error

	FixProfiles   []location.Profile
	WatchProfiles []location.Profile
	Cleared       []location.WatchID

	nextID  int
	watches map[location.WatchID]chan location.WatchEvent
	latest  location.WatchID
}

// NewProvider creates an empty fake
func NewProvider() *Provider {
	return &Provider{
		DefaultErr: location.NewError(location.CodePositionUnavailable, "no scripted fix"),
		watches:    make(map[location.WatchID]chan location.WatchEvent),
	}
}

// QueueFix appends a successful GetFix result
func (p *Provider) QueueFix(s models.PositionSample) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Fixes = append(p.Fixes, FixResult{Sample: s})
}

// QueueErr appends a failed GetFix result
func (p *Provider) QueueErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Fixes = append(p.Fixes, FixResult{Err: err})
}

func (p *Provider) GetFix(ctx context.Context, profile location.Profile) (models.PositionSample, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.FixProfiles = append(p.FixProfiles, profile)
	if err := ctx.Err(); err != nil {
		return models.PositionSample{}, err
	}
	if len(p.Fixes) == 0 {
		return models.PositionSample{}, p.DefaultErr
	}
	next := p.Fixes[0]
	p.Fixes = p.Fixes[1:]
	return next.Sample, next.Err
}

func (p *Provider) Watch(ctx context.Context, profile location.Profile) (location.WatchID, <-chan location.WatchEvent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.WatchProfiles = append(p.WatchProfiles, profile)
	if p.WatchErr != nil {
		return "", nil, p.WatchErr
	}

	p.nextID++
	id := location.WatchID(fmt.Sprintf("watch-%d", p.nextID))
	ch := make(chan location.WatchEvent, 64)
	p.watches[id] = ch
	p.latest = id

	go func() {
		<-ctx.Done()
		p.ClearWatch(id)
	}()

	return id, ch, nil
}

func (p *Provider) ClearWatch(id location.WatchID) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ch, ok := p.watches[id]
	if !ok {
		return
	}
	delete(p.watches, id)
	close(ch)
	p.Cleared = append(p.Cleared, id)
}

// Emit delivers a fix on the most recently opened watch. It reports false
// when no watch is open.
func (p *Provider) Emit(s models.PositionSample) bool {
	return p.send(location.WatchEvent{Sample: &s})
}

// Fail delivers an error on the most recently opened watch
func (p *Provider) Fail(err error) bool {
	return p.send(location.WatchEvent{Err: err})
}

func (p *Provider) send(ev location.WatchEvent) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	ch, ok := p.watches[p.latest]
	if !ok {
		return false
	}
	ch <- ev
	return true
}

// OpenWatches returns how many subscriptions are currently open
func (p *Provider) OpenWatches() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.watches)
}

// WatchCount returns how many subscriptions were ever opened
func (p *Provider) WatchCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.WatchProfiles)
}

// LastWatchProfile returns the profile of the most recent Watch call
func (p *Provider) LastWatchProfile() location.Profile {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.WatchProfiles) == 0 {
		return location.Profile{}
	}
	return p.WatchProfiles[len(p.WatchProfiles)-1]
}

// FixCalls returns how many times GetFix was called
func (p *Provider) FixCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.FixProfiles)
}

// QueryingProvider adds a native permission query to Provider
type QueryingProvider struct {
	*Provider
	State location.Permission
	Err   error
}

func (q *QueryingProvider) QueryPermission(context.Context) (location.Permission, error) {
	return q.State, q.Err
}

// Network is a scriptable location.NetworkLocator
type Network struct {
	mu    sync.Mutex
	Lat   float64
	Lng   float64
	Err   error
	calls int
}

func (n *Network) Locate(context.Context) (float64, float64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls++
	if n.Err != nil {
		return 0, 0, n.Err
	}
	return n.Lat, n.Lng, nil
}

// Calls returns how many lookups were made
func (n *Network) Calls() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls
}
