// Package gpsd reads fixes from a gpsd daemon over its JSON socket protocol.
// It is the location source for in-vehicle GNSS receivers.
package gpsd

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"fleet-tracker/internal/location"
	"fleet-tracker/internal/models"
)

// DefaultAddr is where gpsd listens unless configured otherwise
const DefaultAddr = "localhost:2947"

const watchCommand = `?WATCH={"enable":true,"json":true};` + "\n"

// gpsd fix modes
const (
	modeNoFix = 1
	mode2D    = 2
	mode3D    = 3
)

// report is the subset of gpsd report fields the provider reads. Only TPV
// and ERROR classes matter; everything else is skipped.
type report struct {
	Class   string   `json:"class"`
	Mode    int      `json:"mode"`
	Time    string   `json:"time"`
	Lat     *float64 `json:"lat"`
	Lon     *float64 `json:"lon"`
	Speed   *float64 `json:"speed"`
	Track   *float64 `json:"track"`
	Eph     *float64 `json:"eph"`
	Epx     *float64 `json:"epx"`
	Epy     *float64 `json:"epy"`
	Message string   `json:"message"`
}

// Provider is a location.Provider backed by gpsd
type Provider struct {
	addr   string
	dialer net.Dialer
	now    func() time.Time

	mu      sync.Mutex
	watches map[location.WatchID]context.CancelFunc
}

// New creates a provider for the gpsd at addr (DefaultAddr when empty)
func New(addr string) *Provider {
	if addr == "" {
		addr = DefaultAddr
	}
	return &Provider{
		addr:    addr,
		now:     time.Now,
		watches: make(map[location.WatchID]context.CancelFunc),
	}
}

// GetFix waits for the first fix that satisfies profile
func (p *Provider) GetFix(ctx context.Context, profile location.Profile) (models.PositionSample, error) {
	if profile.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, profile.Timeout)
		defer cancel()
	}

	conn, err := p.open(ctx)
	if err != nil {
		return models.PositionSample{}, err
	}
	defer conn.Close()

	var fix models.PositionSample
	err = p.stream(ctx, conn, func(r report) bool {
		sample, ok := p.accept(r, profile)
		if ok {
			fix = sample
		}
		return !ok
	})
	if err != nil {
		return models.PositionSample{}, err
	}
	return fix, nil
}

// Watch streams fixes on a dedicated connection. A read that stalls, or a
// stretch without any usable fix, longer than profile.Timeout is delivered
// as a timeout error and ends the watch.
func (p *Provider) Watch(ctx context.Context, profile location.Profile) (location.WatchID, <-chan location.WatchEvent, error) {
	conn, err := p.open(ctx)
	if err != nil {
		return "", nil, err
	}

	watchCtx, cancel := context.WithCancel(ctx)
	id := location.WatchID(uuid.NewString())

	p.mu.Lock()
	p.watches[id] = cancel
	p.mu.Unlock()

	events := make(chan location.WatchEvent, 1)
	go p.runWatch(watchCtx, id, conn, profile, events)

	return id, events, nil
}

func (p *Provider) runWatch(ctx context.Context, id location.WatchID, conn net.Conn, profile location.Profile, events chan<- location.WatchEvent) {
	defer close(events)
	defer conn.Close()
	defer p.ClearWatch(id)

	emit := func(ev location.WatchEvent) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	var src net.Conn = conn
	if profile.Timeout > 0 {
		src = deadlineConn{Conn: conn, timeout: profile.Timeout}
	}

	lastFix := p.now()
	var deliveryErr error
	err := p.stream(ctx, src, func(r report) bool {
		sample, ok := p.accept(r, profile)
		if !ok {
			if profile.Timeout > 0 && r.Class == "TPV" && p.now().Sub(lastFix) > profile.Timeout {
				deliveryErr = location.NewError(location.CodeTimeout, "no usable fix for %s", profile.Timeout)
				return false
			}
			return true
		}
		lastFix = p.now()
		return emit(location.WatchEvent{Sample: &sample})
	})
	if err == nil {
		err = deliveryErr
	}
	if err == nil || ctx.Err() != nil {
		return
	}
	emit(location.WatchEvent{Err: err})
}

// ClearWatch stops a watch; unknown ids are ignored
func (p *Provider) ClearWatch(id location.WatchID) {
	p.mu.Lock()
	cancel, ok := p.watches[id]
	delete(p.watches, id)
	p.mu.Unlock()

	if ok {
		cancel()
	}
}

func (p *Provider) open(ctx context.Context) (net.Conn, error) {
	conn, err := p.dialer.DialContext(ctx, "tcp", p.addr)
	if err != nil {
		return nil, classify(ctx, err)
	}
	if _, err := io.WriteString(conn, watchCommand); err != nil {
		conn.Close()
		return nil, location.NewError(location.CodePositionUnavailable, "gpsd watch request failed: %v", err)
	}
	return conn, nil
}

// stream feeds reports to fn until fn returns false, ctx ends or the
// connection fails
func (p *Provider) stream(ctx context.Context, conn net.Conn, fn func(report) bool) error {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 16*1024), 1<<20)
	for scanner.Scan() {
		var r report
		if err := json.Unmarshal(scanner.Bytes(), &r); err != nil {
			log.WithError(err).Debug("skipping malformed gpsd report")
			continue
		}
		if r.Class == "ERROR" {
			return location.NewError(location.CodePositionUnavailable, "gpsd: %s", r.Message)
		}
		if !fn(r) {
			return nil
		}
	}

	if ctx.Err() != nil {
		return classify(ctx, ctx.Err())
	}
	if err := scanner.Err(); err != nil {
		return classify(ctx, err)
	}
	return location.NewError(location.CodePositionUnavailable, "gpsd closed the connection")
}

// accept converts a TPV report into a sample if it satisfies profile
func (p *Provider) accept(r report, profile location.Profile) (models.PositionSample, bool) {
	if r.Class != "TPV" || r.Mode <= modeNoFix || r.Lat == nil || r.Lon == nil {
		return models.PositionSample{}, false
	}
	if profile.HighAccuracy && r.Mode < mode3D {
		return models.PositionSample{}, false
	}

	now := p.now()
	ts := now
	if r.Time != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, r.Time); err == nil {
			ts = parsed
		}
	}
	if profile.MaximumAge > 0 && now.Sub(ts) > profile.MaximumAge {
		return models.PositionSample{}, false
	}

	return models.PositionSample{
		Latitude:  *r.Lat,
		Longitude: *r.Lon,
		Accuracy:  accuracy(r),
		Speed:     r.Speed,
		Heading:   r.Track,
		Timestamp: ts.UnixMilli(),
		Source:    models.SourceDevice,
	}, true
}

// accuracy is the horizontal error estimate in meters
func accuracy(r report) float64 {
	if r.Eph != nil {
		return *r.Eph
	}
	var worst float64
	if r.Epx != nil {
		worst = *r.Epx
	}
	if r.Epy != nil && *r.Epy > worst {
		worst = *r.Epy
	}
	return worst
}

// classify maps connection errors onto location error codes
func classify(ctx context.Context, err error) error {
	var netErr net.Error
	switch {
	case errors.Is(err, syscall.EACCES), errors.Is(err, syscall.EPERM):
		return location.NewError(location.CodePermissionDenied, "gpsd access denied: %v", err)
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return location.NewError(location.CodeTimeout, "gpsd: %v", ctx.Err())
	case errors.Is(err, context.Canceled):
		return err
	case errors.As(err, &netErr) && netErr.Timeout():
		return location.NewError(location.CodeTimeout, "gpsd read timed out")
	}
	return location.NewError(location.CodePositionUnavailable, "gpsd unavailable: %v", err)
}

// deadlineConn refreshes the read deadline before every read
type deadlineConn struct {
	net.Conn
	timeout time.Duration
}

func (c deadlineConn) Read(b []byte) (int, error) {
	if err := c.Conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
		return 0, fmt.Errorf("set read deadline: %w", err)
	}
	return c.Conn.Read(b)
}
