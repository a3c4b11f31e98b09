// Package bridge turns a companion phone or browser app, connected over a
// websocket, into a location source. The companion owns the platform
// permission prompt and positioning; the agent drives it with requests.
//
// Wire format: one JSON object per websocket text message.
//
//	agent → companion: get_fix, watch, clear_watch, query_permission, notice, pong
//	companion → agent: fix, fix_error, permission_state, ping
//
// Requests carry an id; fix and fix_error answer the get_fix or watch with
// the same id, permission_state answers query_permission (or arrives
// unsolicited when the user changes the setting).
package bridge

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"fleet-tracker/internal/location"
	"fleet-tracker/internal/models"
	"fleet-tracker/internal/notify"
)

const (
	typeGetFix          = "get_fix"
	typeWatch           = "watch"
	typeClearWatch      = "clear_watch"
	typeQueryPermission = "query_permission"
	typeNotice          = "notice"
	typeFix             = "fix"
	typeFixError        = "fix_error"
	typePermissionState = "permission_state"
	typePing            = "ping"
	typePong            = "pong"
)

// ErrNoCompanion is returned when no companion app is connected
var ErrNoCompanion = errors.New("no companion app connected")

// queryTimeout bounds a permission query round trip
const queryTimeout = 5 * time.Second

type wireProfile struct {
	HighAccuracy bool  `json:"high_accuracy"`
	TimeoutMs    int64 `json:"timeout_ms"`
	MaximumAgeMs int64 `json:"maximum_age_ms"`
}

func toWire(p location.Profile) *wireProfile {
	return &wireProfile{
		HighAccuracy: p.HighAccuracy,
		TimeoutMs:    p.Timeout.Milliseconds(),
		MaximumAgeMs: p.MaximumAge.Milliseconds(),
	}
}

type message struct {
	Type       string                 `json:"type"`
	ID         string                 `json:"id,omitempty"`
	Profile    *wireProfile           `json:"profile,omitempty"`
	Sample     *models.PositionSample `json:"sample,omitempty"`
	Code       location.ErrorCode     `json:"code,omitempty"`
	Message    string                 `json:"message,omitempty"`
	Permission location.Permission    `json:"permission,omitempty"`
	Notice     *notify.Notice         `json:"notice,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The control listener is bound locally; companions connect from
	// file:// or app origins
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Bridge is a location.Provider, location.PermissionQuerier and
// notify.Notifier backed by the connected companion. A newly connected
// companion replaces the previous one.
type Bridge struct {
	mu         sync.Mutex
	peer       *peer
	pending    map[string]pendingReply
	watches    map[location.WatchID]watch
	permission location.Permission
}

// pendingReply and watch remember the peer they were sent to, so a
// disconnect fails only that peer's work
type pendingReply struct {
	peer  *peer
	reply chan message
}

type watch struct {
	peer   *peer
	events chan location.WatchEvent
}

// New creates a bridge with no companion
func New() *Bridge {
	return &Bridge{
		pending:    make(map[string]pendingReply),
		watches:    make(map[location.WatchID]watch),
		permission: location.PermissionUnknown,
	}
}

// Handler upgrades the companion's connection
func (b *Bridge) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("❌ Bridge upgrade failed: %v", err)
			return
		}

		p := newPeer(uuid.NewString(), conn, b)
		b.attach(p)

		go p.writePump()
		go p.readPump()

		log.WithField("peer", p.id).Info("✅ Companion app connected")
	}
}

// Connected reports whether a companion is attached
func (b *Bridge) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.peer != nil
}

func (b *Bridge) attach(p *peer) {
	b.mu.Lock()
	old := b.peer
	b.peer = p
	b.mu.Unlock()

	if old != nil {
		b.detach(old)
	}
}

// detach drops p and fails every request and watch sent to it
func (b *Bridge) detach(p *peer) {
	b.mu.Lock()
	select {
	case <-p.done:
		b.mu.Unlock()
		return
	default:
		close(p.done)
	}
	if b.peer == p {
		b.peer = nil
		b.permission = location.PermissionUnknown
	}

	var pending []chan message
	for id, pr := range b.pending {
		if pr.peer == p {
			pending = append(pending, pr.reply)
			delete(b.pending, id)
		}
	}
	var watches []chan location.WatchEvent
	for id, w := range b.watches {
		if w.peer == p {
			watches = append(watches, w.events)
			delete(b.watches, id)
		}
	}
	b.mu.Unlock()

	lost := message{Type: typeFixError, Code: location.CodePositionUnavailable, Message: "companion disconnected"}
	for _, ch := range pending {
		ch <- lost
	}
	for _, ch := range watches {
		select {
		case ch <- location.WatchEvent{Err: location.NewError(location.CodePositionUnavailable, "companion disconnected")}:
		default:
		}
		close(ch)
	}

	log.WithField("peer", p.id).Info("🔴 Companion app disconnected")
}

// dispatch routes one companion message
func (b *Bridge) dispatch(p *peer, msg message) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.peer != p {
		return
	}

	switch msg.Type {
	case typePermissionState:
		if msg.Permission != "" {
			b.permission = msg.Permission
		}
		if pr, ok := b.pending[msg.ID]; ok && pr.peer == p {
			delete(b.pending, msg.ID)
			pr.reply <- msg
		}

	case typeFix, typeFixError:
		if pr, ok := b.pending[msg.ID]; ok && pr.peer == p {
			delete(b.pending, msg.ID)
			pr.reply <- msg
			return
		}
		w, ok := b.watches[location.WatchID(msg.ID)]
		if !ok || w.peer != p {
			return
		}
		var ev location.WatchEvent
		if msg.Type == typeFixError || msg.Sample == nil {
			ev.Err = location.NewError(msg.Code, "%s", msg.Message)
		} else {
			s := withSource(*msg.Sample)
			ev.Sample = &s
		}
		select {
		case w.events <- ev:
		default:
			log.WithField("watch_id", msg.ID).Warn("⚠️  watch consumer is behind, dropping fix")
		}

	default:
		log.WithField("type", msg.Type).Debug("ignoring unknown bridge message")
	}
}

// request sends m and waits for the reply carrying the same id
func (b *Bridge) request(ctx context.Context, m message) (message, error) {
	reply := make(chan message, 1)

	b.mu.Lock()
	p := b.peer
	if p == nil {
		b.mu.Unlock()
		return message{}, ErrNoCompanion
	}
	b.pending[m.ID] = pendingReply{peer: p, reply: reply}
	b.mu.Unlock()

	if !p.enqueue(m) {
		b.forget(m.ID)
		return message{}, ErrNoCompanion
	}

	select {
	case r := <-reply:
		return r, nil
	case <-ctx.Done():
		b.forget(m.ID)
		return message{}, ctx.Err()
	}
}

func (b *Bridge) forget(id string) {
	b.mu.Lock()
	delete(b.pending, id)
	b.mu.Unlock()
}

// QueryPermission returns the companion's reported permission state, asking
// for it when none has been reported yet
func (b *Bridge) QueryPermission(ctx context.Context) (location.Permission, error) {
	b.mu.Lock()
	known := b.permission
	b.mu.Unlock()
	if known != location.PermissionUnknown {
		return known, nil
	}

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	reply, err := b.request(ctx, message{Type: typeQueryPermission, ID: uuid.NewString()})
	if err != nil {
		return location.PermissionUnknown, err
	}
	if reply.Type != typePermissionState || reply.Permission == "" {
		return location.PermissionUnknown, errors.New("companion did not report a permission state")
	}
	return reply.Permission, nil
}

// GetFix asks the companion for one fix
func (b *Bridge) GetFix(ctx context.Context, profile location.Profile) (models.PositionSample, error) {
	if profile.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, profile.Timeout)
		defer cancel()
	}

	reply, err := b.request(ctx, message{Type: typeGetFix, ID: uuid.NewString(), Profile: toWire(profile)})
	switch {
	case errors.Is(err, ErrNoCompanion):
		return models.PositionSample{}, location.NewError(location.CodePositionUnavailable, "%v", err)
	case errors.Is(err, context.DeadlineExceeded):
		return models.PositionSample{}, location.NewError(location.CodeTimeout, "companion did not answer in %s", profile.Timeout)
	case err != nil:
		return models.PositionSample{}, err
	}

	if reply.Type == typeFixError || reply.Sample == nil {
		return models.PositionSample{}, location.NewError(reply.Code, "%s", reply.Message)
	}
	return withSource(*reply.Sample), nil
}

// Watch opens a subscription on the companion
func (b *Bridge) Watch(ctx context.Context, profile location.Profile) (location.WatchID, <-chan location.WatchEvent, error) {
	id := location.WatchID(uuid.NewString())
	events := make(chan location.WatchEvent, 32)

	b.mu.Lock()
	p := b.peer
	if p == nil {
		b.mu.Unlock()
		return "", nil, location.NewError(location.CodePositionUnavailable, "%v", ErrNoCompanion)
	}
	b.watches[id] = watch{peer: p, events: events}
	b.mu.Unlock()

	if !p.enqueue(message{Type: typeWatch, ID: string(id), Profile: toWire(profile)}) {
		b.ClearWatch(id)
		return "", nil, location.NewError(location.CodePositionUnavailable, "%v", ErrNoCompanion)
	}

	context.AfterFunc(ctx, func() { b.ClearWatch(id) })
	return id, events, nil
}

// ClearWatch closes a subscription and tells the companion to stop it
func (b *Bridge) ClearWatch(id location.WatchID) {
	b.mu.Lock()
	w, ok := b.watches[id]
	delete(b.watches, id)
	b.mu.Unlock()

	if !ok {
		return
	}
	close(w.events)
	w.peer.enqueue(message{Type: typeClearWatch, ID: string(id)})
}

// Notify forwards a notice to the companion for display
func (b *Bridge) Notify(_ context.Context, n notify.Notice) {
	b.mu.Lock()
	p := b.peer
	b.mu.Unlock()
	if p != nil {
		p.enqueue(message{Type: typeNotice, Notice: &n})
	}
}

func withSource(s models.PositionSample) models.PositionSample {
	if s.Source == "" {
		s.Source = models.SourceDevice
	}
	return s
}
