// Package notify delivers fire-and-forget user notices (permission outcome,
// tracking interruptions, shift transitions).
package notify

import (
	"context"

	log "github.com/sirupsen/logrus"
)

// Level is the severity a notice is rendered with
type Level string

const (
	LevelSuccess Level = "success"
	LevelError   Level = "error"
	LevelInfo    Level = "info"
)

// Kinds of notices emitted by the tracking core
const (
	KindPermissionGranted  = "permission_granted"
	KindPermissionDenied   = "permission_denied"
	KindPermissionDegraded = "permission_degraded"
	KindTrackingInterrupt  = "tracking_interrupted"
	KindShiftStarted       = "shift_started"
	KindShiftPaused        = "shift_paused"
	KindShiftResumed       = "shift_resumed"
	KindShiftEnded         = "shift_ended"
)

// Notice is a single user facing message
type Notice struct {
	Level   Level  `json:"level"`
	Kind    string `json:"kind"`
	Title   string `json:"title"`
	Message string `json:"message"`
}

// Notifier delivers notices. Implementations must not block for long and
// must not report failures to the caller.
type Notifier interface {
	Notify(ctx context.Context, n Notice)
}

// Func adapts a plain function to Notifier
type Func func(ctx context.Context, n Notice)

func (f Func) Notify(ctx context.Context, n Notice) { f(ctx, n) }

// Discard drops every notice
var Discard Notifier = Func(func(context.Context, Notice) {})

// Multi fans a notice out to every notifier in order
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, n Notice) {
	for _, notifier := range m {
		if notifier != nil {
			notifier.Notify(ctx, n)
		}
	}
}

// Log writes notices to the process log
type Log struct{}

func (Log) Notify(_ context.Context, n Notice) {
	entry := log.WithFields(log.Fields{"kind": n.Kind, "title": n.Title})
	switch n.Level {
	case LevelError:
		entry.Warnf("🔔 %s", n.Message)
	default:
		entry.Infof("🔔 %s", n.Message)
	}
}

// Success builds a success notice
func Success(kind, title, message string) Notice {
	return Notice{Level: LevelSuccess, Kind: kind, Title: title, Message: message}
}

// Error builds an error notice
func Error(kind, title, message string) Notice {
	return Notice{Level: LevelError, Kind: kind, Title: title, Message: message}
}

// Info builds an info notice
func Info(kind, title, message string) Notice {
	return Notice{Level: LevelInfo, Kind: kind, Title: title, Message: message}
}
