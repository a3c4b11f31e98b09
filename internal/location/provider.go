// Package location abstracts the platform location service behind a single
// capability interface and builds the permission and single-fix acquisition
// logic on top of it.
//
// Two platform implementations live in subpackages: gpsd (a local GNSS
// receiver behind the gpsd daemon) and bridge (a companion phone/browser app
// connected over a websocket). Everything else depends only on Provider.
package location

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fleet-tracker/internal/models"
)

// Permission is the state of location access on the device
type Permission string

const (
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
	PermissionUnknown Permission = "unknown"
)

// ErrorCode classifies a location failure. Values match the W3C geolocation
// codes so browser companions can forward them unchanged.
type ErrorCode int

const (
	CodeUnknown             ErrorCode = 0
	CodePermissionDenied    ErrorCode = 1
	CodePositionUnavailable ErrorCode = 2
	CodeTimeout             ErrorCode = 3
)

func (c ErrorCode) String() string {
	switch c {
	case CodePermissionDenied:
		return "permission_denied"
	case CodePositionUnavailable:
		return "position_unavailable"
	case CodeTimeout:
		return "timeout"
	}
	return "unknown"
}

// Error is a location failure reported by a provider
type Error struct {
	Code    ErrorCode
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("location error: %s", e.Code)
	}
	return fmt.Sprintf("location error: %s: %s", e.Code, e.Message)
}

// NewError builds a provider error
func NewError(code ErrorCode, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the ErrorCode from err. Context deadlines count as
// timeouts; anything unrecognised is CodeUnknown.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}
	var locErr *Error
	if errors.As(err, &locErr) {
		return locErr.Code
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CodeTimeout
	}
	return CodeUnknown
}

// Profile is one set of acquisition parameters
type Profile struct {
	HighAccuracy bool
	Timeout      time.Duration
	MaximumAge   time.Duration // oldest cached fix the caller accepts
}

func (p Profile) String() string {
	return fmt.Sprintf("high_accuracy=%t timeout=%s max_age=%s", p.HighAccuracy, p.Timeout, p.MaximumAge)
}

// WatchID identifies one open subscription on a provider
type WatchID string

// WatchEvent is one delivery on a subscription channel: either a fix or an
// error, never both
type WatchEvent struct {
	Sample *models.PositionSample
	Err    error
}

// Provider is the platform location capability
type Provider interface {
	// GetFix returns a single fix honouring the profile's timeout and maximum age
	GetFix(ctx context.Context, profile Profile) (models.PositionSample, error)

	// Watch opens a subscription. Events arrive on the returned channel until
	// ClearWatch is called or ctx ends; the channel is closed afterwards.
	Watch(ctx context.Context, profile Profile) (WatchID, <-chan WatchEvent, error)

	// ClearWatch closes a subscription. Unknown ids are ignored.
	ClearWatch(id WatchID)
}

// PermissionQuerier is implemented by platforms with a native permission query
type PermissionQuerier interface {
	QueryPermission(ctx context.Context) (Permission, error)
}

// StandardPermissionQuerier is implemented by platforms that lack a native
// query but expose a generic permissions capability. ok is false when the
// capability is absent at runtime.
type StandardPermissionQuerier interface {
	StandardPermission(ctx context.Context) (state Permission, ok bool)
}

// NetworkLocator resolves a coarse position without device positioning
type NetworkLocator interface {
	Locate(ctx context.Context) (lat, lng float64, err error)
}

// NetworkAccuracyMeters is the accuracy assigned to IP based fixes
const NetworkAccuracyMeters = 10000.0

// networkSample builds the coarse sample for an IP fix
func networkSample(lat, lng float64, now time.Time) models.PositionSample {
	return models.PositionSample{
		Latitude:  lat,
		Longitude: lng,
		Accuracy:  NetworkAccuracyMeters,
		Timestamp: now.UnixMilli(),
		Source:    models.SourceNetwork,
	}
}
