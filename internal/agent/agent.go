package agent

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"fleet-tracker/internal/client"
	"fleet-tracker/internal/config"
	"fleet-tracker/internal/database"
	"fleet-tracker/internal/location"
	"fleet-tracker/internal/location/bridge"
	"fleet-tracker/internal/location/gpsd"
	"fleet-tracker/internal/models"
	"fleet-tracker/internal/notify"
	"fleet-tracker/internal/services"
	"fleet-tracker/internal/session"
	"fleet-tracker/internal/shift"
	"fleet-tracker/internal/tracking"
)

// Agent is a fully wired tracking agent
type Agent struct {
	Tokens      *session.TokenStore
	Machine     *shift.Machine
	Transmitter *tracking.Transmitter

	// Bridge is set when fixes come from a companion app
	Bridge *bridge.Bridge

	closers []func() error
}

// Build wires every component selected by cfg. Close releases what Build
// opened even when Build fails halfway.
func Build(ctx context.Context, cfg config.Agent) (*Agent, error) {
	a := &Agent{}
	built := false
	defer func() {
		if !built {
			a.Close()
		}
	}()

	a.Tokens = session.NewTokenStore(cfg.TokenFile)
	if cfg.DriverToken != "" {
		if err := a.Tokens.Set(cfg.DriverToken); err != nil {
			return nil, fmt.Errorf("DRIVER_TOKEN: %w", err)
		}
	}
	api := client.New(cfg.APIBaseURL, a.Tokens)

	var provider location.Provider
	switch cfg.LocationSource {
	case config.SourceGPSD:
		provider = gpsd.New(cfg.GPSDAddr)
	default:
		a.Bridge = bridge.New()
		provider = a.Bridge
	}
	network := services.NewIPLocator(cfg.IPGeoURL)

	queue, err := a.openQueue(ctx, cfg)
	if err != nil {
		return nil, err
	}

	store, err := a.openStore(api, cfg)
	if err != nil {
		return nil, err
	}

	notifier := a.notifier(ctx, cfg)

	a.Transmitter = tracking.NewTransmitter(a.Tokens, api, queue)
	a.Machine = shift.NewMachine(shift.Deps{
		Provider:    provider,
		Resolver:    location.NewPermissionResolver(provider, network, notifier),
		Ladder:      location.NewLadder(provider, network),
		Store:       store,
		Consent:     shift.StaticConsent(cfg.Consent),
		Transmitter: a.Transmitter,
		Sessions:    a.Tokens,
		Notifier:    notifier,
	})

	log.WithFields(log.Fields{
		"source": cfg.LocationSource,
		"queue":  cfg.QueueBackend,
		"store":  cfg.ShiftStore,
	}).Info("✅ Agent wired")
	built = true
	return a, nil
}

func (a *Agent) openQueue(ctx context.Context, cfg config.Agent) (tracking.Queue, error) {
	if cfg.QueueBackend != config.QueueRedis {
		return tracking.NewMemoryQueue(), nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	a.closers = append(a.closers, rdb.Close)
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.RedisAddr, err)
	}

	driverID := a.Tokens.DriverID()
	if driverID == "" {
		log.Warn("⚠️  No driver session yet, offline fixes are queued under a shared key")
	}
	return tracking.NewRedisQueue(rdb, tracking.QueueKey(cfg.QueueKey, driverID)), nil
}

func (a *Agent) openStore(api *client.Client, cfg config.Agent) (shift.Store, error) {
	if cfg.ShiftStore != config.StorePostgres {
		return api, nil
	}

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, db.Close)
	return database.NewShiftRepository(db), nil
}

// notifier fans out to the log, the companion app and, when configured, a
// push notification to the driver's phone
func (a *Agent) notifier(ctx context.Context, cfg config.Agent) notify.Notifier {
	fanout := notify.Multi{notify.Log{}}
	if a.Bridge != nil {
		fanout = append(fanout, a.Bridge)
	}

	if cfg.FCMDeviceToken == "" {
		return fanout
	}

	var (
		fcm *services.FCMNotifier
		err error
	)
	switch {
	case cfg.FCMCredsBase64 != "":
		fcm, err = services.NewFCMNotifierFromBase64(ctx, cfg.FCMCredsBase64, cfg.FCMDeviceToken)
	case cfg.FCMCredsFile != "":
		fcm, err = services.NewFCMNotifier(ctx, cfg.FCMCredsFile, cfg.FCMDeviceToken)
	default:
		log.Warn("⚠️  FCM_DEVICE_TOKEN set without Firebase credentials (push notifications disabled)")
		return fanout
	}
	if err != nil {
		log.WithError(err).Warn("⚠️  Failed to initialize FCM (push notifications disabled)")
		return fanout
	}
	log.Println("✅ Firebase Cloud Messaging initialized")
	return append(fanout, fcm)
}

// Router returns the local control API
func (a *Agent) Router() http.Handler {
	var companion Companion
	if a.Bridge != nil {
		companion = a.Bridge
	}
	return NewControlRouter(a.Machine, a.Transmitter, companion)
}

// Shutdown pauses a running shift so the record shows tracking stopped
func (a *Agent) Shutdown(ctx context.Context) {
	if a.Machine.Status() != models.ShiftStatusActive {
		return
	}
	if err := a.Machine.Pause(ctx); err != nil {
		log.WithError(err).Warn("⚠️  Could not pause shift on shutdown")
		return
	}
	log.Println("⏸️  Shift paused on shutdown")
}

// Close releases connections opened by Build
func (a *Agent) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
