// Package agent assembles the driver-side tracking agent and serves its
// local control API.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	log "github.com/sirupsen/logrus"

	"fleet-tracker/internal/models"
	"fleet-tracker/internal/shift"
	"fleet-tracker/pkg/utils"
)

// Machine is the shift lifecycle the control API drives
type Machine interface {
	Start(ctx context.Context, opts shift.StartOptions) (*models.Shift, error)
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	End(ctx context.Context) error
	Current() *models.Shift
	Status() models.ShiftStatus
	Tracking() bool
	LastFix() *models.PositionSample
}

// PendingCounter reports how many fixes wait in the offline queue
type PendingCounter interface {
	Pending(ctx context.Context) int
}

// Companion is the websocket bridge a phone or browser app connects to
type Companion interface {
	Handler() http.HandlerFunc
	Connected() bool
}

// Status is the body of GET /status
type Status struct {
	Status    models.ShiftStatus     `json:"status"`
	Shift     *models.Shift          `json:"shift"`
	Tracking  bool                   `json:"tracking"`
	Active    int64                  `json:"active_seconds"`
	Pending   int                    `json:"pending"`
	LastFix   *models.PositionSample `json:"last_fix"`
	Companion *bool                  `json:"companion_connected,omitempty"`
}

type startRequest struct {
	BypassConsent bool `json:"bypass_consent"`
}

type control struct {
	machine   Machine
	pending   PendingCounter
	companion Companion
}

// NewControlRouter serves the local control API. companion may be nil when
// the agent reads a gpsd receiver.
func NewControlRouter(machine Machine, pending PendingCounter, companion Companion) http.Handler {
	c := &control{machine: machine, pending: pending, companion: companion}

	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/status", c.status)
	r.Post("/shift/start", c.start)
	r.Post("/shift/pause", c.transition("pause", machine.Pause))
	r.Post("/shift/resume", c.transition("resume", machine.Resume))
	r.Post("/shift/end", c.transition("end", machine.End))
	if companion != nil {
		r.Get("/bridge", companion.Handler())
	}
	return r
}

func (c *control) snapshot(ctx context.Context) Status {
	st := Status{
		Status:   c.machine.Status(),
		Shift:    c.machine.Current(),
		Tracking: c.machine.Tracking(),
		Pending:  c.pending.Pending(ctx),
		LastFix:  c.machine.LastFix(),
	}
	if st.Shift != nil {
		st.Active = int64(st.Shift.GetActiveShiftDuration(time.Now()) / time.Second)
	}
	if c.companion != nil {
		connected := c.companion.Connected()
		st.Companion = &connected
	}
	return st
}

func (c *control) status(w http.ResponseWriter, r *http.Request) {
	utils.RespondData(w, http.StatusOK, c.snapshot(r.Context()))
}

func (c *control) start(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			utils.RespondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}

	// A transition runs to completion even if the caller goes away
	ctx := context.WithoutCancel(r.Context())
	_, err := c.machine.Start(ctx, shift.StartOptions{BypassConsent: req.BypassConsent})
	switch {
	case err == nil:
		utils.RespondData(w, http.StatusCreated, c.snapshot(ctx))
	case errors.Is(err, shift.ErrShiftInProgress):
		utils.RespondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, shift.ErrConsentRequired), errors.Is(err, shift.ErrPermissionDenied):
		utils.RespondError(w, http.StatusForbidden, err.Error())
	default:
		log.WithError(err).Error("❌ Failed to start shift")
		utils.RespondError(w, http.StatusBadGateway, err.Error())
	}
}

func (c *control) transition(name string, fn func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithoutCancel(r.Context())
		if err := fn(ctx); err != nil {
			log.WithError(err).Errorf("❌ Failed to %s shift", name)
			utils.RespondError(w, http.StatusBadGateway, err.Error())
			return
		}
		utils.RespondData(w, http.StatusOK, c.snapshot(ctx))
	}
}
