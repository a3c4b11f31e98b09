package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	"fleet-tracker/internal/database"
	"fleet-tracker/internal/middleware"
	"fleet-tracker/internal/models"
	"fleet-tracker/internal/websocket"
	"fleet-tracker/pkg/utils"
)

// ShiftStore persists shift records
type ShiftStore interface {
	Create(ctx context.Context, s *models.Shift) (string, error)
	UpdateForDriver(ctx context.Context, id, driverID string, u models.ShiftUpdate) error
	Get(ctx context.Context, id string) (*models.Shift, error)
	CurrentForDriver(ctx context.Context, driverID string) (*models.Shift, error)
}

// Broadcaster pushes events to connected feed clients
type Broadcaster interface {
	BroadcastToRole(role string, data interface{})
}

func broadcastShift(hub Broadcaster, shift *models.Shift) {
	hub.BroadcastToRole(models.RoleAdmin, websocket.Event{
		Type: websocket.EventShiftUpdate,
		Data: map[string]interface{}{
			"driver_id": shift.DriverID,
			"shift_id":  shift.ID,
			"status":    shift.Status,
		},
	})
}

// GetCurrentShift returns the caller's open shift, or null data when none
func GetCurrentShift(shifts ShiftStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userClaims, ok := middleware.GetUserFromContext(r)
		if !ok {
			utils.RespondError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		shift, err := shifts.CurrentForDriver(r.Context(), userClaims.UserID)
		if errors.Is(err, database.ErrShiftNotFound) {
			utils.RespondData(w, http.StatusOK, nil)
			return
		}
		if err != nil {
			log.Printf("❌ Error getting current shift: %v", err)
			utils.RespondError(w, http.StatusInternalServerError, "Database error")
			return
		}
		utils.RespondData(w, http.StatusOK, shift)
	}
}

// CreateShift records a shift the driver agent has started. The driver is
// always the caller, whatever the body says.
func CreateShift(shifts ShiftStore, hub Broadcaster) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userClaims, ok := middleware.GetUserFromContext(r)
		if !ok {
			utils.RespondError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		var req models.Shift
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			utils.RespondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		if req.Status != "" && req.Status != models.ShiftStatusActive {
			utils.RespondError(w, http.StatusBadRequest, "A new shift must be active")
			return
		}

		rec := models.Shift{
			DriverID:       userClaims.UserID,
			Status:         models.ShiftStatusActive,
			StartTime:      req.StartTime,
			StartLatitude:  req.StartLatitude,
			StartLongitude: req.StartLongitude,
		}
		if rec.StartTime == 0 {
			rec.StartTime = time.Now().UnixMilli()
		}

		id, err := shifts.Create(r.Context(), &rec)
		if err != nil {
			log.Printf("❌ Error creating shift: %v", err)
			utils.RespondError(w, http.StatusInternalServerError, "Failed to create shift")
			return
		}

		shift, err := shifts.Get(r.Context(), id)
		if err != nil {
			log.Printf("❌ Error loading created shift %s: %v", id, err)
			utils.RespondError(w, http.StatusInternalServerError, "Database error")
			return
		}

		broadcastShift(hub, shift)
		log.Printf("🚀 Shift started: %s (driver %s)", shift.ID, shift.DriverID)
		utils.RespondData(w, http.StatusCreated, shift)
	}
}

// UpdateShift applies a pause, resume or end to one of the caller's shifts
func UpdateShift(shifts ShiftStore, hub Broadcaster) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userClaims, ok := middleware.GetUserFromContext(r)
		if !ok {
			utils.RespondError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		shiftID := chi.URLParam(r, "id")

		var req models.ShiftUpdate
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			utils.RespondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		switch req.Status {
		case models.ShiftStatusActive, models.ShiftStatusPaused:
			req.EndTime = nil
		case models.ShiftStatusEnded:
			if req.EndTime == nil {
				end := time.Now().UnixMilli()
				req.EndTime = &end
			}
		default:
			utils.RespondError(w, http.StatusBadRequest, "Invalid shift status")
			return
		}

		err := shifts.UpdateForDriver(r.Context(), shiftID, userClaims.UserID, req)
		if errors.Is(err, database.ErrShiftNotFound) {
			utils.RespondError(w, http.StatusNotFound, "Shift not found")
			return
		}
		if err != nil {
			log.Printf("❌ Error updating shift %s: %v", shiftID, err)
			utils.RespondError(w, http.StatusInternalServerError, "Failed to update shift")
			return
		}

		shift, err := shifts.Get(r.Context(), shiftID)
		if err != nil {
			log.Printf("❌ Error loading shift %s: %v", shiftID, err)
			utils.RespondError(w, http.StatusInternalServerError, "Database error")
			return
		}

		broadcastShift(hub, shift)
		log.Printf("🔄 Shift %s is now %s", shift.ID, shift.Status)
		utils.RespondData(w, http.StatusOK, shift)
	}
}
