package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	"fleet-tracker/internal/geo"
	"fleet-tracker/internal/middleware"
	"fleet-tracker/internal/models"
	"fleet-tracker/internal/websocket"
	"fleet-tracker/pkg/utils"
)

const (
	maxIngestBody = 1 << 20
	maxBatchSize  = models.MaxLocationBatch
)

// LocationStore persists ingested fixes
type LocationStore interface {
	Insert(ctx context.Context, loc models.DriverLocation) error
	InsertBatch(ctx context.Context, locs []models.DriverLocation) (string, error)
	ForShift(ctx context.Context, shiftID string) ([]models.DriverLocation, error)
	CurrentLocations(ctx context.Context) ([]models.CurrentLocation, error)
}

func validUpload(u models.LocationUpload) error {
	if !geo.Valid(u.Latitude, u.Longitude) {
		return fmt.Errorf("invalid coordinates %f,%f", u.Latitude, u.Longitude)
	}
	if u.Latitude == 0 && u.Longitude == 0 {
		return fmt.Errorf("invalid coordinates")
	}
	if u.Timestamp <= 0 {
		return fmt.Errorf("missing timestamp")
	}
	if u.Accuracy < 0 {
		return fmt.Errorf("negative accuracy")
	}
	return nil
}

func broadcastLocation(hub Broadcaster, loc models.DriverLocation) {
	hub.BroadcastToRole(models.RoleAdmin, websocket.Event{
		Type: websocket.EventDriverLocation,
		Data: loc,
	})
}

// UpdateLocation ingests one live fix
func UpdateLocation(locations LocationStore, hub Broadcaster) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userClaims, ok := middleware.GetUserFromContext(r)
		if !ok {
			utils.RespondError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		var req models.LocationUpload
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxIngestBody)).Decode(&req); err != nil {
			utils.RespondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		if err := validUpload(req); err != nil {
			utils.RespondError(w, http.StatusBadRequest, err.Error())
			return
		}
		req.DriverID = userClaims.UserID

		loc := models.FromUpload(req)
		if err := locations.Insert(r.Context(), loc); err != nil {
			log.Printf("❌ Error saving location: %v", err)
			utils.RespondError(w, http.StatusInternalServerError, "Failed to save location")
			return
		}

		broadcastLocation(hub, loc)
		utils.RespondData(w, http.StatusOK, map[string]interface{}{"accepted": 1})
	}
}

// UpdateLocationBatch ingests a replayed offline queue in one transaction.
// Managers only see the newest fix of the batch.
func UpdateLocationBatch(locations LocationStore, hub Broadcaster) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userClaims, ok := middleware.GetUserFromContext(r)
		if !ok {
			utils.RespondError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		var req models.LocationBatch
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxIngestBody)).Decode(&req); err != nil {
			utils.RespondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		if len(req.Locations) > maxBatchSize {
			utils.RespondError(w, http.StatusBadRequest, fmt.Sprintf("Batch exceeds %d locations", maxBatchSize))
			return
		}
		if len(req.Locations) == 0 {
			utils.RespondData(w, http.StatusOK, map[string]interface{}{"accepted": 0})
			return
		}

		locs := make([]models.DriverLocation, 0, len(req.Locations))
		latest := 0
		for i, u := range req.Locations {
			if err := validUpload(u); err != nil {
				utils.RespondError(w, http.StatusBadRequest, fmt.Sprintf("location %d: %v", i, err))
				return
			}
			u.DriverID = userClaims.UserID
			locs = append(locs, models.FromUpload(u))
			if u.Timestamp >= req.Locations[latest].Timestamp {
				latest = i
			}
		}

		batchID, err := locations.InsertBatch(r.Context(), locs)
		if err != nil {
			log.Printf("❌ Error saving location batch: %v", err)
			utils.RespondError(w, http.StatusInternalServerError, "Failed to save locations")
			return
		}

		log.Printf("📦 Stored %d replayed locations for %s (batch %s)", len(locs), userClaims.UserID, batchID)
		broadcastLocation(hub, locs[latest])
		utils.RespondData(w, http.StatusOK, map[string]interface{}{
			"accepted": len(locs),
			"batch_id": batchID,
		})
	}
}

// GetDriverLocations returns the latest position of every driver on shift
func GetDriverLocations(locations LocationStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		current, err := locations.CurrentLocations(r.Context())
		if err != nil {
			log.Printf("❌ Error loading driver locations: %v", err)
			utils.RespondError(w, http.StatusInternalServerError, "Database error")
			return
		}
		utils.RespondData(w, http.StatusOK, current)
	}
}

// GetShiftLocations returns a shift's breadcrumb trail
func GetShiftLocations(locations LocationStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		trail, err := locations.ForShift(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			log.Printf("❌ Error loading shift locations: %v", err)
			utils.RespondError(w, http.StatusInternalServerError, "Database error")
			return
		}
		if trail == nil {
			trail = []models.DriverLocation{}
		}
		utils.RespondData(w, http.StatusOK, trail)
	}
}
