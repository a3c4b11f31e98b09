package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	log "github.com/sirupsen/logrus"

	"fleet-tracker/internal/config"
	"fleet-tracker/internal/database"
	"fleet-tracker/internal/handlers"
	"fleet-tracker/internal/logging"
	"fleet-tracker/internal/middleware"
	"fleet-tracker/internal/models"
	"fleet-tracker/internal/websocket"
)

func main() {
	cfg, err := config.LoadServer()
	if err != nil {
		log.Fatalf("❌ FATAL ERROR: %v", err)
	}
	logging.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Println("🚀 FLEET TRACKER BACKEND STARTING")

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("❌ FATAL ERROR: Database connection failed: %v", err)
	}
	defer db.Close()

	if err := database.Migrate(db); err != nil {
		log.Fatalf("❌ FATAL ERROR: Database migrations failed: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.SeedDev {
		n, err := database.SeedUsers(ctx, db, database.DevAccounts)
		if err != nil {
			log.Fatalf("❌ FATAL ERROR: User seeding failed: %v", err)
		}
		log.Printf("✅ Seeded %d dev accounts", n)
	}

	users := database.NewUserRepository(db)
	shifts := database.NewShiftRepository(db)
	locations := database.NewLocationRepository(db)

	wsHub := websocket.NewHub()
	go wsHub.Run(ctx)

	r := chi.NewRouter()
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", handlers.Health(db))
	r.Post("/api/auth/login", handlers.Login(users, cfg.JWTSecret))

	// Authentication handled in the handler via query param
	r.Get("/ws", websocket.HandleWebSocket(wsHub, cfg.JWTSecret))

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(models.RoleDriver))
			r.Get("/driver/shifts/current", handlers.GetCurrentShift(shifts))
			r.Post("/driver/shifts", handlers.CreateShift(shifts, wsHub))
			r.Patch("/driver/shifts/{id}", handlers.UpdateShift(shifts, wsHub))
			r.Post("/driver/location", handlers.UpdateLocation(locations, wsHub))
			r.Post("/driver/location/batch", handlers.UpdateLocationBatch(locations, wsHub))
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(models.RoleAdmin))
			r.Get("/manager/drivers/locations", handlers.GetDriverLocations(locations))
			r.Get("/manager/shifts/{id}/locations", handlers.GetShiftLocations(locations))
		})
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Printf("🚀 Server starting on http://localhost:%s", cfg.Port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("❌ FATAL ERROR: Server failed to start: %v", err)
	}
	log.Println("👋 Server stopped")
}
