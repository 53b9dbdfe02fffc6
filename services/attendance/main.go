package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/diagnosis/checkin-refunds/pkg/cache"
	"github.com/diagnosis/checkin-refunds/pkg/config"
	"github.com/diagnosis/checkin-refunds/pkg/database"
	"github.com/diagnosis/checkin-refunds/pkg/events"
	"github.com/diagnosis/checkin-refunds/pkg/logger"
	mw "github.com/diagnosis/checkin-refunds/pkg/middleware"
	"github.com/diagnosis/checkin-refunds/services/attendance/internal/handlers"
	"github.com/diagnosis/checkin-refunds/services/attendance/internal/repository"
	"github.com/diagnosis/checkin-refunds/services/attendance/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	// Connect to database
	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	// Settlement cache and idempotency store
	store, err := cache.NewRedisStore(ctx, cfg.Redis)
	if err != nil {
		logger.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	// Connect to event bus
	eventBus, err := events.NewNATSEventBus(cfg.NATS.URL)
	if err != nil {
		logger.Error("Failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer eventBus.Close()

	// Initialize repositories
	tokenRepo := repository.NewTokenRepository(pool)
	attendanceRepo := repository.NewAttendanceRepository(pool)
	participantRepo := repository.NewParticipantRepository(pool)
	occurrenceRepo := repository.NewOccurrenceRepository(pool)
	settlementRepo := repository.NewSettlementRepository(pool)

	// Initialize services
	tokenService := service.NewTokenService(tokenRepo, occurrenceRepo, eventBus, cfg)
	settlementService := service.NewSettlementService(settlementRepo, participantRepo, store, eventBus, cfg)
	checkInService := service.NewCheckInService(tokenService, occurrenceRepo, participantRepo, attendanceRepo, eventBus, cfg,
		service.WithInvalidator(settlementService))

	// Cached decisions are dropped whenever their inputs change. The queue
	// group makes one replica handle each event.
	for _, subject := range []string{events.AttendanceRecord, events.ReportUpdated, events.PolicyUpdated} {
		if err := eventBus.QueueSubscribe(subject, events.SettlementWorkers, settlementService.HandleInvalidation); err != nil {
			logger.Error("Failed to subscribe", "subject", subject, "error", err)
			os.Exit(1)
		}
	}

	// Initialize handlers
	h := handlers.New(tokenService, checkInService, settlementService, cfg)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "Idempotent-Replayed"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(mw.RequestID)
	r.Use(mw.ServiceName("attendance"))
	r.Use(mw.Logging)
	r.Use(mw.Recoverer)
	r.Use(mw.Health(map[string]mw.HealthCheck{
		"postgres": pool.Ping,
		"redis":    store.Ping,
	}))

	h.Mount(r, mw.Idempotency(store, 24*time.Hour, handlers.CallerID))

	// Start server
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("Shutting down attendance service...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Attendance service shutdown error", "error", err)
		}
	}()

	logger.Info("Starting attendance service", "port", cfg.Server.Port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Attendance service error", "error", err)
		os.Exit(1)
	}
}
