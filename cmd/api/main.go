package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/tutorhub/tutorhub-api/api/swagger"
	"github.com/tutorhub/tutorhub-api/internal/handler"
	"github.com/tutorhub/tutorhub-api/internal/middleware"
	"github.com/tutorhub/tutorhub-api/internal/models"
	"github.com/tutorhub/tutorhub-api/internal/repository"
	"github.com/tutorhub/tutorhub-api/internal/service"
	"github.com/tutorhub/tutorhub-api/pkg/cache"
	"github.com/tutorhub/tutorhub-api/pkg/config"
	"github.com/tutorhub/tutorhub-api/pkg/database"
	"github.com/tutorhub/tutorhub-api/pkg/jobs"
	"github.com/tutorhub/tutorhub-api/pkg/logger"
	corsmiddleware "github.com/tutorhub/tutorhub-api/pkg/middleware/cors"
	reqidmiddleware "github.com/tutorhub/tutorhub-api/pkg/middleware/requestid"
)

// @title TutorHub API
// @version 1.0.0
// @description Appointment booking and lecture-hour accrual service for a tutoring platform.
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	if cfg.Migrations.Auto {
		if err := database.Migrate(ctx, db, cfg.Migrations.Dir); err != nil {
			logr.Sugar().Fatalw("failed to apply migrations", "error", err)
		}
	}

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		// Idempotency degrades to best-effort without Redis; booking still works.
		logr.Sugar().Warnw("redis unavailable, idempotency keys disabled", "error", err)
		redisClient = nil
	}

	metricsService := service.NewMetricsService()

	appointmentRepo := repository.NewAppointmentRepository(db)
	lectureRepo := repository.NewLectureRepository(db)
	userRepo := repository.NewUserRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)
	availabilityRepo := repository.NewAvailabilityRepository(db)
	idempotencyRepo := repository.NewIdempotencyRepository(redisClient, cfg.Booking.IdempotencyTTL, logr)

	notificationService := service.NewNotificationService(notificationRepo, jobs.QueueConfig{
		Workers:    cfg.Notifications.Workers,
		BufferSize: cfg.Notifications.BufferSize,
		MaxRetries: cfg.Notifications.MaxRetries,
		RetryDelay: cfg.Notifications.RetryDelay,
	}, logr)
	notificationService.Start(ctx)
	defer notificationService.Stop()

	accrualService := service.NewAccrualService(lectureRepo, notificationService, metricsService,
		cfg.Payments.ReminderThresholdHours, logr)
	bookingService := service.NewBookingService(db, appointmentRepo, userRepo, idempotencyRepo,
		accrualService, notificationService, metricsService, cfg.Booking.DefaultDurationMinutes, nil, logr)
	availabilityService := service.NewAvailabilityService(availabilityRepo, appointmentRepo, nil, logr)
	lectureService := service.NewLectureService(lectureRepo, nil, logr)
	authService := service.NewAuthService(userRepo, nil, logr, service.AuthConfig{
		Secret:     cfg.JWT.Secret,
		Expiration: cfg.JWT.Expiration,
	})

	authHandler := handler.NewAuthHandler(authService)
	appointmentHandler := handler.NewAppointmentHandler(bookingService)
	availabilityHandler := handler.NewAvailabilityHandler(availabilityService)
	lectureHandler := handler.NewLectureHandler(lectureService)
	notificationHandler := handler.NewNotificationHandler(notificationService)
	metricsHandler := handler.NewMetricsHandler(metricsService)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsService))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Health)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.POST("/auth/login", authHandler.Login)

	authed := api.Group("")
	authed.Use(middleware.JWT(authService))

	authed.GET("/auth/me", authHandler.Me)

	authed.GET("/appointments", appointmentHandler.List)
	authed.POST("/appointments", appointmentHandler.Create)
	authed.GET("/appointments/:id", appointmentHandler.Get)
	authed.PUT("/appointments/:id", appointmentHandler.Update)
	authed.DELETE("/appointments/:id", appointmentHandler.Cancel)

	authed.GET("/lecture-hours", lectureHandler.List)
	authed.GET("/lecture-hours/:id", lectureHandler.Get)
	authed.GET("/lecture-hours/:id/statement", lectureHandler.Statement)
	authed.POST("/lecture-hours/:id/payments",
		middleware.RequireRoles(models.RoleAdmin, models.RoleTutor), lectureHandler.RecordPayment)

	authed.GET("/tutors/:tutorId/availability", availabilityHandler.List)
	authed.GET("/tutors/:tutorId/openings", availabilityHandler.Openings)
	authed.POST("/availability",
		middleware.RequireRoles(models.RoleAdmin, models.RoleTutor), availabilityHandler.Create)
	authed.PUT("/availability/:id",
		middleware.RequireRoles(models.RoleAdmin, models.RoleTutor), availabilityHandler.Update)
	authed.DELETE("/availability/:id",
		middleware.RequireRoles(models.RoleAdmin, models.RoleTutor), availabilityHandler.Delete)

	authed.GET("/notifications", notificationHandler.List)
	authed.PUT("/notifications/:id/read", notificationHandler.MarkRead)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")
	if err := srv.Shutdown(context.Background()); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
}
