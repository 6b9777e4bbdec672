package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/edukita/center-ops-api/api/swagger"
	"github.com/edukita/center-ops-api/internal/handler"
	"github.com/edukita/center-ops-api/internal/middleware"
	"github.com/edukita/center-ops-api/internal/models"
	"github.com/edukita/center-ops-api/internal/repository"
	"github.com/edukita/center-ops-api/internal/service"
	"github.com/edukita/center-ops-api/pkg/cache"
	"github.com/edukita/center-ops-api/pkg/config"
	"github.com/edukita/center-ops-api/pkg/database"
	"github.com/edukita/center-ops-api/pkg/logger"
	"github.com/edukita/center-ops-api/pkg/middleware/cors"
	"github.com/edukita/center-ops-api/pkg/middleware/requestid"
)

// @title Center Ops API
// @version 1.0
// @description Training-center operations backend with the teacher schedule-change workflow.
// @BasePath /api/v1
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer func() { _ = db.Close() }()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		log.Warn("redis unavailable, request listing will not be cached", zap.Error(err))
		redisClient = nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// repositories
	requestRepo := repository.NewChangeRequestRepository(db)
	sessionRepo := repository.NewSessionRepository(db)
	assignmentRepo := repository.NewTeachingAssignmentRepository(db)
	ledgerRepo := repository.NewResourceLedgerRepository(db)
	catalogRepo := repository.NewCatalogRepository(db)
	userRepo := repository.NewUserRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, log)
	uow := repository.NewUnitOfWork(db)

	// services
	metrics := service.NewMetricsService()
	arbiter := service.NewConflictArbiter(log)
	notifications := service.NewNotificationService(notificationRepo, cfg.Notifications, log)
	notifications.Start(ctx)
	defer notifications.Stop()

	workflow := service.NewRequestWorkflowService(service.RequestWorkflowDeps{
		Tx:          uow,
		Requests:    requestRepo,
		Sessions:    sessionRepo,
		Assignments: assignmentRepo,
		Catalog:     catalogRepo,
		Users:       userRepo,
		Arbiter:     arbiter,
		Cache:       cacheRepo,
		Notifier:    notifications,
		Audit:       userRepo,
		Metrics:     metrics,
		CacheTTL:    cfg.Workflow.ListCacheTTL,
		Logger:      log,
	})
	sessions := service.NewSessionService(sessionRepo, ledgerRepo, arbiter, log)
	auth := service.NewAuthService(userRepo, cfg.JWT, log)

	// handlers
	requestHandler := handler.NewRequestHandler(workflow)
	sessionHandler := handler.NewSessionHandler(sessions)
	authHandler := handler.NewAuthHandler(auth)
	notificationHandler := handler.NewNotificationHandler(notifications)
	healthHandler := handler.NewHealthHandler(db, redisClient)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestid.Middleware())
	router.Use(logger.GinMiddleware(log))
	router.Use(cors.New(cfg.CORS.AllowedOrigins))
	router.Use(middleware.Metrics(metrics))

	router.GET("/health", healthHandler.Health)
	router.GET("/ready", healthHandler.Ready)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	api := router.Group(cfg.APIPrefix)
	{
		api.POST("/auth/login", authHandler.Login)
		api.POST("/auth/refresh", authHandler.Refresh)

		authed := api.Group("", middleware.JWT(auth))
		{
			authed.POST("/auth/logout", authHandler.Logout)
			authed.POST("/auth/change-password", authHandler.ChangePassword)

			authed.GET("/sessions", sessionHandler.List)
			authed.GET("/sessions/availability", sessionHandler.Availability)
			authed.GET("/sessions/occupancy", middleware.RequireRoles(models.RoleStaff, models.RoleAdmin), sessionHandler.Occupancy)
			authed.GET("/sessions/:id", sessionHandler.Get)

			authed.GET("/notifications", notificationHandler.List)

			requests := authed.Group("/schedule-requests")
			{
				requests.GET("", requestHandler.List)
				requests.GET("/:id", requestHandler.Get)
				requests.POST("", middleware.RequireRoles(models.RoleTeacher), requestHandler.Submit)
				requests.POST("/:id/confirm", middleware.RequireRoles(models.RoleTeacher), requestHandler.ConfirmSwap)
				requests.POST("/:id/decline", middleware.RequireRoles(models.RoleTeacher), requestHandler.DeclineSwap)
				requests.POST("/:id/approve", middleware.RequireRoles(models.RoleStaff, models.RoleAdmin), requestHandler.Approve)
				requests.POST("/:id/reject", middleware.RequireRoles(models.RoleStaff, models.RoleAdmin), requestHandler.Reject)
			}
		}
	}

	if cfg.Sweep.Enabled {
		go runSessionSweep(ctx, sessions, cfg.Sweep.Interval, log)
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("server starting", zap.Int("port", cfg.Port), zap.String("env", cfg.Env))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", zap.Error(err))
	}
	if redisClient != nil {
		_ = redisClient.Close()
	}
}

// runSessionSweep flips past PLANNED sessions to DONE on an interval.
func runSessionSweep(ctx context.Context, sessions *service.SessionService, interval time.Duration, log *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := sessions.MarkPastSessionsDone(ctx); err != nil {
				log.Error("session sweep failed", zap.Error(err))
			}
		}
	}
}
