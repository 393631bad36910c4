package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/Kaizenpbc/cpr-apr12-sub000/api/swagger"
	"github.com/Kaizenpbc/cpr-apr12-sub000/internal/handler"
	"github.com/Kaizenpbc/cpr-apr12-sub000/internal/hub"
	"github.com/Kaizenpbc/cpr-apr12-sub000/internal/middleware"
	"github.com/Kaizenpbc/cpr-apr12-sub000/internal/models"
	"github.com/Kaizenpbc/cpr-apr12-sub000/internal/repository"
	"github.com/Kaizenpbc/cpr-apr12-sub000/internal/service"
	"github.com/Kaizenpbc/cpr-apr12-sub000/pkg/cache"
	"github.com/Kaizenpbc/cpr-apr12-sub000/pkg/config"
	"github.com/Kaizenpbc/cpr-apr12-sub000/pkg/database"
	"github.com/Kaizenpbc/cpr-apr12-sub000/pkg/export"
	"github.com/Kaizenpbc/cpr-apr12-sub000/pkg/logger"
	corsmiddleware "github.com/Kaizenpbc/cpr-apr12-sub000/pkg/middleware/cors"
	reqidmiddleware "github.com/Kaizenpbc/cpr-apr12-sub000/pkg/middleware/requestid"
	"github.com/Kaizenpbc/cpr-apr12-sub000/pkg/storage"
)

// @title CPR Training API
// @version 1.0.0
// @description Course lifecycle and billing engine for CPR training providers
// @BasePath /api/v1
// @schemes http

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

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect database", "error", err)
	}
	defer db.Close() //nolint:errcheck

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, caching disabled", "error", err)
		redisClient = nil
	}

	validate := validator.New()

	// The hub and the metrics service observe each other: the gauge reads the
	// session count, the hub reports dropped sessions. Late-bind the hub.
	var eventHub *hub.Hub
	metricsSvc := service.NewMetricsService(func() int {
		if eventHub == nil {
			return 0
		}
		return eventHub.ConnectedCount()
	})
	eventHub = hub.New(hub.Options{
		SendBuffer:   cfg.Events.SendBuffer,
		WriteTimeout: cfg.Events.WriteTimeout,
		OnDrop:       metricsSvc.RecordEventDropped,
	}, logr)

	userRepo := repository.NewUserRepository(db)
	orgRepo := repository.NewOrganizationRepository(db)
	courseRepo := repository.NewCourseRepository(db)
	studentRepo := repository.NewStudentRepository(db)
	pricingRepo := repository.NewPricingRepository(db)
	invoiceRepo := repository.NewInvoiceRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)
	defer cacheRepo.Close() //nolint:errcheck

	invoiceStore, err := storage.NewLocalStorage(cfg.Billing.StorageDir)
	if err != nil {
		logr.Sugar().Fatalw("failed to prepare invoice storage", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var notifier *service.NotificationService
	if cfg.Notifications.Enabled {
		notifier = service.NewNotificationService(invoiceRepo, export.NewPDFExporter(), invoiceStore, service.NotificationConfig{
			Workers:    cfg.Notifications.WorkerConcurrency,
			MaxRetries: cfg.Notifications.WorkerRetries,
		}, logr)
		notifier.Start(ctx)
		defer notifier.Stop()
	}

	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		TokenSecret: cfg.JWT.Secret,
		TokenExpiry: cfg.JWT.Expiration,
		Issuer:      "cpr-training-api",
	})
	courseSvc := service.NewCourseService(courseRepo, orgRepo, userRepo, eventHub, metricsSvc, validate, logr)
	attendanceSvc := service.NewAttendanceService(studentRepo, courseRepo, eventHub, validate, logr)

	var pricingSvc *service.PricingService
	if cfg.Pricing.CacheEnabled {
		pricingSvc = service.NewPricingService(pricingRepo, orgRepo, cacheRepo, cfg.Pricing.CacheTTL, metricsSvc, validate, logr)
	} else {
		pricingSvc = service.NewPricingService(pricingRepo, orgRepo, nil, cfg.Pricing.CacheTTL, metricsSvc, validate, logr)
	}

	var billingSvc *service.BillingService
	if notifier != nil {
		billingSvc = service.NewBillingService(invoiceRepo, notifier, eventHub, metricsSvc, cfg.Billing.DueDays, validate, logr)
	} else {
		billingSvc = service.NewBillingService(invoiceRepo, nil, eventHub, metricsSvc, cfg.Billing.DueDays, validate, logr)
	}
	directorySvc := service.NewDirectoryService(orgRepo, logr)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "db unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", gin.WrapH(metricsSvc.Handler()))

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	registerRoutes(r, cfg, authSvc,
		handler.NewAuthHandler(authSvc),
		handler.NewCourseHandler(courseSvc),
		handler.NewAttendanceHandler(attendanceSvc),
		handler.NewBillingHandler(billingSvc),
		handler.NewPricingHandler(pricingSvc),
		handler.NewDirectoryHandler(directorySvc),
		handler.NewEventsHandler(eventHub, logr),
	)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
}

func registerRoutes(r *gin.Engine, cfg *config.Config, authSvc *service.AuthService,
	auth *handler.AuthHandler,
	courses *handler.CourseHandler,
	attendance *handler.AttendanceHandler,
	billing *handler.BillingHandler,
	pricing *handler.PricingHandler,
	directory *handler.DirectoryHandler,
	events *handler.EventsHandler,
) {
	prefix := cfg.APIPrefix
	if prefix == "" {
		prefix = "/api/v1"
	}
	api := r.Group(prefix)

	api.POST("/auth/login", auth.Login)

	authed := api.Group("")
	authed.Use(middleware.JWT(authSvc))

	authed.GET("/auth/me", auth.Me)
	authed.GET("/events", events.Subscribe)

	authed.GET("/organizations", directory.Organizations)
	authed.GET("/course-types", directory.CourseTypes)

	authed.GET("/courses", courses.List)
	authed.GET("/courses/:id", courses.Get)
	authed.POST("/courses", middleware.RequireRoles(models.RoleOrganization, models.RoleAdmin, models.RoleSuperAdmin), courses.Request)
	authed.POST("/courses/:id/schedule", middleware.RequireRoles(models.RoleAdmin, models.RoleSuperAdmin), courses.Schedule)
	authed.POST("/courses/:id/complete", middleware.RequireRoles(models.RoleInstructor), courses.Complete)
	authed.POST("/courses/:id/billing-ready", middleware.RequireRoles(models.RoleAdmin, models.RoleSuperAdmin), courses.MarkBillingReady)
	authed.POST("/courses/:id/cancel", middleware.RequireRoles(models.RoleAdmin, models.RoleSuperAdmin), courses.Cancel)

	authed.GET("/courses/:id/students", attendance.Roster)
	authed.POST("/courses/:id/students", attendance.AddRoster)
	authed.POST("/courses/:id/students/single", attendance.AddStudent)
	authed.PUT("/courses/:id/students/:studentId/attendance", attendance.SetAttendance)

	accounting := middleware.RequireRoles(models.RoleAccounting, models.RoleSuperAdmin)
	authed.POST("/invoices", accounting, billing.CreateInvoice)
	authed.GET("/invoices", billing.List)
	authed.GET("/invoices/:id", billing.Get)
	authed.POST("/invoices/:id/payments", accounting, billing.RecordPayment)
	authed.GET("/invoices/:id/payments", billing.ListPayments)
	authed.POST("/invoices/:id/confirm-paid", accounting, billing.ConfirmPaid)

	pricingAdmin := middleware.RequireRoles(models.RoleAdmin, models.RoleSuperAdmin)
	authed.GET("/pricing-rules", middleware.RequireRoles(models.RoleAdmin, models.RoleSuperAdmin, models.RoleAccounting), pricing.List)
	authed.POST("/pricing-rules", pricingAdmin, pricing.Create)
	authed.PUT("/pricing-rules/:id", pricingAdmin, pricing.UpdateRate)
	authed.DELETE("/pricing-rules/:id", pricingAdmin, pricing.Delete)
}
