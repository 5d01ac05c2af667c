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
	"go.uber.org/zap"

	_ "github.com/novacal/novacal-api/api/swagger"
	"github.com/novacal/novacal-api/internal/handler"
	"github.com/novacal/novacal-api/internal/middleware"
	"github.com/novacal/novacal-api/internal/provider"
	"github.com/novacal/novacal-api/internal/repository"
	"github.com/novacal/novacal-api/internal/service"
	"github.com/novacal/novacal-api/pkg/cache"
	"github.com/novacal/novacal-api/pkg/config"
	"github.com/novacal/novacal-api/pkg/database"
	"github.com/novacal/novacal-api/pkg/export"
	"github.com/novacal/novacal-api/pkg/jobs"
	"github.com/novacal/novacal-api/pkg/logger"
	corsmiddleware "github.com/novacal/novacal-api/pkg/middleware/cors"
	reqidmiddleware "github.com/novacal/novacal-api/pkg/middleware/requestid"
	"github.com/novacal/novacal-api/pkg/storage"
)

// @title NovaCal API
// @version 1.0.0
// @description Scheduling platform: availability, routed bookings, group events, meeting polls, and bidirectional calendar sync
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

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to database", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to redis", "error", err)
	}
	defer redisClient.Close() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Repositories.
	apptRepo := repository.NewAppointmentRepository(db)
	typeRepo := repository.NewAppointmentTypeRepository(db)
	availRepo := repository.NewAvailabilityRepository(db)
	linkRepo := repository.NewBookingLinkRepository(db)
	connRepo := repository.NewCalendarConnectionRepository(db)
	groupRepo := repository.NewGroupEventRepository(db)
	outboxRepo := repository.NewOutboxRepository(db)
	pollRepo := repository.NewPollRepository(db)
	staffRepo := repository.NewStaffRepository(db)
	syncLogRepo := repository.NewSyncLogRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	validate := validator.New()
	metricsSvc := service.NewMetricsService()
	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.Availability.SnapshotCacheTTL, logr, true)

	// A refreshed OAuth token must land in the store before the old one
	// expires, or the next sync cycle starts from a dead credential.
	saveToken := func(ctx context.Context, connectionID string, tok *provider.Token) error {
		expiry := tok.Expiry
		return connRepo.UpdateTokens(ctx, connectionID, tok.AccessToken, tok.RefreshToken, &expiry)
	}
	registry := provider.NewRegistry(
		provider.NewGoogleAdapter(cfg.Providers, saveToken),
		provider.NewMicrosoftAdapter(cfg.Providers, saveToken),
		provider.NewBusyFeedAdapter(cfg.Sync.ProviderTimeout),
	)

	// Services.
	authSvc := service.NewAuthService(staffRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.Expiration,
		Issuer:            "novacal-api",
		Audience:          []string{"novacal"},
	})
	typeSvc := service.NewAppointmentTypeService(typeRepo, validate, logr)
	holidaySvc := service.NewHolidayService(logr)
	conflictSvc := service.NewConflictService(connRepo, apptRepo, registry, logr)
	availabilitySvc := service.NewAvailabilityService(availRepo, conflictSvc, holidaySvc, cacheRepo, cfg.Availability.SnapshotCacheTTL, logr)
	profileSvc := service.NewAvailabilityProfileService(availRepo, cacheSvc, validate, logr)
	routingSvc := service.NewRoutingService(apptRepo, conflictSvc, availabilitySvc, availRepo, cfg.Routing.RebalanceDeviation, cfg.Routing.LookaheadDays, logr)
	bookingSvc := service.NewBookingService(apptRepo, typeRepo, outboxRepo, routingSvc, validate, logr)
	groupSvc := service.NewGroupEventService(apptRepo, groupRepo, typeRepo, outboxRepo, validate, logr)
	pollSvc := service.NewPollService(pollRepo, bookingSvc, outboxRepo, validate, logr)
	linkSvc := service.NewBookingLinkService(linkRepo, typeRepo, validate, logr)
	connSvc := service.NewCalendarConnectionService(connRepo, registry, validate, logr)
	syncSvc := service.NewSyncService(connRepo, apptRepo, syncLogRepo, registry, metricsSvc, cfg.Sync, logr)

	sinks := []service.EventSink{service.NewLogSink(logr)}
	if len(cfg.Outbox.KafkaBrokers) > 0 {
		kafkaSink := service.NewKafkaSink(cfg.Outbox.KafkaBrokers, cfg.Outbox.KafkaTopic)
		defer kafkaSink.Close() //nolint:errcheck
		sinks = append(sinks, kafkaSink)
	}
	dispatchSvc := service.NewDispatchService(outboxRepo, sinks, logr)

	files, err := storage.NewLocalStorage("exports")
	if err != nil {
		logr.Sugar().Fatalw("failed to init export storage", "error", err)
	}
	signer := storage.NewSignedURLSigner(cfg.JWT.Secret, 24*time.Hour)
	exportSvc := service.NewExportService(apptRepo, typeRepo, staffRepo, files, signer, service.ExportConfig{
		APIPrefix: cfg.APIPrefix,
		ResultTTL: 24 * time.Hour,
	}, logr, export.NewSchedulePDF())

	// Handlers.
	authH := handler.NewAuthHandler(authSvc)
	typeH := handler.NewAppointmentTypeHandler(typeSvc)
	availH := handler.NewAvailabilityHandler(availabilitySvc, profileSvc, typeSvc, metricsSvc)
	bookingH := handler.NewBookingHandler(bookingSvc, metricsSvc)
	linkH := handler.NewBookingLinkHandler(linkSvc)
	groupH := handler.NewGroupEventHandler(groupSvc)
	pollH := handler.NewPollHandler(pollSvc)
	connH := handler.NewConnectionHandler(connSvc, conflictSvc)
	syncH := handler.NewSyncAdminHandler(syncSvc)
	exportH := handler.NewExportHandler(exportSvc)
	metricsH := handler.NewMetricsHandler(metricsSvc)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))
	r.Use(middleware.WithResponseMeta())

	r.GET("/health", metricsH.Health)
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsH.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.POST("/auth/login", authH.Login)

	// Invitee-facing surface. Tenancy rides on the path, not a token; a
	// staff token, when present, still attributes the actor in audit trails.
	pub := api.Group("/public/:tenantId")
	pub.Use(middleware.OptionalJWT(authSvc))
	{
		pub.GET("/types/:typeId/slots", availH.Slots)
		pub.POST("/bookings", bookingH.Book)
		pub.POST("/links/:slug", linkH.Resolve)
		pub.GET("/polls/:id", pollH.Get)
		pub.POST("/polls/:id/votes", pollH.Vote)
		pub.POST("/appointments/:id/attendees", groupH.Register)
		pub.DELETE("/appointments/:id/attendees", groupH.Cancel)
	}

	admin := api.Group("")
	admin.Use(middleware.JWT(authSvc))
	{
		admin.POST("/appointment-types", middleware.Audit(auditRepo, "create", "appointment_type"), typeH.Create)
		admin.GET("/appointment-types", typeH.List)
		admin.GET("/appointment-types/:id", typeH.Get)
		admin.PUT("/appointment-types/:id", middleware.Audit(auditRepo, "update", "appointment_type"), typeH.Update)
		admin.DELETE("/appointment-types/:id", middleware.Audit(auditRepo, "deactivate", "appointment_type"), typeH.Deactivate)

		admin.PUT("/availability-profiles", middleware.Audit(auditRepo, "upsert", "availability_profile"), availH.UpsertProfile)
		admin.GET("/availability-profiles/:ownerId", availH.GetProfile)

		admin.GET("/appointments", bookingH.List)
		admin.GET("/appointments/:id", bookingH.Get)
		admin.GET("/appointments/:id/history", bookingH.History)
		admin.POST("/appointments/:id/confirm", middleware.Audit(auditRepo, "confirm", "appointment"), bookingH.Confirm)
		admin.POST("/appointments/:id/cancel", middleware.Audit(auditRepo, "cancel", "appointment"), bookingH.Cancel)
		admin.POST("/appointments/:id/reject", middleware.Audit(auditRepo, "reject", "appointment"), bookingH.Reject)
		admin.POST("/appointments/:id/complete", middleware.Audit(auditRepo, "complete", "appointment"), bookingH.Complete)
		admin.POST("/appointments/:id/no-show", middleware.Audit(auditRepo, "no_show", "appointment"), bookingH.MarkNoShow)
		admin.POST("/appointments/:id/substitute-host", middleware.Audit(auditRepo, "substitute_host", "appointment"), bookingH.SubstituteHost)

		admin.GET("/appointments/:id/attendees", groupH.Roster)
		admin.POST("/appointments/:id/attendees/confirm", middleware.Audit(auditRepo, "confirm", "attendee"), groupH.Confirm)

		admin.POST("/booking-links", middleware.Audit(auditRepo, "create", "booking_link"), linkH.Create)
		admin.DELETE("/booking-links/:id", middleware.Audit(auditRepo, "deactivate", "booking_link"), linkH.Deactivate)

		admin.POST("/polls", middleware.Audit(auditRepo, "create", "poll"), pollH.Create)
		admin.POST("/polls/:id/resolve", middleware.Audit(auditRepo, "resolve", "poll"), pollH.Resolve)
		admin.DELETE("/polls/:id", middleware.Audit(auditRepo, "cancel", "poll"), pollH.Cancel)

		admin.GET("/connections", connH.List)
		admin.GET("/connections/auth-url", connH.AuthorizationURL)
		admin.POST("/connections", middleware.Audit(auditRepo, "connect", "calendar_connection"), connH.Connect)
		admin.GET("/connections/:id", connH.Get)
		admin.DELETE("/connections/:id", middleware.Audit(auditRepo, "disconnect", "calendar_connection"), connH.Disconnect)
		admin.GET("/staff/:staffId/busy", connH.BusyIntervals)

		admin.GET("/admin/sync/attempts", syncH.Attempts)
		admin.POST("/admin/sync/attempts/:correlationId/replay", middleware.Audit(auditRepo, "replay", "sync_attempt"), syncH.Replay)
		admin.POST("/admin/sync/connections/:id/resync", middleware.Audit(auditRepo, "resync", "calendar_connection"), syncH.Resync)
		admin.GET("/admin/status", metricsH.Snapshot)

		if cfg.Export.Enabled {
			admin.POST("/exports/schedule", middleware.Audit(auditRepo, "generate", "schedule_export"), exportH.GenerateSchedule)
		}
	}

	if cfg.Export.Enabled {
		api.GET("/export/:token", exportH.Download)
	}

	queues := startWorkers(ctx, cfg, logr, dispatchSvc, syncSvc, pollSvc, exportSvc)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Warnw("shutdown incomplete", "error", err)
	}
	for _, q := range queues {
		q.Stop()
	}
}

// startWorkers wires the periodic background loops onto job queues. Each
// loop enqueues on a ticker so a slow run never stacks concurrent cycles
// beyond the queue's worker count.
func startWorkers(ctx context.Context, cfg *config.Config, logr *zap.Logger, dispatchSvc *service.DispatchService, syncSvc *service.SyncService, pollSvc *service.PollService, exportSvc *service.ExportService) []*jobs.Queue {
	periodic := func(name string, interval time.Duration, workers int, fn func(context.Context) error) *jobs.Queue {
		q := jobs.NewQueue(name, func(ctx context.Context, _ jobs.Job) error {
			return fn(ctx)
		}, jobs.QueueConfig{Workers: workers, Logger: logr})
		q.Start(ctx)
		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if err := q.Enqueue(jobs.Job{Type: name, Enqueued: time.Now()}); err != nil {
						return
					}
				}
			}
		}()
		return q
	}

	queues := []*jobs.Queue{
		periodic("outbox-dispatch", cfg.Outbox.PollInterval, 1, func(ctx context.Context) error {
			_, err := dispatchSvc.Drain(ctx)
			return err
		}),
		periodic("poll-resolve", time.Minute, 1, pollSvc.ResolveExpired),
	}

	if cfg.Sync.Enabled {
		queues = append(queues,
			periodic("sync-cycle", cfg.Sync.WorkerInterval, cfg.Sync.WorkerConcurrency, syncSvc.RunCycle),
			periodic("sync-retry", cfg.Sync.WorkerInterval, 1, syncSvc.RetryDue),
		)
	}

	if cfg.Export.Enabled {
		queues = append(queues, periodic("export-cleanup", time.Hour, 1, func(context.Context) error {
			_, err := exportSvc.Cleanup(0)
			return err
		}))
	}

	return queues
}
