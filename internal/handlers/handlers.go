package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"keygate/api/internal/billing"
	"keygate/api/internal/config"
	"keygate/api/internal/middleware"
	"keygate/api/internal/repository"
	"keygate/api/internal/service"
)

type HandlerSet struct {
	log          zerolog.Logger
	cfg          *config.AppConfig
	registration *service.RegistrationService
	licenses     *service.LicenseService
	billing      *service.BillingService
	devices      *repository.DeviceRepository
	db           *pgxpool.Pool
	cache        *redis.Client
}

func NewHandlerSet(log zerolog.Logger, db *pgxpool.Pool, cache *redis.Client, cfg *config.AppConfig) HandlerSet {
	userRepo := repository.NewUserRepository(db)
	deviceRepo := repository.NewDeviceRepository(db)
	linkRepo := repository.NewLinkRepository(db)
	windowRepo := repository.NewRateWindowRepository(db)
	riskRepo := repository.NewRiskRepository(db)
	subRepo := repository.NewSubscriptionRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)

	processor := billing.NewHTTPProcessorClient(cfg.Billing)

	registration := service.NewRegistrationService(
		db, userRepo, deviceRepo, linkRepo, windowRepo, riskRepo, subRepo,
		cfg.Licensing, log,
	)
	licenses := service.NewLicenseService(deviceRepo, subRepo, cfg.Security, log)
	billingSvc := service.NewBillingService(
		db, subRepo, notificationRepo, riskRepo, processor, cache, log,
	)

	return HandlerSet{
		log:          log,
		cfg:          cfg,
		registration: registration,
		licenses:     licenses,
		billing:      billingSvc,
		devices:      deviceRepo,
		db:           db,
		cache:        cache,
	}
}

// BillingService exposes the reconciler for the job scheduler.
func (h HandlerSet) BillingService() *service.BillingService {
	return h.billing
}

func (h HandlerSet) Register(router *gin.RouterGroup) {
	router.GET("/healthz", h.Health)

	v1 := router.Group("/v1")
	{
		lic := v1.Group("/license")
		lic.POST("/register", h.RegisterDevice)

		protected := v1.Group("/license")
		protected.Use(middleware.Lease(h.cfg.Security, h.devices))
		protected.GET("/status", h.Status)
		protected.POST("/refresh", h.Refresh)

		bill := v1.Group("/billing")
		bill.Use(middleware.WebhookSignature(h.cfg.Security, h.log))
		bill.POST("/webhook", h.Webhook)

		updates := v1.Group("/updates")
		updates.GET("/check", h.UpdateCheck)
	}
}
