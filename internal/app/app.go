// Package app wires the application together: configuration, database,
// cache, processor client and the webhook reconciliation handlers.
package app

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/clinicpay/server/internal/module/activity"
	"github.com/clinicpay/server/internal/module/clinic"
	"github.com/clinicpay/server/internal/module/notification"
	"github.com/clinicpay/server/internal/module/patient"
	"github.com/clinicpay/server/internal/module/payment"
	"github.com/clinicpay/server/internal/module/plan"
	"github.com/clinicpay/server/internal/module/processor"
	"github.com/clinicpay/server/internal/module/webhook"
	"github.com/clinicpay/server/internal/shared/cache"
	"github.com/clinicpay/server/internal/shared/config"
	"github.com/clinicpay/server/internal/shared/database"
	"github.com/clinicpay/server/internal/shared/logger"
	"github.com/clinicpay/server/internal/utils/metrics"
	"github.com/clinicpay/server/internal/utils/middleware"
)

// App holds the wired application.
type App struct {
	cfg    *config.Config
	db     *gorm.DB
	cache  *cache.Cache
	router *gin.Engine
	logger *zap.Logger
}

// New builds the application from configuration.
func New(cfg *config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	log, err := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	db, err := database.New(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}
	if err := migrate(db); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	redisCache := cache.New(&cfg.Redis)
	m := metrics.New("clinicpay")

	stripeClient := processor.NewStripeClient(&processor.StripeConfig{
		APIKey:        cfg.Stripe.APIKey,
		WebhookSecret: cfg.Stripe.WebhookSecret,
	}, m)

	// Repositories
	paymentRepo := payment.NewRepository(db)
	planRepo := plan.NewRepository(db)
	clinicRepo := clinic.NewRepository(db)
	patientRepo := patient.NewRepository(db)
	activityRepo := activity.NewRepository(db)
	notificationRepo := notification.NewRepository(db)

	// Services
	aggregator := plan.NewAggregator(planRepo, log)
	resolver := patient.NewResolver(patientRepo, log)
	recorder := activity.NewRecorder(activityRepo, log)
	enqueuer := notification.NewEnqueuer(notificationRepo, m, log)
	feeResolver := payment.NewFeeResolver(stripeClient, cfg.Stripe.FeeRefundMatchTolerance, log)

	// Webhook reconciliation handlers
	succeeded := payment.NewSucceededHandler(
		paymentRepo, planRepo, aggregator, clinicRepo, patientRepo,
		feeResolver, enqueuer, recorder, m, log,
	)
	failed := payment.NewFailedHandler(clinicRepo, enqueuer, recorder, m, log)
	refund := payment.NewRefundHandler(
		paymentRepo, planRepo, aggregator, clinicRepo, patientRepo, resolver,
		stripeClient, feeResolver, enqueuer, recorder, m, log,
	)

	webhookHandler := webhook.NewHandler(
		stripeClient, paymentRepo, redisCache,
		succeeded, failed, refund, m, log,
	)

	router := newRouter(log, redisCache, db, webhookHandler)

	return &App{
		cfg:    cfg,
		db:     db,
		cache:  redisCache,
		router: router,
		logger: log,
	}, nil
}

// Router returns the HTTP handler.
func (a *App) Router() http.Handler {
	return a.router
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Stop releases held resources.
func (a *App) Stop() {
	if err := a.cache.Close(); err != nil {
		a.logger.Warn("failed to close cache", zap.Error(err))
	}
	if err := database.Close(a.db); err != nil {
		a.logger.Warn("failed to close database", zap.Error(err))
	}
	_ = a.logger.Sync()
}

func newRouter(log *zap.Logger, c *cache.Cache, db *gorm.DB, wh *webhook.Handler) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(
		middleware.RequestID(),
		middleware.Logging(log),
		middleware.Recovery(log),
	)

	router.GET("/healthz", healthz(c, db))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	wh.RegisterRoutes(router)

	return router
}

// healthz reports datastore and cache connectivity. The cache is a
// degraded dependency, not a hard one, so its state is reported but
// never fails the check.
func healthz(c *cache.Cache, db *gorm.DB) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.PingContext(ctx.Request.Context())
		}
		if err != nil {
			ctx.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "database unreachable",
			})
			return
		}

		cacheStatus := "ok"
		if err := c.Ping(ctx.Request.Context()); err != nil {
			cacheStatus = "degraded"
		}
		ctx.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"cache":  cacheStatus,
		})
	}
}

// migrate keeps the reconciliation tables in sync with the models.
func migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&clinic.Clinic{},
		&patient.Patient{},
		&payment.Payment{},
		&payment.PaymentRequest{},
		&payment.WebhookEvent{},
		&plan.Plan{},
		&plan.Installment{},
		&activity.Activity{},
		&notification.QueueEntry{},
	)
}
