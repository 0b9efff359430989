package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/digkill/drumgen/internal/audio"
	"github.com/digkill/drumgen/internal/billing"
	"github.com/digkill/drumgen/internal/config"
	"github.com/digkill/drumgen/internal/database"
	"github.com/digkill/drumgen/internal/httpapi"
	"github.com/digkill/drumgen/internal/metrics"
	"github.com/digkill/drumgen/internal/notify"
	"github.com/digkill/drumgen/internal/repository"
	"github.com/digkill/drumgen/internal/service"
	"github.com/digkill/drumgen/internal/storage"
	"github.com/digkill/drumgen/pkg/logger"
)

func runServe(ctx context.Context, skipMigrate bool) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	logr := logger.New(cfg.LogLevel)

	db, err := database.Connect(cfg)
	if err != nil {
		return fmt.Errorf("database connect: %w", err)
	}
	defer db.Close()

	if !skipMigrate {
		if err := database.Migrate(ctx, db); err != nil {
			return fmt.Errorf("database migrate: %w", err)
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	subscriptionRepo := repository.NewSubscriptionRepository(db)
	generationRepo := repository.NewGenerationRepository(db)
	billingEventRepo := repository.NewBillingEventRepository(db)

	audioClient := audio.NewClient(cfg, logr)
	if !audioClient.Configured() {
		logr.Warn("AUDIO_API_KEY not set, serving demo tracks")
	}

	var archiver service.AudioArchiver
	if cfg.ArchiveEnabled() {
		a, err := storage.NewArchiver(storage.Config{
			Endpoint:      cfg.S3Endpoint,
			Region:        cfg.S3Region,
			AccessKey:     cfg.S3AccessKey,
			SecretKey:     cfg.S3SecretKey,
			Bucket:        cfg.S3Bucket,
			PublicBaseURL: cfg.S3PublicBaseURL,
			UsePathStyle:  cfg.S3UsePathStyle,
			Prefix:        cfg.S3Prefix,
			MaxBytes:      cfg.ArchiveMaxBytes,
		})
		if err != nil {
			return fmt.Errorf("storage archiver: %w", err)
		}
		archiver = a
	}

	var notifier notify.Notifier = notify.NewLog(logr)
	if cfg.TelegramBotToken != "" {
		tg, err := notify.NewTelegram(cfg.TelegramBotToken, cfg.TelegramAdminChatID)
		if err != nil {
			return fmt.Errorf("telegram notifier: %w", err)
		}
		notifier = tg
	}

	var gateway service.Gateway
	if cfg.BillingEnabled() {
		gateway = billing.NewStripe(cfg.StripeSecretKey, cfg.StripeWebhookSecret)
		if cfg.StripeWebhookSecret == "" {
			logr.Warn("STRIPE_WEBHOOK_SECRET not set, billing webhooks will be refused")
		}
	} else {
		logr.Warn("STRIPE_SECRET_KEY not set, billing disabled")
	}
	prices := billing.NewPriceTable(cfg.StripePriceBasic, cfg.StripePricePro, cfg.StripePricePremium)

	subscriptionService := service.NewSubscriptionService(subscriptionRepo, m, logr)
	generationService := service.NewGenerationService(generationRepo, audioClient, archiver, subscriptionService, m, logr)
	billingService := service.NewBillingService(gateway, prices, subscriptionRepo, billingEventRepo, notifier, m, logr, cfg.PublicBaseURL)

	verifier := httpapi.NewVerifier(cfg.IdentityJWTSecret, cfg.IdentityJWTIssuer)
	if !verifier.Enabled() {
		logr.Warn("IDENTITY_JWT_SECRET not set, every caller is anonymous")
	}

	api := httpapi.NewServer(httpapi.Options{
		Addr:               cfg.ListenAddr,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimitPerSecond: cfg.RateLimitPerSecond,
		RateLimitBurst:     cfg.RateLimitBurst,
	}, logr, generationService, subscriptionService, billingService, verifier, db, m)
	admin := httpapi.NewAdminServer(cfg.AdminListenAddr, cfg.AdminUsername, cfg.AdminPassword, logr,
		subscriptionService, billingService, reg)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return api.Run(gctx) })
	g.Go(func() error { return admin.Run(gctx) })
	return g.Wait()
}
