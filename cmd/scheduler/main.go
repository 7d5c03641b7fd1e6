package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/adisharma29/tripcompass-sub000/internal/config"
	gateway "github.com/adisharma29/tripcompass-sub000/internal/gateways"
	"github.com/adisharma29/tripcompass-sub000/internal/notify"
	"github.com/adisharma29/tripcompass-sub000/internal/queue"
	"github.com/adisharma29/tripcompass-sub000/internal/repository"
	"github.com/adisharma29/tripcompass-sub000/internal/services"
	"github.com/adisharma29/tripcompass-sub000/pkg/logger"
	"github.com/adisharma29/tripcompass-sub000/pkg/pg"
	"github.com/adisharma29/tripcompass-sub000/pkg/prom"
	"github.com/adisharma29/tripcompass-sub000/pkg/redis"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {

	err := config.Load(argContainsEnvPath())
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return
	}

	readConf := pg.Config{
		User:     config.Get().PostgresReadUser,
		Host:     config.Get().PostgresReadHost,
		Port:     config.Get().PostgresReadPort,
		Password: config.Get().PostgresReadPassword,
		Database: config.Get().PostgresReadDatabase,
	}
	writeConf := pg.Config{
		User:     config.Get().PostgresWriteUser,
		Host:     config.Get().PostgresWriteHost,
		Port:     config.Get().PostgresWritePort,
		Password: config.Get().PostgresWritePassword,
		Database: config.Get().PostgresWriteDatabase,
	}

	pgDebug := false
	if config.Get().AppEnv == "dev" {
		pgDebug = true
	}
	db, err := pg.CreateReadWrite(readConf, writeConf, pgDebug)
	if err != nil {
		logger.Error("failed connecting to pg", "error", err)
		return
	}

	redisAdap, err := redis.NewRedisAdapter("default", config.Get().RedisUniversalKeyPrefix, &redis.Options{
		Addrs:      []string{config.Get().RedisAddr},
		ClientName: "default",
		DB:         config.Get().RedisDatabase,
		Username:   config.Get().RedisUsername,
		Password:   config.Get().RedisPassword,
	})
	if err != nil {
		logger.Error("failed connecting to redis", "error", err)
		return
	}

	q, err := queue.NewQueue(redisAdap, queue.QueueConfig{
		Name:              config.Get().QueueName,
		ConsumerGroup:     config.Get().QueueConsumerGroup,
		ConsumerName:      config.Get().QueueConsumerName,
		MaxRetries:        config.Get().QueueMaxRetries,
		VisibilityTimeout: config.Get().QueueVisibilityTimeout,
		PollInterval:      config.Get().QueuePollInterval,
		BatchSize:         config.Get().QueueBatchSize,
		MaxLen:            config.Get().QueueMaxLen,
		EnableDLQ:         config.Get().QueueEnableDLQ,
	})
	if err != nil {
		logger.Error("failed creating queue", "error", err)
		return
	}

	requestRepo := repository.NewRequestRepository(db)
	hotelRepo := repository.NewHotelRepository(db)
	routeRepo := repository.NewRouteRepository(db)
	membershipRepo := repository.NewMembershipRepository(db)
	deliveryRepo := repository.NewDeliveryRepository(db)
	windowRepo := repository.NewWindowRepository(db)
	otpRepo := repository.NewOTPRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)

	waClient := gateway.NewWhatsAppClient(gateway.WhatsAppConfig{
		BaseURL:               config.Get().GupshupBaseUrl,
		APIKey:                config.Get().GupshupWaApiKey,
		Source:                config.Get().GupshupWaSource,
		AppName:               config.Get().GupshupAppName,
		Timeout:               time.Duration(config.Get().GupshupTimeoutMillis) * time.Millisecond,
		RequestTemplateID:     config.Get().GupshupRequestTemplateID,
		EscalationTemplateID:  config.Get().GupshupEscalationTemplateID,
		ResponseDueTemplateID: config.Get().GupshupResponseDueTemplateID,
		OTPTemplateID:         config.Get().GupshupOTPTemplateID,
	})
	smsClient := gateway.NewSMSClient(gateway.SMSConfig{
		BaseURL:    config.Get().GupshupBaseUrl,
		UserID:     config.Get().GupshupSmsUserID,
		Password:   config.Get().GupshupSmsPassword,
		SenderMask: config.Get().GupshupSmsMask,
		Timeout:    time.Duration(config.Get().GupshupTimeoutMillis) * time.Millisecond,
	})
	emailClient := gateway.NewEmailClient(gateway.EmailConfig{
		BaseURL:   config.Get().ResendBaseUrl,
		APIKey:    config.Get().ResendApiKey,
		FromEmail: config.Get().ResendFromEmail,
	})

	feedService := services.NewFeedService(redisAdap)
	content := notify.NewContentBuilder(config.Get().DashboardBaseUrl)
	dispatcher := notify.NewDispatcher(
		notify.NewPushAdapter(membershipRepo, notificationRepo, q, feedService, content),
		notify.NewWhatsAppAdapter(deliveryRepo, routeRepo, windowRepo, q, content, waClient, config.Get().ServiceWindowDuration),
		notify.NewEmailAdapter(deliveryRepo, routeRepo, q, content),
		notify.NewOncallAdapter(deliveryRepo, windowRepo, q, content, waClient, config.Get().ServiceWindowDuration),
	)

	limiter := services.NewRateLimiter(redisAdap)
	escalationService := services.NewEscalationService(hotelRepo, requestRepo, dispatcher, windowRepo,
		config.Get().EscalationClaimTimeout, config.Get().RequestExpiryAfter)
	digestService := services.NewDigestService(hotelRepo, requestRepo, dispatcher, windowRepo)
	otpService := services.NewOTPService(otpRepo, waClient, smsClient, emailClient, membershipRepo, limiter, services.OTPOptions{
		CodeLength:      config.Get().OTPLength,
		TTL:             config.Get().OTPTTL,
		MaxAttempts:     config.Get().OTPMaxAttempts,
		FallbackTimeout: config.Get().OTPFallbackTimeout,
		ClaimStaleness:  config.Get().OTPFallbackTimeout,
		RateWindow:      config.Get().RateLimitWindow,
		RatePerPhone:    config.Get().OTPSendRatePerPhone,
		RatePerIP:       config.Get().OTPSendRatePerIP,
		RatePerEmail:    config.Get().OTPSendRatePerEmail,
		Retention:       24 * time.Hour,
	})

	var hostname string
	hostname, err = os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	err = prom.Create(hostname, config.Get().AppEnv, config.Get().PromNamespace)
	if err != nil {
		logger.Error("failed to create prometheus metrics", "error", err)
		return
	}

	go func() {
		prom.ListenAndServer(":9101", "/metrics")
	}()

	ctx, cancel := context.WithCancel(context.Background())

	runEvery(ctx, config.Get().EscalationTickInterval, "escalation scan", func(now time.Time) error {
		return escalationService.Scan(ctx, now)
	})
	runEvery(ctx, config.Get().ReminderTickInterval, "response due reminders", func(now time.Time) error {
		return escalationService.Remind(ctx, now)
	})
	runEvery(ctx, config.Get().RequestExpiryInterval, "request expiry", func(now time.Time) error {
		return escalationService.ExpireStale(ctx, now)
	})
	runEvery(ctx, config.Get().DigestTickInterval, "daily digest", func(now time.Time) error {
		return digestService.Run(ctx, now)
	})
	runEvery(ctx, config.Get().OTPSweepInterval, "otp fallback sweep", func(now time.Time) error {
		return otpService.Sweep(ctx, now)
	})
	runEvery(ctx, 24*time.Hour, "otp cleanup", func(now time.Time) error {
		deleted, err := otpService.Cleanup(ctx, now)
		if deleted > 0 {
			logger.Info("deleted expired verification codes", "count", deleted)
		}
		return err
	})
	runEvery(ctx, config.Get().HeartbeatStaleThreshold, "heartbeat watchdog", func(now time.Time) error {
		stale, err := windowRepo.StaleHeartbeats(ctx, config.Get().HeartbeatStaleThreshold, now)
		if err != nil {
			return err
		}
		for _, hb := range stale {
			logger.Warn("scheduled task heartbeat is stale",
				"task", hb.TaskName, "status", hb.Status, "last_run", hb.LastRun)
		}
		return nil
	})

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Kill, os.Interrupt, syscall.SIGTERM)

	select {
	case <-c:
		cancel()
	}
}

// runEvery runs fn once immediately and then on every tick until ctx ends.
func runEvery(ctx context.Context, interval time.Duration, name string, fn func(now time.Time) error) {
	go func() {
		if err := fn(time.Now()); err != nil {
			logger.Error("scheduled task failed", "task", name, "error", err)
		}

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				if err := fn(now); err != nil {
					logger.Error("scheduled task failed", "task", name, "error", err)
				}
			}
		}
	}()
}

func argContainsEnvPath() string {
	for _, v := range os.Args {
		if strings.Contains(v, "--env=") {
			s := strings.Split(v, "=")
			if _, err := os.Open(s[1]); err != nil {
				logger.Error("failed to open the passed env file, got error" + err.Error())
				return ""
			}
			return s[1]
		}
	}
	return ""
}
