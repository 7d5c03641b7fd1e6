package main

import (
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/adisharma29/tripcompass-sub000/internal/config"
	gateway "github.com/adisharma29/tripcompass-sub000/internal/gateways"
	"github.com/adisharma29/tripcompass-sub000/internal/handlers"
	"github.com/adisharma29/tripcompass-sub000/internal/notify"
	"github.com/adisharma29/tripcompass-sub000/internal/queue"
	"github.com/adisharma29/tripcompass-sub000/internal/repository"
	"github.com/adisharma29/tripcompass-sub000/internal/services"
	xhttp "github.com/adisharma29/tripcompass-sub000/pkg/http"
	"github.com/adisharma29/tripcompass-sub000/pkg/logger"
	"github.com/adisharma29/tripcompass-sub000/pkg/pg"
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

	// transport (tcp for now)
	s := xhttp.NewServer(xhttp.DefaultServerOption)
	s.Server.ReadBufferSize = 1024 * 16
	s.Server.WriteBufferSize = 1024 * 16
	s.Use(xhttp.CompressMiddleware(6))
	s.Use(xhttp.TimeoutMiddleware(time.Second * 5))
	s.Use(xhttp.RequestLoggerMiddleware)
	s.Use(xhttp.RecoverMiddleware)
	s.Router = xhttp.CreateDefaultRouter()

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
	}

	requestRepo := repository.NewRequestRepository(db)
	hotelRepo := repository.NewHotelRepository(db)
	routeRepo := repository.NewRouteRepository(db)
	membershipRepo := repository.NewMembershipRepository(db)
	deliveryRepo := repository.NewDeliveryRepository(db)
	windowRepo := repository.NewWindowRepository(db)
	otpRepo := repository.NewOTPRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)

	// providers
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

	// fan-out
	feedService := services.NewFeedService(redisAdap)
	content := notify.NewContentBuilder(config.Get().DashboardBaseUrl)
	dispatcher := notify.NewDispatcher(
		notify.NewPushAdapter(membershipRepo, notificationRepo, q, feedService, content),
		notify.NewWhatsAppAdapter(deliveryRepo, routeRepo, windowRepo, q, content, waClient, config.Get().ServiceWindowDuration),
		notify.NewEmailAdapter(deliveryRepo, routeRepo, q, content),
		notify.NewOncallAdapter(deliveryRepo, windowRepo, q, content, waClient, config.Get().ServiceWindowDuration),
	)

	// services
	limiter := services.NewRateLimiter(redisAdap)
	requestService := services.NewRequestService(requestRepo, hotelRepo, dispatcher, limiter, feedService,
		config.Get().RequestRatePerRoom, config.Get().RateLimitWindow)
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
	webhookService := services.NewWebhookService(deliveryRepo, windowRepo, requestRepo, requestService,
		waClient, otpService, config.Get().DashboardBaseUrl)
	healthService := services.NewHealthService()

	// v1 handlers
	requestHandler := handlers.NewRequestHandler(requestService, requestRepo)
	otpHandler := handlers.NewOTPHandler(otpService)
	webhookHandler := handlers.NewWebhookHandler(webhookService, config.Get().GupshupWebhookSecret)
	notificationHandler := handlers.NewNotificationHandler(notificationRepo, feedService)
	pushHandler := handlers.NewPushHandler(membershipRepo, config.Get().VapidPublicKey)
	healthHandler := handlers.NewHealthHandler(healthService)

	g := s.Router.Group("/api/v1")
	handlers.RegisterRequestRoutes(g, requestHandler)
	handlers.RegisterOTPRoutes(g, otpHandler)
	handlers.RegisterWebhookRoutes(g, webhookHandler)
	handlers.RegisterNotificationRoutes(g, notificationHandler)
	handlers.RegisterPushRoutes(g, pushHandler)
	handlers.RegisterHealthRoutes(g, healthHandler)

	// Create new server
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Kill)

	go func() {
		var err = s.ListenAndServe(config.Get().HttpListenAddr)
		if err != nil {
			logger.Error("error in running http-server", "error", err)
		}
	}()

	select {
	case <-c:
		s.Shutdown()
	}
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
