package main

import (
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/adisharma29/tripcompass-sub000/internal/config"
	gateway "github.com/adisharma29/tripcompass-sub000/internal/gateways"
	"github.com/adisharma29/tripcompass-sub000/internal/processor"
	"github.com/adisharma29/tripcompass-sub000/internal/queue"
	"github.com/adisharma29/tripcompass-sub000/internal/repository"
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

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Kill, os.Interrupt, syscall.SIGTERM)

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
	emailClient := gateway.NewEmailClient(gateway.EmailConfig{
		BaseURL:   config.Get().ResendBaseUrl,
		APIKey:    config.Get().ResendApiKey,
		FromEmail: config.Get().ResendFromEmail,
	})
	pushClient := gateway.NewPushClient(gateway.PushConfig{
		VAPIDPublicKey:  config.Get().VapidPublicKey,
		VAPIDPrivateKey: config.Get().VapidPrivateKey,
		Subject:         config.Get().VapidSubject,
	})

	deliveryRepo := repository.NewDeliveryRepository(db)
	membershipRepo := repository.NewMembershipRepository(db)

	// Demoted session sends re-enter the same stream as template jobs.
	requeue, err := queue.NewQueue(redisAdap, queue.QueueConfig{
		Name:              config.Get().QueueName,
		ConsumerGroup:     config.Get().QueueConsumerGroup,
		MaxRetries:        config.Get().QueueMaxRetries,
		VisibilityTimeout: config.Get().QueueVisibilityTimeout,
		PollInterval:      config.Get().QueuePollInterval,
		BatchSize:         config.Get().QueueBatchSize,
		MaxLen:            config.Get().QueueMaxLen,
		EnableDLQ:         config.Get().QueueEnableDLQ,
	})
	if err != nil {
		logger.Error("failed creating requeue", "error", err)
		return
	}

	// Initialize idempotency service
	idempotencyConfig := processor.DefaultIdempotencyConfig()
	idempotencyService := processor.NewIdempotencyService(redisAdap, idempotencyConfig)

	service, err := processor.NewProcessorService(redisAdap)
	if err != nil {
		logger.Error("failed to run the processor", "error", err)
		return
	}
	service.RegisterProcessor(processor.NewDeliveryProcessor(
		deliveryRepo, membershipRepo, waClient, emailClient, pushClient, requeue, idempotencyService))

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
		prom.ListenAndServer(":9100", "/metrics")
	}()

	go func() {
		err := service.Start()
		if err != nil {
			logger.Error("failed to start processor", "error", err)
		}
	}()

	select {
	case <-c:
		service.Stop()
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
