package main

import (
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nimasrn/time-capsule/internal/config"
	gateway "github.com/nimasrn/time-capsule/internal/gateways"
	"github.com/nimasrn/time-capsule/internal/mail"
	"github.com/nimasrn/time-capsule/internal/processor"
	"github.com/nimasrn/time-capsule/internal/queue"
	"github.com/nimasrn/time-capsule/internal/repository"
	"github.com/nimasrn/time-capsule/pkg/logger"
	"github.com/nimasrn/time-capsule/pkg/pg"
	"github.com/nimasrn/time-capsule/pkg/prom"
	"github.com/nimasrn/time-capsule/pkg/redis"
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
	cfg := config.Get()
	log := logger.New(cfg.LogDisabled).With("app", cfg.AppName, "version", version, "commit", commit)
	log.Info("starting processor", "built", date, "env", cfg.AppEnv)

	loc, err := cfg.Location()
	if err != nil {
		log.Error("invalid timezone", "error", err)
		return
	}

	readConf := pg.Config{
		User:     cfg.PostgresReadUser,
		Host:     cfg.PostgresReadHost,
		Port:     cfg.PostgresReadPort,
		Password: cfg.PostgresReadPassword,
		Database: cfg.PostgresReadDatabase,
	}
	writeConf := pg.Config{
		User:     cfg.PostgresWriteUser,
		Host:     cfg.PostgresWriteHost,
		Port:     cfg.PostgresWritePort,
		Password: cfg.PostgresWritePassword,
		Database: cfg.PostgresWriteDatabase,
	}

	pgDebug := false
	if cfg.AppEnv == "dev" {
		pgDebug = true
	}
	db, err := pg.CreateReadWrite(readConf, writeConf, pgDebug)
	if err != nil {
		log.Error("failed connecting to pg", "error", err)
		return
	}

	redisAdap, err := redis.NewRedisAdapter("default", cfg.RedisUniversalKeyPrefix, &redis.Options{
		Addrs:      []string{cfg.RedisAddr},
		ClientName: "processor",
		DB:         cfg.RedisDatabase,
		Username:   cfg.RedisUsername,
		Password:   cfg.RedisPassword,
	})
	if err != nil {
		log.Error("failed connecting to redis", "error", err)
		return
	}

	sender, closeSender, err := createSender(cfg, log)
	if err != nil {
		log.Error("failed to create email sender", "error", err)
		return
	}
	defer closeSender()

	lock := processor.NewDeliveryLock(redisAdap, processor.LockConfig{TTL: cfg.DeliveryLockTTL, KeyPrefix: "lock:"})
	delivery := processor.NewCapsuleDeliveryProcessor(processor.DeliveryDeps{
		Capsules:      repository.NewCapsuleRepository(db),
		Recipients:    repository.NewRecipientRepository(db),
		Principals:    repository.NewPrincipalRepository(db),
		Logs:          repository.NewDeliveryLogRepository(db),
		Notifications: repository.NewNotificationRepository(db),
		Tx:            db,
		Sender:        sender,
		Lock:          lock,
	}, processor.DeliveryConfig{
		FrontendBaseURL: cfg.FrontendBaseUrl,
		From:            cfg.EmailFrom,
		FromName:        cfg.EmailFromName,
		Location:        loc,
	}, log)

	service, err := processor.NewProcessorService(redisAdap, processor.ServiceConfig{
		Queue: queue.QueueConfig{
			Name:              cfg.QueueName,
			ConsumerGroup:     cfg.QueueConsumerGroup,
			ConsumerName:      cfg.QueueConsumerName,
			MaxRetries:        cfg.DeliveryMaxRetries,
			VisibilityTimeout: cfg.QueueVisibilityTimeout,
			PollInterval:      cfg.QueuePollInterval,
			BatchSize:         cfg.QueueBatchSize,
			MaxLen:            cfg.QueueMaxLen,
			EnableDLQ:         cfg.QueueEnableDLQ,
			RetryDelay:        cfg.DeliveryRetryDelay,
		},
		Consumers:         cfg.DeliveryConsumers,
		Workers:           cfg.DeliveryWorkers,
		ProcessingTimeout: cfg.DeliveryProcessingTimeout,
	}, log)
	if err != nil {
		log.Error("failed to create the processor", "error", err)
		return
	}
	service.RegisterProcessor(delivery)

	var hostname string
	hostname, err = os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	err = prom.Create(hostname, cfg.AppEnv, cfg.PromNamespace)
	if err != nil {
		log.Error("failed to create prometheus metrics", "error", err)
		return
	}

	go func() {
		prom.ListenAndServer(cfg.AppDebugMetricsAddr, cfg.AppDebugMetricsURI)
	}()

	if err := service.Start(); err != nil {
		log.Error("failed to start processor", "error", err)
		return
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
	service.Stop()
}

// createSender picks the email transport. The http transport spreads load
// over up to three providers; smtp talks to a single relay.
func createSender(cfg *config.Config, log logger.Logger) (mail.Sender, func(), error) {
	if cfg.EmailTransport == "smtp" {
		s := gateway.NewSMTPSender(gateway.SMTPConfig{
			Host:     cfg.SmtpHost,
			Port:     cfg.SmtpPort,
			Username: cfg.SmtpUsername,
			Password: cfg.SmtpPassword,
			From:     cfg.EmailFrom,
			FromName: cfg.EmailFromName,
		}, log)
		return s, func() {}, nil
	}

	var providers []gateway.ProviderConfig
	for _, p := range []gateway.ProviderConfig{
		{Name: "primary", URL: cfg.EmailPrimaryUrl, Weight: 100},
		{Name: "secondary", URL: cfg.EmailSecondaryUrl, Weight: 80},
		{Name: "backup", URL: cfg.EmailBackupUrl, Weight: 60},
	} {
		if p.URL != "" {
			providers = append(providers, p)
		}
	}
	client, err := gateway.NewClient(&gateway.Config{
		Providers:               providers,
		From:                    cfg.EmailFrom,
		FromName:                cfg.EmailFromName,
		Timeout:                 5 * time.Second,
		MaxRetries:              2,
		RetryDelay:              100 * time.Millisecond,
		MaxConns:                256,
		HealthCheckInterval:     30 * time.Second,
		CircuitBreakerThreshold: 5,
		CircuitBreakerTimeout:   60 * time.Second,
	}, log)
	if err != nil {
		return nil, nil, err
	}
	return client, func() { _ = client.Close() }, nil
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
