package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nimasrn/time-capsule/internal/config"
	"github.com/nimasrn/time-capsule/internal/handlers"
	"github.com/nimasrn/time-capsule/internal/queue"
	"github.com/nimasrn/time-capsule/internal/repository"
	"github.com/nimasrn/time-capsule/internal/scheduler"
	"github.com/nimasrn/time-capsule/internal/services"
	xhttp "github.com/nimasrn/time-capsule/pkg/http"
	"github.com/nimasrn/time-capsule/pkg/jwtutil"
	"github.com/nimasrn/time-capsule/pkg/logger"
	"github.com/nimasrn/time-capsule/pkg/pg"
	"github.com/nimasrn/time-capsule/pkg/prom"
	"github.com/nimasrn/time-capsule/pkg/redis"
	"github.com/nimasrn/time-capsule/pkg/storage"
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
	log.Info("starting api", "built", date, "env", cfg.AppEnv)

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
		ClientName: "api",
		DB:         cfg.RedisDatabase,
		Username:   cfg.RedisUsername,
		Password:   cfg.RedisPassword,
	})
	if err != nil {
		log.Error("failed connecting to redis", "error", err)
		return
	}

	// the api only publishes; the processor owns the consumer group
	q, err := queue.NewQueue(redisAdap, queue.QueueConfig{
		Name:          cfg.QueueName,
		ConsumerGroup: cfg.QueueConsumerGroup,
		ConsumerName:  "api",
		MaxLen:        cfg.QueueMaxLen,
		Logger:        log,
	})
	if err != nil {
		log.Error("failed creating queue", "error", err)
		return
	}
	sched := scheduler.New(q, scheduler.Config{Location: loc, GraceDelay: cfg.DeliveryGraceDelay}, log)

	blobs, err := createStorage(cfg, log)
	if err != nil {
		log.Error("failed creating blob storage", "error", err)
		return
	}

	verifier, err := jwtutil.NewVerifier(jwtutil.JWTConfig{
		Secret: cfg.JwtSecret,
		Issuer: cfg.JwtIssuer,
		Leeway: 30 * time.Second,
	})
	if err != nil {
		log.Error("failed creating token verifier", "error", err)
		return
	}

	var hostname string
	hostname, err = os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	if err := prom.Create(hostname, cfg.AppEnv, cfg.PromNamespace); err != nil {
		log.Error("failed to create prometheus metrics", "error", err)
		return
	}
	go prom.ListenAndServer(cfg.AppDebugMetricsAddr, cfg.AppDebugMetricsURI)

	capsuleRepo := repository.NewCapsuleRepository(db)
	recipientRepo := repository.NewRecipientRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)
	principalRepo := repository.NewPrincipalRepository(db)

	// services
	capsuleService := services.NewCapsuleService(services.CapsuleDeps{
		Capsules:      capsuleRepo,
		Recipients:    recipientRepo,
		Notifications: notificationRepo,
		Tx:            db,
		Scheduler:     sched,
		Blobs:         blobs,
	}, log)
	publicService := services.NewPublicCapsuleService(services.GateDeps{
		Recipients:    recipientRepo,
		Capsules:      capsuleRepo,
		Principals:    principalRepo,
		Notifications: notificationRepo,
	}, services.GateConfig{Location: loc, BypassTimelock: cfg.AccessBypassTimelock}, log)
	notificationService := services.NewNotificationService(notificationRepo)

	if cfg.AccessBypassTimelock {
		log.Warn("public capsule time lock is bypassed")
	}

	s := xhttp.NewServer(xhttp.ServerOption{
		MaxRequestBodySize: cfg.HttpMaxRequestBodySize,
		ReadBufferSize:     cfg.HttpServerReadBufferSize,
		WriteBufferSize:    cfg.HttpServerWriteBufferSize,
		ReadTimeout:        time.Duration(cfg.HttpServerReadTimeout) * time.Second,
		WriteTimeout:       time.Duration(cfg.HttpServerWriteTimeout) * time.Second,
	}, log)
	s.Use(xhttp.RequestIDMiddleware)
	s.Use(xhttp.RecoverMiddleware(log))
	s.Use(xhttp.CORSMiddleware(xhttp.CORSConfig{AllowedOrigins: cfg.HttpCorsAllowedOrigins}))
	s.Use(xhttp.RequestLoggerMiddleware(log))
	s.Use(xhttp.TimeoutMiddleware(time.Minute))

	auth := handlers.Authenticate(verifier, log)
	g := s.Router.Group(cfg.HttpBaseRequestUrl)
	handlers.RegisterCapsuleRoutes(g, handlers.NewCapsuleHandler(capsuleService, log), auth)
	handlers.RegisterPublicRoutes(g, handlers.NewPublicCapsuleHandler(publicService, log))
	handlers.RegisterNotificationRoutes(g, handlers.NewNotificationHandler(notificationService, log), auth)
	handlers.RegisterHealthRoutes(g, handlers.NewHealthHandler(
		handlers.HealthCheck{Name: "postgres", Check: db.Ping},
		handlers.HealthCheck{Name: "redis", Check: redisAdap.Ping},
	))

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		var err = s.ListenAndServe(cfg.HttpListenAddr)
		if err != nil {
			log.Error("error in running http-server", "error", err)
		}
	}()

	<-c
	if err := s.Shutdown(); err != nil {
		log.Error("http-server shutdown failed", "error", err)
	}
}

// createStorage prefers S3 and falls back to process memory, which loses
// uploads on restart.
func createStorage(cfg *config.Config, log logger.Logger) (storage.Storage, error) {
	if cfg.S3Bucket == "" {
		log.Warn("S3_BUCKET is not set, uploads are kept in memory")
		return storage.NewMemoryStorage(cfg.FrontendBaseUrl + "/media"), nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s3, err := storage.NewS3Storage(ctx, storage.S3Config{
		Bucket:         cfg.S3Bucket,
		Region:         cfg.S3Region,
		Endpoint:       cfg.S3Endpoint,
		ForcePathStyle: cfg.S3ForcePathStyle,
		AccessKey:      cfg.S3AccessKey,
		SecretKey:      cfg.S3SecretKey,
		PublicBaseURL:  cfg.S3PublicBaseUrl,
		KeyPrefix:      "capsule_media/",
	})
	if err != nil {
		return nil, err
	}
	log.Info("uploads go to s3", "bucket", cfg.S3Bucket, "endpoint", cfg.S3Endpoint)
	return s3, nil
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
