package config

import (
	"time"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	"github.com/nimasrn/time-capsule/pkg/logger"
	"github.com/pkg/errors"
)

var config *Config

// Config holds every env driven setting of the api, processor and cli
// binaries. Nothing else reads the environment directly.
type Config struct {
	AppEnv              string `env:"APP_ENV,default=dev"`
	AppName             string `env:"APP_NAME,default=time_capsule"`
	AppDebug            bool   `env:"APP_DEBUG"`
	AppDebugMetricsAddr string `env:"APP_DEBUG_METRIC_ADDR,default=:9100"`
	AppDebugMetricsURI  string `env:"APP_DEBUG_METRIC_URI,default=/metrics"`
	AppTimezone         string `env:"APP_TIMEZONE,default=UTC"`
	FrontendBaseUrl     string `env:"FRONTEND_BASE_URL,default=http://localhost:5173"`

	// AccessBypassTimelock lets the public view ignore the delivery instant and
	// the unlock flag. Development only.
	AccessBypassTimelock bool `env:"ACCESS_BYPASS_TIMELOCK"`

	HttpListenAddr            string `env:"HTTP_LISTEN_ADDR,default=:8080"`
	HttpBaseRequestUrl        string `env:"HTTP_BASE_REQUEST_URI,default=/api/v1"`
	HttpServerReadTimeout     int    `env:"HTTP_SERVER_READ_TIMEOUT"`
	HttpServerWriteTimeout    int    `env:"HTTP_SERVER_WRITE_TIMEOUT"`
	HttpServerReadBufferSize  int    `env:"HTTP_SERVER_READ_BUFFER_SIZE"`
	HttpServerWriteBufferSize int    `env:"HTTP_SERVER_WRITE_BUFFER_SIZE"`
	HttpMaxRequestBodySize    int    `env:"HTTP_MAX_REQUEST_BODY_SIZE,default=104857600"`
	HttpCorsAllowedOrigins    string `env:"HTTP_CORS_ALLOWED_ORIGINS,default=*"`

	PostgresReadHost     string `env:"POSTGRES_READ_HOST"`
	PostgresReadPort     string `env:"POSTGRES_READ_PORT"`
	PostgresReadUser     string `env:"POSTGRES_READ_USER"`
	PostgresReadPassword string `env:"POSTGRES_READ_PASSWORD"`
	PostgresReadDatabase string `env:"POSTGRES_READ_DBNAME"`

	PostgresWriteHost     string `env:"POSTGRES_WRITE_HOST"`
	PostgresWritePort     string `env:"POSTGRES_WRITE_PORT"`
	PostgresWriteUser     string `env:"POSTGRES_WRITE_USER"`
	PostgresWritePassword string `env:"POSTGRES_WRITE_PASSWORD"`
	PostgresWriteDatabase string `env:"POSTGRES_WRITE_DBNAME"`

	RedisAddr               string `env:"REDIS_ADDR,default=localhost:6379"`
	RedisUsername           string `env:"REDIS_USER"`
	RedisPassword           string `env:"REDIS_PASS"`
	RedisDatabase           int    `env:"REDIS_DATABASE"`
	RedisUniversalKeyPrefix string `env:"REDIS_UNIVERSAL_KEY_PREFIX,default=capsule:"`

	PromNamespace string `env:"PROM_NAMESPACE,default=time_capsule"`

	LogLevel    []string `env:"LOG_LEVEL"`
	LogDisabled bool     `env:"LOG_DISABLED"`

	JwtSecret string `env:"JWT_SECRET"`
	JwtIssuer string `env:"JWT_ISSUER"`

	QueueName              string        `env:"QUEUE_NAME,default=capsule_delivery"`
	QueueConsumerGroup     string        `env:"QUEUE_CONSUMER_GROUP,default=delivery_workers"`
	QueueConsumerName      string        `env:"QUEUE_CONSUMER_NAME,default=worker"`
	QueueVisibilityTimeout time.Duration `env:"QUEUE_VISIBILITY_TIMEOUT,default=5m"`
	QueuePollInterval      time.Duration `env:"QUEUE_POLL_INTERVAL,default=1s"`
	QueueBatchSize         int64         `env:"QUEUE_BATCH_SIZE,default=10"`
	QueueMaxLen            int64         `env:"QUEUE_MAX_LEN,default=100000"`
	QueueEnableDLQ         bool          `env:"QUEUE_ENABLE_DLQ,default=true"`

	DeliveryGraceDelay        time.Duration `env:"DELIVERY_GRACE_DELAY,default=10s"`
	DeliveryRetryDelay        time.Duration `env:"DELIVERY_RETRY_DELAY,default=2m"`
	DeliveryMaxRetries        int           `env:"DELIVERY_MAX_RETRIES,default=3"`
	DeliveryLockTTL           time.Duration `env:"DELIVERY_LOCK_TTL,default=5m"`
	DeliveryProcessingTimeout time.Duration `env:"DELIVERY_PROCESSING_TIMEOUT,default=1m"`
	DeliveryConsumers         int           `env:"DELIVERY_CONSUMERS,default=4"`
	DeliveryWorkers           int           `env:"DELIVERY_WORKERS,default=16"`

	EmailTransport    string `env:"EMAIL_TRANSPORT,default=http"`
	EmailFrom         string `env:"EMAIL_FROM,default=no-reply@timecapsule.local"`
	EmailFromName     string `env:"EMAIL_FROM_NAME,default=Time Capsule"`
	EmailPrimaryUrl   string `env:"EMAIL_PROVIDER_PRIMARY_URL"`
	EmailSecondaryUrl string `env:"EMAIL_PROVIDER_SECONDARY_URL"`
	EmailBackupUrl    string `env:"EMAIL_PROVIDER_BACKUP_URL"`

	SmtpHost     string `env:"SMTP_HOST"`
	SmtpPort     int    `env:"SMTP_PORT,default=587"`
	SmtpUsername string `env:"SMTP_USERNAME"`
	SmtpPassword string `env:"SMTP_PASSWORD"`

	S3Bucket         string `env:"S3_BUCKET"`
	S3Region         string `env:"S3_REGION,default=us-east-1"`
	S3Endpoint       string `env:"S3_ENDPOINT"`
	S3PublicBaseUrl  string `env:"S3_PUBLIC_BASE_URL"`
	S3AccessKey      string `env:"S3_ACCESS_KEY"`
	S3SecretKey      string `env:"S3_SECRET_KEY"`
	S3ForcePathStyle bool   `env:"S3_FORCE_PATH_STYLE"`
}

func Load(path string) error {
	logger.Info("loading configs..", "path", path)
	c := &Config{}
	var err error
	if path != "" {
		logger.Info("trying to publish env from file", "path", path)
		err = godotenv.Load(path)
		if err != nil {
			return errors.Wrap(err, "failed to load configuration file "+path)
		}
	}

	_, err = env.UnmarshalFromEnviron(c)

	if err != nil {
		return errors.Wrap(err, "failed to map env variables to Configuration object")
	}

	config = c
	return nil
}

// Set replaces the loaded configuration. Tests use it.
func Set(c *Config) {
	config = c
}

// Location resolves AppTimezone, falling back to UTC for an empty value.
func (c *Config) Location() (*time.Location, error) {
	if c.AppTimezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.AppTimezone)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid APP_TIMEZONE %q", c.AppTimezone)
	}
	return loc, nil
}

func Get() *Config {
	if config == nil {
		logger.Panic("Config is not initialized")
	}
	return config
}
