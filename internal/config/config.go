package config

import (
	"time"

	"github.com/Netflix/go-env"
	"github.com/adisharma29/tripcompass-sub000/pkg/logger"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

const ConfigTagName = "env"
const ConfigDefaultTagName = "default"

var config *Config

// Config holds every env-driven setting used across the services.
// Only this struct must be used to hold configuration values, no
// direct access to env, ini or any other config source should be made.
type Config struct {
	AppEnv              string `env:"APP_ENV" default:"dev"`
	AppName             string `env:"APP_NAME" default:"concierge_notify"`
	AppDebug            bool   `env:"APP_DEBUG" default:"1"`
	AppDebugMetricsAddr string `env:"APP_DEBUG_METRIC_ADDR"`
	AppDebugMetricsURI  string `env:"APP_DEBUG_METRIC_URI"`
	AppBaseUrl          string `env:"APP_BASE_URL"`
	DashboardBaseUrl    string `env:"DASHBOARD_BASE_URL"`

	HttpListenAddr            string `env:"HTTP_LISTEN_ADDR" validation:"mustExists"`
	HttpBaseRequestUrl        string `env:"HTTP_BASE_REQUEST_URI" validation:"mustExists"`
	HttpServerReadTimeout     int    `env:"HTTP_SERVER_READ_TIMEOUT"`
	HttpServerWriteTimeout    int    `env:"HTTP_SERVER_WRITE_TIMEOUT"`
	HttpServerReadBufferSize  int    `env:"HTTP_SERVER_READ_BUFFER_SIZE"`
	HttpServerWriteBufferSize int    `env:"HTTP_SERVER_WRITE_BUFFER_SIZE"`

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

	RedisAddr               string `env:"REDIS_ADDR"`
	RedisUsername           string `env:"REDIS_USER"`
	RedisPassword           string `env:"REDIS_PASS"`
	RedisDatabase           int    `env:"REDIS_DATABASE"`
	RedisUniversalKeyPrefix string `env:"REDIS_UNIVERSAL_KEY_PREFIX"`

	PromNamespace string `env:"PROM_NAMESPACE"`

	ProfilerEnable bool `env:"PROFILER_ENABLE"`
	ProfilerPort   int  `env:"PROFILER_PORT"`

	LogLevel []string `env:"LOG_LEVEL"`

	QueueName              string        `env:"QUEUE_NAME" default:"deliveries"`
	QueueConsumerGroup     string        `env:"QUEUE_CONSUMER_GROUP" default:"delivery"`
	QueueConsumerName      string        `env:"QUEUE_CONSUMER_NAME"`
	QueueMaxRetries        int           `env:"QUEUE_MAX_RETRIES" default:"3"`
	QueueVisibilityTimeout time.Duration `env:"QUEUE_VISIBILITY_TIMEOUT"`
	QueuePollInterval      time.Duration `env:"QUEUE_POLL_INTERVAL"`
	QueueBatchSize         int64         `env:"QUEUE_BATCH_SIZE"`
	QueueMaxLen            int64         `env:"QUEUE_MAX_LEN"`
	QueueEnableDLQ         bool          `env:"QUEUE_ENABLE_DLQ" default:"1"`

	GupshupBaseUrl       string `env:"GUPSHUP_BASE_URL" default:"https://api.gupshup.io"`
	GupshupAppName       string `env:"GUPSHUP_APP_NAME"`
	GupshupWaApiKey      string `env:"GUPSHUP_WA_API_KEY"`
	GupshupWaSource      string `env:"GUPSHUP_WA_SOURCE"`
	GupshupSmsUserID     string `env:"GUPSHUP_SMS_USER_ID"`
	GupshupSmsPassword   string `env:"GUPSHUP_SMS_PASSWORD"`
	GupshupSmsMask       string `env:"GUPSHUP_SMS_MASK"`
	GupshupTimeoutMillis int    `env:"GUPSHUP_TIMEOUT_MILLIS" default:"10000"`

	GupshupWebhookSecret string `env:"GUPSHUP_WEBHOOK_SECRET"`

	GupshupRequestTemplateID     string `env:"GUPSHUP_REQUEST_TEMPLATE_ID"`
	GupshupEscalationTemplateID  string `env:"GUPSHUP_ESCALATION_TEMPLATE_ID"`
	GupshupResponseDueTemplateID string `env:"GUPSHUP_RESPONSE_DUE_TEMPLATE_ID"`
	GupshupOTPTemplateID         string `env:"GUPSHUP_OTP_TEMPLATE_ID"`

	ResendBaseUrl   string `env:"RESEND_BASE_URL" default:"https://api.resend.com"`
	ResendApiKey    string `env:"RESEND_API_KEY"`
	ResendFromEmail string `env:"RESEND_FROM_EMAIL"`

	VapidPublicKey  string `env:"VAPID_PUBLIC_KEY"`
	VapidPrivateKey string `env:"VAPID_PRIVATE_KEY"`
	VapidSubject    string `env:"VAPID_SUBJECT"`

	OTPLength          int           `env:"OTP_LENGTH" default:"6"`
	OTPTTL             time.Duration `env:"OTP_TTL" default:"10m"`
	OTPMaxAttempts     int           `env:"OTP_MAX_ATTEMPTS" default:"5"`
	OTPSweepInterval   time.Duration `env:"OTP_SWEEP_INTERVAL" default:"10s"`
	OTPFallbackTimeout time.Duration `env:"OTP_FALLBACK_TIMEOUT" default:"60s"`

	OTPSendRatePerPhone int           `env:"OTP_SEND_RATE_PER_PHONE" default:"3"`
	OTPSendRatePerIP    int           `env:"OTP_SEND_RATE_PER_IP" default:"5"`
	OTPSendRatePerEmail int           `env:"OTP_SEND_RATE_PER_EMAIL" default:"3"`
	RequestRatePerRoom  int           `env:"REQUEST_RATE_PER_ROOM" default:"5"`
	RateLimitWindow     time.Duration `env:"RATE_LIMIT_WINDOW" default:"1h"`

	EscalationTickInterval  time.Duration `env:"ESCALATION_TICK_INTERVAL" default:"5m"`
	EscalationClaimTimeout  time.Duration `env:"ESCALATION_CLAIM_TIMEOUT" default:"5m"`
	ReminderTickInterval    time.Duration `env:"REMINDER_TICK_INTERVAL" default:"5m"`
	RequestExpiryInterval   time.Duration `env:"REQUEST_EXPIRY_INTERVAL" default:"1h"`
	RequestExpiryAfter      time.Duration `env:"REQUEST_EXPIRY_AFTER" default:"72h"`
	DigestTickInterval      time.Duration `env:"DIGEST_TICK_INTERVAL" default:"24h"`
	ServiceWindowDuration   time.Duration `env:"SERVICE_WINDOW_DURATION" default:"24h"`
	HeartbeatStaleThreshold time.Duration `env:"HEARTBEAT_STALE_THRESHOLD" default:"15m"`
}

func Load(path string) error {
	logger.Info("loading configs..", "path", path)
	c := &Config{}
	var err error
	if path != "" {
		logger.Info("trying to publish env from file", "path", path)
		err = godotenv.Load(path)
		if err != nil {
			return errors.New("failed to load configuration file " + path + " error: " + err.Error())
		}
	}

	_, err = env.UnmarshalFromEnviron(c)

	if err != nil {
		return errors.New("failed to map env variables to Configuration object " + " error: " + err.Error())
	}

	config = c
	return nil
}

func Get() *Config {
	if config == nil {
		logger.Panic("Config is not initialized")
	}
	return config
}
