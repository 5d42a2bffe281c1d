package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	ListenAddr            string
	StoreMode             string
	DatabaseURL           string
	SettingsEncryptionKey string

	AdminUsername string
	AdminPassword string
	JWTSecret     string
	WebhookToken  string

	Timezone            string
	InitialMode         string
	DefaultDelaySeconds int
	IntentTTL           time.Duration
	LockTTL             time.Duration

	ActiveTickInterval time.Duration
	IdleTickInterval   time.Duration
	ExecutorBatchLimit int
	ModeCheckInterval  time.Duration

	BrokerURL     string
	BrokerToken   string
	BrokerTimeout time.Duration

	TelegramBotToken string
	TelegramChatID   string

	AuditWebhookURL string
	AuditTimeout    time.Duration
	AuditMaxRetries int
	AuditRetryBase  time.Duration
	AuditRetryMax   time.Duration

	RetentionMaxAge   time.Duration
	RetentionInterval time.Duration
}

func Load() Config {
	return Config{
		ListenAddr:            getEnv("LISTEN_ADDR", ":8080"),
		StoreMode:             getEnv("STORE_MODE", "postgres"),
		DatabaseURL:           getEnv("DATABASE_URL", ""),
		SettingsEncryptionKey: getEnv("SETTINGS_ENCRYPTION_KEY", ""),
		AdminUsername:         getEnv("ADMIN_USERNAME", "admin"),
		AdminPassword:         getEnv("ADMIN_PASSWORD", "change-me"),
		JWTSecret:             getEnv("JWT_SECRET", "change-this-secret"),
		WebhookToken:          getEnv("WEBHOOK_TOKEN", "change-this-webhook-token"),
		Timezone:              getEnv("TIMEZONE", "UTC"),
		InitialMode:           getEnv("INITIAL_MODE", "safe"),
		DefaultDelaySeconds:   getInt("DEFAULT_DELAY_SECONDS", 300),
		IntentTTL:             getDuration("INTENT_TTL", time.Hour),
		LockTTL:               getDuration("LOCK_TTL", 3*time.Second),
		ActiveTickInterval:    getDuration("ACTIVE_TICK_INTERVAL", 10*time.Second),
		IdleTickInterval:      getDuration("IDLE_TICK_INTERVAL", 60*time.Second),
		ExecutorBatchLimit:    getInt("EXECUTOR_BATCH_LIMIT", 50),
		ModeCheckInterval:     getDuration("MODE_CHECK_INTERVAL", time.Minute),
		BrokerURL:             getEnv("BROKER_WEBHOOK_URL", ""),
		BrokerToken:           getEnv("BROKER_AUTH_TOKEN", ""),
		BrokerTimeout:         getDuration("BROKER_TIMEOUT", 5*time.Second),
		TelegramBotToken:      getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:        getEnv("TELEGRAM_CHAT_ID", ""),
		AuditWebhookURL:       getEnv("AUDIT_WEBHOOK_URL", ""),
		AuditTimeout:          getDuration("AUDIT_TIMEOUT", 5*time.Second),
		AuditMaxRetries:       getInt("AUDIT_MAX_RETRIES", 3),
		AuditRetryBase:        getDuration("AUDIT_RETRY_BASE", 500*time.Millisecond),
		AuditRetryMax:         getDuration("AUDIT_RETRY_MAX", 5*time.Second),
		RetentionMaxAge:       getDuration("RETENTION_MAX_AGE", 720*time.Hour),
		RetentionInterval:     getDuration("RETENTION_INTERVAL", time.Hour),
	}
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
