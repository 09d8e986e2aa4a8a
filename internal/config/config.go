package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// PolicyPath points at the directory holding payout.yml.
	PolicyPath string

	// AdminAPIKey authenticates operator/admin callers on reporting and
	// export endpoints before casbin decides what they may do.
	AdminAPIKey string

	BankTransferEndpoint string
	BankTransferAPIKey   string
	SwishEndpoint        string
	SwishAPIKey          string
	BankgiroEndpoint     string
	BankgiroAPIKey       string

	// WebhookSecrets maps provider name to its webhook signing secret.
	WebhookSecretBankTransfer string
	WebhookSecretSwish        string
	WebhookSecretBankgiro     string

	// ExportSecret seeds the scrypt key derivation for audit exports.
	ExportSecret string

	// Webhook rate limiting, per provider and per source address. Zero
	// leaves the limiter off.
	WebhookRate  float64
	WebhookBurst int
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:     getenv("APP_SERVICE", "payoutcore"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),

		OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4317"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "payoutcore"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 25),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 1800),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 300),

		RedisAddr:     getenv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getenv("REDIS_PASSWORD", ""),
		RedisDB:       getenvInt("REDIS_DB", 0),

		PolicyPath: getenv("POLICY_PATH", ""),

		AdminAPIKey: strings.TrimSpace(getenv("ADMIN_API_KEY", "")),

		BankTransferEndpoint: getenv("BANK_TRANSFER_ENDPOINT", "https://api.bankpartner.se"),
		BankTransferAPIKey:   strings.TrimSpace(getenv("BANK_TRANSFER_API_KEY", "")),
		SwishEndpoint:        getenv("SWISH_ENDPOINT", "https://cpc.getswish.net"),
		SwishAPIKey:          strings.TrimSpace(getenv("SWISH_API_KEY", "")),
		BankgiroEndpoint:     getenv("BANKGIRO_ENDPOINT", "https://api.bankgirot.se"),
		BankgiroAPIKey:       strings.TrimSpace(getenv("BANKGIRO_API_KEY", "")),

		WebhookSecretBankTransfer: strings.TrimSpace(getenv("WEBHOOK_SECRET_BANK_TRANSFER", "")),
		WebhookSecretSwish:        strings.TrimSpace(getenv("WEBHOOK_SECRET_SWISH", "")),
		WebhookSecretBankgiro:     strings.TrimSpace(getenv("WEBHOOK_SECRET_BANKGIRO", "")),

		ExportSecret: strings.TrimSpace(getenv("AUDIT_EXPORT_SECRET", "")),

		WebhookRate:  getenvFloat("WEBHOOK_RATE", 50),
		WebhookBurst: getenvInt("WEBHOOK_BURST", 100),
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}
