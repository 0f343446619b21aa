package config

import (
	"errors"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/relaybot/dashboard/pkg/utils"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server    ServerConfig
	Dashboard DashboardConfig
	AI        AIConfig
	Telegram  TelegramConfig
	Redis     RedisConfig
	AWS       AWSConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int    // 0 keeps live log streams open indefinitely
	CORSAllowedOrigins string   // comma-separated, or "*" for all
	TrustedProxies     []string // CIDRs/IPs allowed to set X-Forwarded-For; empty trusts none
}

// DashboardConfig holds the operator identity and event log settings.
type DashboardConfig struct {
	Username        string
	Password        string
	PasswordHash    string // bcrypt; takes precedence over Password
	LogCapacity     int
	ViewerBuffer    int
	LoginRatePerMin int
}

// AIConfig holds the chat-completion backend settings.
type AIConfig struct {
	APIKey           string
	BaseURL          string
	Model            string
	SystemPrompt     string
	TimeoutSec       int
	MaxTokens        int
	Temperature      float64
	FailureThreshold int
	CooldownSec      int
}

// TelegramConfig holds messaging-platform settings.
type TelegramConfig struct {
	BotToken      string
	WebhookSecret string  // secret_token registered with setWebhook
	NotifySecret  string  // shared secret for /webhooks/notify
	RatePerSec    float64 // per-chat inbound limit; 0 disables
}

// RedisConfig holds the optional log mirror connection. Empty Addr disables the mirror.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Channel  string
}

// AWSConfig holds the optional log archive bucket. Empty ArchiveBucket disables archiving.
type AWSConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	ArchiveBucket   string
	ArchivePrefix   string
	BatchSize       int // worker: records per archive object
	FlushSec        int // worker: flush interval
}

// ErrNoOperator is returned by Validate when no operator credentials are configured.
var ErrNoOperator = errors.New("DASHBOARD_USERNAME and DASHBOARD_PASSWORD or DASHBOARD_PASSWORD_HASH must be set")

// ErrBadPasswordHash is returned by Validate when DASHBOARD_PASSWORD_HASH is not a bcrypt hash.
var ErrBadPasswordHash = errors.New("DASHBOARD_PASSWORD_HASH is not a bcrypt hash")

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()      // .env
	_ = godotenv.Load("env") // env (no leading dot)

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 0),
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "*"),
			TrustedProxies:     getEnvList("TRUSTED_PROXIES"),
		},
		Dashboard: DashboardConfig{
			Username:        getEnv("DASHBOARD_USERNAME", ""),
			Password:        getEnv("DASHBOARD_PASSWORD", ""),
			PasswordHash:    getEnv("DASHBOARD_PASSWORD_HASH", ""),
			LogCapacity:     getEnvInt("LOG_CAPACITY", 1000),
			ViewerBuffer:    getEnvInt("STREAM_BUFFER", 256),
			LoginRatePerMin: getEnvInt("LOGIN_RATE_PER_MIN", 10),
		},
		AI: AIConfig{
			APIKey:           getEnv("OPENAI_API_KEY", ""),
			BaseURL:          getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
			Model:            getEnv("OPENAI_MODEL", "gpt-4o-mini"),
			SystemPrompt:     getEnv("AI_SYSTEM_PROMPT", ""),
			TimeoutSec:       getEnvInt("AI_TIMEOUT_SEC", 30),
			MaxTokens:        getEnvInt("AI_MAX_TOKENS", 1000),
			Temperature:      getEnvFloat("AI_TEMPERATURE", 0.7),
			FailureThreshold: getEnvInt("AI_BREAKER_FAILURES", 5),
			CooldownSec:      getEnvInt("AI_BREAKER_COOLDOWN_SEC", 30),
		},
		Telegram: TelegramConfig{
			BotToken:      getEnv("TELEGRAM_BOT_TOKEN", ""),
			WebhookSecret: getEnv("TELEGRAM_WEBHOOK_SECRET", ""),
			NotifySecret:  getEnv("NOTIFY_WEBHOOK_SECRET", ""),
			RatePerSec:    getEnvFloat("TELEGRAM_RATE_PER_SEC", 1),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			Channel:  getEnv("REDIS_LOG_CHANNEL", "relay:logs"),
		},
		AWS: AWSConfig{
			Region:          getEnv("AWS_REGION", "us-east-1"),
			AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
			ArchiveBucket:   getEnv("AWS_S3_ARCHIVE_BUCKET", ""),
			ArchivePrefix:   getEnv("AWS_S3_ARCHIVE_PREFIX", "relay"),
			BatchSize:       getEnvInt("ARCHIVE_BATCH_SIZE", 500),
			FlushSec:        getEnvInt("ARCHIVE_FLUSH_SEC", 60),
		},
	}
	return cfg, nil
}

// Validate checks the settings the server cannot run without.
func (c *Config) Validate() error {
	d := c.Dashboard
	if d.Username == "" || (d.Password == "" && d.PasswordHash == "") {
		return ErrNoOperator
	}
	if d.PasswordHash != "" && !utils.IsBcryptHash(d.PasswordHash) {
		return ErrBadPasswordHash
	}
	return nil
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f
		}
	}
	return fallback
}

// getEnvList splits a comma-separated variable, dropping blanks. Unset yields nil.
func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
