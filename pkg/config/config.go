// Package config loads node configuration from the environment, with
// optional YAML deployment profiles for per-mesh alerting defaults.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds node configuration.
type Config struct {
	Port         string
	LogLevel     string
	OwnerAddress string

	ChainDBPath string // SQLite chain event store
	QueueDBPath string // SQLite submission queue
	ArchiveURL  string // Postgres analytics archive, empty disables
	RedisAddr   string // verdict cache, empty falls back to in-memory
	UpstreamURL string // aggregator to relay submissions to, empty disables

	JWTSecret string
	JWTIssuer string

	RateLimitRPS   float64
	RateLimitBurst int

	AlertCooldown time.Duration

	NotifyMinSeverity string
	NotifyPerMinute   int
	DiscordWebhookURL string
	TelegramBotToken  string
	TelegramChatID    string
	SubmitIntervalSec int
	KeystorePath      string
	ProfilesDir       string
	Profile           string
}

// Load reads configuration from environment variables, applying
// defaults suitable for a local development node.
func Load() *Config {
	return &Config{
		Port:         envOr("PORT", "8080"),
		LogLevel:     envOr("LOG_LEVEL", "INFO"),
		OwnerAddress: os.Getenv("OWNER_ADDRESS"),

		ChainDBPath: envOr("CHAIN_DB_PATH", "data/chain.db"),
		QueueDBPath: envOr("QUEUE_DB_PATH", "data/queue.db"),
		ArchiveURL:  os.Getenv("ARCHIVE_URL"),
		RedisAddr:   os.Getenv("REDIS_ADDR"),
		UpstreamURL: os.Getenv("UPSTREAM_URL"),

		JWTSecret: os.Getenv("JWT_SECRET"),
		JWTIssuer: envOr("JWT_ISSUER", "sentinelmesh"),

		RateLimitRPS:   envFloat("RATE_LIMIT_RPS", 10),
		RateLimitBurst: envInt("RATE_LIMIT_BURST", 20),

		AlertCooldown: time.Duration(envInt("ALERT_COOLDOWN_SEC", 300)) * time.Second,

		NotifyMinSeverity: envOr("NOTIFY_MIN_SEVERITY", "high"),
		NotifyPerMinute:   envInt("NOTIFY_PER_MINUTE", 30),
		DiscordWebhookURL: os.Getenv("DISCORD_WEBHOOK_URL"),
		TelegramBotToken:  os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramChatID:    os.Getenv("TELEGRAM_CHAT_ID"),
		SubmitIntervalSec: envInt("SUBMIT_INTERVAL_SEC", 5),
		KeystorePath:      envOr("KEYSTORE_PATH", "data/wallet.json"),
		ProfilesDir:       envOr("PROFILES_DIR", "profiles"),
		Profile:           os.Getenv("MESH_PROFILE"),
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
