package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port             string
	AllowedOrigins   []string
	AllowCredentials bool
	Environment      string
	LogFilePath      string
	InstanceID       string

	DatabaseDSN string

	RedisEnabled  bool
	RedisHost     string
	RedisPort     string
	RedisPassword string
	LeaseTTL      time.Duration

	KafkaBrokers     []string
	KafkaNotifyTopic string
	KafkaGroupID     string

	SMTP     SMTPConfig
	Telegram TelegramConfig
	Slack    SlackConfig

	WSWriteTimeout   time.Duration
	WSReadLimit      int64
	ActorIdleTimeout time.Duration
	SweepInterval    time.Duration
	NotifyTimeout    time.Duration
	SessionCacheTTL  time.Duration
}

type SMTPConfig struct {
	Host       string
	Port       int
	Username   string
	Password   string
	SenderName string
	From       string
	To         []string
}

// Enabled reports whether enough is configured to send operator emails.
func (c SMTPConfig) Enabled() bool {
	return c.Host != "" && c.From != "" && len(c.To) > 0
}

type TelegramConfig struct {
	BotToken      string
	ChatID        int64
	WebhookSecret string
}

func (c TelegramConfig) Enabled() bool {
	return c.BotToken != "" && c.ChatID != 0
}

type SlackConfig struct {
	WebhookURL string
}

func (c SlackConfig) Enabled() bool {
	return c.WebhookURL != ""
}

func LoadConfig() *Config {
	hostname, _ := os.Hostname()

	cfg := &Config{
		Port:             getEnv("PORT", "8082"),
		AllowedOrigins:   getEnvList("ALLOWED_ORIGINS", []string{"*"}),
		AllowCredentials: getEnv("ALLOW_CREDENTIALS", "false") == "true",
		Environment:      getEnv("ENVIRONMENT", "development"),
		LogFilePath:      getEnv("LOG_FILE_PATH", "chat-relay.log"),
		InstanceID:       getEnv("INSTANCE_ID", hostname),

		DatabaseDSN: getEnv("DB_CONNECTION_STRING", "sqlite:chat-relay.db"),

		RedisEnabled:  getEnv("REDIS_ENABLED", "false") == "true",
		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		LeaseTTL:      getEnvDuration("SESSION_LEASE_TTL", 2*time.Minute),

		KafkaBrokers:     getEnvList("KAFKA_BROKERS", nil),
		KafkaNotifyTopic: getEnv("KAFKA_NOTIFY_TOPIC", "chat-notifications"),
		KafkaGroupID:     getEnv("KAFKA_GROUP_ID", "chat-relay-notify"),

		SMTP: SMTPConfig{
			Host:       getEnv("SMTP_HOST", ""),
			Port:       getEnvAsInt("SMTP_PORT", 587),
			Username:   getEnv("SMTP_USERNAME", ""),
			Password:   getEnv("SMTP_PASSWORD", ""),
			SenderName: getEnv("SMTP_SENDER_NAME", "Retreat Chat"),
			From:       getEnv("SMTP_FROM", ""),
			To:         getEnvList("NOTIFY_EMAIL_TO", nil),
		},
		Telegram: TelegramConfig{
			BotToken:      getEnv("TELEGRAM_BOT_TOKEN", ""),
			ChatID:        int64(getEnvAsInt("TELEGRAM_CHAT_ID", 0)),
			WebhookSecret: getEnv("TELEGRAM_WEBHOOK_SECRET", ""),
		},
		Slack: SlackConfig{
			WebhookURL: getEnv("SLACK_WEBHOOK_URL", ""),
		},

		WSWriteTimeout:   getEnvDuration("WS_WRITE_TIMEOUT", 10*time.Second),
		WSReadLimit:      int64(getEnvAsInt("WS_READ_LIMIT", 16*1024)),
		ActorIdleTimeout: getEnvDuration("ACTOR_IDLE_TIMEOUT", 10*time.Minute),
		SweepInterval:    getEnvDuration("SWEEP_INTERVAL", 30*time.Second),
		NotifyTimeout:    getEnvDuration("NOTIFY_TIMEOUT", 15*time.Second),
		SessionCacheTTL:  getEnvDuration("SESSION_CACHE_TTL", 5*time.Minute),
	}
	cfg.LeaseTTL = minLeaseTTL(cfg.LeaseTTL, cfg.SweepInterval)
	return cfg
}

// minLeaseTTL keeps a lease alive across one missed renewal: leases are renewed
// once per sweep, so the TTL must cover at least two sweep intervals.
func minLeaseTTL(ttl, sweep time.Duration) time.Duration {
	if floor := 2 * sweep; ttl < floor {
		return floor
	}
	return ttl
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, err := time.ParseDuration(os.Getenv(key)); err == nil && value > 0 {
		return value
	}
	return defaultValue
}

// getEnvList splits a comma-separated variable and trims each element.
func getEnvList(key string, defaultValue []string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// GetCORSOrigins returns CORS origins as a comma-separated string
func (c *Config) GetCORSOrigins() string {
	if c.Environment == "production" && len(c.AllowedOrigins) > 0 && c.AllowedOrigins[0] != "*" {
		return strings.Join(c.AllowedOrigins, ",")
	}
	return "*"
}

// IsDevelopment returns true if environment is development
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if environment is production
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
