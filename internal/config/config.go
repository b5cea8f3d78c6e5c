package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port string

	DBDriver    string
	DatabaseURL string
	DBHost      string
	DBPort      string
	DBUser      string
	DBPassword  string
	DBName      string

	RedisHost  string
	RedisPort  string
	RedisLocks bool

	SessionSecret string
	GinMode       string
	AdminToken    string

	Dialog360APIKey    string
	BoundNumber        string
	WhatsAppBaseURL    string
	InteractiveReplies bool

	KafkaBrokers []string
	KafkaTopic   string

	DefaultTimezone   string
	EscalationTick    time.Duration
	EscalationResync  time.Duration
	DigestHourField   int
	DigestHourManager int
}

func Load() *Config {
	// Load .env if present; real environment variables win.
	if err := godotenv.Load(); err != nil {
		slog.Debug(".env not found, using environment variables")
	}

	return &Config{
		Port:        getEnv("PORT", "10000"),
		DBDriver:    getEnv("DB_DRIVER", "postgres"),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		DBHost:      getEnv("DB_HOST", "localhost"),
		DBPort:      getEnv("DB_PORT", "5432"),
		DBUser:      getEnv("DB_USER", "hubflo"),
		DBPassword:  getEnv("DB_PASSWORD", "hubflo"),
		DBName:      getEnv("DB_NAME", "hubflo"),

		RedisHost:  getEnv("REDIS_HOST", "localhost"),
		RedisPort:  getEnv("REDIS_PORT", "6379"),
		RedisLocks: getEnvBool("REDIS_LOCKS", false),

		SessionSecret: getEnv("SESSION_SECRET", "default-secret-key-change-me"),
		GinMode:       getEnv("GIN_MODE", "debug"),
		AdminToken:    strings.TrimSpace(getEnv("HUBFLO_ADMIN_TOKEN", "")),

		// Both spellings are in use on deployed instances.
		Dialog360APIKey:    strings.TrimSpace(firstEnv("DIALOG360_API_KEY", "D360_KEY")),
		BoundNumber:        getEnv("BOUND_NUMBER", ""),
		WhatsAppBaseURL:    getEnv("WHATSAPP_BASE_URL", "https://waba.360dialog.io/v1/messages"),
		InteractiveReplies: getEnvBool("INTERACTIVE_REPLIES", false),

		KafkaBrokers: splitCSV(getEnv("KAFKA_BROKERS", "")),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "hubflo.task-events"),

		DefaultTimezone:   getEnv("DEFAULT_TIMEZONE", "UTC"),
		EscalationTick:    getEnvDuration("ESCALATION_TICK", 60*time.Second),
		EscalationResync:  getEnvDuration("ESCALATION_RESYNC", 15*time.Minute),
		DigestHourField:   getEnvInt("DIGEST_HOUR_FIELD", 6),
		DigestHourManager: getEnvInt("DIGEST_HOUR_MANAGER", 18),
	}
}

// RedisAddr returns host:port for the Redis server.
func (c *Config) RedisAddr() string {
	return c.RedisHost + ":" + c.RedisPort
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

func getEnvBool(key string, defaultValue bool) bool {
	value, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	value, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value, err := time.ParseDuration(os.Getenv(key))
	if err != nil || value <= 0 {
		return defaultValue
	}
	return value
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
