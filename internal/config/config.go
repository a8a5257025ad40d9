package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// ReconnectConfig holds the backoff parameters for the session supervisor.
type ReconnectConfig struct {
	InitialMs   int
	CapMs       int
	GiveUpAfter int
}

type Config struct {
	Port        string
	Env         string
	APIKey      string
	DatabaseURL string
	WebhookURL  string
	StateDir    string

	AccountAgeWeeks    int
	ActiveHoursStart   int
	ActiveHoursEnd     int
	MessageDelayBaseMs int
	TypingDelayBaseMs  int
	SendConcurrency    int

	Reconnect ReconnectConfig
}

func LoadConfig() Config {
	err := godotenv.Load()
	if err != nil {
		log.Println("⚠️  .env file not found, using system environment variables")
	}

	return Config{
		Port:        getEnv("PORT", "8080"),
		Env:         os.Getenv("ENV"),
		APIKey:      os.Getenv("API_KEY"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		WebhookURL:  os.Getenv("WEBHOOK_URL"),
		StateDir:    getEnv("STATE_DIR", "state"),

		AccountAgeWeeks:    getEnvInt("ACCOUNT_AGE_WEEKS", 1),
		ActiveHoursStart:   getEnvInt("ACTIVE_HOURS_START", 8),
		ActiveHoursEnd:     getEnvInt("ACTIVE_HOURS_END", 22),
		MessageDelayBaseMs: getEnvInt("MESSAGE_DELAY_BASE_MS", 100),
		TypingDelayBaseMs:  getEnvInt("TYPING_DELAY_BASE_MS", 1000),
		SendConcurrency:    getEnvInt("SEND_CONCURRENCY", 4),

		Reconnect: ReconnectConfig{
			InitialMs:   getEnvInt("RECONNECT_INITIAL_MS", 1000),
			CapMs:       getEnvInt("RECONNECT_CAP_MS", 300000),
			GiveUpAfter: getEnvInt("RECONNECT_GIVE_UP_AFTER", 15),
		},
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("⚠️  Invalid value for %s: %q, using default %d", key, v, fallback)
		return fallback
	}
	return n
}
