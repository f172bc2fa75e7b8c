package config

import (
	"os"

	"github.com/joho/godotenv"
)

// LoadEnv loads .env files into the process environment. Missing files are
// ignored; variables already set are not overwritten.
func LoadEnv(paths ...string) error {
	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

// applyEnv overrides secrets and deployment settings from the environment
func (c *GuardianConfig) applyEnv() {
	c.Exchange.APIKey = getEnv("BYBIT_API_KEY", c.Exchange.APIKey)
	c.Exchange.APISecret = getEnv("BYBIT_API_SECRET", c.Exchange.APISecret)
	c.Audit.PostgresDSN = getEnv("GUARDIAN_POSTGRES_DSN", c.Audit.PostgresDSN)
	c.Notifications.TelegramToken = getEnv("TELEGRAM_TOKEN", c.Notifications.TelegramToken)
	c.Notifications.TelegramChatID = getEnv("TELEGRAM_CHAT_ID", c.Notifications.TelegramChatID)
	c.Environment = getEnv("GUARDIAN_ENV", c.Environment)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.Server.Addr = getEnv("GUARDIAN_ADDR", c.Server.Addr)
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
