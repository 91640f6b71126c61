package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"openideax/collab/internal/notify"
)

// app config, loaded once at startup from the environment
type Config struct {
	Env                string
	Port               string
	CORSAllowedOrigins []string

	AIProvider string
	AITimeout  time.Duration

	RoomIdleTTL       time.Duration
	RoomSweepSchedule string

	RedisAddr    string
	RedisChannel string

	SendBuffer int
}

var supportedProviders = map[string]bool{"mock": true, "gemini": true}

// loads configuration from environment variables
func LoadConfig() (*Config, error) {
	aiTimeout, err := getDurationOrDefault("AI_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}
	idleTTL, err := getDurationOrDefault("ROOM_IDLE_TTL", 0)
	if err != nil {
		return nil, err
	}
	sendBuffer, err := getIntOrDefault("WS_SEND_BUFFER", 256)
	if err != nil {
		return nil, err
	}

	config := &Config{
		Env:                getEnvOrDefault("APP_ENV", "prod"),
		Port:               getEnvOrDefault("PORT", "8080"),
		CORSAllowedOrigins: splitCSV(getEnvOrDefault("CORS_ALLOWED_ORIGINS", "*")),
		AIProvider:         getEnvOrDefault("AI_PROVIDER", "mock"),
		AITimeout:          aiTimeout,
		RoomIdleTTL:        idleTTL,
		RoomSweepSchedule:  getEnvOrDefault("ROOM_SWEEP_SCHEDULE", "@every 1m"),
		RedisAddr:          os.Getenv("REDIS_ADDR"),
		RedisChannel:       getEnvOrDefault("REDIS_CHANNEL", notify.DefaultChannel),
		SendBuffer:         sendBuffer,
	}
	if err := validateConfig(config); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) IsDev() bool { return c.Env == "dev" }

func validateConfig(config *Config) error {
	if !supportedProviders[config.AIProvider] {
		return errors.New("unsupported AI provider: " + config.AIProvider + ". Currently supported: mock, gemini")
	}
	// Gemini validation is handled by gemini.NewConfig()
	if config.AITimeout <= 0 {
		return errors.New("AI_TIMEOUT must be positive")
	}
	if config.RoomIdleTTL < 0 {
		return errors.New("ROOM_IDLE_TTL must not be negative")
	}
	if config.RoomIdleTTL > 0 {
		if _, err := cron.ParseStandard(config.RoomSweepSchedule); err != nil {
			return fmt.Errorf("invalid ROOM_SWEEP_SCHEDULE %q: %w", config.RoomSweepSchedule, err)
		}
	}
	if config.SendBuffer <= 0 {
		return errors.New("WS_SEND_BUFFER must be positive")
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func getIntOrDefault(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func splitCSV(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
