package config

import (
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"APP_ENV", "PORT", "CORS_ALLOWED_ORIGINS", "AI_PROVIDER", "AI_TIMEOUT",
		"ROOM_IDLE_TTL", "ROOM_SWEEP_SCHEDULE", "REDIS_ADDR", "REDIS_CHANNEL", "WS_SEND_BUFFER",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.AIProvider != "mock" {
		t.Fatalf("expected provider mock, got %s", cfg.AIProvider)
	}
	if cfg.Port != "8080" || cfg.AITimeout != 30*time.Second || cfg.SendBuffer != 256 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.RoomIdleTTL != 0 || cfg.RoomSweepSchedule != "@every 1m" {
		t.Fatalf("unexpected eviction defaults: %+v", cfg)
	}
	if cfg.RedisChannel != "collab:rooms" || cfg.RedisAddr != "" {
		t.Fatalf("unexpected redis defaults: %+v", cfg)
	}
	if len(cfg.CORSAllowedOrigins) != 1 || cfg.CORSAllowedOrigins[0] != "*" {
		t.Fatalf("unexpected cors default: %v", cfg.CORSAllowedOrigins)
	}
	if cfg.IsDev() {
		t.Fatalf("expected non-dev default env")
	}
}

func TestLoadConfig_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("APP_ENV", "dev")
	t.Setenv("CORS_ALLOWED_ORIGINS", "http://a.test, http://b.test,")
	t.Setenv("AI_PROVIDER", "gemini")
	t.Setenv("AI_TIMEOUT", "5s")
	t.Setenv("ROOM_IDLE_TTL", "10m")
	t.Setenv("ROOM_SWEEP_SCHEDULE", "*/5 * * * *")
	t.Setenv("WS_SEND_BUFFER", "16")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if !cfg.IsDev() || cfg.AIProvider != "gemini" || cfg.AITimeout != 5*time.Second {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.RoomIdleTTL != 10*time.Minute || cfg.SendBuffer != 16 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if len(cfg.CORSAllowedOrigins) != 2 || cfg.CORSAllowedOrigins[1] != "http://b.test" {
		t.Fatalf("unexpected origins: %v", cfg.CORSAllowedOrigins)
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	cases := map[string]map[string]string{
		"unsupported provider": {"AI_PROVIDER": "unknown"},
		"bad timeout":          {"AI_TIMEOUT": "soon"},
		"zero timeout":         {"AI_TIMEOUT": "0s"},
		"negative ttl":         {"ROOM_IDLE_TTL": "-1m"},
		"bad schedule":         {"ROOM_IDLE_TTL": "1m", "ROOM_SWEEP_SCHEDULE": "whenever"},
		"bad buffer":           {"WS_SEND_BUFFER": "lots"},
		"zero buffer":          {"WS_SEND_BUFFER": "0"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range env {
				t.Setenv(k, v)
			}
			if _, err := LoadConfig(); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestLoadConfig_ScheduleIgnoredWhenEvictionOff(t *testing.T) {
	clearEnv(t)
	t.Setenv("ROOM_SWEEP_SCHEDULE", "whenever")
	if _, err := LoadConfig(); err != nil {
		t.Fatalf("schedule should not be validated with eviction off: %v", err)
	}
}

func TestGetEnvOrDefault(t *testing.T) {
	t.Setenv("UNIT_TEST_ENV", "value")
	if got := getEnvOrDefault("UNIT_TEST_ENV", "fallback"); got != "value" {
		t.Fatalf("expected env value, got %s", got)
	}

	t.Setenv("UNIT_TEST_ENV", "")
	if got := getEnvOrDefault("UNIT_TEST_ENV", "fallback"); got != "fallback" {
		t.Fatalf("expected fallback value, got %s", got)
	}
}
