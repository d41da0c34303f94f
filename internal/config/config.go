// Package config loads service and client settings from the
// environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Service configures the reference verification service.
type Service struct {
	HTTPAddr           string
	DatabaseDSN        string
	RedisAddr          string
	ScorerAddr         string
	JWTSecret          string
	JWTAudience        string
	SessionTokenSecret string
	SessionTokenTTL    time.Duration
	// TokenRateLimit caps session tokens per device key per window.
	// Zero disables the limit.
	TokenRateLimit  int
	TokenRateWindow time.Duration
	// DeviceKeys is the allow-list of device keys. Empty accepts any
	// non-empty key.
	DeviceKeys      []string
	ShutdownTimeout time.Duration
	// SecretProvider names where signing secrets come from: "env" or
	// "vault".
	SecretProvider string
}

// Client configures the liveness check host.
type Client struct {
	BaseURL             string
	DeviceKey           string
	HTTPTimeout         time.Duration
	StillUploadingDelay time.Duration
}

// LoadService reads the service configuration.
func LoadService() (Service, error) {
	cfg := Service{
		HTTPAddr:           getEnv("HTTP_ADDR", ":8080"),
		DatabaseDSN:        getEnv("DATABASE_DSN", "host=postgres user=postgres password=postgres dbname=liveness port=5432 sslmode=disable"),
		RedisAddr:          getEnv("REDIS_ADDR", "redis:6379"),
		ScorerAddr:         getEnv("SCORER_ADDR", "liveness-scorer:50051"),
		JWTSecret:          getEnv("JWT_SECRET", "dev-secret"),
		JWTAudience:        os.Getenv("JWT_AUDIENCE"),
		SessionTokenSecret: getEnv("SESSION_TOKEN_SECRET", "dev-session-secret"),
		DeviceKeys:         splitList(os.Getenv("DEVICE_KEYS")),
		SecretProvider:     strings.ToLower(strings.TrimSpace(getEnv("CONFIG_PROVIDER", "env"))),
	}

	var err error
	if cfg.SessionTokenTTL, err = getDuration("SESSION_TOKEN_TTL", 10*time.Minute); err != nil {
		return Service{}, err
	}
	if cfg.TokenRateWindow, err = getDuration("SESSION_TOKEN_RATE_WINDOW", time.Minute); err != nil {
		return Service{}, err
	}
	if cfg.ShutdownTimeout, err = getDuration("SHUTDOWN_TIMEOUT", 15*time.Second); err != nil {
		return Service{}, err
	}
	if cfg.TokenRateLimit, err = getInt("SESSION_TOKEN_RATE_LIMIT", 30); err != nil {
		return Service{}, err
	}
	return cfg, nil
}

// LoadClient reads the client configuration. The base URL and device
// key are required.
func LoadClient() (Client, error) {
	cfg := Client{
		BaseURL:   os.Getenv("LIVENESS_BASE_URL"),
		DeviceKey: os.Getenv("LIVENESS_DEVICE_KEY"),
	}

	var err error
	if cfg.HTTPTimeout, err = getDuration("LIVENESS_HTTP_TIMEOUT", 30*time.Second); err != nil {
		return Client{}, err
	}
	if cfg.StillUploadingDelay, err = getDuration("LIVENESS_STILL_UPLOADING_DELAY", 6*time.Second); err != nil {
		return Client{}, err
	}
	return cfg, nil
}

// Validate reports missing required client settings.
func (c Client) Validate() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return fmt.Errorf("LIVENESS_BASE_URL is required")
	}
	if strings.TrimSpace(c.DeviceKey) == "" {
		return fmt.Errorf("LIVENESS_DEVICE_KEY is required")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func getInt(key string, fallback int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
