package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config carries all process configuration, loaded from the environment.
type Config struct {
	AppEnv      string
	AppName     string
	AppPort     string
	MetricsPort string
	LogLevel    string
	JWTSecret   string

	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// Gateway tunables. Zero values fall back to the defaults in the
	// gateway package.
	MessageWindowSecs  int
	IdempotencyTTLSecs int
	RateLimitWindow    int
	RateLimitMax       int
	StaleAfterSecs     int
}

func Load() (*Config, error) {
	cfg := &Config{
		AppEnv:        os.Getenv("APP_ENV"),
		AppName:       os.Getenv("APP_NAME"),
		AppPort:       os.Getenv("APP_PORT"),
		MetricsPort:   os.Getenv("METRICS_PORT"),
		LogLevel:      os.Getenv("LOG_LEVEL"),
		JWTSecret:     os.Getenv("JWT_SECRET"),
		DBHost:        os.Getenv("DB_HOST"),
		DBPort:        os.Getenv("DB_PORT"),
		DBUser:        os.Getenv("DB_USER"),
		DBPassword:    os.Getenv("DB_PASSWORD"),
		DBName:        os.Getenv("DB_NAME"),
		DBSSLMode:     os.Getenv("DB_SSL_MODE"),
		RedisHost:     os.Getenv("REDIS_HOST"),
		RedisPort:     os.Getenv("REDIS_PORT"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
	}
	if cfg.AppPort == "" {
		cfg.AppPort = "8080"
	}
	if cfg.MetricsPort == "" {
		cfg.MetricsPort = "9090"
	}
	if cfg.DBSSLMode == "" {
		cfg.DBSSLMode = "disable"
	}

	var err error
	if cfg.RedisDB, err = intEnv("REDIS_DB"); err != nil {
		return nil, err
	}
	if cfg.MessageWindowSecs, err = intEnv("WS_MESSAGE_WINDOW_SECS"); err != nil {
		return nil, err
	}
	if cfg.IdempotencyTTLSecs, err = intEnv("WS_IDEMPOTENCY_TTL_SECS"); err != nil {
		return nil, err
	}
	if cfg.RateLimitWindow, err = intEnv("WS_RATE_LIMIT_WINDOW_SECS"); err != nil {
		return nil, err
	}
	if cfg.RateLimitMax, err = intEnv("WS_RATE_LIMIT_MAX"); err != nil {
		return nil, err
	}
	if cfg.StaleAfterSecs, err = intEnv("WS_STALE_AFTER_SECS"); err != nil {
		return nil, err
	}

	if cfg.JWTSecret == "" || cfg.DBHost == "" || cfg.DBPort == "" || cfg.DBUser == "" || cfg.DBName == "" {
		return nil, fmt.Errorf("missing required environment variables")
	}
	return cfg, nil
}

func intEnv(name string) (int, error) {
	v := os.Getenv(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return n, nil
}
