package config

import (
	"fmt"
	"os"
	"strconv"
)

type Config struct {
	AppEnv            string
	AppName           string
	AppPort           string
	MetricsPort       string
	ServerID          string
	DBHost            string
	DBPort            string
	DBUser            string
	DBPassword        string
	DBName            string
	DBSSLMode         string
	RedisHost         string
	RedisPort         string
	RedisPassword     string
	RedisDB           int
	RedisPoolSize     int
	RedisMinIdleConns int
	RedisMaxRetries   int
	JWTSecret         string
	AllowGuests       bool
	AllowedOrigins    string
	LogLevel          string
}

func Load() (*Config, error) {
	cfg := &Config{
		AppEnv:         os.Getenv("APP_ENV"),
		AppName:        os.Getenv("APP_NAME"),
		AppPort:        os.Getenv("APP_PORT"),
		MetricsPort:    os.Getenv("METRICS_PORT"),
		ServerID:       os.Getenv("SERVER_ID"),
		DBHost:         os.Getenv("DB_HOST"),
		DBPort:         os.Getenv("DB_PORT"),
		DBUser:         os.Getenv("DB_USER"),
		DBPassword:     os.Getenv("DB_PASSWORD"),
		DBName:         os.Getenv("DB_NAME"),
		DBSSLMode:      os.Getenv("DB_SSL_MODE"),
		RedisHost:      os.Getenv("REDIS_HOST"),
		RedisPort:      os.Getenv("REDIS_PORT"),
		RedisPassword:  os.Getenv("REDIS_PASSWORD"),
		JWTSecret:      os.Getenv("JWT_SECRET"),
		AllowedOrigins: os.Getenv("ALLOWED_ORIGINS"),
		LogLevel:       os.Getenv("LOG_LEVEL"),
	}
	if cfg.AppName == "" {
		cfg.AppName = "chatmesh"
	}
	if cfg.AppPort == "" {
		cfg.AppPort = "8090"
	}
	if cfg.MetricsPort == "" {
		cfg.MetricsPort = "9090"
	}
	if cfg.DBSSLMode == "" {
		cfg.DBSSLMode = "disable"
	}
	if cfg.RedisPort == "" {
		cfg.RedisPort = "6379"
	}
	var err error
	if v := os.Getenv("REDIS_DB"); v != "" {
		cfg.RedisDB, err = strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
		}
	}
	if v := os.Getenv("REDIS_POOL_SIZE"); v != "" {
		cfg.RedisPoolSize, err = strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_POOL_SIZE: %w", err)
		}
	}
	if v := os.Getenv("REDIS_MIN_IDLE_CONNS"); v != "" {
		cfg.RedisMinIdleConns, err = strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_MIN_IDLE_CONNS: %w", err)
		}
	}
	if v := os.Getenv("REDIS_MAX_RETRIES"); v != "" {
		cfg.RedisMaxRetries, err = strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_MAX_RETRIES: %w", err)
		}
	}
	if v := os.Getenv("ALLOW_GUESTS"); v != "" {
		cfg.AllowGuests, err = strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid ALLOW_GUESTS: %w", err)
		}
	}
	if cfg.DBHost == "" || cfg.DBPort == "" || cfg.DBUser == "" || cfg.DBName == "" || cfg.RedisHost == "" {
		return nil, fmt.Errorf("missing required environment variables")
	}
	// Without a secret, tokens signed with the empty key would verify.
	if !cfg.AllowGuests && cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required unless ALLOW_GUESTS is true")
	}
	return cfg, nil
}

// DSN returns the Postgres connection string for the configured database.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode)
}
