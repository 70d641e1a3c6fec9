package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all framework configuration
type Config struct {
	Service  ServiceConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Master   MasterConfig
	Transfer TransferConfig
	Matching MatchingConfig
}

// ServiceConfig holds framework-wide settings
type ServiceConfig struct {
	BaseDir   string
	LogLevel  string
	LogFormat string
}

// DatabaseConfig holds Postgres connection settings
type DatabaseConfig struct {
	Host        string
	Port        int
	Database    string
	User        string
	Password    string
	MaxConns    int
	MinConns    int
	MaxIdleTime time.Duration
	MaxLifetime time.Duration
}

// RedisConfig holds settings for the small-KV store (guards, mappings, prefs)
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// MasterConfig holds master registry settings
type MasterConfig struct {
	Address string
	Timeout time.Duration
}

// TransferConfig holds upload/download tuning
type TransferConfig struct {
	MaxAttempts          int
	SleepBetweenAttempts time.Duration
	ConnectTimeout       time.Duration
	ReadTimeout          time.Duration
	WriteTimeout         time.Duration
	MetadataTimeout      time.Duration
}

// MatchingConfig holds the storage decision settings
type MatchingConfig struct {
	Mode string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Service: ServiceConfig{
			BaseDir:   getEnv("VSTORE_BASE_DIR", defaultBaseDir()),
			LogLevel:  getEnv("LOG_LEVEL", "info"),
			LogFormat: getEnv("LOG_FORMAT", "text"),
		},
		Database: DatabaseConfig{
			Host:        getEnv("POSTGRES_HOST", "localhost"),
			Port:        getEnvInt("POSTGRES_PORT", 5432),
			Database:    getEnv("POSTGRES_DB", "vstore"),
			User:        getEnv("POSTGRES_USER", "vstore"),
			Password:    getEnv("POSTGRES_PASSWORD", "vstore"),
			MaxConns:    getEnvInt("POSTGRES_MAX_CONNS", 10),
			MinConns:    getEnvInt("POSTGRES_MIN_CONNS", 2),
			MaxIdleTime: getEnvDuration("POSTGRES_MAX_IDLE_TIME", 30*time.Minute),
			MaxLifetime: getEnvDuration("POSTGRES_MAX_LIFETIME", time.Hour),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Master: MasterConfig{
			Address: getEnv("VSTORE_MASTER_ADDR", ""),
			Timeout: getEnvDuration("VSTORE_MASTER_TIMEOUT", 2*time.Second),
		},
		Transfer: TransferConfig{
			MaxAttempts:          getEnvInt("VSTORE_UPLOAD_MAX_ATTEMPTS", 3),
			SleepBetweenAttempts: getEnvDuration("VSTORE_UPLOAD_RETRY_SLEEP", 5*time.Second),
			ConnectTimeout:       getEnvDuration("VSTORE_TRANSFER_CONNECT_TIMEOUT", 10*time.Second),
			ReadTimeout:          getEnvDuration("VSTORE_TRANSFER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:         getEnvDuration("VSTORE_TRANSFER_WRITE_TIMEOUT", 300*time.Second),
			MetadataTimeout:      getEnvDuration("VSTORE_METADATA_TIMEOUT", 10*time.Second),
		},
		Matching: MatchingConfig{
			Mode: getEnv("VSTORE_MATCHING_MODE", "rules_next_on_no_match"),
		},
	}

	if cfg.Master.Address != "" && !strings.HasPrefix(cfg.Master.Address, "http") {
		cfg.Master.Address = "http://" + cfg.Master.Address
	}

	return cfg, nil
}

// DatabaseURL builds the Postgres connection string
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
	)
}

func defaultBaseDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./vstore-data"
	}
	return home + "/.vstore"
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
