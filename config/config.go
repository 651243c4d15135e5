package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	Ingest   IngestConfig
	Reaper   ReaperConfig
	Events   EventsConfig
	CORS     CORSConfig
}

type ServerConfig struct {
	Port                 string
	Env                  string
	LogLevel             string
	AdminRateLimitPerSec int
}

type DatabaseConfig struct {
	Driver   string
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret      string
	ExpiryHours int
}

type IngestConfig struct {
	PathPrefix        string
	WebhookSecret     string
	StreamKeyTTL      time.Duration
	ActivityMaxTTL    time.Duration
	RateLimitPerSec   int
	ReadAccessAllowed bool
}

type ReaperConfig struct {
	Enabled   bool
	Interval  time.Duration
	Threshold time.Duration
}

type EventsConfig struct {
	AMQPURL      string
	Exchange     string
	RedisChannel string
}

type CORSConfig struct {
	AllowedOrigins []string
}

// Load loads configuration from environment variables, reading .env first when present.
func Load() (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	cfg := &Config{
		Server: ServerConfig{
			Port:     v.GetString("PORT"),
			Env:      v.GetString("ENV"),
			LogLevel: v.GetString("LOG_LEVEL"),

			AdminRateLimitPerSec: v.GetInt("ADMIN_RATE_LIMIT_PER_SEC"),
		},
		Database: DatabaseConfig{
			Driver:   v.GetString("STORE_DRIVER"),
			Host:     v.GetString("DB_HOST"),
			Port:     v.GetString("DB_PORT"),
			User:     v.GetString("DB_USER"),
			Password: v.GetString("DB_PASSWORD"),
			DBName:   v.GetString("DB_NAME"),
			SSLMode:  v.GetString("DB_SSLMODE"),
		},
		Redis: RedisConfig{
			Host:     v.GetString("REDIS_HOST"),
			Port:     v.GetString("REDIS_PORT"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
		},
		JWT: JWTConfig{
			Secret:      v.GetString("JWT_SECRET"),
			ExpiryHours: v.GetInt("JWT_EXPIRY_HOURS"),
		},
		Ingest: IngestConfig{
			PathPrefix:        v.GetString("INGEST_PATH_PREFIX"),
			WebhookSecret:     v.GetString("INGEST_WEBHOOK_SECRET"),
			StreamKeyTTL:      v.GetDuration("STREAM_KEY_TTL"),
			ActivityMaxTTL:    v.GetDuration("ACTIVITY_MAX_TTL"),
			RateLimitPerSec:   v.GetInt("INGEST_RATE_LIMIT_PER_SEC"),
			ReadAccessAllowed: v.GetBool("INGEST_READ_ACCESS_ALLOWED"),
		},
		Reaper: ReaperConfig{
			Enabled:   v.GetBool("REAPER_ENABLED"),
			Interval:  v.GetDuration("REAPER_INTERVAL"),
			Threshold: v.GetDuration("REAPER_THRESHOLD"),
		},
		Events: EventsConfig{
			AMQPURL:      v.GetString("AMQP_URL"),
			Exchange:     v.GetString("AMQP_EXCHANGE"),
			RedisChannel: v.GetString("EVENTS_REDIS_CHANNEL"),
		},
		CORS: CORSConfig{
			AllowedOrigins: splitList(v.GetString("CORS_ALLOWED_ORIGINS")),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "8080")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("ADMIN_RATE_LIMIT_PER_SEC", 50)

	v.SetDefault("STORE_DRIVER", "postgres")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_USER", "matchcast")
	v.SetDefault("DB_PASSWORD", "matchcast_password")
	v.SetDefault("DB_NAME", "matchcast_db")
	v.SetDefault("DB_SSLMODE", "disable")

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", "6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", defaultJWTSecret)
	v.SetDefault("JWT_EXPIRY_HOURS", 24)

	v.SetDefault("INGEST_PATH_PREFIX", "live")
	v.SetDefault("INGEST_WEBHOOK_SECRET", "")
	v.SetDefault("STREAM_KEY_TTL", "24h")
	v.SetDefault("ACTIVITY_MAX_TTL", "24h")
	v.SetDefault("INGEST_RATE_LIMIT_PER_SEC", 20)
	v.SetDefault("INGEST_READ_ACCESS_ALLOWED", true)

	v.SetDefault("REAPER_ENABLED", true)
	v.SetDefault("REAPER_INTERVAL", "5m")
	v.SetDefault("REAPER_THRESHOLD", "15m")

	v.SetDefault("AMQP_URL", "")
	v.SetDefault("AMQP_EXCHANGE", "broadcast_events")
	v.SetDefault("EVENTS_REDIS_CHANNEL", "broadcast-events")

	v.SetDefault("CORS_ALLOWED_ORIGINS", "http://localhost:3000")
}

const defaultJWTSecret = "change-this-secret-key"

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	if c.JWT.Secret == defaultJWTSecret && c.IsProduction() {
		return fmt.Errorf("JWT_SECRET must be set in production")
	}
	switch c.Database.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("STORE_DRIVER must be postgres or memory, got %q", c.Database.Driver)
	}
	if c.Ingest.StreamKeyTTL <= 0 {
		return fmt.Errorf("STREAM_KEY_TTL must be positive")
	}
	if c.Ingest.ActivityMaxTTL <= 0 {
		return fmt.Errorf("ACTIVITY_MAX_TTL must be positive")
	}
	if c.Reaper.Interval <= 0 {
		return fmt.Errorf("REAPER_INTERVAL must be positive")
	}
	if c.Reaper.Threshold <= 0 {
		return fmt.Errorf("REAPER_THRESHOLD must be positive")
	}
	if c.Server.AdminRateLimitPerSec < 0 {
		return fmt.Errorf("ADMIN_RATE_LIMIT_PER_SEC must not be negative")
	}
	if c.Ingest.RateLimitPerSec < 0 {
		return fmt.Errorf("INGEST_RATE_LIMIT_PER_SEC must not be negative")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// GetDSN returns the database connection string
func (c *Config) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.DBName,
		c.Database.SSLMode,
	)
}

// GetRedisAddr returns the Redis address
func (c *Config) GetRedisAddr() string {
	return fmt.Sprintf("%s:%s", c.Redis.Host, c.Redis.Port)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
