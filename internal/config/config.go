// Package config loads agent and server settings from the environment
// (and a .env file when present).
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Location sources
const (
	SourceGPSD   = "gpsd"
	SourceBridge = "bridge"
)

// Queue backends
const (
	QueueMemory = "memory"
	QueueRedis  = "redis"
)

// Shift stores
const (
	StoreAPI      = "api"
	StorePostgres = "postgres"
)

// Agent configures the driver-side tracking agent
type Agent struct {
	APIBaseURL     string `mapstructure:"API_BASE_URL"`
	DriverToken    string `mapstructure:"DRIVER_TOKEN"`
	TokenFile      string `mapstructure:"TOKEN_FILE"`
	LocationSource string `mapstructure:"LOCATION_SOURCE"`
	GPSDAddr       string `mapstructure:"GPSD_ADDR"`
	ListenAddr     string `mapstructure:"LISTEN_ADDR"`
	IPGeoURL       string `mapstructure:"IP_GEO_URL"`
	QueueBackend   string `mapstructure:"QUEUE_BACKEND"`
	RedisAddr      string `mapstructure:"REDIS_ADDR"`
	RedisPassword  string `mapstructure:"REDIS_PASSWORD"`
	QueueKey       string `mapstructure:"QUEUE_KEY"`
	ShiftStore     string `mapstructure:"SHIFT_STORE"`
	DatabaseURL    string `mapstructure:"DATABASE_URL"`
	FCMCredsBase64 string `mapstructure:"FIREBASE_CREDENTIALS_BASE64"`
	FCMCredsFile   string `mapstructure:"FIREBASE_CREDENTIALS_FILE"`
	FCMDeviceToken string `mapstructure:"FCM_DEVICE_TOKEN"`
	Consent        bool   `mapstructure:"LOCATION_CONSENT"`
	LogLevel       string `mapstructure:"LOG_LEVEL"`
	LogFormat      string `mapstructure:"LOG_FORMAT"`
}

// Server configures the backend
type Server struct {
	Port        string `mapstructure:"PORT"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	JWTSecret   string `mapstructure:"APP_JWT_SECRET"`
	LogLevel    string `mapstructure:"LOG_LEVEL"`
	LogFormat   string `mapstructure:"LOG_FORMAT"`
	SeedDev     bool   `mapstructure:"SEED_DEV_ACCOUNTS"`
}

// loadDotEnv reads .env if present; real environment variables win
func loadDotEnv() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("⚠️  Could not read .env file: %v", err)
	}
}

func defaultTokenFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "fleet-tracker", "token")
}

// LoadAgent reads the agent configuration
func LoadAgent() (Agent, error) {
	loadDotEnv()

	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("API_BASE_URL", "http://localhost:8080")
	v.SetDefault("DRIVER_TOKEN", "")
	v.SetDefault("TOKEN_FILE", defaultTokenFile())
	v.SetDefault("LOCATION_SOURCE", SourceBridge)
	v.SetDefault("GPSD_ADDR", "localhost:2947")
	v.SetDefault("LISTEN_ADDR", "127.0.0.1:7070")
	v.SetDefault("IP_GEO_URL", "")
	v.SetDefault("QUEUE_BACKEND", QueueMemory)
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("QUEUE_KEY", "tracking")
	v.SetDefault("SHIFT_STORE", StoreAPI)
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("FIREBASE_CREDENTIALS_BASE64", "")
	v.SetDefault("FIREBASE_CREDENTIALS_FILE", "")
	v.SetDefault("FCM_DEVICE_TOKEN", "")
	v.SetDefault("LOCATION_CONSENT", false)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "text")

	var cfg Agent
	if err := v.Unmarshal(&cfg); err != nil {
		return Agent{}, fmt.Errorf("failed to read agent config: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate checks enumerated settings and their dependencies
func (c Agent) Validate() error {
	switch c.LocationSource {
	case SourceGPSD, SourceBridge:
	default:
		return fmt.Errorf("LOCATION_SOURCE must be %q or %q, got %q", SourceGPSD, SourceBridge, c.LocationSource)
	}
	switch c.QueueBackend {
	case QueueMemory, QueueRedis:
	default:
		return fmt.Errorf("QUEUE_BACKEND must be %q or %q, got %q", QueueMemory, QueueRedis, c.QueueBackend)
	}
	switch c.ShiftStore {
	case StoreAPI:
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when SHIFT_STORE=%s", StorePostgres)
		}
	default:
		return fmt.Errorf("SHIFT_STORE must be %q or %q, got %q", StoreAPI, StorePostgres, c.ShiftStore)
	}
	return nil
}

// LoadServer reads the backend configuration
func LoadServer() (Server, error) {
	loadDotEnv()

	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("PORT", "8080")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("APP_JWT_SECRET", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "text")
	v.SetDefault("SEED_DEV_ACCOUNTS", true)

	var cfg Server
	if err := v.Unmarshal(&cfg); err != nil {
		return Server{}, fmt.Errorf("failed to read server config: %w", err)
	}
	if cfg.DatabaseURL == "" {
		return Server{}, fmt.Errorf("DATABASE_URL environment variable is required")
	}
	if cfg.JWTSecret == "" {
		return Server{}, fmt.Errorf("APP_JWT_SECRET environment variable is required")
	}
	return cfg, nil
}

// DatabaseURL reads DATABASE_URL for tools that only need the database
func DatabaseURL() (string, error) {
	loadDotEnv()

	v := viper.New()
	v.AutomaticEnv()
	url := v.GetString("DATABASE_URL")
	if url == "" {
		return "", fmt.Errorf("DATABASE_URL environment variable is required")
	}
	return url, nil
}
