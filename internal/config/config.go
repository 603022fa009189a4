// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir        string // Base directory for all databases (always absolute)
	Port           int
	DevMode        bool
	LogLevel       string
	GateConfigPath string // Path to the YAML gate/engine tuning file (empty = built-in defaults)
	Ingest         *IngestConfig
	Market         *MarketConfig
	Backup         *BackupConfig
}

// IngestConfig holds the authentication material for the inbound signal boundary.
// A sender request is accepted when either the HMAC signature over the raw body
// or the bearer token validates. When both values are empty, authentication is
// disabled (dev mode only).
type IngestConfig struct {
	HMACSecret   string
	BearerToken  string
	MaxBodyBytes int64
}

// MarketConfig holds market-data provider configuration
type MarketConfig struct {
	StreamURL       string        // Websocket quote stream endpoint (empty = stream disabled)
	Tickers         []string      // Tickers the stream subscribes to (required when StreamURL set)
	SnapshotTimeout time.Duration // Upper bound for one snapshot fetch
	CacheTTL        time.Duration // How long a cached snapshot stays servable
}

// BackupConfig holds ledger backup configuration (S3-compatible object storage)
type BackupConfig struct {
	Enabled         bool
	Endpoint        string // Custom endpoint for S3-compatible stores (empty = AWS)
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	RetainDays      int // Remote backups older than this are rotated out
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	// Determine data directory with fallback logic
	// 1. Check SIGNALD_DATA_DIR environment variable
	// 2. If not set, default to ./data
	// 3. Always resolve to absolute path
	// 4. Ensure directory exists
	dataDir := getEnv("SIGNALD_DATA_DIR", "")
	if dataDir == "" {
		dataDir = "./data"
	}

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:        absDataDir,
		Port:           getEnvAsInt("GO_PORT", 8011),
		DevMode:        getEnvAsBool("DEV_MODE", false),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		GateConfigPath: getEnv("GATE_CONFIG_PATH", ""),
		Ingest: &IngestConfig{
			HMACSecret:   getEnv("INGEST_HMAC_SECRET", ""),
			BearerToken:  getEnv("INGEST_BEARER_TOKEN", ""),
			MaxBodyBytes: int64(getEnvAsInt("INGEST_MAX_BODY_BYTES", 1<<20)),
		},
		Market: &MarketConfig{
			StreamURL:       getEnv("MARKET_STREAM_URL", ""),
			Tickers:         getEnvAsList("MARKET_STREAM_TICKERS"),
			SnapshotTimeout: time.Duration(getEnvAsInt("MARKET_SNAPSHOT_TIMEOUT_MS", 1500)) * time.Millisecond,
			CacheTTL:        time.Duration(getEnvAsInt("MARKET_CACHE_TTL_SECONDS", 120)) * time.Second,
		},
		Backup: &BackupConfig{
			Enabled:         getEnvAsBool("BACKUP_ENABLED", false),
			Endpoint:        getEnv("BACKUP_S3_ENDPOINT", ""),
			Region:          getEnv("BACKUP_S3_REGION", "auto"),
			Bucket:          getEnv("BACKUP_S3_BUCKET", ""),
			AccessKeyID:     getEnv("BACKUP_S3_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("BACKUP_S3_SECRET_ACCESS_KEY", ""),
			RetainDays:      getEnvAsInt("BACKUP_RETAIN_DAYS", 30),
		},
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}

	if c.Market.SnapshotTimeout <= 0 {
		return fmt.Errorf("market snapshot timeout must be positive")
	}

	// A stream with no subscriptions connects and then hears nothing.
	if c.Market.StreamURL != "" && len(c.Market.Tickers) == 0 {
		return fmt.Errorf("MARKET_STREAM_TICKERS required when MARKET_STREAM_URL is set")
	}

	// Ingest secrets optional in dev mode; production without either scheme
	// accepts unauthenticated senders, which is only acceptable behind a
	// trusted proxy, so warn-level enforcement happens at startup, not here.

	if c.Backup.Enabled {
		if c.Backup.Bucket == "" {
			return fmt.Errorf("BACKUP_S3_BUCKET required when backups are enabled")
		}
		if c.Backup.AccessKeyID == "" || c.Backup.SecretAccessKey == "" {
			return fmt.Errorf("S3 credentials required when backups are enabled")
		}
	}

	return nil
}

// AuthConfigured reports whether at least one boundary auth scheme is set
func (c *IngestConfig) AuthConfigured() bool {
	return c.HMACSecret != "" || c.BearerToken != ""
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvAsList splits a comma-separated value, trimming and uppercasing
// each element and dropping empties.
func getEnvAsList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if p := strings.ToUpper(strings.TrimSpace(part)); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
