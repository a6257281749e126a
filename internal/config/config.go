// Package config handles loading and validation of service configuration.
// Supports both development (env vars) and production (Secret Manager) modes.
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
)

// Default tunables. The scan delays are empirical waits for eventual
// consistency on the platform and backend, not documented SLAs.
const (
	DefaultPort                = "8080"
	DefaultPreScanDelay        = 2 * time.Second
	DefaultTrackingSettle      = 3 * time.Second
	DefaultDocumentReloadDelay = 1 * time.Second
	DefaultDocumentType        = "THERMAL_AIR_WAYBILL"
	DefaultGatewayRateLimit    = 10.0
	DefaultPartnerSecret       = "shopee-partner"
)

// Config holds all service configuration.
// Environment determines whether partner credentials load from env vars
// (development) or Secret Manager (production).
type Config struct {
	// Server settings
	Port        string
	Environment string // "development" or "production"
	LogLevel    string // "debug", "info", "warn", "error"

	// GCP settings (required in production)
	GCPProject string

	// Partner credentials (loaded from secrets in production)
	Shopee ShopeeConfig

	// Shop tokens: SHOP_TOKENS JSON in development, Secret Manager with
	// TokenSecretPrefix in production.
	ShopTokens        string
	TokenSecretPrefix string

	// Durable booking store. When BackendURL is set the service talks to a
	// remote backend over HTTP instead of opening a database.
	Database   DatabaseConfig
	BackendURL string

	// RedisAddr enables the Redis negative cache when set.
	RedisAddr string

	Scan ScanConfig

	DocumentType string
	Archive      ArchiveConfig

	// WebhookCallbackURL is the URL registered with the platform; it is part
	// of the push signature.
	WebhookCallbackURL string
}

// ShopeeConfig contains partner-level API settings.
// In production, this is loaded from Secret Manager as JSON.
type ShopeeConfig struct {
	PartnerID  int64   `json:"partner_id"`
	PartnerKey string  `json:"partner_key"`
	BaseURL    string  `json:"base_url,omitempty"`
	RateLimit  float64 `json:"rate_limit,omitempty"`
}

// DatabaseConfig selects the SQL driver.
type DatabaseConfig struct {
	Driver string `json:"driver"` // "sqlite" or "postgres"
	Path   string `json:"path"`   // sqlite file
	URL    string `json:"url"`    // postgres DSN
}

// ScanConfig tunes the reconciliation backstop.
type ScanConfig struct {
	PreDelay            time.Duration
	TrackingSettle      time.Duration
	DocumentReloadDelay time.Duration
	Interval            time.Duration // 0 disables the periodic backstop
	NegativeTTL         time.Duration // 0 keeps failures for the whole session
}

// ArchiveConfig selects where downloaded documents are kept.
type ArchiveConfig struct {
	Dir            string `json:"dir,omitempty"`
	MinIOEndpoint  string `json:"minio_endpoint,omitempty"`
	MinIOAccessKey string `json:"minio_access_key,omitempty"`
	MinIOSecretKey string `json:"minio_secret_key,omitempty"`
	MinIOBucket    string `json:"minio_bucket,omitempty"`
	MinIOUseSSL    bool   `json:"minio_use_ssl,omitempty"`
}

// Load reads configuration from file, environment, or Secret Manager.
// Priority: CONFIG_FILE (if set) → ENV vars / Secret Manager.
// Validates all required fields and returns an error if any are missing.
func Load(ctx context.Context) (*Config, error) {
	if configPath := os.Getenv("CONFIG_FILE"); configPath != "" {
		return loadFromFile(configPath)
	}

	cfg := &Config{
		Port:               envOrDefault("PORT", DefaultPort),
		Environment:        envOrDefault("ENVIRONMENT", "development"),
		LogLevel:           envOrDefault("LOG_LEVEL", "info"),
		GCPProject:         os.Getenv("GCP_PROJECT"),
		ShopTokens:         os.Getenv("SHOP_TOKENS"),
		TokenSecretPrefix:  os.Getenv("TOKEN_SECRET_PREFIX"),
		BackendURL:         os.Getenv("BACKEND_URL"),
		RedisAddr:          os.Getenv("REDIS_ADDR"),
		DocumentType:       envOrDefault("DOCUMENT_TYPE", DefaultDocumentType),
		WebhookCallbackURL: os.Getenv("WEBHOOK_CALLBACK_URL"),
		Database: DatabaseConfig{
			Driver: envOrDefault("DATABASE_DRIVER", "sqlite"),
			Path:   envOrDefault("DATABASE_PATH", "bookings.db"),
			URL:    os.Getenv("DATABASE_URL"),
		},
		Archive: ArchiveConfig{
			Dir:            os.Getenv("ARCHIVE_DIR"),
			MinIOEndpoint:  os.Getenv("MINIO_ENDPOINT"),
			MinIOAccessKey: os.Getenv("MINIO_ACCESS_KEY"),
			MinIOSecretKey: os.Getenv("MINIO_SECRET_KEY"),
			MinIOBucket:    os.Getenv("MINIO_BUCKET"),
			MinIOUseSSL:    os.Getenv("MINIO_USE_SSL") == "true",
		},
	}

	var err error
	if cfg.Scan, err = scanFromEnv(); err != nil {
		return nil, err
	}

	if cfg.Environment == "production" {
		if cfg.GCPProject == "" {
			return nil, fmt.Errorf("GCP_PROJECT required in production environment")
		}
		err = cfg.loadFromSecretManager(ctx)
	} else {
		err = cfg.loadFromEnv()
	}
	if err != nil {
		return nil, fmt.Errorf("loading partner config: %w", err)
	}

	if cfg.Shopee.RateLimit == 0 {
		if cfg.Shopee.RateLimit, err = floatEnv("GATEWAY_RATE_LIMIT", DefaultGatewayRateLimit); err != nil {
			return nil, err
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFromFile reads all configuration from a JSON file.
// Used for local development to avoid multiple ENV vars.
func loadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var fileConfig struct {
		Port               string          `json:"port"`
		Environment        string          `json:"environment"`
		LogLevel           string          `json:"log_level"`
		GCPProject         string          `json:"gcp_project"`
		Shopee             ShopeeConfig    `json:"shopee"`
		ShopTokens         json.RawMessage `json:"shop_tokens"`
		TokenSecretPrefix  string          `json:"token_secret_prefix"`
		Database           DatabaseConfig  `json:"database"`
		BackendURL         string          `json:"backend_url"`
		RedisAddr          string          `json:"redis_addr"`
		DocumentType       string          `json:"document_type"`
		Archive            ArchiveConfig   `json:"archive"`
		WebhookCallbackURL string          `json:"webhook_callback_url"`
		Scan               struct {
			PreDelay            string `json:"pre_delay"`
			TrackingSettle      string `json:"tracking_settle"`
			DocumentReloadDelay string `json:"document_reload_delay"`
			Interval            string `json:"interval"`
			NegativeTTL         string `json:"negative_ttl"`
		} `json:"scan"`
	}

	if err := json.Unmarshal(data, &fileConfig); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg := &Config{
		Port:               withDefault(fileConfig.Port, DefaultPort),
		Environment:        withDefault(fileConfig.Environment, "development"),
		LogLevel:           withDefault(fileConfig.LogLevel, "info"),
		GCPProject:         fileConfig.GCPProject,
		Shopee:             fileConfig.Shopee,
		TokenSecretPrefix:  fileConfig.TokenSecretPrefix,
		Database:           fileConfig.Database,
		BackendURL:         fileConfig.BackendURL,
		RedisAddr:          fileConfig.RedisAddr,
		DocumentType:       withDefault(fileConfig.DocumentType, DefaultDocumentType),
		Archive:            fileConfig.Archive,
		WebhookCallbackURL: fileConfig.WebhookCallbackURL,
	}
	if len(fileConfig.ShopTokens) > 0 {
		cfg.ShopTokens = string(fileConfig.ShopTokens)
	}
	cfg.Database.Driver = withDefault(cfg.Database.Driver, "sqlite")
	cfg.Database.Path = withDefault(cfg.Database.Path, "bookings.db")
	if cfg.Shopee.RateLimit == 0 {
		cfg.Shopee.RateLimit = DefaultGatewayRateLimit
	}

	durations := []struct {
		name string
		raw  string
		def  time.Duration
		dst  *time.Duration
	}{
		{"scan.pre_delay", fileConfig.Scan.PreDelay, DefaultPreScanDelay, &cfg.Scan.PreDelay},
		{"scan.tracking_settle", fileConfig.Scan.TrackingSettle, DefaultTrackingSettle, &cfg.Scan.TrackingSettle},
		{"scan.document_reload_delay", fileConfig.Scan.DocumentReloadDelay, DefaultDocumentReloadDelay, &cfg.Scan.DocumentReloadDelay},
		{"scan.interval", fileConfig.Scan.Interval, 0, &cfg.Scan.Interval},
		{"scan.negative_ttl", fileConfig.Scan.NegativeTTL, 0, &cfg.Scan.NegativeTTL},
	}
	for _, d := range durations {
		v, err := parseDuration(d.name, d.raw, d.def)
		if err != nil {
			return nil, err
		}
		*d.dst = v
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// withDefault returns val if non-empty, otherwise defaultVal.
func withDefault(val, defaultVal string) string {
	if val != "" {
		return val
	}
	return defaultVal
}

// loadFromSecretManager fetches partner credentials from GCP Secret Manager.
// Secret name format: projects/{project}/secrets/{SHOPEE_PARTNER_SECRET}/versions/latest
func (c *Config) loadFromSecretManager(ctx context.Context) error {
	client, err := secretmanager.NewClient(ctx)
	if err != nil {
		return fmt.Errorf("creating secret manager client: %w", err)
	}
	defer client.Close()

	secretName := fmt.Sprintf("projects/%s/secrets/%s/versions/latest",
		c.GCPProject, envOrDefault("SHOPEE_PARTNER_SECRET", DefaultPartnerSecret))

	result, err := client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: secretName,
	})
	if err != nil {
		return fmt.Errorf("accessing secret %s: %w", secretName, err)
	}

	if err := json.Unmarshal(result.Payload.Data, &c.Shopee); err != nil {
		return fmt.Errorf("parsing secret JSON: %w", err)
	}

	return nil
}

// loadFromEnv reads partner credentials from individual environment variables.
// Used in development mode for local testing.
func (c *Config) loadFromEnv() error {
	c.Shopee = ShopeeConfig{
		PartnerKey: os.Getenv("SHOPEE_PARTNER_KEY"),
		BaseURL:    os.Getenv("SHOPEE_BASE_URL"),
	}

	if raw := os.Getenv("SHOPEE_PARTNER_ID"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("parsing SHOPEE_PARTNER_ID: %w", err)
		}
		c.Shopee.PartnerID = id
	}

	return nil
}

// scanFromEnv reads the SCAN_* and NEGATIVE_CACHE_TTL durations.
func scanFromEnv() (ScanConfig, error) {
	var sc ScanConfig
	fields := []struct {
		key string
		def time.Duration
		dst *time.Duration
	}{
		{"SCAN_PRE_DELAY", DefaultPreScanDelay, &sc.PreDelay},
		{"SCAN_TRACKING_SETTLE", DefaultTrackingSettle, &sc.TrackingSettle},
		{"SCAN_DOCUMENT_RELOAD_DELAY", DefaultDocumentReloadDelay, &sc.DocumentReloadDelay},
		{"SCAN_INTERVAL", 0, &sc.Interval},
		{"NEGATIVE_CACHE_TTL", 0, &sc.NegativeTTL},
	}
	for _, f := range fields {
		v, err := parseDuration(f.key, os.Getenv(f.key), f.def)
		if err != nil {
			return ScanConfig{}, err
		}
		*f.dst = v
	}
	return sc, nil
}

// parseDuration parses a Go duration string, returning def when raw is empty.
func parseDuration(name, raw string, def time.Duration) (time.Duration, error) {
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid %s: must not be negative", name)
	}
	return d, nil
}

// floatEnv parses a float environment variable.
func floatEnv(key string, def float64) (float64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", key, err)
	}
	return v, nil
}

// validate checks that all required configuration fields are present.
func (c *Config) validate() error {
	if c.Shopee.PartnerID == 0 {
		return fmt.Errorf("partner_id is required")
	}
	if c.Shopee.PartnerKey == "" {
		return fmt.Errorf("partner_key is required")
	}
	if c.Shopee.BaseURL != "" {
		if _, err := url.Parse(c.Shopee.BaseURL); err != nil {
			return fmt.Errorf("invalid base_url: %w", err)
		}
	}
	if c.Shopee.RateLimit < 0 {
		return fmt.Errorf("rate_limit must not be negative")
	}

	switch c.DocumentType {
	case "THERMAL_AIR_WAYBILL", "NORMAL_AIR_WAYBILL", "A4_PDF":
	default:
		return fmt.Errorf("unsupported document_type %q", c.DocumentType)
	}

	if c.BackendURL != "" {
		if _, err := url.Parse(c.BackendURL); err != nil {
			return fmt.Errorf("invalid backend_url: %w", err)
		}
	} else {
		switch c.Database.Driver {
		case "sqlite":
			if c.Database.Path == "" {
				return fmt.Errorf("database path is required for sqlite")
			}
		case "postgres", "pgx":
			if c.Database.URL == "" {
				return fmt.Errorf("database url is required for postgres")
			}
		default:
			return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
		}
	}

	if c.Archive.MinIOEndpoint != "" && c.Archive.MinIOBucket == "" {
		return fmt.Errorf("minio_bucket is required when minio_endpoint is set")
	}

	return nil
}

// UseSecretTokens reports whether shop tokens come from Secret Manager.
func (c *Config) UseSecretTokens() bool {
	return c.Environment == "production" && strings.TrimSpace(c.ShopTokens) == ""
}

// envOrDefault returns the environment variable value or the default if not set.
func envOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
