package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// configEnv lists every variable Load reads, so tests start from a clean slate.
var configEnv = []string{
	"CONFIG_FILE", "PORT", "ENVIRONMENT", "LOG_LEVEL", "GCP_PROJECT",
	"SHOPEE_PARTNER_ID", "SHOPEE_PARTNER_KEY", "SHOPEE_BASE_URL",
	"SHOP_TOKENS", "TOKEN_SECRET_PREFIX", "BACKEND_URL", "REDIS_ADDR",
	"DATABASE_DRIVER", "DATABASE_PATH", "DATABASE_URL", "DOCUMENT_TYPE",
	"WEBHOOK_CALLBACK_URL", "GATEWAY_RATE_LIMIT", "ARCHIVE_DIR",
	"MINIO_ENDPOINT", "MINIO_ACCESS_KEY", "MINIO_SECRET_KEY", "MINIO_BUCKET", "MINIO_USE_SSL",
	"SCAN_PRE_DELAY", "SCAN_TRACKING_SETTLE", "SCAN_DOCUMENT_RELOAD_DELAY", "SCAN_INTERVAL", "NEGATIVE_CACHE_TTL",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range configEnv {
		t.Setenv(k, "")
	}
}

func TestLoadFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("ENVIRONMENT", "development")
	t.Setenv("SHOPEE_PARTNER_ID", "2001234")
	t.Setenv("SHOPEE_PARTNER_KEY", "secret")
	t.Setenv("PORT", "9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("SHOP_TOKENS", `{"100":"tok"}`)
	t.Setenv("SCAN_PRE_DELAY", "500ms")
	t.Setenv("NEGATIVE_CACHE_TTL", "10m")
	t.Setenv("GATEWAY_RATE_LIMIT", "2.5")

	cfg, err := Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Port != "9090" {
		t.Errorf("Port = %s, want 9090", cfg.Port)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %s, want debug", cfg.LogLevel)
	}
	if cfg.Shopee.PartnerID != 2001234 || cfg.Shopee.PartnerKey != "secret" {
		t.Errorf("Shopee = %+v", cfg.Shopee)
	}
	if cfg.Shopee.RateLimit != 2.5 {
		t.Errorf("RateLimit = %v, want 2.5", cfg.Shopee.RateLimit)
	}
	if cfg.ShopTokens != `{"100":"tok"}` {
		t.Errorf("ShopTokens = %s", cfg.ShopTokens)
	}

	// Explicit and default scan tunables
	if cfg.Scan.PreDelay != 500*time.Millisecond {
		t.Errorf("PreDelay = %v, want 500ms", cfg.Scan.PreDelay)
	}
	if cfg.Scan.TrackingSettle != DefaultTrackingSettle {
		t.Errorf("TrackingSettle = %v, want %v", cfg.Scan.TrackingSettle, DefaultTrackingSettle)
	}
	if cfg.Scan.DocumentReloadDelay != DefaultDocumentReloadDelay {
		t.Errorf("DocumentReloadDelay = %v", cfg.Scan.DocumentReloadDelay)
	}
	if cfg.Scan.NegativeTTL != 10*time.Minute {
		t.Errorf("NegativeTTL = %v, want 10m", cfg.Scan.NegativeTTL)
	}
	if cfg.Scan.Interval != 0 {
		t.Errorf("Interval = %v, want 0", cfg.Scan.Interval)
	}

	if cfg.DocumentType != DefaultDocumentType {
		t.Errorf("DocumentType = %s", cfg.DocumentType)
	}
	if cfg.Database.Driver != "sqlite" || cfg.Database.Path != "bookings.db" {
		t.Errorf("Database = %+v", cfg.Database)
	}
	if cfg.UseSecretTokens() {
		t.Error("UseSecretTokens() = true in development")
	}
}

func TestLoadMissingRequiredFields(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(t *testing.T)
		wantErr string
	}{
		{
			name: "missing partner id",
			setup: func(t *testing.T) {
				t.Setenv("SHOPEE_PARTNER_KEY", "secret")
			},
			wantErr: "partner_id is required",
		},
		{
			name: "missing partner key",
			setup: func(t *testing.T) {
				t.Setenv("SHOPEE_PARTNER_ID", "1")
			},
			wantErr: "partner_key is required",
		},
		{
			name: "bad partner id",
			setup: func(t *testing.T) {
				t.Setenv("SHOPEE_PARTNER_ID", "abc")
			},
			wantErr: "SHOPEE_PARTNER_ID",
		},
		{
			name: "bad duration",
			setup: func(t *testing.T) {
				t.Setenv("SHOPEE_PARTNER_ID", "1")
				t.Setenv("SHOPEE_PARTNER_KEY", "secret")
				t.Setenv("SCAN_TRACKING_SETTLE", "soon")
			},
			wantErr: "SCAN_TRACKING_SETTLE",
		},
		{
			name: "negative duration",
			setup: func(t *testing.T) {
				t.Setenv("SHOPEE_PARTNER_ID", "1")
				t.Setenv("SHOPEE_PARTNER_KEY", "secret")
				t.Setenv("SCAN_PRE_DELAY", "-1s")
			},
			wantErr: "must not be negative",
		},
		{
			name: "unsupported document type",
			setup: func(t *testing.T) {
				t.Setenv("SHOPEE_PARTNER_ID", "1")
				t.Setenv("SHOPEE_PARTNER_KEY", "secret")
				t.Setenv("DOCUMENT_TYPE", "POSTCARD")
			},
			wantErr: "unsupported document_type",
		},
		{
			name: "postgres without url",
			setup: func(t *testing.T) {
				t.Setenv("SHOPEE_PARTNER_ID", "1")
				t.Setenv("SHOPEE_PARTNER_KEY", "secret")
				t.Setenv("DATABASE_DRIVER", "postgres")
			},
			wantErr: "database url is required",
		},
		{
			name: "minio without bucket",
			setup: func(t *testing.T) {
				t.Setenv("SHOPEE_PARTNER_ID", "1")
				t.Setenv("SHOPEE_PARTNER_KEY", "secret")
				t.Setenv("MINIO_ENDPOINT", "localhost:9000")
			},
			wantErr: "minio_bucket is required",
		},
		{
			name: "production without project",
			setup: func(t *testing.T) {
				t.Setenv("ENVIRONMENT", "production")
			},
			wantErr: "GCP_PROJECT required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			tt.setup(t)

			_, err := Load(context.Background())
			if err == nil {
				t.Errorf("Expected error containing %q", tt.wantErr)
				return
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Error = %q, want containing %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestLoadRemoteBackendSkipsDatabase(t *testing.T) {
	clearEnv(t)
	t.Setenv("SHOPEE_PARTNER_ID", "1")
	t.Setenv("SHOPEE_PARTNER_KEY", "secret")
	t.Setenv("BACKEND_URL", "http://backend.internal")
	t.Setenv("DATABASE_DRIVER", "oracle")

	cfg, err := Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.BackendURL != "http://backend.internal" {
		t.Errorf("BackendURL = %s", cfg.BackendURL)
	}
}

func TestEnvOrDefault(t *testing.T) {
	t.Setenv("TEST_ENV_VAR", "custom")
	if got := envOrDefault("TEST_ENV_VAR", "default"); got != "custom" {
		t.Errorf("envOrDefault with set var = %q, want custom", got)
	}

	os.Unsetenv("TEST_ENV_VAR_UNSET")
	if got := envOrDefault("TEST_ENV_VAR_UNSET", "default"); got != "default" {
		t.Errorf("envOrDefault with unset var = %q, want default", got)
	}
}

func TestWithDefault(t *testing.T) {
	if got := withDefault("value", "default"); got != "value" {
		t.Errorf("withDefault(value, default) = %q, want value", got)
	}
	if got := withDefault("", "default"); got != "default" {
		t.Errorf("withDefault('', default) = %q, want default", got)
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{"", 7 * time.Second, false},
		{"0", 0, false},
		{"1m30s", 90 * time.Second, false},
		{"5", 0, true},
		{"-2s", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := parseDuration("x", tt.raw, 7*time.Second)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseDuration(%q) error = %v, wantErr %v", tt.raw, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("parseDuration(%q) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	clearEnv(t)
	content := `{
		"port": "9090",
		"environment": "test",
		"log_level": "debug",
		"shopee": {"partner_id": 2001234, "partner_key": "file-key"},
		"shop_tokens": {"100": "tok-a"},
		"database": {"driver": "sqlite", "path": "/tmp/bookings.db"},
		"document_type": "A4_PDF",
		"archive": {"minio_endpoint": "minio:9000", "minio_bucket": "waybills"},
		"scan": {"pre_delay": "0s", "tracking_settle": "250ms", "interval": "5m"}
	}`

	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)

	cfg, err := Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Port != "9090" {
		t.Errorf("Port = %s, want 9090", cfg.Port)
	}
	if cfg.Shopee.PartnerID != 2001234 || cfg.Shopee.PartnerKey != "file-key" {
		t.Errorf("Shopee = %+v", cfg.Shopee)
	}
	if cfg.Shopee.RateLimit != DefaultGatewayRateLimit {
		t.Errorf("RateLimit = %v, want default", cfg.Shopee.RateLimit)
	}
	if !strings.Contains(cfg.ShopTokens, `"100"`) {
		t.Errorf("ShopTokens = %s", cfg.ShopTokens)
	}
	if cfg.DocumentType != "A4_PDF" {
		t.Errorf("DocumentType = %s", cfg.DocumentType)
	}
	if cfg.Archive.MinIOBucket != "waybills" {
		t.Errorf("Archive = %+v", cfg.Archive)
	}
	if cfg.Scan.PreDelay != 0 {
		t.Errorf("PreDelay = %v, want 0", cfg.Scan.PreDelay)
	}
	if cfg.Scan.TrackingSettle != 250*time.Millisecond {
		t.Errorf("TrackingSettle = %v", cfg.Scan.TrackingSettle)
	}
	if cfg.Scan.DocumentReloadDelay != DefaultDocumentReloadDelay {
		t.Errorf("DocumentReloadDelay = %v", cfg.Scan.DocumentReloadDelay)
	}
	if cfg.Scan.Interval != 5*time.Minute {
		t.Errorf("Interval = %v", cfg.Scan.Interval)
	}
}

func TestLoadFromFileErrors(t *testing.T) {
	clearEnv(t)

	t.Run("file not found", func(t *testing.T) {
		t.Setenv("CONFIG_FILE", "/nonexistent/config.json")
		_, err := Load(context.Background())
		if err == nil {
			t.Error("expected error for nonexistent file")
		}
	})

	t.Run("invalid JSON", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.json")
		os.WriteFile(path, []byte("{invalid json"), 0o600)

		t.Setenv("CONFIG_FILE", path)
		_, err := Load(context.Background())
		if err == nil {
			t.Error("expected error for invalid JSON")
		}
	})

	t.Run("missing partner", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.json")
		os.WriteFile(path, []byte(`{"port": "8081"}`), 0o600)

		t.Setenv("CONFIG_FILE", path)
		_, err := Load(context.Background())
		if err == nil || !strings.Contains(err.Error(), "partner_id is required") {
			t.Errorf("expected partner_id error, got: %v", err)
		}
	})

	t.Run("bad scan duration", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.json")
		os.WriteFile(path, []byte(`{"shopee":{"partner_id":1,"partner_key":"k"},"scan":{"negative_ttl":"forever"}}`), 0o600)

		t.Setenv("CONFIG_FILE", path)
		_, err := Load(context.Background())
		if err == nil || !strings.Contains(err.Error(), "scan.negative_ttl") {
			t.Errorf("expected negative_ttl error, got: %v", err)
		}
	})
}
