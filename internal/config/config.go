package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ハンドオフストアのバックエンド種別
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendRedis    = "redis"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// HubSpot OAuth
	HubSpotClientID     string
	HubSpotClientSecret string
	HubSpotRedirectURL  string
	HubSpotScopes       []string
	HubSpotAuthURL      string
	HubSpotTokenURL     string

	// HubSpot CRM API
	HubSpotAPIBaseURL string
	HubSpotAppBaseURL string
	FetchPageSize     int

	// State
	StateSigningSecret string

	// Handoff
	HandoffBackend  string
	CredentialTTL   time.Duration
	DatabaseURL     string
	RedisURL        string
	CleanupInterval time.Duration

	// Timeouts
	ProviderTimeout time.Duration
	StoreTimeout    time.Duration

	// Rate Limit
	RateLimitPerMinute int

	// Security
	SSRFGuard bool
	// SanitizeNames が有効な場合、表示名からHTMLタグを除去しエスケープする。
	SanitizeNames bool

	// Server
	ServerPort string

	// CORS
	CORSAllowedOrigin string

	// Logging
	LogLevel string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.HubSpotClientID = os.Getenv("HUBSPOT_CLIENT_ID")
	if cfg.HubSpotClientID == "" {
		missing = append(missing, "HUBSPOT_CLIENT_ID")
	}

	cfg.HubSpotClientSecret = os.Getenv("HUBSPOT_CLIENT_SECRET")
	if cfg.HubSpotClientSecret == "" {
		missing = append(missing, "HUBSPOT_CLIENT_SECRET")
	}

	cfg.HubSpotRedirectURL = os.Getenv("HUBSPOT_REDIRECT_URL")
	if cfg.HubSpotRedirectURL == "" {
		missing = append(missing, "HUBSPOT_REDIRECT_URL")
	}

	cfg.HandoffBackend = strings.ToLower(getEnvString("HANDOFF_BACKEND", BackendMemory))
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.RedisURL = os.Getenv("REDIS_URL")

	switch cfg.HandoffBackend {
	case BackendMemory:
	case BackendPostgres, BackendSQLite:
		if cfg.DatabaseURL == "" {
			missing = append(missing, "DATABASE_URL")
		}
	case BackendRedis:
		if cfg.RedisURL == "" {
			missing = append(missing, "REDIS_URL")
		}
	default:
		return nil, fmt.Errorf("unsupported HANDOFF_BACKEND: %q (memory, postgres, sqlite, redis)", cfg.HandoffBackend)
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.HubSpotScopes = getEnvList("HUBSPOT_SCOPES", nil)
	cfg.HubSpotAuthURL = getEnvString("HUBSPOT_AUTH_URL", "https://app.hubspot.com/oauth/authorize")
	cfg.HubSpotTokenURL = getEnvString("HUBSPOT_TOKEN_URL", "https://api.hubapi.com/oauth/v1/token")
	cfg.HubSpotAPIBaseURL = getEnvString("HUBSPOT_API_BASE_URL", "https://api.hubapi.com")
	cfg.HubSpotAppBaseURL = getEnvString("HUBSPOT_APP_BASE_URL", "https://app.hubspot.com")
	cfg.FetchPageSize = clamp(getEnvInt("FETCH_PAGE_SIZE", 100), 1, 100)
	cfg.StateSigningSecret = os.Getenv("STATE_SIGNING_SECRET")
	cfg.CredentialTTL = getEnvDuration("CREDENTIAL_TTL", 600*time.Second)
	cfg.CleanupInterval = getEnvDuration("CLEANUP_INTERVAL", 5*time.Minute)
	cfg.ProviderTimeout = getEnvDuration("PROVIDER_TIMEOUT", 10*time.Second)
	cfg.StoreTimeout = getEnvDuration("STORE_TIMEOUT", 3*time.Second)
	cfg.RateLimitPerMinute = getEnvInt("RATE_LIMIT_PER_MINUTE", 60)
	cfg.SSRFGuard = getEnvBool("SSRF_GUARD", true)
	cfg.SanitizeNames = getEnvBool("SANITIZE_NAMES", false)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8000")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}

// getEnvList はカンマまたは空白区切りの値をスライスとして返す。
func getEnvList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	fields := strings.FieldsFunc(v, func(r rune) bool {
		return r == ',' || r == ' '
	})
	if len(fields) == 0 {
		return defaultVal
	}
	return fields
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
