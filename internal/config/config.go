package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// セッションストアのバックエンド種別
const (
	SessionBackendRedis    = "redis"
	SessionBackendPostgres = "postgres"
)

// minJWTSecretLength はHS256の共有鍵として受け付ける最小バイト数。
const minJWTSecretLength = 32

// OAuthProviderConfig は外部IdP1つ分の設定。
type OAuthProviderConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// Enabled は3項目すべてが設定されているかを返す。
// 一部のみ設定されている場合もプロバイダーは無効とする。
func (c OAuthProviderConfig) Enabled() bool {
	return c.ClientID != "" && c.ClientSecret != "" && c.RedirectURL != ""
}

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL       string
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration

	// Session store
	RedisURL               string
	SessionBackend         string
	CustomerSessionTTL     time.Duration
	AdminSessionTTL        time.Duration
	SessionCleanupInterval time.Duration

	// Token
	JWTSecret string
	JWTKeyID  string
	JWTIssuer string
	TokenTTL  time.Duration

	// Password
	BcryptCost int

	// OAuth
	Google   OAuthProviderConfig
	Facebook OAuthProviderConfig

	// Redirect
	FrontendURL      string
	OAuthSuccessPath string
	OAuthFailurePath string

	// Rate Limit（1分あたりのリクエスト数）
	RateLimitGeneral int
	RateLimitLogin   int

	// Server
	ServerPort string
	BaseURL    string
	LogLevel   string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string

	// TrustedProxies はX-Forwarded-Forを信頼するプロキシ（カンマ区切りのCIDRまたはIP）。
	// 空の場合は転送ヘッダーを無視し、接続元アドレスでレート制限する。
	TrustedProxies string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}

	cfg.BaseURL = os.Getenv("BASE_URL")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	if len(cfg.JWTSecret) < minJWTSecretLength {
		return nil, fmt.Errorf("JWT_SECRET must be at least %d bytes", minJWTSecretLength)
	}

	// Optional fields with defaults
	cfg.DBMaxOpenConns = getEnvInt("DB_MAX_OPEN_CONNS", 25)
	cfg.DBMaxIdleConns = getEnvInt("DB_MAX_IDLE_CONNS", 5)
	cfg.DBConnMaxLifetime = getEnvDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute)

	cfg.RedisURL = os.Getenv("REDIS_URL")
	defaultBackend := SessionBackendPostgres
	if cfg.RedisURL != "" {
		defaultBackend = SessionBackendRedis
	}
	cfg.SessionBackend = strings.ToLower(getEnvString("SESSION_BACKEND", defaultBackend))
	switch cfg.SessionBackend {
	case SessionBackendRedis:
		if cfg.RedisURL == "" {
			return nil, fmt.Errorf("SESSION_BACKEND=redis requires REDIS_URL")
		}
	case SessionBackendPostgres:
	default:
		return nil, fmt.Errorf("unsupported SESSION_BACKEND: %q", cfg.SessionBackend)
	}

	cfg.CustomerSessionTTL = getEnvDuration("CUSTOMER_SESSION_TTL", 7*24*time.Hour)
	cfg.AdminSessionTTL = getEnvDuration("ADMIN_SESSION_TTL", 48*time.Hour)
	cfg.SessionCleanupInterval = getEnvDuration("SESSION_CLEANUP_INTERVAL", time.Hour)
	cfg.JWTKeyID = getEnvString("JWT_KEY_ID", "k1")
	cfg.JWTIssuer = getEnvString("JWT_ISSUER", "holaholidays")
	cfg.TokenTTL = getEnvDuration("TOKEN_TTL", 0)
	if err := validateDurations(cfg); err != nil {
		return nil, err
	}
	cfg.BcryptCost = getEnvInt("BCRYPT_COST", 10)

	cfg.Google = OAuthProviderConfig{
		ClientID:     os.Getenv("GOOGLE_CLIENT_ID"),
		ClientSecret: os.Getenv("GOOGLE_CLIENT_SECRET"),
		RedirectURL:  os.Getenv("GOOGLE_REDIRECT_URL"),
	}
	cfg.Facebook = OAuthProviderConfig{
		ClientID:     os.Getenv("FACEBOOK_CLIENT_ID"),
		ClientSecret: os.Getenv("FACEBOOK_CLIENT_SECRET"),
		RedirectURL:  os.Getenv("FACEBOOK_REDIRECT_URL"),
	}

	cfg.FrontendURL = strings.TrimSuffix(getEnvString("FRONTEND_URL", "http://localhost:3000"), "/")
	cfg.OAuthSuccessPath = getEnvString("OAUTH_SUCCESS_PATH", "/loading")
	cfg.OAuthFailurePath = getEnvString("OAUTH_FAILURE_PATH", "/customer-login")
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitLogin = getEnvInt("RATE_LIMIT_LOGIN", 10)
	cfg.ServerPort = getEnvString("SERVER_PORT", "5001")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")
	cfg.TrustedProxies = os.Getenv("TRUSTED_PROXIES")

	return cfg, nil
}

// validateDurations は期間設定の範囲を検証する。
// セッション期限が0以下だと発行直後に失効し、全ログインが失敗するため起動時に拒否する。
func validateDurations(cfg *Config) error {
	if cfg.CustomerSessionTTL <= 0 {
		return fmt.Errorf("CUSTOMER_SESSION_TTL must be positive, got %s", cfg.CustomerSessionTTL)
	}
	if cfg.AdminSessionTTL <= 0 {
		return fmt.Errorf("ADMIN_SESSION_TTL must be positive, got %s", cfg.AdminSessionTTL)
	}
	if cfg.SessionCleanupInterval <= 0 {
		return fmt.Errorf("SESSION_CLEANUP_INTERVAL must be positive, got %s", cfg.SessionCleanupInterval)
	}
	if cfg.TokenTTL < 0 {
		return fmt.Errorf("TOKEN_TTL must not be negative, got %s", cfg.TokenTTL)
	}
	return nil
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

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
