package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ListenAddr string

	DBDriver          string // "sqlite" or "postgres"
	DBPath            string // sqlite file path
	DBDSN             string // postgres DSN, used when DBDriver=postgres
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration

	JWTSigningKey  string
	JWTIssuer      string
	AccessTokenTTL time.Duration

	UploadDir     string
	MaxUploadSize int64

	KYCValidity        time.Duration
	AutoApproveBelow   float64
	DedupeThreshold    float64
	ConsentTTL         time.Duration
	ResolveCacheTTL    time.Duration
	RedisAddr          string
	RedisPassword      string
	RedisDB            int
	TrustProxy         bool
	CORSAllowedOrigins []string

	PasswordMinLength int

	LogLevel  string
	LogFormat string

	HTTPReadTimeoutSec       int
	HTTPReadHeaderTimeoutSec int
	HTTPWriteTimeoutSec      int
	HTTPIdleTimeoutSec       int

	BootstrapAdminEmail    string
	BootstrapAdminPassword string

	NotifySender  string // "log" or "smtp"
	SMTPHost      string
	SMTPPort      int
	NotifyFrom    string
	NotifyBaseURL string
}

func Load() (Config, error) {
	// Optional .env for local development; real deployments set the
	// environment directly.
	_ = godotenv.Load()

	cfg := Config{
		ListenAddr:               env("LISTEN_ADDR", ":8080"),
		DBDriver:                 env("APP_DB_DRIVER", "sqlite"),
		DBPath:                   env("APP_DB_PATH", "./data/kyc.db"),
		DBDSN:                    env("APP_DB_DSN", ""),
		DBMaxOpenConns:           envInt("APP_DB_MAX_OPEN_CONNS", 4),
		DBMaxIdleConns:           envInt("APP_DB_MAX_IDLE_CONNS", 2),
		DBConnMaxLifetime:        time.Duration(envInt("APP_DB_CONN_MAX_LIFETIME_MIN", 30)) * time.Minute,
		JWTSigningKey:            env("JWT_SIGNING_KEY", ""),
		JWTIssuer:                env("JWT_ISSUER", "kycchain"),
		AccessTokenTTL:           time.Duration(envInt("ACCESS_TOKEN_EXPIRE_MINUTES", 30)) * time.Minute,
		UploadDir:                env("UPLOAD_DIR", "./uploads"),
		MaxUploadSize:            int64(envInt("MAX_UPLOAD_BYTES", 10<<20)),
		KYCValidity:              time.Duration(envInt("KYC_VALIDITY_DAYS", 365)) * 24 * time.Hour,
		AutoApproveBelow:         envFloat("AUTO_APPROVE_BELOW", 0.3),
		DedupeThreshold:          envFloat("FACE_DEDUPE_THRESHOLD", 0.85),
		ConsentTTL:               time.Duration(envInt("CONSENT_TTL_DAYS", 30)) * 24 * time.Hour,
		ResolveCacheTTL:          time.Duration(envInt("RESOLVE_CACHE_TTL_SEC", 300)) * time.Second,
		RedisAddr:                env("REDIS_ADDR", ""),
		RedisPassword:            env("REDIS_PASSWORD", ""),
		RedisDB:                  envInt("REDIS_DB", 0),
		TrustProxy:               envBool("TRUST_PROXY", false),
		CORSAllowedOrigins:       envList("CORS_ALLOWED_ORIGINS"),
		PasswordMinLength:        envInt("PASSWORD_MIN_LENGTH", 8),
		LogLevel:                 env("LOG_LEVEL", "info"),
		LogFormat:                env("LOG_FORMAT", "json"),
		HTTPReadTimeoutSec:       envInt("HTTP_READ_TIMEOUT_SEC", 30),
		HTTPReadHeaderTimeoutSec: envInt("HTTP_READ_HEADER_TIMEOUT_SEC", 10),
		HTTPWriteTimeoutSec:      envInt("HTTP_WRITE_TIMEOUT_SEC", 60),
		HTTPIdleTimeoutSec:       envInt("HTTP_IDLE_TIMEOUT_SEC", 120),
		BootstrapAdminEmail:      env("BOOTSTRAP_ADMIN_EMAIL", ""),
		BootstrapAdminPassword:   env("BOOTSTRAP_ADMIN_PASSWORD", ""),
		NotifySender:             env("NOTIFY_SENDER", "log"),
		SMTPHost:                 env("SMTP_HOST", ""),
		SMTPPort:                 envInt("SMTP_PORT", 587),
		NotifyFrom:               env("NOTIFY_FROM", ""),
		NotifyBaseURL:            env("NOTIFY_BASE_URL", ""),
	}

	if cfg.JWTSigningKey == "" {
		return Config{}, fmt.Errorf("JWT_SIGNING_KEY is required")
	}
	if len(cfg.JWTSigningKey) < 32 {
		return Config{}, fmt.Errorf("JWT_SIGNING_KEY must be at least 32 characters")
	}
	switch cfg.DBDriver {
	case "sqlite":
	case "postgres":
		if cfg.DBDSN == "" {
			return Config{}, fmt.Errorf("APP_DB_DSN is required when APP_DB_DRIVER=postgres")
		}
	default:
		return Config{}, fmt.Errorf("unsupported APP_DB_DRIVER %q", cfg.DBDriver)
	}
	if cfg.AutoApproveBelow < 0 || cfg.AutoApproveBelow > 1 {
		return Config{}, fmt.Errorf("AUTO_APPROVE_BELOW must be within [0,1]")
	}
	return cfg, nil
}

func env(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func envInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "on":
			return true
		case "0", "false", "no", "off":
			return false
		}
	}
	return def
}

func envList(key string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
