package app

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aussiebroadwan/clubhouse/internal/club/service"
	"github.com/aussiebroadwan/clubhouse/internal/club/session"
	"github.com/aussiebroadwan/clubhouse/internal/club/upload"
	"github.com/aussiebroadwan/clubhouse/pkg/httpx"
	"github.com/joho/godotenv"
)

type Config struct {
	Env       string // Environment (dev, staging, prod) (default: dev)
	LogLevel  string // Log level (debug, info, warn, error) (default: info)
	LogFormat string // Log format (json, text) (default: json)
	Port      int    // HTTP server port (default: 8080)

	DatabaseFile string // Path to SQLite database file (default: ./clubhouse.db)
	PepperFile   string // Path to file containing the password pepper (default: ./pepper)
	SecretFile   string // Path to the key sealing TOTP secrets at rest (default: ./secret.key)
	SiteFile     string // Optional: YAML site content; built-in content when empty
	BaseURL      string // Absolute site URL used in emailed links (default: http://localhost:<port>)

	SessionCookieName  string
	SessionLifetime    time.Duration
	SessionRotateAfter time.Duration
	SessionSecure      bool   // Secure cookie flag (default: true outside dev)
	SessionStore       string // memory or redis (default: memory)
	RedisAddr          string
	RedisPassword      string
	RedisDB            int

	LoginMaxAttempts int
	LoginLockout     time.Duration
	ResetTokenTTL    time.Duration

	UploadStorage  string // local or minio (default: local)
	UploadDir      string
	UploadMaxBytes int64
	MinIOEndpoint  string
	MinIOAccessKey string
	MinIOSecretKey string
	MinIOBucket    string
	MinIOUseSSL    bool

	SMTPAddr     string // Optional: mail is printed to stdout when empty
	SMTPUsername string
	SMTPPassword string
	MailFrom     string

	ShutdownGracePeriod  time.Duration // Graceful shutdown timeout (default: 10s)
	HousekeepingInterval time.Duration // Housekeeping interval (default: 10m)
}

// LoadConfig reads the environment, after preloading a .env file from the
// working directory when one exists. Real environment variables win.
func LoadConfig() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	httpx.LoadRateLimitsFromEnv()

	env := getEnvOrDefault("ENV", "dev")
	port := getEnvIntOrDefault("PORT", 8080)

	cfg := Config{
		Env:       env,
		LogLevel:  getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat: getEnvOrDefault("LOG_FORMAT", "json"),
		Port:      port,

		DatabaseFile: getEnvOrDefault("CLUB_DATABASE_FILE", "clubhouse.db"),
		PepperFile:   getEnvOrDefault("CLUB_PEPPER_FILE", "pepper"),
		SecretFile:   getEnvOrDefault("CLUB_SECRET_KEY_FILE", "secret.key"),
		SiteFile:     os.Getenv("CLUB_SITE_FILE"),
		BaseURL:      strings.TrimRight(getEnvOrDefault("CLUB_BASE_URL", fmt.Sprintf("http://localhost:%d", port)), "/"),

		SessionCookieName:  getEnvOrDefault("SESSION_COOKIE_NAME", session.DefaultCookieName),
		SessionLifetime:    getEnvDurationOrDefault("SESSION_LIFETIME", session.DefaultLifetime),
		SessionRotateAfter: getEnvDurationOrDefault("SESSION_ROTATE_AFTER", session.DefaultRotateAfter),
		SessionSecure:      getEnvBoolOrDefault("SESSION_SECURE_COOKIE", env != "dev"),
		SessionStore:       getEnvOrDefault("SESSION_STORE", "memory"),
		RedisAddr:          getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
		RedisPassword:      os.Getenv("REDIS_PASSWORD"),
		RedisDB:            getEnvIntOrDefault("REDIS_DB", 0),

		LoginMaxAttempts: getEnvIntOrDefault("LOGIN_MAX_ATTEMPTS", service.DefaultMaxLoginAttempts),
		LoginLockout:     getEnvDurationOrDefault("LOGIN_LOCKOUT", service.DefaultLockout),
		ResetTokenTTL:    getEnvDurationOrDefault("RESET_TOKEN_TTL", service.DefaultResetTokenTTL),

		UploadStorage:  getEnvOrDefault("UPLOAD_STORAGE", "local"),
		UploadDir:      getEnvOrDefault("UPLOAD_DIR", "uploads"),
		UploadMaxBytes: int64(getEnvIntOrDefault("UPLOAD_MAX_BYTES", upload.DefaultMaxBytes)),
		MinIOEndpoint:  os.Getenv("MINIO_ENDPOINT"),
		MinIOAccessKey: os.Getenv("MINIO_ACCESS_KEY"),
		MinIOSecretKey: os.Getenv("MINIO_SECRET_KEY"),
		MinIOBucket:    getEnvOrDefault("MINIO_BUCKET", "clubhouse"),
		MinIOUseSSL:    getEnvBoolOrDefault("MINIO_USE_SSL", false),

		SMTPAddr:     os.Getenv("SMTP_ADDR"),
		SMTPUsername: os.Getenv("SMTP_USERNAME"),
		SMTPPassword: os.Getenv("SMTP_PASSWORD"),
		MailFrom:     getEnvOrDefault("MAIL_FROM", "no-reply@localhost"),

		ShutdownGracePeriod:  getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second),
		HousekeepingInterval: getEnvDurationOrDefault("HOUSEKEEPING_INTERVAL", 10*time.Minute),
	}

	return cfg, cfg.validate()
}

func (c Config) validate() error {
	switch c.SessionStore {
	case "memory", "redis":
	default:
		return fmt.Errorf("SESSION_STORE must be memory or redis, got %q", c.SessionStore)
	}
	switch c.UploadStorage {
	case "local":
	case "minio":
		if c.MinIOEndpoint == "" {
			return errors.New("MINIO_ENDPOINT is required when UPLOAD_STORAGE=minio")
		}
	default:
		return fmt.Errorf("UPLOAD_STORAGE must be local or minio, got %q", c.UploadStorage)
	}
	if c.Env != "dev" && !strings.HasPrefix(c.BaseURL, "https://") {
		return fmt.Errorf("CLUB_BASE_URL must use https outside dev, got %q", c.BaseURL)
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}

	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if b, err := strconv.ParseBool(value); err == nil {
		return b
	}

	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	// Try parsing as duration (e.g., "1h", "30m", "90s")
	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	// Try parsing as integer minutes
	if minutes, err := strconv.Atoi(value); err == nil {
		return time.Duration(minutes) * time.Minute
	}

	return defaultValue
}
