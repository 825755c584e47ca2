package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultEmailExportMaxBytes caps the admin email export.
const DefaultEmailExportMaxBytes = 5_000_000

// Config holds application configuration
type Config struct {
	// MariaDB接続設定 (アーカイブ用、DB_NAME 未設定なら無効)
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// サーバー設定
	ServerPort string
	Env        string
	StaticDir  string

	// CORS設定
	AllowedOrigins []string

	// 永続化ファイル
	MessagesFile    string
	PublicLogFile   string
	EmailLogFile    string
	FallbackDataDir string

	// 管理者設定
	AdminPassword       string
	AdminPasswordHash   string
	EmailExportMaxBytes int64

	WSWriteTimeout time.Duration
}

// Load loads configuration from environment variables
func Load() Config {
	serverPort := os.Getenv("SERVER_PORT")
	if serverPort == "" {
		serverPort = getEnv("PORT", "3000")
	}

	allowedOrigins := getEnv("ALLOWED_ORIGINS", "http://localhost:3000,http://127.0.0.1:3000")

	cfg := Config{
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "3306"),
		DBUser:     os.Getenv("DB_USER"),
		DBPassword: os.Getenv("DB_PASSWORD"),
		DBName:     os.Getenv("DB_NAME"),

		ServerPort: serverPort,
		Env:        getEnv("ENV", "development"),
		StaticDir:  os.Getenv("STATIC_DIR"),

		MessagesFile:    getEnv("MESSAGES_FILE", "data/messages.json"),
		PublicLogFile:   getEnv("LOG_FILE", "messages.log"),
		EmailLogFile:    getEnv("EMAIL_LOG_FILE", "emails.log"),
		FallbackDataDir: getEnv("DATA_FALLBACK_DIR", "data"),

		AdminPassword:       os.Getenv("ADMIN_PASSWORD"),
		AdminPasswordHash:   os.Getenv("ADMIN_PASSWORD_HASH"),
		EmailExportMaxBytes: DefaultEmailExportMaxBytes,

		WSWriteTimeout: 10 * time.Second,
	}

	for _, origin := range strings.Split(allowedOrigins, ",") {
		origin = strings.TrimSpace(origin)
		if origin != "" {
			cfg.AllowedOrigins = append(cfg.AllowedOrigins, origin)
		}
	}

	if v := os.Getenv("EMAIL_EXPORT_MAX_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cfg.EmailExportMaxBytes = n
		}
	}

	if v := os.Getenv("WS_WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.WSWriteTimeout = d
		}
	}

	return cfg
}

// IsDevelopment returns true if running in development mode.
func (c Config) IsDevelopment() bool {
	return c.Env == "development"
}

// ArchiveEnabled reports whether the MySQL archive mirror is configured.
func (c Config) ArchiveEnabled() bool {
	return c.DBName != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
