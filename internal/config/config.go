package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config captures all runtime configuration derived from environment variables.
type Config struct {
	Port               string
	JWTSecret          string
	DBURL              string
	LogLevel           string
	NATSURL            string
	RedisAddr          string
	RedisTimeoutSecs   int
	RankingRefreshSecs int
	CORSAllowedOrigins []string
	AllowAdminReviews  bool
	ReadTimeoutSecs    int
	WriteTimeoutSecs   int
	IdleTimeoutSecs    int
	DBMaxConns         int
	DBMinConns         int
	DBMaxIdleSecs      int
	DBMaxLifeSecs      int
	DBConnTimeoutSecs  int
	DBStatementCache   int
	DBLockTimeoutMs    int
	DBQueryLogLevel    string
}

// Load reads configuration from environment variables, applying defaults and validation.
func Load() (Config, error) {
	cfg := Config{
		Port:               getEnv("PORT", "8080"),
		JWTSecret:          os.Getenv("JWT_SECRET"),
		DBURL:              os.Getenv("DB_URL"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		NATSURL:            os.Getenv("NATS_URL"),
		RedisAddr:          os.Getenv("REDIS_ADDR"),
		RedisTimeoutSecs:   getEnvInt("REDIS_TIMEOUT_SECS", 3),
		RankingRefreshSecs: getEnvInt("RANKING_REFRESH_SECS", 300),
		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		AllowAdminReviews:  getEnvBool("ALLOW_ADMIN_REVIEWS", false),
		ReadTimeoutSecs:    getEnvInt("SERVER_READ_TIMEOUT", 15),
		WriteTimeoutSecs:   getEnvInt("SERVER_WRITE_TIMEOUT", 15),
		IdleTimeoutSecs:    getEnvInt("SERVER_IDLE_TIMEOUT", 60),
		DBMaxConns:         getEnvInt("DB_MAX_CONNS", 20),
		DBMinConns:         getEnvInt("DB_MIN_CONNS", 2),
		DBMaxIdleSecs:      getEnvInt("DB_MAX_CONN_IDLE_SECS", 300),
		DBMaxLifeSecs:      getEnvInt("DB_MAX_CONN_LIFETIME_SECS", 3600),
		DBConnTimeoutSecs:  getEnvInt("DB_CONN_TIMEOUT_SECS", 10),
		DBStatementCache:   getEnvInt("DB_STATEMENT_CACHE_CAPACITY", 256),
		DBLockTimeoutMs:    getEnvInt("DB_LOCK_TIMEOUT_MS", 5000),
		DBQueryLogLevel:    getEnv("DB_QUERY_LOG_LEVEL", "none"),
	}

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.DBURL == "" {
		return Config{}, fmt.Errorf("DB_URL is required")
	}
	if cfg.RedisTimeoutSecs <= 0 {
		return Config{}, fmt.Errorf("REDIS_TIMEOUT_SECS must be positive")
	}
	if cfg.RankingRefreshSecs < 0 {
		return Config{}, fmt.Errorf("RANKING_REFRESH_SECS must be non-negative")
	}
	if cfg.DBMaxConns <= 0 {
		return Config{}, fmt.Errorf("DB_MAX_CONNS must be positive")
	}
	if cfg.DBMinConns < 0 {
		return Config{}, fmt.Errorf("DB_MIN_CONNS must be non-negative")
	}
	if cfg.DBMaxConns > 0 && cfg.DBMinConns > cfg.DBMaxConns {
		return Config{}, fmt.Errorf("DB_MIN_CONNS cannot exceed DB_MAX_CONNS")
	}
	if cfg.DBStatementCache < 0 {
		return Config{}, fmt.Errorf("DB_STATEMENT_CACHE_CAPACITY must be non-negative")
	}
	if cfg.DBLockTimeoutMs < 0 {
		return Config{}, fmt.Errorf("DB_LOCK_TIMEOUT_MS must be non-negative")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseBool(val); err == nil {
			return parsed
		}
	}
	return fallback
}

// getEnvList splits a comma-separated value, dropping blank entries.
func getEnvList(key string, fallback []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	out := make([]string, 0)
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
