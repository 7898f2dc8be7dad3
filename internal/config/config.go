package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	Port                     string
	AllowedOrigin            string
	DatabaseURL              string
	AutoMigrate              bool
	RedisAddr                string
	RedisPassword            string
	RedisDB                  int
	AnalyticsCacheTTLSeconds int
	AuthSecret               string
	AccessTokenTTLMinutes    int
	ManagerPIN               string
	LedgerMaxRetries         int
	ReportTimezone           string
	LowStockThreshold        int
	LogLevel                 string
	LogFormat                string
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present; real environment variables win.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		Port:                     getEnv("PORT", "8080"),
		AllowedOrigin:            getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:              os.Getenv("DATABASE_URL"),
		AutoMigrate:              getBool("DB_AUTO_MIGRATE", false),
		RedisAddr:                os.Getenv("REDIS_ADDR"),
		RedisPassword:            os.Getenv("REDIS_PASSWORD"),
		RedisDB:                  getInt("REDIS_DB", 0, 0),
		AnalyticsCacheTTLSeconds: getInt("ANALYTICS_CACHE_TTL_SECONDS", 60, 1),
		AuthSecret:               strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes:    getInt("ACCESS_TOKEN_TTL_MINUTES", 480, 1),
		ManagerPIN:               strings.TrimSpace(os.Getenv("MANAGER_PIN")),
		LedgerMaxRetries:         getInt("LEDGER_MAX_RETRIES", 3, 0),
		ReportTimezone:           getEnv("REPORT_TIMEZONE", "UTC"),
		LowStockThreshold:        getInt("LOW_STOCK_THRESHOLD", 10, 0),
		LogLevel:                 getEnv("LOG_LEVEL", "info"),
		LogFormat:                getEnv("LOG_FORMAT", "json"),
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

// getInt falls back when the value is missing, malformed or below min.
func getInt(key string, fallback int, min int) int {
	val, err := strconv.Atoi(getEnv(key, strconv.Itoa(fallback)))
	if err != nil || val < min {
		return fallback
	}
	return val
}

func getBool(key string, fallback bool) bool {
	val, err := strconv.ParseBool(getEnv(key, strconv.FormatBool(fallback)))
	if err != nil {
		return fallback
	}
	return val
}
