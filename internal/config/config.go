package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config carries settings for both binaries: the authoritative server and the
// cashier daemon. Each reads the subset it needs.
type Config struct {
	Port                  string
	AllowedOrigin         string
	DatabaseURL           string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	MenuTTLSeconds        int
	AuthSecret            string
	AccessTokenTTLMinutes int
	CutOffTime            string

	// Cashier daemon settings.
	ServerBaseURL       string
	KasirEmail          string
	KasirPassword       string
	KasirPort           string
	KasirDBPath         string
	SyncIntervalSeconds int
}

func Load() Config {
	// Missing .env is fine; containers inject real env vars directly.
	_ = godotenv.Load()

	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	menuTTL, err := strconv.Atoi(getEnv("MENU_TTL_SECONDS", "300"))
	if err != nil || menuTTL < 1 {
		menuTTL = 300
	}
	tokenTTL, err := strconv.Atoi(getEnv("ACCESS_TOKEN_TTL_MINUTES", "720"))
	if err != nil || tokenTTL < 1 {
		tokenTTL = 720
	}
	syncInterval, err := strconv.Atoi(getEnv("SYNC_INTERVAL_SECONDS", "30"))
	if err != nil || syncInterval < 1 {
		syncInterval = 30
	}

	return Config{
		Port:                  getEnv("PORT", "8080"),
		AllowedOrigin:         getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               redisDB,
		MenuTTLSeconds:        menuTTL,
		AuthSecret:            strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes: tokenTTL,
		CutOffTime:            getEnv("CUT_OFF_TIME", "22:00"),

		ServerBaseURL:       getEnv("SERVER_BASE_URL", "http://127.0.0.1:8080"),
		KasirEmail:          os.Getenv("KASIR_EMAIL"),
		KasirPassword:       os.Getenv("KASIR_PASSWORD"),
		KasirPort:           getEnv("KASIR_PORT", "8090"),
		KasirDBPath:         getEnv("KASIR_DB_PATH", "kasir.db"),
		SyncIntervalSeconds: syncInterval,
	}
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) KasirAddress() string {
	return fmt.Sprintf(":%s", c.KasirPort)
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}
