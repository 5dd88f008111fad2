package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	DBUrl                string
	JWTSecret            string
	RedisURL             string
	RedisPassword        string
	Currency             string
	MinTopUpAmount       decimal.Decimal
	AllowNegativeBalance bool
	MaxActiveKeys        int
	TopUpRatePerMinute   int
	Port                 string
	Env                  string
	AllowedOrigins       []string
}

func LoadConfig() Config {
	godotenv.Load()

	minTopUp, err := decimal.NewFromString(getEnvDefault("MIN_TOPUP_AMOUNT", "1"))
	if err != nil || !minTopUp.IsPositive() {
		panic("MIN_TOPUP_AMOUNT must be a positive decimal")
	}

	allowNegative, err := strconv.ParseBool(getEnvDefault("ALLOW_NEGATIVE_BALANCE", "false"))
	if err != nil {
		panic("ALLOW_NEGATIVE_BALANCE must be a boolean")
	}

	return Config{
		DBUrl:                getEnv("DATABASE_URL"),
		JWTSecret:            getEnv("JWT_SECRET"),
		RedisURL:             getEnv("REDIS_URL"),
		RedisPassword:        getEnvDefault("REDIS_PASSWORD", ""),
		Currency:             strings.ToUpper(getEnvDefault("WALLET_CURRENCY", "USD")),
		MinTopUpAmount:       minTopUp,
		AllowNegativeBalance: allowNegative,
		MaxActiveKeys:        getEnvInt("MAX_ACTIVE_KEYS", 5),
		TopUpRatePerMinute:   getEnvInt("TOPUP_RATE_PER_MINUTE", 10),
		Port:                 getEnv("PORT"),
		Env:                  getEnvDefault("ENV", "development"),
		AllowedOrigins:       strings.Split(getEnv("ALLOWED_ORIGINS"), ","),
	}
}

func getEnv(key string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}

	panic(fmt.Sprintf("%s is required", key))
}

func getEnvDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		panic(fmt.Sprintf("%s must be a positive integer", key))
	}
	return n
}
