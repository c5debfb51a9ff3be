package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	Port                    string
	Env                     string
	AllowedOrigin           string
	DatabaseURL             string
	RedisAddr               string
	RedisPassword           string
	RedisDB                 int
	ReceiptCacheTTLSeconds  int
	AuthSecret              string
	AccessTokenTTLMinutes   int
	ManagerPIN              string
	KafkaBrokers            []string
	KafkaTopic              string
	JaegerEndpoint          string
	InstallmentIntervalDays int
}

// Load reads the environment, after merging a .env file if one is present.
// Variables already set in the environment win over the file.
func Load() Config {
	_ = godotenv.Load()

	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))

	cfg := Config{
		Port:                    getEnv("PORT", "8080"),
		Env:                     getEnv("APP_ENV", "development"),
		AllowedOrigin:           getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:             os.Getenv("DATABASE_URL"),
		RedisAddr:               os.Getenv("REDIS_ADDR"),
		RedisPassword:           os.Getenv("REDIS_PASSWORD"),
		RedisDB:                 redisDB,
		ReceiptCacheTTLSeconds:  positiveInt("RECEIPT_CACHE_TTL_SECONDS", 86400),
		AuthSecret:              strings.TrimSpace(os.Getenv("AUTH_TOKEN_SECRET")),
		AccessTokenTTLMinutes:   positiveInt("AUTH_TOKEN_TTL_MINUTES", 480),
		ManagerPIN:              strings.TrimSpace(os.Getenv("MANAGER_PIN")),
		KafkaBrokers:            splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:              getEnv("KAFKA_TOPIC", "caixa.events"),
		JaegerEndpoint:          strings.TrimSpace(os.Getenv("JAEGER_ENDPOINT")),
		InstallmentIntervalDays: positiveInt("INSTALLMENT_INTERVAL_DAYS", 30),
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func positiveInt(key string, fallback int) int {
	n, err := strconv.Atoi(getEnv(key, strconv.Itoa(fallback)))
	if err != nil || n < 1 {
		return fallback
	}
	return n
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
