package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ServerPort      string
	FirebaseProject string
	Environment     string

	ServiceAccountJSON string
	ServiceAccountPath string
	StorageBucket      string

	// StoreBackend is "firestore" or "memory".
	StoreBackend string
	// RemoteTimeout bounds every round-trip to the remote store.
	RemoteTimeout time.Duration

	DeletionWindow     time.Duration
	NoveltyMaxAge      time.Duration
	OfferTTL           time.Duration
	OfferSweepInterval time.Duration

	// WatermarkStore is "firestore" or "redis".
	WatermarkStore string
	RedisAddr      string
	RedisPassword  string
	RedisDB        int

	KafkaBrokers    []string
	KafkaOfferTopic string

	PushEnabled bool

	// AllowedOrigins restricts CORS and websocket upgrades. Empty allows all.
	AllowedOrigins []string
}

func Load() (*Config, error) {
	godotenv.Load()

	config := &Config{
		ServerPort:         getEnv("SERVER_PORT", "8080"),
		FirebaseProject:    getEnv("FIREBASE_PROJECT_ID", ""),
		Environment:        getEnv("ENVIRONMENT", "development"),
		ServiceAccountJSON: getEnv("FIREBASE_SERVICE_ACCOUNT_JSON", ""),
		ServiceAccountPath: getEnv("FIREBASE_SERVICE_ACCOUNT_PATH", ""),
		StorageBucket:      getEnv("STORAGE_BUCKET", ""),
		StoreBackend:       getEnv("STORE_BACKEND", "firestore"),
		RemoteTimeout:      getEnvAsDuration("REMOTE_TIMEOUT", 10*time.Second),
		DeletionWindow:     getEnvAsDuration("DELETION_WINDOW", 7*24*time.Hour),
		NoveltyMaxAge:      getEnvAsDuration("NOVELTY_MAX_AGE", 0),
		OfferTTL:           getEnvAsDuration("OFFER_TTL", 0),
		OfferSweepInterval: getEnvAsDuration("OFFER_SWEEP_INTERVAL", 5*time.Minute),
		WatermarkStore:     getEnv("WATERMARK_STORE", "firestore"),
		RedisAddr:          getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:      getEnv("REDIS_PASSWORD", ""),
		RedisDB:            int(getEnvAsInt64("REDIS_DB", 0)),
		KafkaBrokers:       getEnvAsList("KAFKA_BROKERS"),
		KafkaOfferTopic:    getEnv("KAFKA_OFFER_TOPIC", "offer-events"),
		PushEnabled:        getEnvAsBool("PUSH_ENABLED", true),
		AllowedOrigins:     getEnvAsList("ALLOWED_ORIGINS"),
	}

	return config, nil
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value, exists := os.LookupEnv(key); exists {
		intValue, err := strconv.ParseInt(value, 10, 64)
		if err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		b, err := strconv.ParseBool(value)
		if err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		d, err := time.ParseDuration(value)
		if err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvAsList(key string) []string {
	value, exists := os.LookupEnv(key)
	if !exists || strings.TrimSpace(value) == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
