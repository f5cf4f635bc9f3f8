package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Store backends.
const (
	StoreMemory    = "memory"
	StoreSQL       = "sql"
	StoreRedis     = "redis"
	StoreFirestore = "firestore"
)

// Lock backends.
const (
	LockNone  = "none"
	LockLocal = "local"
	LockRedis = "redis"
)

// Event sinks.
const (
	SinkLog       = "log"
	SinkRedis     = "redis"
	SinkRocketMQ  = "rocketmq"
	SinkWebsocket = "websocket"
)

type Config struct {
	ServiceName string
	HTTPPort    string
	LogLevel    string

	Ledger    Ledger
	Store     string
	Database  Database
	Redis     Redis
	Firestore Firestore
	Lock      Lock
	Events    Events
	RateLimit RateLimit
}

type Ledger struct {
	Namespace         string
	EnforcePollWindow bool
	MaxRetries        int
}

type Database struct {
	Driver   string
	DSN      string
	User     string
	Password string
	Host     string
	Port     string
	Name     string
	LogLevel string
}

type Redis struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

type Firestore struct {
	ProjectID       string
	CredentialsFile string
	Collection      string
}

type Lock struct {
	Backend string
	Expiry  time.Duration
}

type Events struct {
	Sinks          []string
	Queue          string
	Relay          bool
	RocketNameSrv  []string
	RocketTopic    string
	RocketGroup    string
	RocketRetries  int
	PublishTimeout time.Duration
}

type RateLimit struct {
	Enabled   bool
	UserRate  float64
	UserBurst int
}

// Load reads the configuration from the environment.
func Load() Config {
	return Config{
		ServiceName: getEnv("SERVICE_NAME", "poll-ledger"),
		HTTPPort:    getEnv("SERVER_PORT", "8090"),
		LogLevel:    strings.ToLower(getEnv("LOG_LEVEL", "info")),
		Ledger: Ledger{
			Namespace:         getEnv("LEDGER_NAMESPACE", "poll-ledger"),
			EnforcePollWindow: envBool("ENFORCE_POLL_WINDOW", false),
			MaxRetries:        envInt("MAX_RETRIES", 3),
		},
		Store: strings.ToLower(getEnv("STORE_BACKEND", StoreMemory)),
		Database: Database{
			Driver:   strings.ToLower(getEnv("DB_DRIVER", "mysql")),
			DSN:      os.Getenv("DB_DSN"),
			User:     getEnv("DB_USER", "voteuser"),
			Password: getEnv("DB_PASSWORD", "votepassword"),
			Host:     getEnv("DB_HOST", "mysql"),
			Port:     getEnv("DB_PORT", "3306"),
			Name:     getEnv("DB_NAME", "votingdb"),
			LogLevel: strings.ToLower(getEnv("DB_LOG_LEVEL", "warn")),
		},
		Redis: Redis{
			Addr:     getEnv("REDIS_ADDR", "localhost:16379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       envInt("REDIS_DB", 0),
			Prefix:   getEnv("REDIS_PREFIX", "ledger:"),
		},
		Firestore: Firestore{
			ProjectID:       os.Getenv("FIRESTORE_PROJECT_ID"),
			CredentialsFile: os.Getenv("FIRESTORE_CREDENTIALS_FILE"),
			Collection:      getEnv("FIRESTORE_COLLECTION", "ledger_records"),
		},
		Lock: Lock{
			Backend: strings.ToLower(getEnv("LOCK_BACKEND", LockNone)),
			Expiry:  envDuration("LOCK_EXPIRY", 5*time.Second),
		},
		Events: Events{
			Sinks:          envList("EVENT_SINKS", []string{SinkLog, SinkWebsocket}),
			Queue:          getEnv("EVENT_QUEUE", "ledger_events"),
			Relay:          envBool("EVENT_RELAY", false),
			RocketNameSrv:  envList("ROCKETMQ_NAMESRV_ADDR", []string{"localhost:9876"}),
			RocketTopic:    getEnv("ROCKETMQ_TOPIC", "ledger_events"),
			RocketGroup:    getEnv("ROCKETMQ_GROUP", "ledger_producer"),
			RocketRetries:  envInt("ROCKETMQ_RETRIES", 2),
			PublishTimeout: envDuration("EVENT_PUBLISH_TIMEOUT", 3*time.Second),
		},
		RateLimit: RateLimit{
			Enabled:   envBool("ENABLE_RATE_LIMIT", false),
			UserRate:  envFloat("USER_RATE_LIMIT", 10),
			UserBurst: envInt("USER_RATE_BURST", 20),
		},
	}
}

// HasSink reports whether name is one of the configured event sinks.
func (e Events) HasSink(name string) bool {
	for _, s := range e.Sinks {
		if s == name {
			return true
		}
	}
	return false
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return def
	}
	return v
}

func envFloat(key string, def float64) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(os.Getenv(key)), 64)
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func envDuration(key string, def time.Duration) time.Duration {
	v, err := time.ParseDuration(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return def
	}
	return v
}

func envList(key string, def []string) []string {
	raw, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.ToLower(strings.TrimSpace(part)); p != "" {
			out = append(out, p)
		}
	}
	return out
}
