package config

import (
	"errors"
	"io/fs"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Provider struct {
	Kind  string
	URL   string
	Token string
}

type Config struct {
	Port        string
	DatabaseURL string
	SeedFile    string

	NoShowGrace     time.Duration
	NoShowInterval  time.Duration
	NoShowBatchSize int

	SLAScanInterval time.Duration

	EstimateHistoryDays int
	EstimateSampleLimit int
	EstimateCacheSize   int
	EstimateCacheTTL    time.Duration

	NotifPollInterval     time.Duration
	NotifBatchSize        int
	NotifChannelTimeout   time.Duration
	NotifChannels         []string
	NotifInApp            bool
	NotifLang             string
	NotifReminderPosition int
	PushProvider          Provider
	SMSProvider           Provider
	WebhookProvider       Provider

	RealtimePollInterval time.Duration
	RealtimeBatchSize    int
	RealtimeBuffer       int

	RateLimitPerMinute       int
	RateLimitBurst           int
	TenantRateLimitPerMinute int
	TenantRateLimitBurst     int

	// APITokens maps bearer tokens to the tenant they may act for.
	APITokens map[string]string
}

// Load reads the environment. Values from an env file (ENV_FILE, default
// .env) fill in keys the process environment does not set.
func Load() Config {
	loadEnvFile(envOr("ENV_FILE", ".env"))

	return Config{
		Port:        envOr("PORT", "8080"),
		DatabaseURL: os.Getenv("DB_DSN"),
		SeedFile:    os.Getenv("QUEUE_SEED_FILE"),

		NoShowGrace:     readDurationSeconds("NO_SHOW_GRACE_SECONDS", 300),
		NoShowInterval:  readDurationSeconds("NO_SHOW_SCAN_INTERVAL_SECONDS", 30),
		NoShowBatchSize: readInt("NO_SHOW_BATCH_SIZE", 100),

		SLAScanInterval: readDurationSeconds("SLA_SCAN_INTERVAL_SECONDS", 30),

		EstimateHistoryDays: readInt("ESTIMATE_HISTORY_DAYS", 30),
		EstimateSampleLimit: readInt("ESTIMATE_SAMPLE_LIMIT", 500),
		EstimateCacheSize:   readInt("ESTIMATE_CACHE_SIZE", 1024),
		EstimateCacheTTL:    readDurationSeconds("ESTIMATE_CACHE_TTL_SECONDS", 60),

		NotifPollInterval:     readDurationSeconds("NOTIF_POLL_SECONDS", 2),
		NotifBatchSize:        readInt("NOTIF_BATCH_SIZE", 50),
		NotifChannelTimeout:   readDurationSeconds("NOTIF_CHANNEL_TIMEOUT_SECONDS", 5),
		NotifChannels:         readList("NOTIF_CHANNELS"),
		NotifInApp:            readBool("NOTIF_IN_APP", true),
		NotifLang:             envOr("NOTIF_LANG", "en"),
		NotifReminderPosition: readInt("NOTIF_REMINDER_POSITION", 3),
		PushProvider:          readProvider("NOTIF_PUSH"),
		SMSProvider:           readProvider("NOTIF_SMS"),
		WebhookProvider:       readProvider("NOTIF_WEBHOOK"),

		RealtimePollInterval: readDurationSeconds("REALTIME_POLL_SECONDS", 1),
		RealtimeBatchSize:    readInt("REALTIME_BATCH_SIZE", 100),
		RealtimeBuffer:       readInt("REALTIME_CLIENT_BUFFER", 16),

		RateLimitPerMinute:       readInt("RATE_LIMIT_PER_MIN", 120),
		RateLimitBurst:           readInt("RATE_LIMIT_BURST", 30),
		TenantRateLimitPerMinute: readInt("TENANT_RATE_LIMIT_PER_MIN", 600),
		TenantRateLimitBurst:     readInt("TENANT_RATE_LIMIT_BURST", 120),

		APITokens: readTokens("API_TOKENS"),
	}
}

func loadEnvFile(path string) {
	if path == "" {
		return
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("env file %s error: %v", path, err)
	}
}

// readProvider reads <PREFIX>_PROVIDER, <PREFIX>_URL and <PREFIX>_TOKEN.
func readProvider(prefix string) Provider {
	return Provider{
		Kind:  strings.TrimSpace(os.Getenv(prefix + "_PROVIDER")),
		URL:   strings.TrimSpace(os.Getenv(prefix + "_URL")),
		Token: os.Getenv(prefix + "_TOKEN"),
	}
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func readList(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// readTokens parses "token:tenant,token:tenant". Malformed pairs are skipped.
func readTokens(key string) map[string]string {
	tokens := map[string]string{}
	for _, pair := range readList(key) {
		token, tenantID, ok := strings.Cut(pair, ":")
		token, tenantID = strings.TrimSpace(token), strings.TrimSpace(tenantID)
		if !ok || token == "" || tenantID == "" {
			log.Printf("config %s: skipping malformed token entry", key)
			continue
		}
		tokens[token] = tenantID
	}
	return tokens
}

func readDurationSeconds(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
}

func readInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func readBool(key string, fallback bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return value
}
