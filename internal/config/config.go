package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all recognized runtime options.
type Config struct {
	ListenAddr   string
	DatabasePath string
	NATSURL      string

	// Identity provider endpoints
	AuthServerURL string
	JWKSURL       string

	// Business-records collaborator (read-only)
	RecordsBaseURL string

	// Mail provider API
	GraphBaseURL string
	MailProvider string

	// Outbound subject tag, e.g. "AVL" -> "[AVL-42]"
	TagPrefix string

	BackfillLookback    time.Duration
	IncrementalLookback time.Duration
	MaxMessagesPerRun   int

	CacheTTL          time.Duration
	SLAWindow         time.Duration
	MaxDomainSearches int

	InternalDomains []string
	GenericDomains  []string
}

// Load reads configuration from the environment, optionally seeded by a
// .env file, and fills in defaults for anything unset.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		ListenAddr:     getEnv("LISTEN_ADDR", ":8080"),
		DatabasePath:   getEnv("DATABASE_PATH", "data/mailsync.db"),
		NATSURL:        getEnv("NATS_URL", "nats://localhost:4222"),
		AuthServerURL:  getEnv("AUTH_SERVER_URL", "http://localhost:3000"),
		JWKSURL:        getEnv("JWKS_URL", "http://localhost:3000/api/auth/jwks"),
		RecordsBaseURL: getEnv("RECORDS_BASE_URL", "http://localhost:9000"),
		GraphBaseURL:   getEnv("GRAPH_BASE_URL", "https://graph.microsoft.com/v1.0"),
		MailProvider:   getEnv("MAIL_PROVIDER", "microsoft"),
		TagPrefix:      getEnv("TAG_PREFIX", "AVL"),

		BackfillLookback:    getDuration("BACKFILL_LOOKBACK", 90*24*time.Hour),
		IncrementalLookback: getDuration("INCREMENTAL_LOOKBACK", 48*time.Hour),
		MaxMessagesPerRun:   getInt("MAX_MESSAGES_PER_RUN", 500),

		CacheTTL:          getDuration("CACHE_TTL", 5*time.Minute),
		SLAWindow:         getDuration("SLA_WINDOW", 24*time.Hour),
		MaxDomainSearches: getInt("MAX_DOMAIN_SEARCHES", 5),

		InternalDomains: getList("INTERNAL_DOMAINS", []string{"trioscs.com"}),
		GenericDomains: getList("GENERIC_DOMAINS", []string{
			"gmail.com", "googlemail.com", "yahoo.com", "hotmail.com",
			"outlook.com", "live.com", "aol.com", "icloud.com",
		}),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.ToLower(strings.TrimSpace(p)); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
