package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	StoreFile   = "file"
	StoreRedis  = "redis"
	StoreSQLite = "sqlite"
)

type Config struct {
	ListenPort      string        // ex: ":8080"
	ShutdownTimeout time.Duration // ex: 10s

	LogLevel  string // "debug" | "info" | "warn" | "error"
	PrettyLog bool   // true => zap dev (color), false => zap prod (JSON)

	// Polling
	PollInterval    time.Duration // interval between poll ticks (default: 15s)
	ProbeTimeout    time.Duration // timeout for a single status probe (default: 5s)
	PollConcurrency int           // max concurrent probes per tick, 0 = one task per server

	// Settings storage
	Store      string // "file" | "redis" | "sqlite"
	StoreFile  string // path to the settings document (.yaml/.yml => YAML)
	SQLitePath string // path to the sqlite database

	// Redis
	RedisKey              string        // key holding the settings document
	RedisAddr             string        // ex: "localhost:6379"
	RedisUser             string        // optional
	RedisPassword         string        // optional
	RedisPasswordRequired bool          // true => require password, false => allow empty password
	RedisDB               int           // Redis DB number
	RedisDT               time.Duration // Redis dial timeout (ex: 5s)
	RedisRT               time.Duration // Redis read timeout (ex: 3s)
	RedisWT               time.Duration // Redis write timeout (ex: 3s)
	RedisMaxWait          time.Duration // max wait between retries (ex: 10s)
	RedisPingTimeout      time.Duration // timeout for each ping attempt (ex: 5s)
	RedisPoolSize         int           // Redis connection pool size
	RedisConnectTimeout   time.Duration // Total time to retry connecting (ex: 30s)
	RedisRetryInterval    time.Duration // Initial wait between retries (ex: 2s, grows exponentially)
	RedisWarnThreshold    int           // warn after this many attempts

	// Delivery
	OneBotEndpoints map[string]string // bot account id => OneBot HTTP API base URL, empty = log only
	OneBotToken     string            // optional bearer token
	DeliveryTimeout time.Duration     // timeout for a single delivery (default: 5s)

	// On-demand queries
	QueryRatePerMin int // queries per minute per (bot, group)
	QueryBurst      int

	AllowedCIDRS []string // optional, restrict admin API access to specific IPs or ranges
	TrustProxy   bool     // true => trust X-Forwarded-For headers
}

func Load() *Config {
	cfg := &Config{
		// Server settings
		ListenPort:      getenv("MCWATCH_LISTEN_PORT", ":8080"),
		ShutdownTimeout: mustDuration("MCWATCH_SHUTDOWN_TIMEOUT", 10*time.Second),

		// Logging
		LogLevel:  getenv("MCWATCH_LOG_LEVEL", "info"),
		PrettyLog: mustBool("MCWATCH_PRETTY_LOG", true),

		// Polling
		PollInterval:    mustDuration("MCWATCH_POLL_INTERVAL", 15*time.Second),
		ProbeTimeout:    mustDuration("MCWATCH_PROBE_TIMEOUT", 5*time.Second),
		PollConcurrency: getenvInt("MCWATCH_POLL_CONCURRENCY", 0),

		// Storage
		Store:      strings.ToLower(getenv("MCWATCH_STORE", StoreFile)),
		StoreFile:  getenv("MCWATCH_STORE_FILE", "./mcQuery/config_data.json"),
		SQLitePath: getenv("MCWATCH_SQLITE_PATH", "./mcQuery/mcwatch.db"),

		// Delivery
		OneBotEndpoints: parseEndpoints(getenv("MCWATCH_ONEBOT_ENDPOINTS", "")),
		OneBotToken:     getenv("MCWATCH_ONEBOT_TOKEN", ""),
		DeliveryTimeout: mustDuration("MCWATCH_DELIVERY_TIMEOUT", 5*time.Second),

		QueryRatePerMin: getenvInt("MCWATCH_QUERY_RATE_PER_MIN", 6),
		QueryBurst:      getenvInt("MCWATCH_QUERY_BURST", 3),

		// Access restrictions
		AllowedCIDRS: parseAllowedIPs(getenv("MCWATCH_ALLOWED_CIDRS", "")),
		TrustProxy:   mustBool("MCWATCH_TRUST_PROXY", false),
	}

	switch cfg.Store {
	case StoreFile, StoreSQLite:
	case StoreRedis:
		loadRedis(cfg)
	default:
		panic(fmt.Sprintf("❌ FATAL: Unknown MCWATCH_STORE %q (want file, redis or sqlite)", cfg.Store))
	}

	// Log config only in debug mode with redacted sensitive fields
	if cfg.LogLevel == "debug" {
		cfgCopy := *cfg
		cfgCopy.RedisPassword = "***REDACTED***"
		if cfg.RedisUser != "" {
			cfgCopy.RedisUser = "***REDACTED***"
		}
		if cfg.OneBotToken != "" {
			cfgCopy.OneBotToken = "***REDACTED***"
		}
		log.Printf("[DEBUG] cfg: %+v\n", cfgCopy)
	}

	return cfg
}

// loadRedis reads the redis settings, which are only required for the redis store.
func loadRedis(cfg *Config) {
	cfg.RedisKey = getenv("MCWATCH_REDIS_KEY", "mcwatch:settings")
	cfg.RedisAddr = requireEnv("MCWATCH_REDIS_ADDR")
	cfg.RedisUser = getenv("MCWATCH_REDIS_USERNAME", "default")
	cfg.RedisPasswordRequired = mustBool("MCWATCH_REDIS_PASSWORD_REQUIRED", true)
	cfg.RedisPassword = getenv("MCWATCH_REDIS_PASSWORD", "")
	cfg.RedisDB = getenvInt("MCWATCH_REDIS_DB", 0)
	cfg.RedisDT = mustDuration("REDIS_DIAL_TIMEOUT", 5*time.Second)
	cfg.RedisRT = mustDuration("REDIS_READ_TIMEOUT", 3*time.Second)
	cfg.RedisWT = mustDuration("REDIS_WRITE_TIMEOUT", 3*time.Second)
	cfg.RedisMaxWait = mustDuration("REDIS_MAX_WAIT", 10*time.Second)
	cfg.RedisPingTimeout = mustDuration("REDIS_PING_TIMEOUT", 5*time.Second)
	cfg.RedisPoolSize = getenvInt("REDIS_POOL_SIZE", 10)
	cfg.RedisConnectTimeout = mustDuration("REDIS_CONNECT_TIMEOUT", 30*time.Second)
	cfg.RedisRetryInterval = mustDuration("REDIS_RETRY_INTERVAL", 2*time.Second)
	cfg.RedisWarnThreshold = getenvInt("REDIS_WARN_THRESHOLD", 3)

	if cfg.RedisPasswordRequired && cfg.RedisPassword == "" {
		panic("❌ FATAL: MCWATCH_REDIS_PASSWORD is required when MCWATCH_REDIS_PASSWORD_REQUIRED=true")
	}
}

// helpers
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func requireEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		panic(fmt.Sprintf("❌ FATAL: Required environment variable %s is not set", key))
	}
	return v
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func mustBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func mustDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return def
}

func parseAllowedIPs(allowed string) []string {
	if allowed == "" {
		return nil
	}
	ips := make([]string, 0, 4)
	for _, ip := range splitAndTrim(allowed) {
		if ip != "" {
			ips = append(ips, ip)
		}
	}
	return ips
}

// parseEndpoints reads "bot=url,bot2=url". Entries without "=" are skipped.
func parseEndpoints(s string) map[string]string {
	parts := splitAndTrim(s)
	if len(parts) == 0 {
		return nil
	}
	out := make(map[string]string, len(parts))
	for _, part := range parts {
		bot, url, ok := strings.Cut(part, "=")
		bot, url = strings.TrimSpace(bot), strings.TrimSpace(url)
		if !ok || bot == "" || url == "" {
			continue
		}
		out[bot] = url
	}
	return out
}

func splitAndTrim(s string) []string {
	if s == "" {
		return nil
	}
	raw := strings.Split(s, ",")
	parts := make([]string, 0, len(raw))
	for _, part := range raw {
		trimmed := strings.TrimSpace(part)
		// Remove surrounding quotes if present
		trimmed = strings.Trim(trimmed, `"'`)
		if trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
