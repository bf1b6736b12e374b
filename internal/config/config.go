package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Environment variable names for the guard configuration surface.
const (
	EnvConfigPath      = "GUARD_CONFIG_PATH"
	EnvListenAddr      = "GUARD_LISTEN_ADDR"
	EnvMetricsAddr     = "GUARD_METRICS_ADDR"
	EnvEnvironment     = "GUARD_ENVIRONMENT"
	EnvMaxEntries      = "GUARD_BUFFER_MAX_ENTRIES"
	EnvMaxBytes        = "GUARD_BUFFER_MAX_BYTES"
	EnvFlushInterval   = "GUARD_FLUSH_INTERVAL_MS"
	EnvDecayInterval   = "GUARD_DECAY_INTERVAL_MS"
	EnvDecayFactor     = "GUARD_DECAY_FACTOR"
	EnvAbuseThreshold  = "GUARD_ABUSE_THRESHOLD"
	EnvStreamEndpoint  = "GUARD_STREAM_ENDPOINT"
	EnvStreamRetries   = "GUARD_STREAM_RETRIES"
	EnvStreamRetryBase = "GUARD_STREAM_RETRY_BASE_MS"
	EnvColumnEndpoint  = "GUARD_COLUMN_ENDPOINT"
	EnvColumnUser      = "GUARD_COLUMN_USER"
	EnvColumnPassword  = "GUARD_COLUMN_PASSWORD"
	EnvColumnTable     = "GUARD_COLUMN_TABLE"
	EnvColumnRetries   = "GUARD_COLUMN_RETRIES"
	EnvColumnChunkSize = "GUARD_COLUMN_CHUNK_SIZE"
	EnvRedisAddr       = "GUARD_REDIS_ADDR"
	EnvQuotaLimit      = "GUARD_QUOTA_LIMIT"
	EnvQuotaWindow     = "GUARD_QUOTA_WINDOW_MS"
	EnvBypassRules     = "GUARD_BYPASS_RULES"
)

// Default values applied when a setting is absent or unparsable.
const (
	DefaultListenAddr      = ":8080"
	DefaultMetricsAddr     = ":9090"
	DefaultEnvironment     = "development"
	DefaultMaxEntries      = 10000
	DefaultMaxBytes        = int64(8 << 20)
	DefaultFlushInterval   = 5 * time.Second
	DefaultDecayInterval   = 10 * time.Second
	DefaultDecayFactor     = 0.5
	DefaultAbuseThreshold  = 300
	DefaultStreamRetries   = 5
	DefaultStreamRetryBase = 500 * time.Millisecond
	DefaultColumnTable     = "request_log"
	DefaultColumnRetries   = 3
	DefaultColumnChunkSize = 500
	DefaultRedisAddr       = "localhost:6379"
	DefaultQuotaLimit      = 120
	DefaultQuotaWindow     = time.Minute
)

// RuleConfig describes one bypass rule before compilation.
type RuleConfig struct {
	// Pattern is the raw rule pattern.
	Pattern string `yaml:"pattern"`

	// Match is the match kind: exact, prefix, or pattern.
	Match string `yaml:"match"`

	// RateLimited marks a rule that matches but still consumes quota.
	RateLimited bool `yaml:"rateLimited"`
}

// Config is the immutable guard configuration, constructed once at
// startup and passed by reference to every component that needs it.
type Config struct {
	// ListenAddr is the guarded API listen address.
	ListenAddr string `yaml:"listenAddr"`

	// MetricsAddr is the metrics/health listen address.
	MetricsAddr string `yaml:"metricsAddr"`

	// Environment is the deployment tag propagated into telemetry labels.
	Environment string `yaml:"environment"`

	// MaxEntries is the log buffer entry cap.
	MaxEntries int `yaml:"maxEntries"`

	// MaxBytes is the log buffer approximate byte cap.
	MaxBytes int64 `yaml:"maxBytes"`

	// FlushInterval is the period of the flush worker.
	FlushInterval time.Duration `yaml:"flushInterval"`

	// DecayInterval is the abuse counter decay tick.
	DecayInterval time.Duration `yaml:"decayInterval"`

	// DecayFactor is the per-tick multiplier applied to idle counters.
	DecayFactor float64 `yaml:"decayFactor"`

	// AbuseThreshold is the counter value that fires a suspicious_rate event.
	AbuseThreshold int `yaml:"abuseThreshold"`

	// StreamEndpoint is the streaming-log sink push URL. Empty disables the sink.
	StreamEndpoint string `yaml:"streamEndpoint"`

	// StreamRetries is the streaming sink retry budget.
	StreamRetries int `yaml:"streamRetries"`

	// StreamRetryBase is the base delay for the streaming sink backoff.
	StreamRetryBase time.Duration `yaml:"streamRetryBase"`

	// ColumnEndpoint is the columnar sink base URL. Empty disables the sink.
	ColumnEndpoint string `yaml:"columnEndpoint"`

	// ColumnUser is the optional columnar sink basic-auth user.
	ColumnUser string `yaml:"columnUser"`

	// ColumnPassword is the optional columnar sink basic-auth password.
	ColumnPassword string `yaml:"columnPassword"`

	// ColumnTable is the columnar sink target table.
	ColumnTable string `yaml:"columnTable"`

	// ColumnRetries is the per-chunk columnar sink retry budget.
	ColumnRetries int `yaml:"columnRetries"`

	// ColumnChunkSize bounds the number of rows per columnar insert.
	ColumnChunkSize int `yaml:"columnChunkSize"`

	// RedisAddr is the distributed quota store address.
	RedisAddr string `yaml:"redisAddr"`

	// QuotaLimit is the number of requests allowed per quota window.
	QuotaLimit int `yaml:"quotaLimit"`

	// QuotaWindow is the quota window duration.
	QuotaWindow time.Duration `yaml:"quotaWindow"`

	// BypassRules are the routes exempt from quota consumption.
	BypassRules []RuleConfig `yaml:"bypassRules"`
}

// DefaultConfig returns a Config populated with the documented defaults.
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:      DefaultListenAddr,
		MetricsAddr:     DefaultMetricsAddr,
		Environment:     DefaultEnvironment,
		MaxEntries:      DefaultMaxEntries,
		MaxBytes:        DefaultMaxBytes,
		FlushInterval:   DefaultFlushInterval,
		DecayInterval:   DefaultDecayInterval,
		DecayFactor:     DefaultDecayFactor,
		AbuseThreshold:  DefaultAbuseThreshold,
		StreamRetries:   DefaultStreamRetries,
		StreamRetryBase: DefaultStreamRetryBase,
		ColumnTable:     DefaultColumnTable,
		ColumnRetries:   DefaultColumnRetries,
		ColumnChunkSize: DefaultColumnChunkSize,
		RedisAddr:       DefaultRedisAddr,
		QuotaLimit:      DefaultQuotaLimit,
		QuotaWindow:     DefaultQuotaWindow,
	}
}

// Load builds the configuration from defaults, the optional YAML file
// named by GUARD_CONFIG_PATH, and environment variable overrides, in
// that order.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	if path := os.Getenv(EnvConfigPath); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv(os.Getenv)
	cfg.sanitize()
	return cfg, nil
}

// sanitize falls back to defaults for values that parsed but cannot be
// used: non-positive capacities, thresholds and limits, and a decay
// factor outside (0, 1). A bad value never fails startup.
func (c *Config) sanitize() {
	if c.MaxEntries <= 0 {
		c.MaxEntries = DefaultMaxEntries
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = DefaultMaxBytes
	}
	if c.AbuseThreshold <= 0 {
		c.AbuseThreshold = DefaultAbuseThreshold
	}
	if c.DecayFactor <= 0 || c.DecayFactor >= 1 {
		c.DecayFactor = DefaultDecayFactor
	}
	if c.QuotaLimit <= 0 {
		c.QuotaLimit = DefaultQuotaLimit
	}
	if c.ColumnChunkSize <= 0 {
		c.ColumnChunkSize = DefaultColumnChunkSize
	}
}

// applyEnv overlays environment variables onto the configuration using
// the provided lookup function. Unparsable values keep the prior value.
func (c *Config) applyEnv(getenv func(string) string) {
	c.ListenAddr = envString(getenv, EnvListenAddr, c.ListenAddr)
	c.MetricsAddr = envString(getenv, EnvMetricsAddr, c.MetricsAddr)
	c.Environment = envString(getenv, EnvEnvironment, c.Environment)
	c.MaxEntries = envInt(getenv, EnvMaxEntries, c.MaxEntries)
	c.MaxBytes = envInt64(getenv, EnvMaxBytes, c.MaxBytes)
	c.FlushInterval = envMillis(getenv, EnvFlushInterval, c.FlushInterval)
	c.DecayInterval = envMillis(getenv, EnvDecayInterval, c.DecayInterval)
	c.DecayFactor = envFloat(getenv, EnvDecayFactor, c.DecayFactor)
	c.AbuseThreshold = envInt(getenv, EnvAbuseThreshold, c.AbuseThreshold)
	c.StreamEndpoint = envString(getenv, EnvStreamEndpoint, c.StreamEndpoint)
	c.StreamRetries = envInt(getenv, EnvStreamRetries, c.StreamRetries)
	c.StreamRetryBase = envMillis(getenv, EnvStreamRetryBase, c.StreamRetryBase)
	c.ColumnEndpoint = envString(getenv, EnvColumnEndpoint, c.ColumnEndpoint)
	c.ColumnUser = envString(getenv, EnvColumnUser, c.ColumnUser)
	c.ColumnPassword = envString(getenv, EnvColumnPassword, c.ColumnPassword)
	c.ColumnTable = envString(getenv, EnvColumnTable, c.ColumnTable)
	c.ColumnRetries = envInt(getenv, EnvColumnRetries, c.ColumnRetries)
	c.ColumnChunkSize = envInt(getenv, EnvColumnChunkSize, c.ColumnChunkSize)
	c.RedisAddr = envString(getenv, EnvRedisAddr, c.RedisAddr)
	c.QuotaLimit = envInt(getenv, EnvQuotaLimit, c.QuotaLimit)
	c.QuotaWindow = envMillis(getenv, EnvQuotaWindow, c.QuotaWindow)

	if rules := getenv(EnvBypassRules); rules != "" {
		c.BypassRules = parseRuleList(rules)
	}
}

// parseRuleList parses the compact bypass rule list format
// "kind:pattern,kind:pattern". Entries without a kind default to exact.
func parseRuleList(s string) []RuleConfig {
	parts := strings.Split(s, ",")
	rules := make([]RuleConfig, 0, len(parts))

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		kind := "exact"
		pattern := part
		if idx := strings.Index(part, ":"); idx >= 0 {
			switch strings.ToLower(part[:idx]) {
			case "exact", "prefix", "pattern":
				kind = strings.ToLower(part[:idx])
				pattern = part[idx+1:]
			}
		}

		rules = append(rules, RuleConfig{Pattern: pattern, Match: kind})
	}

	return rules
}

func envString(getenv func(string) string, key, fallback string) string {
	if v := getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(getenv func(string) string, key string, fallback int) int {
	v := getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envInt64(getenv func(string) string, key string, fallback int64) int64 {
	v := getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func envFloat(getenv func(string) string, key string, fallback float64) float64 {
	v := getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

// envMillis parses an integer millisecond value into a duration.
func envMillis(getenv func(string) string, key string, fallback time.Duration) time.Duration {
	v := getenv(key)
	if v == "" {
		return fallback
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil || ms <= 0 {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}
