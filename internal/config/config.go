package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/efreitasn/spotexchange/internal/domain"
)

// Config holds all runtime configuration for the exchange.
type Config struct {
	Port     int
	LogLevel string

	Instruments    []string
	DatabasePath   string
	CacheDir       string
	IdempotencyTTL time.Duration

	QueueSize        int
	BroadcastLevels  int
	SnapshotInterval time.Duration
	SnapshotLevels   int

	KafkaBrokers     []string
	KafkaTopicPrefix string

	RateLimit int

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// Load reads configuration from environment variables, applies defaults,
// and validates values. When CONFIG_FILE names a YAML file its values are
// used for every key the environment leaves unset. It returns an error for
// any invalid value.
func Load() (*Config, error) {
	l := &loader{}
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		file, err := readFile(path)
		if err != nil {
			return nil, fmt.Errorf("invalid CONFIG_FILE: %w", err)
		}
		l.file = file
	}

	port, err := l.getInt("PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("invalid PORT: %w", err)
	}
	if port < 1 || port > 65535 {
		return nil, fmt.Errorf("invalid PORT: %d out of range", port)
	}

	logLevel := l.getStr("LOG_LEVEL", "info")
	if !isValidLogLevel(logLevel) {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %q, must be one of: debug, info, warn, error", logLevel)
	}

	instruments, err := parseInstruments(l.getList("INSTRUMENTS", []string{"BTC-USD"}))
	if err != nil {
		return nil, fmt.Errorf("invalid INSTRUMENTS: %w", err)
	}

	idempotencyTTL, err := l.getDuration("IDEMPOTENCY_TTL", time.Hour)
	if err != nil {
		return nil, fmt.Errorf("invalid IDEMPOTENCY_TTL: %w", err)
	}

	queueSize, err := l.getInt("QUEUE_SIZE", 1024)
	if err != nil || queueSize < 1 {
		return nil, fmt.Errorf("invalid QUEUE_SIZE: must be a positive integer")
	}

	broadcastLevels, err := l.getInt("BROADCAST_LEVELS", 10)
	if err != nil || broadcastLevels < 1 {
		return nil, fmt.Errorf("invalid BROADCAST_LEVELS: must be a positive integer")
	}

	snapshotInterval, err := l.getDuration("SNAPSHOT_INTERVAL", time.Minute)
	if err != nil {
		return nil, fmt.Errorf("invalid SNAPSHOT_INTERVAL: %w", err)
	}

	snapshotLevels, err := l.getInt("SNAPSHOT_LEVELS", 100)
	if err != nil || snapshotLevels < 1 {
		return nil, fmt.Errorf("invalid SNAPSHOT_LEVELS: must be a positive integer")
	}

	rateLimit, err := l.getInt("RATE_LIMIT", 0)
	if err != nil || rateLimit < 0 {
		return nil, fmt.Errorf("invalid RATE_LIMIT: must be a non-negative integer")
	}

	readTimeout, err := l.getDuration("READ_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid READ_TIMEOUT: %w", err)
	}

	writeTimeout, err := l.getDuration("WRITE_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid WRITE_TIMEOUT: %w", err)
	}

	idleTimeout, err := l.getDuration("IDLE_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid IDLE_TIMEOUT: %w", err)
	}

	shutdownTimeout, err := l.getDuration("SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid SHUTDOWN_TIMEOUT: %w", err)
	}

	return &Config{
		Port:             port,
		LogLevel:         logLevel,
		Instruments:      instruments,
		DatabasePath:     l.getStr("DATABASE_PATH", "exchange.db"),
		CacheDir:         l.getStr("CACHE_DIR", ""),
		IdempotencyTTL:   idempotencyTTL,
		QueueSize:        queueSize,
		BroadcastLevels:  broadcastLevels,
		SnapshotInterval: snapshotInterval,
		SnapshotLevels:   snapshotLevels,
		KafkaBrokers:     l.getList("KAFKA_BROKERS", nil),
		KafkaTopicPrefix: l.getStr("KAFKA_TOPIC_PREFIX", "exchange"),
		RateLimit:        rateLimit,
		ReadTimeout:      readTimeout,
		WriteTimeout:     writeTimeout,
		IdleTimeout:      idleTimeout,
		ShutdownTimeout:  shutdownTimeout,
	}, nil
}

// loader resolves a key from the environment first, then the config file.
type loader struct {
	file map[string]string
}

// readFile decodes a flat YAML mapping. Keys match the environment names,
// case-insensitively; list values are joined with commas.
func readFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	out := make(map[string]string, len(raw))
	for k, v := range raw {
		key := strings.ToUpper(k)
		switch val := v.(type) {
		case nil:
		case []any:
			parts := make([]string, len(val))
			for i, p := range val {
				parts[i] = fmt.Sprint(p)
			}
			out[key] = strings.Join(parts, ",")
		case map[string]any:
			return nil, fmt.Errorf("key %q: nested values are not supported", k)
		default:
			out[key] = fmt.Sprint(val)
		}
	}
	return out, nil
}

func (l *loader) lookup(key string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return l.file[key]
}

func (l *loader) getStr(key, defaultVal string) string {
	v := l.lookup(key)
	if v == "" {
		return defaultVal
	}
	return v
}

func (l *loader) getInt(key string, defaultVal int) (int, error) {
	v := l.lookup(key)
	if v == "" {
		return defaultVal, nil
	}
	return strconv.Atoi(v)
}

func (l *loader) getDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := l.lookup(key)
	if v == "" {
		return defaultVal, nil
	}
	return time.ParseDuration(v)
}

// getList splits a comma separated value, dropping empty items.
func (l *loader) getList(key string, defaultVal []string) []string {
	v := l.lookup(key)
	if v == "" {
		return defaultVal
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}

func parseInstruments(items []string) ([]string, error) {
	out := make([]string, 0, len(items))
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		instrument := domain.NormalizeInstrument(item)
		if !domain.ValidInstrument(instrument) {
			return nil, fmt.Errorf("%q must look like BTC-USD", item)
		}
		if seen[instrument] {
			continue
		}
		seen[instrument] = true
		out = append(out, instrument)
	}
	return out, nil
}

func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	}
	return false
}
