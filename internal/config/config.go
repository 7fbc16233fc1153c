package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Common contains store parameters shared by every service.
type Common struct {
	ElasticsearchAddr string
	DisclosuresIndex  string
	ExecutionsIndex   string
}

// Collector holds configuration for the Kafka-triggered harvest worker.
type Collector struct {
	Common
	KafkaBrokers   []string
	KafkaTopic     string
	KafkaConsumer  string
	SourceName     string
	SourceBaseURL  string
	SourceTimezone string
	FetchSpacing   time.Duration
	FetchRetries   int
	RedisAddrs     []string
	RedisPassword  string
	SeenCapacity   int
	SeenTTL        time.Duration
}

// API describes HTTP-layer configuration.
type API struct {
	Common
	BindAddr       string
	SourceName     string
	SourceBaseURL  string
	SourceTimezone string
	FetchSpacing   time.Duration
	RedisAddrs     []string
	RedisPassword  string
	DefaultLimit   int
	MaxLimit       int
}

// Retention configures the execution-status eviction loop.
type Retention struct {
	Common
	Interval  time.Duration
	BatchSize int
}

func common() Common {
	return Common{
		ElasticsearchAddr: getEnv("ELASTICSEARCH_ADDR", "http://elasticsearch:9200"),
		DisclosuresIndex:  getEnv("DISCLOSURES_INDEX", "disclosures"),
		ExecutionsIndex:   getEnv("EXECUTIONS_INDEX", "executions"),
	}
}

// LoadCollector builds a Collector config from environment variables.
func LoadCollector() (*Collector, error) {
	c := &Collector{
		Common:         common(),
		KafkaBrokers:   splitAndTrim(getEnv("KAFKA_BROKERS", "kafka:9092")),
		KafkaTopic:     getEnv("KAFKA_TOPIC", "collector_events"),
		KafkaConsumer:  getEnv("KAFKA_CONSUMER_GROUP", "disclosure-collector"),
		SourceName:     getEnv("SOURCE_NAME", "kind"),
		SourceBaseURL:  getEnv("SOURCE_BASE_URL", "http://source-gateway:8081"),
		SourceTimezone: getEnv("SOURCE_TIMEZONE", "Asia/Seoul"),
		FetchSpacing:   getDuration("FETCH_SPACING", "1s"),
		FetchRetries:   getInt("FETCH_RETRIES", 3),
		RedisAddrs:     splitAndTrim(getEnv("REDIS_ADDRS", "redis:6379")),
		RedisPassword:  os.Getenv("REDIS_PASSWORD"),
		SeenCapacity:   getInt("SEEN_CAPACITY", 20000),
		SeenTTL:        getDuration("SEEN_TTL", "24h"),
	}

	if len(c.KafkaBrokers) == 0 {
		return nil, fmt.Errorf("KAFKA_BROKERS must contain at least one broker")
	}
	if len(c.RedisAddrs) == 0 {
		return nil, fmt.Errorf("REDIS_ADDRS must contain at least one address")
	}
	if c.SourceBaseURL == "" {
		return nil, fmt.Errorf("SOURCE_BASE_URL is required")
	}
	if c.FetchSpacing <= 0 {
		return nil, fmt.Errorf("FETCH_SPACING must be positive")
	}
	if c.FetchRetries < 0 {
		return nil, fmt.Errorf("FETCH_RETRIES cannot be negative")
	}
	if c.SeenCapacity <= 0 {
		return nil, fmt.Errorf("SEEN_CAPACITY must be positive")
	}

	return c, nil
}

// LoadAPI builds an API config from environment variables.
func LoadAPI() (*API, error) {
	c := &API{
		Common:         common(),
		BindAddr:       getEnv("API_BIND_ADDR", "0.0.0.0:8080"),
		SourceName:     getEnv("SOURCE_NAME", "kind"),
		SourceBaseURL:  getEnv("SOURCE_BASE_URL", "http://source-gateway:8081"),
		SourceTimezone: getEnv("SOURCE_TIMEZONE", "Asia/Seoul"),
		FetchSpacing:   getDuration("FETCH_SPACING", "1s"),
		RedisAddrs:     splitAndTrim(getEnv("REDIS_ADDRS", "redis:6379")),
		RedisPassword:  os.Getenv("REDIS_PASSWORD"),
		DefaultLimit:   getInt("API_PAGE_SIZE", 20),
		MaxLimit:       getInt("API_MAX_PAGE_SIZE", 100),
	}

	if c.DefaultLimit <= 0 {
		return nil, fmt.Errorf("API_PAGE_SIZE must be positive")
	}
	if c.MaxLimit <= 0 {
		return nil, fmt.Errorf("API_MAX_PAGE_SIZE must be positive")
	}
	if c.DefaultLimit > c.MaxLimit {
		return nil, fmt.Errorf("API_PAGE_SIZE cannot exceed API_MAX_PAGE_SIZE")
	}
	if len(c.RedisAddrs) == 0 {
		return nil, fmt.Errorf("REDIS_ADDRS must contain at least one address")
	}

	return c, nil
}

// LoadRetention builds a Retention config from environment variables.
func LoadRetention() (*Retention, error) {
	c := &Retention{
		Common:    common(),
		Interval:  getDuration("RETENTION_INTERVAL", "24h"),
		BatchSize: getInt("RETENTION_BATCH_SIZE", 500),
	}

	if c.Interval <= 0 {
		return nil, fmt.Errorf("RETENTION_INTERVAL must be positive")
	}
	if c.BatchSize <= 0 {
		return nil, fmt.Errorf("RETENTION_BATCH_SIZE must be positive")
	}

	return c, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return fallback
}

func getDuration(key, fallback string) time.Duration {
	raw := getEnv(key, fallback)
	d, err := time.ParseDuration(raw)
	if err != nil {
		fd, ferr := time.ParseDuration(fallback)
		if ferr != nil {
			panic(fmt.Sprintf("invalid fallback duration %q: %v", fallback, ferr))
		}
		return fd
	}
	return d
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
