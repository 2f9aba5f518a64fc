package config

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	FeedBaseURL string
	FeedTimeout time.Duration

	NWSBaseURL   string
	NWSUserAgent string

	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Engine timing.
	PollInterval     time.Duration
	PlaybackInterval time.Duration
	SyncDebounce     time.Duration
	FlashDuration    time.Duration

	SnapshotCacheSize  int
	DefaultLayers      []string
	DefaultOpacity     float64
	ToleranceOverrides map[string]time.Duration

	// Feed update notifications.
	KafkaEnabled     bool
	KafkaBrokers     []string
	KafkaUpdateTopic string
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		FeedBaseURL:      strings.TrimSpace(sharedcfg.EnvOrDefault("FEED_BASE_URL", "http://localhost:8081")),
		NWSBaseURL:       sharedcfg.EnvOrDefault("NWS_BASE_URL", "https://api.weather.gov"),
		NWSUserAgent:     sharedcfg.EnvOrDefault("NWS_USER_AGENT", "storm-timeline-sync"),
		HTTPAddr:         sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:         sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:        sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout:  shutdownTimeout,
		DefaultLayers:    parseList(sharedcfg.EnvOrDefault("DEFAULT_LAYERS", "Radar")),
		KafkaEnabled:     sharedcfg.EnvOrDefault("KAFKA_ENABLED", "false") == "true",
		KafkaBrokers:     sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaUpdateTopic: sharedcfg.EnvOrDefault("KAFKA_UPDATE_TOPIC", "feed-updates"),
	}

	durations := []struct {
		key string
		def string
		dst *time.Duration
	}{
		{"FEED_TIMEOUT", "10s", &cfg.FeedTimeout},
		{"POLL_INTERVAL", "30s", &cfg.PollInterval},
		{"PLAYBACK_INTERVAL", "1s", &cfg.PlaybackInterval},
		{"SYNC_DEBOUNCE", "200ms", &cfg.SyncDebounce},
		{"FLASH_DURATION", "1s", &cfg.FlashDuration},
	}
	for _, d := range durations {
		v, err := parsePositiveDuration(d.key, d.def)
		if err != nil {
			return nil, err
		}
		*d.dst = v
	}

	cfg.SnapshotCacheSize, err = strconv.Atoi(sharedcfg.EnvOrDefault("SNAPSHOT_CACHE_SIZE", "256"))
	if err != nil || cfg.SnapshotCacheSize < 0 {
		return nil, errors.New("invalid SNAPSHOT_CACHE_SIZE")
	}

	cfg.DefaultOpacity, err = strconv.ParseFloat(sharedcfg.EnvOrDefault("DEFAULT_OPACITY", "0.75"), 64)
	if err != nil || cfg.DefaultOpacity < 0 || cfg.DefaultOpacity > 1 {
		return nil, errors.New("invalid DEFAULT_OPACITY: must be between 0 and 1")
	}

	cfg.ToleranceOverrides, err = parseTolerances(sharedcfg.EnvOrDefault("TOLERANCE_OVERRIDES", ""))
	if err != nil {
		return nil, err
	}

	if cfg.FeedBaseURL == "" {
		return nil, errors.New("FEED_BASE_URL is required")
	}
	if u, err := url.Parse(cfg.FeedBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid FEED_BASE_URL %q", cfg.FeedBaseURL)
	}
	if cfg.KafkaEnabled {
		if len(cfg.KafkaBrokers) == 0 {
			return nil, errors.New("KAFKA_BROKERS is required when KAFKA_ENABLED is true")
		}
		if cfg.KafkaUpdateTopic == "" {
			return nil, errors.New("KAFKA_UPDATE_TOPIC is required when KAFKA_ENABLED is true")
		}
	}

	return cfg, nil
}

func parsePositiveDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, def))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be a positive duration", key)
	}
	return d, nil
}

func parseList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseTolerances reads "Radar=5m,METAR=2h" into a per-product table.
func parseTolerances(s string) (map[string]time.Duration, error) {
	out := make(map[string]time.Duration)
	for _, entry := range parseList(s) {
		product, raw, ok := strings.Cut(entry, "=")
		product = strings.TrimSpace(product)
		if !ok || product == "" {
			return nil, fmt.Errorf("invalid TOLERANCE_OVERRIDES entry %q: want product=duration", entry)
		}
		d, err := time.ParseDuration(strings.TrimSpace(raw))
		if err != nil || d < 0 {
			return nil, fmt.Errorf("invalid TOLERANCE_OVERRIDES duration for %s", product)
		}
		out[product] = d
	}
	return out, nil
}
