package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultAddr is the default TCP address the relay listens on.
	DefaultAddr = ":43180"
	// DefaultPingInterval controls the keepalive cadence for WebSocket connections.
	DefaultPingInterval = 30 * time.Second
	// DefaultMaxPayloadBytes limits inbound WebSocket frame size.
	DefaultMaxPayloadBytes int64 = 1 << 20
	// DefaultMaxClients bounds concurrent WebSocket connections. Zero disables the limit.
	DefaultMaxClients = 512

	// DefaultSweepInterval controls how often the lifecycle sweeper runs.
	DefaultSweepInterval = 5 * time.Minute
	// DefaultOfflineEvictAfter is how long an offline driver survives before eviction.
	DefaultOfflineEvictAfter = 10 * time.Minute

	// DefaultChatMaxMessages caps retained messages per driver conversation.
	DefaultChatMaxMessages = 200
	// DefaultChatMaxAge bounds how long chat messages are retained.
	DefaultChatMaxAge = 30 * 24 * time.Hour
	// DefaultChatMaxLength limits the size of a single chat message in characters.
	DefaultChatMaxLength = 1000
	// DefaultChatRateLimit caps messages per sender per minute. Zero disables the limit.
	DefaultChatRateLimit = 0

	// DefaultRouteTimeout bounds the route provider round trip before the fallback runs.
	DefaultRouteTimeout = 5 * time.Second
	// DefaultRouteRequestWindow bounds how frequently the HTTP route endpoint may be hit.
	DefaultRouteRequestWindow = time.Minute
	// DefaultRouteRequestBurst sets how many HTTP route requests fit in one window.
	DefaultRouteRequestBurst = 30

	// DefaultJournalDir is where per-device day files are written. Empty disables journaling.
	DefaultJournalDir = ""
	// DefaultJournalMaxAgeDays controls how long archived journal files are kept.
	DefaultJournalMaxAgeDays = 30

	// DefaultLogLevel controls verbosity for relay logs.
	DefaultLogLevel = "info"
	// DefaultLogPath is where structured logs are written.
	DefaultLogPath = "relay.log"
	// DefaultLogMaxSizeMB caps the size of a single log file before rotation.
	DefaultLogMaxSizeMB = 100
	// DefaultLogMaxBackups limits retained rotated log files.
	DefaultLogMaxBackups = 10
	// DefaultLogMaxAgeDays controls how long rotated log files are kept on disk.
	DefaultLogMaxAgeDays = 7
	// DefaultLogCompress toggles gzip compression for rotated log files.
	DefaultLogCompress = true
)

// Config captures all runtime tunables for the relay service.
type Config struct {
	Address         string
	AllowedOrigins  []string
	MaxPayloadBytes int64
	PingInterval    time.Duration
	MaxClients      int
	TLSCertPath     string
	TLSKeyPath      string
	AuthToken       string

	SweepInterval     time.Duration
	OfflineEvictAfter time.Duration

	Chat    ChatConfig
	Route   RouteConfig
	Journal JournalConfig
	Logging LoggingConfig
}

// ChatConfig bounds chat retention and flood behaviour.
type ChatConfig struct {
	MaxMessages int
	MaxAge      time.Duration
	MaxLength   int
	RateLimit   int
}

// RouteConfig captures route provider tunables.
type RouteConfig struct {
	Timeout       time.Duration
	TollRatesPath string
	RequestWindow time.Duration
	RequestBurst  int
}

// JournalConfig controls the per-device file-log mirroring.
type JournalConfig struct {
	Dir        string
	Compress   bool
	MaxAgeDays int
}

// LoggingConfig captures structured logging configuration options.
type LoggingConfig struct {
	Level      string
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Load reads the relay configuration from environment variables, applying sane defaults
// and returning descriptive errors for invalid overrides.
func Load() (*Config, error) {
	cfg := &Config{
		Address:           getString("RELAY_ADDR", DefaultAddr),
		AllowedOrigins:    parseList(os.Getenv("RELAY_ALLOWED_ORIGINS")),
		MaxPayloadBytes:   DefaultMaxPayloadBytes,
		PingInterval:      DefaultPingInterval,
		MaxClients:        DefaultMaxClients,
		TLSCertPath:       strings.TrimSpace(os.Getenv("RELAY_TLS_CERT")),
		TLSKeyPath:        strings.TrimSpace(os.Getenv("RELAY_TLS_KEY")),
		AuthToken:         strings.TrimSpace(os.Getenv("RELAY_AUTH_TOKEN")),
		SweepInterval:     DefaultSweepInterval,
		OfflineEvictAfter: DefaultOfflineEvictAfter,
		Chat: ChatConfig{
			MaxMessages: DefaultChatMaxMessages,
			MaxAge:      DefaultChatMaxAge,
			MaxLength:   DefaultChatMaxLength,
			RateLimit:   DefaultChatRateLimit,
		},
		Route: RouteConfig{
			Timeout:       DefaultRouteTimeout,
			TollRatesPath: strings.TrimSpace(os.Getenv("RELAY_TOLL_RATES_PATH")),
			RequestWindow: DefaultRouteRequestWindow,
			RequestBurst:  DefaultRouteRequestBurst,
		},
		Journal: JournalConfig{
			Dir:        strings.TrimSpace(getString("RELAY_JOURNAL_DIR", DefaultJournalDir)),
			Compress:   false,
			MaxAgeDays: DefaultJournalMaxAgeDays,
		},
		Logging: LoggingConfig{
			Level:      strings.TrimSpace(getString("RELAY_LOG_LEVEL", DefaultLogLevel)),
			Path:       strings.TrimSpace(getString("RELAY_LOG_PATH", DefaultLogPath)),
			MaxSizeMB:  DefaultLogMaxSizeMB,
			MaxBackups: DefaultLogMaxBackups,
			MaxAgeDays: DefaultLogMaxAgeDays,
			Compress:   DefaultLogCompress,
		},
	}

	var problems []string

	if raw := strings.TrimSpace(os.Getenv("RELAY_MAX_PAYLOAD_BYTES")); raw != "" {
		value, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("RELAY_MAX_PAYLOAD_BYTES must be a positive integer, got %q", raw))
		} else {
			cfg.MaxPayloadBytes = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("RELAY_PING_INTERVAL")); raw != "" {
		duration, err := time.ParseDuration(raw)
		if err != nil || duration <= 0 {
			problems = append(problems, fmt.Sprintf("RELAY_PING_INTERVAL must be a positive duration, got %q", raw))
		} else {
			cfg.PingInterval = duration
		}
	}

	if raw := strings.TrimSpace(os.Getenv("RELAY_MAX_CLIENTS")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("RELAY_MAX_CLIENTS must be a non-negative integer, got %q", raw))
		} else {
			cfg.MaxClients = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("RELAY_SWEEP_INTERVAL")); raw != "" {
		duration, err := time.ParseDuration(raw)
		if err != nil || duration <= 0 {
			problems = append(problems, fmt.Sprintf("RELAY_SWEEP_INTERVAL must be a positive duration, got %q", raw))
		} else {
			cfg.SweepInterval = duration
		}
	}

	if raw := strings.TrimSpace(os.Getenv("RELAY_OFFLINE_EVICT_AFTER")); raw != "" {
		duration, err := time.ParseDuration(raw)
		if err != nil || duration <= 0 {
			problems = append(problems, fmt.Sprintf("RELAY_OFFLINE_EVICT_AFTER must be a positive duration, got %q", raw))
		} else {
			cfg.OfflineEvictAfter = duration
		}
	}

	if raw := strings.TrimSpace(os.Getenv("RELAY_CHAT_MAX_MESSAGES")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("RELAY_CHAT_MAX_MESSAGES must be a positive integer, got %q", raw))
		} else {
			cfg.Chat.MaxMessages = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("RELAY_CHAT_MAX_AGE")); raw != "" {
		duration, err := time.ParseDuration(raw)
		if err != nil || duration <= 0 {
			problems = append(problems, fmt.Sprintf("RELAY_CHAT_MAX_AGE must be a positive duration, got %q", raw))
		} else {
			cfg.Chat.MaxAge = duration
		}
	}

	if raw := strings.TrimSpace(os.Getenv("RELAY_CHAT_MAX_LENGTH")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("RELAY_CHAT_MAX_LENGTH must be a positive integer, got %q", raw))
		} else {
			cfg.Chat.MaxLength = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("RELAY_CHAT_RATE_LIMIT")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("RELAY_CHAT_RATE_LIMIT must be a non-negative integer, got %q", raw))
		} else {
			cfg.Chat.RateLimit = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("RELAY_ROUTE_TIMEOUT")); raw != "" {
		duration, err := time.ParseDuration(raw)
		if err != nil || duration <= 0 {
			problems = append(problems, fmt.Sprintf("RELAY_ROUTE_TIMEOUT must be a positive duration, got %q", raw))
		} else {
			cfg.Route.Timeout = duration
		}
	}

	if raw := strings.TrimSpace(os.Getenv("RELAY_ROUTE_REQUEST_WINDOW")); raw != "" {
		duration, err := time.ParseDuration(raw)
		if err != nil || duration <= 0 {
			problems = append(problems, fmt.Sprintf("RELAY_ROUTE_REQUEST_WINDOW must be a positive duration, got %q", raw))
		} else {
			cfg.Route.RequestWindow = duration
		}
	}

	if raw := strings.TrimSpace(os.Getenv("RELAY_ROUTE_REQUEST_BURST")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("RELAY_ROUTE_REQUEST_BURST must be a positive integer, got %q", raw))
		} else {
			cfg.Route.RequestBurst = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("RELAY_JOURNAL_COMPRESS")); raw != "" {
		value, err := strconv.ParseBool(raw)
		if err != nil {
			problems = append(problems, fmt.Sprintf("RELAY_JOURNAL_COMPRESS must be a boolean value, got %q", raw))
		} else {
			cfg.Journal.Compress = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("RELAY_JOURNAL_MAX_AGE_DAYS")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("RELAY_JOURNAL_MAX_AGE_DAYS must be a non-negative integer, got %q", raw))
		} else {
			cfg.Journal.MaxAgeDays = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("RELAY_LOG_MAX_SIZE_MB")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("RELAY_LOG_MAX_SIZE_MB must be a positive integer, got %q", raw))
		} else {
			cfg.Logging.MaxSizeMB = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("RELAY_LOG_MAX_BACKUPS")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("RELAY_LOG_MAX_BACKUPS must be a non-negative integer, got %q", raw))
		} else {
			cfg.Logging.MaxBackups = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("RELAY_LOG_MAX_AGE_DAYS")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("RELAY_LOG_MAX_AGE_DAYS must be a non-negative integer, got %q", raw))
		} else {
			cfg.Logging.MaxAgeDays = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("RELAY_LOG_COMPRESS")); raw != "" {
		value, err := strconv.ParseBool(raw)
		if err != nil {
			problems = append(problems, fmt.Sprintf("RELAY_LOG_COMPRESS must be a boolean value, got %q", raw))
		} else {
			cfg.Logging.Compress = value
		}
	}

	if (cfg.TLSCertPath == "") != (cfg.TLSKeyPath == "") {
		problems = append(problems, "RELAY_TLS_CERT and RELAY_TLS_KEY must be provided together")
	}

	if len(problems) > 0 {
		return nil, fmt.Errorf("%s", strings.Join(problems, "; "))
	}

	return cfg, nil
}

func getString(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func parseList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		if item := strings.TrimSpace(part); item != "" {
			values = append(values, item)
		}
	}
	return values
}
