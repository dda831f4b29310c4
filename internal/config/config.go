// Package config loads the client's runtime tunables from environment
// variables, the same pattern the broker uses server-side.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// StreamType selects the outer envelope codec wrapped around the bit-packed
// package body. It must match the server's choice exactly.
type StreamType string

const (
	StreamRaw     StreamType = "raw"
	StreamHuffman StreamType = "huffman"
	StreamRans    StreamType = "rans"
)

const (
	// DefaultServerAddr is the default dial target for the game server.
	DefaultServerAddr = "localhost:7777"
	// DefaultPingInterval controls the keepalive cadence for the transport.
	DefaultPingInterval = 10 * time.Second
	// DefaultSnapshotDeltaCacheSize bounds the per-entity baseline cache depth.
	DefaultSnapshotDeltaCacheSize = 64
	// DefaultMaxEntitySnapshotDataSize sizes the eagerly-allocated per-entity buffers.
	DefaultMaxEntitySnapshotDataSize = 1024
	// DefaultCommandUploadRateBytesPerSecond caps outbound command/event bandwidth.
	DefaultCommandUploadRateBytesPerSecond = 24000.0 / 8.0

	// DefaultLogLevel controls verbosity for client logs.
	DefaultLogLevel = "info"
	// DefaultLogPath is where structured logs are written.
	DefaultLogPath = "client.log"
	// DefaultLogMaxSizeMB caps the size of a single log file before rotation.
	DefaultLogMaxSizeMB = 50
	// DefaultLogMaxBackups limits retained rotated log files.
	DefaultLogMaxBackups = 5
	// DefaultLogMaxAgeDays controls how long rotated log files are kept on disk.
	DefaultLogMaxAgeDays = 7
	// DefaultLogCompress toggles gzip compression for rotated log files.
	DefaultLogCompress = true

	// DefaultProtocolVersion is compared by its final dotted segment against the server's.
	DefaultProtocolVersion = "driftpursuit.0"

	// DefaultTraceDir is where the debug trace capture (gated on Debug) writes
	// its per-session snappy/zstd artefacts.
	DefaultTraceDir = "trace"
)

// Config captures all runtime tunables for the client session.
type Config struct {
	ServerAddr      string
	PingInterval    time.Duration
	ProtocolVersion string

	Debug                    bool
	TraceDir                 string
	BlockInbound             bool
	BlockOutbound            bool
	VerifyProtocol           bool
	StreamType               StreamType
	SnapshotCacheSize        int
	MaxEntityDataSize        int
	UploadRateBytesPerSecond float64

	Logging LoggingConfig
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

// Load reads the client configuration from environment variables, applying
// sane defaults and returning a single joined error for invalid overrides.
func Load() (*Config, error) {
	cfg := &Config{
		ServerAddr:               getString("CLIENT_SERVER_ADDR", DefaultServerAddr),
		PingInterval:             DefaultPingInterval,
		ProtocolVersion:          getString("CLIENT_PROTOCOL_VERSION", DefaultProtocolVersion),
		Debug:                    parseBoolDefault(os.Getenv("CLIENT_DEBUG"), false),
		TraceDir:                 getString("CLIENT_TRACE_DIR", DefaultTraceDir),
		BlockInbound:             parseBoolDefault(os.Getenv("CLIENT_BLOCK_IN"), false),
		BlockOutbound:            parseBoolDefault(os.Getenv("CLIENT_BLOCK_OUT"), false),
		VerifyProtocol:           parseBoolDefault(os.Getenv("CLIENT_VERIFY_PROTOCOL"), true),
		StreamType:               StreamRaw,
		SnapshotCacheSize:        DefaultSnapshotDeltaCacheSize,
		MaxEntityDataSize:        DefaultMaxEntitySnapshotDataSize,
		UploadRateBytesPerSecond: DefaultCommandUploadRateBytesPerSecond,
		Logging: LoggingConfig{
			Level:      strings.TrimSpace(getString("CLIENT_LOG_LEVEL", DefaultLogLevel)),
			Path:       strings.TrimSpace(getString("CLIENT_LOG_PATH", DefaultLogPath)),
			MaxSizeMB:  DefaultLogMaxSizeMB,
			MaxBackups: DefaultLogMaxBackups,
			MaxAgeDays: DefaultLogMaxAgeDays,
			Compress:   DefaultLogCompress,
		},
	}

	var problems []string

	if raw := strings.TrimSpace(os.Getenv("CLIENT_STREAM_TYPE")); raw != "" {
		switch StreamType(strings.ToLower(raw)) {
		case StreamRaw, StreamHuffman, StreamRans:
			cfg.StreamType = StreamType(strings.ToLower(raw))
		default:
			problems = append(problems, fmt.Sprintf("CLIENT_STREAM_TYPE must be one of raw|huffman|rans, got %q", raw))
		}
	}

	if raw := strings.TrimSpace(os.Getenv("CLIENT_PING_INTERVAL")); raw != "" {
		duration, err := time.ParseDuration(raw)
		if err != nil || duration <= 0 {
			problems = append(problems, fmt.Sprintf("CLIENT_PING_INTERVAL must be a positive duration, got %q", raw))
		} else {
			cfg.PingInterval = duration
		}
	}

	if raw := strings.TrimSpace(os.Getenv("CLIENT_SNAPSHOT_CACHE_SIZE")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("CLIENT_SNAPSHOT_CACHE_SIZE must be a positive integer, got %q", raw))
		} else {
			cfg.SnapshotCacheSize = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("CLIENT_MAX_ENTITY_DATA_SIZE")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("CLIENT_MAX_ENTITY_DATA_SIZE must be a positive integer, got %q", raw))
		} else {
			cfg.MaxEntityDataSize = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("CLIENT_UPLOAD_RATE_BYTES")); raw != "" {
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("CLIENT_UPLOAD_RATE_BYTES must be a positive number, got %q", raw))
		} else {
			cfg.UploadRateBytesPerSecond = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("CLIENT_LOG_MAX_SIZE_MB")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("CLIENT_LOG_MAX_SIZE_MB must be a positive integer, got %q", raw))
		} else {
			cfg.Logging.MaxSizeMB = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("CLIENT_LOG_MAX_BACKUPS")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("CLIENT_LOG_MAX_BACKUPS must be a non-negative integer, got %q", raw))
		} else {
			cfg.Logging.MaxBackups = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("CLIENT_LOG_MAX_AGE_DAYS")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("CLIENT_LOG_MAX_AGE_DAYS must be a non-negative integer, got %q", raw))
		} else {
			cfg.Logging.MaxAgeDays = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("CLIENT_LOG_COMPRESS")); raw != "" {
		value, err := strconv.ParseBool(raw)
		if err != nil {
			problems = append(problems, fmt.Sprintf("CLIENT_LOG_COMPRESS must be a boolean value, got %q", raw))
		} else {
			cfg.Logging.Compress = value
		}
	}

	if len(problems) > 0 {
		return nil, fmt.Errorf(strings.Join(problems, "; "))
	}

	return cfg, nil
}

func getString(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func parseBoolDefault(raw string, fallback bool) bool {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return value
}
