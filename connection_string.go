package minidb

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/RichardKnop/minidb/internal/minidb"
)

// ConnectionConfig holds parsed connection string parameters
type ConnectionConfig struct {
	FilePath            string // Database file path
	SyncOnCommit        bool   // Fsync the WAL on every commit (default: true)
	LogLevel            string // Log level: debug, info, warn, error (default: warn)
	MaxCachedPages      int    // Pages kept in the read cache (default: 256, 0 disables it)
	Compression         string // WAL page image codec: none, snappy, lz4 (default: none)
	CheckpointThreshold int64  // WAL bytes that trigger a checkpoint (default: 4MiB, 0 = manual)
}

func DefaultConnectionConfig(filePath string) *ConnectionConfig {
	return &ConnectionConfig{
		FilePath:            filePath,
		SyncOnCommit:        true,
		LogLevel:            "warn",
		MaxCachedPages:      256,
		Compression:         minidb.CodecNone.String(),
		CheckpointThreshold: minidb.DefaultCheckpointThreshold,
	}
}

// ParseConnectionString parses a connection string with optional query parameters.
//
// Format: /path/to/database.db?param1=value1&param2=value2
//
// Supported parameters:
//   - sync=true|false
//   - log_level=debug|info|warn|error
//   - max_cached_pages=<n>
//   - compression=none|snappy|lz4
//   - checkpoint_threshold=<bytes>
//
// Examples:
//   - "./my.db"                             : Default settings
//   - "./my.db?sync=false"                  : Do not fsync on commit
//   - "./my.db?compression=lz4&log_level=info" : Compressed WAL, info logging
func ParseConnectionString(connStr string) (*ConnectionConfig, error) {
	parts := strings.SplitN(connStr, "?", 2)
	if parts[0] == "" {
		return nil, fmt.Errorf("%w: connection string has no file path", minidb.ErrInvalid)
	}

	config := DefaultConnectionConfig(parts[0])
	if len(parts) == 1 {
		return config, nil
	}

	queryParams, err := url.ParseQuery(parts[1])
	if err != nil {
		return nil, fmt.Errorf("%w: invalid connection string query parameters: %w", minidb.ErrInvalid, err)
	}

	if syncStr := queryParams.Get("sync"); syncStr != "" {
		sync, err := strconv.ParseBool(syncStr)
		if err != nil {
			return nil, fmt.Errorf("%w: sync must be 'true' or 'false', got %q", minidb.ErrInvalid, syncStr)
		}
		config.SyncOnCommit = sync
	}

	if logLevel := queryParams.Get("log_level"); logLevel != "" {
		logLevel = strings.ToLower(logLevel)
		switch logLevel {
		case "debug", "info", "warn", "error":
			config.LogLevel = logLevel
		default:
			return nil, fmt.Errorf("%w: log_level must be 'debug', 'info', 'warn', or 'error', got %q", minidb.ErrInvalid, logLevel)
		}
	}

	if maxPagesStr := queryParams.Get("max_cached_pages"); maxPagesStr != "" {
		maxPages, err := strconv.Atoi(maxPagesStr)
		if err != nil || maxPages < 0 {
			return nil, fmt.Errorf("%w: max_cached_pages must be a non-negative integer, got %q", minidb.ErrInvalid, maxPagesStr)
		}
		config.MaxCachedPages = maxPages
	}

	if compression := queryParams.Get("compression"); compression != "" {
		if _, err := minidb.ParsePageImageCodec(compression); err != nil {
			return nil, err
		}
		config.Compression = compression
	}

	if thresholdStr := queryParams.Get("checkpoint_threshold"); thresholdStr != "" {
		threshold, err := strconv.ParseInt(thresholdStr, 10, 64)
		if err != nil || threshold < 0 {
			return nil, fmt.Errorf("%w: checkpoint_threshold must be a non-negative integer, got %q", minidb.ErrInvalid, thresholdStr)
		}
		config.CheckpointThreshold = threshold
	}

	return config, nil
}

// Options converts the parameters into engine options.
func (c *ConnectionConfig) Options() []Option {
	// Validated by ParseConnectionString
	codec, _ := minidb.ParsePageImageCodec(c.Compression)
	return []Option{
		minidb.WithSyncOnCommit(c.SyncOnCommit),
		minidb.WithPageCacheSize(c.MaxCachedPages),
		minidb.WithPageImageCompression(codec),
		minidb.WithCheckpointThreshold(c.CheckpointThreshold),
	}
}
