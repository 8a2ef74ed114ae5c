package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/ini.v1"

	"github.com/RichardKnop/minidb/internal/minidb"
)

/*
[storage]
path            = minidb.db
page_cache_size = 256
max_tables      = 128
max_indexes     = 128

[wal]
checkpoint_threshold = 4194304
compression          = none
archive_dir          =
sync_on_commit       = true

[logs]
level  = info
output = stderr
*/
type Config struct {
	Raw *ini.File

	// storage
	DBPath        string
	PageCacheSize int
	MaxTables     int
	MaxIndexes    int

	// wal
	CheckpointThreshold int64
	Compression         string
	ArchiveDir          string
	SyncOnCommit        bool

	// logs
	LogLevel  string
	LogOutput string
}

func NewConfig() *Config {
	return &Config{
		Raw:                 ini.Empty(),
		DBPath:              "minidb.db",
		PageCacheSize:       256,
		MaxTables:           minidb.DefaultMaxTables,
		MaxIndexes:          minidb.DefaultMaxIndexes,
		CheckpointThreshold: minidb.DefaultCheckpointThreshold,
		Compression:         minidb.CodecNone.String(),
		SyncOnCommit:        true,
		LogLevel:            "info",
		LogOutput:           "stderr",
	}
}

// Load overlays the ini file at path on the defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := NewConfig()
	if path == "" {
		return cfg, nil
	}

	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}

	parsedFile, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	cfg.Raw = parsedFile

	cfg.parseStorageCfg(parsedFile.Section("storage"))
	cfg.parseWALCfg(parsedFile.Section("wal"))
	cfg.parseLogsCfg(parsedFile.Section("logs"))

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}

	return cfg, nil
}

func (cfg *Config) parseStorageCfg(section *ini.Section) {
	cfg.DBPath = section.Key("path").MustString(cfg.DBPath)
	cfg.PageCacheSize = section.Key("page_cache_size").MustInt(cfg.PageCacheSize)
	cfg.MaxTables = section.Key("max_tables").MustInt(cfg.MaxTables)
	cfg.MaxIndexes = section.Key("max_indexes").MustInt(cfg.MaxIndexes)
}

func (cfg *Config) parseWALCfg(section *ini.Section) {
	cfg.CheckpointThreshold = section.Key("checkpoint_threshold").MustInt64(cfg.CheckpointThreshold)
	cfg.Compression = section.Key("compression").MustString(cfg.Compression)
	cfg.ArchiveDir = section.Key("archive_dir").MustString(cfg.ArchiveDir)
	cfg.SyncOnCommit = section.Key("sync_on_commit").MustBool(cfg.SyncOnCommit)
}

func (cfg *Config) parseLogsCfg(section *ini.Section) {
	cfg.LogLevel = section.Key("level").MustString(cfg.LogLevel)
	cfg.LogOutput = section.Key("output").MustString(cfg.LogOutput)
}

func (cfg *Config) Validate() error {
	if cfg.PageCacheSize < 0 {
		return fmt.Errorf("%w: page_cache_size must not be negative", minidb.ErrInvalid)
	}
	if cfg.MaxTables < 1 || cfg.MaxIndexes < 1 {
		return fmt.Errorf("%w: max_tables and max_indexes must be positive", minidb.ErrInvalid)
	}
	if cfg.CheckpointThreshold < 0 {
		return fmt.Errorf("%w: checkpoint_threshold must not be negative", minidb.ErrInvalid)
	}
	if _, err := minidb.ParsePageImageCodec(cfg.Compression); err != nil {
		return err
	}
	return nil
}

// DatabaseOptions converts the config into options for minidb.Open.
func (cfg *Config) DatabaseOptions() ([]minidb.DatabaseOption, error) {
	codec, err := minidb.ParsePageImageCodec(cfg.Compression)
	if err != nil {
		return nil, err
	}

	opts := []minidb.DatabaseOption{
		minidb.WithPageCacheSize(cfg.PageCacheSize),
		minidb.WithMaxTables(cfg.MaxTables),
		minidb.WithMaxIndexes(cfg.MaxIndexes),
		minidb.WithCheckpointThreshold(cfg.CheckpointThreshold),
		minidb.WithPageImageCompression(codec),
		minidb.WithSyncOnCommit(cfg.SyncOnCommit),
	}
	if cfg.ArchiveDir != "" {
		opts = append(opts, minidb.WithWALArchive(cfg.ArchiveDir))
	}
	return opts, nil
}
