// Package minidb is a single-file relational storage engine: slotted heap pages,
// a write-ahead log with crash recovery, a persisted catalog and in-memory
// B-tree secondary indexes rebuilt from the heap when a table is opened.
package minidb

import (
	"context"

	"go.uber.org/zap"

	"github.com/RichardKnop/minidb/internal/minidb"
	"github.com/RichardKnop/minidb/internal/pkg/logging"
)

type (
	Database       = minidb.Database
	Option         = minidb.DatabaseOption
	Info           = minidb.Info
	Table          = minidb.Table
	TableScan      = minidb.TableScan
	TableMetadata  = minidb.TableMetadata
	IndexMetadata  = minidb.IndexMetadata
	BTreeIndex     = minidb.BTreeIndex
	Index          = minidb.Index
	Row            = minidb.Row
	RowID          = minidb.RowID
	TupleID        = minidb.TupleID
	Column         = minidb.Column
	ColumnType     = minidb.ColumnType
	Value          = minidb.Value
	RangeBound     = minidb.RangeBound
	RangeCondition = minidb.RangeCondition
	PageImageCodec = minidb.PageImageCodec
)

const (
	ColumnTypeInt  = minidb.ColumnTypeInt
	ColumnTypeText = minidb.ColumnTypeText

	CodecNone   = minidb.CodecNone
	CodecSnappy = minidb.CodecSnappy
	CodecLZ4    = minidb.CodecLZ4
)

var (
	ErrIO                = minidb.ErrIO
	ErrUnsupportedFormat = minidb.ErrUnsupportedFormat
	ErrFull              = minidb.ErrFull
	ErrInvalid           = minidb.ErrInvalid
	ErrParse             = minidb.ErrParse
	ErrUnknown           = minidb.ErrUnknown
	ErrNoMoreRows        = minidb.ErrNoMoreRows
)

var (
	Null = minidb.Null
	Int  = minidb.Int
	Text = minidb.Text

	WithPageCacheSize        = minidb.WithPageCacheSize
	WithCheckpointThreshold  = minidb.WithCheckpointThreshold
	WithPageImageCompression = minidb.WithPageImageCompression
	WithWALArchive           = minidb.WithWALArchive
	WithMaxTables            = minidb.WithMaxTables
	WithMaxIndexes           = minidb.WithMaxIndexes
	WithSyncOnCommit         = minidb.WithSyncOnCommit
)

// Open opens or creates the database file at path, replaying its WAL first.
func Open(ctx context.Context, path string, logger *zap.Logger, opts ...Option) (*Database, error) {
	return minidb.Open(ctx, path, logger, opts...)
}

// OpenConnectionString opens a database described by a connection string such as
// "./my.db?sync=false&log_level=info". The logger writes to stderr. Extra options
// are applied after the ones from the connection string.
func OpenConnectionString(ctx context.Context, connStr string, opts ...Option) (*Database, error) {
	config, err := ParseConnectionString(connStr)
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(config.LogLevel)
	if err != nil {
		return nil, err
	}

	return Open(ctx, config.FilePath, logger, append(config.Options(), opts...)...)
}
