package minidb

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ReplayHandler receives the records recovery decided to redo, in log order.
type ReplayHandler interface {
	ApplyPageWrite(pageNum PageNumber, image *Page) error
	ApplyLogical(record WALRecord) error
}

type ReplayStats struct {
	Records        int   // well formed records found in the log
	Applied        int   // records handed to the handler
	Committed      int   // commit records
	Ignored        int   // logical records with no later commit and the tail after the last commit
	TruncatedBytes int64 // bytes of a torn final record that were cut off
}

// WAL is a single append-only log segment living next to the database file.
type WAL struct {
	file       *os.File
	path       string
	size       int64
	lastSeq    uint64
	codec      PageImageCodec
	archiveDir string
	logger     *zap.Logger

	mu sync.Mutex
}

type WALOption func(*WAL)

func WithWALCompression(codec PageImageCodec) WALOption {
	return func(w *WAL) {
		w.codec = codec
	}
}

// WithWALArchiveDir keeps checkpointed segments in dir instead of truncating them.
func WithWALArchiveDir(dir string) WALOption {
	return func(w *WAL) {
		w.archiveDir = dir
	}
}

func OpenWAL(path string, logger *zap.Logger, opts ...WALOption) (*WAL, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("%w: open wal: %w", ErrIO, err)
	}

	size, err := file.Seek(0, io.SeekEnd)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("%w: seek wal: %w", ErrIO, err)
	}

	aWAL := &WAL{
		file:   file,
		path:   path,
		size:   size,
		logger: logger,
	}
	for _, opt := range opts {
		opt(aWAL)
	}

	return aWAL, nil
}

func (w *WAL) Path() string {
	return w.path
}

func (w *WAL) Size() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.size
}

// NextSeq returns the smallest sequence number a new transaction may use.
func (w *WAL) NextSeq() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastSeq + 1
}

// Append writes one record at the end of the log. A partial write is rolled back
// and reported as ErrIO.
func (w *WAL) Append(record WALRecord) error {
	if !record.Op.valid() {
		return fmt.Errorf("%w: unknown wal op %d", ErrInvalid, record.Op)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if record.Seq < w.lastSeq {
		return fmt.Errorf("%w: wal seq %d is older than last seq %d", ErrInvalid, record.Seq, w.lastSeq)
	}

	buf := record.Marshal(make([]byte, 0, record.Size()))
	n, err := w.file.WriteAt(buf, w.size)
	if err == nil && n != len(buf) {
		err = io.ErrShortWrite
	}
	if err != nil {
		if n > 0 {
			if truncErr := w.file.Truncate(w.size); truncErr != nil {
				w.logger.Error("failed to cut partial wal record", zap.Error(truncErr))
			}
		}
		return fmt.Errorf("%w: append %s record: %w", ErrIO, record.Op, err)
	}

	w.size += int64(n)
	w.lastSeq = record.Seq

	return nil
}

// AppendPageImage logs a full redo image of a page.
func (w *WAL) AppendPageImage(seq uint64, pageNum PageNumber, aPage *Page) error {
	return w.Append(WALRecord{
		Op:      OpPageWrite,
		Seq:     seq,
		PageNum: pageNum,
		Payload: EncodePageImage(w.codec, aPage),
	})
}

// Flush is the durability barrier, callers acknowledge a commit only after it returns.
func (w *WAL) Flush() error {
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("%w: sync wal: %w", ErrIO, err)
	}
	return nil
}

// Rewind cuts the log back to size, discarding records of a transaction that failed to commit.
func (w *WAL) Rewind(size int64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if size > w.size {
		return fmt.Errorf("%w: cannot rewind wal of %d bytes to %d", ErrInvalid, w.size, size)
	}
	if err := w.file.Truncate(size); err != nil {
		return fmt.Errorf("%w: rewind wal: %w", ErrIO, err)
	}
	w.size = size
	return nil
}

// Replay scans the log from the start. PageWrite records are redone unconditionally,
// logical records only when a Commit with the same seq follows them, and everything
// after the last Commit is ignored. A torn final record is cut off, an unknown op or
// a decreasing seq aborts with ErrParse.
func (w *WAL) Replay(handler ReplayHandler) (ReplayStats, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	var stats ReplayStats

	data := make([]byte, w.size)
	if n, err := w.file.ReadAt(data, 0); n != len(data) {
		return stats, fmt.Errorf("%w: read wal (%d of %d bytes): %w", ErrIO, n, len(data), err)
	}

	records, validEnd, err := parseWAL(data)
	if err != nil {
		return stats, err
	}
	stats.Records = len(records)

	if validEnd < w.size {
		stats.TruncatedBytes = w.size - validEnd
		w.logger.Warn("discarding torn wal tail",
			zap.Int64("valid_bytes", validEnd),
			zap.Int64("torn_bytes", stats.TruncatedBytes),
		)
		if err := w.file.Truncate(validEnd); err != nil {
			return stats, fmt.Errorf("%w: truncate torn wal tail: %w", ErrIO, err)
		}
		w.size = validEnd
	}

	// Position of the last Commit of each seq, logical records only count
	// when they precede it.
	var (
		commitIdx  = make(map[uint64]int)
		lastCommit = -1
	)
	for i, aRecord := range records {
		if aRecord.Seq > w.lastSeq {
			w.lastSeq = aRecord.Seq
		}
		if aRecord.Op == OpCommit {
			commitIdx[aRecord.Seq] = i
			lastCommit = i
		}
	}

	for i, aRecord := range records {
		if i > lastCommit {
			stats.Ignored += 1
			continue
		}

		switch {
		case aRecord.Op == OpCommit:
			stats.Committed += 1
		case aRecord.Op == OpPageWrite:
			image, err := DecodePageImage(aRecord.Payload)
			if err != nil {
				return stats, fmt.Errorf("page write seq %d page %d: %w", aRecord.Seq, aRecord.PageNum, err)
			}
			if err := handler.ApplyPageWrite(aRecord.PageNum, image); err != nil {
				return stats, err
			}
			stats.Applied += 1
		default:
			if idx, ok := commitIdx[aRecord.Seq]; !ok || i > idx {
				stats.Ignored += 1
				continue
			}
			if err := handler.ApplyLogical(aRecord); err != nil {
				return stats, err
			}
			stats.Applied += 1
		}
	}

	return stats, nil
}

func parseWAL(data []byte) ([]WALRecord, int64, error) {
	var (
		records []WALRecord
		offset  = 0
		prevSeq uint64
	)
	for len(data)-offset >= WALRecordHeaderSize {
		header := data[offset : offset+WALRecordHeaderSize]

		op := WALOp(header[walOpOffset])
		if !op.valid() {
			return nil, 0, fmt.Errorf("%w: unrecognised wal op %d at offset %d", ErrParse, op, offset)
		}
		seq := binary.LittleEndian.Uint64(header[walSeqOffset:])
		if seq < prevSeq {
			return nil, 0, fmt.Errorf("%w: wal seq %d after %d at offset %d", ErrParse, seq, prevSeq, offset)
		}

		payloadSize := int(binary.LittleEndian.Uint32(header[walPayloadOffset:]))
		if len(data)-offset-WALRecordHeaderSize < payloadSize {
			// Torn write of the final record
			break
		}

		start := offset + WALRecordHeaderSize
		records = append(records, WALRecord{
			Op:      op,
			Seq:     seq,
			PageNum: PageNumber(binary.LittleEndian.Uint32(header[walPageOffset:])),
			Payload: data[start : start+payloadSize],
		})
		prevSeq = seq
		offset = start + payloadSize
	}
	return records, int64(offset), nil
}

// Checkpoint empties the log. Callers must have synced every page the log refers to
// and must not have a transaction in flight.
func (w *WAL) Checkpoint() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.archiveDir == "" || w.size == 0 {
		if err := w.file.Truncate(0); err != nil {
			return fmt.Errorf("%w: truncate wal: %w", ErrIO, err)
		}
		if err := w.file.Sync(); err != nil {
			return fmt.Errorf("%w: sync wal: %w", ErrIO, err)
		}
		w.size = 0
		return nil
	}

	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("%w: sync wal: %w", ErrIO, err)
	}
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("%w: close wal: %w", ErrIO, err)
	}

	archivePath := filepath.Join(w.archiveDir, filepath.Base(w.path)+"."+uuid.NewString())
	renameErr := os.Rename(w.path, archivePath)

	flags := os.O_RDWR | os.O_CREATE
	if renameErr == nil {
		flags |= os.O_TRUNC
	}
	file, err := os.OpenFile(w.path, flags, 0600)
	if err != nil {
		return fmt.Errorf("%w: reopen wal: %w", ErrIO, err)
	}
	w.file = file

	if renameErr != nil {
		return fmt.Errorf("%w: archive wal: %w", ErrIO, renameErr)
	}

	w.size = 0
	w.logger.Info("archived wal segment", zap.String("path", archivePath))

	return nil
}

func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.file.Close(); err != nil {
		return fmt.Errorf("%w: close wal: %w", ErrIO, err)
	}
	return nil
}
