package minidb

type DatabaseOption func(*Database)

const defaultPageCacheSize = 256

// WithPageCacheSize sets how many pages the store keeps in memory, 0 disables the cache.
func WithPageCacheSize(pages int) DatabaseOption {
	return func(d *Database) {
		d.pageCacheSize = pages
	}
}

// WithCheckpointThreshold checkpoints after a commit once the WAL reaches size bytes,
// 0 leaves checkpoints to explicit calls and Close.
func WithCheckpointThreshold(size int64) DatabaseOption {
	return func(d *Database) {
		d.checkpointThreshold = size
	}
}

func WithPageImageCompression(codec PageImageCodec) DatabaseOption {
	return func(d *Database) {
		d.codec = codec
	}
}

// WithWALArchive moves checkpointed WAL segments into dir instead of discarding them.
func WithWALArchive(dir string) DatabaseOption {
	return func(d *Database) {
		d.walArchiveDir = dir
	}
}

func WithMaxTables(n int) DatabaseOption {
	return func(d *Database) {
		if n > 0 {
			d.maxTables = n
		}
	}
}

func WithMaxIndexes(n int) DatabaseOption {
	return func(d *Database) {
		if n > 0 {
			d.maxIndexes = n
		}
	}
}

// WithSyncOnCommit controls whether a commit waits for the WAL to reach disk.
// Without it a crash can lose recently acknowledged commits.
func WithSyncOnCommit(enabled bool) DatabaseOption {
	return func(d *Database) {
		d.syncOnCommit = enabled
	}
}
