package minidb

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

const WALSuffix = "-wal"

// Database ties the page store, WAL, catalog and table handles of one file together.
type Database struct {
	path      string
	store     *PageStore
	wal       *WAL
	catalog   *Catalog
	txManager *TransactionManager
	tables    map[string]*Table
	indexes   map[string]*BTreeIndex
	logger    *zap.Logger

	pageCacheSize       int
	checkpointThreshold int64
	codec               PageImageCodec
	walArchiveDir       string
	maxTables           int
	maxIndexes          int
	syncOnCommit        bool

	mu sync.RWMutex
}

type Info struct {
	Path      string
	PageCount uint32
	WALSize   int64
	FreePages int
	Tables    int
	Indexes   int
}

// Open opens or creates the database at path. Anything left in the WAL by a crash
// is replayed into the file and the log is checkpointed before the catalog loads.
func Open(ctx context.Context, path string, logger *zap.Logger, opts ...DatabaseOption) (*Database, error) {
	db := &Database{
		path:                path,
		tables:              make(map[string]*Table),
		indexes:             make(map[string]*BTreeIndex),
		logger:              logger,
		pageCacheSize:       defaultPageCacheSize,
		checkpointThreshold: DefaultCheckpointThreshold,
		maxTables:           DefaultMaxTables,
		maxIndexes:          DefaultMaxIndexes,
		syncOnCommit:        true,
	}
	for _, opt := range opts {
		opt(db)
	}

	store, err := OpenPageStore(path, logger, WithPageCache(db.pageCacheSize))
	if err != nil {
		return nil, err
	}
	db.store = store

	walOpts := []WALOption{WithWALCompression(db.codec)}
	if db.walArchiveDir != "" {
		walOpts = append(walOpts, WithWALArchiveDir(db.walArchiveDir))
	}
	wal, err := OpenWAL(path+WALSuffix, logger, walOpts...)
	if err != nil {
		store.Close()
		return nil, err
	}
	db.wal = wal

	if err := db.recover(); err != nil {
		db.closeFiles()
		return nil, fmt.Errorf("recover %s: %w", path, err)
	}

	db.txManager = NewTransactionManager(store, wal, logger)
	db.txManager.checkpointThreshold = db.checkpointThreshold
	db.txManager.syncOnCommit = db.syncOnCommit

	aCatalog, err := OpenCatalog(ctx, store, db.txManager, logger,
		WithTableCapacity(db.maxTables),
		WithIndexCapacity(db.maxIndexes),
	)
	if err != nil {
		db.closeFiles()
		return nil, err
	}
	db.catalog = aCatalog

	logger.Info("opened database",
		zap.String("path", path),
		zap.Uint32("pages", store.PageCount()),
		zap.Int("tables", len(aCatalog.ListTables())),
	)

	return db, nil
}

func (d *Database) recover() error {
	if d.wal.Size() == 0 {
		return nil
	}

	handler := &recoveryHandler{store: d.store, logger: d.logger}
	stats, err := d.wal.Replay(handler)
	if err != nil {
		return err
	}
	if err := d.store.Sync(); err != nil {
		return err
	}
	// Uncommitted records must not survive, a later Commit would otherwise adopt them.
	if err := d.wal.Checkpoint(); err != nil {
		return err
	}

	d.logger.Info("recovered from wal",
		zap.Int("records", stats.Records),
		zap.Int("applied", stats.Applied),
		zap.Int("committed", stats.Committed),
		zap.Int("ignored", stats.Ignored),
		zap.Int("skipped", handler.skipped),
		zap.Int64("truncated_bytes", stats.TruncatedBytes),
	)

	return nil
}

func (d *Database) Path() string {
	return d.path
}

// ExecuteInTransaction makes every mutation fn performs through ctx commit or roll back together.
func (d *Database) ExecuteInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return d.txManager.ExecuteInTransaction(ctx, fn)
}

func (d *Database) CreateTable(ctx context.Context, name string, columns []Column) (*Table, error) {
	var aTable *Table
	err := d.txManager.ExecuteInTransaction(ctx, func(ctx context.Context) error {
		if _, err := d.catalog.Get(name); err == nil {
			return fmt.Errorf("%w: table %s already exists", ErrInvalid, name)
		}

		heapRoot, aPage, err := d.catalog.AllocatePage(ctx)
		if err != nil {
			return err
		}
		meta, err := d.catalog.CreateTable(ctx, name, columns, heapRoot)
		if err != nil {
			return err
		}
		InitHeapPage(aPage, meta.ID)

		aTable, err = newTable(ctx, meta, d.catalog, d.store, d.txManager, d.logger)
		if err != nil {
			return err
		}

		d.mu.Lock()
		d.tables[name] = aTable
		d.mu.Unlock()

		TxFromContext(ctx).OnRollback(func() {
			d.mu.Lock()
			delete(d.tables, name)
			d.mu.Unlock()
		})

		d.logger.Debug("created table", zap.String("name", name), zap.Uint32("heap_root", uint32(heapRoot)))

		return nil
	})
	if err != nil {
		return nil, err
	}
	return aTable, nil
}

// OpenTable returns the cached handle or builds one, rebuilding its indexes from the heap.
func (d *Database) OpenTable(ctx context.Context, name string) (*Table, error) {
	d.mu.RLock()
	aTable, ok := d.tables[name]
	d.mu.RUnlock()
	if ok {
		return aTable, nil
	}

	err := d.txManager.ExecuteInTransaction(ctx, func(ctx context.Context) error {
		var err error
		aTable, err = d.openTable(ctx, name)
		return err
	})
	if err != nil {
		return nil, err
	}
	return aTable, nil
}

func (d *Database) openTable(ctx context.Context, name string) (*Table, error) {
	d.mu.RLock()
	aTable, ok := d.tables[name]
	d.mu.RUnlock()
	if ok {
		return aTable, nil
	}

	meta, err := d.catalog.Get(name)
	if err != nil {
		return nil, err
	}
	aTable, err = newTable(ctx, meta, d.catalog, d.store, d.txManager, d.logger)
	if err != nil {
		return nil, err
	}

	indexMetas := d.catalog.ListIndexes(name)
	built := make([]*BTreeIndex, 0, len(indexMetas))
	for _, indexMeta := range indexMetas {
		anIndex := NewBTreeIndex(indexMeta)
		if err := aTable.attachIndex(ctx, anIndex); err != nil {
			return nil, fmt.Errorf("rebuild index %s: %w", indexMeta.Name, err)
		}
		built = append(built, anIndex)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.tables[name] = aTable
	for _, anIndex := range built {
		d.indexes[anIndex.Meta().Name] = anIndex
	}

	d.logger.Debug("opened table", zap.String("name", name), zap.Int("indexes", len(built)))

	return aTable, nil
}

// DropTable removes the table and its indexes and returns every page they owned to the free list.
func (d *Database) DropTable(ctx context.Context, name string) error {
	return d.txManager.ExecuteInTransaction(ctx, func(ctx context.Context) error {
		aTable, err := d.openTable(ctx, name)
		if err != nil {
			return err
		}

		for _, indexMeta := range d.catalog.ListIndexes(name) {
			if err := d.dropIndex(ctx, indexMeta.Name); err != nil {
				return err
			}
		}

		pages, err := aTable.HeapPages(ctx)
		if err != nil {
			return err
		}
		heapRoot, err := d.catalog.DropTable(ctx, name)
		if err != nil {
			return err
		}
		if len(pages) == 0 || pages[0] != heapRoot {
			return fmt.Errorf("%w: heap chain of table %s does not start at %d", ErrParse, name, heapRoot)
		}
		for _, pageNum := range pages {
			if err := d.catalog.FreePage(ctx, pageNum); err != nil {
				return err
			}
		}

		aTable.markDropped(true)
		d.mu.Lock()
		delete(d.tables, name)
		d.mu.Unlock()

		TxFromContext(ctx).OnRollback(func() {
			aTable.markDropped(false)
			d.mu.Lock()
			d.tables[name] = aTable
			d.mu.Unlock()
		})

		d.logger.Debug("dropped table", zap.String("name", name), zap.Int("freed_pages", len(pages)))

		return nil
	})
}

func (d *Database) ListTables() []TableMetadata {
	return d.catalog.ListTables()
}

// CreateIndex indexes one column of a table. Existing rows are indexed immediately,
// a unique index fails with ErrInvalid when they already hold duplicates.
func (d *Database) CreateIndex(ctx context.Context, name, tableName, columnName string, unique bool) (*BTreeIndex, error) {
	var anIndex *BTreeIndex
	err := d.txManager.ExecuteInTransaction(ctx, func(ctx context.Context) error {
		aTable, err := d.openTable(ctx, tableName)
		if err != nil {
			return err
		}
		column, err := aTable.ColumnIndex(columnName)
		if err != nil {
			return err
		}
		if _, err := d.catalog.GetIndex(name); err == nil {
			return fmt.Errorf("%w: index %s already exists", ErrInvalid, name)
		}

		root, aPage, err := d.catalog.AllocatePage(ctx)
		if err != nil {
			return err
		}
		aPage.Reset(PageTypeIndexLeaf)

		meta := IndexMetadata{
			Name:   name,
			Table:  tableName,
			Column: column,
			Type:   IndexTypeBTree,
			Unique: unique,
			Root:   root,
		}
		if err := d.catalog.AddIndex(ctx, meta); err != nil {
			return err
		}

		anIndex = NewBTreeIndex(meta)
		if err := aTable.attachIndex(ctx, anIndex); err != nil {
			return err
		}

		d.mu.Lock()
		d.indexes[name] = anIndex
		d.mu.Unlock()

		TxFromContext(ctx).OnRollback(func() {
			aTable.detachIndex(name)
			d.mu.Lock()
			delete(d.indexes, name)
			d.mu.Unlock()
		})

		return nil
	})
	if err != nil {
		return nil, err
	}
	return anIndex, nil
}

func (d *Database) DropIndex(ctx context.Context, name string) error {
	return d.txManager.ExecuteInTransaction(ctx, func(ctx context.Context) error {
		return d.dropIndex(ctx, name)
	})
}

func (d *Database) dropIndex(ctx context.Context, name string) error {
	meta, err := d.catalog.GetIndex(name)
	if err != nil {
		return err
	}
	aTable, err := d.openTable(ctx, meta.Table)
	if err != nil {
		return err
	}

	root, err := d.catalog.DropIndex(ctx, name)
	if err != nil {
		return err
	}
	if err := d.catalog.FreePage(ctx, root); err != nil {
		return err
	}

	anIndex := aTable.detachIndex(name)
	d.mu.Lock()
	delete(d.indexes, name)
	d.mu.Unlock()

	TxFromContext(ctx).OnRollback(func() {
		if anIndex == nil {
			return
		}
		aTable.reattachIndex(anIndex)
		d.mu.Lock()
		d.indexes[name] = anIndex
		d.mu.Unlock()
	})

	return nil
}

// Index returns the named index, opening its table when needed.
func (d *Database) Index(ctx context.Context, name string) (*BTreeIndex, error) {
	d.mu.RLock()
	anIndex, ok := d.indexes[name]
	d.mu.RUnlock()
	if ok {
		return anIndex, nil
	}

	meta, err := d.catalog.GetIndex(name)
	if err != nil {
		return nil, err
	}
	if _, err := d.OpenTable(ctx, meta.Table); err != nil {
		return nil, err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	anIndex, ok = d.indexes[name]
	if !ok {
		return nil, fmt.Errorf("%w: index %s is not loaded", ErrUnknown, name)
	}
	return anIndex, nil
}

func (d *Database) ListIndexes(tableName string) []IndexMetadata {
	return d.catalog.ListIndexes(tableName)
}

func (d *Database) Checkpoint(ctx context.Context) error {
	return d.txManager.Checkpoint(ctx)
}

func (d *Database) Info(ctx context.Context) (Info, error) {
	freePages, err := d.catalog.FreeListLength(ctx)
	if err != nil {
		return Info{}, err
	}
	return Info{
		Path:      d.path,
		PageCount: d.store.PageCount(),
		WALSize:   d.wal.Size(),
		FreePages: freePages,
		Tables:    len(d.catalog.ListTables()),
		Indexes:   len(d.catalog.ListIndexes("")),
	}, nil
}

// Close checkpoints a healthy database and releases both files.
func (d *Database) Close(ctx context.Context) error {
	var errs []error
	if d.wal.Size() > 0 {
		if err := d.txManager.Checkpoint(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := d.closeFiles(); err != nil {
		errs = append(errs, err)
	}

	d.logger.Info("closed database", zap.String("path", d.path))

	return errors.Join(errs...)
}

func (d *Database) closeFiles() error {
	return errors.Join(d.wal.Close(), d.store.Close())
}
