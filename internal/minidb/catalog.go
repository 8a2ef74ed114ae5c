package minidb

import (
	"context"
	"encoding/binary"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"
)

const (
	// CatalogPageNumber roots the metadata page chain.
	CatalogPageNumber PageNumber = 1

	DefaultMaxTables  = 128
	DefaultMaxIndexes = 128

	catalogNextOffset   = 1
	catalogUsedOffset   = 5
	catalogDataOffset   = 7
	catalogPageCapacity = PageSize - catalogDataOffset
)

// Catalog is the only authority mapping table and index names to their pages. It
// also owns the free page list. Every mutation is persisted through the transaction
// carried by ctx, or through its own transaction when there is none.
type Catalog struct {
	store      *PageStore
	txManager  *TransactionManager
	logger     *zap.Logger
	maxTables  int
	maxIndexes int

	state catalogState
	mu    sync.RWMutex
}

type CatalogOption func(*Catalog)

func WithTableCapacity(n int) CatalogOption {
	return func(c *Catalog) {
		c.maxTables = n
	}
}

func WithIndexCapacity(n int) CatalogOption {
	return func(c *Catalog) {
		c.maxIndexes = n
	}
}

// OpenCatalog loads the catalog chain, creating it when the file only holds the header page.
func OpenCatalog(ctx context.Context, store *PageStore, txManager *TransactionManager, logger *zap.Logger, opts ...CatalogOption) (*Catalog, error) {
	aCatalog := &Catalog{
		store:      store,
		txManager:  txManager,
		logger:     logger,
		maxTables:  DefaultMaxTables,
		maxIndexes: DefaultMaxIndexes,
		state:      newCatalogState(),
	}
	for _, opt := range opts {
		opt(aCatalog)
	}

	if store.PageCount() <= uint32(CatalogPageNumber) {
		if err := aCatalog.mutate(ctx, func(ctx context.Context) error { return nil }); err != nil {
			return nil, fmt.Errorf("create catalog: %w", err)
		}
		if aCatalog.state.chain[0] != CatalogPageNumber {
			return nil, fmt.Errorf("%w: catalog created at page %d", ErrUnsupportedFormat, aCatalog.state.chain[0])
		}
		logger.Debug("created catalog")
		return aCatalog, nil
	}

	if err := aCatalog.load(); err != nil {
		return nil, err
	}

	logger.Debug("loaded catalog",
		zap.Int("tables", len(aCatalog.state.tables)),
		zap.Int("indexes", len(aCatalog.state.indexes)),
		zap.Int("pages", len(aCatalog.state.chain)),
	)

	return aCatalog, nil
}

func (c *Catalog) load() error {
	var (
		stream  []byte
		chain   []PageNumber
		pageNum = CatalogPageNumber
		aPage   = new(Page)
	)
	for pageNum != 0 {
		if len(chain) >= int(c.store.PageCount()) || slices.Contains(chain, pageNum) {
			return fmt.Errorf("%w: catalog chain loops at page %d", ErrParse, pageNum)
		}
		if err := c.store.Read(pageNum, aPage); err != nil {
			return fmt.Errorf("read catalog page %d: %w", pageNum, err)
		}
		if aPage.Type() != PageTypeMetadata {
			return fmt.Errorf("%w: catalog page %d is a %s page", ErrParse, pageNum, aPage.Type())
		}
		used := int(binary.LittleEndian.Uint16(aPage[catalogUsedOffset:]))
		if used > catalogPageCapacity {
			return fmt.Errorf("%w: catalog page %d claims %d bytes", ErrParse, pageNum, used)
		}
		stream = append(stream, aPage[catalogDataOffset:catalogDataOffset+used]...)
		chain = append(chain, pageNum)
		pageNum = PageNumber(binary.LittleEndian.Uint32(aPage[catalogNextOffset:]))
	}

	state, err := unmarshalCatalogState(stream)
	if err != nil {
		return err
	}
	state.chain = chain
	c.state = state

	return nil
}

// mutate applies fn to the catalog state and persists the result. The previous
// state comes back if fn fails or the surrounding transaction rolls back, except
// for row ID counters which never move backwards. The advanced counters reach
// the file with the next committed catalog write.
func (c *Catalog) mutate(ctx context.Context, fn func(ctx context.Context) error) error {
	return c.txManager.ExecuteInTransaction(ctx, func(ctx context.Context) error {
		tx := TxFromContext(ctx)

		c.mu.Lock()
		defer c.mu.Unlock()

		snapshot := c.state.clone()
		if err := fn(ctx); err != nil {
			c.state = snapshot
			return err
		}
		if err := c.persist(ctx, tx); err != nil {
			c.state = snapshot
			return err
		}

		tx.OnRollback(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.state = snapshot.withRowIDsFrom(c.state)
		})

		return nil
	})
}

// persist writes the serialized catalog across the chain, growing it when needed.
// Pages whose content did not change are left out of the transaction.
func (c *Catalog) persist(ctx context.Context, pager Pager) error {
	stream, err := c.state.marshal()
	if err != nil {
		return err
	}

	needed := max(1, (len(stream)+catalogPageCapacity-1)/catalogPageCapacity)
	for len(c.state.chain) < needed {
		pageNum, aPage, err := pager.AppendPage(ctx)
		if err != nil {
			return err
		}
		aPage.Reset(PageTypeMetadata)
		c.state.chain = append(c.state.chain, pageNum)
		c.logger.Debug("extended catalog chain", zap.Uint32("page", uint32(pageNum)))
	}

	for i, pageNum := range c.state.chain {
		var (
			start = min(i*catalogPageCapacity, len(stream))
			end   = min(start+catalogPageCapacity, len(stream))
			next  PageNumber
			want  Page
		)
		if i+1 < len(c.state.chain) {
			next = c.state.chain[i+1]
		}
		want.Reset(PageTypeMetadata)
		binary.LittleEndian.PutUint32(want[catalogNextOffset:], uint32(next))
		binary.LittleEndian.PutUint16(want[catalogUsedOffset:], uint16(end-start))
		copy(want[catalogDataOffset:], stream[start:end])

		current, err := pager.ReadPage(ctx, pageNum)
		if err != nil {
			return err
		}
		if *current == want {
			continue
		}
		aPage, err := pager.ModifyPage(ctx, pageNum)
		if err != nil {
			return err
		}
		*aPage = want
	}

	return nil
}

// CreateTable registers a table whose heap chain starts at heapRoot and returns its descriptor.
func (c *Catalog) CreateTable(ctx context.Context, name string, columns []Column, heapRoot PageNumber) (TableMetadata, error) {
	var created TableMetadata
	err := c.mutate(ctx, func(ctx context.Context) error {
		if err := validateName("table", name); err != nil {
			return err
		}
		if c.state.tableIdx(name) >= 0 {
			return fmt.Errorf("%w: table %s already exists", ErrInvalid, name)
		}
		if len(c.state.tables) >= c.maxTables {
			return fmt.Errorf("%w: catalog holds the maximum of %d tables", ErrFull, c.maxTables)
		}
		if err := validateColumns(columns); err != nil {
			return err
		}
		if heapRoot == HeaderPageNumber || slices.Contains(c.state.chain, heapRoot) {
			return fmt.Errorf("%w: page %d cannot be a heap root", ErrInvalid, heapRoot)
		}

		created = TableMetadata{
			Name:      name,
			ID:        c.state.nextTableID,
			HeapRoot:  heapRoot,
			NextRowID: 1,
			Columns:   slices.Clone(columns),
		}
		c.state.nextTableID += 1
		c.state.tables = append(c.state.tables, created)

		return nil
	})
	if err != nil {
		return TableMetadata{}, err
	}
	return cloneTable(created), nil
}

// DropTable removes the table and returns its heap root so the caller can reclaim the chain.
func (c *Catalog) DropTable(ctx context.Context, name string) (PageNumber, error) {
	var heapRoot PageNumber
	err := c.mutate(ctx, func(ctx context.Context) error {
		idx := c.state.tableIdx(name)
		if idx < 0 {
			return fmt.Errorf("%w: table %s does not exist", ErrInvalid, name)
		}
		for _, anIndex := range c.state.indexes {
			if anIndex.Table == name {
				return fmt.Errorf("%w: table %s is referenced by index %s", ErrInvalid, name, anIndex.Name)
			}
		}
		heapRoot = c.state.tables[idx].HeapRoot
		c.state.tables = slices.Delete(c.state.tables, idx, idx+1)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return heapRoot, nil
}

func (c *Catalog) Get(name string) (TableMetadata, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	idx := c.state.tableIdx(name)
	if idx < 0 {
		return TableMetadata{}, fmt.Errorf("%w: table %s does not exist", ErrInvalid, name)
	}
	return cloneTable(c.state.tables[idx]), nil
}

// ListTables returns table descriptors in creation order.
func (c *Catalog) ListTables() []TableMetadata {
	c.mu.RLock()
	defer c.mu.RUnlock()

	tables := make([]TableMetadata, 0, len(c.state.tables))
	for _, aTable := range c.state.tables {
		tables = append(tables, cloneTable(aTable))
	}
	return tables
}

// AllocRowID returns the table's next row id and persists the incremented counter.
func (c *Catalog) AllocRowID(ctx context.Context, tableName string) (RowID, error) {
	var rowID RowID
	err := c.mutate(ctx, func(ctx context.Context) error {
		idx := c.state.tableIdx(tableName)
		if idx < 0 {
			return fmt.Errorf("%w: table %s does not exist", ErrInvalid, tableName)
		}
		rowID = c.state.tables[idx].NextRowID
		c.state.tables[idx].NextRowID += 1
		return nil
	})
	if err != nil {
		return 0, err
	}
	return rowID, nil
}

func (c *Catalog) AddIndex(ctx context.Context, anIndex IndexMetadata) error {
	return c.mutate(ctx, func(ctx context.Context) error {
		if err := validateName("index", anIndex.Name); err != nil {
			return err
		}
		if c.state.indexIdx(anIndex.Name) >= 0 {
			return fmt.Errorf("%w: index %s already exists", ErrInvalid, anIndex.Name)
		}
		if len(c.state.indexes) >= c.maxIndexes {
			return fmt.Errorf("%w: catalog holds the maximum of %d indexes", ErrFull, c.maxIndexes)
		}
		tableIdx := c.state.tableIdx(anIndex.Table)
		if tableIdx < 0 {
			return fmt.Errorf("%w: table %s does not exist", ErrInvalid, anIndex.Table)
		}
		if anIndex.Column < 0 || anIndex.Column >= len(c.state.tables[tableIdx].Columns) {
			return fmt.Errorf("%w: table %s has no column %d", ErrInvalid, anIndex.Table, anIndex.Column)
		}
		if anIndex.Root == HeaderPageNumber {
			return fmt.Errorf("%w: index %s has no root page", ErrInvalid, anIndex.Name)
		}
		if anIndex.Type == 0 {
			anIndex.Type = IndexTypeBTree
		}
		if anIndex.Type != IndexTypeBTree {
			return fmt.Errorf("%w: unsupported index type %d", ErrInvalid, anIndex.Type)
		}
		c.state.indexes = append(c.state.indexes, anIndex)
		return nil
	})
}

// DropIndex removes the index and returns its root page for reclamation.
func (c *Catalog) DropIndex(ctx context.Context, name string) (PageNumber, error) {
	var root PageNumber
	err := c.mutate(ctx, func(ctx context.Context) error {
		idx := c.state.indexIdx(name)
		if idx < 0 {
			return fmt.Errorf("%w: index %s does not exist", ErrInvalid, name)
		}
		root = c.state.indexes[idx].Root
		c.state.indexes = slices.Delete(c.state.indexes, idx, idx+1)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return root, nil
}

func (c *Catalog) GetIndex(name string) (IndexMetadata, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	idx := c.state.indexIdx(name)
	if idx < 0 {
		return IndexMetadata{}, fmt.Errorf("%w: index %s does not exist", ErrInvalid, name)
	}
	return c.state.indexes[idx], nil
}

// ListIndexes returns the indexes of tableName, or every index when tableName is empty.
func (c *Catalog) ListIndexes(tableName string) []IndexMetadata {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var indexes []IndexMetadata
	for _, anIndex := range c.state.indexes {
		if tableName == "" || anIndex.Table == tableName {
			indexes = append(indexes, anIndex)
		}
	}
	return indexes
}

// AllocatePage hands out a page for a new structure, reusing the free list before
// growing the file. The returned page is zeroed and owned by the transaction in ctx.
func (c *Catalog) AllocatePage(ctx context.Context) (PageNumber, *Page, error) {
	var (
		pageNum PageNumber
		aPage   *Page
	)
	err := c.mutate(ctx, func(ctx context.Context) error {
		pager, err := pagerFromContext(ctx)
		if err != nil {
			return err
		}

		if c.state.freeHead == 0 {
			pageNum, aPage, err = pager.AppendPage(ctx)
			if err != nil {
				return err
			}
			c.logger.Debug("appending page", zap.Uint32("page", uint32(pageNum)))
			return nil
		}

		pageNum = c.state.freeHead
		aPage, err = pager.ModifyPage(ctx, pageNum)
		if err != nil {
			return err
		}
		var freePage FreePage
		if err := freePage.Unmarshal(aPage); err != nil {
			return fmt.Errorf("%w: free list head %d: %w", ErrParse, pageNum, err)
		}
		c.state.freeHead = freePage.NextFreePage
		aPage.Reset(PageTypeFree)

		c.logger.Debug("reusing free page", zap.Uint32("page", uint32(pageNum)))

		return nil
	})
	if err != nil {
		return 0, nil, err
	}
	return pageNum, aPage, nil
}

// FreePage pushes pageNum onto the free list.
func (c *Catalog) FreePage(ctx context.Context, pageNum PageNumber) error {
	return c.mutate(ctx, func(ctx context.Context) error {
		if pageNum == HeaderPageNumber || slices.Contains(c.state.chain, pageNum) {
			return fmt.Errorf("%w: page %d cannot be freed", ErrInvalid, pageNum)
		}
		pager, err := pagerFromContext(ctx)
		if err != nil {
			return err
		}
		aPage, err := pager.ModifyPage(ctx, pageNum)
		if err != nil {
			return err
		}
		if aPage.Type() == PageTypeFree {
			return fmt.Errorf("%w: page %d is already free", ErrInvalid, pageNum)
		}
		FreePage{NextFreePage: c.state.freeHead}.Marshal(aPage)
		c.state.freeHead = pageNum
		return nil
	})
}

// FreeListLength walks the free list.
func (c *Catalog) FreeListLength(ctx context.Context) (int, error) {
	c.mu.RLock()
	head := c.state.freeHead
	c.mu.RUnlock()

	var (
		reader = readerFromContext(ctx, c.store)
		count  = 0
		limit  = int(c.store.PageCount())
	)
	for pageNum := head; pageNum != 0; count++ {
		if count >= limit {
			return 0, fmt.Errorf("%w: free list loops", ErrParse)
		}
		aPage, err := reader.ReadPage(ctx, pageNum)
		if err != nil {
			return 0, err
		}
		var freePage FreePage
		if err := freePage.Unmarshal(aPage); err != nil {
			return 0, fmt.Errorf("%w: free list page %d: %w", ErrParse, pageNum, err)
		}
		pageNum = freePage.NextFreePage
	}
	return count, nil
}

// Pages returns the catalog's own page chain.
func (c *Catalog) Pages() []PageNumber {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.state.chain)
}

func cloneTable(aTable TableMetadata) TableMetadata {
	aTable.Columns = slices.Clone(aTable.Columns)
	return aTable
}

func validateName(kind, name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty %s name", ErrInvalid, kind)
	}
	if len(name) > MaxNameLength {
		return fmt.Errorf("%w: %s name longer than %d bytes", ErrInvalid, kind, MaxNameLength)
	}
	return nil
}

func validateColumns(columns []Column) error {
	if len(columns) == 0 {
		return fmt.Errorf("%w: table needs at least one column", ErrInvalid)
	}
	if len(columns) > MaxColumns {
		return fmt.Errorf("%w: %d columns, maximum is %d", ErrFull, len(columns), MaxColumns)
	}
	for i, aColumn := range columns {
		if err := validateName("column", aColumn.Name); err != nil {
			return err
		}
		if aColumn.Type != ColumnTypeInt && aColumn.Type != ColumnTypeText {
			return fmt.Errorf("%w: column %s has unsupported type %s", ErrInvalid, aColumn.Name, aColumn.Type)
		}
		if slices.ContainsFunc(columns[:i], func(c Column) bool { return c.Name == aColumn.Name }) {
			return fmt.Errorf("%w: duplicate column %s", ErrInvalid, aColumn.Name)
		}
	}
	return nil
}
