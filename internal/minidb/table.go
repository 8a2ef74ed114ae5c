package minidb

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"
)

const rowIDSize = 8

type Row struct {
	ID     RowID
	TID    TupleID
	Values []Value
}

// Table is a handle over one table's heap chain and its secondary indexes.
// Handles become invalid once the table is dropped.
type Table struct {
	Name    string
	ID      uint32
	columns []Column

	heapRoot  PageNumber
	lastPage  PageNumber
	indexes   []*BTreeIndex
	dropped   bool
	catalog   *Catalog
	store     *PageStore
	txManager *TransactionManager
	logger    *zap.Logger

	mu sync.RWMutex
}

func newTable(ctx context.Context, meta TableMetadata, aCatalog *Catalog, store *PageStore, txManager *TransactionManager, logger *zap.Logger) (*Table, error) {
	aTable := &Table{
		Name:      meta.Name,
		ID:        meta.ID,
		columns:   slices.Clone(meta.Columns),
		heapRoot:  meta.HeapRoot,
		catalog:   aCatalog,
		store:     store,
		txManager: txManager,
		logger:    logger,
	}

	var (
		reader  = readerFromContext(ctx, store)
		pageNum = meta.HeapRoot
		visited = 0
	)
	for {
		hp, err := aTable.heapPage(ctx, reader, pageNum)
		if err != nil {
			return nil, err
		}
		visited += 1
		if hp.NextPage() == 0 {
			break
		}
		if visited >= int(store.PageCount()) {
			return nil, fmt.Errorf("%w: heap chain of table %s loops", ErrParse, meta.Name)
		}
		pageNum = hp.NextPage()
	}
	aTable.lastPage = pageNum

	return aTable, nil
}

func (t *Table) Columns() []Column {
	return slices.Clone(t.columns)
}

func (t *Table) ColumnCount() int {
	return len(t.columns)
}

func (t *Table) ColumnType(i int) (ColumnType, error) {
	if i < 0 || i >= len(t.columns) {
		return ColumnTypeInvalid, fmt.Errorf("%w: table %s has no column %d", ErrInvalid, t.Name, i)
	}
	return t.columns[i].Type, nil
}

func (t *Table) ColumnName(i int) (string, error) {
	if i < 0 || i >= len(t.columns) {
		return "", fmt.Errorf("%w: table %s has no column %d", ErrInvalid, t.Name, i)
	}
	return t.columns[i].Name, nil
}

func (t *Table) ColumnIndex(name string) (int, error) {
	i := slices.IndexFunc(t.columns, func(c Column) bool { return c.Name == name })
	if i < 0 {
		return -1, fmt.Errorf("%w: table %s has no column %s", ErrInvalid, t.Name, name)
	}
	return i, nil
}

// Insert stores a new row at the end of the heap chain, growing it by one page when
// the last page is full.
func (t *Table) Insert(ctx context.Context, values []Value) (RowID, TupleID, error) {
	var (
		rowID RowID
		tid   TupleID
	)
	err := t.txManager.ExecuteInTransaction(ctx, func(ctx context.Context) error {
		t.mu.Lock()
		defer t.mu.Unlock()

		if err := t.checkOpen(); err != nil {
			return err
		}
		if err := t.validateValues(values); err != nil {
			return err
		}
		if _, err := EncodedSize(values); err != nil {
			return err
		}

		var err error
		rowID, err = t.catalog.AllocRowID(ctx, t.Name)
		if err != nil {
			return err
		}

		record, err := marshalRecord(rowID, values)
		if err != nil {
			return err
		}

		tid, err = t.insertRecord(ctx, record)
		if err != nil {
			return err
		}

		return t.indexInsert(ctx, values, tid)
	})
	if err != nil {
		return 0, TupleID{}, err
	}
	return rowID, tid, nil
}

func (t *Table) insertRecord(ctx context.Context, record []byte) (TupleID, error) {
	if len(record) > MaxRecordSize {
		return TupleID{}, fmt.Errorf("%w: record of %d bytes exceeds maximum of %d", ErrFull, len(record), MaxRecordSize)
	}

	tx := TxFromContext(ctx)

	aPage, err := tx.ModifyPage(ctx, t.lastPage)
	if err != nil {
		return TupleID{}, err
	}
	hp, err := t.asOwnHeapPage(aPage, t.lastPage)
	if err != nil {
		return TupleID{}, err
	}

	if hp.FreeSpace() < len(record) || hp.NumSlots() == SlotTombstone {
		newPageNum, newPage, err := t.catalog.AllocatePage(ctx)
		if err != nil {
			return TupleID{}, err
		}
		hp.SetNextPage(newPageNum)
		hp = InitHeapPage(newPage, t.ID)

		prevLast := t.lastPage
		t.lastPage = newPageNum
		tx.OnRollback(func() {
			t.mu.Lock()
			t.lastPage = prevLast
			t.mu.Unlock()
		})

		t.logger.Debug("extended heap chain",
			zap.String("table", t.Name),
			zap.Uint32("page", uint32(newPageNum)),
		)
	}

	slot, err := hp.Insert(record)
	if err != nil {
		return TupleID{}, err
	}
	tx.Log(OpInsert, t.lastPage, slot, record)

	return TupleID{PageNum: t.lastPage, Slot: slot}, nil
}

func (t *Table) Get(ctx context.Context, tid TupleID) (Row, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if err := t.checkOpen(); err != nil {
		return Row{}, err
	}

	hp, err := t.heapPage(ctx, readerFromContext(ctx, t.store), tid.PageNum)
	if err != nil {
		return Row{}, err
	}
	record, err := hp.Get(tid.Slot)
	if err != nil {
		return Row{}, fmt.Errorf("row %s of table %s: %w", tid, t.Name, err)
	}
	return t.decodeRow(tid, record)
}

// Update rewrites the row in place when the new record fits its slot, otherwise the
// row moves and the new TupleID is returned. The RowID never changes.
func (t *Table) Update(ctx context.Context, tid TupleID, values []Value) (TupleID, error) {
	var newTID TupleID
	err := t.txManager.ExecuteInTransaction(ctx, func(ctx context.Context) error {
		t.mu.Lock()
		defer t.mu.Unlock()

		if err := t.checkOpen(); err != nil {
			return err
		}
		if err := t.validateValues(values); err != nil {
			return err
		}

		tx := TxFromContext(ctx)
		aPage, err := tx.ModifyPage(ctx, tid.PageNum)
		if err != nil {
			return err
		}
		hp, err := t.asOwnHeapPage(aPage, tid.PageNum)
		if err != nil {
			return err
		}
		oldRecord, err := hp.Get(tid.Slot)
		if err != nil {
			return fmt.Errorf("row %s of table %s: %w", tid, t.Name, err)
		}
		oldRow, err := t.decodeRow(tid, oldRecord)
		if err != nil {
			return err
		}

		record, err := marshalRecord(oldRow.ID, values)
		if err != nil {
			return err
		}

		if err := t.indexDelete(ctx, oldRow.Values, tid); err != nil {
			return err
		}

		if len(record) <= len(oldRecord) {
			if err := hp.Replace(tid.Slot, record); err != nil {
				return err
			}
			tx.Log(OpUpdate, tid.PageNum, tid.Slot, record)
			newTID = tid
		} else {
			if err := hp.Delete(tid.Slot); err != nil {
				return err
			}
			tx.Log(OpDelete, tid.PageNum, tid.Slot, nil)
			newTID, err = t.insertRecord(ctx, record)
			if err != nil {
				return err
			}
		}

		return t.indexInsert(ctx, values, newTID)
	})
	if err != nil {
		return TupleID{}, err
	}
	return newTID, nil
}

func (t *Table) Delete(ctx context.Context, tid TupleID) error {
	return t.txManager.ExecuteInTransaction(ctx, func(ctx context.Context) error {
		t.mu.Lock()
		defer t.mu.Unlock()

		if err := t.checkOpen(); err != nil {
			return err
		}

		tx := TxFromContext(ctx)
		aPage, err := tx.ModifyPage(ctx, tid.PageNum)
		if err != nil {
			return err
		}
		hp, err := t.asOwnHeapPage(aPage, tid.PageNum)
		if err != nil {
			return err
		}
		record, err := hp.Get(tid.Slot)
		if err != nil {
			return fmt.Errorf("row %s of table %s: %w", tid, t.Name, err)
		}
		aRow, err := t.decodeRow(tid, record)
		if err != nil {
			return err
		}

		if err := hp.Delete(tid.Slot); err != nil {
			return err
		}
		tx.Log(OpDelete, tid.PageNum, tid.Slot, nil)

		return t.indexDelete(ctx, aRow.Values, tid)
	})
}

// Scan walks the heap chain in page then slot order.
func (t *Table) Scan(ctx context.Context) *TableScan {
	return &TableScan{
		table:   t,
		pageNum: t.heapRoot,
	}
}

// Indexes returns the secondary indexes maintained by this handle.
func (t *Table) Indexes() []*BTreeIndex {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return slices.Clone(t.indexes)
}

// HeapPages returns the page numbers of the heap chain in order.
func (t *Table) HeapPages(ctx context.Context) ([]PageNumber, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if err := t.checkOpen(); err != nil {
		return nil, err
	}
	return t.heapPages(ctx)
}

func (t *Table) heapPages(ctx context.Context) ([]PageNumber, error) {
	var (
		reader = readerFromContext(ctx, t.store)
		pages  []PageNumber
	)
	for pageNum := t.heapRoot; pageNum != 0; {
		if len(pages) >= int(t.store.PageCount())+1 {
			return nil, fmt.Errorf("%w: heap chain of table %s loops", ErrParse, t.Name)
		}
		hp, err := t.heapPage(ctx, reader, pageNum)
		if err != nil {
			return nil, err
		}
		pages = append(pages, pageNum)
		pageNum = hp.NextPage()
	}
	return pages, nil
}

// attachIndex builds anIndex from the heap and starts maintaining it.
func (t *Table) attachIndex(ctx context.Context, anIndex *BTreeIndex) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.checkOpen(); err != nil {
		return err
	}

	column := anIndex.Meta().Column
	aScan := &TableScan{table: t, pageNum: t.heapRoot}
	for {
		aRow, err := aScan.next(ctx)
		if errors.Is(err, ErrNoMoreRows) {
			break
		}
		if err != nil {
			return err
		}
		if err := anIndex.Insert(aRow.Values[column], aRow.TID); err != nil {
			return err
		}
	}

	t.indexes = append(t.indexes, anIndex)

	return nil
}

func (t *Table) detachIndex(name string) *BTreeIndex {
	t.mu.Lock()
	defer t.mu.Unlock()

	i := slices.IndexFunc(t.indexes, func(idx *BTreeIndex) bool { return idx.Meta().Name == name })
	if i < 0 {
		return nil
	}
	anIndex := t.indexes[i]
	t.indexes = slices.Delete(t.indexes, i, i+1)
	return anIndex
}

func (t *Table) markDropped(dropped bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dropped = dropped
}

func (t *Table) indexInsert(ctx context.Context, values []Value, tid TupleID) error {
	tx := TxFromContext(ctx)
	for _, anIndex := range t.indexes {
		key := values[anIndex.Meta().Column]
		if err := anIndex.Insert(key, tid); err != nil {
			return err
		}
		tx.OnRollback(func() { anIndex.Delete(key, tid) })
	}
	return nil
}

func (t *Table) indexDelete(ctx context.Context, values []Value, tid TupleID) error {
	tx := TxFromContext(ctx)
	for _, anIndex := range t.indexes {
		key := values[anIndex.Meta().Column]
		if !anIndex.Delete(key, tid) {
			continue
		}
		tx.OnRollback(func() {
			if err := anIndex.Insert(key, tid); err != nil {
				t.logger.Error("failed to restore index entry", zap.String("index", anIndex.Meta().Name), zap.Error(err))
			}
		})
	}
	return nil
}

func (t *Table) checkOpen() error {
	if t.dropped {
		return fmt.Errorf("%w: table %s was dropped", ErrInvalid, t.Name)
	}
	return nil
}

func (t *Table) validateValues(values []Value) error {
	if len(values) != len(t.columns) {
		return fmt.Errorf("%w: table %s has %d columns, got %d values", ErrInvalid, t.Name, len(t.columns), len(values))
	}
	for i, aValue := range values {
		if aValue.IsNull() {
			continue
		}
		if aValue.Type() != t.columns[i].Type {
			return fmt.Errorf("%w: column %s expects %s, got %s", ErrInvalid, t.columns[i].Name, t.columns[i].Type, aValue.Type())
		}
	}
	return nil
}

func (t *Table) heapPage(ctx context.Context, reader PageReader, pageNum PageNumber) (*HeapPage, error) {
	if pageNum == HeaderPageNumber {
		return nil, fmt.Errorf("%w: page 0 is not a heap page", ErrInvalid)
	}
	aPage, err := reader.ReadPage(ctx, pageNum)
	if err != nil {
		return nil, err
	}
	return t.asOwnHeapPage(aPage, pageNum)
}

func (t *Table) asOwnHeapPage(aPage *Page, pageNum PageNumber) (*HeapPage, error) {
	hp, err := AsHeapPage(aPage)
	if err != nil {
		return nil, fmt.Errorf("page %d of table %s: %w", pageNum, t.Name, err)
	}
	if hp.TableID() != t.ID {
		return nil, fmt.Errorf("%w: page %d belongs to table id %d, not %s", ErrInvalid, pageNum, hp.TableID(), t.Name)
	}
	return hp, nil
}

func (t *Table) decodeRow(tid TupleID, record []byte) (Row, error) {
	if len(record) < rowIDSize {
		return Row{}, fmt.Errorf("%w: record %s of %d bytes has no row id", ErrParse, tid, len(record))
	}
	values, err := DecodeTuple(record[rowIDSize:], len(t.columns))
	if err != nil {
		return Row{}, fmt.Errorf("record %s: %w", tid, err)
	}
	if len(values) != len(t.columns) {
		return Row{}, fmt.Errorf("%w: record %s has %d values, table %s has %d columns", ErrParse, tid, len(values), t.Name, len(t.columns))
	}
	return Row{
		ID:     RowID(binary.LittleEndian.Uint64(record)),
		TID:    tid,
		Values: values,
	}, nil
}

// marshalRecord prefixes the encoded tuple with the row id.
func marshalRecord(rowID RowID, values []Value) ([]byte, error) {
	size, err := EncodedSize(values)
	if err != nil {
		return nil, err
	}
	record := make([]byte, rowIDSize+size)
	binary.LittleEndian.PutUint64(record, uint64(rowID))
	if _, err := EncodeTuple(values, record[rowIDSize:]); err != nil {
		return nil, err
	}
	return record, nil
}

// TableScan is a restartable cursor over a table's live rows.
type TableScan struct {
	table   *Table
	pageNum PageNumber
	current *HeapPage
	cursor  HeapCursor
}

// Next returns the next live row, or ErrNoMoreRows once the chain is exhausted.
func (s *TableScan) Next(ctx context.Context) (Row, error) {
	s.table.mu.RLock()
	defer s.table.mu.RUnlock()

	if err := s.table.checkOpen(); err != nil {
		return Row{}, err
	}
	return s.next(ctx)
}

func (s *TableScan) next(ctx context.Context) (Row, error) {
	reader := readerFromContext(ctx, s.table.store)
	for s.pageNum != 0 {
		if s.current == nil {
			hp, err := s.table.heapPage(ctx, reader, s.pageNum)
			if err != nil {
				return Row{}, err
			}
			s.current = hp
			s.cursor.Reset()
		}

		slot, record, ok := s.cursor.Next(s.current)
		if ok {
			return s.table.decodeRow(TupleID{PageNum: s.pageNum, Slot: slot}, record)
		}

		s.pageNum = s.current.NextPage()
		s.current = nil
	}
	return Row{}, ErrNoMoreRows
}

// Close releases the buffered page, the scan can be reused after Reset.
func (s *TableScan) Close() {
	s.pageNum = 0
	s.current = nil
}

// Reset rewinds the scan to the first heap page.
func (s *TableScan) Reset() {
	s.pageNum = s.table.heapRoot
	s.current = nil
	s.cursor.Reset()
}

func (t *Table) reattachIndex(anIndex *BTreeIndex) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.indexes = append(t.indexes, anIndex)
}
