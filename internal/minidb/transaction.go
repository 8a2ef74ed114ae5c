package minidb

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"time"
)

type txKeyType struct{}

var txKey = txKeyType{}

func WithTransaction(ctx context.Context, tx *Transaction) context.Context {
	return context.WithValue(ctx, txKey, tx)
}

func TxFromContext(ctx context.Context) *Transaction {
	if tx, ok := ctx.Value(txKey).(*Transaction); ok {
		return tx
	}
	return nil
}

type TransactionStatus int

const (
	TxActive TransactionStatus = iota + 1
	TxCommitted
	TxAborted
)

// Transaction buffers page changes and logical log records until commit. The
// sequence number is shared by every WAL record the transaction produces.
type Transaction struct {
	Seq       uint64
	StartTime time.Time
	Status    TransactionStatus

	store      *PageStore
	baseCount  uint32
	writeSet   map[PageNumber]*Page
	appended   []PageNumber
	records    []WALRecord
	onCommit   []func()
	onRollback []func()
}

func newTransaction(seq uint64, store *PageStore) *Transaction {
	return &Transaction{
		Seq:       seq,
		StartTime: time.Now(),
		Status:    TxActive,
		store:     store,
		baseCount: store.PageCount(),
		writeSet:  make(map[PageNumber]*Page),
	}
}

// ReadPage returns the transaction's own copy when the page was modified, otherwise
// a fresh copy from the store.
func (tx *Transaction) ReadPage(ctx context.Context, pageNum PageNumber) (*Page, error) {
	if aPage, ok := tx.writeSet[pageNum]; ok {
		return aPage, nil
	}
	aPage := new(Page)
	if err := tx.store.Read(pageNum, aPage); err != nil {
		return nil, err
	}
	return aPage, nil
}

func (tx *Transaction) ModifyPage(ctx context.Context, pageNum PageNumber) (*Page, error) {
	if aPage, ok := tx.writeSet[pageNum]; ok {
		return aPage, nil
	}
	if pageNum == HeaderPageNumber {
		return nil, fmt.Errorf("%w: header page is read only", ErrInvalid)
	}
	aPage := new(Page)
	if err := tx.store.Read(pageNum, aPage); err != nil {
		return nil, err
	}
	tx.writeSet[pageNum] = aPage
	return aPage, nil
}

// AppendPage reserves the next page number past the end of the file. The page
// is allocated in the store when the transaction commits.
func (tx *Transaction) AppendPage(ctx context.Context) (PageNumber, *Page, error) {
	pageNum := PageNumber(tx.baseCount) + PageNumber(len(tx.appended))
	aPage := new(Page)
	aPage.Reset(PageTypeFree)
	tx.writeSet[pageNum] = aPage
	tx.appended = append(tx.appended, pageNum)
	return pageNum, aPage, nil
}

// Log records a logical row mutation.
func (tx *Transaction) Log(op WALOp, pageNum PageNumber, slot SlotID, record []byte) {
	tx.records = append(tx.records, WALRecord{
		Op:      op,
		Seq:     tx.Seq,
		PageNum: pageNum,
		Payload: NewSlotPayload(slot, record),
	})
}

// OnCommit registers fn to run once the transaction is durable.
func (tx *Transaction) OnCommit(fn func()) {
	tx.onCommit = append(tx.onCommit, fn)
}

// OnRollback registers fn to undo in-memory state, hooks run in reverse order.
func (tx *Transaction) OnRollback(fn func()) {
	tx.onRollback = append(tx.onRollback, fn)
}

func (tx *Transaction) IsAppended(pageNum PageNumber) bool {
	return pageNum >= PageNumber(tx.baseCount)
}

// DirtyPages returns the modified page numbers in ascending order.
func (tx *Transaction) DirtyPages() []PageNumber {
	return slices.Sorted(maps.Keys(tx.writeSet))
}

func (tx *Transaction) HasChanges() bool {
	return len(tx.writeSet) > 0 || len(tx.records) > 0
}

func (tx *Transaction) abort() {
	tx.Status = TxAborted
	for i := len(tx.onRollback) - 1; i >= 0; i-- {
		tx.onRollback[i]()
	}
	tx.writeSet = make(map[PageNumber]*Page)
	tx.appended = nil
	tx.records = nil
	tx.onCommit = nil
	tx.onRollback = nil
}
