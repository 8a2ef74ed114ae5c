package minidb

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

const DefaultCheckpointThreshold = 4 << 20 // 4 megabytes of log

// TransactionManager enforces a single writer. A transaction commits by appending
// its logical records, full images of every page it touched and a Commit record to
// the WAL, flushing the log, and only then writing the pages to the store.
type TransactionManager struct {
	store               *PageStore
	wal                 *WAL
	logger              *zap.Logger
	checkpointThreshold int64
	syncOnCommit        bool

	nextSeq uint64
	failed  error
	// skipStoreWrites leaves committed pages only in the WAL, tests use it to
	// simulate a crash between log flush and page writes.
	skipStoreWrites bool

	writer sync.Mutex
	mu     sync.Mutex
}

func NewTransactionManager(store *PageStore, wal *WAL, logger *zap.Logger) *TransactionManager {
	return &TransactionManager{
		store:               store,
		wal:                 wal,
		logger:              logger,
		checkpointThreshold: DefaultCheckpointThreshold,
		syncOnCommit:        true,
		nextSeq:             wal.NextSeq(),
	}
}

// ExecuteInTransaction runs fn in a new transaction unless ctx already carries one,
// in which case fn joins it and the outer caller decides the outcome.
func (tm *TransactionManager) ExecuteInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if TxFromContext(ctx) != nil {
		return fn(ctx)
	}

	tm.writer.Lock()
	defer tm.writer.Unlock()

	if err := tm.healthy(); err != nil {
		return err
	}

	tx := tm.beginTransaction()
	ctx = WithTransaction(ctx, tx)

	if err := fn(ctx); err != nil {
		tm.rollbackTransaction(tx)
		return err
	}

	if err := tm.commitTransaction(tx); err != nil {
		tm.rollbackTransaction(tx)
		return err
	}

	return nil
}

func (tm *TransactionManager) beginTransaction() *Transaction {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	tx := newTransaction(tm.nextSeq, tm.store)
	tm.nextSeq += 1

	tm.logger.Debug("begin transaction", zap.Uint64("seq", tx.Seq))

	return tx
}

func (tm *TransactionManager) commitTransaction(tx *Transaction) error {
	if tx.Status != TxActive {
		return fmt.Errorf("%w: transaction %d is not active", ErrInvalid, tx.Seq)
	}

	if !tx.HasChanges() {
		tx.Status = TxCommitted
		tm.runCommitHooks(tx)
		return nil
	}

	walStart := tm.wal.Size()
	if err := tm.writeLog(tx); err != nil {
		if rewindErr := tm.wal.Rewind(walStart); rewindErr != nil {
			tm.fail(rewindErr)
		}
		return err
	}

	// From here on the transaction is durable, a failed page write is repaired by
	// replaying the log on the next open.
	tx.Status = TxCommitted
	if !tm.skipStoreWrites {
		if err := tm.writePages(tx); err != nil {
			tm.fail(err)
			tm.runCommitHooks(tx)
			return err
		}
	}
	tm.runCommitHooks(tx)

	tm.logger.Debug("commit transaction",
		zap.Uint64("seq", tx.Seq),
		zap.Int("pages", len(tx.writeSet)),
		zap.Int("records", len(tx.records)),
	)

	if !tm.skipStoreWrites && tm.checkpointThreshold > 0 && tm.wal.Size() >= tm.checkpointThreshold {
		if err := tm.checkpoint(); err != nil {
			tm.logger.Error("automatic checkpoint failed", zap.Error(err))
		}
	}

	return nil
}

func (tm *TransactionManager) writeLog(tx *Transaction) error {
	for _, aRecord := range tx.records {
		if err := tm.wal.Append(aRecord); err != nil {
			return err
		}
	}
	for _, pageNum := range tx.DirtyPages() {
		if err := tm.wal.AppendPageImage(tx.Seq, pageNum, tx.writeSet[pageNum]); err != nil {
			return err
		}
	}
	if err := tm.wal.Append(WALRecord{Op: OpCommit, Seq: tx.Seq}); err != nil {
		return err
	}
	if tm.syncOnCommit {
		return tm.wal.Flush()
	}
	return nil
}

func (tm *TransactionManager) writePages(tx *Transaction) error {
	for _, pageNum := range tx.DirtyPages() {
		aPage := tx.writeSet[pageNum]
		if !tx.IsAppended(pageNum) {
			if err := tm.store.Write(pageNum, aPage); err != nil {
				return err
			}
			continue
		}
		allocated, err := tm.store.Allocate(aPage)
		if err != nil {
			return err
		}
		if allocated != pageNum {
			return fmt.Errorf("%w: reserved page %d but store allocated %d", ErrIO, pageNum, allocated)
		}
	}
	return nil
}

func (tm *TransactionManager) runCommitHooks(tx *Transaction) {
	for _, fn := range tx.onCommit {
		fn()
	}
}

func (tm *TransactionManager) rollbackTransaction(tx *Transaction) {
	if tx.Status == TxCommitted {
		return
	}
	tx.abort()
	tm.logger.Debug("rollback transaction", zap.Uint64("seq", tx.Seq))
}

// Checkpoint syncs the store and empties the WAL. It waits for the writer so it
// never runs while a transaction is in flight.
func (tm *TransactionManager) Checkpoint(ctx context.Context) error {
	if TxFromContext(ctx) != nil {
		return fmt.Errorf("%w: checkpoint inside a transaction", ErrInvalid)
	}

	tm.writer.Lock()
	defer tm.writer.Unlock()

	if err := tm.healthy(); err != nil {
		return err
	}
	return tm.checkpoint()
}

func (tm *TransactionManager) checkpoint() error {
	walSize := tm.wal.Size()
	if err := tm.store.Sync(); err != nil {
		return err
	}
	if err := tm.wal.Checkpoint(); err != nil {
		return err
	}
	tm.logger.Info("checkpoint", zap.Int64("wal_bytes", walSize))
	return nil
}

func (tm *TransactionManager) fail(err error) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if tm.failed == nil {
		tm.failed = err
		tm.logger.Error("storage failed after commit, reopen the database to recover", zap.Error(err))
	}
}

func (tm *TransactionManager) healthy() error {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if tm.failed != nil {
		return fmt.Errorf("%w: database needs recovery: %w", ErrIO, tm.failed)
	}
	return nil
}
