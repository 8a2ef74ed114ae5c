package minidb

import (
	"context"
	"fmt"
)

// PageReader returns pages that must be treated as read only.
type PageReader interface {
	ReadPage(context.Context, PageNumber) (*Page, error)
}

// Pager is the write path every mutation goes through. Pages returned by ModifyPage
// and AppendPage belong to the active transaction until it commits or rolls back.
type Pager interface {
	PageReader
	ModifyPage(context.Context, PageNumber) (*Page, error)
	AppendPage(context.Context) (PageNumber, *Page, error)
}

type storeReader struct {
	store *PageStore
}

func (r storeReader) ReadPage(ctx context.Context, pageNum PageNumber) (*Page, error) {
	aPage := new(Page)
	if err := r.store.Read(pageNum, aPage); err != nil {
		return nil, err
	}
	return aPage, nil
}

// readerFromContext prefers the transaction in ctx so callers observe their own writes.
func readerFromContext(ctx context.Context, store *PageStore) PageReader {
	if tx := TxFromContext(ctx); tx != nil {
		return tx
	}
	return storeReader{store: store}
}

func pagerFromContext(ctx context.Context) (Pager, error) {
	if tx := TxFromContext(ctx); tx != nil {
		return tx, nil
	}
	return nil, fmt.Errorf("%w: no transaction in context", ErrInvalid)
}
