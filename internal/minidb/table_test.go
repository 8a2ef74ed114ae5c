package minidb

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTable(t *testing.T) (*Database, *Table) {
	db := openTestDB(t, tempDBPath(t))
	t.Cleanup(func() { db.Close(context.Background()) })

	aTable, err := db.CreateTable(context.Background(), testTableName, testColumns)
	require.NoError(t, err)
	return db, aTable
}

func scanAll(t *testing.T, ctx context.Context, aTable *Table) []Row {
	var (
		aScan = aTable.Scan(ctx)
		rows  []Row
	)
	defer aScan.Close()
	for {
		aRow, err := aScan.Next(ctx)
		if errors.Is(err, ErrNoMoreRows) {
			return rows
		}
		require.NoError(t, err)
		rows = append(rows, aRow)
	}
}

func TestTable_InsertGet(t *testing.T) {
	t.Parallel()

	var (
		ctx       = context.Background()
		_, aTable = newTestTable(t)
		rows      = gen.Rows(20)
	)

	var lastRowID RowID
	for _, values := range rows {
		rowID, tid, err := aTable.Insert(ctx, values)
		require.NoError(t, err)
		assert.Greater(t, rowID, lastRowID)
		lastRowID = rowID

		aRow, err := aTable.Get(ctx, tid)
		require.NoError(t, err)
		assert.Equal(t, Row{ID: rowID, TID: tid, Values: values}, aRow)
	}
	assert.Equal(t, RowID(20), lastRowID)
}

func TestTable_InsertValidation(t *testing.T) {
	t.Parallel()

	var (
		ctx        = context.Background()
		db, aTable = newTestTable(t)
	)

	_, _, err := aTable.Insert(ctx, []Value{Int(1), Text("a")})
	assert.ErrorIs(t, err, ErrInvalid)

	_, _, err = aTable.Insert(ctx, []Value{Text("1"), Text("a"), Int(1)})
	assert.ErrorIs(t, err, ErrInvalid)

	_, _, err = aTable.Insert(ctx, []Value{Int(1), Text(strings.Repeat("x", MaxRecordSize)), Int(1)})
	assert.ErrorIs(t, err, ErrFull)

	// Values rejected up front do not consume row ids, the oversized record
	// already took one before the heap turned it away
	meta, err := db.catalog.Get(testTableName)
	require.NoError(t, err)
	assert.Equal(t, RowID(2), meta.NextRowID)

	rowID, _, err := aTable.Insert(ctx, []Value{Null(), Null(), Null()})
	require.NoError(t, err)
	assert.Equal(t, RowID(2), rowID)
}

func TestTable_Update(t *testing.T) {
	t.Parallel()

	var (
		ctx       = context.Background()
		_, aTable = newTestTable(t)
	)

	rowID, tid, err := aTable.Insert(ctx, []Value{Int(1), Text("john@example.com"), Int(30)})
	require.NoError(t, err)
	_, _, err = aTable.Insert(ctx, gen.Values())
	require.NoError(t, err)

	t.Run("in place when it fits", func(t *testing.T) {
		newTID, err := aTable.Update(ctx, tid, []Value{Int(1), Text("jo@example.com"), Int(31)})
		require.NoError(t, err)
		assert.Equal(t, tid, newTID)

		aRow, err := aTable.Get(ctx, tid)
		require.NoError(t, err)
		assert.Equal(t, rowID, aRow.ID)
		assert.Equal(t, []Value{Int(1), Text("jo@example.com"), Int(31)}, aRow.Values)
	})

	t.Run("moves when it grows", func(t *testing.T) {
		values := []Value{Int(1), Text("a.much.longer.address@example.com"), Int(32)}
		newTID, err := aTable.Update(ctx, tid, values)
		require.NoError(t, err)
		assert.NotEqual(t, tid, newTID)

		_, err = aTable.Get(ctx, tid)
		assert.ErrorIs(t, err, ErrInvalid)

		aRow, err := aTable.Get(ctx, newTID)
		require.NoError(t, err)
		assert.Equal(t, rowID, aRow.ID)
		assert.Equal(t, values, aRow.Values)

		assert.Len(t, scanAll(t, ctx, aTable), 2)
	})

	t.Run("missing row", func(t *testing.T) {
		_, err := aTable.Update(ctx, tid, gen.Values())
		assert.ErrorIs(t, err, ErrInvalid)
	})
}

func TestTable_Delete(t *testing.T) {
	t.Parallel()

	var (
		ctx       = context.Background()
		_, aTable = newTestTable(t)
	)

	var tids []TupleID
	for _, values := range gen.Rows(5) {
		_, tid, err := aTable.Insert(ctx, values)
		require.NoError(t, err)
		tids = append(tids, tid)
	}

	require.NoError(t, aTable.Delete(ctx, tids[2]))

	_, err := aTable.Get(ctx, tids[2])
	assert.ErrorIs(t, err, ErrInvalid)
	assert.ErrorIs(t, aTable.Delete(ctx, tids[2]), ErrInvalid)

	rows := scanAll(t, ctx, aTable)
	require.Len(t, rows, 4)
	for _, aRow := range rows {
		assert.NotEqual(t, tids[2], aRow.TID)
	}

	_, err = aTable.Get(ctx, TupleID{PageNum: CatalogPageNumber})
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestTable_ScanAcrossPages(t *testing.T) {
	t.Parallel()

	var (
		ctx       = context.Background()
		_, aTable = newTestTable(t)
		rows      = gen.Rows(300)
	)

	for _, values := range rows {
		_, _, err := aTable.Insert(ctx, values)
		require.NoError(t, err)
	}

	pages, err := aTable.HeapPages(ctx)
	require.NoError(t, err)
	assert.Greater(t, len(pages), 2)

	scanned := scanAll(t, ctx, aTable)
	require.Len(t, scanned, len(rows))
	for i, aRow := range scanned {
		assert.Equal(t, RowID(i+1), aRow.ID)
		assert.Equal(t, rows[i], aRow.Values)
	}

	t.Run("reset restarts the scan", func(t *testing.T) {
		aScan := aTable.Scan(ctx)
		first, err := aScan.Next(ctx)
		require.NoError(t, err)
		_, err = aScan.Next(ctx)
		require.NoError(t, err)

		aScan.Reset()
		again, err := aScan.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	})
}

func TestTable_Columns(t *testing.T) {
	t.Parallel()

	_, aTable := newTestTable(t)

	assert.Equal(t, testColumns, aTable.Columns())
	assert.Equal(t, 3, aTable.ColumnCount())

	columnType, err := aTable.ColumnType(1)
	require.NoError(t, err)
	assert.Equal(t, ColumnTypeText, columnType)

	name, err := aTable.ColumnName(2)
	require.NoError(t, err)
	assert.Equal(t, "age", name)

	i, err := aTable.ColumnIndex("email")
	require.NoError(t, err)
	assert.Equal(t, 1, i)

	_, err = aTable.ColumnType(3)
	assert.ErrorIs(t, err, ErrInvalid)
	_, err = aTable.ColumnName(-1)
	assert.ErrorIs(t, err, ErrInvalid)
	_, err = aTable.ColumnIndex("missing")
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestTable_IndexMaintenance(t *testing.T) {
	t.Parallel()

	var (
		ctx        = context.Background()
		db, aTable = newTestTable(t)
		out        = make([]TupleID, 8)
	)

	byEmail, err := db.CreateIndex(ctx, "users_email", testTableName, "email", true)
	require.NoError(t, err)

	_, tid, err := aTable.Insert(ctx, []Value{Int(1), Text("john@example.com"), Int(30)})
	require.NoError(t, err)

	n, err := byEmail.LookupEq(Text("john@example.com"), out)
	require.NoError(t, err)
	assert.Equal(t, []TupleID{tid}, out[:n])

	t.Run("unique violation leaves no trace", func(t *testing.T) {
		_, _, err := aTable.Insert(ctx, []Value{Int(2), Text("john@example.com"), Int(40)})
		assert.ErrorIs(t, err, ErrInvalid)

		assert.Len(t, scanAll(t, ctx, aTable), 1)
		assert.Equal(t, 1, byEmail.Len())
		meta, err := db.catalog.Get(testTableName)
		require.NoError(t, err)
		assert.Equal(t, RowID(3), meta.NextRowID)
	})

	t.Run("update moves the key", func(t *testing.T) {
		newTID, err := aTable.Update(ctx, tid, []Value{Int(1), Text("johnny.newaddress@example.com"), Int(30)})
		require.NoError(t, err)

		n, err := byEmail.LookupEq(Text("john@example.com"), out)
		require.NoError(t, err)
		assert.Equal(t, 0, n)

		n, err = byEmail.LookupEq(Text("johnny.newaddress@example.com"), out)
		require.NoError(t, err)
		assert.Equal(t, []TupleID{newTID}, out[:n])
		tid = newTID
	})

	t.Run("delete removes the key", func(t *testing.T) {
		require.NoError(t, aTable.Delete(ctx, tid))
		assert.Equal(t, 0, byEmail.Len())
	})
}

func TestTable_MultiStatementRollback(t *testing.T) {
	t.Parallel()

	var (
		ctx        = context.Background()
		db, aTable = newTestTable(t)
		errAbort   = fmt.Errorf("abort")
	)

	_, err := db.CreateIndex(ctx, "users_id", testTableName, "id", false)
	require.NoError(t, err)
	pagesBefore := db.store.PageCount()

	err = db.ExecuteInTransaction(ctx, func(ctx context.Context) error {
		for _, values := range gen.Rows(200) {
			if _, _, err := aTable.Insert(ctx, values); err != nil {
				return err
			}
		}
		// Rows are visible inside the transaction
		assert.Len(t, scanAll(t, ctx, aTable), 200)
		return errAbort
	})
	require.ErrorIs(t, err, errAbort)

	assert.Empty(t, scanAll(t, ctx, aTable))
	assert.Equal(t, pagesBefore, db.store.PageCount())

	anIndex, err := db.Index(ctx, "users_id")
	require.NoError(t, err)
	assert.Equal(t, 0, anIndex.Len())

	// The heap chain was restored, new rows land on the root page again
	_, tid, err := aTable.Insert(ctx, gen.Values())
	require.NoError(t, err)
	pages, err := aTable.HeapPages(ctx)
	require.NoError(t, err)
	assert.Equal(t, []PageNumber{tid.PageNum}, pages)
}

func TestTable_RowIDsNotReusedAfterRollback(t *testing.T) {
	t.Parallel()

	var (
		ctx        = context.Background()
		db, aTable = newTestTable(t)
		errAbort   = fmt.Errorf("abort")
	)

	var discarded RowID
	err := db.ExecuteInTransaction(ctx, func(ctx context.Context) error {
		rowID, _, err := aTable.Insert(ctx, gen.Values())
		if err != nil {
			return err
		}
		discarded = rowID
		return errAbort
	})
	require.ErrorIs(t, err, errAbort)
	assert.Equal(t, RowID(1), discarded)
	assert.Empty(t, scanAll(t, ctx, aTable))

	rowID, _, err := aTable.Insert(ctx, gen.Values())
	require.NoError(t, err)
	assert.Greater(t, rowID, discarded)

	meta, err := db.catalog.Get(testTableName)
	require.NoError(t, err)
	assert.Equal(t, rowID+1, meta.NextRowID)
}
