package minidb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeapPage_Init(t *testing.T) {
	t.Parallel()

	hp := InitHeapPage(new(Page), 3)

	assert.Equal(t, PageTypeHeap, hp.Page().Type())
	assert.Equal(t, uint32(3), hp.TableID())
	assert.Equal(t, SlotID(0), hp.NumSlots())
	assert.Equal(t, PageNumber(0), hp.NextPage())
	assert.Equal(t, PageSize-HeapHeaderSize-SlotSize, hp.FreeSpace())
	assert.Equal(t, 0, hp.LiveCount())
}

func TestHeapPage_InsertGet(t *testing.T) {
	t.Parallel()

	var (
		hp      = InitHeapPage(new(Page), 1)
		records = make(map[SlotID][]byte)
	)
	for {
		record := gen.Record(gen.IntRange(1, 300))
		if len(record) > hp.FreeSpace() {
			_, err := hp.Insert(record)
			require.ErrorIs(t, err, ErrFull)
			break
		}
		slot, err := hp.Insert(record)
		require.NoError(t, err)
		records[slot] = record
	}

	require.NotEmpty(t, records)
	for slot, record := range records {
		actual, err := hp.Get(slot)
		require.NoError(t, err)
		assert.Equal(t, record, actual)
	}
	assert.Equal(t, len(records), hp.LiveCount())
}

func TestHeapPage_FullAfterFixedSizeInserts(t *testing.T) {
	t.Parallel()

	var (
		hp       = InitHeapPage(new(Page), 1)
		record   = gen.Record(100)
		inserted = 0
	)
	for hp.FreeSpace() >= len(record) {
		_, err := hp.Insert(record)
		require.NoError(t, err)
		inserted += 1
	}

	_, err := hp.Insert(record)
	require.ErrorIs(t, err, ErrFull)

	// (4096 - 15) / (100 + 4) rounded down
	assert.Equal(t, 39, inserted)
	assert.Less(t, int(hp.freeEnd())-int(hp.freeStart()), len(record)+SlotSize)
}

func TestHeapPage_MaxRecord(t *testing.T) {
	t.Parallel()

	hp := InitHeapPage(new(Page), 1)

	_, err := hp.Insert(gen.Record(MaxRecordSize + SlotSize + 1))
	require.ErrorIs(t, err, ErrFull)

	record := gen.Record(hp.FreeSpace())
	slot, err := hp.Insert(record)
	require.NoError(t, err)

	actual, err := hp.Get(slot)
	require.NoError(t, err)
	assert.Equal(t, record, actual)
	assert.Equal(t, 0, hp.FreeSpace())
}

func TestHeapPage_Delete(t *testing.T) {
	t.Parallel()

	hp := InitHeapPage(new(Page), 1)

	var slots []SlotID
	for range 5 {
		slot, err := hp.Insert(gen.Record(50))
		require.NoError(t, err)
		slots = append(slots, slot)
	}
	freeBefore := hp.FreeSpace()

	require.NoError(t, hp.Delete(slots[1]))
	require.NoError(t, hp.Delete(slots[3]))

	_, err := hp.Get(slots[1])
	assert.ErrorIs(t, err, ErrInvalid)
	assert.ErrorIs(t, hp.Delete(slots[1]), ErrInvalid)
	assert.False(t, hp.IsLive(slots[3]))

	// Deleted bytes are not reclaimed
	assert.Equal(t, freeBefore, hp.FreeSpace())
	assert.Equal(t, 3, hp.LiveCount())

	var visited []SlotID
	for slot := range hp.All() {
		visited = append(visited, slot)
	}
	assert.Equal(t, []SlotID{slots[0], slots[2], slots[4]}, visited)

	_, err = hp.Get(SlotID(99))
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestHeapPage_Replace(t *testing.T) {
	t.Parallel()

	hp := InitHeapPage(new(Page), 1)

	slot, err := hp.Insert(gen.Record(80))
	require.NoError(t, err)

	shorter := gen.Record(40)
	require.NoError(t, hp.Replace(slot, shorter))

	actual, err := hp.Get(slot)
	require.NoError(t, err)
	assert.Equal(t, shorter, actual)

	err = hp.Replace(slot, gen.Record(41))
	assert.ErrorIs(t, err, ErrFull)
}

func TestHeapPage_Iteration(t *testing.T) {
	t.Parallel()

	hp := InitHeapPage(new(Page), 1)
	var records [][]byte
	for range 10 {
		record := gen.Record(gen.IntRange(1, 64))
		_, err := hp.Insert(record)
		require.NoError(t, err)
		records = append(records, record)
	}

	t.Run("restartable", func(t *testing.T) {
		for range 2 {
			var actual [][]byte
			for _, record := range hp.All() {
				actual = append(actual, record)
			}
			assert.Equal(t, records, actual)
		}
	})

	t.Run("cursor survives page copies", func(t *testing.T) {
		var (
			cursor HeapCursor
			actual [][]byte
		)
		for {
			copied, err := AsHeapPage(hp.Page().Clone())
			require.NoError(t, err)
			_, record, ok := cursor.Next(copied)
			if !ok {
				break
			}
			actual = append(actual, record)
		}
		assert.Equal(t, records, actual)

		cursor.Reset()
		slot, _, ok := cursor.Next(hp)
		require.True(t, ok)
		assert.Equal(t, SlotID(0), slot)
	})
}

func TestAsHeapPage(t *testing.T) {
	t.Parallel()

	t.Run("not a heap page", func(t *testing.T) {
		aPage := new(Page)
		aPage.Reset(PageTypeFree)
		_, err := AsHeapPage(aPage)
		assert.ErrorIs(t, err, ErrInvalid)
	})

	t.Run("corrupt header", func(t *testing.T) {
		hp := InitHeapPage(new(Page), 1)
		hp.setFreeStart(PageSize - 1)
		_, err := AsHeapPage(hp.Page())
		assert.ErrorIs(t, err, ErrParse)
	})

	t.Run("next page link", func(t *testing.T) {
		hp := InitHeapPage(new(Page), 1)
		hp.SetNextPage(42)

		reread, err := AsHeapPage(hp.Page())
		require.NoError(t, err)
		assert.Equal(t, PageNumber(42), reread.NextPage())
		assert.Equal(t, uint32(1), reread.TableID())
	})
}
