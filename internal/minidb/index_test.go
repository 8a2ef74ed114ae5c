package minidb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBTreeIndex_LookupEq(t *testing.T) {
	t.Parallel()

	anIndex := NewBTreeIndex(IndexMetadata{Name: "idx_age", Table: testTableName, Column: 2})

	for i := range 10 {
		require.NoError(t, anIndex.Insert(Int(int64(i%3)), TupleID{PageNum: PageNumber(10 - i), Slot: SlotID(i)}))
	}
	require.NoError(t, anIndex.Insert(Null(), TupleID{PageNum: 50}))
	assert.Equal(t, 10, anIndex.Len())

	t.Run("matches in tuple order", func(t *testing.T) {
		out := make([]TupleID, 10)
		n, err := anIndex.LookupEq(Int(1), out)
		require.NoError(t, err)
		assert.Equal(t, []TupleID{
			{PageNum: 3, Slot: 7},
			{PageNum: 6, Slot: 4},
			{PageNum: 9, Slot: 1},
		}, out[:n])
	})

	t.Run("no match", func(t *testing.T) {
		out := make([]TupleID, 10)
		n, err := anIndex.LookupEq(Int(7), out)
		require.NoError(t, err)
		assert.Equal(t, 0, n)

		n, err = anIndex.LookupEq(Null(), out)
		require.NoError(t, err)
		assert.Equal(t, 0, n)
	})

	t.Run("more matches than capacity", func(t *testing.T) {
		out := make([]TupleID, 2)
		n, err := anIndex.LookupEq(Int(0), out)
		require.ErrorIs(t, err, ErrFull)
		assert.Equal(t, 2, n)
		assert.Equal(t, []TupleID{{PageNum: 1, Slot: 9}, {PageNum: 4, Slot: 6}}, out)

		// Exactly enough room is not an error
		out = make([]TupleID, 4)
		n, err = anIndex.LookupEq(Int(0), out)
		require.NoError(t, err)
		assert.Equal(t, 4, n)
	})
}

func TestBTreeIndex_LookupRange(t *testing.T) {
	t.Parallel()

	anIndex := NewBTreeIndex(IndexMetadata{Name: "idx_id", Table: testTableName, Column: 0})
	for i := range 20 {
		require.NoError(t, anIndex.Insert(Int(int64(i)), TupleID{PageNum: 2, Slot: SlotID(i)}))
	}

	slots := func(tids []TupleID) []SlotID {
		result := make([]SlotID, 0, len(tids))
		for _, tid := range tids {
			result = append(result, tid.Slot)
		}
		return result
	}

	testCases := []struct {
		Name      string
		Condition RangeCondition
		Expected  []SlotID
	}{
		{
			Name: "inclusive bounds",
			Condition: RangeCondition{
				Lower: &RangeBound{Value: Int(5), Inclusive: true},
				Upper: &RangeBound{Value: Int(8), Inclusive: true},
			},
			Expected: []SlotID{5, 6, 7, 8},
		},
		{
			Name: "exclusive bounds",
			Condition: RangeCondition{
				Lower: &RangeBound{Value: Int(5)},
				Upper: &RangeBound{Value: Int(8)},
			},
			Expected: []SlotID{6, 7},
		},
		{
			Name: "lower unbounded",
			Condition: RangeCondition{
				Upper: &RangeBound{Value: Int(2)},
			},
			Expected: []SlotID{0, 1},
		},
		{
			Name: "upper unbounded",
			Condition: RangeCondition{
				Lower: &RangeBound{Value: Int(17), Inclusive: true},
			},
			Expected: []SlotID{17, 18, 19},
		},
		{
			Name: "empty range",
			Condition: RangeCondition{
				Lower: &RangeBound{Value: Int(9)},
				Upper: &RangeBound{Value: Int(9)},
			},
			Expected: []SlotID{},
		},
	}

	for _, aTestCase := range testCases {
		t.Run(aTestCase.Name, func(t *testing.T) {
			out := make([]TupleID, 32)
			n, err := anIndex.LookupRange(aTestCase.Condition, out)
			require.NoError(t, err)
			assert.Equal(t, aTestCase.Expected, slots(out[:n]))
		})
	}

	t.Run("full scan overflows", func(t *testing.T) {
		out := make([]TupleID, 5)
		n, err := anIndex.LookupRange(RangeCondition{}, out)
		require.ErrorIs(t, err, ErrFull)
		assert.Equal(t, 5, n)
		assert.Equal(t, []SlotID{0, 1, 2, 3, 4}, slots(out))
	})
}

func TestBTreeIndex_Unique(t *testing.T) {
	t.Parallel()

	anIndex := NewBTreeIndex(IndexMetadata{Name: "idx_email", Table: testTableName, Column: 1, Unique: true})

	email := Text(gen.Email())
	require.NoError(t, anIndex.Insert(email, TupleID{PageNum: 2, Slot: 0}))

	err := anIndex.Insert(email, TupleID{PageNum: 2, Slot: 1})
	assert.ErrorIs(t, err, ErrInvalid)

	// Re-inserting the same entry is not a violation
	require.NoError(t, anIndex.Insert(email, TupleID{PageNum: 2, Slot: 0}))

	// Nulls never collide
	require.NoError(t, anIndex.Insert(Null(), TupleID{PageNum: 2, Slot: 2}))
	require.NoError(t, anIndex.Insert(Null(), TupleID{PageNum: 2, Slot: 3}))

	assert.True(t, anIndex.Delete(email, TupleID{PageNum: 2, Slot: 0}))
	assert.False(t, anIndex.Delete(email, TupleID{PageNum: 2, Slot: 0}))
	require.NoError(t, anIndex.Insert(email, TupleID{PageNum: 2, Slot: 1}))
	assert.Equal(t, 1, anIndex.Len())
}

func TestTupleID_Compare(t *testing.T) {
	t.Parallel()

	assert.Equal(t, -1, TupleID{PageNum: 1, Slot: 9}.Compare(TupleID{PageNum: 2, Slot: 0}))
	assert.Equal(t, 1, TupleID{PageNum: 2, Slot: 1}.Compare(TupleID{PageNum: 2, Slot: 0}))
	assert.Equal(t, 0, TupleID{PageNum: 2, Slot: 1}.Compare(TupleID{PageNum: 2, Slot: 1}))
	assert.Equal(t, "(2,1)", TupleID{PageNum: 2, Slot: 1}.String())
}
