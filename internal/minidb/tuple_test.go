package minidb

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTuple_EncodeDecode(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		Name   string
		Values []Value
		Size   int
	}{
		{
			Name:   "empty tuple",
			Values: []Value{},
			Size:   0,
		},
		{
			Name:   "null and empty text are distinct",
			Values: []Value{Null(), Text("")},
			Size:   1 + 1 + 2,
		},
		{
			Name:   "integer limits",
			Values: []Value{Int(math.MinInt64), Int(0), Int(math.MaxInt64)},
			Size:   3 * 9,
		},
		{
			Name:   "mixed",
			Values: []Value{Int(42), Text("john@example.com"), Null()},
			Size:   9 + 3 + 16 + 1,
		},
		{
			Name:   "maximum text",
			Values: []Value{Text(strings.Repeat("a", MaxTextLength))},
			Size:   1 + 2 + MaxTextLength,
		},
	}

	for _, aTestCase := range testCases {
		t.Run(aTestCase.Name, func(t *testing.T) {
			size, err := EncodedSize(aTestCase.Values)
			require.NoError(t, err)
			assert.Equal(t, aTestCase.Size, size)

			buf, err := MarshalTuple(aTestCase.Values)
			require.NoError(t, err)
			assert.Len(t, buf, size)

			decoded, err := DecodeTuple(buf, len(aTestCase.Values))
			require.NoError(t, err)
			require.Len(t, decoded, len(aTestCase.Values))
			for i := range decoded {
				assert.True(t, aTestCase.Values[i].Equal(decoded[i]), "value %d: %s != %s", i, aTestCase.Values[i], decoded[i])
				assert.Equal(t, aTestCase.Values[i].IsNull(), decoded[i].IsNull())
			}
		})
	}
}

func TestTuple_RandomRoundTrip(t *testing.T) {
	t.Parallel()

	for range 50 {
		values := gen.Values()
		buf, err := MarshalTuple(values)
		require.NoError(t, err)

		decoded, err := DecodeTuple(buf, len(values))
		require.NoError(t, err)
		assert.Equal(t, values, decoded)
	}
}

func TestTuple_DecodedTextIsOwned(t *testing.T) {
	t.Parallel()

	buf, err := MarshalTuple([]Value{Text("hello")})
	require.NoError(t, err)

	decoded, err := DecodeTuple(buf, 1)
	require.NoError(t, err)

	clear(buf)

	text, ok := decoded[0].AsText()
	require.True(t, ok)
	assert.Equal(t, "hello", text)
}

func TestTuple_Errors(t *testing.T) {
	t.Parallel()

	t.Run("buffer too small", func(t *testing.T) {
		_, err := EncodeTuple([]Value{Int(1)}, make([]byte, 8))
		assert.ErrorIs(t, err, ErrFull)
	})

	t.Run("text too long", func(t *testing.T) {
		_, err := EncodedSize([]Value{Text(strings.Repeat("a", MaxTextLength+1))})
		assert.ErrorIs(t, err, ErrInvalid)
	})

	t.Run("unknown tag", func(t *testing.T) {
		_, err := DecodeTuple([]byte{9}, 1)
		assert.ErrorIs(t, err, ErrInvalid)
	})

	t.Run("too many columns", func(t *testing.T) {
		buf, err := MarshalTuple([]Value{Int(1), Int(2)})
		require.NoError(t, err)
		_, err = DecodeTuple(buf, 1)
		assert.ErrorIs(t, err, ErrInvalid)
	})

	t.Run("negative column limit", func(t *testing.T) {
		buf, err := MarshalTuple([]Value{Int(1)})
		require.NoError(t, err)
		_, err = DecodeTuple(buf, -1)
		assert.ErrorIs(t, err, ErrInvalid)
	})

	t.Run("truncated integer", func(t *testing.T) {
		buf, err := MarshalTuple([]Value{Int(1)})
		require.NoError(t, err)
		_, err = DecodeTuple(buf[:5], 1)
		assert.ErrorIs(t, err, ErrParse)
	})

	t.Run("truncated text", func(t *testing.T) {
		buf, err := MarshalTuple([]Value{Text("hello")})
		require.NoError(t, err)
		_, err = DecodeTuple(buf[:len(buf)-1], 1)
		assert.ErrorIs(t, err, ErrParse)
	})
}

func TestValue_Compare(t *testing.T) {
	t.Parallel()

	assert.Equal(t, -1, Null().Compare(Int(math.MinInt64)))
	assert.Equal(t, -1, Int(math.MaxInt64).Compare(Text("")))
	assert.Equal(t, 0, Int(5).Compare(Int(5)))
	assert.Equal(t, 1, Int(6).Compare(Int(5)))
	assert.Equal(t, -1, Text("abc").Compare(Text("abd")))
	assert.Equal(t, 0, Null().Compare(Null()))
	assert.False(t, Null().Equal(Text("")))
	assert.Equal(t, "NULL", Null().String())
	assert.Equal(t, "42", Int(42).String())
}
