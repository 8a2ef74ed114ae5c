package minidb

import (
	"bytes"
	"cmp"
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
)

// ColumnType doubles as the on-disk value tag, ColumnTypeInvalid tags a NULL.
type ColumnType uint8

const (
	ColumnTypeInvalid ColumnType = iota
	ColumnTypeInt
	ColumnTypeText
)

const (
	MaxTextLength = math.MaxUint16

	tagSize          = 1
	intSize          = 8
	textLengthPrefix = 2
)

func (t ColumnType) String() string {
	switch t {
	case ColumnTypeInt:
		return "int"
	case ColumnTypeText:
		return "text"
	default:
		return "invalid"
	}
}

// Value is a single column value: NULL, a 64-bit integer or text. Text is always
// owned by the value, decoded values never alias the buffer they came from.
type Value struct {
	kind    ColumnType
	integer int64
	text    []byte
}

func Null() Value {
	return Value{}
}

func Int(x int64) Value {
	return Value{kind: ColumnTypeInt, integer: x}
}

func Text(s string) Value {
	return Value{kind: ColumnTypeText, text: append([]byte{}, s...)}
}

// TextBytes copies b into a new text value.
func TextBytes(b []byte) Value {
	return Value{kind: ColumnTypeText, text: append([]byte{}, b...)}
}

func (v Value) IsNull() bool {
	return v.kind == ColumnTypeInvalid
}

// Type returns ColumnTypeInvalid for NULL.
func (v Value) Type() ColumnType {
	return v.kind
}

func (v Value) AsInt() (int64, bool) {
	return v.integer, v.kind == ColumnTypeInt
}

func (v Value) AsText() (string, bool) {
	return string(v.text), v.kind == ColumnTypeText
}

func (v Value) Equal(other Value) bool {
	return v.Compare(other) == 0
}

// Compare orders NULL before integers and integers before text.
func (v Value) Compare(other Value) int {
	if v.kind != other.kind {
		return cmp.Compare(v.kind, other.kind)
	}
	switch v.kind {
	case ColumnTypeInt:
		return cmp.Compare(v.integer, other.integer)
	case ColumnTypeText:
		return bytes.Compare(v.text, other.text)
	default:
		return 0
	}
}

func (v Value) String() string {
	switch v.kind {
	case ColumnTypeInt:
		return strconv.FormatInt(v.integer, 10)
	case ColumnTypeText:
		return string(v.text)
	default:
		return "NULL"
	}
}

// EncodedSize returns the number of bytes EncodeTuple needs for values.
func EncodedSize(values []Value) (int, error) {
	size := 0
	for i, aValue := range values {
		size += tagSize
		switch aValue.kind {
		case ColumnTypeInvalid:
		case ColumnTypeInt:
			size += intSize
		case ColumnTypeText:
			if len(aValue.text) > MaxTextLength {
				return 0, fmt.Errorf("%w: text value %d is %d bytes, maximum is %d", ErrInvalid, i, len(aValue.text), MaxTextLength)
			}
			size += textLengthPrefix + len(aValue.text)
		default:
			return 0, fmt.Errorf("%w: value %d has unknown type %d", ErrInvalid, i, aValue.kind)
		}
	}
	return size, nil
}

// EncodeTuple serializes values in column order into buf and returns the number of bytes written.
func EncodeTuple(values []Value, buf []byte) (int, error) {
	size, err := EncodedSize(values)
	if err != nil {
		return 0, err
	}
	if len(buf) < size {
		return 0, fmt.Errorf("%w: buffer of %d bytes, tuple needs %d", ErrFull, len(buf), size)
	}

	i := 0
	for _, aValue := range values {
		buf[i] = byte(aValue.kind)
		i += tagSize

		switch aValue.kind {
		case ColumnTypeInt:
			binary.LittleEndian.PutUint64(buf[i:], uint64(aValue.integer))
			i += intSize
		case ColumnTypeText:
			binary.LittleEndian.PutUint16(buf[i:], uint16(len(aValue.text)))
			i += textLengthPrefix
			i += copy(buf[i:], aValue.text)
		}
	}

	return i, nil
}

func MarshalTuple(values []Value) ([]byte, error) {
	size, err := EncodedSize(values)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, size)
	if _, err := EncodeTuple(values, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// DecodeTuple is the inverse of EncodeTuple. It fails with ErrInvalid on an unknown
// tag or more than maxCols values, and with ErrParse on a truncated buffer.
func DecodeTuple(buf []byte, maxCols int) ([]Value, error) {
	if maxCols < 0 {
		return nil, fmt.Errorf("%w: negative column limit %d", ErrInvalid, maxCols)
	}

	var (
		values = make([]Value, 0, min(maxCols, len(buf)))
		i      = 0
	)
	for i < len(buf) {
		tag := ColumnType(buf[i])
		i += tagSize

		if len(values) == maxCols {
			return nil, fmt.Errorf("%w: tuple has more than %d values", ErrInvalid, maxCols)
		}

		switch tag {
		case ColumnTypeInvalid:
			values = append(values, Null())
		case ColumnTypeInt:
			if len(buf)-i < intSize {
				return nil, fmt.Errorf("%w: truncated integer value %d", ErrParse, len(values))
			}
			values = append(values, Int(int64(binary.LittleEndian.Uint64(buf[i:]))))
			i += intSize
		case ColumnTypeText:
			if len(buf)-i < textLengthPrefix {
				return nil, fmt.Errorf("%w: truncated text length of value %d", ErrParse, len(values))
			}
			length := int(binary.LittleEndian.Uint16(buf[i:]))
			i += textLengthPrefix
			if len(buf)-i < length {
				return nil, fmt.Errorf("%w: truncated text value %d, need %d bytes, have %d", ErrParse, len(values), length, len(buf)-i)
			}
			values = append(values, TextBytes(buf[i:i+length]))
			i += length
		default:
			return nil, fmt.Errorf("%w: unrecognised value tag %d", ErrInvalid, tag)
		}
	}
	return values, nil
}
