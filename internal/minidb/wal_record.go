package minidb

import (
	"encoding/binary"
	"fmt"

	"github.com/golang/snappy"
	"github.com/pierrec/lz4/v4"
)

type WALOp uint8

const (
	OpInsert WALOp = iota
	OpUpdate
	OpDelete
	OpPageWrite
	OpCommit
)

const (
	WALRecordHeaderSize = 1 + 8 + 4 + 4

	walOpOffset      = 0
	walSeqOffset     = 1
	walPageOffset    = 9
	walPayloadOffset = 13
)

func (o WALOp) String() string {
	switch o {
	case OpInsert:
		return "insert"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	case OpPageWrite:
		return "page-write"
	case OpCommit:
		return "commit"
	default:
		return fmt.Sprintf("op(%d)", uint8(o))
	}
}

func (o WALOp) valid() bool {
	return o <= OpCommit
}

// Logical records describe a row mutation and are redone only when committed.
func (o WALOp) Logical() bool {
	return o == OpInsert || o == OpUpdate || o == OpDelete
}

// WALRecord is one log entry. All records of a transaction share its Seq,
// including the closing Commit.
type WALRecord struct {
	Op      WALOp
	Seq     uint64
	PageNum PageNumber
	Payload []byte
}

func (r WALRecord) Size() int {
	return WALRecordHeaderSize + len(r.Payload)
}

func (r WALRecord) Marshal(buf []byte) []byte {
	buf = append(buf, make([]byte, WALRecordHeaderSize)...)
	header := buf[len(buf)-WALRecordHeaderSize:]
	header[walOpOffset] = byte(r.Op)
	binary.LittleEndian.PutUint64(header[walSeqOffset:], r.Seq)
	binary.LittleEndian.PutUint32(header[walPageOffset:], uint32(r.PageNum))
	binary.LittleEndian.PutUint32(header[walPayloadOffset:], uint32(len(r.Payload)))
	return append(buf, r.Payload...)
}

// NewSlotPayload builds the payload of a logical record, record is empty for deletes.
func NewSlotPayload(slot SlotID, record []byte) []byte {
	payload := make([]byte, 2, 2+len(record))
	binary.LittleEndian.PutUint16(payload, uint16(slot))
	return append(payload, record...)
}

func ParseSlotPayload(payload []byte) (SlotID, []byte, error) {
	if len(payload) < 2 {
		return 0, nil, fmt.Errorf("%w: logical payload of %d bytes", ErrParse, len(payload))
	}
	return SlotID(binary.LittleEndian.Uint16(payload)), payload[2:], nil
}

// PageImageCodec selects how PageWrite images are stored in the log.
type PageImageCodec uint8

const (
	CodecNone PageImageCodec = iota
	CodecSnappy
	CodecLZ4
)

func (c PageImageCodec) String() string {
	switch c {
	case CodecNone:
		return "none"
	case CodecSnappy:
		return "snappy"
	case CodecLZ4:
		return "lz4"
	default:
		return fmt.Sprintf("codec(%d)", uint8(c))
	}
}

func ParsePageImageCodec(s string) (PageImageCodec, error) {
	switch s {
	case "", "none":
		return CodecNone, nil
	case "snappy":
		return CodecSnappy, nil
	case "lz4":
		return CodecLZ4, nil
	default:
		return CodecNone, fmt.Errorf("%w: unknown page image codec %q", ErrInvalid, s)
	}
}

// EncodePageImage returns the PageWrite payload. A raw image is exactly PageSize
// bytes, a compressed one is a codec byte followed by the compressed image and is
// only used when it is strictly shorter than the raw image.
func EncodePageImage(codec PageImageCodec, aPage *Page) []byte {
	switch codec {
	case CodecSnappy:
		compressed := snappy.Encode(nil, aPage[:])
		if 1+len(compressed) < PageSize {
			return append([]byte{byte(CodecSnappy)}, compressed...)
		}
	case CodecLZ4:
		dst := make([]byte, 1+lz4.CompressBlockBound(PageSize))
		n, err := lz4.CompressBlock(aPage[:], dst[1:], nil)
		if err == nil && n > 0 && 1+n < PageSize {
			dst[0] = byte(CodecLZ4)
			return dst[:1+n]
		}
	}
	return append([]byte(nil), aPage[:]...)
}

func DecodePageImage(payload []byte) (*Page, error) {
	aPage := new(Page)
	if len(payload) == PageSize {
		copy(aPage[:], payload)
		return aPage, nil
	}
	if len(payload) < 2 || len(payload) > PageSize {
		return nil, fmt.Errorf("%w: page image payload of %d bytes", ErrParse, len(payload))
	}

	switch PageImageCodec(payload[0]) {
	case CodecSnappy:
		decodedLen, err := snappy.DecodedLen(payload[1:])
		if err != nil || decodedLen != PageSize {
			return nil, fmt.Errorf("%w: snappy page image of %d bytes", ErrParse, decodedLen)
		}
		if _, err := snappy.Decode(aPage[:], payload[1:]); err != nil {
			return nil, fmt.Errorf("%w: decode snappy page image: %w", ErrParse, err)
		}
	case CodecLZ4:
		n, err := lz4.UncompressBlock(payload[1:], aPage[:])
		if err != nil {
			return nil, fmt.Errorf("%w: decode lz4 page image: %w", ErrParse, err)
		}
		if n != PageSize {
			return nil, fmt.Errorf("%w: lz4 page image decoded to %d bytes", ErrParse, n)
		}
	default:
		return nil, fmt.Errorf("%w: unknown page image codec %d", ErrParse, payload[0])
	}
	return aPage, nil
}
