package minidb

import (
	"encoding/binary"
	"fmt"
)

const (
	FileMagic       = "MINIDB1\x00"
	FileVersion     = uint32(1)
	EndianLittle    = uint8(1)
	EndianBig       = uint8(2)
	FileHeaderSize  = 8 + 4 + 1 + 4
	fileHeaderMagic = 0
	fileHeaderPage  = 8
	fileHeaderEnd   = 12
	fileHeaderVer   = 13
)

// FileHeader occupies the start of page 0, the remainder of that page is zero.
type FileHeader struct {
	Magic      [8]byte
	PageSize   uint32
	Endianness uint8
	Version    uint32
}

func NewFileHeader() FileHeader {
	h := FileHeader{
		PageSize:   PageSize,
		Endianness: EndianLittle,
		Version:    FileVersion,
	}
	copy(h.Magic[:], FileMagic)
	return h
}

func (h FileHeader) Marshal(aPage *Page) {
	clear(aPage[:])
	copy(aPage[fileHeaderMagic:fileHeaderPage], h.Magic[:])
	binary.LittleEndian.PutUint32(aPage[fileHeaderPage:], h.PageSize)
	aPage[fileHeaderEnd] = h.Endianness
	binary.LittleEndian.PutUint32(aPage[fileHeaderVer:], h.Version)
}

func (h *FileHeader) Unmarshal(aPage *Page) {
	copy(h.Magic[:], aPage[fileHeaderMagic:fileHeaderPage])
	h.PageSize = binary.LittleEndian.Uint32(aPage[fileHeaderPage:])
	h.Endianness = aPage[fileHeaderEnd]
	h.Version = binary.LittleEndian.Uint32(aPage[fileHeaderVer:])
}

// Validate checks the header against what this build can read.
func (h FileHeader) Validate() error {
	if string(h.Magic[:]) != FileMagic {
		return fmt.Errorf("%w: bad magic %q", ErrUnsupportedFormat, h.Magic[:])
	}
	if h.PageSize != PageSize {
		return fmt.Errorf("%w: page size %d, expected %d", ErrUnsupportedFormat, h.PageSize, PageSize)
	}
	if h.Endianness != EndianLittle {
		return fmt.Errorf("%w: endianness %d, expected little endian", ErrUnsupportedFormat, h.Endianness)
	}
	if h.Version != FileVersion {
		return fmt.Errorf("%w: version %d, expected %d", ErrUnsupportedFormat, h.Version, FileVersion)
	}
	return nil
}
