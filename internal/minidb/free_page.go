package minidb

import (
	"encoding/binary"
	"fmt"
)

const freePageNextOffset = 1

// FreePage links a reclaimed page into the free list, the rest of the page is unused.
type FreePage struct {
	NextFreePage PageNumber // 0 if last
}

func (n FreePage) Marshal(aPage *Page) {
	aPage.Reset(PageTypeFree)
	binary.LittleEndian.PutUint32(aPage[freePageNextOffset:], uint32(n.NextFreePage))
}

func (n *FreePage) Unmarshal(aPage *Page) error {
	if aPage.Type() != PageTypeFree {
		return fmt.Errorf("%w: expected free page, got %s page", ErrInvalid, aPage.Type())
	}
	n.NextFreePage = PageNumber(binary.LittleEndian.Uint32(aPage[freePageNextOffset:]))
	return nil
}
