package minidb

import (
	"encoding/binary"
	"fmt"
	"iter"
)

type SlotID uint16

const (
	SlotSize      = 4
	SlotTombstone = 0xFFFF

	heapTypeOffset      = 0
	heapTableIDOffset   = 1
	heapNumSlotsOffset  = 5
	heapFreeStartOffset = 7
	heapFreeEndOffset   = 9
	heapNextPageOffset  = 11
	HeapHeaderSize      = 15

	// MaxRecordSize is the largest record an empty heap page accepts.
	MaxRecordSize = PageSize - HeapHeaderSize - 2*SlotSize
)

// HeapPage is a slotted page view over a raw page:
//
//	[header][slot array ->][free space][<- record bytes]
//
// The slot array grows forward from free_start, record bytes grow backward from
// free_end. Deleting a slot only tombstones it, its record bytes are not reclaimed.
type HeapPage struct {
	page *Page
}

// InitHeapPage formats the page as an empty heap page owned by tableID.
func InitHeapPage(aPage *Page, tableID uint32) *HeapPage {
	aPage.Reset(PageTypeHeap)
	hp := &HeapPage{page: aPage}
	binary.LittleEndian.PutUint32(aPage[heapTableIDOffset:], tableID)
	hp.setNumSlots(0)
	hp.setFreeStart(HeapHeaderSize)
	hp.setFreeEnd(PageSize)
	hp.SetNextPage(0)
	return hp
}

// AsHeapPage wraps an existing heap page after checking its header is consistent.
func AsHeapPage(aPage *Page) (*HeapPage, error) {
	if aPage.Type() != PageTypeHeap {
		return nil, fmt.Errorf("%w: expected heap page, got %s page", ErrInvalid, aPage.Type())
	}
	hp := &HeapPage{page: aPage}

	var (
		freeStart = int(hp.freeStart())
		freeEnd   = int(hp.freeEnd())
		slotsEnd  = HeapHeaderSize + int(hp.NumSlots())*SlotSize
	)
	if freeStart != slotsEnd || freeStart > freeEnd || freeEnd > PageSize {
		return nil, fmt.Errorf(
			"%w: corrupt heap page header (slots=%d free_start=%d free_end=%d)",
			ErrParse, hp.NumSlots(), freeStart, freeEnd,
		)
	}
	return hp, nil
}

func (hp *HeapPage) Page() *Page {
	return hp.page
}

func (hp *HeapPage) TableID() uint32 {
	return binary.LittleEndian.Uint32(hp.page[heapTableIDOffset:])
}

func (hp *HeapPage) NumSlots() SlotID {
	return SlotID(binary.LittleEndian.Uint16(hp.page[heapNumSlotsOffset:]))
}

// NextPage is the following page of the table's heap chain, 0 terminates the chain.
func (hp *HeapPage) NextPage() PageNumber {
	return PageNumber(binary.LittleEndian.Uint32(hp.page[heapNextPageOffset:]))
}

func (hp *HeapPage) SetNextPage(pageNum PageNumber) {
	binary.LittleEndian.PutUint32(hp.page[heapNextPageOffset:], uint32(pageNum))
}

// FreeSpace is the largest record that still fits, room for its slot entry is already reserved.
func (hp *HeapPage) FreeSpace() int {
	free := int(hp.freeEnd()) - int(hp.freeStart()) - SlotSize
	if free < 0 {
		return 0
	}
	return free
}

// Insert copies the record into the page and returns its new slot.
func (hp *HeapPage) Insert(record []byte) (SlotID, error) {
	size := len(record)
	if size > hp.FreeSpace() {
		return 0, fmt.Errorf("%w: record of %d bytes does not fit, %d bytes free", ErrFull, size, hp.FreeSpace())
	}
	if hp.NumSlots() == SlotTombstone {
		return 0, fmt.Errorf("%w: slot directory exhausted", ErrFull)
	}

	var (
		slot   = hp.NumSlots()
		offset = hp.freeEnd() - uint16(size)
	)
	copy(hp.page[offset:], record)
	hp.setSlot(slot, offset, uint16(size))

	hp.setNumSlots(slot + 1)
	hp.setFreeStart(hp.freeStart() + SlotSize)
	hp.setFreeEnd(offset)

	return slot, nil
}

// Get returns the stored record. The slice aliases the page and must not be modified.
func (hp *HeapPage) Get(slot SlotID) ([]byte, error) {
	offset, size, err := hp.liveSlot(slot)
	if err != nil {
		return nil, err
	}
	end := int(offset) + int(size)
	return hp.page[offset:end:end], nil
}

// Delete tombstones the slot.
func (hp *HeapPage) Delete(slot SlotID) error {
	offset, _, err := hp.liveSlot(slot)
	if err != nil {
		return err
	}
	hp.setSlot(slot, offset, SlotTombstone)
	return nil
}

// Replace overwrites a live record in place, the new record must not be larger than the old one.
func (hp *HeapPage) Replace(slot SlotID, record []byte) error {
	offset, size, err := hp.liveSlot(slot)
	if err != nil {
		return err
	}
	if len(record) > int(size) {
		return fmt.Errorf("%w: record of %d bytes does not fit into slot %d of %d bytes", ErrFull, len(record), slot, size)
	}
	copy(hp.page[offset:], record)
	hp.setSlot(slot, offset, uint16(len(record)))
	return nil
}

func (hp *HeapPage) IsLive(slot SlotID) bool {
	_, _, err := hp.liveSlot(slot)
	return err == nil
}

// LiveCount returns the number of slots that are not tombstoned.
func (hp *HeapPage) LiveCount() int {
	count := 0
	for range hp.All() {
		count += 1
	}
	return count
}

// All iterates live records in slot order. Every call starts from the first slot.
func (hp *HeapPage) All() iter.Seq2[SlotID, []byte] {
	return func(yield func(SlotID, []byte) bool) {
		var cursor HeapCursor
		for {
			slot, record, ok := cursor.Next(hp)
			if !ok || !yield(slot, record) {
				return
			}
		}
	}
}

// HeapCursor remembers only the next slot to visit so it can be used across
// different copies of the same page.
type HeapCursor struct {
	next SlotID
}

func (c *HeapCursor) Next(hp *HeapPage) (SlotID, []byte, bool) {
	for c.next < hp.NumSlots() {
		slot := c.next
		c.next += 1

		record, err := hp.Get(slot)
		if err != nil {
			continue
		}
		return slot, record, true
	}
	return 0, nil, false
}

func (c *HeapCursor) Reset() {
	c.next = 0
}

func (hp *HeapPage) liveSlot(slot SlotID) (uint16, uint16, error) {
	if slot >= hp.NumSlots() {
		return 0, 0, fmt.Errorf("%w: slot %d out of range, page has %d slots", ErrInvalid, slot, hp.NumSlots())
	}
	offset, size := hp.slot(slot)
	if size == SlotTombstone {
		return 0, 0, fmt.Errorf("%w: slot %d is deleted", ErrInvalid, slot)
	}
	if int(offset) < int(hp.freeStart()) || int(offset)+int(size) > PageSize {
		return 0, 0, fmt.Errorf("%w: slot %d points outside record area", ErrParse, slot)
	}
	return offset, size, nil
}

func (hp *HeapPage) slot(slot SlotID) (uint16, uint16) {
	i := HeapHeaderSize + int(slot)*SlotSize
	return binary.LittleEndian.Uint16(hp.page[i:]), binary.LittleEndian.Uint16(hp.page[i+2:])
}

func (hp *HeapPage) setSlot(slot SlotID, offset, size uint16) {
	i := HeapHeaderSize + int(slot)*SlotSize
	binary.LittleEndian.PutUint16(hp.page[i:], offset)
	binary.LittleEndian.PutUint16(hp.page[i+2:], size)
}

func (hp *HeapPage) setNumSlots(n SlotID) {
	binary.LittleEndian.PutUint16(hp.page[heapNumSlotsOffset:], uint16(n))
}

func (hp *HeapPage) freeStart() uint16 {
	return binary.LittleEndian.Uint16(hp.page[heapFreeStartOffset:])
}

func (hp *HeapPage) setFreeStart(n uint16) {
	binary.LittleEndian.PutUint16(hp.page[heapFreeStartOffset:], n)
}

func (hp *HeapPage) freeEnd() uint16 {
	return binary.LittleEndian.Uint16(hp.page[heapFreeEndOffset:])
}

func (hp *HeapPage) setFreeEnd(n uint16) {
	binary.LittleEndian.PutUint16(hp.page[heapFreeEndOffset:], n)
}
