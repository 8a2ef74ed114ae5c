package minidb

import (
	"bytes"
	"fmt"

	"go.uber.org/zap"
)

// recoveryHandler redoes logged changes straight into the page store. Logical redo
// is idempotent: a record whose effect is already on the page is skipped, and a
// record that no longer matches the page is skipped with a warning since the page
// image logged by the same transaction restores it.
type recoveryHandler struct {
	store   *PageStore
	logger  *zap.Logger
	skipped int
}

var _ ReplayHandler = (*recoveryHandler)(nil)

func (h *recoveryHandler) ApplyPageWrite(pageNum PageNumber, image *Page) error {
	if pageNum == HeaderPageNumber {
		return fmt.Errorf("%w: wal holds an image of the header page", ErrParse)
	}
	if err := h.store.Grow(pageNum); err != nil {
		return err
	}
	return h.store.Write(pageNum, image)
}

func (h *recoveryHandler) ApplyLogical(record WALRecord) error {
	slot, payload, err := ParseSlotPayload(record.Payload)
	if err != nil {
		return err
	}

	if record.PageNum == HeaderPageNumber || record.PageNum >= PageNumber(h.store.PageCount()) {
		h.skip(record, slot, "page not allocated yet")
		return nil
	}

	aPage := new(Page)
	if err := h.store.Read(record.PageNum, aPage); err != nil {
		return err
	}
	hp, err := AsHeapPage(aPage)
	if err != nil {
		h.skip(record, slot, "not a heap page")
		return nil
	}

	changed := false
	switch record.Op {
	case OpInsert:
		switch {
		case slot < hp.NumSlots():
			existing, err := hp.Get(slot)
			if err != nil || !bytes.Equal(existing, payload) {
				h.skip(record, slot, "slot holds different data")
			}
		case slot == hp.NumSlots():
			if _, err := hp.Insert(payload); err != nil {
				h.skip(record, slot, err.Error())
				break
			}
			changed = true
		default:
			h.skip(record, slot, "slot beyond directory")
		}
	case OpUpdate:
		existing, err := hp.Get(slot)
		if err != nil {
			h.skip(record, slot, err.Error())
			break
		}
		if bytes.Equal(existing, payload) {
			break
		}
		if err := hp.Replace(slot, payload); err != nil {
			h.skip(record, slot, err.Error())
			break
		}
		changed = true
	case OpDelete:
		if hp.IsLive(slot) {
			if err := hp.Delete(slot); err != nil {
				return err
			}
			changed = true
		}
	default:
		return fmt.Errorf("%w: %s is not a logical record", ErrParse, record.Op)
	}

	if !changed {
		return nil
	}
	return h.store.Write(record.PageNum, aPage)
}

func (h *recoveryHandler) skip(record WALRecord, slot SlotID, reason string) {
	h.skipped += 1
	h.logger.Warn("skipped logical redo",
		zap.Stringer("op", record.Op),
		zap.Uint64("seq", record.Seq),
		zap.Uint32("page", uint32(record.PageNum)),
		zap.Uint16("slot", uint16(slot)),
		zap.String("reason", reason),
	)
}
