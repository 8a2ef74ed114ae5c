package minidb

import (
	"cmp"
	"fmt"
	"sync"

	"github.com/google/btree"
)

const btreeDegree = 32

// TupleID locates a row physically. It is stable until the row is deleted or
// moved by an update that no longer fits its slot.
type TupleID struct {
	PageNum PageNumber
	Slot    SlotID
}

func (t TupleID) Compare(other TupleID) int {
	if c := cmp.Compare(t.PageNum, other.PageNum); c != 0 {
		return c
	}
	return cmp.Compare(t.Slot, other.Slot)
}

func (t TupleID) String() string {
	return fmt.Sprintf("(%d,%d)", t.PageNum, t.Slot)
}

type RangeBound struct {
	Value     Value
	Inclusive bool // true for >= or <=, false for > or <
}

type RangeCondition struct {
	Lower *RangeBound // nil = unbounded
	Upper *RangeBound // nil = unbounded
}

// Index lookups write matches in key order, ties broken by TupleID, into out and
// return how many were written. When more matches exist than fit, they return
// ErrFull with the count equal to len(out).
type Index interface {
	LookupEq(key Value, out []TupleID) (int, error)
	LookupRange(condition RangeCondition, out []TupleID) (int, error)
}

type indexEntry struct {
	key Value
	tid TupleID
}

func lessEntry(a, b indexEntry) bool {
	if c := a.key.Compare(b.key); c != 0 {
		return c < 0
	}
	return a.tid.Compare(b.tid) < 0
}

// BTreeIndex keeps (key, TupleID) pairs of one column ordered in memory. Null keys
// are not indexed, so unique indexes accept any number of nulls.
type BTreeIndex struct {
	meta IndexMetadata
	tree *btree.BTreeG[indexEntry]
	mu   sync.RWMutex
}

var _ Index = (*BTreeIndex)(nil)

func NewBTreeIndex(meta IndexMetadata) *BTreeIndex {
	return &BTreeIndex{
		meta: meta,
		tree: btree.NewG(btreeDegree, lessEntry),
	}
}

func (idx *BTreeIndex) Meta() IndexMetadata {
	return idx.meta
}

func (idx *BTreeIndex) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.tree.Len()
}

func (idx *BTreeIndex) Insert(key Value, tid TupleID) error {
	if key.IsNull() {
		return nil
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.meta.Unique {
		var duplicate *TupleID
		idx.tree.AscendGreaterOrEqual(indexEntry{key: key}, func(e indexEntry) bool {
			if e.key.Equal(key) && e.tid != tid {
				duplicate = &e.tid
			}
			return false
		})
		if duplicate != nil {
			return fmt.Errorf("%w: duplicate key %s in unique index %s (row at %s)", ErrInvalid, key, idx.meta.Name, *duplicate)
		}
	}

	idx.tree.ReplaceOrInsert(indexEntry{key: key, tid: tid})
	return nil
}

func (idx *BTreeIndex) Delete(key Value, tid TupleID) bool {
	if key.IsNull() {
		return false
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	_, ok := idx.tree.Delete(indexEntry{key: key, tid: tid})
	return ok
}

func (idx *BTreeIndex) LookupEq(key Value, out []TupleID) (int, error) {
	return idx.LookupRange(RangeCondition{
		Lower: &RangeBound{Value: key, Inclusive: true},
		Upper: &RangeBound{Value: key, Inclusive: true},
	}, out)
}

func (idx *BTreeIndex) LookupRange(condition RangeCondition, out []TupleID) (int, error) {
	if bound := condition.Lower; bound != nil && bound.Value.IsNull() {
		condition.Lower = nil
	}
	if bound := condition.Upper; bound != nil && bound.Value.IsNull() {
		// nothing sorts below a null upper bound
		return 0, nil
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var (
		n    = 0
		full = false
	)
	visit := func(e indexEntry) bool {
		if lower := condition.Lower; lower != nil && !lower.Inclusive && e.key.Equal(lower.Value) {
			return true
		}
		if upper := condition.Upper; upper != nil {
			c := e.key.Compare(upper.Value)
			if c > 0 || (c == 0 && !upper.Inclusive) {
				return false
			}
		}
		if n == len(out) {
			full = true
			return false
		}
		out[n] = e.tid
		n += 1
		return true
	}

	if condition.Lower == nil {
		idx.tree.Ascend(visit)
	} else {
		idx.tree.AscendGreaterOrEqual(indexEntry{key: condition.Lower.Value}, visit)
	}

	if full {
		return n, fmt.Errorf("%w: more than %d matches in index %s", ErrFull, len(out), idx.meta.Name)
	}
	return n, nil
}

// Clear drops every entry.
func (idx *BTreeIndex) Clear() {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.tree.Clear(false)
}
