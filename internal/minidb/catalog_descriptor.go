package minidb

import (
	"encoding/binary"
	"fmt"
	"slices"

	"github.com/OneOfOne/xxhash"

	"github.com/RichardKnop/minidb/pkg/bitwise"
)

const (
	CatalogMagic = "MDBCATv1"

	MaxNameLength = 64
	MaxColumns    = 64

	catalogStreamHeaderSize = 8 + 8 + 4 // magic, checksum, body length
	catalogBodyHeaderSize   = 2 + 2 + 4 + 4
	descriptorLengthSize    = 2

	tableDescriptorFixed = 5 // name, id, heap root, next row id, column count
	indexDescriptorSize  = 6

	// bits of the index descriptor flags value
	indexFlagUnique = 0
)

type RowID uint64

type IndexType uint8

const (
	IndexTypeBTree IndexType = iota + 1
)

func (t IndexType) String() string {
	switch t {
	case IndexTypeBTree:
		return "btree"
	default:
		return "unknown"
	}
}

type Column struct {
	Name string
	Type ColumnType
}

type TableMetadata struct {
	Name      string
	ID        uint32
	HeapRoot  PageNumber
	NextRowID RowID
	Columns   []Column
}

func (t TableMetadata) ColumnCount() int {
	return len(t.Columns)
}

type IndexMetadata struct {
	Name   string
	Table  string
	Column int
	Type   IndexType
	Unique bool
	Root   PageNumber
}

// catalogState is everything the catalog persists plus the pages holding it.
type catalogState struct {
	tables      []TableMetadata
	indexes     []IndexMetadata
	freeHead    PageNumber
	nextTableID uint32
	chain       []PageNumber
}

func newCatalogState() catalogState {
	return catalogState{nextTableID: 1}
}

// clone copies the descriptor slices, column slices are never mutated in place.
func (s catalogState) clone() catalogState {
	return catalogState{
		tables:      slices.Clone(s.tables),
		indexes:     slices.Clone(s.indexes),
		freeHead:    s.freeHead,
		nextTableID: s.nextTableID,
		chain:       slices.Clone(s.chain),
	}
}

// withRowIDsFrom returns a copy of s whose tables keep the higher of their own
// and current's NextRowID, so row IDs handed out since s are not issued again.
func (s catalogState) withRowIDsFrom(current catalogState) catalogState {
	restored := s.clone()
	for i, aTable := range restored.tables {
		idx := current.tableIdx(aTable.Name)
		if idx < 0 || current.tables[idx].ID != aTable.ID {
			continue
		}
		restored.tables[i].NextRowID = max(aTable.NextRowID, current.tables[idx].NextRowID)
	}
	return restored
}

func (s catalogState) tableIdx(name string) int {
	return slices.IndexFunc(s.tables, func(t TableMetadata) bool { return t.Name == name })
}

func (s catalogState) indexIdx(name string) int {
	return slices.IndexFunc(s.indexes, func(i IndexMetadata) bool { return i.Name == name })
}

func (s catalogState) marshal() ([]byte, error) {
	body := make([]byte, catalogBodyHeaderSize)
	binary.LittleEndian.PutUint16(body[0:], uint16(len(s.tables)))
	binary.LittleEndian.PutUint16(body[2:], uint16(len(s.indexes)))
	binary.LittleEndian.PutUint32(body[4:], uint32(s.freeHead))
	binary.LittleEndian.PutUint32(body[8:], s.nextTableID)

	for _, aTable := range s.tables {
		values := []Value{
			Text(aTable.Name),
			Int(int64(aTable.ID)),
			Int(int64(aTable.HeapRoot)),
			Int(int64(aTable.NextRowID)),
			Int(int64(len(aTable.Columns))),
		}
		for _, aColumn := range aTable.Columns {
			values = append(values, Text(aColumn.Name), Int(int64(aColumn.Type)))
		}
		var err error
		body, err = appendDescriptor(body, values)
		if err != nil {
			return nil, fmt.Errorf("table %s: %w", aTable.Name, err)
		}
	}

	for _, anIndex := range s.indexes {
		var flags uint64
		if anIndex.Unique {
			flags = bitwise.Set(flags, indexFlagUnique)
		}
		var err error
		body, err = appendDescriptor(body, []Value{
			Text(anIndex.Name),
			Text(anIndex.Table),
			Int(int64(anIndex.Column)),
			Int(int64(anIndex.Type)),
			Int(int64(flags)),
			Int(int64(anIndex.Root)),
		})
		if err != nil {
			return nil, fmt.Errorf("index %s: %w", anIndex.Name, err)
		}
	}

	stream := make([]byte, catalogStreamHeaderSize, catalogStreamHeaderSize+len(body))
	copy(stream, CatalogMagic)
	binary.LittleEndian.PutUint64(stream[8:], xxhash.Checksum64(body))
	binary.LittleEndian.PutUint32(stream[16:], uint32(len(body)))

	return append(stream, body...), nil
}

func appendDescriptor(buf []byte, values []Value) ([]byte, error) {
	encoded, err := MarshalTuple(values)
	if err != nil {
		return nil, err
	}
	if len(encoded) > 0xFFFF {
		return nil, fmt.Errorf("%w: descriptor of %d bytes", ErrFull, len(encoded))
	}
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(encoded)))
	return append(buf, encoded...), nil
}

func unmarshalCatalogState(stream []byte) (catalogState, error) {
	state := newCatalogState()

	if len(stream) < catalogStreamHeaderSize {
		return state, fmt.Errorf("%w: catalog stream of %d bytes", ErrParse, len(stream))
	}
	if string(stream[:8]) != CatalogMagic {
		return state, fmt.Errorf("%w: bad catalog magic %q", ErrParse, stream[:8])
	}
	var (
		checksum = binary.LittleEndian.Uint64(stream[8:])
		bodyLen  = int(binary.LittleEndian.Uint32(stream[16:]))
	)
	if len(stream)-catalogStreamHeaderSize < bodyLen {
		return state, fmt.Errorf("%w: catalog body of %d bytes, only %d stored", ErrParse, bodyLen, len(stream)-catalogStreamHeaderSize)
	}
	body := stream[catalogStreamHeaderSize : catalogStreamHeaderSize+bodyLen]
	if xxhash.Checksum64(body) != checksum {
		return state, fmt.Errorf("%w: catalog checksum mismatch", ErrParse)
	}
	if len(body) < catalogBodyHeaderSize {
		return state, fmt.Errorf("%w: catalog body of %d bytes", ErrParse, len(body))
	}

	var (
		numTables  = int(binary.LittleEndian.Uint16(body[0:]))
		numIndexes = int(binary.LittleEndian.Uint16(body[2:]))
		i          = catalogBodyHeaderSize
	)
	state.freeHead = PageNumber(binary.LittleEndian.Uint32(body[4:]))
	state.nextTableID = binary.LittleEndian.Uint32(body[8:])

	next := func() ([]byte, error) {
		if len(body)-i < descriptorLengthSize {
			return nil, fmt.Errorf("%w: truncated descriptor length", ErrParse)
		}
		size := int(binary.LittleEndian.Uint16(body[i:]))
		i += descriptorLengthSize
		if len(body)-i < size {
			return nil, fmt.Errorf("%w: truncated descriptor", ErrParse)
		}
		descriptor := body[i : i+size]
		i += size
		return descriptor, nil
	}

	for range numTables {
		descriptor, err := next()
		if err != nil {
			return state, err
		}
		aTable, err := unmarshalTableDescriptor(descriptor)
		if err != nil {
			return state, err
		}
		state.tables = append(state.tables, aTable)
	}

	for range numIndexes {
		descriptor, err := next()
		if err != nil {
			return state, err
		}
		anIndex, err := unmarshalIndexDescriptor(descriptor)
		if err != nil {
			return state, err
		}
		state.indexes = append(state.indexes, anIndex)
	}

	return state, nil
}

func unmarshalTableDescriptor(descriptor []byte) (TableMetadata, error) {
	values, err := DecodeTuple(descriptor, tableDescriptorFixed+2*MaxColumns)
	if err != nil {
		return TableMetadata{}, fmt.Errorf("%w: table descriptor: %w", ErrParse, err)
	}
	if len(values) < tableDescriptorFixed {
		return TableMetadata{}, fmt.Errorf("%w: table descriptor has %d values", ErrParse, len(values))
	}

	var (
		name, ok1      = values[0].AsText()
		id, ok2        = values[1].AsInt()
		heapRoot, ok3  = values[2].AsInt()
		nextRowID, ok4 = values[3].AsInt()
		numCols, ok5   = values[4].AsInt()
	)
	if !ok1 || !ok2 || !ok3 || !ok4 || !ok5 || int(numCols)*2 != len(values)-tableDescriptorFixed {
		return TableMetadata{}, fmt.Errorf("%w: malformed table descriptor", ErrParse)
	}

	aTable := TableMetadata{
		Name:      name,
		ID:        uint32(id),
		HeapRoot:  PageNumber(heapRoot),
		NextRowID: RowID(nextRowID),
		Columns:   make([]Column, 0, numCols),
	}
	for c := tableDescriptorFixed; c < len(values); c += 2 {
		colName, ok1 := values[c].AsText()
		colType, ok2 := values[c+1].AsInt()
		if !ok1 || !ok2 {
			return TableMetadata{}, fmt.Errorf("%w: malformed column in table %s", ErrParse, name)
		}
		aTable.Columns = append(aTable.Columns, Column{Name: colName, Type: ColumnType(colType)})
	}

	return aTable, nil
}

func unmarshalIndexDescriptor(descriptor []byte) (IndexMetadata, error) {
	values, err := DecodeTuple(descriptor, indexDescriptorSize)
	if err != nil {
		return IndexMetadata{}, fmt.Errorf("%w: index descriptor: %w", ErrParse, err)
	}
	if len(values) != indexDescriptorSize {
		return IndexMetadata{}, fmt.Errorf("%w: index descriptor has %d values", ErrParse, len(values))
	}

	var (
		name, ok1      = values[0].AsText()
		table, ok2     = values[1].AsText()
		column, ok3    = values[2].AsInt()
		indexType, ok4 = values[3].AsInt()
		flags, ok5     = values[4].AsInt()
		root, ok6      = values[5].AsInt()
	)
	if !ok1 || !ok2 || !ok3 || !ok4 || !ok5 || !ok6 {
		return IndexMetadata{}, fmt.Errorf("%w: malformed index descriptor", ErrParse)
	}
	if unknown := bitwise.Unset(uint64(flags), indexFlagUnique); unknown != 0 {
		return IndexMetadata{}, fmt.Errorf("%w: index %s has unknown flags %#x", ErrUnsupportedFormat, name, unknown)
	}

	return IndexMetadata{
		Name:   name,
		Table:  table,
		Column: int(column),
		Type:   IndexType(indexType),
		Unique: bitwise.IsSet(uint64(flags), indexFlagUnique),
		Root:   PageNumber(root),
	}, nil
}
