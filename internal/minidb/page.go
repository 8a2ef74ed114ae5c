package minidb

const (
	PageSize = 4096 // 4 kilobytes

	// HeaderPageNumber is the page holding the file header, it is never rewritten after creation.
	HeaderPageNumber PageNumber = 0
)

type PageNumber uint32

type PageType uint8

const (
	PageTypeMetadata PageType = iota
	PageTypeHeap
	PageTypeIndexInternal
	PageTypeIndexLeaf
	PageTypeFree
)

func (t PageType) String() string {
	switch t {
	case PageTypeMetadata:
		return "metadata"
	case PageTypeHeap:
		return "heap"
	case PageTypeIndexInternal:
		return "index-internal"
	case PageTypeIndexLeaf:
		return "index-leaf"
	case PageTypeFree:
		return "free"
	default:
		return "unknown"
	}
}

// Page is one raw fixed-size block of the database file. The type tag lives in the first byte.
type Page [PageSize]byte

func (p *Page) Type() PageType {
	return PageType(p[0])
}

func (p *Page) SetType(t PageType) {
	p[0] = byte(t)
}

// Reset zeroes the page and tags it with the given type.
func (p *Page) Reset(t PageType) {
	clear(p[:])
	p.SetType(t)
}

// Clone returns a deep copy of the page
func (p *Page) Clone() *Page {
	pageCopy := *p
	return &pageCopy
}
