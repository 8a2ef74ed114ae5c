package minidb

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/RichardKnop/minidb/pkg/lrucache"
)

type DBFile interface {
	io.ReaderAt
	io.WriterAt
	io.Seeker
	io.Closer
	Sync() error
}

// PageStore does raw page I/O over a single database file. Pages are always
// transferred whole, a short read or write is reported as ErrIO.
type PageStore struct {
	file       DBFile
	totalPages uint32
	cache      *lrucache.Cache[PageNumber, *Page]
	logger     *zap.Logger

	mu sync.RWMutex
}

type PageStoreOption func(*PageStore)

// WithPageCache keeps up to maxPages recently used pages in memory. Writes go through to the file.
func WithPageCache(maxPages int) PageStoreOption {
	return func(s *PageStore) {
		if maxPages > 0 {
			s.cache = lrucache.New[PageNumber, *Page](maxPages)
		}
	}
}

// OpenPageStore opens or creates the database file at path.
func OpenPageStore(path string, logger *zap.Logger, opts ...PageStoreOption) (*PageStore, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("%w: open database file: %w", ErrIO, err)
	}

	aStore, err := NewPageStore(file, logger, opts...)
	if err != nil {
		file.Close()
		return nil, err
	}

	return aStore, nil
}

// NewPageStore writes the file header into an empty file, otherwise validates the existing one.
func NewPageStore(file DBFile, logger *zap.Logger, opts ...PageStoreOption) (*PageStore, error) {
	aStore := &PageStore{
		file:   file,
		logger: logger,
	}
	for _, opt := range opts {
		opt(aStore)
	}

	fileSize, err := file.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, fmt.Errorf("%w: seek database file: %w", ErrIO, err)
	}

	if fileSize == 0 {
		if err := aStore.writeHeader(); err != nil {
			return nil, err
		}
		aStore.totalPages = 1
		logger.Debug("initialized new database file")
		return aStore, nil
	}

	if fileSize < PageSize {
		return nil, fmt.Errorf("%w: file of %d bytes is smaller than the header page", ErrUnsupportedFormat, fileSize)
	}

	if fileSize%PageSize != 0 {
		// A crash while appending a page can leave a partial page at the end,
		// the next allocation overwrites it.
		logger.Warn("ignoring partial trailing page",
			zap.Int64("file_size", fileSize),
			zap.Int64("partial_bytes", fileSize%PageSize),
		)
	}
	aStore.totalPages = uint32(fileSize / PageSize)

	var (
		headerPage Page
		header     FileHeader
	)
	if err := aStore.readAt(HeaderPageNumber, &headerPage); err != nil {
		return nil, err
	}
	header.Unmarshal(&headerPage)
	if err := header.Validate(); err != nil {
		return nil, err
	}

	return aStore, nil
}

func (s *PageStore) writeHeader() error {
	var headerPage Page
	NewFileHeader().Marshal(&headerPage)

	if err := s.writeAt(HeaderPageNumber, &headerPage); err != nil {
		return err
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("%w: sync header: %w", ErrIO, err)
	}
	return nil
}

// PageCount returns the number of whole pages in the file, header page included.
func (s *PageStore) PageCount() uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.totalPages
}

// Read holds the read lock across the miss read and the cache fill so a
// concurrent Write cannot be overwritten in the cache by older bytes.
func (s *PageStore) Read(pageNum PageNumber, aPage *Page) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if pageNum >= PageNumber(s.totalPages) {
		return fmt.Errorf("%w: page %d out of range", ErrInvalid, pageNum)
	}

	if s.cache != nil {
		if cached, ok := s.cache.Get(pageNum); ok {
			*aPage = *cached
			return nil
		}
	}

	if err := s.readAt(pageNum, aPage); err != nil {
		return err
	}

	if s.cache != nil {
		s.cache.Put(pageNum, aPage.Clone())
	}

	return nil
}

func (s *PageStore) Write(pageNum PageNumber, aPage *Page) error {
	if pageNum == HeaderPageNumber {
		return fmt.Errorf("%w: header page is read only", ErrInvalid)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if pageNum >= PageNumber(s.totalPages) {
		return fmt.Errorf("%w: page %d out of range", ErrInvalid, pageNum)
	}

	if err := s.writeAt(pageNum, aPage); err != nil {
		if s.cache != nil {
			s.cache.Remove(pageNum)
		}
		return err
	}

	if s.cache != nil {
		s.cache.Put(pageNum, aPage.Clone())
	}

	return nil
}

// Allocate appends the page at the end of the file and returns its number.
func (s *PageStore) Allocate(aPage *Page) (PageNumber, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pageNum := PageNumber(s.totalPages)
	if err := s.writeAt(pageNum, aPage); err != nil {
		return 0, err
	}
	s.totalPages += 1

	if s.cache != nil {
		s.cache.Put(pageNum, aPage.Clone())
	}

	s.logger.Debug("allocated page", zap.Uint32("page", uint32(pageNum)), zap.Stringer("type", aPage.Type()))

	return pageNum, nil
}

// Grow extends the file with free pages until pageNum exists. Recovery uses it to
// replay images of pages that were appended after the last sync.
func (s *PageStore) Grow(pageNum PageNumber) error {
	var blank Page
	blank.Reset(PageTypeFree)

	for PageNumber(s.PageCount()) <= pageNum {
		if _, err := s.Allocate(&blank); err != nil {
			return err
		}
	}
	return nil
}

// Sync is the durability barrier for pages written so far.
func (s *PageStore) Sync() error {
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("%w: sync database file: %w", ErrIO, err)
	}
	return nil
}

func (s *PageStore) Close() error {
	if err := s.file.Close(); err != nil {
		return fmt.Errorf("%w: close database file: %w", ErrIO, err)
	}
	return nil
}

func (s *PageStore) readAt(pageNum PageNumber, aPage *Page) error {
	n, err := s.file.ReadAt(aPage[:], int64(pageNum)*PageSize)
	if n == PageSize {
		// ReaderAt may report io.EOF together with a full read of the last page
		return nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	return fmt.Errorf("%w: read page %d (%d of %d bytes): %w", ErrIO, pageNum, n, PageSize, err)
}

func (s *PageStore) writeAt(pageNum PageNumber, aPage *Page) error {
	n, err := s.file.WriteAt(aPage[:], int64(pageNum)*PageSize)
	if err == nil && n != PageSize {
		err = io.ErrShortWrite
	}
	if err != nil {
		return fmt.Errorf("%w: write page %d (%d of %d bytes): %w", ErrIO, pageNum, n, PageSize, err)
	}
	return nil
}
