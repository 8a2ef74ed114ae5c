package minidb

import (
	"github.com/stretchr/testify/mock"
)

type MockReplayHandler struct {
	mock.Mock
}

func (m *MockReplayHandler) ApplyPageWrite(pageNum PageNumber, image *Page) error {
	args := m.Called(pageNum, image)
	return args.Error(0)
}

func (m *MockReplayHandler) ApplyLogical(record WALRecord) error {
	args := m.Called(record)
	return args.Error(0)
}
