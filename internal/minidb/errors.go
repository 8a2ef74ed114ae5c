package minidb

import (
	"errors"
)

// Every error returned by the engine wraps exactly one of these, test with errors.Is.
var (
	ErrIO                = errors.New("io error")
	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrFull              = errors.New("full")
	ErrInvalid           = errors.New("invalid")
	ErrParse             = errors.New("parse error")
	ErrUnknown           = errors.New("unknown error")

	ErrNoMoreRows = errors.New("no more rows")
)
