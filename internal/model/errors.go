package model

import (
	"errors"
	"fmt"
)

var (
	ErrUnsupportedMediaType = errors.New("unsupported media type")
	ErrDecode               = errors.New("decode error")
	ErrStreamOpen           = fmt.Errorf("stream open failed: %w", ErrDecode)
	ErrStreamWrite          = errors.New("stream write error")
	ErrDetector             = errors.New("detector error")
	ErrStoreUnavailable     = errors.New("statistics store unavailable")
	ErrRecordNotFound       = errors.New("record not found")
	ErrFileNotFound         = errors.New("file not found")
)

// PartialCleanupError reports a cleanup whose record deletion succeeded but whose
// file deletion did not complete. Records are always removed before files.
type PartialCleanupError struct {
	RecordsRemoved int64
	FilesRemoved   int
	Err            error
}

func (e *PartialCleanupError) Error() string {
	return fmt.Sprintf("cleanup partially failed: %d records removed, %d files removed: %v",
		e.RecordsRemoved, e.FilesRemoved, e.Err)
}

func (e *PartialCleanupError) Unwrap() error {
	return e.Err
}
