package gpt

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidSignature is returned when a header does not start with "EFI PART".
	ErrInvalidSignature = errors.New("invalid GPT signature")
	// ErrShortBuffer is returned when a buffer is smaller than the structure it must hold.
	ErrShortBuffer = errors.New("buffer too small")
	// ErrInvalidHeaderSize is returned when HeaderSize is below 92 or exceeds the sector.
	ErrInvalidHeaderSize = errors.New("invalid header size")
	// ErrInvalidEntrySize is returned when SizeOfPartitionEntry is below 128.
	ErrInvalidEntrySize = errors.New("invalid partition entry size")
	// ErrInvalidBackupLocation is returned when AlternateLBA cannot hold a backup table.
	ErrInvalidBackupLocation = errors.New("invalid backup table location")
)

// FormatError reports a GPT layout violation.
type FormatError struct {
	LBA uint64
	Err error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("malformed GPT at LBA %d: %v", e.LBA, e.Err)
}

func (e *FormatError) Unwrap() error {
	return e.Err
}
