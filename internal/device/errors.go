package device

import (
	"errors"
	"fmt"

	"github.com/deploymenttheory/go-qdl/internal/interfaces"
)

var (
	// ErrNotConfigured is returned by storage operations before the device reached programmable mode.
	ErrNotConfigured = errors.New("firehose not configured")

	// ErrSlotNotFound is returned when no LUN reports an active A/B slot.
	ErrSlotNotFound = errors.New("can't detect slot A or B")

	// ErrStorageInfoNotImplemented is returned when the storage info log carries no storage_info object.
	ErrStorageInfoNotImplemented = errors.New("storage info JSON not returned - not implemented?")
)

// ConnectionError indicates the handshake or the transport failed.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("could not connect to device: %v", e.Err)
	}
	return "could not connect to device"
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// UnsupportedModeError indicates the device ended the handshake in a mode that cannot be driven.
type UnsupportedModeError struct {
	Mode interfaces.Mode
}

func (e *UnsupportedModeError) Error() string {
	return fmt.Sprintf("unsupported mode: %s. Please reboot the device", e.Mode)
}

// NotFoundError indicates no LUN holds a partition with the requested name.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("partition %s not found", e.Name)
}

// InvalidSlotError indicates a slot other than "a" or "b" was requested.
type InvalidSlotError struct {
	Slot string
}

func (e *InvalidSlotError) Error() string {
	return fmt.Sprintf("invalid slot %q", e.Slot)
}

// ParseError indicates a storage info line could not be decoded.
type ParseError struct {
	Line string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse storage info JSON: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// AlignmentError indicates a sparse region does not start on a sector boundary.
type AlignmentError struct {
	Offset     uint64
	SectorSize int
}

func (e *AlignmentError) Error() string {
	return fmt.Sprintf("sparse offset %d is not aligned to sector size %d", e.Offset, e.SectorSize)
}

// ImageTooLargeError indicates a raw image does not fit the target partition.
type ImageTooLargeError struct {
	Partition string
	Size      int64
	Capacity  uint64
}

func (e *ImageTooLargeError) Error() string {
	return fmt.Sprintf("image of %d bytes does not fit partition %s (%d bytes)", e.Size, e.Partition, e.Capacity)
}
