package interfaces

import (
	"context"
	"io"
)

// Mode is the protocol stage a device reports after a handshake.
type Mode string

const (
	// ModeSahara is the bootloader stage that accepts a programmer upload.
	ModeSahara Mode = "sahara"
	// ModeFirehose is the programmable stage that accepts storage commands.
	ModeFirehose Mode = "firehose"
)

// Transport is the byte pipe to the device.
type Transport interface {
	// Connected reports whether the pipe is open
	Connected() bool

	// Connect opens the pipe
	Connect(ctx context.Context) error

	// Write sends one request
	Write(ctx context.Context, data []byte) error

	// Read receives one response
	Read(ctx context.Context) ([]byte, error)
}

// Loader drives the bootloader stage of a session.
type Loader interface {
	// Connect performs the initial handshake and reports the device mode
	Connect(ctx context.Context) (Mode, error)

	// UploadLoader sends the programmer and reports the mode the device switched to
	UploadLoader(ctx context.Context) (Mode, error)
}

// ProgressFunc is called with the number of bytes written after each chunk.
type ProgressFunc func(n int)

// Firehose issues storage commands to a device in programmable mode.
//
// Commands that the device can refuse return a bool ACK. The error return is
// reserved for transport or protocol failures.
type Firehose interface {
	// LUNs returns the logical units the device exposes
	LUNs() []int

	// SectorSize returns the bytes per sector of the storage
	SectorSize() int

	// ReadBuffer reads numSectors sectors starting at startSector
	ReadBuffer(ctx context.Context, lun int, startSector, numSectors uint64) ([]byte, error)

	// Program writes data starting at startSector, padding the last sector with zeros
	Program(ctx context.Context, lun int, startSector uint64, data *io.SectionReader, onProgress ProgressFunc) (bool, error)

	// Erase zeroes numSectors sectors starting at startSector
	Erase(ctx context.Context, lun int, startSector, numSectors uint64) (bool, error)

	// FixGPT asks the device to refresh its view of the partition table
	FixGPT(ctx context.Context, lun int, partitions uint32) error

	// GetStorageInfo returns the log lines produced by the storage info command
	GetStorageInfo(ctx context.Context) ([]string, error)

	// SetBootLUNID selects the LUN the device boots from
	SetBootLUNID(ctx context.Context, id int) error

	// Reset reboots the device
	Reset(ctx context.Context) (bool, error)
}

// FirehoseFactory configures a firehose session over an established transport.
type FirehoseFactory func(ctx context.Context, t Transport) (Firehose, error)

// LoaderFactory creates the bootloader stage client for a transport.
type LoaderFactory func(t Transport) Loader
