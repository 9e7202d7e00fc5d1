// Package device orchestrates a flashing session: it drives the handshake
// into programmable mode and implements partition level operations on top of
// the firehose storage commands.
//
// A Device issues one command at a time and is not safe for concurrent use.
package device

import (
	"context"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/deploymenttheory/go-qdl/internal/interfaces"
)

// State is the connection state of a Device.
type State int

const (
	StateDisconnected State = iota
	StateBootloader
	StateProgrammable
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateBootloader:
		return "bootloader"
	case StateProgrammable:
		return "programmable"
	}
	return "unknown"
}

// Device is a flashing session with one device.
type Device struct {
	config      Config
	log         logrus.FieldLogger
	newLoader   interfaces.LoaderFactory
	newFirehose interfaces.FirehoseFactory

	transport interfaces.Transport
	firehose  interfaces.Firehose
	mode      interfaces.Mode
	state     State
}

// New creates a disconnected Device. newLoader builds the bootloader stage
// client and newFirehose configures the storage command client once the
// device is programmable.
func New(newLoader interfaces.LoaderFactory, newFirehose interfaces.FirehoseFactory, opts ...Option) *Device {
	config := defaultConfig()
	for _, opt := range opts {
		opt(&config)
	}
	return &Device{
		config:      config,
		log:         config.Logger,
		newLoader:   newLoader,
		newFirehose: newFirehose,
		state:       StateDisconnected,
	}
}

// State returns the connection state.
func (d *Device) State() State {
	return d.state
}

// Mode returns the last mode reported by the device.
func (d *Device) Mode() interfaces.Mode {
	return d.mode
}

// Connect brings the device into programmable mode, uploading the
// programmer first when the device is still in its bootloader.
func (d *Device) Connect(ctx context.Context, t interfaces.Transport) error {
	if !t.Connected() {
		if err := t.Connect(ctx); err != nil {
			return &ConnectionError{Err: err}
		}
	}
	if !t.Connected() {
		return &ConnectionError{}
	}
	d.transport = t

	loader := d.newLoader(t)
	mode, err := loader.Connect(ctx)
	if err != nil {
		return &ConnectionError{Err: err}
	}
	d.mode = mode
	d.log.WithField("mode", mode).Debug("handshake complete")

	if mode == interfaces.ModeSahara {
		d.state = StateBootloader
		d.log.Info("uploading programmer")
		mode, err = loader.UploadLoader(ctx)
		if err != nil {
			return &ConnectionError{Err: err}
		}
		d.mode = mode
	}

	if mode != interfaces.ModeFirehose {
		return &UnsupportedModeError{Mode: mode}
	}

	fh, err := d.newFirehose(ctx, t)
	if err != nil {
		return &ConnectionError{Err: err}
	}
	d.firehose = fh
	d.state = StateProgrammable
	d.log.WithFields(logrus.Fields{
		"luns":        fh.LUNs(),
		"sector_size": fh.SectorSize(),
	}).Info("device programmable")
	return nil
}

// Disconnect drops the firehose client. A new Connect is required before
// further storage operations.
func (d *Device) Disconnect() {
	d.firehose = nil
	d.transport = nil
	d.mode = ""
	d.state = StateDisconnected
}

// Reset reboots the device.
func (d *Device) Reset(ctx context.Context) (bool, error) {
	fh, err := d.requireFirehose()
	if err != nil {
		return false, err
	}
	d.log.Info("resetting device")
	return fh.Reset(ctx)
}

// LUNs returns the logical units of the device in ascending order.
func (d *Device) LUNs() ([]int, error) {
	fh, err := d.requireFirehose()
	if err != nil {
		return nil, err
	}
	return sortedLUNs(fh), nil
}

// SectorSize returns the sector size of the device storage.
func (d *Device) SectorSize() (int, error) {
	fh, err := d.requireFirehose()
	if err != nil {
		return 0, err
	}
	return fh.SectorSize(), nil
}

func (d *Device) requireFirehose() (interfaces.Firehose, error) {
	if d.firehose == nil {
		return nil, ErrNotConfigured
	}
	return d.firehose, nil
}

func sortedLUNs(fh interfaces.Firehose) []int {
	luns := append([]int(nil), fh.LUNs()...)
	sort.Ints(luns)
	return luns
}
