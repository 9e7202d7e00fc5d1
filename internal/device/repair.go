package device

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/deploymenttheory/go-qdl/internal/interfaces"
	"github.com/deploymenttheory/go-qdl/internal/parsers/gpt"
	"github.com/deploymenttheory/go-qdl/internal/types"
)

// RepairGpt rewrites the partition tables of a LUN from a primary GPT image.
// The image holds the header sector followed by the entry array, optionally
// preceded by a protective MBR sector. The primary header, the mirrored backup
// entries and the backup header are written, then the device is told to
// refresh its partition count. The primary entry array is only written when
// the device was created with WithRewritePrimaryEntries.
func (d *Device) RepairGpt(ctx context.Context, lun int, primaryImage []byte) (bool, error) {
	fh, err := d.requireFirehose()
	if err != nil {
		return false, err
	}

	primary, err := parsePrimaryImage(fh.SectorSize(), primaryImage)
	if err != nil {
		return false, err
	}
	backup, err := primary.Mirror()
	if err != nil {
		return false, err
	}

	log := d.log.WithFields(logrus.Fields{
		"lun":        lun,
		"primary":    primary.Header.CurrentLBA,
		"backup":     backup.Header.CurrentLBA,
		"partitions": primary.Header.NumPartEntries,
	})
	log.Info("repairing GPT")

	primaryHdr, primaryEnt := primary.Serialize()
	backupHdr, backupEnt := backup.Serialize()

	type write struct {
		what   string
		sector uint64
		data   []byte
	}
	var writes []write
	if d.config.RewritePrimaryEntries {
		writes = append(writes, write{"primary entries", primary.Header.PartEntriesStartLBA, primaryEnt})
	}
	writes = append(writes,
		write{"primary header", primary.Header.CurrentLBA, primaryHdr},
		write{"backup entries", backup.Header.PartEntriesStartLBA, backupEnt},
		write{"backup header", backup.Header.CurrentLBA, backupHdr},
	)

	for _, w := range writes {
		ok, err := programBytes(ctx, fh, lun, w.sector, w.data)
		if err != nil {
			return false, fmt.Errorf("failed to write %s: %w", w.what, err)
		}
		if !ok {
			log.WithField("sector", w.sector).Warnf("%s write refused", w.what)
			return false, nil
		}
	}

	if err := fh.FixGPT(ctx, lun, primary.Header.NumPartEntries); err != nil {
		return false, fmt.Errorf("failed to fix GPT of LUN %d: %w", lun, err)
	}
	return true, nil
}

// parsePrimaryImage decodes a primary table image. The header is expected at
// offset zero, or at one sector when a protective MBR comes first.
func parsePrimaryImage(sectorSize int, image []byte) (*gpt.GPT, error) {
	hdrOffset := 0
	if len(image) < types.GPTHeaderSize || string(image[:len(types.GPTSignature)]) != types.GPTSignature {
		hdrOffset = sectorSize
	}
	if len(image) < hdrOffset+types.GPTHeaderSize {
		return nil, &gpt.FormatError{LBA: types.GPTPrimaryHeaderLBA, Err: gpt.ErrShortBuffer}
	}
	end := hdrOffset + sectorSize
	if end > len(image) {
		end = len(image)
	}

	header, err := gpt.ParseHeader(image[hdrOffset:end], types.GPTPrimaryHeaderLBA)
	if err != nil {
		return nil, err
	}
	if header.PartEntriesStartLBA < header.CurrentLBA {
		return nil, &gpt.FormatError{LBA: header.CurrentLBA, Err: fmt.Errorf("entries at LBA %d precede the header", header.PartEntriesStartLBA)}
	}

	entOffset := uint64(hdrOffset) + (header.PartEntriesStartLBA-header.CurrentLBA)*uint64(sectorSize)
	if entOffset > uint64(len(image)) {
		return nil, &gpt.FormatError{LBA: header.PartEntriesStartLBA, Err: gpt.ErrShortBuffer}
	}
	return gpt.Parse(sectorSize, image[hdrOffset:end], types.GPTPrimaryHeaderLBA, image[entOffset:])
}

// programBytes writes data at sector, zero padding it to whole sectors.
func programBytes(ctx context.Context, fh interfaces.Firehose, lun int, sector uint64, data []byte) (bool, error) {
	sectorSize := fh.SectorSize()
	if rem := len(data) % sectorSize; rem != 0 {
		padded := make([]byte, len(data)+sectorSize-rem)
		copy(padded, data)
		data = padded
	}
	return fh.Program(ctx, lun, sector, io.NewSectionReader(bytes.NewReader(data), 0, int64(len(data))), nil)
}
