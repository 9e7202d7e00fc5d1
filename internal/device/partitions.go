package device

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/deploymenttheory/go-qdl/internal/interfaces"
	"github.com/deploymenttheory/go-qdl/internal/parsers/gpt"
	"github.com/deploymenttheory/go-qdl/internal/types"
)

// PartitionLocation identifies a partition found on the device.
type PartitionLocation struct {
	LUN   int
	Entry gpt.PartitionEntry
	GPT   *gpt.GPT
}

// GetGpt reads the partition table of a LUN. With lba zero the primary table
// at LBA 1 is read, falling back to the backup table when the primary fails
// its checksums. Any other lba reads the header found there as is, like
// ReadGptAt.
func (d *Device) GetGpt(ctx context.Context, lun int, lba uint64) (*gpt.GPT, error) {
	fh, err := d.requireFirehose()
	if err != nil {
		return nil, err
	}
	if lba != 0 {
		return d.readGpt(ctx, fh, lun, lba)
	}
	return d.primaryGpt(ctx, fh, lun)
}

// ReadGptAt reads the table whose header is at lba, without any fallback.
// LBA 0 holds the protective MBR and is rejected.
func (d *Device) ReadGptAt(ctx context.Context, lun int, lba uint64) (*gpt.GPT, error) {
	fh, err := d.requireFirehose()
	if err != nil {
		return nil, err
	}
	if lba == 0 {
		return nil, &gpt.FormatError{LBA: lba, Err: errors.New("LBA 0 holds the protective MBR, not a GPT header")}
	}
	return d.readGpt(ctx, fh, lun, lba)
}

func (d *Device) primaryGpt(ctx context.Context, fh interfaces.Firehose, lun int) (*gpt.GPT, error) {
	lba := types.GPTPrimaryHeaderLBA
	hdrBuf, header, err := d.readHeader(ctx, fh, lun, lba)
	if err != nil {
		return nil, err
	}
	log := d.log.WithField("lun", lun)

	if header.ChecksumValid() {
		primary, err := d.readEntries(ctx, fh, lun, lba, hdrBuf, header)
		if err != nil {
			return nil, err
		}
		if primary.Valid() {
			return primary, nil
		}
		log.WithField("backup_lba", header.AlternateLBA).Warn("primary GPT entries checksum mismatch, reading backup")
		if backup := d.backupGpt(ctx, fh, lun, header, log); backup != nil {
			return backup, nil
		}
		log.Warn("no valid backup GPT, using primary")
		return primary, nil
	}

	// The entry location of a damaged header is only trusted once the backup failed.
	log.WithField("backup_lba", header.AlternateLBA).Warn("primary GPT header checksum mismatch, reading backup")
	if backup := d.backupGpt(ctx, fh, lun, header, log); backup != nil {
		return backup, nil
	}
	primary, err := d.readEntries(ctx, fh, lun, lba, hdrBuf, header)
	if err != nil {
		return nil, err
	}
	log.Warn("no valid backup GPT, using primary")
	return primary, nil
}

// backupGpt returns the valid backup table primary points at, or nil.
func (d *Device) backupGpt(ctx context.Context, fh interfaces.Firehose, lun int, primary gpt.Header, log logrus.FieldLogger) *gpt.GPT {
	alternate := primary.AlternateLBA
	if alternate <= primary.CurrentLBA {
		log.WithField("backup_lba", alternate).Warn("no usable backup GPT location")
		return nil
	}
	backup, err := d.readGpt(ctx, fh, lun, alternate)
	if err != nil {
		log.WithError(err).Warn("backup GPT unreadable")
		return nil
	}
	if !backup.Valid() {
		log.WithFields(logrus.Fields{
			"header_crc_mismatch":  backup.HeaderCRCMismatch,
			"entries_crc_mismatch": backup.EntriesCRCMismatch,
		}).Warn("backup GPT checksum mismatch")
		return nil
	}
	return backup
}

func (d *Device) readGpt(ctx context.Context, fh interfaces.Firehose, lun int, lba uint64) (*gpt.GPT, error) {
	hdrBuf, header, err := d.readHeader(ctx, fh, lun, lba)
	if err != nil {
		return nil, err
	}
	return d.readEntries(ctx, fh, lun, lba, hdrBuf, header)
}

func (d *Device) readHeader(ctx context.Context, fh interfaces.Firehose, lun int, lba uint64) ([]byte, gpt.Header, error) {
	hdrBuf, err := fh.ReadBuffer(ctx, lun, lba, 1)
	if err != nil {
		return nil, gpt.Header{}, fmt.Errorf("failed to read GPT header of LUN %d at LBA %d: %w", lun, lba, err)
	}
	header, err := gpt.ParseHeader(hdrBuf, lba)
	if err != nil {
		return nil, gpt.Header{}, fmt.Errorf("LUN %d: %w", lun, err)
	}
	return hdrBuf, header, nil
}

func (d *Device) readEntries(ctx context.Context, fh interfaces.Firehose, lun int, lba uint64, hdrBuf []byte, header gpt.Header) (*gpt.GPT, error) {
	sectorSize := fh.SectorSize()
	entriesBuf, err := fh.ReadBuffer(ctx, lun, header.PartEntriesStartLBA, header.EntriesSectors(sectorSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read GPT entries of LUN %d at LBA %d: %w", lun, header.PartEntriesStartLBA, err)
	}

	g, err := gpt.Parse(sectorSize, hdrBuf, lba, entriesBuf)
	if err != nil {
		return nil, fmt.Errorf("LUN %d: %w", lun, err)
	}
	return g, nil
}

// DetectPartition searches the LUNs in ascending order and returns the first
// partition named name. The bool is false when no LUN holds it.
func (d *Device) DetectPartition(ctx context.Context, name string) (PartitionLocation, bool, error) {
	fh, err := d.requireFirehose()
	if err != nil {
		return PartitionLocation{}, false, err
	}

	for _, lun := range sortedLUNs(fh) {
		table, err := d.GetGpt(ctx, lun, 0)
		if err != nil {
			return PartitionLocation{}, false, err
		}
		if entry, ok := table.LocatePartition(name); ok {
			d.log.WithFields(logrus.Fields{
				"partition": name,
				"lun":       lun,
				"start":     entry.StartingLBA,
				"sectors":   entry.SectorCount(),
			}).Debug("partition located")
			return PartitionLocation{LUN: lun, Entry: entry, GPT: table}, true, nil
		}
	}
	return PartitionLocation{}, false, nil
}

// GetDevicePartitionsInfo returns the number of distinct partition names
// across all LUNs and the names themselves, in LUN then on-disk order.
func (d *Device) GetDevicePartitionsInfo(ctx context.Context) (int, []string, error) {
	fh, err := d.requireFirehose()
	if err != nil {
		return 0, nil, err
	}

	names := []string{}
	seen := make(map[string]struct{})
	for _, lun := range sortedLUNs(fh) {
		table, err := d.GetGpt(ctx, lun, 0)
		if err != nil {
			return 0, nil, err
		}
		for _, name := range table.PartitionsInfo().Partitions {
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			names = append(names, name)
		}
	}
	return len(names), names, nil
}

// GetActiveSlot returns the active slot reported by the first LUN that has one.
func (d *Device) GetActiveSlot(ctx context.Context) (string, error) {
	fh, err := d.requireFirehose()
	if err != nil {
		return "", err
	}

	for _, lun := range sortedLUNs(fh) {
		table, err := d.GetGpt(ctx, lun, 0)
		if err != nil {
			return "", err
		}
		if slot, ok := table.ActiveSlot(d.config.SlotConvention); ok {
			return slot, nil
		}
	}
	return "", ErrSlotNotFound
}
