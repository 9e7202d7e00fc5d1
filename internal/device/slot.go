package device

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/deploymenttheory/go-qdl/internal/parsers/gpt"
	"github.com/deploymenttheory/go-qdl/internal/types"
)

var bootLUNIDs = map[string]int{"a": 1, "b": 2}

// SetActiveSlot marks slot active in the primary and backup tables of every
// LUN and points the device at the matching boot LUN.
func (d *Device) SetActiveSlot(ctx context.Context, slot string) (bool, error) {
	bootID, ok := bootLUNIDs[slot]
	if !ok {
		return false, &InvalidSlotError{Slot: slot}
	}
	fh, err := d.requireFirehose()
	if err != nil {
		return false, err
	}

	conv := d.config.SlotConvention
	for _, lun := range sortedLUNs(fh) {
		log := d.log.WithFields(logrus.Fields{"lun": lun, "slot": slot})

		primary, err := d.ReadGptAt(ctx, lun, types.GPTPrimaryHeaderLBA)
		if err != nil {
			return false, err
		}
		if alternate := primary.Header.AlternateLBA; alternate <= primary.Header.CurrentLBA {
			return false, &gpt.FormatError{
				LBA: primary.Header.CurrentLBA,
				Err: fmt.Errorf("%w: LUN %d alternate LBA %d", gpt.ErrInvalidBackupLocation, lun, alternate),
			}
		}
		backup, err := d.ReadGptAt(ctx, lun, primary.Header.AlternateLBA)
		if err != nil {
			return false, err
		}

		for _, table := range []*gpt.GPT{primary, backup} {
			updated, err := table.WithActiveSlot(slot, conv)
			if err != nil {
				return false, err
			}
			hdr, ent := updated.Serialize()

			ok, err := programBytes(ctx, fh, lun, updated.Header.PartEntriesStartLBA, ent)
			if err != nil {
				return false, fmt.Errorf("failed to write GPT entries of LUN %d at LBA %d: %w", lun, updated.Header.PartEntriesStartLBA, err)
			}
			if !ok {
				log.WithField("sector", updated.Header.PartEntriesStartLBA).Warn("GPT entries write refused")
				return false, nil
			}

			ok, err = programBytes(ctx, fh, lun, updated.Header.CurrentLBA, hdr)
			if err != nil {
				return false, fmt.Errorf("failed to write GPT header of LUN %d at LBA %d: %w", lun, updated.Header.CurrentLBA, err)
			}
			if !ok {
				log.WithField("sector", updated.Header.CurrentLBA).Warn("GPT header write refused")
				return false, nil
			}
		}
		log.Debug("slot flags updated")
	}

	if err := fh.SetBootLUNID(ctx, bootID); err != nil {
		return false, fmt.Errorf("failed to set boot LUN %d: %w", bootID, err)
	}
	d.log.WithFields(logrus.Fields{"slot": slot, "boot_lun": bootID}).Info("active slot set")
	return true, nil
}
